package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core so that each configured level below Error is
// sampled on its own budget. Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{
		&levelFilterCore{Core: core, match: func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel }},
	}
	for lvl, rate := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		lvl := lvl
		only := &levelFilterCore{Core: core, match: func(l zapcore.Level) bool { return l == lvl }}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}
	cores = append(cores, &levelFilterCore{Core: core, match: func(l zapcore.Level) bool {
		if l >= zapcore.ErrorLevel {
			return false
		}
		_, sampled := cfg.Levels[l]
		return !sampled
	}})
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only entries whose level satisfies match.
type levelFilterCore struct {
	zapcore.Core
	match func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.match(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), match: c.match}
}
