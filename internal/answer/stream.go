package answer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/docqa/internal/llm"
)

// ErrStreamConsumed is yielded when Fragments is ranged over a second time.
var ErrStreamConsumed = errors.New("answer stream already consumed")

// Stream is an answer delivered incrementally.
//
// Fragments yields text in the order the model produces it and may be
// ranged over once. Breaking out of the loop, or cancelling the context
// passed to AnswerStream, stops forwarding and cancels the model call. A
// failure is yielded as the final pair with an empty fragment.
type Stream struct {
	Sources   []Source
	Path      Path
	Fragments iter.Seq2[string, error]
}

// AnswerStream resolves req like Answer but streams the text. Errors found
// before any text is produced, such as ErrNoDocuments, are returned
// directly. Deterministic and no-information answers arrive as a single
// fragment.
func (r *Resolver) AnswerStream(ctx context.Context, req Request) (*Stream, error) {
	ctx, span := r.tracer.Start(ctx, "answer.AnswerStream", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
	))
	defer span.End()
	start := time.Now()

	key := r.cacheKeyFor(req)
	if key != nil {
		if res, ok := r.cache.get(*key); ok {
			r.metrics.CacheHitsTotal.Inc()
			span.SetAttributes(attribute.Bool("answer.cached", true), attribute.String("answer.path", string(res.Path)))
			return &Stream{Sources: res.Sources, Path: res.Path, Fragments: once(single(res.Answer))}, nil
		}
		r.metrics.CacheMissesTotal.Inc()
	}

	p, err := r.resolve(ctx, req)
	if err != nil {
		return nil, r.fail(span, err)
	}
	r.finish(ctx, span, p, start)

	s := &Stream{Sources: p.sources, Path: p.path}
	if p.path != PathLLM {
		if key != nil {
			r.cache.add(*key, Result{Answer: p.text, Sources: p.sources, Path: p.path})
		}
		s.Fragments = once(single(p.text))
		return s, nil
	}

	onDone := func(text string) {
		if key != nil {
			r.cache.add(*key, Result{Answer: text, Sources: p.sources, Path: p.path})
		}
	}
	s.Fragments = once(modelFragments(ctx, r.deps.Model(), p.prompt, onDone))
	return s, nil
}

func single(text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(text, nil)
	}
}

// once allows seq to be ranged over a single time.
func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// modelFragments runs the streaming model call in a goroutine and forwards
// each fragment as it arrives. Returning early cancels the call.
func modelFragments(parent context.Context, model llm.Provider, prompt llm.Prompt, onDone func(string)) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		frags := make(chan string)
		result := make(chan error, 1)
		go func() {
			result <- model.CompleteStream(ctx, prompt, func(s string) error {
				select {
				case frags <- s:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		var full strings.Builder
		for {
			select {
			case s := <-frags:
				if s == "" {
					continue
				}
				full.WriteString(s)
				if !yield(s, nil) {
					return
				}
			case err := <-result:
				if err != nil {
					yield("", fmt.Errorf("generating answer: %w", err))
					return
				}
				onDone(full.String())
				return
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}
	}
}
