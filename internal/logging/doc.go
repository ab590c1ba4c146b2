// Package logging provides structured logging for docqa on top of zap.
//
// # Overview
//
//   - Custom Trace level (-2, below Debug)
//   - Stdout output (JSON or console) plus an optional OpenTelemetry bridge
//   - Context fields injected on every call: trace_id, span_id, request.id, user.id
//   - Secret redaction by field name and value pattern
//   - Per-level sampling; errors are never sampled
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, telemetryEnabled)
//	logger, err := logging.NewLogger(cfg, loggerProvider)
//	defer logger.Sync()
//
//	ctx = logging.WithUserID(ctx, user.ID)
//	logger.Info(ctx, "document ingested", zap.Int64("document.id", id), zap.Int("chunks", n))
//
// Document and question text are never logged; log IDs, sizes and counts.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := documents.NewService(..., tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "document ingested")
//	tl.AssertNoSecrets(t)
package logging
