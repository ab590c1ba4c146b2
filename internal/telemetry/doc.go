// Package telemetry wires OpenTelemetry tracing and metrics for docqa.
//
// Spans and otel metrics are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. Exporter failures never stop the service: New returns a
// degraded instance whose Tracer and Meter fall back to the global no-op
// providers.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("docqa/answer").Start(ctx, "answer.Answer")
//	defer span.End()
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
