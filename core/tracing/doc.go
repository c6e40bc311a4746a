// Package tracing installs the OpenTelemetry tracer provider used for spans
// around outbound CA calls.
//
//	tp, err := tracing.New(ctx, cfg, tracing.WithServiceName("acmefront"))
//	defer tp.Shutdown(context.Background())
package tracing
