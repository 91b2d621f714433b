// Package telemetry provides logging, tracing, metrics and diagnostic events
// for crateplan.
//
// Logging uses zerolog through a small Logger wrapper. Libraries never hold
// a logger of their own; they fetch one from the context:
//
//	log := telemetry.FromContext(ctx).NewComponentLogger("resolver")
//	log.Debugf("activated %s", id)
//
// FromContext returns a disabled logger when none was installed, so library
// code and tests are silent by default.
//
// Tracing uses OpenTelemetry. Spans are exported to stdout or to an OTLP
// collector over gRPC, or not at all:
//
//	op := telemetry.StartOperation(ctx, telemetry.SpanResolve)
//	res, err := resolve(op.Ctx)
//	op.End(err)
//
// Metrics are Prometheus collectors kept in a registry owned by the Metrics
// value. They can be served over HTTP or written to a text file.
//
// Events are diagnostics (warnings, conflicts, run summaries) fanned out to
// subscribers such as the CLI printer. Each event gets a UUID.
//
// A Telemetry value bundles the four and travels in the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
package telemetry
