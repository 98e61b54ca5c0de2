// Package telemetry provides logging, tracing and metrics for wpk commands.
//
// The package combines structured logging (zerolog), helper tracing
// (OpenTelemetry) and Prometheus metrics behind one Telemetry value built at
// command startup.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Reporters
//
// The pipeline engine reports through engine.Reporter. NewReporter adapts a
// Logger so that every diagnostic and helper message lands in the same log
// stream with its namespace:
//
//	reporter := telemetry.NewReporter(tel.Logger.NewComponentLogger("generate"))
//	reporter.Child("builder.manifest").Warn("Pipeline diagnostic reported.", diag)
//
// # Tracing
//
// Tracer.Trace returns the otel tracer passed to engine.Config.Tracer. One span
// is opened per helper invocation, named "<kind> <key>".
//
// # Metrics
//
// Metrics are collected in a private registry. One-shot commands write them to
// a node-exporter textfile with WriteTextfile; the start command serves them
// over HTTP through Handler.
package telemetry
