// Package telemetry wires OpenTelemetry tracing and metrics for mirroragent.
//
// Routing, curation, KPI runs and provisioning steps each open spans on
// the tracer returned by Tracer. When telemetry is disabled or the
// exporter cannot be created, the package degrades to the global no-op
// providers instead of failing startup.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Tests use NewTestTelemetry, which records spans in memory.
package telemetry
