// Package telemetry wires OpenTelemetry tracing and metrics.
//
// Each synthesis run produces a root span with one child span per stage,
// and stage durations are recorded as histograms. Export goes to an OTLP
// collector over gRPC or HTTP.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures degrade the instance instead of failing startup;
// Health reports why.
//
// Tests use NewTestTelemetry and assert on recorded spans:
//
//	tt := telemetry.NewTestTelemetry()
//	tt.AssertSpanExists(t, "synthesis.run")
package telemetry
