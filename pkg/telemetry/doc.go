// Package telemetry provides observability for unitforge.
//
// It integrates structured logging (zerolog), distributed tracing (OpenTelemetry),
// metrics (Prometheus) and lifecycle event publishing.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch := engine.NewOrchestrator(store, generator, cfg, tel.OrchestratorOptions()...)
//
// # Metrics
//
// Metrics live in a private registry and satisfy engine.MetricsRecorder:
//
//   - generation_requests_total{slot,outcome}
//   - generation_duration_seconds{slot}
//   - generator_attempts_total{slot,result}
//   - unit_transitions_total{direction}
//   - balancing_exhausted_total{slot}
//   - concurrent_modifications_total
//   - policy_violations_total{policy}
//
// # Events
//
// EventPublisher satisfies engine.EventPublisher. Events get a UUID and the trace ID
// of the publishing span, and are delivered in order to subscribers:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.UnitID)
//	}, telemetry.FilterByType(engine.EventTypeUnitRegressed))
package telemetry
