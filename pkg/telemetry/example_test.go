package telemetry_test

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/telemetry"
)

// Example_eventFiltering shows subscribers receiving only the events they asked for.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig().Events
	cfg.EnableAsync = false
	cfg.LogEvents = false

	events, err := telemetry.NewEventPublisher(cfg, zerolog.Nop())
	if err != nil {
		panic(err)
	}

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.From, "->", e.To)
	}, telemetry.FilterByType(engine.EventTypeUnitRegressed))

	ctx := context.Background()
	_ = events.Publish(ctx, &engine.Event{
		Type: engine.EventTypeUnitAdvanced,
		From: engine.UnitStatusVocabPending,
		To:   engine.UnitStatusSentencesPending,
	})
	_ = events.Publish(ctx, &engine.Event{
		Type: engine.EventTypeUnitRegressed,
		From: engine.UnitStatusCompleted,
		To:   engine.UnitStatusVocabPending,
	})

	// Output:
	// unit.regressed completed -> vocab_pending
}

// Example_disabledMetrics shows that a disabled collector is safe to record into.
func Example_disabledMetrics() {
	m, _ := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	m.RecordGeneration("vocabulary", "success", 0)
	m.RecordConcurrentModification()
	fmt.Println(m.Registry() == nil)

	// Output:
	// true
}
