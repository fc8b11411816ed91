// Package engine provides the core types and services of unitforge, the content engine
// behind Course, Book and Unit authoring for language teaching.
//
// # Overview
//
// A course holds books, one CEFR level each, and a book holds an ordered sequence of
// units. Every unit moves through a fixed lifecycle while its content slots are filled:
//
//	creating -> vocab_pending -> sentences_pending -> content_pending -> assessments_pending -> completed
//
// A unit leaves creating once its images are attached. Each later stage is left by
// generating the slot it is waiting for: vocabulary, sentences, strategy and finally
// assessments. The optional QA slot may be generated once assessments are pending.
//
// # Components
//
//   - StateMachine: validates single-stage advances and computes regression paths
//   - ContextAggregator: derives what earlier units already taught (ContextBundle)
//   - BalancingEngine: turns a ContextBundle into GenerationConstraints
//   - Orchestrator: runs one generation request end to end and commits it
//   - BatchRunner: drives whole books and courses through the lifecycle
//
// Persistence is behind HierarchyAccessor. Writes are compare-and-set on the unit
// version, so two requests racing on one unit cannot both commit.
//
// # Balancing Rules
//
// New vocabulary never repeats a headword taught earlier in scope, except for a small
// reinforcement budget (at most 15%) drawn from the most recent units. Strategies rotate
// within their family (tips for lexical units, grammar for grammar units). No assessment
// kind appears more than twice in any window of seven consecutive units of a book.
//
// # Error Classification
//
// Errors are classified for retry decisions:
//
//   - Transient: generator failures, timeouts and constraint violations
//   - Throttled: rate limiting
//   - Conflict: concurrent modification of a unit
//   - Permanent: invalid transitions, validation errors, balancing exhaustion
//
// Use the helper functions to inspect errors:
//
//	if IsConcurrentModification(err) {
//	    // Re-read the unit and decide whether to retry
//	}
//
// # Example Usage
//
//	orch := engine.NewOrchestrator(store, generator, engine.DefaultOrchestratorConfig(),
//	    engine.WithLogger(logger),
//	    engine.WithMetrics(metrics),
//	)
//	res, err := orch.RequestGeneration(ctx, unitID, engine.SlotVocabulary)
//
// # Thread Safety
//
// Orchestrator, ContextAggregator and BalancingEngine hold no per-unit state and are
// safe for concurrent use.
package engine
