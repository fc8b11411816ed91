package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/unitforge/pkg/engine"

// Span attribute keys.
var (
	attrUnitID = attribute.Key("unit.id")
	attrSlot   = attribute.Key("slot")
)

// OrchestratorConfig configures generation requests.
type OrchestratorConfig struct {
	// Timeout bounds each generator call.
	Timeout time.Duration

	// MaxAttempts is the total number of generator calls per request, first call included.
	MaxAttempts int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration

	// CrossBookContext extends aggregation to earlier books of the course.
	CrossBookContext bool

	// RecentUnits is the reinforcement look-back (1-3 units).
	RecentUnits int

	// Balancing configures the balancing engine.
	Balancing BalancingOptions
}

// DefaultOrchestratorConfig returns the default orchestrator configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Timeout:     60 * time.Second,
		MaxAttempts: 2,
		RetryDelay:  500 * time.Millisecond,
		RecentUnits: DefaultRecentUnits,
		Balancing:   DefaultBalancingOptions(),
	}
}

// GenerationResult is the outcome of a committed generation request.
type GenerationResult struct {
	// Unit is the unit as committed.
	Unit *Unit `json:"unit"`

	// Artifact is the validated artifact that was committed.
	Artifact *Artifact `json:"artifact"`

	// From and To are the statuses before and after the commit.
	From UnitStatus `json:"from"`
	To   UnitStatus `json:"to"`

	// Attempts is the number of generator calls made.
	Attempts int `json:"attempts"`

	// Context and Constraints are the inputs the artifact was validated against.
	Context     *ContextBundle         `json:"context"`
	Constraints *GenerationConstraints `json:"constraints"`
}

// Orchestrator coordinates unit content generation and content regression.
// It holds no per-unit state; concurrent requests on the same unit are arbitrated by
// the accessor's compare-and-set commit.
type Orchestrator struct {
	accessor   HierarchyAccessor
	generator  Generator
	config     OrchestratorConfig
	sm         StateMachine
	aggregator *ContextAggregator
	balancer   *BalancingEngine

	policy  ContentPolicy
	limiter RateLimiter
	events  EventPublisher
	metrics MetricsRecorder
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracer sets the tracer. The global otel tracer is used otherwise.
func WithTracer(tracer trace.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithEventPublisher sets the lifecycle event publisher.
func WithEventPublisher(p EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = p }
}

// WithContentPolicy sets the content policy evaluated on every candidate artifact.
func WithContentPolicy(p ContentPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = p }
}

// WithRateLimiter sets the limiter awaited before every generator call.
func WithRateLimiter(l RateLimiter) OrchestratorOption {
	return func(o *Orchestrator) { o.limiter = l }
}

// NewOrchestrator creates a generation orchestrator.
func NewOrchestrator(
	accessor HierarchyAccessor,
	generator Generator,
	config OrchestratorConfig,
	opts ...OrchestratorOption,
) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}

	o := &Orchestrator{
		accessor:   accessor,
		generator:  generator,
		config:     config,
		aggregator: NewContextAggregator(config.RecentUnits),
		balancer:   NewBalancingEngine(config.Balancing),
		metrics:    nopMetrics{},
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	return o
}

// Scope returns the aggregation scope in use.
func (o *Orchestrator) Scope() Scope {
	if o.config.CrossBookContext {
		return ScopeCourse
	}
	return ScopeBook
}

// RequestGeneration generates, validates and commits the content of slot for a unit.
// Either the validated artifact and its status advance are committed together, or
// nothing is written.
func (o *Orchestrator) RequestGeneration(ctx context.Context, unitID string, slot SlotKind) (result *GenerationResult, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "generation.request", trace.WithAttributes(
		attrUnitID.String(unitID),
		attrSlot.String(string(slot)),
	))
	log := o.logger.With().Str("unit_id", unitID).Str("slot", string(slot)).Logger()

	defer func() {
		o.metrics.RecordGeneration(string(slot), outcomeOf(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Str("code", CodeOf(err)).Msg("Generation request failed")
			o.publish(ctx, &Event{
				Type:    EventTypeGenerationFailed,
				UnitID:  unitID,
				Slot:    slot,
				Message: err.Error(),
				Level:   "error",
			})
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	log.Info().Msg("Generation requested")

	status, version, err := o.accessor.GetStatus(ctx, unitID)
	if err != nil {
		return nil, err
	}
	target, err := o.sm.Advance(unitID, status, slot)
	if err != nil {
		return nil, err
	}

	lineage, err := o.snapshot(ctx, unitID, status, version)
	if err != nil {
		return nil, err
	}

	bundle, err := o.aggregate(ctx, lineage)
	if err != nil {
		return nil, err
	}
	constraints, err := o.derive(ctx, bundle, &lineage.Target, slot)
	if err != nil {
		return nil, err
	}

	req := &GenerationRequest{
		Slot:        slot,
		Unit:        metadataFrom(lineage),
		Context:     bundle,
		Constraints: constraints,
	}
	artifact, attempts, err := o.generate(ctx, log, req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	commit := &Commit{
		UnitID:          unitID,
		ExpectedVersion: version,
		From:            status,
		Artifact:        artifact,
		Reason:          "generated " + string(slot),
	}
	if target != status {
		commit.Steps = []UnitStatus{target}
	}
	unit, err := o.commit(ctx, commit)
	if err != nil {
		return nil, err
	}

	if target != status {
		o.metrics.RecordTransition("forward", 1)
		o.publish(ctx, &Event{
			Type:    EventTypeUnitAdvanced,
			UnitID:  unitID,
			Slot:    slot,
			From:    status,
			To:      target,
			Message: fmt.Sprintf("unit advanced to %s", target),
			Level:   "info",
		})
	} else {
		o.publish(ctx, &Event{
			Type:    EventTypeContentUpdated,
			UnitID:  unitID,
			Slot:    slot,
			From:    status,
			To:      status,
			Message: fmt.Sprintf("%s generated", slot),
			Level:   "info",
		})
	}

	log.Info().
		Str("from", string(status)).
		Str("to", string(target)).
		Int("attempts", attempts).
		Dur("duration", time.Since(start)).
		Msg("Generation committed")

	return &GenerationResult{
		Unit:        unit,
		Artifact:    artifact,
		From:        status,
		To:          target,
		Attempts:    attempts,
		Context:     bundle,
		Constraints: constraints,
	}, nil
}

// Preview computes the context bundle and constraints for a slot without generating.
func (o *Orchestrator) Preview(ctx context.Context, unitID string, slot SlotKind) (*ContextBundle, *GenerationConstraints, error) {
	status, version, err := o.accessor.GetStatus(ctx, unitID)
	if err != nil {
		return nil, nil, err
	}
	lineage, err := o.snapshot(ctx, unitID, status, version)
	if err != nil {
		return nil, nil, err
	}
	bundle, err := o.aggregate(ctx, lineage)
	if err != nil {
		return nil, nil, err
	}
	constraints, err := o.derive(ctx, bundle, &lineage.Target, slot)
	if err != nil {
		return bundle, nil, err
	}
	return bundle, constraints, nil
}

// snapshot loads the lineage and checks it is no older than the status read.
func (o *Orchestrator) snapshot(ctx context.Context, unitID string, status UnitStatus, version int64) (*Lineage, error) {
	lineage, err := o.accessor.GetAncestorsAndSiblings(ctx, unitID, o.Scope())
	if err != nil {
		return nil, err
	}
	if lineage.Target.Version != version || lineage.Target.Status != status {
		return nil, NewConcurrentModificationError(unitID, version).
			WithOperation("snapshot").
			WithDetail("snapshot_version", lineage.Target.Version)
	}
	switch {
	case lineage.Course.ArchivedAt != nil:
		return nil, NewArchivedError("course", lineage.Course.ID)
	case lineage.Book.ArchivedAt != nil:
		return nil, NewArchivedError("book", lineage.Book.ID)
	case lineage.Target.ArchivedAt != nil:
		return nil, NewArchivedError("unit", unitID)
	}
	return lineage, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, lineage *Lineage) (*ContextBundle, error) {
	_, span := o.tracer.Start(ctx, "context.aggregate", trace.WithAttributes(
		attrUnitID.String(lineage.Target.ID),
		attribute.Int("preceding", len(lineage.Preceding)),
	))
	defer span.End()

	bundle, err := o.aggregator.Aggregate(lineage, o.Scope())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("taught_vocabulary", len(bundle.TaughtVocabulary)))
	return bundle, nil
}

func (o *Orchestrator) derive(ctx context.Context, bundle *ContextBundle, unit *Unit, slot SlotKind) (*GenerationConstraints, error) {
	_, span := o.tracer.Start(ctx, "balancing.derive", trace.WithAttributes(
		attrSlot.String(string(slot)),
	))
	defer span.End()

	constraints, err := o.balancer.Derive(bundle, unit, slot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsBalancingExhausted(err) {
			o.metrics.RecordBalancingExhausted(string(slot))
			o.logger.Error().
				Err(err).
				Str("unit_id", bundle.UnitID).
				Str("slot", string(slot)).
				Bool("invariant_violation_candidate", true).
				Msg("Balancing exhausted")
		}
		return nil, err
	}
	if constraints.StrategyForced {
		o.logger.Warn().
			Str("unit_id", bundle.UnitID).
			Str("forced", string(constraints.EligibleStrategies[0])).
			Msg("All strategy kinds above quota, forcing least used")
	}
	return constraints, nil
}

// generate calls the generator until a valid artifact is returned or attempts run out.
func (o *Orchestrator) generate(ctx context.Context, log zerolog.Logger, base *GenerationRequest) (*Artifact, int, error) {
	var (
		artifact *Artifact
		attempts int
		lastErr  error
		feedback []string
	)
	slot := string(base.Slot)

	err := retry.Do(
		func() error {
			attempts++
			req := *base
			req.Attempt = attempts
			req.Feedback = feedback

			a, err := o.invoke(ctx, &req)
			if err == nil {
				err = o.check(ctx, &req, a)
			}
			if err != nil {
				lastErr = err
				feedback = Problems(err)
				o.metrics.RecordGeneratorAttempt(slot, attemptResult(err))
				if ctx.Err() != nil || !IsTransient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			o.metrics.RecordGeneratorAttempt(slot, "ok")
			artifact = a
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.config.MaxAttempts)),
		retry.Delay(o.config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("Generator attempt failed")
		}),
	)
	if err == nil {
		return artifact, attempts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, attempts, ctxErr
	}
	if lastErr == nil {
		lastErr = err
	}

	switch {
	case IsConstraintViolation(lastErr):
		return nil, attempts, &EngineError{
			Class:     ErrorClassTransient,
			Code:      ErrCodeConstraintViolation,
			Message:   fmt.Sprintf("artifact failed validation after %d attempts", attempts),
			Resource:  base.Unit.UnitID,
			Operation: slot,
			Err:       lastErr,
			Details:   map[string]interface{}{"attempts": attempts, "problems": Problems(lastErr)},
		}
	case IsTransient(lastErr):
		return nil, attempts, &EngineError{
			Class:     ErrorClassTransient,
			Code:      ErrCodeGenerationFailed,
			Message:   fmt.Sprintf("generator failed after %d attempts", attempts),
			Resource:  base.Unit.UnitID,
			Operation: slot,
			Err:       lastErr,
			Details:   map[string]interface{}{"attempts": attempts},
		}
	default:
		return nil, attempts, lastErr
	}
}

// invoke makes one bounded generator call.
func (o *Orchestrator) invoke(ctx context.Context, req *GenerationRequest) (*Artifact, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, NewThrottledError("rate limiter rejected generator call", err).
				WithCode(ErrCodeRateLimited)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()
	callCtx, span := o.tracer.Start(callCtx, "generator.invoke", trace.WithAttributes(
		attrSlot.String(string(req.Slot)),
		attribute.Int("attempt", req.Attempt),
	))
	defer span.End()

	a, err := o.generator.Generate(callCtx, req)
	if err == nil && a == nil {
		err = errors.New("generator returned no artifact")
	}
	if err != nil {
		var ee *EngineError
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			err = NewTransientError("generator timed out", err).
				WithCode(ErrCodeGenerationFailed).
				WithDetail("timeout", o.config.Timeout.String())
		case !errors.As(err, &ee):
			err = NewTransientError("generator failed", err).WithCode(ErrCodeGenerationFailed)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if a.Slot == "" {
		a.Slot = req.Slot
	}
	return a, nil
}

// check validates a candidate artifact against the quality floor, the constraints
// and the content policy.
func (o *Orchestrator) check(ctx context.Context, req *GenerationRequest, a *Artifact) error {
	c := req.Constraints
	if c.MinQuality > 0 {
		if a.Quality == nil {
			return NewTransientError("artifact carries no quality signal", nil).
				WithCode(ErrCodeGenerationFailed)
		}
		if a.Quality.Score < c.MinQuality {
			return NewTransientError(
				fmt.Sprintf("quality %.2f below minimum %.2f", a.Quality.Score, c.MinQuality), nil).
				WithCode(ErrCodeGenerationFailed)
		}
	}

	if err := ValidateArtifact(c, a); err != nil {
		return err
	}

	if o.policy == nil {
		return nil
	}
	violations, err := o.policy.EvaluateArtifact(ctx, &PolicyInput{
		UnitID:   req.Unit.UnitID,
		Level:    req.Unit.Level,
		UnitType: req.Unit.Type,
		Artifact: a,
	})
	if err != nil {
		return NewPermanentError("content policy evaluation failed", err).WithCode(ErrCodeInternal)
	}
	var problems []string
	for _, v := range violations {
		o.metrics.RecordPolicyViolation(v.Policy)
		o.publish(ctx, &Event{
			Type:    EventTypePolicyViolation,
			UnitID:  req.Unit.UnitID,
			Slot:    req.Slot,
			Message: fmt.Sprintf("%s: %s", v.Policy, v.Message),
			Level:   severityLevel(v.Severity),
		})
		if strings.EqualFold(v.Severity, "error") {
			problems = append(problems, fmt.Sprintf("policy %s: %s", v.Policy, v.Message))
			continue
		}
		o.logger.Warn().
			Str("unit_id", req.Unit.UnitID).
			Str("policy", v.Policy).
			Msg(v.Message)
	}
	if len(problems) > 0 {
		return NewConstraintViolationError(req.Slot, problems)
	}
	return nil
}

// commit writes through the accessor. Any failure is reported as a concurrent modification.
func (o *Orchestrator) commit(ctx context.Context, commit *Commit) (*Unit, error) {
	ctx, span := o.tracer.Start(ctx, "hierarchy.commit", trace.WithAttributes(
		attrUnitID.String(commit.UnitID),
		attribute.Int64("expected_version", commit.ExpectedVersion),
		attribute.String("target", string(commit.Target())),
	))
	defer span.End()

	if err := o.sm.ValidatePath(commit.UnitID, commit.From, commit.Steps); err != nil {
		span.RecordError(err)
		return nil, err
	}

	unit, err := o.accessor.CommitTransition(ctx, commit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		o.metrics.RecordConcurrentModification()
		if IsConcurrentModification(err) {
			return nil, err
		}
		return nil, NewConflictError("commit rejected", err).
			WithCode(ErrCodeConcurrentModification).
			WithResource(commit.UnitID).
			WithDetail("expected_version", commit.ExpectedVersion)
	}
	return unit, nil
}

func (o *Orchestrator) publish(ctx context.Context, event *Event) {
	if o.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Failed to publish event")
	}
}

func metadataFrom(l *Lineage) UnitMetadata {
	t := l.Target
	return UnitMetadata{
		UnitID:      t.ID,
		Title:       t.Title,
		Type:        t.Type,
		Level:       l.Book.Level,
		Methodology: l.Course.Methodology,
		CourseTitle: l.Course.Title,
		BookTitle:   l.Book.Title,
		Images:      t.Images,
		Vocabulary:  t.Content.Vocabulary,
		Sentences:   t.Content.Sentences,
		Strategy:    t.Content.Strategy,
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}
	if code := CodeOf(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}

func attemptResult(err error) string {
	switch {
	case IsConstraintViolation(err):
		return "invalid"
	case CodeOf(err) == ErrCodeRateLimited:
		return "throttled"
	default:
		return "failed"
	}
}

func severityLevel(severity string) string {
	if strings.EqualFold(severity, "error") {
		return "error"
	}
	return "warning"
}

type nopMetrics struct{}

func (nopMetrics) RecordGeneration(string, string, time.Duration) {}
func (nopMetrics) RecordGeneratorAttempt(string, string)          {}
func (nopMetrics) RecordTransition(string, int)                   {}
func (nopMetrics) RecordBalancingExhausted(string)                {}
func (nopMetrics) RecordConcurrentModification()                  {}
func (nopMetrics) RecordPolicyViolation(string)                   {}
