package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
)

// fakeGenerator produces artifacts that satisfy the constraints it is given,
// unless fn overrides the response for a call.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []engine.GenerationRequest
	fn       func(ctx context.Context, req *engine.GenerationRequest, call int) (*engine.Artifact, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req *engine.GenerationRequest) (*engine.Artifact, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.requests = append(g.requests, *req)
	fn := g.fn
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, call)
	}
	return validArtifact(req), nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// validArtifact builds the smallest artifact that passes validation.
func validArtifact(req *engine.GenerationRequest) *engine.Artifact {
	c := req.Constraints
	a := &engine.Artifact{Slot: req.Slot, Model: "fake"}
	switch req.Slot {
	case engine.SlotVocabulary:
		for i := 0; i < c.VocabularyCount; i++ {
			a.Vocabulary = append(a.Vocabulary, engine.VocabularyItem{
				Headword: fmt.Sprintf("%s-word-%d", req.Unit.UnitID, i),
				IPA:      "/wɜːd/",
			})
		}
	case engine.SlotSentences:
		for i := 0; i < c.SentenceCount; i++ {
			hw := c.RequiredHeadwords[i%len(c.RequiredHeadwords)]
			a.Sentences = append(a.Sentences, engine.Sentence{Text: "We practise " + hw + " today."})
		}
	case engine.SlotStrategy:
		a.Strategy = &engine.StrategyRecord{Kind: c.EligibleStrategies[0], Title: "Strategy", Body: "Try this."}
	case engine.SlotAssessments:
		for _, k := range c.Assessments {
			a.Assessments = append(a.Assessments, engine.AssessmentRecord{
				Kind:         k,
				Instructions: "Answer the questions.",
				Items:        []engine.AssessmentItem{{Prompt: "Q", Answer: "A"}},
			})
		}
	case engine.SlotQA:
		a.QA = []engine.QAItem{{Question: "What did you learn?", Answer: "New words."}}
	}
	return a
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []engine.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *engine.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return nil
}

func (p *recordingPublisher) ofType(t engine.EventType) []engine.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []engine.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type countingMetrics struct {
	mu          sync.Mutex
	generations map[string]int
	attempts    map[string]int
	transitions map[string]int
	exhausted   int
	conflicts   int
	violations  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		generations: make(map[string]int),
		attempts:    make(map[string]int),
		transitions: make(map[string]int),
		violations:  make(map[string]int),
	}
}

func (m *countingMetrics) RecordGeneration(slot, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[slot+"/"+outcome]++
}

func (m *countingMetrics) RecordGeneratorAttempt(slot, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[slot+"/"+result]++
}

func (m *countingMetrics) RecordTransition(direction string, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[direction] += steps
}

func (m *countingMetrics) RecordBalancingExhausted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted++
}

func (m *countingMetrics) RecordConcurrentModification() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) RecordPolicyViolation(policy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations[policy]++
}

type fixture struct {
	store   *stores.MemoryStore
	gen     *fakeGenerator
	events  *recordingPublisher
	metrics *countingMetrics
	orch    *engine.Orchestrator
	course  *engine.Course
	book    *engine.Book
}

func testConfig() engine.OrchestratorConfig {
	cfg := engine.DefaultOrchestratorConfig()
	cfg.RetryDelay = 0
	cfg.Balancing.VocabularyCount = 4
	cfg.Balancing.SentenceCount = 2
	return cfg
}

func newFixture(t *testing.T, cfg engine.OrchestratorConfig, opts ...engine.OrchestratorOption) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:   stores.NewMemoryStore(),
		gen:     &fakeGenerator{},
		events:  &recordingPublisher{},
		metrics: newCountingMetrics(),
	}
	opts = append([]engine.OrchestratorOption{
		engine.WithEventPublisher(f.events),
		engine.WithMetrics(f.metrics),
	}, opts...)
	f.orch = engine.NewOrchestrator(f.store, f.gen, cfg, opts...)

	var err error
	f.course, err = f.store.CreateCourse(ctx, &stores.NewCourse{
		Title:       "English for Travel",
		Levels:      []engine.CEFRLevel{engine.LevelA1, engine.LevelA2},
		Methodology: "communicative",
	})
	if err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	f.book, err = f.store.CreateBook(ctx, &stores.NewBook{CourseID: f.course.ID, Level: engine.LevelA1, Title: "Departures"})
	if err != nil {
		t.Fatalf("failed to create book: %v", err)
	}
	return f
}

// addUnit creates a unit in the fixture book with its image attached.
func (f *fixture) addUnit(t *testing.T, typ engine.UnitType) *engine.Unit {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.CreateUnit(ctx, &stores.NewUnit{BookID: f.book.ID, Type: typ, Title: "Unit", RequiredImages: 1})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}
	u, err = f.store.AttachImage(ctx, u.ID, engine.ImageRef{URI: "s3://images/" + u.ID + ".png"})
	if err != nil {
		t.Fatalf("failed to attach image: %v", err)
	}
	return u
}

// complete generates every stage slot of a unit.
func (f *fixture) complete(t *testing.T, unitID string) *engine.Unit {
	t.Helper()
	var unit *engine.Unit
	for _, slot := range []engine.SlotKind{engine.SlotVocabulary, engine.SlotSentences, engine.SlotStrategy, engine.SlotAssessments} {
		res, err := f.orch.RequestGeneration(context.Background(), unitID, slot)
		if err != nil {
			t.Fatalf("failed to generate %s: %v", slot, err)
		}
		unit = res.Unit
	}
	return unit
}

func (f *fixture) status(t *testing.T, unitID string) engine.UnitStatus {
	t.Helper()
	s, _, err := f.store.GetStatus(context.Background(), unitID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	return s
}

func TestRequestGenerationLifecycle(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	ctx := context.Background()

	want := []engine.UnitStatus{
		engine.UnitStatusSentencesPending,
		engine.UnitStatusContentPending,
		engine.UnitStatusAssessmentsPending,
		engine.UnitStatusCompleted,
	}
	slots := []engine.SlotKind{engine.SlotVocabulary, engine.SlotSentences, engine.SlotStrategy, engine.SlotAssessments}
	for i, slot := range slots {
		res, err := f.orch.RequestGeneration(ctx, unit.ID, slot)
		if err != nil {
			t.Fatalf("failed to generate %s: %v", slot, err)
		}
		if res.To != want[i] || res.Unit.Status != want[i] {
			t.Errorf("%s: expected %s, got %s", slot, want[i], res.To)
		}
		if res.Attempts != 1 {
			t.Errorf("%s: expected 1 attempt, got %d", slot, res.Attempts)
		}
		if !res.Unit.Content.Has(slot) {
			t.Errorf("%s: content not committed", slot)
		}
	}

	res, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotQA)
	if err != nil {
		t.Fatalf("failed to generate qa: %v", err)
	}
	if res.To != engine.UnitStatusCompleted || len(res.Unit.Content.QA) != 1 {
		t.Errorf("qa should be stored without a status change: %+v", res.Unit)
	}

	history, err := f.store.ListTransitions(ctx, unit.ID)
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	if len(history) != 5 {
		t.Errorf("expected 5 transitions, got %d", len(history))
	}
	if n := len(f.events.ofType(engine.EventTypeUnitAdvanced)); n != 4 {
		t.Errorf("expected 4 advanced events, got %d", n)
	}
	if n := len(f.events.ofType(engine.EventTypeContentUpdated)); n != 1 {
		t.Errorf("expected 1 content updated event, got %d", n)
	}
	if f.metrics.transitions["forward"] != 4 {
		t.Errorf("expected 4 forward transitions, got %d", f.metrics.transitions["forward"])
	}
	if f.metrics.generations["qa/success"] != 1 {
		t.Errorf("qa generation not recorded: %v", f.metrics.generations)
	}

	// The generator saw the unit metadata and the vocabulary the sentences build on.
	req := f.gen.requests[1]
	if req.Unit.Level != engine.LevelA1 || req.Unit.Methodology != "communicative" || len(req.Unit.Images) != 1 {
		t.Errorf("unexpected metadata: %+v", req.Unit)
	}
	if len(req.Constraints.RequiredHeadwords) != 4 {
		t.Errorf("sentences should build on 4 headwords, got %v", req.Constraints.RequiredHeadwords)
	}
}

func TestRequestGenerationInvalidTransition(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)

	_, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotSentences)
	if !engine.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if f.gen.callCount() != 0 {
		t.Errorf("generator should not be called on an invalid transition")
	}
	if n := len(f.events.ofType(engine.EventTypeGenerationFailed)); n != 1 {
		t.Errorf("expected one failure event, got %d", n)
	}

	creating, err := f.store.CreateUnit(context.Background(), &stores.NewUnit{
		BookID: f.book.ID, Type: engine.UnitTypeLexical, Title: "No images", RequiredImages: 2,
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}
	if _, err := f.orch.RequestGeneration(context.Background(), creating.ID, engine.SlotVocabulary); !engine.IsInvalidTransition(err) {
		t.Errorf("expected invalid transition while creating, got %v", err)
	}

	if _, err := f.orch.RequestGeneration(context.Background(), "missing", engine.SlotVocabulary); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRequestGenerationRetriesInvalidArtifact(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.gen.fn = func(_ context.Context, req *engine.GenerationRequest, call int) (*engine.Artifact, error) {
		a := validArtifact(req)
		if call == 1 {
			a.Vocabulary = a.Vocabulary[:1]
		}
		return a, nil
	}

	res, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
	if len(f.gen.requests[1].Feedback) == 0 {
		t.Errorf("second attempt should carry feedback from the first")
	}
	if f.gen.requests[1].Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", f.gen.requests[1].Attempt)
	}
	if f.metrics.attempts["vocabulary/invalid"] != 1 || f.metrics.attempts["vocabulary/ok"] != 1 {
		t.Errorf("unexpected attempt metrics: %v", f.metrics.attempts)
	}
}

func TestRequestGenerationConstraintViolation(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.gen.fn = func(_ context.Context, req *engine.GenerationRequest, _ int) (*engine.Artifact, error) {
		return &engine.Artifact{Slot: req.Slot}, nil
	}

	_, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if !engine.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	if f.gen.callCount() != 2 {
		t.Errorf("expected 2 generator calls, got %d", f.gen.callCount())
	}
	if s := f.status(t, unit.ID); s != engine.UnitStatusVocabPending {
		t.Errorf("status changed to %s after failure", s)
	}
}

func TestRequestGenerationTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.gen.fn = func(ctx context.Context, _ *engine.GenerationRequest, _ int) (*engine.Artifact, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if !engine.IsGenerationFailed(err) {
		t.Fatalf("expected generation failed, got %v", err)
	}
	if f.gen.callCount() != 2 {
		t.Errorf("expected 2 generator calls, got %d", f.gen.callCount())
	}
	if s := f.status(t, unit.ID); s != engine.UnitStatusVocabPending {
		t.Errorf("status changed to %s after failure", s)
	}
	if f.metrics.generations["vocabulary/generation_failed"] != 1 {
		t.Errorf("unexpected generation metrics: %v", f.metrics.generations)
	}
}

func TestRequestGenerationGeneratorError(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.gen.fn = func(_ context.Context, req *engine.GenerationRequest, call int) (*engine.Artifact, error) {
		if call == 1 {
			return nil, errors.New("upstream 503")
		}
		return validArtifact(req), nil
	}

	res, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if err != nil {
		t.Fatalf("a single generator failure should be retried: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
}

func TestRequestGenerationCanceled(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	ctx, cancel := context.WithCancel(context.Background())
	f.gen.fn = func(ctx context.Context, _ *engine.GenerationRequest, _ int) (*engine.Artifact, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotVocabulary)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if f.gen.callCount() != 1 {
		t.Errorf("canceled requests must not be retried, got %d calls", f.gen.callCount())
	}
	if s := f.status(t, unit.ID); s != engine.UnitStatusVocabPending {
		t.Errorf("status changed to %s after cancellation", s)
	}
}

func TestConcurrentRequestsOneWins(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)

	// Hold both generator calls until each request has taken its snapshot.
	ready := make(chan struct{})
	var once sync.Once
	f.gen.fn = func(ctx context.Context, req *engine.GenerationRequest, call int) (*engine.Artifact, error) {
		if call == 2 {
			once.Do(func() { close(ready) })
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return validArtifact(req), nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case engine.IsConcurrentModification(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d and %d", ok, conflicts)
	}
	if s := f.status(t, unit.ID); s != engine.UnitStatusSentencesPending {
		t.Errorf("expected sentences_pending, got %s", s)
	}
	if f.metrics.conflicts != 1 {
		t.Errorf("expected one recorded conflict, got %d", f.metrics.conflicts)
	}
}

func TestDeleteVocabularyOnCompletedUnit(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.complete(t, unit.ID)
	ctx := context.Background()
	if _, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotQA); err != nil {
		t.Fatalf("failed to generate qa: %v", err)
	}

	updated, err := f.orch.DeleteContent(ctx, unit.ID, engine.SlotVocabulary)
	if err != nil {
		t.Fatalf("failed to delete vocabulary: %v", err)
	}
	if updated.Status != engine.UnitStatusVocabPending {
		t.Errorf("expected vocab_pending, got %s", updated.Status)
	}
	for _, slot := range engine.AllSlots() {
		if updated.Content.Has(slot) {
			t.Errorf("slot %s was not cleared", slot)
		}
	}

	regressed := f.events.ofType(engine.EventTypeUnitRegressed)
	if len(regressed) != 1 || regressed[0].From != engine.UnitStatusCompleted || regressed[0].To != engine.UnitStatusVocabPending {
		t.Errorf("unexpected regression events: %+v", regressed)
	}
	if f.metrics.transitions["backward"] != 4 {
		t.Errorf("expected 4 backward steps, got %d", f.metrics.transitions["backward"])
	}

	history, err := f.store.ListTransitions(ctx, unit.ID)
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	for _, rec := range history {
		diff := rec.To.Stage() - rec.From.Stage()
		if diff != 1 && diff != -1 {
			t.Errorf("transition %s -> %s skips a stage", rec.From, rec.To)
		}
	}

	// The unit can be regenerated from scratch.
	if _, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotVocabulary); err != nil {
		t.Errorf("failed to regenerate vocabulary: %v", err)
	}
}

func TestDeleteContentQAKeepsStatus(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeGrammar)
	f.complete(t, unit.ID)
	ctx := context.Background()
	if _, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotQA); err != nil {
		t.Fatalf("failed to generate qa: %v", err)
	}

	updated, err := f.orch.DeleteContent(ctx, unit.ID, engine.SlotQA)
	if err != nil {
		t.Fatalf("failed to delete qa: %v", err)
	}
	if updated.Status != engine.UnitStatusCompleted {
		t.Errorf("expected completed, got %s", updated.Status)
	}
	if updated.Content.Has(engine.SlotQA) || !updated.Content.Has(engine.SlotAssessments) {
		t.Errorf("only qa should be cleared: %+v", updated.Content)
	}

	if _, err := f.orch.DeleteContent(ctx, unit.ID, engine.SlotQA); err != nil {
		t.Errorf("deleting empty qa should be harmless: %v", err)
	}
}

func TestDeleteContentBeforeGeneration(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	if _, err := f.orch.DeleteContent(context.Background(), unit.ID, engine.SlotStrategy); !engine.IsInvalidTransition(err) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestEditContent(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.complete(t, unit.ID)
	ctx := context.Background()

	edit := &engine.Artifact{Slot: engine.SlotVocabulary, Vocabulary: []engine.VocabularyItem{
		{Headword: "runway", IPA: "/ˈrʌnweɪ/"},
		{Headword: "terminal", IPA: "/ˈtɜːmɪnl/"},
	}}
	updated, err := f.orch.EditContent(ctx, unit.ID, edit)
	if err != nil {
		t.Fatalf("failed to edit vocabulary: %v", err)
	}
	if updated.Status != engine.UnitStatusSentencesPending {
		t.Errorf("expected sentences_pending, got %s", updated.Status)
	}
	if len(updated.Content.Vocabulary) != 2 || updated.Content.Vocabulary[0].Headword != "runway" {
		t.Errorf("vocabulary not replaced: %+v", updated.Content.Vocabulary)
	}
	if updated.Content.Has(engine.SlotSentences) || updated.Content.Has(engine.SlotAssessments) {
		t.Errorf("dependent slots should be cleared")
	}

	// Sentences are regenerated against the edited vocabulary.
	res, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotSentences)
	if err != nil {
		t.Fatalf("failed to regenerate sentences: %v", err)
	}
	if got := res.Constraints.RequiredHeadwords; len(got) != 2 || got[0] != "runway" {
		t.Errorf("unexpected required headwords: %v", got)
	}

	bad := &engine.Artifact{Slot: engine.SlotVocabulary, Vocabulary: []engine.VocabularyItem{{Headword: " "}}}
	if _, err := f.orch.EditContent(ctx, unit.ID, bad); engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestStageChangesClearQA(t *testing.T) {
	tests := []struct {
		name   string
		change func(f *fixture, unitID string) (*engine.Unit, error)
		want   engine.UnitStatus
		keep   []engine.SlotKind
		gone   []engine.SlotKind
	}{
		{
			name: "edit strategy",
			change: func(f *fixture, unitID string) (*engine.Unit, error) {
				return f.orch.EditContent(context.Background(), unitID, &engine.Artifact{
					Slot:     engine.SlotStrategy,
					Strategy: &engine.StrategyRecord{Kind: engine.TipsAssociation, Title: "Link it", Body: "Pair each word with a picture."},
				})
			},
			want: engine.UnitStatusAssessmentsPending,
			keep: []engine.SlotKind{engine.SlotVocabulary, engine.SlotSentences, engine.SlotStrategy},
			gone: []engine.SlotKind{engine.SlotAssessments, engine.SlotQA},
		},
		{
			name: "delete assessments",
			change: func(f *fixture, unitID string) (*engine.Unit, error) {
				return f.orch.DeleteContent(context.Background(), unitID, engine.SlotAssessments)
			},
			want: engine.UnitStatusAssessmentsPending,
			keep: []engine.SlotKind{engine.SlotVocabulary, engine.SlotSentences, engine.SlotStrategy},
			gone: []engine.SlotKind{engine.SlotAssessments, engine.SlotQA},
		},
		{
			name: "edit assessments",
			change: func(f *fixture, unitID string) (*engine.Unit, error) {
				return f.orch.EditContent(context.Background(), unitID, &engine.Artifact{
					Slot: engine.SlotAssessments,
					Assessments: []engine.AssessmentRecord{{
						Kind:         engine.AssessmentShortAnswer,
						Instructions: "Answer briefly.",
						Items:        []engine.AssessmentItem{{Prompt: "Q", Answer: "A"}},
					}},
				})
			},
			want: engine.UnitStatusCompleted,
			keep: []engine.SlotKind{engine.SlotStrategy, engine.SlotAssessments},
			gone: []engine.SlotKind{engine.SlotQA},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			unit := f.addUnit(t, engine.UnitTypeLexical)
			f.complete(t, unit.ID)
			if _, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotQA); err != nil {
				t.Fatalf("failed to generate qa: %v", err)
			}

			updated, err := tt.change(f, unit.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if updated.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, updated.Status)
			}
			for _, slot := range tt.keep {
				if !updated.Content.Has(slot) {
					t.Errorf("slot %s should be kept", slot)
				}
			}
			for _, slot := range tt.gone {
				if updated.Content.Has(slot) {
					t.Errorf("slot %s should be cleared", slot)
				}
			}
		})
	}
}

func TestEditContentRejectsOldVocabulary(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	var units []*engine.Unit
	for i := 0; i < 5; i++ {
		u := f.addUnit(t, engine.UnitTypeLexical)
		f.complete(t, u.ID)
		units = append(units, u)
	}
	last := units[4]

	old := &engine.Artifact{Slot: engine.SlotVocabulary, Vocabulary: []engine.VocabularyItem{
		{Headword: units[0].ID + "-word-0", IPA: "/wɜːd/"},
		{Headword: "platform", IPA: "/ˈplætfɔːm/"},
	}}
	if _, err := f.orch.EditContent(ctx, last.ID, old); engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Fatalf("expected validation error for a headword taught four units earlier, got %v", err)
	}
	if s := f.status(t, last.ID); s != engine.UnitStatusCompleted {
		t.Errorf("rejected edit must not change status, got %s", s)
	}

	var fresh []engine.VocabularyItem
	for _, w := range []string{"platform", "luggage", "passport", "boarding", "delay", "arrival"} {
		fresh = append(fresh, engine.VocabularyItem{Headword: w, IPA: "/x/"})
	}
	recent := append([]engine.VocabularyItem{{Headword: units[3].ID + "-word-0", IPA: "/wɜːd/"}}, fresh...)
	if _, err := f.orch.EditContent(ctx, last.ID, &engine.Artifact{Slot: engine.SlotVocabulary, Vocabulary: recent}); err != nil {
		t.Errorf("one recent headword in seven should be accepted: %v", err)
	}
}

func TestRequestGenerationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFixture(t, testConfig(), engine.WithTracer(provider.Tracer("test")))
	unit := f.addUnit(t, engine.UnitTypeLexical)

	if _, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary); err != nil {
		t.Fatalf("failed to generate vocabulary: %v", err)
	}

	attrs := make(map[string]map[string]string)
	for _, span := range recorder.Ended() {
		m := make(map[string]string)
		for _, kv := range span.Attributes() {
			m[string(kv.Key)] = kv.Value.Emit()
		}
		attrs[span.Name()] = m
	}

	tests := []struct {
		span string
		key  string
		want string
	}{
		{"generation.request", "unit.id", unit.ID},
		{"generation.request", "slot", "vocabulary"},
		{"context.aggregate", "unit.id", unit.ID},
		{"balancing.derive", "slot", "vocabulary"},
		{"generator.invoke", "slot", "vocabulary"},
		{"hierarchy.commit", "unit.id", unit.ID},
	}
	for _, tt := range tests {
		got, ok := attrs[tt.span]
		if !ok {
			t.Errorf("span %s was not recorded", tt.span)
			continue
		}
		if got[tt.key] != tt.want {
			t.Errorf("span %s: %s=%q, want %q", tt.span, tt.key, got[tt.key], tt.want)
		}
	}
}

func TestRequestGenerationArchived(t *testing.T) {
	f := newFixture(t, testConfig())
	unit := f.addUnit(t, engine.UnitTypeLexical)
	other := f.addUnit(t, engine.UnitTypeLexical)
	ctx := context.Background()

	if err := f.store.ArchiveUnit(ctx, unit.ID); err != nil {
		t.Fatalf("failed to archive unit: %v", err)
	}
	if _, err := f.orch.RequestGeneration(ctx, unit.ID, engine.SlotVocabulary); engine.CodeOf(err) != engine.ErrCodeArchived {
		t.Errorf("expected archived error, got %v", err)
	}

	if err := f.store.ArchiveCourse(ctx, f.course.ID); err != nil {
		t.Fatalf("failed to archive course: %v", err)
	}
	if _, err := f.orch.RequestGeneration(ctx, other.ID, engine.SlotVocabulary); engine.CodeOf(err) != engine.ErrCodeArchived {
		t.Errorf("expected archived error for archived course, got %v", err)
	}
	if f.gen.callCount() != 0 {
		t.Errorf("generator called for archived units")
	}
}

func TestRequestGenerationForbidsOldVocabulary(t *testing.T) {
	cfg := testConfig()
	cfg.RecentUnits = 1
	f := newFixture(t, cfg)
	first := f.addUnit(t, engine.UnitTypeLexical)
	second := f.addUnit(t, engine.UnitTypeLexical)
	third := f.addUnit(t, engine.UnitTypeLexical)
	f.complete(t, first.ID)
	f.complete(t, second.ID)

	bundle, constraints, err := f.orch.Preview(context.Background(), third.ID, engine.SlotVocabulary)
	if err != nil {
		t.Fatalf("failed to preview: %v", err)
	}
	if bundle.Position != 2 || len(bundle.TaughtVocabulary) != 8 {
		t.Fatalf("unexpected bundle: position=%d taught=%d", bundle.Position, len(bundle.TaughtVocabulary))
	}
	if len(constraints.Forbidden) != 4 || len(constraints.Reinforcement) != 4 {
		t.Errorf("expected 4 forbidden and 4 reinforcement words, got %v / %v", constraints.Forbidden, constraints.Reinforcement)
	}

	// A generator that repeats an old word is rejected.
	f.gen.fn = func(_ context.Context, req *engine.GenerationRequest, _ int) (*engine.Artifact, error) {
		a := validArtifact(req)
		a.Vocabulary[0].Headword = req.Constraints.Forbidden[0]
		return a, nil
	}
	_, err = f.orch.RequestGeneration(context.Background(), third.ID, engine.SlotVocabulary)
	if !engine.IsConstraintViolation(err) {
		t.Errorf("expected constraint violation, got %v", err)
	}
}

func TestAssessmentsStayUnderWindowCap(t *testing.T) {
	f := newFixture(t, testConfig())
	var units []*engine.Unit
	for i := 0; i < 12; i++ {
		units = append(units, f.addUnit(t, engine.UnitTypeLexical))
	}
	for _, u := range units {
		f.complete(t, u.ID)
	}

	ctx := context.Background()
	list, err := f.store.ListUnits(ctx, f.book.ID)
	if err != nil {
		t.Fatalf("failed to list units: %v", err)
	}
	for start := 0; start+engine.AssessmentWindowSize <= len(list); start++ {
		counts := make(map[engine.AssessmentKind]int)
		for _, u := range list[start : start+engine.AssessmentWindowSize] {
			for _, a := range u.Content.Assessments {
				counts[a.Kind]++
			}
		}
		for k, n := range counts {
			if n > engine.AssessmentKindCap {
				t.Errorf("window starting at %d holds %s %d times", start+1, k, n)
			}
		}
	}
}

type rejectingLimiter struct{}

func (rejectingLimiter) Wait(context.Context) error { return errors.New("rate: burst exceeded") }

func TestRequestGenerationRateLimited(t *testing.T) {
	f := newFixture(t, testConfig(), engine.WithRateLimiter(rejectingLimiter{}))
	unit := f.addUnit(t, engine.UnitTypeLexical)

	_, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if engine.CodeOf(err) != engine.ErrCodeRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if f.gen.callCount() != 0 {
		t.Errorf("generator called despite limiter")
	}
}

type stubPolicy struct {
	violations func(call int) []engine.PolicyViolation
	mu         sync.Mutex
	calls      int
}

func (p *stubPolicy) EvaluateArtifact(_ context.Context, _ *engine.PolicyInput) ([]engine.PolicyViolation, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.violations(call), nil
}

func TestRequestGenerationContentPolicy(t *testing.T) {
	policy := &stubPolicy{violations: func(call int) []engine.PolicyViolation {
		if call == 1 {
			return []engine.PolicyViolation{{Policy: "vocabulary-ipa", Message: "missing IPA", Severity: "error"}}
		}
		return []engine.PolicyViolation{{Policy: "sentence-length", Message: "long sentence", Severity: "warning"}}
	}}
	f := newFixture(t, testConfig(), engine.WithContentPolicy(policy))
	unit := f.addUnit(t, engine.UnitTypeLexical)

	res, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("error-severity violation should force a retry, got %d attempts", res.Attempts)
	}
	if f.metrics.violations["vocabulary-ipa"] != 1 || f.metrics.violations["sentence-length"] != 1 {
		t.Errorf("unexpected violation metrics: %v", f.metrics.violations)
	}
	if n := len(f.events.ofType(engine.EventTypePolicyViolation)); n != 2 {
		t.Errorf("expected 2 policy events, got %d", n)
	}
}

func TestRequestGenerationMinQuality(t *testing.T) {
	cfg := testConfig()
	cfg.Balancing.MinQuality = 0.8
	f := newFixture(t, cfg)
	unit := f.addUnit(t, engine.UnitTypeLexical)
	f.gen.fn = func(_ context.Context, req *engine.GenerationRequest, call int) (*engine.Artifact, error) {
		a := validArtifact(req)
		a.Quality = &engine.Quality{Score: 0.5}
		if call == 2 {
			a.Quality.Score = 0.9
		}
		return a, nil
	}

	res, err := f.orch.RequestGeneration(context.Background(), unit.ID, engine.SlotVocabulary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 2 || res.Artifact.Quality.Score != 0.9 {
		t.Errorf("low quality artifact should be retried: attempts=%d", res.Attempts)
	}
}
