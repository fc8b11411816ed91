package engine

import (
	"fmt"
	"math"
	"sort"
)

const (
	// MinReinforcementRatio and MaxReinforcementRatio bound the share of new
	// vocabulary that may repeat recently taught words.
	MinReinforcementRatio = 0.05
	MaxReinforcementRatio = 0.15

	// DefaultReinforcementRatio is used when no ratio is configured.
	DefaultReinforcementRatio = 0.10
)

// GenerationConstraints are the hard constraints handed to the generator and
// checked against the returned artifact.
type GenerationConstraints struct {
	// Slot is the slot the constraints apply to.
	Slot SlotKind `json:"slot"`

	// VocabularyCount is the number of new vocabulary items requested.
	VocabularyCount int `json:"vocabulary_count,omitempty"`

	// Forbidden lists normalized headwords that must not appear.
	Forbidden []string `json:"forbidden,omitempty"`

	// Reinforcement lists recently taught headwords that may be repeated.
	Reinforcement []string `json:"reinforcement,omitempty"`

	// ReinforcementBudget is the maximum number of reinforcement headwords allowed.
	ReinforcementBudget int `json:"reinforcement_budget"`

	// SentenceCount is the number of sentences requested.
	SentenceCount int `json:"sentence_count,omitempty"`

	// RequiredHeadwords lists the unit headwords sentences must draw from.
	RequiredHeadwords []string `json:"required_headwords,omitempty"`

	// Family is the strategy family of the unit.
	Family StrategyFamily `json:"family,omitempty"`

	// EligibleStrategies are ordered by preference: least used first, then ascending identifier.
	EligibleStrategies []StrategyKind `json:"eligible_strategies,omitempty"`

	// StrategyQuota is the per-kind usage quota the eligible set was derived from.
	StrategyQuota int `json:"strategy_quota,omitempty"`

	// StrategyForced is set when every kind exceeded quota and the least used was forced.
	StrategyForced bool `json:"strategy_forced,omitempty"`

	// Assessments is the exact set of kinds the unit must receive.
	Assessments []AssessmentKind `json:"assessments,omitempty"`

	// EligibleAssessments lists every kind still under the window cap.
	EligibleAssessments []AssessmentKind `json:"eligible_assessments,omitempty"`

	// QACount is the maximum number of question/answer pairs.
	QACount int `json:"qa_count,omitempty"`

	// MinQuality is the lowest acceptable self-reported quality score.
	MinQuality float64 `json:"min_quality,omitempty"`
}

// BalancingOptions configures the balancing engine.
type BalancingOptions struct {
	VocabularyCount    int
	SentenceCount      int
	QACount            int
	ReinforcementRatio float64
	TieTolerance       int
	MinQuality         float64
}

// DefaultBalancingOptions returns the default balancing options.
func DefaultBalancingOptions() BalancingOptions {
	return BalancingOptions{
		VocabularyCount:    10,
		SentenceCount:      6,
		QACount:            3,
		ReinforcementRatio: DefaultReinforcementRatio,
	}
}

// BalancingEngine derives generation constraints from a context bundle.
type BalancingEngine struct {
	opts BalancingOptions
}

// NewBalancingEngine creates a balancing engine. Out-of-range values fall back to defaults.
func NewBalancingEngine(opts BalancingOptions) *BalancingEngine {
	def := DefaultBalancingOptions()
	if opts.VocabularyCount <= 0 {
		opts.VocabularyCount = def.VocabularyCount
	}
	if opts.SentenceCount <= 0 {
		opts.SentenceCount = def.SentenceCount
	}
	if opts.QACount <= 0 {
		opts.QACount = def.QACount
	}
	if opts.ReinforcementRatio < MinReinforcementRatio || opts.ReinforcementRatio > MaxReinforcementRatio {
		opts.ReinforcementRatio = def.ReinforcementRatio
	}
	if opts.TieTolerance < 0 {
		opts.TieTolerance = 0
	}
	return &BalancingEngine{opts: opts}
}

// Derive produces the constraints for generating slot on the bundle's unit.
// unit supplies the content the slot builds on (vocabulary for sentences).
func (e *BalancingEngine) Derive(bundle *ContextBundle, unit *Unit, slot SlotKind) (*GenerationConstraints, error) {
	if bundle == nil {
		return nil, NewValidationError("context bundle is nil")
	}
	c := &GenerationConstraints{Slot: slot, MinQuality: e.opts.MinQuality}

	switch slot {
	case SlotVocabulary:
		e.deriveVocabulary(bundle, c)
	case SlotSentences:
		c.SentenceCount = e.opts.SentenceCount
		if unit != nil {
			c.RequiredHeadwords = headwords(unit.Content.Vocabulary)
		}
	case SlotStrategy:
		if err := e.deriveStrategy(bundle, c); err != nil {
			return nil, err
		}
	case SlotAssessments:
		if err := e.deriveAssessments(bundle, c); err != nil {
			return nil, err
		}
	case SlotQA:
		c.QACount = e.opts.QACount
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown slot %q", slot))
	}
	return c, nil
}

// ReinforcementBudget returns how many of requested new words may repeat recent vocabulary.
// The result never exceeds 15% of requested nor the number of recent words available.
func ReinforcementBudget(requested int, ratio float64, available int) int {
	if requested <= 0 || available <= 0 {
		return 0
	}
	budget := int(math.Round(float64(requested) * ratio))
	if ceiling := int(math.Floor(float64(requested) * MaxReinforcementRatio)); budget > ceiling {
		budget = ceiling
	}
	if budget > available {
		budget = available
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

func (e *BalancingEngine) deriveVocabulary(bundle *ContextBundle, c *GenerationConstraints) {
	c.VocabularyCount = e.opts.VocabularyCount
	c.Forbidden = []string{}
	c.Reinforcement = []string{}
	for _, w := range bundle.TaughtVocabulary {
		if w.Distance <= bundle.RecentUnits {
			c.Reinforcement = append(c.Reinforcement, w.Headword)
		} else {
			c.Forbidden = append(c.Forbidden, w.Headword)
		}
	}
	c.ReinforcementBudget = ReinforcementBudget(c.VocabularyCount, e.opts.ReinforcementRatio, len(c.Reinforcement))
}

func (e *BalancingEngine) deriveStrategy(bundle *ContextBundle, c *GenerationConstraints) error {
	kinds := StrategyKinds(bundle.Family)
	if len(kinds) == 0 {
		return NewBalancingExhaustedError(SlotStrategy,
			fmt.Sprintf("strategy family %q has no kinds", bundle.Family))
	}
	c.Family = bundle.Family
	c.StrategyQuota = int(math.Ceil(float64(bundle.StrategyUnitsSeen)/float64(len(kinds)))) + e.opts.TieTolerance

	eligible := make([]StrategyKind, 0, len(kinds))
	for _, k := range kinds {
		if bundle.StrategyHistogram[k] <= c.StrategyQuota {
			eligible = append(eligible, k)
		}
	}
	byUsage := func(list []StrategyKind) {
		sort.SliceStable(list, func(i, j int) bool {
			ci, cj := bundle.StrategyHistogram[list[i]], bundle.StrategyHistogram[list[j]]
			if ci != cj {
				return ci < cj
			}
			return list[i].ID() < list[j].ID()
		})
	}
	if len(eligible) == 0 {
		forced := append([]StrategyKind(nil), kinds...)
		byUsage(forced)
		c.EligibleStrategies = forced[:1]
		c.StrategyForced = true
		return nil
	}
	byUsage(eligible)
	c.EligibleStrategies = eligible
	return nil
}

func (e *BalancingEngine) deriveAssessments(bundle *ContextBundle, c *GenerationConstraints) error {
	eligible := make([]AssessmentKind, 0, len(AssessmentKinds()))
	for _, k := range AssessmentKinds() {
		if bundle.AssessmentHistogram[k] >= AssessmentKindCap {
			continue
		}
		if bundle.AssessmentWindowPeaks[k] >= AssessmentKindCap {
			continue
		}
		eligible = append(eligible, k)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		ci, cj := bundle.AssessmentHistogram[eligible[i]], bundle.AssessmentHistogram[eligible[j]]
		if ci != cj {
			return ci < cj
		}
		return eligible[i].ID() < eligible[j].ID()
	})
	if len(eligible) < AssessmentsPerUnit {
		return NewBalancingExhaustedError(SlotAssessments,
			fmt.Sprintf("only %d assessment kinds remain under the window cap, need %d",
				len(eligible), AssessmentsPerUnit)).
			WithResource(bundle.UnitID)
	}
	c.EligibleAssessments = eligible
	c.Assessments = append([]AssessmentKind(nil), eligible[:AssessmentsPerUnit]...)
	return nil
}

func headwords(items []VocabularyItem) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		hw := NormalizeHeadword(item.Headword)
		if hw == "" || seen[hw] {
			continue
		}
		seen[hw] = true
		out = append(out, hw)
	}
	sort.Strings(out)
	return out
}
