package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// AssessmentWindowSize is the sliding window (in units) of the per-kind assessment cap.
	AssessmentWindowSize = 7

	// AssessmentKindCap is the maximum occurrences of one assessment kind inside a window.
	AssessmentKindCap = 2

	// AssessmentsPerUnit is the number of assessment kinds every unit receives.
	AssessmentsPerUnit = 2

	// DefaultRecentUnits is the default reinforcement look-back in units.
	DefaultRecentUnits = 3
)

// TaughtWord is a headword taught before the target unit.
type TaughtWord struct {
	// Headword is the normalized headword.
	Headword string `json:"headword"`

	// Distance is the position distance to the nearest unit teaching the word (1 = immediately preceding).
	Distance int `json:"distance"`

	// UnitID is the unit at that distance.
	UnitID string `json:"unit_id"`
}

// ContextBundle is the aggregated history of a unit. It is computed fresh per request
// and never cached.
type ContextBundle struct {
	// UnitID is the target unit.
	UnitID string `json:"unit_id"`

	// BookID is the book of the target unit.
	BookID string `json:"book_id"`

	// Type is the unit type of the target.
	Type UnitType `json:"unit_type"`

	// Family is the strategy family matching Type.
	Family StrategyFamily `json:"family"`

	// Scope is the aggregation scope the bundle was built with.
	Scope Scope `json:"scope"`

	// ProgressionLevel is the CEFR level of the target book.
	ProgressionLevel CEFRLevel `json:"progression_level"`

	// Position is the number of preceding positions considered, archived ones included.
	Position int `json:"position"`

	// RecentUnits is the reinforcement look-back used to mark recent words.
	RecentUnits int `json:"recent_units"`

	// TaughtVocabulary is sorted by headword.
	TaughtVocabulary []TaughtWord `json:"taught_vocabulary"`

	// StrategyHistogram counts strategy kinds of the target family over preceding units.
	StrategyHistogram map[StrategyKind]int `json:"strategy_histogram"`

	// StrategyUnitsSeen is the number of preceding same-family units holding a strategy.
	StrategyUnitsSeen int `json:"strategy_units_seen"`

	// AssessmentHistogram counts assessment kinds over the trailing same-book window.
	AssessmentHistogram map[AssessmentKind]int `json:"assessment_histogram"`

	// AssessmentWindowPeaks is, per kind, the highest count found in any full window
	// of the book that contains the target, excluding the target itself.
	AssessmentWindowPeaks map[AssessmentKind]int `json:"assessment_window_peaks"`
}

// RecentVocabulary returns the taught words within the reinforcement look-back.
func (b *ContextBundle) RecentVocabulary() []TaughtWord {
	var recent []TaughtWord
	for _, w := range b.TaughtVocabulary {
		if w.Distance <= b.RecentUnits {
			recent = append(recent, w)
		}
	}
	return recent
}

// Fingerprint returns a stable hash of the bundle contents.
func (b *ContextBundle) Fingerprint() string {
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContextAggregator computes context bundles from hierarchy snapshots.
// It performs no I/O; callers supply the lineage.
type ContextAggregator struct {
	recentUnits int
}

// NewContextAggregator creates an aggregator with the given reinforcement look-back (1-3 units).
func NewContextAggregator(recentUnits int) *ContextAggregator {
	if recentUnits < 1 || recentUnits > 3 {
		recentUnits = DefaultRecentUnits
	}
	return &ContextAggregator{recentUnits: recentUnits}
}

// Aggregate builds the context bundle for the lineage target.
// Repeated calls with an identical lineage return identical bundles.
func (a *ContextAggregator) Aggregate(lineage *Lineage, scope Scope) (*ContextBundle, error) {
	if lineage == nil {
		return nil, NewValidationError("lineage is nil")
	}
	target := lineage.Target
	if err := target.Type.Validate(); err != nil {
		return nil, NewValidationError(err.Error()).WithResource(target.ID)
	}

	preceding := sortedSummaries(lineage.Preceding)
	following := sortedSummaries(lineage.Following)
	family := target.Type.StrategyFamily()

	bundle := &ContextBundle{
		UnitID:                target.ID,
		BookID:                target.BookID,
		Type:                  target.Type,
		Family:                family,
		Scope:                 scope,
		ProgressionLevel:      lineage.Book.Level,
		Position:              len(preceding),
		RecentUnits:           a.recentUnits,
		TaughtVocabulary:      []TaughtWord{},
		StrategyHistogram:     make(map[StrategyKind]int),
		AssessmentHistogram:   make(map[AssessmentKind]int),
		AssessmentWindowPeaks: make(map[AssessmentKind]int),
	}
	for _, k := range StrategyKinds(family) {
		bundle.StrategyHistogram[k] = 0
	}
	for _, k := range AssessmentKinds() {
		bundle.AssessmentHistogram[k] = 0
		bundle.AssessmentWindowPeaks[k] = 0
	}

	taught := make(map[string]TaughtWord)
	for i, u := range preceding {
		if u.ID == target.ID {
			return nil, NewValidationError(fmt.Sprintf("unit %s listed among its own predecessors", u.ID))
		}
		if u.Archived {
			continue
		}
		distance := len(preceding) - i
		for _, item := range u.Vocabulary {
			hw := NormalizeHeadword(item.Headword)
			if hw == "" {
				continue
			}
			if prev, ok := taught[hw]; !ok || distance < prev.Distance {
				taught[hw] = TaughtWord{Headword: hw, Distance: distance, UnitID: u.ID}
			}
		}
		if u.Strategy != nil && u.Strategy.Kind.Family() == family {
			bundle.StrategyHistogram[u.Strategy.Kind]++
			bundle.StrategyUnitsSeen++
		}
	}
	for _, w := range taught {
		bundle.TaughtVocabulary = append(bundle.TaughtVocabulary, w)
	}
	sort.Slice(bundle.TaughtVocabulary, func(i, j int) bool {
		return bundle.TaughtVocabulary[i].Headword < bundle.TaughtVocabulary[j].Headword
	})

	// Assessment counts are keyed by sequence index within the target book.
	bySeq := make(map[int][]AssessmentKind)
	collect := func(units []UnitSummary) {
		for _, u := range units {
			if u.BookID != target.BookID || u.Archived || u.ID == target.ID {
				continue
			}
			bySeq[u.Sequence] = append(bySeq[u.Sequence], assessmentKinds(u.Assessments)...)
		}
	}
	collect(preceding)
	collect(following)

	trailing := AssessmentWindowSize - 1
	for seq := target.Sequence - trailing; seq < target.Sequence; seq++ {
		for _, k := range bySeq[seq] {
			bundle.AssessmentHistogram[k]++
		}
	}

	for start := target.Sequence - trailing; start <= target.Sequence; start++ {
		counts := make(map[AssessmentKind]int)
		for seq := start; seq < start+AssessmentWindowSize; seq++ {
			if seq == target.Sequence {
				continue
			}
			for _, k := range bySeq[seq] {
				counts[k]++
			}
		}
		for k, n := range counts {
			if n > bundle.AssessmentWindowPeaks[k] {
				bundle.AssessmentWindowPeaks[k] = n
			}
		}
	}

	return bundle, nil
}

// assessmentKinds returns the distinct kinds of a unit's assessments.
func assessmentKinds(records []AssessmentRecord) []AssessmentKind {
	seen := make(map[AssessmentKind]bool, len(records))
	kinds := make([]AssessmentKind, 0, len(records))
	for _, r := range records {
		if r.Kind.Validate() != nil || seen[r.Kind] {
			continue
		}
		seen[r.Kind] = true
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

// sortedSummaries returns a copy ordered by (book sequence, unit sequence).
func sortedSummaries(in []UnitSummary) []UnitSummary {
	out := make([]UnitSummary, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BookSequence != out[j].BookSequence {
			return out[i].BookSequence < out[j].BookSequence
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}
