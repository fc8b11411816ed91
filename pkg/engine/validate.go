package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// NewConstraintViolationError reports an artifact that does not satisfy its constraints.
func NewConstraintViolationError(slot SlotKind, problems []string) *EngineError {
	msg := "artifact violates generation constraints"
	if len(problems) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(problems, "; "))
	}
	return &EngineError{
		Class:     ErrorClassTransient,
		Code:      ErrCodeConstraintViolation,
		Message:   msg,
		Operation: string(slot),
		Details:   map[string]interface{}{"problems": problems},
	}
}

// Problems returns the constraint problems carried by err, if any.
func Problems(err error) []string {
	var e *EngineError
	if !errors.As(err, &e) || e.Details == nil {
		return nil
	}
	p, _ := e.Details["problems"].([]string)
	return p
}

// ValidateArtifact checks a generated artifact against its constraints.
// It returns nil or a CONSTRAINT_VIOLATION error listing every problem found.
func ValidateArtifact(c *GenerationConstraints, a *Artifact) error {
	if c == nil || a == nil {
		return NewConstraintViolationError("", []string{"missing constraints or artifact"})
	}
	var problems []string
	if a.Slot != c.Slot {
		problems = append(problems, fmt.Sprintf("artifact slot %q, expected %q", a.Slot, c.Slot))
		return NewConstraintViolationError(c.Slot, problems)
	}

	switch c.Slot {
	case SlotVocabulary:
		problems = checkVocabulary(c, a.Vocabulary)
	case SlotSentences:
		problems = checkSentences(c, a.Sentences)
	case SlotStrategy:
		problems = checkStrategy(c.Family, c.EligibleStrategies, a.Strategy)
	case SlotAssessments:
		problems = checkAssessments(c.Assessments, a.Assessments)
	case SlotQA:
		problems = checkQA(c.QACount, a.QA)
	}

	if len(problems) > 0 {
		return NewConstraintViolationError(c.Slot, problems)
	}
	return nil
}

func checkVocabulary(c *GenerationConstraints, items []VocabularyItem) []string {
	var problems []string
	if len(items) != c.VocabularyCount {
		problems = append(problems, fmt.Sprintf("got %d vocabulary items, want %d", len(items), c.VocabularyCount))
	}
	forbidden := toSet(c.Forbidden)
	reinforcement := toSet(c.Reinforcement)
	seen := make(map[string]bool, len(items))
	reused := 0
	for _, item := range items {
		hw := NormalizeHeadword(item.Headword)
		switch {
		case hw == "":
			problems = append(problems, "vocabulary item with empty headword")
			continue
		case seen[hw]:
			problems = append(problems, fmt.Sprintf("duplicate headword %q", hw))
			continue
		}
		seen[hw] = true
		if forbidden[hw] {
			problems = append(problems, fmt.Sprintf("headword %q was already taught", hw))
		}
		if reinforcement[hw] {
			reused++
		}
	}
	if reused > c.ReinforcementBudget {
		problems = append(problems, fmt.Sprintf("%d reinforcement headwords exceed budget %d", reused, c.ReinforcementBudget))
	}
	return problems
}

func checkSentences(c *GenerationConstraints, sentences []Sentence) []string {
	var problems []string
	if len(sentences) != c.SentenceCount {
		problems = append(problems, fmt.Sprintf("got %d sentences, want %d", len(sentences), c.SentenceCount))
	}
	for i, s := range sentences {
		words := wordTokens(s.Text)
		if len(words) == 0 {
			problems = append(problems, fmt.Sprintf("sentence %d is empty", i+1))
			continue
		}
		if len(c.RequiredHeadwords) == 0 {
			continue
		}
		found := false
		for _, hw := range c.RequiredHeadwords {
			if usesHeadword(words, hw) {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("sentence %d uses no unit headword", i+1))
		}
	}
	return problems
}

// wordTokens splits text into lower-cased words.
func wordTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// usesHeadword reports whether the words of a headword appear as a contiguous run.
func usesHeadword(words []string, headword string) bool {
	hw := wordTokens(headword)
	if len(hw) == 0 {
		return false
	}
	for i := 0; i+len(hw) <= len(words); i++ {
		match := true
		for j := range hw {
			if words[i+j] != hw[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func checkStrategy(family StrategyFamily, eligible []StrategyKind, s *StrategyRecord) []string {
	if s == nil {
		return []string{"strategy missing"}
	}
	var problems []string
	if err := s.Kind.Validate(); err != nil {
		return []string{err.Error()}
	}
	if s.Kind.Family() != family {
		problems = append(problems, fmt.Sprintf("strategy %q is not a %s strategy", s.Kind, family))
	}
	if eligible != nil {
		ok := false
		for _, k := range eligible {
			if k == s.Kind {
				ok = true
				break
			}
		}
		if !ok {
			problems = append(problems, fmt.Sprintf("strategy %q is not eligible", s.Kind))
		}
	}
	if strings.TrimSpace(s.Body) == "" {
		problems = append(problems, "strategy body is empty")
	}
	return problems
}

func checkAssessments(want []AssessmentKind, got []AssessmentRecord) []string {
	var problems []string
	if len(got) != len(want) {
		problems = append(problems, fmt.Sprintf("got %d assessments, want %d", len(got), len(want)))
	}
	wanted := make(map[AssessmentKind]bool, len(want))
	for _, k := range want {
		wanted[k] = true
	}
	seen := make(map[AssessmentKind]bool, len(got))
	for _, a := range got {
		if seen[a.Kind] {
			problems = append(problems, fmt.Sprintf("duplicate assessment kind %q", a.Kind))
			continue
		}
		seen[a.Kind] = true
		if !wanted[a.Kind] {
			problems = append(problems, fmt.Sprintf("assessment kind %q was not selected", a.Kind))
		}
	}
	return problems
}

func checkQA(limit int, items []QAItem) []string {
	var problems []string
	if len(items) == 0 {
		return []string{"no question/answer pairs"}
	}
	if limit > 0 && len(items) > limit {
		problems = append(problems, fmt.Sprintf("got %d question/answer pairs, at most %d allowed", len(items), limit))
	}
	for i, qa := range items {
		if strings.TrimSpace(qa.Question) == "" || strings.TrimSpace(qa.Answer) == "" {
			problems = append(problems, fmt.Sprintf("question/answer pair %d is incomplete", i+1))
		}
	}
	return problems
}

// ValidateEdit checks a manually supplied artifact for structural soundness.
// Edits are not bound to balancing preferences, only to the hard invariants.
func ValidateEdit(bundle *ContextBundle, a *Artifact) error {
	if a == nil {
		return NewValidationError("artifact is nil")
	}
	if err := a.Slot.Validate(); err != nil {
		return NewValidationError(err.Error())
	}
	var problems []string
	switch a.Slot {
	case SlotVocabulary:
		if len(a.Vocabulary) == 0 {
			problems = append(problems, "vocabulary is empty")
		}
		taught := make(map[string]int, len(bundle.TaughtVocabulary))
		for _, w := range bundle.TaughtVocabulary {
			taught[w.Headword] = w.Distance
		}
		seen := make(map[string]bool)
		recent := 0
		for _, item := range a.Vocabulary {
			hw := NormalizeHeadword(item.Headword)
			if hw == "" {
				problems = append(problems, "vocabulary item with empty headword")
				continue
			}
			if seen[hw] {
				problems = append(problems, fmt.Sprintf("duplicate headword %q", hw))
			}
			seen[hw] = true
			distance, ok := taught[hw]
			switch {
			case !ok:
			case distance > bundle.RecentUnits:
				problems = append(problems, fmt.Sprintf("headword %q was taught %d units earlier", hw, distance))
			default:
				recent++
			}
		}
		if limit := int(math.Floor(float64(len(a.Vocabulary)) * MaxReinforcementRatio)); recent > limit {
			problems = append(problems, fmt.Sprintf("%d reinforcement headwords exceed the limit of %d", recent, limit))
		}
	case SlotSentences:
		if len(a.Sentences) == 0 {
			problems = append(problems, "sentences are empty")
		}
	case SlotStrategy:
		problems = checkStrategy(bundle.Family, nil, a.Strategy)
	case SlotAssessments:
		if len(a.Assessments) == 0 || len(a.Assessments) > AssessmentsPerUnit {
			problems = append(problems, fmt.Sprintf("a unit holds 1 to %d assessments, got %d",
				AssessmentsPerUnit, len(a.Assessments)))
		}
		seen := make(map[AssessmentKind]bool)
		for _, r := range a.Assessments {
			if err := r.Kind.Validate(); err != nil {
				problems = append(problems, err.Error())
				continue
			}
			if seen[r.Kind] {
				problems = append(problems, fmt.Sprintf("duplicate assessment kind %q", r.Kind))
			}
			seen[r.Kind] = true
			if bundle.AssessmentWindowPeaks[r.Kind] >= AssessmentKindCap {
				problems = append(problems, fmt.Sprintf("assessment kind %q would exceed %d per %d units",
					r.Kind, AssessmentKindCap, AssessmentWindowSize))
			}
		}
	case SlotQA:
		problems = checkQA(0, a.QA)
	}
	if len(problems) > 0 {
		return NewValidationError(strings.Join(problems, "; ")).
			WithOperation(string(a.Slot)).
			WithDetail("problems", problems)
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
