package engine

import (
	"strings"
	"testing"
)

func vocabulary(words ...string) []VocabularyItem {
	items := make([]VocabularyItem, 0, len(words))
	for _, w := range words {
		items = append(items, VocabularyItem{Headword: w, IPA: "/x/"})
	}
	return items
}

func TestValidateArtifactVocabulary(t *testing.T) {
	c := &GenerationConstraints{
		Slot:                SlotVocabulary,
		VocabularyCount:     3,
		Forbidden:           []string{"apple"},
		Reinforcement:       []string{"bread", "cheese"},
		ReinforcementBudget: 1,
	}

	tests := []struct {
		name    string
		words   []string
		problem string
	}{
		{"valid", []string{"gate", "bread", "ticket"}, ""},
		{"wrong count", []string{"gate", "ticket"}, "want 3"},
		{"forbidden", []string{"gate", "Apple", "ticket"}, "already taught"},
		{"over budget", []string{"gate", "bread", "cheese"}, "exceed budget"},
		{"duplicate", []string{"gate", "GATE ", "ticket"}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArtifact(c, &Artifact{Slot: SlotVocabulary, Vocabulary: vocabulary(tt.words...)})
			if tt.problem == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !IsConstraintViolation(err) {
				t.Fatalf("expected constraint violation, got %v", err)
			}
			if !strings.Contains(strings.Join(Problems(err), "; "), tt.problem) {
				t.Errorf("expected problem containing %q, got %v", tt.problem, Problems(err))
			}
		})
	}
}

func TestValidateArtifactSentences(t *testing.T) {
	c := &GenerationConstraints{Slot: SlotSentences, SentenceCount: 2, RequiredHeadwords: []string{"gate", "ticket"}}
	ok := &Artifact{Slot: SlotSentences, Sentences: []Sentence{
		{Text: "Go to the Gate."},
		{Text: "Show your ticket."},
	}}
	if err := ValidateArtifact(c, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := &Artifact{Slot: SlotSentences, Sentences: []Sentence{
		{Text: "Go to the gate."},
		{Text: "The weather is nice."},
	}}
	if err := ValidateArtifact(c, bad); !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestValidateArtifactSentencesMatchWholeWords(t *testing.T) {
	tests := []struct {
		name      string
		headwords []string
		text      string
		ok        bool
	}{
		{"exact", []string{"cat"}, "The cat sleeps.", true},
		{"punctuation", []string{"cat"}, "Is that your cat?", true},
		{"case", []string{"cat"}, "Cat food is here.", true},
		{"substring", []string{"cat"}, "Pick a category.", false},
		{"prefix", []string{"art"}, "We start at nine.", false},
		{"multi-word", []string{"bus stop"}, "Wait at the bus stop.", true},
		{"multi-word split", []string{"bus stop"}, "The bus will stop soon.", false},
		{"hyphenated", []string{"check-in"}, "The check-in desk is open.", true},
		{"accented", []string{"café"}, "Meet me at the café.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &GenerationConstraints{Slot: SlotSentences, SentenceCount: 1, RequiredHeadwords: tt.headwords}
			err := ValidateArtifact(c, &Artifact{Slot: SlotSentences, Sentences: []Sentence{{Text: tt.text}}})
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !IsConstraintViolation(err) {
				t.Errorf("expected constraint violation, got %v", err)
			}
		})
	}
}

func TestValidateArtifactStrategy(t *testing.T) {
	c := &GenerationConstraints{
		Slot:               SlotStrategy,
		Family:             FamilyTips,
		EligibleStrategies: []StrategyKind{TipsContextClues, TipsVisualization},
	}
	tests := []struct {
		name     string
		strategy *StrategyRecord
		wantErr  bool
	}{
		{"eligible", &StrategyRecord{Kind: TipsVisualization, Body: "Picture it."}, false},
		{"ineligible", &StrategyRecord{Kind: TipsAssociation, Body: "Link it."}, true},
		{"wrong family", &StrategyRecord{Kind: GrammarDeductive, Body: "Rule first."}, true},
		{"empty body", &StrategyRecord{Kind: TipsContextClues}, true},
		{"missing", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArtifact(c, &Artifact{Slot: SlotStrategy, Strategy: tt.strategy})
			if tt.wantErr != (err != nil) {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateArtifactAssessments(t *testing.T) {
	c := &GenerationConstraints{
		Slot:        SlotAssessments,
		Assessments: []AssessmentKind{AssessmentMatching, AssessmentTrueFalse},
	}
	ok := &Artifact{Slot: SlotAssessments, Assessments: []AssessmentRecord{
		{Kind: AssessmentTrueFalse}, {Kind: AssessmentMatching},
	}}
	if err := ValidateArtifact(c, ok); err != nil {
		t.Fatalf("order should not matter: %v", err)
	}

	for _, got := range [][]AssessmentRecord{
		{{Kind: AssessmentMatching}},
		{{Kind: AssessmentMatching}, {Kind: AssessmentClozeTest}},
		{{Kind: AssessmentMatching}, {Kind: AssessmentMatching}},
	} {
		if err := ValidateArtifact(c, &Artifact{Slot: SlotAssessments, Assessments: got}); !IsConstraintViolation(err) {
			t.Errorf("expected constraint violation for %v, got %v", got, err)
		}
	}
}

func TestValidateArtifactQA(t *testing.T) {
	c := &GenerationConstraints{Slot: SlotQA, QACount: 2}
	if err := ValidateArtifact(c, &Artifact{Slot: SlotQA, QA: []QAItem{{Question: "Where?", Answer: "Gate 4"}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tooMany := []QAItem{{"a", "b"}, {"c", "d"}, {"e", "f"}}
	if err := ValidateArtifact(c, &Artifact{Slot: SlotQA, QA: tooMany}); !IsConstraintViolation(err) {
		t.Errorf("expected constraint violation, got %v", err)
	}
	if err := ValidateArtifact(c, &Artifact{Slot: SlotQA}); !IsConstraintViolation(err) {
		t.Errorf("expected constraint violation for empty QA, got %v", err)
	}
}

func TestValidateArtifactSlotMismatch(t *testing.T) {
	c := &GenerationConstraints{Slot: SlotVocabulary, VocabularyCount: 1}
	err := ValidateArtifact(c, &Artifact{Slot: SlotSentences})
	if !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("constraint violations should be retryable")
	}
}

func TestValidateEdit(t *testing.T) {
	bundle := emptyBundle(UnitTypeLexical)
	bundle.AssessmentWindowPeaks[AssessmentClozeTest] = 2

	if err := ValidateEdit(bundle, &Artifact{Slot: SlotVocabulary, Vocabulary: vocabulary("gate", "ticket")}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEdit(bundle, &Artifact{Slot: SlotVocabulary, Vocabulary: vocabulary("gate", "Gate")}); CodeOf(err) != ErrCodeValidation {
		t.Errorf("expected validation error for duplicates, got %v", err)
	}
	if err := ValidateEdit(bundle, &Artifact{Slot: SlotStrategy, Strategy: &StrategyRecord{Kind: GrammarInductive, Body: "x"}}); CodeOf(err) != ErrCodeValidation {
		t.Errorf("expected validation error for wrong family, got %v", err)
	}
	capped := &Artifact{Slot: SlotAssessments, Assessments: []AssessmentRecord{{Kind: AssessmentClozeTest}}}
	if err := ValidateEdit(bundle, capped); CodeOf(err) != ErrCodeValidation {
		t.Errorf("expected validation error for capped kind, got %v", err)
	}
	if err := ValidateEdit(bundle, &Artifact{Slot: SlotKind("audio")}); CodeOf(err) != ErrCodeValidation {
		t.Errorf("expected validation error for unknown slot, got %v", err)
	}
}

func TestValidateEditVocabularyHistory(t *testing.T) {
	bundle := emptyBundle(UnitTypeLexical)
	bundle.TaughtVocabulary = []TaughtWord{
		{Headword: "apple", Distance: 4, UnitID: "u-old"},
		{Headword: "gate", Distance: 1, UnitID: "u-prev"},
		{Headword: "ticket", Distance: 3, UnitID: "u-recent"},
	}

	fresh := []string{"bag", "bus", "coat", "desk", "door", "key", "map", "seat"}
	tests := []struct {
		name    string
		words   []string
		problem string
	}{
		{"all new", fresh[:2], ""},
		{"one recent in ten", append([]string{"gate", "taxi"}, fresh...), ""},
		{"not recent", []string{"Apple", "bag"}, "taught 4 units earlier"},
		{"recent over limit", append([]string{"gate", "ticket"}, fresh...), "exceed the limit of 1"},
		{"recent in short list", []string{"gate", "bag"}, "exceed the limit of 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEdit(bundle, &Artifact{Slot: SlotVocabulary, Vocabulary: vocabulary(tt.words...)})
			if tt.problem == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if CodeOf(err) != ErrCodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("expected problem containing %q, got %v", tt.problem, err)
			}
		})
	}
}
