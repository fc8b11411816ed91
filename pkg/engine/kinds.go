package engine

import "fmt"

// CEFRLevel is a Common European Framework of Reference proficiency level.
type CEFRLevel string

const (
	LevelA1 CEFRLevel = "A1"
	LevelA2 CEFRLevel = "A2"
	LevelB1 CEFRLevel = "B1"
	LevelB2 CEFRLevel = "B2"
	LevelC1 CEFRLevel = "C1"
	LevelC2 CEFRLevel = "C2"
)

// Rank returns the ordinal of the level (A1=1 .. C2=6), or 0 if unknown.
func (l CEFRLevel) Rank() int {
	switch l {
	case LevelA1:
		return 1
	case LevelA2:
		return 2
	case LevelB1:
		return 3
	case LevelB2:
		return 4
	case LevelC1:
		return 5
	case LevelC2:
		return 6
	default:
		return 0
	}
}

// Validate checks if the level is a known CEFR level.
func (l CEFRLevel) Validate() error {
	if l.Rank() == 0 {
		return fmt.Errorf("invalid CEFR level: %q", l)
	}
	return nil
}

// UnitType selects the strategy family of a unit.
type UnitType string

const (
	UnitTypeLexical UnitType = "lexical"
	UnitTypeGrammar UnitType = "grammar"
)

// Validate checks if the unit type is valid.
func (t UnitType) Validate() error {
	switch t {
	case UnitTypeLexical, UnitTypeGrammar:
		return nil
	default:
		return fmt.Errorf("invalid unit type: %q", t)
	}
}

// StrategyFamily returns the strategy family matching the unit type.
func (t UnitType) StrategyFamily() StrategyFamily {
	if t == UnitTypeGrammar {
		return FamilyGrammar
	}
	return FamilyTips
}

// StrategyFamily groups the strategy kinds available to a unit type.
type StrategyFamily string

const (
	FamilyTips    StrategyFamily = "tips"
	FamilyGrammar StrategyFamily = "grammar"
)

// StrategyKind is a closed set of teaching strategies.
type StrategyKind string

const (
	// TIPS family, lexical units only.
	TipsAssociation   StrategyKind = "tips_association"
	TipsCollocation   StrategyKind = "tips_collocation"
	TipsContextClues  StrategyKind = "tips_context_clues"
	TipsVisualization StrategyKind = "tips_visualization"
	TipsWordFormation StrategyKind = "tips_word_formation"
	TipsSpacedRecall  StrategyKind = "tips_spaced_recall"

	// GRAMMAR family, grammar units only.
	GrammarDeductive StrategyKind = "grammar_deductive"
	GrammarInductive StrategyKind = "grammar_inductive"
)

// StrategyKinds returns the kinds of a family in ascending identifier order.
func StrategyKinds(f StrategyFamily) []StrategyKind {
	switch f {
	case FamilyTips:
		return []StrategyKind{
			TipsAssociation,
			TipsCollocation,
			TipsContextClues,
			TipsVisualization,
			TipsWordFormation,
			TipsSpacedRecall,
		}
	case FamilyGrammar:
		return []StrategyKind{GrammarDeductive, GrammarInductive}
	default:
		return nil
	}
}

// ID returns the kind identifier used for deterministic tie-breaking.
func (k StrategyKind) ID() int {
	switch k {
	case TipsAssociation:
		return 1
	case TipsCollocation:
		return 2
	case TipsContextClues:
		return 3
	case TipsVisualization:
		return 4
	case TipsWordFormation:
		return 5
	case TipsSpacedRecall:
		return 6
	case GrammarDeductive:
		return 1
	case GrammarInductive:
		return 2
	default:
		return 0
	}
}

// Family returns the family the kind belongs to.
func (k StrategyKind) Family() StrategyFamily {
	switch k {
	case TipsAssociation, TipsCollocation, TipsContextClues,
		TipsVisualization, TipsWordFormation, TipsSpacedRecall:
		return FamilyTips
	case GrammarDeductive, GrammarInductive:
		return FamilyGrammar
	default:
		return ""
	}
}

// Validate checks if the strategy kind is valid.
func (k StrategyKind) Validate() error {
	if k.Family() == "" {
		return fmt.Errorf("invalid strategy kind: %q", k)
	}
	return nil
}

// AssessmentKind is a closed set of assessment formats.
type AssessmentKind string

const (
	AssessmentMultipleChoice   AssessmentKind = "multiple_choice"
	AssessmentClozeTest        AssessmentKind = "cloze_test"
	AssessmentMatching         AssessmentKind = "matching"
	AssessmentTrueFalse        AssessmentKind = "true_false"
	AssessmentSentenceOrdering AssessmentKind = "sentence_ordering"
	AssessmentErrorCorrection  AssessmentKind = "error_correction"
	AssessmentShortAnswer      AssessmentKind = "short_answer"
)

// AssessmentKinds returns all assessment kinds in ascending identifier order.
func AssessmentKinds() []AssessmentKind {
	return []AssessmentKind{
		AssessmentMultipleChoice,
		AssessmentClozeTest,
		AssessmentMatching,
		AssessmentTrueFalse,
		AssessmentSentenceOrdering,
		AssessmentErrorCorrection,
		AssessmentShortAnswer,
	}
}

// ID returns the kind identifier used for deterministic tie-breaking.
func (k AssessmentKind) ID() int {
	switch k {
	case AssessmentMultipleChoice:
		return 1
	case AssessmentClozeTest:
		return 2
	case AssessmentMatching:
		return 3
	case AssessmentTrueFalse:
		return 4
	case AssessmentSentenceOrdering:
		return 5
	case AssessmentErrorCorrection:
		return 6
	case AssessmentShortAnswer:
		return 7
	default:
		return 0
	}
}

// Validate checks if the assessment kind is valid.
func (k AssessmentKind) Validate() error {
	if k.ID() == 0 {
		return fmt.Errorf("invalid assessment kind: %q", k)
	}
	return nil
}
