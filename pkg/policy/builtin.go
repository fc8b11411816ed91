package policy

import (
	"github.com/openfroyo/unitforge/pkg/engine"
)

// GetBuiltinPolicies returns all built-in content policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		vocabularyIPAPolicy(),
		sentenceLengthPolicy(),
		qaCompletenessPolicy(),
		assessmentItemsPolicy(),
	}
}

// vocabularyIPAPolicy requires a delimited IPA transcription for every headword.
func vocabularyIPAPolicy() Policy {
	return Policy{
		Name:        "vocabulary-ipa",
		Description: "Every vocabulary item carries an IPA transcription in /slashes/ or [brackets]",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Slots:       []engine.SlotKind{engine.SlotVocabulary},
		Rego: `package unitforge.policies.vocabulary_ipa

import rego.v1

deny contains violation if {
	some item in input.artifact.vocabulary
	trim_space(object.get(item, "ipa", "")) == ""
	violation := {
		"message": sprintf("headword '%s' has no IPA transcription", [item.headword]),
		"severity": "error",
	}
}

deny contains violation if {
	some item in input.artifact.vocabulary
	ipa := trim_space(object.get(item, "ipa", ""))
	ipa != ""
	not regex.match(` + "`" + `^(/[^/]+/|\[[^\]]+\])$` + "`" + `, ipa)
	violation := {
		"message": sprintf("IPA '%s' of headword '%s' must be wrapped in slashes or brackets", [ipa, item.headword]),
		"severity": "error",
	}
}
`,
	}
}

// sentenceLengthPolicy caps sentence length by CEFR level.
func sentenceLengthPolicy() Policy {
	return Policy{
		Name:        "sentence-length",
		Description: "Example sentences stay within the word limit of the book level",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Slots:       []engine.SlotKind{engine.SlotSentences},
		Rego: `package unitforge.policies.sentence_length

import rego.v1

max_words := {"A1": 10, "A2": 14, "B1": 18, "B2": 24, "C1": 30, "C2": 40}

deny contains violation if {
	limit := max_words[input.level]
	some i, sentence in input.artifact.sentences
	words := [w | some w in split(trim_space(sentence.text), " "); w != ""]
	count(words) > limit
	violation := {
		"message": sprintf("sentence %d has %d words, level %s allows %d", [i + 1, count(words), input.level, limit]),
		"severity": "error",
	}
}
`,
	}
}

// qaCompletenessPolicy requires both a question and an answer in every QA item.
func qaCompletenessPolicy() Policy {
	return Policy{
		Name:        "qa-completeness",
		Description: "Every QA item has a question and an answer",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Slots:       []engine.SlotKind{engine.SlotQA},
		Rego: `package unitforge.policies.qa_completeness

import rego.v1

deny contains violation if {
	some i, item in input.artifact.qa
	trim_space(object.get(item, "question", "")) == ""
	violation := sprintf("QA item %d has no question", [i + 1])
}

deny contains violation if {
	some i, item in input.artifact.qa
	trim_space(object.get(item, "answer", "")) == ""
	violation := sprintf("QA item %d has no answer", [i + 1])
}
`,
	}
}

// assessmentItemsPolicy requires at least one item per assessment.
func assessmentItemsPolicy() Policy {
	return Policy{
		Name:        "assessment-items",
		Description: "Every assessment carries at least one item with a prompt",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Slots:       []engine.SlotKind{engine.SlotAssessments},
		Rego: `package unitforge.policies.assessment_items

import rego.v1

has_items(assessment) if {
	is_array(assessment.items)
	count(assessment.items) > 0
}

deny contains violation if {
	some assessment in input.artifact.assessments
	not has_items(assessment)
	violation := sprintf("assessment %s has no items", [assessment.kind])
}

deny contains violation if {
	some assessment in input.artifact.assessments
	some j, item in assessment.items
	trim_space(object.get(item, "prompt", "")) == ""
	violation := {
		"message": sprintf("item %d of assessment %s has no prompt", [j + 1, assessment.kind]),
		"severity": "warning",
	}
}
`,
	}
}
