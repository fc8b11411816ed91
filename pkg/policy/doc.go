// Package policy provides Open Policy Agent (OPA) content policies for unitforge.
//
// Policies are Rego modules evaluated against every generated or edited artifact
// after the structural constraint checks pass. A module defines a deny set in its
// package; each element is either a message string or an object with a message
// and an optional severity. Error severity rejects the artifact and the generator
// is asked again with the messages as feedback. Warnings are reported only.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	orch := engine.NewOrchestrator(store, gen, cfg, engine.WithContentPolicy(eng))
//
// # Built-in Policies
//
//  1. vocabulary-ipa - every headword carries a delimited IPA transcription
//  2. sentence-length - example sentences stay under the word limit of the level
//  3. qa-completeness - QA items have a question and an answer
//  4. assessment-items - assessments carry items; empty prompts warn
//
// Built-ins can be disabled but not shadowed by a loaded policy of the same name.
//
// # Custom Policies
//
// A .rego file is named after its file. Leading comments become the description;
// "severity:" and "slots:" comment lines set those fields:
//
//	# Example sentences avoid slang.
//	# severity: error
//	# slots: sentences
//	package custom.no_slang
//
//	import rego.v1
//
//	deny contains msg if {
//	    some s in input.artifact.sentences
//	    contains(lower(s.text), "gonna")
//	    msg := sprintf("sentence uses slang: %s", [s.text])
//	}
//
// The input document carries unit_id, level, unit_type, slot and the artifact in
// its JSON form. JSON files holding a serialized Policy are accepted too.
//
// # Hot Reload
//
// Watch reloads every file policy when a .rego or .json file under the watched
// paths changes. Bursts of events are debounced and a reload that fails to compile
// leaves the previous set in place.
package policy
