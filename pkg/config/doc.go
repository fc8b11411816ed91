// Package config loads the unitforge service configuration and imports curriculum
// definitions written in CUE.
//
// # Service Configuration
//
// The service reads one YAML file (unitforge.yaml by default). Missing keys keep
// their defaults and the result is checked with validator struct tags:
//
//	data_dir: ./data
//	database:
//	  path: unitforge.db
//	generation:
//	  timeout: 60s
//	  max_attempts: 2
//	  reinforcement_ratio: 0.10
//	  recent_units: 3
//	  rate_limit_per_second: 1
//	policy:
//	  paths: [./policies]
//	  watch: true
//	generator:
//	  kind: openai
//	  model: gpt-4o-mini
//	  api_key_env: OPENAI_API_KEY
//
// GenerationConfig.ToOrchestratorConfig maps the generation section onto the
// engine, and Limiter builds the generator rate limiter.
//
// # Curriculum Import
//
// A curriculum file declares a course with its books and units:
//
//	course: {
//		title: "English for Travellers"
//		levels: ["A1", "A2"]
//		methodology: "communicative"
//	}
//	books: [{
//		title: "Getting Around"
//		level: "A1"
//		units: [{title: "At the station", unit_type: "lexical", images: [{uri: "img/station.png"}]}]
//	}]
//
// CUEParser unifies the sources with the built-in #Curriculum schema, decodes the
// result and applies the rules CUE does not express (level order, book levels,
// image counts). Problems are collected with their file positions in
// ParsedCurriculum.Errors. Import then creates the records through the store in
// declaration order; units whose images are all listed leave creating on import.
package config
