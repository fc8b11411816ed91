// Package generators provides the content generators the orchestrator calls for
// each unit slot.
//
// OpenAI talks to an OpenAI compatible chat completion endpoint and asks for a
// JSON object. Scripted runs a Starlark generate(request) function, which is
// useful for offline fixtures and deterministic course builds.
//
// Both decode their output through Schemas, which checks the reply against the
// embedded per-slot JSON Schema. A reply that fails the schema is returned as a
// constraint violation carrying the schema problems, so the orchestrator retries
// with that feedback.
package generators
