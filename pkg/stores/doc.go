// Package stores provides the hierarchy persistence layer for unitforge.
// It includes an in-memory arena store and a SQLite store with WAL mode,
// embedded migrations and compare-and-set unit commits. Both implement
// the engine's HierarchyAccessor, so the orchestrator never sees storage details.
package stores
