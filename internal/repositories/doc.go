// Package repositories implements SQLite persistence for the music library.
//
// [LibraryStore] is the single local store. Every primitive is serialized behind one writer mutex and
// mutations accumulate in a lazily opened unit-of-work transaction; reads made while that transaction
// is open observe its writes. Operations that are documented to commit close the unit of work.
//
// Tags are keyed by name. [LibraryStore.UpsertTag] is the one find-or-create-by-name primitive and every
// tag write (analysis results, remote hydration, user edits) is routed through it.
//
// Sequence numbers provide stable insertion ordering for songs independent of their external ids.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
