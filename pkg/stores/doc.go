// Package stores persists wpk run history in a local SQLite database,
// by default .wpk/state.db.
//
// The database holds three tables, created by the embedded migrations:
//
//	runs       one row per generation run (pending, completed, failed)
//	apply_log  a mirror of every apply log entry
//	audit      one row per state transition
//
// HistoryExtension records runs from a pipeline hook; the store also
// implements patch.EntrySink so the apply command can mirror its log.
// The JSON-lines apply log stays the source of truth; the database is an
// index over it.
package stores
