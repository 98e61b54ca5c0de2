// Package patch merges generated output into a workspace that may have been
// edited by hand.
//
// generate writes a Plan: write and delete instructions whose base and incoming
// contents are stored as snapshot files under base/ and incoming/. apply
// compares each instruction against the current workspace contents with
// Classify and produces a Manifest of applied, conflict and skipped records.
// Session wraps one apply invocation: preview, confirmation, transactional
// application, and exactly one apply log entry per run.
package patch
