// Package engine provides the helper scheduler and pipeline runner behind wpk generate.
//
// # Overview
//
// A pipeline runs two ordered phases over a per-run context:
//
//  1. Fragments - helpers that mutate a fresh draft of the IR
//  2. Finalize - the draft becomes the artifact
//  3. Extension hooks - invoked with the artifact, returning commit/rollback callbacks
//  4. Builders - helpers that write generated output through the artifact
//  5. Commit or rollback - commit when every builder succeeded, rollback otherwise
//
// Within a phase helpers run one at a time in dependency order. Fragments finish
// before any builder starts.
//
// # Dependency Resolution
//
// ResolveHelpers orders one kind of helper with a stable topological sort. A
// dependency naming no registered helper is recorded as a missing-dependency
// diagnostic and the run fails with one aggregated error:
//
//	Helpers depend on unknown helpers: "builder.php" → ["ir.routes"]
//
// Cycles are fatal. Diagnostics are reported to the run reporter on every Run,
// then kept in the RunResult.
//
// # Settled and Deferred Steps
//
// Helpers return a Maybe. A settled Maybe completes synchronously; Async starts a
// goroutine. Run only becomes deferred when some step was deferred:
//
//	run := pipeline.Run(ctx, input)
//	if !run.Deferred() {
//	    result, err := run.Await(ctx) // never blocks
//	}
//
// # Errors
//
// KernelError classifies failures as validation, developer, environmental or
// unexpected. ExitCodeFor maps them to the exit codes of the command layer.
package engine
