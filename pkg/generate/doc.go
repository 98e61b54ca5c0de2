// Package generate runs the wpk generation pipeline over a workspace.
//
// A run loads the project configuration, builds the IR with the core
// fragments, and lets the builders stage generated files and the patch plan.
// Every write goes through the "generate" workspace transaction, opened by
// TransactionExtension when the extension hooks fire and committed once all
// builders succeed. A failing builder or hook rolls it back, so a failed run
// leaves the workspace untouched.
//
// With Options.DryRun the whole run happens inside workspace.DryRun and the
// summary lists every path as skipped with reason "dry-run".
package generate
