// Package workspace implements the transactional file-system facade shared by
// pipeline builders and the patch applier.
//
// Writes inside Begin/Commit are staged in memory and become durable only when
// the outermost transaction commits. Rollback discards them. DryRun runs a
// function against a transaction that is always rolled back and returns the
// manifest of paths it would have touched.
package workspace
