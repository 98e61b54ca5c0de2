// Package builders turns a finalized IR into files.
//
// Files owned by the tool (the IR snapshot, TypeScript descriptors, PHP base
// controllers, the capability map) are written under the generated root
// through the run's workspace transaction. Files the user is expected to edit
// (resource re-exports, controller classes, block metadata) are queued on the
// Output instead; builder.patch-plan stages them as a patch plan for apply.
package builders
