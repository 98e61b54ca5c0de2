// Package ir builds the intermediate representation of a wpk project.
//
// The IR is assembled by fragment helpers running on the engine pipeline:
//
//	ir.meta          namespace and source file
//	ir.schemas       file and inline JSON schemas
//	ir.resources     resources and routes, deriving schemas where none is named
//	ir.capabilities  capability map, merged across resources
//	ir.blocks        blocks declared by resources
//	ir.scripts       Starlark annotation scripts
//	ir.validate      cross-reference checks
//
// Fragments write into a Draft. Finalize turns the draft into an IR whose
// collections are sorted by key, so two runs over the same configuration
// produce identical builder output.
package ir
