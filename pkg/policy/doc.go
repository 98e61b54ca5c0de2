// Package policy evaluates Rego deny rules against the IR of a generation run.
//
// Every policy is a Rego module whose package defines a deny set:
//
//	package acme.routes
//
//	import rego.v1
//
//	deny contains violation if {
//		some resource in input.resources
//		resource.name == "legacy"
//		violation := {"message": "legacy resources are frozen", "severity": "error"}
//	}
//
// Entries may be plain strings or objects with message, severity and
// resource. Entries without a severity take the policy's default: error for
// workspace files, per policy for the built-ins. Error and critical entries
// make the policy extension fail the run; the rest are reported as warnings.
//
// The built-in policies are route-namespace, guarded-writes and
// resource-naming. Workspace policies are read from policies/ unless the
// configuration names other paths.
package policy
