// Package config loads the declarative wpk project configuration.
//
// # Overview
//
// A project is configured by one file in the workspace root, looked up in
// this order:
//
//	wpk.config.cue
//	wpk.config.yaml / wpk.config.yml
//	wpk.config.json
//
// Every format is evaluated against the same CUE #Config definition, so
// unknown fields, bad enums and malformed slugs are rejected the same way.
// CUE and JSON sources compile as CUE directly; YAML is decoded first.
// The decoded Config is then checked with validator struct tags and a set of
// semantic rules (schema references, route methods, identity parameters,
// duplicate routes).
//
// # Configuration Structure
//
//	version:   1
//	namespace: "acme-jobs"
//
//	schemas: job: path: "schemas/job.schema.json"
//
//	resources: job: {
//	    schema: "job"
//	    identity: {type: "number", param: "id"}
//	    routes: {
//	        list: {path: "/acme-jobs/v1/jobs", method: "GET"}
//	        get:  {path: "/acme-jobs/v1/jobs/(?P<id>\\d+)", method: "GET"}
//	    }
//	    capabilities: "job.manage": "manage_options"
//	}
//
// # Error Handling
//
// Every problem carries its location where one is known:
//
//	ValidationError{
//	    File:    "wpk.config.cue",
//	    Line:    12,
//	    Column:  3,
//	    Path:    "resources.job.routes.get.method",
//	    Message: "get routes must use GET, got POST",
//	}
//
// Load reports all problems of a file in a single engine.KernelError of
// class validation, with the problems attached under the "problems" detail.
//
// JSONSchema exposes the same structure as a JSON schema for editors.
package config
