package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// configSchema constrains every configuration, whatever its source format.
// Definitions are closed, so unknown fields are rejected here.
const configSchema = `
#Slug: =~"^[a-z0-9]+(-[a-z0-9]+)*$"

#Config: {
	version:   1
	namespace: #Slug

	schemas?: [=~"^[a-z0-9]+(-[a-z0-9]+)*$"]: #Schema
	resources: [=~"^[a-z0-9]+(-[a-z0-9]+)*$"]: #Resource

	scripts?: [...#Script]
	policies?: #Policies
	telemetry?: #Telemetry
}

#Schema: {
	path?:        string
	inline?:      {...}
	description?: string
}

#Resource: {
	name?:   string
	schema?: string
	identity?: {
		type:   "number" | "string"
		param?: =~"^[A-Za-z0-9]+$"
	}
	routes: ["list" | "get" | "create" | "update" | "remove"]: #Route
	capabilities?: [string]: string
	block?: {
		title?: string
		mode?:  "js" | "ssr"
	}
}

#Route: {
	path:        =~"^/"
	method:      "GET" | "POST" | "PUT" | "PATCH" | "DELETE"
	capability?: string
}

#Script: {
	name: #Slug
	path: string
}

#Policies: {
	disabled?: bool
	paths?: [...string]
	builtins?: [...string]
}

#Telemetry: {
	logLevel?: "trace" | "debug" | "info" | "warn" | "error"
	tracing?: {
		exporter?: "otlp" | "stdout" | "none"
		endpoint?: string
	}
	metricsFile?: string
}
`

// compileSchema returns the #Config definition compiled in ctx.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(configSchema, cue.Filename("wpk.schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to look up #Config: %w", err)
	}
	return def, nil
}
