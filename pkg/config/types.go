package config

import (
	"fmt"
	"strings"
)

// Config is the declarative project configuration read from wpk.config.*.
type Config struct {
	// Version is the configuration format version.
	Version int `json:"version" yaml:"version" validate:"required,eq=1" jsonschema:"enum=1,description=configuration format version"`

	// Namespace prefixes every generated identifier (REST namespace, PHP namespace, block names).
	Namespace string `json:"namespace" yaml:"namespace" validate:"required,slug" jsonschema:"description=project namespace in kebab case"`

	// Schemas are the JSON schemas resources refer to, keyed by name.
	Schemas map[string]SchemaConfig `json:"schemas,omitempty" yaml:"schemas,omitempty" validate:"dive,keys,slug,endkeys"`

	// Resources are the REST resources to generate, keyed by name.
	Resources map[string]ResourceConfig `json:"resources" yaml:"resources" validate:"required,min=1,dive,keys,slug,endkeys"`

	// Scripts are Starlark files that annotate the IR.
	Scripts []ScriptConfig `json:"scripts,omitempty" yaml:"scripts,omitempty" validate:"dive"`

	// Policies configures rego deny rules evaluated against the IR.
	Policies PolicyConfig `json:"policies,omitempty" yaml:"policies,omitempty"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// SchemaConfig points at a JSON schema file or carries it inline.
type SchemaConfig struct {
	Path        string         `json:"path,omitempty" yaml:"path,omitempty" validate:"required_without=Inline"`
	Inline      map[string]any `json:"inline,omitempty" yaml:"inline,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// ResourceConfig declares one REST resource.
type ResourceConfig struct {
	// Name defaults to the map key.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Schema names an entry of Config.Schemas, or "auto" for a schema derived from routes.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	Identity *IdentityConfig        `json:"identity,omitempty" yaml:"identity,omitempty"`
	Routes   map[string]RouteConfig `json:"routes" yaml:"routes" validate:"required,min=1,dive,keys,oneof=list get create update remove,endkeys"`

	// Capabilities maps a capability key to the WordPress capability it requires.
	Capabilities map[string]string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Block generates a block for the resource when set.
	Block *BlockConfig `json:"block,omitempty" yaml:"block,omitempty"`
}

// IdentityConfig describes how a single item of a resource is addressed.
type IdentityConfig struct {
	Type  string `json:"type" yaml:"type" validate:"required,oneof=number string"`
	Param string `json:"param,omitempty" yaml:"param,omitempty" validate:"omitempty,alphanum"`
}

// RouteConfig is one REST route of a resource.
type RouteConfig struct {
	Path       string `json:"path" yaml:"path" validate:"required,startswith=/"`
	Method     string `json:"method" yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Capability string `json:"capability,omitempty" yaml:"capability,omitempty"`
}

// BlockConfig declares the block generated for a resource.
type BlockConfig struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Mode  string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=js ssr"`
}

// ScriptConfig is one Starlark annotation script.
type ScriptConfig struct {
	Name string `json:"name" yaml:"name" validate:"required,slug"`
	Path string `json:"path" yaml:"path" validate:"required"`
}

// PolicyConfig configures the policy extension.
type PolicyConfig struct {
	// Disabled turns off every policy, including the built-in ones.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Paths are extra rego files or directories. Defaults to policies/.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Builtins selects built-in policies by name. Empty enables all of them.
	Builtins []string `json:"builtins,omitempty" yaml:"builtins,omitempty"`
}

// TelemetryConfig overrides the telemetry defaults.
type TelemetryConfig struct {
	LogLevel    string        `json:"logLevel,omitempty" yaml:"logLevel,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Tracing     TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	MetricsFile string        `json:"metricsFile,omitempty" yaml:"metricsFile,omitempty"`
}

// TracingConfig selects a trace exporter.
type TracingConfig struct {
	Exporter string `json:"exporter,omitempty" yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
}

// ValidationError is one configuration problem with its source location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the problem (e.g., "resources.job.routes").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Loaded is a validated configuration with its origin.
type Loaded struct {
	Config *Config

	// SourcePath is the absolute path of the configuration file.
	SourcePath string

	// Format is cue, yaml or json.
	Format string
}

// ResourceNames returns resource keys in sorted order.
func (c *Config) ResourceNames() []string {
	return sortedKeys(c.Resources)
}

// ResourceName returns the display name of the resource stored under key.
func (c *Config) ResourceName(key string) string {
	if r, ok := c.Resources[key]; ok && r.Name != "" {
		return r.Name
	}
	return key
}
