package ir

import (
	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// Input is what every fragment and builder of a generation run reads.
type Input struct {
	Config *config.Config

	// SourcePath is the absolute path of the configuration file.
	SourcePath string

	Workspace workspace.FS
	Layout    *layout.Manifest
}

// IR is the immutable intermediate representation handed to builders.
type IR struct {
	Meta         Meta                      `json:"meta"`
	Schemas      []Schema                  `json:"schemas"`
	Resources    []Resource                `json:"resources"`
	Capabilities []Capability              `json:"capabilities"`
	Blocks       []Block                   `json:"blocks"`
	Annotations  map[string]map[string]any `json:"annotations"`
}

// Meta identifies the project.
type Meta struct {
	Version   int    `json:"version"`
	Namespace string `json:"namespace"`

	// Sanitized is the namespace as a PHP/TypeScript identifier (acme-jobs → AcmeJobs).
	Sanitized string `json:"sanitizedNamespace"`

	// SourcePath is the configuration file relative to the workspace root.
	SourcePath string `json:"sourcePath"`
}

// SchemaProvenance records where a schema came from.
type SchemaProvenance string

const (
	ProvenanceFile   SchemaProvenance = "file"
	ProvenanceInline SchemaProvenance = "inline"
	ProvenanceAuto   SchemaProvenance = "auto"
)

// Schema is a JSON schema a resource is typed by.
type Schema struct {
	Key        string           `json:"key"`
	Provenance SchemaProvenance `json:"provenance"`
	Path       string           `json:"path,omitempty"`
	Hash       string           `json:"hash"`
	Definition map[string]any   `json:"definition"`
}

// Identity describes how one item of a resource is addressed.
type Identity struct {
	Type  string `json:"type"`
	Param string `json:"param"`
}

// Route is one REST route.
type Route struct {
	Kind       string `json:"kind"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Capability string `json:"capability,omitempty"`
}

// Resource is one REST resource.
type Resource struct {
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	SchemaKey    string    `json:"schemaKey"`
	Identity     *Identity `json:"identity,omitempty"`
	Routes       []Route   `json:"routes"`
	Capabilities []string  `json:"capabilities"`
}

// Capability maps a capability key to the WordPress capability it requires.
type Capability struct {
	Key        string   `json:"key"`
	Capability string   `json:"capability"`
	Resources  []string `json:"resources"`
}

// Block is a block generated for a resource.
type Block struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Resource string `json:"resource"`
	Mode     string `json:"mode"`
}

// Draft is the mutable IR fragments write into.
type Draft struct {
	Meta         Meta
	Schemas      map[string]Schema
	Resources    map[string]Resource
	Capabilities map[string]Capability
	Blocks       map[string]Block
	Annotations  map[string]map[string]any
}

// NewDraft returns an empty draft.
func NewDraft() *Draft {
	return &Draft{
		Schemas:      make(map[string]Schema),
		Resources:    make(map[string]Resource),
		Capabilities: make(map[string]Capability),
		Blocks:       make(map[string]Block),
		Annotations:  make(map[string]map[string]any),
	}
}

// Resource returns the resource stored under key.
func (ir *IR) Resource(key string) (Resource, bool) {
	for _, r := range ir.Resources {
		if r.Key == key {
			return r, true
		}
	}
	return Resource{}, false
}

// Schema returns the schema stored under key.
func (ir *IR) Schema(key string) (Schema, bool) {
	for _, s := range ir.Schemas {
		if s.Key == key {
			return s, true
		}
	}
	return Schema{}, false
}
