// Package layout resolves logical workspace locations such as the patch plan
// or the apply log from layout.manifest.json.
//
// A workspace may ship its own layout.manifest.json at its root; otherwise the
// embedded default is used. Manifests are cached per root in an explicit Cache
// threaded through command setup; Reset drops the cache.
package layout

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// FileName is the manifest file looked up at the workspace root.
const FileName = "layout.manifest.json"

// Well-known layout ids.
const (
	GeneratedRoot     = "generated.root"
	GeneratedPHP      = "generated.php"
	GeneratedTS       = "generated.ts"
	GeneratedManifest = "generated.manifest"
	ApplyRoot         = "apply.root"
	ApplyPlan         = "apply.plan"
	ApplyBase         = "apply.base"
	ApplyIncoming     = "apply.incoming"
	ApplyLog          = "apply.log"
	ApplyManifest     = "apply.manifest"
	StateDB           = "state.db"
	Tmp               = "tmp"
	Metrics           = "metrics"
)

//go:embed layout.manifest.json
var defaultManifest []byte

// Manifest maps layout ids to workspace-relative paths.
type Manifest struct {
	Version     int               `json:"version" validate:"required,eq=1"`
	Directories map[string]string `json:"directories" validate:"required,min=1,dive,keys,required,endkeys,required"`

	// Source is the file the manifest was read from, or "embedded".
	Source string `json:"-"`
}

// Path returns the workspace-relative path for id.
func (m *Manifest) Path(id string) (string, error) {
	p, ok := m.Directories[id]
	if !ok {
		return "", engine.NewDeveloperError(
			fmt.Sprintf("layout id %q is not defined in %s", id, m.Source), nil,
		).WithDetail("id", id)
	}
	return p, nil
}

// IDs returns the defined layout ids, sorted.
func (m *Manifest) IDs() []string {
	ids := make([]string, 0, len(m.Directories))
	for id := range m.Directories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var validate = validator.New()

// Parse decodes and validates a manifest.
func Parse(data []byte, source string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, engine.NewDeveloperError("invalid layout manifest "+source, err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, engine.NewDeveloperError("layout manifest "+source+" is missing required fields", err)
	}
	for id, p := range m.Directories {
		cleaned, err := workspace.Clean(p)
		if err != nil {
			return nil, engine.NewDeveloperError(
				fmt.Sprintf("layout id %q in %s has an invalid path", id, source), err,
			)
		}
		m.Directories[id] = cleaned
	}
	m.Source = source
	return &m, nil
}

// Default returns the embedded manifest.
func Default() *Manifest {
	m, err := Parse(defaultManifest, "embedded")
	if err != nil {
		panic(fmt.Sprintf("embedded layout manifest is invalid: %v", err))
	}
	return m
}

// Cache loads manifests once per workspace root.
type Cache struct {
	mu        sync.Mutex
	manifests map[string]*Manifest
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{manifests: make(map[string]*Manifest)}
}

// Load returns the manifest for root. An explicit path must exist; an
// implicit lookup falls back to the embedded default.
func (c *Cache) Load(root, explicit string) (*Manifest, error) {
	key := root + "\x00" + explicit

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.manifests[key]; ok {
		return m, nil
	}

	m, err := load(root, explicit)
	if err != nil {
		return nil, err
	}
	c.manifests[key] = m
	return m, nil
}

func load(root, explicit string) (*Manifest, error) {
	path := explicit
	if path == "" {
		path = filepath.Join(root, FileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return Parse(data, path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewEnvironmentalError("failed to read layout manifest "+path, err)
	}
	if explicit != "" {
		return nil, engine.NewEnvironmentalError("layout manifest not found: "+path, err).
			WithDetail("path", path)
	}
	return Default(), nil
}

// Resolve returns the workspace-relative path for id under root.
func (c *Cache) Resolve(root, id string) (string, error) {
	m, err := c.Load(root, "")
	if err != nil {
		return "", err
	}
	return m.Path(id)
}

// Reset forgets every cached manifest.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests = make(map[string]*Manifest)
}
