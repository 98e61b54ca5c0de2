package builders

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/patch"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// Builder keys.
const (
	KeyManifest     = "builder.manifest"
	KeyResourcesTS  = "builder.resources.ts"
	KeyRestPHP      = "builder.rest.php"
	KeyCapabilities = "builder.capabilities"
	KeyBlocks       = "builder.blocks"
	KeyPatchPlan    = "builder.patch-plan"
)

// EntryKeys are the builder phase-entry keys.
var EntryKeys = []string{KeyPatchPlan}

// User-facing destinations of queued files.
const (
	ResourcesDir   = "src/resources"
	ControllersDir = "inc/Rest"
	BlocksDir      = "src/blocks"
)

type builderFunc func(ctx context.Context, in ir.Input, a *Artifact, r engine.Reporter) error

func builder[C engine.RunContext](fn builderFunc) engine.ApplyFunc[C, ir.Input, *Artifact] {
	return func(ctx context.Context, args engine.ApplyArgs[C, ir.Input, *Artifact]) engine.Maybe[struct{}] {
		if err := fn(ctx, args.Input, args.Output, args.Reporter); err != nil {
			return engine.Failed(err)
		}
		return engine.Done()
	}
}

// Builders returns the core builders in registration order.
func Builders[C engine.RunContext]() []engine.Helper[C, ir.Input, *Artifact] {
	return []engine.Helper[C, ir.Input, *Artifact]{
		{Key: KeyManifest, Origin: "core", DependsOn: []string{ir.KeyValidate}, Apply: builder[C](buildManifest)},
		{Key: KeyResourcesTS, Origin: "core", DependsOn: []string{ir.KeyValidate}, Apply: builder[C](buildResourcesTS)},
		{Key: KeyRestPHP, Origin: "core", DependsOn: []string{ir.KeyValidate}, Apply: builder[C](buildRestPHP)},
		{Key: KeyCapabilities, Origin: "core", DependsOn: []string{ir.KeyCapabilities}, Apply: builder[C](buildCapabilities)},
		{Key: KeyBlocks, Origin: "core", DependsOn: []string{ir.KeyBlocks}, Apply: builder[C](buildBlocks)},
		{
			Key:       KeyPatchPlan,
			Origin:    "core",
			DependsOn: []string{KeyManifest, KeyResourcesTS, KeyRestPHP, KeyCapabilities, KeyBlocks},
			Apply:     builder[C](buildPatchPlan),
		},
	}
}

func layoutPath(in ir.Input, id string) (string, error) {
	m := in.Layout
	if m == nil {
		m = layout.Default()
	}
	return m.Path(id)
}

func writeGenerated(in ir.Input, p string, contents []byte) error {
	if err := in.Workspace.Write(p, contents, workspace.WriteOptions{EnsureDir: true}); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func buildManifest(_ context.Context, in ir.Input, a *Artifact, _ engine.Reporter) error {
	p, err := layoutPath(in, layout.GeneratedManifest)
	if err != nil {
		return err
	}
	return in.Workspace.WriteJSON(p, a.IR)
}

type resourceView struct {
	Source    string
	Const     string
	Key       string
	Name      string
	Namespace string
	Schema    string
	Identity  *ir.Identity
	Routes    []ir.Route
	Import    string
}

func buildResourcesTS(_ context.Context, in ir.Input, a *Artifact, r engine.Reporter) error {
	dir, err := layoutPath(in, layout.GeneratedTS)
	if err != nil {
		return err
	}
	for _, res := range a.IR.Resources {
		generated := path.Join(dir, "resources", res.Key+".ts")
		shim := path.Join(ResourcesDir, res.Key+".ts")
		view := resourceView{
			Source:    a.IR.Meta.SourcePath,
			Const:     camel(res.Name) + "Resource",
			Key:       res.Key,
			Name:      res.Name,
			Namespace: a.IR.Meta.Namespace,
			Schema:    res.SchemaKey,
			Identity:  res.Identity,
			Routes:    res.Routes,
			Import:    importPath(shim, generated),
		}

		body, err := render("resource.ts", view)
		if err != nil {
			return err
		}
		if err := writeGenerated(in, generated, body); err != nil {
			return err
		}
		shimBody, err := render("resource.shim.ts", view)
		if err != nil {
			return err
		}
		if err := a.Output.Queue(shim, shimBody, "Resource descriptor for "+res.Name); err != nil {
			return err
		}
		r.Debug("Resource descriptor generated.", map[string]any{"resource": res.Key, "file": generated})
	}
	return nil
}

// importPath returns the extensionless relative import of target from file.
func importPath(file, target string) string {
	rel, err := filepath.Rel(filepath.Dir(filepath.FromSlash(file)), filepath.FromSlash(target))
	if err != nil {
		return target
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), path.Ext(rel))
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	return rel
}

var routeCallbacks = map[string]string{
	"list":   "get_items",
	"get":    "get_item",
	"create": "create_item",
	"update": "update_item",
	"remove": "delete_item",
}

type phpRoute struct {
	Namespace  string
	Route      string
	Method     string
	Callback   string
	Capability string
}

type controllerView struct {
	Source       string
	PHPNamespace string
	Class        string
	Routes       []phpRoute
}

// splitRoute separates "/ns/v1/rest" into the REST namespace "ns/v1" and route "/rest".
func splitRoute(p string) (string, string) {
	parts := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 3)
	if len(parts) < 3 {
		return strings.Join(parts, "/"), "/"
	}
	return parts[0] + "/" + parts[1], "/" + parts[2]
}

func buildRestPHP(_ context.Context, in ir.Input, a *Artifact, r engine.Reporter) error {
	dir, err := layoutPath(in, layout.GeneratedPHP)
	if err != nil {
		return err
	}
	capabilities := make(map[string]string, len(a.IR.Capabilities))
	for _, c := range a.IR.Capabilities {
		capabilities[c.Key] = c.Capability
	}

	for _, res := range a.IR.Resources {
		view := controllerView{
			Source:       a.IR.Meta.SourcePath,
			PHPNamespace: a.IR.Meta.Sanitized,
			Class:        ir.Sanitize(res.Name) + "Controller",
		}
		for _, route := range res.Routes {
			ns, rest := splitRoute(route.Path)
			view.Routes = append(view.Routes, phpRoute{
				Namespace:  ns,
				Route:      rest,
				Method:     route.Method,
				Callback:   routeCallbacks[route.Kind],
				Capability: capabilities[route.Capability],
			})
		}

		generated := path.Join(dir, "Rest", view.Class+"Base.php")
		body, err := render("controller.php", view)
		if err != nil {
			return err
		}
		if err := writeGenerated(in, generated, body); err != nil {
			return err
		}
		shimBody, err := render("controller.shim.php", view)
		if err != nil {
			return err
		}
		if err := a.Output.Queue(path.Join(ControllersDir, view.Class+".php"), shimBody, "REST controller for "+res.Name); err != nil {
			return err
		}
		r.Debug("REST controller generated.", map[string]any{"resource": res.Key, "class": view.Class})
	}
	return nil
}

type capabilityEntry struct {
	Capability string   `json:"capability"`
	Resources  []string `json:"resources"`
}

func buildCapabilities(_ context.Context, in ir.Input, a *Artifact, _ engine.Reporter) error {
	dir, err := layoutPath(in, layout.GeneratedPHP)
	if err != nil {
		return err
	}
	m := make(map[string]capabilityEntry, len(a.IR.Capabilities))
	for _, c := range a.IR.Capabilities {
		m[c.Key] = capabilityEntry{Capability: c.Capability, Resources: c.Resources}
	}
	return in.Workspace.WriteJSON(path.Join(dir, "capabilities.json"), m)
}

type blockMetadata struct {
	Schema       string `json:"$schema"`
	APIVersion   int    `json:"apiVersion"`
	Name         string `json:"name"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	TextDomain   string `json:"textdomain"`
	EditorScript string `json:"editorScript"`
	Render       string `json:"render,omitempty"`
}

func buildBlocks(_ context.Context, _ ir.Input, a *Artifact, _ engine.Reporter) error {
	for _, b := range a.IR.Blocks {
		meta := blockMetadata{
			Schema:       "https://schemas.wp.org/trunk/block.json",
			APIVersion:   3,
			Name:         b.Name,
			Title:        b.Title,
			Category:     "widgets",
			TextDomain:   a.IR.Meta.Namespace,
			EditorScript: "file:./index.js",
		}
		if b.Mode == "ssr" {
			meta.Render = "file:./render.php"
		}
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return err
		}
		file := path.Join(BlocksDir, b.Resource, "block.json")
		if err := a.Output.Queue(file, append(data, '\n'), "Block metadata for "+b.Name); err != nil {
			return err
		}
	}
	return nil
}

func buildPatchPlan(_ context.Context, in ir.Input, a *Artifact, r engine.Reporter) error {
	m := in.Layout
	if m == nil {
		m = layout.Default()
	}
	paths, err := patch.PathsFromLayout(m)
	if err != nil {
		return err
	}
	planner := &patch.Planner{FS: in.Workspace, Paths: paths}
	plan, err := planner.Plan(a.Output.Files())
	if err != nil {
		return err
	}
	a.Plan = plan
	r.Info("Patch plan staged.", map[string]any{
		"instructions":     len(plan.Instructions),
		"skippedDeletions": len(plan.SkippedDeletions),
	})
	return nil
}
