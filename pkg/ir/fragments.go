package ir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// Fragment keys.
const (
	KeyMeta         = "ir.meta"
	KeySchemas      = "ir.schemas"
	KeyResources    = "ir.resources"
	KeyCapabilities = "ir.capabilities"
	KeyBlocks       = "ir.blocks"
	KeyScripts      = "ir.scripts"
	KeyValidate     = "ir.validate"
)

// EntryKeys are the fragment phase-entry keys.
var EntryKeys = []string{KeyValidate}

// Options configures the core fragments.
type Options struct {
	Scripts *ScriptRunner
}

type fragmentFunc func(ctx context.Context, in Input, d *Draft, r engine.Reporter) error

func fragment[C engine.RunContext](fn fragmentFunc) engine.ApplyFunc[C, Input, *Draft] {
	return func(ctx context.Context, args engine.ApplyArgs[C, Input, *Draft]) engine.Maybe[struct{}] {
		if err := fn(ctx, args.Input, args.Output, args.Reporter); err != nil {
			return engine.Failed(err)
		}
		return engine.Done()
	}
}

// Fragments returns the core IR fragments in registration order.
func Fragments[C engine.RunContext](opts Options) []engine.Helper[C, Input, *Draft] {
	runner := opts.Scripts
	if runner == nil {
		runner = &ScriptRunner{}
	}
	return []engine.Helper[C, Input, *Draft]{
		{Key: KeyMeta, Origin: "core", Apply: fragment[C](buildMeta)},
		{Key: KeySchemas, Origin: "core", DependsOn: []string{KeyMeta}, Apply: fragment[C](buildSchemas)},
		{Key: KeyResources, Origin: "core", DependsOn: []string{KeyMeta, KeySchemas}, Apply: fragment[C](buildResources)},
		{Key: KeyCapabilities, Origin: "core", DependsOn: []string{KeyResources}, Apply: fragment[C](buildCapabilities)},
		{Key: KeyBlocks, Origin: "core", DependsOn: []string{KeyResources}, Apply: fragment[C](buildBlocks)},
		{Key: KeyScripts, Origin: "core", DependsOn: []string{KeyResources}, Apply: fragment[C](runner.fragment)},
		{
			Key:       KeyValidate,
			Origin:    "core",
			DependsOn: []string{KeyCapabilities, KeyBlocks, KeyScripts},
			Apply:     fragment[C](validateDraft),
		},
	}
}

func buildMeta(_ context.Context, in Input, d *Draft, _ engine.Reporter) error {
	if in.Config == nil {
		return engine.NewDeveloperError("generation input has no configuration", nil)
	}
	source := in.SourcePath
	if in.Workspace != nil && source != "" {
		if rel, err := workspace.Relative(in.Workspace.Root(), source); err == nil {
			source = rel
		}
	}
	d.Meta = Meta{
		Version:    in.Config.Version,
		Namespace:  in.Config.Namespace,
		Sanitized:  Sanitize(in.Config.Namespace),
		SourcePath: filepath.ToSlash(source),
	}
	return nil
}

// Sanitize converts a kebab-case slug into an upper camel case identifier.
func Sanitize(slug string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == '.' }) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func buildSchemas(_ context.Context, in Input, d *Draft, r engine.Reporter) error {
	for _, key := range sortedKeys(in.Config.Schemas) {
		sc := in.Config.Schemas[key]
		schema := Schema{Key: key}

		if sc.Path != "" {
			rel, data, err := readRelative(in, sc.Path)
			if err != nil {
				return engine.NewValidationError(fmt.Sprintf("schema %q: %v", key, err), err).WithDetail("path", sc.Path)
			}
			var def map[string]any
			if err := json.Unmarshal(data, &def); err != nil {
				return engine.NewValidationError(fmt.Sprintf("schema %q: %s is not a JSON object", key, rel), err)
			}
			hash, err := in.Workspace.Hash(rel)
			if err != nil {
				return err
			}
			schema.Provenance, schema.Path, schema.Hash, schema.Definition = ProvenanceFile, rel, hash, def
		} else {
			hash, err := hashJSON(sc.Inline)
			if err != nil {
				return err
			}
			schema.Provenance, schema.Hash, schema.Definition = ProvenanceInline, hash, sc.Inline
		}

		d.Schemas[key] = schema
		r.Debug("Schema loaded.", map[string]any{"schema": key, "provenance": string(schema.Provenance)})
	}
	return nil
}

// readRelative reads p, relative to the configuration file, through the workspace.
func readRelative(in Input, p string) (string, []byte, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(in.SourcePath), p)
	}
	rel, err := workspace.Relative(in.Workspace.Root(), abs)
	if err != nil {
		return "", nil, err
	}
	data, err := in.Workspace.Read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return rel, nil, fmt.Errorf("%s does not exist", rel)
	}
	if err != nil {
		return rel, nil, err
	}
	return rel, data, nil
}

var routeOrder = map[string]int{"list": 0, "get": 1, "create": 2, "update": 3, "remove": 4}

func buildResources(_ context.Context, in Input, d *Draft, r engine.Reporter) error {
	for _, key := range in.Config.ResourceNames() {
		rc := in.Config.Resources[key]
		res := Resource{
			Key:          key,
			Name:         in.Config.ResourceName(key),
			SchemaKey:    rc.Schema,
			Routes:       make([]Route, 0, len(rc.Routes)),
			Capabilities: sortedKeys(rc.Capabilities),
		}

		if rc.Identity != nil {
			param := rc.Identity.Param
			if param == "" {
				param = "id"
			}
			res.Identity = &Identity{Type: rc.Identity.Type, Param: param}
		}

		for kind, route := range rc.Routes {
			res.Routes = append(res.Routes, Route{
				Kind:       kind,
				Method:     route.Method,
				Path:       route.Path,
				Capability: route.Capability,
			})
		}
		sort.Slice(res.Routes, func(i, j int) bool {
			return routeOrder[res.Routes[i].Kind] < routeOrder[res.Routes[j].Kind]
		})

		if res.SchemaKey == "" || res.SchemaKey == "auto" {
			schema, err := autoSchema(d, res)
			if err != nil {
				return err
			}
			d.Schemas[schema.Key] = schema
			res.SchemaKey = schema.Key
			r.Debug("Derived schema for resource.", map[string]any{"resource": key, "schema": schema.Key})
		}

		d.Resources[key] = res
	}
	return nil
}

func autoSchema(d *Draft, res Resource) (Schema, error) {
	key := res.Key
	if _, taken := d.Schemas[key]; taken {
		key = res.Key + "-auto"
	}
	properties := map[string]any{}
	if res.Identity != nil {
		kind := "integer"
		if res.Identity.Type == "string" {
			kind = "string"
		}
		properties[res.Identity.Param] = map[string]any{"type": kind}
	}
	def := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"title":      res.Name,
		"type":       "object",
		"properties": properties,
	}
	hash, err := hashJSON(def)
	if err != nil {
		return Schema{}, err
	}
	return Schema{Key: key, Provenance: ProvenanceAuto, Hash: hash, Definition: def}, nil
}

func buildCapabilities(_ context.Context, in Input, d *Draft, _ engine.Reporter) error {
	for _, key := range in.Config.ResourceNames() {
		rc := in.Config.Resources[key]
		for _, capKey := range sortedKeys(rc.Capabilities) {
			wp := rc.Capabilities[capKey]
			existing, ok := d.Capabilities[capKey]
			if ok && existing.Capability != wp {
				return engine.NewValidationError(fmt.Sprintf(
					"capability %q maps to both %q and %q", capKey, existing.Capability, wp), nil)
			}
			if !ok {
				existing = Capability{Key: capKey, Capability: wp}
			}
			existing.Resources = append(existing.Resources, key)
			d.Capabilities[capKey] = existing
		}
	}
	return nil
}

func buildBlocks(_ context.Context, in Input, d *Draft, _ engine.Reporter) error {
	for _, key := range in.Config.ResourceNames() {
		rc := in.Config.Resources[key]
		if rc.Block == nil {
			continue
		}
		title := rc.Block.Title
		if title == "" {
			title = Sanitize(in.Config.ResourceName(key))
		}
		mode := rc.Block.Mode
		if mode == "" {
			mode = "js"
		}
		name := d.Meta.Namespace + "/" + key
		d.Blocks[name] = Block{Name: name, Title: title, Resource: key, Mode: mode}
	}
	return nil
}

func (sr *ScriptRunner) fragment(ctx context.Context, in Input, d *Draft, r engine.Reporter) error {
	if len(in.Config.Scripts) == 0 {
		return nil
	}
	view := scriptView(d)
	for _, sc := range in.Config.Scripts {
		rel, src, err := readRelative(in, sc.Path)
		if err != nil {
			return engine.NewValidationError(fmt.Sprintf("script %s: %v", sc.Name, err), err)
		}
		annotations, err := sr.Annotate(ctx, Script{Name: sc.Name, Filename: rel, Source: src}, view, r)
		if err != nil {
			return err
		}
		d.Annotations[sc.Name] = annotations
		r.Debug("Script annotated IR.", map[string]any{"script": sc.Name, "keys": len(annotations)})
	}
	return nil
}

// scriptView is the read-only IR shape scripts receive.
func scriptView(d *Draft) map[string]any {
	resources := make([]any, 0, len(d.Resources))
	for _, key := range sortedKeys(d.Resources) {
		res := d.Resources[key]
		routes := make([]any, 0, len(res.Routes))
		for _, rt := range res.Routes {
			routes = append(routes, map[string]any{
				"kind": rt.Kind, "method": rt.Method, "path": rt.Path, "capability": rt.Capability,
			})
		}
		resources = append(resources, map[string]any{
			"key":          res.Key,
			"name":         res.Name,
			"schema":       res.SchemaKey,
			"routes":       routes,
			"capabilities": res.Capabilities,
		})
	}
	return map[string]any{
		"namespace": d.Meta.Namespace,
		"version":   d.Meta.Version,
		"resources": resources,
	}
}

func validateDraft(_ context.Context, _ Input, d *Draft, _ engine.Reporter) error {
	var problems []string
	if len(d.Resources) == 0 {
		problems = append(problems, "no resources declared")
	}
	for _, key := range sortedKeys(d.Resources) {
		res := d.Resources[key]
		if _, ok := d.Schemas[res.SchemaKey]; !ok {
			problems = append(problems, fmt.Sprintf("resource %s references unknown schema %q", key, res.SchemaKey))
		}
		for _, rt := range res.Routes {
			if rt.Capability == "" {
				continue
			}
			if _, ok := d.Capabilities[rt.Capability]; !ok {
				problems = append(problems, fmt.Sprintf("route %s %s references unknown capability %q", rt.Method, rt.Path, rt.Capability))
			}
		}
	}
	for _, name := range sortedKeys(d.Blocks) {
		if _, ok := d.Resources[d.Blocks[name].Resource]; !ok {
			problems = append(problems, fmt.Sprintf("block %s references unknown resource %q", name, d.Blocks[name].Resource))
		}
	}
	if len(problems) > 0 {
		return engine.NewValidationError("IR is inconsistent:\n  - "+strings.Join(problems, "\n  - "), nil).
			WithDetail("problems", problems)
	}
	return nil
}

func hashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to hash schema: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
