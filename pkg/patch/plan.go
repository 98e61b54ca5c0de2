package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// ErrNoPlan is returned by LoadPlan when plan.json does not exist.
var ErrNoPlan = errors.New("patch plan not found")

// Paths locates the plan artefacts inside the workspace.
type Paths struct {
	Plan     string
	Base     string
	Incoming string
	Log      string
	Manifest string
	Tmp      string
}

// PathsFromLayout resolves Paths from a layout manifest.
func PathsFromLayout(m *layout.Manifest) (Paths, error) {
	var p Paths
	targets := []struct {
		id  string
		dst *string
	}{
		{layout.ApplyPlan, &p.Plan},
		{layout.ApplyBase, &p.Base},
		{layout.ApplyIncoming, &p.Incoming},
		{layout.ApplyLog, &p.Log},
		{layout.ApplyManifest, &p.Manifest},
		{layout.Tmp, &p.Tmp},
	}
	for _, t := range targets {
		v, err := m.Path(t.id)
		if err != nil {
			return Paths{}, err
		}
		*t.dst = v
	}
	return p, nil
}

func (p Paths) basePath(file string) string     { return path.Join(p.Base, file) }
func (p Paths) incomingPath(file string) string { return path.Join(p.Incoming, file) }

var validate = validator.New()

// LoadPlan reads and validates plan.json. A missing plan yields ErrNoPlan.
func LoadPlan(w workspace.FS, planPath string) (*Plan, error) {
	data, err := w.Read(planPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoPlan
	}
	if err != nil {
		return nil, engine.NewEnvironmentalError("failed to read patch plan "+planPath, err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, engine.NewDeveloperError("patch plan "+planPath+" is not valid JSON", err)
	}
	if err := validate.Struct(&plan); err != nil {
		return nil, engine.NewDeveloperError("patch plan "+planPath+" is missing required fields", err)
	}
	for i := range plan.Instructions {
		file, err := workspace.Clean(plan.Instructions[i].File)
		if err != nil {
			return nil, engine.NewDeveloperError("patch plan "+planPath+" has an invalid file path", err)
		}
		plan.Instructions[i].File = file
	}
	if plan.SkippedDeletions == nil {
		plan.SkippedDeletions = []DeletionSkip{}
	}
	return &plan, nil
}

// GeneratedFile is one user-facing file produced by a generation run.
type GeneratedFile struct {
	File        string
	Contents    []byte
	Description string
}

// Planner writes the plan and its incoming snapshots at the end of a generation run.
//
// The base snapshot of a file is the incoming content last applied to the
// workspace; the applier refreshes it. Files planned previously but no longer
// generated become delete instructions when their base matches the workspace.
type Planner struct {
	FS    workspace.FS
	Paths Paths
}

// Plan stages plan.json and the incoming/ tree through p.FS.
func (p *Planner) Plan(files []GeneratedFile) (*Plan, error) {
	current := make(map[string]GeneratedFile, len(files))
	for _, f := range files {
		file, err := workspace.Clean(f.File)
		if err != nil {
			return nil, err
		}
		if _, dup := current[file]; dup {
			return nil, engine.NewDeveloperError(fmt.Sprintf("file %s generated twice", file), nil)
		}
		f.File = file
		current[file] = f
	}

	previous, err := LoadPlan(p.FS, p.Paths.Plan)
	if err != nil && !errors.Is(err, ErrNoPlan) {
		return nil, err
	}

	plan := &Plan{Instructions: []Instruction{}, SkippedDeletions: []DeletionSkip{}}

	for _, file := range sortedKeys(current) {
		f := current[file]
		incoming := p.Paths.incomingPath(file)
		if err := p.FS.Write(incoming, f.Contents, workspace.WriteOptions{EnsureDir: true}); err != nil {
			return nil, fmt.Errorf("failed to stage incoming snapshot for %s: %w", file, err)
		}

		base := p.Paths.basePath(file)
		hasBase, err := p.FS.Exists(base)
		if err != nil {
			return nil, err
		}
		if !hasBase {
			base = ""
		}

		plan.Instructions = append(plan.Instructions, Instruction{
			Action:      ActionWrite,
			File:        file,
			Base:        base,
			Incoming:    incoming,
			Description: f.Description,
		})
	}

	if previous != nil {
		if err := p.planDeletions(plan, previous, current); err != nil {
			return nil, err
		}
	}

	if err := p.FS.WriteJSON(p.Paths.Plan, plan); err != nil {
		return nil, fmt.Errorf("failed to write patch plan: %w", err)
	}
	return plan, nil
}

func (p *Planner) planDeletions(plan *Plan, previous *Plan, current map[string]GeneratedFile) error {
	stale := make(map[string]string)
	for _, in := range previous.Instructions {
		if _, ok := current[in.File]; ok {
			continue
		}
		stale[in.File] = in.Description
	}

	cache := newContentCache(p.FS)
	for _, file := range sortedKeys(stale) {
		if err := p.FS.Rm(p.Paths.incomingPath(file)); err != nil {
			return err
		}

		description := "Remove " + file
		if stale[file] != "" {
			description = "Remove " + stale[file]
		}

		base, err := cache.load(p.Paths.basePath(file))
		if err != nil {
			return err
		}
		target, err := cache.load(file)
		if err != nil {
			return err
		}

		c := classify(ActionDelete, base, &content{}, target)
		switch {
		case c.Effect == EffectDelete:
			plan.Instructions = append(plan.Instructions, Instruction{
				Action:      ActionDelete,
				File:        file,
				Base:        p.Paths.basePath(file),
				Description: description,
			})
		case c.Reason == ReasonMissingTarget && !base.exists:
			// Never applied and already gone.
		default:
			plan.SkippedDeletions = append(plan.SkippedDeletions, DeletionSkip{
				File:        file,
				Description: description,
				Reason:      c.Reason,
			})
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
