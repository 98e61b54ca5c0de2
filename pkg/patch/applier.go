package patch

import (
	"fmt"
	"strings"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// ReasonMissingIncoming marks a write whose incoming snapshot is gone.
const ReasonMissingIncoming SkipReason = "missing-incoming"

// ApplyOptions controls one apply pass.
type ApplyOptions struct {
	// Force overwrites conflicting files with incoming. Conflicts are still counted.
	Force bool

	// Backup copies current contents to <file>.bak before touching a file.
	Backup bool
}

// Applier applies a plan through a workspace. Every change goes through FS,
// so callers decide durability by opening a transaction around Apply.
type Applier struct {
	FS       workspace.FS
	Paths    Paths
	Reporter engine.Reporter
}

// Apply evaluates every instruction once and returns the manifest. Unreadable
// files become skipped records; write failures abort the pass.
func (a *Applier) Apply(plan *Plan, opts ApplyOptions) (*Manifest, error) {
	reporter := a.Reporter
	if reporter == nil {
		reporter = engine.NopReporter{}
	}

	manifest := newManifest()
	manifest.SkippedDeletions = append(manifest.SkippedDeletions, plan.SkippedDeletions...)
	cache := newContentCache(a.FS)

	for _, in := range plan.Instructions {
		record, err := a.applyOne(cache, manifest, in, opts)
		if err != nil {
			return nil, err
		}
		manifest.Records = append(manifest.Records, record)
		reporter.Debug("Patch instruction evaluated.", map[string]any{
			"file":   record.File,
			"status": string(record.Status),
		})
	}

	manifest.Summary = Summarize(manifest.Records)
	return manifest, nil
}

func (a *Applier) applyOne(cache *contentCache, manifest *Manifest, in Instruction, opts ApplyOptions) (Record, error) {
	record := Record{File: in.File, Description: in.Description}

	base, incoming, current, err := a.load(cache, in)
	if err != nil {
		record.Status = StatusSkipped
		record.Details = map[string]any{"reason": string(ReasonUnreadable), "error": err.Error()}
		if in.Action == ActionDelete {
			manifest.SkippedDeletions = append(manifest.SkippedDeletions, DeletionSkip{
				File: in.File, Description: in.Description, Reason: ReasonUnreadable,
			})
		}
		return record, nil
	}

	if in.Action == ActionWrite && !incoming.exists {
		record.Status = StatusSkipped
		record.Details = map[string]any{"reason": string(ReasonMissingIncoming)}
		return record, nil
	}

	c := classify(in.Action, base, incoming, current)
	record.Status = c.Status

	effect := c.Effect
	switch {
	case c.Status == StatusConflict && opts.Force:
		effect = EffectWrite
		record.Details = map[string]any{"forced": true}
	case c.Status == StatusConflict:
		record.Details = map[string]any{"reason": "current differs from base and incoming"}
	case c.Status == StatusSkipped:
		record.Details = map[string]any{"reason": string(c.Reason)}
		if in.Action == ActionDelete {
			manifest.SkippedDeletions = append(manifest.SkippedDeletions, DeletionSkip{
				File: in.File, Description: in.Description, Reason: c.Reason,
			})
		}
	case c.Noop:
		record.Details = map[string]any{"noop": true}
	}

	if effect != EffectNone && opts.Backup && current.exists && !a.excluded(in.File) {
		backup, err := Backup(a.FS, in.File, current.data)
		if err != nil {
			return Record{}, err
		}
		manifest.Actions = append(manifest.Actions, backup)
	}

	switch effect {
	case EffectWrite:
		if err := a.FS.Write(in.File, incoming.data, workspace.WriteOptions{EnsureDir: true}); err != nil {
			return Record{}, fmt.Errorf("failed to apply %s: %w", in.File, err)
		}
		cache.forget(in.File)
		manifest.Actions = append(manifest.Actions, in.File)
	case EffectDelete:
		if err := a.FS.Rm(in.File); err != nil {
			return Record{}, fmt.Errorf("failed to delete %s: %w", in.File, err)
		}
		cache.forget(in.File)
		manifest.Actions = append(manifest.Actions, in.File)
	}

	if err := a.refreshBase(in, record.Status, effect, incoming); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (a *Applier) load(cache *contentCache, in Instruction) (base, incoming, current *content, err error) {
	if base, err = cache.load(in.Base); err != nil {
		return nil, nil, nil, err
	}
	if incoming, err = cache.load(in.Incoming); err != nil {
		return nil, nil, nil, err
	}
	if current, err = cache.load(in.File); err != nil {
		return nil, nil, nil, err
	}
	return base, incoming, current, nil
}

// refreshBase keeps base/ equal to the generation now present in the workspace.
func (a *Applier) refreshBase(in Instruction, status Status, effect Effect, incoming *content) error {
	if a.Paths.Base == "" {
		return nil
	}
	target := a.Paths.basePath(in.File)
	switch {
	case in.Action == ActionDelete && effect == EffectDelete:
		return a.FS.Rm(target)
	case in.Action == ActionWrite && (effect == EffectWrite || status == StatusApplied):
		if err := a.FS.Write(target, incoming.data, workspace.WriteOptions{EnsureDir: true}); err != nil {
			return fmt.Errorf("failed to refresh base snapshot for %s: %w", in.File, err)
		}
	}
	return nil
}

// excluded reports whether file must never be backed up.
func (a *Applier) excluded(file string) bool {
	if a.Paths.Log != "" && file == a.Paths.Log {
		return true
	}
	return a.Paths.Tmp != "" && (file == a.Paths.Tmp || strings.HasPrefix(file, a.Paths.Tmp+"/"))
}

// Backup writes contents to <file>.bak and returns the backup path.
func Backup(w workspace.FS, file string, contents []byte) (string, error) {
	target := file + ".bak"
	if err := w.Write(target, contents, workspace.WriteOptions{EnsureDir: true}); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", file, err)
	}
	return target, nil
}
