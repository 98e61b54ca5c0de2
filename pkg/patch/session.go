package patch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// State is a node of the apply state machine.
type State string

const (
	StateIdle                 State = "idle"
	StatePreviewing           State = "previewing"
	StateNoManifest           State = "no-manifest"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateCancelled            State = "cancelled"
	StateConfirmed            State = "confirmed"
	StateApplying             State = "applying"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
	StateDone                 State = "done"
)

// Prompter asks the user to confirm a previewed plan.
type Prompter interface {
	Confirm(ctx context.Context, preview *Manifest) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, preview *Manifest) (bool, error)

// Confirm calls f.
func (f PrompterFunc) Confirm(ctx context.Context, preview *Manifest) (bool, error) {
	return f(ctx, preview)
}

// SessionOptions are the apply command flags.
type SessionOptions struct {
	Yes        bool
	Backup     bool
	Force      bool
	Cleanup    []string
	AllowDirty bool
}

func (o SessionOptions) flags() Flags {
	cleanup := append([]string{}, o.Cleanup...)
	return Flags{Yes: o.Yes, Backup: o.Backup, Force: o.Force, Cleanup: cleanup, AllowDirty: o.AllowDirty}
}

// Outcome is the result of one Session.Run.
type Outcome struct {
	Status      LogStatus
	ExitCode    engine.ExitCode
	Preview     *Manifest
	Manifest    *Manifest
	Cleanup     *CleanupResult
	Changes     workspace.Changes
	Entry       LogEntry
	Transitions []State
}

// Session drives one apply invocation through the state machine
//
//	Idle → Previewing → NoManifest → Done
//	                  → AwaitingConfirmation → Cancelled → Done
//	                                         → Confirmed → Applying
//	Applying → Completed → Done
//	         → Failed → Done
//
// Previewing is skipped with --yes. Every run appends exactly one log entry.
type Session struct {
	FS       workspace.FS
	Paths    Paths
	Prompter Prompter
	Reporter engine.Reporter

	// Mirror, when set, receives every log entry after it is journalled.
	Mirror EntrySink

	// Ready, when set, checks the workspace before the plan is loaded.
	// It is skipped with AllowDirty.
	Ready func(ctx context.Context) error

	// Now defaults to time.Now.
	Now func() time.Time
}

// transactionLabel is the workspace transaction used for a real apply.
const transactionLabel = "apply"

type run struct {
	s       *Session
	opts    SessionOptions
	outcome *Outcome
}

func (r *run) enter(state State) {
	r.outcome.Transitions = append(r.outcome.Transitions, state)
	r.s.reporter().Debug("Apply state changed.", map[string]any{"state": string(state)})
}

func (s *Session) reporter() engine.Reporter {
	if s.Reporter == nil {
		return engine.NopReporter{}
	}
	return s.Reporter
}

// Run executes the apply state machine. The returned outcome is non-nil even
// when err is set.
func (s *Session) Run(ctx context.Context, opts SessionOptions) (*Outcome, error) {
	r := &run{s: s, opts: opts, outcome: &Outcome{Manifest: newManifest()}}
	r.enter(StateIdle)

	err := r.execute(ctx)
	if err != nil {
		r.enter(StateFailed)
		r.outcome.Status = LogFailed
		r.outcome.ExitCode = engine.ExitCodeFor(err)
	}
	r.enter(StateDone)

	entry := s.entry(r.outcome, opts, err)
	r.outcome.Entry = entry

	log := &Log{FS: s.FS, Path: s.Paths.Log}
	if logErr := log.Append(entry); logErr != nil {
		return r.outcome, errors.Join(err, engine.NewEnvironmentalError("failed to write apply log", logErr))
	}
	if s.Mirror != nil {
		if mirrorErr := s.Mirror.RecordApply(ctx, entry); mirrorErr != nil {
			s.reporter().Warn("Failed to mirror apply log entry.", map[string]any{"error": mirrorErr.Error()})
		}
	}
	return r.outcome, err
}

func (r *run) execute(ctx context.Context) error {
	s := r.s
	if s.Ready != nil && !r.opts.AllowDirty {
		if err := s.Ready(ctx); err != nil {
			return err
		}
	}

	plan, err := LoadPlan(s.FS, s.Paths.Plan)
	if errors.Is(err, ErrNoPlan) {
		r.enter(StateNoManifest)
		r.outcome.Status = LogSkipped
		r.outcome.ExitCode = engine.ExitSuccess
		s.reporter().Info("No patch plan found; nothing to apply.", map[string]any{"plan": s.Paths.Plan})
		return nil
	}
	if err != nil {
		return err
	}

	if !r.opts.Yes {
		r.enter(StatePreviewing)
		preview, err := workspace.DryRun(s.FS, func(string) (*Manifest, error) {
			return r.applier().Apply(plan, ApplyOptions{Force: r.opts.Force, Backup: r.opts.Backup})
		})
		if err != nil {
			return err
		}
		r.outcome.Preview = preview.Result

		r.enter(StateAwaitingConfirmation)
		if s.Prompter == nil {
			return engine.NewDeveloperError("apply requires a prompter unless --yes is set", nil)
		}
		confirmed, err := s.Prompter.Confirm(ctx, preview.Result)
		if err != nil {
			return err
		}
		if !confirmed {
			r.enter(StateCancelled)
			r.outcome.Status = LogCancelled
			r.outcome.ExitCode = engine.ExitSuccess
			return nil
		}
		r.enter(StateConfirmed)
	}

	r.enter(StateApplying)
	if err := s.FS.Begin(transactionLabel); err != nil {
		return err
	}
	manifest, cleanup, err := r.apply(plan)
	if err != nil {
		if rbErr := s.FS.Rollback(transactionLabel); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	changes, err := s.FS.Commit(transactionLabel)
	if err != nil {
		return err
	}

	r.enter(StateCompleted)
	r.outcome.Manifest = manifest
	r.outcome.Cleanup = cleanup
	r.outcome.Changes = changes
	r.outcome.Status = LogSuccess
	r.outcome.ExitCode = engine.ExitSuccess
	if manifest.Summary.Conflicts > 0 {
		r.outcome.Status = LogConflict
		if !r.opts.Force {
			r.outcome.ExitCode = engine.ExitValidationError
		}
	}
	return nil
}

func (r *run) applier() *Applier {
	return &Applier{FS: r.s.FS, Paths: r.s.Paths, Reporter: r.s.reporter()}
}

// apply runs cleanup and the plan inside the open transaction.
func (r *run) apply(plan *Plan) (*Manifest, *CleanupResult, error) {
	var cleanup *CleanupResult
	if len(r.opts.Cleanup) > 0 {
		result, err := Cleanup(r.s.FS, r.opts.Cleanup)
		if err != nil {
			return nil, nil, err
		}
		cleanup = result
	}

	manifest, err := r.applier().Apply(plan, ApplyOptions{Force: r.opts.Force, Backup: r.opts.Backup})
	if err != nil {
		return nil, nil, err
	}
	if r.s.Paths.Manifest != "" {
		if err := r.s.FS.WriteJSON(r.s.Paths.Manifest, manifest); err != nil {
			return nil, nil, err
		}
	}
	return manifest, cleanup, nil
}

func (s *Session) entry(o *Outcome, opts SessionOptions, err error) LogEntry {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	m := o.Manifest
	if m == nil {
		m = newManifest()
	}
	entry := LogEntry{
		ID:        uuid.NewString(),
		Version:   LogVersion,
		Timestamp: now().UTC(),
		Status:    o.Status,
		ExitCode:  o.ExitCode,
		Flags:     opts.flags(),
		Summary:   m.Summary,
		Records:   m.Records,
		Actions:   m.Actions,
		Cleanup:   o.Cleanup,
	}
	if err != nil {
		entry.Error = newLogError(err)
	}
	return entry
}
