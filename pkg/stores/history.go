package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
)

// HistoryExtensionKey is the key the history extension registers under.
const HistoryExtensionKey = "wpk.history"

// RunInfo is the per-run context the history extension records.
type RunInfo interface {
	engine.RunContext
	RunID() string
	Command() string
	DryRun() bool
}

// HistoryExtension records every pipeline run in store. The run is inserted
// as pending when the hook fires, then completed on commit or failed on
// rollback. Each transition is audited.
func HistoryExtension[C RunInfo, A any](store Store, irOf func(A) *ir.IR) engine.Extension[C, ir.Input, A] {
	return engine.Extension[C, ir.Input, A]{
		Key: HistoryExtensionKey,
		Register: func(context.Context) (engine.Hook[C, ir.Input, A], error) {
			return func(ctx context.Context, opts engine.HookOptions[C, ir.Input, A]) engine.Maybe[engine.HookResult] {
				model := irOf(opts.Artifact)
				meta, err := json.Marshal(map[string]any{
					"resources": len(model.Resources),
					"schemas":   len(model.Schemas),
					"source":    model.Meta.SourcePath,
				})
				if err != nil {
					return engine.Reject[engine.HookResult](engine.NewUnexpectedError("failed to encode run metadata", err))
				}

				runID := opts.Context.RunID()
				run := &Run{
					ID:        runID,
					Command:   opts.Context.Command(),
					Namespace: model.Meta.Namespace,
					Status:    RunStatusPending,
					DryRun:    opts.Context.DryRun(),
					StartedAt: time.Now().UTC(),
					Metadata:  string(meta),
				}
				if err := store.CreateRun(ctx, run); err != nil {
					return engine.Reject[engine.HookResult](engine.NewEnvironmentalError("failed to record run", err))
				}
				opts.Reporter.Debug("Run recorded.", map[string]any{"run_id": runID})

				finish := func(ctx context.Context, status RunStatus, reason *string) engine.Maybe[struct{}] {
					if err := store.UpdateRunStatus(ctx, runID, status, reason); err != nil {
						return engine.Failed(engine.NewEnvironmentalError("failed to update run "+runID, err))
					}
					target := runID
					if err := store.CreateAuditEntry(ctx, &AuditEntry{
						Action:   "run." + string(status),
						Actor:    actor(),
						TargetID: &target,
					}); err != nil {
						return engine.Failed(engine.NewEnvironmentalError("failed to audit run "+runID, err))
					}
					return engine.Done()
				}

				return engine.Resolve(engine.HookResult{
					Commit: func(ctx context.Context) engine.Maybe[struct{}] {
						return finish(ctx, RunStatusCompleted, nil)
					},
					Rollback: func(ctx context.Context) engine.Maybe[struct{}] {
						reason := "rolled back"
						return finish(ctx, RunStatusFailed, &reason)
					},
				})
			}, nil
		},
	}
}
