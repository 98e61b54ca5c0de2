package generate

import (
	"context"

	"github.com/wpkernel/wpkernel-sub000/pkg/builders"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

const (
	// TransactionExtensionKey is the key the transaction extension registers under.
	TransactionExtensionKey = "wpk.transaction"

	// TransactionLabel labels the workspace transaction of a generation run.
	TransactionLabel = "generate"
)

// TransactionExtension opens the generate transaction before the builder
// phase, commits it when every builder succeeded and rolls it back otherwise.
// It must be registered before any extension whose commit depends on the
// files being on disk.
func TransactionExtension(ws workspace.FS) engine.Extension[*RunContext, ir.Input, *builders.Artifact] {
	return engine.Extension[*RunContext, ir.Input, *builders.Artifact]{
		Key: TransactionExtensionKey,
		Register: func(context.Context) (engine.Hook[*RunContext, ir.Input, *builders.Artifact], error) {
			return func(_ context.Context, opts engine.HookOptions[*RunContext, ir.Input, *builders.Artifact]) engine.Maybe[engine.HookResult] {
				if err := ws.Begin(TransactionLabel); err != nil {
					return engine.Reject[engine.HookResult](err)
				}
				reporter := opts.Reporter
				runCtx := opts.Context

				return engine.Resolve(engine.HookResult{
					Commit: func(context.Context) engine.Maybe[struct{}] {
						changes, err := ws.Commit(TransactionLabel)
						if err != nil {
							return engine.Failed(err)
						}
						runCtx.setChanges(changes)
						reporter.Debug("Generate transaction committed.", map[string]any{
							"writes": len(changes.Writes), "deletes": len(changes.Deletes),
						})
						return engine.Done()
					},
					Rollback: func(context.Context) engine.Maybe[struct{}] {
						if err := ws.Rollback(TransactionLabel); err != nil {
							return engine.Failed(err)
						}
						reporter.Debug("Generate transaction rolled back.", nil)
						return engine.Done()
					},
				})
			}, nil
		},
	}
}
