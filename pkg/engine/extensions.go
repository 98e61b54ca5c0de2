package engine

import (
	"context"
	"fmt"
)

// HookOptions is what an extension hook receives once per run.
type HookOptions[C, I, A any] struct {
	Context  C
	Input    I
	Artifact A
	Reporter Reporter
}

// HookResult carries the callbacks invoked after the builder phase.
// Commit runs when every builder succeeded; Rollback runs when a builder failed.
// Either may be nil.
type HookResult struct {
	Commit   func(ctx context.Context) Maybe[struct{}]
	Rollback func(ctx context.Context) Maybe[struct{}]
}

// Hook is the per-run function returned by Extension.Register.
type Hook[C, I, A any] func(ctx context.Context, opts HookOptions[C, I, A]) Maybe[HookResult]

// Extension wraps a pipeline run. Register is called once, by Pipeline.Use, and the
// returned hook is invoked on every run.
type Extension[C, I, A any] struct {
	Key      string
	Register func(ctx context.Context) (Hook[C, I, A], error)
}

type registeredExtension[C, I, A any] struct {
	key  string
	hook Hook[C, I, A]
}

// invokeHooks starts every hook without waiting for the previous one and settles when all have.
func invokeHooks[C, I, A any](
	ctx context.Context,
	extensions []registeredExtension[C, I, A],
	opts HookOptions[C, I, A],
) Maybe[[]HookResult] {
	pending := make([]Maybe[HookResult], 0, len(extensions))
	for _, ext := range extensions {
		hookOpts := opts
		hookOpts.Reporter = opts.Reporter.Child(ext.key)
		pending = append(pending, callHook(ctx, ext, hookOpts))
	}
	return All(pending)
}

func callHook[C, I, A any](ctx context.Context, ext registeredExtension[C, I, A], opts HookOptions[C, I, A]) Maybe[HookResult] {
	m := ext.hook(ctx, opts)
	return Handle(m, func(r HookResult, err error) Maybe[HookResult] {
		if err != nil {
			return Maybe[HookResult]{err: fmt.Errorf("extension %q failed: %w", ext.key, err)}
		}
		return Resolve(r)
	})
}

// commitHooks runs every Commit in registration order and stops at the first failure.
func commitHooks(ctx context.Context, results []HookResult) Maybe[struct{}] {
	var step func(int) Maybe[struct{}]
	step = func(i int) Maybe[struct{}] {
		for ; i < len(results); i++ {
			if results[i].Commit == nil {
				continue
			}
			m := results[i].Commit(ctx)
			if m.Deferred() {
				next := i + 1
				return Then(m, func(struct{}) Maybe[struct{}] { return step(next) })
			}
			if _, err, _ := m.Settled(); err != nil {
				return Failed(err)
			}
		}
		return Done()
	}
	return step(0)
}

// rollbackHooks runs every Rollback in registration order. A failing rollback is
// reported and does not stop the others.
func rollbackHooks(ctx context.Context, results []HookResult, reporter Reporter) Maybe[struct{}] {
	var step func(int) Maybe[struct{}]
	step = func(i int) Maybe[struct{}] {
		for ; i < len(results); i++ {
			if results[i].Rollback == nil {
				continue
			}
			m := results[i].Rollback(ctx)
			next := i + 1
			if m.Deferred() {
				return Handle(m, func(_ struct{}, err error) Maybe[struct{}] {
					if err != nil {
						reporter.Error("Extension rollback failed.", map[string]any{"error": err.Error()})
					}
					return step(next)
				})
			}
			if _, err, _ := m.Settled(); err != nil {
				reporter.Error("Extension rollback failed.", map[string]any{"error": err.Error()})
			}
		}
		return Done()
	}
	return step(0)
}
