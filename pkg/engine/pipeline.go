package engine

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config supplies the factories a pipeline calls on every run.
type Config[C RunContext, I, D, A any] struct {
	// CreateContext builds a fresh per-run context. Its Reporter receives diagnostics.
	CreateContext func(ctx context.Context, input I) (C, error)

	// CreateDraft builds the fresh mutable draft fragments write into.
	CreateDraft func(runCtx C, input I) D

	// Finalize converts the draft into the artifact builders receive. It must be pure.
	Finalize func(runCtx C, input I, draft D) A

	// FragmentEntryKeys and BuilderEntryKeys are phase-entry keys; see ResolveOptions.EntryKeys.
	FragmentEntryKeys []string
	BuilderEntryKeys  []string

	// Tracer, when set, opens one span per helper invocation.
	Tracer trace.Tracer
}

// Pipeline owns helper registration and runs fragments then builders in dependency order.
// A pipeline may run many times but runs must not overlap.
type Pipeline[C RunContext, I, D, A any] struct {
	cfg Config[C, I, D, A]

	mu         sync.RWMutex
	fragments  helperSet[C, I, D]
	builders   helperSet[C, I, A]
	extensions []registeredExtension[C, I, A]
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline[C RunContext, I, D, A any](cfg Config[C, I, D, A]) (*Pipeline[C, I, D, A], error) {
	if cfg.CreateContext == nil || cfg.CreateDraft == nil || cfg.Finalize == nil {
		return nil, NewDeveloperError("pipeline requires CreateContext, CreateDraft and Finalize", nil)
	}
	return &Pipeline[C, I, D, A]{
		cfg:       cfg,
		fragments: helperSet[C, I, D]{kind: HelperKindFragment},
		builders:  helperSet[C, I, A]{kind: HelperKindBuilder},
	}, nil
}

// RegisterFragment registers a fragment helper.
func (p *Pipeline[C, I, D, A]) RegisterFragment(h Helper[C, I, D]) error {
	if h.Kind == "" {
		h.Kind = HelperKindFragment
	}
	if err := h.validate(HelperKindFragment); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fragments.add(h)
	return nil
}

// RegisterBuilder registers a builder helper.
func (p *Pipeline[C, I, D, A]) RegisterBuilder(h Helper[C, I, A]) error {
	if h.Kind == "" {
		h.Kind = HelperKindBuilder
	}
	if err := h.validate(HelperKindBuilder); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.builders.add(h)
	return nil
}

// Use registers an extension. Register is called immediately and only once.
func (p *Pipeline[C, I, D, A]) Use(ctx context.Context, ext Extension[C, I, A]) error {
	if ext.Key == "" || ext.Register == nil {
		return NewDeveloperError("extension requires a key and a register function", nil)
	}

	p.mu.RLock()
	for _, existing := range p.extensions {
		if existing.key == ext.Key {
			p.mu.RUnlock()
			return NewDeveloperError(fmt.Sprintf("extension %q already registered", ext.Key), nil)
		}
	}
	p.mu.RUnlock()

	hook, err := ext.Register(ctx)
	if err != nil {
		return fmt.Errorf("failed to register extension %s: %w", ext.Key, err)
	}
	if hook == nil {
		return NewDeveloperError(fmt.Sprintf("extension %q returned no hook", ext.Key), nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.extensions = append(p.extensions, registeredExtension[C, I, A]{key: ext.Key, hook: hook})
	return nil
}

// executionPlan is the ordered helper set for one run.
type executionPlan[C RunContext, I, D, A any] struct {
	fragments   []Helper[C, I, D]
	builders    []Helper[C, I, A]
	extensions  []registeredExtension[C, I, A]
	diagnostics []Diagnostic
}

// plan snapshots registrations and resolves both phases. Diagnostics are returned
// even when err is set so callers can report them before failing.
func (p *Pipeline[C, I, D, A]) plan() (*executionPlan[C, I, D, A], error) {
	p.mu.RLock()
	fragments, fragmentConflicts := p.fragments.snapshot()
	builders, builderConflicts := p.builders.snapshot()
	extensions := append([]registeredExtension[C, I, A](nil), p.extensions...)
	p.mu.RUnlock()

	plan := &executionPlan[C, I, D, A]{extensions: extensions}
	plan.diagnostics = append(plan.diagnostics, fragmentConflicts...)
	plan.diagnostics = append(plan.diagnostics, builderConflicts...)

	fragmentKeys := make([]string, 0, len(fragments))
	for _, h := range fragments {
		fragmentKeys = append(fragmentKeys, h.Key)
	}
	builderRefs := make([]string, 0)
	for _, h := range builders {
		builderRefs = append(builderRefs, h.DependsOn...)
	}

	fragmentRes, fragmentErr := ResolveHelpers(fragments, ResolveOptions{
		EntryKeys:          p.cfg.FragmentEntryKeys,
		ExternalReferences: builderRefs,
	})
	builderRes, builderErr := ResolveHelpers(builders, ResolveOptions{
		Upstream:  fragmentKeys,
		EntryKeys: p.cfg.BuilderEntryKeys,
	})
	plan.diagnostics = append(plan.diagnostics, fragmentRes.Diagnostics...)
	plan.diagnostics = append(plan.diagnostics, builderRes.Diagnostics...)

	if len(fragmentRes.Missing) > 0 || len(builderRes.Missing) > 0 {
		missing := append(append([]MissingDependency(nil), fragmentRes.Missing...), builderRes.Missing...)
		return plan, newMissingDependencyError(missing)
	}
	if fragmentErr != nil {
		return plan, fragmentErr
	}
	if builderErr != nil {
		return plan, builderErr
	}

	plan.fragments = fragmentRes.Order
	plan.builders = builderRes.Order
	return plan, nil
}

// runState accumulates the trace of one run. Phases run strictly one helper at a
// time, so access is ordered by the Maybe chain.
type runState struct {
	steps []Step
}

// Run executes one pipeline run.
//
// If every fragment, builder, hook, commit and rollback completes synchronously the
// returned Maybe is settled and no goroutine was started. Otherwise the returned
// Maybe is deferred and settles when the run finishes.
func (p *Pipeline[C, I, D, A]) Run(ctx context.Context, input I) Maybe[*RunResult[A]] {
	runCtx, err := p.cfg.CreateContext(ctx, input)
	if err != nil {
		return Reject[*RunResult[A]](fmt.Errorf("failed to create pipeline context: %w", err))
	}
	reporter := runCtx.Reporter()
	if reporter == nil {
		reporter = NopReporter{}
	}

	plan, err := p.plan()
	for _, diagnostic := range plan.diagnostics {
		reporter.Warn(DiagnosticMessage, diagnostic)
	}
	if err != nil {
		return Reject[*RunResult[A]](err)
	}

	state := &runState{}
	draft := p.cfg.CreateDraft(runCtx, input)

	fragmentPhase := runPhase(ctx, p.cfg.Tracer, plan.fragments, state, func(h Helper[C, I, D]) ApplyArgs[C, I, D] {
		return ApplyArgs[C, I, D]{Context: runCtx, Input: input, Output: draft, Reporter: reporter.Child(h.Key)}
	})

	return Then(fragmentPhase, func(struct{}) Maybe[*RunResult[A]] {
		artifact := p.cfg.Finalize(runCtx, input, draft)

		hooks := invokeHooks(ctx, plan.extensions, HookOptions[C, I, A]{
			Context:  runCtx,
			Input:    input,
			Artifact: artifact,
			Reporter: reporter,
		})

		return Handle(hooks, func(results []HookResult, hookErr error) Maybe[*RunResult[A]] {
			if hookErr != nil {
				return rollbackThenFail[A](ctx, results, reporter, hookErr)
			}

			builderPhase := runPhase(ctx, p.cfg.Tracer, plan.builders, state, func(h Helper[C, I, A]) ApplyArgs[C, I, A] {
				return ApplyArgs[C, I, A]{Context: runCtx, Input: input, Output: artifact, Reporter: reporter.Child(h.Key)}
			})

			return Handle(builderPhase, func(_ struct{}, buildErr error) Maybe[*RunResult[A]] {
				if buildErr != nil {
					return rollbackThenFail[A](ctx, results, reporter, buildErr)
				}
				return Then(commitHooks(ctx, results), func(struct{}) Maybe[*RunResult[A]] {
					return Resolve(newRunResult(artifact, plan.diagnostics, state.steps))
				})
			})
		})
	})
}

func rollbackThenFail[A any](ctx context.Context, results []HookResult, reporter Reporter, cause error) Maybe[*RunResult[A]] {
	return Then(rollbackHooks(ctx, results, reporter), func(struct{}) Maybe[*RunResult[A]] {
		return Reject[*RunResult[A]](cause)
	})
}

// runPhase invokes helpers in order. A settled helper is followed immediately by the
// next; a deferred helper turns the rest of the phase into its continuation.
func runPhase[C, I, O any](
	ctx context.Context,
	tracer trace.Tracer,
	helpers []Helper[C, I, O],
	state *runState,
	argsFor func(Helper[C, I, O]) ApplyArgs[C, I, O],
) Maybe[struct{}] {
	var from func(int) Maybe[struct{}]
	from = func(i int) Maybe[struct{}] {
		for ; i < len(helpers); i++ {
			h := helpers[i]
			state.steps = append(state.steps, Step{Key: h.Key, Kind: h.Kind})

			m := invokeHelper(ctx, tracer, h, argsFor(h))
			if m.Deferred() {
				next := i + 1
				return Then(m, func(struct{}) Maybe[struct{}] { return from(next) })
			}
			if _, err, _ := m.Settled(); err != nil {
				return Failed(err)
			}
		}
		return Done()
	}
	return from(0)
}

func invokeHelper[C, I, O any](ctx context.Context, tracer trace.Tracer, h Helper[C, I, O], args ApplyArgs[C, I, O]) Maybe[struct{}] {
	if tracer == nil {
		return wrapHelperError(h, h.Apply(ctx, args))
	}

	spanCtx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", h.Kind, h.Key),
		trace.WithAttributes(
			attribute.String("helper.key", h.Key),
			attribute.String("helper.kind", string(h.Kind)),
		),
	)
	m := wrapHelperError(h, h.Apply(spanCtx, args))
	return Handle(m, func(v struct{}, err error) Maybe[struct{}] {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		return Maybe[struct{}]{value: v, err: err}
	})
}

// wrapHelperError annotates unclassified helper errors with the helper key.
// Classified errors pass through unchanged.
func wrapHelperError[C, I, O any](h Helper[C, I, O], m Maybe[struct{}]) Maybe[struct{}] {
	return Handle(m, func(v struct{}, err error) Maybe[struct{}] {
		if err == nil {
			return Resolve(v)
		}
		if _, classified := classOf(err); classified {
			return Failed(err)
		}
		return Failed(fmt.Errorf("%s helper %s failed: %w", h.Kind, h.Key, err))
	})
}
