package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
)

// ExtensionKey is the key the policy extension registers under.
const ExtensionKey = "wpk.policy"

// NewFromConfig builds an engine with the configured built-ins and the
// workspace policy files under root.
func NewFromConfig(ctx context.Context, logger zerolog.Logger, root string, cfg config.PolicyConfig) (*Engine, error) {
	e := NewEngine(logger)
	if cfg.Disabled {
		return e, nil
	}
	if err := e.LoadBuiltins(ctx, cfg.Builtins); err != nil {
		return nil, err
	}
	if err := e.LoadPolicies(ctx, root, cfg.Paths); err != nil {
		return nil, err
	}
	return e, nil
}

// Extension evaluates e against the finalized IR of every run. Blocking
// violations fail the hook, which rolls the run back; warnings are reported.
func Extension[C engine.RunContext, A any](e *Engine, irOf func(A) *ir.IR) engine.Extension[C, ir.Input, A] {
	return engine.Extension[C, ir.Input, A]{
		Key: ExtensionKey,
		Register: func(context.Context) (engine.Hook[C, ir.Input, A], error) {
			return func(ctx context.Context, opts engine.HookOptions[C, ir.Input, A]) engine.Maybe[engine.HookResult] {
				result, err := e.Evaluate(ctx, irOf(opts.Artifact))
				if err != nil {
					return engine.Reject[engine.HookResult](err)
				}
				for _, w := range result.Warnings {
					opts.Reporter.Warn("Policy warning.", map[string]any{
						"policy": w.Policy, "resource": w.Resource, "message": w.Message,
					})
				}
				if !result.Allowed {
					return engine.Reject[engine.HookResult](DeniedError(result.Violations))
				}
				opts.Reporter.Debug("Policies passed.", map[string]any{"policies": len(result.EvaluatedPolicies)})
				return engine.Resolve(engine.HookResult{})
			}, nil
		},
	}
}

// DeniedError summarizes blocking violations as a validation error.
func DeniedError(violations []Violation) *engine.KernelError {
	lines := make([]string, 0, len(violations))
	for _, v := range violations {
		lines = append(lines, fmt.Sprintf("[%s] %s", v.Policy, v.Message))
	}
	return engine.NewValidationError("Policy check failed:\n  - "+strings.Join(lines, "\n  - "), nil).
		WithCode(ErrCodePolicy).
		WithDetail("violations", violations)
}
