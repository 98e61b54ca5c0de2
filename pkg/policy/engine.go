package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// ErrCodePolicy marks policy denials and broken policies.
const ErrCodePolicy = "POLICY_DENIED"

// Engine evaluates the deny sets of compiled Rego policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an empty policy engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
}

// Add compiles p and registers it under its name, replacing any policy of the same name.
func (e *Engine) Add(ctx context.Context, p Policy) error {
	module, err := ast.ParseModuleWithOpts(p.Name+".rego", p.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return engine.NewValidationError(fmt.Sprintf("policy %s does not parse", p.Name), err).
			WithCode(ErrCodePolicy).WithDetail("source", p.Source)
	}
	query := module.Package.Path.String() + ".deny"

	prepared, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return engine.NewValidationError(fmt.Sprintf("policy %s does not compile", p.Name), err).
			WithCode(ErrCodePolicy).WithDetail("source", p.Source)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = &compiledPolicy{policy: &p, query: prepared}
	e.logger.Debug().Str("policy", p.Name).Str("query", query).Msg("Policy compiled successfully")
	return nil
}

// LoadBuiltins registers the built-in policies named in names, or all of them when names is empty.
func (e *Engine) LoadBuiltins(ctx context.Context, names []string) error {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	for _, p := range Builtins() {
		if len(wanted) > 0 && !wanted[p.Name] {
			continue
		}
		delete(wanted, p.Name)
		if err := e.Add(ctx, p); err != nil {
			return err
		}
	}
	for n := range wanted {
		return engine.NewValidationError(fmt.Sprintf("unknown built-in policy %q", n), nil).WithCode(ErrCodePolicy)
	}
	return nil
}

// LoadPolicies loads and compiles policy files.
func (e *Engine) LoadPolicies(ctx context.Context, root string, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(root, paths)
	if err != nil {
		return err
	}
	for i := range policies {
		if err := e.Add(ctx, policies[i]); err != nil {
			return err
		}
	}
	e.logger.Debug().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

// ListPolicies returns the registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate runs every policy against input, which is exposed to Rego as
// input after a JSON round trip.
func (e *Engine) Evaluate(ctx context.Context, input any) (*Result, error) {
	start := time.Now()
	doc, err := toDocument(input)
	if err != nil {
		return nil, engine.NewUnexpectedError("failed to encode policy input", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &Result{Allowed: true, Violations: []Violation{}, Warnings: []Violation{}, EvaluatedPolicies: names}
	for _, name := range names {
		cp := e.policies[name]
		violations, err := evaluatePolicy(ctx, cp, doc)
		if err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("policy %s failed to evaluate", name), err).
				WithCode(ErrCodePolicy)
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("policies", len(names)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")
	return result, nil
}

func toDocument(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func evaluatePolicy(ctx context.Context, cp *compiledPolicy, input any) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

// createViolation accepts a bare message or an object with message, severity and resource.
func createViolation(p *Policy, entry any) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]any:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok && sev != "" {
			v.Severity = Severity(sev)
		}
		if res, ok := d["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}
