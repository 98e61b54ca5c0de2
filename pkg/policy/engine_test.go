package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
)

func testIR() *ir.IR {
	return &ir.IR{
		Meta: ir.Meta{Version: 1, Namespace: "acme-jobs", Sanitized: "AcmeJobs"},
		Resources: []ir.Resource{
			{
				Key:  "job",
				Name: "job",
				Routes: []ir.Route{
					{Kind: "list", Method: "GET", Path: "/acme-jobs/v1/jobs"},
					{Kind: "create", Method: "POST", Path: "/acme-jobs/v1/jobs", Capability: "job.manage"},
				},
			},
		},
	}
}

func newBuiltinEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(zerolog.Nop())
	if err := e.LoadBuiltins(context.Background(), nil); err != nil {
		t.Fatalf("LoadBuiltins() error = %v", err)
	}
	return e
}

func TestEngine_Builtins(t *testing.T) {
	e := newBuiltinEngine(t)

	var names []string
	for _, p := range e.ListPolicies() {
		names = append(names, p.Name)
	}
	want := []string{"guarded-writes", "resource-naming", "route-namespace"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestEngine_Evaluate(t *testing.T) {
	e := newBuiltinEngine(t)

	tests := []struct {
		name       string
		mutate     func(*ir.IR)
		allowed    bool
		violations []string
		warnings   []string
	}{
		{
			name:    "clean",
			allowed: true,
		},
		{
			name: "route outside namespace",
			mutate: func(m *ir.IR) {
				m.Resources[0].Routes[0].Path = "/other/v1/jobs"
			},
			violations: []string{"route-namespace"},
		},
		{
			name: "unguarded write",
			mutate: func(m *ir.IR) {
				m.Resources[0].Routes[1].Capability = ""
			},
			allowed:  true,
			warnings: []string{"guarded-writes"},
		},
		{
			name: "bad resource name",
			mutate: func(m *ir.IR) {
				m.Resources[0].Name = "Job_Listing"
			},
			violations: []string{"resource-naming"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := testIR()
			if tt.mutate != nil {
				tt.mutate(model)
			}
			result, err := e.Evaluate(context.Background(), model)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("expected allowed=%v, got %v (%+v)", tt.allowed, result.Allowed, result.Violations)
			}
			if got := policiesOf(result.Violations); got != strings.Join(tt.violations, ",") {
				t.Errorf("expected violations %v, got %s", tt.violations, got)
			}
			if got := policiesOf(result.Warnings); got != strings.Join(tt.warnings, ",") {
				t.Errorf("expected warnings %v, got %s", tt.warnings, got)
			}
			for _, v := range append(result.Violations, result.Warnings...) {
				if v.Resource != "job" {
					t.Errorf("expected violation about job, got %+v", v)
				}
			}
		})
	}
}

func policiesOf(vs []Violation) string {
	names := make([]string, 0, len(vs))
	for _, v := range vs {
		names = append(names, v.Policy)
	}
	return strings.Join(names, ",")
}

func TestEngine_CustomPolicySeverity(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	err := e.Add(context.Background(), Policy{
		Name: "frozen",
		Rego: `package acme.frozen

import rego.v1

deny contains "job is frozen" if {
	some r in input.resources
	r.key == "job"
}

deny contains {"message": "job is old", "severity": "warning"} if {
	some r in input.resources
	r.key == "job"
}`,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	result, err := e.Evaluate(context.Background(), testIR())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("expected a blocking violation")
	}
	if len(result.Violations) != 1 || result.Violations[0].Message != "job is frozen" || result.Violations[0].Severity != SeverityError {
		t.Errorf("unexpected violations %+v", result.Violations)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Message != "job is old" {
		t.Errorf("unexpected warnings %+v", result.Warnings)
	}
}

func TestEngine_Rejects(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	if err := e.Add(context.Background(), Policy{Name: "broken", Rego: "package x\n\ndeny contains"}); !engine.IsValidation(err) {
		t.Errorf("expected validation error for a broken policy, got %v", err)
	}
	if err := e.LoadBuiltins(context.Background(), []string{"nope"}); !engine.IsValidation(err) {
		t.Errorf("expected validation error for an unknown built-in, got %v", err)
	}
}

func TestExtension(t *testing.T) {
	e := newBuiltinEngine(t)
	ext := Extension[testRun, *ir.IR](e, func(m *ir.IR) *ir.IR { return m })
	hook, err := ext.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	reporter := &warnCounter{}
	ok := hook(context.Background(), engine.HookOptions[testRun, ir.Input, *ir.IR]{Artifact: testIR(), Reporter: reporter})
	if _, err, settled := ok.Settled(); !settled || err != nil {
		t.Fatalf("expected a settled success, got settled=%v err=%v", settled, err)
	}

	model := testIR()
	model.Resources[0].Routes[0].Path = "/elsewhere"
	model.Resources[0].Routes[1].Capability = ""
	denied := hook(context.Background(), engine.HookOptions[testRun, ir.Input, *ir.IR]{Artifact: model, Reporter: reporter})
	_, err, _ = denied.Settled()
	var kerr *engine.KernelError
	if !errors.As(err, &kerr) || kerr.Code != ErrCodePolicy {
		t.Fatalf("expected policy denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "[route-namespace]") {
		t.Errorf("expected denial to name the policy, got %v", err)
	}
	if reporter.warnings != 1 {
		t.Errorf("expected 1 warning, got %d", reporter.warnings)
	}
}

func TestNewFromConfig_Disabled(t *testing.T) {
	e, err := NewFromConfig(context.Background(), zerolog.Nop(), t.TempDir(), config.PolicyConfig{Disabled: true})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if len(e.ListPolicies()) != 0 {
		t.Errorf("expected no policies, got %d", len(e.ListPolicies()))
	}
}

type testRun struct{}

func (testRun) Reporter() engine.Reporter { return engine.NopReporter{} }

type warnCounter struct {
	engine.NopReporter
	warnings int
}

func (w *warnCounter) Warn(string, any) { w.warnings++ }
