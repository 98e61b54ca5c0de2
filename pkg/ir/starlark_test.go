package ir

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

func testView() map[string]any {
	return map[string]any{
		"namespace": "acme-jobs",
		"version":   1,
		"resources": []any{
			map[string]any{"key": "job", "name": "job", "capabilities": []string{"job.view"}},
			map[string]any{"key": "task", "name": "task", "capabilities": []string{}},
		},
	}
}

func annotate(t *testing.T, r *ScriptRunner, src string) (map[string]any, error) {
	t.Helper()
	return r.Annotate(context.Background(), Script{Name: "test", Filename: "test.star", Source: []byte(src)}, testView(), engine.NopReporter{})
}

func TestScriptRunner_Annotate(t *testing.T) {
	out, err := annotate(t, &ScriptRunner{}, `
def annotate(ir):
    keys = [r.key for r in ir.resources if len(r.capabilities) > 0]
    print("guarded", keys)
    return {
        "namespace": ir.namespace,
        "guarded": keys,
        "count": len(ir.resources),
        "meta": struct(owner = "ops"),
    }
`)
	require.NoError(t, err)
	assert.Equal(t, "acme-jobs", out["namespace"])
	assert.Equal(t, []any{"job"}, out["guarded"])
	assert.Equal(t, int64(2), out["count"])
	assert.Equal(t, map[string]any{"owner": "ops"}, out["meta"])
}

func TestScriptRunner_AnnotateRejects(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		contains string
	}{
		{name: "no annotate", src: "x = 1\n", contains: "does not define annotate"},
		{name: "not a dict", src: "def annotate(ir):\n    return [1]\n", contains: "must return a dict"},
		{name: "syntax", src: "def annotate(ir)\n", contains: "script test failed"},
		{name: "runtime", src: "def annotate(ir):\n    return {\"x\": ir.missing}\n", contains: "missing"},
		{name: "non-string key", src: "def annotate(ir):\n    return {1: 2}\n", contains: "dict keys must be strings"},
		{name: "load", src: "load(\"other.star\", \"x\")\ndef annotate(ir):\n    return {}\n", contains: "script test failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := annotate(t, &ScriptRunner{}, tt.src)
			require.Error(t, err)
			assert.True(t, engine.IsValidation(err), "expected validation error, got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

const spin = `
def annotate(ir):
    total = 0
    for i in range(1000000000):
        total += i
    return {"total": total}
`

func TestScriptRunner_StepLimit(t *testing.T) {
	_, err := annotate(t, &ScriptRunner{MaxSteps: 1000}, spin)
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Contains(t, err.Error(), "too many steps")
}

func TestScriptRunner_Timeout(t *testing.T) {
	_, err := annotate(t, &ScriptRunner{Timeout: 20 * time.Millisecond, MaxSteps: 1 << 40}, spin)
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Contains(t, err.Error(), "cancelled")
}
