package builders

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/patch"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

func jobsIR() *ir.IR {
	return &ir.IR{
		Meta: ir.Meta{Version: 1, Namespace: "acme-jobs", Sanitized: "AcmeJobs", SourcePath: "wpk.config.cue"},
		Schemas: []ir.Schema{
			{Key: "job", Provenance: ir.ProvenanceInline, Hash: "abc", Definition: map[string]any{"type": "object"}},
		},
		Resources: []ir.Resource{{
			Key:       "job",
			Name:      "job",
			SchemaKey: "job",
			Identity:  &ir.Identity{Type: "number", Param: "id"},
			Routes: []ir.Route{
				{Kind: "list", Method: "GET", Path: "/acme-jobs/v1/jobs"},
				{Kind: "get", Method: "GET", Path: "/acme-jobs/v1/jobs/(?P<id>\\d+)"},
				{Kind: "remove", Method: "DELETE", Path: "/acme-jobs/v1/jobs/(?P<id>\\d+)", Capability: "job.manage"},
			},
			Capabilities: []string{"job.manage"},
		}},
		Capabilities: []ir.Capability{{Key: "job.manage", Capability: "manage_options", Resources: []string{"job"}}},
		Blocks:       []ir.Block{{Name: "acme-jobs/job", Title: "Job", Resource: "job", Mode: "ssr"}},
		Annotations:  map[string]map[string]any{},
	}
}

func newInput(t *testing.T) ir.Input {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return ir.Input{Workspace: ws, Layout: layout.Default()}
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
}

func queued(t *testing.T, a *Artifact, file string) patch.GeneratedFile {
	t.Helper()
	for _, f := range a.Output.Files() {
		if f.File == file {
			return f
		}
	}
	t.Fatalf("%s was not queued", file)
	return patch.GeneratedFile{}
}

func TestBuildResourcesTS(t *testing.T) {
	in := newInput(t)
	a := NewArtifact(jobsIR())
	require.NoError(t, buildResourcesTS(context.Background(), in, a, engine.NopReporter{}))

	body, err := in.Workspace.Read(".generated/ui/resources/job.ts")
	require.NoError(t, err)
	golden(t).Assert(t, "resource_ts", body)

	shim := queued(t, a, "src/resources/job.ts")
	assert.Equal(t, "export { jobResource } from \"../../.generated/ui/resources/job\";\n", string(shim.Contents))
	assert.Equal(t, "Resource descriptor for job", shim.Description)
}

func TestBuildRestPHP(t *testing.T) {
	in := newInput(t)
	a := NewArtifact(jobsIR())
	require.NoError(t, buildRestPHP(context.Background(), in, a, engine.NopReporter{}))

	body, err := in.Workspace.Read(".generated/php/Rest/JobControllerBase.php")
	require.NoError(t, err)
	golden(t).Assert(t, "controller_php", body)

	shim := queued(t, a, "inc/Rest/JobController.php")
	golden(t).Assert(t, "controller_shim_php", shim.Contents)
}

func TestBuildCapabilitiesAndManifest(t *testing.T) {
	in := newInput(t)
	a := NewArtifact(jobsIR())
	require.NoError(t, buildCapabilities(context.Background(), in, a, engine.NopReporter{}))
	require.NoError(t, buildManifest(context.Background(), in, a, engine.NopReporter{}))

	data, err := in.Workspace.Read(".generated/php/capabilities.json")
	require.NoError(t, err)
	var caps map[string]capabilityEntry
	require.NoError(t, json.Unmarshal(data, &caps))
	assert.Equal(t, capabilityEntry{Capability: "manage_options", Resources: []string{"job"}}, caps["job.manage"])

	data, err = in.Workspace.Read(".generated/wpk.ir.json")
	require.NoError(t, err)
	var snapshot ir.IR
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "AcmeJobs", snapshot.Meta.Sanitized)
	assert.Len(t, snapshot.Resources, 1)
	assert.Empty(t, a.Output.Files())
}

func TestBuildBlocks(t *testing.T) {
	in := newInput(t)
	a := NewArtifact(jobsIR())
	require.NoError(t, buildBlocks(context.Background(), in, a, engine.NopReporter{}))

	f := queued(t, a, "src/blocks/job/block.json")
	var meta blockMetadata
	require.NoError(t, json.Unmarshal(f.Contents, &meta))
	assert.Equal(t, "acme-jobs/job", meta.Name)
	assert.Equal(t, "file:./render.php", meta.Render)
	assert.Equal(t, 3, meta.APIVersion)
}

func TestBuildPatchPlan(t *testing.T) {
	in := newInput(t)
	a := NewArtifact(jobsIR())
	for _, fn := range []builderFunc{buildResourcesTS, buildRestPHP, buildBlocks, buildPatchPlan} {
		require.NoError(t, fn(context.Background(), in, a, engine.NopReporter{}))
	}

	require.NotNil(t, a.Plan)
	files := make([]string, 0, len(a.Plan.Instructions))
	for _, inst := range a.Plan.Instructions {
		assert.Equal(t, patch.ActionWrite, inst.Action)
		assert.Empty(t, inst.Base)
		files = append(files, inst.File)
	}
	assert.Equal(t, []string{"inc/Rest/JobController.php", "src/blocks/job/block.json", "src/resources/job.ts"}, files)

	exists, err := in.Workspace.Exists(".wpk/apply/plan.json")
	require.NoError(t, err)
	assert.True(t, exists)
	incoming, err := in.Workspace.Read(".wpk/apply/incoming/src/resources/job.ts")
	require.NoError(t, err)
	assert.Equal(t, queued(t, a, "src/resources/job.ts").Contents, incoming)
}

func TestOutputQueue(t *testing.T) {
	o := NewOutput()
	require.NoError(t, o.Queue("./src/a.ts", []byte("a"), "A"))
	err := o.Queue("src/a.ts", []byte("b"), "B")
	assert.True(t, engine.IsDeveloper(err))
	assert.True(t, engine.IsValidation(o.Queue("../escape.ts", nil, "")))
	assert.Equal(t, "src/a.ts", o.Files()[0].File)
}

func TestSplitRoute(t *testing.T) {
	ns, route := splitRoute("/acme-jobs/v1/jobs/(?P<id>\\d+)")
	assert.Equal(t, "acme-jobs/v1", ns)
	assert.Equal(t, "/jobs/(?P<id>\\d+)", route)

	ns, route = splitRoute("/acme-jobs/v1")
	assert.Equal(t, "acme-jobs/v1", ns)
	assert.Equal(t, "/", route)
}

func TestBuildersRegister(t *testing.T) {
	keys := make([]string, 0)
	for _, h := range Builders[testRun]() {
		keys = append(keys, h.Key)
	}
	assert.Equal(t, []string{KeyManifest, KeyResourcesTS, KeyRestPHP, KeyCapabilities, KeyBlocks, KeyPatchPlan}, keys)
}

type testRun struct{}

func (testRun) Reporter() engine.Reporter { return engine.NopReporter{} }
