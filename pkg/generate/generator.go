package generate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/wpkernel/wpkernel-sub000/pkg/builders"
	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/patch"
	"github.com/wpkernel/wpkernel-sub000/pkg/telemetry"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// Pipeline is the generation pipeline type.
type Pipeline = engine.Pipeline[*RunContext, ir.Input, *ir.Draft, *builders.Artifact]

// Extension is an extension of the generation pipeline.
type Extension = engine.Extension[*RunContext, ir.Input, *builders.Artifact]

// EntryStatus is the outcome of one workspace path in a summary.
type EntryStatus string

const (
	EntryWritten EntryStatus = "written"
	EntryDeleted EntryStatus = "deleted"
	EntrySkipped EntryStatus = "skipped"
)

// ReasonDryRun marks entries a dry run did not write.
const ReasonDryRun = "dry-run"

// Entry is one workspace path touched by a run.
type Entry struct {
	File   string      `json:"file"`
	Status EntryStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Summary is the result of one Generator.Run.
type Summary struct {
	RunID       string              `json:"runId"`
	DryRun      bool                `json:"dryRun"`
	Entries     []Entry             `json:"entries"`
	Steps       []engine.Step       `json:"steps"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
	Plan        *patch.Plan         `json:"plan,omitempty"`
}

// Options are the generate command flags.
type Options struct {
	DryRun     bool
	AllowDirty bool
}

// Generator loads the configuration and runs the generation pipeline over a workspace.
type Generator struct {
	Workspace workspace.FS
	Loader    *config.Loader

	// ConfigPath overrides configuration discovery.
	ConfigPath string

	// Layout defaults to layout.Default().
	Layout *layout.Manifest

	Reporter engine.Reporter
	Tracer   trace.Tracer
	Metrics  *telemetry.Metrics
	Scripts  *ir.ScriptRunner

	// Extensions run after the transaction extension, in order.
	Extensions []Extension

	// Ready, when set, checks the workspace before anything is generated.
	// It is skipped with AllowDirty.
	Ready func(ctx context.Context) error
}

// NewPipeline assembles the core fragments and builders with the transaction
// extension followed by extra.
func NewPipeline(ctx context.Context, ws workspace.FS, runCtx *RunContext, opts ir.Options, tracer trace.Tracer, extra ...Extension) (*Pipeline, error) {
	p, err := engine.NewPipeline(engine.Config[*RunContext, ir.Input, *ir.Draft, *builders.Artifact]{
		CreateContext: func(context.Context, ir.Input) (*RunContext, error) {
			return runCtx, nil
		},
		CreateDraft: func(*RunContext, ir.Input) *ir.Draft {
			return ir.NewDraft()
		},
		Finalize: func(_ *RunContext, _ ir.Input, d *ir.Draft) *builders.Artifact {
			return builders.NewArtifact(ir.Finalize(d))
		},
		FragmentEntryKeys: ir.EntryKeys,
		BuilderEntryKeys:  builders.EntryKeys,
		Tracer:            tracer,
	})
	if err != nil {
		return nil, err
	}

	for _, h := range ir.Fragments[*RunContext](opts) {
		if err := p.RegisterFragment(h); err != nil {
			return nil, err
		}
	}
	for _, h := range builders.Builders[*RunContext]() {
		if err := p.RegisterBuilder(h); err != nil {
			return nil, err
		}
	}

	extensions := append([]Extension{TransactionExtension(ws)}, extra...)
	for _, ext := range extensions {
		if err := p.Use(ctx, ext); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ArtifactIR returns the IR of a generation artifact.
func ArtifactIR(a *builders.Artifact) *ir.IR {
	return a.IR
}

// Run generates once. With DryRun the run happens inside a throwaway
// transaction and every path it would have touched is reported as skipped.
func (g *Generator) Run(ctx context.Context, opts Options) (summary *Summary, err error) {
	timer := telemetry.NewTimer()
	defer func() { g.record(summary, err, timer.Duration()) }()

	reporter := g.Reporter
	if reporter == nil {
		reporter = engine.NopReporter{}
	}

	if g.Ready != nil && !opts.AllowDirty {
		if err := g.Ready(ctx); err != nil {
			return nil, err
		}
	}

	loader := g.Loader
	if loader == nil {
		if loader, err = config.NewLoader(); err != nil {
			return nil, err
		}
	}
	loaded, err := loader.Load(g.Workspace.Root(), g.ConfigPath)
	if err != nil {
		return nil, err
	}

	runCtx := &RunContext{reporter: reporter, runID: uuid.NewString(), dryRun: opts.DryRun}
	p, err := NewPipeline(ctx, g.Workspace, runCtx, ir.Options{Scripts: g.Scripts}, g.Tracer, g.Extensions...)
	if err != nil {
		return nil, err
	}

	manifest := g.Layout
	if manifest == nil {
		manifest = layout.Default()
	}
	input := ir.Input{
		Config:     loaded.Config,
		SourcePath: loaded.SourcePath,
		Workspace:  g.Workspace,
		Layout:     manifest,
	}

	reporter.Debug("Generation started.", map[string]any{
		"run_id": runCtx.runID, "config": loaded.SourcePath, "dry_run": opts.DryRun,
	})

	summary = &Summary{RunID: runCtx.runID, DryRun: opts.DryRun, Entries: []Entry{}}
	if opts.DryRun {
		preview, err := workspace.DryRun(g.Workspace, func(string) (*engine.RunResult[*builders.Artifact], error) {
			return p.Run(ctx, input).Await(ctx)
		})
		if err != nil {
			return nil, err
		}
		summary.fill(preview.Result)
		for _, file := range preview.Manifest.Writes {
			summary.Entries = append(summary.Entries, Entry{File: file, Status: EntrySkipped, Reason: ReasonDryRun})
		}
		for _, file := range preview.Manifest.Deletes {
			summary.Entries = append(summary.Entries, Entry{File: file, Status: EntrySkipped, Reason: ReasonDryRun})
		}
		return summary, nil
	}

	result, err := p.Run(ctx, input).Await(ctx)
	if err != nil {
		return nil, err
	}
	summary.fill(result)
	changes := runCtx.Changes()
	for _, file := range changes.Writes {
		summary.Entries = append(summary.Entries, Entry{File: file, Status: EntryWritten})
	}
	for _, file := range changes.Deletes {
		summary.Entries = append(summary.Entries, Entry{File: file, Status: EntryDeleted})
	}
	reporter.Info("Generation completed.", map[string]any{"run_id": runCtx.runID, "files": len(summary.Entries)})
	return summary, nil
}

func (s *Summary) fill(result *engine.RunResult[*builders.Artifact]) {
	if result == nil {
		return
	}
	s.Steps = result.Steps
	s.Diagnostics = result.Diagnostics
	if result.Artifact != nil {
		s.Plan = result.Artifact.Plan
	}
}

func (g *Generator) record(summary *Summary, err error, d time.Duration) {
	if g.Metrics == nil {
		return
	}
	if err != nil {
		g.Metrics.RecordRun(Command, "failure", d)
		g.Metrics.RecordError(string(engine.ClassOf(err)))
		return
	}
	g.Metrics.RecordRun(Command, "success", d)

	counts := map[engine.HelperKind]int{}
	for _, step := range summary.Steps {
		counts[step.Kind]++
	}
	for kind, n := range counts {
		g.Metrics.RecordHelperSteps(string(kind), n)
	}
	for _, diagnostic := range summary.Diagnostics {
		g.Metrics.RecordDiagnostic(string(diagnostic.Type))
	}
}
