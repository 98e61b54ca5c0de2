package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordedEntry struct {
	Level   string
	Message string
	Fields  any
}

type recordingReporter struct {
	mu      sync.Mutex
	entries *[]recordedEntry
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{entries: &[]recordedEntry{}}
}

func (r *recordingReporter) record(level, msg string, fields any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, recordedEntry{Level: level, Message: msg, Fields: fields})
}

func (r *recordingReporter) Debug(msg string, fields any) { r.record("debug", msg, fields) }
func (r *recordingReporter) Info(msg string, fields any)  { r.record("info", msg, fields) }
func (r *recordingReporter) Warn(msg string, fields any)  { r.record("warn", msg, fields) }
func (r *recordingReporter) Error(msg string, fields any) { r.record("error", msg, fields) }
func (r *recordingReporter) Child(string) Reporter        { return r }

func (r *recordingReporter) warnings() []recordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEntry, 0)
	for _, e := range *r.entries {
		if e.Level == "warn" {
			out = append(out, e)
		}
	}
	return out
}

type testContext struct {
	reporter Reporter
}

func (c testContext) Reporter() Reporter { return c.reporter }

type testInput struct {
	Reporter Reporter
}

type testDraft struct {
	mu     sync.Mutex
	Values []string
}

type testArtifact struct {
	mu     sync.Mutex
	Values []string
	Built  []string
}

func (a *testArtifact) build(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Built = append(a.Built, key)
}

type testPipeline = Pipeline[testContext, testInput, *testDraft, *testArtifact]

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	p, err := NewPipeline(Config[testContext, testInput, *testDraft, *testArtifact]{
		CreateContext: func(_ context.Context, in testInput) (testContext, error) {
			return testContext{reporter: in.Reporter}, nil
		},
		CreateDraft: func(testContext, testInput) *testDraft { return &testDraft{} },
		Finalize: func(_ testContext, _ testInput, d *testDraft) *testArtifact {
			return &testArtifact{Values: append([]string(nil), d.Values...)}
		},
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p
}

func syncFragment(key string, deps ...string) Helper[testContext, testInput, *testDraft] {
	return Helper[testContext, testInput, *testDraft]{
		Key:       key,
		DependsOn: deps,
		Apply: func(_ context.Context, args ApplyArgs[testContext, testInput, *testDraft]) Maybe[struct{}] {
			args.Output.mu.Lock()
			defer args.Output.mu.Unlock()
			args.Output.Values = append(args.Output.Values, key)
			return Done()
		},
	}
}

func asyncFragment(key string, deps ...string) Helper[testContext, testInput, *testDraft] {
	return Helper[testContext, testInput, *testDraft]{
		Key:       key,
		DependsOn: deps,
		Apply: func(_ context.Context, args ApplyArgs[testContext, testInput, *testDraft]) Maybe[struct{}] {
			return Async(func() error {
				time.Sleep(5 * time.Millisecond)
				args.Output.mu.Lock()
				defer args.Output.mu.Unlock()
				args.Output.Values = append(args.Output.Values, key)
				return nil
			})
		},
	}
}

func syncBuilder(key string, deps ...string) Helper[testContext, testInput, *testArtifact] {
	return Helper[testContext, testInput, *testArtifact]{
		Key:       key,
		DependsOn: deps,
		Apply: func(_ context.Context, args ApplyArgs[testContext, testInput, *testArtifact]) Maybe[struct{}] {
			args.Output.build(key)
			return Done()
		},
	}
}

func failingBuilder(key string, err error, async bool, deps ...string) Helper[testContext, testInput, *testArtifact] {
	return Helper[testContext, testInput, *testArtifact]{
		Key:       key,
		DependsOn: deps,
		Apply: func(context.Context, ApplyArgs[testContext, testInput, *testArtifact]) Maybe[struct{}] {
			if async {
				return Async(func() error { return err })
			}
			return Failed(err)
		},
	}
}

type hookCalls struct {
	mu        sync.Mutex
	registers int
	hooks     int
	commits   int
	rollbacks int
}

func (h *hookCalls) inc(field *int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field++
}

func recordingExtension(key string, calls *hookCalls, async bool) Extension[testContext, testInput, *testArtifact] {
	return Extension[testContext, testInput, *testArtifact]{
		Key: key,
		Register: func(context.Context) (Hook[testContext, testInput, *testArtifact], error) {
			calls.inc(&calls.registers)
			return func(context.Context, HookOptions[testContext, testInput, *testArtifact]) Maybe[HookResult] {
				calls.inc(&calls.hooks)
				result := HookResult{
					Commit: func(context.Context) Maybe[struct{}] {
						calls.inc(&calls.commits)
						return Done()
					},
					Rollback: func(context.Context) Maybe[struct{}] {
						calls.inc(&calls.rollbacks)
						return Done()
					},
				}
				if async {
					return Later(func() (HookResult, error) { return result, nil })
				}
				return Resolve(result)
			}, nil
		},
	}
}

func TestPipeline_SyncRunReturnsSettledResult(t *testing.T) {
	p := newTestPipeline(t)
	mustRegisterFragment(t, p, syncFragment("ir.resources", "ir.meta"))
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	mustRegisterBuilder(t, p, syncBuilder("builder.ts", "ir.resources"))
	calls := &hookCalls{}
	if err := p.Use(context.Background(), recordingExtension("audit", calls, false)); err != nil {
		t.Fatalf("failed to use extension: %v", err)
	}

	run := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()})
	if run.Deferred() {
		t.Fatal("Expected a settled run when every step is synchronous")
	}

	result, err, ok := run.Settled()
	if !ok {
		t.Fatal("Expected result to be available without waiting")
	}
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	wantSteps := []string{"ir.meta", "ir.resources", "builder.ts"}
	if !reflect.DeepEqual(result.StepKeys(), wantSteps) {
		t.Errorf("Expected steps %v, got %v", wantSteps, result.StepKeys())
	}
	if !reflect.DeepEqual(result.Artifact.Values, []string{"ir.meta", "ir.resources"}) {
		t.Errorf("Unexpected artifact values: %v", result.Artifact.Values)
	}
	if calls.commits != 1 || calls.rollbacks != 0 {
		t.Errorf("Expected 1 commit and 0 rollbacks, got %d and %d", calls.commits, calls.rollbacks)
	}
}

func TestPipeline_AsyncHelperMakesRunDeferred(t *testing.T) {
	p := newTestPipeline(t)
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	mustRegisterFragment(t, p, asyncFragment("ir.resources", "ir.meta"))
	mustRegisterFragment(t, p, syncFragment("ir.blocks", "ir.resources"))
	mustRegisterBuilder(t, p, syncBuilder("builder.ts"))

	run := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()})
	if !run.Deferred() {
		t.Fatal("Expected a deferred run when a fragment is asynchronous")
	}

	result, err := run.Await(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{"ir.meta", "ir.resources", "ir.blocks"}
	if !reflect.DeepEqual(result.Artifact.Values, want) {
		t.Errorf("Expected %v, got %v", want, result.Artifact.Values)
	}
	if !reflect.DeepEqual(result.Artifact.Built, []string{"builder.ts"}) {
		t.Errorf("Expected builder to run after async fragment, got %v", result.Artifact.Built)
	}
}

func TestPipeline_AsyncHookMakesRunDeferred(t *testing.T) {
	p := newTestPipeline(t)
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	calls := &hookCalls{}
	if err := p.Use(context.Background(), recordingExtension("audit", calls, true)); err != nil {
		t.Fatalf("failed to use extension: %v", err)
	}

	run := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()})
	if !run.Deferred() {
		t.Fatal("Expected a deferred run when a hook is asynchronous")
	}
	if _, err := run.Await(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if calls.commits != 1 {
		t.Errorf("Expected 1 commit, got %d", calls.commits)
	}
}

func TestPipeline_BuilderFailureRollsBackAndStops(t *testing.T) {
	for _, async := range []bool{false, true} {
		name := "sync"
		if async {
			name = "async"
		}
		t.Run(name, func(t *testing.T) {
			p := newTestPipeline(t)
			mustRegisterFragment(t, p, syncFragment("ir.meta"))
			mustRegisterBuilder(t, p, syncBuilder("builder.one"))
			mustRegisterBuilder(t, p, failingBuilder("builder.two", errors.New("disk full"), async, "builder.one"))
			mustRegisterBuilder(t, p, syncBuilder("builder.three", "builder.two"))

			first, second := &hookCalls{}, &hookCalls{}
			if err := p.Use(context.Background(), recordingExtension("first", first, false)); err != nil {
				t.Fatalf("failed to use extension: %v", err)
			}
			if err := p.Use(context.Background(), recordingExtension("second", second, false)); err != nil {
				t.Fatalf("failed to use extension: %v", err)
			}

			run := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()})
			if run.Deferred() != async {
				t.Fatalf("Expected Deferred()=%v", async)
			}

			_, err := run.Await(context.Background())
			if err == nil {
				t.Fatal("Expected builder error to propagate")
			}
			if !strings.Contains(err.Error(), "disk full") {
				t.Errorf("Expected original error, got: %v", err)
			}
			for _, calls := range []*hookCalls{first, second} {
				if calls.rollbacks != 1 || calls.commits != 0 {
					t.Errorf("Expected rollback only, got commits=%d rollbacks=%d", calls.commits, calls.rollbacks)
				}
			}
		})
	}
}

func TestPipeline_FailingBuilderSkipsRemainingBuilders(t *testing.T) {
	p := newTestPipeline(t)
	built := &testArtifact{}
	p.cfg.Finalize = func(testContext, testInput, *testDraft) *testArtifact { return built }
	mustRegisterBuilder(t, p, syncBuilder("builder.one"))
	mustRegisterBuilder(t, p, failingBuilder("builder.two", errors.New("boom"), false, "builder.one"))
	mustRegisterBuilder(t, p, syncBuilder("builder.three", "builder.two"))

	_, err := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()}).Await(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}
	if !reflect.DeepEqual(built.Built, []string{"builder.one"}) {
		t.Errorf("Expected only builder.one to run, got %v", built.Built)
	}
}

func TestPipeline_RegisterCalledOncePerPipeline(t *testing.T) {
	p := newTestPipeline(t)
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	calls := &hookCalls{}
	if err := p.Use(context.Background(), recordingExtension("audit", calls, false)); err != nil {
		t.Fatalf("failed to use extension: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()}).Await(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	if calls.registers != 1 {
		t.Errorf("Expected register once, got %d", calls.registers)
	}
	if calls.hooks != 3 || calls.commits != 3 {
		t.Errorf("Expected 3 hook calls and commits, got %d and %d", calls.hooks, calls.commits)
	}
}

func TestPipeline_DiagnosticsReplayedPerRun(t *testing.T) {
	p := newTestPipeline(t)
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	mustRegisterBuilder(t, p, syncBuilder("builder.php", "ir.routes", "ir.meta"))

	reporters := []*recordingReporter{newRecordingReporter(), newRecordingReporter()}
	for _, reporter := range reporters {
		run := p.Run(context.Background(), testInput{Reporter: reporter})
		if run.Deferred() {
			t.Fatal("Expected resolution failure to be settled")
		}
		_, err := run.Await(context.Background())
		want := `Helpers depend on unknown helpers: "builder.php" → ["ir.routes"]`
		if err == nil || err.Error() != want {
			t.Fatalf("Expected %q, got %v", want, err)
		}
	}

	first, second := reporters[0].warnings(), reporters[1].warnings()
	if len(first) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical diagnostics across runs:\n%+v\n%+v", first, second)
	}
	if first[0].Message != DiagnosticMessage {
		t.Errorf("Unexpected message %q", first[0].Message)
	}
	diag, ok := first[0].Fields.(Diagnostic)
	if !ok || diag.Type != DiagnosticMissingDependency || diag.Dependency != "ir.routes" {
		t.Errorf("Unexpected diagnostic %+v", first[0].Fields)
	}
}

func TestPipeline_DuplicateKeysReportConflicts(t *testing.T) {
	p := newTestPipeline(t)
	first := syncFragment("ir.meta")
	first.Origin = "core"
	second := syncFragment("ir.meta")
	second.Origin = "plugin"
	mustRegisterFragment(t, p, first)
	mustRegisterFragment(t, p, second)

	reporter := newRecordingReporter()
	result, err := p.Run(context.Background(), testInput{Reporter: reporter}).Await(context.Background())
	if err != nil {
		t.Fatalf("Conflicts must not fail the run, got: %v", err)
	}
	if len(result.Diagnostics) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d", len(result.Diagnostics))
	}
	diag := result.Diagnostics[0]
	if diag.Type != DiagnosticConflict || diag.Mode != HelperModeExtend || diag.Kind != HelperKindFragment {
		t.Errorf("Unexpected conflict diagnostic: %+v", diag)
	}
	if !reflect.DeepEqual(diag.Helpers, []string{"core", "plugin"}) {
		t.Errorf("Unexpected conflicting helpers: %v", diag.Helpers)
	}
	if !reflect.DeepEqual(result.StepKeys(), []string{"ir.meta"}) {
		t.Errorf("Expected the duplicate to be dropped, got steps %v", result.StepKeys())
	}
	if len(reporter.warnings()) != 1 {
		t.Errorf("Expected the conflict to be reported once, got %d", len(reporter.warnings()))
	}
}

func TestPipeline_OverrideReplacesHelper(t *testing.T) {
	p := newTestPipeline(t)
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	override := Helper[testContext, testInput, *testDraft]{
		Key:  "ir.meta",
		Mode: HelperModeOverride,
		Apply: func(_ context.Context, args ApplyArgs[testContext, testInput, *testDraft]) Maybe[struct{}] {
			args.Output.Values = append(args.Output.Values, "override")
			return Done()
		},
	}
	mustRegisterFragment(t, p, override)

	result, err := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()}).Await(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(result.Artifact.Values, []string{"override"}) {
		t.Errorf("Expected override to run, got %v", result.Artifact.Values)
	}
	if len(result.Diagnostics) != 0 {
		t.Errorf("Expected no diagnostics, got %+v", result.Diagnostics)
	}
}

func TestPipeline_HookFailureRollsBackOthers(t *testing.T) {
	p := newTestPipeline(t)
	built := &testArtifact{}
	p.cfg.Finalize = func(testContext, testInput, *testDraft) *testArtifact { return built }
	mustRegisterBuilder(t, p, syncBuilder("builder.one"))

	calls := &hookCalls{}
	if err := p.Use(context.Background(), recordingExtension("audit", calls, false)); err != nil {
		t.Fatalf("failed to use extension: %v", err)
	}
	failing := Extension[testContext, testInput, *testArtifact]{
		Key: "policy",
		Register: func(context.Context) (Hook[testContext, testInput, *testArtifact], error) {
			return func(context.Context, HookOptions[testContext, testInput, *testArtifact]) Maybe[HookResult] {
				return Reject[HookResult](errors.New("denied"))
			}, nil
		},
	}
	if err := p.Use(context.Background(), failing); err != nil {
		t.Fatalf("failed to use extension: %v", err)
	}

	_, err := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()}).Await(context.Background())
	if err == nil || !strings.Contains(err.Error(), `extension "policy" failed: denied`) {
		t.Fatalf("Expected hook error, got: %v", err)
	}
	if calls.rollbacks != 1 {
		t.Errorf("Expected successful hook to roll back, got %d", calls.rollbacks)
	}
	if len(built.Built) != 0 {
		t.Errorf("Expected no builders to run, got %v", built.Built)
	}
}

func TestPipeline_UseRejectsDuplicateExtension(t *testing.T) {
	p := newTestPipeline(t)
	calls := &hookCalls{}
	if err := p.Use(context.Background(), recordingExtension("audit", calls, false)); err != nil {
		t.Fatalf("failed to use extension: %v", err)
	}
	err := p.Use(context.Background(), recordingExtension("audit", calls, false))
	if !IsDeveloper(err) {
		t.Fatalf("Expected developer error, got: %v", err)
	}
	if calls.registers != 1 {
		t.Errorf("Expected duplicate extension not to be registered, got %d registers", calls.registers)
	}
}

func TestPipeline_RegisterRejectsInvalidHelpers(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.RegisterFragment(Helper[testContext, testInput, *testDraft]{Key: "ir.meta"}); !IsDeveloper(err) {
		t.Errorf("Expected developer error for missing apply, got: %v", err)
	}
	wrongKind := syncFragment("ir.meta")
	wrongKind.Kind = HelperKindBuilder
	if err := p.RegisterFragment(wrongKind); !IsDeveloper(err) {
		t.Errorf("Expected developer error for wrong kind, got: %v", err)
	}
}

func TestPipeline_TracerOpensSpanPerHelper(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	p := newTestPipeline(t)
	p.cfg.Tracer = provider.Tracer("engine-test")
	mustRegisterFragment(t, p, syncFragment("ir.meta"))
	mustRegisterBuilder(t, p, failingBuilder("builder.one", errors.New("boom"), false))

	if _, err := p.Run(context.Background(), testInput{Reporter: newRecordingReporter()}).Await(context.Background()); err == nil {
		t.Fatal("Expected builder error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "fragment ir.meta" || spans[1].Name != "builder builder.one" {
		t.Errorf("Unexpected span names %q, %q", spans[0].Name, spans[1].Name)
	}
	if spans[1].Status.Code != codes.Error {
		t.Errorf("Expected failing builder span to carry an error status")
	}
}

func mustRegisterFragment(t *testing.T, p *testPipeline, h Helper[testContext, testInput, *testDraft]) {
	t.Helper()
	if err := p.RegisterFragment(h); err != nil {
		t.Fatalf("failed to register fragment %s: %v", h.Key, err)
	}
}

func mustRegisterBuilder(t *testing.T, p *testPipeline, h Helper[testContext, testInput, *testArtifact]) {
	t.Helper()
	if err := p.RegisterBuilder(h); err != nil {
		t.Fatalf("failed to register builder %s: %v", h.Key, err)
	}
}
