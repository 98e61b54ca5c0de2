package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/generate"
	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/patch"
	"github.com/wpkernel/wpkernel-sub000/pkg/policy"
	"github.com/wpkernel/wpkernel-sub000/pkg/readiness"
	"github.com/wpkernel/wpkernel-sub000/pkg/stores"
	"github.com/wpkernel/wpkernel-sub000/pkg/telemetry"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

var layouts = layout.NewCache()

// env is what every workspace command sets up before it runs.
type env struct {
	ws     *workspace.Workspace
	layout *layout.Manifest
	paths  patch.Paths
	loader *config.Loader

	// loaded is nil when the configuration could not be loaded; commands
	// that need it report loadErr.
	loaded  *config.Loaded
	loadErr error

	tel      *telemetry.Telemetry
	reporter *telemetry.Reporter
	out      io.Writer
	command  string
	dryRun   bool
}

func newEnv(cmd *cobra.Command) (*env, error) {
	ws, err := workspace.New(workDir)
	if err != nil {
		return nil, err
	}
	manifest, err := layouts.Load(ws.Root(), layoutPath)
	if err != nil {
		return nil, err
	}
	paths, err := patch.PathsFromLayout(manifest)
	if err != nil {
		return nil, err
	}
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}

	e := &env{ws: ws, layout: manifest, paths: paths, loader: loader, out: cmd.OutOrStdout(), command: cmd.Name()}
	e.loaded, e.loadErr = loader.Load(ws.Root(), configPath)

	cfg, err := e.telemetryConfig()
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	e.tel = tel
	e.reporter = telemetry.NewReporter(tel.Logger.NewComponentLogger(e.command))
	return e, nil
}

// telemetryConfig overlays the project telemetry settings and flags on the defaults.
func (e *env) telemetryConfig() (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	switch level := zerolog.GlobalLevel(); level {
	case zerolog.TraceLevel, zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel:
		cfg.Logging.Level = level.String()
	}

	metricsFile, err := e.layout.Path(layout.Metrics)
	if err != nil {
		return nil, err
	}
	if e.loaded != nil {
		t := e.loaded.Config.Telemetry
		if t.LogLevel != "" {
			cfg.Logging.Level = t.LogLevel
		}
		if t.Tracing.Exporter != "" && t.Tracing.Exporter != "none" {
			cfg.Tracing.Enabled = true
			cfg.Tracing.Exporter = t.Tracing.Exporter
			cfg.Tracing.Endpoint = t.Tracing.Endpoint
		}
		if t.MetricsFile != "" {
			metricsFile = t.MetricsFile
		}
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	// The global level gates every logger, including the project one.
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}
	cfg.Metrics.TextfilePath = filepath.Join(e.ws.Root(), filepath.FromSlash(metricsFile))
	return cfg, nil
}

// close flushes telemetry. Dry runs leave no metrics file behind.
func (e *env) close(ctx context.Context) {
	if e.dryRun {
		e.tel.Config.Metrics.TextfilePath = ""
	}
	if err := e.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}

// openStore opens the run history database.
func (e *env) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	rel, err := e.layout.Path(layout.StateDB)
	if err != nil {
		return nil, err
	}
	abs, err := e.ws.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return stores.Open(ctx, abs)
}

func (e *env) ready() func(ctx context.Context) error {
	checker := &readiness.Checker{Root: e.ws.Root()}
	return func(ctx context.Context) error {
		result, err := checker.CheckClean(ctx)
		if err == nil && result.Skipped {
			e.reporter.Debug("Readiness check skipped.", map[string]any{"reason": result.Reason})
		}
		return err
	}
}

// generator wires the generation pipeline with the policy and history
// extensions. store may be nil.
func (e *env) generator(ctx context.Context, store stores.Store) (*generate.Generator, error) {
	var policies config.PolicyConfig
	if e.loaded != nil {
		policies = e.loaded.Config.Policies
	}
	logger := e.tel.Logger.NewComponentLogger("policy").Zerolog()
	eng, err := policy.NewFromConfig(ctx, *logger, e.ws.Root(), policies)
	if err != nil {
		return nil, err
	}

	var extensions []generate.Extension
	if store != nil {
		extensions = append(extensions, stores.HistoryExtension[*generate.RunContext](store, generate.ArtifactIR))
	}
	extensions = append(extensions, policy.Extension[*generate.RunContext](eng, generate.ArtifactIR))

	return &generate.Generator{
		Workspace:  e.ws,
		Loader:     e.loader,
		ConfigPath: configPath,
		Layout:     e.layout,
		Reporter:   e.reporter,
		Tracer:     e.tel.Tracer.Trace(),
		Metrics:    e.tel.Metrics,
		Extensions: extensions,
		Ready:      e.ready(),
	}, nil
}

// historyStore opens the store, or returns nil with a warning when it cannot
// be opened. History is best effort.
func (e *env) historyStore(ctx context.Context) stores.Store {
	store, err := e.openStore(ctx)
	if err != nil {
		e.reporter.Warn("Run history unavailable.", map[string]any{"error": err.Error()})
		return nil
	}
	return store
}

func closeStore(store stores.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close state database")
	}
}

// trace opens the command span. end records err on it and closes it.
func (e *env) trace(ctx context.Context) (context.Context, func(attrs []attribute.KeyValue, err error)) {
	ctx, span := e.tel.Tracer.StartCommandSpan(ctx, e.command)
	return ctx, func(attrs []attribute.KeyValue, err error) {
		span.SetAttributes(attrs...)
		telemetry.RecordError(span, err)
		span.End()
	}
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
