package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/generate"
	"github.com/wpkernel/wpkernel-sub000/pkg/policy"
	"github.com/wpkernel/wpkernel-sub000/pkg/stores"
	"github.com/wpkernel/wpkernel-sub000/pkg/watch"
)

func newStartCommand() *cobra.Command {
	var (
		debounce    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Regenerate whenever the configuration changes",
		Long: `Run wpk generate once, then watch the configuration file, schema files,
policies and scripts and regenerate after every change.

Changes made while a run is in progress are queued into a single rerun.
A failing run is reported and watching continues. The clean working tree
check is skipped in watch mode.`,
		Example: `  # Watch with a longer debounce and expose metrics
  wpk start --debounce 1s --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			if metricsAddr != "" {
				stop := serveMetrics(e, metricsAddr)
				defer stop()
			}

			store := e.historyStore(ctx)
			defer closeStore(store)

			w := &watch.Watcher{
				Paths:    e.watchPaths(),
				Debounce: debounce,
				Logger:   *e.tel.Logger.NewComponentLogger("watch").Zerolog(),
				Metrics:  e.tel.Metrics,
				Handler: func(ctx context.Context, t watch.Trigger) error {
					return e.regenerate(ctx, store, t)
				},
			}
			fmt.Fprintf(e.out, "Watching %s (Ctrl+C to stop)\n", e.ws.Root())
			err = w.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "wait this long for changes to settle")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// regenerate reloads the configuration and runs one generation.
func (e *env) regenerate(ctx context.Context, store stores.Store, t watch.Trigger) error {
	if !t.Initial {
		fmt.Fprintf(e.out, "\nChanged: %v\n", t.Files)
	}
	e.loaded, e.loadErr = e.loader.Load(e.ws.Root(), configPath)
	if e.loadErr != nil {
		fmt.Fprintf(e.out, "Generation failed: %v\n", e.loadErr)
		return e.loadErr
	}

	g, err := e.generator(ctx, store)
	if err != nil {
		fmt.Fprintf(e.out, "Generation failed: %v\n", err)
		return err
	}
	summary, err := g.Run(ctx, generate.Options{AllowDirty: true})
	if err != nil {
		fmt.Fprintf(e.out, "Generation failed: %v\n", err)
		return err
	}
	return printSummary(e, summary)
}

// watchPaths lists everything a generation run reads besides the workspace
// outputs. Missing paths are skipped by the watcher.
func (e *env) watchPaths() []string {
	root := e.ws.Root()
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, filepath.FromSlash(p))
	}

	var paths []string
	if configPath != "" {
		paths = append(paths, abs(configPath))
	} else {
		for _, name := range config.Candidates {
			paths = append(paths, abs(name))
		}
	}

	if e.loaded == nil {
		return append(paths, abs(policy.DefaultDir))
	}
	cfg := e.loaded.Config
	policyPaths := []string{policy.DefaultDir}
	if len(cfg.Policies.Paths) > 0 {
		policyPaths = cfg.Policies.Paths
	}
	for _, p := range policyPaths {
		paths = append(paths, abs(p))
	}
	for _, s := range cfg.Scripts {
		paths = append(paths, abs(s.Path))
	}
	for _, key := range sortedKeys(cfg.Schemas) {
		if p := cfg.Schemas[key].Path; p != "" {
			paths = append(paths, abs(p))
		}
	}
	return paths
}

// serveMetrics exposes the Prometheus registry until the returned stop is called.
func serveMetrics(e *env, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.tel.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(engine.NewEnvironmentalError("failed to stop metrics server", err)).Msg("Metrics server shutdown")
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
