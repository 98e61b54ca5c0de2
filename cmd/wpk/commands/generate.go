package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wpkernel/wpkernel-sub000/pkg/generate"
	"github.com/wpkernel/wpkernel-sub000/pkg/telemetry"
)

func newGenerateCommand() *cobra.Command {
	var opts generate.Options

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sources and stage a patch plan",
		Long: `Build the IR from the project configuration and run every builder.

Tool-owned files are written under .generated/. Files you own (controllers,
resources, block metadata) are staged as a patch plan under .wpk/apply/;
run wpk apply to merge them.

The whole run is one workspace transaction: a failing builder or a denied
policy leaves the workspace untouched.`,
		Example: `  # Preview what would be written
  wpk generate --dry-run

  # Generate in a workspace with uncommitted changes
  wpk generate --allow-dirty`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			e.dryRun = opts.DryRun
			defer e.close(ctx)

			log.Debug().
				Str("root", e.ws.Root()).
				Bool("dry_run", opts.DryRun).
				Bool("allow_dirty", opts.AllowDirty).
				Msg("Generating")

			store := e.historyStore(ctx)
			defer closeStore(store)

			g, err := e.generator(ctx, store)
			if err != nil {
				return err
			}
			ctx, end := e.trace(ctx)
			summary, err := g.Run(ctx, opts)
			var attrs []attribute.KeyValue
			if summary != nil {
				attrs = append(attrs, telemetry.AttrRunID.String(summary.RunID))
			}
			end(attrs, err)
			if err != nil {
				return err
			}

			if jsonOutput {
				return e.printJSON(summary)
			}
			return printSummary(e, summary)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "run in a throwaway transaction and report what would change")
	cmd.Flags().BoolVar(&opts.AllowDirty, "allow-dirty", false, "skip the clean working tree check")

	return cmd
}

func printSummary(e *env, s *generate.Summary) error {
	verb := "Generated"
	if s.DryRun {
		verb = "Would generate"
	}
	fmt.Fprintf(e.out, "%s %d file(s) (run %s)\n\n", verb, len(s.Entries), s.RunID)

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	for _, entry := range s.Entries {
		note := ""
		if entry.Reason != "" {
			note = "(" + entry.Reason + ")"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", entry.Status, entry.File, note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Diagnostics) > 0 {
		fmt.Fprintf(e.out, "\n%d pipeline diagnostic(s); rerun with --verbose for details.\n", len(s.Diagnostics))
	}
	if !s.DryRun && s.Plan != nil && len(s.Plan.Instructions) > 0 {
		fmt.Fprintf(e.out, "\nPatch plan staged with %d instruction(s). Run wpk apply to merge.\n", len(s.Plan.Instructions))
	}
	return nil
}
