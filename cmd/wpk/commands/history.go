package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wpkernel/wpkernel-sub000/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit   int
		applies bool
		audit   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generation runs and apply results",
		Example: `  # Last 10 generation runs
  wpk history --limit 10

  # Apply log
  wpk history --applies

  # Audit trail as JSON
  wpk history --audit --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			e.dryRun = true
			defer e.close(ctx)

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)

			tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
			switch {
			case audit:
				entries, err := store.ListAuditEntries(ctx, nil, nil, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return e.printJSON(entries)
				}
				fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tTARGET")
				for _, a := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Timestamp.Format(time.RFC3339), a.Action, a.Actor, deref(a.TargetID))
				}

			case applies:
				records, err := store.ListApplyRecords(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return e.printJSON(records)
				}
				fmt.Fprintln(tw, "TIME\tSTATUS\tEXIT\tAPPLIED\tCONFLICTS\tSKIPPED")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
						r.Timestamp.Format(time.RFC3339), r.Status, r.ExitCode, r.Applied, r.Conflicts, r.Skipped)
				}

			default:
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return e.printJSON(runs)
				}
				fmt.Fprintln(tw, "STARTED\tRUN\tCOMMAND\tNAMESPACE\tSTATUS\tDURATION")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						r.StartedAt.Format(time.RFC3339), r.ID, runCommand(r), r.Namespace, r.Status, runDuration(r))
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&applies, "applies", false, "show the apply log instead of generation runs")
	cmd.Flags().BoolVar(&audit, "audit", false, "show the audit trail")
	cmd.MarkFlagsMutuallyExclusive("applies", "audit")

	return cmd
}

func runCommand(r *stores.Run) string {
	if r.DryRun {
		return r.Command + " (dry-run)"
	}
	return r.Command
}

func runDuration(r *stores.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
