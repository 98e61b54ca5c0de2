package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/patch"
	"github.com/wpkernel/wpkernel-sub000/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var opts patch.SessionOptions

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Merge the staged patch plan into the workspace",
		Long: `Merge the patch plan written by wpk generate into your files.

Every planned file is merged three ways (last applied, newly generated,
current workspace):
  - untouched files are updated
  - files you edited are kept and reported as conflicts
  - files removed from the configuration are deleted when unmodified

Without --yes the plan is previewed and you are asked to confirm.
Every invocation appends one entry to .wpk/apply/state.jsonl.`,
		Example: `  # Preview and confirm
  wpk apply

  # Apply without prompting, keeping backups of overwritten files
  wpk apply --yes --backup

  # Overwrite conflicting files
  wpk apply --yes --force

  # Remove leftovers before applying
  wpk apply --yes --cleanup src/legacy.ts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			log.Debug().
				Bool("yes", opts.Yes).
				Bool("backup", opts.Backup).
				Bool("force", opts.Force).
				Strs("cleanup", opts.Cleanup).
				Msg("Applying patch plan")

			store := e.historyStore(ctx)
			defer closeStore(store)

			session := &patch.Session{
				FS:       e.ws,
				Paths:    e.paths,
				Prompter: stdinPrompter(cmd.InOrStdin(), e.out),
				Reporter: e.reporter,
				Ready:    e.ready(),
			}
			if store != nil {
				session.Mirror = store
			}

			ctx, end := e.trace(ctx)
			timer := telemetry.NewTimer()
			outcome, err := session.Run(ctx, opts)
			recordApply(e.tel.Metrics, outcome, err, timer.Duration())
			var attrs []attribute.KeyValue
			if outcome != nil {
				attrs = append(attrs, telemetry.AttrRunID.String(outcome.Entry.ID), attribute.String("apply.status", string(outcome.Status)))
			}
			end(attrs, err)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := e.printJSON(outcome.Entry); err != nil {
					return err
				}
			} else {
				printOutcome(e.out, outcome, opts)
			}

			if outcome.ExitCode != engine.ExitSuccess {
				return &exitError{code: outcome.ExitCode}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "apply without previewing and prompting")
	cmd.Flags().BoolVar(&opts.Backup, "backup", false, "keep a .bak copy of every overwritten file")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite conflicting files")
	cmd.Flags().StringSliceVar(&opts.Cleanup, "cleanup", nil, "remove these workspace files before applying")
	cmd.Flags().BoolVar(&opts.AllowDirty, "allow-dirty", false, "skip the clean working tree check")

	return cmd
}

func recordApply(m *telemetry.Metrics, o *patch.Outcome, err error, d time.Duration) {
	if err != nil {
		m.RecordRun("apply", "failure", d)
		m.RecordError(string(engine.ClassOf(err)))
		return
	}
	if o == nil {
		return
	}
	m.RecordRun("apply", string(o.Status), d)
	if o.Manifest == nil {
		return
	}
	counts := make(map[patch.Status]int)
	for _, r := range o.Manifest.Records {
		counts[r.Status]++
	}
	for status, n := range counts {
		m.RecordPatchRecords(string(status), n)
	}
}

func printOutcome(w io.Writer, o *patch.Outcome, opts patch.SessionOptions) {
	switch o.Status {
	case patch.LogSkipped:
		fmt.Fprintln(w, "No patch plan found; run wpk generate first.")
	case patch.LogCancelled:
		fmt.Fprintln(w, "Apply cancelled; nothing was changed.")
	default:
		fmt.Fprint(w, patch.RenderReport(o.Manifest, patch.ReportOptions{Force: opts.Force, Cleanup: o.Cleanup}))
	}
}

// stdinPrompter shows the preview and reads a yes/no answer.
func stdinPrompter(in io.Reader, out io.Writer) patch.Prompter {
	reader := bufio.NewReader(in)
	return patch.PrompterFunc(func(ctx context.Context, preview *patch.Manifest) (bool, error) {
		fmt.Fprint(out, patch.RenderReport(preview, patch.ReportOptions{DryRun: true}))
		fmt.Fprint(out, "\nApply these changes? [y/N] ")

		answer, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, engine.NewEnvironmentalError("failed to read confirmation", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	})
}
