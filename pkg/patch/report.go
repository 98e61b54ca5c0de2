package patch

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// ReportOptions adds context to RenderReport.
type ReportOptions struct {
	Force   bool
	DryRun  bool
	Cleanup *CleanupResult
}

// RenderReport formats a manifest for humans.
func RenderReport(m *Manifest, opts ReportOptions) string {
	var b strings.Builder

	title := "Patch summary"
	if opts.DryRun {
		title = "Patch preview"
	}
	fmt.Fprintf(&b, "%s: %d applied, %d conflicts, %d skipped\n",
		title, m.Summary.Applied, m.Summary.Conflicts, m.Summary.Skipped)

	if len(m.Records) > 0 {
		b.WriteString("\n")
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, r := range m.Records {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Status, r.File, recordNote(r))
		}
		tw.Flush()
	}

	if len(m.SkippedDeletions) > 0 {
		b.WriteString("\nDeletions skipped:\n")
		for _, s := range m.SkippedDeletions {
			fmt.Fprintf(&b, "  %s (%s)\n", s.File, s.Reason)
		}
	}

	if opts.Cleanup != nil && (len(opts.Cleanup.Removed) > 0 || len(opts.Cleanup.Missing) > 0) {
		b.WriteString("\nCleanup:\n")
		for _, f := range opts.Cleanup.Removed {
			fmt.Fprintf(&b, "  removed %s\n", f)
		}
		for _, f := range opts.Cleanup.Missing {
			fmt.Fprintf(&b, "  missing %s\n", f)
		}
	}

	if m.Summary.Conflicts > 0 {
		if opts.Force {
			fmt.Fprintf(&b, "\n%d conflicting file(s) were overwritten (--force).\n", m.Summary.Conflicts)
		} else {
			fmt.Fprintf(&b, "\n%d conflicting file(s) were left untouched. Resolve them or rerun with --force.\n", m.Summary.Conflicts)
		}
	}

	return b.String()
}

func recordNote(r Record) string {
	note := r.Description
	if reason, ok := r.Details["reason"].(string); ok && r.Status == StatusSkipped {
		note = strings.TrimSpace(note + " (" + reason + ")")
	}
	if forced, ok := r.Details["forced"].(bool); ok && forced {
		note = strings.TrimSpace(note + " (forced)")
	}
	return note
}
