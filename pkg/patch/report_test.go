package patch

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func TestRenderReport_Golden(t *testing.T) {
	m := &Manifest{
		Summary: Summary{Applied: 1, Conflicts: 1, Skipped: 1},
		Records: []Record{
			{File: "src/a.ts", Status: StatusApplied, Description: "Update a"},
			{File: "src/conflict.ts", Status: StatusConflict, Description: "Rewrite conflict", Details: map[string]any{"forced": true}},
			{File: "src/gone.ts", Status: StatusSkipped, Description: "Remove gone", Details: map[string]any{"reason": "missing-target"}},
		},
		SkippedDeletions: []DeletionSkip{{File: "src/gone.ts", Reason: ReasonMissingTarget}},
	}
	out := RenderReport(m, ReportOptions{
		Force:   true,
		Cleanup: &CleanupResult{Removed: []string{"legacy/old.ts"}},
	})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", []byte(out))
}

func TestRenderReport_PreviewAndUnforcedFooter(t *testing.T) {
	m := &Manifest{
		Summary: Summary{Conflicts: 2},
		Records: []Record{
			{File: "a", Status: StatusConflict},
			{File: "b", Status: StatusConflict},
		},
	}
	out := RenderReport(m, ReportOptions{DryRun: true})
	assert.Contains(t, out, "Patch preview: 0 applied, 2 conflicts, 0 skipped\n")
	assert.Contains(t, out, "2 conflicting file(s) were left untouched. Resolve them or rerun with --force.\n")
	assert.NotContains(t, out, "Deletions skipped")
}

func TestRenderReport_Empty(t *testing.T) {
	assert.Equal(t, "Patch summary: 0 applied, 0 conflicts, 0 skipped\n", RenderReport(newManifest(), ReportOptions{}))
}
