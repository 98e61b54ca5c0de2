package patch

import (
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// CleanupResult reports the outcome of Cleanup.
type CleanupResult struct {
	Removed []string `json:"removed"`
	Missing []string `json:"missing"`
}

// Cleanup removes leftover files before a plan is applied. Every target is
// validated first; a target escaping the workspace fails the whole call and
// nothing is removed.
func Cleanup(w workspace.FS, targets []string) (*CleanupResult, error) {
	cleaned := make([]string, 0, len(targets))
	for _, t := range targets {
		rel, err := workspace.Clean(t)
		if err != nil {
			return nil, engine.NewValidationError("invalid cleanup target "+t, err).WithDetail("target", t)
		}
		cleaned = append(cleaned, rel)
	}

	result := &CleanupResult{Removed: []string{}, Missing: []string{}}
	for _, rel := range cleaned {
		exists, err := w.Exists(rel)
		if err != nil {
			return nil, engine.NewEnvironmentalError("failed to inspect cleanup target "+rel, err)
		}
		if !exists {
			result.Missing = append(result.Missing, rel)
			continue
		}
		if err := w.Rm(rel); err != nil {
			return nil, err
		}
		result.Removed = append(result.Removed, rel)
	}
	return result, nil
}
