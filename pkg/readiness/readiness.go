// Package readiness checks that a workspace is safe to write to before a
// generate or apply run.
package readiness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// ErrCodeDirty is the error code of a dirty working tree.
const ErrCodeDirty = "DIRTY_WORKTREE"

// DefaultIgnore lists workspace-relative prefixes the check never reports.
var DefaultIgnore = []string{".wpk/"}

// Result describes one check.
type Result struct {
	// Skipped is set when the workspace is not inside a git work tree.
	Skipped bool
	Reason  string

	// Dirty are the changed workspace-relative paths, in git order.
	Dirty []string
}

// Checker runs `git status --porcelain` over a workspace.
type Checker struct {
	Root string

	// Ignore defaults to DefaultIgnore.
	Ignore []string

	// Git is the git binary. Defaults to "git".
	Git string
}

// CheckClean fails with a validation error when the workspace has changes
// outside the ignored prefixes. Outside a git repository the check is skipped.
func (c *Checker) CheckClean(ctx context.Context) (*Result, error) {
	git := c.Git
	if git == "" {
		git = "git"
	}
	if _, err := exec.LookPath(git); err != nil {
		return &Result{Skipped: true, Reason: "git not found"}, nil
	}

	prefix, err := c.git(ctx, git, "rev-parse", "--show-prefix")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{Skipped: true, Reason: "not a git repository"}, nil
		}
		return nil, engine.NewEnvironmentalError("failed to run git", err)
	}
	prefix = strings.TrimSpace(prefix)

	out, err := c.git(ctx, git, "status", "--porcelain", "--untracked-files=all", "--", ".")
	if err != nil {
		return nil, engine.NewEnvironmentalError("git status failed", err)
	}

	ignore := c.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	result := &Result{}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		p := strings.TrimPrefix(statusPath(line[3:]), prefix)
		if ignored(p, ignore) {
			continue
		}
		result.Dirty = append(result.Dirty, p)
	}

	if len(result.Dirty) > 0 {
		return result, engine.NewValidationError(
			fmt.Sprintf("working tree has uncommitted changes (%s); commit them or pass --allow-dirty",
				strings.Join(result.Dirty, ", ")), nil,
		).WithCode(ErrCodeDirty).WithDetail("dirty", result.Dirty)
	}
	return result, nil
}

func (c *Checker) git(ctx context.Context, git string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, git, args...)
	cmd.Dir = c.Root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
		}
		return "", err
	}
	return string(out), nil
}

// statusPath extracts the current path of a porcelain entry, following
// renames and unquoting C-style quoted names.
func statusPath(s string) string {
	if i := strings.Index(s, " -> "); i >= 0 {
		s = s[i+4:]
	}
	if strings.HasPrefix(s, `"`) {
		if unquoted, err := strconv.Unquote(s); err == nil {
			return unquoted
		}
	}
	return s
}

func ignored(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if p == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
