package generate

import (
	"sync"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// Command is the command name recorded for generation runs.
const Command = "generate"

// RunContext is the per-run context of a generation pipeline.
type RunContext struct {
	reporter engine.Reporter
	runID    string
	dryRun   bool

	mu      sync.Mutex
	changes workspace.Changes
}

// Reporter returns the run reporter.
func (c *RunContext) Reporter() engine.Reporter { return c.reporter }

// RunID identifies the run.
func (c *RunContext) RunID() string { return c.runID }

// Command returns the command the run belongs to.
func (c *RunContext) Command() string { return Command }

// DryRun reports whether the run is a preview.
func (c *RunContext) DryRun() bool { return c.dryRun }

// Changes returns what the generate transaction committed.
func (c *RunContext) Changes() workspace.Changes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes
}

func (c *RunContext) setChanges(changes workspace.Changes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = changes
}
