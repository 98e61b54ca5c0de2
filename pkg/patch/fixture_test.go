package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wpkernel/wpkernel-sub000/pkg/layout"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

type fixture struct {
	t     *testing.T
	ws    *workspace.Workspace
	paths Paths
	plan  *Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	paths, err := PathsFromLayout(layout.Default())
	require.NoError(t, err)
	return &fixture{t: t, ws: ws, paths: paths, plan: &Plan{Instructions: []Instruction{}, SkippedDeletions: []DeletionSkip{}}}
}

func (f *fixture) put(p, contents string) {
	f.t.Helper()
	require.NoError(f.t, f.ws.Write(p, []byte(contents), workspace.WriteOptions{EnsureDir: true}))
}

func (f *fixture) read(p string) (string, bool) {
	f.t.Helper()
	exists, err := f.ws.Exists(p)
	require.NoError(f.t, err)
	if !exists {
		return "", false
	}
	data, err := f.ws.ReadText(p)
	require.NoError(f.t, err)
	return data, true
}

// write adds a write instruction. Empty base or current means missing.
func (f *fixture) write(file, base, incoming, current, description string) {
	f.t.Helper()
	in := Instruction{Action: ActionWrite, File: file, Incoming: f.paths.incomingPath(file), Description: description}
	f.put(in.Incoming, incoming)
	if base != "" {
		in.Base = f.paths.basePath(file)
		f.put(in.Base, base)
	}
	if current != "" {
		f.put(file, current)
	}
	f.plan.Instructions = append(f.plan.Instructions, in)
}

// remove adds a delete instruction. Empty base or current means missing.
func (f *fixture) remove(file, base, current, description string) {
	f.t.Helper()
	in := Instruction{Action: ActionDelete, File: file, Description: description}
	if base != "" {
		in.Base = f.paths.basePath(file)
		f.put(in.Base, base)
	}
	if current != "" {
		f.put(file, current)
	}
	f.plan.Instructions = append(f.plan.Instructions, in)
}

func (f *fixture) savePlan() {
	f.t.Helper()
	require.NoError(f.t, f.ws.WriteJSON(f.paths.Plan, f.plan))
}

func (f *fixture) applier() *Applier {
	return &Applier{FS: f.ws, Paths: f.paths}
}
