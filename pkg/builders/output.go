package builders

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
	"github.com/wpkernel/wpkernel-sub000/pkg/patch"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// Output collects the user-facing files of one run. They are not written to
// the workspace; the patch-plan builder stages them for apply.
type Output struct {
	mu    sync.Mutex
	files map[string]patch.GeneratedFile
}

// NewOutput returns an empty output sink.
func NewOutput() *Output {
	return &Output{files: make(map[string]patch.GeneratedFile)}
}

// Queue adds a user-facing file. Queuing the same file twice is an error.
func (o *Output) Queue(file string, contents []byte, description string) error {
	clean, err := workspace.Clean(file)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.files[clean]; dup {
		return engine.NewDeveloperError(fmt.Sprintf("file %s queued twice", clean), nil).WithDetail("file", clean)
	}
	o.files[clean] = patch.GeneratedFile{File: clean, Contents: contents, Description: description}
	return nil
}

// Files returns the queued files sorted by path.
func (o *Output) Files() []patch.GeneratedFile {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]patch.GeneratedFile, 0, len(o.files))
	for _, f := range o.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// Artifact is what builders receive: the finalized IR and the output sink.
type Artifact struct {
	IR     *ir.IR
	Output *Output

	// Plan is set by the patch-plan builder.
	Plan *patch.Plan
}

// NewArtifact wraps a finalized IR.
func NewArtifact(model *ir.IR) *Artifact {
	return &Artifact{IR: model, Output: NewOutput()}
}
