package engine

// Step is one entry of the execution trace.
type Step struct {
	Key  string     `json:"key"`
	Kind HelperKind `json:"kind"`
}

// RunResult is the output of one pipeline run. Its slices are copies owned by the result.
type RunResult[A any] struct {
	Artifact    A            `json:"artifact"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Steps       []Step       `json:"steps"`
}

func newRunResult[A any](artifact A, diagnostics []Diagnostic, steps []Step) *RunResult[A] {
	return &RunResult[A]{
		Artifact:    artifact,
		Diagnostics: append([]Diagnostic{}, diagnostics...),
		Steps:       append([]Step{}, steps...),
	}
}

// StepKeys returns the executed helper keys in order.
func (r *RunResult[A]) StepKeys() []string {
	keys := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		keys[i] = s.Key
	}
	return keys
}
