package engine

import (
	"context"
	"fmt"
)

// HelperKind is the phase a helper belongs to.
type HelperKind string

const (
	// HelperKindFragment helpers build the IR draft.
	HelperKindFragment HelperKind = "fragment"

	// HelperKindBuilder helpers materialize artifacts from the finalized IR.
	HelperKindBuilder HelperKind = "builder"
)

// HelperMode controls what happens when two helpers of the same kind share a key.
type HelperMode string

const (
	// HelperModeExtend is the default; a second helper with the same key is rejected.
	HelperModeExtend HelperMode = "extend"

	// HelperModeOverride replaces an extend-mode helper registered under the same key.
	HelperModeOverride HelperMode = "override"
)

// ApplyArgs is what a helper receives on invocation.
type ApplyArgs[C, I, O any] struct {
	// Context is the per-run context built by the pipeline's CreateContext factory.
	Context C

	// Input is the value passed to Pipeline.Run.
	Input I

	// Output is the fragment draft or the builder artifact.
	Output O

	// Reporter is the run reporter scoped to the helper key.
	Reporter Reporter
}

// ApplyFunc is the body of a helper. Returning a settled Maybe (including the zero
// value) completes synchronously; returning Async defers completion.
type ApplyFunc[C, I, O any] func(ctx context.Context, args ApplyArgs[C, I, O]) Maybe[struct{}]

// Helper is a named unit of work executed once per run in dependency order.
type Helper[C, I, O any] struct {
	// Key identifies the helper within its kind.
	Key string

	// Kind is set by the registration method when left empty.
	Kind HelperKind

	// Mode defaults to HelperModeExtend.
	Mode HelperMode

	// DependsOn lists helper keys that must run before this one.
	DependsOn []string

	// Origin names the component that registered the helper; used in conflict diagnostics.
	Origin string

	// Apply is invoked with the run's context, input, and output sink.
	Apply ApplyFunc[C, I, O]
}

// HelperDescriptor is the kind-agnostic view of a helper used by the dependency resolver.
type HelperDescriptor struct {
	Key       string     `json:"key"`
	Kind      HelperKind `json:"kind"`
	Mode      HelperMode `json:"mode"`
	DependsOn []string   `json:"dependsOn,omitempty"`
	Origin    string     `json:"origin,omitempty"`
}

// Describe returns the helper's descriptor.
func (h Helper[C, I, O]) Describe() HelperDescriptor {
	mode := h.Mode
	if mode == "" {
		mode = HelperModeExtend
	}
	return HelperDescriptor{
		Key:       h.Key,
		Kind:      h.Kind,
		Mode:      mode,
		DependsOn: h.DependsOn,
		Origin:    h.Origin,
	}
}

// validate checks the helper's static contract.
func (h Helper[C, I, O]) validate(kind HelperKind) error {
	if h.Key == "" {
		return NewDeveloperError(fmt.Sprintf("%s helper has empty key", kind), nil)
	}
	if h.Kind != kind {
		return NewDeveloperError(
			fmt.Sprintf("helper %q has kind %q but was registered as %q", h.Key, h.Kind, kind), nil,
		).WithHelper(h.Key)
	}
	if h.Apply == nil {
		return NewDeveloperError("helper has no apply function", nil).WithHelper(h.Key)
	}
	switch h.Mode {
	case "", HelperModeExtend, HelperModeOverride:
	default:
		return NewDeveloperError(fmt.Sprintf("unknown helper mode %q", h.Mode), nil).WithHelper(h.Key)
	}
	return nil
}

// helperSet stores helpers of one kind in registration order and records key conflicts.
type helperSet[C, I, O any] struct {
	kind      HelperKind
	helpers   []Helper[C, I, O]
	conflicts []Diagnostic
}

func (s *helperSet[C, I, O]) origin(h Helper[C, I, O], position int) string {
	if h.Origin != "" {
		return h.Origin
	}
	return fmt.Sprintf("%s#%d", h.Key, position)
}

// add registers h, applying the extend/override rules.
func (s *helperSet[C, I, O]) add(h Helper[C, I, O]) {
	desc := h.Describe()
	for i := range s.helpers {
		existing := s.helpers[i]
		if existing.Key != h.Key {
			continue
		}

		existingMode := existing.Describe().Mode
		if desc.Mode == HelperModeOverride && existingMode != HelperModeOverride {
			s.helpers[i] = h
			return
		}

		s.conflicts = append(s.conflicts, Diagnostic{
			Type: DiagnosticConflict,
			Key:  h.Key,
			Mode: desc.Mode,
			Kind: s.kind,
			Message: fmt.Sprintf("%s helper %q already registered by %s; %s ignored",
				s.kind, h.Key, s.origin(existing, i), s.origin(h, len(s.helpers))),
			Helpers: []string{s.origin(existing, i), s.origin(h, len(s.helpers))},
		})
		return
	}
	s.helpers = append(s.helpers, h)
}

func (s *helperSet[C, I, O]) snapshot() ([]Helper[C, I, O], []Diagnostic) {
	helpers := make([]Helper[C, I, O], len(s.helpers))
	copy(helpers, s.helpers)
	conflicts := make([]Diagnostic, len(s.conflicts))
	copy(conflicts, s.conflicts)
	return helpers, conflicts
}
