package patch

// Effect is the file-system change a classification calls for.
type Effect string

const (
	EffectNone   Effect = "none"
	EffectWrite  Effect = "write"
	EffectDelete Effect = "delete"
)

// Classification is the three-way decision for one instruction.
type Classification struct {
	Status Status
	Effect Effect
	Reason SkipReason
	// Noop is set when current already holds incoming.
	Noop bool
}

// Classify decides one instruction from the base, incoming and current
// contents of its file. A nil slice is a missing file.
//
// Conflicts carry EffectNone; the applier turns them into writes under force.
func Classify(action Action, base, incoming, current []byte) Classification {
	return classify(action, snapshot(base), snapshot(incoming), snapshot(current))
}

func snapshot(b []byte) *content {
	if b == nil {
		return &content{}
	}
	return &content{data: b, exists: true}
}

func classify(action Action, base, incoming, current *content) Classification {
	if action == ActionDelete {
		switch {
		case !current.exists:
			return Classification{Status: StatusSkipped, Effect: EffectNone, Reason: ReasonMissingTarget}
		case !base.exists:
			return Classification{Status: StatusSkipped, Effect: EffectNone, Reason: ReasonMissingBase}
		case same(current, base):
			return Classification{Status: StatusApplied, Effect: EffectDelete}
		default:
			return Classification{Status: StatusSkipped, Effect: EffectNone, Reason: ReasonModifiedTarget}
		}
	}

	switch {
	case !current.exists:
		return Classification{Status: StatusApplied, Effect: EffectWrite}
	case same(current, incoming):
		// A hand edit identical to the new generation is the desired end state.
		return Classification{Status: StatusApplied, Effect: EffectNone, Noop: true}
	case same(current, base):
		return Classification{Status: StatusApplied, Effect: EffectWrite}
	default:
		return Classification{Status: StatusConflict, Effect: EffectNone}
	}
}
