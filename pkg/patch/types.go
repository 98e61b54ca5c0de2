package patch

// Action is what an instruction asks the applier to do with a file.
type Action string

const (
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Instruction is one entry of a patch plan.
//
// Base and Incoming are workspace paths of snapshot files under the plan's
// base/ and incoming/ trees. Base is empty when no generation of the file has
// been applied yet. Delete instructions carry no Incoming.
type Instruction struct {
	Action      Action `json:"action" validate:"required,oneof=write delete"`
	File        string `json:"file" validate:"required"`
	Base        string `json:"base,omitempty"`
	Incoming    string `json:"incoming,omitempty" validate:"required_if=Action write"`
	Description string `json:"description,omitempty"`
}

// SkipReason explains why a deletion was declined.
type SkipReason string

const (
	ReasonMissingBase    SkipReason = "missing-base"
	ReasonMissingTarget  SkipReason = "missing-target"
	ReasonModifiedTarget SkipReason = "modified-target"
	ReasonUnreadable     SkipReason = "unreadable"
)

// DeletionSkip is a file the plan or the applier declined to delete.
type DeletionSkip struct {
	File        string     `json:"file"`
	Description string     `json:"description,omitempty"`
	Reason      SkipReason `json:"reason"`
}

// Plan is the on-disk plan.json written by generate.
type Plan struct {
	Instructions     []Instruction  `json:"instructions" validate:"dive"`
	SkippedDeletions []DeletionSkip `json:"skippedDeletions"`
}

// Status is the outcome of one instruction.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusConflict Status = "conflict"
	StatusSkipped  Status = "skipped"
)

// Record is the outcome of one instruction.
type Record struct {
	File        string         `json:"file"`
	Status      Status         `json:"status"`
	Description string         `json:"description,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Summary counts records by status.
type Summary struct {
	Applied   int `json:"applied"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
}

// Manifest is the result of applying a plan.
type Manifest struct {
	Summary          Summary        `json:"summary"`
	Records          []Record       `json:"records"`
	Actions          []string       `json:"actions"`
	SkippedDeletions []DeletionSkip `json:"skippedDeletions"`
}

// Summarize counts records by status.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Status {
		case StatusApplied:
			s.Applied++
		case StatusConflict:
			s.Conflicts++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

func newManifest() *Manifest {
	return &Manifest{
		Records:          []Record{},
		Actions:          []string{},
		SkippedDeletions: []DeletionSkip{},
	}
}
