package engine

// DiagnosticType tags a pipeline diagnostic.
type DiagnosticType string

const (
	// DiagnosticMissingDependency is recorded for each dependsOn entry with no registered helper.
	DiagnosticMissingDependency DiagnosticType = "missing-dependency"

	// DiagnosticUnusedHelper flags a helper nothing depends on and that is not a phase-entry key.
	DiagnosticUnusedHelper DiagnosticType = "unused-helper"

	// DiagnosticConflict is recorded when two helpers of the same kind claim one key.
	DiagnosticConflict DiagnosticType = "conflict"
)

// Diagnostic is a structured pipeline warning.
// Which fields are set depends on Type:
//
//	missing-dependency: Key, Dependency, Kind
//	unused-helper:      Key, Kind
//	conflict:           Key, Mode, Message, Helpers, Kind
type Diagnostic struct {
	Type       DiagnosticType `json:"type"`
	Key        string         `json:"key"`
	Dependency string         `json:"dependency,omitempty"`
	Mode       HelperMode     `json:"mode,omitempty"`
	Message    string         `json:"message,omitempty"`
	Helpers    []string       `json:"helpers,omitempty"`
	Kind       HelperKind     `json:"kind,omitempty"`
}

// DiagnosticMessage is the reporter message used for every diagnostic.
const DiagnosticMessage = "Pipeline diagnostic reported."

// Reporter receives structured run output. Implementations must be safe to call
// from the goroutine that continues a deferred run.
type Reporter interface {
	Debug(msg string, fields any)
	Info(msg string, fields any)
	Warn(msg string, fields any)
	Error(msg string, fields any)
	Child(namespace string) Reporter
}

// RunContext is the constraint on a pipeline's per-run context.
type RunContext interface {
	Reporter() Reporter
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Debug(string, any)        {}
func (NopReporter) Info(string, any)         {}
func (NopReporter) Warn(string, any)         {}
func (NopReporter) Error(string, any)        {}
func (n NopReporter) Child(string) Reporter { return n }
