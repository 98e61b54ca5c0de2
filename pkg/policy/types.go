package policy

import "time"

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block generation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks generation.
	SeverityError Severity = "error"

	// SeverityCritical blocks generation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of s fail the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its package must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that carry none.
	Severity Severity `json:"severity"`

	// Source is the file the policy was read from, or "builtin".
	Source string `json:"source"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the IR resource key the violation is about, if any.
	Resource string `json:"resource,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations"`

	// Warnings are the non-blocking violations.
	Warnings []Violation `json:"warnings"`

	// EvaluatedPolicies lists the names of policies that were evaluated, sorted.
	EvaluatedPolicies []string `json:"evaluatedPolicies"`

	Duration time.Duration `json:"duration"`
}
