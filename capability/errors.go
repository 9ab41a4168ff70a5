package capability

import "fmt"

// Severity determines how the executor reacts to a failed step.
type Severity string

const (
	// SeverityCritical aborts the plan and surfaces the user message.
	SeverityCritical Severity = "critical"

	// SeverityRetriable retries the step with backoff up to the limit.
	SeverityRetriable Severity = "retriable"

	// SeverityReplanning feeds the failure back to the orchestrator for
	// one replan before giving up.
	SeverityReplanning Severity = "replanning"
)

// ErrorClassification tells the executor how to handle a step failure.
type ErrorClassification struct {
	Severity Severity

	// UserMessage is shown to the user when the failure is terminal.
	UserMessage string

	// TechnicalDetails is logged, never shown.
	TechnicalDetails string

	// Resolution hints at how an operator can fix the condition.
	Resolution string
}

// Classify resolves the handling for an error from the given capability,
// consulting its ErrorClassifier when implemented and defaulting to
// retriable otherwise.
func Classify(cap Capability, err error) ErrorClassification {
	if classifier, ok := cap.(ErrorClassifier); ok {
		return classifier.ClassifyError(err)
	}
	return ErrorClassification{
		Severity:         SeverityRetriable,
		UserMessage:      fmt.Sprintf("%s failed: %v", cap.Name(), err),
		TechnicalDetails: err.Error(),
	}
}

// InsufficientContextError indicates a capability was executed without the
// contexts it requires. Always classified critical: retrying cannot
// produce the missing inputs.
type InsufficientContextError struct {
	Capability string
	Missing    string
}

func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("%s: insufficient context: %s", e.Capability, e.Missing)
}
