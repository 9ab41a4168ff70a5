package capability

import "fmt"

// PlannedStep is one entry of an execution plan. The orchestrator emits
// these from LLM output; the executor runs them in order.
type PlannedStep struct {
	// ContextKey is the key the step's output context is stored under.
	ContextKey string `json:"context_key"`

	// Capability names the capability to execute.
	Capability string `json:"capability"`

	// TaskObjective describes what this step should accomplish.
	TaskObjective string `json:"task_objective"`

	// ExpectedOutput is the context type the step should produce.
	ExpectedOutput string `json:"expected_output"`

	// SuccessCriteria describes how to judge the step succeeded.
	SuccessCriteria string `json:"success_criteria,omitempty"`

	// Inputs maps required context types to the keys of earlier outputs,
	// e.g. [{"BADGER_RUNS": "recent_runs"}, {"RUN_ANALYSIS": "analysis"}].
	Inputs []map[string]string `json:"inputs,omitempty"`

	// Parameters holds capability-specific settings.
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (s *PlannedStep) String() string {
	return fmt.Sprintf("%s -> %s[%s]", s.Capability, s.ExpectedOutput, s.ContextKey)
}

// ExecutionPlan is the ordered step list the orchestrator produced for one
// user message.
type ExecutionPlan struct {
	Steps []PlannedStep `json:"steps"`

	// Reasoning is the orchestrator's own statement of intent; kept for
	// trajectory inspection, never shown to the user.
	Reasoning string `json:"reasoning,omitempty"`
}
