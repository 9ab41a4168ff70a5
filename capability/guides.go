package capability

// OrchestratorGuide teaches the orchestrator when and how to plan a
// capability. Guides are assembled into the planning prompt in priority
// order (lower priority renders first).
type OrchestratorGuide struct {
	// Instructions is prose guidance: when to use the capability, what
	// inputs it needs, how it combines with other capabilities.
	Instructions string

	// Examples are concrete planned steps the orchestrator can imitate.
	Examples []OrchestratorExample

	// Priority orders guides in the prompt. The respond guide uses a high
	// value so it renders last.
	Priority int
}

// OrchestratorExample pairs an example step with the scenario it serves.
type OrchestratorExample struct {
	Step                PlannedStep
	ScenarioDescription string
	Notes               string
}

// ClassifierGuide teaches the task classifier to detect whether a
// capability is relevant to a user message.
type ClassifierGuide struct {
	// Instructions describes what kind of requests activate the capability.
	Instructions string

	// Examples are labeled queries.
	Examples []ClassifierExample
}

// ClassifierExample is a single labeled classification example.
type ClassifierExample struct {
	Query  string
	Result bool
	Reason string
}
