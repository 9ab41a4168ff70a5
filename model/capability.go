// Package model provides capability-based model selection for agent roles.
// Instead of hardcoding model names, framework components specify capabilities
// (orchestrator, classifier, response) and the registry resolves them to
// available models with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "claude-sonnet", framework code specifies
// "orchestrator" or "extraction".
type Capability string

const (
	// CapabilityOrchestrator is for execution planning and step sequencing.
	CapabilityOrchestrator Capability = "orchestrator"

	// CapabilityClassifier is for task classification of user messages.
	CapabilityClassifier Capability = "classifier"

	// CapabilityResponse is for final user-facing response generation.
	CapabilityResponse Capability = "response"

	// CapabilityExtraction is for structured data extraction from natural language.
	CapabilityExtraction Capability = "extraction"

	// CapabilityFast is for quick internal calls, simple transformations.
	CapabilityFast Capability = "fast"
)

// RoleCapabilities maps framework roles to their default capability.
// Used when no explicit capability or model is specified.
var RoleCapabilities = map[string]Capability{
	"orchestrator":        CapabilityOrchestrator,
	"task_classifier":     CapabilityClassifier,
	"response_generation": CapabilityResponse,
	"extract_run_filters": CapabilityExtraction,
}

// CapabilityForRole returns the default capability for a given role.
// Returns CapabilityFast as fallback for unknown roles.
func CapabilityForRole(role string) Capability {
	if cap, ok := RoleCapabilities[role]; ok {
		return cap
	}
	return CapabilityFast
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityOrchestrator, CapabilityClassifier, CapabilityResponse, CapabilityExtraction, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
