// Package prompts provides the framework prompt providers: pluggable
// builders for the orchestrator planning prompt and the response
// generation prompt. Applications override the defaults to inject domain
// knowledge; the otter provider adds Badger / Bayesian Optimization
// expertise.
package prompts

import (
	"sync"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
)

// GuideEntry pairs a capability name with its orchestrator guide for
// prompt assembly.
type GuideEntry struct {
	CapabilityName string
	Guide          *capability.OrchestratorGuide
}

// OrchestratorBuilder assembles the planning system prompt.
type OrchestratorBuilder interface {
	// BuildSystemPrompt renders the full planning prompt from the active
	// capabilities' guides, ordered by guide priority.
	BuildSystemPrompt(guides []GuideEntry) string
}

// ResponseBuilder assembles the response generation prompt.
type ResponseBuilder interface {
	// RoleDefinition states who the assistant is.
	RoleDefinition() string

	// SystemInstructions renders the complete system prompt for the
	// current task.
	SystemInstructions(task string) string

	// BuildMessages renders the chat payload: system instructions,
	// conversation history, and the user task with its routed contexts.
	BuildMessages(task string, entries []contexts.Entry, history []llm.Message) []llm.Message
}

// Provider supplies the prompt builders for one application.
type Provider interface {
	// ApplicationName identifies the application the builders serve.
	ApplicationName() string

	OrchestratorBuilder() OrchestratorBuilder
	ResponseBuilder() ResponseBuilder
}

// providerRegistry holds registered prompt providers by application name.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a prompt provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.ApplicationName()] = p
}

// GetProvider retrieves a prompt provider by application name.
// Returns the default provider when the application has none registered.
func GetProvider(applicationName string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if p, ok := providerRegistry[applicationName]; ok {
		return p
	}
	return defaultProvider
}
