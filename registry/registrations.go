// Package registry assembles the application's capabilities, context
// classes, data sources, LLM providers, and prompt providers into a
// single validated registry. Applications declare their components in a
// Config and call ExtendFrameworkRegistry, which layers them over the
// framework's built-ins.
package registry

import (
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
)

// CapabilityRegistration declares one capability and how to build it.
type CapabilityRegistration struct {
	// Name must match the built capability's Name().
	Name string

	// Factory constructs the capability once dependencies are available.
	Factory capability.Factory
}

// ContextClassRegistration declares one context type and its concrete
// class, used to reconstruct stored contexts from persisted JSON.
type ContextClassRegistration struct {
	ContextType contexts.Type

	// New returns a zero value of the concrete type, as a pointer so it
	// can be unmarshaled into.
	New func() contexts.Context
}

// DataSourceRegistration declares one external data source.
type DataSourceRegistration struct {
	Name        string
	Description string

	// HealthCheckRequired gates session startup on this source's health.
	HealthCheckRequired bool

	// Factory constructs the source. Configuration is captured in the
	// closure at declaration time.
	Factory func() (capability.DataSource, error)
}

// ProviderRegistration names an LLM provider the application relies on.
// Providers self-register in the llm package; this entry makes the
// dependency explicit so Build fails fast when one is missing.
type ProviderRegistration struct {
	Name string
}

// PromptProviderRegistration names the application whose prompt builders
// should be used. Prompt providers self-register in the prompts package.
type PromptProviderRegistration struct {
	ApplicationName string
	Description     string
}

// Config is an application's registry declaration.
type Config struct {
	// ApplicationName selects the prompt provider and labels the
	// registry in status output.
	ApplicationName string

	Capabilities   []CapabilityRegistration
	ContextClasses []ContextClassRegistration
	DataSources    []DataSourceRegistration
	Providers      []ProviderRegistration
	PromptProvider *PromptProviderRegistration

	// ExcludeCapabilities drops named capabilities, framework built-ins
	// included, before validation.
	ExcludeCapabilities []string
}
