package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/prompts"
)

// Registry is the validated, built set of application components. It is
// immutable after Build; all lookups are safe for concurrent use.
type Registry struct {
	applicationName string

	capabilities map[string]capability.Capability
	capOrder     []string

	contextClasses map[contexts.Type]ContextClassRegistration
	dataSources    map[string]capability.DataSource
	dsRegs         map[string]DataSourceRegistration
	providers      []ProviderRegistration
	promptProvider prompts.Provider
}

// ApplicationName returns the application this registry was built for.
func (r *Registry) ApplicationName() string { return r.applicationName }

// Capability returns a capability by name.
func (r *Registry) Capability(name string) (capability.Capability, bool) {
	c, ok := r.capabilities[name]
	return c, ok
}

// Capabilities returns all capabilities in registration order.
func (r *Registry) Capabilities() []capability.Capability {
	out := make([]capability.Capability, 0, len(r.capOrder))
	for _, name := range r.capOrder {
		out = append(out, r.capabilities[name])
	}
	return out
}

// CapabilityNames returns the registered capability names in
// registration order.
func (r *Registry) CapabilityNames() []string {
	return slices.Clone(r.capOrder)
}

// Guides collects orchestrator guides from capabilities that provide
// them, in registration order.
func (r *Registry) Guides() []prompts.GuideEntry {
	var out []prompts.GuideEntry
	for _, name := range r.capOrder {
		c := r.capabilities[name]
		entry := prompts.GuideEntry{CapabilityName: name}
		if g, ok := c.(capability.Guided); ok {
			entry.Guide = g.OrchestratorGuide()
		}
		out = append(out, entry)
	}
	return out
}

// ClassifierEntry pairs a capability name with its classifier guide so
// the classifier can report which capabilities a message activates.
type ClassifierEntry struct {
	CapabilityName string
	Guide          *capability.ClassifierGuide
}

// ClassifierGuides collects classifier guides from capabilities that
// provide them.
func (r *Registry) ClassifierGuides() []ClassifierEntry {
	var out []ClassifierEntry
	for _, name := range r.capOrder {
		if g, ok := r.capabilities[name].(capability.Guided); ok {
			if cg := g.ClassifierGuide(); cg != nil {
				out = append(out, ClassifierEntry{CapabilityName: name, Guide: cg})
			}
		}
	}
	return out
}

// ContextTypes returns the registered context types, sorted.
func (r *Registry) ContextTypes() []contexts.Type {
	out := make([]contexts.Type, 0, len(r.contextClasses))
	for t := range r.contextClasses {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewContext returns a fresh instance of the registered class for a
// context type.
func (r *Registry) NewContext(t contexts.Type) (contexts.Context, error) {
	reg, ok := r.contextClasses[t]
	if !ok {
		return nil, fmt.Errorf("no context class registered for type %s", t)
	}
	return reg.New(), nil
}

// DecodeContext reconstructs a stored context from its persisted JSON.
func (r *Registry) DecodeContext(t contexts.Type, data []byte) (contexts.Context, error) {
	c, err := r.NewContext(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decoding %s context: %w", t, err)
	}
	return c, nil
}

// DataSource returns a built data source by name.
func (r *Registry) DataSource(name string) (capability.DataSource, bool) {
	ds, ok := r.dataSources[name]
	return ds, ok
}

// DataSources returns all built data sources, sorted by name.
func (r *Registry) DataSources() []capability.DataSource {
	out := make([]capability.DataSource, 0, len(r.dataSources))
	for _, ds := range r.dataSources {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// HealthCheckRequired returns the data sources whose health gates
// session startup.
func (r *Registry) HealthCheckRequired() []capability.DataSource {
	var out []capability.DataSource
	for name, reg := range r.dsRegs {
		if reg.HealthCheckRequired {
			out = append(out, r.dataSources[name])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Providers returns the declared LLM provider registrations.
func (r *Registry) Providers() []ProviderRegistration {
	return slices.Clone(r.providers)
}

// PromptProvider returns the prompt provider selected for this
// application.
func (r *Registry) PromptProvider() prompts.Provider {
	return r.promptProvider
}

// ExtendFrameworkRegistry layers an application's Config over the
// framework built-ins, builds every component, and validates the result.
func ExtendFrameworkRegistry(cfg Config, deps capability.Dependencies) (*Registry, error) {
	if cfg.ApplicationName == "" {
		return nil, fmt.Errorf("config missing application name")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	merged := frameworkConfig(cfg.ApplicationName)
	merged.ApplicationName = cfg.ApplicationName
	merged.Capabilities = append(merged.Capabilities, cfg.Capabilities...)
	merged.ContextClasses = append(merged.ContextClasses, cfg.ContextClasses...)
	merged.DataSources = append(merged.DataSources, cfg.DataSources...)
	merged.Providers = append(merged.Providers, cfg.Providers...)
	merged.PromptProvider = cfg.PromptProvider
	merged.ExcludeCapabilities = cfg.ExcludeCapabilities

	return build(merged, deps)
}

func build(cfg Config, deps capability.Dependencies) (*Registry, error) {
	r := &Registry{
		applicationName: cfg.ApplicationName,
		capabilities:    make(map[string]capability.Capability),
		contextClasses:  make(map[contexts.Type]ContextClassRegistration),
		dataSources:     make(map[string]capability.DataSource),
		dsRegs:          make(map[string]DataSourceRegistration),
		providers:       slices.Clone(cfg.Providers),
	}

	for _, reg := range cfg.ContextClasses {
		if _, dup := r.contextClasses[reg.ContextType]; dup {
			return nil, fmt.Errorf("duplicate context class for type %s", reg.ContextType)
		}
		if reg.New == nil {
			return nil, fmt.Errorf("context class %s has no constructor", reg.ContextType)
		}
		r.contextClasses[reg.ContextType] = reg
	}

	for _, reg := range cfg.DataSources {
		if _, dup := r.dsRegs[reg.Name]; dup {
			return nil, fmt.Errorf("duplicate data source %q", reg.Name)
		}
		if reg.Factory == nil {
			return nil, fmt.Errorf("data source %q has no factory", reg.Name)
		}
		ds, err := reg.Factory()
		if err != nil {
			return nil, fmt.Errorf("building data source %q: %w", reg.Name, err)
		}
		r.dsRegs[reg.Name] = reg
		r.dataSources[reg.Name] = ds
	}

	for _, reg := range cfg.Providers {
		if llm.GetProvider(reg.Name) == nil {
			return nil, fmt.Errorf("llm provider %q is declared but not registered", reg.Name)
		}
	}

	if cfg.PromptProvider != nil {
		r.promptProvider = prompts.GetProvider(cfg.PromptProvider.ApplicationName)
	} else {
		r.promptProvider = prompts.GetProvider(cfg.ApplicationName)
	}

	// Data sources are built above so capability factories can resolve
	// them through deps.
	if deps.DataSources == nil {
		deps.DataSources = make(map[string]capability.DataSource, len(r.dataSources))
	}
	for name, ds := range r.dataSources {
		deps.DataSources[name] = ds
	}

	for _, reg := range cfg.Capabilities {
		if slices.Contains(cfg.ExcludeCapabilities, reg.Name) {
			continue
		}
		if _, dup := r.capabilities[reg.Name]; dup {
			return nil, fmt.Errorf("duplicate capability %q", reg.Name)
		}
		if reg.Factory == nil {
			return nil, fmt.Errorf("capability %q has no factory", reg.Name)
		}
		c, err := reg.Factory(deps)
		if err != nil {
			return nil, fmt.Errorf("building capability %q: %w", reg.Name, err)
		}
		if c.Name() != reg.Name {
			return nil, fmt.Errorf("capability registered as %q reports name %q", reg.Name, c.Name())
		}
		r.capabilities[reg.Name] = c
		r.capOrder = append(r.capOrder, reg.Name)
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// validate checks the provides/requires closure: every context type a
// capability touches must have a registered class, and every required
// type must be producible by some capability.
func (r *Registry) validate() error {
	if len(r.capabilities) == 0 {
		return fmt.Errorf("registry has no capabilities")
	}

	provided := make(map[contexts.Type]bool)
	for _, c := range r.capabilities {
		for _, t := range c.Provides() {
			provided[t] = true
		}
	}

	for _, name := range r.capOrder {
		c := r.capabilities[name]
		for _, t := range c.Provides() {
			if _, ok := r.contextClasses[t]; !ok {
				return fmt.Errorf("capability %q provides unregistered context type %s", name, t)
			}
		}
		for _, t := range c.Requires() {
			if _, ok := r.contextClasses[t]; !ok {
				return fmt.Errorf("capability %q requires unregistered context type %s", name, t)
			}
			if !provided[t] {
				return fmt.Errorf("capability %q requires context type %s which no capability provides", name, t)
			}
		}
	}
	return nil
}
