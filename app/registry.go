// Package app declares otter's registry configuration: which
// capabilities, context classes, data sources, LLM providers, and prompt
// providers make up the application.
package app

import (
	"github.com/als-computing/otter/capabilities"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/registry"

	// Provider adapters register themselves on import.
	_ "github.com/als-computing/otter/llm/providers"
)

// ApplicationName labels the registry and selects the otter prompt
// provider.
const ApplicationName = "otter"

// RegistryConfig builds otter's registry declaration around the given
// archive data source. ExtendFrameworkRegistry adds the framework's
// respond capability on top.
func RegistryConfig(archive capability.DataSource) registry.Config {
	return registry.Config{
		ApplicationName: ApplicationName,

		Capabilities: []registry.CapabilityRegistration{
			{
				Name: "extract_run_filters",
				Factory: func(deps capability.Dependencies) (capability.Capability, error) {
					return capabilities.NewExtractRunFilters(deps), nil
				},
			},
			{
				Name: "query_runs",
				Factory: func(deps capability.Dependencies) (capability.Capability, error) {
					return capabilities.NewQueryRuns(deps)
				},
			},
			{
				Name: "analyze_runs",
				Factory: func(deps capability.Dependencies) (capability.Capability, error) {
					return capabilities.NewAnalyzeRuns(deps), nil
				},
			},
			{
				Name: "propose_routines",
				Factory: func(deps capability.Dependencies) (capability.Capability, error) {
					return capabilities.NewProposeRoutines(deps), nil
				},
			},
		},

		ContextClasses: []registry.ContextClassRegistration{
			{
				ContextType: contexts.TypeRunQueryFilters,
				New:         func() contexts.Context { return &contexts.RunQueryFilters{} },
			},
			{
				ContextType: contexts.TypeBadgerRun,
				New:         func() contexts.Context { return &contexts.BadgerRun{} },
			},
			{
				ContextType: contexts.TypeBadgerRuns,
				New:         func() contexts.Context { return &contexts.BadgerRuns{} },
			},
			{
				ContextType: contexts.TypeRunAnalysis,
				New:         func() contexts.Context { return &contexts.RunAnalysis{} },
			},
			{
				ContextType: contexts.TypeBadgerRoutines,
				New:         func() contexts.Context { return &contexts.BadgerRoutines{} },
			},
			// Legacy context, kept so persisted sessions from older
			// versions still decode.
			{
				ContextType: contexts.TypeRoutineProposal,
				New:         func() contexts.Context { return &contexts.RoutineProposal{} },
			},
		},

		DataSources: []registry.DataSourceRegistration{
			{
				Name:                "badger_archive",
				Description:         "Badger optimization runs archive with health monitoring",
				HealthCheckRequired: true,
				Factory: func() (capability.DataSource, error) {
					return archive, nil
				},
			},
		},

		Providers: []registry.ProviderRegistration{
			{Name: "stanford"},
		},

		PromptProvider: &registry.PromptProviderRegistration{
			ApplicationName: ApplicationName,
			Description:     "Otter-specific framework prompts with Badger/BO domain knowledge for correct run analysis",
		},
	}
}
