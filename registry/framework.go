package registry

import (
	"github.com/als-computing/otter/capabilities"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/prompts"
)

// frameworkConfig declares the components every application gets without
// asking: the respond capability that turns gathered context into the
// final answer. Applications opt out via ExcludeCapabilities.
func frameworkConfig(applicationName string) Config {
	return Config{
		Capabilities: []CapabilityRegistration{
			{
				Name: "respond",
				Factory: func(deps capability.Dependencies) (capability.Capability, error) {
					builder := prompts.GetProvider(applicationName).ResponseBuilder()
					return capabilities.NewRespond(builder), nil
				},
			},
		},
	}
}
