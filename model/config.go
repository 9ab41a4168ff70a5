package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegistryConfig represents the configuration structure for the model
// registry, as found under the "model" key of config.yml.
type RegistryConfig struct {
	Capabilities map[string]*CapabilityConfig `json:"capabilities" yaml:"capabilities"`
	Endpoints    map[string]*EndpointConfig   `json:"endpoints" yaml:"endpoints"`
	Defaults     *DefaultsConfig              `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// LoadFromFile loads a registry configuration from a YAML file.
// The file may contain a top-level "model" key or the registry config directly.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML loads a registry from YAML data.
func LoadFromYAML(data []byte) (*Registry, error) {
	var fullConfig struct {
		Model *RegistryConfig `yaml:"model"`
	}
	if err := yaml.Unmarshal(data, &fullConfig); err == nil && fullConfig.Model != nil {
		return RegistryFromConfig(fullConfig.Model), nil
	}

	var regConfig RegistryConfig
	if err := yaml.Unmarshal(data, &regConfig); err != nil {
		return nil, fmt.Errorf("parse model registry config: %w", err)
	}

	return RegistryFromConfig(&regConfig), nil
}

// RegistryFromConfig converts a RegistryConfig to a Registry.
func RegistryFromConfig(cfg *RegistryConfig) *Registry {
	caps := make(map[Capability]*CapabilityConfig, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		cap := ParseCapability(k)
		if cap == "" {
			// Unknown capability names pass through untyped so applications
			// can define their own.
			cap = Capability(k)
		}
		caps[cap] = v
	}

	defaults := cfg.Defaults
	if defaults == nil {
		defaults = &DefaultsConfig{Model: "default"}
	}

	return &Registry{
		capabilities: caps,
		endpoints:    cfg.Endpoints,
		defaults:     defaults,
	}
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]*CapabilityConfig, len(r.capabilities))
	for k, v := range r.capabilities {
		caps[string(k)] = v
	}

	return &RegistryConfig{
		Capabilities: caps,
		Endpoints:    r.endpoints,
		Defaults:     r.defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capabilities == nil {
		r.capabilities = make(map[Capability]*CapabilityConfig)
	}
	for k, v := range cfg.Capabilities {
		cap := ParseCapability(k)
		if cap == "" {
			cap = Capability(k)
		}
		r.capabilities[cap] = v
	}

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}

	if cfg.Defaults != nil {
		r.defaults = cfg.Defaults
	}
}
