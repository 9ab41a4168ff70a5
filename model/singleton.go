package model

import "sync"

var (
	globalMu sync.Mutex
	global   *Registry
)

// Global returns the process-wide model registry. Callers that run
// before InitGlobal get the built-in gateway/ollama defaults.
func Global() *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = NewDefaultRegistry()
	}
	return global
}

// InitGlobal installs the registry built from configuration. The first
// installed registry wins, so startup wiring takes precedence over the
// lazy default and repeated calls are harmless.
func InitGlobal(r *Registry) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = r
	}
}

// ResetGlobal clears the installed registry. Test use only.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}
