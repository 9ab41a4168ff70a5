package registry

import "sync"

var (
	globalMu sync.RWMutex
	global   *Registry
)

// SetGlobal installs the process-wide registry. Called once during
// application startup.
func SetGlobal(r *Registry) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = r
}

// Global returns the process-wide registry, or nil before startup
// installs one.
func Global() *Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// ResetGlobal clears the process-wide registry. Test helper.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}
