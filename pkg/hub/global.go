package hub

import (
	"sync"
)

// The process-wide hub reference for components that cannot take a
// constructor dependency. Installed by main at startup and never
// reassigned.
var (
	globalMu  sync.Mutex
	globalHub *Hub
)

// SetGlobal installs the hub. The first call wins; later calls are
// ignored and report false. Tests swap via ResetGlobalForTest.
func SetGlobal(h *Hub) bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalHub != nil {
		return false
	}
	globalHub = h
	return true
}

// Global returns the installed hub, or nil before startup completes.
func Global() *Hub {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalHub
}

// ResetGlobalForTest clears the global hub between tests.
func ResetGlobalForTest() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHub = nil
}
