package memory

import (
	"path/filepath"
	"sync"
)

// pathMutexes serializes concurrent access, within this process, to a
// given database path: two Memory instances opened against the same file
// must not interleave writes on goroutines that don't otherwise coordinate
// (spec §5 — the Store itself serializes at the connection-pool level, but
// higher-level read-modify-write sequences like Consolidate still need a
// wider critical section).
var (
	registryMu sync.Mutex
	pathMutexes = make(map[string]*sync.Mutex)
)

func mutexFor(dbPath string) *sync.Mutex {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		abs = dbPath
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	mu, ok := pathMutexes[abs]
	if !ok {
		mu = &sync.Mutex{}
		pathMutexes[abs] = mu
	}
	return mu
}

// WithExclusiveAccess runs fn while holding the process-wide mutex
// registered for dbPath, serializing callers that operate on the same
// database path concurrently from different goroutines.
func WithExclusiveAccess(dbPath string, fn func()) {
	mu := mutexFor(dbPath)
	mu.Lock()
	defer mu.Unlock()
	fn()
}
