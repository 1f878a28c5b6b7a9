// Package procworker offloads registered pure functions to worker
// subprocesses. Each worker is a copy of the running binary started in
// worker mode; requests and responses are line-delimited JSON over the
// child's stdin and stdout. Only functions registered by name on both
// sides can be called, and arguments must survive JSON.
package procworker

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Func is a unit of work executable in a worker process. It must be
// pure: no shared state with the parent beyond its JSON arguments.
type Func func(args json.RawMessage) (any, error)

// Initializer runs once in each worker process before any task
type Initializer func() error

type request struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

var (
	registryMu   sync.RWMutex
	registry     = make(map[string]Func)
	initializers []Initializer
)

// Register makes fn callable by name in worker processes. Registration
// normally happens in init() so that parent and child agree on the
// function table.
func Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("procworker: invalid registration for %q", name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("procworker: function %q already registered", name)
	}
	registry[name] = fn
	return nil
}

// RegisterInitializer adds a hook run in each worker before any task
func RegisterInitializer(init Initializer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	initializers = append(initializers, init)
}

func lookup(name string) (Func, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func runInitializers() error {
	registryMu.RLock()
	hooks := make([]Initializer, len(initializers))
	copy(hooks, initializers)
	registryMu.RUnlock()

	for _, init := range hooks {
		if err := init(); err != nil {
			return fmt.Errorf("procworker: initializer failed: %w", err)
		}
	}
	return nil
}

// resetForTest clears the function table between tests
func resetForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Func)
	initializers = nil
}
