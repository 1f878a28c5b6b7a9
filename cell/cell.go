// Package cell defines the contract for addressable backend components
// ("cells") and the registry that routes command invocations to them.
package cell

import (
	"github.com/xiaojinao/cellium/command"
)

// Action handles one verb of a cell's command surface. The payload is
// the decoded command payload; the returned value must fit the closed
// command.Value set or the invocation fails with a serialization error.
type Action func(payload command.Value) (any, error)

// Cell is an independently addressable unit of backend functionality.
// The action table returned by Actions is read once at registration and
// cached; it must be stable for the cell's lifetime.
type Cell interface {
	// Name returns the unique lowercase identifier the frontend uses to
	// address this cell.
	Name() string

	// Actions returns the explicit table mapping action names to
	// handlers. Built once at construction, not looked up reflectively.
	Actions() map[string]Action
}

// Describer is an optional cell extension providing an action catalog
// for introspection and help tooling.
type Describer interface {
	// Describe maps action names to human-readable descriptions.
	Describe() map[string]string
}

// Stoppable is an optional cell extension for cells that own background
// resources (read loops, open ports). Stop is called at shutdown.
type Stoppable interface {
	Stop() error
}
