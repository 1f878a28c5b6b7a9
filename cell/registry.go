package cell

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/errors"
)

// Info holds introspection metadata about a registered cell
type Info struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

type entry struct {
	cell    Cell
	actions map[string]Action
}

// Registry maps cell names to cells and routes invocations to their
// action tables. Mutated only during startup registration, read-mostly
// afterwards; all access is thread-safe.
type Registry struct {
	mu     sync.RWMutex
	cells  map[string]*entry
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty cell registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cells:  make(map[string]*entry),
		logger: logger.With("component", "registry"),
	}
}

// Register stores a cell under its declared name. Re-registration with
// the same name silently replaces the prior entry - last registered
// wins. This matches long-standing behavior that callers depend on; a
// replacement is logged so the collision is at least visible.
func (r *Registry) Register(c Cell) error {
	if c == nil {
		return errors.WrapInvalid(
			errors.New("cell cannot be nil"), "Registry", "Register", "cell validation")
	}
	name := c.Name()
	if err := validateCellName(name); err != nil {
		return errors.WrapInvalid(err, "Registry", "Register", "name validation")
	}

	actions := c.Actions()
	if len(actions) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("cell %q declares no actions", name),
			"Registry", "Register", "action table validation")
	}

	// Snapshot the action table once; dispatch never goes back to the cell.
	table := make(map[string]Action, len(actions))
	for actionName, fn := range actions {
		if fn == nil {
			return errors.WrapInvalid(
				fmt.Errorf("cell %q action %q is nil", name, actionName),
				"Registry", "Register", "action table validation")
		}
		table[actionName] = fn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cells[name]; exists {
		r.logger.Warn("cell re-registered, last registration wins", "cell", name)
	} else {
		r.order = append(r.order, name)
	}
	r.cells[name] = &entry{cell: c, actions: table}

	r.logger.Info("cell registered", "cell", name, "actions", len(table))
	return nil
}

// Resolve returns the cell registered under name
func (r *Registry) Resolve(name string) (Cell, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.cells[name]
	if !exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrCellNotFound, name),
			"Registry", "Resolve", "cell lookup")
	}
	return e.cell, nil
}

// List returns info for all registered cells in insertion order
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		e := r.cells[name]
		actions := make([]string, 0, len(e.actions))
		for actionName := range e.actions {
			actions = append(actions, actionName)
		}
		infos = append(infos, Info{Name: name, Actions: actions})
	}
	return infos
}

// Describe returns the action catalog of a cell, or nil when the cell
// does not implement Describer.
func (r *Registry) Describe(name string) (map[string]string, error) {
	c, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if d, ok := c.(Describer); ok {
		return d.Describe(), nil
	}
	return nil, nil
}

// Invoke looks up the cell and action, runs the handler with the decoded
// payload, and converts the result to a command.Value. Handler panics
// are contained and surfaced as action errors.
func (r *Registry) Invoke(name, action string, payload command.Value) (command.Value, error) {
	r.mu.RLock()
	e, exists := r.cells[name]
	r.mu.RUnlock()

	if !exists {
		return command.Null(), errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrCellNotFound, name),
			"Registry", "Invoke", "cell lookup")
	}

	fn, exists := e.actions[action]
	if !exists {
		return command.Null(), errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownAction, action),
			"Registry", "Invoke", "action lookup")
	}

	result, err := r.runAction(fn, payload)
	if err != nil {
		return command.Null(), errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrActionFailed, err),
			"Registry", "Invoke", fmt.Sprintf("%s:%s execution", name, action))
	}

	value, err := command.FromAny(result)
	if err != nil {
		// Contract violation: the handler returned something outside the
		// closed Value set. Surfaced as an error, never coerced.
		return command.Null(), err
	}
	return value, nil
}

// runAction executes a single action with panic containment
func (r *Registry) runAction(fn Action, payload command.Value) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panic: %v", rec)
		}
	}()
	return fn(payload)
}

// Unregister removes a cell. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cells[name]; !exists {
		return
	}
	delete(r.cells, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// validateCellName enforces the same charset as command address targets
func validateCellName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty cell name", errors.ErrInvalidAddress)
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
			return fmt.Errorf("%w: bad cell name %q", errors.ErrInvalidAddress, name)
		}
	}
	return nil
}
