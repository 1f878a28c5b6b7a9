// Package capability provides the dependency-injection container that
// binds abstract service keys to shared instances or factories. Cells
// resolve their declared dependencies eagerly at construction time, so a
// missing service is discovered before the cell can accept any command.
package capability

import (
	"fmt"
	"sync"

	"github.com/xiaojinao/cellium/errors"
)

// Factory creates a service instance. Factories receive the container so
// they can resolve their own dependencies; resolution cycles are detected
// and fail fast.
type Factory func(c *Container) (any, error)

type binding struct {
	instance  any
	factory   Factory
	singleton bool
	resolved  bool
}

// Container maps service keys to concrete instances or factories.
// It is populated during bootstrap before any cell is constructed and
// is read-mostly afterwards.
type Container struct {
	mu        sync.Mutex
	bindings  map[string]*binding
	resolving map[string]bool
}

// New creates an empty container
func New() *Container {
	return &Container{
		bindings:  make(map[string]*binding),
		resolving: make(map[string]bool),
	}
}

// Register binds key to a pre-built singleton instance.
func (c *Container) Register(key string, instance any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bindings[key] = &binding{
		instance:  instance,
		singleton: true,
		resolved:  true,
	}
}

// RegisterFactory binds key to a factory. When singleton is true the
// factory runs once and the instance is cached; otherwise it runs fresh
// on every resolution.
func (c *Container) RegisterFactory(key string, factory Factory, singleton bool) error {
	if factory == nil {
		return errors.WrapInvalid(
			errors.New("factory cannot be nil"), "Container", "RegisterFactory", "factory validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bindings[key] = &binding{
		factory:   factory,
		singleton: singleton,
	}
	return nil
}

// Resolve returns the instance bound to key, invoking its factory if
// needed. An unknown key fails with ErrUnresolvedDependency; a factory
// that resolves back into itself fails with ErrDependencyCycle.
func (c *Container) Resolve(key string) (any, error) {
	c.mu.Lock()

	b, exists := c.bindings[key]
	if !exists {
		c.mu.Unlock()
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %q", errors.ErrUnresolvedDependency, key),
			"Container", "Resolve", "service lookup")
	}

	if b.singleton && b.resolved {
		instance := b.instance
		c.mu.Unlock()
		return instance, nil
	}

	if c.resolving[key] {
		c.mu.Unlock()
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %q", errors.ErrDependencyCycle, key),
			"Container", "Resolve", "cycle detection")
	}
	c.resolving[key] = true
	factory := b.factory
	c.mu.Unlock()

	// Factory runs outside the lock so it can resolve its own dependencies.
	instance, err := factory(c)

	c.mu.Lock()
	delete(c.resolving, key)
	if err != nil {
		c.mu.Unlock()
		return nil, errors.WrapFatal(err, "Container", "Resolve", "factory execution")
	}
	if b.singleton {
		b.instance = instance
		b.resolved = true
	}
	c.mu.Unlock()

	return instance, nil
}

// Has reports whether key is registered
func (c *Container) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.bindings[key]
	return exists
}

// Keys returns all registered service keys
func (c *Container) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.bindings))
	for key := range c.bindings {
		keys = append(keys, key)
	}
	return keys
}

// Reset removes all bindings. Intended for tests.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bindings = make(map[string]*binding)
	c.resolving = make(map[string]bool)
}

// ResolveAs resolves key and asserts the instance to type T.
func ResolveAs[T any](c *Container, key string) (T, error) {
	var zero T

	instance, err := c.Resolve(key)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, errors.WrapFatal(
			fmt.Errorf("%w: %q bound to %T", errors.ErrUnresolvedDependency, key, instance),
			"Container", "ResolveAs", "type assertion")
	}
	return typed, nil
}
