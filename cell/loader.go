package cell

import (
	"fmt"

	"github.com/xiaojinao/cellium/errors"
)

// Factory constructs a cell from its dependencies. Factories resolve
// every declared dependency eagerly; returning an error marks the cell
// as failed at startup.
type Factory func(deps Dependencies) (Cell, error)

// LoadResult reports the outcome of one startup pass
type LoadResult struct {
	Loaded []string
	Failed map[string]error
}

// Load constructs and registers the enabled cells. A cell whose factory
// fails (typically an unresolved dependency) is skipped and logged
// prominently - the failure is fatal for that cell only, and every
// independently-constructible cell still loads in the same pass.
func Load(enabled []string, factories map[string]Factory, deps Dependencies, registry *Registry) LoadResult {
	logger := deps.GetLogger().With("component", "loader")
	result := LoadResult{Failed: make(map[string]error)}

	for _, name := range enabled {
		factory, exists := factories[name]
		if !exists {
			err := errors.WrapFatal(
				fmt.Errorf("%w: no factory for cell %q", errors.ErrUnresolvedDependency, name),
				"Loader", "Load", "factory lookup")
			logger.Error("cell load failed", "cell", name, "error", err)
			result.Failed[name] = err
			continue
		}

		c, err := factory(deps)
		if err != nil {
			logger.Error("cell construction failed", "cell", name, "error", err)
			result.Failed[name] = err
			continue
		}

		if err := registry.Register(c); err != nil {
			logger.Error("cell registration failed", "cell", name, "error", err)
			result.Failed[name] = err
			continue
		}

		result.Loaded = append(result.Loaded, name)
	}

	logger.Info("cell loading complete",
		"loaded", len(result.Loaded), "failed", len(result.Failed))
	return result
}
