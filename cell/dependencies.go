package cell

import (
	"log/slog"

	"github.com/xiaojinao/cellium/capability"
	"github.com/xiaojinao/cellium/eventbus"
	"github.com/xiaojinao/cellium/metric"
)

// Dependencies provides all shared services a cell may need. Factories
// receive this structure at construction time and resolve everything
// they declare eagerly; a missing dependency fails the cell's
// construction before it can accept any command.
type Dependencies struct {
	Logger    *slog.Logger          // Structured logger (can be nil, defaults to slog.Default())
	Bus       *eventbus.Bus         // Event bus for publish/subscribe
	Container *capability.Container // DI container for named service resolution
	Metrics   *metric.Registry      // Metrics registry (can be nil)
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithCell returns a logger configured with cell context
func (d *Dependencies) GetLoggerWithCell(cellName string) *slog.Logger {
	return d.GetLogger().With("cell", cellName)
}
