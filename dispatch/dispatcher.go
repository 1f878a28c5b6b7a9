// Package dispatch implements the message router between the frontend
// bridge and the backend core. Every inbound raw string is answered with
// a string: structured results are serialized, and parse or routing
// failures are converted to descriptive text rather than propagated -
// the bridge never sees a raw fault.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/xiaojinao/cellium/cell"
	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/errors"
	"github.com/xiaojinao/cellium/eventbus"
	"github.com/xiaojinao/cellium/metric"
	"github.com/xiaojinao/cellium/worker"
)

// Events published by the dispatcher for deferred command completion.
const (
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// envelopeSchema validates inbound event messages: a JSON object with a
// non-empty "event" name plus arbitrary data fields.
const envelopeSchema = `{
	"type": "object",
	"required": ["event"],
	"properties": {
		"event": {"type": "string", "minLength": 1}
	}
}`

// Dispatcher routes raw frontend messages to the cell registry or the
// event bus and packages results for the return trip.
type Dispatcher struct {
	registry *cell.Registry
	bus      *eventbus.Bus
	pool     *worker.TaskPool
	logger   *slog.Logger
	schema   *gojsonschema.Schema

	commands *prometheus.CounterVec
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithTaskPool enables deferred command execution through the shared
// worker pool. Without it, deferred commands fall back to synchronous
// execution.
func WithTaskPool(pool *worker.TaskPool) DispatcherOption {
	return func(d *Dispatcher) { d.pool = pool }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetricsRegistry registers a per-status command counter
func WithMetricsRegistry(registry *metric.Registry) DispatcherOption {
	return func(d *Dispatcher) {
		commands := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_commands_total",
			Help: "Total inbound messages by routing outcome",
		}, []string{"outcome"})
		if registry.RegisterCounterVec("dispatch", "commands_total", commands) == nil {
			d.commands = commands
		}
	}
}

// New creates a Dispatcher over the given registry and bus
func New(registry *cell.Registry, bus *eventbus.Bus, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		bus:      bus,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		// The schema is a compile-time constant; failing to build it is a
		// programming error.
		panic("dispatch: invalid event envelope schema: " + err.Error())
	}
	d.schema = schema

	return d
}

// HandleMessage routes one raw frontend message and always returns a
// string. Addressed commands go to the registry; everything else is
// tried as an event message; unparseable input yields a generic
// parse-failure string.
func (d *Dispatcher) HandleMessage(raw string) string {
	addr, err := command.Parse(raw)
	switch {
	case err == nil:
		return d.handleCommand(addr)
	case errors.Is(err, command.ErrNotAddressed):
		return d.handleEventMessage(raw)
	default:
		d.count("invalid")
		d.logger.Warn("invalid command address", "raw", raw, "error", err)
		return "Error: Invalid command format"
	}
}

// handleCommand routes an addressed command to the cell registry,
// either synchronously or through the worker pool.
func (d *Dispatcher) handleCommand(addr command.Address) string {
	if addr.Deferred && d.pool != nil {
		return d.submitDeferred(addr)
	}

	result, err := d.registry.Invoke(addr.Target, addr.Action, addr.Payload)
	if err != nil {
		d.count("error")
		return d.formatInvokeError(addr, err)
	}

	encoded, err := result.Encode()
	if err != nil {
		d.count("error")
		d.logger.Error("result encoding failed",
			"cell", addr.Target, "action", addr.Action, "error", err)
		return "Error: Result not serializable"
	}

	d.count("ok")
	d.logger.Debug("command dispatched",
		"cell", addr.Target, "action", addr.Action, "deferred", false)
	return encoded
}

// submitDeferred moves the invocation to the worker pool and returns an
// immediate acknowledgement. The eventual result is delivered
// out-of-band as a task.completed or task.failed event carrying the
// task id; it is never the return value of HandleMessage.
func (d *Dispatcher) submitDeferred(addr command.Address) string {
	// The id must exist before the closure does: a worker may run the
	// task before Submit returns to the caller.
	taskID := uuid.NewString()

	_, err := d.pool.Submit(func(_ context.Context) (any, error) {
		result, err := d.registry.Invoke(addr.Target, addr.Action, addr.Payload)
		if err != nil {
			d.bus.Publish(EventTaskFailed, eventbus.Data{
				"task_id": taskID,
				"cell":    addr.Target,
				"action":  addr.Action,
				"error":   err.Error(),
			})
			return nil, err
		}

		encoded, err := result.Encode()
		if err != nil {
			d.bus.Publish(EventTaskFailed, eventbus.Data{
				"task_id": taskID,
				"cell":    addr.Target,
				"action":  addr.Action,
				"error":   err.Error(),
			})
			return nil, err
		}

		d.bus.Publish(EventTaskCompleted, eventbus.Data{
			"task_id": taskID,
			"cell":    addr.Target,
			"action":  addr.Action,
			"result":  encoded,
		})
		return encoded, nil
	})
	if err != nil {
		d.count("error")
		d.logger.Error("deferred submission failed",
			"cell", addr.Target, "action", addr.Action, "error", err)
		return "Error: Task queue full"
	}

	d.count("deferred")
	d.logger.Debug("command deferred",
		"cell", addr.Target, "action", addr.Action, "task_id", taskID)
	return "Task submitted: " + taskID
}

// handleEventMessage interprets raw as a structured event message and
// publishes it on the bus.
func (d *Dispatcher) handleEventMessage(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		d.count("unroutable")
		return "Error: Unable to parse message"
	}

	validation, err := d.schema.Validate(gojsonschema.NewStringLoader(trimmed))
	if err != nil || !validation.Valid() {
		d.count("unroutable")
		d.logger.Warn("event message rejected", "raw", raw)
		return "Error: Unable to parse message"
	}

	value, err := command.DecodeJSON([]byte(trimmed))
	if err != nil || value.Kind() != command.KindMap {
		d.count("unroutable")
		return "Error: Unable to parse message"
	}

	m := value.AsMap()
	eventValue, _ := m.Get("event")
	eventName := eventValue.Text()

	data := make(eventbus.Data, m.Len()-1)
	for _, key := range m.Keys() {
		if key == "event" {
			continue
		}
		v, _ := m.Get(key)
		data[key] = valueToAny(v)
	}

	failures := d.bus.Publish(eventName, data)
	d.count("event")
	if len(failures) > 0 {
		return fmt.Sprintf("OK (%d handler error(s))", len(failures))
	}
	return "OK"
}

// formatInvokeError converts a registry error into the user-visible
// failure string. The underlying message is included; the error itself
// stops here and is logged.
func (d *Dispatcher) formatInvokeError(addr command.Address, err error) string {
	d.logger.Warn("command failed",
		"cell", addr.Target, "action", addr.Action, "error", err)

	switch {
	case errors.Is(err, errors.ErrCellNotFound):
		return fmt.Sprintf("Error: Cell '%s' not found", addr.Target)
	case errors.Is(err, errors.ErrUnknownAction):
		return fmt.Sprintf("Error: Unknown command '%s'", addr.Action)
	case errors.Is(err, errors.ErrNotSerializable):
		return "Error: Result not serializable"
	case errors.Is(err, errors.ErrActionFailed):
		return "Error: " + actionFailureMessage(err)
	default:
		return "Error: " + err.Error()
	}
}

// actionFailureMessage strips the wrapping down to the handler's own
// message so the frontend sees "Error: division by zero" rather than
// the full context chain.
func actionFailureMessage(err error) string {
	msg := err.Error()
	marker := errors.ErrActionFailed.Error() + ": "
	if idx := strings.LastIndex(msg, marker); idx >= 0 {
		return msg[idx+len(marker):]
	}
	return msg
}

// valueToAny flattens a command.Value into plain Go types for event data
func valueToAny(v command.Value) any {
	switch v.Kind() {
	case command.KindString:
		return v.Text()
	case command.KindNumber:
		return v.Float()
	case command.KindBool:
		return v.Truth()
	case command.KindMap:
		out := make(map[string]any, v.AsMap().Len())
		for _, key := range v.AsMap().Keys() {
			item, _ := v.AsMap().Get(key)
			out[key] = valueToAny(item)
		}
		return out
	case command.KindSeq:
		seq := v.AsSeq()
		out := make([]any, len(seq))
		for i, item := range seq {
			out[i] = valueToAny(item)
		}
		return out
	default:
		return nil
	}
}

func (d *Dispatcher) count(outcome string) {
	if d.commands != nil {
		d.commands.WithLabelValues(outcome).Inc()
	}
}
