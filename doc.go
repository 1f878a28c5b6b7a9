// Package cellium provides the message routing and event dispatch core
// of a desktop shell. Backend capabilities are packaged as cells that
// expose named actions; frontend messages are routed to cells by a
// dispatcher; everything else communicates through a priority-ordered
// publish/subscribe event bus.
//
// # Architecture
//
// A message enters over the bridge and is answered with a string:
//
//	┌─────────────────────────────────────┐
//	│         Bridge (WebSocket)          │  frontend transport,
//	│       request/reply + push          │  rate limiting
//	└──────────────────┬──────────────────┘
//	                   ↓ raw message
//	┌─────────────────────────────────────┐
//	│            Dispatcher               │  target:action:payload
//	│  (parse, route, package the reply)  │  or event envelope
//	└─────────┬──────────────────┬────────┘
//	          ↓                  ↓
//	┌──────────────────┐  ┌──────────────┐
//	│   Cell Registry  │  │  Event Bus   │  priorities, wildcards,
//	│ (actions by name)│  │ (pub/sub)    │  once-handlers
//	└──────────────────┘  └──────────────┘
//
// Addressed commands have the form "target:action:payload". Only the
// first two separators are significant, so payloads may freely contain
// colons. Payloads that look like JSON are decoded into structured
// values with mapping key order preserved; everything else passes
// through as opaque text. A message without separators is tried as an
// event envelope ({"event": ..., data fields}) and published on the bus.
//
// Appending "!" to the action defers execution to the shared worker
// pool: the caller gets an immediate "Task submitted" acknowledgement
// and the result arrives later as a task.completed or task.failed
// event.
//
// # Packages
//
// Core routing:
//   - command: address parsing and the wire value model
//   - cell: cell contract, registry, dependency injection, loader
//   - dispatch: the message router
//   - eventbus: priority/pattern publish-subscribe
//   - capability: named service container for cell dependencies
//
// Execution:
//   - worker: bounded worker pool and task futures
//   - procworker: function offload to worker subprocesses
//
// Infrastructure:
//   - bridge: WebSocket frontend transport
//   - config: YAML settings with environment overrides
//   - errors: error classification and wrapping conventions
//   - metric: Prometheus metrics registry and scrape server
//
// Cells:
//   - cells/calculator: arithmetic expression evaluation
//   - cells/jsontest: structured payload diagnostics
//   - cells/serialport: serial device access
//
// # Failure Handling
//
// The dispatch boundary never propagates a failure to the frontend as
// anything other than a descriptive string. The only fatal error class
// is an unresolved dependency at cell construction, and it is fatal for
// that cell alone: every independently constructible cell still loads.
// Event handler failures are isolated per handler; a publish always
// reaches every matching subscriber.
//
// # Binary
//
// Build and run:
//
//	go build -o bin/cellium ./cmd/cellium
//	./bin/cellium --config settings.yaml
//
// The same binary started with --worker becomes a function worker child
// speaking line-delimited JSON on stdin/stdout.
package cellium
