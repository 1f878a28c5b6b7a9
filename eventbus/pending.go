package eventbus

import "sync"

// Static registration happens in two phases: cells declare handler
// intents at construction time (before any bus necessarily exists), and
// bootstrap binds every collected intent to a concrete bus with
// RegisterPending. The bus-wide namespace is applied at bind time.

type intent struct {
	pattern string
	handler Handler
	opts    []Option
}

var (
	pendingMu sync.Mutex
	pending   []intent
)

// Declare collects a declarative subscription intent. Nothing is
// registered until RegisterPending runs against a bus.
func Declare(pattern string, handler Handler, opts ...Option) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	pending = append(pending, intent{pattern: pattern, handler: handler, opts: opts})
}

// DeclareOnce collects a one-shot subscription intent
func DeclareOnce(pattern string, handler Handler, opts ...Option) {
	Declare(pattern, handler, append(opts, Once())...)
}

// RegisterPending binds all collected intents to b, applying the bus
// namespace to each pattern, and drains the pending set. It returns the
// created handles in declaration order. Intents whose pattern fails to
// compile are skipped and logged.
func (b *Bus) RegisterPending() []*Subscription {
	pendingMu.Lock()
	intents := pending
	pending = nil
	pendingMu.Unlock()

	ns := b.Namespace()

	handles := make([]*Subscription, 0, len(intents))
	for _, in := range intents {
		opts := in.opts
		if ns != "" {
			opts = append(opts, WithNamespace(ns))
		}
		sub, err := b.Subscribe(in.pattern, in.handler, opts...)
		if err != nil {
			b.logger.Error("pending subscription rejected", "pattern", in.pattern, "error", err)
			continue
		}
		handles = append(handles, sub)
	}
	return handles
}

// ClearPending drops all collected intents. Intended for tests.
func ClearPending() {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	pending = nil
}
