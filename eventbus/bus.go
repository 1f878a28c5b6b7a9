package eventbus

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaojinao/cellium/metric"
)

// Priority orders subscriber invocation; higher runs first.
type Priority int

// Standard priority levels. Any int value is accepted; these are the
// conventional bands.
const (
	Lowest  Priority = 0
	Low     Priority = 100
	Normal  Priority = 500
	High    Priority = 1000
	Highest Priority = 10000
)

// Data carries the keyword payload of an event.
type Data map[string]any

// Handler processes a published event. The event name is always the
// fully-qualified published name, not the subscription pattern.
type Handler func(event string, data Data) error

// Subscription is the handle returned by Subscribe and consumed by
// Unsubscribe. Handles stay valid (as no-ops) after removal.
type Subscription struct {
	ID       string
	Pattern  string
	Priority Priority
	Once     bool

	handler handlerFunc
	matcher matcher
	seq     uint64
	removed bool
}

type handlerFunc = Handler

// HandlerError reports a single subscriber failure during a publish call.
type HandlerError struct {
	Subscription *Subscription
	Event        string
	Err          error
}

func (he HandlerError) Error() string {
	return fmt.Sprintf("handler for %q (pattern %q): %v", he.Event, he.Subscription.Pattern, he.Err)
}

type subOptions struct {
	priority  Priority
	once      bool
	namespace string
}

// Option configures a subscription
type Option func(*subOptions)

// WithPriority sets the subscription priority (default Normal)
func WithPriority(p Priority) Option {
	return func(o *subOptions) { o.priority = p }
}

// Once limits the subscription to a single invocation, whether or not
// the handler fails. The handler fires at most once even when matching
// events are published concurrently.
func Once() Option {
	return func(o *subOptions) { o.once = true }
}

// WithNamespace prepends a dotted namespace to the pattern at
// registration time. Catch-all patterns are never namespaced.
func WithNamespace(ns string) Option {
	return func(o *subOptions) { o.namespace = ns }
}

// Bus is the multi-strategy publish/subscribe dispatcher. A Bus is safe
// for concurrent use; handler thread-safety is the handler author's
// responsibility.
type Bus struct {
	mu        sync.RWMutex
	subs      []*Subscription
	byID      map[string]*Subscription
	namespace string
	seq       uint64
	logger    *slog.Logger

	// deferredMu guards the deferred channel lifecycle. PublishAsync
	// holds it across the closed check and the send so Close cannot
	// close the channel in between.
	deferredMu sync.Mutex
	deferredCh chan deferredEvent
	deferredWG sync.WaitGroup
	closed     bool

	published     prometheus.Counter
	handlerErrors prometheus.Counter
}

type deferredEvent struct {
	event string
	data  Data
}

// BusOption configures a Bus at construction
type BusOption func(*Bus)

// WithLogger sets the structured logger used for handler failures and
// subscription diagnostics.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = logger }
}

// WithMetricsRegistry registers publish and handler-error counters with
// the framework's metrics registry.
func WithMetricsRegistry(registry *metric.Registry) BusOption {
	return func(b *Bus) {
		published := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventbus_published_total",
			Help: "Total events published",
		})
		handlerErrors := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventbus_handler_errors_total",
			Help: "Total subscriber failures during publish",
		})
		if registry.RegisterCounter("eventbus", "published_total", published) == nil {
			b.published = published
		}
		if registry.RegisterCounter("eventbus", "handler_errors_total", handlerErrors) == nil {
			b.handlerErrors = handlerErrors
		}
	}
}

// New creates an empty Bus
func New(opts ...BusOption) *Bus {
	b := &Bus{
		byID:   make(map[string]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "eventbus")
	return b
}

// SetNamespace establishes the bus-wide namespace applied to statically
// declared subscriptions bound by RegisterPending. Dynamic Subscribe
// calls are unaffected unless they opt in with WithNamespace.
func (b *Bus) SetNamespace(ns string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.namespace = strings.Trim(ns, ".")
}

// Namespace returns the current bus-wide namespace
func (b *Bus) Namespace() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.namespace
}

// Subscribe registers a handler for events matching pattern and returns
// its handle. The pattern may be an exact name, a glob pattern, or the
// catch-all marker "*".
func (b *Bus) Subscribe(pattern string, handler Handler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("Bus.Subscribe: handler cannot be nil")
	}

	options := subOptions{priority: Normal}
	for _, opt := range opts {
		opt(&options)
	}

	fullPattern := applyNamespace(options.namespace, pattern)
	m, err := compilePattern(fullPattern)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:       uuid.NewString(),
		Pattern:  fullPattern,
		Priority: options.priority,
		Once:     options.once,
		handler:  handler,
		matcher:  m,
	}

	b.mu.Lock()
	b.seq++
	sub.seq = b.seq
	b.subs = append(b.subs, sub)
	b.byID[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscribed",
		"pattern", fullPattern, "priority", int(options.priority), "once", options.once)
	return sub, nil
}

// applyNamespace prepends ns to pattern unless the pattern is already
// qualified with it or is the catch-all marker.
func applyNamespace(ns, pattern string) string {
	if ns == "" || pattern == CatchAll {
		return pattern
	}
	if strings.HasPrefix(pattern, ns+".") {
		return pattern
	}
	return ns + "." + pattern
}

// Unsubscribe removes a subscription. Removing an unknown or
// already-removed handle is a no-op, not an error.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *Subscription) {
	if sub.removed {
		return
	}
	sub.removed = true
	delete(b.byID, sub.ID)
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all matching subscribers synchronously,
// in strictly descending priority order with ties broken by registration
// order. Subscriber failures are isolated: a failing handler never stops
// delivery to the rest, and Publish itself never fails because of one.
// The returned slice summarizes per-handler failures and is nil when all
// handlers succeeded.
func (b *Bus) Publish(event string, data Data) []HandlerError {
	matched := b.matching(event)

	if b.published != nil {
		b.published.Inc()
	}

	var failures []HandlerError
	for _, sub := range matched {
		// Once subscriptions are claimed before invocation. Concurrent
		// publishes can snapshot the same subscription; only the claim
		// winner fires it.
		if sub.Once && !b.claimOnce(sub) {
			continue
		}

		err := b.invoke(sub, event, data)
		if err != nil {
			failures = append(failures, HandlerError{Subscription: sub, Event: event, Err: err})
			if b.handlerErrors != nil {
				b.handlerErrors.Inc()
			}
			b.logger.Error("event handler failed",
				"event", event, "pattern", sub.Pattern, "error", err)
		}
	}

	return failures
}

// claimOnce atomically removes a once subscription ahead of its single
// invocation. Returns false when another publish already claimed it.
func (b *Bus) claimOnce(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.removed {
		return false
	}
	b.removeLocked(sub)
	return true
}

// matching snapshots the subscriptions matching event, sorted for
// delivery. The snapshot is taken under the read lock; handlers run
// outside it so they may subscribe or unsubscribe freely.
func (b *Bus) matching(event string) []*Subscription {
	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matcher.Match(event) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// invoke runs a single handler with panic isolation
func (b *Bus) invoke(sub *Subscription, event string, data Data) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(event, data)
}

// PublishAsync defers delivery to a single background goroutine, started
// lazily on first use. Deferred emissions preserve submission order
// relative to each other. Delivery failures are logged via the bus
// logger; there is no summary return.
func (b *Bus) PublishAsync(event string, data Data) {
	b.deferredMu.Lock()
	defer b.deferredMu.Unlock()

	if b.closed {
		b.logger.Warn("deferred publish after close dropped", "event", event)
		return
	}

	if b.deferredCh == nil {
		b.deferredCh = make(chan deferredEvent, 256)
		b.deferredWG.Add(1)
		go func() {
			defer b.deferredWG.Done()
			for ev := range b.deferredCh {
				b.Publish(ev.event, ev.data)
			}
		}()
	}

	b.deferredCh <- deferredEvent{event: event, data: data}
}

// Close drains any deferred emissions and stops the delivery goroutine.
// The bus remains usable for synchronous Publish afterwards.
func (b *Bus) Close() {
	b.deferredMu.Lock()
	if b.closed {
		b.deferredMu.Unlock()
		return
	}
	b.closed = true
	ch := b.deferredCh
	b.deferredMu.Unlock()

	// No sender can reach the channel once closed is set, so closing
	// outside the lock is safe.
	if ch != nil {
		close(ch)
		b.deferredWG.Wait()
	}
}

// SubscriberCount returns the number of live subscriptions whose pattern
// would match event. Intended for introspection and tests.
func (b *Bus) SubscriberCount(event string) int {
	return len(b.matching(event))
}

// Clear removes all subscriptions, or only those under a dotted
// namespace prefix when ns is non-empty. Intended for tests and
// component teardown.
func (b *Bus) Clear(ns string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ns == "" {
		for _, sub := range b.subs {
			sub.removed = true
		}
		b.subs = nil
		b.byID = make(map[string]*Subscription)
		return
	}

	prefix := ns + "."
	kept := b.subs[:0]
	for _, sub := range b.subs {
		if strings.HasPrefix(sub.Pattern, prefix) {
			sub.removed = true
			delete(b.byID, sub.ID)
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept
}
