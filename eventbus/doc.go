// Package eventbus implements the publish/subscribe dispatcher that
// decouples producers and consumers of named events.
//
// # Subscription strategies
//
// Four strategies are supported, all unified behind Subscribe:
//
//   - Exact-name subscriptions: pattern "user.login" matches only that event.
//   - Glob-pattern subscriptions: '*' matches exactly one dot-delimited
//     segment, '#' matches zero or more segments, '?' matches exactly one
//     character. "user.*" matches "user.login" but not "user.login.failed";
//     "user.#" matches both, and "user" as well.
//   - Catch-all subscriptions: the bare pattern "*" is a historic marker
//     that matches every event.
//   - One-shot subscriptions: Once() removes the subscription after its
//     first invocation completes, whether or not the handler failed.
//
// # Ordering
//
// Matching subscribers are invoked synchronously in strictly descending
// priority order; subscribers of equal priority fire in registration
// order. Both orders are stable across runs.
//
// # Failure isolation
//
// A handler returning an error or panicking never stops delivery to the
// remaining matched handlers and never fails the publish call itself.
// Publish returns a per-handler error summary for diagnostics.
//
// # Namespacing
//
// SetNamespace establishes a bus-wide dotted prefix that is applied to
// statically declared subscriptions when they are bound by
// RegisterPending. Publish calls are never auto-namespaced: components
// publish fully-qualified names. This asymmetry is deliberate - it keeps
// cross-module subscription patterns collision-free without burdening
// every publisher.
//
// # Static registration
//
// Handlers can be declared before any bus exists with Declare; the
// declarations accumulate as intents and are bound to a concrete bus by
// an explicit RegisterPending pass during bootstrap.
package eventbus
