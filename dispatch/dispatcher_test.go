package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaojinao/cellium/cell"
	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/errors"
	"github.com/xiaojinao/cellium/eventbus"
	"github.com/xiaojinao/cellium/worker"
)

type mathCell struct{}

func (mathCell) Name() string { return "math" }

func (mathCell) Actions() map[string]cell.Action {
	return map[string]cell.Action{
		"double": func(payload command.Value) (any, error) {
			n, _ := payload.AsMap().Get("n")
			return 2 * n.Float(), nil
		},
		"echo": func(payload command.Value) (any, error) {
			return payload, nil
		},
		"fail": func(command.Value) (any, error) {
			return nil, errors.New("disk on fire")
		},
		"slow": func(payload command.Value) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return payload.Text() + "!", nil
		},
	}
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) (*Dispatcher, *eventbus.Bus) {
	t.Helper()
	registry := cell.NewRegistry(nil)
	require.NoError(t, registry.Register(mathCell{}))
	bus := eventbus.New()
	return New(registry, bus, opts...), bus
}

func TestSyncCommandReturnsEncodedResult(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.Equal(t, "42", d.HandleMessage(`math:double:{"n":21}`))
}

func TestSyncCommandNumberPayload(t *testing.T) {
	d, _ := newTestDispatcher(t)
	// Bare "21" decodes as a raw string, not a number; use echo to prove
	// payloads pass through untouched.
	assert.Equal(t, "hello world", d.HandleMessage("math:echo:hello world"))
}

func TestUnknownCell(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.HandleMessage("unknown_cell:foo:bar")
	assert.Equal(t, "Error: Cell 'unknown_cell' not found", reply)
}

func TestUnknownAction(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.HandleMessage("math:frobnicate:bar")
	assert.Equal(t, "Error: Unknown command 'frobnicate'", reply)
}

func TestActionErrorMessageSurvives(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.HandleMessage("math:fail:")
	assert.Equal(t, "Error: disk on fire", reply)
}

func TestEventMessagePublishes(t *testing.T) {
	d, bus := newTestDispatcher(t)

	var gotEvent string
	var gotData eventbus.Data
	_, err := bus.Subscribe("user.login", func(event string, data eventbus.Data) error {
		gotEvent = event
		gotData = data
		return nil
	})
	require.NoError(t, err)

	reply := d.HandleMessage(`{"event": "user.login", "user": "bob", "attempt": 2}`)
	assert.Equal(t, "OK", reply)
	assert.Equal(t, "user.login", gotEvent)
	assert.Equal(t, "bob", gotData["user"])
	assert.Equal(t, float64(2), gotData["attempt"])
}

func TestEventMessageHandlerErrorsReported(t *testing.T) {
	d, bus := newTestDispatcher(t)

	_, err := bus.Subscribe("boom", func(string, eventbus.Data) error {
		return errors.New("handler broke")
	})
	require.NoError(t, err)

	reply := d.HandleMessage(`{"event": "boom"}`)
	assert.Equal(t, "OK (1 handler error(s))", reply)
}

func TestEnvelopeWithoutEventRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.Equal(t, "Error: Unable to parse message",
		d.HandleMessage(`{"user": "bob"}`))
}

func TestUnroutableMessage(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.Equal(t, "Error: Unable to parse message", d.HandleMessage("just some text"))
}

func TestDeferredCommandAcksAndPublishesCompletion(t *testing.T) {
	pool := worker.NewTaskPool(2, 16, nil)
	defer func() { _ = pool.Stop(time.Second) }()

	d, bus := newTestDispatcher(t, WithTaskPool(pool))

	completed := make(chan eventbus.Data, 1)
	_, err := bus.Subscribe(EventTaskCompleted, func(_ string, data eventbus.Data) error {
		completed <- data
		return nil
	})
	require.NoError(t, err)

	reply := d.HandleMessage("math:slow!:ping")
	require.True(t, strings.HasPrefix(reply, "Task submitted: "), reply)
	taskID := strings.TrimPrefix(reply, "Task submitted: ")

	select {
	case data := <-completed:
		assert.Equal(t, taskID, data["task_id"])
		assert.Equal(t, "ping!", data["result"])
		assert.Equal(t, "math", data["cell"])
	case <-time.After(2 * time.Second):
		t.Fatal("task.completed never published")
	}
}

func TestDeferredCompletionAlwaysCarriesAckTaskID(t *testing.T) {
	const n = 200

	pool := worker.NewTaskPool(4, n, nil)
	defer func() { _ = pool.Stop(time.Second) }()

	d, bus := newTestDispatcher(t, WithTaskPool(pool))

	completed := make(chan eventbus.Data, n)
	_, err := bus.Subscribe(EventTaskCompleted, func(_ string, data eventbus.Data) error {
		completed <- data
		return nil
	})
	require.NoError(t, err)

	// Fast actions make it likely a worker finishes before the
	// acknowledgement is built; the completion event must still carry
	// the same id the caller was given.
	acked := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		reply := d.HandleMessage("math:echo!:hi")
		require.True(t, strings.HasPrefix(reply, "Task submitted: "), reply)
		acked[strings.TrimPrefix(reply, "Task submitted: ")] = true
	}

	for i := 0; i < n; i++ {
		select {
		case data := <-completed:
			id, _ := data["task_id"].(string)
			require.NotEmpty(t, id)
			assert.True(t, acked[id], "completion for unacknowledged task %q", id)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d completions arrived", i, n)
		}
	}
}

func TestDeferredCommandFailurePublishesTaskFailed(t *testing.T) {
	pool := worker.NewTaskPool(1, 16, nil)
	defer func() { _ = pool.Stop(time.Second) }()

	d, bus := newTestDispatcher(t, WithTaskPool(pool))

	failed := make(chan eventbus.Data, 1)
	_, err := bus.Subscribe(EventTaskFailed, func(_ string, data eventbus.Data) error {
		failed <- data
		return nil
	})
	require.NoError(t, err)

	reply := d.HandleMessage("math:fail!:")
	require.True(t, strings.HasPrefix(reply, "Task submitted: "), reply)

	select {
	case data := <-failed:
		assert.Contains(t, data["error"], "disk on fire")
	case <-time.After(2 * time.Second):
		t.Fatal("task.failed never published")
	}
}

func TestDeferredWithoutPoolRunsSynchronously(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.Equal(t, "hi", d.HandleMessage("math:echo!:hi"))
}

func TestDispatcherNeverPanics(t *testing.T) {
	registry := cell.NewRegistry(nil)
	require.NoError(t, registry.Register(panicCell{}))
	d := New(registry, eventbus.New())

	reply := d.HandleMessage("bomb:explode:")
	assert.True(t, strings.HasPrefix(reply, "Error: "), reply)
}

type panicCell struct{}

func (panicCell) Name() string { return "bomb" }

func (panicCell) Actions() map[string]cell.Action {
	return map[string]cell.Action{
		"explode": func(command.Value) (any, error) { panic("kaboom") },
	}
}
