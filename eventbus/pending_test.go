package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPendingBindsAndDrains(t *testing.T) {
	ClearPending()
	t.Cleanup(ClearPending)

	fired := 0
	Declare("calc.completed", func(string, Data) error {
		fired++
		return nil
	})

	bus := New()
	handles := bus.RegisterPending()
	require.Len(t, handles, 1)

	bus.Publish("calc.completed", nil)
	assert.Equal(t, 1, fired)

	// The pending set drained; a second pass binds nothing.
	assert.Empty(t, bus.RegisterPending())
}

func TestRegisterPendingAppliesBusNamespace(t *testing.T) {
	ClearPending()
	t.Cleanup(ClearPending)

	var events []string
	Declare("clicked", func(event string, data Data) error {
		events = append(events, event)
		return nil
	})

	bus := New()
	bus.SetNamespace("titlebar")
	handles := bus.RegisterPending()
	require.Len(t, handles, 1)
	assert.Equal(t, "titlebar.clicked", handles[0].Pattern)

	// Subscriptions are namespaced; publishes are not. The bare name
	// must not reach the handler, the qualified name must.
	bus.Publish("clicked", nil)
	assert.Empty(t, events)

	bus.Publish("titlebar.clicked", nil)
	assert.Equal(t, []string{"titlebar.clicked"}, events)
}

func TestDynamicSubscribeUnaffectedByBusNamespace(t *testing.T) {
	bus := New()
	bus.SetNamespace("titlebar")

	sub, err := bus.Subscribe("clicked", func(string, Data) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "clicked", sub.Pattern)
}

func TestDeclareOnce(t *testing.T) {
	ClearPending()
	t.Cleanup(ClearPending)

	fired := 0
	DeclareOnce("boot.done", func(string, Data) error {
		fired++
		return nil
	})

	bus := New()
	bus.RegisterPending()

	bus.Publish("boot.done", nil)
	bus.Publish("boot.done", nil)
	assert.Equal(t, 1, fired)
}
