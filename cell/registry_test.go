package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/errors"
)

// fakeCell implements Cell with a configurable action table
type fakeCell struct {
	name    string
	actions map[string]Action
	help    map[string]string
}

func (f *fakeCell) Name() string               { return f.name }
func (f *fakeCell) Actions() map[string]Action { return f.actions }
func (f *fakeCell) Describe() map[string]string {
	return f.help
}

func echoCell(name string) *fakeCell {
	return &fakeCell{
		name: name,
		actions: map[string]Action{
			"echo": func(payload command.Value) (any, error) {
				return "Echo: " + payload.Text(), nil
			},
		},
		help: map[string]string{"echo": "echo the payload back"},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry(nil)
	c := echoCell("echo")
	require.NoError(t, r.Register(c))

	got, err := r.Resolve("echo")
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestResolveUnknownCell(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Resolve("ghost")
	require.ErrorIs(t, err, errors.ErrCellNotFound)
}

func TestLastRegistrationWins(t *testing.T) {
	// Documented behavior: duplicate names silently replace, exactly one
	// entry remains. Locked in by this test on purpose.
	r := NewRegistry(nil)

	first := echoCell("dup")
	second := echoCell("dup")
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	got, err := r.Resolve("dup")
	require.NoError(t, err)
	assert.Same(t, second, got)

	assert.Len(t, r.List(), 1)
}

func TestListInsertionOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(echoCell(name)))
	}

	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "zeta", infos[0].Name)
	assert.Equal(t, "alpha", infos[1].Name)
	assert.Equal(t, "mid", infos[2].Name)
	assert.Equal(t, []string{"echo"}, infos[0].Actions)
}

func TestInvoke(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoCell("echo")))

	result, err := r.Invoke("echo", "echo", command.String("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", result.Text())
}

func TestInvokeUnknownAction(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoCell("echo")))

	_, err := r.Invoke("echo", "explode", command.Null())
	require.ErrorIs(t, err, errors.ErrUnknownAction)
}

func TestInvokeUnknownCell(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Invoke("ghost", "echo", command.Null())
	require.ErrorIs(t, err, errors.ErrCellNotFound)
}

func TestInvokeActionError(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&fakeCell{
		name: "bad",
		actions: map[string]Action{
			"fail": func(command.Value) (any, error) {
				return nil, errors.New("disk on fire")
			},
		},
	}))

	_, err := r.Invoke("bad", "fail", command.Null())
	require.ErrorIs(t, err, errors.ErrActionFailed)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestInvokeContainsPanic(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&fakeCell{
		name: "bad",
		actions: map[string]Action{
			"panic": func(command.Value) (any, error) {
				panic("unexpected")
			},
		},
	}))

	_, err := r.Invoke("bad", "panic", command.Null())
	require.ErrorIs(t, err, errors.ErrActionFailed)
	assert.Contains(t, err.Error(), "panic")
}

func TestInvokeNonSerializableResult(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&fakeCell{
		name: "bad",
		actions: map[string]Action{
			"chan": func(command.Value) (any, error) {
				return make(chan int), nil
			},
		},
	}))

	_, err := r.Invoke("bad", "chan", command.Null())
	require.ErrorIs(t, err, errors.ErrNotSerializable)
}

func TestDescribe(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoCell("echo")))

	help, err := r.Describe("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo the payload back", help["echo"])
}

func TestRegisterRejectsEmptyActionTable(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register(&fakeCell{name: "empty", actions: map[string]Action{}})
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoCell("echo")))

	r.Unregister("echo")
	r.Unregister("echo") // idempotent

	_, err := r.Resolve("echo")
	assert.ErrorIs(t, err, errors.ErrCellNotFound)
	assert.Empty(t, r.List())
}
