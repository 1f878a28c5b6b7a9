package procworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain doubles as the worker-mode entry point: when re-executed with
// the child marker, the test binary behaves exactly like the production
// binary's worker mode.
func TestMain(m *testing.M) {
	if os.Getenv("PROCWORKER_TEST_CHILD") == "1" {
		registerTestFuncs()
		if err := Serve(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func registerTestFuncs() {
	_ = Register("sum", func(args json.RawMessage) (any, error) {
		var nums []float64
		if err := json.Unmarshal(args, &nums); err != nil {
			return nil, err
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})
	_ = Register("fail", func(json.RawMessage) (any, error) {
		return nil, fmt.Errorf("remote failure")
	})
	_ = Register("explode", func(json.RawMessage) (any, error) {
		panic("remote panic")
	})

	initialized := false
	RegisterInitializer(func() error {
		initialized = true
		return nil
	})
	_ = Register("initialized", func(json.RawMessage) (any, error) {
		return initialized, nil
	})
}

func childFactory() CommandFactory {
	return func() *exec.Cmd {
		cmd := exec.Command(os.Args[0])
		cmd.Env = append(os.Environ(), "PROCWORKER_TEST_CHILD=1")
		return cmd
	}
}

func serveRequests(t *testing.T, reqs ...request) []response {
	t.Helper()

	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	for _, req := range reqs {
		require.NoError(t, enc.Encode(req))
	}

	var out bytes.Buffer
	require.NoError(t, Serve(&in, &out))

	var resps []response
	dec := json.NewDecoder(strings.NewReader(out.String()))
	for dec.More() {
		var resp response
		require.NoError(t, dec.Decode(&resp))
		resps = append(resps, resp)
	}
	return resps
}

func TestServeExecutesRegisteredFunction(t *testing.T) {
	resetForTest()
	registerTestFuncs()

	resps := serveRequests(t, request{ID: "1", Name: "sum", Args: json.RawMessage(`[1, 2, 3]`)})
	require.Len(t, resps, 1)
	assert.Empty(t, resps[0].Error)
	assert.Equal(t, "6", string(resps[0].Result))
}

func TestServeUnknownFunction(t *testing.T) {
	resetForTest()

	resps := serveRequests(t, request{ID: "1", Name: "nope"})
	require.Len(t, resps, 1)
	assert.Contains(t, resps[0].Error, "unknown function")
}

func TestServeFunctionError(t *testing.T) {
	resetForTest()
	registerTestFuncs()

	resps := serveRequests(t, request{ID: "1", Name: "fail"})
	require.Len(t, resps, 1)
	assert.Equal(t, "remote failure", resps[0].Error)
}

func TestServeContainsPanic(t *testing.T) {
	resetForTest()
	registerTestFuncs()

	resps := serveRequests(t,
		request{ID: "1", Name: "explode"},
		request{ID: "2", Name: "sum", Args: json.RawMessage(`[4]`)})
	require.Len(t, resps, 2)
	assert.Contains(t, resps[0].Error, "panic")
	assert.Equal(t, "4", string(resps[1].Result))
}

func TestServeRunsInitializersFirst(t *testing.T) {
	resetForTest()
	registerTestFuncs()

	resps := serveRequests(t, request{ID: "1", Name: "initialized"})
	require.Len(t, resps, 1)
	assert.Equal(t, "true", string(resps[0].Result))
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	resetForTest()
	require.NoError(t, Register("twice", func(json.RawMessage) (any, error) { return nil, nil }))
	assert.Error(t, Register("twice", func(json.RawMessage) (any, error) { return nil, nil }))
}

func TestPoolRoundTrip(t *testing.T) {
	pool := NewPool(2, WithCommandFactory(childFactory()))
	require.NoError(t, pool.Start())
	defer func() { _ = pool.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := pool.Call(ctx, "sum", []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, "10", string(result))
}

func TestPoolRemoteError(t *testing.T) {
	pool := NewPool(1, WithCommandFactory(childFactory()))
	require.NoError(t, pool.Start())
	defer func() { _ = pool.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Call(ctx, "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote failure")
}

func TestPoolCallBeforeStart(t *testing.T) {
	pool := NewPool(1, WithCommandFactory(childFactory()))
	_, err := pool.Call(context.Background(), "sum", []float64{1})
	assert.Error(t, err)
}
