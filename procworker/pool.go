package procworker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaojinao/cellium/errors"
)

// WorkerFlag is the argument that switches the binary into worker mode
const WorkerFlag = "--worker"

// CommandFactory builds the exec command for one worker process. The
// default re-executes the current binary with WorkerFlag.
type CommandFactory func() *exec.Cmd

func defaultCommand() *exec.Cmd {
	return exec.Command(os.Args[0], WorkerFlag) // #nosec G204 -- own binary
}

// Pool manages a fixed set of worker subprocesses and dispatches calls
// round-robin across them.
type Pool struct {
	size    int
	factory CommandFactory
	logger  *slog.Logger

	mu      sync.Mutex
	workers []*workerProc
	next    int
	started bool
	stopped bool
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithCommandFactory overrides how worker processes are spawned
func WithCommandFactory(factory CommandFactory) PoolOption {
	return func(p *Pool) { p.factory = factory }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a pool of size worker subprocesses
func NewPool(size int, opts ...PoolOption) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:    size,
		factory: defaultCommand,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "procworker")
	return p
}

// Start spawns the worker processes
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "ProcPool", "Start", "lifecycle check")
	}

	for i := 0; i < p.size; i++ {
		w, err := p.spawn()
		if err != nil {
			for _, running := range p.workers {
				running.kill()
			}
			p.workers = nil
			return errors.WrapFatal(err, "ProcPool", "Start", "worker spawn")
		}
		p.workers = append(p.workers, w)
	}

	p.started = true
	p.logger.Info("worker processes started", "count", p.size)
	return nil
}

// Call runs the named function in a worker process and returns its raw
// JSON result. args must marshal to JSON.
func (p *Pool) Call(ctx context.Context, name string, args any) (json.RawMessage, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrNotSerializable, err),
			"ProcPool", "Call", "argument encoding")
	}

	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "ProcPool", "Call", "lifecycle check")
	}
	w := p.workers[p.next%len(p.workers)]
	p.next++
	p.mu.Unlock()

	return w.call(ctx, request{
		ID:   uuid.NewString(),
		Name: name,
		Args: encoded,
	})
}

// Stop closes worker stdin so each child drains and exits, then waits
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	workers := p.workers
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// workerProc wraps one subprocess and correlates responses to callers
type workerProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	pendingMu sync.Mutex
	pending   map[string]chan response
}

func (p *Pool) spawn() (*workerProc, error) {
	cmd := p.factory()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &workerProc{
		cmd:     cmd,
		stdin:   stdin,
		logger:  p.logger,
		enc:     json.NewEncoder(stdin),
		pending: make(map[string]chan response),
	}
	go w.readLoop(stdout)
	return w, nil
}

func (w *workerProc) call(ctx context.Context, req request) (json.RawMessage, error) {
	ch := make(chan response, 1)

	w.pendingMu.Lock()
	w.pending[req.ID] = ch
	w.pendingMu.Unlock()

	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, req.ID)
		w.pendingMu.Unlock()
	}()

	w.writeMu.Lock()
	err := w.enc.Encode(req)
	w.writeMu.Unlock()
	if err != nil {
		return nil, errors.WrapTransient(err, "ProcPool", "Call", "request write")
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.WrapTransient(
				errors.New("worker process exited"), "ProcPool", "Call", "response wait")
		}
		if resp.Error != "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrHandlerFailed, resp.Error),
				"ProcPool", "Call", "remote execution")
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop routes responses back to waiting callers. When the child
// exits, every pending call is failed by closing its channel.
func (w *workerProc) readLoop(stdout io.Reader) {
	dec := json.NewDecoder(stdout)
	for {
		var resp response
		if err := dec.Decode(&resp); err != nil {
			if err != io.EOF {
				w.logger.Warn("worker response decode failed", "error", err)
			}
			w.failPending()
			return
		}

		w.pendingMu.Lock()
		ch, ok := w.pending[resp.ID]
		w.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (w *workerProc) failPending() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
}

func (w *workerProc) shutdown() error {
	_ = w.stdin.Close()
	return w.cmd.Wait()
}

func (w *workerProc) kill() {
	_ = w.stdin.Close()
	_ = w.cmd.Process.Kill()
	_, _ = w.cmd.Process.Wait()
}
