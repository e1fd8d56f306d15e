package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const DefaultTimeout = 30 * time.Second

// ResultFunc receives each call's result. It may be invoked from any
// goroutine; unknown-tool results are delivered before Dispatch returns.
type ResultFunc func(Result)

type DispatcherOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher runs tool calls without blocking the caller's event loop.
type Dispatcher struct {
	registry *Registry
	emit     ResultFunc
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending map[string]context.CancelFunc
	seen    map[string]struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(registry *Registry, emit ResultFunc, opts DispatcherOptions) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		emit:     emit,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		pending:  make(map[string]context.CancelFunc),
		seen:     make(map[string]struct{}),
	}
}

// Dispatch handles one call. Unknown tools and malformed arguments are
// answered synchronously; known tools run on their own goroutine bounded by
// the dispatcher timeout. It reports false, and never emits a result, for a
// call it refuses: no call id, a repeated call id, or a closed dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) bool {
	callID := strings.TrimSpace(call.CallID)
	name := strings.TrimSpace(call.Name)
	logger := d.logger.With("call_id", callID, "tool", name)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.Warn("tool call dropped after close")
		return false
	}
	if callID == "" {
		d.mu.Unlock()
		logger.Warn("tool call without call id ignored")
		return false
	}
	if _, dup := d.seen[callID]; dup {
		d.mu.Unlock()
		logger.Warn("duplicate tool call ignored")
		return false
	}
	d.seen[callID] = struct{}{}
	d.mu.Unlock()

	handler, ok := d.registry.Lookup(name)
	if !ok {
		logger.Warn("tool call for unregistered tool")
		d.deliver(Result{CallID: callID, Name: name, Failure: ReasonUnknownTool})
		return true
	}
	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		logger.Warn("tool call with malformed arguments")
		d.deliver(Result{CallID: callID, Name: name, Failure: ReasonInvalidArguments})
		return true
	}

	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		logger.Warn("tool call dropped after close")
		return false
	}
	d.pending[callID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			cancel()
			d.mu.Lock()
			delete(d.pending, callID)
			d.mu.Unlock()
		}()
		res := d.run(callCtx, logger, handler, args)
		res.CallID, res.Name = callID, name
		d.deliver(res)
	}()
	return true
}

func (d *Dispatcher) run(ctx context.Context, logger *slog.Logger, h Handler, args json.RawMessage) Result {
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tool handler panicked", "panic", r)
				done <- Result{Failure: ReasonExecutionFailed}
			}
		}()
		payload, err := h(ctx, args)
		switch {
		case err == nil:
			done <- Result{Payload: payload}
		case errors.Is(err, ErrInvalidArguments):
			logger.Warn("tool rejected arguments", "error", err)
			done <- Result{Failure: ReasonInvalidArguments}
		case errors.Is(err, context.DeadlineExceeded):
			done <- Result{Failure: ReasonTimedOut}
		default:
			logger.Warn("tool handler failed", "error", err)
			done <- Result{Failure: ReasonExecutionFailed}
		}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("tool handler timed out")
			return Result{Failure: ReasonTimedOut}
		}
		return Result{Failure: ReasonExecutionFailed}
	}
}

func (d *Dispatcher) deliver(res Result) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.logger.Warn("tool result discarded: session closed", "call_id", res.CallID, "tool", res.Name)
		return
	}
	if d.emit != nil {
		d.emit(res)
	}
}

// Pending returns the number of calls still executing.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels every pending handler and waits for their results to be
// discarded. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cancels := make([]context.CancelFunc, 0, len(d.pending))
	for _, cancel := range d.pending {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	d.wg.Wait()
}
