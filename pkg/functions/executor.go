package functions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/events"
)

var ErrTimeout = errors.New("function timeout")

// ExecutorOptions tunes the worker pool.
type ExecutorOptions struct {
	Concurrency  int
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

type task struct {
	turnID uint64
	inv    Invocation
}

// Executor runs requested functions on a bounded worker pool and
// publishes their results back onto the bus. Executions for the same
// call are serialized so a function cannot race its own call state.
type Executor struct {
	registry *Registry
	bus      *events.Bus
	log      *slog.Logger
	opts     ExecutorOptions
	tasks    chan task
	closed   atomic.Bool

	mu        sync.Mutex
	callLocks map[string]*sync.Mutex
}

func NewExecutor(registry *Registry, bus *events.Bus, log *slog.Logger, opts ExecutorOptions) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 150 * time.Millisecond
	}
	e := &Executor{
		registry:  registry,
		bus:       bus,
		log:       log,
		opts:      opts,
		tasks:     make(chan task, 64),
		callLocks: make(map[string]*sync.Mutex),
	}
	bus.Subscribe(events.KindFunctionCall, func(ev events.Event) {
		e.enqueue(ev.(events.FunctionCall))
	})
	for i := 0; i < opts.Concurrency; i++ {
		go e.worker()
	}
	return e
}

// Close stops the worker pool. Queued tasks still drain.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.tasks)
	}
}

func (e *Executor) enqueue(fc events.FunctionCall) {
	if e.closed.Load() {
		return
	}
	t := task{
		turnID: fc.TurnID,
		inv: Invocation{
			CallSID: fc.CallSID,
			CallID:  fc.CallID,
			Name:    fc.Name,
			Args:    fc.Args,
		},
	}
	select {
	case e.tasks <- t:
	default:
		e.log.Warn("function queue full", slog.String("name", fc.Name))
	}
}

func (e *Executor) worker() {
	for t := range e.tasks {
		e.exec(t)
	}
}

func (e *Executor) exec(t task) {
	fn, ok := e.registry.Lookup(t.inv.Name)
	if !ok {
		e.publish(t, "", errorsx.Wrap(errors.New("unknown function "+t.inv.Name), errorsx.ReasonFunctionUnknown))
		return
	}

	lock := e.callLock(t.inv.CallSID)
	lock.Lock()
	result, err := e.callWithRetry(fn, t.inv)
	lock.Unlock()

	if err != nil {
		e.log.Warn("function failed",
			slog.String("call_sid", t.inv.CallSID),
			slog.String("name", t.inv.Name),
			slog.String("error", err.Error()),
		)
		err = errorsx.Wrap(err, errorsx.ReasonFunctionFailed)
	}
	e.publish(t, result, err)
}

func (e *Executor) callWithRetry(fn Function, inv Invocation) (string, error) {
	var result string
	var err error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		result, err = e.callWithTimeout(fn, inv)
		if err == nil {
			return result, nil
		}
		if attempt < e.opts.Retries {
			time.Sleep(e.opts.RetryBackoff)
		}
	}
	return result, err
}

func (e *Executor) callWithTimeout(fn Function, inv Invocation) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := fn.Handler(ctx, inv)
		ch <- outcome{result: res, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ErrTimeout
	case out := <-ch:
		return out.result, out.err
	}
}

func (e *Executor) publish(t task, result string, err error) {
	res := events.FunctionResult{
		Base:   events.Base{CallSID: t.inv.CallSID, At: time.Now()},
		TurnID: t.turnID,
		CallID: t.inv.CallID,
		Name:   t.inv.Name,
		Result: result,
	}
	if err != nil {
		res.Err = err.Error()
	}
	e.bus.Emit(res)
}

func (e *Executor) callLock(callSID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.callLocks[callSID]
	if !ok {
		l = &sync.Mutex{}
		e.callLocks[callSID] = l
	}
	return l
}
