package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/petermattis/goid"

	"github.com/progressive-ui/ride/host"
	"github.com/progressive-ui/ride/ridelog"
)

// Runtime is the per-Mount handle binding a component tree to a Scheduler
// and a Host. Exactly one Runtime exists per Mount call; nothing about it
// is a process-wide singleton, unlike the goroutine-keyed runtime this is
// adapted from (see DESIGN.md on runtime.go / runtime_default.go).
type Runtime struct {
	mu sync.Mutex

	scheduler *Scheduler
	host      host.Host
	ready     bool
	readyCh   chan struct{}

	app   Component
	class Class

	logger ridelog.Logger

	flushGID int64
}

// NewRuntime builds a Runtime for class, wiring its Scheduler to class's
// budget. logger defaults to ridelog's stderr logger when nil.
func NewRuntime(class Class, logger ridelog.Logger) *Runtime {
	if logger == nil {
		logger = ridelog.Default("ride")
	}
	r := &Runtime{
		readyCh: make(chan struct{}),
		class:   class,
		logger:  logger,
	}
	r.scheduler = newScheduler(r, class.Budget)
	return r
}

// Start kicks off class.CreateHost asynchronously. Once it resolves, the
// runtime becomes ready and app is marked dirty for its first flush. Start
// is a no-op host-wise if class.CreateHost is nil (a headless runtime used
// only to exercise the buffer/scheduler machinery in tests).
func (r *Runtime) Start(ctx context.Context, app Component, props Props) {
	r.app = app

	if r.class.CreateHost == nil {
		r.SetHost(nil)
		r.scheduler.MarkDirty(app)
		return
	}

	go func() {
		h, err := r.class.CreateHost(ctx, props)
		if err != nil {
			r.ReportError(err, ErrorContext{Phase: PhaseHostInit})
			return
		}
		r.SetHost(h)
		r.scheduler.MarkDirty(app)
	}()
}

// IsReady reports whether the host has resolved.
func (r *Runtime) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Host returns the resolved host, or nil before Start's factory resolves.
func (r *Runtime) Host() host.Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// SetHost installs h (which may be nil for a headless runtime) and flips
// the runtime ready, unblocking WhenReady and every pending pre-ready
// update.
func (r *Runtime) SetHost(h host.Host) {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return
	}
	r.host = h
	r.ready = true
	close(r.readyCh)
	r.mu.Unlock()
}

// WhenReady returns a channel closed once the host resolves.
func (r *Runtime) WhenReady() <-chan struct{} {
	return r.readyCh
}

// Scheduler returns the runtime's Scheduler.
func (r *Runtime) Scheduler() *Scheduler { return r.scheduler }

// Teardown releases the host, if it supports host.Teardown.
func (r *Runtime) Teardown() {
	h := r.Host()
	if td, ok := h.(host.Teardown); ok {
		td.Teardown()
	}
}

// ReportError routes err through the resolution chain described in spec §7:
// the app class's static OnError, then the app instance's own OnError (if
// it implements Errorer), then the reporting component's own OnError, then
// a default log line. A handler that itself panics is swallowed: error
// reporting must never become a second failure.
func (r *Runtime) ReportError(err error, ctx ErrorContext) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("ride: error handler for phase %s panicked: %v (original error: %v)", ctx.Phase, rec, err)
		}
	}()

	if r.class.OnError != nil {
		r.class.OnError(err, ctx)
		return
	}
	if errorer, ok := r.app.(Errorer); ok {
		errorer.OnError(err, ctx)
		return
	}
	if ctx.Component != nil {
		if errorer, ok := ctx.Component.(Errorer); ok {
			errorer.OnError(err, ctx)
			return
		}
	}
	r.logger.Errorf("ride: unhandled error in phase %q: %v", ctx.Phase, err)
}

// enterFlush records gid as the goroutine currently allowed to mutate the
// tree, returning a func that clears it.
func (r *Runtime) enterFlush(gid int64) func() {
	r.mu.Lock()
	r.flushGID = gid
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.flushGID = 0
		r.mu.Unlock()
	}
}

// checkGoroutine panics if method is being called, mid-flush, from a
// goroutine other than the one currently flushing. Legitimate off-goroutine
// mutation (an async diff or effect resolving later) goes through
// resolveDiff/MarkDirty directly and never calls this guard. It exists to
// catch accidental synchronous re-entrancy from user code spawning its own
// goroutines without going through the documented async escape hatches.
func (r *Runtime) checkGoroutine(method string) {
	r.mu.Lock()
	fg := r.flushGID
	r.mu.Unlock()
	if fg == 0 {
		return
	}
	if gid := goid.Get(); gid != fg {
		panic(fmt.Sprintf("ride: %s called from goroutine %d while the runtime is flushing on goroutine %d; mutate a component only from the flushing goroutine or via an async diff/effect resolution", method, gid, fg))
	}
}
