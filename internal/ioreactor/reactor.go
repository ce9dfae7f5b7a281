// File: internal/ioreactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// IOReactor couples the fiber scheduler with an OS readiness queue and a
// timer set. Workers that run out of tasks park inside Idle on the OS
// poller; registered descriptors and due timers wake them by turning
// readiness into scheduler tasks.

package ioreactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/fiberrt/api"
	"github.com/momentics/fiberrt/internal/fault"
	"github.com/momentics/fiberrt/internal/fiber"
	"github.com/momentics/fiberrt/internal/sched"
	"github.com/momentics/fiberrt/internal/timer"
)

const component = "ioreactor"

// maxIdleTimeout caps how long a parked worker blocks in the poller even
// with no timer due sooner, so the stop condition is re-checked.
const maxIdleTimeout = 5000 * time.Millisecond

// initialFdSlots is the starting size of the descriptor table; it doubles
// on demand and never shrinks.
const initialFdSlots = 32

// IOReactor composes a Scheduler and a timer Manager over a platform
// poller. It installs itself as the scheduler's dispatch hooks.
type IOReactor struct {
	sched  *sched.Scheduler
	timers *timer.Manager
	poller poller

	mu         sync.RWMutex
	fdContexts []*FdContext

	pendingEvents atomic.Int64
	log           logrus.FieldLogger
}

// Option tweaks a reactor before its workers start.
type Option func(*IOReactor)

// WithLogger redirects the reactor's and scheduler's diagnostic output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *IOReactor) { r.SetLogger(l) }
}

// WithStackPool makes workers draw fiber stacks from sp.
func WithStackPool(sp api.BytePool) Option {
	return func(r *IOReactor) { r.sched.SetStackPool(sp) }
}

// WithAffinity pins worker i to cpus[i] via af.
func WithAffinity(af api.Affinity, cpus []int) Option {
	return func(r *IOReactor) { r.sched.SetAffinity(af, cpus) }
}

// New creates and starts a reactor-backed scheduler with workerCount
// workers. With useCaller the constructing thread fills one worker slot
// and must later be the thread calling Stop.
func New(workerCount int, useCaller bool, name string, opts ...Option) (*IOReactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor poller: %w", err)
	}
	r := &IOReactor{
		sched:  sched.New(workerCount, useCaller, name),
		timers: timer.NewManager(),
		poller: p,
		log:    logrus.StandardLogger(),
	}
	r.resizeLocked(initialFdSlots)
	r.sched.SetHooks(r)
	r.timers.SetNotifyFront(r.onTimerInsertedAtFront)
	for _, opt := range opts {
		opt(r)
	}
	if err := r.sched.Start(); err != nil {
		p.Close()
		return nil, err
	}
	return r, nil
}

// Current returns the reactor owning the calling fiber's thread, or nil.
func Current() *IOReactor {
	s := sched.Current()
	if s == nil {
		return nil
	}
	r, _ := s.Hooks().(*IOReactor)
	return r
}

// Scheduler exposes the underlying scheduler.
func (r *IOReactor) Scheduler() *sched.Scheduler { return r.sched }

// Timers exposes the underlying timer manager.
func (r *IOReactor) Timers() *timer.Manager { return r.timers }

// SetLogger redirects the reactor's diagnostic output.
func (r *IOReactor) SetLogger(l logrus.FieldLogger) {
	r.log = l
	r.sched.SetLogger(l)
}

// PendingEvents returns the number of (fd, event) registrations waiting
// for readiness.
func (r *IOReactor) PendingEvents() int64 { return r.pendingEvents.Load() }

// Schedule enqueues a task on the underlying scheduler.
func (r *IOReactor) Schedule(t sched.Task) { r.sched.Schedule(t) }

// ScheduleFunc enqueues cb to run on a fresh fiber.
func (r *IOReactor) ScheduleFunc(cb func()) { r.sched.ScheduleFunc(cb) }

// ScheduleFiber enqueues f for resumption.
func (r *IOReactor) ScheduleFiber(f *fiber.Fiber) { r.sched.ScheduleFiber(f) }

// AddTimer arms a timer whose callback is dispatched as a scheduler task.
func (r *IOReactor) AddTimer(period time.Duration, cb func(), recurring bool) *timer.Timer {
	return r.timers.AddTimer(period, cb, recurring)
}

// Stop drains the scheduler, joins the workers and tears down the poller.
func (r *IOReactor) Stop() {
	r.sched.Stop()
	if err := r.poller.Close(); err != nil {
		r.log.WithField("component", component).WithError(err).Warn("poller close failed")
	}
}

// Shutdown stops the reactor. It satisfies api.GracefulShutdown.
func (r *IOReactor) Shutdown() error {
	r.Stop()
	return nil
}

// contextFor returns the slot for fd, growing the table under the write
// lock when fd falls beyond it. The slot's own mutex is acquired before
// the table lock is released, and the table lock is never held across a
// poller syscall.
func (r *IOReactor) contextFor(fd int) *FdContext {
	r.mu.RLock()
	if fd < len(r.fdContexts) {
		ctx := r.fdContexts[fd]
		ctx.mu.Lock()
		r.mu.RUnlock()
		return ctx
	}
	r.mu.RUnlock()

	r.mu.Lock()
	if fd >= len(r.fdContexts) {
		n := len(r.fdContexts)
		for n <= fd {
			n *= 2
		}
		r.resizeLocked(n)
	}
	ctx := r.fdContexts[fd]
	ctx.mu.Lock()
	r.mu.Unlock()
	return ctx
}

// lookup returns the slot for an fd that must already be in the table.
func (r *IOReactor) lookup(fd int) *FdContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fd < 0 || fd >= len(r.fdContexts) {
		return nil
	}
	return r.fdContexts[fd]
}

func (r *IOReactor) resizeLocked(n int) {
	for i := len(r.fdContexts); i < n; i++ {
		r.fdContexts = append(r.fdContexts, &FdContext{fd: i})
	}
}

// AddEvent registers interest in ev on fd. Without a callback the current
// fiber is captured and resumed when the event fires; with one, the
// callback runs on a fresh fiber instead. Registering an event twice is a
// recoverable error.
func (r *IOReactor) AddEvent(fd int, ev EventType, cb func()) error {
	if ev != Read && ev != Write {
		fault.Raise(component, "AddEvent: invalid event %s", ev)
	}
	if fd < 0 {
		fault.Raise(component, "AddEvent: negative fd %d", fd)
	}

	ctx := r.contextFor(fd)
	defer ctx.mu.Unlock()

	if ctx.events&ev != 0 {
		return api.NewError(api.ErrCodeAlreadyExists, "event already registered").
			WithContext("fd", fd).
			WithContext("event", ev.String())
	}

	mask := ctx.events | ev
	var err error
	if ctx.events == None {
		err = r.poller.Add(fd, mask)
	} else {
		err = r.poller.Mod(fd, mask)
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"component": component,
			"fd":        fd,
			"event":     ev.String(),
		}).WithError(err).Error("poller registration failed")
		return fmt.Errorf("register fd %d for %s: %w", fd, ev, err)
	}

	r.pendingEvents.Add(1)
	ctx.events = mask

	s := sched.Current()
	if s == nil {
		s = r.sched
	}
	if cb != nil {
		ctx.ctxFor(ev).set(s, callbackWaker{cb: cb})
		return nil
	}

	f := fiber.Current()
	if f.IsRoot() {
		fault.Raise(component, "AddEvent: cannot suspend a root fiber on fd %d", fd)
	}
	if f.State() != fiber.Running {
		fault.Raise(component, "AddEvent: current fiber %d not RUNNING", f.ID())
	}
	ctx.ctxFor(ev).set(s, fiberWaker{f: f})
	return nil
}

// DelEvent removes interest in ev on fd without firing the registration.
func (r *IOReactor) DelEvent(fd int, ev EventType) error {
	if ev != Read && ev != Write {
		fault.Raise(component, "DelEvent: invalid event %s", ev)
	}
	ctx := r.lookup(fd)
	if ctx == nil {
		return api.NewError(api.ErrCodeNotFound, "fd not tracked").WithContext("fd", fd)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events&ev == 0 {
		return api.NewError(api.ErrCodeNotFound, "event not registered").
			WithContext("fd", fd).
			WithContext("event", ev.String())
	}

	remaining := ctx.events &^ ev
	r.updatePoller(fd, remaining)
	ctx.events = remaining
	ctx.ctxFor(ev).reset()
	r.pendingEvents.Add(-1)
	return nil
}

// CancelEvent removes interest in ev on fd, firing the registration once
// as if the event had triggered.
func (r *IOReactor) CancelEvent(fd int, ev EventType) error {
	if ev != Read && ev != Write {
		fault.Raise(component, "CancelEvent: invalid event %s", ev)
	}
	ctx := r.lookup(fd)
	if ctx == nil {
		return api.NewError(api.ErrCodeNotFound, "fd not tracked").WithContext("fd", fd)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events&ev == 0 {
		return api.NewError(api.ErrCodeNotFound, "event not registered").
			WithContext("fd", fd).
			WithContext("event", ev.String())
	}

	r.updatePoller(fd, ctx.events&^ev)
	ctx.triggerLocked(r, ev)
	return nil
}

// CancelAll fires every registration on fd and drops it from the poller.
func (r *IOReactor) CancelAll(fd int) error {
	ctx := r.lookup(fd)
	if ctx == nil {
		return api.NewError(api.ErrCodeNotFound, "fd not tracked").WithContext("fd", fd)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events == None {
		return api.NewError(api.ErrCodeNotFound, "no events registered").WithContext("fd", fd)
	}

	r.updatePoller(fd, None)
	if ctx.events&Read != 0 {
		ctx.triggerLocked(r, Read)
	}
	if ctx.events&Write != 0 {
		ctx.triggerLocked(r, Write)
	}
	if ctx.events != None {
		fault.Raise(component, "CancelAll left events %s on fd %d", ctx.events, fd)
	}
	return nil
}

// updatePoller reflects the remaining interest mask into the OS poller.
// Failures here are teardown-path failures: logged, not propagated.
func (r *IOReactor) updatePoller(fd int, remaining EventType) {
	var err error
	if remaining == None {
		err = r.poller.Del(fd)
	} else {
		err = r.poller.Mod(fd, remaining)
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"component": component,
			"fd":        fd,
			"remaining": remaining.String(),
		}).WithError(err).Warn("poller update failed")
	}
}

// Tickle wakes a parked worker through the poller, but only when one is
// actually parked.
func (r *IOReactor) Tickle() {
	if r.sched.IdleWorkers() == 0 {
		return
	}
	if err := r.poller.Wakeup(); err != nil {
		r.log.WithField("component", component).WithError(err).Warn("wakeup failed")
	}
}

// Stopping reports drain completion: the scheduler has drained and no
// event registration or timer remains.
func (r *IOReactor) Stopping() bool {
	return r.sched.Drained() && r.pendingEvents.Load() == 0 && !r.timers.HasTimers()
}

// onTimerInsertedAtFront wakes a parked worker so the shortened deadline
// is picked up by the next poller wait.
func (r *IOReactor) onTimerInsertedAtFront() { r.Tickle() }

// Idle runs on each worker's idle fiber: park on the poller until
// readiness or the next deadline, turn whatever fired into scheduler
// tasks, then yield so the worker's dispatch loop picks them up.
func (r *IOReactor) Idle() {
	for {
		if r.Stopping() {
			return
		}

		timeout := r.timers.NextTimeout()
		if timeout > maxIdleTimeout {
			timeout = maxIdleTimeout
		}

		events, err := r.poller.Wait(timeout)
		if err != nil {
			r.log.WithField("component", component).WithError(err).Error("poller wait failed")
		}
		for _, pe := range events {
			r.dispatch(pe)
		}

		for _, cb := range r.timers.DrainDue() {
			r.sched.ScheduleFunc(cb)
		}

		fiber.Yield()
	}
}

// dispatch converts one readiness report into scheduler tasks and
// re-issues the poller registration for whatever interest remains.
func (r *IOReactor) dispatch(pe pollEvent) {
	ctx := r.lookup(pe.fd)
	if ctx == nil {
		return
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	triggered := pe.events & ctx.events
	if triggered == None {
		return
	}
	if triggered&Read != 0 {
		ctx.triggerLocked(r, Read)
	}
	if triggered&Write != 0 {
		ctx.triggerLocked(r, Write)
	}
	r.updatePoller(pe.fd, ctx.events)
}
