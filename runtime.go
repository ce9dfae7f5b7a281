// File: runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime bundles the scheduler, the I/O reactor and the timer set
// behind a single handle and re-exports the fiber primitive.

package fiberrt

import (
	"sync"
	"time"
	"weak"

	"github.com/sirupsen/logrus"

	"github.com/momentics/fiberrt/api"
	"github.com/momentics/fiberrt/internal/fiber"
	"github.com/momentics/fiberrt/internal/ioreactor"
	"github.com/momentics/fiberrt/internal/timer"
	"github.com/momentics/fiberrt/pool"
)

// Fiber is a stackful cooperative coroutine.
type Fiber = fiber.Fiber

// FiberState is a fiber's lifecycle state.
type FiberState = fiber.State

// Fiber lifecycle states.
const (
	StateReady   = fiber.Ready
	StateRunning = fiber.Running
	StateTerm    = fiber.Term
)

// DefaultStackSize is the fiber stack size in bytes unless overridden.
const DefaultStackSize = fiber.DefaultStackSize

// Timer is a cancellable deadline registration.
type Timer = timer.Timer

// EventType selects a descriptor readiness interest.
type EventType = ioreactor.EventType

// Readiness interests.
const (
	EventNone  = ioreactor.None
	EventRead  = ioreactor.Read
	EventWrite = ioreactor.Write
)

// Spawn allocates a new READY fiber running entry. stackSize <= 0 selects
// DefaultStackSize.
func Spawn(entry func(), stackSize int, runInScheduler bool) *Fiber {
	return fiber.Spawn(entry, stackSize, runInScheduler, nil)
}

// Yield suspends the calling fiber back to its resumer.
func Yield() { fiber.Yield() }

// CurrentFiber returns the calling thread's running fiber.
func CurrentFiber() *Fiber { return fiber.Current() }

// Option tweaks a Runtime before its workers start.
type Option = ioreactor.Option

// WithLogger redirects the runtime's diagnostic output.
func WithLogger(l logrus.FieldLogger) Option { return ioreactor.WithLogger(l) }

// WithStackPool makes workers draw fiber stacks from sp.
func WithStackPool(sp api.BytePool) Option { return ioreactor.WithStackPool(sp) }

// WithNUMAStacks draws fiber stacks from a NUMA-local buffer pool bound
// to the given node.
func WithNUMAStacks(node int) Option {
	return ioreactor.WithStackPool(pool.NewBytePool(DefaultStackSize, node, true))
}

// WithAffinity pins worker i to cpus[i].
func WithAffinity(af api.Affinity, cpus []int) Option {
	return ioreactor.WithAffinity(af, cpus)
}

// Runtime is the assembled concurrency runtime: a reactor-backed
// scheduler plus debug probes.
type Runtime struct {
	reactor *ioreactor.IOReactor

	probeMu sync.RWMutex
	probes  map[string]func() any
}

var (
	_ api.Debug            = (*Runtime)(nil)
	_ api.GracefulShutdown = (*Runtime)(nil)
)

// New creates and starts a runtime with workerCount workers. With
// useCaller the constructing thread fills one worker slot and must later
// be the thread calling Stop.
func New(workerCount int, useCaller bool, name string, opts ...Option) (*Runtime, error) {
	r, err := ioreactor.New(workerCount, useCaller, name, opts...)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		reactor: r,
		probes:  make(map[string]func() any),
	}, nil
}

// Schedule runs cb on a fresh fiber on any worker.
func (rt *Runtime) Schedule(cb func()) { rt.reactor.ScheduleFunc(cb) }

// ScheduleFiber resumes f on any worker.
func (rt *Runtime) ScheduleFiber(f *Fiber) { rt.reactor.ScheduleFiber(f) }

// AddEvent registers interest in ev on fd. With a nil callback the
// calling fiber is suspended until the event fires.
func (rt *Runtime) AddEvent(fd int, ev EventType, cb func()) error {
	return rt.reactor.AddEvent(fd, ev, cb)
}

// DelEvent removes the interest without firing it.
func (rt *Runtime) DelEvent(fd int, ev EventType) error {
	return rt.reactor.DelEvent(fd, ev)
}

// CancelEvent removes the interest, firing it exactly once.
func (rt *Runtime) CancelEvent(fd int, ev EventType) error {
	return rt.reactor.CancelEvent(fd, ev)
}

// CancelAll fires and removes every interest on fd.
func (rt *Runtime) CancelAll(fd int) error {
	return rt.reactor.CancelAll(fd)
}

// AddTimer arms cb to run after period, repeating when recurring.
func (rt *Runtime) AddTimer(period time.Duration, cb func(), recurring bool) *Timer {
	return rt.reactor.AddTimer(period, cb, recurring)
}

// AddConditionalTimer arms cb like Runtime.AddTimer, skipping any firing
// whose weak guard has been collected.
func AddConditionalTimer[T any](rt *Runtime, period time.Duration, cb func(), guard weak.Pointer[T], recurring bool) *Timer {
	return timer.AddConditional(rt.reactor.Timers(), period, cb, guard, recurring)
}

// PendingEvents returns how many (fd, event) registrations are armed.
func (rt *Runtime) PendingEvents() int64 { return rt.reactor.PendingEvents() }

// Stop drains the runtime: workers finish queued tasks, pending events
// and timers must clear, then worker threads join.
func (rt *Runtime) Stop() { rt.reactor.Stop() }

// Shutdown implements api.GracefulShutdown.
func (rt *Runtime) Shutdown() error { return rt.reactor.Shutdown() }

// RegisterProbe implements api.Debug: fn's result appears in DumpState
// under the given name.
func (rt *Runtime) RegisterProbe(name string, fn func() any) {
	rt.probeMu.Lock()
	defer rt.probeMu.Unlock()
	rt.probes[name] = fn
}

// DumpState implements api.Debug with a snapshot of runtime health.
func (rt *Runtime) DumpState() map[string]any {
	s := rt.reactor.Scheduler()
	state := map[string]any{
		"name":           s.Name(),
		"workers":        len(s.ThreadIDs()),
		"active_workers": s.ActiveWorkers(),
		"idle_workers":   s.IdleWorkers(),
		"stopping":       s.StopRequested(),
		"live_fibers":    fiber.Count(),
		"pending_events": rt.reactor.PendingEvents(),
		"has_timers":     rt.reactor.Timers().HasTimers(),
	}
	rt.probeMu.RLock()
	defer rt.probeMu.RUnlock()
	for name, fn := range rt.probes {
		state[name] = fn()
	}
	return state
}
