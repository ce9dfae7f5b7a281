// Package fiber implements the stackful-coroutine primitive underneath
// the scheduler and the I/O reactor.
//
// Go gives no portable access to a raw ucontext-style make/swap/get
// primitive: there is no supported way to hand a goroutine a caller-owned
// stack buffer and swap machine context onto it. The closest idiomatic
// substitute is a dedicated, permanently-parked goroutine per fiber, with
// control handed back and forth across a pair of unbuffered channels so
// that exactly one side of the pair is ever runnable. That is what this
// file implements. A fiber's stack buffer (128000 bytes by default) is still
// acquired from the api.BytePool given to Spawn, or allocated directly when
// none is given, and threaded through Spawn/Release, keeping stack
// ownership and reuse explicit even though the goroutine scheduler, not
// that buffer, backs the actual call stack.
package fiber

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/momentics/fiberrt/api"
	"github.com/momentics/fiberrt/internal/fault"
)

// DefaultStackSize is the fiber stack size in bytes unless overridden
// at Spawn.
const DefaultStackSize = 128000

const component = "fiber"

var (
	idCounter    atomic.Uint64
	countCounter atomic.Int64

	// Log is the package-level diagnostic sink. Overridable by embedders
	// that want fiber-level logs folded into their own logger.
	Log logrus.FieldLogger = logrus.StandardLogger()
)

// Fiber is a stackful coroutine: its own (virtual) stack, a saved
// continuation, and a three-state lifecycle.
type Fiber struct {
	id             uint64
	state          atomic.Int32
	stack          []byte
	stackPool      api.BytePool
	runInScheduler bool
	isRoot         bool

	mu      sync.Mutex // orders construction against first Resume
	entry   func()
	started bool

	// sched holds the scheduler responsible for resuming this fiber, set
	// by the worker right before Resume. Stored here rather than in a
	// per-thread slot because a fiber's entry runs on its own goroutine.
	sched atomic.Value

	resumeCh chan struct{}
	yieldCh  chan struct{}
}

// BindScheduler associates f with the scheduler about to resume it.
func (f *Fiber) BindScheduler(v any) { f.sched.Store(v) }

// BoundScheduler returns the scheduler bound to f, or nil.
func (f *Fiber) BoundScheduler() any { return f.sched.Load() }

// Count returns the number of live (non-released) fibers, for diagnostics.
func Count() int64 { return countCounter.Load() }

// Spawn allocates a new READY fiber. stackSize<=0 selects DefaultStackSize.
// sp may be nil, in which case the stack buffer is a plain make([]byte, n).
func Spawn(entry func(), stackSize int, runInScheduler bool, sp api.BytePool) *Fiber {
	if entry == nil {
		fault.Raise(component, "spawn with nil entry")
	}
	size := stackSize
	if size <= 0 {
		size = DefaultStackSize
	}
	var buf []byte
	if sp != nil {
		buf = sp.Acquire(size)
	} else {
		buf = make([]byte, size)
	}
	f := &Fiber{
		id:             idCounter.Add(1),
		stack:          buf,
		stackPool:      sp,
		entry:          entry,
		runInScheduler: runInScheduler,
		resumeCh:       make(chan struct{}),
		yieldCh:        make(chan struct{}),
	}
	f.state.Store(int32(Ready))
	countCounter.Add(1)
	return f
}

// ID returns the fiber's process-wide unique identifier.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// RunInScheduler reports whether Yield on this fiber targets the thread's
// scheduler fiber (true) or its root fiber (false).
func (f *Fiber) RunInScheduler() bool { return f.runInScheduler }

// IsRoot reports whether f represents a thread's original execution
// rather than a spawned coroutine. Root fibers cannot be resumed.
func (f *Fiber) IsRoot() bool { return f.isRoot }

// Resume transfers control to f. Precondition: f.State() == Ready.
// It blocks the calling goroutine until f yields or terminates.
func (f *Fiber) Resume() {
	if f.isRoot {
		fault.Raise(component, "cannot Resume a root fiber")
	}
	if State(f.state.Load()) != Ready {
		fault.Raise(component, "Resume: fiber %d not READY (state=%s)", f.id, f.State())
	}

	f.mu.Lock()
	f.state.Store(int32(Running))
	if !f.started {
		f.started = true
		go f.trampoline()
	}
	f.mu.Unlock()

	f.resumeCh <- struct{}{}
	<-f.yieldCh
}

// Yield suspends Current() back to whichever goroutine last called Resume
// on it. Precondition: Current().State() ∈ {Running, Term}.
func Yield() {
	f := Current()
	if f.isRoot {
		fault.Raise(component, "Yield called on a root fiber with no resumer")
	}
	st := State(f.state.Load())
	if st != Running && st != Term {
		fault.Raise(component, "Yield: fiber %d in state %s", f.id, st)
	}
	if st == Running {
		f.state.Store(int32(Ready))
	}
	f.yieldCh <- struct{}{}
	if st == Running {
		<-f.resumeCh
	}
}

// Reset rebuilds a TERM fiber with a new entry, reusing its stack buffer.
// Precondition: f.State() == Term and the stack buffer is still owned.
func (f *Fiber) Reset(entry func()) {
	if entry == nil {
		fault.Raise(component, "Reset with nil entry")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if State(f.state.Load()) != Term {
		fault.Raise(component, "Reset: fiber %d not TERM (state=%s)", f.id, f.State())
	}
	if f.stack == nil {
		fault.Raise(component, "Reset: fiber %d has no stack", f.id)
	}
	f.entry = entry
	f.started = false
	f.resumeCh = make(chan struct{})
	f.yieldCh = make(chan struct{})
	f.state.Store(int32(Ready))
}

// Release returns the fiber's stack buffer to its originating pool, if
// any. Call only after the fiber has reached TERM and will not be Reset.
func (f *Fiber) Release() {
	if f.stack == nil {
		return
	}
	if f.stackPool != nil {
		f.stackPool.Release(f.stack)
	}
	f.stack = nil
	countCounter.Add(-1)
}

// trampoline is the body of a spawned fiber's dedicated goroutine: run
// the entry, clear it, mark TERM, and hand control back exactly once
// more. From the fiber's point of view that last handoff never returns;
// the goroutine simply exits after it.
func (f *Fiber) trampoline() {
	<-f.resumeCh
	setCurrent(f)

	func() {
		defer func() {
			if r := recover(); r != nil {
				// An escape from entry is the caller's bug. Log and still
				// mark TERM rather than crash the whole process; the
				// failure is confined to this one fiber's goroutine.
				Log.WithFields(logrus.Fields{
					"component": component,
					"fiber_id":  f.id,
					"panic":     r,
				}).Error("fiber entry panicked")
			}
		}()
		f.entry()
	}()

	f.mu.Lock()
	f.entry = nil
	f.mu.Unlock()
	f.state.Store(int32(Term))
	f.yieldCh <- struct{}{}

	// The goroutine exits here. Drop its registry slot so the map does
	// not grow by one entry per fiber ever spawned; a Reset starts a
	// fresh goroutine with its own slot.
	ForgetThread()
}
