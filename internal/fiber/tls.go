package fiber

import (
	"runtime"
	"sync"
)

// slot holds the three per-thread pointers the runtime relies on: the
// running fiber, the thread's root fiber, and its scheduler fiber.
// "Thread" here is a goroutine: each dedicated fiber goroutine gets
// exactly one slot, created lazily the first time it asks for Current().
type slot struct {
	current   *Fiber
	root      *Fiber
	scheduler *Fiber
}

var (
	tlsMu sync.RWMutex
	tls   = map[uint64]*slot{}
)

// getGoroutineID parses the running goroutine's numeric id out of a short
// runtime.Stack dump. This is the same parsing idiom used elsewhere in the
// ecosystem (e.g. go-utilpkg/eventloop's isLoopThread helper) to recover a
// goroutine-scoped identity where the language provides no TLS primitive.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

func slotFor(gid uint64) *slot {
	tlsMu.RLock()
	s, ok := tls[gid]
	tlsMu.RUnlock()
	if ok {
		return s
	}
	tlsMu.Lock()
	defer tlsMu.Unlock()
	s, ok = tls[gid]
	if ok {
		return s
	}
	s = &slot{}
	tls[gid] = s
	return s
}

func newRootFiber() *Fiber {
	f := &Fiber{isRoot: true}
	f.state.Store(int32(Running))
	return f
}

// Current returns the calling goroutine's running fiber, lazily creating
// that goroutine's root fiber (and, unless already overridden, its
// scheduler fiber) on first call.
func Current() *Fiber {
	gid := getGoroutineID()
	s := slotFor(gid)
	tlsMu.RLock()
	cur := s.current
	tlsMu.RUnlock()
	if cur != nil {
		return cur
	}
	tlsMu.Lock()
	defer tlsMu.Unlock()
	if s.current != nil {
		return s.current
	}
	root := newRootFiber()
	s.root = root
	s.current = root
	s.scheduler = root
	return root
}

// setCurrent registers f as the calling goroutine's running fiber. Called
// once per trampoline goroutine, when it first runs: a fiber keeps the same
// goroutine across Yield/Resume cycles until it reaches TERM (Reset starts a
// fresh one), so this assignment never needs to change in between.
func setCurrent(f *Fiber) {
	gid := getGoroutineID()
	s := slotFor(gid)
	tlsMu.Lock()
	s.current = f
	tlsMu.Unlock()
}

// SetSchedulerFiber marks f as the calling goroutine's scheduler fiber: the
// target that a run_in_scheduler fiber's Yield conceptually returns
// control to (in practice, whichever fiber calls Resume on it).
func SetSchedulerFiber(f *Fiber) {
	_ = Current() // ensure the slot exists
	gid := getGoroutineID()
	s := slotFor(gid)
	tlsMu.Lock()
	s.scheduler = f
	tlsMu.Unlock()
}

// SchedulerFiber returns the calling goroutine's scheduler fiber.
func SchedulerFiber() *Fiber {
	_ = Current()
	gid := getGoroutineID()
	s := slotFor(gid)
	tlsMu.RLock()
	defer tlsMu.RUnlock()
	return s.scheduler
}

// RootFiber returns the calling goroutine's root fiber.
func RootFiber() *Fiber {
	return Current().rootOf()
}

func (f *Fiber) rootOf() *Fiber {
	if f.isRoot {
		return f
	}
	gid := getGoroutineID()
	s := slotFor(gid)
	tlsMu.RLock()
	defer tlsMu.RUnlock()
	return s.root
}

// ForgetThread drops the calling goroutine's slot. Workers call this on
// exit so a terminated worker's goroutine id (which the runtime may reuse)
// cannot resurrect stale state for an unrelated future goroutine.
func ForgetThread() {
	gid := getGoroutineID()
	tlsMu.Lock()
	delete(tls, gid)
	tlsMu.Unlock()
}
