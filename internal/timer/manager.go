// File: internal/timer/manager.go
// Author: momentics <momentics@gmail.com>
//
// Manager keeps an ordered set of deadlines and converts the due ones
// into callbacks for the scheduler. Ordering is (deadline, insertion seq)
// over a binary heap, with removal by index so Cancel and Reset stay
// O(log n).

package timer

import (
	"container/heap"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/momentics/fiberrt/internal/fault"
)

const component = "timer"

// NoDeadline is returned by NextTimeout when the set is empty.
const NoDeadline = time.Duration(math.MaxInt64)

// rolloverWindow is how far the wall clock must step backwards before the
// manager treats every pending timer as immediately due. NTP slews stay
// well under it; only a hard step-back trips it. Readings from time.Now
// carry a monotonic part that the comparison uses, so with the default
// clock a wall-clock step does not trip it.
const rolloverWindow = time.Hour

// Manager owns the ordered timer set.
type Manager struct {
	mu     sync.RWMutex
	timers timerHeap
	seq    uint64
	prev   time.Time

	// tickled debounces front-insertion wakeups: once set, further
	// insertions stay quiet until NextTimeout clears it.
	tickled atomic.Bool

	// onFront is invoked, outside the lock, when an insertion lands at
	// the front of the set. The reactor points this at its tickle.
	onFront func()

	// now is the clock source, swappable in tests.
	now func() time.Time
}

// NewManager creates an empty timer manager using time.Now as its clock.
func NewManager() *Manager {
	m := &Manager{now: time.Now}
	m.prev = m.now()
	return m
}

// SetNotifyFront installs fn as the front-insertion wakeup hook.
func (m *Manager) SetNotifyFront(fn func()) { m.onFront = fn }

// AddTimer schedules cb to run once (or every period, if recurring) after
// period elapses. The returned Timer supports Cancel, Refresh and Reset.
func (m *Manager) AddTimer(period time.Duration, cb func(), recurring bool) *Timer {
	if cb == nil {
		fault.Raise(component, "AddTimer with nil callback")
	}
	if period < 0 {
		fault.Raise(component, "AddTimer with negative period %v", period)
	}

	m.mu.Lock()
	t := &Timer{
		period:    period,
		recurring: recurring,
		cb:        cb,
		mgr:       m,
		seq:       m.seq,
		index:     -1,
		done:      make(chan struct{}),
	}
	m.seq++
	t.next = m.now().Add(period)
	atFront := m.insertFrontCheckLocked(t)
	m.mu.Unlock()

	if atFront {
		m.notifyFront()
	}
	return t
}

// AddConditional schedules cb like Manager.AddTimer, but each firing first
// checks the weak guard: once the guard's referent has been collected the
// callback is skipped and the timer fires into nothing.
func AddConditional[T any](m *Manager, period time.Duration, cb func(), guard weak.Pointer[T], recurring bool) *Timer {
	return m.AddTimer(period, func() {
		if guard.Value() != nil {
			cb()
		}
	}, recurring)
}

// NextTimeout returns how long until the soonest deadline: zero when it is
// already due, NoDeadline when the set is empty. It also re-arms the
// front-insertion debounce.
func (m *Manager) NextTimeout() time.Duration {
	m.tickled.Store(false)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.timers) == 0 {
		return NoDeadline
	}
	d := m.timers[0].next.Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}

// HasTimers reports whether any timer is pending.
func (m *Manager) HasTimers() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timers) > 0
}

// DrainDue pops every due timer and returns their callbacks in deadline
// order. Recurring timers are reinserted with a fresh deadline relative to
// now. A backwards clock step beyond the rollover window makes every
// pending timer due at once, so a stepped-back clock cannot stall the set.
func (m *Manager) DrainDue() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rollover := m.detectRolloverLocked(now)
	if len(m.timers) == 0 {
		return nil
	}

	// Pop first, reinsert after: a recurring timer rescheduled during a
	// rollover drain must not be popped again by the same drain.
	var expired []*Timer
	for len(m.timers) > 0 && (rollover || !m.timers[0].next.After(now)) {
		t := m.timers[0]
		m.removeLocked(t)
		expired = append(expired, t)
	}

	cbs := make([]func(), 0, len(expired))
	for _, t := range expired {
		cbs = append(cbs, t.cb)
		if t.recurring {
			t.next = now.Add(t.period)
			m.insertLocked(t)
		} else {
			t.cb = nil
			t.finishLocked(nil)
		}
	}
	return cbs
}

// detectRolloverLocked compares now against the previously observed wall
// clock and remembers now for the next call.
func (m *Manager) detectRolloverLocked(now time.Time) bool {
	rollover := now.Before(m.prev.Add(-rolloverWindow))
	m.prev = now
	return rollover
}

// insertFrontCheckLocked inserts t and reports whether the caller should
// fire the front-insertion hook: only when t became the new front and no
// wakeup is already in flight.
func (m *Manager) insertFrontCheckLocked(t *Timer) bool {
	m.insertLocked(t)
	if t.index != 0 {
		return false
	}
	return m.tickled.CompareAndSwap(false, true)
}

func (m *Manager) insertLocked(t *Timer) { heap.Push(&m.timers, t) }
func (m *Manager) removeLocked(t *Timer) { heap.Remove(&m.timers, t.index) }

func (m *Manager) notifyFront() {
	if m.onFront != nil {
		m.onFront()
	}
}

// timerHeap orders timers by (deadline, seq).
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].seq < h[j].seq
	}
	return h[i].next.Before(h[j].next)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
