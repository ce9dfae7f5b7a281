// File: internal/timer/timer.go
// Author: momentics <momentics@gmail.com>
//
// Timer: one scheduled callback, owned by a Manager.

package timer

import (
	"time"

	"github.com/momentics/fiberrt/api"
)

// Timer is a single entry in a Manager's deadline set. All mutable fields
// are guarded by the owning Manager's lock; a Timer is only ever touched
// through its Manager.
type Timer struct {
	next      time.Time
	period    time.Duration
	recurring bool
	cb        func()
	mgr       *Manager

	// seq breaks ordering ties between equal deadlines so the set order
	// is deterministic under concurrent insertion.
	seq   uint64
	index int

	done    chan struct{}
	doneErr error
}

var _ api.Cancelable = (*Timer)(nil)

// Cancel removes the timer from its manager and nulls the callback. A
// timer whose callback is already gone reports api.ErrCancelled.
func (t *Timer) Cancel() error {
	m := t.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.cb == nil {
		return api.ErrCancelled
	}
	t.cb = nil
	if t.index >= 0 {
		m.removeLocked(t)
	}
	t.finishLocked(api.ErrCancelled)
	return nil
}

// Refresh pushes the deadline forward to now + period. Deadlines only ever
// move forward here; use Reset to change the period.
func (t *Timer) Refresh() error {
	m := t.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.cb == nil {
		return api.ErrCancelled
	}
	if t.index < 0 {
		return api.ErrNotFound
	}
	m.removeLocked(t)
	t.next = m.now().Add(t.period)
	m.insertLocked(t)
	return nil
}

// Reset changes the timer's period. With fromNow the deadline rebases at
// now + period; otherwise it rebases at the previous trigger time, i.e.
// old deadline minus old period plus the new one. Resetting to the current
// period without fromNow is a no-op.
func (t *Timer) Reset(period time.Duration, fromNow bool) error {
	m := t.mgr
	m.mu.Lock()

	if period == t.period && !fromNow {
		m.mu.Unlock()
		return nil
	}
	if t.cb == nil {
		m.mu.Unlock()
		return api.ErrCancelled
	}
	if t.index < 0 {
		m.mu.Unlock()
		return api.ErrNotFound
	}
	m.removeLocked(t)

	start := t.next.Add(-t.period)
	if fromNow {
		start = m.now()
	}
	t.period = period
	t.next = start.Add(period)
	atFront := m.insertFrontCheckLocked(t)
	m.mu.Unlock()

	if atFront {
		m.notifyFront()
	}
	return nil
}

// Done is closed once the timer fires for the last time or is cancelled.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Err reports why Done closed: api.ErrCancelled after Cancel, nil after a
// natural final fire, and nil while the timer is still pending.
func (t *Timer) Err() error {
	t.mgr.mu.RLock()
	defer t.mgr.mu.RUnlock()
	return t.doneErr
}

// finishLocked closes done exactly once with the given reason.
func (t *Timer) finishLocked(err error) {
	select {
	case <-t.done:
	default:
		t.doneErr = err
		close(t.done)
	}
}
