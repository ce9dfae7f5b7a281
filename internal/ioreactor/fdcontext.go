// File: internal/ioreactor/fdcontext.go
// Author: momentics <momentics@gmail.com>
//
// Per-descriptor state: registered interests and who to wake for each.

package ioreactor

import (
	"sync"

	"github.com/momentics/fiberrt/internal/fault"
	"github.com/momentics/fiberrt/internal/fiber"
	"github.com/momentics/fiberrt/internal/sched"
)

// waker is the variant behind an EventContext: an event wakes either a
// suspended fiber or a bare callback, never both.
type waker interface {
	scheduleOn(s *sched.Scheduler)
}

type fiberWaker struct{ f *fiber.Fiber }

func (w fiberWaker) scheduleOn(s *sched.Scheduler) { s.ScheduleFiber(w.f) }

type callbackWaker struct{ cb func() }

func (w callbackWaker) scheduleOn(s *sched.Scheduler) { s.ScheduleFunc(w.cb) }

// EventContext names who to wake for one (fd, event) registration. The
// scheduler pointer is borrowed: Stop ordering guarantees the scheduler
// outlives every registered event.
type EventContext struct {
	sched *sched.Scheduler
	wake  waker
}

func (ec *EventContext) set(s *sched.Scheduler, w waker) {
	if ec.sched != nil || ec.wake != nil {
		fault.Raise(component, "event context already populated")
	}
	ec.sched = s
	ec.wake = w
}

func (ec *EventContext) reset() {
	ec.sched = nil
	ec.wake = nil
}

func (ec *EventContext) registered() bool { return ec.wake != nil }

// FdContext aggregates one descriptor's interests and its two event
// contexts. Slots live in the reactor's contiguously indexed table; the
// fd doubles as the table index. A cancelled fd keeps its slot.
type FdContext struct {
	mu     sync.Mutex
	fd     int
	events EventType
	read   EventContext
	write  EventContext
}

// ctxFor returns the event context for exactly one of Read or Write.
func (c *FdContext) ctxFor(ev EventType) *EventContext {
	switch ev {
	case Read:
		return &c.read
	case Write:
		return &c.write
	}
	fault.Raise(component, "ctxFor: invalid event %s", ev)
	return nil
}

// triggerLocked fires the registration for ev exactly once: the event
// context moves into a scheduler task, the slot and interest bit clear,
// and the reactor's pending count drops. Caller holds c.mu and re-issues
// the poller MOD/DEL for the remaining interests.
func (c *FdContext) triggerLocked(r *IOReactor, ev EventType) {
	if c.events&ev == 0 {
		fault.Raise(component, "trigger for unregistered event %s on fd %d", ev, c.fd)
	}
	c.events &^= ev
	ec := c.ctxFor(ev)
	ec.wake.scheduleOn(ec.sched)
	ec.reset()
	r.pendingEvents.Add(-1)
}
