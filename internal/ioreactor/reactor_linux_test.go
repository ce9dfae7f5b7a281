//go:build linux
// +build linux

package ioreactor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/fiberrt/api"
	"github.com/momentics/fiberrt/internal/fiber"
)

func newTestReactor(t *testing.T) *IOReactor {
	t.Helper()
	r, err := New(1, false, "iotest")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func newTestPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestIORoundTrip(t *testing.T) {
	r := newTestReactor(t)
	rfd, wfd := newTestPipe(t)

	got := make(chan byte, 1)
	r.ScheduleFunc(func() {
		if err := r.AddEvent(rfd, Read, nil); err != nil {
			t.Errorf("AddEvent: %v", err)
			return
		}
		fiber.Yield()
		var buf [1]byte
		if _, err := unix.Read(rfd, buf[:]); err != nil {
			t.Errorf("read: %v", err)
			return
		}
		got <- buf[0]
	})

	waitFor(t, func() bool { return r.PendingEvents() == 1 })
	if _, err := unix.Write(wfd, []byte{0x7f}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case b := <-got:
		if b != 0x7f {
			t.Fatalf("read byte = %#x, want 0x7f", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("suspended fiber never woke on readable fd")
	}

	if got := r.PendingEvents(); got != 0 {
		t.Fatalf("PendingEvents = %d after trigger, want 0", got)
	}
	ctx := r.lookup(rfd)
	ctx.mu.Lock()
	registered := ctx.read.registered()
	ctx.mu.Unlock()
	if registered {
		t.Fatal("read context not cleared after trigger")
	}

	r.Stop()
}

func TestCancelEventFiresExactlyOnce(t *testing.T) {
	r := newTestReactor(t)
	rfd, _ := newTestPipe(t)

	var count atomic.Int32
	fired := make(chan struct{}, 4)
	if err := r.AddEvent(rfd, Read, func() {
		count.Add(1)
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if err := r.CancelEvent(rfd, Read); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled event callback never ran")
	}

	// No second invocation may arrive.
	select {
	case <-fired:
		t.Fatal("cancelled event fired twice")
	case <-time.After(100 * time.Millisecond):
	}
	if got := count.Load(); got != 1 {
		t.Fatalf("callback ran %d times, want 1", got)
	}

	// The slot is free again after cancel.
	if err := r.AddEvent(rfd, Read, func() {}); err != nil {
		t.Fatalf("AddEvent after cancel: %v", err)
	}
	if err := r.DelEvent(rfd, Read); err != nil {
		t.Fatalf("DelEvent: %v", err)
	}
	r.Stop()
}

func TestDuplicateAddEventRejected(t *testing.T) {
	r := newTestReactor(t)
	rfd, _ := newTestPipe(t)

	if err := r.AddEvent(rfd, Read, func() {}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	err := r.AddEvent(rfd, Read, func() {})
	if !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("duplicate AddEvent = %v, want ErrAlreadyExists", err)
	}
	if got := r.PendingEvents(); got != 1 {
		t.Fatalf("PendingEvents = %d, want 1", got)
	}

	if err := r.DelEvent(rfd, Read); err != nil {
		t.Fatalf("DelEvent: %v", err)
	}
	r.Stop()
}

func TestDelEventDoesNotFire(t *testing.T) {
	r := newTestReactor(t)
	rfd, _ := newTestPipe(t)

	fired := make(chan struct{}, 1)
	if err := r.AddEvent(rfd, Read, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if err := r.DelEvent(rfd, Read); err != nil {
		t.Fatalf("DelEvent: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("DelEvent fired the callback")
	case <-time.After(100 * time.Millisecond):
	}
	if got := r.PendingEvents(); got != 0 {
		t.Fatalf("PendingEvents = %d, want 0", got)
	}
	if err := r.DelEvent(rfd, Read); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("second DelEvent = %v, want ErrNotFound", err)
	}
	r.Stop()
}

func TestCancelAllFiresBothEvents(t *testing.T) {
	r := newTestReactor(t)
	rfd, _ := newTestPipe(t)

	fired := make(chan EventType, 2)
	if err := r.AddEvent(rfd, Read, func() { fired <- Read }); err != nil {
		t.Fatalf("AddEvent read: %v", err)
	}
	if err := r.AddEvent(rfd, Write, func() { fired <- Write }); err != nil {
		t.Fatalf("AddEvent write: %v", err)
	}
	if got := r.PendingEvents(); got != 2 {
		t.Fatalf("PendingEvents = %d, want 2", got)
	}

	if err := r.CancelAll(rfd); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-fired:
			seen[ev] = true
		case <-time.After(3 * time.Second):
			t.Fatal("CancelAll callbacks incomplete")
		}
	}
	if !seen[Read] || !seen[Write] {
		t.Fatalf("fired = %v, want both READ and WRITE", seen)
	}
	if got := r.PendingEvents(); got != 0 {
		t.Fatalf("PendingEvents = %d, want 0", got)
	}
	r.Stop()
}

func TestTimerFiresThroughIdleLoop(t *testing.T) {
	r := newTestReactor(t)

	fired := make(chan time.Time, 1)
	start := time.Now()
	r.AddTimer(50*time.Millisecond, func() { fired <- time.Now() }, false)

	select {
	case at := <-fired:
		if d := at.Sub(start); d < 50*time.Millisecond {
			t.Fatalf("timer fired after %v, want >= 50ms", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired")
	}
	r.Stop()
}

func TestRecurringTimerThroughReactor(t *testing.T) {
	r := newTestReactor(t)

	var count atomic.Int32
	tm := r.AddTimer(30*time.Millisecond, func() { count.Add(1) }, true)

	time.Sleep(100 * time.Millisecond)
	if err := tm.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got := count.Load()
	if got < 2 || got > 4 {
		t.Fatalf("recurring timer fired %d times in 100ms, want 2..4", got)
	}
	r.Stop()
}

func TestFdTableGrowth(t *testing.T) {
	r := newTestReactor(t)
	defer r.Stop()

	r.mu.RLock()
	initial := len(r.fdContexts)
	r.mu.RUnlock()
	if initial != initialFdSlots {
		t.Fatalf("initial table size = %d, want %d", initial, initialFdSlots)
	}

	ctx := r.contextFor(100)
	ctx.mu.Unlock()

	r.mu.RLock()
	grown := len(r.fdContexts)
	r.mu.RUnlock()
	if grown <= 100 || grown&(grown-1) != 0 {
		t.Fatalf("grown table size = %d, want a power of two > 100", grown)
	}
	if ctx.fd != 100 {
		t.Fatalf("slot fd = %d, want 100", ctx.fd)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
