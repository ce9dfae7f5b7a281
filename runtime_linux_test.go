//go:build linux
// +build linux

package fiberrt

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"weak"

	"golang.org/x/sys/unix"
)

func TestRuntimeEndToEnd(t *testing.T) {
	rt, err := New(2, false, "e2e")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	echoed := make(chan byte, 1)
	rt.Schedule(func() {
		if err := rt.AddEvent(fds[0], EventRead, nil); err != nil {
			t.Errorf("AddEvent: %v", err)
			return
		}
		Yield()
		var buf [1]byte
		if _, err := unix.Read(fds[0], buf[:]); err != nil {
			t.Errorf("read: %v", err)
			return
		}
		echoed <- buf[0]
	})

	deadline := time.Now().Add(5 * time.Second)
	for rt.PendingEvents() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("event never registered")
		}
		time.Sleep(time.Millisecond)
	}
	// Let the registering fiber finish suspending before readiness can
	// race its resumption onto the second worker.
	time.Sleep(10 * time.Millisecond)
	if _, err := unix.Write(fds[1], []byte{'x'}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case b := <-echoed:
		if b != 'x' {
			t.Fatalf("echoed %q, want 'x'", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fiber never resumed on readiness")
	}

	fired := make(chan struct{})
	rt.AddTimer(20*time.Millisecond, func() { close(fired) }, false)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}

	if err := rt.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRuntimeDumpStateAndProbes(t *testing.T) {
	rt, err := New(1, false, "dump")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Stop()

	rt.RegisterProbe("answer", func() any { return 42 })
	state := rt.DumpState()

	if state["name"] != "dump" {
		t.Fatalf("name = %v, want dump", state["name"])
	}
	if state["workers"] != 1 {
		t.Fatalf("workers = %v, want 1", state["workers"])
	}
	if state["answer"] != 42 {
		t.Fatalf("probe answer = %v, want 42", state["answer"])
	}
	if state["pending_events"] != int64(0) {
		t.Fatalf("pending_events = %v, want 0", state["pending_events"])
	}
}

func TestRuntimeConditionalTimer(t *testing.T) {
	rt, err := New(1, false, "cond")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Stop()

	var fired atomic.Int32
	guard := new(int)
	tm := AddConditionalTimer(rt, 20*time.Millisecond, func() { fired.Add(1) }, weak.Make(guard), false)

	select {
	case <-tm.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("conditional timer never drained")
	}
	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("conditional timer callback never ran")
		}
		time.Sleep(time.Millisecond)
	}
	_ = guard
}

func TestRuntimeCancelSentinels(t *testing.T) {
	rt, err := New(1, false, "sentinels")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Stop()

	tm := rt.AddTimer(time.Hour, func() {}, false)
	if err := tm.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := tm.Cancel(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("second Cancel = %v, want ErrCancelled", err)
	}
	if err := rt.DelEvent(9999, EventRead); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DelEvent on unknown fd = %v, want ErrNotFound", err)
	}
}
