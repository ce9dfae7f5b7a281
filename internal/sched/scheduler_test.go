package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/fiberrt/internal/fiber"
)

func TestTwoFibersOneWorker(t *testing.T) {
	s := New(1, false, "test")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var counter atomic.Int32
	entry := func() {
		counter.Add(1)
		Current().ScheduleFiber(fiber.Current())
		fiber.Yield()
		counter.Add(1)
	}

	a := fiber.Spawn(entry, 0, true, nil)
	b := fiber.Spawn(entry, 0, true, nil)
	s.ScheduleFiber(a)
	s.ScheduleFiber(b)

	waitFor(t, func() bool {
		return a.State() == fiber.Term && b.State() == fiber.Term
	})
	if got := counter.Load(); got != 4 {
		t.Fatalf("counter = %d, want 4", got)
	}
	s.Stop()
	if !s.queueEmpty() {
		t.Fatal("task queue not empty after Stop")
	}
}

func TestPinnedTask(t *testing.T) {
	s := New(3, false, "pin")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ids := s.ThreadIDs()
	if len(ids) != 3 {
		t.Fatalf("ThreadIDs = %v, want 3 entries", ids)
	}
	target := ids[2]

	var ranOn atomic.Int32
	ranOn.Store(int32(AnyThread))
	done := make(chan struct{})
	s.Schedule(FuncTask(func() {
		ranOn.Store(int32(CurrentThreadID()))
		close(done)
	}, target))

	var unpinned atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		s.ScheduleFunc(func() {
			unpinned.Add(1)
			wg.Done()
		})
	}

	wg.Wait()
	<-done
	if got := int(ranOn.Load()); got != target {
		t.Fatalf("pinned task ran on thread %d, want %d", got, target)
	}
	if got := unpinned.Load(); got != 20 {
		t.Fatalf("unpinned tasks completed = %d, want 20", got)
	}
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	s := New(2, false, "drain")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var count atomic.Int32
	for i := 0; i < 50; i++ {
		s.ScheduleFunc(func() { count.Add(1) })
	}
	s.Stop()

	if got := count.Load(); got != 50 {
		t.Fatalf("tasks run = %d, want 50", got)
	}
	if !s.queueEmpty() {
		t.Fatal("task queue not empty after Stop")
	}
	if got := s.ActiveWorkers(); got != 0 {
		t.Fatalf("active workers after Stop = %d, want 0", got)
	}
}

func TestStartAfterStopRejected(t *testing.T) {
	s := New(1, false, "restart")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	if err := s.Start(); err == nil {
		t.Fatal("Start on a stopping scheduler should fail")
	}
}

func TestTermFiberTaskDropped(t *testing.T) {
	s := New(1, false, "term")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	f := fiber.Spawn(func() {}, 0, false, nil)
	f.Resume()
	if f.State() != fiber.Term {
		t.Fatalf("state = %s, want TERM", f.State())
	}
	// Scheduling a TERM fiber must be silently skipped, not resumed.
	s.ScheduleFiber(f)

	probe := make(chan struct{})
	s.ScheduleFunc(func() { close(probe) })
	select {
	case <-probe:
	case <-time.After(2 * time.Second):
		t.Fatal("worker wedged after TERM fiber task")
	}
}

func TestUseCallerDrainsOnStop(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s := New(2, true, "caller")
		if err := s.Start(); err != nil {
			t.Errorf("Start: %v", err)
			return
		}
		var count atomic.Int32
		for i := 0; i < 10; i++ {
			s.ScheduleFunc(func() { count.Add(1) })
		}
		s.Stop()
		if got := count.Load(); got != 10 {
			t.Errorf("tasks run = %d, want 10", got)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("use_caller Stop did not drain")
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
