// File: internal/sched/scheduler.go
// Author: momentics <momentics@gmail.com>
//
// A multi-threaded cooperative fiber scheduler: a worker pool pulling from
// one shared FIFO task queue. There is no work stealing and no preemption;
// a worker resumes one fiber at a time and a fiber runs until it yields.

package sched

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/momentics/fiberrt/api"
	"github.com/momentics/fiberrt/internal/fault"
	"github.com/momentics/fiberrt/internal/fiber"
	"github.com/momentics/fiberrt/pool"
)

const component = "sched"

// idleInterval is how long the base idle hook sleeps between polls of the
// stopping condition. Reactor-backed schedulers replace idle entirely and
// never sleep here.
const idleInterval = 10 * time.Millisecond

// Hooks are the overridable strategy points of the dispatch loop. The base
// scheduler provides trivial implementations; an I/O reactor supplies its
// own to park workers on the OS readiness queue instead of sleeping.
type Hooks interface {
	// Tickle wakes at least one worker that may be parked in Idle.
	Tickle()
	// Idle runs on a dedicated per-worker fiber whenever the queue has no
	// task for that worker. It must Yield back to the dispatch loop
	// periodically and terminate once Stopping reports true.
	Idle()
	// Stopping reports whether the scheduler has fully drained and the
	// workers may exit.
	Stopping() bool
}

// Scheduler multiplexes fibers over a pool of worker threads.
type Scheduler struct {
	name        string
	workerCount int
	useCaller   bool

	mu    sync.Mutex
	tasks *queue.Queue

	wg        sync.WaitGroup
	threadIDs []int

	// Caller-as-worker state: the dispatch loop runs on a dedicated fiber
	// owned by the thread that constructed the scheduler.
	schedulerFiber *fiber.Fiber

	stoppingFlag atomic.Bool
	started      atomic.Bool
	activeCount  atomic.Int64
	idleCount    atomic.Int64

	hooks     Hooks
	log       logrus.FieldLogger
	stackPool api.BytePool
	affinity  api.Affinity
	cpus      []int

	// fiberCache recycles terminated callable-task fibers so their
	// stacks survive across tasks instead of being reallocated.
	fiberCache *pool.SyncPool[*fiber.Fiber]
}

// New creates a scheduler with workerCount workers. With useCaller the
// constructing thread fills one worker slot: a fresh scheduler fiber is
// dedicated on that thread and later driven to completion by Stop. The
// remaining slots are fresh OS threads spawned by Start.
func New(workerCount int, useCaller bool, name string) *Scheduler {
	if workerCount <= 0 {
		fault.Raise(component, "New: workerCount must be positive, got %d", workerCount)
	}
	s := &Scheduler{
		name:        name,
		workerCount: workerCount,
		useCaller:   useCaller,
		tasks:       queue.New(),
		log:         logrus.StandardLogger(),
		fiberCache:  pool.NewSyncPool(func() *fiber.Fiber { return nil }),
	}
	s.hooks = (*baseHooks)(s)

	if useCaller {
		if Current() != nil {
			fault.Raise(component, "New: calling thread already runs a scheduler")
		}
		// The caller becomes worker 0. Its root fiber anchors the thread
		// and the dispatch loop lives on a separate scheduler fiber so
		// Stop can drain by resuming it.
		root := fiber.Current()
		bind(root, s, 0)
		s.schedulerFiber = fiber.Spawn(func() { s.run(0) }, 0, false, nil)
		bind(s.schedulerFiber, s, 0)
		fiber.SetSchedulerFiber(s.schedulerFiber)
		s.threadIDs = append(s.threadIDs, 0)
	}
	return s
}

// binding is what a scheduler stores on every fiber it resumes: the
// scheduler itself plus the id of the worker thread doing the resuming.
type binding struct {
	s      *Scheduler
	thread int
}

func bind(f *fiber.Fiber, s *Scheduler, thread int) {
	f.BindScheduler(binding{s: s, thread: thread})
}

// Current returns the scheduler owning the calling fiber's thread, or nil.
func Current() *Scheduler {
	v := fiber.Current().BoundScheduler()
	if v == nil {
		return nil
	}
	b, _ := v.(binding)
	return b.s
}

// CurrentThreadID returns the id of the worker thread the calling fiber
// is running on, or AnyThread outside a scheduler.
func CurrentThreadID() int {
	v := fiber.Current().BoundScheduler()
	if v == nil {
		return AnyThread
	}
	b, ok := v.(binding)
	if !ok {
		return AnyThread
	}
	return b.thread
}

// SetHooks replaces the dispatch-loop strategy. Must be called before Start.
func (s *Scheduler) SetHooks(h Hooks) {
	if s.started.Load() {
		fault.Raise(component, "SetHooks after Start")
	}
	s.hooks = h
}

// Hooks returns the active strategy, which is the scheduler itself unless
// a composing component (such as an I/O reactor) installed its own.
func (s *Scheduler) Hooks() Hooks { return s.hooks }

// SetLogger redirects the scheduler's diagnostic output.
func (s *Scheduler) SetLogger(l logrus.FieldLogger) { s.log = l }

// SetStackPool makes workers draw fiber stacks for callable tasks from sp.
func (s *Scheduler) SetStackPool(sp api.BytePool) { s.stackPool = sp }

// SetAffinity pins worker i to cpus[i] via af once its thread starts.
// Workers beyond len(cpus) run unpinned.
func (s *Scheduler) SetAffinity(af api.Affinity, cpus []int) {
	s.affinity = af
	s.cpus = cpus
}

// Name returns the scheduler's name.
func (s *Scheduler) Name() string { return s.name }

// ThreadIDs returns the ids of all worker threads, caller included.
func (s *Scheduler) ThreadIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, len(s.threadIDs))
	copy(ids, s.threadIDs)
	return ids
}

// Schedule enqueues t. If the queue was empty a parked worker may be
// sleeping, so one tickle is emitted after the enqueue.
func (s *Scheduler) Schedule(t Task) {
	if !t.valid() {
		fault.Raise(component, "Schedule: task carries neither fiber nor callable")
	}
	s.mu.Lock()
	needTickle := s.tasks.Length() == 0
	s.tasks.Add(t)
	s.mu.Unlock()
	if needTickle {
		s.hooks.Tickle()
	}
}

// ScheduleFunc enqueues cb to run on a fresh fiber on any worker.
func (s *Scheduler) ScheduleFunc(cb func()) {
	s.Schedule(FuncTask(cb, AnyThread))
}

// ScheduleFiber enqueues f for resumption on any worker.
func (s *Scheduler) ScheduleFiber(f *fiber.Fiber) {
	s.Schedule(FiberTask(f, AnyThread))
}

// Start spawns the worker threads. Starting a stopping scheduler fails.
func (s *Scheduler) Start() error {
	if s.stoppingFlag.Load() {
		s.log.WithField("component", component).Error("start rejected: scheduler is stopping")
		return api.ErrStopping
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	spawn := s.workerCount
	first := 0
	if s.useCaller {
		spawn--
		first = 1
	}
	s.mu.Lock()
	for i := 0; i < spawn; i++ {
		s.threadIDs = append(s.threadIDs, first+i)
	}
	s.mu.Unlock()

	for i := 0; i < spawn; i++ {
		id := first + i
		s.wg.Add(1)
		go s.worker(id, i)
	}
	s.log.WithFields(logrus.Fields{
		"component": component,
		"name":      s.name,
		"workers":   s.workerCount,
	}).Debug("scheduler started")
	return nil
}

// Stop drains the scheduler and joins all workers. With useCaller it must
// run on the constructing thread, whose scheduler fiber is resumed here to
// drain the caller's share of the queue.
func (s *Scheduler) Stop() {
	if s.hooks.Stopping() {
		return
	}
	s.stoppingFlag.Store(true)

	if s.useCaller {
		if Current() != s {
			fault.Raise(component, "Stop: use_caller scheduler stopped from a foreign thread")
		}
	} else if Current() == s {
		fault.Raise(component, "Stop: scheduler cannot stop itself from a worker")
	}

	for i := 0; i < s.workerCount; i++ {
		s.hooks.Tickle()
	}
	if s.schedulerFiber != nil {
		s.hooks.Tickle()
		s.schedulerFiber.Resume()
	}

	s.wg.Wait()
	s.log.WithFields(logrus.Fields{
		"component": component,
		"name":      s.name,
	}).Debug("scheduler stopped")
}

// worker is the body of one spawned OS worker thread.
func (s *Scheduler) worker(id, index int) {
	defer s.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	setThreadName(s.name + "_" + strconv.Itoa(index))
	if s.affinity != nil && index < len(s.cpus) {
		if err := s.affinity.Pin(s.cpus[index]); err != nil {
			s.log.WithFields(logrus.Fields{
				"component": component,
				"worker":    id,
				"cpu":       s.cpus[index],
			}).WithError(err).Warn("worker pin failed")
		}
	}

	root := fiber.Current()
	bind(root, s, id)
	fiber.SetSchedulerFiber(root)
	defer fiber.ForgetThread()

	s.run(id)
}

// run is the dispatch loop, executed on the worker's root fiber (spawned
// workers) or on the dedicated scheduler fiber (caller-as-worker).
func (s *Scheduler) run(threadID int) {
	idleFiber := fiber.Spawn(func() { s.hooks.Idle() }, 0, true, s.stackPool)
	bind(idleFiber, s, threadID)
	defer idleFiber.Release()

	for {
		task, needTickle := s.pop(threadID)
		if needTickle {
			s.hooks.Tickle()
		}

		switch {
		case task.fiber != nil:
			// A fiber that reached TERM while queued is dropped.
			if task.fiber.State() != fiber.Term {
				bind(task.fiber, s, threadID)
				task.fiber.Resume()
			}
			s.activeCount.Add(-1)

		case task.cb != nil:
			cf := s.fiberCache.Get()
			if cf != nil && cf.State() == fiber.Term {
				cf.Reset(task.cb)
			} else {
				cf = fiber.Spawn(task.cb, 0, true, s.stackPool)
			}
			bind(cf, s, threadID)
			cf.Resume()
			if cf.State() == fiber.Term {
				s.fiberCache.Put(cf)
			}
			s.activeCount.Add(-1)

		default:
			if idleFiber.State() == fiber.Term {
				return
			}
			s.idleCount.Add(1)
			idleFiber.Resume()
			s.idleCount.Add(-1)
		}
	}
}

// pop scans the FIFO front-to-back for the first task this worker may run.
// Tasks pinned to other workers are skipped in place and trigger a tickle,
// as does any task left behind after a successful selection.
func (s *Scheduler) pop(threadID int) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.tasks.Length()
	sel := -1
	needTickle := false
	for i := 0; i < n; i++ {
		t := s.tasks.Get(i).(Task)
		if t.thread != AnyThread && t.thread != threadID {
			needTickle = true
			continue
		}
		sel = i
		break
	}
	if sel < 0 {
		return Task{}, needTickle
	}

	var picked Task
	// queue.Queue only removes from the front; rebuild to excise the
	// selected element while keeping the remaining order intact.
	for i := 0; i < n; i++ {
		t := s.tasks.Remove().(Task)
		if i == sel {
			picked = t
			continue
		}
		s.tasks.Add(t)
	}
	s.activeCount.Add(1)
	if s.tasks.Length() > 0 {
		needTickle = true
	}
	return picked, needTickle
}

// queueEmpty reports whether no tasks are pending.
func (s *Scheduler) queueEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Length() == 0
}

// Drained reports the base stop condition: Stop has been requested, the
// task queue is empty, and no worker is running a task. Composing
// components AND their own conditions onto this in their Stopping hook.
func (s *Scheduler) Drained() bool {
	return s.stoppingFlag.Load() && s.queueEmpty() && s.activeCount.Load() == 0
}

// IdleWorkers returns how many workers are currently parked in Idle.
func (s *Scheduler) IdleWorkers() int64 { return s.idleCount.Load() }

// ActiveWorkers returns how many workers are currently running a task.
func (s *Scheduler) ActiveWorkers() int64 { return s.activeCount.Load() }

// StopRequested reports whether Stop has been invoked.
func (s *Scheduler) StopRequested() bool { return s.stoppingFlag.Load() }

// Shutdown stops the scheduler. It satisfies api.GracefulShutdown.
func (s *Scheduler) Shutdown() error {
	s.Stop()
	return nil
}

// baseHooks is the no-frills strategy of a bare scheduler: no parked-worker
// wakeup machinery, a sleep-poll idle loop, and the drain condition over
// the task queue and active workers.
type baseHooks Scheduler

func (b *baseHooks) Tickle() {}

func (b *baseHooks) Idle() {
	s := (*Scheduler)(b)
	for !s.hooks.Stopping() {
		time.Sleep(idleInterval)
		fiber.Yield()
	}
}

func (b *baseHooks) Stopping() bool {
	return (*Scheduler)(b).Drained()
}
