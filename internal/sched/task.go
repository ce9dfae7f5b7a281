// File: internal/sched/task.go
// Author: momentics <momentics@gmail.com>
//
// ScheduleTask: the unit of work a Scheduler dispatches to its workers.

package sched

import (
	"github.com/momentics/fiberrt/internal/fiber"
)

// AnyThread lets a task run on whichever worker pops it first.
const AnyThread = -1

// Task carries either an existing fiber or a bare callable to be wrapped
// in a fresh fiber by the worker that picks it up. Exactly one of the two
// payloads is set; Thread pins the task to one worker id, or AnyThread.
type Task struct {
	fiber  *fiber.Fiber
	cb     func()
	thread int
}

// FiberTask builds a task that resumes an existing fiber.
func FiberTask(f *fiber.Fiber, thread int) Task {
	return Task{fiber: f, thread: thread}
}

// FuncTask builds a task that runs cb on a fresh fiber.
func FuncTask(cb func(), thread int) Task {
	return Task{cb: cb, thread: thread}
}

// Fiber returns the task's fiber payload, or nil for a callable task.
func (t Task) Fiber() *fiber.Fiber { return t.fiber }

func (t Task) valid() bool { return t.fiber != nil || t.cb != nil }
