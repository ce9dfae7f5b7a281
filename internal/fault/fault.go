// Package fault carries the runtime's programming-fault error type.
//
// A fault is an invariant violation that indicates a bug in the caller:
// wrong fiber state at resume/yield, double-registering an event,
// stopping a scheduler from the wrong thread. These abort the process
// via panic rather than being returned as an error; recoverable
// conditions live in package api instead.
package fault

import "fmt"

// Error is a typed panic value for a detected invariant violation.
type Error struct {
	Component string
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fiberrt: %s: %s", e.Component, e.Msg)
}

// Raise panics with a *Error built from component and the formatted message.
func Raise(component, format string, args ...any) {
	panic(&Error{Component: component, Msg: fmt.Sprintf(format, args...)})
}
