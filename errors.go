// File: errors.go
// Author: momentics <momentics@gmail.com>
//
// Error surface of the runtime, re-exported from the api and fault
// packages so callers need only import fiberrt.

package fiberrt

import (
	"github.com/momentics/fiberrt/api"
	"github.com/momentics/fiberrt/internal/fault"
)

// A *FaultError is the panic value carried by invariant violations: wrong
// fiber state at resume or yield, double-registered events, stopping a
// scheduler from the wrong thread. A fault is a caller bug, never a
// returned error.
type FaultError = fault.Error

// Recoverable error sentinels, comparable with errors.Is.
var (
	ErrInvalidArgument = api.ErrInvalidArgument
	ErrAlreadyExists   = api.ErrAlreadyExists
	ErrNotFound        = api.ErrNotFound
	ErrStopping        = api.ErrStopping
	ErrCancelled       = api.ErrCancelled
)
