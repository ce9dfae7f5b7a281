// File: internal/ioreactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller contract. Concrete implementations
// live in poller_linux.go (epoll), poller_windows.go (IOCP shim) and
// poller_stub.go, selected by build tags.

package ioreactor

import "time"

// poller is an edge-triggered readiness queue plus a wakeup channel. Add,
// Mod and Del manage one descriptor's interest mask; Wait blocks until
// readiness, a wakeup, or the timeout. Wakeup traffic is consumed inside
// Wait and never reported to the caller.
type poller interface {
	Add(fd int, events EventType) error
	Mod(fd int, events EventType) error
	Del(fd int) error
	Wait(timeout time.Duration) ([]pollEvent, error)
	Wakeup() error
	Close() error
}
