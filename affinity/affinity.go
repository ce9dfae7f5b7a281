// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU affinity for scheduler worker threads. Platform-specific
// implementations live in affinity_linux.go, affinity_windows.go and
// affinity_stub.go behind build tags.

package affinity

import "github.com/momentics/fiberrt/api"

// SetAffinity pins current OS thread to a given logical CPU/core on
// supported platforms. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// ClearAffinity restores the current OS thread's full CPU mask.
func ClearAffinity() error {
	return clearAffinityPlatform()
}

// ThreadPinner pins scheduler workers to CPUs. The calling goroutine
// must be locked to its OS thread for a pin to stick.
type ThreadPinner struct{}

var _ api.Affinity = ThreadPinner{}

// New returns the platform thread pinner.
func New() ThreadPinner { return ThreadPinner{} }

// Pin implements api.Affinity.
func (ThreadPinner) Pin(cpuID int) error { return SetAffinity(cpuID) }

// Unpin implements api.Affinity.
func (ThreadPinner) Unpin() error { return ClearAffinity() }
