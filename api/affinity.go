// Package api
// Author: momentics@gmail.com
//
// CPU affinity contract for scheduler worker threads.

package api

// Affinity pins the calling OS thread to a logical CPU. Workers lock
// their goroutine to a thread before pinning, so a pin holds for the
// worker's whole lifetime.
type Affinity interface {
	// Pin restricts the calling thread to cpuID.
	Pin(cpuID int) error
	// Unpin restores the thread's full CPU mask.
	Unpin() error
}
