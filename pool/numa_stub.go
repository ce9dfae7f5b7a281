//go:build !linux && !windows
// +build !linux,!windows

// File: pool/numa_stub.go
// Author: momentics <momentics@gmail.com>
//
// No NUMA allocator on unsupported platforms: the pool factory returns
// nil and NUMAPool silently degrades to plain slices.

package pool

// createNUMAAllocator returns nil for unsupported platforms.
func createNUMAAllocator() NUMAAllocator {
	return nil
}
