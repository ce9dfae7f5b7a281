//go:build windows
// +build windows

// File: pool/numapool_windows.go
// Author: momentics <momentics@gmail.com>
//
// NUMA allocator factory for Windows: VirtualAllocExNuma-backed
// placement for fiber stack buffers.

package pool

// createNUMAAllocator returns the NUMA allocator for Windows.
func createNUMAAllocator() NUMAAllocator {
	return newWindowsNUMAAllocator()
}
