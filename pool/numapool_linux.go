//go:build linux
// +build linux

// File: pool/numapool_linux.go
// Author: momentics <momentics@gmail.com>
//
// NUMA allocator factory for Linux: libnuma-backed placement for fiber
// stack buffers.

package pool

// createNUMAAllocator returns the NUMA allocator for Linux.
func createNUMAAllocator() NUMAAllocator {
	return newLinuxNUMAAllocator()
}
