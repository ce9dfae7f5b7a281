//go:build windows
// +build windows

// File: pool/numa_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows NUMA allocator over VirtualAllocExNuma.

package pool

import (
	"errors"
	"syscall"
	"unsafe"
)

const (
	memCommit     = 0x00001000
	memReserve    = 0x00002000
	memRelease    = 0x8000
	pageReadWrite = 0x04
)

var (
	poolKernel32           = syscall.NewLazyDLL("kernel32.dll")
	procVirtualAllocExNuma = poolKernel32.NewProc("VirtualAllocExNuma")
	procVirtualFree        = poolKernel32.NewProc("VirtualFree")
	procCurrentProcess     = poolKernel32.NewProc("GetCurrentProcess")
)

// windowsNUMAAllocator allocates buffers on a requested NUMA node.
type windowsNUMAAllocator struct{}

func newWindowsNUMAAllocator() NUMAAllocator {
	return &windowsNUMAAllocator{}
}

// Alloc commits size bytes of node-preferred memory.
func (w *windowsNUMAAllocator) Alloc(size int, node int) ([]byte, error) {
	hProc, _, _ := procCurrentProcess.Call()
	ptr, _, err := procVirtualAllocExNuma.Call(
		hProc,
		0,
		uintptr(size),
		uintptr(memReserve|memCommit),
		uintptr(pageReadWrite),
		uintptr(node),
	)
	if ptr == 0 {
		return nil, errors.New("VirtualAllocExNuma failed: " + err.Error())
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size), nil
}

// Free releases a buffer previously returned by Alloc.
func (w *windowsNUMAAllocator) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	procVirtualFree.Call(addr, 0, uintptr(memRelease))
}

// Nodes is a placeholder: node discovery is not wired on Windows, a
// single node is assumed.
func (w *windowsNUMAAllocator) Nodes() (int, error) {
	return 1, nil
}
