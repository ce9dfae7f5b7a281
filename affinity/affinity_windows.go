//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows thread affinity via SetThreadAffinityMask.

package affinity

import (
	"syscall"
	"unsafe"
)

var (
	kernel32                   = syscall.NewLazyDLL("kernel32.dll")
	procSetThreadAffinityMask  = kernel32.NewProc("SetThreadAffinityMask")
	procGetCurrentThread       = kernel32.NewProc("GetCurrentThread")
	procGetCurrentProcess      = kernel32.NewProc("GetCurrentProcess")
	procGetProcessAffinityMask = kernel32.NewProc("GetProcessAffinityMask")
)

func setThreadMask(mask uintptr) error {
	hThread, _, _ := procGetCurrentThread.Call()
	ret, _, err := procSetThreadAffinityMask.Call(hThread, mask)
	if ret == 0 {
		return err
	}
	return nil
}

// setAffinityPlatform sets thread affinity to a given CPU for Windows.
func setAffinityPlatform(cpuID int) error {
	return setThreadMask(uintptr(1) << cpuID)
}

// clearAffinityPlatform widens the thread mask back to the process mask.
func clearAffinityPlatform() error {
	hProcess, _, _ := procGetCurrentProcess.Call()
	var processMask, systemMask uintptr
	ret, _, err := procGetProcessAffinityMask.Call(
		hProcess,
		uintptr(unsafe.Pointer(&processMask)),
		uintptr(unsafe.Pointer(&systemMask)),
	)
	if ret == 0 {
		return err
	}
	return setThreadMask(processMask)
}
