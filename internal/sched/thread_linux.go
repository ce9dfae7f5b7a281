//go:build linux
// +build linux

// File: internal/sched/thread_linux.go
// Author: momentics <momentics@gmail.com>
//
// Worker thread naming for Linux.

package sched

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setThreadName labels the calling OS thread so workers show up as
// "{name}_{index}" in ps/top. The kernel limit is 15 bytes plus NUL;
// longer names are truncated.
func setThreadName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	ptr, err := unix.BytePtrFromString(name)
	if err != nil {
		return
	}
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(ptr)), 0, 0, 0)
}
