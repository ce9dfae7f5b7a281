//go:build !linux
// +build !linux

// File: internal/sched/thread_stub.go
// Author: momentics <momentics@gmail.com>
//
// Thread naming stub for platforms without a prctl equivalent.

package sched

func setThreadName(string) {}
