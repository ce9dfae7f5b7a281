//go:build !linux && !windows
// +build !linux,!windows

// File: internal/ioreactor/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without a supported readiness backend.

package ioreactor

import "errors"

func newPoller() (poller, error) {
	return nil, errors.New("ioreactor: this platform is not supported")
}
