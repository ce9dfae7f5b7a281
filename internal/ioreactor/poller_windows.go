//go:build windows
// +build windows

// File: internal/ioreactor/poller_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows IOCP shim. IOCP is a completion queue, not a readiness queue,
// so this backend approximates: a handle associated with the port reports
// its full registered interest mask whenever a completion arrives for it.
// Wakeups are posted completions with a reserved key.

package ioreactor

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// wakeKey marks completions posted by Wakeup rather than by the OS.
const wakeKey = ^uintptr(0)

type iocpPoller struct {
	iocp windows.Handle

	mu        sync.Mutex
	interests map[int]EventType
}

func newPoller() (poller, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("iocp create: %w", err)
	}
	return &iocpPoller{
		iocp:      port,
		interests: make(map[int]EventType),
	}, nil
}

func (p *iocpPoller) Add(fd int, events EventType) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), p.iocp, uintptr(fd), 0)
	if err != nil {
		return fmt.Errorf("iocp associate: %w", err)
	}
	p.mu.Lock()
	p.interests[fd] = events
	p.mu.Unlock()
	return nil
}

func (p *iocpPoller) Mod(fd int, events EventType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interests[fd]; !ok {
		return fmt.Errorf("iocp mod: handle %d not associated", fd)
	}
	p.interests[fd] = events
	return nil
}

func (p *iocpPoller) Del(fd int) error {
	// Handles cannot be dissociated from a completion port; dropping the
	// interest entry makes any late completion report no events.
	p.mu.Lock()
	delete(p.interests, fd)
	p.mu.Unlock()
	return nil
}

func (p *iocpPoller) Wait(timeout time.Duration) ([]pollEvent, error) {
	ms := uint32(timeout / time.Millisecond)

	var qty uint32
	var key uintptr
	var ov *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(p.iocp, &qty, &key, &ov, ms)
	if err != nil {
		if err == syscall.Errno(syscall.WAIT_TIMEOUT) {
			return nil, nil
		}
		return nil, fmt.Errorf("iocp wait: %w", err)
	}
	if key == wakeKey {
		return nil, nil
	}

	fd := int(key)
	p.mu.Lock()
	events := p.interests[fd]
	p.mu.Unlock()
	if events == None {
		return nil, nil
	}
	return []pollEvent{{fd: fd, events: events}}, nil
}

func (p *iocpPoller) Wakeup() error {
	return windows.PostQueuedCompletionStatus(p.iocp, 0, wakeKey, nil)
}

func (p *iocpPoller) Close() error {
	return windows.CloseHandle(p.iocp)
}
