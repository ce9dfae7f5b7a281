//go:build linux
// +build linux

// File: internal/ioreactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller. Descriptors are watched edge-triggered; the
// wakeup channel is a self-pipe whose read end is registered non-blocking
// alongside the watched descriptors.

package ioreactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const maxEpollEvents = 256

type epollPoller struct {
	epfd int
	// Self-pipe for cross-thread wakeups: one byte in, drained on wake.
	wakeRead  int
	wakeWrite int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	p := &epollPoller{epfd: epfd, wakeRead: pipeFds[0], wakeWrite: pipeFds[1]}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(p.wakeRead),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wakeRead, &ev); err != nil {
		p.Close()
		return nil, fmt.Errorf("register wake pipe: %w", err)
	}
	return p, nil
}

func toEpoll(events EventType) uint32 {
	var m uint32 = unix.EPOLLET
	if events&Read != 0 {
		m |= unix.EPOLLIN
	}
	if events&Write != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func fromEpoll(m uint32) EventType {
	// Errors and hangups surface as both interests so whoever is parked
	// on the descriptor gets woken to observe the failure.
	if m&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		m |= unix.EPOLLIN | unix.EPOLLOUT
	}
	var ev EventType
	if m&unix.EPOLLIN != 0 {
		ev |= Read
	}
	if m&unix.EPOLLOUT != 0 {
		ev |= Write
	}
	return ev
}

func (p *epollPoller) ctl(op, fd int, events EventType) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *epollPoller) Add(fd int, events EventType) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, events)
}

func (p *epollPoller) Mod(fd int, events EventType) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, events)
}

func (p *epollPoller) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeout time.Duration) ([]pollEvent, error) {
	ms := int(timeout / time.Millisecond)
	var raw [maxEpollEvents]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	events := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakeRead {
			p.drainWakePipe()
			continue
		}
		events = append(events, pollEvent{fd: fd, events: fromEpoll(raw[i].Events)})
	}
	return events, nil
}

// drainWakePipe discards every pending wakeup byte. The read end is
// non-blocking and edge-triggered, so it must be emptied on each wake.
func (p *epollPoller) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeRead, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) Wakeup() error {
	_, err := unix.Write(p.wakeWrite, []byte{'T'})
	if err == unix.EAGAIN {
		// Pipe full means a wakeup is already pending.
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	err := unix.Close(p.epfd)
	unix.Close(p.wakeRead)
	unix.Close(p.wakeWrite)
	return err
}
