package vfs

import (
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// Event flags, named after Linux epoll(7), spec.md §4.10.
const (
	EPOLLIN  = 0x001
	EPOLLOUT = 0x004
	EPOLLERR = 0x008
	EPOLLHUP = 0x010
)

type watched struct {
	file fdops.File
	mask uint32
	data uint64
}

// Epoll is a readiness-polling set: a registry of watched files plus
// the interest mask for each, queried by Wait. Grounded on the same
// ReadyToRead/ReadyToWrite/IsHangUp predicates Pipe, Socket, and Stdio
// already implement; biscuit has no epoll equivalent of its own, so
// this shape follows spec.md §4.10 directly.
type Epoll struct {
	fdops.BaseFile
	mu      sync.Mutex
	members map[int]*watched
}

func NewEpoll() *Epoll {
	return &Epoll{members: make(map[int]*watched)}
}

func (e *Epoll) Add(fdnum int, f fdops.File, mask uint32, data uint64) defs.Err_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.members[fdnum]; ok {
		return defs.EEXIST
	}
	e.members[fdnum] = &watched{file: f, mask: mask, data: data}
	return 0
}

func (e *Epoll) Modify(fdnum int, mask uint32, data uint64) defs.Err_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.members[fdnum]
	if !ok {
		return defs.ENOENT
	}
	w.mask, w.data = mask, data
	return 0
}

func (e *Epoll) Remove(fdnum int) defs.Err_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.members[fdnum]; !ok {
		return defs.ENOENT
	}
	delete(e.members, fdnum)
	return 0
}

// ReadyEvent is one entry of a Wait result.
type ReadyEvent struct {
	Fd     int
	Events uint32
	Data   uint64
}

func readiness(w *watched) uint32 {
	var r uint32
	if w.mask&EPOLLIN != 0 && w.file.ReadyToRead() {
		r |= EPOLLIN
	}
	if w.mask&EPOLLOUT != 0 && w.file.ReadyToWrite() {
		r |= EPOLLOUT
	}
	if w.file.IsHangUp() {
		r |= EPOLLHUP
	}
	return r
}

// Wait returns up to max members with a nonzero readiness. It does not
// itself block; the caller (the syscall layer) owns the
// sleep/poll-again loop and timeout bookkeeping, matching how biscuit
// keeps blocking-wait policy out of the device layer.
func (e *Epoll) Wait(max int) []ReadyEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ReadyEvent
	for fdnum, w := range e.members {
		if ev := readiness(w); ev != 0 {
			out = append(out, ReadyEvent{Fd: fdnum, Events: ev, Data: w.data})
			if len(out) == max {
				break
			}
		}
	}
	return out
}

func (e *Epoll) ReadyToRead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.members {
		if readiness(w) != 0 {
			return true
		}
	}
	return false
}

func (e *Epoll) ReadyToWrite() bool { return false }
func (e *Epoll) Reopen() defs.Err_t { return 0 }
func (e *Epoll) Close() defs.Err_t  { return 0 }
