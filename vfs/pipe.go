// Package vfs holds the concrete File implementations spec.md §4.10
// lists: pipes, stdio, loopback sockets, epoll sets, /dev devices, and
// the in-memory FAT-shaped filesystem. Grounded on biscuit's circbuf.Circbuf_t for the
// ring-buffer shape (Copyin/Copyout's wraparound math, reshaped onto
// plain []byte since this module's File.Read/Write already work in
// terms of byte slices rather than biscuit's Userio_i indirection).
package vfs

import (
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// ring is an unsynchronized circular byte buffer, the byte-slice
// analogue of circbuf.Circbuf_t minus its lazy page-backed allocation
// (this simulation has no physical-page pressure to defer against).
type ring struct {
	buf        []byte
	head, tail int // head-tail == bytes used; both monotonic, wrapped by %cap on access
}

func newRing(cap int) *ring { return &ring{buf: make([]byte, cap)} }

func (r *ring) cap() int   { return len(r.buf) }
func (r *ring) used() int  { return r.head - r.tail }
func (r *ring) left() int  { return r.cap() - r.used() }
func (r *ring) full() bool { return r.used() == r.cap() }
func (r *ring) empty() bool { return r.head == r.tail }

// write copies as much of src as fits, returning the count written.
func (r *ring) write(src []byte) int {
	n := len(src)
	if n > r.left() {
		n = r.left()
	}
	for i := 0; i < n; i++ {
		r.buf[(r.head+i)%r.cap()] = src[i]
	}
	r.head += n
	return n
}

// read copies as much of the buffer as fits into dst, returning count.
func (r *ring) read(dst []byte) int {
	n := r.used()
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.tail+i)%r.cap()]
	}
	r.tail += n
	return n
}

const pipeBufSize = 4096

// Pipe is one end of a unidirectional byte stream, spec.md §4.10.
// Both ends share one ring and condition variable.
type Pipe struct {
	fdops.BaseFile
	shared *pipeShared
	isRead bool
}

type pipeShared struct {
	mu         sync.Mutex
	cond       *sync.Cond
	buf        *ring
	readOpen   bool
	writeOpen  bool
}

// NewPipe creates a connected read/write pair, spec.md §4.10 pipe(2).
func NewPipe() (*Pipe, *Pipe) {
	sh := &pipeShared{buf: newRing(pipeBufSize), readOpen: true, writeOpen: true}
	sh.cond = sync.NewCond(&sh.mu)
	return &Pipe{shared: sh, isRead: true}, &Pipe{shared: sh, isRead: false}
}

func (p *Pipe) Read(dst []byte) (int, defs.Err_t) {
	if !p.isRead {
		return 0, defs.EINVAL
	}
	sh := p.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for sh.buf.empty() && sh.writeOpen {
		sh.cond.Wait()
	}
	n := sh.buf.read(dst)
	sh.cond.Broadcast()
	return n, 0
}

func (p *Pipe) Write(src []byte) (int, defs.Err_t) {
	if p.isRead {
		return 0, defs.EINVAL
	}
	sh := p.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.readOpen {
		return 0, defs.EPIPE
	}
	total := 0
	for total < len(src) {
		for sh.buf.full() && sh.readOpen {
			sh.cond.Wait()
		}
		if !sh.readOpen {
			return total, defs.EPIPE
		}
		total += sh.buf.write(src[total:])
		sh.cond.Broadcast()
	}
	return total, 0
}

func (p *Pipe) ReadyToRead() bool {
	sh := p.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return !sh.buf.empty() || !sh.writeOpen
}

func (p *Pipe) ReadyToWrite() bool {
	if p.isRead {
		return false
	}
	sh := p.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return !sh.buf.full() || !sh.readOpen
}

func (p *Pipe) IsHangUp() bool {
	sh := p.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if p.isRead {
		return !sh.writeOpen && sh.buf.empty()
	}
	return !sh.readOpen
}

func (p *Pipe) Reopen() defs.Err_t { return 0 }

func (p *Pipe) Close() defs.Err_t {
	sh := p.shared
	sh.mu.Lock()
	if p.isRead {
		sh.readOpen = false
	} else {
		sh.writeOpen = false
	}
	sh.cond.Broadcast()
	sh.mu.Unlock()
	return 0
}
