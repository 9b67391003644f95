// Poll-group syscalls: epoll_create1/epoll_ctl/epoll_pwait ride
// directly on vfs.Epoll's existing Add/Modify/Remove/Wait surface;
// ppoll/pselect6 are built on the same File.ReadyToRead/ReadyToWrite
// predicates without an intermediate Epoll set, matching how biscuit's
// retrieved slice has no select/poll equivalent to ground on, so this
// follows spec.md §4.10's readiness-predicate description directly.
package syscalls

import (
	"time"

	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/vfs"
)

const pollPeriod = time.Millisecond

func sysEpollCreate1(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	e := vfs.NewEpoll()
	fdnum, err := t.Proc.Fds.Push(e, 0, 0)
	if err != 0 {
		return errval(err)
	}
	return int64(fdnum)
}

const (
	epollCtlAdd = 1
	epollCtlDel = 2
	epollCtlMod = 3
)

func sysEpollCtl(t *proc.TaskControlBlock, a0, op, targetFd, eventAddr, a4, a5 uint64) int64 {
	ef, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	e, ok := ef.(*vfs.Epoll)
	if !ok {
		return errval(defs.EINVAL)
	}
	switch op {
	case epollCtlDel:
		return errval(e.Remove(int(targetFd)))
	case epollCtlAdd, epollCtlMod:
		var buf [12]byte
		if rerr := t.Proc.VM.Read(uintptr(eventAddr), buf[:], mem.Read); rerr != 0 {
			return errval(rerr)
		}
		mask := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		data := getLE64(buf[4:12])
		target, terr := t.Proc.Fds.GetFile(int(targetFd))
		if terr != 0 {
			return errval(terr)
		}
		if op == epollCtlAdd {
			return errval(e.Add(int(targetFd), target, mask, data))
		}
		return errval(e.Modify(int(targetFd), mask, data))
	default:
		return errval(defs.EINVAL)
	}
}

func encodeEpollEvent(ev vfs.ReadyEvent) []byte {
	buf := make([]byte, 12)
	buf[0] = byte(ev.Events)
	buf[1] = byte(ev.Events >> 8)
	buf[2] = byte(ev.Events >> 16)
	buf[3] = byte(ev.Events >> 24)
	putLE64(buf[4:12], ev.Data)
	return buf
}

func sysEpollPwait(t *proc.TaskControlBlock, a0, eventsAddr, maxEvents, timeoutMs, a4, a5 uint64) int64 {
	ef, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	e, ok := ef.(*vfs.Epoll)
	if !ok {
		return errval(defs.EINVAL)
	}
	deadline := pollDeadline(int64(timeoutMs))
	for {
		ready := e.Wait(int(maxEvents))
		if len(ready) > 0 {
			out := make([]byte, 0, len(ready)*12)
			for _, ev := range ready {
				out = append(out, encodeEpollEvent(ev)...)
			}
			if werr := t.Proc.VM.Write(uintptr(eventsAddr), out, mem.Write); werr != 0 {
				return errval(werr)
			}
			return int64(len(ready))
		}
		if pollExpired(deadline) {
			return 0
		}
		time.Sleep(pollPeriod)
	}
}

// pollDeadline converts a millisecond timeout (as ppoll/epoll_pwait
// pass it, -1 meaning "forever") into an absolute deadline, or the
// zero time for "forever".
func pollDeadline(timeoutMs int64) time.Time {
	if timeoutMs < 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
}

func pollExpired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

const (
	pollin  = 0x0001
	pollout = 0x0004
)

// sysPpoll polls an array of struct pollfd {fd int32; events int16;
// revents int16} (8 bytes each), blocking in pollPeriod increments
// until some fd is ready or the timeout (a timespec, or a NULL pointer
// for "forever") elapses. The signal mask argument is read but not
// applied: this kernel has no per-syscall temporary sigprocmask.
func sysPpoll(t *proc.TaskControlBlock, fdsAddr, nfds, timeoutAddr, sigmaskAddr, a4, a5 uint64) int64 {
	deadline := time.Time{}
	if timeoutAddr != 0 {
		var ts [16]byte
		if err := t.Proc.VM.Read(uintptr(timeoutAddr), ts[:], mem.Read); err != 0 {
			return errval(err)
		}
		sec := getLE64(ts[0:8])
		nsec := getLE64(ts[8:16])
		deadline = time.Now().Add(time.Duration(sec)*time.Second + time.Duration(nsec))
	}
	for {
		n := 0
		out := make([]byte, nfds*8)
		for i := uint64(0); i < nfds; i++ {
			var entry [8]byte
			if err := t.Proc.VM.Read(uintptr(fdsAddr+i*8), entry[:], mem.Read); err != 0 {
				return errval(err)
			}
			fdnum := int32(entry[0]) | int32(entry[1])<<8 | int32(entry[2])<<16 | int32(entry[3])<<24
			events := int16(entry[4]) | int16(entry[5])<<8
			copy(out[i*8:i*8+4], entry[0:4])
			var revents int16
			if f, err := t.Proc.Fds.GetFile(int(fdnum)); err == 0 {
				if events&pollin != 0 && f.ReadyToRead() {
					revents |= pollin
				}
				if events&pollout != 0 && f.ReadyToWrite() {
					revents |= pollout
				}
			}
			if revents != 0 {
				n++
			}
			out[i*8+6] = byte(revents)
			out[i*8+7] = byte(revents >> 8)
		}
		if n > 0 {
			if err := t.Proc.VM.Write(uintptr(fdsAddr), out, mem.Write); err != 0 {
				return errval(err)
			}
			return int64(n)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0
		}
		time.Sleep(pollPeriod)
	}
}

// sysPselect6 implements the fd_set-bitmask variant over readfds only
// (the common case this kernel's scenarios need); writefds/exceptfds
// are left untouched if passed, matching the same "no real signal mask
// swap" simplification as ppoll.
func sysPselect6(t *proc.TaskControlBlock, nfds, readfdsAddr, writefdsAddr, exceptfdsAddr, timeoutAddr, a5 uint64) int64 {
	deadline := time.Time{}
	if timeoutAddr != 0 {
		var ts [16]byte
		if err := t.Proc.VM.Read(uintptr(timeoutAddr), ts[:], mem.Read); err != 0 {
			return errval(err)
		}
		sec := getLE64(ts[0:8])
		nsec := getLE64(ts[8:16])
		deadline = time.Now().Add(time.Duration(sec)*time.Second + time.Duration(nsec))
	}
	words := (nfds + 63) / 64
	for {
		var in, out []uint64
		if readfdsAddr != 0 {
			in = make([]uint64, words)
			buf := make([]byte, words*8)
			if err := t.Proc.VM.Read(uintptr(readfdsAddr), buf, mem.Read); err != 0 {
				return errval(err)
			}
			for i := range in {
				in[i] = getLE64(buf[i*8 : i*8+8])
			}
			out = make([]uint64, words)
		}
		n := 0
		if in != nil {
			for fdnum := uint64(0); fdnum < nfds; fdnum++ {
				if in[fdnum/64]&(1<<(fdnum%64)) == 0 {
					continue
				}
				f, err := t.Proc.Fds.GetFile(int(fdnum))
				if err != 0 || !f.ReadyToRead() {
					continue
				}
				out[fdnum/64] |= 1 << (fdnum % 64)
				n++
			}
		}
		if n > 0 {
			buf := make([]byte, words*8)
			for i, w := range out {
				putLE64(buf[i*8:i*8+8], w)
			}
			if err := t.Proc.VM.Write(uintptr(readfdsAddr), buf, mem.Write); err != 0 {
				return errval(err)
			}
			return int64(n)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0
		}
		time.Sleep(pollPeriod)
	}
}
