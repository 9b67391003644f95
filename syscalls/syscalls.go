// Package syscalls implements the grouped minimum syscall set spec.md
// §6 names (process, memory, fs, time, signal, misc) and builds the
// trap.Table cmd/kernel installs at boot. Grounded on biscuit's own
// per-syscall functions in src/kernel/syscall.go (one Go function per
// syscall number, reading arguments positionally and returning an
// Err_t), generalised onto this module's proc/vm/fd/signal packages.
package syscalls

import (
	"context"
	"time"

	"rv39kernel/accnt"
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/signal"
	"rv39kernel/trap"
	"rv39kernel/vm"
)

// Numbers, named after Linux/RISC-V's syscall table (the subset this
// kernel implements).
const (
	SYS_read    = 63
	SYS_write   = 64
	SYS_close   = 57
	SYS_mmap    = 222
	SYS_munmap  = 215
	SYS_mprotect = 226
	SYS_exit    = 93
	SYS_exit_group = 94
	SYS_clone   = 220
	SYS_wait4   = 260
	SYS_kill    = 129
	SYS_rt_sigaction   = 134
	SYS_rt_sigprocmask = 135
	SYS_rt_sigreturn   = 139
	SYS_getpid  = 172
	SYS_gettid  = 178
	SYS_uname   = 160
	SYS_clock_gettime = 113
	SYS_futex   = 98
	SYS_getrusage = 165
	SYS_prlimit64 = 261

	SYS_getppid         = 173
	SYS_set_tid_address = 96
	SYS_execve          = 221
	SYS_brk             = 214
	SYS_msync           = 227

	SYS_openat    = 56
	SYS_lseek     = 62
	SYS_pipe2     = 59
	SYS_dup       = 23
	SYS_dup3      = 24
	SYS_fstat     = 80
	SYS_fstatat   = 79
	SYS_mkdirat   = 34
	SYS_unlinkat  = 35
	SYS_renameat  = 38
	SYS_getdents64 = 61
	SYS_getcwd    = 17
	SYS_chdir     = 49
	SYS_fcntl     = 25

	SYS_gettimeofday = 169
	SYS_nanosleep    = 101
	SYS_times        = 153
	SYS_setitimer    = 103
	SYS_getitimer    = 102
	SYS_tkill        = 130

	SYS_ppoll         = 73
	SYS_pselect6      = 72
	SYS_epoll_create1 = 20
	SYS_epoll_ctl     = 21
	SYS_epoll_pwait   = 22

	SYS_socket  = 198
	SYS_bind    = 200
	SYS_listen  = 201
	SYS_connect = 203
	SYS_accept4 = 242
	SYS_sendto  = 206
	SYS_recvfrom = 207

	SYS_getuid  = 174
	SYS_geteuid = 175
	SYS_getgid  = 176
	SYS_getegid = 177
)

// RLIMIT_NOFILE is the one resource prlimit64 actually adjusts here,
// mapped onto fd.Table's own soft limit.
const rlimitNofile = 7

// FUTEX_WAIT/FUTEX_WAKE, masked out of a1 the same way Linux strips
// the FUTEX_PRIVATE_FLAG/FUTEX_CLOCK_REALTIME bits before dispatch.
const (
	futexOpMask = 0x7f
	futexWait   = 0
	futexWake   = 1
)

// Build assembles the trap.Table, one entry per syscall this kernel
// implements; unlisted numbers fall through to trap.Handle's built-in
// ENOSYS default. acct is the same accounting object cmd/kernel wires
// into trap.Context — a single kernel-wide Accnt rather than one per
// process (the teacher's own per-thread accounting relies on a
// patched-runtime thread-local lookup this module doesn't reproduce),
// so sys_getrusage reports that shared counter's totals rather than a
// true per-process split. root is the one mounted namespace every
// path-taking syscall (openat, execve, chdir, ...) resolves against.
func Build(kernelPT *mem.PageTable, acct *accnt.Accnt, root *RootFS) trap.Table {
	return trap.Table{
		SYS_read:    sysRead,
		SYS_write:   sysWrite,
		SYS_close:   sysClose,
		SYS_mmap:    sysMmap,
		SYS_munmap:  sysMunmap,
		SYS_mprotect: sysMprotect,
		SYS_exit:    sysExit,
		SYS_exit_group: sysExit,
		SYS_clone:   func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysClone(t, kernelPT, a0, a1, a2, a3, a4, a5)
		},
		SYS_wait4:   sysWait4,
		SYS_kill:    sysKill,
		SYS_rt_sigaction:   sysRtSigaction,
		SYS_rt_sigprocmask: sysRtSigprocmask,
		SYS_rt_sigreturn: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			if err := t.Sigreturn(); err != 0 {
				return int64(err)
			}
			// the dispatcher writes this return value into a0, so hand
			// back the restored frame's own a0.
			const regA0 = 9
			return int64(t.TrapFrame.Regs[regA0])
		},
		SYS_getpid:  sysGetpid,
		SYS_gettid:  sysGettid,
		SYS_uname:   sysUname,
		SYS_clock_gettime: sysClockGettime,
		SYS_futex:   sysFutex,
		SYS_getrusage: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysGetrusage(t, acct, a0, a1, a2, a3, a4, a5)
		},
		SYS_prlimit64: sysPrlimit64,

		SYS_getppid:         sysGetppid,
		SYS_set_tid_address: sysSetTidAddress,
		SYS_execve: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysExecve(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_brk:   sysBrk,
		SYS_msync: sysMsync,

		SYS_openat: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysOpenat(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_lseek: sysLseek,
		SYS_pipe2: sysPipe2,
		SYS_dup:   sysDup,
		SYS_dup3:  sysDup3,
		SYS_fstat: sysFstat,
		SYS_fstatat: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysFstatat(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_mkdirat: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysMkdirat(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_unlinkat: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysUnlinkat(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_renameat: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysRenameat(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_getdents64: sysGetdents64,
		SYS_getcwd:     sysGetcwd,
		SYS_chdir: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysChdir(t, root, a0, a1, a2, a3, a4, a5)
		},
		SYS_fcntl: sysFcntl,

		SYS_gettimeofday: sysGettimeofday,
		SYS_nanosleep:    sysNanosleep,
		SYS_times: func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			return sysTimes(t, acct, a0, a1, a2, a3, a4, a5)
		},
		SYS_setitimer: sysSetitimer,
		SYS_getitimer: sysGetitimer,
		SYS_tkill:     sysTkill,

		SYS_ppoll:         sysPpoll,
		SYS_pselect6:      sysPselect6,
		SYS_epoll_create1: sysEpollCreate1,
		SYS_epoll_ctl:     sysEpollCtl,
		SYS_epoll_pwait:   sysEpollPwait,

		SYS_socket:   sysSocket,
		SYS_bind:     sysBind,
		SYS_listen:   sysListen,
		SYS_connect:  sysConnect,
		SYS_accept4:  sysAccept4,
		SYS_sendto:   sysSendto,
		SYS_recvfrom: sysRecvfrom,

		SYS_getuid:  sysGetuid,
		SYS_geteuid: sysGetuid,
		SYS_getgid:  sysGetuid,
		SYS_getegid: sysGetuid,
	}
}

func errval(e defs.Err_t) int64 { return int64(e) }

func sysRead(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	buf := make([]byte, a2)
	n, rerr := f.Read(buf)
	if rerr != 0 {
		return errval(rerr)
	}
	if werr := t.Proc.VM.Write(uintptr(a1), buf[:n], mem.Write); werr != 0 {
		return errval(werr)
	}
	return int64(n)
}

func sysWrite(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	buf := make([]byte, a2)
	if rerr := t.Proc.VM.Read(uintptr(a1), buf, mem.Read); rerr != 0 {
		return errval(rerr)
	}
	n, werr := f.Write(buf)
	if werr != 0 {
		return errval(werr)
	}
	return int64(n)
}

func sysClose(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.RemoveFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	return errval(f.Close())
}

func sysMmap(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	flags := mem.User | mem.Valid
	if a2&0x1 != 0 {
		flags |= mem.Read
	}
	if a2&0x2 != 0 {
		flags |= mem.Write
	}
	if a2&0x4 != 0 {
		flags |= mem.Exec
	}
	anywhere := a0 == 0
	addr, err := t.Proc.VM.MmapAnon(uintptr(a0), int(a1), flags, anywhere)
	if err != 0 {
		return errval(err)
	}
	return int64(addr)
}

func sysMunmap(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	t.Proc.VM.Munmap(uintptr(a0), uintptr(a0)+uintptr(a1))
	return 0
}

func sysMprotect(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	flags := mem.User | mem.Valid
	if a2&0x1 != 0 {
		flags |= mem.Read
	}
	if a2&0x2 != 0 {
		flags |= mem.Write
	}
	if a2&0x4 != 0 {
		flags |= mem.Exec
	}
	t.Proc.VM.Mprotect(uintptr(a0), uintptr(a0)+uintptr(a1), flags)
	return 0
}

func sysExit(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	t.Exit(int(int32(a0)))
	return 0
}

func sysClone(t *proc.TaskControlBlock, kernelPT *mem.PageTable, a0, a1, a2, a3, a4, a5 uint64) int64 {
	child, err := t.Proc.Clone(int(a0), kernelPT)
	if err != 0 {
		return errval(err)
	}
	return int64(child.Pid)
}

func sysWait4(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	pid, status, err := t.Proc.Wait4(defs.Pid_t(int32(a0)))
	if err != 0 {
		return errval(err)
	}
	if a1 != 0 {
		buf := []byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
		t.Proc.VM.Write(uintptr(a1), buf, mem.Write)
	}
	return int64(pid)
}

func sysKill(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	target, ok := proc.LookupProcess(defs.Pid_t(int32(a0)))
	if !ok {
		return errval(defs.ESRCH)
	}
	sig := defs.Signum(a1)
	threads := target.Threads()
	if len(threads) == 0 {
		return 0
	}
	// a process-directed signal goes to one thread: the first one that
	// does not block it, else the first thread of the group.
	pick := threads[0]
	for _, tt := range threads {
		if sig > 0 && tt.Receivers.Mask()&(1<<uint(sig-1)) == 0 {
			pick = tt
			break
		}
	}
	pick.Receivers.Raise(sig)
	return 0
}

func sysRtSigaction(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	sig := defs.Signum(a0)
	if a1 != 0 {
		var raw [32]byte
		if err := t.Proc.VM.Read(uintptr(a1), raw[:], mem.Read); err != 0 {
			return errval(err)
		}
		act := decodeSigaction(raw[:])
		if err := t.Proc.Handlers.Set(sig, act); err != 0 {
			return errval(err)
		}
	}
	if a2 != 0 {
		old := t.Proc.Handlers.Get(sig)
		t.Proc.VM.Write(uintptr(a2), encodeSigaction(old), mem.Write)
	}
	return 0
}

func sysRtSigprocmask(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	const (
		sigBlock   = 0
		sigUnblock = 1
		sigSetmask = 2
	)
	if a2 != 0 {
		binEncodeMask(t.Proc.VM, uintptr(a2), t.Receivers.Mask())
	}
	if a1 == 0 {
		return 0
	}
	var newMask uint64
	if err := binDecodeMask(t.Proc.VM, uintptr(a1), &newMask); err != 0 {
		return errval(err)
	}
	cur := t.Receivers.Mask()
	switch a0 {
	case sigBlock:
		t.Receivers.SetMask(cur | newMask)
	case sigUnblock:
		t.Receivers.SetMask(cur &^ newMask)
	case sigSetmask:
		t.Receivers.SetMask(newMask)
	default:
		return errval(defs.EINVAL)
	}
	return 0
}

func sysGetpid(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return int64(t.Proc.Pid)
}

func sysGettid(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return int64(t.Tid)
}

func sysClockGettime(t *proc.TaskControlBlock, clockID, tsAddr, a2, a3, a4, a5 uint64) int64 {
	now := time.Now().UnixNano()
	sec := now / 1_000_000_000
	nsec := now % 1_000_000_000
	buf := make([]byte, 16)
	putLE64(buf[0:8], uint64(sec))
	putLE64(buf[8:16], uint64(nsec))
	if err := t.Proc.VM.Write(uintptr(tsAddr), buf, mem.Write); err != 0 {
		return errval(err)
	}
	return 0
}

// sysFutex implements the two operations spec.md's minimal syscall set
// needs (FUTEX_WAIT/FUTEX_WAKE); a timed wait (a timeout pointer in
// a3) is not honoured — every wait blocks until woken, matching the
// out-of-scope status spec.md gives hard real-time behaviour.
func sysFutex(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	switch int(a1) & futexOpMask {
	case futexWait:
		return errval(proc.FutexWait(context.Background(), t, uintptr(a0), uint32(a2)))
	case futexWake:
		return int64(proc.FutexWake(t.Proc.VM, uintptr(a0), int(a2)))
	default:
		return errval(defs.ENOSYS)
	}
}

// sysGetrusage reports the shared kernel-wide Accnt (see Build's doc
// comment) as a struct rusage, RUSAGE_SELF and RUSAGE_CHILDREN both
// reading the same snapshot since per-child accounting isn't split out.
func sysGetrusage(t *proc.TaskControlBlock, acct *accnt.Accnt, who, usageAddr, a2, a3, a4, a5 uint64) int64 {
	if usageAddr == 0 {
		return errval(defs.EFAULT)
	}
	buf := acct.Fetch().ToBytes()
	if err := t.Proc.VM.Write(uintptr(usageAddr), buf, mem.Write); err != 0 {
		return errval(err)
	}
	return 0
}

// sysPrlimit64 supports the one resource this kernel tracks,
// RLIMIT_NOFILE, reading/writing it through fd.Table's own soft limit
// (ModifyLimit/Limit) rather than a separate rlimit table.
func sysPrlimit64(t *proc.TaskControlBlock, pid, resource, newLimitAddr, oldLimitAddr, a4, a5 uint64) int64 {
	if resource != rlimitNofile {
		return errval(defs.EINVAL)
	}
	if oldLimitAddr != 0 {
		cur := t.Proc.Fds.Limit()
		buf := make([]byte, 16)
		putLE64(buf[0:8], uint64(cur))
		putLE64(buf[8:16], uint64(cur))
		if err := t.Proc.VM.Write(uintptr(oldLimitAddr), buf, mem.Write); err != 0 {
			return errval(err)
		}
	}
	if newLimitAddr != 0 {
		var buf [16]byte
		if err := t.Proc.VM.Read(uintptr(newLimitAddr), buf[:], mem.Read); err != 0 {
			return errval(err)
		}
		if err := t.Proc.Fds.ModifyLimit(int(getLE64(buf[0:8]))); err != 0 {
			return errval(err)
		}
	}
	return 0
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getLE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func binEncodeMask(ms *vm.MemorySet, addr uintptr, mask uint64) {
	buf := make([]byte, 8)
	putLE64(buf, mask)
	ms.Write(addr, buf, mem.Write)
}

func binDecodeMask(ms *vm.MemorySet, addr uintptr, out *uint64) defs.Err_t {
	buf := make([]byte, 8)
	if err := ms.Read(addr, buf, mem.Read); err != 0 {
		return err
	}
	*out = getLE64(buf)
	return 0
}

// sigaction wire layout: handler(8) + flags(8) + restorer(8) + mask(8)
// (kept intentionally simple: no sa_mask/sa_flags reordering tricks
// glibc's ABI applies).
func decodeSigaction(raw []byte) signal.Action {
	return signal.Action{
		Handler:  uintptr(getLE64(raw[0:8])),
		Flags:    uint32(getLE64(raw[8:16])),
		Restorer: uintptr(getLE64(raw[16:24])),
		Mask:     getLE64(raw[24:32]),
	}
}

func encodeSigaction(a signal.Action) []byte {
	buf := make([]byte, 32)
	putLE64(buf[0:8], uint64(a.Handler))
	putLE64(buf[8:16], uint64(a.Flags))
	putLE64(buf[16:24], uint64(a.Restorer))
	putLE64(buf[24:32], a.Mask)
	return buf
}
