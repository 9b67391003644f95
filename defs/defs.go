// Package defs holds the identifiers, error codes, and wire constants
// shared by every kernel subsystem. It is the rough equivalent of
// biscuit's own "defs" package: small, dependency-light, imported by
// everything else.
package defs

import "golang.org/x/sys/unix"

// Pid_t and Tid_t are distinct dense integer namespaces. A pid equals
// the tid of its thread-group leader.
type Pid_t int32
type Tid_t int32

// NoParent marks a detached TCB (spec.md §3 invariant 3).
const NoParent Pid_t = 0

// Err_t is a negated-errno result, exactly as biscuit's own Err_t:
// zero means success, a negative value names a failure. Kernel-internal
// plumbing that cannot fail at the syscall boundary panics instead of
// returning an Err_t.
type Err_t int

// Errno converts a negative Err_t into the standard library/unix errno
// it names. Callers at the syscall boundary use this to build the
// value written back into a0.
func (e Err_t) Errno() unix.Errno {
	if e >= 0 {
		return 0
	}
	return unix.Errno(-e)
}

// The errno values the core dispatches, named the way spec.md §6 does.
// Each is the negation of the real Linux errno so that an Err_t can be
// cast straight to a syscall return value.
var (
	EPERM    = Err_t(-int(unix.EPERM))
	ENOENT   = Err_t(-int(unix.ENOENT))
	ESRCH    = Err_t(-int(unix.ESRCH))
	EBADF    = Err_t(-int(unix.EBADF))
	EAGAIN   = Err_t(-int(unix.EAGAIN))
	ENOMEM   = Err_t(-int(unix.ENOMEM))
	EFAULT   = Err_t(-int(unix.EFAULT))
	EBUSY    = Err_t(-int(unix.EBUSY))
	EEXIST   = Err_t(-int(unix.EEXIST))
	ENOTDIR  = Err_t(-int(unix.ENOTDIR))
	EISDIR   = Err_t(-int(unix.EISDIR))
	EINVAL   = Err_t(-int(unix.EINVAL))
	EMFILE   = Err_t(-int(unix.EMFILE))
	ENOSPC   = Err_t(-int(unix.ENOSPC))
	ERANGE   = Err_t(-int(unix.ERANGE))
	ENOSYS   = Err_t(-int(unix.ENOSYS))
	ENOTEMPTY = Err_t(-int(unix.ENOTEMPTY))
	ENAMETOOLONG = Err_t(-int(unix.ENAMETOOLONG))
	ECHILD   = Err_t(-int(unix.ECHILD))
	EPIPE    = Err_t(-int(unix.EPIPE))
	EIO      = Err_t(-int(unix.EIO))
	ENOTSOCK = Err_t(-int(unix.ENOTSOCK))
	ECONNREFUSED = Err_t(-int(unix.ECONNREFUSED))
	ENOEXEC  = Err_t(-int(unix.ENOEXEC))
	EINTR    = Err_t(-int(unix.EINTR))
	// ENOHEAP has no direct Linux analogue; biscuit uses it internally
	// when the "reservation" accounting in package res runs dry. We
	// keep the name and map it onto ENOMEM on the wire.
	ENOHEAP = Err_t(-int(unix.ENOMEM))
)

// Signal numbers, POSIX ordering, spec.md §4.9.
type Signum int

const (
	SIGHUP    Signum = 1
	SIGINT    Signum = 2
	SIGQUIT   Signum = 3
	SIGILL    Signum = 4
	SIGTRAP   Signum = 5
	SIGABRT   Signum = 6
	SIGBUS    Signum = 7
	SIGFPE    Signum = 8
	SIGKILL   Signum = 9
	SIGUSR1   Signum = 10
	SIGSEGV   Signum = 11
	SIGUSR2   Signum = 12
	SIGPIPE   Signum = 13
	SIGALRM   Signum = 14
	SIGTERM   Signum = 15
	SIGSTKFLT Signum = 16
	SIGCHLD   Signum = 17
	SIGCONT   Signum = 18
	SIGSTOP   Signum = 19
	SIGTSTP   Signum = 20
	SIGTTIN   Signum = 21
	SIGTTOU   Signum = 22
	SIGURG    Signum = 23
	SIGXCPU   Signum = 24
	SIGXFSZ   Signum = 25
	SIGVTALRM Signum = 26
	SIGPROF   Signum = 27
	SIGWINCH  Signum = 28
	SIGIO     Signum = 29
	SIGPWR    Signum = 30
	SIGSYS    Signum = 31
)

// SigAction flags, spec.md §4.9.
const (
	SA_NOCLDSTOP = 1 << 0
	SA_NOCLDWAIT = 1 << 1
	SA_SIGINFO   = 1 << 2
	SA_ONSTACK   = 1 << 27
	SA_RESTART   = 1 << 28
	SA_NODEFER   = 1 << 30
	SA_RESETHAND = 1 << 31
	SA_RESTORER  = 1 << 26
)

// Special handler values (spec.md §4.9).
const (
	SIG_DFL uintptr = 0
	SIG_IGN uintptr = 1
)

// SignalReturnTrap is the sentinel fault address used as the default
// signal-return address when a handler does not supply SA_RESTORER:
// a return into this "address" is recognised by the trap handler as a
// request to run sigreturn rather than a genuine page fault.
const SignalReturnTrap uintptr = 0xffffffffffff0000

// Clone flags (the subset the core interprets), named after Linux.
const (
	CLONE_VM      = 0x00000100
	CLONE_FS      = 0x00000200
	CLONE_FILES   = 0x00000400
	CLONE_SIGHAND = 0x00000800
	CLONE_THREAD  = 0x00010000
	CLONE_SETTLS  = 0x00080000
	CLONE_PARENT_SETTID = 0x00100000
	CLONE_CHILD_CLEARTID = 0x00200000
	CLONE_CHILD_SETTID   = 0x01000000
)

// TaskStatus is the state of a TaskControlBlock, spec.md §3.
type TaskStatus int

const (
	UnInit TaskStatus = iota
	Ready
	Running
	Dying
	Zombie
)

func (s TaskStatus) String() string {
	switch s {
	case UnInit:
		return "uninit"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Dying:
		return "dying"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Capacity limits, spec.md §3.
const (
	MaxPid = 4096
	MaxTid = 4096
	MaxFd  = 256
)
