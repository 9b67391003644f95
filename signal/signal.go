// Package signal implements signal disposition and delivery, spec.md
// §4.9. It is new relative to the teacher — biscuit's retrieved slice
// carries no signal subsystem — so this package is grounded on
// biscuit's own locking idiom (klock.Spin/RW-style explicit-mutex
// structs) and the POSIX semantics spec.md §4.9 specifies directly,
// in the same plain-struct-plus-sync.Mutex shape the rest of this
// module's state carries (tinfo.Tnote_t, fd.Table).
package signal

import (
	"sync"

	"rv39kernel/defs"
)

// Action is one entry of a sigaction table: either SIG_DFL, SIG_IGN,
// or a user handler address plus flags/mask, spec.md §4.9.
type Action struct {
	Handler  uintptr
	Restorer uintptr // valid iff Flags&defs.SA_RESTORER != 0
	Flags    uint32
	Mask     uint64
}

func bit(sig defs.Signum) uint64 { return 1 << uint(sig-1) }

// Handlers is the per-process-shared sigaction table spec.md §4.9
// requires be shared across CLONE_SIGHAND threads.
type Handlers struct {
	mu      sync.Mutex
	actions [32]Action // index 0 unused, signals are 1-based
}

func NewSignalHandlers() *Handlers {
	return &Handlers{}
}

// Clone deep-copies the table, used when clone(2) lacks CLONE_SIGHAND.
func (h *Handlers) Clone() *Handlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := &Handlers{}
	out.actions = h.actions
	return out
}

func (h *Handlers) Get(sig defs.Signum) Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actions[sig]
}

func (h *Handlers) Set(sig defs.Signum, a Action) defs.Err_t {
	if sig == defs.SIGKILL || sig == defs.SIGSTOP {
		return defs.EINVAL
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions[sig] = a
	return 0
}

// ResetOnExec restores every handler that isn't SIG_IGN to SIG_DFL, the
// execve rule of spec.md §4.8/§4.9 (ignored dispositions survive exec,
// everything else resets — the inverse of fork, which preserves all
// dispositions verbatim).
func (h *Handlers) ResetOnExec() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.actions {
		if h.actions[i].Handler != defs.SIG_IGN {
			h.actions[i] = Action{}
		}
	}
}

// Receivers is the per-thread pending/blocked signal state, spec.md
// §4.9: each thread has its own mask and its own pending set (process-
// directed signals are delivered to exactly one thread that doesn't
// block them).
type Receivers struct {
	mu      sync.Mutex
	pending uint64
	blocked uint64
	// savedMask/inHandler track the one nested signal frame this
	// simulation supports; spec.md §4.9 only requires single-level
	// delivery (no real recursive trap stack), matching the non-goal
	// that excludes nested real-time signal queues.
	savedMask uint64
	inHandler bool
}

func NewSignalReceivers() *Receivers {
	return &Receivers{}
}

// Raise marks sig pending for this thread.
func (r *Receivers) Raise(sig defs.Signum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending |= bit(sig)
}

// SetMask installs a new blocked-signal mask, per sigprocmask(2);
// SIGKILL/SIGSTOP can never be blocked.
func (r *Receivers) SetMask(mask uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = mask &^ (bit(defs.SIGKILL) | bit(defs.SIGSTOP))
}

func (r *Receivers) Mask() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked
}

// Pending reports the pending-and-unblocked set, i.e. what's
// deliverable right now.
func (r *Receivers) Pending() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending &^ r.blocked
}

// Next picks the lowest-numbered deliverable signal and clears it from
// pending, or ok=false if none is deliverable.
func (r *Receivers) Next() (defs.Signum, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deliverable := r.pending &^ r.blocked
	if deliverable == 0 {
		return 0, false
	}
	for s := defs.Signum(1); s <= defs.SIGSYS; s++ {
		if deliverable&bit(s) != 0 {
			r.pending &^= bit(s)
			return s, true
		}
	}
	return 0, false
}

// EnterHandler records the mask to restore on sigreturn and applies
// the handler's own mask plus, absent SA_NODEFER, the delivered signal
// itself, per spec.md §4.9. This type has no handler stack, so the
// caller (proc.TaskControlBlock.DeliverPending) checks InHandler first
// and never calls EnterHandler twice: a SIGSEGV/SIGBUS arriving inside
// a handler terminates the thread, any other signal stays pending.
func (r *Receivers) EnterHandler(a Action, sig defs.Signum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedMask = r.blocked
	newMask := r.blocked | a.Mask
	if a.Flags&defs.SA_NODEFER == 0 {
		newMask |= bit(sig)
	}
	r.blocked = newMask &^ (bit(defs.SIGKILL) | bit(defs.SIGSTOP))
	r.inHandler = true
}

// InHandler reports whether a handler is currently active for this
// thread (used to detect the double-fault condition spec.md §4.9
// names: a SIGSEGV/SIGBUS arriving before sigreturn).
func (r *Receivers) InHandler() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inHandler
}

// LeaveHandler restores the pre-handler mask on sigreturn.
func (r *Receivers) LeaveHandler() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inHandler = false
	saved := r.savedMask
	r.blocked = saved
	return saved
}

// DefaultAction describes what happens to a process when a signal
// with disposition SIG_DFL arrives, spec.md §4.9's default-action
// table.
type DefaultAction int

const (
	DefaultTerminate DefaultAction = iota
	DefaultIgnore
	DefaultCoreDump
	DefaultStop
	DefaultContinue
)

// Default returns sig's POSIX default action.
func Default(sig defs.Signum) DefaultAction {
	switch sig {
	case defs.SIGCHLD, defs.SIGURG, defs.SIGWINCH:
		return DefaultIgnore
	case defs.SIGSTOP, defs.SIGTSTP, defs.SIGTTIN, defs.SIGTTOU:
		return DefaultStop
	case defs.SIGCONT:
		return DefaultContinue
	case defs.SIGQUIT, defs.SIGILL, defs.SIGABRT, defs.SIGFPE, defs.SIGSEGV, defs.SIGBUS, defs.SIGTRAP, defs.SIGSYS:
		return DefaultCoreDump
	default:
		return DefaultTerminate
	}
}
