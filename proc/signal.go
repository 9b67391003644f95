// Signal delivery glue: package signal owns the pure disposition/mask
// bookkeeping (Handlers, Receivers), this file owns the mechanism that
// actually redirects a thread's trap frame into a handler and back,
// since that needs TaskControlBlock/TrapFrame, both defined here in
// package proc. Grounded on spec.md §4.9's delivery algorithm.
package proc

import (
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/signal"
)

// signalFrameSize is the space reserved on the user stack below the
// interrupted sp, sized for a trap frame plus one word. The trap frame
// itself is saved in the TCB (savedFrame), not written to this space.
const signalFrameSize = (31+2)*8 + 8

// sigInfoSize/machineContextSize reserve the siginfo_t and
// ucontext_t/mcontext_t regions an SA_SIGINFO handler expects its a1/a2
// arguments to point at, per spec.md §4.9 step 4. This kernel tracks no
// real siginfo fields beyond the signal number and no real saved FP/
// vector state, so both regions are mostly zeroed padding; what matters
// is that the addresses are reserved and distinct, not their contents.
const (
	sigInfoSize        = 32
	machineContextSize = 64
)

// DeliverPending checks t's pending-and-unblocked signals and, if one
// is deliverable, redirects its trap frame into the handler, per
// spec.md §4.9. Returns true if a signal was delivered.
func (t *TaskControlBlock) DeliverPending(userSP uintptr) bool {
	sig, ok := t.Receivers.Next()
	if !ok {
		return false
	}
	action := t.Proc.Handlers.Get(sig)

	switch action.Handler {
	case defs.SIG_IGN:
		return true
	case defs.SIG_DFL:
		t.applyDefault(sig)
		return true
	}

	if t.Receivers.InHandler() {
		if sig != defs.SIGSEGV && sig != defs.SIGBUS {
			// only one frame can be saved: sig stays pending until
			// sigreturn restores the interrupted context.
			t.Receivers.Raise(sig)
			return false
		}
		// double fault: SIGSEGV/SIGBUS while already inside a handler
		// with no nested-frame support kills the thread instead of
		// corrupting the saved frame.
		t.Kill(defs.Err_t(-int(sig)))
		return true
	}

	// Save the current trap frame in the TCB, reserve space below the
	// stack pointer, point ra at the return path, and redirect execution.
	sp := userSP - signalFrameSize
	saved := t.TrapFrame
	t.Receivers.EnterHandler(action, sig)

	retAddr := uint64(defs.SignalReturnTrap)
	if action.Flags&defs.SA_RESTORER != 0 {
		retAddr = uint64(action.Restorer)
	}

	t.savedFrame = &saved
	t.savedFrameSig = sig

	// Regs[i] holds x(i+1): ra=x1, sp=x2, a0..a2=x10..x12.
	const regRA = 0
	const regSP = 1
	const regA0 = 9
	const regA1 = 10
	const regA2 = 11

	t.TrapFrame.Regs[regRA] = retAddr
	t.TrapFrame.Regs[regA0] = uint64(sig)

	if action.Flags&defs.SA_SIGINFO != 0 {
		// SA_SIGINFO handlers take (signo, siginfo*, ucontext*): carve
		// siginfo_t and ucontext_t out of the stack below the saved
		// frame and point a1/a2 at them.
		sp -= sigInfoSize
		siginfoAddr := sp
		sp -= machineContextSize
		ucontextAddr := sp

		if t.Proc.VM != nil {
			info := make([]byte, sigInfoSize)
			putLE32(info[0:4], uint32(sig))
			t.Proc.VM.Write(siginfoAddr, info, mem.Write)
			t.Proc.VM.Write(ucontextAddr, make([]byte, machineContextSize), mem.Write)
		}

		t.TrapFrame.Regs[regA1] = uint64(siginfoAddr)
		t.TrapFrame.Regs[regA2] = uint64(ucontextAddr)
	}

	if action.Flags&defs.SA_RESETHAND != 0 {
		t.Proc.Handlers.Set(sig, signal.Action{})
	}

	t.TrapFrame.Regs[regSP] = uint64(sp)
	t.TrapFrame.SEPC = uint64(action.Handler)
	return true
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// applyDefault executes sig's POSIX default action against t's
// process, per spec.md §4.9's default-action table.
func (t *TaskControlBlock) applyDefault(sig defs.Signum) {
	switch signal.Default(sig) {
	case signal.DefaultIgnore:
	case signal.DefaultContinue:
		t.mu.Lock()
		t.Status = defs.Ready
		t.mu.Unlock()
	case signal.DefaultStop:
		t.mu.Lock()
		t.Status = defs.Dying // no separate "stopped" state is modelled
		t.mu.Unlock()
	case signal.DefaultTerminate, signal.DefaultCoreDump:
		t.Kill(defs.Err_t(-int(sig)))
	}
}

// Sigreturn restores the trap frame saved by the most recent
// DeliverPending call and the signal mask active before it, per
// spec.md §4.9's rt_sigreturn(2).
func (t *TaskControlBlock) Sigreturn() defs.Err_t {
	if t.savedFrame == nil {
		return defs.EINVAL
	}
	t.TrapFrame = *t.savedFrame
	t.savedFrame = nil
	t.Receivers.LeaveHandler()
	return 0
}
