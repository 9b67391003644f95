// Package trap is the exception/syscall dispatch core, spec.md §4.7.
// biscuit's retrieved slice carries no trap.go (the pack is VM/fd/accnt
// heavy), so this package is grounded on the cannon-mipsevm syscall
// dispatcher's shape (a constant syscall-number table plus a single
// big switch keyed on the emulated CPU's register file) generalised
// to RISC-V's (a0..a6,a7) calling convention, combined with biscuit's
// Err_t-as-negated-errno return convention from package defs. Reading
// the faulting instruction (to compute its length and advance sepc)
// uses golang.org/x/arch/riscv64/riscv64asm, the domain-stack's
// instruction decoder.
package trap

import (
	"golang.org/x/arch/riscv64/riscv64asm"

	"rv39kernel/accnt"
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/signal"
	"rv39kernel/vm"
)

// Cause mirrors the scause CSR's cause-code space spec.md §4.7 names,
// split into interrupt and exception halves the way the real register
// packs them (top bit set => interrupt).
type Cause uint64

const causeInterruptBit = 1 << 63

const (
	CauseInstrPageFault Cause = 12
	CauseLoadPageFault  Cause = 13
	CauseStorePageFault Cause = 15
	CauseUserEcall      Cause = 8
	CauseIllegalInstr   Cause = 2
)

func (c Cause) IsInterrupt() bool { return uint64(c)&causeInterruptBit != 0 }
func (c Cause) Code() Cause       { return Cause(uint64(c) &^ causeInterruptBit) }

// SyscallFn implements one syscall, reading its arguments from the
// trap frame and returning the value to place in a0 (or a negative
// Err_t, per spec.md's calling convention).
type SyscallFn func(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64

// Table maps syscall numbers (the a7 register) to their
// implementation, populated by package cmd/kernel at boot from the
// concrete fd/proc/vm syscalls.
type Table map[uint64]SyscallFn

// Context carries everything Handle needs beyond the faulting thread
// itself: the syscall table, the kernel's shared page table (for
// fork's CopyAsFork), and a clock for accounting.
type Context struct {
	Syscalls Table
	KernelPT *mem.PageTable
	Acct     *accnt.Accnt
}

// Handle is the single entry point every trap (syscall, page fault,
// illegal instruction) funnels through, spec.md §4.7. It returns true
// if the thread should keep running (resume to user mode) and false if
// it has been terminated (doomed) as a result of this trap.
func (c *Context) Handle(t *proc.TaskControlBlock, cause Cause, faultAddr uintptr, instrBytes []byte) bool {
	start := c.Acct.Now()
	defer func() { c.Acct.Finish(start) }()

	if cause.IsInterrupt() {
		return true
	}

	var resume bool
	switch cause.Code() {
	case CauseUserEcall:
		// sepc moves past the ecall before dispatch, so a syscall that
		// installs a whole new frame (rt_sigreturn, execve) keeps the
		// sepc it set.
		c.advancePastEcall(t, instrBytes)
		c.handleSyscall(t)
		resume = true
	case CauseInstrPageFault, CauseLoadPageFault, CauseStorePageFault:
		resume = c.handlePageFault(t, cause, faultAddr)
	case CauseIllegalInstr:
		raiseFatal(t, defs.SIGILL)
		resume = false
	default:
		raiseFatal(t, defs.SIGSEGV)
		resume = false
	}
	if resume && !t.Doomed() {
		const regSP = 1 // x2; Regs[i] holds x(i+1)
		t.DeliverPending(uintptr(t.TrapFrame.Regs[regSP]))
	}
	return resume && !t.Doomed()
}

func (c *Context) handleSyscall(t *proc.TaskControlBlock) {
	tf := &t.TrapFrame
	// RISC-V Linux calling convention: a7=syscall number, a0..a5=args,
	// mapped onto the saved general-register file per spec.md §4.7.
	const (
		regA0 = 9
		regA7 = 16
	)
	num := tf.Regs[regA7]
	fn, ok := c.Syscalls[num]
	if !ok {
		tf.Regs[regA0] = uint64(defs.ENOSYS)
		return
	}
	ret := fn(t, tf.Regs[regA0], tf.Regs[regA0+1], tf.Regs[regA0+2], tf.Regs[regA0+3], tf.Regs[regA0+4], tf.Regs[regA0+5])
	tf.Regs[regA0] = uint64(ret)
}

// advancePastEcall moves sepc past the ecall instruction that trapped,
// decoding it with riscv64asm only to obtain its length (ecall is
// always a 4-byte instruction in the base ISA, but decoding keeps this
// robust to a compressed-extension encoding mistake rather than
// silently assuming 4).
func (c *Context) advancePastEcall(t *proc.TaskControlBlock, instrBytes []byte) {
	length := uint64(4)
	if inst, err := riscv64asm.Decode(instrBytes); err == nil && inst.Len > 0 {
		length = uint64(inst.Len)
	}
	t.TrapFrame.SEPC += length
}

func (c *Context) handlePageFault(t *proc.TaskControlBlock, cause Cause, faultAddr uintptr) bool {
	var access vm.Perm
	switch cause.Code() {
	case CauseLoadPageFault, CauseInstrPageFault:
		access = mem.Read
	case CauseStorePageFault:
		access = mem.Write
	}
	if faultAddr == defs.SignalReturnTrap {
		t.Sigreturn()
		return true
	}
	if err := t.Proc.VM.HandlePageFault(faultAddr, access); err != 0 {
		raiseFatal(t, defs.SIGSEGV)
		return false
	}
	return true
}

func raiseFatal(t *proc.TaskControlBlock, sig defs.Signum) {
	t.Receivers.Raise(sig)
	if signal.Default(sig) != signal.DefaultIgnore {
		t.Kill(defs.Err_t(-int(sig)))
	}
}
