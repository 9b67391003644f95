package trap

import (
	"testing"

	"rv39kernel/accnt"
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/vm"
)

func newTestTCB(t *testing.T) *proc.TaskControlBlock {
	t.Helper()
	arena := mem.NewArena(16 * mem.PageSize)
	alloc := mem.NewFrameAllocator(arena)
	alloc.Init([]mem.Region{{Start: 0, End: uintptr(arena.Size())}})
	ms := vm.NewMemorySet(alloc, nil)
	_, tcb, err := proc.NewProcess(defs.NoParent, ms)
	if err != 0 {
		t.Fatalf("NewProcess: %d", err)
	}
	return tcb
}

func TestHandleUnknownSyscallReturnsENOSYS(t *testing.T) {
	tcb := newTestTCB(t)
	const regA7 = 16
	tcb.TrapFrame.Regs[regA7] = 999
	ctx := &Context{Syscalls: Table{}, Acct: &accnt.Accnt{}}

	resumed := ctx.Handle(tcb, CauseUserEcall, 0, nil)
	if !resumed {
		t.Fatalf("unknown syscall should not kill the thread")
	}
	const regA0 = 9
	if defs.Err_t(tcb.TrapFrame.Regs[regA0]) != defs.ENOSYS {
		t.Fatalf("expected ENOSYS in a0, got %d", int64(tcb.TrapFrame.Regs[regA0]))
	}
}

func TestHandleDispatchesRegisteredSyscall(t *testing.T) {
	tcb := newTestTCB(t)
	const regA7, regA0 = 16, 9
	tcb.TrapFrame.Regs[regA7] = 42
	called := false
	ctx := &Context{
		Syscalls: Table{42: func(tt *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
			called = true
			return int64(a0 + 1)
		}},
		Acct: &accnt.Accnt{},
	}
	tcb.TrapFrame.Regs[regA0] = 7

	if !ctx.Handle(tcb, CauseUserEcall, 0, nil) {
		t.Fatalf("expected resume=true")
	}
	if !called {
		t.Fatalf("syscall handler was not invoked")
	}
	if tcb.TrapFrame.Regs[regA0] != 8 {
		t.Fatalf("expected a0=8, got %d", tcb.TrapFrame.Regs[regA0])
	}
}

func TestHandleIllegalInstructionKillsThread(t *testing.T) {
	tcb := newTestTCB(t)
	ctx := &Context{Syscalls: Table{}, Acct: &accnt.Accnt{}}
	if resumed := ctx.Handle(tcb, CauseIllegalInstr, 0, nil); resumed {
		t.Fatalf("illegal instruction should not resume")
	}
	if !tcb.Doomed() {
		t.Fatalf("thread should be doomed after SIGILL with default disposition")
	}
}

func TestCauseInterruptBitRoundtrip(t *testing.T) {
	c := Cause(causeInterruptBit | 5)
	if !c.IsInterrupt() {
		t.Fatalf("expected IsInterrupt true")
	}
	if c.Code() != 5 {
		t.Fatalf("expected code 5, got %d", c.Code())
	}
}
