package proc

import (
	"testing"

	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/vm"
)

func newTestMemorySet(t *testing.T) *vm.MemorySet {
	t.Helper()
	arena := mem.NewArena(64 * mem.PageSize)
	alloc := mem.NewFrameAllocator(arena)
	alloc.Init([]mem.Region{{Start: 0, End: uintptr(arena.Size())}})
	return vm.NewMemorySet(alloc, nil)
}

func TestNewProcessAllocatesDistinctPid(t *testing.T) {
	p1, t1, err := NewProcess(defs.NoParent, newTestMemorySet(t))
	if err != 0 {
		t.Fatalf("NewProcess: %d", err)
	}
	p2, t2, err := NewProcess(defs.NoParent, newTestMemorySet(t))
	if err != 0 {
		t.Fatalf("NewProcess: %d", err)
	}
	if p1.Pid == p2.Pid {
		t.Fatalf("expected distinct pids, got %d twice", p1.Pid)
	}
	if t1.Tid != defs.Tid_t(p1.Pid) || t2.Tid != defs.Tid_t(p2.Pid) {
		t.Fatalf("leader tid must equal process pid")
	}
}

func TestCloneThreadSharesProcess(t *testing.T) {
	p, _, _ := NewProcess(defs.NoParent, newTestMemorySet(t))
	child, err := p.CloneThread()
	if err != 0 {
		t.Fatalf("CloneThread: %d", err)
	}
	if child.Proc != p {
		t.Fatalf("cloned thread should share the same Process")
	}
	if len(p.threads) != 2 {
		t.Fatalf("expected two threads in process, got %d", len(p.threads))
	}
}

func TestExitLastThreadZombifiesProcess(t *testing.T) {
	parent, _, _ := NewProcess(defs.NoParent, newTestMemorySet(t))
	child, childTCB, _ := NewProcess(parent.Pid, newTestMemorySet(t))

	childTCB.Exit(7)

	if child.Status != defs.Zombie {
		t.Fatalf("process should be zombie after its only thread exits, got %v", child.Status)
	}
	select {
	case <-child.waitCh:
	default:
		t.Fatalf("waitCh should be closed once zombie")
	}

	pid, status, err := parent.Wait4(child.Pid)
	if err != 0 {
		t.Fatalf("Wait4: %d", err)
	}
	if pid != child.Pid || status != 7 {
		t.Fatalf("Wait4 returned (%d,%d), want (%d,7)", pid, status, child.Pid)
	}
	if _, ok := LookupProcess(child.Pid); ok {
		t.Fatalf("pid should be freed after reaping")
	}
}

func TestKillMarksDoomed(t *testing.T) {
	_, tcb, _ := NewProcess(defs.NoParent, newTestMemorySet(t))
	if tcb.Doomed() {
		t.Fatalf("freshly created thread should not be doomed")
	}
	tcb.Kill(defs.EINVAL)
	if !tcb.Doomed() || !tcb.Killed() {
		t.Fatalf("Kill should mark doomed and killed")
	}
}
