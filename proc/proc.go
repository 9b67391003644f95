// Package proc implements the process/thread model spec.md §3
// describes: TaskControlBlocks, the pid/tid namespaces, and the
// clone/execve/exit/wait4 family. Grounded on biscuit's tinfo.Tnote_t
// (per-thread liveness/kill state) and fd.Fd_t (descriptor duplication),
// but reshaped around an explicit *TaskControlBlock passed through call
// arguments instead of tinfo's goroutine-local Current()/SetCurrent(),
// since that trick relies on biscuit's patched runtime.Gptr/Setgptr and
// plain Go offers no equivalent.
package proc

import (
	"runtime"
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fd"
	"rv39kernel/mem"
	"rv39kernel/signal"
	"rv39kernel/vm"
)

// pidTable and tidTable are the two dense-integer namespaces spec.md §3
// requires (MaxPid/MaxTid), analogous to biscuit's own small fixed
// arrays of outstanding processes.
var (
	pidMu    sync.Mutex
	pidAlloc = defs.NewBitmap(defs.MaxPid)
	pidTable = make(map[defs.Pid_t]*Process)

	tidMu    sync.Mutex
	tidAlloc = defs.NewBitmap(defs.MaxTid)
	tidTable = make(map[defs.Tid_t]*TaskControlBlock)
)

func allocPid() (defs.Pid_t, bool) {
	pidMu.Lock()
	defer pidMu.Unlock()
	i, ok := pidAlloc.Alloc()
	if !ok {
		return 0, false
	}
	return defs.Pid_t(i), true
}

func freePid(p defs.Pid_t) {
	pidMu.Lock()
	defer pidMu.Unlock()
	pidAlloc.Free(int(p))
	delete(pidTable, p)
}

func allocTid() (defs.Tid_t, bool) {
	tidMu.Lock()
	defer tidMu.Unlock()
	i, ok := tidAlloc.Alloc()
	if !ok {
		return 0, false
	}
	return defs.Tid_t(i), true
}

func freeTid(t defs.Tid_t) {
	tidMu.Lock()
	defer tidMu.Unlock()
	tidAlloc.Free(int(t))
	delete(tidTable, t)
}

// LookupTCB finds a live thread by tid.
func LookupTCB(tid defs.Tid_t) (*TaskControlBlock, bool) {
	tidMu.Lock()
	defer tidMu.Unlock()
	t, ok := tidTable[tid]
	return t, ok
}

// LookupProcess finds a live process by pid.
func LookupProcess(pid defs.Pid_t) (*Process, bool) {
	pidMu.Lock()
	defer pidMu.Unlock()
	p, ok := pidTable[pid]
	return p, ok
}

// Process is the thread-group-wide shared state, spec.md §3: one
// MemorySet, one descriptor Table, one SignalHandlers table, shared by
// every TaskControlBlock in the group. A process's Pid equals the tid
// of its thread-group leader.
type Process struct {
	mu sync.Mutex

	Pid    defs.Pid_t
	Ppid   defs.Pid_t
	VM     *vm.MemorySet
	Fds    *fd.Table
	Status defs.TaskStatus

	Handlers *signal.Handlers

	threads    map[defs.Tid_t]*TaskControlBlock
	children   map[defs.Pid_t]*Process
	exitStatus int
	waitCh     chan struct{} // closed when this process becomes a zombie

	sendSigchldWhenExit bool

	cwdMu sync.Mutex
	cwd   string
	brk   uintptr // current program break, 0 until the first brk(2) call establishes the heap's base
}

// Cwd returns the process's current working directory, "/" until
// chdir(2) changes it (spec.md §3 carries no real mount namespace, so
// this is just the string getcwd/chdir agree on).
func (p *Process) Cwd() string {
	p.cwdMu.Lock()
	defer p.cwdMu.Unlock()
	if p.cwd == "" {
		return "/"
	}
	return p.cwd
}

// SetCwd installs a new working directory string, chdir(2)'s effect.
func (p *Process) SetCwd(dir string) {
	p.cwdMu.Lock()
	p.cwd = dir
	p.cwdMu.Unlock()
}

// Brk returns the current program break, and SetBrk installs a new
// one; brk(2) reads the former with addr==0 and writes the latter
// otherwise. The kernel never validates the break against the heap
// area's actual mapped extent here (see syscalls.sysBrk), mirroring
// biscuit's own Fork_t.(*Vmregion).brk treatment of the break as an
// address the process promises to grow.
func (p *Process) Brk() uintptr {
	p.cwdMu.Lock()
	defer p.cwdMu.Unlock()
	return p.brk
}

func (p *Process) SetBrk(addr uintptr) {
	p.cwdMu.Lock()
	p.brk = addr
	p.cwdMu.Unlock()
}

// TaskControlBlock is one schedulable thread, spec.md §3. Inner
// mutable fields live under mu to match the lock-ordering invariant
// TCB.inner -> MemorySet -> FdManager -> SignalHandlers -> SignalReceivers.
type TaskControlBlock struct {
	mu sync.Mutex

	Tid  defs.Tid_t
	Proc *Process

	Status defs.TaskStatus

	Receivers *signal.Receivers

	KernelStack []byte // simulated kernel stack storage for this thread
	TrapFrame   TrapFrame

	savedFrame    *TrapFrame
	savedFrameSig defs.Signum

	killed  bool
	doomed  bool
	exitErr defs.Err_t

	// ClearChildTid is the address set_tid_address(2) installs; Exit
	// zeroes the word there and futex-wakes it on final thread exit
	// (CLONE_CHILD_CLEARTID's effect).
	ClearChildTid uintptr
}

// TrapFrame holds the saved user register file, spec.md §4.7. Field
// count intentionally mirrors a RISC-V trap frame: 31 general
// registers plus sepc/sstatus; exact layout is owned by package trap,
// this is the storage shape proc and trap agree on.
type TrapFrame struct {
	Regs   [31]uint64
	SEPC   uint64
	SStatus uint64
}

const kernelStackSize = 4096 * 4

// NewProcess creates a brand new thread group with a freshly allocated
// pid (equal to the leader thread's tid), an empty address space and
// descriptor table, and a single leader thread, per spec.md §3.
func NewProcess(parent defs.Pid_t, ms *vm.MemorySet) (*Process, *TaskControlBlock, defs.Err_t) {
	tid, ok := allocTid()
	if !ok {
		return nil, nil, defs.EAGAIN
	}
	p := &Process{
		Pid:      defs.Pid_t(tid),
		Ppid:     parent,
		VM:       ms,
		Fds:      fd.NewTable(),
		Status:   defs.Ready,
		Handlers: signal.NewSignalHandlers(),
		threads:  make(map[defs.Tid_t]*TaskControlBlock),
		children: make(map[defs.Pid_t]*Process),
		waitCh:   make(chan struct{}),
	}
	pidMu.Lock()
	pidAlloc.Mark(int(tid))
	pidTable[p.Pid] = p
	pidMu.Unlock()

	t := &TaskControlBlock{
		Tid:         tid,
		Proc:        p,
		Status:      defs.Ready,
		Receivers:   signal.NewSignalReceivers(),
		KernelStack: make([]byte, kernelStackSize),
	}
	p.threads[tid] = t
	tidMu.Lock()
	tidTable[tid] = t
	tidMu.Unlock()

	if parent != defs.NoParent {
		if pp, ok := LookupProcess(parent); ok {
			pp.mu.Lock()
			pp.children[p.Pid] = p
			pp.mu.Unlock()
		}
	}
	return p, t, 0
}

// CloneThread adds a new thread to an existing thread group (the
// CLONE_THREAD path of clone(2)), sharing p's VM/Fds/Handlers.
func (p *Process) CloneThread() (*TaskControlBlock, defs.Err_t) {
	tid, ok := allocTid()
	if !ok {
		return nil, defs.EAGAIN
	}
	t := &TaskControlBlock{
		Tid:         tid,
		Proc:        p,
		Status:      defs.Ready,
		Receivers:   signal.NewSignalReceivers(),
		KernelStack: make([]byte, kernelStackSize),
	}
	p.mu.Lock()
	p.threads[tid] = t
	p.mu.Unlock()
	tidMu.Lock()
	tidTable[tid] = t
	tidMu.Unlock()
	return t, 0
}

// Clone implements fork/clone(2) at the process level: flags without
// CLONE_THREAD create a brand new Process (new pid, new thread group),
// copying or sharing VM/Fds/Handlers per the CLONE_VM/CLONE_FILES/
// CLONE_SIGHAND bits, spec.md §4.8.
func (p *Process) Clone(flags int, kernelPT *mem.PageTable) (*Process, defs.Err_t) {
	if flags&defs.CLONE_THREAD != 0 {
		t, err := p.CloneThread()
		if err != 0 {
			return nil, err
		}
		return t.Proc, 0
	}

	var childVM *vm.MemorySet
	if flags&defs.CLONE_VM != 0 {
		childVM = p.VM
	} else {
		childVM = p.VM.CopyAsFork(kernelPT)
	}

	childFds := p.Fds
	if flags&defs.CLONE_FILES == 0 {
		cp, err := p.Fds.CopyAll()
		if err != 0 {
			return nil, err
		}
		childFds = cp
	}

	childHandlers := p.Handlers
	if flags&defs.CLONE_SIGHAND == 0 {
		childHandlers = p.Handlers.Clone()
	}

	child, _, err := NewProcess(p.Pid, childVM)
	if err != 0 {
		return nil, err
	}
	child.Fds = childFds
	child.Handlers = childHandlers
	child.sendSigchldWhenExit = true
	return child, 0
}

// Threads returns a snapshot of the process's current thread group,
// e.g. for kill(2) group-wide signal delivery.
func (p *Process) Threads() []*TaskControlBlock {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*TaskControlBlock, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// Exit marks t's thread as dying and, if it is the last thread in its
// process, turns the whole process into a zombie: zeroes its
// clear_child_tid word, closes all descriptors, tears down the address
// space, reparents children to pid 1, and conditionally raises SIGCHLD
// on the parent, per spec.md §4.8/§4.7.
func (t *TaskControlBlock) Exit(status int) {
	t.mu.Lock()
	t.Status = defs.Dying
	t.mu.Unlock()

	p := t.Proc
	p.mu.Lock()
	delete(p.threads, t.Tid)
	last := len(p.threads) == 0
	p.mu.Unlock()

	freeTid(t.Tid)

	if !last {
		return
	}

	// exit_current_task: if clear_child_tid is set, zero that user word
	// and wake anyone parked on it before the address space goes away.
	if t.ClearChildTid != 0 {
		p.VM.Write(t.ClearChildTid, make([]byte, 8), mem.Write)
		FutexWake(p.VM, t.ClearChildTid, 1)
	}

	p.Fds.CloseAll()
	p.VM.Close()

	p.mu.Lock()
	p.Status = defs.Zombie
	p.exitStatus = status
	p.mu.Unlock()

	reparentChildren(p)

	if p.sendSigchldWhenExit || t.Tid == defs.Tid_t(p.Pid) {
		if parent, ok := LookupProcess(p.Ppid); ok {
			if leader, ok := LookupTCB(defs.Tid_t(parent.Pid)); ok {
				leader.Receivers.Raise(defs.SIGCHLD)
			}
		}
	}

	close(p.waitCh)
}

// reparentChildren hands p's children to pid 1. Acquisitions use
// try-lock loops: p.mu is never held while blocked on a child's inner
// lock, since a child's own Exit/Wait4 may be holding c.mu while trying
// to acquire its own parent's (p's) lock the other way around.
func reparentChildren(p *Process) {
	p.mu.Lock()
	pending := make([]*Process, 0, len(p.children))
	for _, c := range p.children {
		pending = append(pending, c)
	}
	p.mu.Unlock()

	for len(pending) > 0 {
		remaining := pending[:0]
		for _, c := range pending {
			if c.mu.TryLock() {
				c.Ppid = 1
				c.mu.Unlock()
				continue
			}
			remaining = append(remaining, c)
		}
		pending = remaining
		if len(pending) > 0 {
			runtime.Gosched()
		}
	}
}

// Kill marks t alone for asynchronous termination; other threads of
// the process are not marked. The scheduler observes Doomed() at its
// next preemption point.
func (t *TaskControlBlock) Kill(err defs.Err_t) {
	t.mu.Lock()
	t.killed = true
	t.doomed = true
	t.exitErr = err
	t.mu.Unlock()
}

func (t *TaskControlBlock) Doomed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doomed
}

func (t *TaskControlBlock) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// Wait4 blocks until pid (or any child if pid <= 0) becomes a zombie,
// reaps it, and returns its exit status, spec.md §4.8.
func (p *Process) Wait4(pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		p.mu.Lock()
		var target *Process
		if pid > 0 {
			target = p.children[pid]
		} else {
			for _, c := range p.children {
				target = c
				if c.mu.TryLock() {
					zombie := c.Status == defs.Zombie
					c.mu.Unlock()
					if zombie {
						break
					}
				}
			}
		}
		p.mu.Unlock()
		if target == nil {
			return 0, 0, defs.ECHILD
		}

		target.mu.Lock()
		status := target.Status
		target.mu.Unlock()

		if status == defs.Zombie {
			p.mu.Lock()
			delete(p.children, target.Pid)
			p.mu.Unlock()
			freePid(target.Pid)
			return target.Pid, target.exitStatus, 0
		}
		if pid > 0 {
			<-target.waitCh
		} else {
			runtime.Gosched() // poll every child again
		}
	}
}
