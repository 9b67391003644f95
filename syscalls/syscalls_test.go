package syscalls

import (
	"testing"

	"rv39kernel/accnt"
	"rv39kernel/defs"
	"rv39kernel/fdops"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/vm"
)

func newTestTCB(t *testing.T) *proc.TaskControlBlock {
	t.Helper()
	arena := mem.NewArena(64 * mem.PageSize)
	alloc := mem.NewFrameAllocator(arena)
	alloc.Init([]mem.Region{{Start: 0, End: uintptr(arena.Size())}})
	ms := vm.NewMemorySet(alloc, nil)
	_, tcb, err := proc.NewProcess(defs.NoParent, ms)
	if err != 0 {
		t.Fatalf("NewProcess: %d", err)
	}
	return tcb
}

type stubFile struct {
	fdops.BaseFile
	readData []byte
	written  []byte
}

func (s *stubFile) Read(buf []byte) (int, defs.Err_t) {
	n := copy(buf, s.readData)
	return n, 0
}

func (s *stubFile) Write(buf []byte) (int, defs.Err_t) {
	s.written = append(s.written, buf...)
	return len(buf), 0
}

func TestSysGetpidGettid(t *testing.T) {
	tcb := newTestTCB(t)
	if sysGetpid(tcb, 0, 0, 0, 0, 0, 0) != int64(tcb.Proc.Pid) {
		t.Fatalf("sysGetpid mismatch")
	}
	if sysGettid(tcb, 0, 0, 0, 0, 0, 0) != int64(tcb.Tid) {
		t.Fatalf("sysGettid mismatch")
	}
}

func TestSysWriteCopiesFromUserMemory(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	msg := []byte("hi there")
	if err := tcb.Proc.VM.Write(vaddr, msg, mem.Write); err != 0 {
		t.Fatalf("seed write: %d", err)
	}
	sf := &stubFile{}
	fd, err := tcb.Proc.Fds.Push(sf, 0, 0)
	if err != 0 {
		t.Fatalf("Push: %d", err)
	}
	ret := sysWrite(tcb, uint64(fd), vaddr, uint64(len(msg)), 0, 0, 0)
	if ret != int64(len(msg)) {
		t.Fatalf("sysWrite returned %d", ret)
	}
	if string(sf.written) != string(msg) {
		t.Fatalf("got %q, want %q", sf.written, msg)
	}
}

func TestSysReadCopiesIntoUserMemory(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x3000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	sf := &stubFile{readData: []byte("payload")}
	fd, err := tcb.Proc.Fds.Push(sf, 0, 0)
	if err != 0 {
		t.Fatalf("Push: %d", err)
	}
	ret := sysRead(tcb, uint64(fd), vaddr, 7, 0, 0, 0)
	if ret != 7 {
		t.Fatalf("sysRead returned %d", ret)
	}
	got := make([]byte, 7)
	if err := tcb.Proc.VM.Read(vaddr, got, mem.Read); err != 0 {
		t.Fatalf("Read back: %d", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestSysUnameReportsModuleRelease(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x4000
	const total = utsNameLen * 6
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+uintptr((total+mem.PageSize-1)/mem.PageSize*mem.PageSize), mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	if ret := sysUname(tcb, vaddr, 0, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysUname: %d", ret)
	}
	buf := make([]byte, utsNameLen)
	if err := tcb.Proc.VM.Read(vaddr+2*utsNameLen, buf, mem.Read); err != 0 {
		t.Fatalf("Read release field: %d", err)
	}
	if release == "" {
		t.Fatalf("expected a parsed release string")
	}
}

func TestSysRtSigprocmaskBlocksAndReportsOldMask(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x5000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	newMask := uint64(1) << uint(defs.SIGUSR1-1)
	if err := tcb.Proc.VM.Write(vaddr, leBytes(newMask), mem.Write); err != 0 {
		t.Fatalf("seed mask: %d", err)
	}
	const sigSetmask = 2
	if ret := sysRtSigprocmask(tcb, sigSetmask, vaddr, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysRtSigprocmask: %d", ret)
	}
	if tcb.Receivers.Mask() != newMask {
		t.Fatalf("expected mask %x, got %x", newMask, tcb.Receivers.Mask())
	}
}

func leBytes(v uint64) []byte {
	b := make([]byte, 8)
	putLE64(b, v)
	return b
}

func TestSysGetrusageReportsAcctSnapshot(t *testing.T) {
	tcb := newTestTCB(t)
	acct := &accnt.Accnt{}
	acct.Utadd(2_000_000_000)
	const vaddr = 0x6000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	if ret := sysGetrusage(tcb, acct, 0, vaddr, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysGetrusage: %d", ret)
	}
	var buf [8]byte
	if err := tcb.Proc.VM.Read(vaddr, buf[:], mem.Read); err != 0 {
		t.Fatalf("Read utime sec: %d", err)
	}
	if getLE64(buf[:]) != 2 {
		t.Fatalf("expected 2s utime, got %d", getLE64(buf[:]))
	}
}

func TestSysPrlimit64RoundtripsNofileLimit(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x7000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	const newAddr = vaddr
	const oldAddr = vaddr + 16
	if err := tcb.Proc.VM.Write(newAddr, leBytes(64), mem.Write); err != 0 {
		t.Fatalf("seed new limit: %d", err)
	}
	if ret := sysPrlimit64(tcb, 0, rlimitNofile, newAddr, oldAddr, 0, 0); ret != 0 {
		t.Fatalf("sysPrlimit64 set: %d", ret)
	}
	if got := tcb.Proc.Fds.Limit(); got != 64 {
		t.Fatalf("expected limit 64, got %d", got)
	}
	var old [8]byte
	if err := tcb.Proc.VM.Read(oldAddr, old[:], mem.Read); err != 0 {
		t.Fatalf("Read old limit: %d", err)
	}
	if getLE64(old[:]) != defs.MaxFd {
		t.Fatalf("expected old limit to read back as the default %d, got %d", defs.MaxFd, getLE64(old[:]))
	}
}
