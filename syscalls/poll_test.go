package syscalls

import (
	"testing"

	"rv39kernel/fdops"
	"rv39kernel/mem"
	"rv39kernel/vfs"
)

// readyStub is always readable, unlike stubFile (whose ReadyToRead
// stays the BaseFile default of false), so poll/epoll tests have
// something to actually report ready.
type readyStub struct {
	fdops.BaseFile
}

func (readyStub) ReadyToRead() bool { return true }

func TestSysEpollCreateCtlAddWaitReportsReady(t *testing.T) {
	tcb := newTestTCB(t)
	epfd := sysEpollCreate1(tcb, 0, 0, 0, 0, 0, 0)
	if epfd < 0 {
		t.Fatalf("sysEpollCreate1: %d", epfd)
	}
	sf := &readyStub{}
	targetFd, err := tcb.Proc.Fds.Push(sf, 0, 0)
	if err != 0 {
		t.Fatalf("Push: %d", err)
	}
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	evBuf := encodeEpollEvent(vfs.ReadyEvent{Events: pollin, Data: 42})
	if err := tcb.Proc.VM.Write(vaddr, evBuf, mem.Write); err != 0 {
		t.Fatalf("seed event: %d", err)
	}
	if ret := sysEpollCtl(tcb, uint64(epfd), epollCtlAdd, uint64(targetFd), vaddr, 0, 0); ret != 0 {
		t.Fatalf("sysEpollCtl add: %d", ret)
	}

	const outAddr = vaddr + 64
	ret := sysEpollPwait(tcb, uint64(epfd), outAddr, 1, 0, 0, 0)
	if ret != 1 {
		t.Fatalf("sysEpollPwait: %d", ret)
	}
	var got [12]byte
	if err := tcb.Proc.VM.Read(outAddr, got[:], mem.Read); err != 0 {
		t.Fatalf("Read event: %d", err)
	}
	if got[0] != pollin {
		t.Fatalf("expected events pollin, got %d", got[0])
	}
}

func TestSysPpollReportsReadableFd(t *testing.T) {
	tcb := newTestTCB(t)
	sf := &readyStub{}
	targetFd, err := tcb.Proc.Fds.Push(sf, 0, 0)
	if err != 0 {
		t.Fatalf("Push: %d", err)
	}
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	entry := make([]byte, 8)
	entry[0] = byte(targetFd)
	entry[1] = byte(targetFd >> 8)
	entry[2] = byte(targetFd >> 16)
	entry[3] = byte(targetFd >> 24)
	entry[4] = pollin
	if err := tcb.Proc.VM.Write(vaddr, entry, mem.Write); err != 0 {
		t.Fatalf("seed pollfd: %d", err)
	}
	ret := sysPpoll(tcb, vaddr, 1, 0, 0, 0, 0)
	if ret != 1 {
		t.Fatalf("sysPpoll: %d", ret)
	}
	var got [8]byte
	if err := tcb.Proc.VM.Read(vaddr, got[:], mem.Read); err != 0 {
		t.Fatalf("Read back: %d", err)
	}
	if got[6] != pollin {
		t.Fatalf("expected revents pollin, got %d", got[6])
	}
}
