package syscalls

import (
	"testing"

	"rv39kernel/mem"
)

func TestSysGetppidReportsParent(t *testing.T) {
	tcb := newTestTCB(t)
	if ret := sysGetppid(tcb, 0, 0, 0, 0, 0, 0); ret != int64(tcb.Proc.Ppid) {
		t.Fatalf("sysGetppid returned %d, want %d", ret, tcb.Proc.Ppid)
	}
}

func TestSysSetTidAddressStoresClearChildTid(t *testing.T) {
	tcb := newTestTCB(t)
	const addr = 0x4000
	ret := sysSetTidAddress(tcb, addr, 0, 0, 0, 0, 0)
	if ret != int64(tcb.Tid) {
		t.Fatalf("sysSetTidAddress returned %d, want tid %d", ret, tcb.Tid)
	}
	if tcb.ClearChildTid != addr {
		t.Fatalf("ClearChildTid = %x, want %x", tcb.ClearChildTid, addr)
	}
}

func TestSysBrkGrowsAndPreservesData(t *testing.T) {
	tcb := newTestTCB(t)
	base := sysBrk(tcb, 0, 0, 0, 0, 0, 0)
	if base <= 0 {
		t.Fatalf("sysBrk(0) returned %d", base)
	}
	grown := sysBrk(tcb, uint64(base)+uint64(mem.PageSize), 0, 0, 0, 0, 0)
	if grown != base+int64(mem.PageSize) {
		t.Fatalf("sysBrk grow returned %d, want %d", grown, base+int64(mem.PageSize))
	}
	msg := []byte("heap data")
	if err := tcb.Proc.VM.Write(uintptr(base), msg, mem.Write); err != 0 {
		t.Fatalf("seed heap data: %d", err)
	}
	grownMore := sysBrk(tcb, uint64(grown)+uint64(mem.PageSize), 0, 0, 0, 0, 0)
	if grownMore != grown+int64(mem.PageSize) {
		t.Fatalf("sysBrk grow again returned %d", grownMore)
	}
	got := make([]byte, len(msg))
	if err := tcb.Proc.VM.Read(uintptr(base), got, mem.Read); err != 0 {
		t.Fatalf("Read back heap data: %d", err)
	}
	if string(got) != "heap data" {
		t.Fatalf("heap data not preserved across brk growth: got %q", got)
	}
}

func TestSysBrkShrinks(t *testing.T) {
	tcb := newTestTCB(t)
	base := sysBrk(tcb, 0, 0, 0, 0, 0, 0)
	grown := sysBrk(tcb, uint64(base)+uint64(2*mem.PageSize), 0, 0, 0, 0, 0)
	if grown != base+int64(2*mem.PageSize) {
		t.Fatalf("sysBrk grow returned %d", grown)
	}
	shrunk := sysBrk(tcb, uint64(base)+uint64(mem.PageSize), 0, 0, 0, 0, 0)
	if shrunk != base+int64(mem.PageSize) {
		t.Fatalf("sysBrk shrink returned %d, want %d", shrunk, base+int64(mem.PageSize))
	}
}

func TestSysMsyncOnMappedRangeSucceeds(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x9000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	if ret := sysMsync(tcb, vaddr, mem.PageSize, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysMsync on mapped range: %d", ret)
	}
}
