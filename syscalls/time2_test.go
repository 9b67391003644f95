package syscalls

import (
	"testing"

	"rv39kernel/accnt"
	"rv39kernel/mem"
)

func TestSysGettimeofdayWritesTimeval(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	if ret := sysGettimeofday(tcb, vaddr, 0, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysGettimeofday: %d", ret)
	}
	var buf [8]byte
	if err := tcb.Proc.VM.Read(vaddr, buf[:], mem.Read); err != 0 {
		t.Fatalf("Read: %d", err)
	}
	if getLE64(buf[:]) == 0 {
		t.Fatalf("expected nonzero seconds field")
	}
}

func TestSysNanosleepSleepsRequestedDuration(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	req := make([]byte, 16)
	putLE64(req[0:8], 0)
	putLE64(req[8:16], 1_000_000)
	if err := tcb.Proc.VM.Write(vaddr, req, mem.Write); err != 0 {
		t.Fatalf("seed req: %d", err)
	}
	if ret := sysNanosleep(tcb, vaddr, 0, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysNanosleep: %d", ret)
	}
}

func TestSysTimesReportsTicks(t *testing.T) {
	tcb := newTestTCB(t)
	acct := &accnt.Accnt{}
	acct.Utadd(1_000_000_000)
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	if ret := sysTimes(tcb, acct, vaddr, 0, 0, 0, 0, 0); ret == 0 {
		t.Fatalf("sysTimes returned 0, expected a current-time value")
	}
	var buf [8]byte
	if err := tcb.Proc.VM.Read(vaddr, buf[:], mem.Read); err != 0 {
		t.Fatalf("Read utime: %d", err)
	}
	if getLE64(buf[:]) != 100 {
		t.Fatalf("expected 100 ticks for 1s utime, got %d", getLE64(buf[:]))
	}
}

func TestSysSetitimerGetitimerRoundtrip(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	const newAddr = vaddr
	const curAddr = vaddr + 64
	newVal := make([]byte, 32)
	putLE64(newVal[16:24], 5)
	if err := tcb.Proc.VM.Write(newAddr, newVal, mem.Write); err != 0 {
		t.Fatalf("seed new itimerval: %d", err)
	}
	if ret := sysSetitimer(tcb, itimerReal, newAddr, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysSetitimer: %d", ret)
	}
	if ret := sysGetitimer(tcb, itimerReal, curAddr, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysGetitimer: %d", ret)
	}
	var buf [32]byte
	if err := tcb.Proc.VM.Read(curAddr, buf[:], mem.Read); err != 0 {
		t.Fatalf("Read cur itimerval: %d", err)
	}
	if getLE64(buf[16:24]) != 5 {
		t.Fatalf("expected value.sec 5, got %d", getLE64(buf[16:24]))
	}
}

func TestSysTkillRaisesSignalOnTarget(t *testing.T) {
	tcb := newTestTCB(t)
	const sigusr1 = 10
	if ret := sysTkill(tcb, uint64(tcb.Tid), sigusr1, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysTkill: %d", ret)
	}
	if tcb.Receivers.Pending()&(1<<uint(sigusr1-1)) == 0 {
		t.Fatalf("expected signal pending after tkill")
	}
}
