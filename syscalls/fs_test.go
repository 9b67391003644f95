package syscalls

import (
	"testing"

	"rv39kernel/defs"
	"rv39kernel/mem"
)

func TestSysOpenatCreatesAndReadsBackFile(t *testing.T) {
	tcb := newTestTCB(t)
	root := NewRootFS()
	const pathAddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(pathAddr, pathAddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	buf := append([]byte("hello.txt"), 0)
	if err := tcb.Proc.VM.Write(pathAddr, buf, mem.Write); err != 0 {
		t.Fatalf("seed path: %d", err)
	}
	fdnum := sysOpenat(tcb, root, 0, pathAddr, oCreat, 0644, 0, 0)
	if fdnum < 0 {
		t.Fatalf("sysOpenat: %d", fdnum)
	}
	f, err := tcb.Proc.Fds.GetFile(int(fdnum))
	if err != 0 {
		t.Fatalf("GetFile: %d", err)
	}
	if _, werr := f.Write([]byte("payload")); werr != 0 {
		t.Fatalf("Write: %d", werr)
	}

	fdnum2 := sysOpenat(tcb, root, 0, pathAddr, 0, 0, 0, 0)
	if fdnum2 < 0 {
		t.Fatalf("reopen sysOpenat: %d", fdnum2)
	}
	f2, err := tcb.Proc.Fds.GetFile(int(fdnum2))
	if err != 0 {
		t.Fatalf("GetFile2: %d", err)
	}
	got := make([]byte, 7)
	n, rerr := f2.Read(got)
	if rerr != 0 {
		t.Fatalf("Read: %d", rerr)
	}
	if string(got[:n]) != "payload" {
		t.Fatalf("got %q", got[:n])
	}
}

func TestSysOpenatMissingWithoutCreateFails(t *testing.T) {
	tcb := newTestTCB(t)
	root := NewRootFS()
	const pathAddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(pathAddr, pathAddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	buf := append([]byte("missing.txt"), 0)
	if err := tcb.Proc.VM.Write(pathAddr, buf, mem.Write); err != 0 {
		t.Fatalf("seed path: %d", err)
	}
	if ret := sysOpenat(tcb, root, 0, pathAddr, 0, 0, 0, 0); ret >= 0 {
		t.Fatalf("expected error, got fd %d", ret)
	}
}

func TestSysDupAndDup3(t *testing.T) {
	tcb := newTestTCB(t)
	sf := &stubFile{readData: []byte("x")}
	fdnum, err := tcb.Proc.Fds.Push(sf, 0, 0)
	if err != 0 {
		t.Fatalf("Push: %d", err)
	}
	dupFd := sysDup(tcb, uint64(fdnum), 0, 0, 0, 0, 0)
	if dupFd < 0 || dupFd == int64(fdnum) {
		t.Fatalf("sysDup returned %d", dupFd)
	}
	const target = 50
	ret := sysDup3(tcb, uint64(fdnum), target, 0, 0, 0, 0)
	if ret != target {
		t.Fatalf("sysDup3 returned %d", ret)
	}
	if _, err := tcb.Proc.Fds.GetFile(target); err != 0 {
		t.Fatalf("expected fd %d populated: %d", target, err)
	}
}

func TestSysPipe2RoundtripsThroughUserMemory(t *testing.T) {
	tcb := newTestTCB(t)
	const vaddr = 0x3000
	if err := tcb.Proc.VM.ManuallyAllocRange(vaddr, vaddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	if ret := sysPipe2(tcb, vaddr, 0, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysPipe2: %d", ret)
	}
	var fds [8]byte
	if err := tcb.Proc.VM.Read(vaddr, fds[:], mem.Read); err != 0 {
		t.Fatalf("Read fds: %d", err)
	}
	rfd := int32(fds[0]) | int32(fds[1])<<8 | int32(fds[2])<<16 | int32(fds[3])<<24
	wfd := int32(fds[4]) | int32(fds[5])<<8 | int32(fds[6])<<16 | int32(fds[7])<<24
	wf, err := tcb.Proc.Fds.GetFile(int(wfd))
	if err != 0 {
		t.Fatalf("GetFile write end: %d", err)
	}
	if _, werr := wf.Write([]byte("hi")); werr != 0 {
		t.Fatalf("Write: %d", werr)
	}
	rf, err := tcb.Proc.Fds.GetFile(int(rfd))
	if err != 0 {
		t.Fatalf("GetFile read end: %d", err)
	}
	got := make([]byte, 2)
	n, rerr := rf.Read(got)
	if rerr != 0 || string(got[:n]) != "hi" {
		t.Fatalf("Read: n=%d err=%d got=%q", n, rerr, got[:n])
	}
}

func TestSysMkdiratUnlinkatRenameat(t *testing.T) {
	tcb := newTestTCB(t)
	root := NewRootFS()
	const pathAddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(pathAddr, pathAddr+mem.PageSize*2, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	buf := append([]byte("sub"), 0)
	if err := tcb.Proc.VM.Write(pathAddr, buf, mem.Write); err != 0 {
		t.Fatalf("seed path: %d", err)
	}
	if ret := sysMkdirat(tcb, root, 0, pathAddr, 0755, 0, 0, 0); ret != 0 {
		t.Fatalf("sysMkdirat: %d", ret)
	}

	const filePathAddr = pathAddr + 64
	fbuf := append([]byte("sub/file"), 0)
	if err := tcb.Proc.VM.Write(filePathAddr, fbuf, mem.Write); err != 0 {
		t.Fatalf("seed file path: %d", err)
	}
	if ret := sysOpenat(tcb, root, 0, filePathAddr, oCreat, 0644, 0, 0); ret < 0 {
		t.Fatalf("sysOpenat sub/file: %d", ret)
	}

	const newPathAddr = pathAddr + 128
	nbuf := append([]byte("sub/renamed"), 0)
	if err := tcb.Proc.VM.Write(newPathAddr, nbuf, mem.Write); err != 0 {
		t.Fatalf("seed new path: %d", err)
	}
	if ret := sysRenameat(tcb, root, 0, filePathAddr, 0, newPathAddr, 0, 0); ret != 0 {
		t.Fatalf("sysRenameat: %d", ret)
	}
	if ret := sysUnlinkat(tcb, root, 0, newPathAddr, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysUnlinkat: %d", ret)
	}
}

func TestSysGetcwdChdir(t *testing.T) {
	tcb := newTestTCB(t)
	root := NewRootFS()
	const pathAddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(pathAddr, pathAddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	buf := append([]byte("dir1"), 0)
	if err := tcb.Proc.VM.Write(pathAddr, buf, mem.Write); err != 0 {
		t.Fatalf("seed path: %d", err)
	}
	if ret := sysMkdirat(tcb, root, 0, pathAddr, 0755, 0, 0, 0); ret != 0 {
		t.Fatalf("sysMkdirat: %d", ret)
	}
	if ret := sysChdir(tcb, root, pathAddr, 0, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysChdir: %d", ret)
	}
	const cwdAddr = pathAddr + 64
	if ret := sysGetcwd(tcb, cwdAddr, 64, 0, 0, 0, 0); ret < 0 {
		t.Fatalf("sysGetcwd: %d", ret)
	}
	got := make([]byte, 6)
	if err := tcb.Proc.VM.Read(cwdAddr, got, mem.Read); err != 0 {
		t.Fatalf("Read cwd: %d", err)
	}
	if string(got[:5]) != "/dir1" {
		t.Fatalf("got cwd %q", got[:5])
	}
}

func TestSysFcntlGetSetFd(t *testing.T) {
	tcb := newTestTCB(t)
	sf := &stubFile{}
	fdnum, err := tcb.Proc.Fds.Push(sf, 0, 0)
	if err != 0 {
		t.Fatalf("Push: %d", err)
	}
	if ret := sysFcntl(tcb, uint64(fdnum), fSetfd, 1, 0, 0, 0); ret != 0 {
		t.Fatalf("sysFcntl setfd: %d", ret)
	}
	if ret := sysFcntl(tcb, uint64(fdnum), fGetfd, 0, 0, 0, 0); ret != 1 {
		t.Fatalf("sysFcntl getfd: %d", ret)
	}
	if !sf.IsCloseOnExec() {
		t.Fatalf("expected close-on-exec set")
	}
}

func TestSysFstatReportsSize(t *testing.T) {
	tcb := newTestTCB(t)
	root := NewRootFS()
	const pathAddr = 0x2000
	if err := tcb.Proc.VM.ManuallyAllocRange(pathAddr, pathAddr+mem.PageSize, mem.User|mem.Read|mem.Write); err != 0 {
		t.Fatalf("ManuallyAllocRange: %d", err)
	}
	buf := append([]byte("f.txt"), 0)
	if err := tcb.Proc.VM.Write(pathAddr, buf, mem.Write); err != 0 {
		t.Fatalf("seed path: %d", err)
	}
	fdnum := sysOpenat(tcb, root, 0, pathAddr, oCreat, 0644, 0, 0)
	if fdnum < 0 {
		t.Fatalf("sysOpenat: %d", fdnum)
	}
	const statAddr = pathAddr + 64
	if ret := sysFstat(tcb, uint64(fdnum), statAddr, 0, 0, 0, 0); ret != 0 {
		t.Fatalf("sysFstat: %d", ret)
	}
	var raw [128]byte
	if err := tcb.Proc.VM.Read(statAddr, raw[:], mem.Read); err != 0 {
		t.Fatalf("Read stat buf: %d", err)
	}
	mode := uint32(raw[16]) | uint32(raw[17])<<8 | uint32(raw[18])<<16 | uint32(raw[19])<<24
	if mode&defs.S_IFMT != defs.S_IFREG {
		t.Fatalf("expected regular file mode, got %o", mode)
	}
}
