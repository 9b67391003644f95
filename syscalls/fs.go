// Syscalls in this file are the fs group spec.md §6 names beyond the
// bare read/write/close already in syscalls.go: path resolution
// (openat and friends), descriptor duplication, and directory
// listing. All path arguments funnel through RootFS (devfs-or-fat),
// and every *at syscall treats its dirfd the same as AT_FDCWD — see
// resolvePath's doc comment in rootfs.go for why.
package syscalls

import (
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/vfs"
	"rv39kernel/vm"
)

// open(2) flag bits, the generic (non-x86) Linux layout RISC-V uses.
const (
	oCreat    = 0o100
	oExcl     = 0o200
	oTrunc    = 0o1000
	oCloexec  = 0o2000000
)

const maxPathLen = 4096

func readCString(ms *vm.MemorySet, addr uintptr, maxLen int) (string, defs.Err_t) {
	var out []byte
	var chunk [64]byte
	for total := 0; total < maxLen; total += len(chunk) {
		n := len(chunk)
		if total+n > maxLen {
			n = maxLen - total
		}
		if err := ms.Read(addr+uintptr(total), chunk[:n], mem.Read); err != 0 {
			return "", err
		}
		for _, b := range chunk[:n] {
			if b == 0 {
				return string(out), 0
			}
			out = append(out, b)
		}
	}
	return "", defs.ENAMETOOLONG
}

func sysOpenat(t *proc.TaskControlBlock, root *RootFS, dirfd, pathAddr, flags, mode, a4, a5 uint64) int64 {
	path, err := readCString(t.Proc.VM, uintptr(pathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	full := resolvePath(t.Proc.Cwd(), path)
	create := flags&oCreat != 0
	f, err := root.Open(full, create)
	if err != 0 {
		return errval(err)
	}
	if flags&oExcl != 0 && !create {
		return errval(defs.EEXIST)
	}
	if flags&oCloexec != 0 {
		f.SetCloseOnExec(true)
	}
	fdnum, err := t.Proc.Fds.Push(f, 0, 0)
	if err != 0 {
		f.Close()
		return errval(err)
	}
	return int64(fdnum)
}

func sysLseek(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	pos, err := f.Seek(int64(a1), int(a2))
	if err != 0 {
		return errval(err)
	}
	return pos
}

func sysDup(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	fdnum, err := t.Proc.Fds.Dup(int(a0), 0)
	if err != 0 {
		return errval(err)
	}
	return int64(fdnum)
}

func sysDup3(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	if a0 == a1 {
		return errval(defs.EINVAL)
	}
	if err := t.Proc.Fds.CopyFdTo(int(a0), int(a1)); err != 0 {
		return errval(err)
	}
	if a2&oCloexec != 0 {
		if f, err := t.Proc.Fds.GetFile(int(a1)); err == 0 {
			f.SetCloseOnExec(true)
		}
	}
	return int64(a1)
}

func sysPipe2(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	r, w := vfs.NewPipe()
	rfd, err := t.Proc.Fds.Push(r, 0, 0)
	if err != 0 {
		return errval(err)
	}
	wfd, err := t.Proc.Fds.Push(w, 0, 0)
	if err != 0 {
		t.Proc.Fds.RemoveFile(rfd)
		return errval(err)
	}
	if a1&oCloexec != 0 {
		r.SetCloseOnExec(true)
		w.SetCloseOnExec(true)
	}
	var fds [8]byte
	putLE32(fds[0:4], uint32(rfd))
	putLE32(fds[4:8], uint32(wfd))
	if werr := t.Proc.VM.Write(uintptr(a0), fds[:], mem.Write); werr != 0 {
		return errval(werr)
	}
	return 0
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// encodeStat lays out struct stat the way glibc's riscv64 ABI does
// (128 bytes); every field this kernel doesn't track reports zero.
func encodeStat(st *defs.Kstat) []byte {
	buf := make([]byte, 128)
	putLE64(buf[0:8], st.Dev)
	putLE64(buf[8:16], st.Ino)
	putLE32(buf[16:20], st.Mode)
	putLE32(buf[20:24], st.Nlink)
	putLE32(buf[24:28], st.UID)
	putLE32(buf[28:32], st.GID)
	putLE64(buf[32:40], st.Rdev)
	putLE64(buf[48:56], uint64(st.Size))
	putLE32(buf[56:60], uint32(st.Blksize))
	putLE64(buf[64:72], uint64(st.Blocks))
	putLE64(buf[72:80], uint64(st.ATimeSec))
	putLE64(buf[80:88], uint64(st.ATimeNsec))
	putLE64(buf[88:96], uint64(st.MTimeSec))
	putLE64(buf[96:104], uint64(st.MTimeNsec))
	putLE64(buf[104:112], uint64(st.CTimeSec))
	putLE64(buf[112:120], uint64(st.CTimeNsec))
	return buf
}

func sysFstat(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	var st defs.Kstat
	if err := f.GetStat(&st); err != 0 {
		return errval(err)
	}
	if werr := t.Proc.VM.Write(uintptr(a1), encodeStat(&st), mem.Write); werr != 0 {
		return errval(werr)
	}
	return 0
}

func sysFstatat(t *proc.TaskControlBlock, root *RootFS, dirfd, pathAddr, statAddr, flags, a4, a5 uint64) int64 {
	path, err := readCString(t.Proc.VM, uintptr(pathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	full := resolvePath(t.Proc.Cwd(), path)
	f, err := root.Open(full, false)
	if err != 0 {
		return errval(err)
	}
	defer f.Close()
	var st defs.Kstat
	if err := f.GetStat(&st); err != 0 {
		return errval(err)
	}
	if werr := t.Proc.VM.Write(uintptr(statAddr), encodeStat(&st), mem.Write); werr != 0 {
		return errval(werr)
	}
	return 0
}

func sysMkdirat(t *proc.TaskControlBlock, root *RootFS, dirfd, pathAddr, mode, a3, a4, a5 uint64) int64 {
	path, err := readCString(t.Proc.VM, uintptr(pathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	return errval(root.Mkdir(resolvePath(t.Proc.Cwd(), path)))
}

func sysUnlinkat(t *proc.TaskControlBlock, root *RootFS, dirfd, pathAddr, flags, a3, a4, a5 uint64) int64 {
	path, err := readCString(t.Proc.VM, uintptr(pathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	return errval(root.Remove(resolvePath(t.Proc.Cwd(), path)))
}

func sysRenameat(t *proc.TaskControlBlock, root *RootFS, olddirfd, oldPathAddr, newdirfd, newPathAddr, a4, a5 uint64) int64 {
	oldPath, err := readCString(t.Proc.VM, uintptr(oldPathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	newPath, err := readCString(t.Proc.VM, uintptr(newPathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	cwd := t.Proc.Cwd()
	return errval(root.Rename(resolvePath(cwd, oldPath), resolvePath(cwd, newPath)))
}

// linuxDirent64 header size (ino u64 + off u64 + reclen u16 + type u8),
// the name (NUL terminated) follows, padded to an 8-byte boundary.
const dirent64HeaderSize = 19

func sysGetdents64(t *proc.TaskControlBlock, a0, bufAddr, count, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	dir, ok := f.GetDir()
	if !ok {
		return errval(defs.ENOTDIR)
	}
	var out []byte
	for {
		name, ino, kind, eof, derr := dir.ReadDirent()
		if derr != 0 {
			return errval(derr)
		}
		if eof && name == "" {
			break
		}
		reclen := dirent64HeaderSize + len(name) + 1
		reclen = (reclen + 7) &^ 7
		if len(out)+reclen > int(count) {
			break
		}
		rec := make([]byte, reclen)
		putLE64(rec[0:8], ino)
		putLE64(rec[8:16], uint64(len(out)+reclen))
		rec[16] = byte(reclen)
		rec[17] = byte(reclen >> 8)
		rec[18] = kind
		copy(rec[19:], name)
		out = append(out, rec...)
		if eof {
			break
		}
	}
	if len(out) == 0 {
		return 0
	}
	if werr := t.Proc.VM.Write(uintptr(bufAddr), out, mem.Write); werr != 0 {
		return errval(werr)
	}
	return int64(len(out))
}

func sysGetcwd(t *proc.TaskControlBlock, bufAddr, size, a2, a3, a4, a5 uint64) int64 {
	cwd := t.Proc.Cwd()
	if uint64(len(cwd)+1) > size {
		return errval(defs.ERANGE)
	}
	buf := append([]byte(cwd), 0)
	if err := t.Proc.VM.Write(uintptr(bufAddr), buf, mem.Write); err != 0 {
		return errval(err)
	}
	return int64(bufAddr)
}

func sysChdir(t *proc.TaskControlBlock, root *RootFS, pathAddr, a1, a2, a3, a4, a5 uint64) int64 {
	path, err := readCString(t.Proc.VM, uintptr(pathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	full := resolvePath(t.Proc.Cwd(), path)
	f, err := root.Open(full, false)
	if err != 0 {
		return errval(err)
	}
	_, isDir := f.GetDir()
	f.Close()
	if !isDir {
		return errval(defs.ENOTDIR)
	}
	t.Proc.SetCwd(full)
	return 0
}

// fcntl(2) commands this kernel recognises; everything else is ENOSYS.
const (
	fGetfd        = 1
	fSetfd        = 2
	fGetfl        = 3
	fSetfl        = 4
	fDupfd        = 0
	fDupfdCloexec = 1030
)

// fdCloexec is FD_CLOEXEC, the one descriptor flag F_GETFD/F_SETFD carry.
const fdCloexec = 1

func sysFcntl(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	switch a1 {
	case fGetfd:
		if f.IsCloseOnExec() {
			return fdCloexec
		}
		return 0
	case fSetfd:
		f.SetCloseOnExec(a2&fdCloexec != 0)
		return 0
	case fGetfl:
		return int64(f.GetStatus())
	case fSetfl:
		return errval(f.SetStatus(int(a2)))
	case fDupfd:
		fdnum, derr := t.Proc.Fds.Dup(int(a0), int(a2))
		if derr != 0 {
			return errval(derr)
		}
		return int64(fdnum)
	case fDupfdCloexec:
		fdnum, derr := t.Proc.Fds.Dup(int(a0), int(a2))
		if derr != 0 {
			return errval(derr)
		}
		if nf, gerr := t.Proc.Fds.GetFile(fdnum); gerr == 0 {
			nf.SetCloseOnExec(true)
		}
		return int64(fdnum)
	default:
		return errval(defs.ENOSYS)
	}
}
