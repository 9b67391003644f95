// Remaining process/memory-group syscalls: getppid, set_tid_address,
// execve, brk, and msync. execve drives package loader's LoadPath and
// BuildStack from the calling thread; the cmd/kernel boot harness
// itself loads no user image.
package syscalls

import (
	"rv39kernel/defs"
	"rv39kernel/fdops"
	"rv39kernel/loader"
	"rv39kernel/mem"
	"rv39kernel/proc"
)

func sysGetppid(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return int64(t.Proc.Ppid)
}

func sysSetTidAddress(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	t.ClearChildTid = uintptr(a0)
	return int64(t.Tid)
}

// heapBase is the fixed address the first brk(2) call (addr==0, or any
// call before one has ever succeeded) reports as the break; real
// kernels place it just past the loaded image's BSS, but nothing in
// this simulation's loader records that address for sysBrk to reuse,
// so a fixed, low, unused region stands in instead.
const heapBase = uintptr(0x10000000)

func sysBrk(t *proc.TaskControlBlock, newBrk, a1, a2, a3, a4, a5 uint64) int64 {
	cur := t.Proc.Brk()
	if cur == 0 {
		cur = heapBase
		t.Proc.SetBrk(cur)
	}
	if newBrk == 0 {
		return int64(cur)
	}
	target := uintptr(newBrk)
	if target == cur {
		return int64(cur)
	}
	flags := mem.User | mem.Valid | mem.Read | mem.Write
	if target > cur {
		if _, err := t.Proc.VM.MmapAnon(cur, int(target-cur), flags, false); err != 0 {
			return int64(cur)
		}
	} else {
		t.Proc.VM.Munmap(target, cur)
	}
	t.Proc.SetBrk(target)
	return int64(target)
}

func sysMsync(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return errval(t.Proc.VM.MsyncAreas(uintptr(a0), uintptr(a0+a1)))
}

// readArgArray reads a NUL-terminated array of string pointers (argv
// or envp), each itself a NUL-terminated C string, stopping at the
// first zero pointer.
func readArgArray(t *proc.TaskControlBlock, addr uint64) ([]string, defs.Err_t) {
	if addr == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; ; i++ {
		var ptrBuf [8]byte
		if err := t.Proc.VM.Read(uintptr(addr)+uintptr(i*8), ptrBuf[:], mem.Read); err != 0 {
			return nil, err
		}
		ptr := getLE64(ptrBuf[:])
		if ptr == 0 {
			return out, 0
		}
		s, err := readCString(t.Proc.VM, uintptr(ptr), maxPathLen)
		if err != 0 {
			return nil, err
		}
		out = append(out, s)
	}
}

func sysExecve(t *proc.TaskControlBlock, root *RootFS, pathAddr, argvAddr, envpAddr, a3, a4, a5 uint64) int64 {
	path, err := readCString(t.Proc.VM, uintptr(pathAddr), maxPathLen)
	if err != 0 {
		return errval(err)
	}
	argv, err := readArgArray(t, argvAddr)
	if err != 0 {
		return errval(err)
	}
	envp, err := readArgArray(t, envpAddr)
	if err != 0 {
		return errval(err)
	}

	cwd := t.Proc.Cwd()
	full := resolvePath(cwd, path)

	// Probe the target exists before tearing down the caller's own
	// address space: a real execve(2) that fails to find/exec its
	// target leaves the calling image intact, a guarantee this kernel
	// can only honour by checking first, since ClearUserPagesAndSaveKernel
	// has no undo.
	probe, perr := root.Open(full, false)
	if perr != 0 {
		return errval(perr)
	}
	probe.Close()

	ms := t.Proc.VM
	alloc := ms.Allocator()
	openFile := func(name string) (fdops.File, defs.Err_t) {
		return root.Open(resolvePath(cwd, name), false)
	}

	ms.ClearUserPagesAndSaveKernel()

	img, lerr := loader.LoadPath(ms, alloc, openFile, full, 0)
	if lerr != 0 {
		t.Kill(lerr)
		return errval(lerr)
	}

	var randomCookie [16]byte
	sp, serr := loader.BuildStack(ms, alloc, img, argv, envp, randomCookie)
	if serr != 0 {
		t.Kill(serr)
		return errval(serr)
	}

	const regSP = 1 // x2; Regs[i] holds x(i+1)
	t.TrapFrame = proc.TrapFrame{}
	t.TrapFrame.Regs[regSP] = uint64(sp)
	t.TrapFrame.SEPC = uint64(img.Entry)

	t.Proc.Fds.CloseCloexecFiles()
	return 0
}
