package loader

import (
	"encoding/binary"

	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/vm"
)

// Auxiliary vector tags this kernel populates, named after Linux's
// <elf.h>; only the subset a RISC-V dynamic linker actually consults
// is implemented.
const (
	AT_NULL    = 0
	AT_PHDR    = 3
	AT_PHENT   = 4
	AT_PHNUM   = 5
	AT_PAGESZ  = 6
	AT_ENTRY   = 9
	AT_RANDOM  = 25
)

// defaultStackSize is the initial (fixed, non-growable in this model)
// user stack size, spec.md §4.11.
const defaultStackSize = 8 * 1024 * 1024
const stackTop = vm.UpperLimit - mem.PageSize // one guard page below the ceiling

// BuildStack allocates the user stack area in ms and writes argv,
// envp, and the auxiliary vector below the initial stack pointer,
// exactly as the Linux/RISC-V ABI execve(2) contract requires: from
// low to high address, argc (at sp), argv pointers (NULL terminated),
// envp pointers (NULL terminated), auxv pairs (AT_NULL terminated),
// then, above those, the string data the pointers reference. Returns
// the initial sp.
func BuildStack(ms *vm.MemorySet, alloc *mem.FrameAllocator, img *Image, argv, envp []string, randomCookie [16]byte) (uintptr, defs.Err_t) {
	stackBase := stackTop - defaultStackSize
	area := vm.NewLazyArea(alloc, defaultStackSize)
	if _, err := ms.PushWithBackend(stackBase, defaultStackSize, mem.User|mem.Read|mem.Write|mem.Valid, area, false); err != 0 {
		return 0, err
	}

	sp := stackTop

	// String table: argv then envp, each NUL terminated, written from
	// high addresses down so later writes don't disturb earlier ones.
	writeStr := func(s string) uintptr {
		n := len(s) + 1
		sp -= uintptr(n)
		buf := make([]byte, n)
		copy(buf, s)
		if err := ms.Write(sp, buf, mem.Write); err != 0 {
			panic("loader: failed writing stack string")
		}
		return sp
	}

	sp -= 16
	randAddr := sp
	if err := ms.Write(randAddr, randomCookie[:], mem.Write); err != 0 {
		return 0, err
	}

	argvAddrs := make([]uintptr, len(argv))
	for i, s := range argv {
		argvAddrs[i] = writeStr(s)
	}
	envpAddrs := make([]uintptr, len(envp))
	for i, s := range envp {
		envpAddrs[i] = writeStr(s)
	}

	// Align sp to 16 bytes before the pointer/auxv region, per the
	// RISC-V psABI.
	sp &^= 15

	type auxEnt struct{ tag, val uint64 }
	aux := []auxEnt{
		{AT_PAGESZ, uint64(mem.PageSize)},
		{AT_PHDR, uint64(img.Phdr)},
		{AT_PHENT, uint64(img.Phentsize)},
		{AT_PHNUM, uint64(img.Phnum)},
		{AT_ENTRY, uint64(img.Entry)},
		{AT_RANDOM, uint64(randAddr)},
		{AT_NULL, 0},
	}

	// Total layout size: argc(8) + argv ptrs + NULL(8) + envp ptrs +
	// NULL(8) + auxv pairs(16 each).
	total := 8 + (len(argvAddrs)+1)*8 + (len(envpAddrs)+1)*8 + len(aux)*16
	sp -= uintptr(total)
	sp &^= 15 // keep 16-byte alignment at the final call frame

	buf := make([]byte, total)
	off := 0
	putWord := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	putWord(uint64(len(argvAddrs)))
	for _, a := range argvAddrs {
		putWord(uint64(a))
	}
	putWord(0)
	for _, a := range envpAddrs {
		putWord(uint64(a))
	}
	putWord(0)
	for _, e := range aux {
		putWord(e.tag)
		putWord(e.val)
	}

	if err := ms.Write(sp, buf, mem.Write); err != 0 {
		return 0, err
	}
	return sp, 0
}
