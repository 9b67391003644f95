// Package loader builds a process address space from an ELF image,
// spec.md §4.11. Grounded on biscuit's src/kernel/chentry.go (which
// rewrites an ELF entry point/segments for biscuit's own boot path)
// and src/kernel/exec.go-shaped layout, reshaped around this module's
// vm.MemorySet/vm.LazyArea instead of biscuit's Vminfo_t. Uses the
// standard library's debug/elf: no ecosystem package in the retrieved
// pack replaces it (see DESIGN.md).
package loader

import (
	"debug/elf"
	"fmt"

	"rv39kernel/defs"
	"rv39kernel/fdops"
	"rv39kernel/mem"
	"rv39kernel/vm"
)

// Image is the result of loading one ELF file into a MemorySet: the
// entry point to place in sepc and, when the file requested a dynamic
// interpreter, that interpreter's path in Interp.
type Image struct {
	Entry    uintptr
	Phdr     uintptr // address of the program header table, for AT_PHDR
	Phnum    int
	Phentsize int
	Interp   string // PT_INTERP path, empty if none
	IsPIE    bool
}

// maxInterpDepth bounds PT_INTERP chains (a statically linked loader
// has none; a dynamically linked one has exactly one level in every
// target this kernel runs).
const maxInterpDepth = 4

// Load reads an ELF file via f (already open, positioned at byte 0)
// and maps its PT_LOAD segments into ms. base is added to every
// vaddr in the file; it must be 0 for ET_EXEC and a page-aligned
// placement chosen by the caller for ET_DYN (PIE).
func Load(ms *vm.MemorySet, alloc *mem.FrameAllocator, f fdops.File, base uintptr) (*Image, defs.Err_t) {
	ef, err := elf.NewFile(fileReaderAt{f})
	if err != nil {
		return nil, defs.ENOEXEC
	}
	defer ef.Close()

	if ef.Class != elf.ELFCLASS64 || ef.Machine != elf.EM_RISCV {
		return nil, defs.ENOEXEC
	}

	img := &Image{IsPIE: ef.Type == elf.ET_DYN}

	for _, p := range ef.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			if perr := loadSegment(ms, alloc, f, p, base); perr != 0 {
				return nil, perr
			}
		case elf.PT_INTERP:
			data := make([]byte, p.Filesz)
			if _, rerr := f.ReadFromOffset(int64(p.Off), data); rerr != 0 {
				return nil, defs.ENOEXEC
			}
			img.Interp = trimNUL(data)
		case elf.PT_PHDR:
			img.Phdr = base + uintptr(p.Vaddr)
		}
	}

	img.Entry = base + uintptr(ef.Entry)
	img.Phnum = len(ef.Progs)
	img.Phentsize = 56 // Elf64_Phdr size, constant across RISC-V ELF64
	if img.Phdr == 0 && len(ef.Progs) > 0 {
		// No PT_PHDR: the header table's address is not derived from
		// the PT_LOAD segments, so Phdr (and with it AT_PHDR) stays 0.
	}
	return img, 0
}

// LoadPath opens name through openFile and loads it, following
// PT_INTERP paths (the dynamic linker) up to maxInterpDepth levels.
func LoadPath(ms *vm.MemorySet, alloc *mem.FrameAllocator, openFile func(string) (fdops.File, defs.Err_t), name string, base uintptr) (*Image, defs.Err_t) {
	depth := 0
	path := name
	var last *Image
	for {
		f, err := openFile(path)
		if err != 0 {
			return nil, err
		}
		img, lerr := Load(ms, alloc, f, base)
		f.Close()
		if lerr != 0 {
			return nil, lerr
		}
		if img.Interp == "" {
			if last == nil {
				return img, 0
			}
			// Chain: the interpreter's own entry point is what sepc
			// actually needs; the executable's entry becomes AT_ENTRY
			// for the interpreter to jump to once relocated.
			img.Entry = last.Entry
			return img, 0
		}
		depth++
		if depth > maxInterpDepth {
			return nil, defs.ENOEXEC
		}
		last = img
		path = img.Interp
		// The interpreter is placed at a fixed high base distinct
		// from the main image to avoid overlap; a real dynamic linker
		// is itself an ET_DYN, so any unused page-aligned address works.
		base = interpBase
	}
}

const interpBase = 0x20000000

func loadSegment(ms *vm.MemorySet, alloc *mem.FrameAllocator, f fdops.File, p *elf.Prog, base uintptr) defs.Err_t {
	if p.Memsz == 0 {
		return 0
	}
	flags := segFlags(p.Flags)
	vstart := base + uintptr(p.Vaddr)
	pageStart := vstart &^ uintptr(mem.PageSize-1)
	pageEnd := (vstart + uintptr(p.Memsz) + uintptr(mem.PageSize-1)) &^ uintptr(mem.PageSize-1)
	length := int(pageEnd - pageStart)

	area := vm.NewLazyFileArea(alloc, length, f, int64(p.Off)-int64(vstart-pageStart))
	if _, err := ms.PushWithBackend(pageStart, length, flags, area, false); err != 0 {
		return err
	}

	// Zero the BSS tail (memsz > filesz): demand-fault the pages, then
	// overwrite the portion beyond filesz with zero, matching biscuit's
	// own "proc_new"/exec bss-clearing step.
	if p.Memsz > p.Filesz {
		zeroStart := vstart + uintptr(p.Filesz)
		zeroLen := int(p.Memsz - p.Filesz)
		zeros := make([]byte, zeroLen)
		if err := ms.ManuallyAllocRange(pageStart, pageEnd, flags); err != 0 {
			return err
		}
		if err := ms.Write(zeroStart, zeros, mem.Write); err != 0 {
			return err
		}
	}
	return 0
}

func segFlags(f elf.ProgFlag) vm.Perm {
	flags := mem.User | mem.Valid
	if f&elf.PF_R != 0 {
		flags |= mem.Read
	}
	if f&elf.PF_W != 0 {
		flags |= mem.Write
	}
	if f&elf.PF_X != 0 {
		flags |= mem.Exec
	}
	return flags
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// fileReaderAt adapts fdops.File's positioned-access methods to
// io.ReaderAt, which debug/elf.NewFile requires.
type fileReaderAt struct {
	f fdops.File
}

func (r fileReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.ReadFromOffset(off, p)
	if err != 0 {
		return n, fmt.Errorf("elf read at %d: errno %d", off, err)
	}
	if n < len(p) {
		return n, fmt.Errorf("elf read at %d: short read", off)
	}
	return n, nil
}
