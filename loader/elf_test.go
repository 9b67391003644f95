package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"rv39kernel/defs"
	"rv39kernel/fdops"
	"rv39kernel/mem"
	"rv39kernel/vm"
)

// memFile is a read-only fdops.File backed by an in-memory byte slice,
// enough to exercise Load/LoadPath without a real filesystem.
type memFile struct {
	fdops.BaseFile
	data []byte
}

func (m *memFile) ReadFromOffset(pos int64, buf []byte) (int, defs.Err_t) {
	if pos < 0 || pos > int64(len(m.data)) {
		return 0, defs.EINVAL
	}
	n := copy(buf, m.data[pos:])
	return n, 0
}

// buildMinimalELF produces a valid little-endian ELF64/RISC-V
// executable with a single PT_LOAD segment carrying payload at vaddr,
// entry point entry, and no section headers (debug/elf tolerates a
// missing section table on an ET_EXEC binary with program headers).
func buildMinimalELF(entry, vaddr uint64, payload []byte) []byte {
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 1 /*32/64*/, 1 /*LE*/, 1 /*version*/}
	ident[4] = 2 // ELFCLASS64
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(&buf, binary.LittleEndian, uint64(entry))
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))      // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	phoff := uint64(ehsize + phsize)
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PF_R|elf.PF_X))
	binary.Write(&buf, binary.LittleEndian, phoff)      // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)      // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)      // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload))) // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload))) // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))       // p_align

	buf.Write(payload)
	return buf.Bytes()
}

func newTestMemorySet(t *testing.T) (*vm.MemorySet, *mem.FrameAllocator) {
	t.Helper()
	arena := mem.NewArena(256 * mem.PageSize)
	alloc := mem.NewFrameAllocator(arena)
	alloc.Init([]mem.Region{{Start: 0, End: uintptr(arena.Size())}})
	return vm.NewMemorySet(alloc, nil), alloc
}

func TestLoadMapsEntryAndSegment(t *testing.T) {
	const vaddr = 0x10000
	const entry = vaddr + 4
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	raw := buildMinimalELF(entry, vaddr, payload)

	ms, alloc := newTestMemorySet(t)
	f := &memFile{data: raw}

	img, err := Load(ms, alloc, f, 0)
	if err != 0 {
		t.Fatalf("Load: %d", err)
	}
	if img.Entry != entry {
		t.Fatalf("expected entry %#x, got %#x", entry, img.Entry)
	}
	if img.Interp != "" {
		t.Fatalf("expected no interpreter, got %q", img.Interp)
	}

	got := make([]byte, len(payload))
	if err := ms.Read(vaddr, got, mem.Read); err != 0 {
		t.Fatalf("Read mapped segment: %d", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("segment data mismatch: got %v want %v", got, payload)
	}
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	raw := buildMinimalELF(0x1000, 0x1000, nil)
	raw[18] = byte(elf.EM_X86_64) // overwrite e_machine low byte
	ms, alloc := newTestMemorySet(t)
	f := &memFile{data: raw}
	if _, err := Load(ms, alloc, f, 0); err != defs.ENOEXEC {
		t.Fatalf("expected ENOEXEC for wrong machine, got %d", err)
	}
}

func TestSegFlagsTranslatesPermissionBits(t *testing.T) {
	f := segFlags(elf.PF_R | elf.PF_W)
	if f&mem.Write == 0 || f&mem.Exec != 0 {
		t.Fatalf("unexpected flags: %v", f)
	}
}

func TestTrimNUL(t *testing.T) {
	if got := trimNUL([]byte("abc\x00junk")); got != "abc" {
		t.Fatalf("expected %q, got %q", "abc", got)
	}
}
