package mem

import (
	"encoding/binary"
	"fmt"
)

// PTE flag bits, spec.md §4.3: a leaf PTE packs the physical page
// number into bits [53:10] and flags into bits [7:0]. We keep the
// exact bit positions so a PTE value round-trips the way the real
// Sv39 hardware format would.
type PTEFlags uint64

const (
	Valid  PTEFlags = 1 << 0
	Read   PTEFlags = 1 << 1
	Write  PTEFlags = 1 << 2
	Exec   PTEFlags = 1 << 3
	User   PTEFlags = 1 << 4
	Global PTEFlags = 1 << 5
	Access PTEFlags = 1 << 6
	Dirty  PTEFlags = 1 << 7

	flagMask = 0xff
	ppnShift = 10
)

// PTE is a single page-table entry, bit-packed exactly as spec.md §4.3
// describes (PPN in [53:10], flags in [7:0]).
type PTE uint64

func MakePTE(pa uintptr, flags PTEFlags) PTE {
	if pa%PageSize != 0 {
		panic("mem: PTE physical address must be page aligned")
	}
	ppn := uint64(pa) >> PageShift
	return PTE(ppn<<ppnShift | uint64(flags&flagMask))
}

func (p PTE) PA() uintptr    { return uintptr(uint64(p)>>ppnShift) << PageShift }
func (p PTE) Flags() PTEFlags { return PTEFlags(uint64(p) & flagMask) }
func (p PTE) IsValid() bool  { return p.Flags()&Valid != 0 }

const entriesPerLevel = 512 // 4KiB page / 8-byte PTE

// PageTable is a three-level Sv39 page table. Intermediate (non-leaf)
// table pages are frames the PageTable itself owns and frees on
// Close, exactly as spec.md §4.3 requires ("owning their frames...
// so they are freed when the struct is dropped").
type PageTable struct {
	alloc      *FrameAllocator
	root       uintptr // physical address of the level-2 (top) table
	owned      []uintptr
	kernelTop  [2]PTE // the two top-level entries shared read-only from a reference table
	hasKernel  bool
}

// NewPageTable allocates a fresh, empty root table.
func NewPageTable(alloc *FrameAllocator) *PageTable {
	pa, ok := alloc.Alloc()
	if !ok {
		panic("mem: out of frames allocating page table root")
	}
	zero(alloc.Arena().Page(pa))
	return &PageTable{alloc: alloc, root: pa, owned: []uintptr{pa}}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func readPTE(page []byte, idx int) PTE {
	return PTE(binary.LittleEndian.Uint64(page[idx*8:]))
}

func writePTE(page []byte, idx int, v PTE) {
	binary.LittleEndian.PutUint64(page[idx*8:], uint64(v))
}

// indices splits a virtual address into its three Sv39 VPN fields.
func indices(va uintptr) [3]int {
	return [3]int{
		int((va >> 30) & 0x1ff),
		int((va >> 21) & 0x1ff),
		int((va >> 12) & 0x1ff),
	}
}

// walk descends the table, creating missing intermediate tables
// on-demand when create is true. It returns the leaf table's page
// bytes and the index of the VPN[0] entry within it.
func (pt *PageTable) walk(va uintptr, create bool) (leaf []byte, idx int, ok bool) {
	vpn := indices(va)
	cur := pt.root
	for level := 0; level < 2; level++ {
		page := pt.alloc.Arena().Page(cur)
		pte := readPTE(page, vpn[level])
		if !pte.IsValid() {
			if !create {
				return nil, 0, false
			}
			childPA, got := pt.alloc.Alloc()
			if !got {
				return nil, 0, false
			}
			zero(pt.alloc.Arena().Page(childPA))
			pt.owned = append(pt.owned, childPA)
			writePTE(page, vpn[level], MakePTE(childPA, Valid))
			cur = childPA
		} else {
			cur = pte.PA()
		}
	}
	return pt.alloc.Arena().Page(cur), vpn[2], true
}

// Map installs a leaf mapping va -> pa with flags. It fails if a valid
// leaf already exists there. Per spec.md §4.3 the installed entry
// additionally carries Access|Dirty ("hardware does not set A/D on
// this target").
func (pt *PageTable) Map(va, pa uintptr, flags PTEFlags) error {
	if va%PageSize != 0 || pa%PageSize != 0 {
		return fmt.Errorf("mem: Map requires page-aligned addresses")
	}
	leaf, idx, ok := pt.walk(va, true)
	if !ok {
		return fmt.Errorf("mem: Map out of frames")
	}
	if readPTE(leaf, idx).IsValid() {
		return fmt.Errorf("mem: Map: %#x already mapped", va)
	}
	writePTE(leaf, idx, MakePTE(pa, flags|Valid|Access|Dirty))
	return nil
}

// Unmap clears a leaf mapping. It fails if the entry was not valid.
func (pt *PageTable) Unmap(va uintptr) error {
	leaf, idx, ok := pt.walk(va, false)
	if !ok || !readPTE(leaf, idx).IsValid() {
		return fmt.Errorf("mem: Unmap: %#x not mapped", va)
	}
	writePTE(leaf, idx, 0)
	return nil
}

// SetFlags updates the flags of an existing valid leaf.
func (pt *PageTable) SetFlags(va uintptr, flags PTEFlags) error {
	leaf, idx, ok := pt.walk(va, false)
	if !ok || !readPTE(leaf, idx).IsValid() {
		return fmt.Errorf("mem: SetFlags: %#x not mapped", va)
	}
	pa := readPTE(leaf, idx).PA()
	writePTE(leaf, idx, MakePTE(pa, flags|Valid))
	return nil
}

// Query returns the physical address mapped at va, if any.
func (pt *PageTable) Query(va uintptr) (pa uintptr, ok bool) {
	leaf, idx, found := pt.walk(va, false)
	if !found {
		return 0, false
	}
	pte := readPTE(leaf, idx)
	if !pte.IsValid() {
		return 0, false
	}
	return pte.PA(), true
}

// GetEntry returns the leaf page-table page covering va and the index
// of va's entry in it, creating missing intermediate tables on the way.
func (pt *PageTable) GetEntry(va uintptr) (leaf []byte, idx int, ok bool) {
	return pt.walk(va, true)
}

// FlushTLB invalidates a single entry if vaddr is non-nil, or
// everything otherwise. This simulation has no real TLB; the method
// exists so call sites match the spec's shape and a later, more
// faithful backend could hook in here.
func (pt *PageTable) FlushTLB(vaddr *uintptr) {
	_ = vaddr
}

// MapKernelRegions copies the top two Sv39 root entries (the
// conventional kernel half in a 3-level split) from a reference table.
// Those entries are owned by from and are never freed by pt.
func (pt *PageTable) MapKernelRegions(from *PageTable) {
	dstRoot := pt.alloc.Arena().Page(pt.root)
	srcRoot := from.alloc.Arena().Page(from.root)
	for _, idx := range []int{entriesPerLevel - 2, entriesPerLevel - 1} {
		pte := readPTE(srcRoot, idx)
		writePTE(dstRoot, idx, pte)
	}
	pt.hasKernel = true
}

// Root returns the physical address of the top-level table (the value
// that would be installed into satp/cr3 on Activate).
func (pt *PageTable) Root() uintptr { return pt.root }

// Close frees every frame this table owns, except the two shared
// kernel-half entries installed by MapKernelRegions (those frames
// belong to the reference table).
func (pt *PageTable) Close(alloc *FrameAllocator) {
	for _, pa := range pt.owned {
		alloc.Dealloc(pa)
	}
	pt.owned = nil
}
