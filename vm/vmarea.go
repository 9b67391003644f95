package vm

import (
	"rv39kernel/defs"
	"rv39kernel/mem"
)

// Perm is the permission/flag set a VmArea carries. It mirrors the PTE
// flag bits in package mem so area flags translate to PTE flags
// without remapping tables.
type Perm = mem.PTEFlags

// VmArea is a contiguous virtual range with uniform flags and a single
// PmArea, spec.md §4.4.
type VmArea struct {
	start, end uintptr
	flags      Perm
	pm         PmArea
}

func NewVmArea(start, end uintptr, flags Perm, pm PmArea) *VmArea {
	if start%mem.PageSize != 0 || end%mem.PageSize != 0 || end <= start {
		panic("vm: VmArea bounds must be page aligned and non-empty")
	}
	if int(end-start) != pm.Size() {
		panic("vm: VmArea/PmArea size mismatch")
	}
	return &VmArea{start: start, end: end, flags: flags, pm: pm}
}

func (v *VmArea) Start() uintptr { return v.start }
func (v *VmArea) End() uintptr   { return v.end }
func (v *VmArea) Flags() Perm    { return v.flags }
func (v *VmArea) PmArea() PmArea { return v.pm }
func (v *VmArea) IsUser() bool   { return v.flags&mem.User != 0 }

func (v *VmArea) pageIndex(vaddr uintptr) int {
	return int((vaddr - v.start) / mem.PageSize)
}

// MapArea walks every page in the range; where the PmArea can produce
// a frame now it is installed with the area's flags, otherwise the PTE
// is left invalid (lazily reserved, not resident), per spec.md §4.4.
func (v *VmArea) MapArea(pt *mem.PageTable) error {
	pages := int(v.end-v.start) / mem.PageSize
	for i := 0; i < pages; i++ {
		va := v.start + uintptr(i)*mem.PageSize
		pa, ok := v.pm.GetFrame(i, false)
		if !ok {
			continue
		}
		if err := pt.Map(va, pa, v.flags); err != nil {
			return err
		}
	}
	return nil
}

// UnmapArea asks the PmArea to release each frame; pages never
// realised are left untouched (no PTE existed for them).
func (v *VmArea) UnmapArea(pt *mem.PageTable) {
	pages := int(v.end-v.start) / mem.PageSize
	for i := 0; i < pages; i++ {
		va := v.start + uintptr(i)*mem.PageSize
		if _, ok := pt.Query(va); ok {
			pt.Unmap(va)
		}
		v.pm.ReleaseFrame(i)
	}
}

// HandlePageFault resolves a fault at the given offset into this area,
// per spec.md §4.4.
func (v *VmArea) HandlePageFault(offset int, accessFlags Perm, pt *mem.PageTable) defs.Err_t {
	if v.flags&accessFlags != accessFlags {
		return defs.EPERM
	}
	pa, ok := v.pm.GetFrame(offset/mem.PageSize, true)
	if !ok {
		return defs.ENOMEM
	}
	va := v.start + uintptr(offset)
	if _, exists := pt.Query(va); exists {
		panic("vm: page fault on already-valid PTE")
	}
	if err := pt.Map(va, pa, v.flags|mem.Valid|mem.Access|mem.Dirty); err != nil {
		panic("vm: map during fault handling failed: " + err.Error())
	}
	pt.FlushTLB(&va)
	return 0
}

// CopyToNewAreaWithData creates a new VmArea over the identical
// [start,end) range and flags with an empty Lazy backing store, then
// for every resident page in the source copies its bytes into a fresh
// frame in the copy. Unrealised (lazy, never-faulted) pages stay lazy
// in the copy — fork preserves laziness, per spec.md §4.4.
func (v *VmArea) CopyToNewAreaWithData(alloc *mem.FrameAllocator) *VmArea {
	newPm := NewLazyArea(alloc, int(v.end-v.start))
	pages := int(v.end-v.start) / mem.PageSize
	for i := 0; i < pages; i++ {
		if pa, ok := v.pm.GetFrame(i, false); ok {
			dstPA, ok := newPm.GetFrame(i, true)
			if !ok {
				panic("vm: out of frames during fork copy")
			}
			copy(alloc.Arena().Page(dstPA), alloc.Arena().Page(pa))
		}
	}
	return NewVmArea(v.start, v.end, v.flags, newPm)
}

// Msync flushes the intersection of [start,end) with this area back to
// its file backend, per spec.md §4.4.
func (v *VmArea) Msync(start, end uintptr) defs.Err_t {
	lo, hi := start, end
	if lo < v.start {
		lo = v.start
	}
	if hi > v.end {
		hi = v.end
	}
	if lo >= hi {
		return 0
	}
	first := v.pageIndex(lo)
	last := (int(hi-v.start) - 1) / mem.PageSize
	for idx := first; idx <= last; idx++ {
		if err := v.pm.SyncFrameWithFile(idx); err != 0 {
			return err
		}
	}
	return 0
}

// --- rangemap.Item[*VmArea] implementation -------------------------
//
// args is always a *mem.PageTable: every mutating range-map operation
// on a MemorySet must update the live page table alongside the
// interval bookkeeping, per spec.md §3 ("args... used to pass the
// page-table handle").

func (v *VmArea) Remove(args any) {
	pt := args.(*mem.PageTable)
	v.UnmapArea(pt)
}

func (v *VmArea) Split(pos uintptr, args any) *VmArea {
	pt := args.(*mem.PageTable)
	at := int(pos-v.start) / mem.PageSize
	rightPm := v.pm.Split(at)
	right := &VmArea{start: pos, end: v.end, flags: v.flags, pm: rightPm}
	v.end = pos
	_ = pt // the split itself touches no PTEs; callers unmap/remap as needed
	return right
}

func (v *VmArea) Modify(newFlags uint, args any) {
	pt := args.(*mem.PageTable)
	v.flags = Perm(newFlags)
	pages := int(v.end-v.start) / mem.PageSize
	for i := 0; i < pages; i++ {
		va := v.start + uintptr(i)*mem.PageSize
		if _, ok := pt.Query(va); ok {
			pt.SetFlags(va, v.flags)
		}
	}
}
