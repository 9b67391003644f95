package vm

import (
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
	"rv39kernel/mem"
	"rv39kernel/rangemap"
)

// Address-space layout constants, spec.md §4.6 (LOWER_LIMIT/UPPER_LIMIT)
// and §4.5 (USER_VIRT_LIMIT).
const (
	LowerLimit     uintptr = 0x1000
	UpperLimit     uintptr = 1 << 38 // top of the Sv39 user half
	UserVirtLimit  uintptr = 1 << 38
)

// MemorySet is one address space: a page table plus the interval map
// of VmAreas covering it, spec.md §4.5. It owns a mutex because
// multiple threads sharing CLONE_VM may fault concurrently.
type MemorySet struct {
	mu    sync.Mutex
	alloc *mem.FrameAllocator
	pt    *mem.PageTable
	areas *rangemap.Map[*VmArea]
}

// NewMemorySet creates an empty address space and installs the shared
// kernel half from kernelPT (may be nil for the kernel's own set).
func NewMemorySet(alloc *mem.FrameAllocator, kernelPT *mem.PageTable) *MemorySet {
	pt := mem.NewPageTable(alloc)
	if kernelPT != nil {
		pt.MapKernelRegions(kernelPT)
	}
	return &MemorySet{alloc: alloc, pt: pt, areas: rangemap.New[*VmArea]()}
}

func (ms *MemorySet) PageTable() *mem.PageTable { return ms.pt }

// Allocator exposes the frame allocator backing this address space, so
// callers building new areas against it (execve's loader.Load/
// BuildStack) don't need a separate reference threaded everywhere a
// MemorySet already is.
func (ms *MemorySet) Allocator() *mem.FrameAllocator { return ms.alloc }
func (ms *MemorySet) Lock()                     { ms.mu.Lock() }
func (ms *MemorySet) Unlock()                    { ms.mu.Unlock() }

// Push inserts vma iff its range is free; an overlap is a programmer
// error (spec.md §4.5).
func (ms *MemorySet) Push(v *VmArea) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.areas.Insert(v) {
		panic("vm: Push: overlapping range")
	}
	if err := v.MapArea(ms.pt); err != nil {
		panic("vm: Push: map_area failed: " + err.Error())
	}
}

// Munmap removes/clips every area overlapping [start,end), per
// spec.md §4.5.
func (ms *MemorySet) Munmap(start, end uintptr) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.areas.Unmap(start, end, ms.pt)
}

// Mprotect rewrites flags over [start,end), per spec.md §4.5.
func (ms *MemorySet) Mprotect(start, end uintptr, flags Perm) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.areas.Mprotect(start, end, uint(flags), ms.pt)
}

// PushWithBackend implements mmap, spec.md §4.5: when anywhere is
// true, find the lowest free gap >= start of the requested length;
// otherwise munmap the exact target range first and place there.
func (ms *MemorySet) PushWithBackend(start uintptr, length int, flags Perm, pm PmArea, anywhere bool) (uintptr, defs.Err_t) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var base uintptr
	if anywhere {
		gap, ok := rangemap.FindFreeArea[*VmArea](ms.areas, start, LowerLimit, UpperLimit, uintptr(length))
		if !ok {
			return 0, defs.ENOMEM
		}
		base = gap
	} else {
		ms.areas.Unmap(start, start+uintptr(length), ms.pt)
		base = start
	}
	v := NewVmArea(base, base+uintptr(length), flags, pm)
	if !ms.areas.Insert(v) {
		panic("vm: push_with_backend: race inserting computed range")
	}
	if err := v.MapArea(ms.pt); err != nil {
		return 0, defs.ENOMEM
	}
	return base, 0
}

// MmapAnon is a convenience wrapper over PushWithBackend for anonymous
// (non-file-backed) mappings.
func (ms *MemorySet) MmapAnon(start uintptr, length int, flags Perm, anywhere bool) (uintptr, defs.Err_t) {
	return ms.PushWithBackend(start, length, flags, NewLazyArea(ms.alloc, length), anywhere)
}

// MmapFile maps a region backed by file starting at fileOffset.
func (ms *MemorySet) MmapFile(start uintptr, length int, flags Perm, file fdops.File, fileOffset int64, anywhere bool) (uintptr, defs.Err_t) {
	return ms.PushWithBackend(start, length, flags, NewLazyFileArea(ms.alloc, length, file, fileOffset), anywhere)
}

// MsyncAreas flushes [start,end) back to file backends; ENOMEM if no
// area overlaps at all, per spec.md §4.5.
func (ms *MemorySet) MsyncAreas(start, end uintptr) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	found := false
	for _, a := range ms.areas.All() {
		if a.Start() < end && start < a.End() {
			found = true
			if err := a.Msync(start, end); err != 0 {
				return err
			}
		}
	}
	if !found {
		return defs.ENOMEM
	}
	return 0
}

// HandlePageFault finds the enclosing area and delegates, per
// spec.md §4.5.
func (ms *MemorySet) HandlePageFault(vaddr uintptr, accessFlags Perm) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	area, ok := ms.areas.Find(vaddr)
	if !ok {
		return defs.EFAULT
	}
	return area.HandlePageFault(int(vaddr-area.Start()), accessFlags, ms.pt)
}

// CopyAsFork builds a new MemorySet sharing the kernel half with
// kernelPT, and for every user area of ms performs an eager copy
// (spec.md §9: "the source performs eager copy... CoW is a legitimate
// optimisation").
func (ms *MemorySet) CopyAsFork(kernelPT *mem.PageTable) *MemorySet {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := NewMemorySet(ms.alloc, kernelPT)
	for _, a := range ms.areas.All() {
		cp := a.CopyToNewAreaWithData(ms.alloc)
		if !out.areas.Insert(cp) {
			panic("vm: copy_as_fork: overlapping range in copy")
		}
		if err := cp.MapArea(out.pt); err != nil {
			panic("vm: copy_as_fork: map_area failed: " + err.Error())
		}
	}
	return out
}

// ManuallyAllocRange touches every page in [start,end) of user memory,
// triggering demand allocation so later kernel writes cannot fault.
// Returns EFAULT if any part of the range lies outside a user area.
func (ms *MemorySet) ManuallyAllocRange(start, end uintptr, accessFlags Perm) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for va := start - start%mem.PageSize; va < end; va += mem.PageSize {
		area, ok := ms.areas.Find(va)
		if !ok || !area.IsUser() {
			return defs.EFAULT
		}
		if _, exists := ms.pt.Query(va); exists {
			continue
		}
		if err := area.HandlePageFault(int(va-area.Start()), accessFlags, ms.pt); err != 0 {
			return err
		}
	}
	return 0
}

// ManuallyAllocPage is the single-page case of ManuallyAllocRange.
func (ms *MemorySet) ManuallyAllocPage(vaddr uintptr, accessFlags Perm) defs.Err_t {
	page := vaddr - vaddr%mem.PageSize
	return ms.ManuallyAllocRange(page, page+1, accessFlags)
}

// ManuallyAllocType touches the range covering sizeof(T) bytes at
// vaddr; since Go has no generic sizeof, callers pass the byte size.
func (ms *MemorySet) ManuallyAllocType(vaddr uintptr, size int, accessFlags Perm) defs.Err_t {
	return ms.ManuallyAllocRange(vaddr, vaddr+uintptr(size), accessFlags)
}

// ManuallyAllocUserStr touches vaddr and each address PageSize apart
// after it, below vaddr+maxLen, returning the first error. It does not
// look for a NUL byte: the whole span is touched either way.
func (ms *MemorySet) ManuallyAllocUserStr(vaddr uintptr, maxLen int) defs.Err_t {
	for i := 0; i < maxLen; i += mem.PageSize {
		if err := ms.ManuallyAllocPage(vaddr+uintptr(i), mem.Read); err != 0 {
			return err
		}
	}
	return 0
}

// Read copies len(dst) bytes starting at vaddr out of user memory,
// verifying accessFlags against each covering area; the only
// sanctioned way the kernel touches user memory, per spec.md §4.5.
func (ms *MemorySet) Read(vaddr uintptr, dst []byte, accessFlags Perm) defs.Err_t {
	return ms.rw(vaddr, dst, accessFlags, false)
}

// Write is the Read counterpart for kernel-to-user copies.
func (ms *MemorySet) Write(vaddr uintptr, src []byte, accessFlags Perm) defs.Err_t {
	return ms.rw(vaddr, src, accessFlags, true)
}

func (ms *MemorySet) rw(vaddr uintptr, buf []byte, accessFlags Perm, isWrite bool) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	total := 0
	for total < len(buf) {
		va := vaddr + uintptr(total)
		area, ok := ms.areas.Find(va)
		if !ok || !area.IsUser() || area.Flags()&accessFlags != accessFlags {
			return defs.EFAULT
		}
		if _, exists := ms.pt.Query(va); !exists {
			if err := area.HandlePageFault(int(va-area.Start()), accessFlags, ms.pt); err != 0 {
				return err
			}
		}
		// contiguous run within this area, capped by the area's end.
		runEnd := area.End()
		n := len(buf) - total
		if vaddr+uintptr(total)+uintptr(n) > runEnd {
			n = int(runEnd - va)
		}
		pm := area.PmArea()
		off := int(va - area.Start())
		if isWrite {
			written, err := pm.Write(off, buf[total:total+n])
			total += written
			if err != 0 {
				return err
			}
		} else {
			read, err := pm.Read(off, buf[total:total+n])
			total += read
			if err != 0 {
				return err
			}
		}
	}
	return 0
}

// ClearUserPagesAndSaveKernel truncates the interval map to
// [0,USER_VIRT_LIMIT) on exec, per spec.md §4.5.
func (ms *MemorySet) ClearUserPagesAndSaveKernel() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.areas.Unmap(0, UserVirtLimit, ms.pt)
}

// Activate "installs" this address space as current. With no real MMU
// control register to write, this simulation just flushes the TLB
// stand-in; call sites keep the shape of the original's satp/cr3
// write for documentation purposes.
func (ms *MemorySet) Activate() {
	ms.pt.FlushTLB(nil)
}

// Close unmaps every remaining area (releasing its frames), empties
// the area map, then releases the page table's owned frames, mirroring
// biscuit's Uvmfree ordering (free the mappings, then the table itself).
func (ms *MemorySet) Close() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, a := range ms.areas.All() {
		a.UnmapArea(ms.pt)
	}
	ms.areas.Clear()
	ms.pt.Close(ms.alloc)
}
