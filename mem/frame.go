// Package mem implements the page-frame allocator and the Sv39-shaped
// three-level page table spec.md §4.1/§4.3 describe. Physical memory
// is simulated as a single Go byte arena; a PageFrame is an index into
// that arena, the same role biscuit's Physmem_t/Pa_t pairing plays,
// reshaped from biscuit's refcounted free list onto the spec's bitmap
// contract.
package mem

import (
	"sync"

	"rv39kernel/defs"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Arena is the simulated physical address space: one contiguous byte
// slice standing in for RAM, the same idea as biscuit's Dmap window
// onto Physmem_t but expressed as ordinary addressable memory instead
// of an unsafe-pointer direct map, since this rendition has no real
// MMU to identity-map through.
type Arena struct {
	bytes []byte
}

// NewArena allocates a zeroed arena of the given byte size, which must
// be a multiple of PageSize.
func NewArena(size int) *Arena {
	if size%PageSize != 0 {
		panic("mem: arena size must be page aligned")
	}
	return &Arena{bytes: make([]byte, size)}
}

func (a *Arena) Size() int { return len(a.bytes) }

// Page returns the PageSize-byte slice backing the frame at byte
// offset off (off must be page-aligned and in range).
func (a *Arena) Page(off uintptr) []byte {
	if int(off)+PageSize > len(a.bytes) || off%PageSize != 0 {
		panic("mem: frame offset out of range or misaligned")
	}
	return a.bytes[off : off+PageSize]
}

// FrameAllocator is the global bitmap-backed page-frame allocator,
// spec.md §4.1. It must be Init'd exactly once per "boot".
type FrameAllocator struct {
	mu     sync.Mutex
	arena  *Arena
	bitmap *defs.Bitmap
	frames int
	inited bool
}

// Region is a [Start,End) physical byte range donated to the
// allocator at Init time.
type Region struct {
	Start, End uintptr
}

// NewFrameAllocator creates an allocator bound to arena; Init must
// still be called before use.
func NewFrameAllocator(arena *Arena) *FrameAllocator {
	return &FrameAllocator{arena: arena}
}

// Init consumes the donated regions and builds the free bitmap. A
// second call panics, matching spec.md §4.1 ("initialisable exactly
// once per boot").
func (f *FrameAllocator) Init(regions []Region) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inited {
		panic("mem: frame allocator already initialised")
	}
	frames := f.arena.Size() / PageSize
	f.bitmap = defs.NewBitmap(frames)
	f.frames = frames
	// Mark every frame not covered by a donated region as permanently
	// reserved (unusable), by first marking everything reserved then
	// freeing the donated ranges — mirrors the boot sequence reserving
	// firmware/kernel-image pages before handing the rest to the pool.
	for i := 0; i < frames; i++ {
		f.bitmap.Mark(i)
	}
	free := make([]bool, frames)
	for _, r := range regions {
		if r.Start%PageSize != 0 || r.End%PageSize != 0 || r.End < r.Start {
			panic("mem: misaligned region")
		}
		for off := r.Start; off < r.End; off += PageSize {
			idx := int(off / PageSize)
			if idx >= 0 && idx < frames {
				free[idx] = true
			}
		}
	}
	for i, isFree := range free {
		if isFree {
			f.bitmap.Free(i)
		}
	}
	f.inited = true
}

// Alloc returns the physical address of a freshly claimed, page-sized
// frame, or ok=false if none remain.
func (f *FrameAllocator) Alloc() (pa uintptr, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, got := f.bitmap.Alloc()
	if !got {
		return 0, false
	}
	return uintptr(idx) * PageSize, true
}

// AllocContiguous returns n contiguous frames aligned to 1<<log2Align
// bytes, used for DMA-style multi-frame allocations (spec.md §3
// PageFrame "contiguous multi-frame allocation for DMA").
func (f *FrameAllocator) AllocContiguous(n int, log2Align uint) (pa uintptr, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	align := uintptr(1) << log2Align
	if align < PageSize {
		align = PageSize
	}
	for start := uintptr(0); int(start/PageSize)+n <= f.frames; start += align {
		allFree := true
		for i := 0; i < n; i++ {
			idx := int(start/PageSize) + i
			if f.bitmap.InUse(idx) {
				allFree = false
				break
			}
		}
		if allFree {
			for i := 0; i < n; i++ {
				f.bitmap.Mark(int(start/PageSize) + i)
			}
			return start, true
		}
	}
	return 0, false
}

// Dealloc returns a single frame to the pool. Double-free or
// out-of-range deallocation panics (spec.md §4.1: "programmer error").
func (f *FrameAllocator) Dealloc(pa uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pa%PageSize != 0 {
		panic("mem: dealloc of misaligned address")
	}
	f.bitmap.Free(int(pa / PageSize))
}

// DeallocContiguous returns n frames starting at pa.
func (f *FrameAllocator) DeallocContiguous(pa uintptr, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pa%PageSize != 0 {
		panic("mem: dealloc of misaligned address")
	}
	base := int(pa / PageSize)
	for i := 0; i < n; i++ {
		f.bitmap.Free(base + i)
	}
}

// Arena exposes the backing arena so callers can get at frame bytes.
func (f *FrameAllocator) Arena() *Arena { return f.arena }

// PageFrame owns a single allocated frame; Close returns it to the
// allocator exactly once (the Go stand-in for biscuit's Drop-based
// Frame handle, since Go has no destructors).
type PageFrame struct {
	alloc *FrameAllocator
	pa    uintptr
	freed bool
}

// AllocFrame claims a zero-filled frame.
func AllocFrame(alloc *FrameAllocator) (*PageFrame, bool) {
	pa, ok := alloc.Alloc()
	if !ok {
		return nil, false
	}
	pf := &PageFrame{alloc: alloc, pa: pa}
	pf.Zero()
	return pf, true
}

func (pf *PageFrame) PA() uintptr { return pf.pa }

// Bytes returns the frame's backing slice for direct manipulation.
func (pf *PageFrame) Bytes() []byte { return pf.alloc.Arena().Page(pf.pa) }

func (pf *PageFrame) Zero() {
	b := pf.Bytes()
	for i := range b {
		b[i] = 0
	}
}

// Close returns the frame to its allocator. Calling Close twice
// panics, matching the "double-free is a programmer error" contract.
func (pf *PageFrame) Close() {
	if pf.freed {
		panic("mem: PageFrame closed twice")
	}
	pf.freed = true
	pf.alloc.Dealloc(pf.pa)
}
