// Package rangemap implements the generic range-action interval map
// spec.md §4.6 describes: a sorted-by-start collection of half-open
// ranges, each carrying a payload that knows how to remove, split and
// modify itself. biscuit predates Go generics and keeps its own
// interval structure (Vmregion_t, read from vm/as.go) as a plain
// sorted slice of concrete VmArea values; this package generalises
// that same sorted-slice shape with a type parameter instead of
// reaching for a tree library, matching the teacher's preference for
// slices over containers.
package rangemap

import "sort"

// Item is anything with a half-open [Start,End) extent that can
// remove, split and modify itself in place. Split must shrink the
// receiver to [start,pos) and return a new value covering [pos,end).
// Modify mutates the receiver's flags; args is an opaque value threaded
// through by the caller (the VM core uses it to pass the page-table
// handle, per spec.md §3).
type Item[T any] interface {
	Start() uintptr
	End() uintptr
	Remove(args any)
	Split(pos uintptr, args any) T
	Modify(newFlags uint, args any)
}

// Map is a sorted-by-start collection of non-overlapping Items.
type Map[T Item[T]] struct {
	items []T
}

func New[T Item[T]]() *Map[T] {
	return &Map[T]{}
}

func (m *Map[T]) Len() int { return len(m.items) }

// All returns the items in start order. Callers must not retain the
// slice across a mutating call.
func (m *Map[T]) All() []T { return m.items }

func (m *Map[T]) indexOf(start uintptr) (int, bool) {
	i := sort.Search(len(m.items), func(i int) bool { return m.items[i].Start() >= start })
	if i < len(m.items) && m.items[i].Start() == start {
		return i, true
	}
	return i, false
}

// Find returns the item whose range contains pos, if any.
func (m *Map[T]) Find(pos uintptr) (T, bool) {
	i := sort.Search(len(m.items), func(i int) bool { return m.items[i].Start() > pos })
	if i == 0 {
		var zero T
		return zero, false
	}
	cand := m.items[i-1]
	if pos >= cand.Start() && pos < cand.End() {
		return cand, true
	}
	var zero T
	return zero, false
}

// Insert adds item iff its range does not overlap an existing one.
func (m *Map[T]) Insert(item T) bool {
	for _, it := range m.items {
		if item.Start() < it.End() && it.Start() < item.End() {
			return false
		}
	}
	idx, _ := m.indexOf(item.Start())
	m.items = append(m.items, item)
	copy(m.items[idx+1:], m.items[idx:len(m.items)-1])
	m.items[idx] = item
	return true
}

func (m *Map[T]) removeAt(idx int) {
	m.items = append(m.items[:idx], m.items[idx+1:]...)
}

// overlapping returns the indices of every item overlapping [start,end).
func (m *Map[T]) overlapping(start, end uintptr) []int {
	var out []int
	for i, it := range m.items {
		if it.Start() < end && start < it.End() {
			out = append(out, i)
		}
	}
	return out
}

// DiffKind is the geometric outcome of a shape-shrinking operation.
type DiffKind int

const (
	DiffUnchanged DiffKind = iota
	DiffRemoved
	DiffShrinked
	DiffSplitted
)

type DiffSet[T any] struct {
	Kind  DiffKind
	Right T // populated iff Kind == DiffSplitted
}

// CutKind is the geometric outcome of a flag-modifying operation.
type CutKind int

const (
	CutUnchanged CutKind = iota
	CutWholeModified
	CutModifiedLeft
	CutModifiedRight
	CutModifiedMiddle
)

type CutSet[T any] struct {
	Kind   CutKind
	Middle T // populated iff Kind == CutModifiedMiddle
	Right  T // populated iff Kind == CutModifiedLeft/Right/Middle
}

// Unmap removes or clips every item overlapping [start,end), applying
// the overlap taxonomy of spec.md §4.5's munmap: full cover -> remove,
// left end clipped -> shrink-to-right, right end clipped ->
// shrink-to-left, strictly interior -> split-and-remove-middle.
func (m *Map[T]) Unmap(start, end uintptr, args any) []DiffSet[T] {
	var results []DiffSet[T]
	idxs := m.overlapping(start, end)
	// process back-to-front so index shifts from removal don't disturb
	// earlier indices we still need to visit.
	for i := len(idxs) - 1; i >= 0; i-- {
		idx := idxs[i]
		it := m.items[idx]
		s, e := it.Start(), it.End()
		switch {
		case start <= s && end >= e:
			it.Remove(args)
			m.removeAt(idx)
			results = append(results, DiffSet[T]{Kind: DiffRemoved})
		case start <= s && end < e:
			// left clipped: area becomes [end, e). it.Split(end) leaves
			// it holding the discarded [s,end) prefix and returns the
			// surviving [end,e) suffix.
			right := it.Split(end, args)
			it.Remove(args)
			m.items[idx] = right
			results = append(results, DiffSet[T]{Kind: DiffShrinked})
		case start > s && end >= e:
			// right clipped: area becomes [s, start)
			right := it.Split(start, args)
			right.Remove(args)
			m.items[idx] = it
			results = append(results, DiffSet[T]{Kind: DiffShrinked})
		default:
			// strictly interior: split into [s,start) and [end,e),
			// discard the middle.
			mid := it.Split(start, args)
			right := mid.Split(end, args)
			mid.Remove(args)
			m.items[idx] = it
			if !m.Insert(right) {
				panic("rangemap: unmap split produced overlapping range")
			}
			results = append(results, DiffSet[T]{Kind: DiffSplitted, Right: right})
		}
	}
	return results
}

// Mprotect rewrites flags in situ for every item overlapping
// [start,end), splitting an item if the range lies in its interior,
// per spec.md §4.5.
func (m *Map[T]) Mprotect(start, end uintptr, newFlags uint, args any) []CutSet[T] {
	var results []CutSet[T]
	idxs := m.overlapping(start, end)
	for i := len(idxs) - 1; i >= 0; i-- {
		idx := idxs[i]
		it := m.items[idx]
		s, e := it.Start(), it.End()
		switch {
		case start <= s && end >= e:
			it.Modify(newFlags, args)
			m.items[idx] = it
			results = append(results, CutSet[T]{Kind: CutWholeModified})
		case start <= s && end < e:
			right := it.Split(end, args)
			it.Modify(newFlags, args)
			m.items[idx] = it
			if !m.Insert(right) {
				panic("rangemap: mprotect split produced overlapping range")
			}
			results = append(results, CutSet[T]{Kind: CutModifiedLeft, Right: right})
		case start > s && end >= e:
			right := it.Split(start, args)
			right.Modify(newFlags, args)
			m.items[idx] = it
			if !m.Insert(right) {
				panic("rangemap: mprotect split produced overlapping range")
			}
			results = append(results, CutSet[T]{Kind: CutModifiedRight, Right: right})
		default:
			mid := it.Split(start, args)
			right := mid.Split(end, args)
			mid.Modify(newFlags, args)
			m.items[idx] = it
			if !m.Insert(mid) {
				panic("rangemap: mprotect split produced overlapping range")
			}
			if !m.Insert(right) {
				panic("rangemap: mprotect split produced overlapping range")
			}
			results = append(results, CutSet[T]{Kind: CutModifiedMiddle, Middle: mid, Right: right})
		}
	}
	return results
}

// FindFreeArea sweeps the map in start order and returns the first gap
// of length >= length whose end does not exceed upperLimit, searching
// no lower than max(hint, lowerLimit). Mirrors spec.md §4.6 exactly.
func FindFreeArea[T Item[T]](m *Map[T], hint, lowerLimit, upperLimit, length uintptr) (uintptr, bool) {
	cand := hint
	if cand < lowerLimit {
		cand = lowerLimit
	}
	for _, it := range m.items {
		if it.Start() >= cand {
			break
		}
		if it.End() > cand {
			cand = it.End()
		}
	}
	for _, it := range m.items {
		if it.Start() < cand {
			continue
		}
		if it.Start()-cand >= length {
			if cand+length <= upperLimit {
				return cand, true
			}
			return 0, false
		}
		if it.End() > cand {
			cand = it.End()
		}
	}
	if cand+length <= upperLimit {
		return cand, true
	}
	return 0, false
}

// Clear empties the map without invoking Remove on any item (used when
// the owner is tearing everything down itself, e.g. process exit).
func (m *Map[T]) Clear() { m.items = nil }
