package defs

import "testing"

func TestBitmapAllocFree(t *testing.T) {
	b := NewBitmap(4)
	got := map[int]bool{}
	for i := 0; i < 4; i++ {
		idx, ok := b.Alloc()
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if got[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		got[idx] = true
	}
	if _, ok := b.Alloc(); ok {
		t.Fatalf("expected exhaustion")
	}
	b.Free(2)
	idx, ok := b.Alloc()
	if !ok || idx != 2 {
		t.Fatalf("expected reuse of freed index 2, got %d,%v", idx, ok)
	}
}

func TestBitmapDoubleFreePanics(t *testing.T) {
	b := NewBitmap(2)
	b.Alloc()
	b.Free(0)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double free")
		}
	}()
	b.Free(0)
}

func TestBitmapMarkReserved(t *testing.T) {
	b := NewBitmap(8)
	b.Mark(0)
	b.Mark(1)
	b.Mark(2)
	idx, ok := b.Alloc()
	if !ok || idx != 3 {
		t.Fatalf("expected first free index 3, got %d,%v", idx, ok)
	}
}

func TestBitmapGrowShrink(t *testing.T) {
	b := NewBitmap(2)
	b.Alloc()
	b.Alloc()
	if _, ok := b.Alloc(); ok {
		t.Fatalf("expected exhaustion at capacity 2")
	}
	b.Grow(4)
	idx, ok := b.Alloc()
	if !ok || idx != 2 {
		t.Fatalf("expected growth to admit index 2, got %d,%v", idx, ok)
	}
	b.Shrink(2)
	if _, ok := b.Alloc(); ok {
		t.Fatalf("expected shrink to withdraw spare capacity")
	}
}
