package fd

import (
	"testing"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

type stubFile struct {
	fdops.BaseFile
	closed    bool
	reopened  int
}

func (s *stubFile) Close() defs.Err_t  { s.closed = true; return 0 }
func (s *stubFile) Reopen() defs.Err_t { s.reopened++; return 0 }

func TestPushGetRemove(t *testing.T) {
	tbl := NewTable()
	f := &stubFile{}
	n, err := tbl.Push(f, Read, 0)
	if err != 0 || n != 0 {
		t.Fatalf("Push: got (%d,%d)", n, err)
	}
	got, err := tbl.GetFile(n)
	if err != 0 || got != f {
		t.Fatalf("GetFile: got (%v,%d)", got, err)
	}
	if _, err := tbl.RemoveFile(n); err != 0 {
		t.Fatalf("RemoveFile: %d", err)
	}
	if _, err := tbl.GetFile(n); err != defs.EBADF {
		t.Fatalf("GetFile after remove: %d", err)
	}
}

func TestPushAtAndCopyFdTo(t *testing.T) {
	tbl := NewTable()
	f := &stubFile{}
	if err := tbl.PushAt(5, f, Read); err != 0 {
		t.Fatalf("PushAt: %d", err)
	}
	if err := tbl.CopyFdTo(5, 6); err != 0 {
		t.Fatalf("CopyFdTo: %d", err)
	}
	got, _ := tbl.GetFile(6)
	if got != f {
		t.Fatalf("dup target mismatch")
	}
	if f.reopened != 1 {
		t.Fatalf("expected one Reopen, got %d", f.reopened)
	}
}

func TestCloseCloexecFiles(t *testing.T) {
	tbl := NewTable()
	keep := &stubFile{}
	drop := &stubFile{}
	n1, _ := tbl.Push(keep, Read, 0)
	n2, _ := tbl.Push(drop, Read|CloExec, 0)
	tbl.CloseCloexecFiles()
	if !drop.closed {
		t.Fatalf("cloexec file should have been closed")
	}
	if keep.closed {
		t.Fatalf("non-cloexec file should survive")
	}
	if _, err := tbl.GetFile(n2); err != defs.EBADF {
		t.Fatalf("cloexec fd should be gone")
	}
	if _, err := tbl.GetFile(n1); err != 0 {
		t.Fatalf("kept fd should remain: %d", err)
	}
}

func TestModifyLimitRejectsShrinkBelowLiveFd(t *testing.T) {
	tbl := NewTable()
	tbl.PushAt(10, &stubFile{}, Read)
	if err := tbl.ModifyLimit(5); err != defs.EINVAL {
		t.Fatalf("expected EINVAL shrinking below a live fd, got %d", err)
	}
	if err := tbl.ModifyLimit(20); err != 0 {
		t.Fatalf("shrink to 20 above every live fd should succeed: %d", err)
	}
	if tbl.Limit() != 20 {
		t.Fatalf("limit not updated")
	}
}

func TestPushExhaustion(t *testing.T) {
	tbl := NewTable()
	tbl.ModifyLimit(2)
	if _, err := tbl.Push(&stubFile{}, Read, 0); err != 0 {
		t.Fatalf("first push should succeed")
	}
	if _, err := tbl.Push(&stubFile{}, Read, 0); err != 0 {
		t.Fatalf("second push should succeed")
	}
	if _, err := tbl.Push(&stubFile{}, Read, 0); err != defs.EMFILE {
		t.Fatalf("expected EMFILE, got %d", err)
	}
}
