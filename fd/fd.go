// Package fd is the per-process file descriptor table, spec.md §3/§4.10.
// Grounded on biscuit's fd.Fd_t/Copyfd, generalised from biscuit's
// unbounded map-backed table onto the fixed-capacity defs.Bitmap
// allocator the rest of this module's namespaces (pid, tid) already use,
// since spec.md §3 bounds the table at defs.MaxFd.
package fd

import (
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// Perms mirror biscuit's FD_READ/FD_WRITE/FD_CLOEXEC bits.
const (
	Read    = 0x1
	Write   = 0x2
	CloExec = 0x4
)

// Entry pairs an open File with its descriptor-local permission bits.
type Entry struct {
	File  fdops.File
	Perms int
}

// Table is one process's descriptor table: a dense array indexed by fd
// number plus a bitmap tracking which slots are live.
type Table struct {
	mu      sync.Mutex
	bitmap  *defs.Bitmap
	entries []*Entry
}

// NewTable creates an empty table sized to defs.MaxFd.
func NewTable() *Table {
	return &Table{
		bitmap:  defs.NewBitmap(defs.MaxFd),
		entries: make([]*Entry, defs.MaxFd),
	}
}

// Push installs f at the lowest free descriptor number >= hint.
func (t *Table) Push(f fdops.File, perms int, hint int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := hint
	if idx < 0 {
		idx = 0
	}
	for ; idx < t.bitmap.Cap(); idx++ {
		if !t.bitmap.InUse(idx) {
			break
		}
	}
	if idx >= t.bitmap.Cap() {
		return 0, defs.EMFILE
	}
	t.bitmap.Mark(idx)
	t.entries[idx] = &Entry{File: f, Perms: perms}
	return idx, 0
}

// PushAt installs f at exactly fdnum, failing EINVAL if out of range.
// An entry already at fdnum is replaced without being closed
// (CopyFdTo closes the file it replaces).
func (t *Table) PushAt(fdnum int, f fdops.File, perms int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fdnum < 0 || fdnum >= t.bitmap.Cap() {
		return defs.EINVAL
	}
	if !t.bitmap.InUse(fdnum) {
		t.bitmap.Mark(fdnum)
	}
	t.entries[fdnum] = &Entry{File: f, Perms: perms}
	return 0
}

// GetFile returns the File installed at fdnum.
func (t *Table) GetFile(fdnum int) (fdops.File, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.get(fdnum)
	if e == nil {
		return nil, defs.EBADF
	}
	return e.File, 0
}

func (t *Table) get(fdnum int) *Entry {
	if fdnum < 0 || fdnum >= t.bitmap.Cap() || !t.bitmap.InUse(fdnum) {
		return nil
	}
	return t.entries[fdnum]
}

// RemoveFile detaches fdnum from the table and returns the File that
// was there so the caller can Close it outside the table lock.
func (t *Table) RemoveFile(fdnum int) (fdops.File, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.get(fdnum)
	if e == nil {
		return nil, defs.EBADF
	}
	t.entries[fdnum] = nil
	t.bitmap.Free(fdnum)
	return e.File, 0
}

// CopyFdTo duplicates src onto dst (dup2/dup3), reopening the
// underlying File to bump its refcount, per biscuit's Copyfd.
func (t *Table) CopyFdTo(src, dst int) defs.Err_t {
	t.mu.Lock()
	e := t.get(src)
	old := t.get(dst)
	t.mu.Unlock()
	if e == nil {
		return defs.EBADF
	}
	if err := e.File.Reopen(); err != 0 {
		return err
	}
	if err := t.PushAt(dst, e.File, e.Perms&^CloExec); err != 0 {
		return err
	}
	if old != nil {
		old.File.Close()
	}
	return 0
}

// Dup duplicates src onto the lowest free descriptor >= hint, dup(2)'s
// semantics (CopyFdTo is dup2/dup3's exact-target variant).
func (t *Table) Dup(src, hint int) (int, defs.Err_t) {
	t.mu.Lock()
	e := t.get(src)
	t.mu.Unlock()
	if e == nil {
		return 0, defs.EBADF
	}
	if err := e.File.Reopen(); err != 0 {
		return 0, err
	}
	return t.Push(e.File, e.Perms&^CloExec, hint)
}

// CopyAll duplicates every live entry into a fresh table, used by
// clone when CLONE_FILES is absent (spec.md §3).
func (t *Table) CopyAll() (*Table, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := NewTable()
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		if err := e.File.Reopen(); err != 0 {
			return nil, err
		}
		out.bitmap.Mark(i)
		out.entries[i] = &Entry{File: e.File, Perms: e.Perms}
	}
	return out, 0
}

// CloseCloexecFiles closes and removes every descriptor flagged
// CloExec, called on execve per spec.md §4.8.
func (t *Table) CloseCloexecFiles() {
	t.mu.Lock()
	var toClose []fdops.File
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		if e.Perms&CloExec != 0 || e.File.IsCloseOnExec() {
			toClose = append(toClose, e.File)
			t.entries[i] = nil
			t.bitmap.Free(i)
		}
	}
	t.mu.Unlock()
	for _, f := range toClose {
		f.Close()
	}
}

// CloseAll tears down every open descriptor, called on process exit.
func (t *Table) CloseAll() {
	t.mu.Lock()
	var toClose []fdops.File
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		toClose = append(toClose, e.File)
		t.entries[i] = nil
		t.bitmap.Free(i)
	}
	t.mu.Unlock()
	for _, f := range toClose {
		f.Close()
	}
}

// ModifyLimit grows or shrinks the table's effective capacity for
// setrlimit(RLIMIT_NOFILE), per spec.md §4.10. Shrinking below a live
// descriptor fails EINVAL; biscuit's own table has no such limit since
// it grows a Go map unbounded, so this is new behaviour required by
// the fixed-capacity bitmap.
func (t *Table) ModifyLimit(newLimit int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if newLimit <= 0 || newLimit > defs.MaxFd {
		return defs.EINVAL
	}
	if newLimit < t.bitmap.Cap() {
		for i := newLimit; i < t.bitmap.Cap(); i++ {
			if t.bitmap.InUse(i) {
				return defs.EINVAL
			}
		}
		t.bitmap.Shrink(newLimit)
		t.entries = t.entries[:newLimit]
		return 0
	}
	t.bitmap.Grow(newLimit)
	grown := make([]*Entry, newLimit)
	copy(grown, t.entries)
	t.entries = grown
	return 0
}

func (t *Table) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bitmap.Cap()
}
