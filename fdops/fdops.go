// Package fdops defines the File capability interface spec.md §3
// describes: the polymorphic surface every open-file object (pipe,
// regular file, character device, socket, epoll set, directory)
// implements. It is kept separate from package fd (the descriptor
// table) and package vfs (the concrete implementations) the same way
// biscuit splits "fdops.Fdops_i" from "fd.Fd_t" from the file
// implementations themselves — fdops has no dependencies beyond defs,
// so everything else can depend on it without a cycle.
package fdops

import "rv39kernel/defs"

// File is the capability set spec.md §3 assigns to every open file
// description. Not every implementation supports every method;
// unsupported operations return EINVAL via the second
// return value, mirroring biscuit's Fdops_i pattern of one fat
// interface with per-kind no-ops rather than many small interfaces —
// the loader, fd table and poll/select code all want to treat "the
// thing behind this fd" uniformly.
type File interface {
	// Read reads into buf, returning bytes read.
	Read(buf []byte) (int, defs.Err_t)
	// Write writes buf, returning bytes written.
	Write(buf []byte) (int, defs.Err_t)

	// ReadFromOffset/WriteToOffset perform a positioned access without
	// disturbing the logical seek pointer. They return EINVAL (via
	// Err_t) for files that decline (pipes, sockets).
	ReadFromOffset(pos int64, buf []byte) (int, defs.Err_t)
	WriteToOffset(pos int64, buf []byte) (int, defs.Err_t)

	// Seek repositions a seekable file.
	Seek(pos int64, whence int) (int64, defs.Err_t)

	// Poll-style readiness queries, spec.md §3/§4.10.
	ReadyToRead() bool
	ReadyToWrite() bool
	IsHangUp() bool
	InExceptionalConditions() bool

	GetStat(st *defs.Kstat) defs.Err_t
	SetTime(atime, mtime int64) defs.Err_t
	GetStatus() int
	SetStatus(flags int) defs.Err_t
	SetCloseOnExec(on bool)
	IsCloseOnExec() bool

	Sendto(buf []byte, addr []byte) (int, defs.Err_t)
	Recvfrom(buf []byte) (int, []byte, defs.Err_t)

	// GetDir returns a directory-listing view, or ok=false if this
	// file is not a directory.
	GetDir() (Dir, bool)

	// Reopen is invoked when a descriptor is duplicated (dup/dup3 or
	// fork's fd-table copy); most kinds just bump a refcount.
	Reopen() defs.Err_t

	// Close releases the file; the last Close on a kind-specific
	// resource (e.g. a pipe's ring buffer) tears it down.
	Close() defs.Err_t
}

// Dir is the minimal directory-listing capability GetDir exposes.
type Dir interface {
	ReadDirent() (name string, ino uint64, kind uint8, eof bool, err defs.Err_t)
}

// BaseFile provides a default "unsupported" implementation of every
// File method so concrete types (pipe, socket, stdio, ...) only need
// to override what they actually support, exactly the way biscuit's
// own file kinds each implement a handful of Fdops_i methods and leave
// the rest to a shared default; here that default returns EINVAL.
type BaseFile struct {
	closeOnExec bool
	status      int
}

func (b *BaseFile) Read([]byte) (int, defs.Err_t)                  { return 0, defs.EINVAL }
func (b *BaseFile) Write([]byte) (int, defs.Err_t)                 { return 0, defs.EINVAL }
func (b *BaseFile) ReadFromOffset(int64, []byte) (int, defs.Err_t) { return 0, defs.EINVAL }
func (b *BaseFile) WriteToOffset(int64, []byte) (int, defs.Err_t)  { return 0, defs.EINVAL }
func (b *BaseFile) Seek(int64, int) (int64, defs.Err_t)            { return 0, defs.EINVAL }
func (b *BaseFile) ReadyToRead() bool                              { return false }
func (b *BaseFile) ReadyToWrite() bool                             { return false }
func (b *BaseFile) IsHangUp() bool                                 { return false }
func (b *BaseFile) InExceptionalConditions() bool                  { return false }
func (b *BaseFile) GetStat(*defs.Kstat) defs.Err_t                 { return defs.EINVAL }
func (b *BaseFile) SetTime(int64, int64) defs.Err_t                { return defs.EINVAL }
func (b *BaseFile) GetStatus() int                                 { return b.status }
func (b *BaseFile) SetStatus(flags int) defs.Err_t                 { b.status = flags; return 0 }
func (b *BaseFile) SetCloseOnExec(on bool)                         { b.closeOnExec = on }
func (b *BaseFile) IsCloseOnExec() bool                            { return b.closeOnExec }
func (b *BaseFile) Sendto([]byte, []byte) (int, defs.Err_t)        { return 0, defs.EINVAL }
func (b *BaseFile) Recvfrom([]byte) (int, []byte, defs.Err_t)      { return 0, nil, defs.EINVAL }
func (b *BaseFile) GetDir() (Dir, bool)                            { return nil, false }
func (b *BaseFile) Reopen() defs.Err_t                             { return 0 }
func (b *BaseFile) Close() defs.Err_t                              { return 0 }
