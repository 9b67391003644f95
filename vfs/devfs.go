package vfs

import (
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// DevFS is the fixed-table "/dev" filesystem spec.md §4.10 calls out
// as the thing consulted before falling through to the FAT-shaped
// file: a small, statically known set of character devices rather
// than a directory a FAT driver would have to walk. Grounded on
// biscuit's own console/null device files, which are likewise plain
// Go structs registered by name rather than discovered on a medium.
type DevFS struct {
	mu      sync.Mutex
	entries map[string]func() fdops.File
}

// NewDevFS builds the standard table: null and zero, the two device
// files every scenario in spec.md §8 that touches "/dev" needs.
func NewDevFS() *DevFS {
	d := &DevFS{entries: make(map[string]func() fdops.File)}
	d.Register("null", func() fdops.File { return NewDevNull() })
	d.Register("zero", func() fdops.File { return NewDevZero() })
	return d
}

// Register adds (or replaces) a named device under "/dev". factory is
// called once per Open so two opens of the same device never share
// close-on-exec/offset state.
func (d *DevFS) Register(name string, factory func() fdops.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[name] = factory
}

// Lookup resolves a path already known to be under "/dev" (the caller
// has stripped the leading "/dev/"). ok is false for anything not in
// the fixed table, telling the caller to fall through to the backing
// FatFile tree instead.
func (d *DevFS) Lookup(name string) (fdops.File, bool) {
	d.mu.Lock()
	factory, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// DevNull is /dev/null: reads report EOF, writes are discarded but
// report every byte consumed.
type DevNull struct {
	fdops.BaseFile
}

func NewDevNull() *DevNull { return &DevNull{} }

func (d *DevNull) Read([]byte) (int, defs.Err_t)  { return 0, 0 }
func (d *DevNull) Write(p []byte) (int, defs.Err_t) { return len(p), 0 }
func (d *DevNull) ReadyToRead() bool              { return true }
func (d *DevNull) ReadyToWrite() bool             { return true }
func (d *DevNull) GetStat(st *defs.Kstat) defs.Err_t {
	st.Mode = defs.S_IFCHR | 0666
	return 0
}
func (d *DevNull) Reopen() defs.Err_t { return 0 }
func (d *DevNull) Close() defs.Err_t  { return 0 }

// DevZero is /dev/zero: reads fill buf with zero bytes, writes are
// discarded but report every byte consumed.
type DevZero struct {
	fdops.BaseFile
}

func NewDevZero() *DevZero { return &DevZero{} }

func (d *DevZero) Read(buf []byte) (int, defs.Err_t) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), 0
}
func (d *DevZero) Write(p []byte) (int, defs.Err_t) { return len(p), 0 }
func (d *DevZero) ReadyToRead() bool                { return true }
func (d *DevZero) ReadyToWrite() bool               { return true }
func (d *DevZero) GetStat(st *defs.Kstat) defs.Err_t {
	st.Mode = defs.S_IFCHR | 0666
	return 0
}
func (d *DevZero) Reopen() defs.Err_t { return 0 }
func (d *DevZero) Close() defs.Err_t  { return 0 }
