package syscalls

import (
	"strings"

	"rv39kernel/defs"
	"rv39kernel/fdops"
	"rv39kernel/vfs"
)

// RootFS is the single mounted namespace cmd/kernel builds at boot:
// vfs.DevFS consulted first for anything under "/dev", falling through
// to the FAT-shaped vfs.FatFS tree for everything else, per SPEC_FULL's
// description of "/dev" as a fixed table layered over the FAT-backed
// rest of the tree. There is no mount table beyond this one split,
// matching FatFS's own single-medium scope.
type RootFS struct {
	Dev *vfs.DevFS
	Fat *vfs.FatFS
}

// NewRootFS builds an empty namespace: the standard /dev table plus an
// empty FAT tree, ready for LoadTxtar/LoadSeedDirectory to seed.
func NewRootFS() *RootFS {
	return &RootFS{Dev: vfs.NewDevFS(), Fat: vfs.NewFatFS()}
}

func clean(path string) string {
	return strings.Trim(path, "/")
}

// Open resolves path (already absolute; callers join a relative path
// onto the caller's cwd first) against /dev, then the FAT tree.
func (r *RootFS) Open(path string, create bool) (fdops.File, defs.Err_t) {
	p := clean(path)
	if p == "dev" || strings.HasPrefix(p, "dev/") {
		rest := strings.TrimPrefix(p, "dev")
		rest = strings.TrimPrefix(rest, "/")
		if f, ok := r.Dev.Lookup(rest); ok {
			return f, 0
		}
		return nil, defs.ENOENT
	}
	return r.Fat.Open(p, create)
}

func (r *RootFS) Mkdir(path string) defs.Err_t   { return r.Fat.Mkdir(clean(path)) }
func (r *RootFS) Remove(path string) defs.Err_t  { return r.Fat.Remove(clean(path)) }
func (r *RootFS) Rename(oldPath, newPath string) defs.Err_t {
	return r.Fat.Rename(clean(oldPath), clean(newPath))
}

// resolvePath joins a possibly-relative path onto cwd; dirfd is not
// tracked beyond AT_FDCWD (every other dirfd value is treated the same
// way), a deliberate simplification since this kernel's fd table has no
// notion of "directory file descriptor" distinct from an ordinary open
// FatFile handle.
func resolvePath(cwd, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	if cwd == "" || cwd == "/" {
		return "/" + path
	}
	return cwd + "/" + path
}
