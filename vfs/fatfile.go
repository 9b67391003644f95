package vfs

import (
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/tools/txtar"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// FatFS is the in-memory stand-in for the FAT32 medium driver spec.md
// marks out of scope: a plain tree of nodes instead of a cluster chain
// on a block device, just enough to give the loader's execve("busybox",
// ...) seed scenario (spec.md §8 scenario 1) and ordinary open/create/
// read/write/rename/remove traffic something real to run against.
// Grounded on biscuit's own fs package shape (a directory tree of
// inodes guarded by one tree-wide lock, rather than per-inode locks),
// simplified because there is no on-disk layout to serialize here.
type FatFS struct {
	mu   sync.Mutex
	root *fatNode
}

type fatNode struct {
	name     string
	isDir    bool
	data     []byte
	children map[string]*fatNode
}

func newDirNode(name string) *fatNode {
	return &fatNode{name: name, isDir: true, children: make(map[string]*fatNode)}
}

// NewFatFS returns an empty filesystem with just a root directory.
func NewFatFS() *FatFS {
	return &FatFS{root: newDirNode("/")}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// resolve walks parts from the root, returning the final node and its
// parent directory. A missing final component yields a nil node; a
// missing intermediate directory is ENOENT.
func (fs *FatFS) resolve(parts []string) (parent, node *fatNode, err defs.Err_t) {
	cur := fs.root
	for i, p := range parts {
		if !cur.isDir {
			return nil, nil, defs.ENOTDIR
		}
		child, ok := cur.children[p]
		if i == len(parts)-1 {
			return cur, child, 0 // child may be nil: caller decides ENOENT vs create
		}
		if !ok {
			return nil, nil, defs.ENOENT
		}
		cur = child
	}
	return fs.root, fs.root, 0
}

// Open resolves path, optionally creating a new empty regular file
// when O_CREAT-equivalent create is set and nothing exists there yet.
func (fs *FatFS) Open(path string, create bool) (fdops.File, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts := splitPath(path)
	if len(parts) == 0 {
		return newFatHandle(fs, fs.root), 0
	}
	parent, node, err := fs.resolve(parts)
	if err != 0 {
		return nil, err
	}
	if node == nil {
		if !create {
			return nil, defs.ENOENT
		}
		node = &fatNode{name: parts[len(parts)-1]}
		parent.children[node.name] = node
	}
	return newFatHandle(fs, node), 0
}

// Mkdir creates an empty directory at path; the parent must already
// exist.
func (fs *FatFS) Mkdir(path string) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts := splitPath(path)
	if len(parts) == 0 {
		return defs.EEXIST
	}
	parent, node, err := fs.resolve(parts)
	if err != 0 {
		return err
	}
	if node != nil {
		return defs.EEXIST
	}
	parent.children[parts[len(parts)-1]] = newDirNode(parts[len(parts)-1])
	return 0
}

// Rename moves the node at oldPath to newPath, both full paths from
// root. The destination's parent must already exist and must not
// already hold an entry of that name.
func (fs *FatFS) Rename(oldPath, newPath string) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParts := splitPath(oldPath)
	if len(oldParts) == 0 {
		return defs.EINVAL
	}
	oldParent, node, err := fs.resolve(oldParts)
	if err != 0 {
		return err
	}
	if node == nil {
		return defs.ENOENT
	}

	newParts := splitPath(newPath)
	if len(newParts) == 0 {
		return defs.EINVAL
	}
	newParent, existing, err := fs.resolve(newParts)
	if err != 0 {
		return err
	}
	if existing != nil {
		return defs.EEXIST
	}

	delete(oldParent.children, oldParts[len(oldParts)-1])
	node.name = newParts[len(newParts)-1]
	newParent.children[node.name] = node
	return 0
}

// Remove deletes a regular file or an empty directory at path.
func (fs *FatFS) Remove(path string) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts := splitPath(path)
	if len(parts) == 0 {
		return defs.EINVAL
	}
	parent, node, err := fs.resolve(parts)
	if err != 0 {
		return err
	}
	if node == nil {
		return defs.ENOENT
	}
	if node.isDir && len(node.children) > 0 {
		return defs.ENOTEMPTY
	}
	delete(parent.children, parts[len(parts)-1])
	return 0
}

// fatHandle is the open-file-description view of a fatNode: it owns a
// private seek offset the way a real open(2) result would, even
// though every handle on the same node shares the underlying bytes.
type fatHandle struct {
	fdops.BaseFile
	fs   *FatFS
	node *fatNode
	off  int64
	dirI int
}

func newFatHandle(fs *FatFS, node *fatNode) *fatHandle {
	return &fatHandle{fs: fs, node: node}
}

func (h *fatHandle) Read(dst []byte) (int, defs.Err_t) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.node.isDir {
		return 0, defs.EISDIR
	}
	if h.off >= int64(len(h.node.data)) {
		return 0, 0
	}
	n := copy(dst, h.node.data[h.off:])
	h.off += int64(n)
	return n, 0
}

func (h *fatHandle) ReadFromOffset(pos int64, dst []byte) (int, defs.Err_t) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.node.isDir {
		return 0, defs.EISDIR
	}
	if pos >= int64(len(h.node.data)) {
		return 0, 0
	}
	return copy(dst, h.node.data[pos:]), 0
}

func (h *fatHandle) Write(src []byte) (int, defs.Err_t) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.node.isDir {
		return 0, defs.EISDIR
	}
	end := h.off + int64(len(src))
	if end > int64(len(h.node.data)) {
		grown := make([]byte, end)
		copy(grown, h.node.data)
		h.node.data = grown
	}
	n := copy(h.node.data[h.off:end], src)
	h.off = end
	return n, 0
}

func (h *fatHandle) WriteToOffset(pos int64, src []byte) (int, defs.Err_t) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.node.isDir {
		return 0, defs.EISDIR
	}
	end := pos + int64(len(src))
	if end > int64(len(h.node.data)) {
		grown := make([]byte, end)
		copy(grown, h.node.data)
		h.node.data = grown
	}
	return copy(h.node.data[pos:end], src), 0
}

func (h *fatHandle) Seek(pos int64, whence int) (int64, defs.Err_t) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	switch whence {
	case 0: // SEEK_SET
		h.off = pos
	case 1: // SEEK_CUR
		h.off += pos
	case 2: // SEEK_END
		h.off = int64(len(h.node.data)) + pos
	default:
		return 0, defs.EINVAL
	}
	if h.off < 0 {
		h.off = 0
		return 0, defs.EINVAL
	}
	return h.off, 0
}

func (h *fatHandle) GetStat(st *defs.Kstat) defs.Err_t {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.node.isDir {
		st.Mode = defs.S_IFDIR | 0755
		return 0
	}
	st.Mode = defs.S_IFREG | 0644
	st.Size = int64(len(h.node.data))
	return 0
}

func (h *fatHandle) GetDir() (fdops.Dir, bool) {
	if !h.node.isDir {
		return nil, false
	}
	return h, true
}

// ReadDirent implements fdops.Dir by collecting and sorting the child
// names on every call and returning the one at the handle's position,
// a cheap substitute for a real cluster chain's on-disk directory order.
func (h *fatHandle) ReadDirent() (name string, ino uint64, kind uint8, eof bool, err defs.Err_t) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	names := make([]string, 0, len(h.node.children))
	for n := range h.node.children {
		names = append(names, n)
	}
	if h.dirI >= len(names) {
		return "", 0, 0, true, 0
	}
	sortStrings(names)
	picked := names[h.dirI]
	h.dirI++
	child := h.node.children[picked]
	k := uint8(defs.S_IFREG >> 12)
	if child.isDir {
		k = uint8(defs.S_IFDIR >> 12)
	}
	return picked, uint64(h.dirI), k, h.dirI >= len(names), 0
}

func (h *fatHandle) Reopen() defs.Err_t { return 0 }
func (h *fatHandle) Close() defs.Err_t  { return 0 }

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// vfatLongNameEntrySize is the width of one VFAT "LDIR" long-name
// directory entry: a 1-byte ordinal, 10 bytes (5 UTF-16LE chars), a
// 1-byte attribute (0x0F), a 1-byte type, a 1-byte checksum, 12 bytes
// (6 more chars), a 2-byte starting-cluster field (always 0 for a
// long-name entry), and 4 bytes (2 final chars) — 32 bytes total.
const vfatLongNameEntrySize = 32

// DecodeVFATLongName reassembles the long filename encoded across one
// or more consecutive VFAT LDIR entries (biscuit's mkfs tool, and any
// real FAT32 image, stores long names this way since the 8.3 entry
// alone can't hold them). entries is the raw concatenation of those
// directory entries, in storage order. Used to seed FatFS from a
// packed fixture image (see LoadSeedDirectory) instead of real media,
// since the FAT driver itself is out of scope.
//
// Decoding goes through golang.org/x/text/encoding/unicode rather than
// hand-rolled UTF-16 math: the name chars are little-endian UTF-16,
// exactly what unicode.UTF16(unicode.LittleEndian, ...) decodes.
func DecodeVFATLongName(entries []byte) (string, defs.Err_t) {
	if len(entries)%vfatLongNameEntrySize != 0 || len(entries) == 0 {
		return "", defs.EINVAL
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	var b strings.Builder
	for off := 0; off < len(entries); off += vfatLongNameEntrySize {
		e := entries[off : off+vfatLongNameEntrySize]
		var raw []byte
		raw = append(raw, e[1:11]...)
		raw = append(raw, e[14:26]...)
		raw = append(raw, e[28:32]...)
		utf8Bytes, _, err := transform.Bytes(dec, raw)
		if err != nil {
			return "", defs.EINVAL
		}
		b.Write(utf8Bytes)
	}
	name := b.String()
	// Padding past the terminator is 0xFFFF ("unused"); a literal NUL
	// marks the true end of the name within the last used entry.
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return stripUnusedPad(name), 0
}

// stripUnusedPad drops the trailing run of U+FFFF padding runes
// DecodeVFATLongName's UTF-16 decode turns 0xFFFF words into.
func stripUnusedPad(s string) string {
	return strings.TrimRight(s, "￿")
}

// LoadTxtar populates the filesystem from a txtar archive (see
// golang.org/x/tools/txtar): one "-- name --" section per file,
// directories created on demand. Used by tests to build a small
// multi-file tree (e.g. "/bin/busybox", "/etc/passwd") from a single
// readable text block instead of checked-in binary fixtures.
func (fs *FatFS) LoadTxtar(data []byte) defs.Err_t {
	arc := txtar.Parse(data)
	for _, f := range arc.Files {
		name := strings.Trim(f.Name, "/")
		if i := strings.LastIndex(name, "/"); i >= 0 {
			if err := fs.mkdirAll(name[:i]); err != 0 {
				return err
			}
		}
		h, err := fs.Open(name, true)
		if err != 0 {
			return err
		}
		if _, err := h.Write(f.Data); err != 0 {
			return err
		}
	}
	return 0
}

// mkdirAll creates every missing path component of dir, tolerating
// ones that already exist.
func (fs *FatFS) mkdirAll(dir string) defs.Err_t {
	var cur string
	for _, p := range splitPath(dir) {
		if cur == "" {
			cur = p
		} else {
			cur = cur + "/" + p
		}
		if err := fs.Mkdir(cur); err != 0 && err != defs.EEXIST {
			return err
		}
	}
	return 0
}

// LoadSeedDirectory populates dirPath (which must already exist, or be
// "" for the root) with one empty regular file per decoded name,
// standing in for mounting a prebuilt FAT32 image at boot — the
// shape spec.md §8 scenario 1 needs to make execve("busybox", ...)
// resolvable. Each element of entries is one file's packed VFAT
// long-name directory entries.
func (fs *FatFS) LoadSeedDirectory(dirPath string, entries [][]byte) defs.Err_t {
	for _, raw := range entries {
		name, err := DecodeVFATLongName(raw)
		if err != 0 {
			return err
		}
		path := name
		if dirPath != "" {
			path = dirPath + "/" + name
		}
		if _, err := fs.Open(path, true); err != 0 {
			return err
		}
	}
	return 0
}
