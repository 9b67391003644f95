package vfs

import (
	"encoding/binary"
	"testing"

	"rv39kernel/defs"
)

func TestFatFSCreateWriteReadRoundtrip(t *testing.T) {
	fs := NewFatFS()
	f, err := fs.Open("hello.txt", true)
	if err != 0 {
		t.Fatalf("Open create: %d", err)
	}
	if n, err := f.Write([]byte("hello world")); err != 0 || n != 11 {
		t.Fatalf("Write: n=%d err=%d", n, err)
	}
	if _, err := f.Seek(0, 0); err != 0 {
		t.Fatalf("Seek: %d", err)
	}
	buf := make([]byte, 11)
	if n, err := f.Read(buf); err != 0 || n != 11 {
		t.Fatalf("Read: n=%d err=%d", n, err)
	}
	if string(buf) != "hello world" {
		t.Fatalf("got %q", buf)
	}
}

func TestFatFSOpenMissingWithoutCreateFails(t *testing.T) {
	fs := NewFatFS()
	if _, err := fs.Open("nope.txt", false); err != defs.ENOENT {
		t.Fatalf("expected ENOENT, got %d", err)
	}
}

func TestFatFSNestedDirectories(t *testing.T) {
	fs := NewFatFS()
	if err := fs.Mkdir("bin"); err != 0 {
		t.Fatalf("Mkdir: %d", err)
	}
	f, err := fs.Open("bin/busybox", true)
	if err != 0 {
		t.Fatalf("Open nested create: %d", err)
	}
	if n, err := f.Write([]byte("#!binary")); err != 0 || n != 8 {
		t.Fatalf("Write: n=%d err=%d", n, err)
	}

	dirH, err := fs.Open("bin", false)
	if err != 0 {
		t.Fatalf("Open dir: %d", err)
	}
	dir, ok := dirH.GetDir()
	if !ok {
		t.Fatalf("expected a directory view")
	}
	name, _, _, eof, derr := dir.ReadDirent()
	if derr != 0 || name != "busybox" || !eof {
		t.Fatalf("ReadDirent: name=%q eof=%v err=%d", name, eof, derr)
	}
}

func TestFatFSRenameMovesNode(t *testing.T) {
	fs := NewFatFS()
	f, _ := fs.Open("old.txt", true)
	f.Write([]byte("data"))

	if err := fs.Rename("old.txt", "new.txt"); err != 0 {
		t.Fatalf("Rename: %d", err)
	}
	if _, err := fs.Open("old.txt", false); err != defs.ENOENT {
		t.Fatalf("old path should be gone, got %d", err)
	}
	nf, err := fs.Open("new.txt", false)
	if err != 0 {
		t.Fatalf("Open new path: %d", err)
	}
	buf := make([]byte, 4)
	if n, err := nf.Read(buf); err != 0 || string(buf[:n]) != "data" {
		t.Fatalf("got %q err=%d", buf[:n], err)
	}
}

func TestFatFSRenameOntoExistingFails(t *testing.T) {
	fs := NewFatFS()
	fs.Open("a.txt", true)
	fs.Open("b.txt", true)
	if err := fs.Rename("a.txt", "b.txt"); err != defs.EEXIST {
		t.Fatalf("expected EEXIST, got %d", err)
	}
}

func TestFatFSRemoveDeletesFile(t *testing.T) {
	fs := NewFatFS()
	fs.Open("gone.txt", true)
	if err := fs.Remove("gone.txt"); err != 0 {
		t.Fatalf("Remove: %d", err)
	}
	if _, err := fs.Open("gone.txt", false); err != defs.ENOENT {
		t.Fatalf("expected ENOENT after remove, got %d", err)
	}
}

func TestFatFSRemoveNonEmptyDirFails(t *testing.T) {
	fs := NewFatFS()
	fs.Mkdir("d")
	fs.Open("d/f", true)
	if err := fs.Remove("d"); err != defs.ENOTEMPTY {
		t.Fatalf("expected ENOTEMPTY, got %d", err)
	}
}

// packVFATLongNameEntry builds one 32-byte VFAT LDIR entry encoding up
// to 13 UTF-16LE chars of name (pad with a NUL terminator then 0xFFFF
// filler), matching the layout DecodeVFATLongName expects.
func packVFATLongNameEntry(name string) []byte {
	chars := []uint16(nil)
	for _, r := range name {
		chars = append(chars, uint16(r))
	}
	chars = append(chars, 0x0000)
	for len(chars) < 13 {
		chars = append(chars, 0xFFFF)
	}

	e := make([]byte, vfatLongNameEntrySize)
	e[0] = 0x41
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(e[1+2*i:], chars[i])
	}
	e[11] = 0x0F
	e[12] = 0x00
	e[13] = 0x00
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(e[14+2*i:], chars[5+i])
	}
	binary.LittleEndian.PutUint16(e[26:], 0)
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(e[28+2*i:], chars[11+i])
	}
	return e
}

func TestDecodeVFATLongNameRoundtrips(t *testing.T) {
	entry := packVFATLongNameEntry("busybox")
	name, err := DecodeVFATLongName(entry)
	if err != 0 {
		t.Fatalf("DecodeVFATLongName: %d", err)
	}
	if name != "busybox" {
		t.Fatalf("got %q", name)
	}
}

func TestDecodeVFATLongNameRejectsBadLength(t *testing.T) {
	if _, err := DecodeVFATLongName([]byte{1, 2, 3}); err != defs.EINVAL {
		t.Fatalf("expected EINVAL, got %d", err)
	}
}

func TestLoadTxtarBuildsTreeFromFixture(t *testing.T) {
	fs := NewFatFS()
	fixture := []byte(`-- bin/busybox --
#!binary
-- etc/passwd --
root:x:0:0:root:/root:/bin/sh
`)
	if err := fs.LoadTxtar(fixture); err != 0 {
		t.Fatalf("LoadTxtar: %d", err)
	}
	h, err := fs.Open("bin/busybox", false)
	if err != 0 {
		t.Fatalf("Open bin/busybox: %d", err)
	}
	buf := make([]byte, 32)
	n, _ := h.Read(buf)
	if string(buf[:n]) != "#!binary\n" {
		t.Fatalf("got %q", buf[:n])
	}
	if _, err := fs.Open("etc/passwd", false); err != 0 {
		t.Fatalf("Open etc/passwd: %d", err)
	}
}

func TestLoadSeedDirectoryCreatesFiles(t *testing.T) {
	fs := NewFatFS()
	entries := [][]byte{
		packVFATLongNameEntry("busybox"),
		packVFATLongNameEntry("init"),
	}
	if err := fs.LoadSeedDirectory("bin", entries); err == 0 {
		t.Fatalf("expected ENOENT for missing parent dir, got success")
	}
	if err := fs.Mkdir("bin"); err != 0 {
		t.Fatalf("Mkdir: %d", err)
	}
	if err := fs.LoadSeedDirectory("bin", entries); err != 0 {
		t.Fatalf("LoadSeedDirectory: %d", err)
	}
	if _, err := fs.Open("bin/busybox", false); err != 0 {
		t.Fatalf("expected busybox to exist: %d", err)
	}
	if _, err := fs.Open("bin/init", false); err != 0 {
		t.Fatalf("expected init to exist: %d", err)
	}
}
