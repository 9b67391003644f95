package vfs

import (
	"bytes"
	"strings"
	"testing"
)

func TestStdinReadsFromUnderlyingReader(t *testing.T) {
	s := NewStdin(strings.NewReader("hello"))
	buf := make([]byte, 5)
	n, err := s.Read(buf)
	if err != 0 || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read: n=%d err=%d buf=%q", n, err, buf)
	}
}

func TestStdoutWritesToUnderlyingWriter(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	n, err := s.Write([]byte("world"))
	if err != 0 || n != 5 || buf.String() != "world" {
		t.Fatalf("Write: n=%d err=%d buf=%q", n, err, buf.String())
	}
}

func TestStdinWriteIsEINVAL(t *testing.T) {
	s := NewStdin(strings.NewReader(""))
	if _, err := s.Write([]byte("x")); err == 0 {
		t.Fatalf("expected error writing to a stdin-only Stdio")
	}
}

func TestStdoutReadyToReadFalse(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if s.ReadyToRead() {
		t.Fatalf("a write-only Stdio should never be ready to read")
	}
	if !s.ReadyToWrite() {
		t.Fatalf("expected ready to write")
	}
}
