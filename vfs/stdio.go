package vfs

import (
	"bufio"
	"io"
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// Stdio adapts a host io.Reader/io.Writer (the console) to the File
// interface, spec.md §4.10's stdin/stdout/stderr. Grounded on biscuit's
// own console device file, which is likewise a thin Fdops_i wrapper
// over a byte stream with no seek support.
type Stdio struct {
	fdops.BaseFile
	mu sync.Mutex
	r  *bufio.Reader
	w  io.Writer
}

func NewStdin(r io.Reader) *Stdio  { return &Stdio{r: bufio.NewReader(r)} }
func NewStdout(w io.Writer) *Stdio { return &Stdio{w: w} }

func (s *Stdio) Read(dst []byte) (int, defs.Err_t) {
	if s.r == nil {
		return 0, defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.r.Read(dst)
	if err != nil && err != io.EOF {
		return n, defs.EIO
	}
	return n, 0
}

func (s *Stdio) Write(src []byte) (int, defs.Err_t) {
	if s.w == nil {
		return 0, defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(src)
	if err != nil {
		return n, defs.EIO
	}
	return n, 0
}

func (s *Stdio) ReadyToRead() bool  { return s.r != nil && s.r.Buffered() > 0 }
func (s *Stdio) ReadyToWrite() bool { return s.w != nil }
func (s *Stdio) Reopen() defs.Err_t { return 0 }
func (s *Stdio) Close() defs.Err_t  { return 0 }
