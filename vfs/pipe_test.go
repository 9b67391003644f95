package vfs

import (
	"testing"

	"rv39kernel/defs"
)

func TestPipeReadWriteRoundtrip(t *testing.T) {
	r, w := NewPipe()
	n, err := w.Write([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("Write: n=%d err=%d", n, err)
	}
	buf := make([]byte, 5)
	n, err = r.Read(buf)
	if err != 0 || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read: n=%d err=%d buf=%q", n, err, buf)
	}
}

func TestPipeWriteAfterReadCloseReturnsEPIPE(t *testing.T) {
	r, w := NewPipe()
	if err := r.Close(); err != 0 {
		t.Fatalf("Close: %d", err)
	}
	_, err := w.Write([]byte("x"))
	if err != defs.EPIPE {
		t.Fatalf("expected EPIPE, got %d", err)
	}
}

func TestPipeReadReturnsZeroAfterWriteCloseAndDrain(t *testing.T) {
	r, w := NewPipe()
	w.Write([]byte("ab"))
	w.Close()
	buf := make([]byte, 2)
	n, err := r.Read(buf)
	if err != 0 || n != 2 {
		t.Fatalf("first read: n=%d err=%d", n, err)
	}
	n, err = r.Read(buf)
	if err != 0 || n != 0 {
		t.Fatalf("drained read should return 0, got n=%d err=%d", n, err)
	}
	if !r.IsHangUp() {
		t.Fatalf("expected IsHangUp true once writer closed and buffer drained")
	}
}

func TestPipeWrongDirectionRejected(t *testing.T) {
	r, w := NewPipe()
	if _, err := r.Write([]byte("x")); err != defs.EINVAL {
		t.Fatalf("read end Write should be EINVAL, got %d", err)
	}
	if _, err := w.Read(make([]byte, 1)); err != defs.EINVAL {
		t.Fatalf("write end Read should be EINVAL, got %d", err)
	}
}

func TestPipeWriteLargerThanBufferBlocksUntilDrained(t *testing.T) {
	r, w := NewPipe()
	big := make([]byte, pipeBufSize+128)
	for i := range big {
		big[i] = byte(i)
	}
	done := make(chan struct{})
	go func() {
		n, err := w.Write(big)
		if err != 0 || n != len(big) {
			t.Errorf("Write: n=%d err=%d", n, err)
		}
		close(done)
	}()

	got := make([]byte, len(big))
	total := 0
	for total < len(got) {
		n, err := r.Read(got[total:])
		if err != 0 {
			t.Fatalf("Read: err=%d", err)
		}
		total += n
	}
	<-done
	for i := range got {
		if got[i] != big[i] {
			t.Fatalf("data mismatch at %d: got %d want %d", i, got[i], big[i])
		}
	}
}
