package vfs

import "testing"

func TestEpollWaitReportsReadableFd(t *testing.T) {
	r, w := NewPipe()
	e := NewEpoll()
	if err := e.Add(3, r, EPOLLIN, 0xbeef); err != 0 {
		t.Fatalf("Add: %d", err)
	}
	if evs := e.Wait(8); len(evs) != 0 {
		t.Fatalf("expected no ready events before write, got %v", evs)
	}
	w.Write([]byte("x"))
	evs := e.Wait(8)
	if len(evs) != 1 {
		t.Fatalf("expected one ready event, got %v", evs)
	}
	if evs[0].Fd != 3 || evs[0].Events&EPOLLIN == 0 || evs[0].Data != 0xbeef {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestEpollAddDuplicateFdRejected(t *testing.T) {
	r, _ := NewPipe()
	e := NewEpoll()
	e.Add(1, r, EPOLLIN, 0)
	if err := e.Add(1, r, EPOLLIN, 0); err == 0 {
		t.Fatalf("expected EEXIST adding duplicate fd")
	}
}

func TestEpollModifyChangesMask(t *testing.T) {
	r, w := NewPipe()
	e := NewEpoll()
	e.Add(5, r, EPOLLOUT, 0) // r is never writable, so interest starts dark
	w.Write([]byte("y"))
	if evs := e.Wait(8); len(evs) != 0 {
		t.Fatalf("expected no events while only interested in EPOLLOUT, got %v", evs)
	}
	e.Modify(5, EPOLLIN, 42)
	evs := e.Wait(8)
	if len(evs) != 1 || evs[0].Data != 42 {
		t.Fatalf("expected one event with updated data, got %v", evs)
	}
}

func TestEpollRemove(t *testing.T) {
	r, _ := NewPipe()
	e := NewEpoll()
	e.Add(2, r, EPOLLIN, 0)
	if err := e.Remove(2); err != 0 {
		t.Fatalf("Remove: %d", err)
	}
	if err := e.Remove(2); err == 0 {
		t.Fatalf("expected ENOENT removing twice")
	}
}
