package klock

import (
	"runtime"
	"sync/atomic"
)

// Ticket is a fair FIFO lock, grounded on original_source's
// TicketMutex (ticket.rs): a caller draws a ticket and spins until it
// is being served.
type Ticket struct {
	next    atomic.Uint64
	serving atomic.Uint64
}

func (t *Ticket) Lock(cpu *CPU) {
	cpu.PushOff()
	my := t.next.Add(1) - 1
	for t.serving.Load() != my {
		runtime.Gosched()
	}
}

// TryLock only succeeds if this caller would be served immediately,
// i.e. no one is waiting ahead of it.
func (t *Ticket) TryLock(cpu *CPU) bool {
	cpu.PushOff()
	for {
		cur := t.next.Load()
		if t.serving.Load() != cur {
			cpu.PopOff()
			return false
		}
		if t.next.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (t *Ticket) Unlock(cpu *CPU) {
	t.serving.Add(1)
	cpu.PopOff()
}

func (t *Ticket) IsLocked() bool {
	return t.serving.Load() != t.next.Load()
}
