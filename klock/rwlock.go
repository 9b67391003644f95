package klock

import "runtime"

// RW is a single-writer/many-readers lock. spec.md §4.2 leaves the
// exact counting scheme implementation-defined; this one uses a
// spin-protected reader count plus a writer flag, the simplest scheme
// that preserves writer starvation-freedom under the push_off
// discipline (a waiting writer blocks new readers by setting
// writerWaiting before spinning for the count to drain).
type RW struct {
	mu            Spin
	readers       int
	writerHeld    bool
	writerWaiting bool
}

func (rw *RW) RLock(cpu *CPU) {
	for {
		rw.mu.Lock(cpu)
		if !rw.writerHeld && !rw.writerWaiting {
			rw.readers++
			rw.mu.Unlock(cpu)
			return
		}
		rw.mu.Unlock(cpu)
		runtime.Gosched()
	}
}

func (rw *RW) RUnlock(cpu *CPU) {
	rw.mu.Lock(cpu)
	if rw.readers == 0 {
		rw.mu.Unlock(cpu)
		panic("klock: RUnlock without RLock")
	}
	rw.readers--
	rw.mu.Unlock(cpu)
}

func (rw *RW) Lock(cpu *CPU) {
	rw.mu.Lock(cpu)
	rw.writerWaiting = true
	for rw.writerHeld || rw.readers > 0 {
		rw.mu.Unlock(cpu)
		runtime.Gosched()
		rw.mu.Lock(cpu)
	}
	rw.writerWaiting = false
	rw.writerHeld = true
	rw.mu.Unlock(cpu)
}

func (rw *RW) Unlock(cpu *CPU) {
	rw.mu.Lock(cpu)
	if !rw.writerHeld {
		rw.mu.Unlock(cpu)
		panic("klock: Unlock without Lock")
	}
	rw.writerHeld = false
	rw.mu.Unlock(cpu)
}
