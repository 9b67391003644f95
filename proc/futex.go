package proc

import (
	"context"
	"encoding/binary"
	"sync"

	"golang.org/x/sync/semaphore"

	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/vm"
)

// futexKey identifies a futex word by the address space and virtual
// address that hold it — two threads sharing CLONE_VM agree on the
// same *vm.MemorySet, so they land on the same key even though each
// has its own TaskControlBlock.
type futexKey struct {
	ms   *vm.MemorySet
	addr uintptr
}

var (
	futexMu    sync.Mutex
	futexTable = make(map[futexKey]*semaphore.Weighted)
)

// futexWakeBudget bounds how many wake credits a single futex word can
// accumulate ahead of any waiter; it only needs to be larger than any
// plausible FUTEX_WAKE count in one call.
const futexWakeBudget = 1 << 20

func futexSem(key futexKey) *semaphore.Weighted {
	futexMu.Lock()
	defer futexMu.Unlock()
	sem, ok := futexTable[key]
	if !ok {
		sem = semaphore.NewWeighted(futexWakeBudget)
		// Acquire the whole budget up front so Acquire(ctx, 1) blocks
		// until a matching FutexWake calls Release, the semaphore
		// standing in for the teacher's Tnote_t.Killnaps wake channel.
		sem.Acquire(context.Background(), futexWakeBudget)
		futexTable[key] = sem
	}
	return sem
}

// FutexWait implements FUTEX_WAIT: if the word at addr (in t's address
// space) no longer equals expected, returns EAGAIN immediately;
// otherwise blocks until a FutexWake on the same (MemorySet, addr)
// pair releases it, or ctx is cancelled (EINTR).
func FutexWait(ctx context.Context, t *TaskControlBlock, addr uintptr, expected uint32) defs.Err_t {
	var raw [4]byte
	if err := t.Proc.VM.Read(addr, raw[:], mem.Read); err != 0 {
		return err
	}
	if binary.LittleEndian.Uint32(raw[:]) != expected {
		return defs.EAGAIN
	}
	sem := futexSem(futexKey{ms: t.Proc.VM, addr: addr})
	if err := sem.Acquire(ctx, 1); err != nil {
		return defs.EINTR
	}
	return 0
}

// FutexWake implements FUTEX_WAKE: releases n wake credits on the
// futex word at addr in ms and returns n whenever that word has ever
// been waited on (0 otherwise). semaphore.Weighted does not expose its
// queue depth, so the result is the credits released, not the number
// of waiters actually woken.
func FutexWake(ms *vm.MemorySet, addr uintptr, n int) int {
	futexMu.Lock()
	sem, ok := futexTable[futexKey{ms: ms, addr: addr}]
	futexMu.Unlock()
	if !ok || n <= 0 {
		return 0
	}
	sem.Release(int64(n))
	return n
}
