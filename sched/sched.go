// Package sched is the scheduler, spec.md §4.7. biscuit schedules one
// goroutine per thread and context-switches by parking/waking real
// goroutines (its patched runtime lets a thread's goroutine block on a
// condition variable and be resumed on any hart); this package keeps
// that one-goroutine-per-thread shape but replaces the patched-runtime
// wakeup with an explicit pair of channels per thread, so a hart's
// RunTasks loop deterministically controls which thread's goroutine
// runs next instead of relying on the Go scheduler's own choice.
package sched

import (
	"runtime"
	"sync"

	"rv39kernel/defs"
	"rv39kernel/klock"
	"rv39kernel/proc"
)

// slot is the scheduler's private bookkeeping for one TCB: the
// channel pair used to hand control to and from its goroutine.
type slot struct {
	tcb     *proc.TaskControlBlock
	resume  chan struct{} // hart -> thread goroutine: "run now"
	yielded chan yieldReason
}

type yieldReason int

const (
	yieldSuspend yieldReason = iota
	yieldExit
)

// Scheduler owns the ready queue and the registry of runnable threads'
// goroutine handoff channels. One Scheduler serves every hart in this
// simulation; spec.md §4.7 does not require per-hart run queues.
type Scheduler struct {
	readyMu sync.Mutex
	ready   []*slot

	regMu sync.Mutex
	slots map[defs.Tid_t]*slot
}

func New() *Scheduler {
	return &Scheduler{slots: make(map[defs.Tid_t]*slot)}
}

// Spawn registers t as schedulable and starts its goroutine, which
// immediately blocks waiting for its first resume signal. body is the
// thread's actual execution function (ultimately the trap-return loop
// in package trap); it is invoked once per resume and must itself loop
// internally for as long as the thread keeps running between
// voluntary yields.
func (s *Scheduler) Spawn(t *proc.TaskControlBlock, body func(t *proc.TaskControlBlock)) {
	sl := &slot{
		tcb:     t,
		resume:  make(chan struct{}),
		yielded: make(chan yieldReason),
	}
	s.regMu.Lock()
	s.slots[t.Tid] = sl
	s.regMu.Unlock()

	go func() {
		for range sl.resume {
			body(t)
			if t.Doomed() {
				sl.yielded <- yieldExit
				return
			}
			sl.yielded <- yieldSuspend
		}
	}()

	s.readyMu.Lock()
	s.ready = append(s.ready, sl)
	s.readyMu.Unlock()
}

// Enqueue places an already-registered thread back on the ready queue
// (e.g. after it wakes from sleeping on a condition), spec.md §4.7.
func (s *Scheduler) Enqueue(tid defs.Tid_t) {
	s.regMu.Lock()
	sl, ok := s.slots[tid]
	s.regMu.Unlock()
	if !ok {
		return
	}
	s.readyMu.Lock()
	s.ready = append(s.ready, sl)
	s.readyMu.Unlock()
}

func (s *Scheduler) popReady() *slot {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	sl := s.ready[0]
	s.ready = s.ready[1:]
	return sl
}

// RunTasks is one hart's scheduling loop, spec.md §4.7: pop the next
// ready thread, hand it control, and wait for it to yield or exit.
// cpu.AssertNoLocksHeld is checked before handing off control, the
// invariant that a thread may never be switched away from while
// holding a spinlock (klock.CPU.Noff tracks this).
func (s *Scheduler) RunTasks(cpu *klock.CPU, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		sl := s.popReady()
		if sl == nil {
			runtime.Gosched()
			continue
		}
		cpu.AssertNoLocksHeld()
		sl.resume <- struct{}{}
		reason := <-sl.yielded
		switch reason {
		case yieldExit:
			s.regMu.Lock()
			delete(s.slots, sl.tcb.Tid)
			s.regMu.Unlock()
		case yieldSuspend:
			// the thread itself is responsible for re-Enqueue-ing once
			// whatever it's waiting on becomes ready again; a thread that
			// yields without re-enqueuing blocks forever by design
			// (e.g. wait4 on no children yet, or a futex wait).
		}
	}
}

// Remove drops tid's slot without running it again, used when a
// thread is killed while still on the ready queue.
func (s *Scheduler) Remove(tid defs.Tid_t) {
	s.regMu.Lock()
	delete(s.slots, tid)
	s.regMu.Unlock()
}
