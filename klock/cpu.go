// Package klock implements the spin, ticket, MCS and reader/writer
// locks spec.md §4.2 calls for, plus the per-CPU interrupt-disable
// nesting discipline ("push_off"/"pop_off") they share.
//
// The original_source Rust kernel-sync crate (dependencies/kernel-sync)
// reads `tp` for the CPU id and toggles the real `sstatus.SIE` bit;
// biscuit itself never reimplements that trick; it just uses
// sync.Mutex and treats "interrupts off" as a plain per-goroutine
// invariant enforced by its patched runtime. Neither is available to
// an ordinary Go program, so this package takes the one idiomatic
// escape hatch: every lock operation takes an explicit *CPU, the way
// a context.Context is threaded through blocking calls elsewhere in
// this codebase. The *CPU a caller passes is always "the CPU I am
// currently running on", tracked by sched.CPU and handed down through
// every call that might take a lock.
package klock

import "sync/atomic"

// CPU is the per-CPU bookkeeping spec.md §4.2 requires: a nesting
// counter for push_off/pop_off plus the interrupt-enabled flag sampled
// at the outermost push_off.
type CPU struct {
	ID            int
	noff          int32
	interruptWasOn bool
	intrOn        bool
}

// NewCPU constructs a CPU with interrupts initially enabled, matching
// a hart's state right after boot.
func NewCPU(id int) *CPU {
	return &CPU{ID: id, intrOn: true}
}

// IntrOn reports whether this CPU currently has interrupts enabled. In
// this simulation "interrupts" gate whether sched.RunTasks may act on
// a pending timer tick for this CPU; nothing hardware backs the flag.
func (c *CPU) IntrOn() bool { return c.intrOn }

func (c *CPU) intrSet(on bool) { c.intrOn = on }

// PushOff disables "interrupts" on this CPU and bumps the nesting
// counter; the first (outermost) call remembers whether interrupts
// were enabled so the matching PopOff can restore that state exactly.
func (c *CPU) PushOff() {
	old := c.intrOn
	c.intrSet(false)
	if c.noff == 0 {
		c.interruptWasOn = old
	}
	c.noff++
}

// PopOff reverses one PushOff. It panics if interrupts are already on
// (a push/pop mismatch) or if the nesting counter is not positive,
// exactly as the Rust original's pop_off does.
func (c *CPU) PopOff() {
	if c.intrOn {
		panic("klock: pop_off with interrupts enabled")
	}
	if c.noff < 1 {
		panic("klock: pop_off without matching push_off")
	}
	c.noff--
	if c.noff == 0 && c.interruptWasOn {
		c.intrSet(true)
	}
}

// Noff exposes the current nesting depth, used by assertions that a
// thread is not about to suspend while holding a lock (spec.md §5).
func (c *CPU) Noff() int32 { return atomic.LoadInt32(&c.noff) }

// AssertNoLocksHeld panics if this CPU is currently inside any
// push_off region — called from sched.Scheduler.RunTasks before each
// hand-off to enforce spec.md §5's "never suspend while holding a
// lock" invariant.
func (c *CPU) AssertNoLocksHeld() {
	if c.noff != 0 {
		panic("klock: attempt to suspend while holding a lock")
	}
}
