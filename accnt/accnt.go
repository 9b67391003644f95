// Package accnt tracks per-thread CPU-time accounting and exports it
// in two shapes: a getrusage(2)-style byte buffer and, new relative to
// the teacher, a pprof profile for offline analysis. Grounded directly
// on biscuit's accnt.Accnt_t (Utadd/Systadd/Io_time/Sleep_time/Finish/
// Fetch/To_rusage kept verbatim in spirit), generalised to export via
// github.com/google/pprof/profile instead of only the raw rusage
// encoding, since SPEC_FULL.md's domain-stack section gives pprof a
// concrete home here.
package accnt

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"

	"rv39kernel/defs"
)

// Accnt accumulates nanoseconds of user and system time for one
// thread or process, spec.md's accounting extension.
type Accnt struct {
	mu     sync.Mutex
	Userns int64
	Sysns  int64
}

func (a *Accnt) Utadd(delta int64)  { atomic.AddInt64(&a.Userns, delta) }
func (a *Accnt) Systadd(delta int64) { atomic.AddInt64(&a.Sysns, delta) }

func (a *Accnt) Now() int64 { return time.Now().UnixNano() }

// IoTime subtracts time spent blocked on I/O from the system-time
// counter, so it isn't double-counted as CPU-bound kernel work.
func (a *Accnt) IoTime(since int64) {
	a.Systadd(-(a.Now() - since))
}

// SleepTime is IoTime's counterpart for voluntary sleep/wait.
func (a *Accnt) SleepTime(since int64) {
	a.Systadd(-(a.Now() - since))
}

// Finish folds the time since inttime (the moment a trap was entered)
// into system time, called when a trap returns to user mode.
func (a *Accnt) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// Add merges n's counters into a under lock, used when reaping a
// child so the parent's rusage includes it (RUSAGE_CHILDREN).
func (a *Accnt) Add(n *Accnt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n.mu.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	n.mu.Unlock()
}

// Timeval mirrors the two-word {sec,usec} encoding getrusage(2) wants.
type Timeval struct {
	Sec, Usec int64
}

func toTimeval(nanos int64) Timeval {
	return Timeval{Sec: nanos / 1e9, Usec: (nanos % 1e9) / 1000}
}

// Rusage is the subset of struct rusage spec.md's getrusage(2) covers.
type Rusage struct {
	Utime, Stime Timeval
}

// Fetch takes a consistent snapshot and renders it as Rusage.
func (a *Accnt) Fetch() Rusage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Rusage{Utime: toTimeval(a.Userns), Stime: toTimeval(a.Sysns)}
}

// ToBytes serialises Rusage the way a copy-out to user memory expects:
// four 8-byte little-endian words, sec/usec pairs for user then sys.
func (r Rusage) ToBytes() []byte {
	out := make([]byte, 32)
	putLE := func(off int, v int64) {
		u := uint64(v)
		for i := 0; i < 8; i++ {
			out[off+i] = byte(u >> (8 * i))
		}
	}
	putLE(0, r.Utime.Sec)
	putLE(8, r.Utime.Usec)
	putLE(16, r.Stime.Sec)
	putLE(24, r.Stime.Usec)
	return out
}

// Sample is one named accounting record contributed to a profile
// export: pid, a label (e.g. "user", "sys"), and nanoseconds.
type Sample struct {
	Pid   defs.Pid_t
	Label string
	Nanos int64
}

// ExportProfile builds a pprof CPU-time profile from a set of
// per-process accounting snapshots, so time accounting gathered across
// a run can be inspected with the standard pprof toolchain. This is
// the one consumer of github.com/google/pprof/profile in this module:
// proc/sched plumb their Accnt snapshots here at shutdown.
func ExportProfile(samples []Sample) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cputime", Unit: "nanoseconds"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	funcsByPid := make(map[defs.Pid_t]*profile.Function)
	locsByPid := make(map[defs.Pid_t]*profile.Location)
	nextID := uint64(1)
	for _, s := range samples {
		fn, ok := funcsByPid[s.Pid]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: labelForPid(s.Pid)}
			nextID++
			funcsByPid[s.Pid] = fn
			p.Function = append(p.Function, fn)
		}
		loc, ok := locsByPid[s.Pid]
		if !ok {
			loc = &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
			nextID++
			locsByPid[s.Pid] = loc
			p.Location = append(p.Location, loc)
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Nanos},
			Label:    map[string][]string{"kind": {s.Label}},
		})
	}
	return p
}

func labelForPid(pid defs.Pid_t) string {
	if pid == 0 {
		return "kernel"
	}
	return "pid-" + strconv.Itoa(int(pid))
}
