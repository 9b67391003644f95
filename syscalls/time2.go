// Time-group syscalls beyond clock_gettime: gettimeofday (the same
// clock, a different wire struct), nanosleep (a real goroutine sleep —
// this simulation has no separate timer-interrupt path to block on
// instead), times, and setitimer/getitimer. Grounded on accnt.Accnt's
// existing wall/user/sys bookkeeping for the parts that read real
// elapsed time.
package syscalls

import (
	"sync"
	"time"

	"rv39kernel/accnt"
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
)

func sysGettimeofday(t *proc.TaskControlBlock, tvAddr, tzAddr, a2, a3, a4, a5 uint64) int64 {
	if tvAddr == 0 {
		return 0
	}
	now := time.Now().UnixNano()
	buf := make([]byte, 16)
	putLE64(buf[0:8], uint64(now/1_000_000_000))
	putLE64(buf[8:16], uint64(now%1_000_000_000/1000))
	if err := t.Proc.VM.Write(uintptr(tvAddr), buf, mem.Write); err != 0 {
		return errval(err)
	}
	return 0
}

// sysNanosleep blocks the calling goroutine directly; spec.md has no
// separate "blocked on timer" task state distinct from the goroutine
// simply not returning from its syscall, so there is nothing else to
// update here (the scheduler only ever sees threads that are either
// running their trap handler or parked on a channel).
func sysNanosleep(t *proc.TaskControlBlock, reqAddr, remAddr, a2, a3, a4, a5 uint64) int64 {
	var buf [16]byte
	if err := t.Proc.VM.Read(uintptr(reqAddr), buf[:], mem.Read); err != 0 {
		return errval(err)
	}
	sec := getLE64(buf[0:8])
	nsec := getLE64(buf[8:16])
	time.Sleep(time.Duration(sec)*time.Second + time.Duration(nsec))
	return 0
}

// sysTimes reports accnt's running utime/stime in clock ticks (sysconf
// CLOCKS_PER_SEC == 100, the Linux default); cutime/cstime are left
// zero since child accounting isn't tracked per spec.md §12's
// shared-Accnt simplification (see syscalls.Build's doc comment).
func sysTimes(t *proc.TaskControlBlock, acct *accnt.Accnt, bufAddr, a1, a2, a3, a4, a5 uint64) int64 {
	if bufAddr != 0 {
		snap := acct.Fetch()
		const ticksPerSec = 100
		utimeTicks := uint64(snap.Utime.Sec)*ticksPerSec + uint64(snap.Utime.Usec)*ticksPerSec/1_000_000
		stimeTicks := uint64(snap.Stime.Sec)*ticksPerSec + uint64(snap.Stime.Usec)*ticksPerSec/1_000_000
		buf := make([]byte, 32)
		putLE64(buf[0:8], utimeTicks)
		putLE64(buf[8:16], stimeTicks)
		if err := t.Proc.VM.Write(uintptr(bufAddr), buf, mem.Write); err != 0 {
			return errval(err)
		}
	}
	return int64(time.Now().Unix())
}

// ITIMER_REAL/VIRTUAL/PROF, named after Linux's setitimer(2).
const (
	itimerReal = 0
	itimerVirtual = 1
	itimerProf = 2
)

type itimerValue struct {
	intervalSec, intervalUsec uint64
	valueSec, valueUsec       uint64
}

var (
	itimerMu sync.Mutex
	itimers  = make(map[defs.Pid_t][3]itimerValue)
)

// sysSetitimer/sysGetitimer record the requested interval/value per
// (pid, which) and report it back; no timer-interrupt path actually
// decrements the value or raises SIGALRM/SIGVTALRM/SIGPROF when it
// expires, since this kernel simulation has no periodic tick distinct
// from trap.Context.Handle's own accounting hook. Recorded as a
// deliberate scope decision in DESIGN.md.
func sysSetitimer(t *proc.TaskControlBlock, which, newAddr, oldAddr, a3, a4, a5 uint64) int64 {
	if which > itimerProf {
		return errval(defs.EINVAL)
	}
	itimerMu.Lock()
	defer itimerMu.Unlock()
	slot := itimers[t.Proc.Pid]
	if oldAddr != 0 {
		if err := writeItimerval(t, oldAddr, slot[which]); err != 0 {
			return errval(err)
		}
	}
	if newAddr != 0 {
		v, err := readItimerval(t, newAddr)
		if err != 0 {
			return errval(err)
		}
		slot[which] = v
		itimers[t.Proc.Pid] = slot
	}
	return 0
}

func sysGetitimer(t *proc.TaskControlBlock, which, curAddr, a2, a3, a4, a5 uint64) int64 {
	if which > itimerProf {
		return errval(defs.EINVAL)
	}
	itimerMu.Lock()
	v := itimers[t.Proc.Pid][which]
	itimerMu.Unlock()
	return errval(writeItimerval(t, curAddr, v))
}

func readItimerval(t *proc.TaskControlBlock, addr uint64) (itimerValue, defs.Err_t) {
	var buf [32]byte
	if err := t.Proc.VM.Read(uintptr(addr), buf[:], mem.Read); err != 0 {
		return itimerValue{}, err
	}
	return itimerValue{
		intervalSec:  getLE64(buf[0:8]),
		intervalUsec: getLE64(buf[8:16]),
		valueSec:     getLE64(buf[16:24]),
		valueUsec:    getLE64(buf[24:32]),
	}, 0
}

func writeItimerval(t *proc.TaskControlBlock, addr uint64, v itimerValue) defs.Err_t {
	if addr == 0 {
		return 0
	}
	buf := make([]byte, 32)
	putLE64(buf[0:8], v.intervalSec)
	putLE64(buf[8:16], v.intervalUsec)
	putLE64(buf[16:24], v.valueSec)
	putLE64(buf[24:32], v.valueUsec)
	return t.Proc.VM.Write(uintptr(addr), buf, mem.Write)
}

func sysTkill(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	target, ok := proc.LookupTCB(defs.Tid_t(int32(a0)))
	if !ok {
		return errval(defs.ESRCH)
	}
	target.Receivers.Raise(defs.Signum(a1))
	return 0
}

// getuid/geteuid/getgid/getegid: a single-user kernel, spec.md's
// Non-goals exclude real multi-user accounting, so every identity
// syscall reports uid/gid 0 unconditionally rather than tracking a
// credentials structure no other syscall consults.
func sysGetuid(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 { return 0 }
