// Command kernel is the boot harness: it allocates physical memory,
// builds the kernel page table, spawns the init process, and starts
// one sched.RunTasks loop per simulated hart. Grounded on biscuit's own
// multi-hart bring-up (every AP jumps into the same Go scheduler loop
// once the boot processor has mapped physical memory and started
// them), generalised onto golang.org/x/sync/errgroup so a hart's panic
// tears the whole machine down cleanly instead of leaving sibling
// goroutines running against torn-down state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"rv39kernel/accnt"
	"rv39kernel/defs"
	"rv39kernel/klock"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/sched"
	"rv39kernel/syscalls"
	"rv39kernel/trap"
	"rv39kernel/vfs"
	"rv39kernel/vm"
)

func main() {
	harts := flag.Int("harts", 1, "number of simulated harts to bring up")
	memMB := flag.Int("mem", 64, "simulated physical memory, in MiB")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(logger, *harts, *memMB); err != nil {
		logger.Error("boot failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, harts, memMB int) error {
	if harts < 1 {
		return fmt.Errorf("kernel: at least one hart is required")
	}

	arena := mem.NewArena(memMB * 1024 * 1024)
	alloc := mem.NewFrameAllocator(arena)
	alloc.Init([]mem.Region{{Start: 0, End: uintptr(arena.Size())}})
	logger.Info("physical memory initialised", "bytes", arena.Size())

	kernelPT := mem.NewPageTable(alloc)
	initVM := vm.NewMemorySet(alloc, kernelPT)

	initProc, initTCB, perr := proc.NewProcess(defs.NoParent, initVM)
	if perr != 0 {
		return fmt.Errorf("kernel: creating init process: errno %d", perr)
	}
	stdin, _ := vfs.NewPipe()
	initProc.Fds.Push(stdin, 0, 0)
	initProc.Fds.Push(vfs.NewStdout(os.Stdout), 0, 0)
	initProc.Fds.Push(vfs.NewStdout(os.Stderr), 0, 0)
	logger.Info("init process created", "pid", initProc.Pid)

	acct := &accnt.Accnt{}
	root := syscalls.NewRootFS()
	syscallTable := syscalls.Build(kernelPT, acct, root)
	trapCtx := &trap.Context{Syscalls: syscallTable, KernelPT: kernelPT, Acct: acct}

	scheduler := sched.New()
	scheduler.Spawn(initTCB, func(t *proc.TaskControlBlock) {
		// A real body loops reading the trap cause out of hardware;
		// this simulation has none to trap on (no loaded user image in
		// this harness), so the init thread makes one pass through
		// trap.Handle and exits. Spawn has already queued it once.
		trapCtx.Handle(t, trap.CauseUserEcall, 0, nil)
		t.Exit(0)
	})

	g, ctx := errgroup.WithContext(context.Background())
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	for id := 0; id < harts; id++ {
		id := id
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("hart %d panicked: %v", id, r)
				}
			}()
			cpu := klock.NewCPU(id)
			logger.Info("hart started", "id", id)
			scheduler.RunTasks(cpu, stop)
			return nil
		})
	}

	return g.Wait()
}
