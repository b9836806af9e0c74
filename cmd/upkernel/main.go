package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"upkernel/config"
	"upkernel/kernel/hal"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/ktrace"
	"upkernel/kernel/loader"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/pmm"
	"upkernel/kernel/mm/vmm"
	"upkernel/kernel/syscall"
	"upkernel/kernel/task"
	"upkernel/kernel/timer"
)

const (
	serviceName    = "upkernel"
	serviceVersion = "0.4.0"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[upkernel] error: %s\n", err.Error())
	os.Exit(1)
}

func runKernel() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	bootID := uuid.NewString()
	kfmt.InitLogger(cfg.Log.Level, os.Stderr, "boot_id", bootID)

	if cfg.Trace.Output != "" {
		shutdown, err := ktrace.Init(serviceName, serviceVersion, cfg.Trace.Output, bootID)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				kfmt.Log().Warn("failed to flush traces", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctx, span := ktrace.StartSpan(ctx, "kernel.boot")
	span.SetString("apps.url", cfg.Apps.URL).SetInt("scheduler.time_slice", int64(cfg.Scheduler.TimeSlice))

	err = boot(ctx, cfg)
	if errors.Is(err, task.ErrAllTasksCompleted) {
		ktrace.EndSpan(span, nil)
		return nil
	}
	ktrace.EndSpan(span, err)
	return err
}

// boot brings up the kernel services described by cfg and runs every app
// until all of them exit, a task halts the kernel or ctx is done.
func boot(ctx context.Context, cfg config.Config) error {
	mem, kerr := mm.NewPhysicalMemory(uintptr(cfg.Memory.Base), mm.Size(cfg.Memory.Size))
	if kerr != nil {
		return kerr
	}

	ekernel := cfg.Memory.EKernel()
	alloc, kerr := pmm.Init(mem, ekernel, mem.End())
	if kerr != nil {
		return kerr
	}

	kernelSpace, kerr := vmm.NewKernelSpace(alloc, ekernel)
	if kerr != nil {
		return kerr
	}

	apps, err := loader.LoadDir(ctx, cfg.Apps.URL)
	if err != nil {
		return err
	}
	kfmt.Log().Info("loaded app images", "url", cfg.Apps.URL, "apps", apps.Names)

	hart := hal.NewHart(mem, uint64(cfg.Scheduler.TimeSlice))
	clock := timer.NewMonotonicClock()
	env := task.Env{
		Alloc:       alloc,
		KernelSpace: kernelSpace,
		TrapHandler: hal.TrapHandlerAddress(mem),
	}

	tasks, err := task.NewManager(env, apps, clock, hart.Switcher())
	if err != nil {
		return err
	}

	console := hal.NewConsole(os.Stdout)
	dispatcher := syscall.NewDispatcher(tasks, mem, clock, console)

	err = hart.Run(ctx, tasks, dispatcher)
	for _, snap := range tasks.Snapshot() {
		kfmt.Log().Info("task summary",
			"task", snap.ID,
			"status", snap.Status.String(),
			"syscalls", snap.SyscallTotal,
		)
	}
	kfmt.Log().Info("kernel stopped", "free_frames", alloc.FreeFrames())

	if errors.Is(err, task.ErrAllTasksCompleted) {
		kfmt.Log().Info("all applications completed")
	}
	return err
}

func main() {
	if err := runKernel(); err != nil {
		exit(err)
	}
}
