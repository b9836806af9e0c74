package hal

import (
	"context"
	"encoding/binary"
	"runtime"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/loader/image"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/vmm"
	"upkernel/kernel/trap"
)

// Tasks is the subset of the task manager that drives the hart.
type Tasks interface {
	RunFirstTask()
	CurrentID() int
	CurrentToken() uintptr
	CurrentTrapContext() *trap.Context
	SuspendCurrentAndRunNext()
	ExitCurrentAndRunNext()
}

// SyscallDispatcher executes syscalls on behalf of the running task.
type SyscallDispatcher interface {
	Dispatch(ctx context.Context, id uintptr, args [3]uintptr) int64
}

// TrapHandlerAddress returns the kernel address that user traps enter. The
// trap handler follows the trampoline in the kernel image.
func TrapHandlerAddress(mem *mm.PhysicalMemory) uintptr {
	return mem.Base() + mm.PageSize
}

// Hart is a hosted processor that runs user tasks. It executes user
// instructions, delivers traps to the kernel and routes kernel halts back to
// the caller of Run.
type Hart struct {
	mem       *mm.PhysicalMemory
	timeSlice uint64
	switcher  *Switcher

	ctx      context.Context
	tasks    Tasks
	syscalls SyscallDispatcher
	halted   chan *kernel.Error
}

// NewHart returns a hart executing tasks stored in mem. If timeSlice is
// non-zero, the running task is preempted after executing timeSlice
// instructions without trapping.
func NewHart(mem *mm.PhysicalMemory, timeSlice uint64) *Hart {
	h := &Hart{
		mem:       mem,
		timeSlice: timeSlice,
		halted:    make(chan *kernel.Error, 1),
	}
	h.switcher = NewSwitcher(h.trapReturn)
	return h
}

// Switcher returns the context switch implementation of the hart.
func (h *Hart) Switcher() *Switcher {
	return h.switcher
}

// Run dispatches the first task and blocks until the kernel halts or ctx is
// done. It returns the error the kernel halted with. When Run returns, every
// task goroutine has exited and the previous halt function is back in
// place. A Hart runs at most once.
func (h *Hart) Run(ctx context.Context, tasks Tasks, syscalls SyscallDispatcher) error {
	h.ctx, h.tasks, h.syscalls = ctx, tasks, syscalls

	prevHaltFn := kfmt.SetHaltFn(h.halt)
	defer func() {
		h.switcher.Stop()
		h.switcher.Wait()
		kfmt.SetHaltFn(prevHaltFn)
	}()

	h.switcher.Go(tasks.RunFirstTask)

	select {
	case err := <-h.halted:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// halt reports err to Run and terminates the calling goroutine. Run waits
// for the other task goroutines to exit before it returns.
func (h *Hart) halt(err *kernel.Error) {
	select {
	case h.halted <- err:
	default:
	}
	h.switcher.Stop()
	runtime.Goexit()
}

// trapReturn drops to user mode in the running task and handles every trap
// that the task raises. It never returns.
func (h *Hart) trapReturn() {
	for {
		tc := h.tasks.CurrentTrapContext()
		cause := h.runUser(h.tasks.CurrentToken(), tc)
		h.trapHandler(tc, cause)
	}
}

// trapHandler handles a trap raised by the running task.
func (h *Hart) trapHandler(tc *trap.Context, cause trap.Cause) {
	switch cause {
	case trap.UserEnvCall:
		h.switcher.exitIfStopped()
		tc.Sepc += image.InstrSize
		ret := h.syscalls.Dispatch(h.ctx, tc.X[image.RegA7], [3]uintptr{tc.X[image.RegA0], tc.X[image.RegA1], tc.X[image.RegA2]})
		tc = h.tasks.CurrentTrapContext()
		tc.X[image.RegA0] = uintptr(ret)
	case trap.SupervisorTimer:
		h.tasks.SuspendCurrentAndRunNext()
	case trap.InstructionPageFault, trap.LoadPageFault, trap.StorePageFault, trap.IllegalInstruction:
		kfmt.Log().Warn("fault in application, kernel killed it",
			"task", h.tasks.CurrentID(), "cause", cause.String(), "sepc", tc.Sepc)
		h.tasks.ExitCurrentAndRunNext()
	default:
		kfmt.Panic(kernel.Errorf("hal", "unsupported trap %s", cause))
	}
}

// runUser executes instructions of the task whose address space is token
// until the task raises a trap.
func (h *Hart) runUser(token uintptr, tc *trap.Context) trap.Cause {
	var raw [image.InstrSize]byte

	for executed := uint64(0); ; executed++ {
		h.switcher.exitIfStopped()

		if h.timeSlice != 0 && executed == h.timeSlice {
			return trap.SupervisorTimer
		}

		if !vmm.CopyFrom(h.mem, token, tc.Sepc, raw[:], vmm.FlagUser|vmm.FlagExec) {
			return trap.InstructionPageFault
		}

		in := image.Decode(raw[:])
		nextPC := tc.Sepc + image.InstrSize

		switch in.Op {
		case image.OpLi:
			setReg(tc, in.X, uintptr(in.Y))
		case image.OpAddi:
			setReg(tc, in.X, reg(tc, in.Y)+uintptr(in.Z))
		case image.OpEcall:
			return trap.UserEnvCall
		case image.OpSd:
			var word [8]byte
			binary.LittleEndian.PutUint64(word[:], uint64(reg(tc, in.X)))
			if !vmm.CopyToUser(h.mem, token, reg(tc, in.Y)+uintptr(in.Z), word[:]) {
				return trap.StorePageFault
			}
		case image.OpLd:
			var word [8]byte
			if !vmm.CopyFromUser(h.mem, token, reg(tc, in.Y)+uintptr(in.Z), word[:]) {
				return trap.LoadPageFault
			}
			setReg(tc, in.X, uintptr(binary.LittleEndian.Uint64(word[:])))
		case image.OpBnez:
			if reg(tc, in.X) != 0 {
				nextPC = tc.Sepc + uintptr(in.Y)
			}
		default:
			return trap.IllegalInstruction
		}

		tc.Sepc = nextPC
	}
}

func reg(tc *trap.Context, r uint64) uintptr {
	if r >= image.NumRegs {
		return 0
	}
	return tc.X[r]
}

// setReg writes a register. Writes to x0 and to unknown registers are
// discarded.
func setReg(tc *trap.Context, r uint64, v uintptr) {
	if r == image.RegZero || r >= image.NumRegs {
		return
	}
	tc.X[r] = v
}
