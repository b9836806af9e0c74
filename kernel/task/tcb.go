package task

import (
	"upkernel/kernel"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/pmm"
	"upkernel/kernel/mm/vmm"
	"upkernel/kernel/trap"
)

// MaxSyscallNum is the number of syscall ids tracked by the per-task
// syscall histogram.
const MaxSyscallNum = 500

// Status describes the scheduling state of a task.
type Status uint32

const (
	// StatusUnInit is never held by a constructed task.
	StatusUnInit Status = iota

	// StatusReady is held by tasks waiting to be dispatched.
	StatusReady

	// StatusRunning is held by the task executing on the hart.
	StatusRunning

	// StatusExited is held by tasks that have exited. It is terminal.
	StatusExited
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusExited:
		return "Exited"
	default:
		return "UnInit"
	}
}

// Env bundles the kernel services needed to build and run tasks.
type Env struct {
	Alloc       *pmm.FrameAllocator
	KernelSpace *vmm.AddressSpace

	// TrapHandler is the kernel address that user traps enter.
	TrapHandler uintptr
}

// ControlBlock describes a task.
type ControlBlock struct {
	id     int
	status Status
	ctx    TaskContext

	mem          *mm.PhysicalMemory
	addrSpace    *vmm.AddressSpace
	trapCtxFrame mm.Frame

	// baseSize is the top of the user stack.
	baseSize uintptr

	startTime    uint64
	started      bool
	syscallTimes [MaxSyscallNum]uint32
}

// NewControlBlock builds the task for app appID from its ELF image. The new
// task is Ready and enters its entry point in user mode when dispatched.
func NewControlBlock(env Env, img []byte, appID int) (*ControlBlock, *kernel.Error) {
	mem := env.Alloc.Memory()
	addrSpace, userSP, entry, err := vmm.FromELF(env.Alloc, vmm.TrampolineFrame(mem), img)
	if err != nil {
		return nil, err
	}

	trapCtxPTE, _ := addrSpace.Translate(mm.PageFromAddress(vmm.TrapContextBase))

	kstackBottom, kstackTop := vmm.KernelStackPosition(appID)
	if err = env.KernelSpace.InsertFramedArea(kstackBottom, kstackTop, vmm.PermRead|vmm.PermWrite); err != nil {
		addrSpace.Release()
		return nil, err
	}

	tcb := &ControlBlock{
		id:           appID,
		status:       StatusReady,
		ctx:          GotoTrapReturn(kstackTop),
		mem:          mem,
		addrSpace:    addrSpace,
		trapCtxFrame: trapCtxPTE.Frame(),
		baseSize:     userSP,
	}

	*tcb.TrapContext() = trap.AppInitContext(entry, userSP, env.KernelSpace.Token(), kstackTop, env.TrapHandler)
	return tcb, nil
}

// release returns every frame owned by the task, including the kernel stack
// mapped into kernelSpace.
func (tcb *ControlBlock) release(kernelSpace *vmm.AddressSpace) {
	kstackBottom, kstackTop := vmm.KernelStackPosition(tcb.id)
	kernelSpace.Unmap(mm.PageFromAddress(kstackBottom), mm.PageFromAddress(kstackTop))
	tcb.addrSpace.Release()
}

// ID returns the app id of the task.
func (tcb *ControlBlock) ID() int { return tcb.id }

// Status returns the scheduling state of the task.
func (tcb *ControlBlock) Status() Status { return tcb.status }

// Token returns the token of the task's address space.
func (tcb *ControlBlock) Token() uintptr {
	return tcb.addrSpace.Token()
}

// TrapContext returns the trap context stored in the task's trap context
// page.
func (tcb *ControlBlock) TrapContext() *trap.Context {
	return trap.FromFrame(tcb.mem, tcb.trapCtxFrame)
}

// markDispatched switches the task to Running, recording the time of its
// first dispatch.
func (tcb *ControlBlock) markDispatched(nowMs uint64) {
	tcb.status = StatusRunning
	if !tcb.started {
		tcb.startTime = nowMs
		tcb.started = true
	}
}
