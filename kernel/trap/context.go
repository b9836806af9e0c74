// Package trap defines the state saved when a task traps into the kernel.
package trap

import (
	"fmt"
	"io"
	"unsafe"

	"upkernel/kernel/mm"
)

// SstatusSPP is the sstatus bit that records the privilege level the hart
// trapped from. It is cleared when returning to user mode.
const SstatusSPP = uintptr(1) << 8

// Context contains a snapshot of the user registers when a task traps into
// the kernel together with the information needed to enter the kernel on
// the next trap. It is stored in the task's trap context page.
type Context struct {
	// X holds the general purpose registers x0-x31.
	X [32]uintptr

	Sstatus uintptr

	// Sepc is the user program counter to resume at.
	Sepc uintptr

	// KernelSatp is the token of the kernel address space.
	KernelSatp uintptr

	// KernelSp is the top of the task's kernel stack.
	KernelSp uintptr

	// TrapHandler is the address of the kernel trap handler.
	TrapHandler uintptr
}

// AppInitContext returns the context that enters a program at entry in user
// mode with its stack pointer set to sp.
func AppInitContext(entry, sp, kernelSatp, kernelSp, trapHandler uintptr) Context {
	ctx := Context{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSp:    kernelSp,
		TrapHandler: trapHandler,
	}
	ctx.Sstatus &^= SstatusSPP
	ctx.SetSP(sp)
	return ctx
}

// SP returns the user stack pointer (x2).
func (ctx *Context) SP() uintptr { return ctx.X[2] }

// SetSP sets the user stack pointer (x2).
func (ctx *Context) SetSP(sp uintptr) { ctx.X[2] = sp }

// FromFrame returns the Context stored at the beginning of frame.
func FromFrame(mem *mm.PhysicalMemory, frame mm.Frame) *Context {
	return (*Context)(mem.FramePointer(frame))
}

// DumpTo outputs the register contents to w.
func (ctx *Context) DumpTo(w io.Writer) {
	for i := 0; i < len(ctx.X); i += 4 {
		fmt.Fprintf(w, "x%-2d = %16x x%-2d = %16x x%-2d = %16x x%-2d = %16x\n",
			i, ctx.X[i], i+1, ctx.X[i+1], i+2, ctx.X[i+2], i+3, ctx.X[i+3])
	}
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "SEPC = %16x SSTATUS = %16x\n", ctx.Sepc, ctx.Sstatus)
}

// Size is the number of bytes occupied by a Context.
const Size = unsafe.Sizeof(Context{})

// Cause describes the reason for a trap.
type Cause uint8

const (
	// IllegalInstruction occurs when the hart fetches an instruction with an
	// unknown opcode.
	IllegalInstruction = Cause(2)

	// UserEnvCall occurs when a user task executes ecall.
	UserEnvCall = Cause(8)

	// InstructionPageFault occurs when the hart fetches an instruction from
	// a page that is not mapped as user-executable.
	InstructionPageFault = Cause(12)

	// LoadPageFault occurs when a task reads from a page that is not mapped
	// as user-readable.
	LoadPageFault = Cause(13)

	// StorePageFault occurs when a task writes to a page that is not mapped
	// as user-writable.
	StorePageFault = Cause(15)

	// SupervisorTimer occurs when the time slice of the running task
	// expires.
	SupervisorTimer = Cause(0x80 | 5)
)

// String implements fmt.Stringer.
func (c Cause) String() string {
	switch c {
	case IllegalInstruction:
		return "IllegalInstruction"
	case UserEnvCall:
		return "UserEnvCall"
	case InstructionPageFault:
		return "InstructionPageFault"
	case LoadPageFault:
		return "LoadPageFault"
	case StorePageFault:
		return "StorePageFault"
	case SupervisorTimer:
		return "SupervisorTimer"
	default:
		return fmt.Sprintf("Cause(%d)", uint8(c))
	}
}
