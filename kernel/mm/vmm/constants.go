package vmm

import "upkernel/kernel/mm"

const (
	// pageLevels indicates the number of page table levels used by the
	// sv39 paging scheme.
	pageLevels = 3

	// pageLevelBits is the number of virtual page number bits that index
	// a single page table level; each table holds 1 << pageLevelBits
	// entries.
	pageLevelBits = 9

	// entriesPerTable is the number of entries in a page table frame.
	entriesPerTable = 1 << pageLevelBits

	// ptePPNShift is the bit offset of the physical page number inside a
	// page table entry; the low bits hold the entry flags.
	ptePPNShift = 10

	// ptePPNMask extracts the 44-bit physical page number of an entry
	// after shifting it by ptePPNShift.
	ptePPNMask = (uintptr(1) << 44) - 1

	// satpModeSv39 is the paging mode encoded in the top bits of an
	// address space token.
	satpModeSv39 = uintptr(8) << 60
)

const (
	// Trampoline is the virtual address of the highest page in every
	// address space. It holds the code that switches between user and
	// kernel address spaces and is mapped at the same address in all of
	// them.
	Trampoline = mm.MaxVirtAddr - mm.PageSize

	// TrapContextBase is the virtual address of the page that stores a
	// task's trap context. It sits right below the trampoline and is only
	// accessible in supervisor mode. User mappings must end at or below
	// this address.
	TrapContextBase = Trampoline - mm.PageSize

	// UserStackSize is the size of a task's user stack.
	UserStackSize = 2 * mm.PageSize

	// KernelStackSize is the size of a task's kernel stack.
	KernelStackSize = 2 * mm.PageSize
)

// KernelStackPosition returns the [bottom, top) virtual address range of the
// kernel stack of the task with the supplied id. Kernel stacks are carved
// from the top of the kernel address space, below the trampoline, each one
// separated by an unmapped guard page.
func KernelStackPosition(appID int) (bottom, top uintptr) {
	top = Trampoline - uintptr(appID)*(KernelStackSize+mm.PageSize)
	bottom = top - KernelStackSize
	return bottom, top
}
