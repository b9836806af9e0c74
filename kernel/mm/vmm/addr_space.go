package vmm

import (
	"bytes"
	"debug/elf"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/pmm"
)

var (
	errOverlappingArea = &kernel.Error{Module: "vmm", Message: "area overlaps an existing mapping"}
	errAreaOutOfRange  = &kernel.Error{Module: "vmm", Message: "area extends past the user address limit"}
	errNotExecutable   = &kernel.Error{Module: "vmm", Message: "elf image is not a riscv64 executable"}
)

// AddressSpace is a page table together with the map areas whose pages it
// translates. The address space owns every frame mapped into it as well as
// the frames holding its page tables.
type AddressSpace struct {
	alloc     *pmm.FrameAllocator
	pageTable *PageTable
	areas     []*mapArea
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace(alloc *pmm.FrameAllocator) (*AddressSpace, *kernel.Error) {
	pt, err := NewPageTable(alloc)
	if err != nil {
		return nil, err
	}

	return &AddressSpace{alloc: alloc, pageTable: pt}, nil
}

// NewKernelSpace builds the kernel address space. The kernel image occupies
// physical memory up to ekernel and is identity-mapped as R|X; the remaining
// physical memory is identity-mapped as R|W. The first frame of the kernel
// image holds the trampoline, which is also mapped at the top of the address
// space.
func NewKernelSpace(alloc *pmm.FrameAllocator, ekernel uintptr) (*AddressSpace, *kernel.Error) {
	as, err := NewAddressSpace(alloc)
	if err != nil {
		return nil, err
	}

	mem := alloc.Memory()
	ekernel = mm.PageCeil(ekernel).Address()

	if err = as.MapTrampoline(TrampolineFrame(mem)); err == nil {
		err = as.push(newMapArea(mem.Base(), ekernel, mapIdentical, PermRead|PermExec))
	}
	if err == nil {
		err = as.push(newMapArea(ekernel, mem.End(), mapIdentical, PermRead|PermWrite))
	}
	if err != nil {
		as.Release()
		return nil, err
	}

	kfmt.Log().Info("kernel address space ready",
		"text", mm.PageRangeFor(mem.Base(), ekernel).Len(),
		"data", mm.PageRangeFor(ekernel, mem.End()).Len(),
		"token", as.Token(),
	)
	return as, nil
}

// TrampolineFrame returns the frame that holds the trampoline code.
func TrampolineFrame(mem *mm.PhysicalMemory) mm.Frame {
	return mm.FrameFromAddress(mem.Base())
}

// FromELF builds a user address space from an ELF executable. Each PT_LOAD
// segment becomes a user area with the permissions of the segment. A user
// stack is placed one guard page above the highest segment and the trap
// context page is mapped right below the trampoline.
//
// FromELF returns the new address space, the initial user stack pointer and
// the program entry point.
func FromELF(alloc *pmm.FrameAllocator, trampoline mm.Frame, data []byte) (*AddressSpace, uintptr, uintptr, *kernel.Error) {
	f, perr := elf.NewFile(bytes.NewReader(data))
	if perr != nil {
		return nil, 0, 0, kernel.Errorf("vmm", "invalid elf image: %v", perr)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Type != elf.ET_EXEC || f.Machine != elf.EM_RISCV {
		return nil, 0, 0, errNotExecutable
	}

	as, err := NewAddressSpace(alloc)
	if err != nil {
		return nil, 0, 0, err
	}

	if err = as.MapTrampoline(trampoline); err != nil {
		as.Release()
		return nil, 0, 0, err
	}

	var maxEnd mm.Page
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		startVA, endVA := uintptr(prog.Vaddr), uintptr(prog.Vaddr+prog.Memsz)
		if endVA < startVA || endVA > TrapContextBase || prog.Filesz > prog.Memsz {
			as.Release()
			return nil, 0, 0, errAreaOutOfRange
		}

		perm := PermUser
		if prog.Flags&elf.PF_R != 0 {
			perm |= PermRead
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PermWrite
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PermExec
		}

		contents := make([]byte, prog.Filesz)
		if len(contents) > 0 {
			if _, rerr := prog.ReadAt(contents, 0); rerr != nil {
				as.Release()
				return nil, 0, 0, kernel.Errorf("vmm", "invalid elf image: %v", rerr)
			}
		}

		area := newMapArea(startVA, endVA, mapFramed, perm)
		if err = as.push(area); err != nil {
			as.Release()
			return nil, 0, 0, err
		}
		area.copyData(mm.PageOffset(startVA), contents)

		if area.pages.End > maxEnd {
			maxEnd = area.pages.End
		}
	}

	// Leave an unmapped guard page between the image and the user stack.
	userStackBottom := maxEnd.Address() + mm.PageSize
	userStackTop := userStackBottom + UserStackSize
	if userStackTop > TrapContextBase {
		as.Release()
		return nil, 0, 0, errAreaOutOfRange
	}

	if err = as.InsertFramedArea(userStackBottom, userStackTop, PermRead|PermWrite|PermUser); err != nil {
		as.Release()
		return nil, 0, 0, err
	}

	if err = as.InsertFramedArea(TrapContextBase, Trampoline, PermRead|PermWrite); err != nil {
		as.Release()
		return nil, 0, 0, err
	}

	return as, userStackTop, uintptr(f.Entry), nil
}

// MapTrampoline maps the trampoline frame at the top of the address space.
// The trampoline does not belong to any area as its frame is shared by all
// address spaces.
func (as *AddressSpace) MapTrampoline(trampoline mm.Frame) *kernel.Error {
	return as.pageTable.Map(mm.PageFromAddress(Trampoline), trampoline, FlagRead|FlagExec)
}

// InsertFramedArea maps the pages that cover [startVA, endVA) to freshly
// allocated frames. The insertion either maps every page or, if the frames
// run out, none of them.
func (as *AddressSpace) InsertFramedArea(startVA, endVA uintptr, perm MapPermission) *kernel.Error {
	return as.push(newMapArea(startVA, endVA, mapFramed, perm))
}

// push maps area and adds it to the address space. The new area must not
// overlap any existing area.
func (as *AddressSpace) push(area *mapArea) *kernel.Error {
	for _, other := range as.areas {
		if other.overlaps(area.pages) {
			return errOverlappingArea
		}
	}

	if err := area.mapAll(as.pageTable, as.alloc); err != nil {
		return err
	}

	as.areas = append(as.areas, area)
	return nil
}

// Unmap removes the mappings for the pages in [start, end) and releases the
// frames backing them. Every page in the range must be mapped by a framed
// area. Areas left without any mapped page are dropped.
func (as *AddressSpace) Unmap(start, end mm.Page) {
	for page := start; page < end; page++ {
		area := as.framedAreaFor(page)
		if area == nil {
			kfmt.Panic(kernel.Errorf("vmm", "%s is not mapped by a framed area", page))
			return
		}
		area.unmapOne(as.pageTable, page)
	}

	kept := as.areas[:0]
	for _, area := range as.areas {
		if area.typ == mapIdentical || len(area.frames) > 0 {
			kept = append(kept, area)
		}
	}
	for i := len(kept); i < len(as.areas); i++ {
		as.areas[i] = nil
	}
	as.areas = kept
}

func (as *AddressSpace) framedAreaFor(page mm.Page) *mapArea {
	for _, area := range as.areas {
		if area.frames[page] != nil {
			return area
		}
	}
	return nil
}

// Translate returns the leaf page table entry for page. The second return
// value is false if no leaf table covers the page.
func (as *AddressSpace) Translate(page mm.Page) (PageTableEntry, bool) {
	return as.pageTable.Translate(page)
}

// Token returns the token that activates this address space on a hart.
func (as *AddressSpace) Token() uintptr {
	return as.pageTable.Token()
}

// RecycleDataPages unmaps every user-accessible page and returns its frame
// to the allocator. Kernel-only areas, such as the trap context page, and
// the page tables stay until the address space is released.
func (as *AddressSpace) RecycleDataPages() {
	kept := as.areas[:0]
	for _, area := range as.areas {
		if area.typ == mapFramed && area.perm&PermUser != 0 {
			for page := range area.frames {
				area.unmapOne(as.pageTable, page)
			}
			continue
		}
		kept = append(kept, area)
	}
	for i := len(kept); i < len(as.areas); i++ {
		as.areas[i] = nil
	}
	as.areas = kept
}

// Release tears down the address space, returning every frame it owns to
// the frame allocator.
func (as *AddressSpace) Release() {
	for _, area := range as.areas {
		area.release()
	}
	as.areas = nil
	as.pageTable.release()
}
