package vmm

import (
	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/pmm"
)

// pageTable overlays the entries of a page table frame.
type pageTable [entriesPerTable]PageTableEntry

// PageTable is a three-level sv39 page table stored in physical frames. The
// PageTable owns the frames that hold its tables; the frames that the
// entries point to are owned by the map areas of an AddressSpace.
type PageTable struct {
	mem  *mm.PhysicalMemory
	root mm.Frame

	// alloc is nil for page tables obtained via FromToken; such tables
	// can only be used for lookups.
	alloc  *pmm.FrameAllocator
	frames []*pmm.FrameTracker
}

// NewPageTable allocates the root table frame for a new page table.
func NewPageTable(alloc *pmm.FrameAllocator) (*PageTable, *kernel.Error) {
	rootTracker, err := alloc.AllocFrame()
	if err != nil {
		return nil, err
	}

	return &PageTable{
		mem:    alloc.Memory(),
		root:   rootTracker.Frame(),
		alloc:  alloc,
		frames: []*pmm.FrameTracker{rootTracker},
	}, nil
}

// FromToken returns a read-only view of the page table identified by token.
// It is the software equivalent of the MMU walking the tables of the address
// space that is active on the hart.
func FromToken(mem *mm.PhysicalMemory, token uintptr) *PageTable {
	return &PageTable{
		mem:  mem,
		root: mm.Frame(token & ptePPNMask),
	}
}

// Token returns the value that identifies this page table when activating
// it on a hart (the contents of the satp register).
func (pt *PageTable) Token() uintptr {
	return satpModeSv39 | uintptr(pt.root)
}

// table returns the page table stored in frame.
func (pt *PageTable) table(frame mm.Frame) *pageTable {
	return (*pageTable)(pt.mem.FramePointer(frame))
}

// pageIndices splits a page number into its per-level table indices.
func pageIndices(page mm.Page) [pageLevels]uintptr {
	var indices [pageLevels]uintptr
	vpn := uintptr(page)
	for level := pageLevels - 1; level >= 0; level-- {
		indices[level] = vpn & (entriesPerTable - 1)
		vpn >>= pageLevelBits
	}
	return indices
}

// walk visits the entries that translate page, from the root table to the
// leaf table. If create is true, missing intermediate tables are allocated;
// otherwise the walk stops at the first missing table and returns nil.
func (pt *PageTable) walk(page mm.Page, create bool) (*PageTableEntry, *kernel.Error) {
	var (
		indices = pageIndices(page)
		frame   = pt.root
	)

	for level := 0; level < pageLevels; level++ {
		pte := &pt.table(frame)[indices[level]]
		if level == pageLevels-1 {
			return pte, nil
		}

		if !pte.Valid() {
			if !create {
				return nil, nil
			}

			// The next table does not yet exist; allocate a zeroed
			// frame for it.
			tracker, err := pt.alloc.AllocFrame()
			if err != nil {
				return nil, err
			}
			pt.frames = append(pt.frames, tracker)
			*pte = NewPageTableEntry(tracker.Frame(), FlagValid)
		}
		frame = pte.Frame()
	}

	return nil, nil
}

// Map establishes a mapping between a virtual page and a physical frame.
// Mapping a page that is already mapped halts the kernel.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pte, err := pt.walk(page, true)
	if err != nil {
		return err
	}

	if pte.Valid() {
		kfmt.Panic(kernel.Errorf("vmm", "%s is mapped before mapping", page))
		return nil
	}

	*pte = NewPageTableEntry(frame, flags|FlagValid)
	return nil
}

// Unmap removes a mapping previously installed via a call to Map. Unmapping
// a page that is not mapped halts the kernel.
func (pt *PageTable) Unmap(page mm.Page) {
	pte, _ := pt.walk(page, false)
	if pte == nil || !pte.Valid() {
		kfmt.Panic(kernel.Errorf("vmm", "%s is invalid before unmapping", page))
		return
	}

	*pte = 0
}

// Translate returns the leaf entry for page. The second return value is
// false if the walk did not reach a leaf table; otherwise the entry is
// returned even if it is not valid.
func (pt *PageTable) Translate(page mm.Page) (PageTableEntry, bool) {
	pte, _ := pt.walk(page, false)
	if pte == nil {
		return 0, false
	}
	return *pte, true
}

// TranslateAddr returns the physical address that corresponds to virtAddr
// provided that the page containing it is validly mapped with all of the
// required flags.
func (pt *PageTable) TranslateAddr(virtAddr uintptr, required PageTableEntryFlag) (uintptr, bool) {
	pte, ok := pt.Translate(mm.PageFromAddress(virtAddr))
	if !ok || !pte.HasFlags(required|FlagValid) {
		return 0, false
	}
	return pte.Frame().Address() + mm.PageOffset(virtAddr), true
}

// release returns the frames that hold the page tables to the allocator.
func (pt *PageTable) release() {
	for _, tracker := range pt.frames {
		tracker.Release()
	}
	pt.frames = nil
}
