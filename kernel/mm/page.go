// Package mm defines the physical frame and virtual page types shared by the
// physical (pmm) and virtual (vmm) memory managers together with the
// simulated physical memory that backs every frame.
package mm

import (
	"fmt"
	"math"
)

// Frame describes a physical memory page index (PPN).
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	return fmt.Sprintf("ppn=%#x", uintptr(f))
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// FrameCeil returns the first Frame that starts at or after the given
// physical address.
func FrameCeil(physAddr uintptr) Frame {
	return Frame((physAddr + PageSize - 1) >> PageShift)
}

// Page describes a virtual memory page index (VPN).
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// String implements fmt.Stringer.
func (p Page) String() string {
	return fmt.Sprintf("vpn=%#x", uintptr(p))
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(((virtAddr & (MaxVirtAddr - 1)) & ^(PageSize - 1)) >> PageShift)
}

// PageCeil returns the first Page that starts at or after the given virtual
// address. The end of the virtual address space maps to the Page one past the
// last valid one.
func PageCeil(virtAddr uintptr) Page {
	if virtAddr >= MaxVirtAddr {
		return Page(MaxVirtAddr >> PageShift)
	}
	return Page((virtAddr + PageSize - 1) >> PageShift)
}

// PageAligned returns true if addr is a multiple of PageSize.
func PageAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uintptr) uintptr {
	return addr & (PageSize - 1)
}

// PageRange describes the half-open range of pages [Start, End).
type PageRange struct {
	Start, End Page
}

// PageRangeFor returns the range of pages that cover the virtual address
// range [start, end). The start address is rounded down and the end address
// is rounded up to a page boundary.
func PageRangeFor(start, end uintptr) PageRange {
	return PageRange{Start: PageFromAddress(start), End: PageCeil(end)}
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Contains returns true if page lies within the range.
func (r PageRange) Contains(page Page) bool {
	return page >= r.Start && page < r.End
}

// Each invokes visitor for every page in the range until visitor returns
// false.
func (r PageRange) Each(visitor func(Page) bool) {
	for page := r.Start; page < r.End; page++ {
		if !visitor(page) {
			return
		}
	}
}
