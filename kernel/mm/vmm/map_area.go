package vmm

import (
	"upkernel/kernel"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/pmm"
)

// MapPermission describes the access rights of a mapped area. The bit
// values match the corresponding page table entry flags.
type MapPermission uint8

const (
	// PermRead allows loads from the area.
	PermRead MapPermission = 1 << (iota + 1)

	// PermWrite allows stores to the area.
	PermWrite

	// PermExec allows instruction fetches from the area.
	PermExec

	// PermUser allows user-mode access to the area.
	PermUser
)

func (p MapPermission) flags() PageTableEntryFlag {
	return PageTableEntryFlag(p) & (FlagRead | FlagWrite | FlagExec | FlagUser)
}

// String implements fmt.Stringer.
func (p MapPermission) String() string {
	const names = "RWXU"

	buf := make([]byte, len(names))
	for i := range names {
		buf[i] = '-'
		if p&(1<<uint(i+1)) != 0 {
			buf[i] = names[i]
		}
	}
	return string(buf)
}

// mapType selects how the pages of an area are backed.
type mapType uint8

const (
	// mapIdentical maps each page to the frame with the same number.
	mapIdentical mapType = iota

	// mapFramed backs each page with a freshly allocated frame that is
	// owned by the area.
	mapFramed
)

// mapArea is a contiguous range of virtual pages sharing a mapping type and
// a set of permissions.
type mapArea struct {
	pages  mm.PageRange
	typ    mapType
	perm   MapPermission
	frames map[mm.Page]*pmm.FrameTracker
}

func newMapArea(startVA, endVA uintptr, typ mapType, perm MapPermission) *mapArea {
	return &mapArea{
		pages:  mm.PageRangeFor(startVA, endVA),
		typ:    typ,
		perm:   perm,
		frames: make(map[mm.Page]*pmm.FrameTracker),
	}
}

// mapOne installs the mapping for a single page of the area, allocating its
// backing frame if the area is framed.
func (area *mapArea) mapOne(pt *PageTable, alloc *pmm.FrameAllocator, page mm.Page) *kernel.Error {
	frame := mm.Frame(page)
	if area.typ == mapFramed {
		tracker, err := alloc.AllocFrame()
		if err != nil {
			return err
		}
		area.frames[page] = tracker
		frame = tracker.Frame()
	}

	if err := pt.Map(page, frame, area.perm.flags()); err != nil {
		if tracker := area.frames[page]; tracker != nil {
			tracker.Release()
			delete(area.frames, page)
		}
		return err
	}
	return nil
}

// unmapOne removes the mapping for a single page of the area and releases
// the frame backing it.
func (area *mapArea) unmapOne(pt *PageTable, page mm.Page) {
	pt.Unmap(page)
	if tracker := area.frames[page]; tracker != nil {
		tracker.Release()
		delete(area.frames, page)
	}
}

// mapAll maps every page of the area. If a frame cannot be allocated, the
// pages mapped so far are unmapped and their frames are released before the
// error is returned.
func (area *mapArea) mapAll(pt *PageTable, alloc *pmm.FrameAllocator) *kernel.Error {
	var err *kernel.Error
	area.pages.Each(func(page mm.Page) bool {
		if err = area.mapOne(pt, alloc, page); err != nil {
			mm.PageRange{Start: area.pages.Start, End: page}.Each(func(mapped mm.Page) bool {
				area.unmapOne(pt, mapped)
				return true
			})
			return false
		}
		return true
	})
	return err
}

// copyData copies data into the frames of a framed area starting offset
// bytes into its first page. The area must be mapped and large enough to
// hold the data.
func (area *mapArea) copyData(offset uintptr, data []byte) {
	for page := area.pages.Start; len(data) > 0; page++ {
		n := kernel.Memcopy(data, area.frames[page].Bytes()[offset:])
		data = data[n:]
		offset = 0
	}
}

// overlaps returns true if the area maps any page of r. Pages of a framed
// area that have been unmapped do not count.
func (area *mapArea) overlaps(r mm.PageRange) bool {
	if r.Len() == 0 || r.Start >= area.pages.End || area.pages.Start >= r.End {
		return false
	}

	if area.typ == mapIdentical {
		return true
	}

	for page := range area.frames {
		if r.Contains(page) {
			return true
		}
	}
	return false
}

// release returns all frames owned by the area to the allocator.
func (area *mapArea) release() {
	for page, tracker := range area.frames {
		tracker.Release()
		delete(area.frames, page)
	}
}
