package task

import (
	"upkernel/kernel"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/vmm"
)

var (
	errUnalignedStart    = &kernel.Error{Module: "mmap", Message: "start address is not page-aligned"}
	errInvalidPermission = &kernel.Error{Module: "mmap", Message: "invalid permission bits"}
	errRangeOutOfBounds  = &kernel.Error{Module: "mmap", Message: "range exceeds the user address space"}
	errAlreadyMapped     = &kernel.Error{Module: "mmap", Message: "range overlaps an existing mapping"}
	errNotMapped         = &kernel.Error{Module: "munmap", Message: "range contains unmapped pages"}
)

// MapPermission is the set of access rights requested by mmap.
type MapPermission uint8

const (
	// PermRead allows reads from the mapping.
	PermRead MapPermission = 1 << iota

	// PermWrite allows writes to the mapping.
	PermWrite

	// PermExec allows instruction fetches from the mapping.
	PermExec

	permMask = PermRead | PermWrite | PermExec
)

// ParseMapPermission validates the permission bits passed to mmap. At least
// one of the read, write and execute bits must be set and no other bit may
// be set.
func ParseMapPermission(port uintptr) (MapPermission, bool) {
	if port == 0 || port&^uintptr(permMask) != 0 {
		return 0, false
	}
	return MapPermission(port), true
}

// Has returns true if all of the supplied permissions are granted.
func (p MapPermission) Has(perm MapPermission) bool {
	return p&perm == perm
}

// userPermission returns the user-accessible area permission matching p.
func (p MapPermission) userPermission() vmm.MapPermission {
	perm := vmm.PermUser
	if p.Has(PermRead) {
		perm |= vmm.PermRead
	}
	if p.Has(PermWrite) {
		perm |= vmm.PermWrite
	}
	if p.Has(PermExec) {
		perm |= vmm.PermExec
	}
	return perm
}

// userRange returns the pages covering [start, start+length) after
// checking that start is page-aligned and the range lies below the trap
// context page.
func userRange(start, length uintptr) (mm.PageRange, *kernel.Error) {
	if !mm.PageAligned(start) {
		return mm.PageRange{}, errUnalignedStart
	}

	end := start + length
	if end < start || end > vmm.TrapContextBase {
		return mm.PageRange{}, errRangeOutOfBounds
	}
	return mm.PageRangeFor(start, end), nil
}

// Mmap maps the pages covering [start, start+length) into the address space
// of the running task, backing them with fresh frames. Either every page is
// mapped or, if the request is rejected, none is.
func (m *Manager) Mmap(start, length, port uintptr) *kernel.Error {
	pages, err := userRange(start, length)
	if err != nil {
		return err
	}

	perm, ok := ParseMapPermission(port)
	if !ok {
		return errInvalidPermission
	}

	if pages.Len() == 0 {
		return nil
	}

	inner := m.inner.Acquire()
	defer m.inner.Release()

	addrSpace := inner.tasks[inner.current].addrSpace
	for page := pages.Start; page < pages.End; page++ {
		if pte, ok := addrSpace.Translate(page); ok && pte.Valid() {
			return errAlreadyMapped
		}
	}

	return addrSpace.InsertFramedArea(start, start+length, perm.userPermission())
}

// Munmap unmaps the pages covering [start, start+length) from the address
// space of the running task and returns their frames to the allocator.
// Either every page is unmapped or, if the request is rejected, none is.
func (m *Manager) Munmap(start, length uintptr) *kernel.Error {
	pages, err := userRange(start, length)
	if err != nil {
		return err
	}

	if pages.Len() == 0 {
		return nil
	}

	inner := m.inner.Acquire()
	defer m.inner.Release()

	addrSpace := inner.tasks[inner.current].addrSpace
	for page := pages.Start; page < pages.End; page++ {
		if pte, ok := addrSpace.Translate(page); !ok || !pte.Valid() {
			return errNotMapped
		}
	}

	addrSpace.Unmap(pages.Start, pages.End)
	return nil
}
