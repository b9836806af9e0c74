package vmm

import (
	"fmt"

	"upkernel/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagValid is set when the entry holds a valid mapping.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead is set if the page can be read from.
	FlagRead

	// FlagWrite is set if the page can be written to.
	FlagWrite

	// FlagExec is set if instructions can be fetched from the page.
	FlagExec

	// FlagUser is set if user-mode tasks can access this page. If not set
	// only kernel code can access this page.
	FlagUser

	// FlagGlobal is set for mappings that are present in all address
	// spaces.
	FlagGlobal

	// FlagAccessed is set when the page is accessed.
	FlagAccessed

	// FlagDirty is set when the page is modified.
	FlagDirty
)

// PageTableEntry describes a page table entry. These entries encode a
// physical frame number and a set of flags.
type PageTableEntry uintptr

// NewPageTableEntry returns an entry that points to frame and carries flags.
func NewPageTableEntry(frame mm.Frame, flags PageTableEntryFlag) PageTableEntry {
	return PageTableEntry(uintptr(frame)<<ptePPNShift | uintptr(flags))
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// Flags returns the flags of this entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) & ((1 << ptePPNShift) - 1))
}

// Valid returns true if the entry holds a valid mapping.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) >> ptePPNShift) & ptePPNMask)
}

// String implements fmt.Stringer.
func (pte PageTableEntry) String() string {
	return fmt.Sprintf("pte{%s, flags=%s}", pte.Frame(), pte.Flags())
}

// String implements fmt.Stringer.
func (f PageTableEntryFlag) String() string {
	const names = "VRWXUGAD"

	buf := make([]byte, len(names))
	for i := range names {
		buf[i] = '-'
		if f&(1<<uint(i)) != 0 {
			buf[i] = names[i]
		}
	}
	return string(buf)
}
