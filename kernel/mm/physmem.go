package mm

import (
	"unsafe"

	"upkernel/kernel"
	"upkernel/kernel/kfmt"
)

var errMemoryNotAligned = &kernel.Error{Module: "mm", Message: "physical memory base and size must be page-aligned"}

// PhysicalMemory simulates the machine's RAM: a contiguous block of bytes
// that covers the physical address range [Base(), End()). All frame contents
// live in this block.
type PhysicalMemory struct {
	base uintptr

	// words backs data and keeps every frame 8-byte aligned so structures
	// such as the trap context can be overlaid on frame contents.
	words []uint64
	data  []byte
}

// NewPhysicalMemory reserves size bytes of simulated RAM starting at the
// physical address base. Both base and size must be page-aligned.
func NewPhysicalMemory(base uintptr, size Size) (*PhysicalMemory, *kernel.Error) {
	if !PageAligned(base) || !PageAligned(uintptr(size)) || size == 0 {
		return nil, errMemoryNotAligned
	}

	words := make([]uint64, uintptr(size)>>PointerShift)
	return &PhysicalMemory{
		base:  base,
		words: words,
		data:  unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), int(size)),
	}, nil
}

// Base returns the first physical address covered by this memory.
func (m *PhysicalMemory) Base() uintptr { return m.base }

// End returns the first physical address past the end of this memory.
func (m *PhysicalMemory) End() uintptr { return m.base + uintptr(len(m.data)) }

// Contains returns true if the frame lies within this memory.
func (m *PhysicalMemory) Contains(frame Frame) bool {
	return frame.Valid() && frame.Address() >= m.base && frame.Address() < m.End()
}

// FrameBytes returns the PageSize bytes that back the supplied frame. Accessing
// a frame outside the simulated RAM halts the kernel.
func (m *PhysicalMemory) FrameBytes(frame Frame) []byte {
	if !m.Contains(frame) {
		kfmt.Panic(kernel.Errorf("mm", "access to %s outside of physical memory", frame))
	}

	offset := frame.Address() - m.base
	return m.data[offset : offset+PageSize : offset+PageSize]
}

// FramePointer returns a pointer to the first byte of the supplied frame.
func (m *PhysicalMemory) FramePointer(frame Frame) unsafe.Pointer {
	return unsafe.Pointer(&m.FrameBytes(frame)[0])
}
