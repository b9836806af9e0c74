// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/mm"
	"upkernel/kernel/sync"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when every frame is in use.
	ErrOutOfMemory = &kernel.Error{Module: "frame_alloc", Message: "out of memory"}

	errRangeNotInRAM   = &kernel.Error{Module: "frame_alloc", Message: "frame range exceeds physical memory"}
	errEmptyFrameRange = &kernel.Error{Module: "frame_alloc", Message: "frame range is empty"}
)

// FrameAllocator is the kernel's physical frame allocation service. A single
// instance is created at boot by Init and shared with every component that
// needs physical memory. Frames are handed out as FrameTracker handles whose
// contents are always zero-filled.
type FrameAllocator struct {
	mem   *mm.PhysicalMemory
	stack *sync.Cell[StackAllocator]
}

// Init sets up a FrameAllocator that manages the frames of mem that lie in
// the physical address range [start, end). The start address is rounded up
// and the end address rounded down to a page boundary; typically start is
// the end of the kernel image and end the top of physical memory.
func Init(mem *mm.PhysicalMemory, start, end uintptr) (*FrameAllocator, *kernel.Error) {
	low, high := mm.FrameCeil(start), mm.FrameFromAddress(end)
	if high <= low {
		return nil, errEmptyFrameRange
	}

	if !mem.Contains(low) || !mem.Contains(high-1) {
		return nil, errRangeNotInRAM
	}

	alloc := &FrameAllocator{
		mem:   mem,
		stack: sync.NewCell("frame allocator", StackAllocator{}),
	}

	stack := alloc.stack.Acquire()
	stack.Init(low, high)
	alloc.stack.Release()

	kfmt.Log().Info("frame allocator initialized",
		"start", low.String(),
		"end", high.String(),
		"frames", int(high-low),
	)
	return alloc, nil
}

// Memory returns the physical memory whose frames this allocator manages.
func (alloc *FrameAllocator) Memory() *mm.PhysicalMemory {
	return alloc.mem
}

// AllocFrame reserves a free frame, clears its contents and returns a
// FrameTracker that owns it. AllocFrame returns ErrOutOfMemory if no frames
// are available.
func (alloc *FrameAllocator) AllocFrame() (*FrameTracker, *kernel.Error) {
	stack := alloc.stack.Acquire()
	frame, ok := stack.Alloc()
	alloc.stack.Release()

	if !ok {
		return nil, ErrOutOfMemory
	}

	kernel.Memset(alloc.mem.FrameBytes(frame), 0)
	return &FrameTracker{frame: frame, alloc: alloc}, nil
}

// FreeFrames returns the number of frames that can still be allocated.
func (alloc *FrameAllocator) FreeFrames() int {
	stack := alloc.stack.Acquire()
	defer alloc.stack.Release()

	return stack.Free()
}

// dealloc returns a frame to the allocator.
func (alloc *FrameAllocator) dealloc(frame mm.Frame) {
	stack := alloc.stack.Acquire()
	defer alloc.stack.Release()

	stack.Dealloc(frame)
}

// FrameTracker is an owning handle to a single allocated frame. The frame is
// returned to its allocator by Release, which owners must call on every path
// that drops the handle:
//
//	tracker, err := alloc.AllocFrame()
//	if err != nil {
//		return err
//	}
//	defer tracker.Release()
type FrameTracker struct {
	frame mm.Frame
	alloc *FrameAllocator
}

// Frame returns the frame owned by this handle or mm.InvalidFrame if the
// handle has been released.
func (t *FrameTracker) Frame() mm.Frame {
	if t.alloc == nil {
		return mm.InvalidFrame
	}
	return t.frame
}

// Bytes returns the contents of the owned frame.
func (t *FrameTracker) Bytes() []byte {
	return t.alloc.mem.FrameBytes(t.frame)
}

// Release returns the owned frame to the allocator. Calling Release more
// than once on the same handle has no effect.
func (t *FrameTracker) Release() {
	if t == nil || t.alloc == nil {
		return
	}

	alloc := t.alloc
	t.alloc = nil
	alloc.dealloc(t.frame)
}

// String implements fmt.Stringer.
func (t *FrameTracker) String() string {
	return "FrameTracker:" + t.Frame().String()
}
