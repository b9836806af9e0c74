package pmm

import (
	"upkernel/kernel"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/mm"
)

// StackAllocator implements a physical frame allocator that hands out frames
// from a fixed range [low, high).
//
// Frames are handed out from a frontier (current) that only moves forward.
// Freed frames are pushed to a recycle stack and are reused in LIFO order
// before the frontier advances. Freed frames are never coalesced back into
// the frontier.
type StackAllocator struct {
	// low is the first frame of the managed range.
	low mm.Frame

	// current is the first frame that has never been allocated.
	current mm.Frame

	// end is the first frame past the end of the managed range.
	end mm.Frame

	// recycled holds freed frames awaiting reuse. Each entry is < current
	// and unique.
	recycled []mm.Frame
}

// Init sets the range of frames [low, high) that the allocator manages. It
// must be called once before any allocation.
func (alloc *StackAllocator) Init(low, high mm.Frame) {
	alloc.low = low
	alloc.current = low
	alloc.end = high
	alloc.recycled = alloc.recycled[:0]
}

// Alloc reserves a frame and returns it. Alloc returns false if every frame
// in the managed range is in use.
func (alloc *StackAllocator) Alloc() (mm.Frame, bool) {
	if last := len(alloc.recycled) - 1; last >= 0 {
		frame := alloc.recycled[last]
		alloc.recycled = alloc.recycled[:last]
		return frame, true
	}

	if alloc.current == alloc.end {
		return mm.InvalidFrame, false
	}

	alloc.current++
	return alloc.current - 1, true
}

// Dealloc releases a previously allocated frame. Releasing a frame that was
// never allocated or that has already been released halts the kernel.
func (alloc *StackAllocator) Dealloc(frame mm.Frame) {
	if frame < alloc.low || frame >= alloc.current {
		kfmt.Panic(kernel.Errorf("frame_alloc", "frame %s has not been allocated", frame))
		return
	}

	for _, recycled := range alloc.recycled {
		if recycled == frame {
			kfmt.Panic(kernel.Errorf("frame_alloc", "frame %s has already been freed", frame))
			return
		}
	}

	alloc.recycled = append(alloc.recycled, frame)
}

// Free returns the number of frames that can still be allocated.
func (alloc *StackAllocator) Free() int {
	return int(alloc.end-alloc.current) + len(alloc.recycled)
}
