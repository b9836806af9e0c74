package vmm

import (
	"upkernel/kernel"
	"upkernel/kernel/mm"
)

// TranslatedByteBuffer returns the physical memory slices that back the
// virtual range [ptr, ptr+length) of the address space identified by token.
// The range may span multiple pages, in which case one slice per page is
// returned. Every page must be mapped with the required flags; otherwise
// TranslatedByteBuffer returns false.
func TranslatedByteBuffer(mem *mm.PhysicalMemory, token, ptr, length uintptr, required PageTableEntryFlag) ([][]byte, bool) {
	end := ptr + length
	if end < ptr || end > mm.MaxVirtAddr {
		return nil, false
	}

	var (
		pt      = FromToken(mem, token)
		buffers [][]byte
	)

	for start := ptr; start < end; {
		page := mm.PageFromAddress(start)
		pte, ok := pt.Translate(page)
		if !ok || !pte.HasFlags(required|FlagValid) || !mem.Contains(pte.Frame()) {
			return nil, false
		}

		chunkEnd := (page + 1).Address()
		if end < chunkEnd {
			chunkEnd = end
		}

		frameBytes := mem.FrameBytes(pte.Frame())
		buffers = append(buffers, frameBytes[mm.PageOffset(start):mm.PageOffset(start)+(chunkEnd-start)])
		start = chunkEnd
	}

	return buffers, true
}

// CopyToUser copies data into user memory at ptr. The destination pages
// must be user-writable.
func CopyToUser(mem *mm.PhysicalMemory, token, ptr uintptr, data []byte) bool {
	buffers, ok := TranslatedByteBuffer(mem, token, ptr, uintptr(len(data)), FlagUser|FlagWrite)
	if !ok {
		return false
	}

	for _, buf := range buffers {
		data = data[kernel.Memcopy(data, buf):]
	}
	return true
}

// CopyFromUser fills dst with the contents of user memory at ptr. The source
// pages must be user-readable.
func CopyFromUser(mem *mm.PhysicalMemory, token, ptr uintptr, dst []byte) bool {
	return CopyFrom(mem, token, ptr, dst, FlagUser|FlagRead)
}

// CopyFrom fills dst with the contents of the memory at ptr provided that
// the source pages are mapped with the required flags.
func CopyFrom(mem *mm.PhysicalMemory, token, ptr uintptr, dst []byte, required PageTableEntryFlag) bool {
	buffers, ok := TranslatedByteBuffer(mem, token, ptr, uintptr(len(dst)), required)
	if !ok {
		return false
	}

	for _, buf := range buffers {
		dst = dst[kernel.Memcopy(buf, dst):]
	}
	return true
}
