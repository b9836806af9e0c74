package vmm

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkernel/kernel/kfmt"
	"upkernel/kernel/loader/image"
	"upkernel/kernel/mm"
	"upkernel/kernel/mm/pmm"
)

const (
	memBase     = uintptr(0x80000000)
	kernelPages = 4
)

// newTestAllocator returns an allocator managing frames frames above a
// kernel image of kernelPages pages.
func newTestAllocator(t *testing.T, frames int) *pmm.FrameAllocator {
	t.Helper()
	kfmt.InitLogger("error", &bytes.Buffer{})

	mem, err := mm.NewPhysicalMemory(memBase, mm.Size(kernelPages+frames)*mm.Size(mm.PageSize))
	require.Nil(t, err)

	alloc, err := pmm.Init(mem, memBase+kernelPages*mm.PageSize, mem.End())
	require.Nil(t, err)
	return alloc
}

func TestPageTableEntry(t *testing.T) {
	pte := NewPageTableEntry(mm.Frame(0x80123), FlagRead|FlagWrite|FlagUser|FlagValid)

	assert.Equal(t, mm.Frame(0x80123), pte.Frame())
	assert.True(t, pte.Valid())
	assert.True(t, pte.HasFlags(FlagRead|FlagWrite))
	assert.False(t, pte.HasFlags(FlagRead|FlagExec))
	assert.True(t, pte.HasAnyFlag(FlagExec|FlagUser))
	assert.Equal(t, FlagValid|FlagRead|FlagWrite|FlagUser, pte.Flags())
	assert.Equal(t, "VRW-U---", pte.Flags().String())
	assert.Equal(t, "pte{ppn=0x80123, flags=VRW-U---}", pte.String())
}

func TestPageIndices(t *testing.T) {
	page := mm.Page(0x1<<18 | 0x2<<9 | 0x3)
	assert.Equal(t, [pageLevels]uintptr{1, 2, 3}, pageIndices(page))
}

func TestPageTableMapUnmap(t *testing.T) {
	alloc := newTestAllocator(t, 8)
	free := alloc.FreeFrames()

	pt, err := NewPageTable(alloc)
	require.Nil(t, err)
	assert.Equal(t, satpModeSv39, pt.Token()&^ptePPNMask)

	page := mm.PageFromAddress(0x10000)
	_, ok := pt.Translate(page)
	assert.False(t, ok, "expected no leaf table before mapping")

	require.Nil(t, pt.Map(page, mm.Frame(0x80042), FlagRead|FlagUser))
	// Root, middle and leaf tables
	assert.Equal(t, free-3, alloc.FreeFrames())

	pte, ok := pt.Translate(page)
	require.True(t, ok)
	assert.True(t, pte.HasFlags(FlagValid|FlagRead|FlagUser))
	assert.Equal(t, mm.Frame(0x80042), pte.Frame())

	phys, ok := pt.TranslateAddr(0x10123, FlagRead)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x80042123), phys)
	_, ok = pt.TranslateAddr(0x10123, FlagWrite)
	assert.False(t, ok)

	// A lookup through the token sees the same mappings.
	view := FromToken(alloc.Memory(), pt.Token())
	viewPTE, ok := view.Translate(page)
	require.True(t, ok)
	assert.Equal(t, pte, viewPTE)

	assert.PanicsWithError(t, "vpn=0x10 is mapped before mapping", func() {
		_ = pt.Map(page, mm.Frame(0x80043), FlagRead)
	})

	pt.Unmap(page)
	pte, ok = pt.Translate(page)
	require.True(t, ok)
	assert.False(t, pte.Valid())

	assert.PanicsWithError(t, "vpn=0x10 is invalid before unmapping", func() {
		pt.Unmap(page)
	})
	assert.PanicsWithError(t, "vpn=0x7ffff is invalid before unmapping", func() {
		pt.Unmap(mm.Page(0x7ffff))
	})

	pt.release()
	assert.Equal(t, free, alloc.FreeFrames())
}

func TestKernelSpace(t *testing.T) {
	alloc := newTestAllocator(t, 16)
	mem := alloc.Memory()
	ekernel := memBase + kernelPages*mm.PageSize

	ks, err := NewKernelSpace(alloc, ekernel)
	require.Nil(t, err)

	text, ok := ks.Translate(mm.PageFromAddress(memBase))
	require.True(t, ok)
	assert.Equal(t, mm.FrameFromAddress(memBase), text.Frame())
	assert.True(t, text.HasFlags(FlagRead|FlagExec))
	assert.False(t, text.HasAnyFlag(FlagWrite|FlagUser))

	data, ok := ks.Translate(mm.PageFromAddress(mem.End() - 1))
	require.True(t, ok)
	assert.Equal(t, mm.FrameFromAddress(mem.End()-1), data.Frame())
	assert.True(t, data.HasFlags(FlagRead|FlagWrite))

	tramp, ok := ks.Translate(mm.PageFromAddress(Trampoline))
	require.True(t, ok)
	assert.Equal(t, TrampolineFrame(mem), tramp.Frame())

	// Kernel stacks are framed areas of the kernel space. Their leaf
	// table is shared with the trampoline.
	free := alloc.FreeFrames()
	bottom, top := KernelStackPosition(1)
	require.Nil(t, ks.InsertFramedArea(bottom, top, PermRead|PermWrite))
	assert.Equal(t, free-2, alloc.FreeFrames())

	stack, ok := ks.Translate(mm.PageFromAddress(top - 1))
	require.True(t, ok)
	assert.True(t, stack.HasFlags(FlagValid|FlagRead|FlagWrite))
}

func TestKernelStackPosition(t *testing.T) {
	bottom, top := KernelStackPosition(0)
	assert.Equal(t, Trampoline, top)
	assert.Equal(t, Trampoline-KernelStackSize, bottom)

	bottom1, top1 := KernelStackPosition(1)
	assert.Equal(t, bottom-mm.PageSize, top1, "expected a guard page between kernel stacks")
	assert.Equal(t, top1-KernelStackSize, bottom1)
}

func buildImage(segments ...image.Segment) []byte {
	return image.BuildELF(0x10000, segments)
}

func TestFromELF(t *testing.T) {
	alloc := newTestAllocator(t, 32)
	free := alloc.FreeFrames()
	trampoline := TrampolineFrame(alloc.Memory())

	text := bytes.Repeat([]byte{0xAB}, 100)
	img := buildImage(
		image.Segment{Addr: 0x10000, Data: text, Flags: elf.PF_R | elf.PF_X},
		image.Segment{Addr: 0x11ff8, Data: []byte("0123456789abcdef"), MemSize: 32, Flags: elf.PF_R | elf.PF_W},
	)

	as, userSP, entry, err := FromELF(alloc, trampoline, img)
	require.Nil(t, err)
	assert.Equal(t, uintptr(0x10000), entry)
	// Image ends at 0x13000; one guard page; two stack pages.
	assert.Equal(t, uintptr(0x14000)+UserStackSize, userSP)

	specs := []struct {
		va       uintptr
		mapped   bool
		required PageTableEntryFlag
		absent   PageTableEntryFlag
	}{
		{0x10000, true, FlagUser | FlagRead | FlagExec, FlagWrite},
		{0x11000, true, FlagUser | FlagRead | FlagWrite, FlagExec},
		{0x12000, true, FlagUser | FlagRead | FlagWrite, FlagExec},
		{0x13000, false, 0, 0},
		{0x14000, true, FlagUser | FlagRead | FlagWrite, FlagExec},
		{userSP - 1, true, FlagUser | FlagRead | FlagWrite, FlagExec},
		{TrapContextBase, true, FlagRead | FlagWrite, FlagUser},
		{Trampoline, true, FlagRead | FlagExec, FlagUser | FlagWrite},
	}

	for _, spec := range specs {
		pte, _ := as.Translate(mm.PageFromAddress(spec.va))
		if !spec.mapped {
			assert.False(t, pte.Valid(), "expected %#x to be unmapped", spec.va)
			continue
		}
		assert.True(t, pte.HasFlags(spec.required|FlagValid), "flags of %#x: %s", spec.va, pte.Flags())
		assert.False(t, pte.HasAnyFlag(spec.absent), "flags of %#x: %s", spec.va, pte.Flags())
	}

	got := make([]byte, len(text))
	require.True(t, CopyFromUser(alloc.Memory(), as.Token(), 0x10000, got))
	assert.Equal(t, text, got)

	// The data segment straddles a page boundary and is zero-extended.
	got = make([]byte, 32)
	require.True(t, CopyFromUser(alloc.Memory(), as.Token(), 0x11ff8, got))
	assert.Equal(t, append([]byte("0123456789abcdef"), make([]byte, 16)...), got)

	as.Release()
	assert.Equal(t, free, alloc.FreeFrames(), "expected every frame to be returned on teardown")
}

func TestFromELFErrors(t *testing.T) {
	alloc := newTestAllocator(t, 32)
	free := alloc.FreeFrames()
	trampoline := TrampolineFrame(alloc.Memory())

	specs := []struct {
		descr string
		img   []byte
		exp   string
	}{
		{"not an elf file", []byte("definitely not an elf image"), "invalid elf image"},
		{
			"overlapping segments",
			buildImage(
				image.Segment{Addr: 0x10000, Data: make([]byte, 0x1800), Flags: elf.PF_R | elf.PF_X},
				image.Segment{Addr: 0x11000, Data: make([]byte, 8), Flags: elf.PF_R | elf.PF_W},
			),
			errOverlappingArea.Message,
		},
		{
			"segment above the user limit",
			buildImage(image.Segment{Addr: uint64(TrapContextBase), Data: make([]byte, 8), Flags: elf.PF_R}),
			errAreaOutOfRange.Message,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			_, _, _, err := FromELF(alloc, trampoline, spec.img)
			require.NotNil(t, err)
			assert.Contains(t, err.Error(), spec.exp)
			assert.Equal(t, free, alloc.FreeFrames())
		})
	}

	t.Run("out of frames", func(t *testing.T) {
		small := newTestAllocator(t, 5)
		img := buildImage(image.Segment{Addr: 0x10000, Data: make([]byte, 8), Flags: elf.PF_R | elf.PF_X})

		_, _, _, err := FromELF(small, TrampolineFrame(small.Memory()), img)
		assert.Equal(t, pmm.ErrOutOfMemory, err)
		assert.Equal(t, 5, small.FreeFrames())
	})
}

func TestInsertFramedAreaRollsBackOnExhaustion(t *testing.T) {
	alloc := newTestAllocator(t, 6)

	as, err := NewAddressSpace(alloc)
	require.Nil(t, err)

	// Warm up the page tables that cover the area.
	require.Nil(t, as.InsertFramedArea(0x10000, 0x11000, PermRead|PermUser))
	free := alloc.FreeFrames()
	require.Equal(t, 2, free)

	err = as.InsertFramedArea(0x20000, 0x23000, PermRead|PermWrite|PermUser)
	assert.Equal(t, pmm.ErrOutOfMemory, err)
	assert.Equal(t, free, alloc.FreeFrames())

	for _, va := range []uintptr{0x20000, 0x21000} {
		pte, _ := as.Translate(mm.PageFromAddress(va))
		assert.False(t, pte.Valid(), "expected %#x to be unmapped after rollback", va)
	}
}

func TestAddressSpaceUnmap(t *testing.T) {
	alloc := newTestAllocator(t, 16)

	as, err := NewAddressSpace(alloc)
	require.Nil(t, err)
	require.Nil(t, as.InsertFramedArea(0x10000, 0x14000, PermRead|PermWrite|PermUser))
	require.Len(t, as.areas, 1)
	free := alloc.FreeFrames()

	as.Unmap(mm.PageFromAddress(0x11000), mm.PageFromAddress(0x13000))
	assert.Equal(t, free+2, alloc.FreeFrames())
	require.Len(t, as.areas, 1)

	for va, exp := range map[uintptr]bool{0x10000: true, 0x11000: false, 0x12000: false, 0x13000: true} {
		pte, _ := as.Translate(mm.PageFromAddress(va))
		assert.Equal(t, exp, pte.Valid(), "mapping of %#x", va)
	}

	// Unmapped pages can be mapped again.
	require.Nil(t, as.InsertFramedArea(0x11000, 0x12000, PermRead|PermUser))
	assert.Equal(t, errOverlappingArea, as.InsertFramedArea(0x12000, 0x14000, PermRead|PermUser))

	as.Unmap(mm.PageFromAddress(0x10000), mm.PageFromAddress(0x12000))
	as.Unmap(mm.PageFromAddress(0x13000), mm.PageFromAddress(0x14000))
	assert.Empty(t, as.areas, "expected areas without mapped pages to be dropped")

	assert.PanicsWithError(t, "vpn=0x10 is not mapped by a framed area", func() {
		as.Unmap(mm.PageFromAddress(0x10000), mm.PageFromAddress(0x11000))
	})
}

func TestRecycleDataPages(t *testing.T) {
	alloc := newTestAllocator(t, 16)
	free := alloc.FreeFrames()

	as, err := NewAddressSpace(alloc)
	require.Nil(t, err)
	require.Nil(t, as.InsertFramedArea(0x10000, 0x14000, PermRead|PermWrite|PermUser))
	require.Nil(t, as.InsertFramedArea(TrapContextBase, Trampoline, PermRead|PermWrite))
	used := free - alloc.FreeFrames()

	as.RecycleDataPages()
	assert.Equal(t, free-used+4, alloc.FreeFrames(), "expected only the user pages to be recycled")

	for page := mm.PageFromAddress(0x10000); page < mm.PageFromAddress(0x14000); page++ {
		pte, ok := as.Translate(page)
		assert.True(t, ok)
		assert.False(t, pte.Valid(), "expected %s to be unmapped", page)
	}

	pte, ok := as.Translate(mm.PageFromAddress(TrapContextBase))
	require.True(t, ok)
	assert.True(t, pte.Valid(), "expected the trap context page to stay mapped")

	// Recycling twice has nothing left to free.
	as.RecycleDataPages()
	assert.Equal(t, free-used+4, alloc.FreeFrames())

	as.Release()
	assert.Equal(t, free, alloc.FreeFrames())
}

func TestTranslatedByteBuffer(t *testing.T) {
	alloc := newTestAllocator(t, 16)
	mem := alloc.Memory()

	as, err := NewAddressSpace(alloc)
	require.Nil(t, err)
	require.Nil(t, as.InsertFramedArea(0x10000, 0x12000, PermRead|PermWrite|PermUser))
	require.Nil(t, as.InsertFramedArea(0x20000, 0x21000, PermRead|PermUser))

	buffers, ok := TranslatedByteBuffer(mem, as.Token(), 0x10ffc, 8, FlagUser|FlagWrite)
	require.True(t, ok)
	require.Len(t, buffers, 2, "expected one slice per page")
	assert.Len(t, buffers[0], 4)
	assert.Len(t, buffers[1], 4)

	require.True(t, CopyToUser(mem, as.Token(), 0x10ffc, []byte("abcdefgh")))
	assert.Equal(t, []byte("abcd"), buffers[0])
	assert.Equal(t, []byte("efgh"), buffers[1])

	buffers, ok = TranslatedByteBuffer(mem, as.Token(), 0x10000, 0, FlagUser)
	assert.True(t, ok)
	assert.Empty(t, buffers)

	specs := []struct {
		descr    string
		ptr, len uintptr
		flags    PageTableEntryFlag
	}{
		{"crosses into an unmapped page", 0x11ff0, 0x20, FlagUser},
		{"missing write permission", 0x20000, 8, FlagUser | FlagWrite},
		{"overflowing range", ^uintptr(0) - 4, 8, FlagUser},
		{"kernel-only page", TrapContextBase, 8, FlagUser},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			_, ok := TranslatedByteBuffer(mem, as.Token(), spec.ptr, spec.len, spec.flags)
			assert.False(t, ok)
		})
	}

	assert.False(t, CopyToUser(mem, as.Token(), 0x20000, []byte{1}))
	assert.False(t, CopyFromUser(mem, as.Token(), 0x30000, make([]byte, 1)))
}

func TestMapPermissionString(t *testing.T) {
	assert.Equal(t, "RW-U", (PermRead | PermWrite | PermUser).String())
	assert.Equal(t, "--X-", PermExec.String())
	assert.Equal(t, FlagRead|FlagExec, (PermRead | PermExec).flags())
}
