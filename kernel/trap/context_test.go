package trap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkernel/kernel/mm"
)

func TestAppInitContext(t *testing.T) {
	ctx := AppInitContext(0x10000, 0x16000, 0x8000000000080001, 0x7fffffe000, 0x1234)

	assert.Equal(t, uintptr(0x10000), ctx.Sepc)
	assert.Equal(t, uintptr(0x16000), ctx.SP())
	assert.Zero(t, ctx.Sstatus&SstatusSPP, "expected the context to return to user mode")
	assert.Equal(t, uintptr(0x8000000000080001), ctx.KernelSatp)
	assert.Equal(t, uintptr(0x7fffffe000), ctx.KernelSp)
	assert.Equal(t, uintptr(0x1234), ctx.TrapHandler)

	for i, reg := range ctx.X {
		if i != 2 {
			assert.Zero(t, reg, "register x%d", i)
		}
	}
}

func TestFromFrame(t *testing.T) {
	mem, err := mm.NewPhysicalMemory(0x80000000, 2*mm.Size(mm.PageSize))
	require.Nil(t, err)
	assert.LessOrEqual(t, Size, mm.PageSize)

	frame := mm.FrameFromAddress(0x80001000)
	*FromFrame(mem, frame) = AppInitContext(0x10000, 0x16000, 0, 0, 0)

	// The context must survive in the frame contents.
	ctx := FromFrame(mem, frame)
	assert.Equal(t, uintptr(0x10000), ctx.Sepc)
	assert.Equal(t, uintptr(0x16000), ctx.SP())
	assert.NotEqual(t, make([]byte, 8), mem.FrameBytes(frame)[2*8:3*8])
}

func TestDumpTo(t *testing.T) {
	ctx := AppInitContext(0xdead, 0xbeef, 0, 0, 0)

	var buf bytes.Buffer
	ctx.DumpTo(&buf)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 10)
	assert.Contains(t, buf.String(), "SEPC =             dead")
	assert.Contains(t, lines[0], "x2  =             beef")
}

func TestCauseString(t *testing.T) {
	assert.Equal(t, "UserEnvCall", UserEnvCall.String())
	assert.Equal(t, "StorePageFault", StorePageFault.String())
	assert.Equal(t, "SupervisorTimer", SupervisorTimer.String())
	assert.Equal(t, "Cause(42)", Cause(42).String())
}
