package image

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloManifest = `
name: hello
text:
  - li a7, 64
  - li a0, 1
  - li a1, msg
  - li a2, 6
  - ecall
data:
  - label: msg
    addr: 0x11000
    string: "hello\n"
    size: 16
`

func TestParseManifest(t *testing.T) {
	manifest, err := ParseManifest([]byte(helloManifest))
	require.NoError(t, err)

	assert.Equal(t, "hello", manifest.Name)
	assert.Equal(t, uint64(DefaultBase), manifest.Base)
	assert.Len(t, manifest.Text, 5)
	require.Len(t, manifest.Data, 1)
	assert.Equal(t, uint64(0x11000), manifest.Data[0].Addr)
	assert.Equal(t, "hello\n", manifest.Data[0].String)

	_, err = ParseManifest([]byte("name: empty\n"))
	assert.Error(t, err)

	_, err = ParseManifest([]byte("text: [\n"))
	assert.Error(t, err)
}

func TestManifestBuild(t *testing.T) {
	manifest, err := ParseManifest([]byte(helloManifest))
	require.NoError(t, err)

	img, err := manifest.Build()
	require.NoError(t, err)

	f, err := elf.NewFile(bytes.NewReader(img))
	require.NoError(t, err)

	assert.Equal(t, elf.ELFCLASS64, f.Class)
	assert.Equal(t, elf.ET_EXEC, f.Type)
	assert.Equal(t, elf.EM_RISCV, f.Machine)
	assert.Equal(t, uint64(DefaultBase), f.Entry)
	require.Len(t, f.Progs, 2)

	text := f.Progs[0]
	assert.Equal(t, elf.PT_LOAD, text.Type)
	assert.Equal(t, elf.PF_R|elf.PF_X, text.Flags)
	assert.Equal(t, uint64(5*InstrSize), text.Filesz)

	code := make([]byte, text.Filesz)
	_, err = text.ReadAt(code, 0)
	require.NoError(t, err)
	assert.Equal(t, Instruction{Op: OpLi, X: RegA1, Y: 0x11000}, Decode(code[2*InstrSize:]))

	data := f.Progs[1]
	assert.Equal(t, elf.PF_R|elf.PF_W, data.Flags)
	assert.Equal(t, uint64(0x11000), data.Vaddr)
	assert.Equal(t, uint64(6), data.Filesz)
	assert.Equal(t, uint64(22), data.Memsz)
}

func TestManifestBuildReportsAssemblyErrors(t *testing.T) {
	manifest := &Manifest{Name: "broken", Text: []string{"nop"}}
	_, err := manifest.Build()
	assert.Error(t, err)
}
