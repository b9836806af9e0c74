package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	elfHeaderSize  = 64
	progHeaderSize = 56
)

// Segment describes a loadable segment of an ELF image. MemSize may exceed
// the length of Data, in which case the remainder is zero-filled when the
// image is loaded.
type Segment struct {
	Addr    uint64
	Data    []byte
	MemSize uint64
	Flags   elf.ProgFlag
}

// BuildELF returns a little-endian ELF64 riscv executable that contains one
// PT_LOAD program header for each supplied segment.
func BuildELF(entry uint64, segments []Segment) []byte {
	var (
		buf     bytes.Buffer
		dataOff = uint64(elfHeaderSize + progHeaderSize*len(segments))
	)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     elfHeaderSize,
		Ehsize:    elfHeaderSize,
		Phentsize: progHeaderSize,
		Phnum:     uint16(len(segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	// Writes to a bytes.Buffer never fail.
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)

	for _, seg := range segments {
		memSize := seg.MemSize
		if memSize < uint64(len(seg.Data)) {
			memSize = uint64(len(seg.Data))
		}

		_ = binary.Write(&buf, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(seg.Flags),
			Off:    dataOff,
			Vaddr:  seg.Addr,
			Paddr:  seg.Addr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  memSize,
			Align:  0x1000,
		})
		dataOff += uint64(len(seg.Data))
	}

	for _, seg := range segments {
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}
