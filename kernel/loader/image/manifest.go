package image

import (
	"debug/elf"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultBase is the load address of the program text when a manifest does
// not specify one.
const DefaultBase = 0x10000

// Manifest describes a user program: its assembly source together with the
// data it expects to find in memory.
type Manifest struct {
	Name string     `yaml:"name"`
	Base uint64     `yaml:"base"`
	Text []string   `yaml:"text"`
	Data []DataBlob `yaml:"data"`
}

// DataBlob is a writable data segment. The optional label makes its address
// available to the assembly source; Size reserves zero-filled space past the
// end of the string contents.
type DataBlob struct {
	Label  string `yaml:"label"`
	Addr   uint64 `yaml:"addr"`
	String string `yaml:"string"`
	Size   uint64 `yaml:"size"`
}

// ParseManifest decodes a YAML program manifest.
func ParseManifest(encoded []byte) (*Manifest, error) {
	manifest := &Manifest{}
	if err := yaml.Unmarshal(encoded, manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if manifest.Base == 0 {
		manifest.Base = DefaultBase
	}
	if len(manifest.Text) == 0 {
		return nil, fmt.Errorf("manifest %q has no text", manifest.Name)
	}
	return manifest, nil
}

// Build assembles the manifest and returns the resulting ELF image. The
// entry point is the first text instruction.
func (m *Manifest) Build() ([]byte, error) {
	base := m.Base
	if base == 0 {
		base = DefaultBase
	}

	symbols := make(map[string]uint64)
	for _, blob := range m.Data {
		if blob.Label != "" {
			symbols[blob.Label] = blob.Addr
		}
	}

	code, err := Assemble(m.Text, base, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble %q: %w", m.Name, err)
	}

	segments := []Segment{{Addr: base, Data: code, Flags: elf.PF_R | elf.PF_X}}
	for _, blob := range m.Data {
		segments = append(segments, Segment{
			Addr:    blob.Addr,
			Data:    []byte(blob.String),
			MemSize: uint64(len(blob.String)) + blob.Size,
			Flags:   elf.PF_R | elf.PF_W,
		})
	}

	return BuildELF(base, segments), nil
}
