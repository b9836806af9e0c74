package main

import (
	"bytes"
	"context"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"upkernel/kernel/loader"
	"upkernel/kernel/loader/image"
)

const exitManifest = `
name: exit
text:
  - li a7, 93
  - li a0, 0
  - ecall
`

func TestImageName(t *testing.T) {
	specs := []struct {
		in, exp string
	}{
		{"apps/00_hello.yaml", "00_hello.elf"},
		{"/tmp/exit.yml", "exit.elf"},
		{"file:///srv/apps/raw", "raw.elf"},
	}

	for _, spec := range specs {
		assert.Equal(t, spec.exp, imageName(spec.in))
	}
}

func TestBuildApps(t *testing.T) {
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "apps")

	manifests := []string{
		filepath.Join(srcDir, "01_exit.yaml"),
		filepath.Join(srcDir, "00_exit.yaml"),
	}
	for _, name := range manifests {
		require.NoError(t, os.WriteFile(name, []byte(exitManifest), 0o644))
	}

	built, err := buildApps(context.Background(), afs.New(), outDir, manifests)
	require.NoError(t, err)
	assert.Len(t, built, 2)

	apps, err := loader.LoadDir(context.Background(), outDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"00_exit.elf", "01_exit.elf"}, apps.Names)

	f, err := elf.NewFile(bytes.NewReader(apps.AppData(0)))
	require.NoError(t, err)
	assert.Equal(t, uint64(image.DefaultBase), f.Entry)
	assert.Equal(t, elf.EM_RISCV, f.Machine)
}

func TestBuildAppsErrors(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	t.Run("missing manifest", func(t *testing.T) {
		_, err := buildApps(context.Background(), afs.New(), outDir, []string{filepath.Join(srcDir, "missing.yaml")})
		assert.Error(t, err)
	})

	t.Run("bad instruction", func(t *testing.T) {
		path := filepath.Join(srcDir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: bad\ntext:\n  - jal ra, 0\n"), 0o644))

		_, err := buildApps(context.Background(), afs.New(), outDir, []string{path})
		assert.Error(t, err)
	})
}

func TestBuildSampleApps(t *testing.T) {
	manifests, err := filepath.Glob(filepath.Join("..", "..", "user", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, manifests)

	built, err := buildApps(context.Background(), afs.New(), t.TempDir(), manifests)
	require.NoError(t, err)
	assert.Len(t, built, len(manifests))
}
