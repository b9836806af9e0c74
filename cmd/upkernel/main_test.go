package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkernel/config"
	"upkernel/kernel/kfmt"
	"upkernel/kernel/loader/image"
	"upkernel/kernel/task"
)

func TestBootSampleApps(t *testing.T) {
	manifests, err := filepath.Glob(filepath.Join("..", "..", "user", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, manifests)

	appDir := t.TempDir()
	for _, path := range manifests {
		encoded, err := os.ReadFile(path)
		require.NoError(t, err)

		manifest, err := image.ParseManifest(encoded)
		require.NoError(t, err)

		img, err := manifest.Build()
		require.NoError(t, err)

		name := strings.TrimSuffix(filepath.Base(path), ".yaml") + ".elf"
		require.NoError(t, os.WriteFile(filepath.Join(appDir, name), img, 0o644))
	}

	var logBuf bytes.Buffer
	kfmt.InitLogger("info", &logBuf)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Apps.URL = appDir

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = boot(ctx, cfg)
	assert.True(t, errors.Is(err, task.ErrAllTasksCompleted), "unexpected halt: %v", err)
	assert.Contains(t, logBuf.String(), "all applications completed")
	assert.NotContains(t, logBuf.String(), "fault in application")
	assert.Equal(t, len(manifests), strings.Count(logBuf.String(), "msg=\"task summary\""))
}
