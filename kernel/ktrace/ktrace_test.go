package ktrace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := InitWithExporter("upkernel", "test", "boot-1", exporter)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	ctx, parent := StartSpan(context.Background(), "boot")
	_, child := StartSpan(ctx, "syscall.write")
	child.SetInt("syscall.id", 64).SetString("task", "0")
	EndSpan(child, errors.New("bad fd"))
	EndSpan(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "syscall.write", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "bad fd", spans[0].Status.Description)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Len(t, spans[0].Attributes, 2)

	assert.Equal(t, "boot", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)

	var found bool
	for _, kv := range spans[1].Resource.Attributes() {
		if kv.Key == "boot.id" {
			found = true
			assert.Equal(t, "boot-1", kv.Value.AsString())
		}
	}
	assert.True(t, found, "expected the boot id to be part of the trace resource")

	// Nil spans are ignored.
	var nilSpan *Span
	assert.NotPanics(t, func() {
		nilSpan.SetInt("k", 1).SetString("k", "v")
		EndSpan(nilSpan, nil)
	})
}

func TestInitWritesToFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "spans.json")

	shutdown, err := Init("upkernel", "test", fname, "boot-2")
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "test")
	EndSpan(span, nil)
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"test"`)
}

func TestInitFailsOnBadPath(t *testing.T) {
	_, err := Init("upkernel", "test", filepath.Join(t.TempDir(), "missing", "spans.json"), "boot-3")
	assert.Error(t, err)
}
