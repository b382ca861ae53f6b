// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line %q", line)
		out = append(out, entry)
	}
	return out
}

// TestInit_idempotent verifies Init only honours the first call.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = sync.Once{}

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()
	Init(&buf2, LevelDebug)

	assert.Same(t, first, Get())
	assert.Equal(t, LevelInfo, Get().MinLevel())

	Info("hello")
	assert.NotEmpty(t, buf1.String())
	assert.Empty(t, buf2.String())
}

// TestParseLevel verifies config strings map onto levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

// TestLogger_jsonFormat verifies entries carry message, level and context.
func TestLogger_jsonFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("queue drained", map[string]interface{}{"synced": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "queue drained", entries[0]["message"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.NotEmpty(t, entries[0]["timestamp"])
	ctx, ok := entries[0]["context"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, ctx["synced"])
}

// TestLogger_filtering verifies entries below the minimum level are dropped.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", io.ErrUnexpectedEOF)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["message"])
	assert.Equal(t, "error", entries[1]["message"])
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), entries[1]["error"])
}

// TestLogger_ErrorWithCode verifies the code is merged into the context.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("sync failed", "SYNC_FAILED", io.EOF, map[string]interface{}{"op": "cancel_booking"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	ctx := entries[0]["context"].(map[string]interface{})
	assert.Equal(t, "SYNC_FAILED", ctx["error_code"])
	assert.Equal(t, "cancel_booking", ctx["op"])
}

// TestLogger_WithComponent verifies the component field is attached without
// leaking into the parent logger.
func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, LevelInfo)
	child := parent.WithComponent("push")

	child.Info("connected")
	parent.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "push", entries[0]["component"])
	_, has := entries[1]["component"]
	assert.False(t, has)
}

// TestLogger_With verifies extra fields stack with the component.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo).WithComponent("push").With("session", "abc")

	logger.Info("connected")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "push", entries[0]["component"])
	assert.Equal(t, "abc", entries[0]["session"])
}

// TestMergeContext verifies multiple context maps are merged.
func TestMergeContext(t *testing.T) {
	assert.Nil(t, mergeContext())
	merged := mergeContext(map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, merged)
}

// TestLogger_concurrentLogging verifies concurrent writers produce whole lines.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf syncBuffer
	logger := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("tick", map[string]interface{}{"i": i})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
