package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(format string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(&Config{Level: "debug", Format: format, Output: buf, ServiceName: "test"}), buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLogger_JSONFields(t *testing.T) {
	log, buf := newBufferLogger("json")
	ctx := log.WithContext(context.Background())
	ctx = WithFields(ctx, Fields{FieldConfigID: 7, FieldPageID: "page-1"})
	ctx = SetRequestID(ctx, "req-1")

	With(Fields{}).WithCount(3).WithDuration(12).Info(ctx, "Synced %s", "page-1")

	entry := lastLine(t, buf)
	assert.Equal(t, "Synced page-1", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "page-1", entry[FieldPageID])
	assert.Equal(t, float64(7), entry[FieldConfigID])
	assert.Equal(t, float64(3), entry[FieldCount])
	assert.Equal(t, float64(12), entry[FieldDurationMs])
	assert.Contains(t, entry, "timestamp")
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

func TestLogger_LevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "warn", Format: "json", Output: buf})
	ctx := log.WithContext(context.Background())

	CtxInfo(ctx, "hidden")
	CtxWarn(ctx, "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))

	log, _ := newBufferLogger("text")
	ctx := log.WithContext(context.Background())
	assert.Same(t, log, FromContext(ctx))
}

func TestEntry_WithDoesNotMutate(t *testing.T) {
	base := With(Fields{"a": 1})
	extended := base.With(Fields{"b": 2})

	assert.Len(t, base.fields, 1)
	assert.Len(t, extended.fields, 2)
}
