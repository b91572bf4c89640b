package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json", Output: &buf})

	l.Info("hidden")
	l.Warn("shown", "key", "k1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "k1", line["key"])
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "text", Output: &buf})

	FromContext(context.Background(), l).Info("plain")
	assert.NotContains(t, buf.String(), "request_id")

	ctx := ContextWithRequestID(context.Background(), "req-1")
	FromContext(ctx, l).Info("tagged")
	assert.Contains(t, buf.String(), "request_id=req-1")
}

func TestGet_Default(t *testing.T) {
	assert.NotNil(t, Get())
}
