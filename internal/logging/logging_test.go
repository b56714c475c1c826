package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/homeservices-identity/internal/logging"
)

func TestNew_ProductionDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New("production", "info", "", &buf)
	require.NoError(t, err)

	ctx := logging.WithRequestID(context.Background(), "req-1")
	logger.InfoContext(ctx, "hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "production", rec["env"])
}

func TestNew_TextOutsideProduction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New("development", "debug", "", &buf)
	require.NoError(t, err)

	logger.With("component", "test").DebugContext(logging.WithRequestID(context.Background(), "abc"), "dbg")
	out := buf.String()
	assert.Contains(t, out, "msg=dbg")
	assert.Contains(t, out, "request_id=abc")
	assert.Contains(t, out, "component=test")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New("development", "warn", "text", &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := logging.New("development", "loud", "", nil)
	assert.Error(t, err)
	_, err = logging.New("development", "info", "xml", nil)
	assert.Error(t, err)
}

func TestRequestID_Missing(t *testing.T) {
	assert.Empty(t, logging.RequestID(context.Background()))
}
