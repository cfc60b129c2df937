package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/types"
)

func TestSlogLogger_ImplementsInterface(t *testing.T) {
	var _ types.Logger = (*SlogLogger)(nil)
	var _ types.Logger = (*NopLogger)(nil)
}

func TestNewSlog(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	require.NotNil(t, logger)
	require.NotNil(t, NewSlogDefault().logger)
}

func TestSlogLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlogText(buf, "debug")

	logger.Debug("debug message", "topic", "orders")
	logger.Info("info message", "partition", 3)
	logger.Warn("warn message")
	logger.Error("error message", "code", "RPC_FAILED")

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "topic=orders")
	assert.Contains(t, output, "partition=3")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "code=RPC_FAILED")
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlogText(buf, "warn")

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "shown")
}

func TestSlogLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlogText(buf, "info").With("reader", "r1")

	logger.Info("started")
	assert.Contains(t, buf.String(), "reader=r1")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	require.NotPanics(t, func() {
		logger.Debug("m", "k", "v")
		logger.Info("m")
		logger.Warn("m")
		logger.Error("m", nil)
		logger.Fatal("m")
	})
}
