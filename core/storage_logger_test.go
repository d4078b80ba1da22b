package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionLogWriterCreatesFileAndActiveMarker(t *testing.T) {
	dir := t.TempDir()

	w, err := NewSessionLogWriter(dir, "sess-1", "v5")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "sess-1.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "sess-1.active"))
	require.NoError(t, err)

	w.Close()
}

func TestSessionLogWriterCloseRemovesActiveMarker(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSessionLogWriter(dir, "sess-2", "v4")
	require.NoError(t, err)

	w.Write("INFO", "hello", nil)
	w.Close()

	_, err = os.Stat(filepath.Join(dir, "sess-2.active"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewSessionLoggerTeesToBaseAndWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSessionLogWriter(dir, "sess-3", "v5")
	require.NoError(t, err)
	defer w.Close()

	var consoleCalls int
	base := NewLogger(func(level, msg string, attrs map[string]interface{}) {
		consoleCalls++
	})

	logger := NewSessionLogger(base, w)
	logger.Info("hello")

	assert.Equal(t, 1, consoleCalls)

	data, err := os.ReadFile(filepath.Join(dir, "sess-3.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestSessionLoggerFromContextReturnsNilWhenAbsent(t *testing.T) {
	assert.Nil(t, SessionLoggerFromContext(context.Background()))
}
