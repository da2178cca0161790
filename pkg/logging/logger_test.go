package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestLoggerWritesSessionLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "sess-1")
	require.NoError(t, err)

	require.NoError(t, logger.Info(CategorySelection, "selection_changed", "bound preset", map[string]any{
		"slot":  3,
		"model": "gpt-x",
	}))
	require.NoError(t, logger.Close())

	events := readEvents(t, filepath.Join(dir, "sessions", "sess-1.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, CategorySelection, events[0].Category)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.Equal(t, "gpt-x", events[0].Details["model"])
}

func TestErrorsDuplicatedToErrorLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "sess-2")
	require.NoError(t, err)

	require.NoError(t, logger.Error(CategoryReclaim, "cleanup_failed", "sweep request failed", nil))
	require.NoError(t, logger.Info(CategoryReclaim, "swept", "nothing to clean", nil))
	require.NoError(t, logger.Close())

	errorEvents := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	require.Len(t, errorEvents, 1)
	assert.Equal(t, "cleanup_failed", errorEvents[0].EventType)
}

func TestMinLevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "sess-3")
	require.NoError(t, err)
	logger.SetMinLevel(LevelWarn)

	require.NoError(t, logger.Debug(CategoryFallback, "filtered", "dropped", nil))
	require.NoError(t, logger.Info(CategoryFallback, "filtered", "dropped", nil))
	require.NoError(t, logger.Warn(CategoryFallback, "kept", "kept", nil))
	require.NoError(t, logger.Close())

	events := readEvents(t, filepath.Join(dir, "sessions", "sess-3.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].EventType)
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	assert.NoError(t, logger.Info(CategorySession, "ignored", "", nil))
	assert.NoError(t, logger.Close())
}
