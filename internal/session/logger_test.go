package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(dir string) *Logger {
	now := time.Date(2026, 1, 4, 15, 30, 0, 0, time.UTC)
	return NewLogger(dir, 16, func() time.Time { return now }, fixedRand(9))
}

func TestLoggerCreatesSessionLazily(t *testing.T) {
	l := newTestLogger(t.TempDir())
	assert.True(t, l.SessionID().IsZero())

	require.NoError(t, l.LogUserMessage("hello"))
	assert.False(t, l.SessionID().IsZero())
}

func TestLoggerAccumulatesAndFlushesAssistantMessage(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(dir)

	require.NoError(t, l.LogUserMessage("hello"))
	l.AccumulateAssistantChunk("Hi ")
	l.AccumulateAssistantChunk("there!")
	require.NoError(t, l.FlushAssistantMessage("test-model"))
	require.NoError(t, l.Finish())

	events, err := LoadEvents(dir, l.SessionID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventUser, events[0].Type)
	assert.Equal(t, EventAssistant, events[1].Type)
	assert.Equal(t, "Hi there!", events[1].Content)
	assert.Equal(t, "test-model", events[1].Model)
}

func TestLoggerFlushAssistantMessageNoopWhenNothingAccumulated(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(dir)
	require.NoError(t, l.FlushAssistantMessage("model"))
	assert.True(t, l.SessionID().IsZero())
}

func TestLoggerToolCallAndResultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(dir)

	require.NoError(t, l.LogUserMessage("read file"))
	require.NoError(t, l.LogToolCall("tc1", "read_file", map[string]any{"path": "test.go"}))
	require.NoError(t, l.LogToolResult("tc1", "package main"))
	require.NoError(t, l.Finish())

	events, err := LoadEvents(dir, l.SessionID())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventToolCall, events[1].Type)
	assert.Equal(t, "read_file", events[1].ToolName)
	assert.Equal(t, EventToolResult, events[2].Type)
}

func TestLoggerToolResultTruncatesLongOutput(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(dir)

	long := "0123456789abcdefghijklmnopqrstuvwxyz"
	require.NoError(t, l.LogToolCall("tc1", "big_tool", nil))
	require.NoError(t, l.LogToolResult("tc1", long))
	require.NoError(t, l.Finish())

	events, err := LoadEvents(dir, l.SessionID())
	require.NoError(t, err)
	result := events[len(events)-1]
	assert.True(t, result.Truncated)
	assert.Equal(t, len(long), result.OriginalSize)
	assert.Len(t, result.Content, 16)
}

func TestLoggerResumeReplaysPriorEvents(t *testing.T) {
	dir := t.TempDir()
	l1 := newTestLogger(dir)
	require.NoError(t, l1.LogUserMessage("hello"))
	require.NoError(t, l1.Finish())

	l2 := newTestLogger(dir)
	events, err := l2.Resume(l1.SessionID())
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, l2.LogUserMessage("again"))
	require.NoError(t, l2.Finish())

	all, err := LoadEvents(dir, l1.SessionID())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLoggerListSessionsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(dir)
	require.NoError(t, l.LogUserMessage("hi"))
	require.NoError(t, l.Finish())

	ids, err := l.ListSessions()
	require.NoError(t, err)
	require.Len(t, ids, 1)
}
