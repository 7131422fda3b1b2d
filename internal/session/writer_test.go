package session

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppendAndLoadEventsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 4, 15, 30, 0, 0, time.UTC)

	w, err := Create(dir, TypeChat, now, fixedRand(7))
	require.NoError(t, err)

	require.NoError(t, w.Append(User("hello"), now))
	require.NoError(t, w.Append(Assistant("hi there", "test-model"), now))
	require.NoError(t, w.Close())

	events, err := LoadEvents(dir, w.ID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventUser, events[0].Type)
	assert.Equal(t, "hello", events[0].Content)
	assert.Equal(t, EventAssistant, events[1].Type)
	assert.Equal(t, "test-model", events[1].Model)
}

func TestOpenResumesExistingSessionForAppend(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 4, 15, 30, 0, 0, time.UTC)

	w, err := Create(dir, TypeChat, now, fixedRand(3))
	require.NoError(t, err)
	require.NoError(t, w.Append(User("first"), now))
	require.NoError(t, w.Close())

	resumed, err := Open(dir, w.ID())
	require.NoError(t, err)
	require.NoError(t, resumed.Append(User("second"), now))
	require.NoError(t, resumed.Close())

	events, err := LoadEvents(dir, w.ID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Content)
	assert.Equal(t, "second", events[1].Content)
}

func TestOpenUnknownSessionFails(t *testing.T) {
	dir := t.TempDir()
	id, err := Parse("chat-20260104-1530-a1b2")
	require.NoError(t, err)
	_, err = Open(dir, id)
	assert.Error(t, err)
}

func TestListReturnsSessionsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	first, err := Create(dir, TypeChat, time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC), fixedRand(1))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Create(dir, TypeChat, time.Date(2026, 1, 4, 11, 0, 0, 0, time.UTC), fixedRand(2))
	require.NoError(t, err)
	require.NoError(t, second.Close())

	ids, err := List(dir)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, second.ID().String(), ids[0].String())
	assert.Equal(t, first.ID().String(), ids[1].String())
}

func TestListIgnoresNonSessionDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/not-a-session", 0o755))

	ids, err := List(dir)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTruncateMarksLongContent(t *testing.T) {
	r := Truncate("0123456789", 4)
	assert.True(t, r.Truncated)
	assert.Equal(t, "0123", r.Content)
	assert.Equal(t, 10, r.OriginalSize)
}

func TestTruncateLeavesShortContentAlone(t *testing.T) {
	r := Truncate("short", 100)
	assert.False(t, r.Truncated)
	assert.Equal(t, "short", r.Content)
}
