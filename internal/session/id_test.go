package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRand(seed uint64) func() uint64 {
	return func() uint64 { return seed }
}

func TestNewProducesWellFormedID(t *testing.T) {
	at := time.Date(2026, 1, 4, 15, 30, 0, 0, time.UTC)
	id, err := New(TypeChat, at, fixedRand(1))
	require.NoError(t, err)
	assert.Regexp(t, `^chat-20260104-1530-[0-9a-f]{4}$`, id.String())
}

func TestNewWithDifferentSaltsProducesDistinctIDs(t *testing.T) {
	at := time.Date(2026, 1, 4, 15, 30, 0, 0, time.UTC)
	id1, err := New(TypeChat, at, fixedRand(1))
	require.NoError(t, err)
	id2, err := New(TypeChat, at, fixedRand(2))
	require.NoError(t, err)
	assert.NotEqual(t, id1.String(), id2.String())
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(Type("bogus"), time.Now(), fixedRand(1))
	assert.Error(t, err)
}

func TestParseAcceptsValidID(t *testing.T) {
	id, err := Parse("chat-20260104-1530-a1b2")
	require.NoError(t, err)
	assert.Equal(t, TypeChat, id.Type())
}

func TestParseAcceptsEveryType(t *testing.T) {
	for _, s := range []string{
		"chat-20260104-1530-a1b2",
		"workflow-20260104-1530-beef",
		"mcp-20260104-1530-0000",
		"sub-20260104-1530-ffff",
	} {
		_, err := Parse(s)
		assert.NoError(t, err, s)
	}
}

func TestParseRejectsMalformedIDs(t *testing.T) {
	cases := []string{
		"invalid",
		"chat-20260104",
		"chat-20260104-1530",
		"unknown-20260104-1530-a1b2",
		"chat-2026010-1530-a1b2",  // 7-digit date
		"chat-abcdefgh-1530-a1b2", // non-digit date
		"chat-20260104-153-a1b2",  // 3-digit time
		"chat-20260104-1530-a1",   // 2-char hash
		"chat-20260104-1530-ghij", // non-hex hash
		"../../../etc/passwd",
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}
