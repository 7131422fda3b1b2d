package hashing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("hello world"))
	b := HashBytes([]byte("hello world"))
	assert.True(t, a.Equal(b))
	assert.Equal(t, Algorithm, a.Algo)
}

func TestDigestStringRoundTrip(t *testing.T) {
	d := HashBytes([]byte("round trip me"))
	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.True(t, d.Equal(parsed))
}

func TestParseDigestRejectsMalformed(t *testing.T) {
	_, err := ParseDigest("not-a-digest")
	assert.Error(t, err)
}

func TestHashFileTooLarge(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "big.md")
	require.NoError(t, os.WriteFile(p, make([]byte, 100), 0o644))

	_, err := HashFile(p, 10)
	require.Error(t, err)
}

func TestHashBlockStableAcrossTrailingWhitespace(t *testing.T) {
	a := HashBlock("paragraph", "World  \n")
	b := HashBlock("paragraph", "World")
	assert.True(t, a.Equal(b), "trailing whitespace/newline must not affect the hash")
}

func TestHashBlockChangesWithContent(t *testing.T) {
	a := HashBlock("paragraph", "World")
	b := HashBlock("paragraph", "World!")
	assert.False(t, a.Equal(b))
}
