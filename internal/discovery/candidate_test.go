package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeNormalizesCase(t *testing.T) {
	key, display, valid := Canonicalize("Gandalf")
	assert.True(t, valid)
	assert.Equal(t, CanonicalToken("gandalf"), key)
	assert.Equal(t, "Gandalf", display)
}

func TestCanonicalizePreservesJoiners(t *testing.T) {
	key, _, valid := Canonicalize("O'Brien")
	assert.True(t, valid)
	assert.Equal(t, CanonicalToken("o'brien"), key)
}

func TestCanonicalizeRejectsTooShort(t *testing.T) {
	_, _, valid := Canonicalize("A")
	assert.False(t, valid)
}

func TestCanonicalizeRejectsNoLetters(t *testing.T) {
	_, _, valid := Canonicalize("123")
	assert.False(t, valid)
}

func TestIsCapitalized(t *testing.T) {
	assert.True(t, IsCapitalized("Gandalf"))
	assert.False(t, IsCapitalized("gandalf"))
	assert.False(t, IsCapitalized(""))
}
