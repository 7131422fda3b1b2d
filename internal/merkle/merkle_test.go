package merkle

import (
	"testing"

	"github.com/kittclouds/kiln/internal/hashing"
	"github.com/stretchr/testify/assert"
)

func leaf(path, content string) *Node {
	return &Node{BlockID: path, Path: path, Hash: hashing.HashBlock("paragraph", content)}
}

func TestBuildDeterministic(t *testing.T) {
	roots := []*Node{leaf("0", "# Hi"), leaf("1", "World")}
	t1 := Build(roots)
	t2 := Build(roots)
	assert.True(t, t1.RootHash().Equal(t2.RootHash()))
	assert.Equal(t, 2, t1.TotalBlocks())
}

func TestBuildOrderSensitive(t *testing.T) {
	a := Build([]*Node{leaf("0", "# Hi"), leaf("1", "World")})
	b := Build([]*Node{leaf("0", "World"), leaf("1", "# Hi")})
	assert.False(t, a.RootHash().Equal(b.RootHash()))
}

func TestDiffLocalizesSingleChange(t *testing.T) {
	older := Build([]*Node{leaf("0", "# Hi"), leaf("1", "World")})
	newer := Build([]*Node{leaf("0", "# Hi"), leaf("1", "World!")})

	delta := Diff(older, newer)
	if assert.Len(t, delta, 1) {
		assert.Equal(t, "1", delta[0].Path)
	}
}

func TestDiffNoChangeIsEmpty(t *testing.T) {
	older := Build([]*Node{leaf("0", "# Hi"), leaf("1", "World")})
	newer := Build([]*Node{leaf("0", "# Hi"), leaf("1", "World")})
	assert.Empty(t, Diff(older, newer))
}
