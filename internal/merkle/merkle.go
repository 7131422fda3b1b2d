// Package merkle implements C3: a deterministic tree over a note's parsed
// blocks. Leaves are block content hashes (computed by the hashing
// package's canonical form); internal nodes combine children in document
// order. The root hash is the note's identity for change detection.
package merkle

import (
	"github.com/kittclouds/kiln/internal/hashing"
)

// Leaf is one block's position and hash within the tree.
type Leaf struct {
	Path  string // stable path, e.g. "0", "0.1" for a nested block
	Hash  hashing.Digest
	BlockID string
}

// Tree is the Merkle tree over one note's blocks.
type Tree struct {
	leaves   []Leaf
	rootHash hashing.Digest
}

// Node mirrors a block's tree position for the purpose of building a Tree.
// Children must already be in declared document order.
type Node struct {
	BlockID  string
	Path     string
	Hash     hashing.Digest
	Children []*Node
}

// Build constructs a Tree from a forest of root nodes (a note may have
// several top-level blocks). It is thread-safe (pure function of its
// input) and the resulting Tree is safe to share and read concurrently.
func Build(roots []*Node) *Tree {
	t := &Tree{}
	var combined []byte
	for _, r := range roots {
		h := t.hashNode(r)
		combined = append(combined, h.Bytes[:]...)
	}
	t.rootHash = hashing.HashBytes(combined)
	return t
}

func (t *Tree) hashNode(n *Node) hashing.Digest {
	t.leaves = append(t.leaves, Leaf{Path: n.Path, Hash: n.Hash, BlockID: n.BlockID})
	if len(n.Children) == 0 {
		return n.Hash
	}
	buf := append([]byte{}, n.Hash.Bytes[:]...)
	for _, c := range n.Children {
		ch := t.hashNode(c)
		buf = append(buf, ch.Bytes[:]...)
	}
	return hashing.HashBytes(buf)
}

// RootHash is the note's content identity.
func (t *Tree) RootHash() hashing.Digest { return t.rootHash }

// SectionCount returns the number of top-level (depth-0) leaves recorded.
func (t *Tree) SectionCount() int {
	n := 0
	for _, l := range t.leaves {
		if len(l.Path) > 0 && !containsDot(l.Path) {
			n++
		}
	}
	return n
}

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}
	return false
}

// TotalBlocks returns the total number of blocks (leaves + internal) seen.
func (t *Tree) TotalBlocks() int { return len(t.leaves) }

// Leaves returns the stable enumeration of (path, hash) pairs in document
// order.
func (t *Tree) Leaves() []Leaf {
	out := make([]Leaf, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// LeafHashSet returns the set of leaf hashes, for use by the change
// detector's Δ = leaves(new) \ leaves(old) computation.
func (t *Tree) LeafHashSet() map[string]Leaf {
	m := make(map[string]Leaf, len(t.leaves))
	for _, l := range t.leaves {
		m[l.Hash.String()] = l
	}
	return m
}

// Diff computes the set of leaves present in `newer` but whose hash is not
// present anywhere in `older` — the changed leaves Δ of spec §4.7 phase 3.
func Diff(older, newer *Tree) []Leaf {
	oldSet := map[string]struct{}{}
	if older != nil {
		for _, l := range older.leaves {
			oldSet[l.Hash.String()] = struct{}{}
		}
	}
	var delta []Leaf
	for _, l := range newer.leaves {
		if _, ok := oldSet[l.Hash.String()]; !ok {
			delta = append(delta, l)
		}
	}
	return delta
}
