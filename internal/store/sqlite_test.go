package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertEntityBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	e := &Entity{Type: EntityNote, ContentHash: "h1"}
	id, err := s.UpsertEntity(e)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)

	e2 := &Entity{ID: id, Type: EntityNote, ContentHash: "h2"}
	_, err = s.UpsertEntity(e2)
	require.NoError(t, err)
	assert.Equal(t, 2, e2.Version)
}

func TestSetPropertyUniqueOnKey(t *testing.T) {
	s := newTestStore(t)
	e := &Entity{Type: EntityNote, ContentHash: "h1"}
	id, _ := s.UpsertEntity(e)

	require.NoError(t, s.SetProperty(&Property{EntityID: id, Namespace: "parser", Key: "title", Value: `"Hi"`, Confidence: 1}))
	require.NoError(t, s.SetProperty(&Property{EntityID: id, Namespace: "parser", Key: "title", Value: `"Hi2"`, Confidence: 1}))

	props, err := s.GetProperties(id)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, `"Hi2"`, props[0].Value)
}

func TestTagHierarchyCreatesAncestors(t *testing.T) {
	s := newTestStore(t)
	note := &Entity{Type: EntityNote, ContentHash: "h1"}
	id, _ := s.UpsertEntity(note)

	require.NoError(t, s.TagEntity(id, "project/ai/agents", "parser", 1.0))

	leaf, err := s.UpsertTag("project/ai/agents")
	require.NoError(t, err)
	assert.Equal(t, 2, leaf.Depth)

	byParent, err := s.ListEntitiesByTag("project")
	require.NoError(t, err)
	require.Len(t, byParent, 1)
	assert.Equal(t, id, byParent[0].ID)
}

func TestAttachAndDetachBlocks(t *testing.T) {
	s := newTestStore(t)
	note := &Entity{Type: EntityNote, ContentHash: "h1"}
	id, _ := s.UpsertEntity(note)

	require.NoError(t, s.AttachBlock(&Block{ID: "b1", EntityID: id, BlockType: "heading", Content: "# Hi", ContentHash: "bh1"}))
	require.NoError(t, s.AttachBlock(&Block{ID: "b2", EntityID: id, BlockType: "paragraph", Content: "World", ContentHash: "bh2"}))

	blocks, err := s.ListBlocks(id)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	removed, err := s.DetachBlocks(id, map[string]bool{"bh1": true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	blocks, err = s.ListBlocks(id)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "bh1", blocks[0].ContentHash)
}

func TestEmbeddingAtMostOnePerChunk(t *testing.T) {
	s := newTestStore(t)
	note := &Entity{Type: EntityBlock, ContentHash: "h1"}
	id, _ := s.UpsertEntity(note)

	require.NoError(t, s.UpsertEmbedding(&Embedding{OwnerEntity: id, ModelName: "m1", Dimension: 2, Vector: []float32{1, 0}, ChunkIndex: 0, BlockContentHash: "bh1"}))
	require.NoError(t, s.UpsertEmbedding(&Embedding{OwnerEntity: id, ModelName: "m1", Dimension: 2, Vector: []float32{0, 1}, ChunkIndex: 0, BlockContentHash: "bh2"}))

	embs, _, err := s.NearestEmbeddings("m1", []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, "bh2", embs[0].BlockContentHash)
}

func TestSoftDeleteCascadesAndDangles(t *testing.T) {
	s := newTestStore(t)
	a := &Entity{Type: EntityNote, ContentHash: "ha"}
	aID, _ := s.UpsertEntity(a)
	b := &Entity{Type: EntityNote, ContentHash: "hb"}
	bID, _ := s.UpsertEntity(b)

	_, err := s.CreateRelation(&Relation{FromEntity: aID, ToEntity: bID, RelationType: "wikilink", Directed: true})
	require.NoError(t, err)

	require.NoError(t, s.SoftDeleteEntity(bID))

	rels, err := s.ListRelationsFrom(aID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "", rels[0].ToEntity)
}

func TestNearestEmbeddingsRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	owner1, _ := s.UpsertEntity(&Entity{Type: EntityBlock, ContentHash: "h1"})
	owner2, _ := s.UpsertEntity(&Entity{Type: EntityBlock, ContentHash: "h2"})

	require.NoError(t, s.UpsertEmbedding(&Embedding{OwnerEntity: owner1, ModelName: "m", Dimension: 2, Vector: []float32{1, 0}, BlockContentHash: "x"}))
	require.NoError(t, s.UpsertEmbedding(&Embedding{OwnerEntity: owner2, ModelName: "m", Dimension: 2, Vector: []float32{0, 1}, BlockContentHash: "y"}))

	embs, scores, err := s.NearestEmbeddings("m", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
	assert.Equal(t, owner1, embs[0].OwnerEntity)
}
