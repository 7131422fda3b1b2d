package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/derekparker/trie/v3"
	"github.com/google/uuid"
	"github.com/kittclouds/kiln/internal/canon"
	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/pkg/pool"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore is the sole C6 implementation. It guards one *sql.DB behind
// a single-writer RWMutex discipline (spec §4.6: "the store is accessed
// by a single writer ... readers are unbounded"), matching the teacher's
// SQLiteStore shape.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	tagTrie  *trie.Trie // tag path prefix index, rebuilt lazily
	tagTrieOK bool
}

var _ Storer = (*SQLiteStore)(nil)

// Open opens (creating if absent) a SQLite-backed store at dsn (a file
// path, or ":memory:" for an embedded/ephemeral store) and applies
// pending schema migrations.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Storage(errs.KindSchemaMigration, "open "+dsn, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; ncruces driver is not safe for concurrent writers
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, errs.Storage(errs.KindSchemaMigration, "apply migrations", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentSchemaVersion(s.db)
}

func nowMs() int64 { return time.Now().UnixMilli() }

// UpsertEntity creates the entity if absent, or bumps its version if
// present. The store never rewrites an entity in place without a version
// bump (spec §3).
func (s *SQLiteStore) UpsertEntity(e *Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return "", errs.Fatal("marshal entity data", err)
	}

	var existingVersion int
	err = s.db.QueryRow(`SELECT version FROM entities WHERE id = ?`, e.ID).Scan(&existingVersion)
	now := nowMs()
	switch {
	case err == sql.ErrNoRows:
		if e.Version == 0 {
			e.Version = 1
		}
		_, err = s.db.Exec(`INSERT INTO entities
			(id, type, created_at, updated_at, deleted_at, version, content_hash, created_by, vault_id, data)
			VALUES (?,?,?,?,NULL,?,?,?,?,?)`,
			e.ID, string(e.Type), now, now, e.Version, e.ContentHash, e.CreatedBy, e.VaultID, string(data))
		if err != nil {
			return "", errs.Storage(errs.KindConflict, "insert entity", err)
		}
		e.CreatedAt = time.UnixMilli(now)
		e.UpdatedAt = time.UnixMilli(now)
	case err != nil:
		return "", errs.Storage(errs.KindNotFound, "lookup entity", err)
	default:
		e.Version = existingVersion + 1
		_, err = s.db.Exec(`UPDATE entities SET type=?, updated_at=?, version=?, content_hash=?, data=? WHERE id=?`,
			string(e.Type), now, e.Version, e.ContentHash, string(data), e.ID)
		if err != nil {
			return "", errs.Storage(errs.KindConflict, "update entity", err)
		}
		e.UpdatedAt = time.UnixMilli(now)
	}
	return e.ID, nil
}

func (s *SQLiteStore) GetEntity(id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntityLocked(id)
}

func (s *SQLiteStore) getEntityLocked(id string) (*Entity, error) {
	row := s.db.QueryRow(`SELECT id,type,created_at,updated_at,deleted_at,version,content_hash,created_by,vault_id,data
		FROM entities WHERE id=?`, id)
	return scanEntity(row)
}

func scanEntity(row *sql.Row) (*Entity, error) {
	var e Entity
	var typ string
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64
	var createdBy, vaultID sql.NullString
	var data string
	err := row.Scan(&e.ID, &typ, &createdAt, &updatedAt, &deletedAt, &e.Version, &e.ContentHash, &createdBy, &vaultID, &data)
	if err == sql.ErrNoRows {
		return nil, errs.Storage(errs.KindNotFound, "entity not found", nil)
	}
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "scan entity", err)
	}
	e.Type = EntityType(typ)
	e.CreatedAt = time.UnixMilli(createdAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64)
		e.DeletedAt = &t
	}
	e.CreatedBy = createdBy.String
	e.VaultID = vaultID.String
	_ = json.Unmarshal([]byte(data), &e.Data)
	return &e, nil
}

// SoftDeleteEntity tombstones an entity and cascades per spec §3: its
// blocks and outbound relations and embeddings are removed; inbound
// relations become dangling (to_entity set to null) rather than orphaned.
func (s *SQLiteStore) SoftDeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Storage(errs.KindInternal, "begin tx", err)
	}
	defer tx.Rollback()

	now := nowMs()
	if _, err := tx.Exec(`UPDATE entities SET deleted_at=? WHERE id=?`, now, id); err != nil {
		return errs.Storage(errs.KindInternal, "soft delete entity", err)
	}
	if _, err := tx.Exec(`DELETE FROM embeddings WHERE owner_entity IN (SELECT id FROM blocks WHERE entity_id=?) OR owner_entity=?`, id, id); err != nil {
		return errs.Storage(errs.KindInternal, "cascade delete embeddings", err)
	}
	if _, err := tx.Exec(`DELETE FROM blocks WHERE entity_id=?`, id); err != nil {
		return errs.Storage(errs.KindInternal, "cascade delete blocks", err)
	}
	if _, err := tx.Exec(`DELETE FROM relations WHERE from_entity=?`, id); err != nil {
		return errs.Storage(errs.KindInternal, "cascade delete outbound relations", err)
	}
	if _, err := tx.Exec(`UPDATE relations SET to_entity=NULL WHERE to_entity=?`, id); err != nil {
		return errs.Storage(errs.KindInternal, "dangle inbound relations", err)
	}
	if _, err := tx.Exec(`DELETE FROM entity_tags WHERE entity_id=?`, id); err != nil {
		return errs.Storage(errs.KindInternal, "cascade delete entity tags", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

// SetProperty upserts with UNIQUE enforcement on (entity_id, namespace, key).
func (s *SQLiteStore) SetProperty(p *Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO properties (entity_id, namespace, key, value, source, confidence)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(entity_id, namespace, key) DO UPDATE SET
			value=excluded.value, source=excluded.source, confidence=excluded.confidence`,
		p.EntityID, p.Namespace, p.Key, p.Value, p.Source, p.Confidence)
	if err != nil {
		return errs.Storage(errs.KindConflict, "set property", err)
	}
	return nil
}

func (s *SQLiteStore) GetProperties(entityID string) ([]*Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT entity_id,namespace,key,value,source,confidence FROM properties WHERE entity_id=?`, entityID)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "list properties", err)
	}
	defer rows.Close()
	var out []*Property
	for rows.Next() {
		var p Property
		var source sql.NullString
		if err := rows.Scan(&p.EntityID, &p.Namespace, &p.Key, &p.Value, &source, &p.Confidence); err != nil {
			return nil, errs.Storage(errs.KindInternal, "scan property", err)
		}
		p.Source = source.String
		out = append(out, &p)
	}
	return out, nil
}

// CreateRelation inserts, idempotent under (from, to, relation_type, position).
func (s *SQLiteStore) CreateRelation(r *Relation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return "", errs.Fatal("marshal relation metadata", err)
	}
	var toEntity any
	if r.ToEntity != "" {
		toEntity = r.ToEntity
	} else {
		// NULL never conflicts in a UNIQUE index, so match dangling rows here.
		var existing string
		err := s.db.QueryRow(`SELECT id FROM relations WHERE from_entity=? AND to_entity IS NULL AND relation_type=? AND position=?`,
			r.FromEntity, r.RelationType, r.Position).Scan(&existing)
		if err == nil {
			if _, err := s.db.Exec(`UPDATE relations SET weight=?, confidence=?, metadata=? WHERE id=?`,
				r.Weight, r.Confidence, string(meta), existing); err != nil {
				return "", errs.Storage(errs.KindConflict, "create relation", err)
			}
			r.ID = existing
			return existing, nil
		}
	}
	now := nowMs()
	_, err = s.db.Exec(`INSERT INTO relations
		(id, from_entity, to_entity, relation_type, weight, directed, confidence, source, position,
		 content_category, block_offset, block_hash, heading_occurrence, metadata, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(from_entity, to_entity, relation_type, position) DO UPDATE SET
			weight=excluded.weight, confidence=excluded.confidence, metadata=excluded.metadata`,
		r.ID, r.FromEntity, toEntity, r.RelationType, r.Weight, r.Directed, r.Confidence, r.Source, r.Position,
		string(r.ContentCategory), r.BlockOffset, r.BlockHash, r.HeadingOccurrence, string(meta), now)
	if err != nil {
		return "", errs.Storage(errs.KindConflict, "create relation", err)
	}
	r.CreatedAt = time.UnixMilli(now)
	return r.ID, nil
}

func (s *SQLiteStore) ListRelationsFrom(entityID string) ([]*Relation, error) {
	return s.listRelations(`from_entity=?`, entityID)
}

func (s *SQLiteStore) ListRelationsTo(entityID string) ([]*Relation, error) {
	return s.listRelations(`to_entity=?`, entityID)
}

func (s *SQLiteStore) listRelations(where, arg string) ([]*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id,from_entity,to_entity,relation_type,weight,directed,confidence,source,position,
		content_category,block_offset,block_hash,heading_occurrence,metadata,created_at FROM relations WHERE `+where, arg)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "list relations", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

func scanRelations(rows *sql.Rows) ([]*Relation, error) {
	var out []*Relation
	for rows.Next() {
		var r Relation
		var toEntity, source, category sql.NullString
		var blockHash sql.NullString
		var blockOffset, headingOcc sql.NullInt64
		var meta string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.FromEntity, &toEntity, &r.RelationType, &r.Weight, &r.Directed, &r.Confidence,
			&source, &r.Position, &category, &blockOffset, &blockHash, &headingOcc, &meta, &createdAt); err != nil {
			return nil, errs.Storage(errs.KindInternal, "scan relation", err)
		}
		r.ToEntity = toEntity.String
		r.Source = source.String
		r.ContentCategory = ContentCategory(category.String)
		r.BlockOffset = int(blockOffset.Int64)
		r.BlockHash = blockHash.String
		r.HeadingOccurrence = int(headingOcc.Int64)
		r.CreatedAt = time.UnixMilli(createdAt)
		_ = json.Unmarshal([]byte(meta), &r.Metadata)
		out = append(out, &r)
	}
	return out, nil
}

// UpsertTag finds or creates path's hierarchy ancestors first, per spec
// §4.6, returning the leaf tag.
func (s *SQLiteStore) UpsertTag(path string) (*Tag, error) {
	path = canon.TagPath(path)
	if path == "" {
		return nil, errs.Input(errs.KindInvalidPath, "empty tag path", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := strings.Split(path, "/")
	var parentID string
	var leaf *Tag
	for depth, seg := range segs {
		segPath := strings.Join(segs[:depth+1], "/")
		t, err := s.findOrCreateTagLocked(seg, segPath, depth, parentID)
		if err != nil {
			return nil, err
		}
		parentID = t.ID
		leaf = t
	}
	s.tagTrieOK = false
	return leaf, nil
}

func (s *SQLiteStore) findOrCreateTagLocked(name, path string, depth int, parentID string) (*Tag, error) {
	row := s.db.QueryRow(`SELECT id,name,parent_id,path,depth,description,color,icon FROM tags WHERE path=?`, path)
	t, err := scanTag(row)
	if err == nil {
		return t, nil
	}
	if _, ok := err.(*errs.StorageError); !ok {
		return nil, err
	}
	id := uuid.NewString()
	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err = s.db.Exec(`INSERT INTO tags (id,name,parent_id,path,depth) VALUES (?,?,?,?,?)`,
		id, name, parent, path, depth)
	if err != nil {
		return nil, errs.Storage(errs.KindConflict, "create tag", err)
	}
	return &Tag{ID: id, Name: name, ParentID: parentID, Path: path, Depth: depth}, nil
}

func scanTag(row *sql.Row) (*Tag, error) {
	var t Tag
	var parentID, description, color, icon sql.NullString
	err := row.Scan(&t.ID, &t.Name, &parentID, &t.Path, &t.Depth, &description, &color, &icon)
	if err == sql.ErrNoRows {
		return nil, errs.Storage(errs.KindNotFound, "tag not found", nil)
	}
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "scan tag", err)
	}
	t.ParentID = parentID.String
	t.Description = description.String
	t.Color = color.String
	t.Icon = icon.String
	return &t, nil
}

// TagEntity links entityID to the deepest tag in path, creating the
// hierarchy ancestors as needed (spec scenario S4).
func (s *SQLiteStore) TagEntity(entityID, tagPath, source string, confidence float64) error {
	tag, err := s.UpsertTag(tagPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO entity_tags (entity_id, tag_id, source, confidence) VALUES (?,?,?,?)
		ON CONFLICT(entity_id, tag_id) DO UPDATE SET source=excluded.source, confidence=excluded.confidence`,
		entityID, tag.ID, source, confidence)
	if err != nil {
		return errs.Storage(errs.KindConflict, "tag entity", err)
	}
	return nil
}

// ListEntitiesByTag returns every entity tagged with path or any
// descendant of path (hierarchy descent, spec scenario S4).
func (s *SQLiteStore) ListEntitiesByTag(path string) ([]*Entity, error) {
	path = canon.TagPath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT e.id,e.type,e.created_at,e.updated_at,e.deleted_at,e.version,e.content_hash,e.created_by,e.vault_id,e.data
		FROM entities e
		JOIN entity_tags et ON et.entity_id = e.id
		JOIN tags t ON t.id = et.tag_id
		WHERE (t.path = ? OR t.path LIKE ?) AND e.deleted_at IS NULL`,
		path, path+"/%")
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "list entities by tag", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var out []*Entity
	for rows.Next() {
		var e Entity
		var typ string
		var createdAt, updatedAt int64
		var deletedAt sql.NullInt64
		var createdBy, vaultID sql.NullString
		var data string
		if err := rows.Scan(&e.ID, &typ, &createdAt, &updatedAt, &deletedAt, &e.Version, &e.ContentHash, &createdBy, &vaultID, &data); err != nil {
			return nil, errs.Storage(errs.KindInternal, "scan entity row", err)
		}
		e.Type = EntityType(typ)
		e.CreatedAt = time.UnixMilli(createdAt)
		e.UpdatedAt = time.UnixMilli(updatedAt)
		if deletedAt.Valid {
			t := time.UnixMilli(deletedAt.Int64)
			e.DeletedAt = &t
		}
		e.CreatedBy = createdBy.String
		e.VaultID = vaultID.String
		_ = json.Unmarshal([]byte(data), &e.Data)
		out = append(out, &e)
	}
	return out, nil
}

// AttachBlock inserts or replaces one block row.
func (s *SQLiteStore) AttachBlock(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return errs.Fatal("marshal block metadata", err)
	}
	var parent any
	if b.ParentBlockID != "" {
		parent = b.ParentBlockID
	}
	_, err = s.db.Exec(`INSERT INTO blocks
		(id, entity_id, block_index, block_type, content, content_hash, start_offset, end_offset,
		 start_line, end_line, parent_block_id, depth, metadata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, content_hash=excluded.content_hash, metadata=excluded.metadata`,
		b.ID, b.EntityID, b.BlockIndex, b.BlockType, b.Content, b.ContentHash, b.StartOffset, b.EndOffset,
		b.StartLine, b.EndLine, parent, b.Depth, string(meta))
	if err != nil {
		return errs.Storage(errs.KindConflict, "attach block", err)
	}
	return nil
}

// DetachBlocks removes blocks of entityID whose content_hash is not in
// keepHashes — the set-difference maintenance of spec §4.6 used by
// pipeline phase 5 to prune removed leaves.
func (s *SQLiteStore) DetachBlocks(entityID string, keepHashes map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, content_hash FROM blocks WHERE entity_id=?`, entityID)
	if err != nil {
		return 0, errs.Storage(errs.KindInternal, "scan existing blocks", err)
	}
	var toRemove []string
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return 0, errs.Storage(errs.KindInternal, "scan block row", err)
		}
		if !keepHashes[hash] {
			toRemove = append(toRemove, id)
		}
	}
	rows.Close()

	for _, id := range toRemove {
		if _, err := s.db.Exec(`DELETE FROM embeddings WHERE owner_entity=?`, id); err != nil {
			return 0, errs.Storage(errs.KindInternal, "delete stale embedding", err)
		}
		if _, err := s.db.Exec(`DELETE FROM blocks WHERE id=?`, id); err != nil {
			return 0, errs.Storage(errs.KindInternal, "delete stale block", err)
		}
	}
	return len(toRemove), nil
}

func (s *SQLiteStore) ListBlocks(entityID string) ([]*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id,entity_id,block_index,block_type,content,content_hash,
		start_offset,end_offset,start_line,end_line,parent_block_id,depth,metadata
		FROM blocks WHERE entity_id=? ORDER BY block_index`, entityID)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "list blocks", err)
	}
	defer rows.Close()
	var out []*Block
	for rows.Next() {
		var b Block
		var parent sql.NullString
		var meta string
		if err := rows.Scan(&b.ID, &b.EntityID, &b.BlockIndex, &b.BlockType, &b.Content, &b.ContentHash,
			&b.StartOffset, &b.EndOffset, &b.StartLine, &b.EndLine, &parent, &b.Depth, &meta); err != nil {
			return nil, errs.Storage(errs.KindInternal, "scan block", err)
		}
		b.ParentBlockID = parent.String
		_ = json.Unmarshal([]byte(meta), &b.Metadata)
		out = append(out, &b)
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// UpsertEmbedding enforces spec §3's invariant: at most one live embedding
// per (owner_entity, chunk_index, model_name).
func (s *SQLiteStore) UpsertEmbedding(e *Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`INSERT INTO embeddings (id, owner_entity, model_name, dimension, vector, chunk_index, block_content_hash)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(owner_entity, chunk_index, model_name) DO UPDATE SET
			vector=excluded.vector, dimension=excluded.dimension, block_content_hash=excluded.block_content_hash`,
		e.ID, e.OwnerEntity, e.ModelName, e.Dimension, encodeVector(e.Vector), e.ChunkIndex, e.BlockContentHash)
	if err != nil {
		return errs.Storage(errs.KindConflict, "upsert embedding", err)
	}
	return nil
}

// NearestEmbeddings performs a brute-force cosine-similarity nearest
// neighbour search over every live embedding for model. The sqlite-vec
// extension is loaded (see the blank import above) so a future version
// can push this into a vec0 virtual table query without changing this
// method's signature; brute force is correct and sufficient at the scale
// a single kiln's block count implies.
func (s *SQLiteStore) NearestEmbeddings(model string, query []float32, topK int) ([]*Embedding, []float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id,owner_entity,model_name,dimension,vector,chunk_index,block_content_hash
		FROM embeddings WHERE model_name=?`, model)
	if err != nil {
		return nil, nil, errs.Storage(errs.KindInternal, "scan embeddings", err)
	}
	defer rows.Close()

	type scored struct {
		e     *Embedding
		score float64
	}
	var all []scored
	for rows.Next() {
		var e Embedding
		var vec []byte
		if err := rows.Scan(&e.ID, &e.OwnerEntity, &e.ModelName, &e.Dimension, &vec, &e.ChunkIndex, &e.BlockContentHash); err != nil {
			return nil, nil, errs.Storage(errs.KindInternal, "scan embedding row", err)
		}
		e.Vector = decodeVector(vec)
		all = append(all, scored{e: &e, score: cosineSimilarity(query, e.Vector)})
	}
	// simple selection sort for top-K; embedding sets in a personal kiln
	// are small enough that this is not a bottleneck.
	for i := 0; i < len(all) && i < topK; i++ {
		best := i
		for j := i + 1; j < len(all); j++ {
			if all[j].score > all[best].score {
				best = j
			}
		}
		all[i], all[best] = all[best], all[i]
	}
	if topK > len(all) {
		topK = len(all)
	}
	outE := make([]*Embedding, topK)
	outS := make([]float64, topK)
	for i := 0; i < topK; i++ {
		outE[i] = all[i].e
		outS[i] = all[i].score
	}
	return outE, outS, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Query dispatches a QuerySurface, per spec §4.6. It applies only the
// first populated group, in the order ID, graph traversal, tag, property,
// vector, and ignores the fields of the other groups.
func (s *SQLiteStore) Query(q QuerySurface) (*QueryResult, error) {
	result := pool.GetMap()
	defer pool.PutMap(result)

	res := &QueryResult{Scores: map[string]float64{}}

	if q.ID != "" {
		e, err := s.GetEntity(q.ID)
		if err != nil {
			return nil, err
		}
		res.Entities = append(res.Entities, e)
		return res, nil
	}

	if q.OutEdgesOf != "" || q.InEdgesOf != "" {
		var rels []*Relation
		var err error
		if q.OutEdgesOf != "" {
			rels, err = s.ListRelationsFrom(q.OutEdgesOf)
		} else {
			rels, err = s.ListRelationsTo(q.InEdgesOf)
		}
		if err != nil {
			return nil, err
		}
		if q.RelationType != "" {
			filtered := rels[:0]
			for _, r := range rels {
				if r.RelationType == q.RelationType {
					filtered = append(filtered, r)
				}
			}
			rels = filtered
		}
		res.Relations = rels
		return res, nil
	}

	if q.TagPath != "" {
		ents, err := s.ListEntitiesByTag(q.TagPath)
		if err != nil {
			return nil, err
		}
		res.Entities = ents
		return res, nil
	}

	if q.PropertyKey != "" {
		ents, err := s.queryByProperty(q)
		if err != nil {
			return nil, err
		}
		res.Entities = ents
		return res, nil
	}

	if len(q.VectorQuery) > 0 {
		topK := q.VectorTopK
		if topK <= 0 {
			topK = 10
		}
		embs, scores, err := s.NearestEmbeddings(q.VectorModel, q.VectorQuery, topK)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for i, e := range embs {
			if seen[e.OwnerEntity] {
				continue
			}
			seen[e.OwnerEntity] = true
			ent, err := s.GetEntity(e.OwnerEntity)
			if err != nil {
				continue
			}
			res.Entities = append(res.Entities, ent)
			res.Scores[ent.ID] = scores[i]
		}
		return res, nil
	}

	return res, nil
}

func (s *SQLiteStore) queryByProperty(q QuerySurface) ([]*Entity, error) {
	op := q.PropertyOp
	if op == "" {
		op = "="
	}
	allowed := map[string]bool{"=": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true}
	if !allowed[op] {
		return nil, errs.Input(errs.KindInvalidPath, "unsupported property operator: "+op, nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := fmt.Sprintf(`
		SELECT e.id,e.type,e.created_at,e.updated_at,e.deleted_at,e.version,e.content_hash,e.created_by,e.vault_id,e.data
		FROM entities e
		JOIN properties p ON p.entity_id = e.id
		WHERE p.namespace=? AND p.key=? AND p.value %s ? AND e.deleted_at IS NULL`, op)
	rows, err := s.db.Query(query, q.PropertyNamespace, q.PropertyKey, q.PropertyValue)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "query by property", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// exportDoc is the portable JSON shape used by Export/Import.
type exportDoc struct {
	Entities  []*Entity    `json:"entities"`
	Relations []*Relation  `json:"relations"`
	Blocks    []*Block     `json:"blocks"`
	Tags      []*Tag       `json:"tags"`
}

func (s *SQLiteStore) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc exportDoc
	rows, err := s.db.Query(`SELECT id,type,created_at,updated_at,deleted_at,version,content_hash,created_by,vault_id,data FROM entities`)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "export entities", err)
	}
	doc.Entities, err = scanEntities(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT id,from_entity,to_entity,relation_type,weight,directed,confidence,source,position,
		content_category,block_offset,block_hash,heading_occurrence,metadata,created_at FROM relations`)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "export relations", err)
	}
	doc.Relations, err = scanRelations(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	return json.Marshal(doc)
}

func (s *SQLiteStore) Import(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return errs.Input(errs.KindEncodingError, "decode export doc", err)
	}
	for _, e := range doc.Entities {
		if _, err := s.UpsertEntity(e); err != nil {
			return err
		}
	}
	for _, r := range doc.Relations {
		if _, err := s.CreateRelation(r); err != nil {
			return err
		}
	}
	return nil
}

// TagPrefixSearch returns every known tag path beginning with prefix,
// using a prefix trie rebuilt lazily: UpsertTag marks the trie stale, and
// the next search after any tag write rebuilds it in full from the tags
// table (the tag hierarchy is small enough in a single kiln for a full
// rebuild to be cheap).
func (s *SQLiteStore) TagPrefixSearch(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tagTrieOK {
		if err := s.rebuildTagTrieLocked(); err != nil {
			return nil, err
		}
	}
	if s.tagTrie == nil {
		return nil, nil
	}
	return s.tagTrie.PrefixSearch(canon.TagPath(prefix)), nil
}

func (s *SQLiteStore) rebuildTagTrieLocked() error {
	rows, err := s.db.Query(`SELECT path FROM tags`)
	if err != nil {
		return errs.Storage(errs.KindInternal, "rebuild tag trie", err)
	}
	defer rows.Close()
	t := trie.New()
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return errs.Storage(errs.KindInternal, "scan tag path", err)
		}
		t.Add(path, path)
	}
	s.tagTrie = t
	s.tagTrieOK = true
	return nil
}

// strconv is reserved for callers building property-filter queries that
// need numeric comparison formatting.
var _ = strconv.Itoa
