// Package store implements C6: the graph+EAV store. Schema, CRUD shape,
// and concurrency discipline (single struct behind a sync.RWMutex, guarding
// one *sql.DB) are adapted from the teacher's SQLite store; the schema
// itself is the content-addressed entity/property/relation/block/tag/
// embedding model of spec §3, not the teacher's note/entity/edge model.
package store

import "time"

// EntityType enumerates the persisted entity kinds of spec §3.
type EntityType string

const (
	EntityNote    EntityType = "note"
	EntityBlock   EntityType = "block"
	EntityTag     EntityType = "tag"
	EntitySection EntityType = "section"
	EntityMedia   EntityType = "media"
	EntityPerson  EntityType = "person"
)

// Entity is the universal persisted record.
type Entity struct {
	ID          string         `json:"id"`
	Type        EntityType     `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
	Version     int            `json:"version"`
	ContentHash string         `json:"content_hash"`
	CreatedBy   string         `json:"created_by,omitempty"`
	VaultID     string         `json:"vault_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"` // free JSON blob
}

// Property is an EAV row: (entity_id, namespace, key) -> value.
type Property struct {
	EntityID   string  `json:"entity_id"`
	Namespace  string  `json:"namespace"`
	Key        string  `json:"key"`
	Value      string  `json:"value"` // JSON-encoded value
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// ContentCategory classifies a relation's referent per spec §3.
type ContentCategory string

const (
	CategoryNote          ContentCategory = "note"
	CategoryImage         ContentCategory = "image"
	CategoryVideo         ContentCategory = "video"
	CategoryAudio         ContentCategory = "audio"
	CategoryPDF           ContentCategory = "pdf"
	CategoryDocument      ContentCategory = "document"
	CategoryWeb           ContentCategory = "web"
	CategoryYouTube       ContentCategory = "youtube"
	CategoryGitHub        ContentCategory = "github"
	CategoryWikipedia     ContentCategory = "wikipedia"
	CategoryStackOverflow ContentCategory = "stackoverflow"
	CategoryExternal      ContentCategory = "external"
	CategoryOther         ContentCategory = "other"
)

// Relation is a directed graph edge. ToEntity may be empty for dangling
// links (spec §3: "no silent dangling" — either cascade delete, or the
// referent is explicitly nullable).
type Relation struct {
	ID                string            `json:"id"`
	FromEntity        string            `json:"from_entity"`
	ToEntity          string            `json:"to_entity"` // "" means dangling
	RelationType      string            `json:"relation_type"`
	Weight            float64           `json:"weight"`
	Directed          bool              `json:"directed"`
	Confidence        float64           `json:"confidence"`
	Source            string            `json:"source"`
	Position          int               `json:"position"`
	ContentCategory   ContentCategory   `json:"content_category,omitempty"`
	BlockOffset       int               `json:"block_offset,omitempty"`
	BlockHash         string            `json:"block_hash,omitempty"`
	HeadingOccurrence int               `json:"heading_occurrence,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Block is a span within a note's parsed form; the unit of re-embedding.
type Block struct {
	ID            string            `json:"id"`
	EntityID      string            `json:"entity_id"` // owning note
	BlockIndex    int               `json:"block_index"`
	BlockType     string            `json:"block_type"`
	Content       string            `json:"content"`
	ContentHash   string            `json:"content_hash"`
	StartOffset   int               `json:"start_offset"`
	EndOffset     int               `json:"end_offset"`
	StartLine     int               `json:"start_line"`
	EndLine       int               `json:"end_line"`
	ParentBlockID string            `json:"parent_block_id,omitempty"`
	Depth         int               `json:"depth"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Tag is a node of the hierarchical tag taxonomy.
type Tag struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ParentID    string `json:"parent_id,omitempty"`
	Path        string `json:"path"`
	Depth       int    `json:"depth"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// EntityTag links an entity to a tag.
type EntityTag struct {
	EntityID   string  `json:"entity_id"`
	TagID      string  `json:"tag_id"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Embedding is a vector attached to a block (or, rarely, a note).
type Embedding struct {
	ID               string    `json:"id"`
	OwnerEntity      string    `json:"owner_entity"`
	ModelName        string    `json:"model_name"`
	Dimension        int       `json:"dimension"`
	Vector           []float32 `json:"vector"`
	ChunkIndex       int       `json:"chunk_index"`
	BlockContentHash string    `json:"block_content_hash"`
}

// SessionEventKind enumerates C13's append-only log record types.
type SessionEventKind string

const (
	EventUser        SessionEventKind = "user"
	EventAssistant   SessionEventKind = "assistant"
	EventToolCall    SessionEventKind = "tool_call"
	EventToolResult  SessionEventKind = "tool_result"
	EventError       SessionEventKind = "error"
	EventInteraction SessionEventKind = "interaction"
)

// QuerySurface is the query contract of spec §4.6's `query` operation:
// direct lookup, graph traversal, property filter, tag filter, and
// nearest-neighbour share one surface. Only one group is applied per
// query, the first set in this order: ID, graph traversal, tag, property,
// vector. Fields of the other groups are ignored; groups are not combined.
type QuerySurface struct {
	ID string `json:"id,omitempty"` // direct record lookup by id, if set short-circuits the rest

	// Graph traversal
	OutEdgesOf   string `json:"out_edges_of,omitempty"`
	InEdgesOf    string `json:"in_edges_of,omitempty"`
	RelationType string `json:"relation_type,omitempty"` // optional filter on the above

	// Property filter: metadata.key OP value
	PropertyNamespace string `json:"property_namespace,omitempty"`
	PropertyKey       string `json:"property_key,omitempty"`
	PropertyOp        string `json:"property_op,omitempty"` // "=", "!=", ">", "<", ">=", "<="
	PropertyValue     string `json:"property_value,omitempty"`

	// Tag filter, with hierarchy descent
	TagPath string `json:"tag_path,omitempty"`

	// Nearest-neighbour over embeddings
	VectorQuery []float32 `json:"vector_query,omitempty"`
	VectorModel string    `json:"vector_model,omitempty"`
	VectorTopK  int       `json:"vector_top_k,omitempty"`

	Limit int `json:"limit,omitempty"`
}

// QueryResult is the composed result of a QuerySurface query.
type QueryResult struct {
	Entities  []*Entity          `json:"entities,omitempty"`
	Relations []*Relation        `json:"relations,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"` // entity id -> similarity score, for vector queries
}

// Storer is C6's full interface. SQLiteStore is the sole implementation,
// used in-process and by the storage daemon, which serves it over its
// socket. There is no client-side Storer over the socket, so remote
// callers use the daemon's JSON-RPC methods rather than this interface.
type Storer interface {
	// Entities
	UpsertEntity(e *Entity) (string, error)
	GetEntity(id string) (*Entity, error)
	SoftDeleteEntity(id string) error
	CountEntities() (int, error)

	// Properties
	SetProperty(p *Property) error
	GetProperties(entityID string) ([]*Property, error)

	// Relations
	CreateRelation(r *Relation) (string, error)
	ListRelationsFrom(entityID string) ([]*Relation, error)
	ListRelationsTo(entityID string) ([]*Relation, error)

	// Tags
	UpsertTag(path string) (*Tag, error)
	TagEntity(entityID, tagPath, source string, confidence float64) error
	ListEntitiesByTag(path string) ([]*Entity, error)

	// Blocks
	AttachBlock(b *Block) error
	DetachBlocks(entityID string, keepHashes map[string]bool) (removed int, err error)
	ListBlocks(entityID string) ([]*Block, error)

	// Embeddings
	UpsertEmbedding(e *Embedding) error
	NearestEmbeddings(model string, query []float32, topK int) ([]*Embedding, []float64, error)

	// Composite query
	Query(q QuerySurface) (*QueryResult, error)

	// Schema
	SchemaVersion() (int, error)

	// Portable serialization
	Export() ([]byte, error)
	Import(data []byte) error

	Close() error
}
