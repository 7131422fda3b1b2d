package store

import "database/sql"

// schema_migrations tracks applied migrations, the pattern used by the
// original project's schema module: a monotonic version ledger checked
// at store open and advanced one migration at a time.
const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

const schemaV1 = `
CREATE TABLE IF NOT EXISTS entities (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    deleted_at   INTEGER,
    version      INTEGER NOT NULL DEFAULT 1,
    content_hash TEXT NOT NULL,
    created_by   TEXT,
    vault_id     TEXT,
    data         TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_entities_hash ON entities(content_hash);

CREATE TABLE IF NOT EXISTS properties (
    entity_id  TEXT NOT NULL,
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    source     TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (entity_id, namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_properties_ns_key ON properties(namespace, key);

CREATE TABLE IF NOT EXISTS relations (
    id                 TEXT PRIMARY KEY,
    from_entity        TEXT NOT NULL,
    to_entity          TEXT,
    relation_type      TEXT NOT NULL,
    weight             REAL NOT NULL DEFAULT 1.0,
    directed           INTEGER NOT NULL DEFAULT 1,
    confidence         REAL NOT NULL DEFAULT 1.0,
    source             TEXT,
    position           INTEGER NOT NULL DEFAULT 0,
    content_category   TEXT,
    block_offset       INTEGER,
    block_hash         TEXT,
    heading_occurrence INTEGER,
    metadata           TEXT NOT NULL DEFAULT '{}',
    created_at         INTEGER NOT NULL,
    UNIQUE(from_entity, to_entity, relation_type, position)
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_entity);

CREATE TABLE IF NOT EXISTS blocks (
    id              TEXT PRIMARY KEY,
    entity_id       TEXT NOT NULL,
    block_index     INTEGER NOT NULL,
    block_type      TEXT NOT NULL,
    content         TEXT NOT NULL,
    content_hash    TEXT NOT NULL,
    start_offset    INTEGER,
    end_offset      INTEGER,
    start_line      INTEGER,
    end_line        INTEGER,
    parent_block_id TEXT,
    depth           INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_blocks_entity ON blocks(entity_id);
CREATE INDEX IF NOT EXISTS idx_blocks_hash ON blocks(content_hash);

CREATE TABLE IF NOT EXISTS tags (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    parent_id   TEXT,
    path        TEXT NOT NULL UNIQUE,
    depth       INTEGER NOT NULL DEFAULT 0,
    description TEXT,
    color       TEXT,
    icon        TEXT
);
CREATE INDEX IF NOT EXISTS idx_tags_parent ON tags(parent_id);

CREATE TABLE IF NOT EXISTS entity_tags (
    entity_id  TEXT NOT NULL,
    tag_id     TEXT NOT NULL,
    source     TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (entity_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_entity_tags_tag ON entity_tags(tag_id);

CREATE TABLE IF NOT EXISTS embeddings (
    id                 TEXT PRIMARY KEY,
    owner_entity       TEXT NOT NULL,
    model_name         TEXT NOT NULL,
    dimension          INTEGER NOT NULL,
    vector             BLOB NOT NULL,
    chunk_index        INTEGER NOT NULL DEFAULT 0,
    block_content_hash TEXT NOT NULL,
    UNIQUE(owner_entity, chunk_index, model_name)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_owner ON embeddings(owner_entity);
`

// migrations is the ordered list of schema migrations, each idempotent.
// A fresh store applies all of them in order; re-opening an up-to-date
// store applies none.
var migrations = []struct {
	version int
	sql     string
}{
	{1, schemaV1},
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return err
	}
	current, err := currentSchemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			return err
		}
	}
	return nil
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
