package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "mem_records: facts across the three tiers",
		SQL: `
CREATE TABLE mem_records (
    id                   TEXT PRIMARY KEY,
    content              TEXT NOT NULL CHECK (content != ''),
    tier                 TEXT NOT NULL CHECK (tier IN ('long_term', 'short_term', 'assistant')),
    scope_key            TEXT NOT NULL,
    category             TEXT NOT NULL DEFAULT '',

    -- Derived
    keywords             TEXT NOT NULL DEFAULT '[]',
    entities             TEXT NOT NULL DEFAULT '[]',
    importance           REAL NOT NULL DEFAULT 0.5,

    -- Decay
    decay_factor         REAL NOT NULL DEFAULT 1.0,
    freshness            REAL NOT NULL DEFAULT 1.0,
    access_count         INTEGER NOT NULL DEFAULT 0,
    last_access          INTEGER,

    -- Watermark
    analyzed_message_ids TEXT NOT NULL DEFAULT '[]',
    last_message_id      TEXT NOT NULL DEFAULT '',

    created_at           INTEGER NOT NULL
);

CREATE INDEX idx_records_scope ON mem_records(tier, scope_key);
`,
	},
	{
		Version:     2,
		Description: "mem_vectors: embeddings for records",
		SQL: `
CREATE TABLE mem_vectors (
    record_id   TEXT PRIMARY KEY,
    embedding   BLOB NOT NULL,
    model       TEXT NOT NULL,
    dimensions  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (record_id) REFERENCES mem_records(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "mem_lists: long-term groupings with activation flag",
		SQL: `
CREATE TABLE mem_lists (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    is_active   INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "messages: conversation log read by analysis",
		SQL: `
CREATE TABLE messages (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    scope_id    TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_messages_scope ON messages(scope_id, created_at, seq);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
