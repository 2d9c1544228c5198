package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Save writes a snapshot in one transaction. With force the existing state is
// discarded first, so the snapshot becomes the complete stored state.
func (db *DB) Save(ctx context.Context, snap Snapshot, force bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if force {
		for _, q := range []string{"DELETE FROM mem_vectors", "DELETE FROM mem_records", "DELETE FROM mem_lists"} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("force clear: %w", err)
			}
		}
	}

	for _, l := range snap.Lists {
		if err := upsertList(ctx, tx, l); err != nil {
			return err
		}
	}
	for _, r := range snap.Records {
		if err := upsertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, id := range snap.DeletedRecords {
		if _, err := tx.ExecContext(ctx, "DELETE FROM mem_vectors WHERE record_id = ?", id); err != nil {
			return fmt.Errorf("delete vector %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mem_records WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
	}
	for _, id := range snap.DeletedLists {
		if _, err := tx.ExecContext(ctx, "DELETE FROM mem_lists WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete list %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func upsertRecord(ctx context.Context, tx *sql.Tx, r Record) error {
	keywords, _ := json.Marshal(nonNil(r.Keywords))
	entities, _ := json.Marshal(nonNil(r.Entities))
	analyzed, _ := json.Marshal(nonNil(r.AnalyzedMessageIDs))

	var lastAccess sql.NullInt64
	if r.LastAccessedAt != nil {
		lastAccess = sql.NullInt64{Int64: r.LastAccessedAt.UnixMilli(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO mem_records (id, content, tier, scope_key, category, keywords, entities, importance,
			decay_factor, freshness, access_count, last_access, analyzed_message_ids, last_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			keywords = excluded.keywords,
			entities = excluded.entities,
			importance = excluded.importance,
			decay_factor = excluded.decay_factor,
			freshness = excluded.freshness,
			access_count = excluded.access_count,
			last_access = excluded.last_access,
			analyzed_message_ids = excluded.analyzed_message_ids,
			last_message_id = excluded.last_message_id
	`, r.ID, r.Content, string(r.Tier), r.ScopeKey, r.Category, string(keywords), string(entities), r.Importance,
		r.DecayFactor, r.Freshness, r.AccessCount, lastAccess, string(analyzed), r.LastMessageID, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.ID, err)
	}

	if len(r.Embedding) > 0 {
		return saveVector(ctx, tx, r.ID, r.Embedding, r.EmbeddingModel)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM mem_vectors WHERE record_id = ?", r.ID); err != nil {
		return fmt.Errorf("clear vector %s: %w", r.ID, err)
	}
	return nil
}

func upsertList(ctx context.Context, tx *sql.Tx, l List) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO mem_lists (id, name, is_active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_active = excluded.is_active
	`, l.ID, l.Name, boolToInt(l.IsActive), l.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert list %s: %w", l.ID, err)
	}
	return nil
}

// Load returns the full stored state.
func (db *DB) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	lists, err := db.ListLists(ctx)
	if err != nil {
		return snap, err
	}
	snap.Lists = lists

	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.content, r.tier, r.scope_key, r.category, r.keywords, r.entities, r.importance,
			r.decay_factor, r.freshness, r.access_count, r.last_access, r.analyzed_message_ids,
			r.last_message_id, r.created_at, v.embedding, v.model
		FROM mem_records r
		LEFT JOIN mem_vectors v ON v.record_id = r.id
		ORDER BY r.created_at, r.id
	`)
	if err != nil {
		return snap, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                            Record
			tier                         string
			keywords, entities, analyzed string
			lastAccess                   sql.NullInt64
			createdAt                    int64
			blob                         []byte
			model                        sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Content, &tier, &r.ScopeKey, &r.Category, &keywords, &entities,
			&r.Importance, &r.DecayFactor, &r.Freshness, &r.AccessCount, &lastAccess, &analyzed,
			&r.LastMessageID, &createdAt, &blob, &model); err != nil {
			return snap, fmt.Errorf("scan record: %w", err)
		}
		r.Tier = Tier(tier)
		r.CreatedAt = time.UnixMilli(createdAt)
		if lastAccess.Valid {
			t := time.UnixMilli(lastAccess.Int64)
			r.LastAccessedAt = &t
		}
		json.Unmarshal([]byte(keywords), &r.Keywords)
		json.Unmarshal([]byte(entities), &r.Entities)
		json.Unmarshal([]byte(analyzed), &r.AnalyzedMessageIDs)
		if len(blob) > 0 {
			r.Embedding = decodeEmbedding(blob)
			r.EmbeddingModel = model.String
		}
		snap.Records = append(snap.Records, r)
	}
	return snap, rows.Err()
}

// ListLists returns all long-term lists ordered by creation.
func (db *DB) ListLists(ctx context.Context) ([]List, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, is_active, created_at FROM mem_lists ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []List
	for rows.Next() {
		var l List
		var active int
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.Name, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		l.IsActive = active != 0
		l.CreatedAt = time.UnixMilli(createdAt)
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// CountRecords returns the number of records per tier.
func (db *DB) CountRecords(ctx context.Context) (map[Tier]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM mem_records GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[Tier]int, len(Tiers))
	for _, t := range Tiers {
		counts[t] = 0
	}
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Tier(tier)] = n
	}
	return counts, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
