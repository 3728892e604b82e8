package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// WarmTier holds warm-routed full documents and the catalog of every record
// regardless of tier. SQLite with WAL; a single writer connection serializes
// mutations.
type WarmTier struct {
	db *sql.DB
	mu sync.RWMutex
}

// CatalogRow is the normalized index entry for one record.
type CatalogRow struct {
	ID          string
	UserID      string
	Timestamp   time.Time
	Source      string
	Influence   float64
	Attention   float64
	Quality     float64
	Tier        record.Tier
	Deleted     bool
	ContentHash string
}

// NewWarmTier opens (creating if needed) the warm database at path. Use
// ":memory:" in tests.
func NewWarmTier(path string) (*WarmTier, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewWarmTier")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create warm directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open warm database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set synchronous=NORMAL: %v", err)
	}

	w := &WarmTier{db: db}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Warm tier ready at %s", path)
	return w, nil
}

func (w *WarmTier) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id)`,
		`CREATE TABLE IF NOT EXISTS catalog (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			timestamp_epoch INTEGER NOT NULL,
			source TEXT NOT NULL,
			influence REAL NOT NULL,
			attention REAL NOT NULL,
			quality REAL NOT NULL,
			tier TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_user_time ON catalog(user_id, timestamp_epoch DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_user_influence ON catalog(user_id, influence DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_user_source ON catalog(user_id, source)`,
		`CREATE TABLE IF NOT EXISTS catalog_tags (
			record_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (record_id, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_tags_user_tag ON catalog_tags(user_id, tag)`,
	}
	for _, stmt := range schema {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("warm schema init failed: %w", err)
		}
	}
	return nil
}

// PutRecord stores a full document in the warm tier.
func (w *WarmTier) PutRecord(r *record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", r.ID, err)
	}
	_, err = w.db.Exec(
		`INSERT INTO records (id, user_id, document, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		 document = excluded.document,
		 updated_at = CURRENT_TIMESTAMP`,
		r.ID, r.UserID, string(doc),
	)
	return err
}

// GetRecord fetches a full document from the warm tier.
func (w *WarmTier) GetRecord(id string) (*record.Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var doc string
	err := w.db.QueryRow("SELECT document FROM records WHERE id = ?", id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var r record.Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("corrupt warm document %s: %w", id, err)
	}
	return &r, nil
}

// DeleteRecord removes a full document from the warm tier.
func (w *WarmTier) DeleteRecord(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.Exec("DELETE FROM records WHERE id = ?", id)
	return err
}

// PutCatalog upserts the catalog row and tag index for a record.
func (w *WarmTier) PutCatalog(r *record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deleted := 0
	if r.Deleted {
		deleted = 1
	}
	_, err = tx.Exec(
		`INSERT INTO catalog (id, user_id, timestamp_epoch, source, influence, attention, quality, tier, deleted, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 influence = excluded.influence,
		 attention = excluded.attention,
		 quality = excluded.quality,
		 tier = excluded.tier,
		 deleted = excluded.deleted,
		 content_hash = excluded.content_hash`,
		r.ID, r.UserID, r.Timestamp.Unix(), r.Source, r.Influence, r.Attention, r.Quality, string(r.Tier), deleted, r.ContentHash(),
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM catalog_tags WHERE record_id = ?", r.ID); err != nil {
		return err
	}
	for _, tag := range r.AllTags() {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO catalog_tags (record_id, user_id, tag) VALUES (?, ?, ?)",
			r.ID, r.UserID, tag,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteCatalog removes the catalog row and tag entries.
func (w *WarmTier) DeleteCatalog(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM catalog WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM catalog_tags WHERE record_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CatalogDate returns the event date (YYYY-MM-DD) for a record id, used as
// the cold shard hint.
func (w *WarmTier) CatalogDate(id string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var epoch int64
	err := w.db.QueryRow("SELECT timestamp_epoch FROM catalog WHERE id = ?", id).Scan(&epoch)
	if err != nil {
		return "", err
	}
	return time.Unix(epoch, 0).UTC().Format("2006-01-02"), nil
}

// QueryCatalog resolves a filter to record ids, influence descending then
// newest first.
func (w *WarmTier) QueryCatalog(f QueryFilter) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var (
		conds []string
		args  []interface{}
	)
	query := "SELECT DISTINCT c.id, c.influence, c.timestamp_epoch FROM catalog c"
	if len(f.Tags) > 0 {
		query += " JOIN catalog_tags ct ON ct.record_id = c.id"
		placeholders := strings.Repeat("?,", len(f.Tags))
		conds = append(conds, fmt.Sprintf("ct.tag IN (%s)", placeholders[:len(placeholders)-1]))
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}
	conds = append(conds, "c.user_id = ?")
	args = append(args, f.UserID)
	if !f.IncludeDeleted {
		conds = append(conds, "c.deleted = 0")
	}
	if f.MinInfluence > 0 {
		conds = append(conds, "c.influence >= ?")
		args = append(args, f.MinInfluence)
	}
	if len(f.Sources) > 0 {
		placeholders := strings.Repeat("?,", len(f.Sources))
		conds = append(conds, fmt.Sprintf("c.source IN (%s)", placeholders[:len(placeholders)-1]))
		for _, s := range f.Sources {
			args = append(args, s)
		}
	}
	if !f.From.IsZero() {
		conds = append(conds, "c.timestamp_epoch >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		conds = append(conds, "c.timestamp_epoch <= ?")
		args = append(args, f.To.Unix())
	}

	query += " WHERE " + strings.Join(conds, " AND ") + " ORDER BY c.influence DESC, c.timestamp_epoch DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := w.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var influence float64
		var epoch int64
		if err := rows.Scan(&id, &influence, &epoch); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CatalogTiers returns id, tier, influence and timestamp for every live
// record; the migration pass walks this.
func (w *WarmTier) CatalogTiers() ([]CatalogRow, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rows, err := w.db.Query(
		"SELECT id, user_id, timestamp_epoch, influence, tier FROM catalog WHERE deleted = 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogRow
	for rows.Next() {
		var row CatalogRow
		var epoch int64
		var tier string
		if err := rows.Scan(&row.ID, &row.UserID, &epoch, &row.Influence, &tier); err != nil {
			continue
		}
		row.Timestamp = time.Unix(epoch, 0).UTC()
		row.Tier = record.Tier(tier)
		out = append(out, row)
	}
	return out, rows.Err()
}

// CatalogStats counts records per tier.
func (w *WarmTier) CatalogStats() (Stats, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var s Stats
	rows, err := w.db.Query("SELECT tier, deleted, COUNT(*) FROM catalog GROUP BY tier, deleted")
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var deleted, count int
		if err := rows.Scan(&tier, &deleted, &count); err != nil {
			continue
		}
		if deleted == 1 {
			s.Deleted += count
			continue
		}
		s.Total += count
		switch record.Tier(tier) {
		case record.TierHot:
			s.Hot += count
		case record.TierWarm:
			s.Warm += count
		case record.TierCold:
			s.Cold += count
		}
	}
	return s, rows.Err()
}

// DB exposes the handle for components that share the warm database file
// (the index layer attaches its FTS and vector tables to the same store).
func (w *WarmTier) DB() *sql.DB { return w.db }

// Close closes the database.
func (w *WarmTier) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Close()
}
