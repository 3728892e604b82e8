package profile

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"mnemos/internal/intent"
	"mnemos/internal/logging"
)

// Store persists profiles in SQLite: one row per component, with archived
// components moved to a separate table rather than deleted.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (creating if needed) the profile database at path. Use
// ":memory:" in tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryProfile, "NewStore")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.ProfileDebug("Failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.ProfileDebug("Failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Profile("Profile store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS components (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			embedding TEXT,
			confidence REAL NOT NULL,
			total_attention REAL NOT NULL,
			normalized_weight REAL NOT NULL,
			priority TEXT NOT NULL,
			activation_threshold REAL NOT NULL,
			evidence TEXT NOT NULL,
			source_apps TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_activated_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_components_user ON components(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_components_user_kind ON components(user_id, kind)`,
		`CREATE TABLE IF NOT EXISTS archived_components (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			document TEXT NOT NULL,
			archived_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_user ON archived_components(user_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("profile schema init failed: %w", err)
		}
	}
	return nil
}

// Load reads the user's profile. A user with no components gets an empty
// profile, not an error.
func (s *Store) Load(userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, kind, description, embedding, confidence, total_attention,
		       normalized_weight, priority, activation_threshold, evidence,
		       source_apps, created_at, updated_at, last_activated_at
		FROM components WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := &Profile{UserID: userID}
	for rows.Next() {
		c := &Component{UserID: userID}
		var embeddingJSON, evidenceJSON sql.NullString
		var sourceApps sql.NullString
		var kind, priority string
		var lastActivated sql.NullTime
		if err := rows.Scan(&c.ID, &kind, &c.Description, &embeddingJSON, &c.Confidence,
			&c.TotalAttention, &c.NormalizedWeight, &priority, &c.ActivationThreshold,
			&evidenceJSON, &sourceApps, &c.CreatedAt, &c.UpdatedAt, &lastActivated); err != nil {
			logging.Get(logging.CategoryProfile).Warn("Skipping corrupt component row: %v", err)
			continue
		}
		c.Kind = intent.Kind(kind)
		c.Priority = Priority(priority)
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			json.Unmarshal([]byte(embeddingJSON.String), &c.Embedding)
		}
		if evidenceJSON.Valid {
			json.Unmarshal([]byte(evidenceJSON.String), &c.Evidence)
		}
		if sourceApps.Valid && sourceApps.String != "" {
			json.Unmarshal([]byte(sourceApps.String), &c.SourceApps)
		}
		if lastActivated.Valid {
			t := lastActivated.Time
			c.LastActivatedAt = &t
		}
		p.Components = append(p.Components, c)
		if c.UpdatedAt.After(p.UpdatedAt) {
			p.UpdatedAt = c.UpdatedAt
		}
	}
	return p, rows.Err()
}

// Save writes the full component set for the profile's user in one
// transaction.
func (s *Store) Save(p *Profile) error {
	return s.save(p, nil)
}

// SaveWithArchive saves the profile and moves the given components into the
// archive table.
func (s *Store) SaveWithArchive(p *Profile, archived []*Component) error {
	return s.save(p, archived)
}

func (s *Store) save(p *Profile, archived []*Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Full rewrite of the user's live set keeps deletes and merges simple;
	// profiles are small (tens of components).
	if _, err := tx.Exec("DELETE FROM components WHERE user_id = ?", p.UserID); err != nil {
		return err
	}

	for _, c := range p.Components {
		embeddingJSON, _ := json.Marshal(c.Embedding)
		evidenceJSON, _ := json.Marshal(c.Evidence)
		sourceAppsJSON, _ := json.Marshal(c.SourceApps)
		var lastActivated interface{}
		if c.LastActivatedAt != nil {
			lastActivated = *c.LastActivatedAt
		}
		if _, err := tx.Exec(`
			INSERT INTO components (id, user_id, kind, description, embedding, confidence,
				total_attention, normalized_weight, priority, activation_threshold,
				evidence, source_apps, created_at, updated_at, last_activated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.UserID, string(c.Kind), c.Description, string(embeddingJSON), c.Confidence,
			c.TotalAttention, c.NormalizedWeight, string(c.Priority), c.ActivationThreshold,
			string(evidenceJSON), string(sourceAppsJSON), c.CreatedAt, c.UpdatedAt, lastActivated,
		); err != nil {
			return err
		}
	}

	for _, c := range archived {
		doc, _ := json.Marshal(c)
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO archived_components (id, user_id, kind, document)
			VALUES (?, ?, ?, ?)`,
			c.ID, c.UserID, string(c.Kind), string(doc),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteComponent removes a component from the archive as well; used by
// user-initiated permanent deletion.
func (s *Store) DeleteComponent(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM archived_components WHERE id = ?", componentID); err != nil {
		logging.Get(logging.CategoryProfile).Warn("Archive delete failed for %s: %v", componentID, err)
	}
}

// ArchivedCount reports how many components a user has archived.
func (s *Store) ArchivedCount(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM archived_components WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
