// Package index maintains the vector, full-text, and composite search
// indexes over a user's corpus and runs multi-strategy retrieval with
// score fusion. Index maintenance is optional per config; when a strategy's
// index is disabled or failing, search degrades to the remaining strategies
// and flags the result.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mnemos/internal/embedding"
	"mnemos/internal/logging"
	"mnemos/internal/record"
	"mnemos/internal/store"
)

// ErrIndexUnavailable marks a strategy that could not run.
var ErrIndexUnavailable = errors.New("index: strategy unavailable")

// Config controls which indexes are maintained.
type Config struct {
	EnableVector   bool
	EnableFulltext bool
	RetryMax       int
	RetryBase      time.Duration
	SourcePref     float64 // default per-source preference when no profile exists
}

// Manager owns the index tables. It shares the warm tier's SQLite database
// so index rows commit alongside catalog rows.
type Manager struct {
	db     *sql.DB
	tiered *store.Tiered
	engine embedding.Engine
	cfg    Config

	vectorExt bool // sqlite-vec virtual table available
	vectorDim int
}

// NewManager prepares the index tables. engine may be nil; the vector
// strategy is then disabled regardless of config.
func NewManager(warm *store.WarmTier, tiered *store.Tiered, engine embedding.Engine, cfg Config) (*Manager, error) {
	m := &Manager{
		db:     warm.DB(),
		tiered: tiered,
		engine: engine,
		cfg:    cfg,
	}
	if cfg.RetryMax <= 0 {
		m.cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		m.cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.SourcePref <= 0 {
		m.cfg.SourcePref = 0.5
	}

	if cfg.EnableFulltext {
		if err := m.initFulltext(); err != nil {
			logging.Get(logging.CategoryIndex).Warn("Fulltext index unavailable: %v", err)
			m.cfg.EnableFulltext = false
		}
	}
	if cfg.EnableVector && engine != nil {
		m.initVector(engine.Dimensions())
	} else {
		m.cfg.EnableVector = false
	}

	logging.Index("Index manager ready: vector=%v (ann=%v) fulltext=%v",
		m.cfg.EnableVector, m.vectorExt, m.cfg.EnableFulltext)
	return m, nil
}

// VectorEnabled reports whether the semantic strategy can run.
func (m *Manager) VectorEnabled() bool { return m.cfg.EnableVector }

// FulltextEnabled reports whether the text strategy can run.
func (m *Manager) FulltextEnabled() bool { return m.cfg.EnableFulltext }

// IndexRecord updates every enabled index for the record. Failures are
// retried with bounded exponential backoff; a record that still fails is
// reported so the caller can surface a warning, but ingestion does not
// block on it.
func (m *Manager) IndexRecord(ctx context.Context, r *record.Record) error {
	timer := logging.StartTimer(logging.CategoryIndex, "IndexRecord")
	defer timer.Stop()

	var errs []error
	if m.cfg.EnableFulltext {
		if err := m.withRetry(ctx, func() error { return m.indexFulltext(r) }); err != nil {
			errs = append(errs, fmt.Errorf("fulltext: %w", err))
		}
	}
	if m.cfg.EnableVector && len(r.Embedding) > 0 {
		if err := m.withRetry(ctx, func() error { return m.indexVector(r) }); err != nil {
			errs = append(errs, fmt.Errorf("vector: %w", err))
		}
	}
	if len(errs) > 0 {
		logging.Get(logging.CategoryIndex).Warn("Index maintenance degraded for %s: %v", r.ID, errs)
		return errors.Join(errs...)
	}
	return nil
}

// RemoveRecord drops the record from every index.
func (m *Manager) RemoveRecord(r *record.Record) {
	if m.cfg.EnableFulltext {
		if _, err := m.db.Exec("DELETE FROM fulltext WHERE record_id = ?", r.ID); err != nil {
			logging.Get(logging.CategoryIndex).Warn("Fulltext removal failed for %s: %v", r.ID, err)
		}
	}
	if m.cfg.EnableVector {
		m.removeVector(r.ID)
	}
}

func (m *Manager) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := m.cfg.RetryBase
	for attempt := 0; attempt < m.cfg.RetryMax; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
