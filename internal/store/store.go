// Package store implements the tiered record store: a Redis hot tier for
// influential and fresh records, a SQLite warm tier that doubles as the
// catalog of every record, and compressed cold shards for the long tail.
// Reads probe hot -> warm -> cold and return the first hit.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/metrics"
	"mnemos/internal/record"
)

// ErrNotFound is returned when a record does not exist or is soft-deleted
// and the caller did not ask for deleted records.
var ErrNotFound = errors.New("store: record not found")

// ErrTierUnavailable is returned when the authoritative tier for a write
// cannot be reached. Writes fail closed.
var ErrTierUnavailable = errors.New("store: authoritative tier unavailable")

// Config carries the tier thresholds and cache tuning.
type Config struct {
	Policy        record.TierPolicy
	HotTTL        time.Duration
	HotCapacity   int
	CacheTTL      time.Duration
	CacheCapacity int
}

// QueryFilter selects records from the catalog. Zero values mean "any".
type QueryFilter struct {
	UserID         string
	MinInfluence   float64
	Sources        []string
	Tags           []string
	From, To       time.Time
	Limit          int
	IncludeDeleted bool
}

// Stats reports per-tier record counts.
type Stats struct {
	Total     int `json:"total"`
	Hot       int `json:"hot"`
	Warm      int `json:"warm"`
	Cold      int `json:"cold"`
	Deleted   int `json:"deleted"`
	CacheHits int `json:"cache_hits"`
}

// Tiered is the facade over the three tiers.
type Tiered struct {
	hot    *HotTier
	warm   *WarmTier
	cold   *ColdTier
	cache  *recordCache
	policy record.TierPolicy
	hits   int
}

// NewTiered wires the tiers together. hot may be nil (degraded mode: warm
// becomes authoritative for hot-routed records).
func NewTiered(hot *HotTier, warm *WarmTier, cold *ColdTier, cfg Config) *Tiered {
	return &Tiered{
		hot:    hot,
		warm:   warm,
		cold:   cold,
		cache:  newRecordCache(cfg.CacheCapacity, cfg.CacheTTL),
		policy: cfg.Policy,
	}
}

// Policy exposes the routing thresholds in use.
func (t *Tiered) Policy() record.TierPolicy { return t.policy }

// Put stores a record in the tier named by its Tier field, which the caller
// routes from influence and age. Idempotent by id: a re-put replaces the
// stored document. The write must land in the authoritative tier to succeed;
// catalog maintenance failures are logged, and a missing catalog row is not
// rebuilt afterwards.
func (t *Tiered) Put(ctx context.Context, r *record.Record) error {
	timer := logging.StartTimer(logging.CategoryStore, "Put")
	defer timer.Stop()

	if r.ID == "" || r.UserID == "" {
		return fmt.Errorf("store: record missing id or user_id")
	}

	var authoritative error
	switch r.Tier {
	case record.TierHot:
		if t.hot != nil {
			authoritative = t.hot.Put(ctx, r)
		} else {
			authoritative = t.warm.PutRecord(r)
		}
	case record.TierWarm:
		authoritative = t.warm.PutRecord(r)
	case record.TierCold:
		authoritative = t.cold.Put(r)
	default:
		return fmt.Errorf("store: record %s has no tier assigned", r.ID)
	}
	if authoritative != nil {
		logging.StoreError("Authoritative write failed for %s (tier=%s): %v", r.ID, r.Tier, authoritative)
		return fmt.Errorf("%w: %v", ErrTierUnavailable, authoritative)
	}

	if err := t.warm.PutCatalog(r); err != nil {
		// Catalog lag is tolerated; retrieval still finds the record in its
		// tier by id, while filters and migration sweeps see only what the
		// catalog last recorded for it.
		logging.StoreWarn("Catalog write failed for %s: %v", r.ID, err)
	}

	t.cache.put(r)
	metrics.RecordsStored.WithLabelValues(string(r.Tier)).Inc()
	logging.StoreDebug("Stored %s user=%s tier=%s influence=%.2f", r.ID, r.UserID, r.Tier, r.Influence)
	return nil
}

// Get fetches a record by id for the user, probing cache, hot, warm, then
// cold. Soft-deleted records are reported as not found.
func (t *Tiered) Get(ctx context.Context, id, userID string) (*record.Record, error) {
	r, err := t.getAny(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, ErrNotFound
	}
	return r, nil
}

// GetIncludingDeleted fetches a record even if soft-deleted. The write
// executor and the revival path need the tombstone.
func (t *Tiered) GetIncludingDeleted(ctx context.Context, id, userID string) (*record.Record, error) {
	return t.getAny(ctx, id, userID)
}

func (t *Tiered) getAny(ctx context.Context, id, userID string) (*record.Record, error) {
	if r, ok := t.cache.get(id); ok && r.UserID == userID {
		t.hits++
		return r, nil
	}

	if t.hot != nil {
		if r, err := t.hot.Get(ctx, id); err == nil {
			if r.UserID != userID {
				return nil, ErrNotFound
			}
			t.cache.put(r)
			return r, nil
		}
	}

	if r, err := t.warm.GetRecord(id); err == nil {
		if r.UserID != userID {
			return nil, ErrNotFound
		}
		t.cache.put(r)
		return r, nil
	}

	// Cold probe uses the catalog date hint when available.
	dateHint, _ := t.warm.CatalogDate(id)
	if r, err := t.cold.Get(id, userID, dateHint); err == nil {
		t.cache.put(r)
		return r, nil
	}

	return nil, ErrNotFound
}

// QueryByFilter returns matching record ids ordered by influence descending.
// degraded is true when the catalog was unreachable and only the hot tier
// could be consulted.
func (t *Tiered) QueryByFilter(ctx context.Context, f QueryFilter) (ids []string, degraded bool, err error) {
	ids, err = t.warm.QueryCatalog(f)
	if err == nil {
		return ids, false, nil
	}
	logging.StoreWarn("Catalog query failed, falling back to hot tier: %v", err)
	if t.hot == nil {
		return nil, true, err
	}
	ids, hotErr := t.hot.QueryByUserWeight(ctx, f.UserID, f.Limit, f.MinInfluence)
	if hotErr != nil {
		return nil, true, errors.Join(err, hotErr)
	}
	return ids, true, nil
}

// QueryByTimeRange returns ids of the user's records in [from, to], ordered
// by influence descending, then newest first.
func (t *Tiered) QueryByTimeRange(ctx context.Context, userID string, from, to time.Time) ([]string, bool, error) {
	return t.QueryByFilter(ctx, QueryFilter{UserID: userID, From: from, To: to})
}

// Fetch resolves ids to records, skipping any that have vanished or been
// soft-deleted between query and fetch.
func (t *Tiered) Fetch(ctx context.Context, userID string, ids []string) []*record.Record {
	out := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		if r, err := t.Get(ctx, id, userID); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// HistoryWindow returns the user's records from the last `days` days,
// excluding the given id, for attention scoring.
func (t *Tiered) HistoryWindow(ctx context.Context, userID, excludeID string, days int) []*record.Record {
	now := time.Now().UTC()
	ids, _, err := t.QueryByTimeRange(ctx, userID, now.AddDate(0, 0, -days), now)
	if err != nil {
		logging.StoreWarn("History window query failed for %s: %v", userID, err)
		return nil
	}
	records := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		if r, err := t.Get(ctx, id, userID); err == nil {
			records = append(records, r)
		}
	}
	return records
}

// SoftDelete marks a record deleted. The document is retained for audit and
// hidden from retrieval and profile updates.
func (t *Tiered) SoftDelete(ctx context.Context, id, userID string) error {
	r, err := t.getAny(ctx, id, userID)
	if err != nil {
		return err
	}
	if r.Deleted {
		return nil
	}
	now := time.Now().UTC()
	r = r.Clone()
	r.Deleted = true
	r.DeletedAt = &now
	r.UpdatedAt = now
	if err := t.rewriteInPlace(ctx, r); err != nil {
		return err
	}
	t.cache.put(r)
	logging.Store("Soft-deleted %s for user %s", id, userID)
	return nil
}

// HardDelete removes a record from every tier and the catalog.
func (t *Tiered) HardDelete(ctx context.Context, id, userID string) error {
	r, err := t.getAny(ctx, id, userID)
	if err != nil {
		return err
	}
	if t.hot != nil {
		if err := t.hot.Delete(ctx, r); err != nil {
			logging.StoreWarn("Hot delete failed for %s: %v", id, err)
		}
	}
	if err := t.warm.DeleteRecord(id); err != nil {
		return err
	}
	if err := t.cold.Delete(id, userID); err != nil {
		logging.StoreWarn("Cold delete failed for %s: %v", id, err)
	}
	if err := t.warm.DeleteCatalog(id); err != nil {
		logging.StoreWarn("Catalog delete failed for %s: %v", id, err)
	}
	t.cache.drop(id)
	logging.Store("Hard-deleted %s for user %s", id, userID)
	return nil
}

// Update rewrites a record in place, re-routing tiers when influence or age
// moved it across a boundary.
func (t *Tiered) Update(ctx context.Context, r *record.Record) error {
	prevTier := r.Tier
	t.policy.Route(r, time.Now().UTC())
	if r.Tier != prevTier {
		return t.moveTier(ctx, r, prevTier)
	}
	return t.rewriteInPlace(ctx, r)
}

func (t *Tiered) rewriteInPlace(ctx context.Context, r *record.Record) error {
	switch r.Tier {
	case record.TierHot:
		if t.hot != nil {
			if err := t.hot.Put(ctx, r); err != nil {
				return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
			}
		} else if err := t.warm.PutRecord(r); err != nil {
			return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
		}
	case record.TierWarm:
		if err := t.warm.PutRecord(r); err != nil {
			return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
		}
	case record.TierCold:
		if err := t.cold.Put(r); err != nil {
			return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
		}
	}
	if err := t.warm.PutCatalog(r); err != nil {
		logging.StoreWarn("Catalog rewrite failed for %s: %v", r.ID, err)
	}
	t.cache.put(r)
	return nil
}

func (t *Tiered) moveTier(ctx context.Context, r *record.Record, prev record.Tier) error {
	if err := t.rewriteInPlace(ctx, r); err != nil {
		return err
	}
	// Remove the stale copy from the previous tier after the new tier holds
	// the document.
	switch prev {
	case record.TierHot:
		if t.hot != nil {
			if err := t.hot.Delete(ctx, r); err != nil {
				logging.StoreWarn("Stale hot copy removal failed for %s: %v", r.ID, err)
			}
		}
	case record.TierWarm:
		if r.Tier != record.TierWarm {
			if err := t.warm.DeleteRecord(r.ID); err != nil {
				logging.StoreWarn("Stale warm copy removal failed for %s: %v", r.ID, err)
			}
		}
	case record.TierCold:
		if err := t.cold.Delete(r.ID, r.UserID); err != nil {
			logging.StoreWarn("Stale cold copy removal failed for %s: %v", r.ID, err)
		}
	}
	metrics.TierMigrations.WithLabelValues(string(prev), string(r.Tier)).Inc()
	logging.Store("Migrated %s: %s -> %s", r.ID, prev, r.Tier)
	return nil
}

// Migrate re-evaluates tier placement for every live record whose age moved
// it across a boundary. Returns the number of records moved. Immediately
// after a correct write it is a no-op for that record.
func (t *Tiered) Migrate(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryMaintenance, "Migrate")
	defer timer.Stop()

	rows, err := t.warm.CatalogTiers()
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	moved := 0
	for _, row := range rows {
		want := t.policy.TierFor(row.Influence, int(now.Sub(row.Timestamp).Hours()/24))
		if want == row.Tier {
			continue
		}
		r, err := t.getAny(ctx, row.ID, row.UserID)
		if err != nil {
			continue
		}
		prev := r.Tier
		r = r.Clone()
		r.Tier = want
		if err := t.moveTier(ctx, r, prev); err != nil {
			logging.StoreWarn("Migration failed for %s: %v", row.ID, err)
			continue
		}
		moved++
	}
	if moved > 0 {
		logging.Maintenance("Tier migration moved %d records", moved)
	}
	return moved, nil
}

// Stats reports tier counts from the catalog.
func (t *Tiered) Stats() (Stats, error) {
	s, err := t.warm.CatalogStats()
	if err != nil {
		return Stats{}, err
	}
	s.CacheHits = t.hits
	return s, nil
}

// Close releases tier resources.
func (t *Tiered) Close() error {
	var errs []error
	if t.hot != nil {
		errs = append(errs, t.hot.Close())
	}
	errs = append(errs, t.warm.Close())
	return errors.Join(errs...)
}
