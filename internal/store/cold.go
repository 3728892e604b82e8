package store

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// ColdTier stores records as gzip-compressed JSON shards grouped by
// (user_id, date), with a sidecar index per date enumerating ids:
//
//	<root>/data/<user_id>/<YYYY-MM-DD>.json.gz
//	<root>/index/<user_id>/<YYYY-MM-DD>.json
type ColdTier struct {
	root string
	mu   sync.Mutex
}

type coldIndex struct {
	Shard string   `json:"shard"`
	IDs   []string `json:"ids"`
}

// NewColdTier prepares the shard root.
func NewColdTier(root string) (*ColdTier, error) {
	for _, dir := range []string{filepath.Join(root, "data"), filepath.Join(root, "index")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cold directory %s: %w", dir, err)
		}
	}
	logging.Store("Cold tier ready at %s", root)
	return &ColdTier{root: root}, nil
}

func (c *ColdTier) shardPath(userID, date string) string {
	return filepath.Join(c.root, "data", userID, date+".json.gz")
}

func (c *ColdTier) indexPath(userID, date string) string {
	return filepath.Join(c.root, "index", userID, date+".json")
}

// Put appends or replaces a record in its date shard. Shards are rewritten
// whole on every call; the migration pass moves records one Put at a time.
func (c *ColdTier) Put(r *record.Record) error {
	timer := logging.StartTimer(logging.CategoryStore, "Cold.Put")
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	date := r.Timestamp.UTC().Format("2006-01-02")
	records, err := c.readShard(r.UserID, date)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	replaced := false
	for i, existing := range records {
		if existing.ID == r.ID {
			records[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, r)
	}
	return c.writeShard(r.UserID, date, records)
}

// PutBatch writes a group of records for one user, grouped by date shard.
func (c *ColdTier) PutBatch(userID string, batch []*record.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byDate := make(map[string][]*record.Record)
	for _, r := range batch {
		date := r.Timestamp.UTC().Format("2006-01-02")
		byDate[date] = append(byDate[date], r)
	}
	for date, additions := range byDate {
		records, err := c.readShard(userID, date)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		existing := make(map[string]int, len(records))
		for i, r := range records {
			existing[r.ID] = i
		}
		for _, r := range additions {
			if i, ok := existing[r.ID]; ok {
				records[i] = r
			} else {
				records = append(records, r)
			}
		}
		if err := c.writeShard(userID, date, records); err != nil {
			return err
		}
	}
	return nil
}

// Get fetches a record, using the date hint when provided, otherwise
// scanning the user's shards newest first.
func (c *ColdTier) Get(id, userID, dateHint string) (*record.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dateHint != "" {
		if r, err := c.getFromDate(id, userID, dateHint); err == nil {
			return r, nil
		}
	}

	dates, err := c.userDates(userID)
	if err != nil {
		return nil, ErrNotFound
	}
	for _, date := range dates {
		if date == dateHint {
			continue
		}
		if r, err := c.getFromDate(id, userID, date); err == nil {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (c *ColdTier) getFromDate(id, userID, date string) (*record.Record, error) {
	idx, err := c.readIndex(userID, date)
	if err == nil {
		found := false
		for _, known := range idx.IDs {
			if known == id {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrNotFound
		}
	}
	records, err := c.readShard(userID, date)
	if err != nil {
		return nil, ErrNotFound
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// QueryByDateRange enumerates ids in shards between two dates (inclusive).
func (c *ColdTier) QueryByDateRange(userID string, from, to time.Time) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dates, err := c.userDates(userID)
	if err != nil {
		return nil, nil
	}
	fromStr := from.UTC().Format("2006-01-02")
	toStr := to.UTC().Format("2006-01-02")

	var ids []string
	for _, date := range dates {
		if date < fromStr || date > toStr {
			continue
		}
		idx, err := c.readIndex(userID, date)
		if err != nil {
			continue
		}
		ids = append(ids, idx.IDs...)
	}
	return ids, nil
}

// Delete removes a record from its shard. The shard is rewritten without it.
func (c *ColdTier) Delete(id, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dates, err := c.userDates(userID)
	if err != nil {
		return nil
	}
	for _, date := range dates {
		records, err := c.readShard(userID, date)
		if err != nil {
			continue
		}
		kept := records[:0]
		removed := false
		for _, r := range records {
			if r.ID == id {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		if removed {
			return c.writeShard(userID, date, kept)
		}
	}
	return nil
}

func (c *ColdTier) userDates(userID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, "index", userID))
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			dates = append(dates, name[:len(name)-len(".json")])
		}
	}
	// Newest first: recent cold records are the likelier lookups.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func (c *ColdTier) readShard(userID, date string) ([]*record.Record, error) {
	f, err := os.Open(c.shardPath(userID, date))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var records []*record.Record
	if err := json.NewDecoder(gz).Decode(&records); err != nil {
		return nil, fmt.Errorf("corrupt cold shard %s/%s: %w", userID, date, err)
	}
	return records, nil
}

func (c *ColdTier) writeShard(userID, date string, records []*record.Record) error {
	if len(records) == 0 {
		os.Remove(c.shardPath(userID, date))
		os.Remove(c.indexPath(userID, date))
		return nil
	}

	dataDir := filepath.Join(c.root, "data", userID)
	indexDir := filepath.Join(c.root, "index", userID)
	for _, dir := range []string{dataDir, indexDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	// Shard first, sidecar second; a missing sidecar only costs a scan.
	tmp := c.shardPath(userID, date) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.shardPath(userID, date)); err != nil {
		return err
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	idx := coldIndex{Shard: c.shardPath(userID, date), IDs: ids}
	raw, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return os.WriteFile(c.indexPath(userID, date), raw, 0644)
}

func (c *ColdTier) readIndex(userID, date string) (*coldIndex, error) {
	raw, err := os.ReadFile(c.indexPath(userID, date))
	if err != nil {
		return nil, err
	}
	var idx coldIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}
