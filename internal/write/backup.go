package write

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// BackupStore keeps pre-mutation snapshots as gzip JSON files under
// <root>/<user_id>/<operation_id>.json.gz, pruned after the retention
// window.
type BackupStore struct {
	root      string
	retention time.Duration
	mu        sync.Mutex
}

type backupDoc struct {
	OperationID string           `json:"operation_id"`
	UserID      string           `json:"user_id"`
	CreatedAt   time.Time        `json:"created_at"`
	Records     []*record.Record `json:"records"`
}

// NewBackupStore prepares the backup root.
func NewBackupStore(root string, retention time.Duration) (*BackupStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &BackupStore{root: root, retention: retention}, nil
}

func (b *BackupStore) path(userID, operationID string) string {
	return filepath.Join(b.root, userID, operationID+".json.gz")
}

// Save writes the snapshot durably before the mutation applies.
func (b *BackupStore) Save(operationID, userID string, records []*record.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Join(b.root, userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	doc := backupDoc{
		OperationID: operationID,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
		Records:     records,
	}

	path := b.path(userID, operationID)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logging.WriteDebug("Backup %s saved: %d records", operationID, len(records))
	return nil
}

// Load reads a snapshot back; NotFound surfaces as an error.
func (b *BackupStore) Load(operationID, userID string) ([]*record.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path(userID, operationID))
	if err != nil {
		return nil, fmt.Errorf("backup %s not found: %w", operationID, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var doc backupDoc
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return nil, fmt.Errorf("corrupt backup %s: %w", operationID, err)
	}
	return doc.Records, nil
}

// Exists reports whether a snapshot file is present. A snapshot past the
// retention window still counts until Prune removes it.
func (b *BackupStore) Exists(operationID, userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := os.Stat(b.path(userID, operationID))
	return err == nil
}

// Prune removes snapshots older than the retention window. Run by the
// maintenance worker. Returns the count removed.
func (b *BackupStore) Prune() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-b.retention)
	removed := 0
	err := filepath.Walk(b.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".json.gz") {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		logging.Maintenance("Backup pruning removed %d snapshots", removed)
	}
	return removed, err
}
