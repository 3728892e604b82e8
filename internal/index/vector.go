package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"mnemos/internal/embedding"
	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// initVector prepares vector storage. When the sqlite-vec extension is
// available a vec0 virtual table serves ANN queries; otherwise embeddings
// live in a plain table as JSON and queries fall back to a cosine scan over
// the user's rows.
func (m *Manager) initVector(dim int) {
	m.vectorDim = dim

	probe := "CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"
	if _, err := m.db.Exec(probe); err == nil {
		_, _ = m.db.Exec("DROP TABLE IF EXISTS vec_probe")
		stmt := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(embedding float[%d], record_id TEXT, user_id TEXT)", dim)
		if _, err := m.db.Exec(stmt); err == nil {
			m.vectorExt = true
			logging.Index("sqlite-vec ANN index initialized (dimensions=%d)", dim)
		} else {
			logging.Get(logging.CategoryIndex).Warn("Failed to create vec_records: %v", err)
		}
	}

	// JSON fallback table is always maintained: it also serves as the
	// rebuild source if the ANN index needs recreating.
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		record_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		embedding TEXT NOT NULL
	)`)
	if err != nil {
		logging.Get(logging.CategoryIndex).Warn("Failed to create vectors table: %v", err)
		m.cfg.EnableVector = false
		return
	}
	if !m.vectorExt {
		logging.Get(logging.CategoryIndex).Warn("sqlite-vec unavailable; vector search uses cosine scan")
	}
}

func (m *Manager) indexVector(r *record.Record) error {
	if len(r.Embedding) != m.vectorDim {
		return fmt.Errorf("embedding dimension %d does not match corpus dimension %d", len(r.Embedding), m.vectorDim)
	}

	raw, err := json.Marshal(r.Embedding)
	if err != nil {
		return err
	}
	if _, err := m.db.Exec(
		`INSERT INTO vectors (record_id, user_id, embedding) VALUES (?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET embedding = excluded.embedding`,
		r.ID, r.UserID, string(raw),
	); err != nil {
		return err
	}

	if m.vectorExt {
		blob := encodeFloat32Slice(r.Embedding)
		if _, err := m.db.Exec("DELETE FROM vec_records WHERE record_id = ?", r.ID); err != nil {
			return err
		}
		if _, err := m.db.Exec(
			"INSERT INTO vec_records (embedding, record_id, user_id) VALUES (?, ?, ?)",
			blob, r.ID, r.UserID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removeVector(id string) {
	if _, err := m.db.Exec("DELETE FROM vectors WHERE record_id = ?", id); err != nil {
		logging.Get(logging.CategoryIndex).Warn("Vector removal failed for %s: %v", id, err)
	}
	if m.vectorExt {
		if _, err := m.db.Exec("DELETE FROM vec_records WHERE record_id = ?", id); err != nil {
			logging.Get(logging.CategoryIndex).Warn("ANN removal failed for %s: %v", id, err)
		}
	}
}

// minSemanticSimilarity keeps unrelated neighbors out of the candidate
// union; k-nearest over a small corpus would otherwise return everything.
const minSemanticSimilarity = 0.1

// semanticSearch returns (record id, similarity) pairs for the k nearest
// vectors in the user's corpus.
func (m *Manager) semanticSearch(ctx context.Context, userID string, query []float32, k int) ([]scoredID, error) {
	if !m.cfg.EnableVector {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		k = 10
	}

	if m.vectorExt {
		return m.annSearch(ctx, userID, query, k)
	}
	return m.cosineScan(ctx, userID, query, k)
}

func (m *Manager) annSearch(ctx context.Context, userID string, query []float32, k int) ([]scoredID, error) {
	blob := encodeFloat32Slice(query)
	rows, err := m.db.QueryContext(ctx, `
		SELECT record_id, vec_distance_cosine(embedding, ?) AS distance
		FROM vec_records
		WHERE user_id = ?
		ORDER BY distance ASC
		LIMIT ?`,
		blob, userID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var out []scoredID
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			continue
		}
		if sim := 1 - distance; sim >= minSemanticSimilarity {
			out = append(out, scoredID{ID: id, Score: sim})
		}
	}
	return out, rows.Err()
}

func (m *Manager) cosineScan(ctx context.Context, userID string, query []float32, k int) ([]scoredID, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT record_id, embedding FROM vectors WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var out []scoredID
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		if sim := embedding.CosineSimilarity(query, vec); sim >= minSemanticSimilarity {
			out = append(out, scoredID{ID: id, Score: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, rows.Err()
}

// encodeFloat32Slice encodes a vector as the little-endian blob sqlite-vec
// expects.
func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}
