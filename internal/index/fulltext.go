package index

import (
	"context"
	"fmt"
	"strings"

	"mnemos/internal/record"
)

// initFulltext creates the FTS5 table over highlight and note.
func (m *Manager) initFulltext() error {
	_, err := m.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS fulltext USING fts5(
		record_id UNINDEXED,
		user_id UNINDEXED,
		highlight,
		note
	)`)
	return err
}

func (m *Manager) indexFulltext(r *record.Record) error {
	if _, err := m.db.Exec("DELETE FROM fulltext WHERE record_id = ?", r.ID); err != nil {
		return err
	}
	_, err := m.db.Exec(
		"INSERT INTO fulltext (record_id, user_id, highlight, note) VALUES (?, ?, ?, ?)",
		r.ID, r.UserID, r.Highlight, r.Note,
	)
	return err
}

// fulltextSearch runs a token match over highlight (2x weight) and note.
// Scores are normalized bm25 ranks mapped to (0,1].
func (m *Manager) fulltextSearch(ctx context.Context, userID, query string, k int) ([]scoredID, error) {
	if !m.cfg.EnableFulltext {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		k = 10
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	// bm25 returns lower-is-better; column weights double the highlight.
	rows, err := m.db.QueryContext(ctx, `
		SELECT record_id, bm25(fulltext, 0, 0, 2.0, 1.0) AS rank
		FROM fulltext
		WHERE fulltext MATCH ? AND user_id = ?
		ORDER BY rank ASC
		LIMIT ?`,
		match, userID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var out []scoredID
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			continue
		}
		// bm25 ranks are negative in fts5; closer to -inf is better.
		out = append(out, scoredID{ID: id, Score: 1.0 / (1.0 + (-rank))})
	}
	return out, rows.Err()
}

// ftsQuery escapes user text into an OR query of quoted tokens.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}
