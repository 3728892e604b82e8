package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/embedding"
	"mnemos/internal/record"
	"mnemos/internal/store"
)

func newTestIndex(t *testing.T, cfg Config) (*Manager, *store.Tiered) {
	t.Helper()

	warm, err := store.NewWarmTier(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { warm.Close() })

	cold, err := store.NewColdTier(t.TempDir())
	require.NoError(t, err)

	tiered := store.NewTiered(nil, warm, cold, store.Config{Policy: record.DefaultTierPolicy()})

	var engine embedding.Engine
	if cfg.EnableVector {
		engine = embedding.NewLocalEngine(64)
	}
	m, err := NewManager(warm, tiered, engine, cfg)
	require.NoError(t, err)
	return m, tiered
}

func seedRecord(t *testing.T, tiered *store.Tiered, m *Manager, id, highlight, note string, influence float64, daysAgo int) *record.Record {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	r := &record.Record{
		ID:        id,
		UserID:    "user-1",
		Timestamp: now.AddDate(0, 0, -daysAgo),
		Source:    "browser_extension",
		Highlight: highlight,
		Note:      note,
		Quality:   0.6,
		Attention: 0.5,
		Influence: influence,
		Tier:      record.TierWarm,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.VectorEnabled() {
		vec, err := m.engine.Embed(ctx, highlight+" "+note)
		require.NoError(t, err)
		r.Embedding = vec
	}
	require.NoError(t, tiered.Put(ctx, r))
	require.NoError(t, m.IndexRecord(ctx, r))
	return r
}

func TestSearch_FulltextRanksMatches(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableFulltext: true})
	ctx := context.Background()

	seedRecord(t, tiered, m, "ml", "model validation techniques", "cross validation explained", 0.8, 1)
	seedRecord(t, tiered, m, "cook", "pasta recipes", "boil water first", 0.8, 1)

	resp, err := m.Search(ctx, Query{UserID: "user-1", QueryText: "validation", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ml", resp.Results[0].ID)
}

func TestSearch_VectorDisabledDegrades(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableFulltext: true})
	ctx := context.Background()

	seedRecord(t, tiered, m, "ml", "model validation techniques", "cross validation explained", 0.8, 1)

	resp, err := m.Search(ctx, Query{UserID: "user-1", QueryText: "validation", Limit: 10})
	require.NoError(t, err)
	assert.True(t, resp.Degraded, "missing vector strategy must flag the response")
	require.NotEmpty(t, resp.Results)
}

func TestSearch_SemanticFindsNearNeighbors(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableVector: true, EnableFulltext: true})
	ctx := context.Background()

	seedRecord(t, tiered, m, "ml", "machine learning validation", "model evaluation and cross validation", 0.8, 1)
	seedRecord(t, tiered, m, "cook", "pasta carbonara recipe", "eggs cheese guanciale", 0.4, 1)

	resp, err := m.Search(ctx, Query{UserID: "user-1", QueryText: "machine learning validation", Limit: 5})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ml", resp.Results[0].ID)
}

func TestSearch_SortedAndFloored(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableFulltext: true})
	ctx := context.Background()

	seedRecord(t, tiered, m, "a", "shared topic words", "", 0.9, 1)
	seedRecord(t, tiered, m, "b", "shared topic words", "", 0.4, 1)
	seedRecord(t, tiered, m, "c", "shared topic words", "", 0.1, 60)

	resp, err := m.Search(ctx, Query{UserID: "user-1", QueryText: "shared topic", Limit: 10, MinRelevance: 0.3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Relevance, resp.Results[i].Relevance)
	}
	for _, res := range resp.Results {
		assert.GreaterOrEqual(t, res.Relevance, 0.3)
	}
	assert.Equal(t, "a", resp.Results[0].ID)
}

func TestSearch_HighInfluenceStrategyWithoutQueryText(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableFulltext: true})
	ctx := context.Background()

	seedRecord(t, tiered, m, "strong", "something", "", 0.95, 1)
	seedRecord(t, tiered, m, "weak", "something", "", 0.10, 1)

	resp, err := m.Search(ctx, Query{UserID: "user-1", MinInfluence: 0.5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "strong", resp.Results[0].ID)
}

func TestSearch_RecentStrategy(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableFulltext: true})
	ctx := context.Background()

	seedRecord(t, tiered, m, "new", "fresh entry", "", 0.5, 0)
	seedRecord(t, tiered, m, "old", "stale entry", "", 0.5, 25)

	resp, err := m.Search(ctx, Query{
		UserID: "user-1",
		From:   time.Now().UTC().AddDate(0, 0, -3),
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "new", resp.Results[0].ID)
}

func TestSearch_SoftDeletedInvisible(t *testing.T) {
	m, tiered := newTestIndex(t, Config{EnableFulltext: true})
	ctx := context.Background()

	r := seedRecord(t, tiered, m, "gone", "disappearing act", "", 0.8, 1)
	require.NoError(t, tiered.SoftDelete(ctx, r.ID, "user-1"))
	m.RemoveRecord(r)

	resp, err := m.Search(ctx, Query{UserID: "user-1", QueryText: "disappearing", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestFTSQueryEscaping(t *testing.T) {
	assert.Equal(t, `"hello" OR "world"`, ftsQuery("hello world"))
	assert.Equal(t, "", ftsQuery("   "))
	assert.Equal(t, `"its"`, ftsQuery(`"its"`))
}
