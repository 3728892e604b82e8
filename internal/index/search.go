package index

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/metrics"
	"mnemos/internal/record"
	"mnemos/internal/store"
)

// Fusion weights for candidate ranking.
const (
	fusionInfluence  = 0.30
	fusionAttention  = 0.25
	fusionQuality    = 0.20
	fusionRecency    = 0.15
	fusionSourcePref = 0.10
)

// Query describes a multi-strategy search.
type Query struct {
	UserID       string
	QueryText    string
	QueryVector  []float32
	MinInfluence float64
	Sources      []string
	Tags         []string
	From, To     time.Time
	Limit        int
	MinRelevance float64

	// SourcePrefs is the per-user source preference lookup; missing
	// sources fall back to the configured default.
	SourcePrefs map[string]float64

	// Strategy toggles. Zero value runs everything available.
	SkipSemantic      bool
	SkipFulltext      bool
	SkipHighInfluence bool
	SkipRecent        bool
}

// Result is one ranked hit.
type Result struct {
	ID             string                 `json:"id"`
	Relevance      float64                `json:"relevance"`
	Tier           record.Tier            `json:"tier"`
	ContentSummary string                 `json:"content_summary"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// Response carries the ranked results and the degradation marker.
type Response struct {
	Results  []Result `json:"results"`
	Degraded bool     `json:"degraded"`
}

type scoredID struct {
	ID    string
	Score float64
}

// Search runs the enabled strategies, fuses the candidate union, and
// returns results at or above the relevance floor, sorted by relevance
// descending with influence then timestamp tiebreaks.
func (m *Manager) Search(ctx context.Context, q Query) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Search")
	defer timer.Stop()

	if q.Limit <= 0 {
		q.Limit = 10
	}
	candidateK := q.Limit * 3

	candidates := make(map[string]bool)
	degraded := false

	// Strategy 1: semantic k-nearest.
	if !q.SkipSemantic {
		vec := q.QueryVector
		if vec == nil && q.QueryText != "" && m.engine != nil {
			if embedded, err := m.engine.Embed(ctx, q.QueryText); err == nil {
				vec = embedded
			} else {
				logging.Get(logging.CategoryIndex).Warn("Query embedding failed: %v", err)
			}
		}
		if vec != nil {
			hits, err := m.semanticSearch(ctx, q.UserID, vec, candidateK)
			if err != nil {
				degraded = true
			}
			for _, h := range hits {
				candidates[h.ID] = true
			}
		} else if q.QueryText != "" || q.QueryVector != nil {
			degraded = true
		}
	}

	// Strategy 2: full-text token match.
	if !q.SkipFulltext && q.QueryText != "" {
		hits, err := m.fulltextSearch(ctx, q.UserID, q.QueryText, candidateK)
		if err != nil {
			degraded = true
		}
		for _, h := range hits {
			candidates[h.ID] = true
		}
	}

	// Strategy 3: high influence over the filter. Runs when the query
	// carries filter predicates, or as the fallback ranking when no other
	// strategy can contribute candidates.
	hasFilter := q.MinInfluence > 0 || len(q.Sources) > 0 || len(q.Tags) > 0
	noQuery := q.QueryText == "" && q.QueryVector == nil
	if !q.SkipHighInfluence && (hasFilter || noQuery) {
		ids, _, err := m.tiered.QueryByFilter(ctx, store.QueryFilter{
			UserID:       q.UserID,
			MinInfluence: q.MinInfluence,
			Sources:      q.Sources,
			Tags:         q.Tags,
			Limit:        candidateK,
		})
		if err == nil {
			for _, id := range ids {
				candidates[id] = true
			}
		}
	}

	// Strategy 4: recent by time range.
	if !q.SkipRecent && (!q.From.IsZero() || !q.To.IsZero()) {
		from, to := q.From, q.To
		if to.IsZero() {
			to = time.Now().UTC()
		}
		ids, _, err := m.tiered.QueryByTimeRange(ctx, q.UserID, from, to)
		if err == nil {
			for _, id := range ids {
				candidates[id] = true
			}
		}
	}

	results := m.fuse(ctx, q, candidates)
	metrics.SearchQueries.WithLabelValues(strconv.FormatBool(degraded)).Inc()
	logging.IndexDebug("Search user=%s candidates=%d results=%d degraded=%v",
		q.UserID, len(candidates), len(results), degraded)
	return &Response{Results: results, Degraded: degraded}, nil
}

// fuse scores the candidate union with the fixed fusion formula and applies
// the relevance floor, ordering, and limit.
func (m *Manager) fuse(ctx context.Context, q Query, candidates map[string]bool) []Result {
	now := time.Now().UTC()
	type fused struct {
		Result
		influence float64
		timestamp time.Time
	}
	var scored []fused

	for id := range candidates {
		r, err := m.tiered.Get(ctx, id, q.UserID)
		if err != nil {
			continue
		}
		if !matchesFilter(r, q) {
			continue
		}

		recency := math.Pow(0.95, float64(r.AgeDays(now)))
		if recency < 0.1 {
			recency = 0.1
		}
		pref, ok := q.SourcePrefs[r.Source]
		if !ok {
			pref = m.cfg.SourcePref
		}

		relevance := fusionInfluence*r.Influence +
			fusionAttention*r.Attention +
			fusionQuality*r.Quality +
			fusionRecency*recency +
			fusionSourcePref*pref

		if relevance < q.MinRelevance {
			continue
		}

		scored = append(scored, fused{
			Result: Result{
				ID:             id,
				Relevance:      relevance,
				Tier:           r.Tier,
				ContentSummary: summarize(r),
				Metadata: map[string]interface{}{
					"source":    r.Source,
					"timestamp": r.Timestamp.Format(time.RFC3339),
					"tags":      r.AllTags(),
					"quality":   r.Quality,
					"attention": r.Attention,
					"influence": r.Influence,
				},
			},
			influence: r.Influence,
			timestamp: r.Timestamp,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		if scored[i].influence != scored[j].influence {
			return scored[i].influence > scored[j].influence
		}
		return scored[i].timestamp.After(scored[j].timestamp)
	})

	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = s.Result
	}
	return out
}

// matchesFilter applies the query predicates to a candidate that arrived via
// a strategy that does not filter (semantic and fulltext hits).
func matchesFilter(r *record.Record, q Query) bool {
	if q.MinInfluence > 0 && r.Influence < q.MinInfluence {
		return false
	}
	if len(q.Sources) > 0 {
		ok := false
		for _, s := range q.Sources {
			if r.Source == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.Tags) > 0 {
		all := make(map[string]bool)
		for _, t := range r.AllTags() {
			all[t] = true
		}
		ok := false
		for _, t := range q.Tags {
			if all[t] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !q.From.IsZero() && r.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.Timestamp.After(q.To) {
		return false
	}
	return true
}

func summarize(r *record.Record) string {
	if r.Highlight != "" {
		return truncate(r.Highlight, 200)
	}
	return truncate(r.Note, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
