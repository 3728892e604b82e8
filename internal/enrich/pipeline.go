// Package enrich implements the content enrichment pipeline: semantic tags,
// recommended highlights, semantic summary, embedding, and quality scoring.
// Each stage is deterministic given its inputs. The pipeline is best-effort:
// a failed stage is recorded on the record and the record stays ingestible.
package enrich

import (
	"context"
	"fmt"

	"mnemos/internal/embedding"
	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// Pipeline runs the enrichment stages in order.
type Pipeline struct {
	engine  embedding.Engine
	scorer  *QualityScorer
}

// New creates a pipeline. The engine may be nil; the embedding stage is then
// skipped and marked "embedding_skipped", which Degraded does not count.
func New(engine embedding.Engine, novelty NoveltyPolicy) *Pipeline {
	return &Pipeline{
		engine: engine,
		scorer: NewQualityScorer(novelty),
	}
}

// Enrich runs all stages on the record in place and returns it. Stage order:
// semantic tags, recommended highlights, semantic summary, embedding, quality.
// Failures append a stage marker to ProcessingMeta; each fallible stage is
// retried once before being marked degraded.
func (p *Pipeline) Enrich(ctx context.Context, r *record.Record) *record.Record {
	timer := logging.StartTimer(logging.CategoryEnrich, "Enrich")
	defer timer.Stop()

	r.EnhancedTags = SemanticTags(r.Highlight, r.Note)
	r.RecommendedHighlights = RecommendedHighlights(r.Note)
	r.Semantic = AnalyzeSemantics(r.Highlight, r.Note, r.EnhancedTags)

	if p.engine != nil {
		vec, err := p.embedWithRetry(ctx, r)
		if err != nil {
			logging.Get(logging.CategoryEnrich).Warn("Embedding stage failed for %s: %v", r.ID, err)
			r.ProcessingMeta = append(r.ProcessingMeta, "embedding_failed")
		} else {
			r.Embedding = vec
		}
	} else {
		r.ProcessingMeta = append(r.ProcessingMeta, "embedding_skipped")
	}

	r.Quality = p.scorer.Score(r)

	logging.Get(logging.CategoryEnrich).Debug("Enriched %s: tags=%d highlights=%d quality=%.2f",
		r.ID, len(r.EnhancedTags), len(r.RecommendedHighlights), r.Quality)
	return r
}

// Degraded reports whether any enrichment stage failed on the record.
func Degraded(r *record.Record) bool {
	for _, m := range r.ProcessingMeta {
		if m == "embedding_failed" {
			return true
		}
	}
	return false
}

func (p *Pipeline) embedWithRetry(ctx context.Context, r *record.Record) ([]float32, error) {
	text := EmbeddingText(r)
	vec, err := p.engine.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	// One local retry per stage; anything further is the caller's problem.
	vec, err2 := p.engine.Embed(ctx, text)
	if err2 != nil {
		return nil, fmt.Errorf("embed retry failed: %w", err2)
	}
	return vec, nil
}

// EmbeddingText is the canonical text fed to the embedding model for a
// record. Kept in one place so search queries and stored vectors agree.
func EmbeddingText(r *record.Record) string {
	if r.Note == "" {
		return r.Highlight
	}
	return r.Highlight + " " + r.Note
}
