package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/embedding"
	"mnemos/internal/record"
)

func learningRecord() *record.Record {
	return &record.Record{
		ID:        "rec-1",
		UserID:    "user-1",
		Source:    "browser_extension",
		Highlight: "Machine learning models require careful validation",
		Note: "Cross-validation is an important process because it estimates how well a model " +
			"generalizes to unseen data: the key steps are splitting the data into folds and " +
			"rotating the held-out fold across several training rounds.",
		Tags: []string{"ml", "validation"},
	}
}

func TestSemanticTags_StableAndBounded(t *testing.T) {
	r := learningRecord()
	tags1 := SemanticTags(r.Highlight, r.Note)
	tags2 := SemanticTags(r.Highlight, r.Note)

	assert.Equal(t, tags1, tags2, "tags must be stable under identical input")
	assert.LessOrEqual(t, len(tags1), 8)
	for _, tag := range tags1 {
		assert.Equal(t, strings.ToLower(tag), tag)
		assert.Greater(t, len(tag), 3)
	}
}

func TestRecommendedHighlights_ShortNote(t *testing.T) {
	got := RecommendedHighlights("short note under the threshold")
	require.Len(t, got, 1)
	assert.Equal(t, "short note under the threshold", got[0])
}

func TestRecommendedHighlights_SelectsSalientSentences(t *testing.T) {
	note := "This is a short filler sentence. " +
		"The most important consideration when designing the storage layer is how the influence " +
		"weight interacts with record age across tiers. " +
		"Tiny one. " +
		"Another key point is that significant latency savings come from keeping the hot set small " +
		"and evicting by weight rather than by time alone."
	got := RecommendedHighlights(note)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 3)
	joined := strings.Join(got, " ")
	assert.Contains(t, joined, "important consideration")
	assert.Contains(t, joined, "key point")
	assert.NotContains(t, joined, "Tiny one")
}

func TestRecommendedHighlights_Empty(t *testing.T) {
	assert.Nil(t, RecommendedHighlights(""))
}

func TestAnalyzeSemantics(t *testing.T) {
	sem := AnalyzeSemantics("This library is great and excellent", "", []string{"golang", "libraries"})
	assert.Equal(t, record.SentimentPositive, sem.Sentiment)
	assert.Equal(t, []string{"golang", "libraries"}, sem.Topics)

	sem = AnalyzeSemantics("terrible awful experience", "", nil)
	assert.Equal(t, record.SentimentNegative, sem.Sentiment)

	sem = AnalyzeSemantics("plain statement", "", nil)
	assert.Equal(t, record.SentimentNeutral, sem.Sentiment)
}

func TestQualityScorer_LearningNote(t *testing.T) {
	scorer := NewQualityScorer(nil)
	q := scorer.Score(learningRecord())
	assert.GreaterOrEqual(t, q, 0.5)
	assert.LessOrEqual(t, q, 1.0)
}

func TestQualityScorer_ThinRecordScoresLow(t *testing.T) {
	scorer := NewQualityScorer(nil)
	thin := &record.Record{ID: "thin", Highlight: "hi", Source: "browser"}
	rich := scorer.Score(learningRecord())
	assert.Less(t, scorer.Score(thin), rich)
}

func TestSourcePriorNovelty(t *testing.T) {
	p := SourcePriorNovelty{}
	assert.InDelta(t, 0.6, p.Novelty(&record.Record{Source: "ai_chatbot"}), 1e-9)
	assert.InDelta(t, 0.5, p.Novelty(&record.Record{Source: "browser_extension"}), 1e-9)
	assert.InDelta(t, 0.7, p.Novelty(&record.Record{Source: "notes_app"}), 1e-9)
}

func TestEnrich_FullPipeline(t *testing.T) {
	engine := embedding.NewLocalEngine(64)
	p := New(engine, nil)

	r := learningRecord()
	p.Enrich(context.Background(), r)

	assert.NotEmpty(t, r.EnhancedTags)
	assert.NotEmpty(t, r.RecommendedHighlights)
	require.NotNil(t, r.Semantic)
	assert.Len(t, r.Embedding, 64)
	assert.Greater(t, r.Quality, 0.0)
	assert.False(t, Degraded(r))
}

func TestEnrich_NoEngineStillIngestible(t *testing.T) {
	p := New(nil, nil)
	r := learningRecord()
	p.Enrich(context.Background(), r)

	assert.Empty(t, r.Embedding)
	assert.Contains(t, r.ProcessingMeta, "embedding_skipped")
	assert.Greater(t, r.Quality, 0.0)
}

type failingEngine struct{ *embedding.LocalEngine }

func (f failingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, assert.AnError
}

func TestEnrich_EmbeddingFailureIsDegradedNotFatal(t *testing.T) {
	p := New(failingEngine{embedding.NewLocalEngine(8)}, nil)
	r := learningRecord()
	p.Enrich(context.Background(), r)

	assert.Contains(t, r.ProcessingMeta, "embedding_failed")
	assert.True(t, Degraded(r))
	assert.Greater(t, r.Quality, 0.0)
}
