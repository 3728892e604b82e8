package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/record"
)

func baseRecord() *record.Record {
	return &record.Record{
		ID:           "rec-1",
		UserID:       "user-1",
		Source:       "browser_extension",
		Highlight:    "Machine learning models require careful validation",
		Note:         "Plain observations without trigger words.",
		Address:      "https://example.com/ml",
		EnhancedTags: []string{"machine", "learning", "validation", "models"},
		Attention:    0.5,
		Semantic:     &record.Semantic{Sentiment: record.SentimentNeutral},
	}
}

func kinds(intents []Intent) map[Kind]Intent {
	out := make(map[Kind]Intent)
	for _, in := range intents {
		out[in.Kind] = in
	}
	return out
}

func TestExtract_LearningKeywordYieldsCoreInterest(t *testing.T) {
	r := baseRecord()
	r.Note = "I want to learn how cross-validation works."

	byKind := kinds(Extract(r))
	in, ok := byKind[KindCoreInterest]
	require.True(t, ok)
	assert.InDelta(t, 0.8, in.Confidence, 1e-9)
	assert.Contains(t, in.Description, "Learning interest in:")
	assert.Contains(t, in.Description, "machine")
}

func TestExtract_WorkKeywordYieldsWorkContext(t *testing.T) {
	r := baseRecord()
	r.Note = "Remember the project deadline is next friday."

	byKind := kinds(Extract(r))
	in, ok := byKind[KindWorkContext]
	require.True(t, ok)
	assert.InDelta(t, 0.7, in.Confidence, 1e-9)
}

func TestExtract_HighAttentionYieldsCoreInterest(t *testing.T) {
	r := baseRecord()
	r.Attention = 0.85

	byKind := kinds(Extract(r))
	in, ok := byKind[KindCoreInterest]
	require.True(t, ok)
	assert.InDelta(t, 0.85, in.Confidence, 1e-9)
}

func TestExtract_RevisitYieldsCurrentGoal(t *testing.T) {
	r := baseRecord()
	r.AttentionMetrics = &record.AttentionMetrics{AddressRevisit: 4}

	byKind := kinds(Extract(r))
	in, ok := byKind[KindCurrentGoal]
	require.True(t, ok)
	assert.InDelta(t, 0.4, in.Confidence, 1e-9)
	assert.Contains(t, in.Description, r.Address)

	// Three visits do not cross the threshold.
	r.AttentionMetrics.AddressRevisit = 3
	_, ok = kinds(Extract(r))[KindCurrentGoal]
	assert.False(t, ok)
}

func TestExtract_RevisitConfidenceSaturates(t *testing.T) {
	r := baseRecord()
	r.AttentionMetrics = &record.AttentionMetrics{AddressRevisit: 25}

	in := kinds(Extract(r))[KindCurrentGoal]
	assert.InDelta(t, 1.0, in.Confidence, 1e-9)
}

func TestExtract_ChatSourceYieldsLearningPreference(t *testing.T) {
	r := baseRecord()
	r.Source = "ai_chatbot"

	_, ok := kinds(Extract(r))[KindLearningPreference]
	assert.True(t, ok)
}

func TestExtract_SentimentYieldsCommunicationStyle(t *testing.T) {
	r := baseRecord()
	r.Semantic.Sentiment = record.SentimentPositive

	in, ok := kinds(Extract(r))[KindCommunicationStyle]
	require.True(t, ok)
	assert.Contains(t, in.Description, "positive")
}

func TestExtract_QuietRecordYieldsNothing(t *testing.T) {
	r := baseRecord()
	r.Highlight = "a plain sentence about nothing in particular"
	r.Note = "no trigger phrases here"

	assert.Empty(t, Extract(r))
}

func TestExtract_Deterministic(t *testing.T) {
	r := baseRecord()
	r.Note = "learn about the project deadline"

	first := Extract(r)
	second := Extract(r)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Kind, second[i].Kind)
	}
}
