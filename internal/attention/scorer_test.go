package attention

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/record"
)

func rec(id, highlight, address, note string, tags []string, daysAgo int) *record.Record {
	return &record.Record{
		ID:        id,
		UserID:    "user-1",
		Highlight: highlight,
		Address:   address,
		Note:      note,
		Tags:      tags,
		Timestamp: time.Now().UTC().AddDate(0, 0, -daysAgo),
	}
}

func TestScore_NoHistory(t *testing.T) {
	s := NewScorer()
	r := rec("r1", "machine learning validation", "https://a", "short", []string{"ml"}, 0)

	weight, m := s.Score(r, nil)
	require.NotNil(t, m)

	// hf=0 -> 0.1, nd=0 -> 0.2, rv=1 -> 0.1, ti=0 -> 0.1, low depth -> 0.8
	// weight = 0.8*(0.30*0.1 + 0.25*0.2 + 0.30*0.1 + 0.15*0.1) = 0.1
	assert.InDelta(t, 0.1, weight, 1e-9)
	assert.Equal(t, record.DepthLow, m.InteractionDepth)
}

func TestScore_AddressRevisitCountsCurrentVisit(t *testing.T) {
	s := NewScorer()
	addr := "https://example.com/guide"

	var history []*record.Record
	for i := 1; i <= 3; i++ {
		history = append(history, rec(fmt.Sprintf("h%d", i), "revisit", addr, "note text", nil, i*3))
	}
	r := rec("r4", "revisit", addr, "note", nil, 0)

	_, m := s.Score(r, history)
	assert.Equal(t, 4, m.AddressRevisit)
	assert.Equal(t, 3, m.NoteDensity)
}

func TestScore_HighlightFrequencyJaccard(t *testing.T) {
	s := NewScorer()
	history := []*record.Record{
		rec("h1", "go concurrency patterns with channels", "", "", nil, 1),
		rec("h2", "completely unrelated cooking recipe", "", "", nil, 2),
	}
	r := rec("r1", "go concurrency patterns with channels", "", "", nil, 0)

	_, m := s.Score(r, history)
	assert.Equal(t, 1, m.HighlightFrequency)
}

func TestScore_TimeInvestmentCapped(t *testing.T) {
	s := NewScorer()
	tags := []string{"golang", "concurrency"}
	var history []*record.Record
	for i := 0; i < 20; i++ {
		history = append(history, rec(fmt.Sprintf("h%d", i), "x", "", "", tags, i))
	}
	r := rec("r", "x", "", "", tags, 0)

	_, m := s.Score(r, history)
	assert.InDelta(t, 3600, m.TimeInvestment, 1e-9)
}

func TestScore_DepthHighBoosts(t *testing.T) {
	s := NewScorer()
	tags := []string{"golang", "concurrency", "channels", "select", "sync"}
	longNote := make([]byte, 250)
	for i := range longNote {
		longNote[i] = 'a'
	}

	var history []*record.Record
	for i := 0; i < 8; i++ {
		history = append(history, rec(fmt.Sprintf("h%d", i), "deep topic", "", "", tags, i+1))
	}
	r := rec("r", "deep topic", "", string(longNote), tags, 0)

	weight, m := s.Score(r, history)
	// detailed note, rich tagging, >5 related: three factors (the topic
	// span of about 7 days does not pass the >7 day factor)
	assert.Equal(t, record.DepthHigh, m.InteractionDepth)
	assert.Greater(t, weight, 0.0)
	assert.LessOrEqual(t, weight, 1.0)
}

func TestNormalizers_Monotone(t *testing.T) {
	assert.Equal(t, 0.1, normalizeFrequency(0))
	assert.Equal(t, 0.4, normalizeFrequency(2))
	assert.Equal(t, 0.7, normalizeFrequency(5))
	assert.Equal(t, 1.0, normalizeFrequency(6))

	assert.Equal(t, 0.2, normalizeDensity(1))
	assert.Equal(t, 0.6, normalizeDensity(3))
	assert.Equal(t, 0.8, normalizeDensity(5))
	assert.Equal(t, 1.0, normalizeDensity(9))

	assert.Equal(t, 0.1, normalizeRevisit(1))
	assert.Equal(t, 0.5, normalizeRevisit(3))
	assert.Equal(t, 0.8, normalizeRevisit(6))
	assert.Equal(t, 1.0, normalizeRevisit(7))

	assert.Equal(t, 0.1, normalizeTime(10))
	assert.Equal(t, 0.4, normalizeTime(60))
	assert.Equal(t, 0.7, normalizeTime(200))
	assert.Equal(t, 1.0, normalizeTime(500))
}

func TestJaccardWords(t *testing.T) {
	assert.InDelta(t, 1.0, jaccardWords("a b c", "c b a"), 1e-9)
	assert.InDelta(t, 0.0, jaccardWords("a b", "c d"), 1e-9)
	assert.InDelta(t, 0.5, jaccardWords("a b c d", "a b"), 1e-9)
	assert.Equal(t, 0.0, jaccardWords("", "a"))
}
