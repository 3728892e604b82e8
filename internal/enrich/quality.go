package enrich

import (
	"strings"

	"mnemos/internal/record"
)

// Quality factor weights. Each factor lands in [0,1]; the weighted sum is
// clamped to [0,1].
const (
	weightContentDepth     = 0.25
	weightInformationValue = 0.25
	weightEngagement       = 0.20
	weightComplexity       = 0.15
	weightNovelty          = 0.15
)

// infoIndicators signal information-dense content.
var infoIndicators = []string{
	"how to", "why", "because", "explain", "steps", "process",
	"important", "key", "main", "significant", "crucial",
}

// NoveltyPolicy scores how novel a record is. The default has no historical
// comparator and falls back to a source prior; a corpus-aware comparator can
// be plugged in without touching the scorer.
type NoveltyPolicy interface {
	Novelty(r *record.Record) float64
}

// SourcePriorNovelty assigns novelty purely from the originating source.
type SourcePriorNovelty struct{}

// Novelty returns the source prior: chat content 0.6, browser content 0.5,
// anything else 0.7.
func (SourcePriorNovelty) Novelty(r *record.Record) float64 {
	switch {
	case strings.HasSuffix(r.Source, "_chatbot"), strings.Contains(r.Source, "chat"):
		return 0.6
	case strings.Contains(r.Source, "browser"):
		return 0.5
	default:
		return 0.7
	}
}

// QualityScorer computes the composite quality score.
type QualityScorer struct {
	novelty NoveltyPolicy
}

// NewQualityScorer creates a scorer with the given novelty policy (nil means
// source-prior fallback).
func NewQualityScorer(novelty NoveltyPolicy) *QualityScorer {
	if novelty == nil {
		novelty = SourcePriorNovelty{}
	}
	return &QualityScorer{novelty: novelty}
}

// Score computes the weighted quality of a record, clamped to [0,1].
func (q *QualityScorer) Score(r *record.Record) float64 {
	score := contentDepth(r)*weightContentDepth +
		informationValue(r)*weightInformationValue +
		engagement(r)*weightEngagement +
		complexity(r)*weightComplexity +
		q.novelty.Novelty(r)*weightNovelty

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// contentDepth scores highlight length, note length, and tag richness.
func contentDepth(r *record.Record) float64 {
	highlightWords := len(strings.Fields(r.Highlight))
	noteWords := len(strings.Fields(r.Note))

	score := 0.0
	switch {
	case highlightWords > 10:
		score += 0.3
	case highlightWords > 5:
		score += 0.2
	default:
		score += 0.1
	}

	switch {
	case noteWords > 50:
		score += 0.4
	case noteWords > 20:
		score += 0.3
	case noteWords > 10:
		score += 0.2
	default:
		score += 0.1
	}

	switch {
	case len(r.Tags) > 3:
		score += 0.3
	case len(r.Tags) > 1:
		score += 0.2
	default:
		score += 0.1
	}

	if score > 1 {
		return 1
	}
	return score
}

// informationValue counts density indicators, 0.2 each, capped at 1.
func informationValue(r *record.Record) float64 {
	combined := strings.ToLower(r.Highlight + " " + r.Note)
	count := 0
	for _, ind := range infoIndicators {
		if strings.Contains(combined, ind) {
			count++
		}
	}
	score := float64(count) * 0.2
	if score > 1 {
		return 1
	}
	return score
}

// engagement scores note length, tag count, and structure markers.
func engagement(r *record.Record) float64 {
	score := 0.0

	noteWords := len(strings.Fields(r.Note))
	switch {
	case noteWords > 100:
		score += 0.5
	case noteWords > 50:
		score += 0.3
	case noteWords > 20:
		score += 0.2
	default:
		score += 0.1
	}

	switch {
	case len(r.Tags) > 5:
		score += 0.3
	case len(r.Tags) > 2:
		score += 0.2
	default:
		score += 0.1
	}

	for _, marker := range []string{"1.", "2.", "-", "*", ":"} {
		if strings.Contains(r.Note, marker) {
			score += 0.2
			break
		}
	}

	if score > 1 {
		return 1
	}
	return score
}

// complexity scores average sentence length of the combined content.
func complexity(r *record.Record) float64 {
	combined := r.Highlight + " " + r.Note
	sentences := splitSentences(combined)
	if len(sentences) == 0 {
		return 0.2
	}
	totalWords := 0
	for _, s := range sentences {
		totalWords += len(strings.Fields(s))
	}
	avg := float64(totalWords) / float64(len(sentences))
	switch {
	case avg > 20:
		return 0.8
	case avg > 15:
		return 0.6
	case avg > 10:
		return 0.4
	default:
		return 0.2
	}
}
