// Package attention computes the per-user attention weight of a record from
// its relationship to the user's recent history. Pure given the record and
// the supplied history window; the caller fetches the window from storage.
package attention

import (
	"strings"
	"time"
	"unicode"

	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// WindowDays is the history horizon the scorer considers.
const WindowDays = 30

// Sub-signal combination weights.
const (
	weightHighlightFrequency = 0.30
	weightNoteDensity        = 0.25
	weightAddressRevisit     = 0.30
	weightTimeInvestment     = 0.15
)

// jaccardThreshold marks two highlights as repeats of each other.
const jaccardThreshold = 0.7

// topicSharedTags is the minimum shared-tag count for topic relatedness.
const topicSharedTags = 2

// Scorer computes attention weights.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score computes the attention weight and sub-metrics for r against the
// user's history window (records from the last 30 days, any tier, excluding
// r itself and soft-deleted records).
func (s *Scorer) Score(r *record.Record, history []*record.Record) (float64, *record.AttentionMetrics) {
	timer := logging.StartTimer(logging.CategoryAttention, "Score")
	defer timer.Stop()

	hf := highlightFrequency(r, history)
	nd := noteDensity(r, history)
	rv := addressRevisit(r, history)
	related := topicRelatedCount(r, history)
	ti := timeInvestment(related)
	depth := interactionDepth(r, related, topicTimeSpanDays(r, history))

	metrics := &record.AttentionMetrics{
		HighlightFrequency: hf,
		NoteDensity:        nd,
		AddressRevisit:     rv,
		TimeInvestment:     ti,
		InteractionDepth:   depth,
	}

	weight := depthMultiplier(depth) * (weightHighlightFrequency*normalizeFrequency(hf) +
		weightNoteDensity*normalizeDensity(nd) +
		weightAddressRevisit*normalizeRevisit(rv) +
		weightTimeInvestment*normalizeTime(ti))
	if weight > 1 {
		weight = 1
	}

	logging.Get(logging.CategoryAttention).Debug(
		"Scored %s: hf=%d nd=%d rv=%d ti=%.0fs depth=%s -> %.3f",
		r.ID, hf, nd, rv, ti, depth, weight)
	return weight, metrics
}

// highlightFrequency counts prior records whose highlight is a near-repeat
// of this one (Jaccard word similarity at or above threshold).
func highlightFrequency(r *record.Record, history []*record.Record) int {
	if strings.TrimSpace(r.Highlight) == "" {
		return 0
	}
	count := 0
	for _, h := range history {
		if jaccardWords(r.Highlight, h.Highlight) >= jaccardThreshold {
			count++
		}
	}
	return count
}

// noteDensity counts prior records at the same address carrying a note.
func noteDensity(r *record.Record, history []*record.Record) int {
	if r.Address == "" {
		return 0
	}
	count := 0
	for _, h := range history {
		if h.Address == r.Address && strings.TrimSpace(h.Note) != "" {
			count++
		}
	}
	return count
}

// addressRevisit counts visits to the record's address, this one included:
// the fourth record at an address scores 4.
func addressRevisit(r *record.Record, history []*record.Record) int {
	if r.Address == "" {
		return 0
	}
	count := 1
	for _, h := range history {
		if h.Address == r.Address {
			count++
		}
	}
	return count
}

// topicRelatedCount counts prior records sharing at least two tags with r
// over the union of user and enhanced tags.
func topicRelatedCount(r *record.Record, history []*record.Record) int {
	mine := tagSet(r)
	if len(mine) == 0 {
		return 0
	}
	count := 0
	for _, h := range history {
		shared := 0
		for _, t := range h.AllTags() {
			if mine[t] {
				shared++
				if shared >= topicSharedTags {
					count++
					break
				}
			}
		}
	}
	return count
}

// timeInvestment estimates engagement seconds: 300s per topic-related prior
// record, capped at one hour.
func timeInvestment(relatedCount int) float64 {
	seconds := float64(relatedCount) * 300
	if seconds > 3600 {
		return 3600
	}
	return seconds
}

// topicTimeSpanDays measures how many days the user's engagement with this
// record's topic spans across the history window.
func topicTimeSpanDays(r *record.Record, history []*record.Record) int {
	mine := tagSet(r)
	if len(mine) == 0 {
		return 0
	}
	var earliest, latest time.Time
	for _, h := range history {
		shared := 0
		for _, t := range h.AllTags() {
			if mine[t] {
				shared++
			}
		}
		if shared < topicSharedTags {
			continue
		}
		if earliest.IsZero() || h.Timestamp.Before(earliest) {
			earliest = h.Timestamp
		}
		if latest.IsZero() || h.Timestamp.After(latest) {
			latest = h.Timestamp
		}
	}
	if earliest.IsZero() {
		return 0
	}
	return int(latest.Sub(earliest).Hours() / 24)
}

// interactionDepth classifies engagement from four factors: detailed note,
// rich tagging, extensive exploration, sustained interest.
func interactionDepth(r *record.Record, relatedCount, topicSpanDays int) record.InteractionDepth {
	factors := 0
	if len(r.Note) > 200 {
		factors++
	}
	if len(r.Tags) > 3 {
		factors++
	}
	if relatedCount > 5 {
		factors++
	}
	if topicSpanDays > 7 {
		factors++
	}
	switch {
	case factors >= 3:
		return record.DepthHigh
	case factors == 2:
		return record.DepthMedium
	default:
		return record.DepthLow
	}
}

func depthMultiplier(d record.InteractionDepth) float64 {
	switch d {
	case record.DepthHigh:
		return 1.2
	case record.DepthMedium:
		return 1.0
	default:
		return 0.8
	}
}

// Monotone step normalizers for the count signals.

func normalizeFrequency(n int) float64 {
	switch {
	case n <= 1:
		return 0.1
	case n <= 3:
		return 0.4
	case n <= 5:
		return 0.7
	default:
		return 1.0
	}
}

func normalizeDensity(n int) float64 {
	switch {
	case n <= 1:
		return 0.2
	case n <= 3:
		return 0.6
	case n <= 5:
		return 0.8
	default:
		return 1.0
	}
}

func normalizeRevisit(n int) float64 {
	switch {
	case n <= 1:
		return 0.1
	case n <= 3:
		return 0.5
	case n <= 6:
		return 0.8
	default:
		return 1.0
	}
}

func normalizeTime(seconds float64) float64 {
	switch {
	case seconds < 30:
		return 0.1
	case seconds < 120:
		return 0.4
	case seconds < 300:
		return 0.7
	default:
		return 1.0
	}
}

// jaccardWords computes word-set Jaccard similarity of two texts.
func jaccardWords(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func tagSet(r *record.Record) map[string]bool {
	all := r.AllTags()
	set := make(map[string]bool, len(all))
	for _, t := range all {
		set[t] = true
	}
	return set
}
