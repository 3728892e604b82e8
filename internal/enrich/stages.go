package enrich

import (
	"sort"
	"strings"
	"unicode"

	"mnemos/internal/record"
)

// maxSemanticTags bounds the enhanced tag set per record.
const maxSemanticTags = 8

// salienceKeywords mark sentences worth recommending as highlights.
var salienceKeywords = []string{"important", "key", "main", "crucial", "significant"}

var positiveWords = []string{"good", "great", "excellent", "amazing", "wonderful"}
var negativeWords = []string{"bad", "terrible", "awful", "horrible", "disappointing"}

// SemanticTags produces up to 8 lowercase tags from the record content.
// Frequency-ranked distinct words longer than 3 characters; stable under
// identical input.
func SemanticTags(highlight, note string) []string {
	words := contentWords(highlight + " " + note)
	if len(words) == 0 {
		return nil
	}

	counts := make(map[string]int)
	order := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	// Stable rank: frequency desc, then first appearance.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > maxSemanticTags {
		order = order[:maxSemanticTags]
	}
	return order
}

// RecommendedHighlights selects up to 3 sentence spans from the note.
// Sentences score 2 for landing in the 12-40 token band and 1 per salience
// keyword; zero-scoring sentences are dropped. A note under 100 characters
// is returned whole as the single span.
func RecommendedHighlights(note string) []string {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	if len(note) < 100 {
		return []string{note}
	}

	sentences := splitSentences(note)
	type scored struct {
		text  string
		score int
	}
	var ranked []scored
	for _, s := range sentences {
		score := 0
		n := len(strings.Fields(s))
		if n >= 12 && n <= 40 {
			score += 2
		}
		lower := strings.ToLower(s)
		for _, kw := range salienceKeywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{s, score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	for i := 0; i < len(ranked) && i < 3; i++ {
		out = append(out, ranked[i].text)
	}
	return out
}

// AnalyzeSemantics derives the semantic summary: topics from the top
// enhanced tags, sentiment from marker-word counts, complexity from average
// sentence length, concepts from distinct longer words.
func AnalyzeSemantics(highlight, note string, enhancedTags []string) *record.Semantic {
	combined := highlight + " " + note
	lower := strings.ToLower(combined)

	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	sentiment := record.SentimentNeutral
	if pos > neg {
		sentiment = record.SentimentPositive
	} else if neg > pos {
		sentiment = record.SentimentNegative
	}

	sentences := splitSentences(combined)
	totalWords := len(strings.Fields(combined))
	avgLen := float64(totalWords) / float64(max(len(sentences), 1))
	complexity := record.ComplexityLow
	if avgLen > 20 {
		complexity = record.ComplexityHigh
	} else if avgLen > 10 {
		complexity = record.ComplexityMedium
	}

	topics := enhancedTags
	if len(topics) > 3 {
		topics = topics[:3]
	}

	var concepts []string
	seen := make(map[string]bool)
	for _, w := range contentWords(combined) {
		if len(w) > 4 && !seen[w] {
			seen[w] = true
			concepts = append(concepts, w)
			if len(concepts) == 5 {
				break
			}
		}
	}

	return &record.Semantic{
		Topics:     append([]string(nil), topics...),
		Sentiment:  sentiment,
		Complexity: complexity,
		Concepts:   concepts,
	}
}

func contentWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
