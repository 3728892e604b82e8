// Package intent derives typed profile signals from individual records.
// Extraction is rule-based and deterministic: content keywords, behavior
// thresholds, and context heuristics each contribute zero or more intents.
package intent

import (
	"fmt"
	"strings"

	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// Kind is the profile component type an intent feeds.
type Kind string

const (
	KindCoreInterest       Kind = "core_interest"
	KindCurrentGoal        Kind = "current_goal"
	KindLearningPreference Kind = "learning_preference"
	KindCommunicationStyle Kind = "communication_style"
	KindWorkContext        Kind = "work_context"
	KindPersonalValue      Kind = "personal_value"
)

// Intent is a typed signal extracted from a single record.
type Intent struct {
	ID          string                 `json:"id"`
	RecordID    string                 `json:"record_id"`
	Kind        Kind                   `json:"kind"`
	Description string                 `json:"description"`
	Embedding   []float32              `json:"embedding,omitempty"`
	Confidence  float64                `json:"confidence"`
	Attention   float64                `json:"attention"`
	SourceApp   string                 `json:"source_app"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

var learningKeywords = []string{"learn", "understand", "study", "tutorial", "guide", "how to"}
var workKeywords = []string{"project", "task", "deadline", "meeting", "work", "job", "career"}

// revisitGoalThreshold is the address revisit count that signals a
// persistent goal.
const revisitGoalThreshold = 3

// highAttentionThreshold marks content as a core interest by behavior.
const highAttentionThreshold = 0.7

// Extract derives intents from an enriched, attention-scored record.
// Deterministic given the record; no I/O.
func Extract(r *record.Record) []Intent {
	var intents []Intent
	intents = append(intents, contentIntents(r)...)
	intents = append(intents, behaviorIntents(r)...)
	intents = append(intents, contextIntents(r)...)

	if len(intents) > 0 {
		logging.Get(logging.CategoryIntent).Debug("Extracted %d intents from %s", len(intents), r.ID)
	}
	return intents
}

// contentIntents looks for learning and work signals in the text.
func contentIntents(r *record.Record) []Intent {
	var intents []Intent
	combined := strings.ToLower(r.Highlight + " " + r.Note)

	if containsAny(combined, learningKeywords) {
		topics := r.EnhancedTags
		if len(topics) > 3 {
			topics = topics[:3]
		}
		intents = append(intents, Intent{
			ID:          fmt.Sprintf("intent_%s_learning", r.ID),
			RecordID:    r.ID,
			Kind:        KindCoreInterest,
			Description: "Learning interest in: " + strings.Join(topics, ", "),
			Embedding:   r.Embedding,
			Confidence:  0.8,
			Attention:   r.Attention,
			SourceApp:   r.Source,
			Context:     map[string]interface{}{"topics": topics, "content_type": "learning"},
		})
	}

	if containsAny(combined, workKeywords) {
		intents = append(intents, Intent{
			ID:          fmt.Sprintf("intent_%s_work", r.ID),
			RecordID:    r.ID,
			Kind:        KindWorkContext,
			Description: "Work-related activity: " + truncate(r.Highlight, 100),
			Embedding:   r.Embedding,
			Confidence:  0.7,
			Attention:   r.Attention,
			SourceApp:   r.Source,
			Context:     map[string]interface{}{"work_area": r.EnhancedTags},
		})
	}
	return intents
}

// behaviorIntents fires on high attention and repeated address visits.
func behaviorIntents(r *record.Record) []Intent {
	var intents []Intent

	if r.Attention > highAttentionThreshold {
		intents = append(intents, Intent{
			ID:          fmt.Sprintf("intent_%s_core", r.ID),
			RecordID:    r.ID,
			Kind:        KindCoreInterest,
			Description: "High attention on: " + truncate(r.Highlight, 100),
			Embedding:   r.Embedding,
			Confidence:  r.Attention,
			Attention:   r.Attention,
			SourceApp:   r.Source,
			Context:     map[string]interface{}{"intensity": "high"},
		})
	}

	if r.AttentionMetrics != nil && r.AttentionMetrics.AddressRevisit > revisitGoalThreshold {
		revisit := r.AttentionMetrics.AddressRevisit
		confidence := float64(revisit) / 10.0
		if confidence > 1 {
			confidence = 1
		}
		intents = append(intents, Intent{
			ID:          fmt.Sprintf("intent_%s_goal", r.ID),
			RecordID:    r.ID,
			Kind:        KindCurrentGoal,
			Description: "Persistent goal related to: " + r.Address,
			Embedding:   r.Embedding,
			Confidence:  confidence,
			Attention:   r.Attention,
			SourceApp:   r.Source,
			Context:     map[string]interface{}{"revisit_count": revisit},
		})
	}
	return intents
}

// contextIntents infers style signals from the source and sentiment.
func contextIntents(r *record.Record) []Intent {
	var intents []Intent

	if strings.Contains(r.Source, "chat") {
		var topics []string
		if r.Semantic != nil {
			topics = r.Semantic.Topics
		}
		intents = append(intents, Intent{
			ID:          fmt.Sprintf("intent_%s_learning_style", r.ID),
			RecordID:    r.ID,
			Kind:        KindLearningPreference,
			Description: "AI-assisted learning preference",
			Embedding:   r.Embedding,
			Confidence:  0.6,
			Attention:   r.Attention,
			SourceApp:   r.Source,
			Context:     map[string]interface{}{"interaction_type": "ai_chat", "topics": topics},
		})
	}

	if r.Semantic != nil && r.Semantic.Sentiment != record.SentimentNeutral {
		intents = append(intents, Intent{
			ID:          fmt.Sprintf("intent_%s_communication", r.ID),
			RecordID:    r.ID,
			Kind:        KindCommunicationStyle,
			Description: "Communication style: " + string(r.Semantic.Sentiment),
			Embedding:   r.Embedding,
			Confidence:  0.5,
			Attention:   r.Attention,
			SourceApp:   r.Source,
			Context:     map[string]interface{}{"sentiment": string(r.Semantic.Sentiment)},
		})
	}
	return intents
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
