package write

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemos/internal/logging"
)

// IntentType classifies a conversational write request.
type IntentType string

const (
	IntentAddTag        IntentType = "add_tag"
	IntentRemoveTag     IntentType = "remove_tag"
	IntentRetag         IntentType = "retag"
	IntentDeleteRecords IntentType = "delete_records"
	IntentUpdateContent IntentType = "update_content"
	IntentUnknown       IntentType = "unknown"
)

// Intent is the structured form of a conversational request. The executor
// dispatches on OperationType; no behavioral code ever runs on the raw
// input string.
type Intent struct {
	IntentType    IntentType             `json:"intent_type"`
	OperationType string                 `json:"operation_type"`
	TargetFilter  Filter                 `json:"target_filter"`
	OperationData map[string]interface{} `json:"operation_data,omitempty"`
	Confidence    float64                `json:"confidence"`
	Description   string                 `json:"description"`
	Soft          bool                   `json:"soft"`
}

var quotedRe = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
var tagRefRe = regexp.MustCompile(`\btag(?:ged)?\s+(?:with\s+|as\s+)?([\w-]+)`)
var sourceRefRe = regexp.MustCompile(`\bfrom\s+([\w_-]+)`)

// RecognizeIntent maps free-form input onto a structured write intent.
// Deterministic keyword classification; ambiguity lowers confidence rather
// than guessing harder.
func RecognizeIntent(input string) Intent {
	lower := strings.ToLower(strings.TrimSpace(input))

	intent := Intent{
		IntentType:    IntentUnknown,
		Confidence:    0.2,
		OperationData: map[string]interface{}{},
	}

	switch {
	case containsAnyOf(lower, "delete", "remove all", "get rid of", "clear out"):
		intent.IntentType = IntentDeleteRecords
		intent.OperationType = "delete"
		intent.Soft = !strings.Contains(lower, "permanently")
		intent.Confidence = 0.7
	case containsAnyOf(lower, "retag", "replace tag", "change tag"):
		intent.IntentType = IntentRetag
		intent.OperationType = "bulk_retag"
		intent.Confidence = 0.6
	case containsAnyOf(lower, "untag", "remove tag", "remove the tag"):
		intent.IntentType = IntentRemoveTag
		intent.OperationType = "bulk_retag"
		intent.Confidence = 0.6
	case containsAnyOf(lower, "add tag", "tag them", "tag these", "tag all", "label"):
		intent.IntentType = IntentAddTag
		intent.OperationType = "bulk_tag"
		intent.Confidence = 0.7
	case containsAnyOf(lower, "update", "change the note", "rewrite", "edit"):
		intent.IntentType = IntentUpdateContent
		intent.OperationType = "batch_update"
		intent.Confidence = 0.5
	}

	// Quoted phrases name tags to apply or content values.
	var quoted []string
	for _, m := range quotedRe.FindAllStringSubmatch(input, -1) {
		if m[1] != "" {
			quoted = append(quoted, m[1])
		} else if m[2] != "" {
			quoted = append(quoted, m[2])
		}
	}
	if len(quoted) > 0 {
		intent.OperationData["tags"] = quoted
		intent.Confidence += 0.1
	}

	// tag/tagged references identify the target filter.
	if m := tagRefRe.FindStringSubmatch(lower); m != nil {
		intent.TargetFilter.Tags = []string{m[1]}
	}
	if m := sourceRefRe.FindStringSubmatch(lower); m != nil {
		intent.TargetFilter.Sources = []string{m[1]}
	}

	// Time words narrow the window.
	now := time.Now().UTC()
	switch {
	case strings.Contains(lower, "today"):
		intent.TargetFilter.From = now.Truncate(24 * time.Hour)
	case strings.Contains(lower, "this week"):
		intent.TargetFilter.From = now.AddDate(0, 0, -7)
	case strings.Contains(lower, "this month"):
		intent.TargetFilter.From = now.AddDate(0, -1, 0)
	}

	if intent.Confidence > 1 {
		intent.Confidence = 1
	}
	intent.Description = describeIntent(intent)
	return intent
}

func describeIntent(in Intent) string {
	var target string
	switch {
	case len(in.TargetFilter.Tags) > 0:
		target = fmt.Sprintf("records tagged %q", strings.Join(in.TargetFilter.Tags, ", "))
	case len(in.TargetFilter.Sources) > 0:
		target = fmt.Sprintf("records from %s", strings.Join(in.TargetFilter.Sources, ", "))
	default:
		target = "matching records"
	}
	switch in.IntentType {
	case IntentAddTag:
		return fmt.Sprintf("Add tags to %s", target)
	case IntentRemoveTag, IntentRetag:
		return fmt.Sprintf("Replace tags on %s", target)
	case IntentDeleteRecords:
		if in.Soft {
			return fmt.Sprintf("Soft-delete %s", target)
		}
		return fmt.Sprintf("Permanently delete %s", target)
	case IntentUpdateContent:
		return fmt.Sprintf("Update content of %s", target)
	default:
		return "Unrecognized request"
	}
}

func containsAnyOf(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// =============================================================================
// CONFIRMATION SESSIONS
// =============================================================================

// Session is a pending conversational operation awaiting confirmation.
type Session struct {
	ID       string    `json:"session_id"`
	Operator Operator  `json:"-"`
	Intent   Intent    `json:"intent"`
	Expires  time.Time `json:"expires"`
}

// Conversational wraps the executor with intent recognition and
// confirmation sessions.
type Conversational struct {
	executor *Executor
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewConversational creates the conversational surface.
func NewConversational(executor *Executor, sessionTTL time.Duration) *Conversational {
	if sessionTTL <= 0 {
		sessionTTL = 5 * time.Minute
	}
	return &Conversational{
		executor: executor,
		ttl:      sessionTTL,
		sessions: make(map[string]*Session),
	}
}

// Proposal is the response to a conversational request.
type Proposal struct {
	SessionID    string  `json:"session_id,omitempty"`
	Intent       Intent  `json:"intent"`
	Preview      *Result `json:"preview,omitempty"`
	Executed     *Result `json:"executed,omitempty"`
	Confirmation string  `json:"confirmation,omitempty"`
}

// Propose recognizes the intent, previews its impact, and either executes
// immediately (autoConfirm with a recognized low-ambiguity intent) or parks
// it in a confirmation session.
func (c *Conversational) Propose(ctx context.Context, op Operator, input string, dryRun, autoConfirm bool) (*Proposal, error) {
	in := RecognizeIntent(input)
	if in.IntentType == IntentUnknown {
		return &Proposal{Intent: in, Confirmation: "Could not map the request to a write operation."}, nil
	}

	preview, err := c.dispatch(ctx, op, in, Options{DryRun: true})
	if err != nil {
		return &Proposal{Intent: in, Preview: preview}, err
	}

	if dryRun {
		return &Proposal{Intent: in, Preview: preview}, nil
	}

	if autoConfirm && in.Confidence >= 0.7 && !isDestructive(in) {
		executed, err := c.dispatch(ctx, op, in, Options{})
		if err != nil {
			return &Proposal{Intent: in, Preview: preview, Executed: executed}, err
		}
		return &Proposal{Intent: in, Preview: preview, Executed: executed}, nil
	}

	session := &Session{
		ID:       "sess_" + uuid.NewString(),
		Operator: op,
		Intent:   in,
		Expires:  time.Now().Add(c.ttl),
	}
	c.mu.Lock()
	c.sessions[session.ID] = session
	c.mu.Unlock()

	logging.WriteDebug("Conversational session %s pending: %s", session.ID, in.Description)
	return &Proposal{
		SessionID:    session.ID,
		Intent:       in,
		Preview:      preview,
		Confirmation: fmt.Sprintf("%s (%d records). Confirm to proceed.", in.Description, preview.MatchedCount),
	}, nil
}

// Confirm executes a pending session.
func (c *Conversational) Confirm(ctx context.Context, sessionID string) (*Result, error) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if time.Now().After(session.Expires) {
		return nil, fmt.Errorf("session %s expired", sessionID)
	}
	return c.dispatch(ctx, session.Operator, session.Intent, Options{})
}

// Cancel discards a pending session.
func (c *Conversational) Cancel(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; ok {
		delete(c.sessions, sessionID)
		return true
	}
	return false
}

// ExpireSessions drops expired sessions; run by the maintenance worker.
func (c *Conversational) ExpireSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, s := range c.sessions {
		if now.After(s.Expires) {
			delete(c.sessions, id)
			removed++
		}
	}
	return removed
}

// dispatch maps the tagged intent onto an executor operation.
func (c *Conversational) dispatch(ctx context.Context, op Operator, in Intent, opts Options) (*Result, error) {
	switch in.OperationType {
	case "bulk_tag":
		return c.executor.BulkTag(ctx, op, in.TargetFilter, tagsFrom(in), opts)
	case "bulk_retag":
		return c.executor.BulkRetag(ctx, op, in.TargetFilter, tagsFrom(in), opts)
	case "batch_update":
		patch := Patch{}
		if note, ok := in.OperationData["note"].(string); ok {
			patch.Note = &note
		}
		return c.executor.BatchUpdate(ctx, op, in.TargetFilter, patch, opts)
	case "delete":
		ids, err := c.executor.resolve(ctx, op.UserID, in.TargetFilter)
		if err != nil {
			return nil, err
		}
		return c.executor.Delete(ctx, op, ids, in.Soft, opts)
	default:
		return nil, fmt.Errorf("unsupported operation type %q", in.OperationType)
	}
}

func tagsFrom(in Intent) []string {
	if raw, ok := in.OperationData["tags"].([]string); ok {
		return raw
	}
	if raw, ok := in.OperationData["tags"].([]interface{}); ok {
		var out []string
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isDestructive(in Intent) bool {
	return in.IntentType == IntentDeleteRecords
}
