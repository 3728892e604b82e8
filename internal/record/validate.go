package record

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mnemos/internal/logging"
)

// Draft is a raw submitted observation before normalization. Field names
// match the wire schema.
type Draft struct {
	ID        string                 `json:"id" validate:"required"`
	UserID    string                 `json:"user_id" validate:"required"`
	Timestamp string                 `json:"timestamp" validate:"required"`
	Source    string                 `json:"source" validate:"required"`
	Highlight string                 `json:"highlight" validate:"max=10000"`
	Note      string                 `json:"note" validate:"max=50000"`
	Address   string                 `json:"address"`
	Tags      []string               `json:"tags"`
	Access    string                 `json:"access" validate:"omitempty,oneof=private public shared"`
	Raw       map[string]interface{} `json:"raw"`
}

// ValidationError reports a single field problem. Batches carry one per bad
// item; the batch itself continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a draft against the schema invariants. Returns all problems
// found, not just the first.
func Validate(d Draft) []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(d); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Field:  strings.ToLower(fe.Field()),
					Reason: reasonFor(fe),
				})
			}
		} else {
			errs = append(errs, ValidationError{Field: "record", Reason: err.Error()})
		}
	}

	if d.Timestamp != "" {
		if _, err := parseTimestamp(d.Timestamp); err != nil {
			errs = append(errs, ValidationError{Field: "timestamp", Reason: "malformed timestamp, want RFC 3339"})
		}
	}

	if len(errs) > 0 {
		logging.Get(logging.CategoryRecord).Debug("Draft %s failed validation: %d problems", d.ID, len(errs))
	}
	return errs
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field missing"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "max":
		return fmt.Sprintf("exceeds maximum length %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s constraint", fe.Tag())
	}
}

// Normalize converts a validated draft into a canonical record:
// timestamp parsed to UTC, tags lowercased/trimmed/deduplicated, access
// defaulted to private, raw guaranteed non-nil. Idempotent: normalizing a
// normalized record changes nothing.
func Normalize(d Draft) (*Record, error) {
	if errs := Validate(d); len(errs) > 0 {
		return nil, errs[0]
	}

	ts, err := parseTimestamp(d.Timestamp)
	if err != nil {
		return nil, ValidationError{Field: "timestamp", Reason: err.Error()}
	}

	access := Access(d.Access)
	if access == "" {
		access = AccessPrivate
	}

	raw := d.Raw
	if raw == nil {
		raw = map[string]interface{}{}
	}

	now := time.Now().UTC()
	r := &Record{
		ID:        d.ID,
		UserID:    d.UserID,
		Timestamp: ts.UTC(),
		Source:    d.Source,
		Highlight: d.Highlight,
		Note:      d.Note,
		Address:   d.Address,
		Tags:      NormalizeTags(d.Tags),
		Access:    access,
		Raw:       raw,
		Tier:      TierHot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r, nil
}

// NormalizeTags lowercases, trims, deduplicates, and sorts tags. Order of the
// input is irrelevant per the schema, so a canonical sorted order keeps
// comparisons and hashes stable.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
