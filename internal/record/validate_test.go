package record

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() Draft {
	return Draft{
		ID:        "rec-1",
		UserID:    "user-1",
		Timestamp: "2026-07-01T10:00:00Z",
		Source:    "browser_extension",
		Highlight: "Machine learning models require careful validation",
		Note:      "Cross-validation is important because it estimates generalization.",
		Address:   "https://example.com/ml-validation",
		Tags:      []string{"ML", " validation ", "ml"},
		Access:    "private",
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	errs := Validate(Draft{})
	require.NotEmpty(t, errs)

	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	assert.True(t, fields["id"])
	assert.True(t, fields["userid"] || fields["user_id"])
	assert.True(t, fields["timestamp"])
	assert.True(t, fields["source"])
}

func TestValidate_BadAccess(t *testing.T) {
	d := validDraft()
	d.Access = "everyone"
	errs := Validate(d)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "one of")
}

func TestValidate_MalformedTimestamp(t *testing.T) {
	d := validDraft()
	d.Timestamp = "last tuesday"
	errs := Validate(d)
	require.NotEmpty(t, errs)
	assert.Equal(t, "timestamp", errs[0].Field)
}

func TestValidate_OversizeContent(t *testing.T) {
	d := validDraft()
	d.Highlight = strings.Repeat("x", MaxHighlightLen+1)
	errs := Validate(d)
	require.NotEmpty(t, errs)
}

func TestNormalize_Canonicalizes(t *testing.T) {
	r, err := Normalize(validDraft())
	require.NoError(t, err)

	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.Equal(t, []string{"ml", "validation"}, r.Tags)
	assert.Equal(t, AccessPrivate, r.Access)
	assert.NotNil(t, r.Raw)
	assert.Equal(t, TierHot, r.Tier)
}

func TestNormalize_DefaultsAccessToPrivate(t *testing.T) {
	d := validDraft()
	d.Access = ""
	r, err := Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, AccessPrivate, r.Access)
}

func TestNormalize_Idempotent(t *testing.T) {
	r1, err := Normalize(validDraft())
	require.NoError(t, err)

	again := Draft{
		ID:        r1.ID,
		UserID:    r1.UserID,
		Timestamp: r1.Timestamp.Format(time.RFC3339),
		Source:    r1.Source,
		Highlight: r1.Highlight,
		Note:      r1.Note,
		Address:   r1.Address,
		Tags:      r1.Tags,
		Access:    string(r1.Access),
	}
	r2, err := Normalize(again)
	require.NoError(t, err)

	assert.Equal(t, r1.Tags, r2.Tags)
	assert.True(t, r1.Timestamp.Equal(r2.Timestamp))
	assert.Equal(t, r1.Access, r2.Access)
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Go ", "go", "", "ML", "ml "})
	assert.Equal(t, []string{"go", "ml"}, got)
	assert.Nil(t, NormalizeTags(nil))
	assert.Nil(t, NormalizeTags([]string{"  "}))
}

func TestComputeInfluence_Clamped(t *testing.T) {
	assert.InDelta(t, 0.05, ComputeInfluence(0, 0), 1e-9)
	assert.InDelta(t, 1.0, ComputeInfluence(1, 1), 1e-9)

	// influence = 0.05 + 0.95*(0.6*0.5 + 0.4*0.5) = 0.525
	assert.InDelta(t, 0.525, ComputeInfluence(0.5, 0.5), 1e-9)
}

func TestTierFor(t *testing.T) {
	p := DefaultTierPolicy()

	assert.Equal(t, TierHot, p.TierFor(0.9, 100))  // influential
	assert.Equal(t, TierHot, p.TierFor(0.1, 0))    // fresh
	assert.Equal(t, TierWarm, p.TierFor(0.5, 20))  // moderate influence
	assert.Equal(t, TierWarm, p.TierFor(0.1, 10))  // moderately fresh
	assert.Equal(t, TierCold, p.TierFor(0.1, 100)) // old and weak
}

func TestRoute_SetsInfluenceAndTier(t *testing.T) {
	r := &Record{Quality: 0.9, Attention: 0.9, Timestamp: time.Now().UTC().AddDate(0, 0, -60)}
	DefaultTierPolicy().Route(r, time.Now().UTC())
	assert.Greater(t, r.Influence, 0.7)
	assert.Equal(t, TierHot, r.Tier)
}

func TestContentHash_TracksContent(t *testing.T) {
	r, err := Normalize(validDraft())
	require.NoError(t, err)
	h1 := r.ContentHash()
	r.Note = "different"
	assert.NotEqual(t, h1, r.ContentHash())
}

func TestClone_NoAliasing(t *testing.T) {
	r, err := Normalize(validDraft())
	require.NoError(t, err)
	r.Embedding = []float32{1, 2}

	cp := r.Clone()
	cp.Tags[0] = "changed"
	cp.Embedding[0] = 99
	cp.Raw["k"] = "v"

	assert.Equal(t, "ml", r.Tags[0])
	assert.Equal(t, float32(1), r.Embedding[0])
	assert.NotContains(t, r.Raw, "k")
}
