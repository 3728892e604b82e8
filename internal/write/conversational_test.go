package write

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizeIntent_AddTag(t *testing.T) {
	in := RecognizeIntent(`add tag "programming-language" to everything tagged python`)
	assert.Equal(t, IntentAddTag, in.IntentType)
	assert.Equal(t, "bulk_tag", in.OperationType)
	assert.Equal(t, []string{"python"}, in.TargetFilter.Tags)
	assert.Equal(t, []string{"programming-language"}, in.OperationData["tags"])
	assert.GreaterOrEqual(t, in.Confidence, 0.7)
}

func TestRecognizeIntent_Delete(t *testing.T) {
	in := RecognizeIntent("delete everything from old_app this week")
	assert.Equal(t, IntentDeleteRecords, in.IntentType)
	assert.Equal(t, "delete", in.OperationType)
	assert.True(t, in.Soft)
	assert.Equal(t, []string{"old_app"}, in.TargetFilter.Sources)
	assert.False(t, in.TargetFilter.From.IsZero())
}

func TestRecognizeIntent_PermanentDelete(t *testing.T) {
	in := RecognizeIntent("permanently delete records tagged junk")
	assert.Equal(t, IntentDeleteRecords, in.IntentType)
	assert.False(t, in.Soft)
}

func TestRecognizeIntent_Unknown(t *testing.T) {
	in := RecognizeIntent("what is the weather like")
	assert.Equal(t, IntentUnknown, in.IntentType)
	assert.Less(t, in.Confidence, 0.5)
}

func TestConversational_ProposeAndConfirm(t *testing.T) {
	h := newHarness(t)
	conv := NewConversational(h.executor, time.Minute)
	ctx := context.Background()

	h.seed(t, "r1", []string{"python"})

	prop, err := conv.Propose(ctx, operator(), `add tag "language" to records tagged python`, false, false)
	require.NoError(t, err)
	require.NotEmpty(t, prop.SessionID)
	require.NotNil(t, prop.Preview)
	assert.Equal(t, 1, prop.Preview.MatchedCount)

	// Nothing applied yet.
	r, err := h.tiered.Get(ctx, "r1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, r.Tags)

	res, err := conv.Confirm(ctx, prop.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount)

	r, err = h.tiered.Get(ctx, "r1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"language", "python"}, r.Tags)

	// A session is single-use.
	_, err = conv.Confirm(ctx, prop.SessionID)
	assert.Error(t, err)
}

func TestConversational_AutoConfirmAppliesLowRisk(t *testing.T) {
	h := newHarness(t)
	conv := NewConversational(h.executor, time.Minute)
	ctx := context.Background()

	h.seed(t, "r1", []string{"python"})

	prop, err := conv.Propose(ctx, operator(), `add tag "language" to records tagged python`, false, true)
	require.NoError(t, err)
	require.NotNil(t, prop.Executed)
	assert.Equal(t, 1, prop.Executed.AffectedCount)
	assert.Empty(t, prop.SessionID)
}

func TestConversational_DestructiveNeverAutoConfirms(t *testing.T) {
	h := newHarness(t)
	conv := NewConversational(h.executor, time.Minute)
	ctx := context.Background()

	h.seed(t, "r1", []string{"junk"})

	prop, err := conv.Propose(ctx, operator(), "delete everything tagged junk", false, true)
	require.NoError(t, err)
	assert.Nil(t, prop.Executed)
	assert.NotEmpty(t, prop.SessionID)

	// Record untouched until confirmation.
	_, err = h.tiered.Get(ctx, "r1", "user-1")
	assert.NoError(t, err)
}

func TestConversational_DryRunOnlyPreviews(t *testing.T) {
	h := newHarness(t)
	conv := NewConversational(h.executor, time.Minute)
	ctx := context.Background()

	h.seed(t, "r1", []string{"python"})

	prop, err := conv.Propose(ctx, operator(), `add tag "x" to records tagged python`, true, false)
	require.NoError(t, err)
	assert.Empty(t, prop.SessionID)
	assert.Nil(t, prop.Executed)
	require.NotNil(t, prop.Preview)
	assert.Equal(t, 1, prop.Preview.MatchedCount)
}

func TestConversational_ExpiredSession(t *testing.T) {
	h := newHarness(t)
	conv := NewConversational(h.executor, time.Nanosecond)
	ctx := context.Background()

	h.seed(t, "r1", []string{"python"})
	prop, err := conv.Propose(ctx, operator(), `add tag "x" to records tagged python`, false, false)
	require.NoError(t, err)
	require.NotEmpty(t, prop.SessionID)

	time.Sleep(5 * time.Millisecond)
	_, err = conv.Confirm(ctx, prop.SessionID)
	assert.Error(t, err)

	assert.Zero(t, conv.ExpireSessions())
}

func TestConversational_Cancel(t *testing.T) {
	h := newHarness(t)
	conv := NewConversational(h.executor, time.Minute)
	ctx := context.Background()

	h.seed(t, "r1", []string{"python"})
	prop, err := conv.Propose(ctx, operator(), `add tag "x" to records tagged python`, false, false)
	require.NoError(t, err)

	assert.True(t, conv.Cancel(prop.SessionID))
	assert.False(t, conv.Cancel(prop.SessionID))
}
