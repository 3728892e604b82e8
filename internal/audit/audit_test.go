package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	log, err := NewLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	for i, outcome := range []Outcome{OutcomeAllowed, OutcomePreviewed, OutcomeApplied} {
		require.NoError(t, log.Append(Entry{
			OperationID:   "op-1",
			UserID:        "user-1",
			Op:            "bulk_tag",
			Risk:          "medium",
			Outcome:       outcome,
			AffectedCount: i,
		}))
	}
	require.NoError(t, log.Append(Entry{OperationID: "op-2", UserID: "user-2", Op: "delete", Outcome: OutcomeDenied}))

	entries, err := log.Recent("user-1", 10, 7)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "user-1", e.UserID)
	}

	all, err := log.Recent("", 10, 7)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRecent_LimitAndOrder(t *testing.T) {
	log, err := NewLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(Entry{
			OperationID: string(rune('a' + i)),
			UserID:      "user-1",
			Op:          "create",
			Outcome:     OutcomeApplied,
			Time:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := log.Recent("user-1", 3, 7)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].OperationID, "newest first")
	assert.True(t, entries[0].Time.After(entries[1].Time))
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLog(dir)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(Entry{UserID: "u", Op: "create", Outcome: OutcomeApplied}))

	// Nothing older than the retention window yet.
	removed, err := log.Rotate(30)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestAppend_SetsTime(t *testing.T) {
	log, err := NewLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(Entry{UserID: "u", Op: "create", Outcome: OutcomeApplied}))
	entries, err := log.Recent("u", 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Time.IsZero())
}
