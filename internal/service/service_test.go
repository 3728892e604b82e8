package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/attention"
	"mnemos/internal/audit"
	"mnemos/internal/embedding"
	"mnemos/internal/enrich"
	"mnemos/internal/index"
	"mnemos/internal/intent"
	"mnemos/internal/permission"
	"mnemos/internal/profile"
	"mnemos/internal/record"
	"mnemos/internal/render"
	"mnemos/internal/store"
	"mnemos/internal/write"
)

type harness struct {
	svc      *Service
	tiered   *store.Tiered
	profiles *profile.Engine
	auditLog *audit.Log
	checker  *permission.Checker
}

type harnessOptions struct {
	vectorIndex bool
	hotTier     bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	engine := embedding.NewLocalEngine(64)

	warm, err := store.NewWarmTier(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { warm.Close() })

	cold, err := store.NewColdTier(t.TempDir())
	require.NoError(t, err)

	var hot *store.HotTier
	if opts.hotTier {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		hot = store.NewHotTierFromClient(client, time.Hour, 1000)
	}

	tiered := store.NewTiered(hot, warm, cold, store.Config{
		Policy:   record.DefaultTierPolicy(),
		CacheTTL: time.Second,
	})

	var indexEngine embedding.Engine
	if opts.vectorIndex {
		indexEngine = engine
	}
	indexes, err := index.NewManager(warm, tiered, indexEngine, index.Config{
		EnableVector:   opts.vectorIndex,
		EnableFulltext: true,
	})
	require.NoError(t, err)

	pipeline := enrich.New(engine, nil)
	scorer := attention.NewScorer()

	profileStore, err := profile.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { profileStore.Close() })
	profiles := profile.NewEngine(profileStore, time.Minute, 0.7)

	renderer := render.New(profiles, engine)

	checker := permission.NewChecker(permission.LevelWriteFull, 1000, 100)

	auditLog, err := audit.NewLog(filepath.Join(t.TempDir(), "audit"))
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	backups, err := write.NewBackupStore(filepath.Join(t.TempDir(), "backups"), time.Hour)
	require.NoError(t, err)

	executor := write.NewExecutor(tiered, indexes, checker, auditLog, backups, nil, 100, 1000)
	conv := write.NewConversational(executor, time.Minute)

	svc := New(tiered, indexes, pipeline, scorer, profiles, renderer, executor, conv,
		checker, auditLog, Limits{})
	executor.SetReprocessor(svc.Reprocess)

	return &harness{svc: svc, tiered: tiered, profiles: profiles, auditLog: auditLog, checker: checker}
}

func learningDraft(id string, daysAgo int) record.Draft {
	return record.Draft{
		ID:        id,
		UserID:    "user-1",
		Timestamp: time.Now().UTC().AddDate(0, 0, -daysAgo).Format(time.RFC3339),
		Source:    "browser_extension",
		Highlight: "Machine learning models require careful validation",
		Note: "To learn cross-validation properly it is important to understand why held-out folds " +
			"estimate generalization: the key steps are splitting data and rotating folds across rounds.",
		Address: "https://example.com/ml-validation",
		Tags:    []string{"ml", "validation"},
		Access:  "private",
	}
}

// Scenario: a single learning note flows through the whole pipeline.
func TestSubmitBatch_SingleLearningNote(t *testing.T) {
	h := newHarness(t, harnessOptions{vectorIndex: true, hotTier: true})
	ctx := context.Background()

	resp, err := h.svc.SubmitBatch(ctx, BatchRequest{
		AppID:   "browser_extension",
		UserID:  "user-1",
		Records: []record.Draft{learningDraft("note-1", 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.ProcessedCount)
	assert.Empty(t, resp.Errors)

	r, err := h.tiered.Get(ctx, "note-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, record.TierHot, r.Tier, "fresh record lands hot")
	assert.GreaterOrEqual(t, r.Quality, 0.5)
	assert.GreaterOrEqual(t, r.Attention, 0.1)
	assert.NotEmpty(t, r.Embedding)

	p, err := h.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, p.Components)
	var hasCoreInterest bool
	for _, c := range p.Components {
		if c.Kind == intent.KindCoreInterest {
			hasCoreInterest = true
		}
	}
	assert.True(t, hasCoreInterest, "learning note must yield a core_interest component")

	view, err := h.svc.GetContext(ctx, ContextRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, view.CoreInterests)
}

// Scenario: repeated visits to one address become a current goal.
func TestSubmitBatch_RepeatedRevisitYieldsGoal(t *testing.T) {
	h := newHarness(t, harnessOptions{vectorIndex: true, hotTier: true})
	ctx := context.Background()

	addr := "https://example.com/course"
	for i := 0; i < 4; i++ {
		draft := record.Draft{
			ID:        fmt.Sprintf("visit-%d", i),
			UserID:    "user-1",
			Timestamp: time.Now().UTC().AddDate(0, 0, -(9 - 3*i)).Format(time.RFC3339),
			Source:    "browser_extension",
			Highlight: "distributed systems course notes",
			Note:      "session notes",
			Address:   addr,
			Tags:      []string{"course"},
		}
		resp, err := h.svc.SubmitBatch(ctx, BatchRequest{UserID: "user-1", Records: []record.Draft{draft}})
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, resp.Status)
	}

	p, err := h.profiles.Get(ctx, "user-1")
	require.NoError(t, err)

	var goal *profile.Component
	for _, c := range p.Components {
		if c.Kind == intent.KindCurrentGoal {
			goal = c
		}
	}
	require.NotNil(t, goal, "fourth visit must yield a current_goal")
	assert.GreaterOrEqual(t, goal.Confidence, 0.4)
	assert.Equal(t, profile.LayerWorking, goal.Layer())
}

func TestSubmitBatch_ValidationErrorsAreReportedPerItem(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	bad := record.Draft{ID: "bad", UserID: "user-1", Timestamp: "nonsense", Source: "app"}
	resp, err := h.svc.SubmitBatch(ctx, BatchRequest{
		UserID:  "user-1",
		Records: []record.Draft{learningDraft("good", 0), bad},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, 1, resp.ProcessedCount)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "bad", resp.Errors[0].ID)
}

func TestSubmitBatch_Idempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := h.svc.SubmitBatch(ctx, BatchRequest{
			UserID:  "user-1",
			Records: []record.Draft{learningDraft("dup", 0)},
		})
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, resp.Status)
	}

	ids, _, err := h.tiered.QueryByFilter(ctx, store.QueryFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, ids, 1, "same id ingests once")
}

func TestSubmitBatch_OversizeBatchRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	var drafts []record.Draft
	for i := 0; i < 101; i++ {
		drafts = append(drafts, learningDraft(fmt.Sprintf("r%03d", i), 0))
	}
	resp, err := h.svc.SubmitBatch(ctx, BatchRequest{UserID: "user-1", Records: drafts})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, resp.Status)
}

// Scenario: retrieval with the vector index disabled degrades to text +
// influence + recency and flags the response.
func TestSearch_DegradedWithoutVectorIndex(t *testing.T) {
	h := newHarness(t, harnessOptions{vectorIndex: false})
	ctx := context.Background()

	_, err := h.svc.SubmitBatch(ctx, BatchRequest{
		UserID:  "user-1",
		Records: []record.Draft{learningDraft("note-1", 0)},
	})
	require.NoError(t, err)

	resp, err := h.svc.Search(ctx, SearchRequest{UserID: "user-1", QueryText: "validation"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "note-1", resp.Results[0].ID)
}

func TestQueryRelevantForQuestion(t *testing.T) {
	h := newHarness(t, harnessOptions{vectorIndex: true})
	ctx := context.Background()

	_, err := h.svc.SubmitBatch(ctx, BatchRequest{
		UserID:  "user-1",
		Records: []record.Draft{learningDraft("note-1", 0)},
	})
	require.NoError(t, err)

	resp, err := h.svc.QueryRelevantForQuestion(ctx, "user-1", "how should I validate models", 10, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
}

func TestPersonalizedEnhancement(t *testing.T) {
	h := newHarness(t, harnessOptions{vectorIndex: true})
	ctx := context.Background()

	_, err := h.svc.SubmitBatch(ctx, BatchRequest{
		UserID:  "user-1",
		Records: []record.Draft{learningDraft("note-1", 0)},
	})
	require.NoError(t, err)

	enh, err := h.svc.PersonalizedEnhancement(ctx, "user-1", "model validation tips", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, enh.PersonalizedPrompt)
	assert.Contains(t, enh.PersonalizedPrompt, "model validation tips")
	require.NotNil(t, enh.PSPSummary)
}

// Scenario: governed bulk tag through the service, then write history.
func TestWrite_BulkTagAndHistory(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	draft := learningDraft("note-1", 0)
	draft.Tags = []string{"python"}
	_, err := h.svc.SubmitBatch(ctx, BatchRequest{UserID: "user-1", Records: []record.Draft{draft}})
	require.NoError(t, err)

	op := write.Operator{UserID: "user-1", SourceApp: "cli"}

	// Dry run first: store unchanged, audit previewed.
	res, err := h.svc.Write(ctx, WriteRequest{
		Operator: op, Op: "bulk_tag",
		Filter: write.Filter{Tags: []string{"python"}},
		Tags:   []string{"programming-language"},
		DryRun: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MatchedCount)
	assert.Zero(t, res.AffectedCount)

	r, err := h.tiered.Get(ctx, "note-1", "user-1")
	require.NoError(t, err)
	assert.NotContains(t, r.Tags, "programming-language")

	// Apply.
	res, err = h.svc.Write(ctx, WriteRequest{
		Operator: op, Op: "bulk_tag",
		Filter: write.Filter{Tags: []string{"python"}},
		Tags:   []string{"programming-language"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount)

	r, err = h.tiered.Get(ctx, "note-1", "user-1")
	require.NoError(t, err)
	assert.Contains(t, r.Tags, "programming-language")
	assert.Contains(t, r.Tags, "python")

	history, err := h.svc.WriteHistory(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestReprocess_TierRerouting(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.svc.SubmitBatch(ctx, BatchRequest{
		UserID:  "user-1",
		Records: []record.Draft{learningDraft("note-1", 0)},
	})
	require.NoError(t, err)

	r, err := h.tiered.Get(ctx, "note-1", "user-1")
	require.NoError(t, err)

	mutated := r.Clone()
	mutated.Note = "updated content that changes the enrichment outputs entirely"
	require.NoError(t, h.svc.Reprocess(ctx, mutated, true))

	got, err := h.tiered.Get(ctx, "note-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, mutated.Note, got.Note)
	assert.Equal(t, h.tiered.Policy().TierFor(got.Influence, 0), got.Tier)
}

func TestSubmitBatch_SoftDeletedRecordRevives(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.svc.SubmitBatch(ctx, BatchRequest{UserID: "user-1", Records: []record.Draft{learningDraft("r1", 0)}})
	require.NoError(t, err)
	require.NoError(t, h.tiered.SoftDelete(ctx, "r1", "user-1"))

	resp, err := h.svc.SubmitBatch(ctx, BatchRequest{UserID: "user-1", Records: []record.Draft{learningDraft("r1", 0)}})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)

	r, err := h.tiered.Get(ctx, "r1", "user-1")
	require.NoError(t, err)
	assert.False(t, r.Deleted)
}
