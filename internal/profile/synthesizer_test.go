package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/intent"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, time.Minute, 0.7)
}

func learningIntent(id string, attn float64, vec []float32) intent.Intent {
	return intent.Intent{
		ID:          id,
		RecordID:    "rec-" + id,
		Kind:        intent.KindCoreInterest,
		Description: "Learning interest in: machine learning, validation",
		Embedding:   vec,
		Confidence:  0.8,
		Attention:   attn,
		SourceApp:   "browser_extension",
	}
}

func TestUpdate_CreatesComponent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	applied, err := e.Update(ctx, "user-1", []intent.Intent{learningIntent("i1", 0.6, []float32{1, 0, 0})})
	require.NoError(t, err)
	require.Equal(t, []UpdateKind{UpdateCreate}, applied)

	p, err := e.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Components, 1)

	c := p.Components[0]
	assert.Equal(t, intent.KindCoreInterest, c.Kind)
	assert.InDelta(t, 0.6, c.TotalAttention, 1e-9)
	assert.Len(t, c.Evidence, 1)
	assert.Equal(t, UpdateCreate, c.Evidence[0].UpdateKind)
	assert.InDelta(t, 1.0, c.NormalizedWeight, 1e-9)
	assert.Equal(t, PriorityHigh, c.Priority)
	assert.Equal(t, []string{"browser_extension"}, c.SourceApps)
}

func TestUpdate_StrengthenAccumulates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	attentions := []float64{0.6, 0.5, 0.7}
	var want float64
	for i, a := range attentions {
		applied, err := e.Update(ctx, "user-1", []intent.Intent{learningIntent("i"+string(rune('a'+i)), a, vec)})
		require.NoError(t, err)
		if i == 0 {
			want = a
			assert.Equal(t, UpdateCreate, applied[0])
		} else {
			want += 1.2 * a
			assert.Equal(t, UpdateStrengthen, applied[0])
		}
	}

	p, err := e.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Components, 1)
	assert.InDelta(t, want, p.Components[0].TotalAttention, 1e-6)
	assert.Len(t, p.Components[0].Evidence, 3)
}

func TestUpdate_ConfidenceSaturates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	vec := []float32{0, 1, 0}

	for i := 0; i < 10; i++ {
		_, err := e.Update(ctx, "user-1", []intent.Intent{learningIntent("i"+string(rune('a'+i)), 0.5, vec)})
		require.NoError(t, err)
	}

	p, err := e.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Components, 1)
	assert.InDelta(t, 1.0, p.Components[0].Confidence, 1e-9)
}

func TestUpdate_DissimilarCreatesSecondComponent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Update(ctx, "user-1", []intent.Intent{learningIntent("i1", 0.6, []float32{1, 0, 0})})
	require.NoError(t, err)

	other := learningIntent("i2", 0.6, []float32{0, 0, 1})
	other.Description = "Learning interest in: woodworking"
	applied, err := e.Update(ctx, "user-1", []intent.Intent{other})
	require.NoError(t, err)
	assert.Equal(t, UpdateCreate, applied[0])

	p, err := e.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, p.Components, 2)
}

func TestUpdate_KindNeverMatchesAcrossKinds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	_, err := e.Update(ctx, "user-1", []intent.Intent{learningIntent("i1", 0.6, vec)})
	require.NoError(t, err)

	goal := learningIntent("i2", 0.6, vec)
	goal.Kind = intent.KindCurrentGoal
	applied, err := e.Update(ctx, "user-1", []intent.Intent{goal})
	require.NoError(t, err)
	assert.Equal(t, UpdateCreate, applied[0], "identical embedding but different kind must create")
}

func TestUpdate_OrderedByAttentionDesc(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	low := learningIntent("low", 0.2, []float32{1, 0, 0})
	high := learningIntent("high", 0.9, []float32{0, 1, 0})
	high.Description = "Learning interest in: distributed systems"

	_, err := e.Update(ctx, "user-1", []intent.Intent{low, high})
	require.NoError(t, err)

	p, err := e.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Components, 2)

	// The high-attention intent applied first.
	assert.Equal(t, "high", p.Components[0].Evidence[0].IntentID)
}

func TestUpdate_DescriptionFallbackWhenNoEmbedding(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Update(ctx, "user-1", []intent.Intent{learningIntent("i1", 0.6, nil)})
	require.NoError(t, err)

	same := learningIntent("i2", 0.6, nil)
	applied, err := e.Update(ctx, "user-1", []intent.Intent{same})
	require.NoError(t, err)
	assert.Equal(t, UpdateStrengthen, applied[0], "identical description should strengthen")
}

func TestRebalance_SumsToOneAndStable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := learningIntent("i1", 0.6, []float32{1, 0, 0})
	b := learningIntent("i2", 0.3, []float32{0, 0, 1})
	b.Description = "Learning interest in: gardening"
	_, err := e.Update(ctx, "user-1", []intent.Intent{a, b})
	require.NoError(t, err)

	p, err := e.Get(ctx, "user-1")
	require.NoError(t, err)

	var sum float64
	for _, c := range p.Components {
		sum += c.NormalizedWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	before := make(map[string]float64)
	for _, c := range p.Components {
		before[c.ID] = c.NormalizedWeight
	}

	require.NoError(t, e.Rebalance(ctx, "user-1"))
	require.NoError(t, e.Rebalance(ctx, "user-1"))

	p, err = e.Get(ctx, "user-1")
	require.NoError(t, err)
	for _, c := range p.Components {
		assert.InDelta(t, before[c.ID], c.NormalizedWeight, 1e-9)
	}
}

func TestPriorityMapping(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityFor(0.2))
	assert.Equal(t, PriorityMedium, PriorityFor(0.1))
	assert.Equal(t, PriorityLow, PriorityFor(0.05))
}

func TestActiveSet(t *testing.T) {
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -30)
	recentActivation := now.Add(-24 * time.Hour)

	p := &Profile{UserID: "u", Components: []*Component{
		{ID: "high", Priority: PriorityHigh, UpdatedAt: old},
		{ID: "fresh", Priority: PriorityLow, UpdatedAt: now.Add(-time.Hour)},
		{ID: "activated", Priority: PriorityLow, UpdatedAt: old, LastActivatedAt: &recentActivation},
		{ID: "dormant", Priority: PriorityLow, UpdatedAt: old},
	}}

	active := p.ActiveSet(now)
	ids := make(map[string]bool)
	for _, c := range active {
		ids[c.ID] = true
	}
	assert.True(t, ids["high"])
	assert.True(t, ids["fresh"])
	assert.True(t, ids["activated"])
	assert.False(t, ids["dormant"])
}

func TestLayerFor(t *testing.T) {
	assert.Equal(t, LayerCore, LayerFor(intent.KindCoreInterest))
	assert.Equal(t, LayerCore, LayerFor(intent.KindPersonalValue))
	assert.Equal(t, LayerWorking, LayerFor(intent.KindCurrentGoal))
	assert.Equal(t, LayerWorking, LayerFor(intent.KindWorkContext))
	assert.Equal(t, LayerLearning, LayerFor(intent.KindLearningPreference))
	assert.Equal(t, LayerContext, LayerFor(intent.KindCommunicationStyle))
}

func TestArchive_LowWeightComponents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	heavy := learningIntent("i1", 0.9, []float32{1, 0, 0})
	light := learningIntent("i2", 0.01, []float32{0, 0, 1})
	light.Description = "Learning interest in: trivia"
	_, err := e.Update(ctx, "user-1", []intent.Intent{heavy, light})
	require.NoError(t, err)

	// Make the light component look stale.
	p, err := e.store.Load("user-1")
	require.NoError(t, err)
	for _, c := range p.Components {
		if c.NormalizedWeight < 0.05 {
			c.UpdatedAt = time.Now().UTC().AddDate(0, 0, -60)
		}
	}
	require.NoError(t, e.store.Save(p))
	e.Invalidate("user-1")

	archived, err := e.Archive(ctx, "user-1", 0.05, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	p, err = e.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, p.Components, 1)

	n, err := e.store.ArchivedCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActivationThreshold(t *testing.T) {
	assert.InDelta(t, 0.5, activationThreshold(0.5), 1e-9)
	assert.InDelta(t, 0.38, activationThreshold(0.9), 1e-9)
	assert.InDelta(t, 0.62, activationThreshold(0.1), 1e-9)
}

func TestMergeStrength(t *testing.T) {
	assert.Equal(t, 1.0, mergeStrength(0.9))
	assert.Equal(t, 0.8, mergeStrength(0.7))
	assert.Equal(t, 0.6, mergeStrength(0.5))
	assert.Equal(t, 0.3, mergeStrength(0.2))
}
