package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/embedding"
	"mnemos/internal/intent"
	"mnemos/internal/profile"
)

func newTestRenderer(t *testing.T) (*Renderer, *profile.Engine) {
	t.Helper()
	store, err := profile.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	engine := profile.NewEngine(store, time.Minute, 0.7)
	return New(engine, embedding.NewLocalEngine(32)), engine
}

func seedIntents(t *testing.T, engine *profile.Engine, intents ...intent.Intent) {
	t.Helper()
	byID := map[string][]intent.Intent{}
	for _, in := range intents {
		byID["user-1"] = append(byID["user-1"], in)
	}
	for user, ins := range byID {
		_, err := engine.Update(context.Background(), user, ins)
		require.NoError(t, err)
	}
}

func mkIntent(id string, kind intent.Kind, desc string, attn float64, vec []float32) intent.Intent {
	return intent.Intent{
		ID:          id,
		RecordID:    "rec-" + id,
		Kind:        kind,
		Description: desc,
		Embedding:   vec,
		Confidence:  0.8,
		Attention:   attn,
		SourceApp:   "browser_extension",
	}
}

func TestRender_BucketsByKind(t *testing.T) {
	r, engine := newTestRenderer(t)
	ctx := context.Background()

	seedIntents(t, engine,
		mkIntent("i1", intent.KindCoreInterest, "Learning interest in: machine learning", 0.9, []float32{1, 0}),
		mkIntent("i2", intent.KindCurrentGoal, "Persistent goal related to: ml course", 0.8, []float32{0, 1}),
		mkIntent("i3", intent.KindCommunicationStyle, "Communication style: positive", 0.5, []float32{1, 1}),
	)

	view, err := r.Render(ctx, "user-1", "")
	require.NoError(t, err)

	assert.Contains(t, view.CoreInterests, "Learning interest in: machine learning")
	assert.Contains(t, view.CurrentGoals, "Persistent goal related to: ml course")
	assert.NotZero(t, view.ActiveComponentsCount)
	assert.False(t, view.LastUpdated.IsZero())
}

func TestRender_GoalsRequireHighPriority(t *testing.T) {
	r, engine := newTestRenderer(t)
	ctx := context.Background()

	// Many heavy core interests push the single goal below the high bar.
	intents := []intent.Intent{
		mkIntent("g", intent.KindCurrentGoal, "Persistent goal related to: something", 0.1, []float32{0, 1}),
	}
	descs := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}
	for i, d := range descs {
		vec := make([]float32, 8)
		vec[i] = 1
		intents = append(intents, mkIntent("c"+d, intent.KindCoreInterest, "Learning interest in: "+d, 0.9, vec))
	}
	seedIntents(t, engine, intents...)

	view, err := r.Render(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, view.CurrentGoals, "medium/low priority goals are excluded")
}

func TestRender_CapsRespected(t *testing.T) {
	r, engine := newTestRenderer(t)
	ctx := context.Background()

	var intents []intent.Intent
	for i := 0; i < 10; i++ {
		vec := make([]float32, 16)
		vec[i] = 1
		intents = append(intents, mkIntent(
			"i"+string(rune('a'+i)), intent.KindCoreInterest,
			"Learning interest in: topic "+string(rune('a'+i)), 0.9, vec))
	}
	seedIntents(t, engine, intents...)

	view, err := r.Render(ctx, "user-1", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(view.CoreInterests), 5)
	assert.LessOrEqual(t, len(view.HighPriorityFocus), 3)
	assert.LessOrEqual(t, len(view.RelevantContext), 5)
}

func TestRender_MarksActivationOnRequest(t *testing.T) {
	r, engine := newTestRenderer(t)
	ctx := context.Background()

	seedIntents(t, engine,
		mkIntent("i1", intent.KindCoreInterest, "Learning interest in: databases", 0.9, []float32{1, 0}))

	_, err := r.Render(ctx, "user-1", "tell me about databases")
	require.NoError(t, err)

	p, err := engine.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Components, 1)
	assert.NotNil(t, p.Components[0].LastActivatedAt)
}

func TestPersonalizedPrompt(t *testing.T) {
	v := &View{
		CoreInterests:      []string{"Learning interest in: machine learning"},
		CommunicationStyle: []string{"Communication style: concise"},
	}
	got := PersonalizedPrompt(v, "how do I tune hyperparameters?")

	assert.Contains(t, got, "Core interests")
	assert.Contains(t, got, "machine learning")
	assert.Contains(t, got, "Communication style")
	assert.Contains(t, got, "how do I tune hyperparameters?")
	assert.NotContains(t, got, "Current goals", "empty sections are omitted")
}
