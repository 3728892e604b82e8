package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemos/internal/embedding"
	"mnemos/internal/intent"
	"mnemos/internal/logging"
	"mnemos/internal/metrics"
)

// Match thresholds: similarity above matchThreshold finds a candidate; the
// band then selects the action.
const (
	strengthenThreshold = 0.9
	updateThreshold     = 0.8
)

// Engine synthesizes intents into per-user profiles. Updates to one user are
// serialized by a user-scoped lock; different users proceed in parallel.
type Engine struct {
	store          *Store
	cache          *profileCache
	matchThreshold float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a synthesis engine backed by the given store.
func NewEngine(store *Store, cacheTTL time.Duration, matchThreshold float64) *Engine {
	if matchThreshold <= 0 {
		matchThreshold = 0.7
	}
	return &Engine{
		store:          store,
		cache:          newProfileCache(cacheTTL),
		matchThreshold: matchThreshold,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// Get returns the user's profile, from cache when fresh.
func (e *Engine) Get(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := e.cache.get(userID); ok {
		return p, nil
	}
	p, err := e.store.Load(userID)
	if err != nil {
		return nil, err
	}
	e.cache.put(p)
	return p, nil
}

// Update applies a batch of intents to the user's profile: match against
// same-kind components, pick an action from the similarity band, apply, then
// rebalance. Intents apply in descending attention order, ties by arrival
// order. Returns the update kinds applied, parallel to the sorted intents.
func (e *Engine) Update(ctx context.Context, userID string, intents []intent.Intent) ([]UpdateKind, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	timer := logging.StartTimer(logging.CategoryProfile, "Update")
	defer timer.Stop()

	p, err := e.store.Load(userID)
	if err != nil {
		return nil, err
	}

	ordered := make([]intent.Intent, len(intents))
	copy(ordered, intents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Attention > ordered[j].Attention
	})

	now := time.Now().UTC()
	applied := make([]UpdateKind, 0, len(ordered))
	for _, in := range ordered {
		kind := e.applyIntent(p, in, now)
		applied = append(applied, kind)
		metrics.ProfileUpdates.WithLabelValues(string(kind)).Inc()
	}

	rebalance(p)
	p.UpdatedAt = now

	if err := e.store.Save(p); err != nil {
		return nil, fmt.Errorf("profile save failed for %s: %w", userID, err)
	}
	e.cache.put(p)

	logging.Profile("Updated profile %s: %d intents, %d components", userID, len(ordered), len(p.Components))
	return applied, nil
}

// applyIntent matches one intent and applies the banded action.
func (e *Engine) applyIntent(p *Profile, in intent.Intent, now time.Time) UpdateKind {
	best, similarity := e.bestMatch(p, in)

	switch {
	case best != nil && similarity > strengthenThreshold:
		e.strengthen(best, in, now)
		return UpdateStrengthen
	case best != nil && similarity > updateThreshold:
		e.update(best, in, now, mergeStrength(in.Attention), in.Attention, UpdateUpdate)
		return UpdateUpdate
	case best != nil && similarity > e.matchThreshold:
		e.update(best, in, now, 0.5*mergeStrength(in.Attention), 0.8*in.Attention, UpdateMerge)
		return UpdateMerge
	default:
		e.create(p, in, now)
		return UpdateCreate
	}
}

// bestMatch finds the most similar same-kind component above the match
// threshold. Embedding similarity when both sides carry vectors; otherwise
// description word overlap. Indeterminate comparisons default to no match,
// which creates a new component.
func (e *Engine) bestMatch(p *Profile, in intent.Intent) (*Component, float64) {
	var best *Component
	bestScore := e.matchThreshold
	for _, c := range p.ByKind(in.Kind) {
		var score float64
		if len(in.Embedding) > 0 && len(c.Embedding) > 0 {
			score = embedding.CosineSimilarity(in.Embedding, c.Embedding)
		} else {
			score = descriptionSimilarity(in.Description, c.Description)
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

func (e *Engine) create(p *Profile, in intent.Intent, now time.Time) {
	c := &Component{
		ID:                  "psp_" + uuid.NewString(),
		UserID:              p.UserID,
		Kind:                in.Kind,
		Description:         in.Description,
		Embedding:           append([]float32(nil), in.Embedding...),
		Confidence:          in.Confidence,
		TotalAttention:      in.Attention,
		ActivationThreshold: activationThreshold(in.Attention),
		Evidence:            []Evidence{evidenceFrom(in, now, UpdateCreate)},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	c.addSourceApp(in.SourceApp)
	p.Components = append(p.Components, c)
	logging.ProfileDebug("Created component %s kind=%s for %s", c.ID, c.Kind, p.UserID)
}

func (e *Engine) update(c *Component, in intent.Intent, now time.Time, strength, attention float64, kind UpdateKind) {
	if len(in.Embedding) > 0 && len(c.Embedding) > 0 {
		c.Embedding = embedding.WeightedMerge(c.Embedding, in.Embedding, clampMerge(strength))
	} else if len(c.Embedding) == 0 {
		c.Embedding = append([]float32(nil), in.Embedding...)
	}
	c.TotalAttention += attention
	c.ActivationThreshold = activationThreshold(in.Attention)
	c.Evidence = append(c.Evidence, evidenceFrom(in, now, kind))
	c.UpdatedAt = now
	c.addSourceApp(in.SourceApp)
}

func (e *Engine) strengthen(c *Component, in intent.Intent, now time.Time) {
	c.TotalAttention += 1.2 * in.Attention
	c.Confidence += 0.1
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	c.Evidence = append(c.Evidence, evidenceFrom(in, now, UpdateStrengthen))
	c.UpdatedAt = now
	c.addSourceApp(in.SourceApp)
}

// Rebalance recomputes normalized weights and priorities for the user.
// Stable: rebalancing twice with no new intents is a no-op.
func (e *Engine) Rebalance(ctx context.Context, userID string) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.store.Load(userID)
	if err != nil {
		return err
	}
	rebalance(p)
	if err := e.store.Save(p); err != nil {
		return err
	}
	e.cache.put(p)
	return nil
}

func rebalance(p *Profile) {
	var total float64
	for _, c := range p.Components {
		total += c.TotalAttention
	}
	if total == 0 {
		for _, c := range p.Components {
			c.NormalizedWeight = 0
			c.Priority = PriorityLow
		}
		return
	}
	for _, c := range p.Components {
		c.NormalizedWeight = c.TotalAttention / total
		c.Priority = PriorityFor(c.NormalizedWeight)
	}
}

// ActiveSet returns the ids of currently active components.
func (e *Engine) ActiveSet(ctx context.Context, userID string) ([]string, error) {
	p, err := e.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := p.ActiveSet(time.Now().UTC())
	ids := make([]string, len(active))
	for i, c := range active {
		ids[i] = c.ID
	}
	return ids, nil
}

// MarkActivated stamps components as activated (the renderer calls this for
// components it selects against a request).
func (e *Engine) MarkActivated(ctx context.Context, userID string, componentIDs []string) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.store.Load(userID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	set := make(map[string]bool, len(componentIDs))
	for _, id := range componentIDs {
		set[id] = true
	}
	touched := false
	for _, c := range p.Components {
		if set[c.ID] {
			c.Touch(now)
			touched = true
		}
	}
	if touched {
		if err := e.store.Save(p); err != nil {
			logging.Get(logging.CategoryProfile).Warn("Activation save failed for %s: %v", userID, err)
			return
		}
		e.cache.put(p)
	}
}

// Invalidate drops the user's cached profile (the write path calls this
// after deletions that touch evidence).
func (e *Engine) Invalidate(userID string) { e.cache.drop(userID) }

// Archive moves components whose normalized weight is currently below floor
// and that have not been updated for longer than after out of the live set.
// How long a weight has been below the floor is not tracked. Returns the
// count archived.
func (e *Engine) Archive(ctx context.Context, userID string, floor float64, after time.Duration) (int, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.store.Load(userID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	kept := p.Components[:0]
	var archived []*Component
	for _, c := range p.Components {
		if c.NormalizedWeight < floor && now.Sub(c.UpdatedAt) > after {
			archived = append(archived, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(archived) == 0 {
		return 0, nil
	}
	p.Components = kept
	rebalance(p)
	if err := e.store.SaveWithArchive(p, archived); err != nil {
		return 0, err
	}
	e.cache.put(p)
	logging.Profile("Archived %d low-weight components for %s", len(archived), userID)
	return len(archived), nil
}

// DeleteComponent permanently removes a component at the user's request.
func (e *Engine) DeleteComponent(ctx context.Context, userID, componentID string) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.store.Load(userID)
	if err != nil {
		return err
	}
	kept := p.Components[:0]
	found := false
	for _, c := range p.Components {
		if c.ID == componentID {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return fmt.Errorf("component %s not found for user %s", componentID, userID)
	}
	p.Components = kept
	rebalance(p)
	if err := e.store.Save(p); err != nil {
		return err
	}
	e.store.DeleteComponent(componentID)
	e.cache.put(p)
	return nil
}

func evidenceFrom(in intent.Intent, now time.Time, kind UpdateKind) Evidence {
	return Evidence{
		IntentID:   in.ID,
		RecordID:   in.RecordID,
		Attention:  in.Attention,
		Timestamp:  now,
		Source:     in.SourceApp,
		UpdateKind: kind,
	}
}

func clampMerge(w float64) float64 {
	if w < 0.1 {
		return 0.1
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}

// descriptionSimilarity is the fallback comparator when embeddings are
// missing: word-set Jaccard over the two descriptions.
func descriptionSimilarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(wa)+len(wb)-inter)
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}
