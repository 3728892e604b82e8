// Package render turns a user's profile into the context view downstream
// applications prepend to their LLM calls. Pure read over the profile
// engine's cached state.
package render

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mnemos/internal/embedding"
	"mnemos/internal/intent"
	"mnemos/internal/logging"
	"mnemos/internal/profile"
)

// Bucket caps for the rendered view.
const (
	maxCoreInterests       = 5
	maxCurrentGoals        = 3
	maxLearningPreferences = 3
	maxCommunicationStyle  = 2
	maxWorkContext         = 3
	maxHighPriorityFocus   = 3
	maxRelevantContext     = 5
)

// View is the rendered profile context.
type View struct {
	CoreInterests         []string  `json:"core_interests"`
	CurrentGoals          []string  `json:"current_goals"`
	LearningPreferences   []string  `json:"learning_preferences"`
	CommunicationStyle    []string  `json:"communication_style"`
	WorkContext           []string  `json:"work_context"`
	HighPriorityFocus     []string  `json:"high_priority_focus"`
	RelevantContext       []string  `json:"relevant_context"`
	ActiveComponentsCount int       `json:"active_components_count"`
	LastUpdated           time.Time `json:"last_updated"`
}

// Renderer renders context views.
type Renderer struct {
	engine *profile.Engine
	embed  embedding.Engine
}

// New creates a renderer. embed may be nil; request-relevance then falls
// back to recency ordering.
func New(engine *profile.Engine, embed embedding.Engine) *Renderer {
	return &Renderer{engine: engine, embed: embed}
}

// Render builds the view for a user. currentRequest is optional; when
// present and embeddable, relevant context is ranked by similarity to it.
func (r *Renderer) Render(ctx context.Context, userID, currentRequest string) (*View, error) {
	timer := logging.StartTimer(logging.CategoryRender, "Render")
	defer timer.Stop()

	p, err := r.engine.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	active := p.ActiveSet(now)

	view := &View{
		CoreInterests:         descriptions(selectByKind(p, intent.KindCoreInterest, false), maxCoreInterests),
		CurrentGoals:          descriptions(selectByKind(p, intent.KindCurrentGoal, true), maxCurrentGoals),
		LearningPreferences:   descriptions(selectByKind(p, intent.KindLearningPreference, false), maxLearningPreferences),
		CommunicationStyle:    descriptions(selectByKind(p, intent.KindCommunicationStyle, false), maxCommunicationStyle),
		WorkContext:           descriptions(selectByKind(p, intent.KindWorkContext, false), maxWorkContext),
		HighPriorityFocus:     descriptions(highPriority(p), maxHighPriorityFocus),
		ActiveComponentsCount: len(active),
		LastUpdated:           p.UpdatedAt,
	}

	relevant := r.relevantComponents(ctx, active, currentRequest)
	if len(relevant) > maxRelevantContext {
		relevant = relevant[:maxRelevantContext]
	}
	view.RelevantContext = descriptions(relevant, maxRelevantContext)

	if currentRequest != "" && len(relevant) > 0 {
		ids := make([]string, len(relevant))
		for i, c := range relevant {
			ids[i] = c.ID
		}
		r.engine.MarkActivated(ctx, userID, ids)
	}

	return view, nil
}

// selectByKind picks components of the kind with qualifying priority:
// high and medium normally, high only when highOnly is set (goals).
func selectByKind(p *profile.Profile, kind intent.Kind, highOnly bool) []*profile.Component {
	var out []*profile.Component
	for _, c := range p.ByKind(kind) {
		if c.Priority == profile.PriorityHigh || (!highOnly && c.Priority == profile.PriorityMedium) {
			out = append(out, c)
		}
	}
	sortByWeight(out)
	return out
}

func highPriority(p *profile.Profile) []*profile.Component {
	var out []*profile.Component
	for _, c := range p.Components {
		if c.Priority == profile.PriorityHigh {
			out = append(out, c)
		}
	}
	sortByWeight(out)
	return out
}

// relevantComponents orders the active set for the request: by cosine
// similarity to the request embedding when available, else by most recently
// updated.
func (r *Renderer) relevantComponents(ctx context.Context, active []*profile.Component, request string) []*profile.Component {
	out := append([]*profile.Component(nil), active...)

	if request != "" && r.embed != nil {
		if qvec, err := r.embed.Embed(ctx, request); err == nil {
			sort.SliceStable(out, func(i, j int) bool {
				return embedding.CosineSimilarity(qvec, out[i].Embedding) >
					embedding.CosineSimilarity(qvec, out[j].Embedding)
			})
			return out
		}
		logging.Get(logging.CategoryRender).Warn("Request embedding failed, using recency order")
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func sortByWeight(cs []*profile.Component) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].NormalizedWeight > cs[j].NormalizedWeight
	})
}

func descriptions(cs []*profile.Component, limit int) []string {
	if len(cs) > limit {
		cs = cs[:limit]
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Description
	}
	return out
}

// PersonalizedPrompt renders the view as plain text tailored to a question,
// for the personalized enhancement surface.
func PersonalizedPrompt(v *View, question string) string {
	var b strings.Builder
	b.WriteString("You are assisting a user with the following personal context.\n")

	writeSection := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	writeSection("Core interests", v.CoreInterests)
	writeSection("Current goals", v.CurrentGoals)
	writeSection("Learning preferences", v.LearningPreferences)
	writeSection("Communication style", v.CommunicationStyle)
	writeSection("Work context", v.WorkContext)
	writeSection("Most relevant to this request", v.RelevantContext)

	if question != "" {
		fmt.Fprintf(&b, "\nUser question: %s\n", question)
	}
	return b.String()
}
