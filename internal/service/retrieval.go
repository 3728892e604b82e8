package service

import (
	"context"
	"time"

	"mnemos/internal/index"
	"mnemos/internal/logging"
	"mnemos/internal/render"
)

// SearchRequest is the ranked retrieval surface.
type SearchRequest struct {
	UserID       string    `json:"user_id"`
	QueryText    string    `json:"query_text,omitempty"`
	QueryVector  []float32 `json:"query_vector,omitempty"`
	MinInfluence float64   `json:"min_influence,omitempty"`
	Sources      []string  `json:"sources,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	MinRelevance float64   `json:"min_relevance_score,omitempty"`
}

// maxSearchLimit caps the retrieval surface.
const maxSearchLimit = 50

// Search runs all four strategies with fusion ranking.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*index.Response, error) {
	limit := req.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return s.indexes.Search(ctx, index.Query{
		UserID:       req.UserID,
		QueryText:    req.QueryText,
		QueryVector:  req.QueryVector,
		MinInfluence: req.MinInfluence,
		Sources:      req.Sources,
		Tags:         req.Tags,
		From:         req.From,
		To:           req.To,
		Limit:        limit,
		MinRelevance: req.MinRelevance,
	})
}

// QueryRelevantForQuestion runs vector plus text fusion only, independent of
// the profile.
func (s *Service) QueryRelevantForQuestion(ctx context.Context, userID, question string, limit int, minRelevance float64) (*index.Response, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	return s.indexes.Search(ctx, index.Query{
		UserID:            userID,
		QueryText:         question,
		Limit:             limit,
		MinRelevance:      minRelevance,
		SkipHighInfluence: true,
		SkipRecent:        true,
	})
}

// ContextRequest is the profile context surface.
type ContextRequest struct {
	UserID         string `json:"user_id"`
	CurrentRequest string `json:"current_request,omitempty"`
}

// GetContext renders the user's profile view.
func (s *Service) GetContext(ctx context.Context, req ContextRequest) (*render.View, error) {
	return s.renderer.Render(ctx, req.UserID, req.CurrentRequest)
}

// Enhancement is the personalized-prompt response.
type Enhancement struct {
	PersonalizedPrompt  string         `json:"personalized_prompt"`
	KnowledgeComponents []index.Result `json:"knowledge_components"`
	PSPSummary          *render.View   `json:"psp_summary"`
	Degraded            bool           `json:"degraded,omitempty"`
}

// PersonalizedEnhancement combines the profile view with question-relevant
// knowledge into a ready-to-prepend prompt.
func (s *Service) PersonalizedEnhancement(ctx context.Context, userID, question string, contextLimit int) (*Enhancement, error) {
	timer := logging.StartTimer(logging.CategoryService, "PersonalizedEnhancement")
	defer timer.Stop()

	if contextLimit <= 0 || contextLimit > 10 {
		contextLimit = 10
	}

	view, err := s.renderer.Render(ctx, userID, question)
	if err != nil {
		return nil, err
	}

	knowledge, err := s.QueryRelevantForQuestion(ctx, userID, question, contextLimit, 0.3)
	if err != nil {
		logging.Get(logging.CategoryService).Warn("Knowledge retrieval failed for %s: %v", userID, err)
		knowledge = &index.Response{Degraded: true}
	}

	return &Enhancement{
		PersonalizedPrompt:  render.PersonalizedPrompt(view, question),
		KnowledgeComponents: knowledge.Results,
		PSPSummary:          view,
		Degraded:            knowledge.Degraded,
	}, nil
}
