// Package service is the facade over the personalization pipeline: batch
// ingestion, profile context, retrieval, and governed writes. Transport is
// someone else's problem; callers hand in structs and get structs back.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mnemos/internal/attention"
	"mnemos/internal/audit"
	"mnemos/internal/enrich"
	"mnemos/internal/index"
	"mnemos/internal/intent"
	"mnemos/internal/logging"
	"mnemos/internal/metrics"
	"mnemos/internal/permission"
	"mnemos/internal/profile"
	"mnemos/internal/record"
	"mnemos/internal/render"
	"mnemos/internal/store"
	"mnemos/internal/write"
)

// ErrBusy is returned when ingestion backpressure rejects a batch.
// Retryable.
var ErrBusy = errors.New("service: too many in-flight batches, retry later")

// Limits bounds ingestion concurrency.
type Limits struct {
	MaxBatchRecords  int
	MaxInflightBatch int
	UserQueueDepth   int
	Deadline         time.Duration
}

// Service wires the pipeline components.
type Service struct {
	tiered   *store.Tiered
	indexes  *index.Manager
	pipeline *enrich.Pipeline
	scorer   *attention.Scorer
	profiles *profile.Engine
	renderer *render.Renderer
	executor *write.Executor
	conv     *write.Conversational
	checker  *permission.Checker
	auditLog *audit.Log
	limits   Limits

	batchGate *semaphore.Weighted

	mu        sync.Mutex
	userGates map[string]*semaphore.Weighted
}

// New assembles the service.
func New(tiered *store.Tiered, indexes *index.Manager, pipeline *enrich.Pipeline,
	scorer *attention.Scorer, profiles *profile.Engine, renderer *render.Renderer,
	executor *write.Executor, conv *write.Conversational, checker *permission.Checker,
	auditLog *audit.Log, limits Limits) *Service {

	if limits.MaxBatchRecords <= 0 {
		limits.MaxBatchRecords = 100
	}
	if limits.MaxInflightBatch <= 0 {
		limits.MaxInflightBatch = 16
	}
	if limits.UserQueueDepth <= 0 {
		limits.UserQueueDepth = 4
	}
	if limits.Deadline <= 0 {
		limits.Deadline = 30 * time.Second
	}

	return &Service{
		tiered:    tiered,
		indexes:   indexes,
		pipeline:  pipeline,
		scorer:    scorer,
		profiles:  profiles,
		renderer:  renderer,
		executor:  executor,
		conv:      conv,
		checker:   checker,
		auditLog:  auditLog,
		limits:    limits,
		batchGate: semaphore.NewWeighted(int64(limits.MaxInflightBatch)),
		userGates: make(map[string]*semaphore.Weighted),
	}
}

func (s *Service) userGate(userID string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.userGates[userID]
	if !ok {
		g = semaphore.NewWeighted(int64(s.limits.UserQueueDepth))
		s.userGates[userID] = g
	}
	return g
}

// BatchStatus summarizes a batch outcome.
type BatchStatus string

const (
	StatusSuccess BatchStatus = "success"
	StatusPartial BatchStatus = "partial"
	StatusFailed  BatchStatus = "failed"
)

// ItemError reports one rejected or degraded record in a batch.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchRequest is the ingestion envelope.
type BatchRequest struct {
	AppID   string         `json:"app_id"`
	UserID  string         `json:"user_id"`
	Records []record.Draft `json:"records"`
}

// BatchResponse reports per-batch results.
type BatchResponse struct {
	Status         BatchStatus `json:"status"`
	ProcessedCount int         `json:"processed_count"`
	Errors         []ItemError `json:"errors,omitempty"`
	Degraded       bool        `json:"degraded,omitempty"`
}

// SubmitBatch ingests up to the batch limit of records for one user:
// validate and enrich in parallel, then score, route, store, index, and feed
// the profile engine before returning. Profile updates derived from the
// batch complete before the call returns.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	started := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(started).Seconds()) }()

	if req.UserID == "" {
		return &BatchResponse{Status: StatusFailed}, fmt.Errorf("user_id required")
	}
	if len(req.Records) == 0 {
		return &BatchResponse{Status: StatusSuccess}, nil
	}
	if len(req.Records) > s.limits.MaxBatchRecords {
		return &BatchResponse{Status: StatusFailed},
			fmt.Errorf("batch of %d exceeds limit %d", len(req.Records), s.limits.MaxBatchRecords)
	}

	if !s.batchGate.TryAcquire(1) {
		return &BatchResponse{Status: StatusFailed}, ErrBusy
	}
	defer s.batchGate.Release(1)

	gate := s.userGate(req.UserID)
	if !gate.TryAcquire(1) {
		return &BatchResponse{Status: StatusFailed}, ErrBusy
	}
	defer gate.Release(1)

	ctx, cancel := context.WithTimeout(ctx, s.limits.Deadline)
	defer cancel()

	resp := &BatchResponse{}

	// Validate and normalize; bad items are reported, the batch continues.
	normalized := make([]*record.Record, 0, len(req.Records))
	for _, draft := range req.Records {
		if draft.Source == "" {
			draft.Source = req.AppID
		}
		if errs := record.Validate(draft); len(errs) > 0 {
			resp.Errors = append(resp.Errors, ItemError{ID: draft.ID, Reason: errs[0].Error()})
			continue
		}
		r, err := record.Normalize(draft)
		if err != nil {
			resp.Errors = append(resp.Errors, ItemError{ID: draft.ID, Reason: err.Error()})
			continue
		}
		if r.UserID != req.UserID {
			resp.Errors = append(resp.Errors, ItemError{ID: draft.ID, Reason: "user_id does not match batch"})
			continue
		}
		normalized = append(normalized, r)
	}

	// Enrichment fans out; stages inside each record stay ordered.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, r := range normalized {
		r := r
		g.Go(func() error {
			s.pipeline.Enrich(gctx, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resp, err
	}

	// Score, route, and store sequentially so later records in the batch see
	// earlier ones in their history window.
	var allIntents []intent.Intent
	for _, r := range normalized {
		if err := s.processOne(ctx, r, &allIntents, resp); err != nil {
			resp.Errors = append(resp.Errors, ItemError{ID: r.ID, Reason: err.Error()})
			continue
		}
		resp.ProcessedCount++
	}

	// Profile updates for the batch's user apply before returning, ordered
	// by descending attention inside the engine.
	if len(allIntents) > 0 {
		if _, err := s.profiles.Update(ctx, req.UserID, allIntents); err != nil {
			logging.Get(logging.CategoryService).Error("Profile update failed for %s: %v", req.UserID, err)
			resp.Errors = append(resp.Errors, ItemError{ID: "", Reason: "profile update failed: " + err.Error()})
		}
	}

	switch {
	case resp.ProcessedCount == 0 && len(resp.Errors) > 0:
		resp.Status = StatusFailed
	case len(resp.Errors) > 0:
		resp.Status = StatusPartial
	default:
		resp.Status = StatusSuccess
	}

	logging.Ingest("Batch for %s: %d processed, %d errors in %v",
		req.UserID, resp.ProcessedCount, len(resp.Errors), time.Since(started))
	return resp, nil
}

// processOne runs the post-enrichment tail for one record: attention, tier
// routing, storage, indexing, and intent extraction.
func (s *Service) processOne(ctx context.Context, r *record.Record, intents *[]intent.Intent, resp *BatchResponse) error {
	// Re-ingestion under a soft-deleted id revives the record, keeping its
	// audit history.
	if existing, err := s.tiered.GetIncludingDeleted(ctx, r.ID, r.UserID); err == nil && existing.Deleted {
		r.CreatedAt = existing.CreatedAt
		logging.IngestDebug("Reviving soft-deleted record %s", r.ID)
	}

	history := s.tiered.HistoryWindow(ctx, r.UserID, r.ID, attention.WindowDays)
	weight, metricsOut := s.scorer.Score(r, history)
	r.Attention = weight
	r.AttentionMetrics = metricsOut

	s.tiered.Policy().Route(r, time.Now().UTC())

	if err := s.tiered.Put(ctx, r); err != nil {
		return err
	}
	if enrich.Degraded(r) {
		resp.Degraded = true
	}

	if s.indexes != nil {
		if err := s.indexes.IndexRecord(ctx, r); err != nil {
			// Index lag is reported, not fatal.
			resp.Degraded = true
		}
	}

	*intents = append(*intents, intent.Extract(r)...)
	return nil
}

// Reprocess re-runs the ingestion tail for a mutated record; the write
// executor calls this after governed mutations.
func (s *Service) Reprocess(ctx context.Context, r *record.Record, reEnrich bool) error {
	if reEnrich {
		r.ProcessingMeta = nil
		s.pipeline.Enrich(ctx, r)
	}

	history := s.tiered.HistoryWindow(ctx, r.UserID, r.ID, attention.WindowDays)
	weight, metricsOut := s.scorer.Score(r, history)
	r.Attention = weight
	r.AttentionMetrics = metricsOut

	if err := s.tiered.Update(ctx, r); err != nil {
		return err
	}

	if !r.Deleted {
		if derived := intent.Extract(r); len(derived) > 0 {
			if _, err := s.profiles.Update(ctx, r.UserID, derived); err != nil {
				logging.Get(logging.CategoryService).Warn("Profile propagation failed for %s: %v", r.UserID, err)
			}
		}
	}
	return nil
}

// Stats exposes store statistics.
func (s *Service) Stats() (store.Stats, error) { return s.tiered.Stats() }
