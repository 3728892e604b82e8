package service

import (
	"context"
	"fmt"

	"mnemos/internal/audit"
	"mnemos/internal/record"
	"mnemos/internal/write"
)

// WriteRequest is the governed write envelope. Payload fields are
// populated per op.
type WriteRequest struct {
	Operator write.Operator `json:"-"`
	Op       string         `json:"op"`

	// Single-record payloads
	Record *record.Draft `json:"record,omitempty"`
	ID     string        `json:"id,omitempty"`
	Patch  *write.Patch  `json:"patch,omitempty"`

	// Bulk payloads
	Filter write.Filter `json:"filter,omitempty"`
	Tags   []string     `json:"tags,omitempty"`

	// Delete payload
	IDs  []string `json:"ids,omitempty"`
	Soft bool     `json:"soft,omitempty"`

	// Split payload
	Split *write.SplitSpec `json:"split,omitempty"`

	DryRun    bool `json:"dry_run,omitempty"`
	BatchSize int  `json:"batch_size,omitempty"`
}

// Write dispatches a governed operation by its op tag.
func (s *Service) Write(ctx context.Context, req WriteRequest) (*write.Result, error) {
	opts := write.Options{DryRun: req.DryRun, BatchSize: req.BatchSize}

	switch req.Op {
	case "create":
		if req.Record == nil {
			return nil, fmt.Errorf("create requires a record payload")
		}
		return s.executor.Create(ctx, req.Operator, *req.Record)
	case "update":
		if req.ID == "" || req.Patch == nil {
			return nil, fmt.Errorf("update requires id and patch")
		}
		return s.executor.Update(ctx, req.Operator, req.ID, *req.Patch, opts)
	case "delete":
		return s.executor.Delete(ctx, req.Operator, req.IDs, req.Soft, opts)
	case "bulk_tag":
		return s.executor.BulkTag(ctx, req.Operator, req.Filter, req.Tags, opts)
	case "bulk_retag":
		return s.executor.BulkRetag(ctx, req.Operator, req.Filter, req.Tags, opts)
	case "batch_update":
		if req.Patch == nil {
			return nil, fmt.Errorf("batch_update requires a patch")
		}
		return s.executor.BatchUpdate(ctx, req.Operator, req.Filter, *req.Patch, opts)
	case "merge":
		return s.executor.Merge(ctx, req.Operator, req.IDs, opts)
	case "split":
		if req.ID == "" || req.Split == nil {
			return nil, fmt.Errorf("split requires id and spec")
		}
		return s.executor.Split(ctx, req.Operator, req.ID, *req.Split, opts)
	default:
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
}

// Delete removes records for a user; soft by default.
func (s *Service) Delete(ctx context.Context, op write.Operator, ids []string, soft bool) (*write.Result, error) {
	return s.executor.Delete(ctx, op, ids, soft, write.Options{})
}

// WriteHistory returns the user's recent audit entries, newest first.
func (s *Service) WriteHistory(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	return s.auditLog.Recent(userID, limit, 30)
}

// Converse runs the conversational write surface.
func (s *Service) Converse(ctx context.Context, op write.Operator, input string, dryRun, autoConfirm bool) (*write.Proposal, error) {
	return s.conv.Propose(ctx, op, input, dryRun, autoConfirm)
}

// ConfirmWrite executes a pending conversational session.
func (s *Service) ConfirmWrite(ctx context.Context, sessionID string) (*write.Result, error) {
	return s.conv.Confirm(ctx, sessionID)
}
