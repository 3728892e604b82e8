// Package write implements the governed mutation path: validated single and
// bulk operations over a user's corpus, gated by permission checks, audited,
// backed up before application, and followed by re-enrichment and profile
// propagation for the affected user.
package write

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mnemos/internal/audit"
	"mnemos/internal/logging"
	"mnemos/internal/metrics"
	"mnemos/internal/permission"
	"mnemos/internal/record"
	"mnemos/internal/store"
)

// ErrBatchTooLarge is returned before any mutation when a bulk operation
// exceeds the hard ceiling. Retryable after narrowing the filter.
var ErrBatchTooLarge = errors.New("write: batch exceeds hard ceiling")

// ErrBackupMissing blocks hard deletes whose pre-mutation snapshot could not
// be written.
var ErrBackupMissing = errors.New("write: backup snapshot unavailable")

// Operator identifies who is performing a governed operation.
type Operator struct {
	UserID        string
	SourceApp     string
	SessionID     string
	IP            string
	TwoFAVerified bool
}

// Filter selects target records for bulk operations.
type Filter struct {
	IDs     []string  `json:"ids,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	Sources []string  `json:"sources,omitempty"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
}

// Patch describes a partial record update. Nil pointer fields are left
// untouched.
type Patch struct {
	Highlight *string  `json:"highlight,omitempty"`
	Note      *string  `json:"note,omitempty"`
	Address   *string  `json:"address,omitempty"`
	Access    *string  `json:"access,omitempty"`
	Tags      []string `json:"tags,omitempty"`

	// MergeTags unions patch tags with existing tags instead of replacing.
	MergeTags bool `json:"merge_tags,omitempty"`

	// PreserveDerived keeps enrichment outputs even when content changed.
	PreserveDerived bool `json:"preserve_derived,omitempty"`
}

// contentBearing reports whether the patch touches fields that require
// re-enrichment.
func (p Patch) contentBearing() bool {
	return p.Highlight != nil || p.Note != nil || p.Address != nil
}

// Options tunes bulk execution.
type Options struct {
	DryRun    bool
	BatchSize int
}

// ItemResult is the per-record outcome of a batched operation.
type ItemResult struct {
	ID     string `json:"id"`
	Status string `json:"status"` // success | failed | skipped
	Error  string `json:"error,omitempty"`
}

// Result is the response envelope for every governed operation.
type Result struct {
	OperationID    string        `json:"operation_id"`
	Op             string        `json:"op"`
	DryRun         bool          `json:"dry_run"`
	MatchedCount   int           `json:"matched_count"`
	AffectedCount  int           `json:"affected_count"`
	Sample         []string      `json:"sample,omitempty"`
	PerItem        []ItemResult  `json:"per_item_results,omitempty"`
	Errors         []string      `json:"errors,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	BackupID       string        `json:"backup_id,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Reprocessor re-runs the ingestion tail (attention, tier routing, intents,
// profile) for a mutated record. Wired by the service to avoid a dependency
// cycle; reEnrich is true when content-bearing fields changed.
type Reprocessor func(ctx context.Context, r *record.Record, reEnrich bool) error

// Indexer keeps search indexes aligned with mutations.
type Indexer interface {
	IndexRecord(ctx context.Context, r *record.Record) error
	RemoveRecord(r *record.Record)
}

// Executor coordinates governed writes.
type Executor struct {
	tiered    *store.Tiered
	index     Indexer
	checker   *permission.Checker
	auditLog  *audit.Log
	backups   *BackupStore
	reprocess Reprocessor

	batchSizeDefault int
	batchSizeHardCap int
}

// NewExecutor wires the write path.
func NewExecutor(tiered *store.Tiered, index Indexer, checker *permission.Checker,
	auditLog *audit.Log, backups *BackupStore, reprocess Reprocessor,
	batchSizeDefault, batchSizeHardCap int) *Executor {
	if batchSizeDefault <= 0 {
		batchSizeDefault = 100
	}
	if batchSizeHardCap <= 0 {
		batchSizeHardCap = 1000
	}
	return &Executor{
		tiered:           tiered,
		index:            index,
		checker:          checker,
		auditLog:         auditLog,
		backups:          backups,
		reprocess:        reprocess,
		batchSizeDefault: batchSizeDefault,
		batchSizeHardCap: batchSizeHardCap,
	}
}

// SetReprocessor wires the post-mutation pipeline after construction; the
// service owns the tail of the pipeline and is built after the executor.
func (e *Executor) SetReprocessor(fn Reprocessor) { e.reprocess = fn }

// resolve maps a filter to matching live record ids.
func (e *Executor) resolve(ctx context.Context, userID string, f Filter) ([]string, error) {
	if len(f.IDs) > 0 {
		var ids []string
		for _, id := range f.IDs {
			if _, err := e.tiered.Get(ctx, id, userID); err == nil {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	ids, _, err := e.tiered.QueryByFilter(ctx, store.QueryFilter{
		UserID:  userID,
		Tags:    f.Tags,
		Sources: f.Sources,
		From:    f.From,
		To:      f.To,
	})
	return ids, err
}

// authorizeAndAudit runs the permission check and writes the decision to the
// audit log. The audit append must succeed before any mutation proceeds.
func (e *Executor) authorizeAndAudit(ctx context.Context, op Operator, opName string,
	affected int, hardDelete bool, sources []string, operationID string, started time.Time) (permission.Decision, error) {

	decision := e.checker.Authorize(ctx, permission.Request{
		UserID:        op.UserID,
		Op:            opName,
		AffectedCount: affected,
		HardDelete:    hardDelete,
		TargetSources: sources,
		SessionID:     op.SessionID,
		TwoFAVerified: op.TwoFAVerified,
	})

	outcome := audit.OutcomeAllowed
	if !decision.Allowed {
		outcome = audit.OutcomeDenied
	}
	entry := audit.Entry{
		OperationID:   operationID,
		UserID:        op.UserID,
		Op:            opName,
		Risk:          string(decision.Risk),
		Flags:         decision.Flags,
		Outcome:       outcome,
		Reason:        decision.Reason,
		AffectedCount: affected,
		DurationMS:    time.Since(started).Milliseconds(),
		SourceApp:     op.SourceApp,
		SessionID:     op.SessionID,
		IP:            op.IP,
	}
	if err := e.auditLog.Append(entry); err != nil {
		// Audit unavailable is fatal for mutations.
		return decision, fmt.Errorf("audit unavailable, operation blocked: %w", err)
	}
	if !decision.Allowed {
		return decision, fmt.Errorf("%w: %s", permission.ErrDenied, decision.Reason)
	}
	return decision, nil
}

// auditOutcome records the final result of an applied or previewed
// operation.
func (e *Executor) auditOutcome(op Operator, opName, operationID string, decision permission.Decision,
	outcome audit.Outcome, affected int, started time.Time) {
	entry := audit.Entry{
		OperationID:   operationID,
		UserID:        op.UserID,
		Op:            opName,
		Risk:          string(decision.Risk),
		Flags:         decision.Flags,
		Outcome:       outcome,
		AffectedCount: affected,
		DurationMS:    time.Since(started).Milliseconds(),
		SourceApp:     op.SourceApp,
		SessionID:     op.SessionID,
		IP:            op.IP,
	}
	if err := e.auditLog.Append(entry); err != nil {
		logging.Get(logging.CategoryAudit).Error("Outcome audit failed for %s: %v", operationID, err)
	}
}

// snapshot backs up the affected records before mutation.
func (e *Executor) snapshot(ctx context.Context, operationID, userID string, ids []string) (string, error) {
	records := e.tiered.Fetch(ctx, userID, ids)
	if len(records) == 0 {
		return "", nil
	}
	if err := e.backups.Save(operationID, userID, records); err != nil {
		return "", err
	}
	return operationID, nil
}

func sample(ids []string, n int) []string {
	if len(ids) <= n {
		return append([]string(nil), ids...)
	}
	return append([]string(nil), ids[:n]...)
}

func newOperationID() string { return "op_" + uuid.NewString() }

func (e *Executor) finish(res *Result, started time.Time, opName, outcome string) *Result {
	res.ProcessingTime = time.Since(started)
	metrics.WriteOps.WithLabelValues(opName, outcome).Inc()
	return res
}
