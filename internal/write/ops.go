package write

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mnemos/internal/audit"
	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// Create validates, stores, and fully processes a new record draft.
func (e *Executor) Create(ctx context.Context, op Operator, draft record.Draft) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: "create"}

	decision, err := e.authorizeAndAudit(ctx, op, "create", 1, false, []string{draft.Source}, operationID, started)
	if err != nil {
		return e.finish(res, started, "create", "denied"), err
	}

	// Re-ingestion under a soft-deleted id revives the record in place,
	// keeping its audit history.
	if existing, err := e.tiered.GetIncludingDeleted(ctx, draft.ID, op.UserID); err == nil {
		if !existing.Deleted {
			res.Errors = append(res.Errors, fmt.Sprintf("record %s already exists", draft.ID))
			return e.finish(res, started, "create", "failed"), fmt.Errorf("record %s already exists", draft.ID)
		}
		revived := existing.Clone()
		revived.Deleted = false
		revived.DeletedAt = nil
		revived.UpdatedAt = time.Now().UTC()
		if err := e.applyMutation(ctx, revived, true); err != nil {
			return e.finish(res, started, "create", "failed"), err
		}
		res.AffectedCount = 1
		res.PerItem = []ItemResult{{ID: revived.ID, Status: "success"}}
		res.Warnings = append(res.Warnings, "revived soft-deleted record")
		e.auditOutcome(op, "create", operationID, decision, audit.OutcomeApplied, 1, started)
		e.checker.CountOperation(op.UserID, time.Now().UTC())
		return e.finish(res, started, "create", "applied"), nil
	}

	r, err := record.Normalize(draft)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return e.finish(res, started, "create", "failed"), err
	}
	r.UserID = op.UserID

	if err := e.applyMutation(ctx, r, true); err != nil {
		return e.finish(res, started, "create", "failed"), err
	}

	res.AffectedCount = 1
	res.PerItem = []ItemResult{{ID: r.ID, Status: "success"}}
	e.auditOutcome(op, "create", operationID, decision, audit.OutcomeApplied, 1, started)
	e.checker.CountOperation(op.UserID, time.Now().UTC())
	return e.finish(res, started, "create", "applied"), nil
}

// Update applies a patch to a single record.
func (e *Executor) Update(ctx context.Context, op Operator, id string, patch Patch, opts Options) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: "update", DryRun: opts.DryRun}

	r, err := e.tiered.Get(ctx, id, op.UserID)
	if err != nil {
		return e.finish(res, started, "update", "failed"), err
	}
	res.MatchedCount = 1
	res.Sample = []string{id}

	decision, err := e.authorizeAndAudit(ctx, op, "update", 1, false, nil, operationID, started)
	if err != nil {
		return e.finish(res, started, "update", "denied"), err
	}

	if opts.DryRun {
		e.auditOutcome(op, "update", operationID, decision, audit.OutcomePreviewed, 0, started)
		return e.finish(res, started, "update", "previewed"), nil
	}

	backupID, err := e.snapshot(ctx, operationID, op.UserID, []string{id})
	if err != nil {
		return e.finish(res, started, "update", "failed"), fmt.Errorf("%w: %v", ErrBackupMissing, err)
	}
	res.BackupID = backupID

	mutated := applyPatch(r.Clone(), patch)
	if err := e.applyMutation(ctx, mutated, patch.contentBearing() && !patch.PreserveDerived); err != nil {
		res.PerItem = []ItemResult{{ID: id, Status: "failed", Error: err.Error()}}
		return e.finish(res, started, "update", "failed"), err
	}

	res.AffectedCount = 1
	res.PerItem = []ItemResult{{ID: id, Status: "success"}}
	e.auditOutcome(op, "update", operationID, decision, audit.OutcomeApplied, 1, started)
	e.checker.CountOperation(op.UserID, time.Now().UTC())
	return e.finish(res, started, "update", "applied"), nil
}

// Delete removes records, soft by default. Hard deletes require the backup
// snapshot to be present.
func (e *Executor) Delete(ctx context.Context, op Operator, ids []string, soft bool, opts Options) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: "delete", DryRun: opts.DryRun}

	live, err := e.resolve(ctx, op.UserID, Filter{IDs: ids})
	if err != nil {
		return e.finish(res, started, "delete", "failed"), err
	}
	res.MatchedCount = len(live)
	res.Sample = sample(live, 5)

	decision, err := e.authorizeAndAudit(ctx, op, "delete", len(live), !soft, nil, operationID, started)
	if err != nil {
		return e.finish(res, started, "delete", "denied"), err
	}

	if opts.DryRun {
		e.auditOutcome(op, "delete", operationID, decision, audit.OutcomePreviewed, 0, started)
		return e.finish(res, started, "delete", "previewed"), nil
	}

	backupID, err := e.snapshot(ctx, operationID, op.UserID, live)
	if err != nil || (backupID == "" && len(live) > 0) {
		if !soft {
			return e.finish(res, started, "delete", "failed"), ErrBackupMissing
		}
		res.Warnings = append(res.Warnings, "backup snapshot unavailable")
	}
	res.BackupID = backupID

	for _, id := range live {
		r, getErr := e.tiered.Get(ctx, id, op.UserID)
		var delErr error
		if soft {
			delErr = e.tiered.SoftDelete(ctx, id, op.UserID)
		} else {
			delErr = e.tiered.HardDelete(ctx, id, op.UserID)
		}
		if delErr != nil {
			res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "failed", Error: delErr.Error()})
			continue
		}
		if getErr == nil && e.index != nil {
			e.index.RemoveRecord(r)
		}
		res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "success"})
		res.AffectedCount++
	}

	e.auditOutcome(op, "delete", operationID, decision, audit.OutcomeApplied, res.AffectedCount, started)
	e.checker.CountOperation(op.UserID, time.Now().UTC())
	return e.finish(res, started, "delete", "applied"), nil
}

// BulkTag adds tags to every record matching the filter.
func (e *Executor) BulkTag(ctx context.Context, op Operator, f Filter, tags []string, opts Options) (*Result, error) {
	return e.bulkPatch(ctx, op, "bulk_tag", f, Patch{Tags: tags, MergeTags: true}, opts)
}

// BulkRetag replaces the tag set on every record matching the filter.
func (e *Executor) BulkRetag(ctx context.Context, op Operator, f Filter, tags []string, opts Options) (*Result, error) {
	return e.bulkPatch(ctx, op, "bulk_retag", f, Patch{Tags: tags, MergeTags: false}, opts)
}

// BatchUpdate applies an arbitrary patch to every record matching the
// filter.
func (e *Executor) BatchUpdate(ctx context.Context, op Operator, f Filter, patch Patch, opts Options) (*Result, error) {
	return e.bulkPatch(ctx, op, "batch_update", f, patch, opts)
}

// bulkPatch is the shared bulk mutation loop: resolve, ceiling check,
// authorize, audit, backup, then apply in batches with per-item outcomes.
// Each batch commits before the next starts, so cancellation stops further
// batches without half-applying a record.
func (e *Executor) bulkPatch(ctx context.Context, op Operator, opName string, f Filter, patch Patch, opts Options) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: opName, DryRun: opts.DryRun}

	ids, err := e.resolve(ctx, op.UserID, f)
	if err != nil {
		return e.finish(res, started, opName, "failed"), err
	}
	res.MatchedCount = len(ids)
	res.Sample = sample(ids, 5)

	// Hard ceiling rejects before any mutation or backup.
	if len(ids) > e.batchSizeHardCap {
		res.Errors = append(res.Errors, fmt.Sprintf("matched %d records, hard cap is %d", len(ids), e.batchSizeHardCap))
		return e.finish(res, started, opName, "rejected"), ErrBatchTooLarge
	}

	decision, err := e.authorizeAndAudit(ctx, op, opName, len(ids), false, f.Sources, operationID, started)
	if err != nil {
		return e.finish(res, started, opName, "denied"), err
	}

	if opts.DryRun {
		e.auditOutcome(op, opName, operationID, decision, audit.OutcomePreviewed, 0, started)
		return e.finish(res, started, opName, "previewed"), nil
	}

	backupID, err := e.snapshot(ctx, operationID, op.UserID, ids)
	if err != nil {
		return e.finish(res, started, opName, "failed"), fmt.Errorf("%w: %v", ErrBackupMissing, err)
	}
	res.BackupID = backupID

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.batchSizeDefault
	}

	for start := 0; start < len(ids); start += batchSize {
		if ctx.Err() != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("cancelled after %d of %d records", res.AffectedCount, len(ids)))
			break
		}
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			r, err := e.tiered.Get(ctx, id, op.UserID)
			if err != nil {
				res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "skipped", Error: err.Error()})
				continue
			}
			mutated := applyPatch(r.Clone(), patch)
			if err := e.applyMutation(ctx, mutated, patch.contentBearing() && !patch.PreserveDerived); err != nil {
				res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "failed", Error: err.Error()})
				continue
			}
			res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "success"})
			res.AffectedCount++
		}
	}

	e.auditOutcome(op, opName, operationID, decision, audit.OutcomeApplied, res.AffectedCount, started)
	e.checker.CountOperation(op.UserID, time.Now().UTC())
	logging.Write("%s %s: matched=%d affected=%d", opName, operationID, res.MatchedCount, res.AffectedCount)
	return e.finish(res, started, opName, "applied"), nil
}

// Merge combines several records into the first: notes concatenate, tags
// union, the rest soft-delete.
func (e *Executor) Merge(ctx context.Context, op Operator, ids []string, opts Options) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: "merge", DryRun: opts.DryRun}

	if len(ids) < 2 {
		return e.finish(res, started, "merge", "failed"), fmt.Errorf("merge needs at least two records")
	}

	live, err := e.resolve(ctx, op.UserID, Filter{IDs: ids})
	if err != nil {
		return e.finish(res, started, "merge", "failed"), err
	}
	res.MatchedCount = len(live)
	res.Sample = sample(live, 5)
	if len(live) < 2 {
		return e.finish(res, started, "merge", "failed"), fmt.Errorf("merge matched fewer than two live records")
	}

	decision, err := e.authorizeAndAudit(ctx, op, "merge", len(live), false, nil, operationID, started)
	if err != nil {
		return e.finish(res, started, "merge", "denied"), err
	}
	if opts.DryRun {
		e.auditOutcome(op, "merge", operationID, decision, audit.OutcomePreviewed, 0, started)
		return e.finish(res, started, "merge", "previewed"), nil
	}

	backupID, err := e.snapshot(ctx, operationID, op.UserID, live)
	if err != nil {
		return e.finish(res, started, "merge", "failed"), fmt.Errorf("%w: %v", ErrBackupMissing, err)
	}
	res.BackupID = backupID

	target, err := e.tiered.Get(ctx, live[0], op.UserID)
	if err != nil {
		return e.finish(res, started, "merge", "failed"), err
	}
	merged := target.Clone()
	for _, id := range live[1:] {
		r, err := e.tiered.Get(ctx, id, op.UserID)
		if err != nil {
			res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "skipped", Error: err.Error()})
			continue
		}
		if r.Note != "" {
			if merged.Note != "" {
				merged.Note += "\n\n"
			}
			merged.Note += r.Note
		}
		merged.Tags = record.NormalizeTags(append(merged.Tags, r.Tags...))
		if err := e.tiered.SoftDelete(ctx, id, op.UserID); err != nil {
			res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "failed", Error: err.Error()})
			continue
		}
		res.PerItem = append(res.PerItem, ItemResult{ID: id, Status: "success"})
		res.AffectedCount++
	}
	merged.UpdatedAt = time.Now().UTC()
	if err := e.applyMutation(ctx, merged, true); err != nil {
		return e.finish(res, started, "merge", "failed"), err
	}
	res.PerItem = append(res.PerItem, ItemResult{ID: merged.ID, Status: "success"})
	res.AffectedCount++

	e.auditOutcome(op, "merge", operationID, decision, audit.OutcomeApplied, res.AffectedCount, started)
	e.checker.CountOperation(op.UserID, time.Now().UTC())
	return e.finish(res, started, "merge", "applied"), nil
}

// SplitSpec names the note separator for Split.
type SplitSpec struct {
	Separator string `json:"separator"`
}

// Split breaks one record's note into several records along a separator,
// keeping the original as the first part.
func (e *Executor) Split(ctx context.Context, op Operator, id string, spec SplitSpec, opts Options) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: "split", DryRun: opts.DryRun}

	r, err := e.tiered.Get(ctx, id, op.UserID)
	if err != nil {
		return e.finish(res, started, "split", "failed"), err
	}
	sep := spec.Separator
	if sep == "" {
		sep = "\n\n"
	}
	parts := strings.Split(r.Note, sep)
	res.MatchedCount = 1
	res.Sample = []string{id}
	if len(parts) < 2 {
		return e.finish(res, started, "split", "failed"), fmt.Errorf("note does not split on separator")
	}

	decision, err := e.authorizeAndAudit(ctx, op, "split", len(parts), false, nil, operationID, started)
	if err != nil {
		return e.finish(res, started, "split", "denied"), err
	}
	if opts.DryRun {
		e.auditOutcome(op, "split", operationID, decision, audit.OutcomePreviewed, 0, started)
		return e.finish(res, started, "split", "previewed"), nil
	}

	backupID, err := e.snapshot(ctx, operationID, op.UserID, []string{id})
	if err != nil {
		return e.finish(res, started, "split", "failed"), fmt.Errorf("%w: %v", ErrBackupMissing, err)
	}
	res.BackupID = backupID

	first := r.Clone()
	first.Note = strings.TrimSpace(parts[0])
	first.UpdatedAt = time.Now().UTC()
	if err := e.applyMutation(ctx, first, true); err != nil {
		return e.finish(res, started, "split", "failed"), err
	}
	res.PerItem = append(res.PerItem, ItemResult{ID: first.ID, Status: "success"})
	res.AffectedCount++

	for i, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		child := r.Clone()
		child.ID = fmt.Sprintf("%s_part%d", r.ID, i+2)
		child.Note = part
		child.CreatedAt = time.Now().UTC()
		child.UpdatedAt = child.CreatedAt
		if err := e.applyMutation(ctx, child, true); err != nil {
			res.PerItem = append(res.PerItem, ItemResult{ID: child.ID, Status: "failed", Error: err.Error()})
			continue
		}
		res.PerItem = append(res.PerItem, ItemResult{ID: child.ID, Status: "success"})
		res.AffectedCount++
	}

	e.auditOutcome(op, "split", operationID, decision, audit.OutcomeApplied, res.AffectedCount, started)
	e.checker.CountOperation(op.UserID, time.Now().UTC())
	return e.finish(res, started, "split", "applied"), nil
}

// applyPatch mutates a cloned record per the patch semantics.
func applyPatch(r *record.Record, p Patch) *record.Record {
	if p.Highlight != nil {
		r.Highlight = *p.Highlight
	}
	if p.Note != nil {
		r.Note = *p.Note
	}
	if p.Address != nil {
		r.Address = *p.Address
	}
	if p.Access != nil {
		r.Access = record.Access(*p.Access)
	}
	if p.Tags != nil {
		if p.MergeTags {
			r.Tags = record.NormalizeTags(append(r.Tags, p.Tags...))
		} else {
			r.Tags = record.NormalizeTags(p.Tags)
		}
	}
	r.UpdatedAt = time.Now().UTC()
	return r
}

// applyMutation persists a mutated record, refreshes indexes, and hands it
// to the reprocessor for attention/tier/profile propagation.
func (e *Executor) applyMutation(ctx context.Context, r *record.Record, reEnrich bool) error {
	if e.reprocess != nil {
		if err := e.reprocess(ctx, r, reEnrich); err != nil {
			return err
		}
	} else if err := e.tiered.Update(ctx, r); err != nil {
		return err
	}
	if e.index != nil && !r.Deleted {
		if err := e.index.IndexRecord(ctx, r); err != nil {
			logging.Get(logging.CategoryWrite).Warn("Index refresh failed for %s: %v", r.ID, err)
		}
	}
	return nil
}

// Restore reapplies a backup snapshot (operator recovery path).
func (e *Executor) Restore(ctx context.Context, op Operator, backupID string) (*Result, error) {
	started := time.Now()
	operationID := newOperationID()
	res := &Result{OperationID: operationID, Op: "restore"}

	records, err := e.backups.Load(backupID, op.UserID)
	if err != nil {
		return e.finish(res, started, "restore", "failed"), err
	}
	decision, err := e.authorizeAndAudit(ctx, op, "update", len(records), false, nil, operationID, started)
	if err != nil {
		return e.finish(res, started, "restore", "denied"), err
	}
	for _, r := range records {
		if err := e.tiered.Update(ctx, r.Clone()); err != nil {
			res.PerItem = append(res.PerItem, ItemResult{ID: r.ID, Status: "failed", Error: err.Error()})
			continue
		}
		res.PerItem = append(res.PerItem, ItemResult{ID: r.ID, Status: "success"})
		res.AffectedCount++
	}
	e.auditOutcome(op, "restore", operationID, decision, audit.OutcomeApplied, res.AffectedCount, started)
	return e.finish(res, started, "restore", "applied"), nil
}
