package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/ports"
)

// ReprocessUseCase owns the reprocessing queue policy: enqueue on run
// failure, retry scheduling with exponential backoff, escalation when
// the retry budget is exhausted, and the operator management surface.
type ReprocessUseCase struct {
	queue  ports.ReprocessQueueRepository
	repo   ports.DocumentRepository
	leases ports.LeaseStore
	bus    ports.StageTaskBus
	events ports.EventPublisher
	policy domain.RetryPolicy

	metrics  ports.PipelineMetrics
	leaseTTL time.Duration
	logger   *slog.Logger
}

func NewReprocessUseCase(
	queue ports.ReprocessQueueRepository,
	repo ports.DocumentRepository,
	leases ports.LeaseStore,
	bus ports.StageTaskBus,
	events ports.EventPublisher,
	policy domain.RetryPolicy,
	metrics ports.PipelineMetrics,
	leaseTTL time.Duration,
	logger *slog.Logger,
) *ReprocessUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReprocessUseCase{
		queue:    queue,
		repo:     repo,
		leases:   leases,
		bus:      bus,
		events:   events,
		policy:   policy,
		metrics:  metrics,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

// NoteRunFailed parks a failed run in the queue. A fresh failure
// enqueues a pending item; a failure of a run the scheduler itself
// resubmitted is a retry outcome and consumes retry budget.
func (uc *ReprocessUseCase) NoteRunFailed(ctx context.Context, doc *domain.Document, stage domain.Stage, reason string) error {
	existing, err := uc.queue.GetByDocumentID(ctx, doc.ID)
	if err != nil && !domain.IsKind(err, domain.ErrQueueItemNotFound) {
		return fmt.Errorf("look up queue item: %w", err)
	}

	if existing != nil && existing.Status == domain.QueueProcessing {
		return uc.reportRetryFailure(ctx, existing, reason)
	}

	now := time.Now().UTC()
	item := &domain.QueueItem{
		DocumentID:    doc.ID,
		TenantID:      doc.TenantID,
		DocumentName:  doc.Name,
		FileType:      doc.FileType,
		FailureReason: reason,
		FailedStage:   stage,
		Priority:      derivePriority(stage),
		Status:        domain.QueuePending,
		NextAttemptAt: now.Add(uc.policy.Backoff(0)),
		EnqueuedAt:    now,
		UpdatedAt:     now,
	}
	if existing != nil {
		// Idempotent re-enqueue: keep the retry history, refresh the
		// reason and priority.
		item.RetryCount = existing.RetryCount
		item.LastAttemptAt = existing.LastAttemptAt
		item.EnqueuedAt = existing.EnqueuedAt
	}
	if err := uc.queue.Upsert(ctx, item); err != nil {
		return fmt.Errorf("enqueue for reprocessing: %w", err)
	}
	return nil
}

// NoteRunSucceeded closes the queue item of a successfully
// reprocessed document. The item is kept with a completed status so
// queue statistics keep counting the recovery. A run with no queue
// item is a no-op.
func (uc *ReprocessUseCase) NoteRunSucceeded(ctx context.Context, documentID string) error {
	item, err := uc.queue.GetByDocumentID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrQueueItemNotFound) {
			return nil
		}
		return fmt.Errorf("load queue item: %w", err)
	}

	item.Status = domain.QueueCompleted
	item.UpdatedAt = time.Now().UTC()
	if err := uc.queue.Update(ctx, item); err != nil {
		return fmt.Errorf("close completed queue item: %w", err)
	}
	return nil
}

func (uc *ReprocessUseCase) reportRetryFailure(ctx context.Context, item *domain.QueueItem, reason string) error {
	now := time.Now().UTC()
	item.FailureReason = reason
	item.LastAttemptAt = &now
	item.UpdatedAt = now

	if uc.policy.Exhausted(item.RetryCount) {
		item.Status = domain.QueueFailed
		if err := uc.queue.Update(ctx, item); err != nil {
			return fmt.Errorf("mark queue item failed: %w", err)
		}
		event := domain.EscalationEvent{
			DocumentID: item.DocumentID,
			TenantID:   item.TenantID,
			Reason:     reason,
			RetryCount: item.RetryCount,
			RaisedAt:   now,
		}
		if err := uc.events.PublishEscalation(ctx, event); err != nil {
			uc.logger.Error("publish_escalation", "document_id", item.DocumentID, "error", err)
		}
		uc.metrics.RecordEscalation()
		uc.logger.Warn("queue_item_escalated",
			"document_id", item.DocumentID, "retry_count", item.RetryCount)
		return nil
	}

	item.Status = domain.QueuePending
	item.NextAttemptAt = now.Add(uc.policy.Backoff(item.RetryCount))
	if err := uc.queue.Update(ctx, item); err != nil {
		return fmt.Errorf("reschedule queue item: %w", err)
	}
	return nil
}

// RunOnce performs one scheduling pass: claim the next due item and
// resubmit its document to the pipeline. The claim is the single
// dequeue point and is atomic under concurrent schedulers.
func (uc *ReprocessUseCase) RunOnce(ctx context.Context) (bool, error) {
	item, err := uc.queue.ClaimNext(ctx, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim next queue item: %w", err)
	}
	if item == nil {
		return false, nil
	}

	doc, err := uc.repo.GetByID(ctx, item.DocumentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			uc.logger.Warn("queue_item_orphaned", "document_id", item.DocumentID)
			return true, uc.queue.Delete(ctx, item.DocumentID)
		}
		return true, fmt.Errorf("load queued document: %w", err)
	}

	acquired, err := uc.leases.Acquire(ctx, doc.ID, leaseOwner(doc.ID), uc.leaseTTL)
	if err != nil {
		return true, fmt.Errorf("acquire lease for retry: %w", err)
	}
	if !acquired {
		// Another run holds the document; return the claim without
		// consuming more budget than the claim already did.
		now := time.Now().UTC()
		item.Status = domain.QueuePending
		item.NextAttemptAt = now.Add(uc.policy.Backoff(item.RetryCount))
		item.UpdatedAt = now
		if err := uc.queue.Update(ctx, item); err != nil {
			return true, fmt.Errorf("return contended claim: %w", err)
		}
		return true, nil
	}

	staleStage := doc.Status.CurrentStage
	doc.Status = domain.NewPipelineStatus(time.Now())
	doc.Violations = nil
	if err := uc.repo.UpdateStatusFrom(ctx, doc.ID, staleStage, doc.Status, doc.Violations); err != nil {
		return true, fmt.Errorf("reset document status: %w", err)
	}

	task := domain.StageTask{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Stage:      doc.Status.CurrentStage,
	}
	if err := uc.bus.PublishStageTask(ctx, task); err != nil {
		return true, fmt.Errorf("publish retry stage task: %w", err)
	}

	uc.logger.Info("queue_item_resubmitted",
		"document_id", doc.ID, "retry_count", item.RetryCount, "priority", string(item.Priority))
	return true, nil
}

// RetryNow is the operator's manual retry: the item becomes due
// immediately regardless of its computed backoff.
func (uc *ReprocessUseCase) RetryNow(ctx context.Context, documentID string) error {
	item, err := uc.queue.GetByDocumentID(ctx, documentID)
	if err != nil {
		return err
	}
	if item.Status == domain.QueueCompleted {
		return domain.WrapError(domain.ErrConflict, "retry queue item",
			fmt.Errorf("document %s already recovered", documentID))
	}
	now := time.Now().UTC()
	item.Status = domain.QueuePending
	item.NextAttemptAt = now
	item.UpdatedAt = now
	if err := uc.queue.Update(ctx, item); err != nil {
		return fmt.Errorf("mark queue item due: %w", err)
	}
	return nil
}

// Remove permanently deletes an item, allowed from any state.
func (uc *ReprocessUseCase) Remove(ctx context.Context, documentID string) error {
	return uc.queue.Delete(ctx, documentID)
}

func (uc *ReprocessUseCase) List(ctx context.Context, filter ports.QueueFilter) ([]domain.QueueItem, error) {
	return uc.queue.List(ctx, filter)
}

func (uc *ReprocessUseCase) Statistics(ctx context.Context) (domain.QueueStatistics, error) {
	return uc.queue.Statistics(ctx)
}

// derivePriority is the default when a failure enqueues without an
// explicit priority: validation failures rank high because a reviewer
// is usually waiting on them, other stage failures medium.
func derivePriority(stage domain.Stage) domain.QueuePriority {
	if stage == domain.StageValidation {
		return domain.PriorityHigh
	}
	return domain.PriorityMedium
}
