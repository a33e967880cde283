package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/ports"
)

// ReprocessReporter closes the loop between the state machine and the
// reprocessing queue: run outcomes are reported here so the machine
// itself stays free of retry/backoff concerns.
type ReprocessReporter interface {
	NoteRunFailed(ctx context.Context, doc *domain.Document, stage domain.Stage, reason string) error
	NoteRunSucceeded(ctx context.Context, documentID string) error
}

// PipelineUseCase advances documents through the staged run. It only
// records state transitions; stage execution happens elsewhere and
// reports back through Advance.
type PipelineUseCase struct {
	repo      ports.DocumentRepository
	leases    ports.LeaseStore
	bus       ports.StageTaskBus
	events    ports.EventPublisher
	reprocess ReprocessReporter
	metrics   ports.PipelineMetrics
	leaseTTL  time.Duration
	logger    *slog.Logger
}

func NewPipelineUseCase(
	repo ports.DocumentRepository,
	leases ports.LeaseStore,
	bus ports.StageTaskBus,
	events ports.EventPublisher,
	reprocess ReprocessReporter,
	metrics ports.PipelineMetrics,
	leaseTTL time.Duration,
	logger *slog.Logger,
) *PipelineUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineUseCase{
		repo:      repo,
		leases:    leases,
		bus:       bus,
		events:    events,
		reprocess: reprocess,
		metrics:   metrics,
		leaseTTL:  leaseTTL,
		logger:    logger,
	}
}

// nopMetrics keeps the use cases free of nil checks around recording.
type nopMetrics struct{}

func (nopMetrics) RecordRunFinished(string, time.Duration) {}

func (nopMetrics) RecordViolations(string, int) {}

func (nopMetrics) RecordMappingDecision(string) {}

func (nopMetrics) RecordEscalation() {}

// runDuration measures wall time from upload to the terminal write.
func runDuration(doc *domain.Document) time.Duration {
	start := doc.CreatedAt
	if t := doc.Status.Stages[domain.StageUploaded].StartedAt; t != nil {
		start = *t
	}
	return time.Since(start)
}

// Advance applies one stage outcome. Outcomes for terminal or
// mismatched runs are rejected with ErrConflict so a cancelled run is
// never mutated by an in-flight executor reporting late.
func (uc *PipelineUseCase) Advance(ctx context.Context, documentID string, outcome domain.StageOutcome) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if doc.Status.Terminal() {
		return domain.WrapError(domain.ErrConflict, "advance pipeline",
			fmt.Errorf("document %s is terminal at %s", documentID, doc.Status.CurrentStage))
	}
	if outcome.Stage != doc.Status.CurrentStage {
		return domain.WrapError(domain.ErrConflict, "advance pipeline",
			fmt.Errorf("outcome for stage %s but document %s is at %s",
				outcome.Stage, documentID, doc.Status.CurrentStage))
	}

	switch {
	case outcome.Failed():
		return uc.failRun(ctx, doc, outcome)
	case outcome.Completed:
		return uc.completeStage(ctx, doc, outcome)
	default:
		return uc.recordProgress(ctx, doc, outcome)
	}
}

func (uc *PipelineUseCase) recordProgress(ctx context.Context, doc *domain.Document, outcome domain.StageOutcome) error {
	if err := doc.Status.RecordProgress(outcome.Stage, outcome.Progress); err != nil {
		return err
	}
	if err := uc.repo.UpdateStatusFrom(ctx, doc.ID, outcome.Stage, doc.Status, doc.Violations); err != nil {
		return fmt.Errorf("persist stage progress: %w", err)
	}
	return nil
}

func (uc *PipelineUseCase) completeStage(ctx context.Context, doc *domain.Document, outcome domain.StageOutcome) error {
	if len(outcome.ExtractedFields) > 0 {
		if err := uc.repo.SaveExtractedFields(ctx, doc.ID, outcome.ExtractedFields); err != nil {
			return fmt.Errorf("save extracted fields: %w", err)
		}
	}
	doc.Violations = append(doc.Violations, outcome.Violations...)

	if err := doc.Status.AdvanceSuccess(time.Now()); err != nil {
		return err
	}
	// Guarded by the stage the outcome was verified against, so two
	// executors reporting the same completion persist it exactly once.
	if err := uc.repo.UpdateStatusFrom(ctx, doc.ID, outcome.Stage, doc.Status, doc.Violations); err != nil {
		return fmt.Errorf("persist stage completion: %w", err)
	}

	if doc.Status.CurrentStage == domain.StageCompleted {
		return uc.finishRun(ctx, doc)
	}

	task := domain.StageTask{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Stage:      doc.Status.CurrentStage,
	}
	if err := uc.bus.PublishStageTask(ctx, task); err != nil {
		return fmt.Errorf("publish next stage task: %w", err)
	}
	return nil
}

func (uc *PipelineUseCase) finishRun(ctx context.Context, doc *domain.Document) error {
	uc.releaseLease(ctx, doc.ID)
	if err := uc.reprocess.NoteRunSucceeded(ctx, doc.ID); err != nil {
		return fmt.Errorf("report run success to queue: %w", err)
	}
	uc.metrics.RecordRunFinished("completed", runDuration(doc))
	uc.logger.Info("pipeline_completed", "document_id", doc.ID, "tenant_id", doc.TenantID)
	return nil
}

func (uc *PipelineUseCase) failRun(ctx context.Context, doc *domain.Document, outcome domain.StageOutcome) error {
	failedStage := doc.Status.CurrentStage
	doc.Violations = append(doc.Violations, outcome.Violations...)

	if err := doc.Status.Fail(time.Now(), outcome.Error); err != nil {
		return err
	}
	if err := uc.repo.UpdateStatusFrom(ctx, doc.ID, failedStage, doc.Status, doc.Violations); err != nil {
		return fmt.Errorf("persist stage failure: %w", err)
	}

	uc.releaseLease(ctx, doc.ID)

	if err := uc.reprocess.NoteRunFailed(ctx, doc, failedStage, outcome.Error); err != nil {
		return fmt.Errorf("report run failure to queue: %w", err)
	}

	event := domain.PipelineFailedEvent{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Stage:      failedStage,
		Reason:     outcome.Error,
		FailedAt:   time.Now().UTC(),
	}
	if err := uc.events.PublishPipelineFailed(ctx, event); err != nil {
		// The failure is already durable; event delivery must not undo it.
		uc.logger.Error("publish_failed_event", "document_id", doc.ID, "error", err)
	}
	uc.metrics.RecordRunFinished("failed", runDuration(doc))
	return nil
}

// Cancel forces a non-terminal run into the error state with reason
// "cancelled". Cancellation is cooperative: an in-flight external call
// completes and has its late outcome rejected by Advance.
func (uc *PipelineUseCase) Cancel(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	activeStage := doc.Status.CurrentStage
	if err := doc.Status.Cancel(time.Now()); err != nil {
		return err
	}
	if err := uc.repo.UpdateStatusFrom(ctx, documentID, activeStage, doc.Status, doc.Violations); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}

	uc.releaseLease(ctx, documentID)
	uc.metrics.RecordRunFinished("cancelled", runDuration(doc))
	uc.logger.Info("pipeline_cancelled", "document_id", documentID)
	return nil
}

// Suspend parks a run after a rule configuration error: the document is
// not at fault, so the run is neither failed nor queued for retry.
func (uc *PipelineUseCase) Suspend(ctx context.Context, documentID, reason string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if err := doc.Status.Suspend(reason); err != nil {
		return err
	}
	if err := uc.repo.UpdateStatusFrom(ctx, documentID, doc.Status.CurrentStage, doc.Status, doc.Violations); err != nil {
		return fmt.Errorf("persist suspension: %w", err)
	}

	uc.releaseLease(ctx, documentID)
	uc.logger.Warn("pipeline_suspended", "document_id", documentID, "reason", reason)
	return nil
}

// Resume restarts a suspended run: the parked stage goes back to
// processing under a fresh lease and its task is republished. Runs that
// are not suspended conflict.
func (uc *PipelineUseCase) Resume(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if err := doc.Status.Resume(time.Now()); err != nil {
		return err
	}

	acquired, err := uc.leases.Acquire(ctx, documentID, leaseOwner(documentID), uc.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire document lease: %w", err)
	}
	if !acquired {
		return domain.WrapError(domain.ErrConflict, "resume pipeline",
			fmt.Errorf("document %s is already leased", documentID))
	}

	if err := uc.repo.UpdateStatusFrom(ctx, documentID, doc.Status.CurrentStage, doc.Status, doc.Violations); err != nil {
		uc.releaseLease(ctx, documentID)
		return fmt.Errorf("persist resumption: %w", err)
	}

	task := domain.StageTask{
		DocumentID: documentID,
		TenantID:   doc.TenantID,
		Stage:      doc.Status.CurrentStage,
	}
	if err := uc.bus.PublishStageTask(ctx, task); err != nil {
		return fmt.Errorf("publish resumed stage task: %w", err)
	}

	uc.logger.Info("pipeline_resumed",
		"document_id", documentID, "stage", doc.Status.CurrentStage.String())
	return nil
}

func (uc *PipelineUseCase) releaseLease(ctx context.Context, documentID string) {
	if err := uc.leases.Release(ctx, documentID, leaseOwner(documentID)); err != nil {
		uc.logger.Error("release_lease", "document_id", documentID, "error", err)
	}
}
