package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

func newPipelineHarness(docs ...*domain.Document) (*PipelineUseCase, *repoFake, *leaseFake, *busFake, *eventsFake, *reporterFake) {
	repo := newRepoFake(docs...)
	leases := newLeaseFake()
	bus := &busFake{}
	events := &eventsFake{}
	reporter := &reporterFake{}
	uc := NewPipelineUseCase(repo, leases, bus, events, reporter, nil, time.Minute, testLogger())
	return uc, repo, leases, bus, events, reporter
}

func TestPipelineAdvanceSuccessPublishesNextTask(t *testing.T) {
	doc := testDocument("doc-1")
	uc, repo, _, bus, _, _ := newPipelineHarness(doc)

	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage:           domain.StageOCRProcessing,
		Completed:       true,
		ExtractedFields: map[string]string{"inv_no": "F-123"},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if saved.Status.CurrentStage != domain.StageFieldExtraction {
		t.Fatalf("current stage = %s, want %s", saved.Status.CurrentStage, domain.StageFieldExtraction)
	}
	if saved.ExtractedFields["inv_no"] != "F-123" {
		t.Fatalf("extracted fields not persisted: %v", saved.ExtractedFields)
	}
	if len(bus.tasks) != 1 {
		t.Fatalf("published %d tasks, want 1", len(bus.tasks))
	}
	if bus.tasks[0].Stage != domain.StageFieldExtraction {
		t.Fatalf("next task stage = %s, want %s", bus.tasks[0].Stage, domain.StageFieldExtraction)
	}
}

func TestPipelineAdvanceProgressOnly(t *testing.T) {
	doc := testDocument("doc-1")
	uc, repo, _, bus, _, _ := newPipelineHarness(doc)

	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage:    domain.StageOCRProcessing,
		Progress: 40,
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if saved.Status.CurrentStage != domain.StageOCRProcessing {
		t.Fatalf("progress report must not advance the stage, got %s", saved.Status.CurrentStage)
	}
	if got := saved.Status.Stages[domain.StageOCRProcessing].Progress; got != 40 {
		t.Fatalf("stage progress = %d, want 40", got)
	}
	if len(bus.tasks) != 0 {
		t.Fatalf("progress report must not publish tasks, got %d", len(bus.tasks))
	}
}

func TestPipelineAdvanceFailureReleasesLeaseAndReports(t *testing.T) {
	doc := testDocument("doc-1")
	uc, repo, leases, _, events, reporter := newPipelineHarness(doc)
	leases.held["doc-1"] = leaseOwner("doc-1")

	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage: domain.StageOCRProcessing,
		Error: "ocr: upstream timeout",
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if !saved.Status.Terminal() {
		t.Fatal("failed run must be terminal")
	}
	if saved.Status.ErrorReason != "ocr: upstream timeout" {
		t.Fatalf("error reason = %q", saved.Status.ErrorReason)
	}
	if len(leases.releases) != 1 {
		t.Fatalf("lease released %d times, want 1", len(leases.releases))
	}
	if len(reporter.failed) != 1 || reporter.failed[0] != "doc-1" {
		t.Fatalf("queue not notified of failure: %v", reporter.failed)
	}
	if len(events.failed) != 1 || events.failed[0].Stage != domain.StageOCRProcessing {
		t.Fatalf("pipeline.failed event missing or wrong: %+v", events.failed)
	}
}

func TestPipelineAdvanceRejectsStaleOutcome(t *testing.T) {
	doc := testDocument("doc-1")
	uc, _, _, _, _, _ := newPipelineHarness(doc)

	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage:     domain.StageValidation,
		Completed: true,
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("outcome for a non-current stage must conflict, got %v", err)
	}
}

func TestPipelineAdvanceAfterCancelConflicts(t *testing.T) {
	doc := testDocument("doc-1")
	uc, repo, _, _, _, _ := newPipelineHarness(doc)

	if err := uc.Cancel(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if saved.Status.ErrorReason != domain.CancelReason {
		t.Fatalf("error reason = %q, want %q", saved.Status.ErrorReason, domain.CancelReason)
	}

	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage:     domain.StageOCRProcessing,
		Completed: true,
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("late outcome after cancel must conflict, got %v", err)
	}
}

func TestPipelineCompletionClearsQueueAndLease(t *testing.T) {
	doc := testDocument("doc-1")
	uc, repo, leases, bus, _, reporter := newPipelineHarness(doc)
	leases.held["doc-1"] = leaseOwner("doc-1")

	stages := []domain.Stage{
		domain.StageOCRProcessing,
		domain.StageFieldExtraction,
		domain.StageValidation,
		domain.StageEmbedding,
		domain.StageIndexing,
	}
	for _, stage := range stages {
		err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
			Stage:     stage,
			Completed: true,
		})
		if err != nil {
			t.Fatalf("Advance(%s): %v", stage, err)
		}
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if saved.Status.CurrentStage != domain.StageCompleted {
		t.Fatalf("current stage = %s, want %s", saved.Status.CurrentStage, domain.StageCompleted)
	}
	if saved.Status.OverallProgress != 100 {
		t.Fatalf("overall progress = %d, want 100", saved.Status.OverallProgress)
	}
	// One task per intermediate transition, none after completion.
	if len(bus.tasks) != len(stages)-1 {
		t.Fatalf("published %d tasks, want %d", len(bus.tasks), len(stages)-1)
	}
	if len(leases.releases) != 1 {
		t.Fatalf("lease released %d times, want 1", len(leases.releases))
	}
	if len(reporter.succeeded) != 1 || reporter.succeeded[0] != "doc-1" {
		t.Fatalf("queue not notified of success: %v", reporter.succeeded)
	}
}

func TestPipelineSuspendIsNotTerminal(t *testing.T) {
	doc := testDocument("doc-1")
	uc, repo, _, _, _, reporter := newPipelineHarness(doc)

	if err := uc.Suspend(context.Background(), "doc-1", "rule r-1 disabled"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if saved.Status.Terminal() {
		t.Fatal("suspended run must not be terminal")
	}
	if got := saved.Status.Stages[saved.Status.CurrentStage].Status; got != domain.StageSuspended {
		t.Fatalf("current stage status = %s, want %s", got, domain.StageSuspended)
	}
	if len(reporter.failed) != 0 {
		t.Fatal("suspension must not enqueue for reprocessing")
	}
}

func TestPipelineAdvanceUnknownDocument(t *testing.T) {
	uc, _, _, _, _, _ := newPipelineHarness()

	err := uc.Advance(context.Background(), "missing", domain.StageOutcome{
		Stage:     domain.StageOCRProcessing,
		Completed: true,
	})
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("want document-not-found, got %v", err)
	}
}

func TestPipelineAdvanceLostUpdateConflicts(t *testing.T) {
	uc, repo, _, bus, _, _ := newPipelineHarness(docAtStage("doc-1", domain.StageFieldExtraction))
	// A concurrent callback already advanced the stored run; this
	// caller still sees the OCR stage.
	repo.staleView = docAtStage("doc-1", domain.StageOCRProcessing)

	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage:     domain.StageOCRProcessing,
		Completed: true,
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("lost update must conflict, got %v", err)
	}
	if len(bus.tasks) != 0 {
		t.Fatalf("lost update must not publish tasks, got %+v", bus.tasks)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if saved.Status.CurrentStage != domain.StageFieldExtraction {
		t.Fatalf("stored run overwritten: at %s", saved.Status.CurrentStage)
	}
}

func TestPipelineResumeRepublishesParkedStage(t *testing.T) {
	doc := docAtStage("doc-1", domain.StageValidation)
	uc, repo, leases, bus, _, _ := newPipelineHarness(doc)

	if err := uc.Suspend(context.Background(), "doc-1", "rule r-1 disabled"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if err := uc.Resume(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if got := saved.Status.Stages[domain.StageValidation].Status; got != domain.StageProcessing {
		t.Fatalf("resumed stage status = %s, want %s", got, domain.StageProcessing)
	}
	if saved.Status.Stages[domain.StageValidation].Error != "" {
		t.Fatal("resume must clear the parked stage error")
	}
	if len(bus.tasks) != 1 || bus.tasks[0].Stage != domain.StageValidation {
		t.Fatalf("expected one validation task, got %+v", bus.tasks)
	}
	if _, held := leases.held["doc-1"]; !held {
		t.Fatal("resume must re-acquire the document lease")
	}
}

func TestPipelineResumeOfActiveRunConflicts(t *testing.T) {
	doc := testDocument("doc-1")
	uc, _, _, bus, _, _ := newPipelineHarness(doc)

	err := uc.Resume(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("resume of a running document must conflict, got %v", err)
	}
	if len(bus.tasks) != 0 {
		t.Fatalf("no tasks expected, got %+v", bus.tasks)
	}
}

func TestPipelineRunOutcomeMetrics(t *testing.T) {
	completing := testDocument("doc-done")
	failing := testDocument("doc-fail")
	cancelling := testDocument("doc-cancel")
	repo := newRepoFake(completing, failing, cancelling)
	metrics := newMetricsFake()
	uc := NewPipelineUseCase(repo, newLeaseFake(), &busFake{}, &eventsFake{},
		&reporterFake{}, metrics, time.Minute, testLogger())

	for _, stage := range []domain.Stage{
		domain.StageOCRProcessing,
		domain.StageFieldExtraction,
		domain.StageValidation,
		domain.StageEmbedding,
		domain.StageIndexing,
	} {
		if err := uc.Advance(context.Background(), "doc-done", domain.StageOutcome{Stage: stage, Completed: true}); err != nil {
			t.Fatalf("Advance(%s): %v", stage, err)
		}
	}
	if err := uc.Advance(context.Background(), "doc-fail", domain.StageOutcome{
		Stage: domain.StageOCRProcessing,
		Error: "ocr: upstream timeout",
	}); err != nil {
		t.Fatalf("Advance failure: %v", err)
	}
	if err := uc.Cancel(context.Background(), "doc-cancel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	want := []string{"completed", "failed", "cancelled"}
	if len(metrics.runs) != len(want) {
		t.Fatalf("recorded runs = %v, want %v", metrics.runs, want)
	}
	for i, status := range want {
		if metrics.runs[i] != status {
			t.Fatalf("recorded runs = %v, want %v", metrics.runs, want)
		}
	}
}

func TestPipelineFailureCarriesViolations(t *testing.T) {
	doc := testDocument("doc-1")
	now := time.Now()
	for _, stage := range []domain.Stage{domain.StageOCRProcessing, domain.StageFieldExtraction} {
		if err := doc.Status.RecordProgress(stage, 100); err != nil {
			t.Fatalf("RecordProgress(%s): %v", stage, err)
		}
		if err := doc.Status.AdvanceSuccess(now); err != nil {
			t.Fatalf("AdvanceSuccess(%s): %v", stage, err)
		}
	}
	uc, repo, _, _, _, _ := newPipelineHarness(doc)

	violations := []domain.Violation{
		{Field: "amount", RuleID: "r-1", Kind: domain.ViolationRuleFailed, Message: "amount below threshold"},
	}
	err := uc.Advance(context.Background(), "doc-1", domain.StageOutcome{
		Stage:      domain.StageValidation,
		Error:      "validation failed with 1 violation(s)",
		Violations: violations,
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	saved, _ := repo.GetByID(context.Background(), "doc-1")
	if len(saved.Violations) != 1 || saved.Violations[0].RuleID != "r-1" {
		t.Fatalf("violations not persisted: %+v", saved.Violations)
	}
}
