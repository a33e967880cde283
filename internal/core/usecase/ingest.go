package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo     ports.DocumentRepository
	leases   ports.LeaseStore
	bus      ports.StageTaskBus
	leaseTTL time.Duration
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	leases ports.LeaseStore,
	bus ports.StageTaskBus,
	leaseTTL time.Duration,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:     repo,
		leases:   leases,
		bus:      bus,
		leaseTTL: leaseTTL,
	}
}

// Ingest registers an uploaded document and starts its pipeline run.
// Upload itself is an external precondition: the caller hands over
// metadata plus a storage reference, never file bytes.
func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	if err := validateIngest(doc); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc.ID = uuid.NewString()
	doc.Status = domain.NewPipelineStatus(now)
	doc.Violations = nil
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}

	acquired, err := uc.leases.Acquire(ctx, doc.ID, leaseOwner(doc.ID), uc.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire document lease: %w", err)
	}
	if !acquired {
		return nil, domain.WrapError(domain.ErrConflict, "start pipeline",
			fmt.Errorf("document %s already has an active run", doc.ID))
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := uc.bus.PublishStageTask(ctx, domain.StageTask{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Stage:      doc.Status.CurrentStage,
	}); err != nil {
		return nil, fmt.Errorf("publish first stage task: %w", err)
	}

	return doc, nil
}

func validateIngest(doc *domain.Document) error {
	if doc == nil {
		return domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("nil document"))
	}
	if strings.TrimSpace(doc.TenantID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("tenant id is required"))
	}
	if strings.TrimSpace(doc.Name) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("document name is required"))
	}
	if strings.TrimSpace(doc.StorageRef) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("storage reference is required"))
	}
	if doc.SizeBytes < 0 {
		return domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("negative document size"))
	}
	return nil
}

// leaseOwner derives the lease owner token for a run. One owner per
// document keeps re-entrant acquires by the same run idempotent.
func leaseOwner(documentID string) string {
	return "pipeline/" + documentID
}
