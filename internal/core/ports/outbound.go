package ports

import (
	"context"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// DocumentRepository persists document metadata and pipeline run state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// UpdateStatusFrom persists a new run state only while the stored
	// run is still on the expected stage. A write that lost the race
	// against a concurrent transition reports ErrConflict and changes
	// nothing.
	UpdateStatusFrom(ctx context.Context, id string, expected domain.Stage, status domain.PipelineStatus, violations []domain.Violation) error
	SaveExtractedFields(ctx context.Context, id string, fields map[string]string) error
}

// ValidationRuleRepository stores tenant-scoped validation rules.
type ValidationRuleRepository interface {
	Create(ctx context.Context, rule *domain.ValidationRule) error
	Update(ctx context.Context, rule *domain.ValidationRule) error
	Delete(ctx context.Context, tenantID, id string) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.ValidationRule, error)
	List(ctx context.Context, tenantID string) ([]domain.ValidationRule, error)
	ListActive(ctx context.Context, tenantID string) ([]domain.ValidationRule, error)
	// Deactivate disables a rule after a configuration error so it can
	// never silently pass or crash another run.
	Deactivate(ctx context.Context, tenantID, id string) error
}

// MappingRuleRepository stores tenant-scoped mapping rules.
type MappingRuleRepository interface {
	Create(ctx context.Context, rule *domain.MappingRule) error
	Update(ctx context.Context, rule *domain.MappingRule) error
	Delete(ctx context.Context, tenantID, id string) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.MappingRule, error)
	List(ctx context.Context, tenantID string) ([]domain.MappingRule, error)
	ListActive(ctx context.Context, tenantID string) ([]domain.MappingRule, error)
	Deactivate(ctx context.Context, tenantID, id string) error
}

// QueueFilter narrows reprocessing queue listings.
type QueueFilter struct {
	Status   domain.QueueStatus
	Priority domain.QueuePriority
}

// ReprocessQueueRepository is the durable documentId -> QueueItem store.
type ReprocessQueueRepository interface {
	// Upsert enqueues idempotently: a pending item for the same document
	// has its failure reason and priority updated, never duplicated.
	Upsert(ctx context.Context, item *domain.QueueItem) error
	GetByDocumentID(ctx context.Context, documentID string) (*domain.QueueItem, error)
	// ClaimNext atomically claims the highest-priority pending item whose
	// next attempt is due, ties broken by oldest last attempt. Returns
	// nil when nothing qualifies. Safe under concurrent schedulers.
	ClaimNext(ctx context.Context, now time.Time) (*domain.QueueItem, error)
	Update(ctx context.Context, item *domain.QueueItem) error
	Delete(ctx context.Context, documentID string) error
	List(ctx context.Context, filter QueueFilter) ([]domain.QueueItem, error)
	Statistics(ctx context.Context) (domain.QueueStatistics, error)
}

// LeaseStore grants time-bounded exclusive claims on documents so at
// most one pipeline run is active per document, even across crashed
// workers (the TTL expires the claim).
type LeaseStore interface {
	Acquire(ctx context.Context, documentID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, documentID, owner string) error
}

// StageTaskBus delivers stage work to the executor pool; queue-group
// delivery guarantees a task reaches one worker.
type StageTaskBus interface {
	PublishStageTask(ctx context.Context, task domain.StageTask) error
	SubscribeStageTasks(ctx context.Context, handler func(context.Context, domain.StageTask) error) error
}

// EventPublisher emits pipeline lifecycle events for downstream
// consumers (review surfaces, alerting).
type EventPublisher interface {
	PublishPipelineFailed(ctx context.Context, event domain.PipelineFailedEvent) error
	PublishEscalation(ctx context.Context, event domain.EscalationEvent) error
	PublishOperatorAlert(ctx context.Context, event domain.OperatorAlertEvent) error
}

// PipelineMetrics receives domain-level measurements from the use
// cases. Implementations live in the observability layer; a nil
// recorder is replaced with a no-op by the constructors.
type PipelineMetrics interface {
	RecordRunFinished(status string, duration time.Duration)
	RecordViolations(kind string, count int)
	RecordMappingDecision(outcome string)
	RecordEscalation()
}

// DocumentAI is the capability boundary to the external AI services.
// Model internals are out of scope; the pipeline only sees outcomes.
type DocumentAI interface {
	// RecognizeFields runs OCR over the stored document and returns raw
	// source-field candidates.
	RecognizeFields(ctx context.Context, storageRef, fileType string) (map[string]string, error)
	EmbedDocument(ctx context.Context, documentID string, fields map[string]string) error
	IndexDocument(ctx context.Context, documentID string, fields map[string]string) error
}
