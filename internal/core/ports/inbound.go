package ports

import (
	"context"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// DocumentIngestor accepts new documents at the ingestion boundary and
// starts their pipeline run. It fails synchronously only on malformed
// input, never on downstream pipeline issues.
type DocumentIngestor interface {
	Ingest(ctx context.Context, doc *domain.Document) (*domain.Document, error)
}

// PipelineAdvancer is the asynchronous continuation boundary: stage
// executors and external service callbacks report outcomes here.
type PipelineAdvancer interface {
	Advance(ctx context.Context, documentID string, outcome domain.StageOutcome) error
}

// PipelineController exposes operator controls over a run.
type PipelineController interface {
	Cancel(ctx context.Context, documentID string) error
	// Resume restarts a run parked by a rule configuration error, once
	// an operator has repaired or replaced the offending rule.
	Resume(ctx context.Context, documentID string) error
}

// DocumentReader is the status boundary read model.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// StageWorker executes one stage task end to end.
type StageWorker interface {
	ExecuteTask(ctx context.Context, task domain.StageTask) error
}

// ReprocessScheduler performs one scheduling pass of the reprocessing
// queue; it reports whether an item was dispatched.
type ReprocessScheduler interface {
	RunOnce(ctx context.Context) (bool, error)
}

// ValidationRuleAdmin is the configuration boundary for validation rules.
type ValidationRuleAdmin interface {
	Create(ctx context.Context, rule *domain.ValidationRule) error
	Update(ctx context.Context, rule *domain.ValidationRule) error
	Delete(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (*domain.ValidationRule, error)
	List(ctx context.Context, tenantID string) ([]domain.ValidationRule, error)
	Test(ctx context.Context, tenantID, id, sampleValue string) (domain.Verdict, error)
}

// MappingRuleAdmin is the configuration boundary for mapping rules.
type MappingRuleAdmin interface {
	Create(ctx context.Context, rule *domain.MappingRule) error
	Update(ctx context.Context, rule *domain.MappingRule) error
	Delete(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (*domain.MappingRule, error)
	List(ctx context.Context, tenantID string) ([]domain.MappingRule, error)
	Test(ctx context.Context, tenantID, id, sampleValue string) (domain.MappingResult, error)
}

// QueueAdmin is the queue management boundary.
type QueueAdmin interface {
	List(ctx context.Context, filter QueueFilter) ([]domain.QueueItem, error)
	RetryNow(ctx context.Context, documentID string) error
	Remove(ctx context.Context, documentID string) error
	Statistics(ctx context.Context) (domain.QueueStatistics, error)
}
