package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// Event subjects. Downstream consumers (review surfaces, alerting)
// subscribe plainly; the pipeline only publishes.
const (
	SubjectPipelineFailed = "pipeline.failed"
	SubjectEscalations    = "pipeline.escalated"
	SubjectOperatorAlerts = "ops.alerts"
)

func (b *Bus) PublishPipelineFailed(ctx context.Context, event domain.PipelineFailedEvent) error {
	return b.publishEvent(ctx, SubjectPipelineFailed, event)
}

func (b *Bus) PublishEscalation(ctx context.Context, event domain.EscalationEvent) error {
	return b.publishEvent(ctx, SubjectEscalations, event)
}

func (b *Bus) PublishOperatorAlert(ctx context.Context, event domain.OperatorAlertEvent) error {
	return b.publishEvent(ctx, SubjectOperatorAlerts, event)
}

func (b *Bus) publishEvent(ctx context.Context, subject string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.publish(ctx, subject, payload)
}
