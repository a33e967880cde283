package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/ports"
)

type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Upsert(ctx context.Context, item *domain.QueueItem) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO reprocess_queue (
	document_id, tenant_id, document_name, file_type, failure_reason, failed_stage,
	priority, status, retry_count, last_attempt_at, next_attempt_at, enqueued_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (document_id) DO UPDATE
SET failure_reason = EXCLUDED.failure_reason,
	failed_stage = EXCLUDED.failed_stage,
	priority = EXCLUDED.priority,
	status = EXCLUDED.status,
	retry_count = EXCLUDED.retry_count,
	last_attempt_at = EXCLUDED.last_attempt_at,
	next_attempt_at = EXCLUDED.next_attempt_at,
	updated_at = EXCLUDED.updated_at
`,
		item.DocumentID, item.TenantID, item.DocumentName, item.FileType, item.FailureReason,
		item.FailedStage.String(), string(item.Priority), string(item.Status), item.RetryCount,
		item.LastAttemptAt, item.NextAttemptAt, item.EnqueuedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert queue item: %w", err)
	}
	return nil
}

func (r *QueueRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, tenant_id, document_name, file_type, failure_reason, failed_stage,
	priority, status, retry_count, last_attempt_at, next_attempt_at, enqueued_at, updated_at
FROM reprocess_queue
WHERE document_id = $1
`, documentID)

	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrQueueItemNotFound, "get queue item",
				fmt.Errorf("document_id=%s", documentID))
		}
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	return &item, nil
}

// ClaimNext is the single dequeue point: one due pending item flips to
// processing and consumes one retry, atomically under concurrent
// schedulers via SKIP LOCKED.
func (r *QueueRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
WITH due AS (
	SELECT document_id
	FROM reprocess_queue
	WHERE status = 'pending' AND next_attempt_at <= $1
	ORDER BY CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
		last_attempt_at ASC NULLS FIRST,
		next_attempt_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE reprocess_queue q
SET status = 'processing', retry_count = q.retry_count + 1, last_attempt_at = $1, updated_at = $1
FROM due
WHERE q.document_id = due.document_id
RETURNING q.document_id, q.tenant_id, q.document_name, q.file_type, q.failure_reason, q.failed_stage,
	q.priority, q.status, q.retry_count, q.last_attempt_at, q.next_attempt_at, q.enqueued_at, q.updated_at
`, now)

	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next queue item: %w", err)
	}
	return &item, nil
}

func (r *QueueRepository) Update(ctx context.Context, item *domain.QueueItem) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE reprocess_queue
SET failure_reason = $2, priority = $3, status = $4, retry_count = $5,
	last_attempt_at = $6, next_attempt_at = $7, updated_at = $8
WHERE document_id = $1
`,
		item.DocumentID, item.FailureReason, string(item.Priority), string(item.Status),
		item.RetryCount, item.LastAttemptAt, item.NextAttemptAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update queue item rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrQueueItemNotFound, "update queue item",
			fmt.Errorf("document_id=%s", item.DocumentID))
	}
	return nil
}

func (r *QueueRepository) Delete(ctx context.Context, documentID string) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM reprocess_queue
WHERE document_id = $1
`, documentID)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete queue item rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrQueueItemNotFound, "delete queue item",
			fmt.Errorf("document_id=%s", documentID))
	}
	return nil
}

func (r *QueueRepository) List(ctx context.Context, filter ports.QueueFilter) ([]domain.QueueItem, error) {
	query := `
SELECT document_id, tenant_id, document_name, file_type, failure_reason, failed_stage,
	priority, status, retry_count, last_attempt_at, next_attempt_at, enqueued_at, updated_at
FROM reprocess_queue
WHERE 1=1
`
	args := make([]interface{}, 0, 2)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf("AND status = $%d\n", len(args))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		query += fmt.Sprintf("AND priority = $%d\n", len(args))
	}
	query += `ORDER BY CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC, enqueued_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return out, nil
}

func (r *QueueRepository) Statistics(ctx context.Context) (domain.QueueStatistics, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE status = 'pending'),
	COUNT(*) FILTER (WHERE status = 'processing'),
	COUNT(*) FILTER (WHERE status = 'completed'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - enqueued_at))) FILTER (WHERE status IN ('completed','failed')), 0),
	CASE WHEN COUNT(*) FILTER (WHERE status IN ('completed','failed')) = 0 THEN 0
		ELSE COUNT(*) FILTER (WHERE status = 'completed')::double precision
			/ COUNT(*) FILTER (WHERE status IN ('completed','failed'))
	END
FROM reprocess_queue
`)

	var stats domain.QueueStatistics
	err := row.Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.AvgProcessingSeconds,
		&stats.SuccessRate,
	)
	if err != nil {
		return domain.QueueStatistics{}, fmt.Errorf("scan queue statistics: %w", err)
	}
	return stats, nil
}

type queueScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row queueScanner) (domain.QueueItem, error) {
	var item domain.QueueItem
	var failedStage, priority, status string
	var lastAttempt sql.NullTime
	err := row.Scan(
		&item.DocumentID,
		&item.TenantID,
		&item.DocumentName,
		&item.FileType,
		&item.FailureReason,
		&failedStage,
		&priority,
		&status,
		&item.RetryCount,
		&lastAttempt,
		&item.NextAttemptAt,
		&item.EnqueuedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.QueueItem{}, err
	}
	stage, err := domain.ParseStage(failedStage)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("parse failed stage: %w", err)
	}
	item.FailedStage = stage
	item.Priority = domain.QueuePriority(priority)
	item.Status = domain.QueueStatus(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		item.LastAttemptAt = &t
	}
	return item, nil
}
