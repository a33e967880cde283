package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker/scheduler startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	category TEXT,
	storage_ref TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	expected_fields JSONB NOT NULL DEFAULT '[]'::jsonb,
	extracted_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	confidence_score INT NOT NULL DEFAULT 0,
	status JSONB NOT NULL,
	violations JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);

CREATE TABLE IF NOT EXISTS validation_rules (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	field TEXT NOT NULL,
	field_type TEXT NOT NULL,
	validation_type TEXT NOT NULL,
	pattern TEXT,
	threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
	human_review_required BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_rules_tenant ON validation_rules(tenant_id, is_active);

CREATE TABLE IF NOT EXISTS mapping_rules (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	source_field TEXT NOT NULL,
	target_field TEXT NOT NULL,
	mapping_type TEXT NOT NULL,
	confidence_threshold INT NOT NULL DEFAULT 0,
	transforms JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mapping_rules_tenant ON mapping_rules(tenant_id, is_active);

CREATE TABLE IF NOT EXISTS reprocess_queue (
	document_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	document_name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	failure_reason TEXT NOT NULL,
	failed_stage TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMPTZ,
	next_attempt_at TIMESTAMPTZ NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reprocess_queue_due ON reprocess_queue(status, next_attempt_at);

CREATE TABLE IF NOT EXISTS document_leases (
	document_id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	expectedJSON, err := json.Marshal(doc.ExpectedFields)
	if err != nil {
		return fmt.Errorf("marshal expected fields: %w", err)
	}
	extractedJSON, err := json.Marshal(orEmptyFields(doc.ExtractedFields))
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}
	statusJSON, err := json.Marshal(doc.Status)
	if err != nil {
		return fmt.Errorf("marshal pipeline status: %w", err)
	}
	violationsJSON, err := json.Marshal(orEmptyViolations(doc.Violations))
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, tenant_id, name, file_type, size_bytes, category, storage_ref, uploaded_at,
	expected_fields, extracted_fields, confidence_score, status, violations, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		doc.ID, doc.TenantID, doc.Name, doc.FileType, doc.SizeBytes, doc.Category, doc.StorageRef, doc.UploadedAt,
		expectedJSON, extractedJSON, doc.ConfidenceScore, statusJSON, violationsJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, name, file_type, size_bytes, category, storage_ref, uploaded_at,
	expected_fields, extracted_fields, confidence_score, status, violations, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var category sql.NullString
	var expectedRaw, extractedRaw, statusRaw, violationsRaw []byte

	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Name, &doc.FileType, &doc.SizeBytes, &category, &doc.StorageRef, &doc.UploadedAt,
		&expectedRaw, &extractedRaw, &doc.ConfidenceScore, &statusRaw, &violationsRaw, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document",
				fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Category = category.String
	if err := json.Unmarshal(expectedRaw, &doc.ExpectedFields); err != nil {
		return nil, fmt.Errorf("unmarshal expected fields: %w", err)
	}
	if err := json.Unmarshal(extractedRaw, &doc.ExtractedFields); err != nil {
		return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
	}
	if err := json.Unmarshal(statusRaw, &doc.Status); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline status: %w", err)
	}
	if err := json.Unmarshal(violationsRaw, &doc.Violations); err != nil {
		return nil, fmt.Errorf("unmarshal violations: %w", err)
	}
	return &doc, nil
}

// UpdateStatusFrom writes the run state guarded by the stage the caller
// loaded it at. Losing the guard means another writer moved the run
// first; the stale state is discarded with ErrConflict.
func (r *DocumentRepository) UpdateStatusFrom(ctx context.Context, id string, expected domain.Stage, status domain.PipelineStatus, violations []domain.Violation) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal pipeline status: %w", err)
	}
	violationsJSON, err := json.Marshal(orEmptyViolations(violations))
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, violations = $3, updated_at = $4
WHERE id = $1 AND status->>'currentStage' = $5
`, id, statusJSON, violationsJSON, time.Now().UTC(), expected.String())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document status rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrConflict, "update document status",
			fmt.Errorf("document %s moved past %s", id, expected))
	}
	return nil
}

// SaveExtractedFields merges into the stored field map, so OCR output
// keyed by source field and extraction output keyed by target field
// accumulate in the same document.
func (r *DocumentRepository) SaveExtractedFields(ctx context.Context, id string, fields map[string]string) error {
	fieldsJSON, err := json.Marshal(orEmptyFields(fields))
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET extracted_fields = extracted_fields || $2::jsonb, updated_at = $3
WHERE id = $1
`, id, fieldsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save extracted fields: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save extracted fields rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "save extracted fields",
			fmt.Errorf("id=%s", id))
	}
	return nil
}

func orEmptyFields(fields map[string]string) map[string]string {
	if fields == nil {
		return map[string]string{}
	}
	return fields
}

func orEmptyViolations(violations []domain.Violation) []domain.Violation {
	if violations == nil {
		return []domain.Violation{}
	}
	return violations
}
