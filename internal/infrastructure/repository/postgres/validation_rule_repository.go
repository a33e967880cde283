package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

type ValidationRuleRepository struct {
	db *sql.DB
}

func NewValidationRuleRepository(db *sql.DB) *ValidationRuleRepository {
	return &ValidationRuleRepository{db: db}
}

func (r *ValidationRuleRepository) Create(ctx context.Context, rule *domain.ValidationRule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO validation_rules (
	id, tenant_id, name, description, field, field_type, validation_type,
	pattern, threshold, human_review_required, is_active, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		rule.ID, rule.TenantID, rule.Name, rule.Description, rule.Field, string(rule.FieldType),
		string(rule.ValidationType), rule.Pattern, rule.Threshold, rule.HumanReviewRequired,
		rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert validation rule: %w", err)
	}
	return nil
}

func (r *ValidationRuleRepository) Update(ctx context.Context, rule *domain.ValidationRule) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE validation_rules
SET name = $3, description = $4, field = $5, field_type = $6, validation_type = $7,
	pattern = $8, threshold = $9, human_review_required = $10, is_active = $11, updated_at = $12
WHERE tenant_id = $1 AND id = $2
`,
		rule.TenantID, rule.ID, rule.Name, rule.Description, rule.Field, string(rule.FieldType),
		string(rule.ValidationType), rule.Pattern, rule.Threshold, rule.HumanReviewRequired,
		rule.IsActive, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update validation rule: %w", err)
	}
	return ruleRowsAffected(result, rule.ID)
}

func (r *ValidationRuleRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM validation_rules
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete validation rule: %w", err)
	}
	return ruleRowsAffected(result, id)
}

func (r *ValidationRuleRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.ValidationRule, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, name, description, field, field_type, validation_type,
	pattern, threshold, human_review_required, is_active, created_at, updated_at
FROM validation_rules
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)

	rule, err := scanValidationRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRuleNotFound, "get validation rule",
				fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan validation rule: %w", err)
	}
	return &rule, nil
}

func (r *ValidationRuleRepository) List(ctx context.Context, tenantID string) ([]domain.ValidationRule, error) {
	return r.list(ctx, tenantID, false)
}

func (r *ValidationRuleRepository) ListActive(ctx context.Context, tenantID string) ([]domain.ValidationRule, error) {
	return r.list(ctx, tenantID, true)
}

func (r *ValidationRuleRepository) list(ctx context.Context, tenantID string, activeOnly bool) ([]domain.ValidationRule, error) {
	query := `
SELECT id, tenant_id, name, description, field, field_type, validation_type,
	pattern, threshold, human_review_required, is_active, created_at, updated_at
FROM validation_rules
WHERE tenant_id = $1
`
	if activeOnly {
		query += "AND is_active\n"
	}
	query += "ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list validation rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ValidationRule, 0)
	for rows.Next() {
		rule, err := scanValidationRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation rules: %w", err)
	}
	return out, nil
}

func (r *ValidationRuleRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE validation_rules
SET is_active = FALSE, updated_at = $3
WHERE tenant_id = $1 AND id = $2
`, tenantID, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate validation rule: %w", err)
	}
	return ruleRowsAffected(result, id)
}

type ruleScanner interface {
	Scan(dest ...interface{}) error
}

func scanValidationRule(row ruleScanner) (domain.ValidationRule, error) {
	var rule domain.ValidationRule
	var description, pattern sql.NullString
	var fieldType, validationType string
	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&description,
		&rule.Field,
		&fieldType,
		&validationType,
		&pattern,
		&rule.Threshold,
		&rule.HumanReviewRequired,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return domain.ValidationRule{}, err
	}
	rule.Description = description.String
	rule.Pattern = pattern.String
	rule.FieldType = domain.FieldType(fieldType)
	rule.ValidationType = domain.ValidationType(validationType)
	return rule, nil
}

func ruleRowsAffected(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrRuleNotFound, "rule write",
			fmt.Errorf("id=%s", id))
	}
	return nil
}
