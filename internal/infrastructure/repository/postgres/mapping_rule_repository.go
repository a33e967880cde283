package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

type MappingRuleRepository struct {
	db *sql.DB
}

func NewMappingRuleRepository(db *sql.DB) *MappingRuleRepository {
	return &MappingRuleRepository{db: db}
}

func (r *MappingRuleRepository) Create(ctx context.Context, rule *domain.MappingRule) error {
	transformsJSON, err := json.Marshal(rule.Transforms)
	if err != nil {
		return fmt.Errorf("marshal transforms: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO mapping_rules (
	id, tenant_id, name, source_field, target_field, mapping_type,
	confidence_threshold, transforms, is_active, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		rule.ID, rule.TenantID, rule.Name, rule.SourceField, rule.TargetField, string(rule.MappingType),
		rule.ConfidenceThreshold, transformsJSON, rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mapping rule: %w", err)
	}
	return nil
}

func (r *MappingRuleRepository) Update(ctx context.Context, rule *domain.MappingRule) error {
	transformsJSON, err := json.Marshal(rule.Transforms)
	if err != nil {
		return fmt.Errorf("marshal transforms: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE mapping_rules
SET name = $3, source_field = $4, target_field = $5, mapping_type = $6,
	confidence_threshold = $7, transforms = $8, is_active = $9, updated_at = $10
WHERE tenant_id = $1 AND id = $2
`,
		rule.TenantID, rule.ID, rule.Name, rule.SourceField, rule.TargetField, string(rule.MappingType),
		rule.ConfidenceThreshold, transformsJSON, rule.IsActive, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update mapping rule: %w", err)
	}
	return ruleRowsAffected(result, rule.ID)
}

func (r *MappingRuleRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM mapping_rules
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete mapping rule: %w", err)
	}
	return ruleRowsAffected(result, id)
}

func (r *MappingRuleRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.MappingRule, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, name, source_field, target_field, mapping_type,
	confidence_threshold, transforms, is_active, created_at, updated_at
FROM mapping_rules
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)

	rule, err := scanMappingRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRuleNotFound, "get mapping rule",
				fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan mapping rule: %w", err)
	}
	return &rule, nil
}

func (r *MappingRuleRepository) List(ctx context.Context, tenantID string) ([]domain.MappingRule, error) {
	return r.list(ctx, tenantID, false)
}

func (r *MappingRuleRepository) ListActive(ctx context.Context, tenantID string) ([]domain.MappingRule, error) {
	return r.list(ctx, tenantID, true)
}

func (r *MappingRuleRepository) list(ctx context.Context, tenantID string, activeOnly bool) ([]domain.MappingRule, error) {
	query := `
SELECT id, tenant_id, name, source_field, target_field, mapping_type,
	confidence_threshold, transforms, is_active, created_at, updated_at
FROM mapping_rules
WHERE tenant_id = $1
`
	if activeOnly {
		query += "AND is_active\n"
	}
	query += "ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list mapping rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.MappingRule, 0)
	for rows.Next() {
		rule, err := scanMappingRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mapping rules: %w", err)
	}
	return out, nil
}

func (r *MappingRuleRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE mapping_rules
SET is_active = FALSE, updated_at = $3
WHERE tenant_id = $1 AND id = $2
`, tenantID, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate mapping rule: %w", err)
	}
	return ruleRowsAffected(result, id)
}

func scanMappingRule(row ruleScanner) (domain.MappingRule, error) {
	var rule domain.MappingRule
	var mappingType string
	var transformsRaw []byte
	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&rule.SourceField,
		&rule.TargetField,
		&mappingType,
		&rule.ConfidenceThreshold,
		&transformsRaw,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return domain.MappingRule{}, err
	}
	if err := json.Unmarshal(transformsRaw, &rule.Transforms); err != nil {
		return domain.MappingRule{}, fmt.Errorf("unmarshal transforms: %w", err)
	}
	rule.MappingType = domain.MappingType(mappingType)
	return rule, nil
}
