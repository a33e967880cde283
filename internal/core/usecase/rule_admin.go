package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/mapping"
	"github.com/ragbridge/pipeline/internal/core/ports"
	"github.com/ragbridge/pipeline/internal/core/rules"
)

// ValidationRuleAdminUseCase is the configuration boundary for
// validation rules. Patterns are compiled at write time so a broken
// rule is rejected before it can ever reach the pipeline.
type ValidationRuleAdminUseCase struct {
	repo ports.ValidationRuleRepository
}

func NewValidationRuleAdminUseCase(repo ports.ValidationRuleRepository) *ValidationRuleAdminUseCase {
	return &ValidationRuleAdminUseCase{repo: repo}
}

func (uc *ValidationRuleAdminUseCase) Create(ctx context.Context, rule *domain.ValidationRule) error {
	if err := validateValidationRule(rule); err != nil {
		return err
	}
	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := uc.repo.Create(ctx, rule); err != nil {
		return fmt.Errorf("create validation rule: %w", err)
	}
	return nil
}

func (uc *ValidationRuleAdminUseCase) Update(ctx context.Context, rule *domain.ValidationRule) error {
	if err := validateValidationRule(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	if err := uc.repo.Update(ctx, rule); err != nil {
		return fmt.Errorf("update validation rule: %w", err)
	}
	return nil
}

func (uc *ValidationRuleAdminUseCase) Delete(ctx context.Context, tenantID, id string) error {
	return uc.repo.Delete(ctx, tenantID, id)
}

func (uc *ValidationRuleAdminUseCase) Get(ctx context.Context, tenantID, id string) (*domain.ValidationRule, error) {
	return uc.repo.GetByID(ctx, tenantID, id)
}

func (uc *ValidationRuleAdminUseCase) List(ctx context.Context, tenantID string) ([]domain.ValidationRule, error) {
	return uc.repo.List(ctx, tenantID)
}

// Test evaluates a stored rule against a sample value, returning the
// exact verdict shape the pipeline would produce.
func (uc *ValidationRuleAdminUseCase) Test(ctx context.Context, tenantID, id, sampleValue string) (domain.Verdict, error) {
	rule, err := uc.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return domain.Verdict{}, err
	}
	return rules.Evaluate(*rule, sampleValue)
}

func validateValidationRule(rule *domain.ValidationRule) error {
	if rule == nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate rule", errors.New("nil rule"))
	}
	if strings.TrimSpace(rule.TenantID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate rule", errors.New("tenant id is required"))
	}
	if strings.TrimSpace(rule.Name) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate rule", errors.New("rule name is required"))
	}
	if strings.TrimSpace(rule.Field) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate rule", errors.New("governed field is required"))
	}
	switch rule.ValidationType {
	case domain.ValidationRegex:
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "validate rule",
				fmt.Errorf("invalid pattern: %w", err))
		}
	case domain.ValidationThreshold, domain.ValidationHumanReview:
	default:
		return domain.WrapError(domain.ErrInvalidInput, "validate rule",
			fmt.Errorf("unsupported validation type %q", rule.ValidationType))
	}
	return nil
}

// MappingRuleAdminUseCase is the configuration boundary for mapping
// rules.
type MappingRuleAdminUseCase struct {
	repo   ports.MappingRuleRepository
	mapper *mapping.Engine
}

func NewMappingRuleAdminUseCase(repo ports.MappingRuleRepository, mapper *mapping.Engine) *MappingRuleAdminUseCase {
	return &MappingRuleAdminUseCase{repo: repo, mapper: mapper}
}

func (uc *MappingRuleAdminUseCase) Create(ctx context.Context, rule *domain.MappingRule) error {
	if err := validateMappingRule(rule); err != nil {
		return err
	}
	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := uc.repo.Create(ctx, rule); err != nil {
		return fmt.Errorf("create mapping rule: %w", err)
	}
	return nil
}

func (uc *MappingRuleAdminUseCase) Update(ctx context.Context, rule *domain.MappingRule) error {
	if err := validateMappingRule(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	if err := uc.repo.Update(ctx, rule); err != nil {
		return fmt.Errorf("update mapping rule: %w", err)
	}
	return nil
}

func (uc *MappingRuleAdminUseCase) Delete(ctx context.Context, tenantID, id string) error {
	return uc.repo.Delete(ctx, tenantID, id)
}

func (uc *MappingRuleAdminUseCase) Get(ctx context.Context, tenantID, id string) (*domain.MappingRule, error) {
	return uc.repo.GetByID(ctx, tenantID, id)
}

func (uc *MappingRuleAdminUseCase) List(ctx context.Context, tenantID string) ([]domain.MappingRule, error) {
	return uc.repo.List(ctx, tenantID)
}

// Test maps a sample value through a stored rule, returning the same
// result shape the extraction stage produces.
func (uc *MappingRuleAdminUseCase) Test(ctx context.Context, tenantID, id, sampleValue string) (domain.MappingResult, error) {
	rule, err := uc.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return domain.MappingResult{}, err
	}
	return uc.mapper.Map(ctx, *rule, sampleValue)
}

func validateMappingRule(rule *domain.MappingRule) error {
	if rule == nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule", errors.New("nil rule"))
	}
	if strings.TrimSpace(rule.TenantID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule", errors.New("tenant id is required"))
	}
	if strings.TrimSpace(rule.SourceField) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule", errors.New("source field is required"))
	}
	if strings.TrimSpace(rule.TargetField) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule", errors.New("target field is required"))
	}
	if rule.ConfidenceThreshold < 0 || rule.ConfidenceThreshold > 100 {
		return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule",
			fmt.Errorf("confidence threshold %d out of [0,100]", rule.ConfidenceThreshold))
	}
	switch rule.MappingType {
	case domain.MappingExact, domain.MappingFuzzy, domain.MappingModel:
	case domain.MappingRegex:
		if _, err := regexp.Compile(rule.SourceField); err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule",
				fmt.Errorf("invalid pattern: %w", err))
		}
	default:
		return domain.WrapError(domain.ErrInvalidInput, "validate mapping rule",
			fmt.Errorf("unsupported mapping type %q", rule.MappingType))
	}
	return nil
}
