package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/mapping"
	"github.com/ragbridge/pipeline/internal/core/ports"
	"github.com/ragbridge/pipeline/internal/core/rules"
)

// StageExecutorUseCase runs one stage task end to end: external AI
// stages go through the DocumentAI capability, field extraction and
// validation run in-process against the configured rules. Every path
// ends in exactly one Advance call (or a suspension).
type StageExecutorUseCase struct {
	repo    ports.DocumentRepository
	vRules  ports.ValidationRuleRepository
	mRules  ports.MappingRuleRepository
	ai      ports.DocumentAI
	mapper  *mapping.Engine
	advance ports.PipelineAdvancer
	suspend RunSuspender
	events  ports.EventPublisher
	metrics ports.PipelineMetrics

	// fieldParallelism bounds the per-field fan-out inside one stage.
	fieldParallelism int
	logger           *slog.Logger
}

// RunSuspender parks a run after a rule configuration error.
type RunSuspender interface {
	Suspend(ctx context.Context, documentID, reason string) error
}

func NewStageExecutorUseCase(
	repo ports.DocumentRepository,
	vRules ports.ValidationRuleRepository,
	mRules ports.MappingRuleRepository,
	ai ports.DocumentAI,
	mapper *mapping.Engine,
	advance ports.PipelineAdvancer,
	suspend RunSuspender,
	events ports.EventPublisher,
	metrics ports.PipelineMetrics,
	fieldParallelism int,
	logger *slog.Logger,
) *StageExecutorUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if fieldParallelism <= 0 {
		fieldParallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StageExecutorUseCase{
		repo:             repo,
		vRules:           vRules,
		mRules:           mRules,
		ai:               ai,
		mapper:           mapper,
		advance:          advance,
		suspend:          suspend,
		events:           events,
		metrics:          metrics,
		fieldParallelism: fieldParallelism,
		logger:           logger,
	}
}

// ExecuteTask processes one stage task. A task whose document moved on
// (cancelled, failed elsewhere, already advanced) is discarded, not
// retried: cancellation is cooperative and late results are dropped.
func (uc *StageExecutorUseCase) ExecuteTask(ctx context.Context, task domain.StageTask) error {
	doc, err := uc.repo.GetByID(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load document for stage task: %w", err)
	}

	if doc.Status.Terminal() || doc.Status.CurrentStage != task.Stage {
		uc.logger.Info("stage_task_discarded",
			"document_id", task.DocumentID,
			"task_stage", task.Stage.String(),
			"current_stage", doc.Status.CurrentStage.String(),
		)
		return nil
	}

	switch task.Stage {
	case domain.StageOCRProcessing:
		return uc.runOCR(ctx, doc)
	case domain.StageFieldExtraction:
		return uc.runFieldExtraction(ctx, doc)
	case domain.StageValidation:
		return uc.runValidation(ctx, doc)
	case domain.StageEmbedding:
		return uc.runEmbedding(ctx, doc)
	case domain.StageIndexing:
		return uc.runIndexing(ctx, doc)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "execute stage task",
			fmt.Errorf("stage %s has no executor", task.Stage))
	}
}

func (uc *StageExecutorUseCase) runOCR(ctx context.Context, doc *domain.Document) error {
	fields, err := uc.ai.RecognizeFields(ctx, doc.StorageRef, doc.FileType)
	if err != nil {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage: domain.StageOCRProcessing,
			Error: fmt.Sprintf("ocr: %v", err),
		})
	}
	return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
		Stage:           domain.StageOCRProcessing,
		Completed:       true,
		ExtractedFields: fields,
	})
}

// runFieldExtraction maps every expected field through its mapping
// rule. Below-threshold mappings do not fail this stage; they are
// carried as violations and decide the validation stage's verdict.
func (uc *StageExecutorUseCase) runFieldExtraction(ctx context.Context, doc *domain.Document) error {
	active, err := uc.mRules.ListActive(ctx, doc.TenantID)
	if err != nil {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage: domain.StageFieldExtraction,
			Error: fmt.Sprintf("load mapping rules: %v", err),
		})
	}

	byTarget := make(map[string]domain.MappingRule, len(active))
	for _, rule := range active {
		byTarget[rule.TargetField] = rule
	}

	type fieldMapping struct {
		field     string
		rule      domain.MappingRule
		result    domain.MappingResult
		unmapped  bool
		configErr error
	}
	results := make([]fieldMapping, len(doc.ExpectedFields))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.fieldParallelism)
	for i, field := range doc.ExpectedFields {
		group.Go(func() error {
			results[i].field = field
			rule, ok := byTarget[field]
			if !ok {
				results[i].unmapped = true
				return nil
			}
			results[i].rule = rule

			raw := doc.ExtractedFields[rule.SourceField]
			result, err := uc.mapper.Map(groupCtx, rule, raw)
			if err != nil {
				if domain.IsKind(err, domain.ErrRuleConfig) {
					results[i].configErr = err
					return nil
				}
				return fmt.Errorf("map field %s: %w", field, err)
			}
			results[i].result = result
			return nil
		})
	}
	// Aggregation barrier: the stage verdict is decided only after every
	// field evaluation finished.
	if err := group.Wait(); err != nil {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage: domain.StageFieldExtraction,
			Error: fmt.Sprintf("field mapping: %v", err),
		})
	}

	mapped := make(map[string]string)
	var violations []domain.Violation
	for _, fm := range results {
		if fm.configErr != nil {
			return uc.suspendForRule(ctx, doc, fm.rule.TenantID, fm.rule.ID, true, fm.configErr)
		}
		if fm.unmapped {
			uc.metrics.RecordMappingDecision("unmapped")
			continue
		}
		threshold := fm.rule.ConfidenceThreshold
		if threshold == 0 {
			threshold = doc.ConfidenceScore
		}
		if fm.result.Confidence < threshold {
			uc.metrics.RecordMappingDecision("rejected")
			violations = append(violations, domain.Violation{
				Field:      fm.field,
				RuleID:     fm.rule.ID,
				Kind:       domain.ViolationMappingFailed,
				Message:    fmt.Sprintf("mapping confidence %d below threshold %d", fm.result.Confidence, threshold),
				Confidence: fm.result.Confidence,
			})
			continue
		}
		uc.metrics.RecordMappingDecision("accepted")
		mapped[fm.field] = fm.result.MappedValue
	}

	return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
		Stage:           domain.StageFieldExtraction,
		Completed:       true,
		ExtractedFields: mapped,
		Violations:      violations,
	})
}

// runValidation evaluates every active rule governing an extracted
// field. Any violation, including mapping violations carried from the
// extraction stage, fails the stage with the full structured list.
func (uc *StageExecutorUseCase) runValidation(ctx context.Context, doc *domain.Document) error {
	active, err := uc.vRules.ListActive(ctx, doc.TenantID)
	if err != nil {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage: domain.StageValidation,
			Error: fmt.Sprintf("load validation rules: %v", err),
		})
	}

	var (
		mu         sync.Mutex
		violations []domain.Violation
		configErrs []struct {
			rule domain.ValidationRule
			err  error
		}
	)

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(uc.fieldParallelism)
	for _, rule := range active {
		group.Go(func() error {
			value := doc.ExtractedFields[rule.Field]
			verdict, err := rules.Evaluate(rule, value)
			if err != nil {
				mu.Lock()
				configErrs = append(configErrs, struct {
					rule domain.ValidationRule
					err  error
				}{rule, err})
				mu.Unlock()
				return nil
			}
			if verdict.Passed {
				return nil
			}
			kind := domain.ViolationRuleFailed
			if rule.ValidationType == domain.ValidationHumanReview {
				kind = domain.ViolationHumanReview
			}
			mu.Lock()
			violations = append(violations, domain.Violation{
				Field:   rule.Field,
				RuleID:  rule.ID,
				Kind:    kind,
				Message: verdict.Message,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("validation fan-out: %w", err)
	}

	if len(configErrs) > 0 {
		first := configErrs[0]
		return uc.suspendForRule(ctx, doc, first.rule.TenantID, first.rule.ID, false, first.err)
	}

	for kind, count := range violationsByKind(violations) {
		uc.metrics.RecordViolations(kind, count)
	}

	// Mapping violations recorded at extraction also fail validation.
	total := len(violations) + countMappingViolations(doc.Violations)
	if total > 0 {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage:      domain.StageValidation,
			Error:      fmt.Sprintf("validation failed with %d violation(s)", total),
			Violations: violations,
		})
	}

	return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
		Stage:     domain.StageValidation,
		Completed: true,
	})
}

func (uc *StageExecutorUseCase) runEmbedding(ctx context.Context, doc *domain.Document) error {
	if err := uc.ai.EmbedDocument(ctx, doc.ID, doc.ExtractedFields); err != nil {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage: domain.StageEmbedding,
			Error: fmt.Sprintf("embedding: %v", err),
		})
	}
	return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
		Stage:     domain.StageEmbedding,
		Completed: true,
	})
}

func (uc *StageExecutorUseCase) runIndexing(ctx context.Context, doc *domain.Document) error {
	if err := uc.ai.IndexDocument(ctx, doc.ID, doc.ExtractedFields); err != nil {
		return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
			Stage: domain.StageIndexing,
			Error: fmt.Sprintf("indexing: %v", err),
		})
	}
	return uc.advance.Advance(ctx, doc.ID, domain.StageOutcome{
		Stage:     domain.StageIndexing,
		Completed: true,
	})
}

// suspendForRule handles a configuration error: the rule is disabled,
// an operator alert is raised, and the run is suspended rather than
// failed. The error is never attributed to the document.
func (uc *StageExecutorUseCase) suspendForRule(ctx context.Context, doc *domain.Document, tenantID, ruleID string, isMapping bool, cause error) error {
	deactivate := uc.vRules.Deactivate
	if isMapping {
		deactivate = uc.mRules.Deactivate
	}
	if err := deactivate(ctx, tenantID, ruleID); err != nil {
		uc.logger.Error("deactivate_rule", "rule_id", ruleID, "error", err)
	}

	alert := domain.OperatorAlertEvent{
		RuleID:   ruleID,
		TenantID: tenantID,
		Message:  cause.Error(),
		RaisedAt: time.Now().UTC(),
	}
	if err := uc.events.PublishOperatorAlert(ctx, alert); err != nil {
		uc.logger.Error("publish_operator_alert", "rule_id", ruleID, "error", err)
	}

	return uc.suspend.Suspend(ctx, doc.ID, fmt.Sprintf("rule %s disabled: %v", ruleID, cause))
}

func violationsByKind(violations []domain.Violation) map[string]int {
	byKind := make(map[string]int, 2)
	for _, v := range violations {
		byKind[string(v.Kind)]++
	}
	return byKind
}

func countMappingViolations(violations []domain.Violation) int {
	count := 0
	for _, v := range violations {
		if v.Kind == domain.ViolationMappingFailed {
			count++
		}
	}
	return count
}
