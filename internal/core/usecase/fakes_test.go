package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testDocument(id string) *domain.Document {
	now := time.Now().UTC()
	return &domain.Document{
		ID:         id,
		TenantID:   "tenant-1",
		Name:       "invoice-2024-03.pdf",
		FileType:   "pdf",
		SizeBytes:  4096,
		StorageRef: "s3://docs/" + id,
		UploadedAt: now,
		Status:     domain.NewPipelineStatus(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type repoFake struct {
	mu   sync.Mutex
	docs map[string]*domain.Document

	createErr error
	updateErr error

	// staleView, when set, is what GetByID returns instead of the
	// stored document, so tests can race a reader against a writer
	// that already moved the run.
	staleView *domain.Document
}

func newRepoFake(docs ...*domain.Document) *repoFake {
	f := &repoFake{docs: make(map[string]*domain.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *doc
	f.docs[doc.ID] = &copied
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleView != nil && f.staleView.ID == id {
		copied := *f.staleView
		return &copied, nil
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", domain.ErrDocumentNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (f *repoFake) UpdateStatusFrom(_ context.Context, id string, expected domain.Stage, status domain.PipelineStatus, violations []domain.Violation) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", domain.ErrDocumentNotFound)
	}
	if doc.Status.CurrentStage != expected {
		return domain.WrapError(domain.ErrConflict, "update status",
			fmt.Errorf("document %s moved past %s", id, expected))
	}
	doc.Status = status
	doc.Violations = violations
	return nil
}

func (f *repoFake) SaveExtractedFields(_ context.Context, id string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "save fields", domain.ErrDocumentNotFound)
	}
	if doc.ExtractedFields == nil {
		doc.ExtractedFields = make(map[string]string)
	}
	for k, v := range fields {
		doc.ExtractedFields[k] = v
	}
	return nil
}

type leaseFake struct {
	mu       sync.Mutex
	held     map[string]string
	denyAll  bool
	releases []string
}

func newLeaseFake() *leaseFake {
	return &leaseFake{held: make(map[string]string)}
}

func (f *leaseFake) Acquire(_ context.Context, documentID, owner string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyAll {
		return false, nil
	}
	if current, ok := f.held[documentID]; ok && current != owner {
		return false, nil
	}
	f.held[documentID] = owner
	return true, nil
}

func (f *leaseFake) Release(_ context.Context, documentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, documentID)
	f.releases = append(f.releases, documentID)
	return nil
}

type busFake struct {
	mu    sync.Mutex
	tasks []domain.StageTask
	err   error
}

func (f *busFake) PublishStageTask(_ context.Context, task domain.StageTask) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *busFake) SubscribeStageTasks(context.Context, func(context.Context, domain.StageTask) error) error {
	return nil
}

type eventsFake struct {
	mu          sync.Mutex
	failed      []domain.PipelineFailedEvent
	escalations []domain.EscalationEvent
	alerts      []domain.OperatorAlertEvent
}

func (f *eventsFake) PublishPipelineFailed(_ context.Context, e domain.PipelineFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, e)
	return nil
}

func (f *eventsFake) PublishEscalation(_ context.Context, e domain.EscalationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, e)
	return nil
}

func (f *eventsFake) PublishOperatorAlert(_ context.Context, e domain.OperatorAlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, e)
	return nil
}

type queueFake struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
}

func newQueueFake() *queueFake {
	return &queueFake{items: make(map[string]*domain.QueueItem)}
}

func (f *queueFake) Upsert(_ context.Context, item *domain.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *item
	f.items[item.DocumentID] = &copied
	return nil
}

func (f *queueFake) GetByDocumentID(_ context.Context, documentID string) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrQueueItemNotFound, "get queue item", domain.ErrQueueItemNotFound)
	}
	copied := *item
	return &copied, nil
}

func (f *queueFake) ClaimNext(_ context.Context, now time.Time) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.QueueItem
	for _, item := range f.items {
		if item.Status != domain.QueuePending || item.NextAttemptAt.After(now) {
			continue
		}
		if best == nil {
			best = item
			continue
		}
		if item.Priority.Rank() != best.Priority.Rank() {
			if item.Priority.Rank() > best.Priority.Rank() {
				best = item
			}
			continue
		}
		if attemptedBefore(item.LastAttemptAt, best.LastAttemptAt) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = domain.QueueProcessing
	best.RetryCount++
	attempt := now
	best.LastAttemptAt = &attempt
	copied := *best
	return &copied, nil
}

// Priority ties go to the item whose last attempt is oldest; a never
// attempted item beats any attempted one.
func attemptedBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

func (f *queueFake) Update(_ context.Context, item *domain.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.DocumentID]; !ok {
		return domain.WrapError(domain.ErrQueueItemNotFound, "update queue item", domain.ErrQueueItemNotFound)
	}
	copied := *item
	f.items[item.DocumentID] = &copied
	return nil
}

func (f *queueFake) Delete(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[documentID]; !ok {
		return domain.WrapError(domain.ErrQueueItemNotFound, "delete queue item", domain.ErrQueueItemNotFound)
	}
	delete(f.items, documentID)
	return nil
}

func (f *queueFake) List(_ context.Context, filter ports.QueueFilter) ([]domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.QueueItem, 0, len(f.items))
	for _, item := range f.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && item.Priority != filter.Priority {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (f *queueFake) Statistics(context.Context) (domain.QueueStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats domain.QueueStatistics
	for _, item := range f.items {
		switch item.Status {
		case domain.QueuePending:
			stats.Pending++
		case domain.QueueProcessing:
			stats.Processing++
		case domain.QueueCompleted:
			stats.Completed++
		case domain.QueueFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type metricsFake struct {
	mu          sync.Mutex
	runs        []string
	violations  map[string]int
	decisions   map[string]int
	escalations int
}

func newMetricsFake() *metricsFake {
	return &metricsFake{
		violations: make(map[string]int),
		decisions:  make(map[string]int),
	}
}

func (f *metricsFake) RecordRunFinished(status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, status)
}

func (f *metricsFake) RecordViolations(kind string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations[kind] += count
}

func (f *metricsFake) RecordMappingDecision(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[outcome]++
}

func (f *metricsFake) RecordEscalation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations++
}

type reporterFake struct {
	mu        sync.Mutex
	failed    []string
	succeeded []string
}

func (f *reporterFake) NoteRunFailed(_ context.Context, doc *domain.Document, _ domain.Stage, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, doc.ID)
	return nil
}

func (f *reporterFake) NoteRunSucceeded(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, documentID)
	return nil
}

type aiFake struct {
	fields   map[string]string
	ocrErr   error
	embedErr error
	indexErr error
}

func (f *aiFake) RecognizeFields(context.Context, string, string) (map[string]string, error) {
	if f.ocrErr != nil {
		return nil, f.ocrErr
	}
	return f.fields, nil
}

func (f *aiFake) EmbedDocument(context.Context, string, map[string]string) error {
	return f.embedErr
}

func (f *aiFake) IndexDocument(context.Context, string, map[string]string) error {
	return f.indexErr
}

type vRuleRepoFake struct {
	mu          sync.Mutex
	rules       []domain.ValidationRule
	deactivated []string
}

func (f *vRuleRepoFake) Create(_ context.Context, rule *domain.ValidationRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *vRuleRepoFake) Update(_ context.Context, rule *domain.ValidationRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == rule.ID {
			f.rules[i] = *rule
			return nil
		}
	}
	return domain.WrapError(domain.ErrRuleNotFound, "update rule", domain.ErrRuleNotFound)
}

func (f *vRuleRepoFake) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return domain.WrapError(domain.ErrRuleNotFound, "delete rule", domain.ErrRuleNotFound)
}

func (f *vRuleRepoFake) GetByID(_ context.Context, _, id string) (*domain.ValidationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rule := range f.rules {
		if rule.ID == id {
			copied := rule
			return &copied, nil
		}
	}
	return nil, domain.WrapError(domain.ErrRuleNotFound, "get rule", domain.ErrRuleNotFound)
}

func (f *vRuleRepoFake) List(_ context.Context, tenantID string) ([]domain.ValidationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ValidationRule, 0, len(f.rules))
	for _, rule := range f.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *vRuleRepoFake) ListActive(_ context.Context, tenantID string) ([]domain.ValidationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ValidationRule, 0, len(f.rules))
	for _, rule := range f.rules {
		if rule.TenantID == tenantID && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *vRuleRepoFake) Deactivate(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].IsActive = false
		}
	}
	return nil
}

type mRuleRepoFake struct {
	mu          sync.Mutex
	rules       []domain.MappingRule
	deactivated []string
}

func (f *mRuleRepoFake) Create(_ context.Context, rule *domain.MappingRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *mRuleRepoFake) Update(_ context.Context, rule *domain.MappingRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == rule.ID {
			f.rules[i] = *rule
			return nil
		}
	}
	return domain.WrapError(domain.ErrRuleNotFound, "update mapping rule", domain.ErrRuleNotFound)
}

func (f *mRuleRepoFake) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return domain.WrapError(domain.ErrRuleNotFound, "delete mapping rule", domain.ErrRuleNotFound)
}

func (f *mRuleRepoFake) GetByID(_ context.Context, _, id string) (*domain.MappingRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rule := range f.rules {
		if rule.ID == id {
			copied := rule
			return &copied, nil
		}
	}
	return nil, domain.WrapError(domain.ErrRuleNotFound, "get mapping rule", domain.ErrRuleNotFound)
}

func (f *mRuleRepoFake) List(_ context.Context, tenantID string) ([]domain.MappingRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MappingRule, 0, len(f.rules))
	for _, rule := range f.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *mRuleRepoFake) ListActive(_ context.Context, tenantID string) ([]domain.MappingRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MappingRule, 0, len(f.rules))
	for _, rule := range f.rules {
		if rule.TenantID == tenantID && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *mRuleRepoFake) Deactivate(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].IsActive = false
		}
	}
	return nil
}
