package domain

import (
	"fmt"
	"time"
)

type QueuePriority string

const (
	PriorityLow    QueuePriority = "low"
	PriorityMedium QueuePriority = "medium"
	PriorityHigh   QueuePriority = "high"
)

// Rank orders priorities for scheduling; higher schedules first.
func (p QueuePriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func ParseQueuePriority(s string) (QueuePriority, error) {
	switch QueuePriority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return QueuePriority(s), nil
	}
	return "", WrapError(ErrInvalidInput, "parse priority", fmt.Errorf("unknown priority %q", s))
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
	QueueCompleted  QueueStatus = "completed"
)

// QueueItem parks one failed pipeline run for retry. Keyed by document
// id; at most one item per document exists at a time.
type QueueItem struct {
	DocumentID    string        `json:"documentId"`
	TenantID      string        `json:"tenantId"`
	DocumentName  string        `json:"documentName"`
	FileType      string        `json:"fileType"`
	FailureReason string        `json:"errorMessage"`
	FailedStage   Stage         `json:"failedStage"`
	Priority      QueuePriority `json:"priority"`
	Status        QueueStatus   `json:"status"`

	// RetryCount increments on every resubmission attempt and never
	// decreases.
	RetryCount    int        `json:"retryCount"`
	LastAttemptAt *time.Time `json:"lastAttempt,omitempty"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// QueueStatistics mirrors the aggregate figures the operator dashboard
// displays.
type QueueStatistics struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	AvgProcessingSeconds float64 `json:"avgProcessingTime"`
	SuccessRate          float64 `json:"successRate"`
}

// RetryPolicy carries the explicit retry/backoff/escalation parameters.
// Keeping them first-class keeps the policy testable and tunable.
type RetryPolicy struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffCap:  10 * time.Minute,
	}
}

// Backoff returns the delay before the attempt following retryCount
// failures: base * 2^retryCount, capped.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := p.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if delay > p.BackoffCap {
		return p.BackoffCap
	}
	return delay
}

// Exhausted reports whether retryCount has consumed the retry budget.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
