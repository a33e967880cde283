package domain

import "time"

// StageTask is one unit of stage work handed to the executor pool.
type StageTask struct {
	DocumentID string `json:"documentId"`
	TenantID   string `json:"tenantId"`
	Stage      Stage  `json:"stage"`

	// PublishedAt is stamped by the bus on publish; consumers use it to
	// measure delivery lag.
	PublishedAt time.Time `json:"publishedAt,omitempty"`
}

// StageOutcome is the continuation an executor (or an external service
// through the callback boundary) reports back to the state machine.
// A non-empty Error is a terminal stage failure; Completed marks stage
// success; otherwise the outcome is an intermediate progress report.
type StageOutcome struct {
	Stage     Stage  `json:"stage"`
	Completed bool   `json:"completed"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`

	// ExtractedFields carries the raw OCR field candidates; only the
	// ocr_processing outcome populates it.
	ExtractedFields map[string]string `json:"extractedFields,omitempty"`

	// Violations carries the structured validation-stage failure list,
	// and the below-threshold mapping results discovered at extraction.
	Violations []Violation `json:"violations,omitempty"`
}

// Failed reports whether the outcome terminates the run.
func (o StageOutcome) Failed() bool {
	return o.Error != ""
}

// PipelineFailedEvent is emitted once per failed run.
type PipelineFailedEvent struct {
	DocumentID string    `json:"documentId"`
	TenantID   string    `json:"tenantId"`
	Stage      Stage     `json:"stage"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failedAt"`
}

// EscalationEvent fires exactly once when a queue item exhausts its
// retry budget and must surface in the human-review queue.
type EscalationEvent struct {
	DocumentID string    `json:"documentId"`
	TenantID   string    `json:"tenantId"`
	Reason     string    `json:"reason"`
	RetryCount int       `json:"retryCount"`
	RaisedAt   time.Time `json:"raisedAt"`
}

// OperatorAlertEvent reports a rule configuration error. It is never
// attributed to a document.
type OperatorAlertEvent struct {
	RuleID   string    `json:"ruleId"`
	TenantID string    `json:"tenantId"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raisedAt"`
}
