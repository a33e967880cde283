package domain

import "time"

// Document is the unit of work moving through the pipeline. Identity
// and upload metadata are immutable; Status is owned by the pipeline
// state machine for the duration of a run.
type Document struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	FileType   string    `json:"fileType"`
	SizeBytes  int64     `json:"sizeBytes"`
	Category   string    `json:"category,omitempty"`
	StorageRef string    `json:"storageRef"`
	UploadedAt time.Time `json:"uploadedAt"`

	// ExpectedFields drives the per-field fan-out at field extraction;
	// ConfidenceScore is the document-level floor applied when a mapping
	// rule carries no threshold of its own.
	ExpectedFields  []string          `json:"expectedFields,omitempty"`
	ExtractedFields map[string]string `json:"extractedFields,omitempty"`
	ConfidenceScore int               `json:"confidenceScore,omitempty"`

	Status     PipelineStatus `json:"status"`
	Violations []Violation    `json:"validationErrors,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveRun reports whether the document currently owns a pipeline run
// that has not reached a terminal state.
func (d *Document) ActiveRun() bool {
	return !d.Status.Terminal()
}
