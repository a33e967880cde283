package domain

import "time"

type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldEmail  FieldType = "email"
	FieldPhone  FieldType = "phone"
	FieldCustom FieldType = "custom"
)

type ValidationType string

const (
	ValidationRegex       ValidationType = "regex"
	ValidationThreshold   ValidationType = "threshold"
	ValidationHumanReview ValidationType = "human_review"
)

// ValidationRule is a tenant-scoped, configuration-time entity. The
// pipeline consumes rules read-only; only operators mutate them.
type ValidationRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Field names the extracted field this rule governs.
	Field          string         `json:"field"`
	FieldType      FieldType      `json:"fieldType"`
	ValidationType ValidationType `json:"validationType"`

	Pattern             string  `json:"regex,omitempty"`
	Threshold           float64 `json:"threshold,omitempty"`
	HumanReviewRequired bool    `json:"humanReviewRequired,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Verdict is the outcome of evaluating one rule against one value.
type Verdict struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}
