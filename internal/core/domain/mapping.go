package domain

import "time"

type MappingType string

const (
	MappingExact MappingType = "exact"
	MappingFuzzy MappingType = "fuzzy"
	MappingRegex MappingType = "regex"
	MappingModel MappingType = "model"
)

type TransformType string

const (
	TransformUppercase TransformType = "uppercase"
	TransformLowercase TransformType = "lowercase"
	TransformTrim      TransformType = "trim"
	TransformFormat    TransformType = "format"
	TransformCustom    TransformType = "custom"
)

// TransformStep is one value rewrite applied after confidence scoring.
type TransformStep struct {
	Type  TransformType `json:"type"`
	Value string        `json:"value,omitempty"`
}

// MappingRule resolves a source field to a target field. Same lifecycle
// as ValidationRule: edited by operators, read-only to the pipeline.
type MappingRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	SourceField string      `json:"sourceField"`
	TargetField string      `json:"targetField"`
	MappingType MappingType `json:"mappingType"`

	// ConfidenceThreshold gates acceptance, 0-100. Transforms run in
	// declared order.
	ConfidenceThreshold int             `json:"confidenceThreshold"`
	Transforms          []TransformStep `json:"transformRules,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MappingResult reports one source-field resolution.
type MappingResult struct {
	MappedValue       string `json:"mappedValue"`
	Confidence        int    `json:"confidence"`
	TransformsApplied int    `json:"transformsApplied"`
}

// Accepted reports whether the confidence clears the rule's threshold.
func (r MappingResult) Accepted(rule MappingRule) bool {
	return r.Confidence >= rule.ConfidenceThreshold
}
