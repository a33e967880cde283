package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage indexes the ordered pipeline steps. The fixed order lets the
// state machine store per-stage records in an array instead of a
// name-keyed map, so exhaustiveness and ordering are checked at compile
// time.
type Stage int

const (
	StageUploaded Stage = iota
	StageOCRProcessing
	StageFieldExtraction
	StageValidation
	StageEmbedding
	StageIndexing
	StageCompleted

	StageCount int = iota
)

// StageError is the orthogonal terminal state; it is not part of the
// ordered sequence and has no StageRecord of its own.
const StageError Stage = -1

var stageNames = [StageCount]string{
	StageUploaded:        "uploaded",
	StageOCRProcessing:   "ocr_processing",
	StageFieldExtraction: "field_extraction",
	StageValidation:      "validation",
	StageEmbedding:       "embedding",
	StageIndexing:        "indexing",
	StageCompleted:       "completed",
}

func (s Stage) String() string {
	if s == StageError {
		return "error"
	}
	if s < 0 || int(s) >= StageCount {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) Valid() bool {
	return s == StageError || (s >= 0 && int(s) < StageCount)
}

// ParseStage resolves a wire-format stage name.
func ParseStage(name string) (Stage, error) {
	if name == "error" {
		return StageError, nil
	}
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", name))
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageDone       StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSuspended  StageStatus = "suspended"
)

// StageRecord tracks one stage of one pipeline run.
type StageRecord struct {
	Status    StageStatus `json:"status"`
	Progress  int         `json:"progress"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// PipelineStatus is the full run state of one document. Stages preceding
// CurrentStage are always completed; at most one stage is processing at
// any instant.
type PipelineStatus struct {
	CurrentStage    Stage
	OverallProgress int
	ErrorReason     string
	Stages          [StageCount]StageRecord
}

// NewPipelineStatus builds the state for a freshly started run. Upload
// is an external precondition, so its stage is already completed and the
// run opens on OCR.
func NewPipelineStatus(now time.Time) PipelineStatus {
	var ps PipelineStatus
	for i := range ps.Stages {
		ps.Stages[i] = StageRecord{Status: StagePending}
	}
	ts := now.UTC()
	ps.Stages[StageUploaded] = StageRecord{
		Status:    StageDone,
		Progress:  100,
		StartedAt: &ts,
		EndedAt:   &ts,
	}
	ps.CurrentStage = StageOCRProcessing
	ps.Stages[StageOCRProcessing].Status = StageProcessing
	ps.Stages[StageOCRProcessing].StartedAt = &ts
	ps.OverallProgress = ps.computeProgress()
	return ps
}

func (ps *PipelineStatus) Terminal() bool {
	return ps.CurrentStage == StageCompleted || ps.CurrentStage == StageError
}

func (ps *PipelineStatus) computeProgress() int {
	completed := 0
	for _, rec := range ps.Stages {
		if rec.Status == StageDone {
			completed++
		}
	}
	return 100 * completed / StageCount
}

// RecordProgress applies an intermediate progress report to the current
// stage. Progress never decreases within a stage.
func (ps *PipelineStatus) RecordProgress(stage Stage, progress int) error {
	if ps.Terminal() || stage != ps.CurrentStage {
		return WrapError(ErrConflict, "record progress",
			fmt.Errorf("stage %s is not processing (current %s)", stage, ps.CurrentStage))
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > ps.Stages[stage].Progress {
		ps.Stages[stage].Progress = progress
	}
	return nil
}

// AdvanceSuccess completes the current stage and opens the next one.
// Completing indexing closes the run: the terminal completed stage is
// marked directly and overall progress reaches 100.
func (ps *PipelineStatus) AdvanceSuccess(now time.Time) error {
	if ps.Terminal() {
		return WrapError(ErrConflict, "advance pipeline",
			fmt.Errorf("run already terminal at %s", ps.CurrentStage))
	}
	ts := now.UTC()
	current := ps.CurrentStage
	ps.Stages[current].Status = StageDone
	ps.Stages[current].Progress = 100
	ps.Stages[current].EndedAt = &ts

	next := current + 1
	if next == StageCompleted {
		ps.Stages[StageCompleted] = StageRecord{
			Status:    StageDone,
			Progress:  100,
			StartedAt: &ts,
			EndedAt:   &ts,
		}
		ps.CurrentStage = StageCompleted
		ps.OverallProgress = 100
		return nil
	}

	ps.CurrentStage = next
	ps.Stages[next].Status = StageProcessing
	ps.Stages[next].StartedAt = &ts
	ps.OverallProgress = ps.computeProgress()
	return nil
}

// Fail marks the current stage failed and moves the run to the error
// state. Retry is the reprocessing queue's concern, never this type's.
func (ps *PipelineStatus) Fail(now time.Time, reason string) error {
	if ps.Terminal() {
		return WrapError(ErrConflict, "fail pipeline",
			fmt.Errorf("run already terminal at %s", ps.CurrentStage))
	}
	ts := now.UTC()
	current := ps.CurrentStage
	ps.Stages[current].Status = StageFailed
	ps.Stages[current].EndedAt = &ts
	ps.Stages[current].Error = reason
	ps.CurrentStage = StageError
	ps.ErrorReason = reason
	return nil
}

// Suspend parks the run on the current stage after a rule configuration
// error. The document is not at fault, so the run neither fails nor
// enters the retry queue; an operator fix plus manual retry resumes it.
func (ps *PipelineStatus) Suspend(reason string) error {
	if ps.Terminal() {
		return WrapError(ErrConflict, "suspend pipeline",
			fmt.Errorf("run already terminal at %s", ps.CurrentStage))
	}
	ps.Stages[ps.CurrentStage].Status = StageSuspended
	ps.Stages[ps.CurrentStage].Error = reason
	return nil
}

// Resume puts a suspended run back into processing on the stage it was
// parked on. Only suspended runs can resume.
func (ps *PipelineStatus) Resume(now time.Time) error {
	if ps.Stages[ps.CurrentStage].Status != StageSuspended {
		return WrapError(ErrConflict, "resume pipeline",
			fmt.Errorf("run is not suspended at %s", ps.CurrentStage))
	}
	ps.Stages[ps.CurrentStage].Status = StageProcessing
	ps.Stages[ps.CurrentStage].Error = ""
	ps.Stages[ps.CurrentStage].StartedAt = &now
	return nil
}

// Cancel forces the run into the error state with reason "cancelled".
// Remaining stages stay pending.
func (ps *PipelineStatus) Cancel(now time.Time) error {
	if ps.Terminal() {
		return WrapError(ErrConflict, "cancel pipeline",
			fmt.Errorf("run already terminal at %s", ps.CurrentStage))
	}
	return ps.Fail(now, CancelReason)
}

// CancelReason is the error recorded for operator-cancelled runs.
const CancelReason = "cancelled"

type pipelineStatusJSON struct {
	CurrentStage    string                 `json:"currentStage"`
	OverallProgress int                    `json:"overallProgress"`
	ErrorReason     string                 `json:"errorReason,omitempty"`
	Stages          map[string]StageRecord `json:"stages"`
}

// MarshalJSON renders the name-keyed stage object the status boundary
// and the progress views consume.
func (ps PipelineStatus) MarshalJSON() ([]byte, error) {
	out := pipelineStatusJSON{
		CurrentStage:    ps.CurrentStage.String(),
		OverallProgress: ps.OverallProgress,
		ErrorReason:     ps.ErrorReason,
		Stages:          make(map[string]StageRecord, StageCount),
	}
	for i, rec := range ps.Stages {
		out.Stages[Stage(i).String()] = rec
	}
	return json.Marshal(out)
}

func (ps *PipelineStatus) UnmarshalJSON(data []byte) error {
	var in pipelineStatusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	current, err := ParseStage(in.CurrentStage)
	if err != nil {
		return err
	}
	var parsed PipelineStatus
	parsed.CurrentStage = current
	parsed.OverallProgress = in.OverallProgress
	parsed.ErrorReason = in.ErrorReason
	for name, rec := range in.Stages {
		stage, err := ParseStage(name)
		if err != nil {
			return err
		}
		if stage == StageError {
			continue
		}
		parsed.Stages[stage] = rec
	}
	*ps = parsed
	return nil
}

// ViolationKind tells review surfaces why a field was rejected.
type ViolationKind string

const (
	ViolationMappingFailed ViolationKind = "mapping_failed"
	ViolationRuleFailed    ViolationKind = "rule_failed"
	ViolationHumanReview   ViolationKind = "human_review"
)

// Violation is one structured entry of a validation-stage failure.
type Violation struct {
	Field      string        `json:"field"`
	RuleID     string        `json:"ruleId,omitempty"`
	Kind       ViolationKind `json:"kind"`
	Message    string        `json:"message"`
	Confidence int           `json:"confidence,omitempty"`
}
