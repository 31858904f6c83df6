package migration

import (
	"fmt"
	"maps"
	"strings"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	invalidStageTransitionTemplateConstant = "project %s stage %s cannot transition from %s to %s"
	namespaceSeparatorConstant             = "/"
	bucketSmallLimitBytesConstant          = int64(100 << 20)
	bucketMediumLimitBytesConstant         = int64(1 << 30)
	bucketLargeLimitBytesConstant          = int64(5 << 30)
)

// StageStatus describes the progress of one stage for one project.
type StageStatus string

// Stage statuses.
const (
	StageStatusPending    StageStatus = StageStatus("PENDING")
	StageStatusInProgress StageStatus = StageStatus("IN_PROGRESS")
	StageStatusCompleted  StageStatus = StageStatus("COMPLETED")
	StageStatusFailed     StageStatus = StageStatus("FAILED")
)

// Terminal reports whether the status ends the stage.
func (status StageStatus) Terminal() bool {
	return status == StageStatusCompleted || status == StageStatusFailed
}

// ProjectBucket classifies a project by repository size.
type ProjectBucket string

// Size buckets.
const (
	ProjectBucketUnknown    ProjectBucket = ProjectBucket("")
	ProjectBucketSmall      ProjectBucket = ProjectBucket("S")
	ProjectBucketMedium     ProjectBucket = ProjectBucket("M")
	ProjectBucketLarge      ProjectBucket = ProjectBucket("L")
	ProjectBucketExtraLarge ProjectBucket = ProjectBucket("XL")
)

// ClassifyBucket maps a repository size in bytes to its bucket.
func ClassifyBucket(repositorySizeBytes int64) ProjectBucket {
	switch {
	case repositorySizeBytes < bucketSmallLimitBytesConstant:
		return ProjectBucketSmall
	case repositorySizeBytes < bucketMediumLimitBytesConstant:
		return ProjectBucketMedium
	case repositorySizeBytes < bucketLargeLimitBytesConstant:
		return ProjectBucketLarge
	default:
		return ProjectBucketExtraLarge
	}
}

// ProjectReference identifies a GitLab project selected for migration.
type ProjectReference struct {
	GitLabProjectID   int    `mapstructure:"id" json:"gitlab_project_id"`
	PathWithNamespace string `mapstructure:"path" json:"path_with_namespace"`
	TargetRepository  string `mapstructure:"target" json:"target_repository,omitempty"`
}

// Identifier returns the path when known, otherwise the numeric identifier.
func (reference ProjectReference) Identifier() string {
	if len(strings.TrimSpace(reference.PathWithNamespace)) > 0 {
		return reference.PathWithNamespace
	}
	return fmt.Sprintf("%d", reference.GitLabProjectID)
}

// StageTransitionError reports a forbidden stage status change.
type StageTransitionError struct {
	Project string
	Stage   Stage
	From    StageStatus
	To      StageStatus
}

// Error describes the forbidden transition.
func (transitionError StageTransitionError) Error() string {
	return fmt.Sprintf(invalidStageTransitionTemplateConstant, transitionError.Project, transitionError.Stage, transitionError.From, transitionError.To)
}

// RunProject is one project inside a run together with its per-stage progress.
type RunProject struct {
	RunID             string                   `json:"run_id"`
	GitLabProjectID   int                      `json:"gitlab_project_id"`
	PathWithNamespace string                   `json:"path_with_namespace"`
	TargetRepository  string                   `json:"target_repository"`
	Bucket            ProjectBucket            `json:"bucket"`
	Facts             map[string]any           `json:"facts"`
	Readiness         map[string]any           `json:"readiness"`
	StageStatus       map[Stage]StageStatus    `json:"stage_status"`
	StageOutputs      map[Stage]map[string]any `json:"stage_outputs"`
	Errors            []failures.Record        `json:"errors"`
}

// NewRunProject creates a project with every stage PENDING.
func NewRunProject(runID string, reference ProjectReference) *RunProject {
	stageStatus := make(map[Stage]StageStatus, len(orderedStages))
	for _, stage := range orderedStages {
		stageStatus[stage] = StageStatusPending
	}
	return &RunProject{
		RunID:             runID,
		GitLabProjectID:   reference.GitLabProjectID,
		PathWithNamespace: reference.PathWithNamespace,
		TargetRepository:  reference.TargetRepository,
		Facts:             map[string]any{},
		Readiness:         map[string]any{},
		StageStatus:       stageStatus,
		StageOutputs:      map[Stage]map[string]any{},
		Errors:            []failures.Record{},
	}
}

// Reference returns the identifying fields of the project.
func (project *RunProject) Reference() ProjectReference {
	return ProjectReference{
		GitLabProjectID:   project.GitLabProjectID,
		PathWithNamespace: project.PathWithNamespace,
		TargetRepository:  project.TargetRepository,
	}
}

// Namespace returns the group path portion of the project path.
func (project *RunProject) Namespace() string {
	separatorIndex := strings.LastIndex(project.PathWithNamespace, namespaceSeparatorConstant)
	if separatorIndex < 0 {
		return ""
	}
	return project.PathWithNamespace[:separatorIndex]
}

// Status returns the stage status, treating missing entries as PENDING.
func (project *RunProject) Status(stage Stage) StageStatus {
	if status, exists := project.StageStatus[stage]; exists {
		return status
	}
	return StageStatusPending
}

// StartStage moves a PENDING stage to IN_PROGRESS.
func (project *RunProject) StartStage(stage Stage) error {
	return project.transition(stage, StageStatusPending, StageStatusInProgress)
}

// CompleteStage moves an IN_PROGRESS stage to COMPLETED and records its outputs.
func (project *RunProject) CompleteStage(stage Stage, outputs map[string]any) error {
	if transitionError := project.transition(stage, StageStatusInProgress, StageStatusCompleted); transitionError != nil {
		return transitionError
	}
	if len(outputs) > 0 {
		project.StageOutputs[stage] = maps.Clone(outputs)
	}
	return nil
}

// FailStage moves an IN_PROGRESS stage to FAILED and appends the error record.
func (project *RunProject) FailStage(stage Stage, record failures.Record) error {
	if transitionError := project.transition(stage, StageStatusInProgress, StageStatusFailed); transitionError != nil {
		return transitionError
	}
	project.Errors = append(project.Errors, record)
	return nil
}

// RearmStage returns a FAILED or interrupted IN_PROGRESS stage to PENDING. Only resume uses it.
func (project *RunProject) RearmStage(stage Stage) error {
	currentStatus := project.Status(stage)
	if currentStatus != StageStatusFailed && currentStatus != StageStatusInProgress {
		return StageTransitionError{Project: project.PathWithNamespace, Stage: stage, From: currentStatus, To: StageStatusPending}
	}
	project.StageStatus[stage] = StageStatusPending
	return nil
}

// LastError returns the most recent error recorded for the stage.
func (project *RunProject) LastError(stage Stage) (failures.Record, bool) {
	for recordIndex := len(project.Errors) - 1; recordIndex >= 0; recordIndex-- {
		if project.Errors[recordIndex].Stage == string(stage) {
			return project.Errors[recordIndex], true
		}
	}
	return failures.Record{}, false
}

// HasFailedStage reports whether any of the stages is FAILED.
func (project *RunProject) HasFailedStage(stages []Stage) bool {
	for _, stage := range stages {
		if project.Status(stage) == StageStatusFailed {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the project state.
func (project *RunProject) Clone() *RunProject {
	cloned := *project
	cloned.Facts = maps.Clone(project.Facts)
	cloned.Readiness = maps.Clone(project.Readiness)
	cloned.StageStatus = maps.Clone(project.StageStatus)
	cloned.StageOutputs = make(map[Stage]map[string]any, len(project.StageOutputs))
	for stage, outputs := range project.StageOutputs {
		cloned.StageOutputs[stage] = maps.Clone(outputs)
	}
	cloned.Errors = append([]failures.Record{}, project.Errors...)
	return &cloned
}

func (project *RunProject) transition(stage Stage, from StageStatus, to StageStatus) error {
	if project.StageStatus == nil {
		project.StageStatus = map[Stage]StageStatus{}
	}
	if project.StageOutputs == nil {
		project.StageOutputs = map[Stage]map[string]any{}
	}
	currentStatus := project.Status(stage)
	if currentStatus != from {
		return StageTransitionError{Project: project.PathWithNamespace, Stage: stage, From: currentStatus, To: to}
	}
	project.StageStatus[stage] = to
	return nil
}
