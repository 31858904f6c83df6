package migration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	invalidRunTransitionTemplateConstant = "run %s cannot transition from %s to %s"
	runNotResumableTemplateConstant      = "run %s is %s and cannot be resumed"
)

// RunStatus describes the lifecycle state of a migration run.
type RunStatus string

// Run statuses.
const (
	RunStatusCreated   RunStatus = RunStatus("CREATED")
	RunStatusQueued    RunStatus = RunStatus("QUEUED")
	RunStatusRunning   RunStatus = RunStatus("RUNNING")
	RunStatusCompleted RunStatus = RunStatus("COMPLETED")
	RunStatusFailed    RunStatus = RunStatus("FAILED")
	RunStatusCanceled  RunStatus = RunStatus("CANCELED")
)

var allowedRunTransitions = map[RunStatus][]RunStatus{
	RunStatusCreated: {RunStatusQueued, RunStatusCanceled},
	RunStatusQueued:  {RunStatusRunning, RunStatusFailed, RunStatusCanceled},
	RunStatusRunning: {RunStatusCompleted, RunStatusFailed, RunStatusCanceled},
}

// Terminal reports whether the status ends a run.
func (status RunStatus) Terminal() bool {
	return status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCanceled
}

// RunStats aggregates counters across the projects of a run.
type RunStats struct {
	Groups   int `json:"groups"`
	Projects int `json:"projects"`
	Errors   int `json:"errors"`
	APICalls int `json:"api_calls"`
}

// RunTransitionError reports a forbidden run status change.
type RunTransitionError struct {
	RunID string
	From  RunStatus
	To    RunStatus
}

// Error describes the forbidden transition.
func (transitionError RunTransitionError) Error() string {
	return fmt.Sprintf(invalidRunTransitionTemplateConstant, transitionError.RunID, transitionError.From, transitionError.To)
}

// MigrationRun is one migration attempt over a set of projects.
type MigrationRun struct {
	ID             string           `json:"id"`
	Mode           RunMode          `json:"mode"`
	Status         RunStatus        `json:"status"`
	Stage          string           `json:"stage"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	Stats          RunStats         `json:"stats"`
	ConfigSnapshot RunConfiguration `json:"config_snapshot"`
	ArtifactRoot   string           `json:"artifact_root"`
	Error          string           `json:"error,omitempty"`
}

// NewMigrationRun creates a run in CREATED with an immutable configuration snapshot.
func NewMigrationRun(mode RunMode, configuration RunConfiguration, createdAt time.Time) *MigrationRun {
	return &MigrationRun{
		ID:             uuid.NewString(),
		Mode:           mode,
		Status:         RunStatusCreated,
		CreatedAt:      createdAt,
		ConfigSnapshot: configuration.Clone(),
		ArtifactRoot:   configuration.ArtifactRoot,
	}
}

// TransitionTo moves the run to the next status, stamping start and finish times.
func (run *MigrationRun) TransitionTo(status RunStatus, at time.Time) error {
	allowed := false
	for _, candidate := range allowedRunTransitions[run.Status] {
		if candidate == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return RunTransitionError{RunID: run.ID, From: run.Status, To: status}
	}

	run.Status = status
	if status == RunStatusRunning && run.StartedAt == nil {
		startedAt := at
		run.StartedAt = &startedAt
	}
	if status.Terminal() {
		finishedAt := at
		run.FinishedAt = &finishedAt
	}
	return nil
}

// Fail moves the run to FAILED with an orchestrator-level error.
func (run *MigrationRun) Fail(message string, at time.Time) error {
	if transitionError := run.TransitionTo(RunStatusFailed, at); transitionError != nil {
		return transitionError
	}
	run.Error = message
	return nil
}

// Requeue clears the terminal state so an explicit resume can run the pipeline again.
func (run *MigrationRun) Requeue() error {
	if !run.Status.Terminal() && run.Status != RunStatusCreated {
		return fmt.Errorf(runNotResumableTemplateConstant, run.ID, run.Status)
	}
	run.Status = RunStatusQueued
	run.Error = ""
	run.FinishedAt = nil
	return nil
}

// Clone returns a copy that shares no mutable state with the run.
func (run *MigrationRun) Clone() *MigrationRun {
	cloned := *run
	cloned.ConfigSnapshot = run.ConfigSnapshot.Clone()
	if run.StartedAt != nil {
		startedAt := *run.StartedAt
		cloned.StartedAt = &startedAt
	}
	if run.FinishedAt != nil {
		finishedAt := *run.FinishedAt
		cloned.FinishedAt = &finishedAt
	}
	return &cloned
}
