package store

import (
	"context"
	"errors"
	"time"

	"github.com/moti-malka/gl2gh/internal/migration"
)

// ErrRunNotFound reports an unknown run identifier.
var ErrRunNotFound = errors.New("run not found")

// Snapshot is the progress record written after every stage transition.
type Snapshot struct {
	RunID      string              `json:"run_id"`
	Status     migration.RunStatus `json:"status"`
	Stage      string              `json:"stage"`
	Stats      migration.RunStats  `json:"stats"`
	Payload    map[string]any      `json:"payload,omitempty"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// RunRepository stores runs, their projects and progress snapshots. Implementations
// store copies; callers keep ownership of the values they pass in.
type RunRepository interface {
	SaveRun(executionContext context.Context, run *migration.MigrationRun) error
	LoadRun(executionContext context.Context, runID string) (*migration.MigrationRun, error)
	ListRuns(executionContext context.Context) ([]*migration.MigrationRun, error)
	SaveProject(executionContext context.Context, project *migration.RunProject) error
	LoadProjects(executionContext context.Context, runID string) ([]*migration.RunProject, error)
	SaveSnapshot(executionContext context.Context, snapshot Snapshot) error
	LatestSnapshot(executionContext context.Context, runID string) (Snapshot, error)
}
