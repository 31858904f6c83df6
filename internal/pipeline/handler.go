package pipeline

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/migration"
)

// ResourceBudget is the shared API-call budget a handler consumes before every platform call.
type ResourceBudget interface {
	Consume(executionContext context.Context, calls int) error
	Remaining() int
	Used() int
}

// StageContext is everything a handler may use while executing one stage for one project.
type StageContext struct {
	Run               *migration.MigrationRun
	Project           *migration.RunProject
	Stage             migration.Stage
	Configuration     migration.RunConfiguration
	ArtifactDirectory string
	Resources         ResourceBudget
	Logger            *zap.Logger
}

// PreviousOutputs returns the outputs an earlier stage recorded for the project.
func (stageContext StageContext) PreviousOutputs(stage migration.Stage) map[string]any {
	return stageContext.Project.StageOutputs[stage]
}

// StageOutcome is the result of one stage execution.
type StageOutcome struct {
	Status       migration.StageStatus `json:"status"`
	Outputs      map[string]any        `json:"outputs,omitempty"`
	Artifacts    []string              `json:"artifacts,omitempty"`
	APICallsUsed int                   `json:"api_calls_used"`
	Failure      *failures.Record      `json:"failure,omitempty"`
}

// StageHandler executes one stage. A returned error fails the stage; the error is classified.
type StageHandler interface {
	Execute(executionContext context.Context, stageContext StageContext) (StageOutcome, error)
}

// StageHandlerFunc adapts a function to StageHandler.
type StageHandlerFunc func(executionContext context.Context, stageContext StageContext) (StageOutcome, error)

// Execute calls the function.
func (handlerFunc StageHandlerFunc) Execute(executionContext context.Context, stageContext StageContext) (StageOutcome, error) {
	return handlerFunc(executionContext, stageContext)
}

// ArtifactDirectory returns the per-run, per-project artifact directory.
func ArtifactDirectory(run *migration.MigrationRun, project *migration.RunProject) string {
	return filepath.Join(run.ArtifactRoot, run.ID, filepath.FromSlash(project.Reference().Identifier()))
}
