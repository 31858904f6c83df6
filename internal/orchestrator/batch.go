package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/migration"
)

const (
	batchStartedMessageConstant          = "Batch started"
	batchFinishedMessageConstant         = "Batch finished"
	projectFinishedMessageConstant       = "Project pipeline finished"
	projectFailedMessageConstant         = "Project pipeline failed"
	parallelLimitFieldConstant           = "parallel_limit"
	successfulFieldConstant              = "successful"
	errorFieldConstant                   = "error"
	failedFieldConstant                  = "failed"
	defaultParallelLimitConstant         = 1
	pipelinePanicTemplateConstant        = "project pipeline panicked: %v"
	failedStagesTemplateConstant         = "stages failed: %v"
	persistInitialRunTemplateConstant    = "persist run for project %s: %w"
	invalidConfigurationTemplateConstant = "invalid batch configuration: %w"
)

// BatchStatus summarizes a batch.
type BatchStatus string

// Batch statuses.
const (
	BatchStatusCompleted BatchStatus = BatchStatus("COMPLETED")
	BatchStatusPartial   BatchStatus = BatchStatus("PARTIAL")
	BatchStatusFailed    BatchStatus = BatchStatus("FAILED")
)

// BatchRequest lists the projects of a batch and how to run them.
type BatchRequest struct {
	Projects      []migration.ProjectReference
	ParallelLimit int
	Mode          migration.RunMode
	Configuration migration.RunConfiguration
	// Resources is shared by every pipeline; nil builds one from the configuration budget and rate.
	Resources     *SharedResources
}

// ProjectResult is the outcome of one project pipeline.
type ProjectResult struct {
	Project   string                                    `json:"project"`
	RunID     string                                    `json:"run_id"`
	RunStatus migration.RunStatus                       `json:"run_status"`
	Succeeded bool                                      `json:"succeeded"`
	Error     string                                    `json:"error,omitempty"`
	Outputs   map[migration.Stage]map[string]any        `json:"outputs,omitempty"`
	Stages    map[migration.Stage]migration.StageStatus `json:"stages"`
	Failures  []failures.Record                         `json:"failures,omitempty"`
}

// BatchResult aggregates every project pipeline of a batch.
type BatchResult struct {
	Status        BatchStatus     `json:"status"`
	TotalProjects int             `json:"total_projects"`
	Successful    int             `json:"successful"`
	Failed        int             `json:"failed"`
	APICallsUsed  int             `json:"api_calls_used"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Results       []ProjectResult `json:"results"`
}

// BatchOrchestrator runs one single-project run per reference under a bounded worker pool.
type BatchOrchestrator struct {
	runs   *RunOrchestrator
	logger *zap.Logger
	clock  func() time.Time
}

// NewBatchOrchestrator constructs a BatchOrchestrator over the run orchestrator.
func NewBatchOrchestrator(runs *RunOrchestrator, logger *zap.Logger) *BatchOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchOrchestrator{runs: runs, logger: logger, clock: runs.clock}
}

// Execute runs every project and waits for all of them. A project failure never cancels
// its siblings; the error return is reserved for an unusable request.
func (batch *BatchOrchestrator) Execute(executionContext context.Context, request BatchRequest) (BatchResult, error) {
	result := BatchResult{
		TotalProjects: len(request.Projects),
		StartedAt:     batch.clock(),
		Results:       make([]ProjectResult, len(request.Projects)),
	}
	if len(request.Projects) == 0 {
		result.Status = BatchStatusFailed
		result.FinishedAt = batch.clock()
		return result, ErrNoProjects
	}
	if validationError := request.Configuration.Validate(); validationError != nil {
		result.Status = BatchStatusFailed
		result.FinishedAt = batch.clock()
		return result, fmt.Errorf(invalidConfigurationTemplateConstant, validationError)
	}

	parallelLimit := request.ParallelLimit
	if parallelLimit <= 0 {
		parallelLimit = request.Configuration.ParallelLimit
	}
	if parallelLimit <= 0 {
		parallelLimit = defaultParallelLimitConstant
	}
	resources := request.Resources
	if resources == nil {
		resources = NewSharedResources(request.Configuration.APICallBudget, request.Configuration.APICallsPerSecond)
	}

	batch.logger.Info(batchStartedMessageConstant,
		zap.Int(projectsFieldConstant, len(request.Projects)),
		zap.Int(parallelLimitFieldConstant, parallelLimit),
		zap.String(modeFieldConstant, string(request.Mode)),
	)

	var workers errgroup.Group
	workers.SetLimit(parallelLimit)
	for projectIndex, reference := range request.Projects {
		workers.Go(func() error {
			result.Results[projectIndex] = batch.runProject(executionContext, request, reference, resources)
			return nil
		})
	}
	_ = workers.Wait()

	for _, projectResult := range result.Results {
		if projectResult.Succeeded {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	switch {
	case result.Failed == 0:
		result.Status = BatchStatusCompleted
	case result.Successful == 0:
		result.Status = BatchStatusFailed
	default:
		result.Status = BatchStatusPartial
	}
	result.APICallsUsed = resources.Used()
	result.FinishedAt = batch.clock()

	batch.logger.Info(batchFinishedMessageConstant,
		zap.String(statusFieldConstant, string(result.Status)),
		zap.Int(successfulFieldConstant, result.Successful),
		zap.Int(failedFieldConstant, result.Failed),
		zap.Int(apiCallsFieldConstant, result.APICallsUsed),
	)
	return result, nil
}

// runProject executes one project pipeline and converts every failure, panics included,
// into its result.
func (batch *BatchOrchestrator) runProject(executionContext context.Context, request BatchRequest, reference migration.ProjectReference, resources *SharedResources) (projectResult ProjectResult) {
	projectResult = ProjectResult{Project: reference.Identifier()}
	defer func() {
		if recovered := recover(); recovered != nil {
			projectResult.Succeeded = false
			projectResult.Error = fmt.Sprintf(pipelinePanicTemplateConstant, recovered)
		}
		batch.logResult(projectResult)
	}()

	if len(reference.TargetRepository) == 0 {
		reference.TargetRepository = request.Configuration.TargetRepositoryFor(reference.PathWithNamespace)
	}
	run := migration.NewMigrationRun(request.Mode, request.Configuration, batch.clock())
	project := migration.NewRunProject(run.ID, reference)
	projectResult.RunID = run.ID
	if saveError := batch.runs.repository.SaveRun(context.WithoutCancel(executionContext), run); saveError != nil {
		projectResult.Error = fmt.Errorf(persistInitialRunTemplateConstant, reference.Identifier(), saveError).Error()
		return projectResult
	}

	executeError := batch.runs.Execute(executionContext, run, []*migration.RunProject{project}, resources)
	projectResult.RunStatus = run.Status
	projectResult.Outputs = project.StageOutputs
	projectResult.Stages = project.StageStatus
	projectResult.Failures = project.Errors

	var failedStages []migration.Stage
	for _, stage := range migration.StageRange(request.Mode) {
		if project.Status(stage) == migration.StageStatusFailed {
			failedStages = append(failedStages, stage)
		}
	}
	switch {
	case executeError != nil:
		projectResult.Error = executeError.Error()
	case len(failedStages) > 0:
		projectResult.Error = fmt.Sprintf(failedStagesTemplateConstant, failedStages)
	default:
		projectResult.Succeeded = run.Status == migration.RunStatusCompleted
	}
	return projectResult
}

func (batch *BatchOrchestrator) logResult(projectResult ProjectResult) {
	if projectResult.Succeeded {
		batch.logger.Info(projectFinishedMessageConstant,
			zap.String(projectFieldConstant, projectResult.Project),
			zap.String(runIDFieldConstant, projectResult.RunID),
		)
		return
	}
	batch.logger.Warn(projectFailedMessageConstant,
		zap.String(projectFieldConstant, projectResult.Project),
		zap.String(runIDFieldConstant, projectResult.RunID),
		zap.String(errorFieldConstant, projectResult.Error),
	)
}
