package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/progress"
	"github.com/moti-malka/gl2gh/internal/store"
)

const (
	runStartedMessageConstant          = "Run started"
	runFinishedMessageConstant         = "Run finished"
	runCanceledMessageConstant         = "Run canceled"
	runFailedMessageConstant           = "Run failed"
	runResumedMessageConstant          = "Run resumed"
	stageRearmedMessageConstant        = "Stage re-armed for resume"
	runIDFieldConstant                 = "run_id"
	storedFieldConstant                = "stored"
	modeFieldConstant                  = "mode"
	statusFieldConstant                = "status"
	projectFieldConstant               = "project"
	stageFieldConstant                 = "stage"
	projectsFieldConstant              = "projects"
	errorsFieldConstant                = "errors"
	apiCallsFieldConstant              = "api_calls"
	payloadProjectKeyConstant          = "project"
	payloadStageKeyConstant            = "stage"
	payloadFromKeyConstant             = "from"
	payloadToKeyConstant               = "to"
	persistRunTemplateConstant         = "persist run %s: %w"
	loadRunTemplateConstant            = "load run %s: %w"
	persistProjectTemplateConstant     = "persist project %s: %w"
	persistSnapshotTemplateConstant    = "persist snapshot for run %s: %w"
	advanceTemplateConstant            = "advance %s for project %s: %w"
	blockTemplateConstant              = "block %s for project %s: %w"
	incompleteStagesTemplateConstant   = "project %s left stage %s %s"
	rearmTemplateConstant              = "re-arm %s for project %s: %w"
	runNotRunnableTemplateConstant     = "run %s is %s and cannot be executed"
	projectRunMismatchTemplateConstant = "project %s belongs to run %s, not %s"
	interruptedRunMessageConstant      = "run interrupted before finishing"
)

var (
	// ErrNoProjects reports a run without projects to process.
	ErrNoProjects  = errors.New("no projects selected for the run")
	// ErrRunCanceled reports a run stopped by Cancel or by its context.
	ErrRunCanceled = errors.New("run canceled")
)

// RunOption configures a RunOrchestrator.
type RunOption func(*RunOrchestrator)

// WithRunClock overrides the time source.
func WithRunClock(clock func() time.Time) RunOption {
	return func(orchestrator *RunOrchestrator) {
		if clock != nil {
			orchestrator.clock = clock
		}
	}
}

// ResumeOptions selects which stages a resume re-attempts.
type ResumeOptions struct {
	// FromStage limits re-arming to this stage and later ones. Empty means every stage.
	FromStage     migration.Stage
	// RetryableOnly skips stages whose last failure is not rate_limit or network.
	RetryableOnly bool
}

// RunOrchestrator drives runs through the state machine. It is safe for concurrent use
// by independent runs.
type RunOrchestrator struct {
	machine    *pipeline.StateMachine
	repository store.RunRepository
	publisher  progress.Publisher
	logger     *zap.Logger
	clock      func() time.Time

	cancelMutex sync.Mutex
	active      map[string]struct{}
	canceled    map[string]struct{}
}

// NewRunOrchestrator constructs a RunOrchestrator. A nil repository stores runs in memory
// and a nil publisher discards updates.
func NewRunOrchestrator(machine *pipeline.StateMachine, repository store.RunRepository, publisher progress.Publisher, logger *zap.Logger, options ...RunOption) *RunOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if repository == nil {
		repository = store.NewMemoryRepository()
	}
	if publisher == nil {
		publisher = progress.NoopPublisher{}
	}
	orchestrator := &RunOrchestrator{
		machine:    machine,
		repository: repository,
		publisher:  publisher,
		logger:     logger,
		clock:      time.Now,
		active:     map[string]struct{}{},
		canceled:   map[string]struct{}{},
	}
	for _, option := range options {
		option(orchestrator)
	}
	return orchestrator
}

// Cancel stops a run. A run executing in this orchestrator starts no further stages
// and a stage already executing finishes. A stored run that is not executing here is
// moved to CANCELED in the repository.
func (orchestrator *RunOrchestrator) Cancel(executionContext context.Context, runID string) error {
	orchestrator.cancelMutex.Lock()
	defer orchestrator.cancelMutex.Unlock()
	if _, executing := orchestrator.active[runID]; executing {
		orchestrator.canceled[runID] = struct{}{}
		return nil
	}

	run, loadError := orchestrator.repository.LoadRun(executionContext, runID)
	if loadError != nil {
		return fmt.Errorf(loadRunTemplateConstant, runID, loadError)
	}
	if transitionError := run.TransitionTo(migration.RunStatusCanceled, orchestrator.clock()); transitionError != nil {
		return transitionError
	}
	if persistError := orchestrator.persistRun(executionContext, run); persistError != nil {
		return persistError
	}
	orchestrator.logger.Info(runCanceledMessageConstant, zap.String(runIDFieldConstant, runID), zap.Bool(storedFieldConstant, true))
	orchestrator.publish(run, nil, "", "")
	return nil
}

func (orchestrator *RunOrchestrator) cancelRequested(executionContext context.Context, runID string) bool {
	if executionContext.Err() != nil {
		return true
	}
	orchestrator.cancelMutex.Lock()
	defer orchestrator.cancelMutex.Unlock()
	_, requested := orchestrator.canceled[runID]
	return requested
}

func (orchestrator *RunOrchestrator) markActive(runID string) {
	orchestrator.cancelMutex.Lock()
	defer orchestrator.cancelMutex.Unlock()
	orchestrator.active[runID] = struct{}{}
}

func (orchestrator *RunOrchestrator) markInactive(runID string) {
	orchestrator.cancelMutex.Lock()
	defer orchestrator.cancelMutex.Unlock()
	delete(orchestrator.active, runID)
	delete(orchestrator.canceled, runID)
}

// Execute drives every project through the run's stage range. Project failures are
// recorded on the project and never fail the run; the returned error reports only
// orchestrator-level failures, which also leave the run FAILED, and cancellation.
func (orchestrator *RunOrchestrator) Execute(executionContext context.Context, run *migration.MigrationRun, projects []*migration.RunProject, resources pipeline.ResourceBudget) error {
	persistenceContext := context.WithoutCancel(executionContext)
	orchestrator.markActive(run.ID)
	defer orchestrator.markInactive(run.ID)
	if run.Status == migration.RunStatusCreated {
		if transitionError := run.TransitionTo(migration.RunStatusQueued, orchestrator.clock()); transitionError != nil {
			return transitionError
		}
	}
	if run.Status != migration.RunStatusQueued {
		return fmt.Errorf(runNotRunnableTemplateConstant, run.ID, run.Status)
	}
	if transitionError := run.TransitionTo(migration.RunStatusRunning, orchestrator.clock()); transitionError != nil {
		return transitionError
	}

	runLogger := orchestrator.logger.With(zap.String(runIDFieldConstant, run.ID), zap.String(modeFieldConstant, string(run.Mode)))
	if len(projects) == 0 {
		return orchestrator.fail(persistenceContext, runLogger, run, ErrNoProjects)
	}
	for _, project := range projects {
		if project.RunID != run.ID {
			return orchestrator.fail(persistenceContext, runLogger, run, fmt.Errorf(projectRunMismatchTemplateConstant, project.Reference().Identifier(), project.RunID, run.ID))
		}
	}

	run.Stats.Projects = len(projects)
	run.Stats.Groups = countGroups(projects)
	if persistError := orchestrator.persistRun(persistenceContext, run, projects...); persistError != nil {
		return orchestrator.fail(persistenceContext, runLogger, run, persistError)
	}
	orchestrator.publish(run, nil, "", "")
	runLogger.Info(runStartedMessageConstant, zap.Int(projectsFieldConstant, len(projects)))

	stageRange := migration.StageRange(run.Mode)
	canceled := false
projectLoop:
	for _, project := range projects {
		for _, stage := range stageRange {
			if orchestrator.cancelRequested(executionContext, run.ID) {
				canceled = true
				break projectLoop
			}
			if project.Status(stage).Terminal() {
				continue
			}
			if stageError := orchestrator.runStage(executionContext, persistenceContext, run, project, stage, resources); stageError != nil {
				if errors.Is(stageError, context.Canceled) || errors.Is(stageError, context.DeadlineExceeded) {
					canceled = true
					break projectLoop
				}
				return orchestrator.fail(persistenceContext, runLogger, run, stageError)
			}
		}
	}

	if canceled {
		return orchestrator.cancel(persistenceContext, runLogger, run, projects)
	}
	if incompleteError := verifyTerminal(projects, stageRange); incompleteError != nil {
		return orchestrator.fail(persistenceContext, runLogger, run, incompleteError)
	}
	if transitionError := run.TransitionTo(migration.RunStatusCompleted, orchestrator.clock()); transitionError != nil {
		return transitionError
	}
	if persistError := orchestrator.persistRun(persistenceContext, run); persistError != nil {
		return orchestrator.fail(persistenceContext, runLogger, run, persistError)
	}
	orchestrator.publish(run, nil, "", "")
	runLogger.Info(runFinishedMessageConstant,
		zap.String(statusFieldConstant, string(run.Status)),
		zap.Int(errorsFieldConstant, run.Stats.Errors),
		zap.Int(apiCallsFieldConstant, run.Stats.APICalls),
	)
	return nil
}

// runStage advances one stage, or blocks it when an earlier stage failed, and records
// the terminal transition after the run stats include it.
func (orchestrator *RunOrchestrator) runStage(executionContext context.Context, persistenceContext context.Context, run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage, resources pipeline.ResourceBudget) error {
	observer := pipeline.TransitionObserverFunc(func(transition pipeline.Transition) error {
		if transition.To.Terminal() {
			return nil
		}
		return orchestrator.recordTransition(persistenceContext, run, project, transition)
	})

	outcome, advanceError := orchestrator.machine.Advance(executionContext, run, project, stage, pipeline.WithResources(resources), pipeline.WithObserver(observer))
	if advanceError != nil {
		var preconditionError pipeline.PreconditionError
		if !errors.As(advanceError, &preconditionError) || !preconditionError.BlockedByFailure() {
			return fmt.Errorf(advanceTemplateConstant, stage, project.Reference().Identifier(), advanceError)
		}
		if _, blockError := orchestrator.machine.Block(run, project, stage, preconditionError.Blocking); blockError != nil {
			return fmt.Errorf(blockTemplateConstant, stage, project.Reference().Identifier(), blockError)
		}
		run.Stats.Errors++
		return orchestrator.recordTransition(persistenceContext, run, project, pipeline.Transition{
			RunID:      run.ID,
			Project:    project.Reference().Identifier(),
			Stage:      stage,
			From:       migration.StageStatusPending,
			To:         migration.StageStatusFailed,
			OccurredAt: orchestrator.clock(),
		})
	}

	run.Stats.APICalls += outcome.APICallsUsed
	if outcome.Status == migration.StageStatusFailed {
		run.Stats.Errors++
	}
	return orchestrator.recordTransition(persistenceContext, run, project, pipeline.Transition{
		RunID:      run.ID,
		Project:    project.Reference().Identifier(),
		Stage:      stage,
		From:       migration.StageStatusInProgress,
		To:         outcome.Status,
		OccurredAt: orchestrator.clock(),
	})
}

// recordTransition persists the run, the project and a snapshot, then publishes.
func (orchestrator *RunOrchestrator) recordTransition(persistenceContext context.Context, run *migration.MigrationRun, project *migration.RunProject, transition pipeline.Transition) error {
	run.Stage = string(transition.Stage)
	if persistError := orchestrator.persistRun(persistenceContext, run, project); persistError != nil {
		return persistError
	}
	snapshot := store.Snapshot{
		RunID:  run.ID,
		Status: run.Status,
		Stage:  run.Stage,
		Stats:  run.Stats,
		Payload: map[string]any{
			payloadProjectKeyConstant: transition.Project,
			payloadStageKeyConstant:   string(transition.Stage),
			payloadFromKeyConstant:    string(transition.From),
			payloadToKeyConstant:      string(transition.To),
		},
		RecordedAt: transition.OccurredAt,
	}
	if snapshotError := orchestrator.repository.SaveSnapshot(persistenceContext, snapshot); snapshotError != nil {
		return fmt.Errorf(persistSnapshotTemplateConstant, run.ID, snapshotError)
	}
	orchestrator.publish(run, project, transition.Stage, transition.To)
	return nil
}

func (orchestrator *RunOrchestrator) persistRun(persistenceContext context.Context, run *migration.MigrationRun, projects ...*migration.RunProject) error {
	if saveError := orchestrator.repository.SaveRun(persistenceContext, run); saveError != nil {
		return fmt.Errorf(persistRunTemplateConstant, run.ID, saveError)
	}
	for _, project := range projects {
		if saveError := orchestrator.repository.SaveProject(persistenceContext, project); saveError != nil {
			return fmt.Errorf(persistProjectTemplateConstant, project.Reference().Identifier(), saveError)
		}
	}
	return nil
}

func (orchestrator *RunOrchestrator) publish(run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage, stageStatus migration.StageStatus) {
	update := progress.Update{
		RunID:        run.ID,
		Status:       run.Status,
		Stage:        run.Stage,
		ProjectStage: stage,
		StageStatus:  stageStatus,
		Stats:        run.Stats,
		OccurredAt:   orchestrator.clock(),
	}
	if project != nil {
		update.Project = project.Reference().Identifier()
	}
	orchestrator.publisher.Publish(update)
}

func (orchestrator *RunOrchestrator) fail(persistenceContext context.Context, runLogger *zap.Logger, run *migration.MigrationRun, cause error) error {
	if transitionError := run.Fail(cause.Error(), orchestrator.clock()); transitionError != nil {
		return errors.Join(cause, transitionError)
	}
	runLogger.Error(runFailedMessageConstant, zap.Error(cause))
	if persistError := orchestrator.persistRun(persistenceContext, run); persistError != nil {
		return errors.Join(cause, persistError)
	}
	orchestrator.publish(run, nil, "", "")
	return cause
}

func (orchestrator *RunOrchestrator) cancel(persistenceContext context.Context, runLogger *zap.Logger, run *migration.MigrationRun, projects []*migration.RunProject) error {
	if transitionError := run.TransitionTo(migration.RunStatusCanceled, orchestrator.clock()); transitionError != nil {
		return transitionError
	}
	runLogger.Info(runCanceledMessageConstant)
	if persistError := orchestrator.persistRun(persistenceContext, run, projects...); persistError != nil {
		return errors.Join(ErrRunCanceled, persistError)
	}
	orchestrator.publish(run, nil, "", "")
	return ErrRunCanceled
}

// Resume re-queues a finished or interrupted run, re-arms the selected stages and executes it again.
// COMPLETED stages are never re-run.
func (orchestrator *RunOrchestrator) Resume(executionContext context.Context, run *migration.MigrationRun, projects []*migration.RunProject, resources pipeline.ResourceBudget, options ResumeOptions) error {
	if run.Status == migration.RunStatusQueued || run.Status == migration.RunStatusRunning {
		if failError := run.Fail(interruptedRunMessageConstant, orchestrator.clock()); failError != nil {
			return failError
		}
	}
	if requeueError := run.Requeue(); requeueError != nil {
		return requeueError
	}
	runLogger := orchestrator.logger.With(zap.String(runIDFieldConstant, run.ID))

	for _, project := range projects {
		for _, stage := range migration.StageRange(run.Mode) {
			if len(options.FromStage) > 0 && stage.Before(options.FromStage) {
				continue
			}
			if !shouldRearm(project, stage, options.RetryableOnly) {
				continue
			}
			if rearmError := project.RearmStage(stage); rearmError != nil {
				return fmt.Errorf(rearmTemplateConstant, stage, project.Reference().Identifier(), rearmError)
			}
			runLogger.Debug(stageRearmedMessageConstant,
				zap.String(projectFieldConstant, project.Reference().Identifier()),
				zap.String(stageFieldConstant, string(stage)),
			)
		}
	}

	if persistError := orchestrator.persistRun(context.WithoutCancel(executionContext), run, projects...); persistError != nil {
		return persistError
	}
	runLogger.Info(runResumedMessageConstant, zap.String(stageFieldConstant, string(options.FromStage)))
	return orchestrator.Execute(executionContext, run, projects, resources)
}

func shouldRearm(project *migration.RunProject, stage migration.Stage, retryableOnly bool) bool {
	switch project.Status(stage) {
	case migration.StageStatusInProgress:
		return true
	case migration.StageStatusFailed:
		if !retryableOnly {
			return true
		}
		record, recorded := project.LastError(stage)
		return recorded && record.Retryable()
	default:
		return false
	}
}

func verifyTerminal(projects []*migration.RunProject, stageRange []migration.Stage) error {
	for _, project := range projects {
		for _, stage := range stageRange {
			if status := project.Status(stage); !status.Terminal() {
				return fmt.Errorf(incompleteStagesTemplateConstant, project.Reference().Identifier(), stage, status)
			}
		}
	}
	return nil
}

func countGroups(projects []*migration.RunProject) int {
	groups := map[string]struct{}{}
	for _, project := range projects {
		if namespace := project.Namespace(); len(namespace) > 0 {
			groups[namespace] = struct{}{}
		}
	}
	return len(groups)
}
