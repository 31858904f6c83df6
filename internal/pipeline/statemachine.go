package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/migration"
)

const (
	stageStartedMessageConstant     = "Stage started"
	stageCompletedMessageConstant   = "Stage completed"
	stageFailedMessageConstant      = "Stage failed"
	stageBlockedMessageConstant     = "Stage blocked by earlier failure"
	runIDFieldConstant              = "run_id"
	projectFieldConstant            = "project"
	stageFieldConstant              = "stage"
	apiCallsFieldConstant           = "api_calls"
	errorCodeFieldConstant          = "error_code"
	errorCategoryFieldConstant      = "error_category"
	durationFieldConstant           = "duration"
	handlerMissingTemplateConstant  = "stage %s: %w"
	stageOutOfRangeTemplateConstant = "stage %s is outside the %s stage range"
	stageNotPendingTemplateConstant = "project %s stage %s is %s, expected PENDING"
	predecessorTemplateConstant     = "project %s stage %s requires %s COMPLETED, found %s"
	handlerPanicTemplateConstant    = "stage handler panicked: %v"
	handlerReportedFailureConstant  = "stage handler reported failure"
	observerErrorTemplateConstant   = "record %s transition for %s: %w"
	blockedDetailTemplateConstant   = "%s did not run because %s failed: %s"
	runRequiredMessageConstant      = "run and project are required"
)

// ErrHandlerNotRegistered reports a stage without a handler.
var ErrHandlerNotRegistered = errors.New("stage handler not registered")

// PreconditionError reports a stage that may not start yet. Blocking is the earlier stage at fault.
type PreconditionError struct {
	Project  string
	Stage    migration.Stage
	Blocking migration.Stage
	Status   migration.StageStatus
	message  string
}

// Error describes the unmet precondition.
func (preconditionError PreconditionError) Error() string {
	return preconditionError.message
}

// BlockedByFailure reports whether an earlier stage FAILED, which no further advance can fix.
func (preconditionError PreconditionError) BlockedByFailure() bool {
	return preconditionError.Status == migration.StageStatusFailed
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(machine *StateMachine) {
		if clock != nil {
			machine.clock = clock
		}
	}
}

// WithTransitionObserver registers an observer notified on every transition of every advance.
func WithTransitionObserver(observer TransitionObserver) Option {
	return func(machine *StateMachine) {
		if observer != nil {
			machine.observers = append(machine.observers, observer)
		}
	}
}

// AdvanceOption configures a single Advance call.
type AdvanceOption func(*advanceSettings)

type advanceSettings struct {
	resources ResourceBudget
	observers []TransitionObserver
}

// WithResources passes the shared budget to the handler.
func WithResources(resources ResourceBudget) AdvanceOption {
	return func(settings *advanceSettings) {
		settings.resources = resources
	}
}

// WithObserver adds an observer for this call only.
func WithObserver(observer TransitionObserver) AdvanceOption {
	return func(settings *advanceSettings) {
		if observer != nil {
			settings.observers = append(settings.observers, observer)
		}
	}
}

// StateMachine advances project stages through PENDING, IN_PROGRESS and a terminal status.
type StateMachine struct {
	handlers  map[migration.Stage]StageHandler
	logger    *zap.Logger
	clock     func() time.Time
	observers []TransitionObserver
}

// NewStateMachine constructs a StateMachine over the stage handlers.
func NewStateMachine(logger *zap.Logger, handlers map[migration.Stage]StageHandler, options ...Option) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	registered := make(map[migration.Stage]StageHandler, len(handlers))
	for stage, handler := range handlers {
		if handler != nil {
			registered[stage] = handler
		}
	}
	machine := &StateMachine{
		handlers:  registered,
		logger:    logger,
		clock:     time.Now,
		observers: []TransitionObserver{noopTransitionObserver{}},
	}
	for _, option := range options {
		option(machine)
	}
	return machine
}

// CheckPrecondition verifies the stage is in the run's range, is PENDING and every
// earlier in-range stage is COMPLETED. Stages before the range count as done.
func (machine *StateMachine) CheckPrecondition(run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage) error {
	if run == nil || project == nil {
		return errors.New(runRequiredMessageConstant)
	}
	projectName := project.Reference().Identifier()
	if !migration.InRange(run.Mode, stage) {
		return PreconditionError{Project: projectName, Stage: stage, message: fmt.Sprintf(stageOutOfRangeTemplateConstant, stage, run.Mode)}
	}
	for _, earlierStage := range migration.StageRange(run.Mode) {
		if earlierStage == stage {
			break
		}
		earlierStatus := project.Status(earlierStage)
		if earlierStatus == migration.StageStatusCompleted {
			continue
		}
		if earlierStatus == migration.StageStatusFailed && continuesAfterFailure(run, earlierStage, stage) {
			continue
		}
		return PreconditionError{
			Project:  projectName,
			Stage:    stage,
			Blocking: earlierStage,
			Status:   earlierStatus,
			message:  fmt.Sprintf(predecessorTemplateConstant, projectName, stage, earlierStage, earlierStatus),
		}
	}
	if currentStatus := project.Status(stage); currentStatus != migration.StageStatusPending {
		return PreconditionError{Project: projectName, Stage: stage, Status: currentStatus, message: fmt.Sprintf(stageNotPendingTemplateConstant, projectName, stage, currentStatus)}
	}
	return nil
}

// continuesAfterFailure applies the continue_partial export policy: a PLAN_ONLY run may
// transform and plan what a failed export left behind.
func continuesAfterFailure(run *migration.MigrationRun, failedStage migration.Stage, stage migration.Stage) bool {
	if run.ConfigSnapshot.ExportFailurePolicy != migration.ExportFailurePolicyContinuePartial || run.Mode != migration.RunModePlanOnly {
		return false
	}
	return failedStage == migration.StageExport && (stage == migration.StageTransform || stage == migration.StagePlan)
}

// Advance runs one stage for the project. Precondition and observer failures are returned
// as errors; a handler failure marks the stage FAILED and is reported in the outcome.
func (machine *StateMachine) Advance(executionContext context.Context, run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage, options ...AdvanceOption) (StageOutcome, error) {
	settings := advanceSettings{}
	for _, option := range options {
		option(&settings)
	}

	if preconditionError := machine.CheckPrecondition(run, project, stage); preconditionError != nil {
		return StageOutcome{}, preconditionError
	}
	handler, registered := machine.handlers[stage]
	if !registered {
		return StageOutcome{}, fmt.Errorf(handlerMissingTemplateConstant, stage, ErrHandlerNotRegistered)
	}
	if contextError := executionContext.Err(); contextError != nil {
		return StageOutcome{}, contextError
	}

	stageLogger := machine.logger.With(
		zap.String(runIDFieldConstant, run.ID),
		zap.String(projectFieldConstant, project.Reference().Identifier()),
		zap.String(stageFieldConstant, string(stage)),
	)

	if startError := project.StartStage(stage); startError != nil {
		return StageOutcome{}, startError
	}
	startedAt := machine.clock()
	if notifyError := machine.notify(settings, run, project, stage, migration.StageStatusPending, migration.StageStatusInProgress, startedAt); notifyError != nil {
		return StageOutcome{}, notifyError
	}
	stageLogger.Info(stageStartedMessageConstant)

	stageContext := StageContext{
		Run:               run,
		Project:           project,
		Stage:             stage,
		Configuration:     run.ConfigSnapshot,
		ArtifactDirectory: ArtifactDirectory(run, project),
		Resources:         settings.resources,
		Logger:            stageLogger,
	}
	outcome, handlerError := invokeHandler(executionContext, handler, stageContext)
	finishedAt := machine.clock()

	if handlerError == nil && outcome.Status == migration.StageStatusFailed {
		handlerError = failures.New(failures.CodeUnknown, handlerReportedFailureConstant, nil)
	}
	if handlerError != nil {
		record := failures.NewRecord(string(stage), handlerError, finishedAt)
		if failError := project.FailStage(stage, record); failError != nil {
			return outcome, failError
		}
		outcome.Status = migration.StageStatusFailed
		outcome.Failure = &record
		stageLogger.Warn(stageFailedMessageConstant,
			zap.String(errorCodeFieldConstant, string(record.Code)),
			zap.String(errorCategoryFieldConstant, string(record.Category)),
			zap.Duration(durationFieldConstant, finishedAt.Sub(startedAt)),
			zap.Error(handlerError),
		)
		return outcome, machine.notify(settings, run, project, stage, migration.StageStatusInProgress, migration.StageStatusFailed, finishedAt)
	}

	if completeError := project.CompleteStage(stage, outcome.Outputs); completeError != nil {
		return outcome, completeError
	}
	outcome.Status = migration.StageStatusCompleted
	stageLogger.Info(stageCompletedMessageConstant,
		zap.Int(apiCallsFieldConstant, outcome.APICallsUsed),
		zap.Duration(durationFieldConstant, finishedAt.Sub(startedAt)),
	)
	return outcome, machine.notify(settings, run, project, stage, migration.StageStatusInProgress, migration.StageStatusCompleted, finishedAt)
}

// Block fails a PENDING stage that cannot run because an earlier stage FAILED. The record
// keeps the category of the upstream failure so retry filtering treats both alike.
func (machine *StateMachine) Block(run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage, blocking migration.Stage, options ...AdvanceOption) (failures.Record, error) {
	settings := advanceSettings{}
	for _, option := range options {
		option(&settings)
	}

	blockedAt := machine.clock()
	upstream, _ := project.LastError(blocking)
	record := failures.NewRecord(string(stage), failures.New(failures.CodeUpstreamFailed, fmt.Sprintf(blockedDetailTemplateConstant, stage, blocking, upstream.Message), nil), blockedAt)
	if len(upstream.Category) > 0 {
		record.Category = upstream.Category
	}

	if startError := project.StartStage(stage); startError != nil {
		return record, startError
	}
	if failError := project.FailStage(stage, record); failError != nil {
		return record, failError
	}
	machine.logger.Info(stageBlockedMessageConstant,
		zap.String(runIDFieldConstant, run.ID),
		zap.String(projectFieldConstant, project.Reference().Identifier()),
		zap.String(stageFieldConstant, string(stage)),
	)
	return record, machine.notify(settings, run, project, stage, migration.StageStatusPending, migration.StageStatusFailed, blockedAt)
}

func (machine *StateMachine) notify(settings advanceSettings, run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage, from migration.StageStatus, to migration.StageStatus, at time.Time) error {
	transition := Transition{
		RunID:      run.ID,
		Project:    project.Reference().Identifier(),
		Stage:      stage,
		From:       from,
		To:         to,
		OccurredAt: at,
	}
	observers := append(append([]TransitionObserver{}, machine.observers...), settings.observers...)
	for _, observer := range observers {
		if observerError := observer.StageTransitioned(transition); observerError != nil {
			return fmt.Errorf(observerErrorTemplateConstant, to, stage, observerError)
		}
	}
	return nil
}

func invokeHandler(executionContext context.Context, handler StageHandler, stageContext StageContext) (outcome StageOutcome, handlerError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			handlerError = fmt.Errorf(handlerPanicTemplateConstant, recovered)
		}
	}()
	return handler.Execute(executionContext, stageContext)
}
