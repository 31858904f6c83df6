package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/checkpoint"
	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/githubcli"
	"github.com/moti-malka/gl2gh/internal/gitrepo"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

// ActionStatus is the outcome of one applied action.
type ActionStatus string

// Action outcomes.
const (
	ActionStatusApplied ActionStatus = ActionStatus("applied")
	ActionStatusSkipped ActionStatus = ActionStatus("skipped")
	ActionStatusDryRun  ActionStatus = ActionStatus("dry_run")
)

const (
	applyComponentConstant                = "actions"
	gitHubCredentialUserConstant          = "x-access-token"
	targetRemoteTemplateConstant          = "https://%s/%s.git"
	repositoryExistsDetailConstant        = "repository already exists"
	mirrorMissingDetailConstant           = "no exported mirror"
	mirrorDisabledDetailConstant          = "git mirroring not configured"
	alreadyAppliedDetailConstant          = "applied before the run was interrupted"
	unsupportedActionTemplateConstant     = "unsupported action type %s"
	planMissingDetailTemplateConstant     = "plan not found at %s: %v"
	planFieldNameConstant                 = "plan"
	issueReferenceTemplateConstant        = "#%d"
	outputAppliedKeyConstant              = "applied"
	outputSkippedKeyConstant              = "skipped"
	outputDryRunKeyConstant               = "dry_run"
	outputApplyReportKeyConstant          = "report"
	actionAppliedMessageConstant          = "Plan action applied"
	applyFinishedMessageConstant          = "Plan applied"
	applyReportWriteFailedMessageConstant = "Apply report could not be written"
	actionFieldConstant                   = "action"
	actionTypeFieldConstant               = "action_type"
	statusFieldConstant                   = "status"
	dryRunFieldConstant                   = "dry_run"
)

// ActionResult records what happened to one plan action.
type ActionResult struct {
	ID        string       `json:"id"`
	Type      ActionType   `json:"type"`
	Status    ActionStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Reference string       `json:"reference,omitempty"`
}

// ApplyReport is written by the APPLY stage.
type ApplyReport struct {
	TargetRepository string         `json:"target_repository"`
	DryRun           bool           `json:"dry_run"`
	Results          []ActionResult `json:"results"`
}

// ApplyHandler executes the plan against GitHub. Applied actions are checkpointed so
// a resumed APPLY continues after the last applied action. Dry runs change nothing.
type ApplyHandler struct {
	target  *githubcli.Client
	mirrors *gitrepo.MirrorManager
}

// NewApplyHandler constructs the APPLY handler. A nil mirror manager skips history pushes.
func NewApplyHandler(target *githubcli.Client, mirrors *gitrepo.MirrorManager) *ApplyHandler {
	return &ApplyHandler{target: target, mirrors: mirrors}
}

type applyRun struct {
	stageContext pipeline.StageContext
	target       *githubcli.Client
	repository   string
}

// Execute implements pipeline.StageHandler.
func (handler *ApplyHandler) Execute(executionContext context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
	if handler.target == nil {
		return pipeline.StageOutcome{}, ErrTargetClientRequired
	}
	planPath := planLocation(stageContext)
	plan, planError := LoadPlan(planPath)
	if planError != nil {
		return pipeline.StageOutcome{}, failures.New(failures.CodeMissingInput, fmt.Sprintf(planMissingDetailTemplateConstant, planPath, planError), planError)
	}

	run := &applyRun{
		stageContext: stageContext,
		target:       handler.target.Scoped(stageContext.Resources),
		repository:   plan.TargetRepository,
	}
	dryRun := stageContext.Configuration.DryRun
	report := ApplyReport{TargetRepository: plan.TargetRepository, DryRun: dryRun, Results: []ActionResult{}}

	store, storeError := checkpoint.NewStore(filepath.Join(stageDirectory(stageContext, applyDirectoryNameConstant), checkpointFileNameConstant), loggerFor(stageContext))
	if storeError != nil {
		return pipeline.StageOutcome{}, storeError
	}
	resumeAfter := -1
	if !dryRun {
		if cursor, found := store.LastProcessedItem(applyComponentConstant); found {
			resumeAfter = actionIndex(plan.Actions, cursor)
		}
		total := len(plan.Actions)
		if startError := store.MarkComponentStarted(applyComponentConstant, nil); startError != nil {
			return pipeline.StageOutcome{}, startError
		}
		if progressError := store.UpdateComponentProgress(applyComponentConstant, 0, &total, nil); progressError != nil {
			return pipeline.StageOutcome{}, progressError
		}
	}

	for index, action := range plan.Actions {
		if index <= resumeAfter {
			report.Results = append(report.Results, ActionResult{ID: action.ID, Type: action.Type, Status: ActionStatusSkipped, Detail: alreadyAppliedDetailConstant})
			continue
		}
		if dryRun {
			report.Results = append(report.Results, ActionResult{ID: action.ID, Type: action.Type, Status: ActionStatusDryRun, Detail: action.Description})
			continue
		}
		if contextError := executionContext.Err(); contextError != nil {
			return handler.interrupted(run, store, report, contextError)
		}
		result, actionError := handler.applyAction(executionContext, run, action)
		if actionError != nil {
			return handler.interrupted(run, store, report, actionError)
		}
		report.Results = append(report.Results, result)
		loggerFor(stageContext).Debug(actionAppliedMessageConstant,
			zap.String(actionFieldConstant, action.ID),
			zap.String(actionTypeFieldConstant, string(action.Type)),
			zap.String(statusFieldConstant, string(result.Status)),
		)
		cursor := action.ID
		if progressError := store.UpdateComponentProgress(applyComponentConstant, index+1, nil, &cursor); progressError != nil {
			return pipeline.StageOutcome{APICallsUsed: run.target.Calls()}, progressError
		}
	}
	if !dryRun {
		if markError := store.MarkComponentCompleted(applyComponentConstant, true, nil); markError != nil {
			return pipeline.StageOutcome{APICallsUsed: run.target.Calls()}, markError
		}
	}

	reportPath := filepath.Join(stageDirectory(stageContext, applyDirectoryNameConstant), applyReportFileNameConstant)
	if writeError := writeJSON(reportPath, report); writeError != nil {
		return pipeline.StageOutcome{APICallsUsed: run.target.Calls()}, writeError
	}
	applied, skipped := countResults(report.Results)
	loggerFor(stageContext).Info(applyFinishedMessageConstant,
		zap.Int(outputAppliedKeyConstant, applied),
		zap.Int(outputSkippedKeyConstant, skipped),
		zap.Bool(dryRunFieldConstant, dryRun),
	)
	return pipeline.StageOutcome{
		Status: migration.StageStatusCompleted,
		Outputs: map[string]any{
			outputAppliedKeyConstant:          applied,
			outputSkippedKeyConstant:          skipped,
			outputDryRunKeyConstant:           dryRun,
			outputApplyReportKeyConstant:      reportPath,
			outputTargetRepositoryKeyConstant: plan.TargetRepository,
		},
		Artifacts:    []string{reportPath},
		APICallsUsed: run.target.Calls(),
	}, nil
}

func (handler *ApplyHandler) interrupted(run *applyRun, store *checkpoint.Store, report ApplyReport, cause error) (pipeline.StageOutcome, error) {
	if markError := store.MarkComponentCompleted(applyComponentConstant, false, cause); markError != nil {
		loggerFor(run.stageContext).Warn(checkpointWriteFailedMessageConstant, zap.Error(markError))
	}
	reportPath := filepath.Join(stageDirectory(run.stageContext, applyDirectoryNameConstant), applyReportFileNameConstant)
	if writeError := writeJSON(reportPath, report); writeError != nil {
		loggerFor(run.stageContext).Warn(applyReportWriteFailedMessageConstant, zap.Error(writeError))
	}
	return pipeline.StageOutcome{Artifacts: []string{reportPath}, APICallsUsed: run.target.Calls()}, cause
}

func (handler *ApplyHandler) applyAction(executionContext context.Context, run *applyRun, action Action) (ActionResult, error) {
	result := ActionResult{ID: action.ID, Type: action.Type, Status: ActionStatusApplied}
	switch action.Type {
	case ActionCreateRepository:
		var parameters RepositoryParameters
		if decodeError := action.DecodeParameters(&parameters); decodeError != nil {
			return result, decodeError
		}
		existing, found, resolveError := run.target.ResolveRepository(executionContext, run.repository)
		if resolveError != nil {
			return result, resolveError
		}
		if found {
			result.Status = ActionStatusSkipped
			result.Detail = repositoryExistsDetailConstant
			result.Reference = existing.HTMLURL
			return result, nil
		}
		created, createError := run.target.CreateRepository(executionContext, githubcli.RepositorySpecification{
			Owner:       parameters.Owner,
			Name:        parameters.Name,
			Description: parameters.Description,
			Visibility:  parameters.Visibility,
			HasIssues:   parameters.HasIssues,
			HasWiki:     parameters.HasWiki,
		})
		if createError != nil {
			return result, createError
		}
		result.Reference = created.HTMLURL
		return result, nil
	case ActionPushMirror:
		var parameters MirrorParameters
		if decodeError := action.DecodeParameters(&parameters); decodeError != nil {
			return result, decodeError
		}
		if handler.mirrors == nil {
			result.Status = ActionStatusSkipped
			result.Detail = mirrorDisabledDetailConstant
			return result, nil
		}
		if !handler.mirrors.IsMirror(parameters.Directory) {
			result.Status = ActionStatusSkipped
			result.Detail = mirrorMissingDetailConstant
			return result, nil
		}
		configuration := run.stageContext.Configuration
		remote := fmt.Sprintf(targetRemoteTemplateConstant, configuration.Target.Hostname, run.repository)
		if pushError := handler.mirrors.PushMirror(executionContext, parameters.Directory, gitrepo.WithCredentials(remote, gitHubCredentialUserConstant, configuration.Target.Token)); pushError != nil {
			return result, pushError
		}
		result.Reference = remote
		return result, nil
	case ActionCommitFile:
		var parameters FileParameters
		if decodeError := action.DecodeParameters(&parameters); decodeError != nil {
			return result, decodeError
		}
		contents, readError := os.ReadFile(parameters.Source)
		if readError != nil {
			return result, fmt.Errorf(readArtifactErrorTemplateConstant, parameters.Source, readError)
		}
		if putError := run.target.PutContent(executionContext, run.repository, githubcli.ContentFile{Path: parameters.Path, Content: contents, Message: parameters.Message}); putError != nil {
			return result, putError
		}
		result.Reference = parameters.Path
		return result, nil
	case ActionCreateIssue:
		var parameters IssueParameters
		if decodeError := action.DecodeParameters(&parameters); decodeError != nil {
			return result, decodeError
		}
		number, issueError := run.target.CreateIssue(executionContext, run.repository, githubcli.IssueRequest{
			Title:     parameters.Title,
			Body:      parameters.Body,
			Labels:    parameters.Labels,
			Assignees: parameters.Assignees,
		})
		if issueError != nil {
			return result, issueError
		}
		result.Reference = fmt.Sprintf(issueReferenceTemplateConstant, number)
		if commentError := createComments(executionContext, run, number, parameters.Comments); commentError != nil {
			return result, commentError
		}
		if parameters.State != openStateConstant {
			if stateError := run.target.SetIssueState(executionContext, run.repository, number, githubcli.IssueStateClosed); stateError != nil {
				return result, stateError
			}
		}
		return result, nil
	case ActionCreatePullRequest:
		var parameters PullRequestParameters
		if decodeError := action.DecodeParameters(&parameters); decodeError != nil {
			return result, decodeError
		}
		number, pullError := run.target.CreatePullRequest(executionContext, run.repository, githubcli.PullRequestRequest{
			Title: parameters.Title,
			Body:  parameters.Body,
			Head:  parameters.Head,
			Base:  parameters.Base,
			Draft: parameters.Draft,
		})
		if pullError != nil {
			return result, pullError
		}
		result.Reference = fmt.Sprintf(issueReferenceTemplateConstant, number)
		return result, createComments(executionContext, run, number, parameters.Comments)
	default:
		return result, failures.NewValidationError(planFieldNameConstant, fmt.Sprintf(unsupportedActionTemplateConstant, action.Type))
	}
}

func createComments(executionContext context.Context, run *applyRun, number int, comments []string) error {
	for _, comment := range comments {
		if commentError := run.target.CreateComment(executionContext, run.repository, number, comment); commentError != nil {
			return commentError
		}
	}
	return nil
}

func actionIndex(actions []Action, identifier string) int {
	for index, action := range actions {
		if action.ID == identifier {
			return index
		}
	}
	return -1
}

func countResults(results []ActionResult) (int, int) {
	applied := 0
	skipped := 0
	for _, result := range results {
		switch result.Status {
		case ActionStatusApplied:
			applied++
		case ActionStatusSkipped:
			skipped++
		}
	}
	return applied, skipped
}
