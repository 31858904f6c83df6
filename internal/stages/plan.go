package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/transform/content"
)

// PlanVersion is the plan format written by this package.
const PlanVersion = 1

// ActionType names a plan action.
type ActionType string

// Plan action types, in the order they are planned.
const (
	ActionCreateRepository  ActionType = ActionType("create_repository")
	ActionPushMirror        ActionType = ActionType("push_mirror")
	ActionCommitFile        ActionType = ActionType("commit_file")
	ActionCreateIssue       ActionType = ActionType("create_issue")
	ActionCreatePullRequest ActionType = ActionType("create_pull_request")
)

const (
	openStateConstant                             = "open"
	actionIdentifierTemplateConstant              = "a%04d"
	createRepositoryDescriptionTemplateConstant   = "Create repository %s"
	pushMirrorDescriptionTemplateConstant         = "Push full git history to %s"
	commitFileDescriptionTemplateConstant         = "Commit %s"
	createIssueDescriptionTemplateConstant        = "Create issue from GitLab #%d: %s"
	closedMergeRequestDescriptionTemplateConstant = "Create closed issue from GitLab !%d: %s"
	createPullDescriptionTemplateConstant         = "Create pull request from GitLab !%d: %s"
	workflowCommitMessageConstant                 = "Add GitHub Actions workflow converted from GitLab CI"
	gitModulesCommitMessageConstant               = "Rewrite submodule URLs for GitHub"
	mergeRequestLabelNameConstant                 = "gitlab-merge-request"
	milestoneWarningTemplateConstant              = "milestone %q of GitLab #%d is not migrated"
	notReadyDetailTemplateConstant                = "project is not ready for migration: %s"
	readinessFieldNameConstant                    = "readiness"
	blockersJoinSeparatorConstant                 = "; "
	outputPlanKeyConstant                         = "plan"
	outputActionsKeyConstant                      = "actions"
	outputEstimatedCallsKeyConstant               = "estimated_api_calls"
	plannedMessageConstant                        = "Migration plan written"
	actionsFieldConstant                          = "actions"
	estimatedCallsFieldConstant                   = "estimated_api_calls"
	jsonTagNameConstant                           = "json"
	decodeParametersTemplateConstant              = "decode %s parameters of action %s: %w"
)

// Action is one step of the plan. Parameters hold the typed parameters of the action
// type as a JSON object so the plan stays readable and editable.
type Action struct {
	ID                string         `json:"id"`
	Type              ActionType     `json:"type"`
	Description       string         `json:"description"`
	DependsOn         []string       `json:"depends_on,omitempty"`
	EstimatedAPICalls int            `json:"estimated_api_calls"`
	Parameters        map[string]any `json:"parameters"`
}

// Plan is the ordered, inspectable list of target changes for one project.
type Plan struct {
	Version           int                `json:"version"`
	RunID             string             `json:"run_id"`
	Project           string             `json:"project"`
	TargetRepository  string             `json:"target_repository"`
	GeneratedAt       time.Time          `json:"generated_at"`
	Actions           []Action           `json:"actions"`
	Summary           map[ActionType]int `json:"summary"`
	EstimatedAPICalls int                `json:"estimated_api_calls"`
	Warnings          []string           `json:"warnings"`
}

// RepositoryParameters are the parameters of create_repository.
type RepositoryParameters struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	HasIssues   bool   `json:"has_issues"`
	HasWiki     bool   `json:"has_wiki"`
}

// MirrorParameters are the parameters of push_mirror.
type MirrorParameters struct {
	Directory string `json:"directory"`
}

// FileParameters are the parameters of commit_file.
type FileParameters struct {
	Path    string `json:"path"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// IssueParameters are the parameters of create_issue.
type IssueParameters struct {
	SourceIID int      `json:"source_iid"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
	Comments  []string `json:"comments"`
}

// PullRequestParameters are the parameters of create_pull_request.
type PullRequestParameters struct {
	SourceIID int      `json:"source_iid"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Head      string   `json:"head"`
	Base      string   `json:"base"`
	Draft     bool     `json:"draft"`
	Comments  []string `json:"comments"`
}

// LoadPlan reads a plan file.
func LoadPlan(filePath string) (Plan, error) {
	var plan Plan
	if readError := readJSON(filePath, &plan); readError != nil {
		return Plan{}, readError
	}
	return plan, nil
}

// DecodeParameters decodes the action parameters into the typed parameters struct.
func (action Action) DecodeParameters(target any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          jsonTagNameConstant,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if decoderError != nil {
		return fmt.Errorf(decodeParametersTemplateConstant, action.Type, action.ID, decoderError)
	}
	if decodeError := decoder.Decode(action.Parameters); decodeError != nil {
		return fmt.Errorf(decodeParametersTemplateConstant, action.Type, action.ID, decodeError)
	}
	return nil
}

// PlanHandler builds the plan from the discovered facts and the transform outputs.
// Open merge requests become pull requests; closed and merged ones become closed
// issues, because their branches are usually gone.
type PlanHandler struct {
	clock func() time.Time
}

// NewPlanHandler constructs the PLAN handler.
func NewPlanHandler(clock func() time.Time) *PlanHandler {
	if clock == nil {
		clock = time.Now
	}
	return &PlanHandler{clock: clock}
}

type planBuilder struct {
	plan Plan
}

func (builder *planBuilder) add(actionType ActionType, description string, estimatedCalls int, parameters any, dependsOn ...string) (string, error) {
	encoded, encodeError := json.Marshal(parameters)
	if encodeError != nil {
		return "", encodeError
	}
	var parameterMap map[string]any
	if decodeError := json.Unmarshal(encoded, &parameterMap); decodeError != nil {
		return "", decodeError
	}
	identifier := fmt.Sprintf(actionIdentifierTemplateConstant, len(builder.plan.Actions)+1)
	builder.plan.Actions = append(builder.plan.Actions, Action{
		ID:                identifier,
		Type:              actionType,
		Description:       description,
		DependsOn:         dependsOn,
		EstimatedAPICalls: estimatedCalls,
		Parameters:        parameterMap,
	})
	builder.plan.Summary[actionType]++
	builder.plan.EstimatedAPICalls += estimatedCalls
	return identifier, nil
}

// Execute implements pipeline.StageHandler.
func (handler *PlanHandler) Execute(executionContext context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
	project := stageContext.Project
	if blockers := readinessBlockers(project.Readiness); len(blockers) > 0 {
		return pipeline.StageOutcome{}, failures.NewValidationError(readinessFieldNameConstant, fmt.Sprintf(notReadyDetailTemplateConstant, strings.Join(blockers, blockersJoinSeparatorConstant)))
	}

	repository := targetRepository(stageContext)
	owner, name, _ := strings.Cut(repository, "/")
	builder := &planBuilder{plan: Plan{
		Version:          PlanVersion,
		RunID:            stageContext.Run.ID,
		Project:          project.Reference().Identifier(),
		TargetRepository: repository,
		GeneratedAt:      handler.clock(),
		Actions:          []Action{},
		Summary:          map[ActionType]int{},
		Warnings:         readinessWarnings(project.Readiness),
	}}

	repositoryAction, addError := builder.add(ActionCreateRepository, fmt.Sprintf(createRepositoryDescriptionTemplateConstant, repository), 2, RepositoryParameters{
		Owner:       owner,
		Name:        name,
		Description: factString(project.Facts, factDescriptionKeyConstant),
		Visibility:  stageContext.Configuration.Target.Visibility,
		HasIssues:   true,
		HasWiki:     factBool(project.Facts, factWikiEnabledKeyConstant),
	})
	if addError != nil {
		return pipeline.StageOutcome{}, addError
	}

	historyAction := repositoryAction
	if mirror := mirrorDirectory(stageContext); fileExists(mirror) {
		historyAction, addError = builder.add(ActionPushMirror, fmt.Sprintf(pushMirrorDescriptionTemplateConstant, repository), 0, MirrorParameters{Directory: mirror}, repositoryAction)
		if addError != nil {
			return pipeline.StageOutcome{}, addError
		}
	}

	transformOutputs := stageContext.PreviousOutputs(migration.StageTransform)
	if workflowFile, _ := transformOutputs[outputWorkflowFileKeyConstant].(string); len(workflowFile) > 0 {
		workflowPath, _ := transformOutputs[outputWorkflowPathKeyConstant].(string)
		if _, addError = builder.add(ActionCommitFile, fmt.Sprintf(commitFileDescriptionTemplateConstant, workflowPath), 2, FileParameters{Path: workflowPath, Source: workflowFile, Message: workflowCommitMessageConstant}, historyAction); addError != nil {
			return pipeline.StageOutcome{}, addError
		}
	}
	if gitModulesFile, _ := transformOutputs[outputGitModulesFileKeyConstant].(string); len(gitModulesFile) > 0 {
		if _, addError = builder.add(ActionCommitFile, fmt.Sprintf(commitFileDescriptionTemplateConstant, gitModulesFileNameConstant), 2, FileParameters{Path: gitModulesFileNameConstant, Source: gitModulesFile, Message: gitModulesCommitMessageConstant}, historyAction); addError != nil {
			return pipeline.StageOutcome{}, addError
		}
	}

	transformDirectory := stageDirectory(stageContext, transformDirectoryNameConstant)
	if issuesError := planIssues(builder, filepath.Join(transformDirectory, transformedIssuesFileNameConstant), repositoryAction); issuesError != nil {
		return pipeline.StageOutcome{}, issuesError
	}
	if pullsError := planPullRequests(builder, filepath.Join(transformDirectory, transformedPullsFileNameConstant), repositoryAction, historyAction); pullsError != nil {
		return pipeline.StageOutcome{}, pullsError
	}
	if contextError := executionContext.Err(); contextError != nil {
		return pipeline.StageOutcome{}, contextError
	}

	planPath := PlanPath(stageContext.ArtifactDirectory)
	if writeError := writeJSON(planPath, builder.plan); writeError != nil {
		return pipeline.StageOutcome{}, writeError
	}
	loggerFor(stageContext).Info(plannedMessageConstant,
		zap.Int(actionsFieldConstant, len(builder.plan.Actions)),
		zap.Int(estimatedCallsFieldConstant, builder.plan.EstimatedAPICalls),
	)
	return pipeline.StageOutcome{
		Status: migration.StageStatusCompleted,
		Outputs: map[string]any{
			outputPlanKeyConstant:           planPath,
			outputActionsKeyConstant:        len(builder.plan.Actions),
			outputEstimatedCallsKeyConstant: builder.plan.EstimatedAPICalls,
		},
		Artifacts: []string{planPath},
	}, nil
}

func planIssues(builder *planBuilder, issuesFile string, repositoryAction string) error {
	var issues []TransformedIssue
	if loadError := readOptionalJSON(issuesFile, &issues); loadError != nil {
		return loadError
	}
	for _, transformed := range issues {
		issue := transformed.Issue
		if len(issue.Milestone) > 0 {
			builder.plan.Warnings = append(builder.plan.Warnings, fmt.Sprintf(milestoneWarningTemplateConstant, issue.Milestone, issue.SourceIID))
		}
		parameters := IssueParameters{
			SourceIID: issue.SourceIID,
			Title:     issue.Title,
			Body:      issue.Body,
			State:     issue.State,
			Labels:    issue.Labels,
			Assignees: issue.Assignees,
			Comments:  commentBodies(transformed.Comments),
		}
		description := fmt.Sprintf(createIssueDescriptionTemplateConstant, issue.SourceIID, issue.Title)
		if _, addError := builder.add(ActionCreateIssue, description, issueCalls(parameters), parameters, repositoryAction); addError != nil {
			return addError
		}
	}
	return nil
}

func planPullRequests(builder *planBuilder, pullRequestsFile string, repositoryAction string, historyAction string) error {
	var pullRequests []TransformedPullRequest
	if loadError := readOptionalJSON(pullRequestsFile, &pullRequests); loadError != nil {
		return loadError
	}
	for _, transformed := range pullRequests {
		pullRequest := transformed.PullRequest
		comments := commentBodies(transformed.Comments)
		if pullRequest.State != openStateConstant {
			parameters := IssueParameters{
				SourceIID: pullRequest.SourceIID,
				Title:     pullRequest.Title,
				Body:      pullRequest.Body,
				State:     pullRequest.State,
				Labels:    append(append([]string{}, pullRequest.Labels...), mergeRequestLabelNameConstant),
				Assignees: pullRequest.Assignees,
				Comments:  comments,
			}
			description := fmt.Sprintf(closedMergeRequestDescriptionTemplateConstant, pullRequest.SourceIID, pullRequest.Title)
			if _, addError := builder.add(ActionCreateIssue, description, issueCalls(parameters), parameters, repositoryAction); addError != nil {
				return addError
			}
			continue
		}
		parameters := PullRequestParameters{
			SourceIID: pullRequest.SourceIID,
			Title:     pullRequest.Title,
			Body:      pullRequest.Body,
			Head:      pullRequest.Head,
			Base:      pullRequest.Base,
			Draft:     pullRequest.Draft,
			Comments:  comments,
		}
		description := fmt.Sprintf(createPullDescriptionTemplateConstant, pullRequest.SourceIID, pullRequest.Title)
		if _, addError := builder.add(ActionCreatePullRequest, description, 1+len(comments), parameters, historyAction); addError != nil {
			return addError
		}
	}
	return nil
}

func issueCalls(parameters IssueParameters) int {
	calls := 1 + len(parameters.Comments)
	if parameters.State != openStateConstant {
		calls++
	}
	return calls
}

func commentBodies(comments []content.Comment) []string {
	bodies := make([]string, 0, len(comments))
	for _, comment := range comments {
		bodies = append(bodies, comment.Body)
	}
	return bodies
}

func readOptionalJSON(filePath string, target any) error {
	if _, statError := os.Stat(filePath); statError != nil {
		return nil
	}
	return readJSON(filePath, target)
}

func readinessBlockers(readiness map[string]any) []string {
	return stringList(readiness[readinessBlockersKeyConstant])
}

func readinessWarnings(readiness map[string]any) []string {
	return stringList(readiness[readinessWarningsKeyConstant])
}

// stringList accepts both the in-memory []string and the []any a JSON round trip yields.
func stringList(value any) []string {
	switch typed := value.(type) {
	case []string:
		return append([]string{}, typed...)
	case []any:
		values := make([]string, 0, len(typed))
		for _, item := range typed {
			if text, isText := item.(string); isText {
				values = append(values, text)
			}
		}
		return values
	default:
		return []string{}
	}
}
