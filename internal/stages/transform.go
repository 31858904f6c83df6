package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/transform"
	"github.com/moti-malka/gl2gh/internal/transform/cicd"
	"github.com/moti-malka/gl2gh/internal/transform/content"
	"github.com/moti-malka/gl2gh/internal/transform/submodule"
)

const (
	defaultWorkflowNameConstant        = "CI"
	itemWarningTemplateConstant        = "%s %s: %s"
	skippedItemTemplateConstant        = "%s %s skipped: %v"
	commentWarningTemplateConstant     = "%s %s comment %d: %s"
	outputWorkflowPathKeyConstant      = "workflow_path"
	outputWorkflowFileKeyConstant      = "workflow_file"
	outputGitModulesFileKeyConstant    = "gitmodules_file"
	outputPullRequestsKeyConstant      = "pull_requests"
	outputConversionGapsKeyConstant    = "conversion_gaps"
	outputReportKeyConstant            = "report"
	outputSubmoduleRewritesKeyConstant = "submodule_rewrites"
	issueLabelConstant                 = "issue"
	mergeRequestLabelConstant          = "merge request"
	transformedMessageConstant         = "Project artifacts transformed"
	gapsFieldConstant                  = "conversion_gaps"
	warningsFieldConstant              = "warnings"
	unreadableItemsTemplateConstant    = "%w: %d item(s)"
)

// TransformedIssue is a converted issue with its converted comments.
type TransformedIssue struct {
	Issue    content.Issue     `json:"issue"`
	Comments []content.Comment `json:"comments"`
}

// TransformedPullRequest is a converted merge request with its converted comments.
type TransformedPullRequest struct {
	PullRequest content.PullRequest `json:"pull_request"`
	Comments    []content.Comment   `json:"comments"`
}

// WorkflowSummary describes the converted CI workflow.
type WorkflowSummary struct {
	RepositoryPath string            `json:"repository_path"`
	File           string            `json:"file"`
	Jobs           int               `json:"jobs"`
	JobMapping     map[string]string `json:"job_mapping"`
}

// SubmoduleSummary describes the rewritten .gitmodules.
type SubmoduleSummary struct {
	File      string                `json:"file"`
	Total     int                   `json:"total"`
	Rewritten int                   `json:"rewritten"`
	External  int                   `json:"external"`
	Entries   []submodule.Submodule `json:"entries"`
}

// TransformReport records everything the TRANSFORM stage produced and lost.
type TransformReport struct {
	Project          string                    `json:"project"`
	TargetRepository string                    `json:"target_repository"`
	GeneratedAt      time.Time                 `json:"generated_at"`
	Workflow         *WorkflowSummary          `json:"workflow,omitempty"`
	Submodules       *SubmoduleSummary         `json:"submodules,omitempty"`
	IssuesFile       string                    `json:"issues_file"`
	Issues           int                       `json:"issues"`
	PullRequestsFile string                    `json:"pull_requests_file"`
	PullRequests     int                       `json:"pull_requests"`
	ConversionGaps   []transform.ConversionGap `json:"conversion_gaps"`
	Warnings         []string                  `json:"warnings"`
	Errors           []string                  `json:"errors"`
	UnreadableItems  []string                  `json:"unreadable_items"`
}

// TransformHandler runs the CI, content and submodule engines over the exported
// artifacts. A CI configuration that cannot be converted or an exported item that
// cannot be read fails the stage after the report is written; an issue or merge
// request that cannot be converted is skipped and reported.
type TransformHandler struct {
	clock func() time.Time
}

// NewTransformHandler constructs the TRANSFORM handler.
func NewTransformHandler(clock func() time.Time) *TransformHandler {
	if clock == nil {
		clock = time.Now
	}
	return &TransformHandler{clock: clock}
}

// Execute implements pipeline.StageHandler.
func (handler *TransformHandler) Execute(executionContext context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
	exportDirectory := stageDirectory(stageContext, exportDirectoryNameConstant)
	outputDirectory := stageDirectory(stageContext, transformDirectoryNameConstant)
	repository := targetRepository(stageContext)
	report := TransformReport{
		Project:          stageContext.Project.Reference().Identifier(),
		TargetRepository: repository,
		GeneratedAt:      handler.clock(),
		ConversionGaps:   []transform.ConversionGap{},
		Warnings:         []string{},
		Errors:           []string{},
		UnreadableItems:  []string{},
	}

	workflowError := handler.transformWorkflow(exportDirectory, outputDirectory, &report)
	if submoduleError := handler.transformSubmodules(stageContext, exportDirectory, outputDirectory, &report); submoduleError != nil {
		return pipeline.StageOutcome{}, submoduleError
	}
	if contextError := executionContext.Err(); contextError != nil {
		return pipeline.StageOutcome{}, contextError
	}

	contentTransformer := content.NewTransformer()
	contentTransformer.SetUserMappings(stageContext.Configuration.UserMappings)
	if issuesError := transformIssues(contentTransformer, exportDirectory, outputDirectory, repository, &report); issuesError != nil {
		return pipeline.StageOutcome{}, issuesError
	}
	if pullsError := transformPullRequests(contentTransformer, exportDirectory, outputDirectory, repository, &report); pullsError != nil {
		return pipeline.StageOutcome{}, pullsError
	}

	reportPath := filepath.Join(outputDirectory, transformReportFileNameConstant)
	if writeError := writeJSON(reportPath, report); writeError != nil {
		return pipeline.StageOutcome{}, writeError
	}
	if len(report.UnreadableItems) > 0 {
		workflowError = errors.Join(workflowError, fmt.Errorf(unreadableItemsTemplateConstant, ErrExportedItemsUnreadable, len(report.UnreadableItems)))
	}
	if workflowError != nil {
		return pipeline.StageOutcome{Artifacts: []string{reportPath}}, workflowError
	}

	loggerFor(stageContext).Info(transformedMessageConstant,
		zap.Int(gapsFieldConstant, len(report.ConversionGaps)),
		zap.Int(warningsFieldConstant, len(report.Warnings)),
	)
	outputs := map[string]any{
		outputReportKeyConstant:         reportPath,
		outputIssuesKeyConstant:         report.Issues,
		outputPullRequestsKeyConstant:   report.PullRequests,
		outputConversionGapsKeyConstant: len(report.ConversionGaps),
	}
	if report.Workflow != nil {
		outputs[outputWorkflowPathKeyConstant] = report.Workflow.RepositoryPath
		outputs[outputWorkflowFileKeyConstant] = report.Workflow.File
	}
	if report.Submodules != nil {
		outputs[outputGitModulesFileKeyConstant] = report.Submodules.File
		outputs[outputSubmoduleRewritesKeyConstant] = report.Submodules.Rewritten
	}
	return pipeline.StageOutcome{
		Status:    migration.StageStatusCompleted,
		Outputs:   outputs,
		Artifacts: []string{reportPath},
	}, nil
}

// transformWorkflow returns the conversion failure separately so the report is still
// written before the stage fails.
func (handler *TransformHandler) transformWorkflow(exportDirectory string, outputDirectory string, report *TransformReport) error {
	ciPath := filepath.Join(exportDirectory, ciConfigFileNameConstant)
	if !fileExists(ciPath) {
		return nil
	}
	ciContents, readError := os.ReadFile(ciPath)
	if readError != nil {
		return fmt.Errorf(readArtifactErrorTemplateConstant, ciPath, readError)
	}
	result := cicd.NewTransformer().Transform(cicd.Request{GitLabCIYAML: string(ciContents), WorkflowName: defaultWorkflowNameConstant})
	report.Warnings = append(report.Warnings, result.Warnings...)
	if !result.Success {
		report.Errors = append(report.Errors, result.Errors...)
		return result.Err()
	}
	output := result.Data
	report.ConversionGaps = append(report.ConversionGaps, output.ConversionGaps...)
	workflowFile := filepath.Join(outputDirectory, filepath.FromSlash(output.WorkflowPath))
	if writeError := writeFile(workflowFile, []byte(output.WorkflowYAML)); writeError != nil {
		return writeError
	}
	report.Workflow = &WorkflowSummary{
		RepositoryPath: output.WorkflowPath,
		File:           workflowFile,
		Jobs:           len(output.Workflow.Jobs),
		JobMapping:     output.JobMapping,
	}
	return nil
}

func (handler *TransformHandler) transformSubmodules(stageContext pipeline.StageContext, exportDirectory string, outputDirectory string, report *TransformReport) error {
	gitModulesPath := filepath.Join(exportDirectory, gitModulesFileNameConstant)
	if !fileExists(gitModulesPath) {
		return nil
	}
	gitModulesContents, readError := os.ReadFile(gitModulesPath)
	if readError != nil {
		return fmt.Errorf(readArtifactErrorTemplateConstant, gitModulesPath, readError)
	}
	contents := string(gitModulesContents)
	result := submodule.NewTransformer().Transform(submodule.Request{GitModulesContent: &contents, URLMappings: stageContext.Configuration.URLMappings})
	report.Warnings = append(report.Warnings, result.Warnings...)
	if !result.Success {
		report.Errors = append(report.Errors, result.Errors...)
		return nil
	}
	output := result.Data
	summary := &SubmoduleSummary{Total: output.TotalCount, Rewritten: output.RewriteCount, External: output.ExternalCount, Entries: output.Submodules}
	if output.RewriteCount > 0 {
		summary.File = filepath.Join(outputDirectory, gitModulesFileNameConstant)
		if writeError := writeFile(summary.File, []byte(output.GitModules)); writeError != nil {
			return writeError
		}
	}
	report.Submodules = summary
	return nil
}

func transformIssues(transformer *content.Transformer, exportDirectory string, outputDirectory string, repository string, report *TransformReport) error {
	files, listError := itemFiles(filepath.Join(exportDirectory, issuesDirectoryNameConstant))
	if listError != nil {
		return listError
	}
	issues := []TransformedIssue{}
	for _, file := range files {
		exported, readError := readExportedItem(file)
		if readError != nil {
			report.Errors = append(report.Errors, fmt.Sprintf(skippedItemTemplateConstant, issueLabelConstant, filepath.Base(file), readError))
			report.UnreadableItems = append(report.UnreadableItems, file)
			continue
		}
		label := itemLabel(exported.Item)
		result := transformer.TransformIssue(exported.Item, repository)
		report.Warnings = append(report.Warnings, prefixed(issueLabelConstant, label, result.Warnings)...)
		if !result.Success {
			report.Errors = append(report.Errors, prefixed(issueLabelConstant, label, result.Errors)...)
			continue
		}
		issues = append(issues, TransformedIssue{Issue: *result.Data, Comments: transformComments(transformer, exported.Notes, repository, issueLabelConstant, label, report)})
	}
	report.Issues = len(issues)
	report.IssuesFile = filepath.Join(outputDirectory, transformedIssuesFileNameConstant)
	return writeJSON(report.IssuesFile, issues)
}

func transformPullRequests(transformer *content.Transformer, exportDirectory string, outputDirectory string, repository string, report *TransformReport) error {
	files, listError := itemFiles(filepath.Join(exportDirectory, mergeRequestsDirectoryNameConstant))
	if listError != nil {
		return listError
	}
	pullRequests := []TransformedPullRequest{}
	for _, file := range files {
		exported, readError := readExportedItem(file)
		if readError != nil {
			report.Errors = append(report.Errors, fmt.Sprintf(skippedItemTemplateConstant, mergeRequestLabelConstant, filepath.Base(file), readError))
			report.UnreadableItems = append(report.UnreadableItems, file)
			continue
		}
		label := itemLabel(exported.Item)
		result := transformer.TransformMergeRequest(exported.Item, repository)
		report.Warnings = append(report.Warnings, prefixed(mergeRequestLabelConstant, label, result.Warnings)...)
		if !result.Success {
			report.Errors = append(report.Errors, prefixed(mergeRequestLabelConstant, label, result.Errors)...)
			continue
		}
		pullRequests = append(pullRequests, TransformedPullRequest{PullRequest: *result.Data, Comments: transformComments(transformer, exported.Notes, repository, mergeRequestLabelConstant, label, report)})
	}
	report.PullRequests = len(pullRequests)
	report.PullRequestsFile = filepath.Join(outputDirectory, transformedPullsFileNameConstant)
	return writeJSON(report.PullRequestsFile, pullRequests)
}

func transformComments(transformer *content.Transformer, notes []map[string]any, repository string, kind string, label string, report *TransformReport) []content.Comment {
	comments := []content.Comment{}
	for noteIndex, note := range notes {
		result := transformer.TransformComment(note, repository)
		for _, warning := range result.Warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf(commentWarningTemplateConstant, kind, label, noteIndex, warning))
		}
		if !result.Success {
			for _, message := range result.Errors {
				report.Errors = append(report.Errors, fmt.Sprintf(commentWarningTemplateConstant, kind, label, noteIndex, message))
			}
			continue
		}
		comments = append(comments, *result.Data)
	}
	return comments
}

func itemLabel(item map[string]any) string {
	return fmt.Sprintf("#%d", intValue(item[iidPayloadKeyConstant]))
}

func prefixed(kind string, label string, messages []string) []string {
	prefixedMessages := make([]string, 0, len(messages))
	for _, message := range messages {
		prefixedMessages = append(prefixedMessages, fmt.Sprintf(itemWarningTemplateConstant, kind, label, message))
	}
	return prefixedMessages
}
