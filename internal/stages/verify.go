package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/githubcli"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

const (
	checkRepositoryExistsConstant      = "repository_exists"
	checkWorkflowsConstant             = "workflows"
	checkIssuesConstant                = "issues"
	checkPullRequestsConstant          = "pull_requests"
	verificationFieldNameConstant      = "verification"
	workflowsDirectoryPrefixConstant   = ".github/workflows/"
	verificationFailedTemplateConstant = "checks failed: %s"
	checksJoinSeparatorConstant        = ", "
	dryRunSkippedDetailConstant        = "dry run: nothing was applied"
	repositoryMissingDetailConstant    = "repository not found"
	outputPassedKeyConstant            = "passed"
	outputChecksKeyConstant            = "checks"
	outputVerifyReportKeyConstant      = "report"
	verifiedMessageConstant            = "Migration verified"
	passedFieldConstant                = "passed"
)

// Check is one verification result. Counts pass when the target holds at least the
// expected number, because the target may already have carried items of its own.
type Check struct {
	Name     string `json:"name"`
	Expected int    `json:"expected"`
	Actual   int    `json:"actual"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// VerifyReport is written by the VERIFY stage.
type VerifyReport struct {
	TargetRepository string  `json:"target_repository"`
	Skipped          bool    `json:"skipped"`
	Passed           bool    `json:"passed"`
	Checks           []Check `json:"checks"`
}

// VerifyHandler compares the target repository against what the plan promised.
type VerifyHandler struct {
	target *githubcli.Client
}

// NewVerifyHandler constructs the VERIFY handler.
func NewVerifyHandler(target *githubcli.Client) *VerifyHandler {
	return &VerifyHandler{target: target}
}

// Execute implements pipeline.StageHandler.
func (handler *VerifyHandler) Execute(executionContext context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
	if handler.target == nil {
		return pipeline.StageOutcome{}, ErrTargetClientRequired
	}
	planPath := planLocation(stageContext)
	plan, planError := LoadPlan(planPath)
	if planError != nil {
		return pipeline.StageOutcome{}, failures.New(failures.CodeMissingInput, fmt.Sprintf(planMissingDetailTemplateConstant, planPath, planError), planError)
	}
	report := VerifyReport{TargetRepository: plan.TargetRepository, Checks: []Check{}}
	target := handler.target.Scoped(stageContext.Resources)

	if stageContext.Configuration.DryRun {
		report.Skipped = true
		report.Passed = true
		report.Checks = append(report.Checks, Check{Name: checkRepositoryExistsConstant, Passed: true, Detail: dryRunSkippedDetailConstant})
	} else {
		checks, checkError := runChecks(executionContext, target, plan)
		if checkError != nil {
			return pipeline.StageOutcome{APICallsUsed: target.Calls()}, checkError
		}
		report.Checks = checks
		report.Passed = allPassed(checks)
	}

	reportPath := filepath.Join(stageDirectory(stageContext, verifyDirectoryNameConstant), verifyReportFileNameConstant)
	if writeError := writeJSON(reportPath, report); writeError != nil {
		return pipeline.StageOutcome{APICallsUsed: target.Calls()}, writeError
	}
	loggerFor(stageContext).Info(verifiedMessageConstant, zap.Bool(passedFieldConstant, report.Passed))
	if !report.Passed {
		return pipeline.StageOutcome{Artifacts: []string{reportPath}, APICallsUsed: target.Calls()},
			failures.NewValidationError(verificationFieldNameConstant, fmt.Sprintf(verificationFailedTemplateConstant, strings.Join(failedChecks(report.Checks), checksJoinSeparatorConstant)))
	}
	return pipeline.StageOutcome{
		Status: migration.StageStatusCompleted,
		Outputs: map[string]any{
			outputPassedKeyConstant:       report.Passed,
			outputChecksKeyConstant:       len(report.Checks),
			outputVerifyReportKeyConstant: reportPath,
		},
		Artifacts:    []string{reportPath},
		APICallsUsed: target.Calls(),
	}, nil
}

func runChecks(executionContext context.Context, target *githubcli.Client, plan Plan) ([]Check, error) {
	_, found, resolveError := target.ResolveRepository(executionContext, plan.TargetRepository)
	if resolveError != nil {
		return nil, resolveError
	}
	if !found {
		return []Check{{Name: checkRepositoryExistsConstant, Expected: 1, Passed: false, Detail: repositoryMissingDetailConstant}}, nil
	}
	checks := []Check{{Name: checkRepositoryExistsConstant, Expected: 1, Actual: 1, Passed: true}}

	expectedWorkflows := 0
	expectedIssues := 0
	for _, action := range plan.Actions {
		switch action.Type {
		case ActionCommitFile:
			var parameters FileParameters
			if decodeError := action.DecodeParameters(&parameters); decodeError != nil {
				return nil, decodeError
			}
			if strings.HasPrefix(parameters.Path, workflowsDirectoryPrefixConstant) {
				expectedWorkflows++
			}
		case ActionCreateIssue:
			expectedIssues++
		}
	}

	if expectedWorkflows > 0 {
		workflows, countError := target.CountWorkflows(executionContext, plan.TargetRepository)
		if countError != nil {
			return nil, countError
		}
		checks = append(checks, countCheck(checkWorkflowsConstant, expectedWorkflows, workflows))
	}
	if expectedIssues > 0 {
		issues, countError := target.CountIssues(executionContext, plan.TargetRepository, githubcli.IssueKindIssue)
		if countError != nil {
			return nil, countError
		}
		checks = append(checks, countCheck(checkIssuesConstant, expectedIssues, issues))
	}
	if expectedPullRequests := plan.Summary[ActionCreatePullRequest]; expectedPullRequests > 0 {
		pullRequests, countError := target.CountIssues(executionContext, plan.TargetRepository, githubcli.IssueKindPullRequest)
		if countError != nil {
			return nil, countError
		}
		checks = append(checks, countCheck(checkPullRequestsConstant, expectedPullRequests, pullRequests))
	}
	return checks, nil
}

func countCheck(name string, expected int, actual int) Check {
	return Check{Name: name, Expected: expected, Actual: actual, Passed: actual >= expected}
}

func allPassed(checks []Check) bool {
	for _, check := range checks {
		if !check.Passed {
			return false
		}
	}
	return true
}

func failedChecks(checks []Check) []string {
	names := []string{}
	for _, check := range checks {
		if !check.Passed {
			names = append(names, check.Name)
		}
	}
	return names
}
