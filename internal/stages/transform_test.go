package stages_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/failures"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/stages"
)

func exportedStageContext(t *testing.T, gitLab *fakeGitLab) pipeline.StageContext {
	t.Helper()
	exportContext := newStageContext(testConfiguration(t), migration.StageExport)
	runStage(t, stages.NewExportHandler(gitLab.client(), nil), exportContext)
	transformContext := exportContext
	transformContext.Stage = migration.StageTransform
	return transformContext
}

func TestTransformHandlerConvertsExportedArtifacts(testInstance *testing.T) {
	gitLab := newFakeGitLab(testInstance)
	stageContext := exportedStageContext(testInstance, gitLab)

	outcome := runStage(testInstance, stages.NewTransformHandler(func() time.Time { return testNow }), stageContext)

	transformDirectory := filepath.Join(stageContext.ArtifactDirectory, "transform")
	require.Equal(testInstance, testWorkflowRepositoryPath, outcome.Outputs["workflow_path"])
	require.FileExists(testInstance, filepath.Join(transformDirectory, ".github", "workflows", "ci.yml"))
	require.Equal(testInstance, 2, outcome.Outputs["issues"])
	require.Equal(testInstance, 2, outcome.Outputs["pull_requests"])
	require.Equal(testInstance, 1, outcome.Outputs["submodule_rewrites"])

	gitModules, readError := os.ReadFile(filepath.Join(transformDirectory, ".gitmodules"))
	require.NoError(testInstance, readError)
	require.Contains(testInstance, string(gitModules), "github.com/acme/lib")

	var report stages.TransformReport
	readJSONFile(testInstance, filepath.Join(transformDirectory, "transform_report.json"), &report)
	require.Empty(testInstance, report.Errors)
	require.Equal(testInstance, testTargetRepositoryConstant, report.TargetRepository)
	require.NotNil(testInstance, report.Workflow)
	require.Equal(testInstance, 2, report.Workflow.Jobs)

	var issues []stages.TransformedIssue
	readJSONFile(testInstance, filepath.Join(transformDirectory, "issues.json"), &issues)
	require.Len(testInstance, issues, 2)
	require.Equal(testInstance, "Crash on start", issues[0].Issue.Title)
	require.Equal(testInstance, "open", issues[0].Issue.State)
	require.Equal(testInstance, "closed", issues[1].Issue.State)
	require.Len(testInstance, issues[0].Comments, 1)

	var pullRequests []stages.TransformedPullRequest
	readJSONFile(testInstance, filepath.Join(transformDirectory, "pull_requests.json"), &pullRequests)
	require.Len(testInstance, pullRequests, 2)
	require.Equal(testInstance, "feature", pullRequests[0].PullRequest.Head)
	require.Equal(testInstance, "main", pullRequests[0].PullRequest.Base)
	require.True(testInstance, pullRequests[1].PullRequest.Merged)
}

func TestTransformHandlerFailsOnInvalidCIConfiguration(testInstance *testing.T) {
	gitLab := newFakeGitLab(testInstance)
	gitLab.invalidCI = true
	stageContext := exportedStageContext(testInstance, gitLab)

	outcome, executionError := stages.NewTransformHandler(nil).Execute(context.Background(), stageContext)

	require.Error(testInstance, executionError)
	require.Equal(testInstance, failures.CategoryValidation, failures.Classify(executionError).Category)
	require.Len(testInstance, outcome.Artifacts, 1)

	var report stages.TransformReport
	readJSONFile(testInstance, outcome.Artifacts[0], &report)
	require.NotEmpty(testInstance, report.Errors)
	require.Nil(testInstance, report.Workflow)
	require.Equal(testInstance, 2, report.Issues)
}

func TestTransformHandlerFailsOnUnreadableExportedItem(testInstance *testing.T) {
	gitLab := newFakeGitLab(testInstance)
	stageContext := exportedStageContext(testInstance, gitLab)
	tornItem := filepath.Join(stageContext.ArtifactDirectory, "export", "issues", "000002.json")
	require.NoError(testInstance, os.WriteFile(tornItem, []byte(`{"item":{"iid":2,"ti`), 0o644))

	outcome, executionError := stages.NewTransformHandler(func() time.Time { return testNow }).Execute(context.Background(), stageContext)

	require.ErrorIs(testInstance, executionError, stages.ErrExportedItemsUnreadable)
	require.NotEqual(testInstance, migration.StageStatusCompleted, outcome.Status)
	require.Len(testInstance, outcome.Artifacts, 1)

	var report stages.TransformReport
	readJSONFile(testInstance, outcome.Artifacts[0], &report)
	require.Equal(testInstance, []string{tornItem}, report.UnreadableItems)
	require.Equal(testInstance, 1, report.Issues)
	require.Equal(testInstance, 2, report.PullRequests)
	require.NotNil(testInstance, report.Workflow)
}
