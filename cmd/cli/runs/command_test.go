package runs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/cmd/cli/runs"
	"github.com/moti-malka/gl2gh/internal/checkpoint"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/stages"
	"github.com/moti-malka/gl2gh/internal/store"
)

const (
	testProjectPathConstant = "group/app"
	testComponentConstant   = "issues"
)

type storedRunFixture struct {
	databasePath string
	run          *migration.MigrationRun
	project      *migration.RunProject
}

func seedRunDatabase(testInstance *testing.T) storedRunFixture {
	workspace := testInstance.TempDir()
	databasePath := filepath.Join(workspace, "runs.db")

	configuration := migration.DefaultRunConfiguration()
	configuration.ArtifactRoot = filepath.Join(workspace, "artifacts")
	configuration.Target.Owner = "acme"
	run := migration.NewMigrationRun(migration.RunModeFull, configuration, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	run.Stats.Projects = 1
	project := migration.NewRunProject(run.ID, migration.ProjectReference{GitLabProjectID: 42, PathWithNamespace: testProjectPathConstant})

	repository, openError := store.OpenSQLite(databasePath, zap.NewNop())
	require.NoError(testInstance, openError)
	require.NoError(testInstance, repository.SaveRun(context.Background(), run))
	require.NoError(testInstance, repository.SaveProject(context.Background(), project))
	require.NoError(testInstance, repository.Close())

	return storedRunFixture{databasePath: databasePath, run: run, project: project}
}

func dependenciesFor(databasePath string) runs.Dependencies {
	return runs.Dependencies{
		LoggerProvider: func() *zap.Logger { return zap.NewNop() },
		ConfigurationProvider: func() runs.CommandConfiguration {
			return runs.CommandConfiguration{DatabasePath: databasePath}
		},
	}
}

func execute(command *cobra.Command, arguments ...string) (string, error) {
	var standardOutput bytes.Buffer
	command.SetOut(&standardOutput)
	command.SetErr(&bytes.Buffer{})
	command.SetContext(context.Background())
	command.SetArgs(arguments)
	command.SilenceUsage = true
	command.SilenceErrors = true
	executeError := command.Execute()
	return standardOutput.String(), executeError
}

func TestRunsCommandListsAndShowsStoredRuns(testInstance *testing.T) {
	fixture := seedRunDatabase(testInstance)
	builder := runs.CommandBuilder{Dependencies: dependenciesFor(fixture.databasePath)}

	listCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	listOutput, listError := execute(listCommand, "list")
	require.NoError(testInstance, listError)
	lines := strings.Split(strings.TrimSpace(listOutput), "\n")
	require.Len(testInstance, lines, 2)
	require.True(testInstance, strings.HasPrefix(lines[0], "ID"))
	require.Contains(testInstance, lines[1], fixture.run.ID)
	require.Contains(testInstance, lines[1], string(migration.RunModeFull))
	require.Contains(testInstance, lines[1], "2026-03-01T12:00:00Z")

	showCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	showOutput, showError := execute(showCommand, "show", fixture.run.ID)
	require.NoError(testInstance, showError)

	var summary runs.RunSummary
	require.NoError(testInstance, json.Unmarshal([]byte(showOutput), &summary))
	require.Equal(testInstance, fixture.run.ID, summary.Run.ID)
	require.Len(testInstance, summary.Projects, 1)
	require.Equal(testInstance, testProjectPathConstant, summary.Projects[0].PathWithNamespace)
}

func TestRunsCommandFailures(testInstance *testing.T) {
	fixture := seedRunDatabase(testInstance)

	testCases := []struct {
		name          string
		databasePath  string
		arguments     []string
		expectedError string
	}{
		{name: "missing_database", arguments: []string{"list"}, expectedError: "run database is required"},
		{name: "unknown_run", databasePath: fixture.databasePath, arguments: []string{"show", "missing"}, expectedError: "missing"},
		{name: "missing_run_id", databasePath: fixture.databasePath, arguments: []string{"show"}, expectedError: "run identifier required"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			builder := runs.CommandBuilder{Dependencies: dependenciesFor(testCase.databasePath)}
			command, buildError := builder.Build()
			require.NoError(subtest, buildError)

			_, executeError := execute(command, testCase.arguments...)
			require.Error(subtest, executeError)
			require.Contains(subtest, executeError.Error(), testCase.expectedError)
		})
	}
}

func TestRunsCommandCancelsStoredRun(testInstance *testing.T) {
	fixture := seedRunDatabase(testInstance)
	builder := runs.CommandBuilder{Dependencies: dependenciesFor(fixture.databasePath)}

	cancelCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	cancelOutput, cancelError := execute(cancelCommand, "cancel", fixture.run.ID)
	require.NoError(testInstance, cancelError)
	require.Equal(testInstance, "canceled run "+fixture.run.ID+"\n", cancelOutput)

	showCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	showOutput, showError := execute(showCommand, "show", fixture.run.ID)
	require.NoError(testInstance, showError)
	var summary runs.RunSummary
	require.NoError(testInstance, json.Unmarshal([]byte(showOutput), &summary))
	require.Equal(testInstance, migration.RunStatusCanceled, summary.Run.Status)

	repeatCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	_, repeatError := execute(repeatCommand, "cancel", fixture.run.ID)
	var transitionError migration.RunTransitionError
	require.ErrorAs(testInstance, repeatError, &transitionError)
}

func TestRunsCommandDatabaseFlagOverridesConfiguration(testInstance *testing.T) {
	fixture := seedRunDatabase(testInstance)
	builder := runs.CommandBuilder{Dependencies: dependenciesFor("")}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	output, executeError := execute(command, "list", "--database", fixture.databasePath)
	require.NoError(testInstance, executeError)
	require.Contains(testInstance, output, fixture.run.ID)
}

func TestCheckpointCommandShowsAndClearsProjectCheckpoint(testInstance *testing.T) {
	fixture := seedRunDatabase(testInstance)
	checkpointPath := stages.CheckpointPath(pipeline.ArtifactDirectory(fixture.run, fixture.project))
	checkpointStore, storeError := checkpoint.NewStore(checkpointPath, zap.NewNop())
	require.NoError(testInstance, storeError)
	require.NoError(testInstance, checkpointStore.MarkComponentStarted(testComponentConstant, nil))
	require.FileExists(testInstance, checkpointPath)

	testCases := []struct {
		name     string
		selector string
	}{
		{name: "by_path", selector: testProjectPathConstant},
		{name: "by_id", selector: "42"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			builder := runs.CheckpointCommandBuilder{Dependencies: dependenciesFor(fixture.databasePath)}
			command, buildError := builder.Build()
			require.NoError(subtest, buildError)

			output, executeError := execute(command, "show", fixture.run.ID, testCase.selector)
			require.NoError(subtest, executeError)

			var document checkpoint.Document
			require.NoError(subtest, json.Unmarshal([]byte(output), &document))
			require.Contains(subtest, document.Components, testComponentConstant)
			require.Equal(subtest, checkpoint.ComponentStatusInProgress, document.Components[testComponentConstant].Status)
		})
	}

	builder := runs.CheckpointCommandBuilder{Dependencies: dependenciesFor(fixture.databasePath)}
	clearCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	output, clearError := execute(clearCommand, "clear", fixture.run.ID, testProjectPathConstant)
	require.NoError(testInstance, clearError)
	require.Contains(testInstance, output, checkpointPath)

	_, statError := os.Stat(checkpointPath)
	require.True(testInstance, os.IsNotExist(statError))
}

func TestCheckpointCommandRejectsUnknownProject(testInstance *testing.T) {
	fixture := seedRunDatabase(testInstance)
	builder := runs.CheckpointCommandBuilder{Dependencies: dependenciesFor(fixture.databasePath)}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	_, executeError := execute(command, "show", fixture.run.ID, "group/other")
	require.Error(testInstance, executeError)
	require.Contains(testInstance, executeError.Error(), "group/other")
}
