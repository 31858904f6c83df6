package stages_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/checkpoint"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/stages"
)

func TestExportHandlerResumesFromCheckpoint(testInstance *testing.T) {
	gitLab := newFakeGitLab(testInstance)
	gitLab.failingNotes = "/issues/2/notes"
	git := &fakeGit{}
	handler := stages.NewExportHandler(gitLab.client(), newMirrorManager(testInstance, git))
	stageContext := newStageContext(testConfiguration(testInstance), migration.StageExport)
	exportDirectory := filepath.Join(stageContext.ArtifactDirectory, "export")

	_, firstError := handler.Execute(context.Background(), stageContext)
	require.Error(testInstance, firstError)
	require.Contains(testInstance, firstError.Error(), "export issues")
	require.FileExists(testInstance, filepath.Join(exportDirectory, "issues", "000001.json"))
	require.NoFileExists(testInstance, filepath.Join(exportDirectory, "issues", "000002.json"))

	store, storeError := checkpoint.NewStore(stages.CheckpointPath(stageContext.ArtifactDirectory), zap.NewNop())
	require.NoError(testInstance, storeError)
	require.True(testInstance, store.IsComponentCompleted(stages.ComponentRepository))
	require.True(testInstance, store.IsComponentCompleted(stages.ComponentCIConfig))
	require.True(testInstance, store.IsComponentCompleted(stages.ComponentGitModules))
	require.False(testInstance, store.IsComponentCompleted(stages.ComponentIssues))
	lastItem, found := store.LastProcessedItem(stages.ComponentIssues)
	require.True(testInstance, found)
	require.Equal(testInstance, "1", lastItem)

	gitLab.mutex.Lock()
	gitLab.failingNotes = ""
	gitLab.mutex.Unlock()

	outcome := runStage(testInstance, handler, stageContext)

	require.Equal(testInstance, 2, outcome.Outputs["issues"])
	require.Equal(testInstance, 2, outcome.Outputs["merge_requests"])
	require.Equal(testInstance, true, outcome.Outputs["has_ci"])
	require.Equal(testInstance, true, outcome.Outputs["has_submodules"])
	require.Len(testInstance, outcome.Outputs["components"], 5)
	require.Equal(testInstance, 1, gitLab.requestCount("/issues/1/notes"))
	require.Equal(testInstance, 2, gitLab.requestCount("/issues/2/notes"))
	require.Equal(testInstance, 1, gitLab.requestCount("/repository/files/.gitlab-ci.yml/raw"))
	require.Len(testInstance, git.commandLog(), 1)
	require.Equal(testInstance, "clone", git.commandLog()[0][0])
	require.Contains(testInstance, git.commandLog()[0][2], "oauth2:"+testGitLabTokenConstant+"@gitlab.example.com")

	var exported stages.ExportedItem
	readJSONFile(testInstance, filepath.Join(exportDirectory, "issues", "000001.json"), &exported)
	require.Equal(testInstance, "Crash on start", exported.Item["title"])
	require.Len(testInstance, exported.Notes, 1)
	require.FileExists(testInstance, filepath.Join(exportDirectory, "merge_requests", "000004.json"))
}

func TestExportHandlerSkipsRepositoryWithoutMirrorManager(testInstance *testing.T) {
	gitLab := newFakeGitLab(testInstance)
	gitLab.withoutCI = true
	stageContext := newStageContext(testConfiguration(testInstance), migration.StageExport)

	outcome := runStage(testInstance, stages.NewExportHandler(gitLab.client(), nil), stageContext)

	require.Equal(testInstance, false, outcome.Outputs["has_ci"])
	require.NoDirExists(testInstance, filepath.Join(stageContext.ArtifactDirectory, "export", "repository.git"))

	store, storeError := checkpoint.NewStore(stages.CheckpointPath(stageContext.ArtifactDirectory), zap.NewNop())
	require.NoError(testInstance, storeError)
	snapshot := store.Snapshot()
	require.Equal(testInstance, "git mirroring not configured", snapshot.Components[stages.ComponentRepository].Metadata["skipped"])
}

func TestExportHandlerRefetchesUnreadableItemsOnResume(testInstance *testing.T) {
	testCases := []struct {
		name          string
		firstIssueRaw string
	}{
		{name: "truncated", firstIssueRaw: `{"item":{"iid":1,"tit`},
		{name: "missing_payload", firstIssueRaw: `{"notes":[]}`},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			gitLab := newFakeGitLab(subtest)
			gitLab.failingNotes = "/issues/2/notes"
			handler := stages.NewExportHandler(gitLab.client(), nil)
			stageContext := newStageContext(testConfiguration(subtest), migration.StageExport)
			issuesDirectory := filepath.Join(stageContext.ArtifactDirectory, "export", "issues")

			_, firstError := handler.Execute(context.Background(), stageContext)
			require.Error(subtest, firstError)

			require.NoError(subtest, os.WriteFile(filepath.Join(issuesDirectory, "000001.json"), []byte(testCase.firstIssueRaw), 0o644))
			require.NoError(subtest, os.WriteFile(filepath.Join(issuesDirectory, "000002.json"), []byte(`{"item":{"iid":2`), 0o644))

			gitLab.mutex.Lock()
			gitLab.failingNotes = ""
			gitLab.mutex.Unlock()

			outcome := runStage(subtest, handler, stageContext)
			require.Equal(subtest, 2, outcome.Outputs["issues"])
			require.Equal(subtest, 2, gitLab.requestCount("/issues/1/notes"))
			require.Equal(subtest, 2, gitLab.requestCount("/issues/2/notes"))

			var firstIssue stages.ExportedItem
			readJSONFile(subtest, filepath.Join(issuesDirectory, "000001.json"), &firstIssue)
			require.Equal(subtest, "Crash on start", firstIssue.Item["title"])
			require.Len(subtest, firstIssue.Notes, 1)

			var secondIssue stages.ExportedItem
			readJSONFile(subtest, filepath.Join(issuesDirectory, "000002.json"), &secondIssue)
			require.Equal(subtest, "Old bug", secondIssue.Item["title"])

			entries, listError := os.ReadDir(issuesDirectory)
			require.NoError(subtest, listError)
			require.Len(subtest, entries, 2)
		})
	}
}

func TestExportHandlerRefetchesItemsOfFreshExport(testInstance *testing.T) {
	gitLab := newFakeGitLab(testInstance)
	stageContext := newStageContext(testConfiguration(testInstance), migration.StageExport)
	issuesDirectory := filepath.Join(stageContext.ArtifactDirectory, "export", "issues")
	require.NoError(testInstance, os.MkdirAll(issuesDirectory, 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(issuesDirectory, "000001.json"), []byte(`{"item":{"iid":1,"title":"stale"},"notes":[]}`), 0o644))

	runStage(testInstance, stages.NewExportHandler(gitLab.client(), nil), stageContext)

	require.Equal(testInstance, 1, gitLab.requestCount("/issues/1/notes"))
	var firstIssue stages.ExportedItem
	readJSONFile(testInstance, filepath.Join(issuesDirectory, "000001.json"), &firstIssue)
	require.Equal(testInstance, "Crash on start", firstIssue.Item["title"])
}
