package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/orchestrator"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/progress"
	"github.com/moti-malka/gl2gh/internal/store"
)

var orchestratorTestTime = time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return orchestratorTestTime
}

type recordingPublisher struct {
	mutex   sync.Mutex
	updates []progress.Update
}

func (publisher *recordingPublisher) Publish(update progress.Update) {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.updates = append(publisher.updates, update)
}

func (publisher *recordingPublisher) Updates() []progress.Update {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	return append([]progress.Update{}, publisher.updates...)
}

type failingSnapshotRepository struct {
	*store.MemoryRepository
}

func (failingSnapshotRepository) SaveSnapshot(context.Context, store.Snapshot) error {
	return errors.New("disk full")
}

type stageCounter struct {
	mutex  sync.Mutex
	counts map[string]int
}

func newStageCounter() *stageCounter {
	return &stageCounter{counts: map[string]int{}}
}

func (counter *stageCounter) record(project string, stage migration.Stage) int {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	key := project + "/" + string(stage)
	counter.counts[key]++
	return counter.counts[key]
}

func (counter *stageCounter) count(project string, stage migration.Stage) int {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	return counter.counts[project+"/"+string(stage)]
}

// uniformHandlers registers the same handler for every stage.
func uniformHandlers(handler pipeline.StageHandlerFunc) map[migration.Stage]pipeline.StageHandler {
	handlers := map[migration.Stage]pipeline.StageHandler{}
	for _, stage := range migration.Stages() {
		handlers[stage] = handler
	}
	return handlers
}

func succeedingHandler(apiCalls int) pipeline.StageHandlerFunc {
	return func(_ context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
		return pipeline.StageOutcome{
			Status:       migration.StageStatusCompleted,
			Outputs:      map[string]any{"stage": string(stageContext.Stage)},
			APICallsUsed: apiCalls,
		}, nil
	}
}

func testConfiguration(t *testing.T) migration.RunConfiguration {
	t.Helper()
	configuration := migration.DefaultRunConfiguration()
	configuration.Target.Owner = "acme"
	configuration.ArtifactRoot = t.TempDir()
	return configuration
}

func newTestRun(t *testing.T, mode migration.RunMode, paths ...string) (*migration.MigrationRun, []*migration.RunProject) {
	t.Helper()
	run := migration.NewMigrationRun(mode, testConfiguration(t), orchestratorTestTime)
	projects := make([]*migration.RunProject, 0, len(paths))
	for projectIndex, path := range paths {
		projects = append(projects, migration.NewRunProject(run.ID, migration.ProjectReference{GitLabProjectID: projectIndex + 1, PathWithNamespace: path}))
	}
	return run, projects
}

func newOrchestrator(handlers map[migration.Stage]pipeline.StageHandler, repository store.RunRepository, publisher progress.Publisher) *orchestrator.RunOrchestrator {
	machine := pipeline.NewStateMachine(nil, handlers, pipeline.WithClock(fixedClock))
	return orchestrator.NewRunOrchestrator(machine, repository, publisher, nil, orchestrator.WithRunClock(fixedClock))
}

func requireStageStatuses(t *testing.T, project *migration.RunProject, expected map[migration.Stage]migration.StageStatus) {
	t.Helper()
	for stage, status := range expected {
		require.Equal(t, status, project.Status(stage), "stage %s", stage)
	}
}
