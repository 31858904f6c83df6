package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/moti-malka/gl2gh/internal/migration"
)

// MemoryRepository keeps runs in process memory.
type MemoryRepository struct {
	mutex     sync.RWMutex
	runs      map[string]*migration.MigrationRun
	projects  map[string]map[string]*migration.RunProject
	snapshots map[string][]Snapshot
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs:      map[string]*migration.MigrationRun{},
		projects:  map[string]map[string]*migration.RunProject{},
		snapshots: map[string][]Snapshot{},
	}
}

// SaveRun stores a copy of the run.
func (repository *MemoryRepository) SaveRun(_ context.Context, run *migration.MigrationRun) error {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	repository.runs[run.ID] = run.Clone()
	return nil
}

// LoadRun returns a copy of the run.
func (repository *MemoryRepository) LoadRun(_ context.Context, runID string) (*migration.MigrationRun, error) {
	repository.mutex.RLock()
	defer repository.mutex.RUnlock()
	run, exists := repository.runs[runID]
	if !exists {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListRuns returns copies of every run, oldest first.
func (repository *MemoryRepository) ListRuns(_ context.Context) ([]*migration.MigrationRun, error) {
	repository.mutex.RLock()
	defer repository.mutex.RUnlock()
	runs := make([]*migration.MigrationRun, 0, len(repository.runs))
	for _, run := range repository.runs {
		runs = append(runs, run.Clone())
	}
	sort.Slice(runs, func(left int, right int) bool {
		return runs[left].CreatedAt.Before(runs[right].CreatedAt)
	})
	return runs, nil
}

// SaveProject stores a copy of the project under its run.
func (repository *MemoryRepository) SaveProject(_ context.Context, project *migration.RunProject) error {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	runProjects, exists := repository.projects[project.RunID]
	if !exists {
		runProjects = map[string]*migration.RunProject{}
		repository.projects[project.RunID] = runProjects
	}
	runProjects[project.Reference().Identifier()] = project.Clone()
	return nil
}

// LoadProjects returns copies of the run's projects ordered by path.
func (repository *MemoryRepository) LoadProjects(_ context.Context, runID string) ([]*migration.RunProject, error) {
	repository.mutex.RLock()
	defer repository.mutex.RUnlock()
	runProjects := repository.projects[runID]
	projects := make([]*migration.RunProject, 0, len(runProjects))
	for _, key := range sortedKeys(runProjects) {
		projects = append(projects, runProjects[key].Clone())
	}
	return projects, nil
}

// SaveSnapshot appends the snapshot to the run's history.
func (repository *MemoryRepository) SaveSnapshot(_ context.Context, snapshot Snapshot) error {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	snapshot.Payload = maps.Clone(snapshot.Payload)
	repository.snapshots[snapshot.RunID] = append(repository.snapshots[snapshot.RunID], snapshot)
	return nil
}

// LatestSnapshot returns the most recent snapshot of the run.
func (repository *MemoryRepository) LatestSnapshot(_ context.Context, runID string) (Snapshot, error) {
	repository.mutex.RLock()
	defer repository.mutex.RUnlock()
	history := repository.snapshots[runID]
	if len(history) == 0 {
		return Snapshot{}, ErrRunNotFound
	}
	latest := history[len(history)-1]
	latest.Payload = maps.Clone(latest.Payload)
	return latest, nil
}

// Snapshots returns the full snapshot history of the run.
func (repository *MemoryRepository) Snapshots(runID string) []Snapshot {
	repository.mutex.RLock()
	defer repository.mutex.RUnlock()
	return append([]Snapshot{}, repository.snapshots[runID]...)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
