package engine

import (
	"context"
	"fmt"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/orchestrator"
)

const (
	loadRunTemplateConstant      = "unable to load run %s: %w"
	loadProjectsTemplateConstant = "unable to load projects of run %s: %w"
)

// LoadRun returns the stored run and its projects.
func (engine *Engine) LoadRun(executionContext context.Context, runID string) (*migration.MigrationRun, []*migration.RunProject, error) {
	run, loadError := engine.Repository.LoadRun(executionContext, runID)
	if loadError != nil {
		return nil, nil, fmt.Errorf(loadRunTemplateConstant, runID, loadError)
	}
	projects, projectsError := engine.Repository.LoadProjects(executionContext, runID)
	if projectsError != nil {
		return nil, nil, fmt.Errorf(loadProjectsTemplateConstant, runID, projectsError)
	}
	return run, projects, nil
}

// Resume re-arms and continues a stored run. Tokens are never persisted, so the run's
// snapshot receives the engine's tokens before any stage executes.
func (engine *Engine) Resume(executionContext context.Context, runID string, options orchestrator.ResumeOptions) (*migration.MigrationRun, []*migration.RunProject, error) {
	run, projects, loadError := engine.LoadRun(executionContext, runID)
	if loadError != nil {
		return nil, nil, loadError
	}
	run.ConfigSnapshot.Source.Token = engine.configuration.Source.Token
	run.ConfigSnapshot.Target.Token = engine.configuration.Target.Token

	snapshot := run.ConfigSnapshot
	resources := orchestrator.NewSharedResources(snapshot.APICallBudget, snapshot.APICallsPerSecond)
	resumeError := engine.Runs.Resume(executionContext, run, projects, resources, options)
	return run, projects, resumeError
}
