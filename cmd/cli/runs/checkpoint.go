package runs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moti-malka/gl2gh/internal/checkpoint"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/stages"
	"github.com/moti-malka/gl2gh/internal/store"
)

const (
	checkpointUseConstant              = "checkpoint"
	checkpointShortDescriptionConstant = "Inspect or reset export checkpoints"
	checkpointShowUseConstant          = "show <run-id> <project>"
	checkpointShowShortConstant        = "Print the export checkpoint of a project"
	checkpointClearUseConstant         = "clear <run-id> <project>"
	checkpointClearShortConstant       = "Delete the export checkpoint so the next export starts over"
	checkpointArgumentsMessageConstant = "run identifier and project path or id required"
	projectNotFoundTemplateConstant    = "project %q is not part of run %s"
	openCheckpointTemplateConstant     = "unable to open checkpoint: %w"
	checkpointClearedTemplateConstant  = "cleared checkpoint %s\n"
	checkpointArgumentCountConstant    = 2
)

// CheckpointCommandBuilder assembles the checkpoint command group.
type CheckpointCommandBuilder struct {
	Dependencies
}

// Build constructs the checkpoint command group.
func (builder *CheckpointCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   checkpointUseConstant,
		Short: checkpointShortDescriptionConstant,
	}
	command.PersistentFlags().String(databaseFlagNameConstant, "", databaseFlagDescriptionConstant)

	showCommand := &cobra.Command{
		Use:   checkpointShowUseConstant,
		Short: checkpointShowShortConstant,
		RunE:  builder.runShow,
	}
	clearCommand := &cobra.Command{
		Use:   checkpointClearUseConstant,
		Short: checkpointClearShortConstant,
		RunE:  builder.runClear,
	}
	command.AddCommand(showCommand, clearCommand)
	return command, nil
}

func (builder *CheckpointCommandBuilder) runShow(command *cobra.Command, arguments []string) error {
	return builder.withCheckpoint(command, arguments, func(checkpointStore *checkpoint.Store) error {
		return writeJSON(command.OutOrStdout(), checkpointStore.Snapshot())
	})
}

func (builder *CheckpointCommandBuilder) runClear(command *cobra.Command, arguments []string) error {
	return builder.withCheckpoint(command, arguments, func(checkpointStore *checkpoint.Store) error {
		if clearError := checkpointStore.Clear(); clearError != nil {
			return clearError
		}
		_, writeError := fmt.Fprintf(command.OutOrStdout(), checkpointClearedTemplateConstant, checkpointStore.Path())
		return writeError
	})
}

// withCheckpoint locates the project inside the stored run and opens its checkpoint file.
func (builder *CheckpointCommandBuilder) withCheckpoint(command *cobra.Command, arguments []string, action func(*checkpoint.Store) error) error {
	if len(arguments) != checkpointArgumentCountConstant {
		_ = command.Help()
		return errors.New(checkpointArgumentsMessageConstant)
	}
	runID := strings.TrimSpace(arguments[0])
	projectSelector := strings.TrimSpace(arguments[1])

	return builder.withRepository(command, func(executionContext context.Context, repository store.RunRepository) error {
		run, projects, loadError := loadRun(executionContext, repository, runID)
		if loadError != nil {
			return loadError
		}
		project := findProject(projects, projectSelector)
		if project == nil {
			return fmt.Errorf(projectNotFoundTemplateConstant, projectSelector, runID)
		}

		checkpointPath := stages.CheckpointPath(pipeline.ArtifactDirectory(run, project))
		checkpointStore, openError := checkpoint.NewStore(checkpointPath, builder.resolveLogger())
		if openError != nil {
			return fmt.Errorf(openCheckpointTemplateConstant, openError)
		}
		return action(checkpointStore)
	})
}

func findProject(projects []*migration.RunProject, selector string) *migration.RunProject {
	projectID, numericError := strconv.Atoi(selector)
	for _, project := range projects {
		if strings.EqualFold(project.PathWithNamespace, selector) || project.Reference().Identifier() == selector {
			return project
		}
		if numericError == nil && project.GitLabProjectID == projectID {
			return project
		}
	}
	return nil
}
