package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/orchestrator"
	"github.com/moti-malka/gl2gh/internal/store"
	"github.com/moti-malka/gl2gh/internal/utils"
)

const (
	runsUseConstant                    = "runs"
	runsShortDescriptionConstant       = "Inspect stored migration runs"
	listUseConstant                    = "list"
	listShortDescriptionConstant       = "List stored runs, newest first"
	showUseConstant                    = "show <run-id>"
	showShortDescriptionConstant       = "Print a stored run and its projects as JSON"
	cancelUseConstant                  = "cancel <run-id>"
	cancelShortDescriptionConstant     = "Mark a stored run that is not executing as CANCELED"
	canceledTemplateConstant           = "canceled run %s\n"
	databaseFlagNameConstant           = "database"
	databaseFlagDescriptionConstant    = "SQLite run database (overrides store.database_path)"
	databaseRequiredMessageConstant    = "a run database is required; set store.database_path or --database"
	runIDRequiredMessageConstant       = "run identifier required"
	openDatabaseTemplateConstant       = "unable to open run database: %w"
	listRunsTemplateConstant           = "unable to list runs: %w"
	loadRunTemplateConstant            = "unable to load run %s: %w"
	loadProjectsTemplateConstant       = "unable to load projects of run %s: %w"
	listHeaderConstant                 = "ID\tMODE\tSTATUS\tSTAGE\tPROJECTS\tERRORS\tCREATED\n"
	listRowTemplateConstant            = "%s\t%s\t%s\t%s\t%d\t%d\t%s\n"
	jsonIndentConstant                 = "  "
	tabPaddingConstant                 = 2
	closeDatabaseFailedMessageConstant = "Unable to close run database"
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// RunSummary is the show command's report.
type RunSummary struct {
	Run      *migration.MigrationRun `json:"run"`
	Projects []*migration.RunProject `json:"projects"`
}

// Dependencies are shared by the runs and checkpoint commands.
type Dependencies struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider func() CommandConfiguration
}

// CommandBuilder assembles the runs command group.
type CommandBuilder struct {
	Dependencies
}

// Build constructs the runs command group.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   runsUseConstant,
		Short: runsShortDescriptionConstant,
	}
	command.PersistentFlags().String(databaseFlagNameConstant, "", databaseFlagDescriptionConstant)

	listCommand := &cobra.Command{
		Use:   listUseConstant,
		Short: listShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.runList,
	}
	showCommand := &cobra.Command{
		Use:   showUseConstant,
		Short: showShortDescriptionConstant,
		RunE:  builder.runShow,
	}
	cancelCommand := &cobra.Command{
		Use:   cancelUseConstant,
		Short: cancelShortDescriptionConstant,
		RunE:  builder.runCancel,
	}
	command.AddCommand(listCommand, showCommand, cancelCommand)
	return command, nil
}

func (builder *CommandBuilder) runList(command *cobra.Command, arguments []string) error {
	return builder.withRepository(command, func(executionContext context.Context, repository store.RunRepository) error {
		storedRuns, listError := repository.ListRuns(executionContext)
		if listError != nil {
			return fmt.Errorf(listRunsTemplateConstant, listError)
		}
		writer := tabwriter.NewWriter(utils.NewFlushingWriter(command.OutOrStdout()), 0, 0, tabPaddingConstant, ' ', 0)
		fmt.Fprint(writer, listHeaderConstant)
		for _, run := range storedRuns {
			fmt.Fprintf(writer, listRowTemplateConstant,
				run.ID,
				run.Mode,
				run.Status,
				run.Stage,
				run.Stats.Projects,
				run.Stats.Errors,
				run.CreatedAt.UTC().Format(time.RFC3339),
			)
		}
		return writer.Flush()
	})
}

func (builder *CommandBuilder) runShow(command *cobra.Command, arguments []string) error {
	runID, runIDError := requireRunID(command, arguments)
	if runIDError != nil {
		return runIDError
	}
	return builder.withRepository(command, func(executionContext context.Context, repository store.RunRepository) error {
		run, projects, loadError := loadRun(executionContext, repository, runID)
		if loadError != nil {
			return loadError
		}
		return writeJSON(command.OutOrStdout(), RunSummary{Run: run, Projects: projects})
	})
}

func (builder *CommandBuilder) runCancel(command *cobra.Command, arguments []string) error {
	runID, runIDError := requireRunID(command, arguments)
	if runIDError != nil {
		return runIDError
	}
	return builder.withRepository(command, func(executionContext context.Context, repository store.RunRepository) error {
		runOrchestrator := orchestrator.NewRunOrchestrator(nil, repository, nil, builder.resolveLogger())
		if cancelError := runOrchestrator.Cancel(executionContext, runID); cancelError != nil {
			return cancelError
		}
		_, writeError := fmt.Fprintf(command.OutOrStdout(), canceledTemplateConstant, runID)
		return writeError
	})
}

// withRepository opens the configured SQLite database for the duration of action.
func (dependencies Dependencies) withRepository(command *cobra.Command, action func(context.Context, store.RunRepository) error) error {
	configuration := dependencies.resolveConfiguration()
	if command.Flags().Changed(databaseFlagNameConstant) {
		configuration.DatabasePath, _ = command.Flags().GetString(databaseFlagNameConstant)
		configuration = configuration.Sanitize()
	}
	if len(configuration.DatabasePath) == 0 {
		return errors.New(databaseRequiredMessageConstant)
	}

	logger := dependencies.resolveLogger()
	repository, openError := store.OpenSQLite(configuration.DatabasePath, logger)
	if openError != nil {
		return fmt.Errorf(openDatabaseTemplateConstant, openError)
	}
	defer func() {
		if closeError := repository.Close(); closeError != nil {
			logger.Warn(closeDatabaseFailedMessageConstant, zap.Error(closeError))
		}
	}()

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}
	return action(executionContext, repository)
}

func (dependencies Dependencies) resolveConfiguration() CommandConfiguration {
	if dependencies.ConfigurationProvider == nil {
		return CommandConfiguration{}
	}
	return dependencies.ConfigurationProvider().Sanitize()
}

func (dependencies Dependencies) resolveLogger() *zap.Logger {
	if dependencies.LoggerProvider == nil {
		return zap.NewNop()
	}
	if logger := dependencies.LoggerProvider(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

func loadRun(executionContext context.Context, repository store.RunRepository, runID string) (*migration.MigrationRun, []*migration.RunProject, error) {
	run, loadError := repository.LoadRun(executionContext, runID)
	if loadError != nil {
		return nil, nil, fmt.Errorf(loadRunTemplateConstant, runID, loadError)
	}
	projects, projectsError := repository.LoadProjects(executionContext, runID)
	if projectsError != nil {
		return nil, nil, fmt.Errorf(loadProjectsTemplateConstant, runID, projectsError)
	}
	return run, projects, nil
}

func requireRunID(command *cobra.Command, arguments []string) (string, error) {
	if len(arguments) == 0 || len(strings.TrimSpace(arguments[0])) == 0 {
		_ = command.Help()
		return "", errors.New(runIDRequiredMessageConstant)
	}
	return strings.TrimSpace(arguments[0]), nil
}

func writeJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(utils.NewFlushingWriter(writer))
	encoder.SetIndent("", jsonIndentConstant)
	return encoder.Encode(value)
}
