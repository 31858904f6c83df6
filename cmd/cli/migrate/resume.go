package migrate

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/orchestrator"
	flagutils "github.com/moti-malka/gl2gh/internal/utils/flags"
)

const (
	resumeUseConstant                     = "resume <run-id>"
	resumeShortDescriptionConstant        = "Resume a stored migration run"
	resumeLongDescriptionConstant         = "resume re-arms failed and interrupted stages of a stored run and continues it from its checkpoints."
	fromStageFlagNameConstant             = "from-stage"
	fromStageFlagDescriptionConstant      = "Re-arm only this stage and later ones"
	retryableOnlyFlagNameConstant         = "retryable-only"
	retryableOnlyFlagDescriptionConstant  = "Re-arm only stages whose last failure was a rate limit or network error"
	runIDRequiredMessageConstant          = "run identifier required"
	databaseRequiredMessageConstant       = "resume requires a run database; set store.database_path or --database"
	resumeFailedTemplateConstant          = "unable to resume run %s: %w"
	resumedProjectsFailedTemplateConstant = "run %s finished with %d failed projects"
)

// RunSummary is the resume command's report.
type RunSummary struct {
	Run      *migration.MigrationRun `json:"run"`
	Projects []*migration.RunProject `json:"projects"`
}

// ResumeCommandBuilder assembles the resume command.
type ResumeCommandBuilder struct {
	Dependencies
}

// Build constructs the resume command.
func (builder *ResumeCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   resumeUseConstant,
		Short: resumeShortDescriptionConstant,
		Long:  resumeLongDescriptionConstant,
		RunE:  builder.run,
	}

	command.Flags().String(fromStageFlagNameConstant, "", flagutils.ChoiceUsage(fromStageFlagDescriptionConstant, "", flagutils.Choices(migration.Stages())))
	command.Flags().Bool(retryableOnlyFlagNameConstant, false, retryableOnlyFlagDescriptionConstant)
	command.Flags().String(databaseFlagNameConstant, "", databaseFlagDescriptionConstant)

	return command, nil
}

func (builder *ResumeCommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) == 0 || len(strings.TrimSpace(arguments[0])) == 0 {
		_ = command.Help()
		return errors.New(runIDRequiredMessageConstant)
	}
	runID := strings.TrimSpace(arguments[0])

	commandConfiguration := builder.resolveConfiguration()
	if command.Flags().Changed(databaseFlagNameConstant) {
		commandConfiguration.DatabasePath, _ = command.Flags().GetString(databaseFlagNameConstant)
		commandConfiguration = commandConfiguration.Sanitize()
	}
	if len(commandConfiguration.DatabasePath) == 0 {
		return errors.New(databaseRequiredMessageConstant)
	}
	commandConfiguration = builder.applyCredentials(commandConfiguration)

	options := orchestrator.ResumeOptions{}
	if fromStageValue, _ := command.Flags().GetString(fromStageFlagNameConstant); len(strings.TrimSpace(fromStageValue)) > 0 {
		fromStage, stageError := migration.ParseStage(fromStageValue)
		if stageError != nil {
			return stageError
		}
		options.FromStage = fromStage
	}
	options.RetryableOnly, _ = command.Flags().GetBool(retryableOnlyFlagNameConstant)

	migrationEngine, openError := builder.openEngine(command, commandConfiguration)
	if openError != nil {
		return fmt.Errorf(openEngineTemplateConstant, openError)
	}
	defer migrationEngine.Close()

	executionContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	run, projects, resumeError := migrationEngine.Resume(executionContext, runID, options)
	if resumeError != nil {
		return fmt.Errorf(resumeFailedTemplateConstant, runID, resumeError)
	}
	if summaryError := writeJSON(command.OutOrStdout(), RunSummary{Run: run, Projects: projects}); summaryError != nil {
		return fmt.Errorf(writeSummaryTemplateConstant, summaryError)
	}

	failedProjects := 0
	for _, project := range projects {
		if project.HasFailedStage(migration.StageRange(run.Mode)) {
			failedProjects++
		}
	}
	if failedProjects > 0 {
		return fmt.Errorf(resumedProjectsFailedTemplateConstant, runID, failedProjects)
	}
	return nil
}
