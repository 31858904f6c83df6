package migrate

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/engine"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/orchestrator"
	flagutils "github.com/moti-malka/gl2gh/internal/utils/flags"
)

const (
	commandUseConstant                     = "migrate [project-path...]"
	commandShortDescriptionConstant        = "Migrate GitLab projects to GitHub"
	commandLongDescriptionConstant         = "migrate runs each selected GitLab project through discovery, export, transformation, planning, apply and verification as an independent run."
	groupFlagNameConstant                  = "group"
	groupFlagDescriptionConstant           = "GitLab group whose projects (including subgroups) are migrated"
	projectsFileFlagNameConstant           = "projects-file"
	projectsFileFlagDescriptionConstant    = "YAML file listing projects to migrate"
	modeFlagNameConstant                   = "mode"
	modeFlagDescriptionConstant            = "Run mode"
	dryRunFlagNameConstant                 = "dry-run"
	dryRunFlagDescriptionConstant          = "Plan and report changes without writing to GitHub"
	baseRunFlagNameConstant                = "base-run"
	baseRunFlagDescriptionConstant         = "Run whose plan APPLY and VERIFY reuse"
	parallelFlagNameConstant               = "parallel"
	parallelFlagDescriptionConstant        = "Maximum projects migrated concurrently"
	ownerFlagNameConstant                  = "owner"
	ownerFlagDescriptionConstant           = "GitHub organization or user receiving the repositories"
	databaseFlagNameConstant               = "database"
	databaseFlagDescriptionConstant        = "SQLite file storing runs; empty keeps runs in memory"
	progressAddressFlagNameConstant        = "progress-address"
	progressAddressFlagDescriptionConstant = "Address serving the progress API while the batch runs"
	outputFlagNameConstant                 = "output"
	outputFlagDescriptionConstant          = "File receiving the JSON batch summary in addition to standard output"
	defaultModeConstant                    = string(migration.RunModeFull)
	singleProjectRequiredMessageConstant   = "SINGLE_PROJECT mode migrates exactly one project"
	invalidConfigurationTemplateConstant   = "invalid migration configuration: %w"
	openEngineTemplateConstant             = "unable to start migration engine: %w"
	progressServerTemplateConstant         = "unable to start progress server: %w"
	writeSummaryTemplateConstant           = "unable to write batch summary: %w"
	projectsFailedTemplateConstant         = "%d of %d projects failed"
	outputFilePermissionsConstant          = 0o644
	batchSummaryMessageConstant            = "Batch summary written"
	outputFieldConstant                    = "output"
)

// CommandBuilder assembles the migrate command.
type CommandBuilder struct {
	Dependencies
}

// Build constructs the migrate command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}

	command.Flags().StringSlice(groupFlagNameConstant, nil, groupFlagDescriptionConstant)
	command.Flags().String(projectsFileFlagNameConstant, "", projectsFileFlagDescriptionConstant)
	command.Flags().String(modeFlagNameConstant, defaultModeConstant, flagutils.ChoiceUsage(modeFlagDescriptionConstant, defaultModeConstant, flagutils.Choices(migration.RunModes())))
	command.Flags().Bool(dryRunFlagNameConstant, false, dryRunFlagDescriptionConstant)
	command.Flags().String(baseRunFlagNameConstant, "", baseRunFlagDescriptionConstant)
	command.Flags().Int(parallelFlagNameConstant, 0, parallelFlagDescriptionConstant)
	command.Flags().String(ownerFlagNameConstant, "", ownerFlagDescriptionConstant)
	command.Flags().String(databaseFlagNameConstant, "", databaseFlagDescriptionConstant)
	command.Flags().String(progressAddressFlagNameConstant, "", progressAddressFlagDescriptionConstant)
	command.Flags().String(outputFlagNameConstant, "", outputFlagDescriptionConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	commandConfiguration := builder.applyFlags(command, builder.resolveConfiguration())
	commandConfiguration = builder.applyCredentials(commandConfiguration)

	modeValue, _ := command.Flags().GetString(modeFlagNameConstant)
	mode, modeError := migration.ParseRunMode(modeValue)
	if modeError != nil {
		return modeError
	}
	if validationError := commandConfiguration.Migration.Validate(); validationError != nil {
		return fmt.Errorf(invalidConfigurationTemplateConstant, validationError)
	}

	logger := resolveLogger(builder.LoggerProvider)
	migrationEngine, openError := builder.openEngine(command, commandConfiguration)
	if openError != nil {
		return fmt.Errorf(openEngineTemplateConstant, openError)
	}
	defer migrationEngine.Close()

	executionContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	groups, _ := command.Flags().GetStringSlice(groupFlagNameConstant)
	projectsFile, _ := command.Flags().GetString(projectsFileFlagNameConstant)
	references, selectionError := migrationEngine.ResolveProjects(executionContext, engine.Selection{
		Paths:        arguments,
		Groups:       groups,
		ProjectsFile: projectsFile,
	})
	if selectionError != nil {
		if errors.Is(selectionError, engine.ErrNoProjectsSelected) {
			_ = command.Help()
		}
		return selectionError
	}
	if mode == migration.RunModeSingleProject && len(references) != 1 {
		return errors.New(singleProjectRequiredMessageConstant)
	}

	stopServer, serverError := startProgressServer(commandConfiguration.ProgressAddress, migrationEngine, logger)
	if serverError != nil {
		return fmt.Errorf(progressServerTemplateConstant, serverError)
	}
	defer stopServer()

	result, executeError := migrationEngine.Batch.Execute(executionContext, orchestrator.BatchRequest{
		Projects:      references,
		ParallelLimit: commandConfiguration.Migration.ParallelLimit,
		Mode:          mode,
		Configuration: commandConfiguration.Migration,
	})
	if executeError != nil {
		return executeError
	}

	if summaryError := writeJSON(command.OutOrStdout(), result); summaryError != nil {
		return fmt.Errorf(writeSummaryTemplateConstant, summaryError)
	}
	if outputPath, _ := command.Flags().GetString(outputFlagNameConstant); len(strings.TrimSpace(outputPath)) > 0 {
		if outputError := writeSummaryFile(strings.TrimSpace(outputPath), result); outputError != nil {
			return fmt.Errorf(writeSummaryTemplateConstant, outputError)
		}
		logger.Info(batchSummaryMessageConstant, zap.String(outputFieldConstant, outputPath))
	}

	if result.Failed > 0 {
		return fmt.Errorf(projectsFailedTemplateConstant, result.Failed, result.TotalProjects)
	}
	return nil
}

// applyFlags overrides configuration values with explicitly set flags.
func (builder *CommandBuilder) applyFlags(command *cobra.Command, configuration CommandConfiguration) CommandConfiguration {
	flags := command.Flags()
	if flags.Changed(dryRunFlagNameConstant) {
		configuration.Migration.DryRun, _ = flags.GetBool(dryRunFlagNameConstant)
	}
	if flags.Changed(baseRunFlagNameConstant) {
		baseRunID, _ := flags.GetString(baseRunFlagNameConstant)
		configuration.Migration.BaseRunID = strings.TrimSpace(baseRunID)
	}
	if flags.Changed(parallelFlagNameConstant) {
		configuration.Migration.ParallelLimit, _ = flags.GetInt(parallelFlagNameConstant)
	}
	if flags.Changed(ownerFlagNameConstant) {
		owner, _ := flags.GetString(ownerFlagNameConstant)
		configuration.Migration.Target.Owner = strings.TrimSpace(owner)
	}
	if flags.Changed(databaseFlagNameConstant) {
		configuration.DatabasePath, _ = flags.GetString(databaseFlagNameConstant)
	}
	if flags.Changed(progressAddressFlagNameConstant) {
		configuration.ProgressAddress, _ = flags.GetString(progressAddressFlagNameConstant)
	}
	return configuration.Sanitize()
}

func writeSummaryFile(outputPath string, result orchestrator.BatchResult) error {
	file, createError := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, outputFilePermissionsConstant)
	if createError != nil {
		return createError
	}
	if encodeError := writeJSON(file, result); encodeError != nil {
		_ = file.Close()
		return encodeError
	}
	return file.Close()
}
