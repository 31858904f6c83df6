package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/transform/cicd"
	"github.com/moti-malka/gl2gh/internal/transform/content"
	"github.com/moti-malka/gl2gh/internal/transform/submodule"
	"github.com/moti-malka/gl2gh/internal/utils"
	flagutils "github.com/moti-malka/gl2gh/internal/utils/flags"
)

const (
	commandUseConstant                    = "transform"
	commandShortDescriptionConstant       = "Run a single transformation engine on a file"
	ciUseConstant                         = "ci [gitlab-ci.yml]"
	ciShortDescriptionConstant            = "Convert a .gitlab-ci.yml into a GitHub Actions workflow"
	contentUseConstant                    = "content [payload.json]"
	contentShortDescriptionConstant       = "Convert a GitLab issue, merge request or note payload"
	submodulesUseConstant                 = "submodules [.gitmodules]"
	submodulesShortDescriptionConstant    = "Rewrite submodule URLs of a .gitmodules file"
	workflowNameFlagNameConstant          = "workflow-name"
	workflowNameFlagDescriptionConstant   = "Workflow name; defaults to the source workflow name or CI"
	outputFlagNameConstant                = "output"
	outputFlagDescriptionConstant         = "Write the result to this file instead of standard output"
	contentTypeFlagNameConstant           = "type"
	contentTypeFlagDescriptionConstant    = "Payload type"
	repositoryFlagNameConstant            = "repository"
	repositoryFlagDescriptionConstant     = "Target GitHub repository (owner/name) used for reference rewriting"
	mapFlagNameConstant                   = "map"
	mapFlagDescriptionConstant            = "URL mapping source=target, repeatable; merged over configured url_mappings"
	userFlagNameConstant                  = "user"
	userFlagDescriptionConstant           = "User mapping gitlab=github, repeatable; merged over configured user_mappings"
	standardInputArgumentConstant         = "-"
	mappingSeparatorConstant              = "="
	warningLineTemplateConstant           = "warning: %s\n"
	gapLineTemplateConstant               = "gap: [%s] %s %s\n"
	submoduleSummaryTemplateConstant      = "rewrote %d of %d submodules (%d external)\n"
	readInputTemplateConstant             = "unable to read input %s: %w"
	decodePayloadTemplateConstant         = "unable to decode payload: %w"
	invalidMappingTemplateConstant        = "invalid mapping %q: expected source=target"
	writeOutputTemplateConstant           = "unable to write output %s: %w"
	outputFilePermissionsConstant         = 0o644
	jsonIndentConstant                    = "  "
	transformationFinishedMessageConstant = "Transformation finished"
	engineFieldConstant                   = "engine"
	warningsFieldConstant                 = "warnings"
	ciEngineLabelConstant                 = "ci"
	contentEngineLabelConstant            = "content"
	submoduleEngineLabelConstant          = "submodules"
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the transform command group.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider func() CommandConfiguration
}

// Build constructs the transform command with its ci, content and submodules subcommands.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		RunE: func(command *cobra.Command, _ []string) error {
			return command.Help()
		},
	}

	ciCommand := &cobra.Command{
		Use:   ciUseConstant,
		Short: ciShortDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.runCI,
	}
	ciCommand.Flags().String(workflowNameFlagNameConstant, "", workflowNameFlagDescriptionConstant)
	ciCommand.Flags().String(outputFlagNameConstant, "", outputFlagDescriptionConstant)

	contentCommand := &cobra.Command{
		Use:   contentUseConstant,
		Short: contentShortDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.runContent,
	}
	contentCommand.Flags().String(
		contentTypeFlagNameConstant,
		string(content.ContentTypeIssue),
		flagutils.ChoiceUsage(contentTypeFlagDescriptionConstant, string(content.ContentTypeIssue), flagutils.Choices([]content.ContentType{content.ContentTypeIssue, content.ContentTypeMergeRequest, content.ContentTypeComment})),
	)
	contentCommand.Flags().String(repositoryFlagNameConstant, "", repositoryFlagDescriptionConstant)
	contentCommand.Flags().StringArray(userFlagNameConstant, nil, userFlagDescriptionConstant)

	submodulesCommand := &cobra.Command{
		Use:   submodulesUseConstant,
		Short: submodulesShortDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.runSubmodules,
	}
	submodulesCommand.Flags().StringArray(mapFlagNameConstant, nil, mapFlagDescriptionConstant)
	submodulesCommand.Flags().String(outputFlagNameConstant, "", outputFlagDescriptionConstant)

	command.AddCommand(ciCommand, contentCommand, submodulesCommand)
	return command, nil
}

func (builder *CommandBuilder) runCI(command *cobra.Command, arguments []string) error {
	source, readError := readInput(command, arguments)
	if readError != nil {
		return readError
	}
	workflowName, _ := command.Flags().GetString(workflowNameFlagNameConstant)

	result := cicd.NewTransformer().Transform(cicd.Request{GitLabCIYAML: source, WorkflowName: workflowName})
	builder.logFinished(ciEngineLabelConstant, len(result.Warnings))
	reportWarnings(command.ErrOrStderr(), result.Warnings)
	if !result.Success {
		return result.Err()
	}
	for _, gap := range result.Data.ConversionGaps {
		fmt.Fprintf(utils.NewFlushingWriter(command.ErrOrStderr()), gapLineTemplateConstant, gap.Type, gap.Job, gap.Message)
	}
	return writeOutput(command, result.Data.WorkflowYAML)
}

func (builder *CommandBuilder) runContent(command *cobra.Command, arguments []string) error {
	source, readError := readInput(command, arguments)
	if readError != nil {
		return readError
	}
	var payload map[string]any
	if decodeError := json.Unmarshal([]byte(source), &payload); decodeError != nil {
		return fmt.Errorf(decodePayloadTemplateConstant, decodeError)
	}

	configuration := builder.resolveConfiguration()
	userValues, _ := command.Flags().GetStringArray(userFlagNameConstant)
	userMappings, mappingError := mergeMappings(configuration.UserMappings, userValues)
	if mappingError != nil {
		return mappingError
	}
	contentType, _ := command.Flags().GetString(contentTypeFlagNameConstant)
	repository, _ := command.Flags().GetString(repositoryFlagNameConstant)

	transformer := content.NewTransformer()
	transformer.SetUserMappings(userMappings)
	result := transformer.Transform(content.Request{
		ContentType:      content.ContentType(strings.ToLower(strings.TrimSpace(contentType))),
		Content:          payload,
		GitHubRepository: strings.TrimSpace(repository),
	})
	builder.logFinished(contentEngineLabelConstant, len(result.Warnings))
	reportWarnings(command.ErrOrStderr(), result.Warnings)
	if !result.Success {
		return result.Err()
	}

	encoder := json.NewEncoder(utils.NewFlushingWriter(command.OutOrStdout()))
	encoder.SetIndent("", jsonIndentConstant)
	return encoder.Encode(result.Data)
}

func (builder *CommandBuilder) runSubmodules(command *cobra.Command, arguments []string) error {
	source, readError := readInput(command, arguments)
	if readError != nil {
		return readError
	}
	configuration := builder.resolveConfiguration()
	mappingValues, _ := command.Flags().GetStringArray(mapFlagNameConstant)
	urlMappings, mappingError := mergeMappings(configuration.URLMappings, mappingValues)
	if mappingError != nil {
		return mappingError
	}

	result := submodule.NewTransformer().Transform(submodule.Request{GitModulesContent: &source, URLMappings: urlMappings})
	builder.logFinished(submoduleEngineLabelConstant, len(result.Warnings))
	reportWarnings(command.ErrOrStderr(), result.Warnings)
	if !result.Success {
		return result.Err()
	}
	fmt.Fprintf(utils.NewFlushingWriter(command.ErrOrStderr()), submoduleSummaryTemplateConstant, result.Data.RewriteCount, result.Data.TotalCount, result.Data.ExternalCount)
	return writeOutput(command, result.Data.GitModules)
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return CommandConfiguration{}
	}
	return builder.ConfigurationProvider()
}

func (builder *CommandBuilder) logFinished(engine string, warningCount int) {
	logger := zap.NewNop()
	if builder.LoggerProvider != nil {
		if provided := builder.LoggerProvider(); provided != nil {
			logger = provided
		}
	}
	logger.Debug(transformationFinishedMessageConstant, zap.String(engineFieldConstant, engine), zap.Int(warningsFieldConstant, warningCount))
}

// readInput reads the named file, or standard input when the argument is absent or "-".
func readInput(command *cobra.Command, arguments []string) (string, error) {
	inputPath := standardInputArgumentConstant
	if len(arguments) > 0 && len(strings.TrimSpace(arguments[0])) > 0 {
		inputPath = strings.TrimSpace(arguments[0])
	}
	var contents []byte
	var readError error
	if inputPath == standardInputArgumentConstant {
		contents, readError = io.ReadAll(command.InOrStdin())
	} else {
		contents, readError = os.ReadFile(inputPath)
	}
	if readError != nil {
		return "", fmt.Errorf(readInputTemplateConstant, inputPath, readError)
	}
	return string(contents), nil
}

func writeOutput(command *cobra.Command, text string) error {
	outputPath, _ := command.Flags().GetString(outputFlagNameConstant)
	outputPath = strings.TrimSpace(outputPath)
	if len(outputPath) == 0 {
		_, writeError := io.WriteString(utils.NewFlushingWriter(command.OutOrStdout()), text)
		return writeError
	}
	if writeError := os.WriteFile(outputPath, []byte(text), outputFilePermissionsConstant); writeError != nil {
		return fmt.Errorf(writeOutputTemplateConstant, outputPath, writeError)
	}
	return nil
}

func reportWarnings(writer io.Writer, warnings []string) {
	flushingWriter := utils.NewFlushingWriter(writer)
	for _, warning := range warnings {
		fmt.Fprintf(flushingWriter, warningLineTemplateConstant, warning)
	}
}

// mergeMappings overlays source=target flag values on the configured table.
func mergeMappings(configured map[string]string, values []string) (map[string]string, error) {
	merged := make(map[string]string, len(configured)+len(values))
	for source, target := range configured {
		merged[source] = target
	}
	for _, value := range values {
		source, target, found := strings.Cut(value, mappingSeparatorConstant)
		source = strings.TrimSpace(source)
		target = strings.TrimSpace(target)
		if !found || len(source) == 0 || len(target) == 0 {
			return nil, fmt.Errorf(invalidMappingTemplateConstant, value)
		}
		merged[source] = target
	}
	return merged, nil
}
