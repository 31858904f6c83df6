package execshell

import (
	"fmt"
	"strings"
)

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

const (
	genericStartTemplateConstant            = "Running %s"
	genericSuccessTemplateConstant          = "Completed %s"
	genericFailureTemplateConstant          = "%s failed with exit code %d%s"
	genericExecutionFailureTemplateConstant = "%s failed: %s"
	commandLabelTemplateConstant            = "%s%s"
	workingDirectorySuffixTemplateConstant  = " (in %s)"
	commandArgumentsJoinSeparatorConstant   = " "
	standardErrorSuffixTemplateConstant     = ": %s"
	unknownFailureMessageConstant           = "unknown error"
	emptyStringConstant                     = ""
	defaultWorkingDirectoryLabelConstant    = "current directory"
	fallbackUnknownValueLabelConstant       = "unknown"
	flagPrefixConstant                      = "-"
)

const (
	gitCloneSubcommandNameConstant  = "clone"
	gitRemoteSubcommandNameConstant = "remote"
	gitUpdateSubcommandNameConstant = "update"
	gitPushSubcommandNameConstant   = "push"
	gitMirrorFlagConstant           = "--mirror"
	githubAPISubcommandNameConstant = "api"
	githubMethodFlagConstant        = "--method"
	githubMethodShortFlagConstant   = "-X"
	githubDefaultMethodConstant     = "GET"
)

const (
	gitMirrorCloneStartTemplateConstant             = "Mirroring %s into %s"
	gitMirrorCloneSuccessTemplateConstant           = "Mirrored %s into %s"
	gitMirrorCloneFailureTemplateConstant           = "Failed to mirror %s into %s (exit code %d%s)"
	gitMirrorCloneExecutionFailureTemplateConstant  = "Unable to mirror %s into %s: %s"
	gitRemoteUpdateStartTemplateConstant            = "Refreshing mirror in %s"
	gitRemoteUpdateSuccessTemplateConstant          = "Refreshed mirror in %s"
	gitRemoteUpdateFailureTemplateConstant          = "Failed to refresh mirror in %s (exit code %d%s)"
	gitRemoteUpdateExecutionFailureTemplateConstant = "Unable to refresh mirror in %s: %s"
	gitMirrorPushStartTemplateConstant              = "Pushing mirror from %s to %s"
	gitMirrorPushSuccessTemplateConstant            = "Pushed mirror from %s to %s"
	gitMirrorPushFailureTemplateConstant            = "Failed to push mirror from %s to %s (exit code %d%s)"
	gitMirrorPushExecutionFailureTemplateConstant   = "Unable to push mirror from %s to %s: %s"
	githubAPIStartTemplateConstant                  = "Calling GitHub %s %s"
	githubAPISuccessTemplateConstant                = "GitHub %s %s succeeded"
	githubAPIFailureTemplateConstant                = "GitHub %s %s failed (exit code %d%s)"
	githubAPIExecutionFailureTemplateConstant       = "Unable to call GitHub %s %s: %s"
)

// CommandMessageFormatter builds human-readable messages for command lifecycle events.
type CommandMessageFormatter struct{}

// BuildStartedMessage formats the message describing a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageStart)
}

// BuildSuccessMessage formats the message describing a completed command with a zero exit code.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageSuccess)
}

// BuildFailureMessage formats the message describing a command that returned a non-zero exit code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// BuildExecutionFailureMessage formats the message describing an unexpected execution failure.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	return formatter.buildMessage(command, ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandMessageFormatter) buildMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	switch command.Name {
	case CommandGit:
		return formatter.describeGitMessage(command, result, failure, stage)
	case CommandGitHub:
		return formatter.describeGitHubMessage(command, result, failure, stage)
	default:
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
}

func (formatter CommandMessageFormatter) describeGitMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) == 0 {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	switch strings.TrimSpace(arguments[0]) {
	case gitCloneSubcommandNameConstant:
		if !containsArgument(arguments, gitMirrorFlagConstant) {
			break
		}
		positional := extractPositionalArguments(arguments[1:])
		source := formatter.ensureValue(argumentAtIndex(positional, 0))
		destination := formatter.ensureValue(argumentAtIndex(positional, 1))
		return formatter.selectTemplate(stage, result, failure,
			fmt.Sprintf(gitMirrorCloneStartTemplateConstant, source, destination),
			fmt.Sprintf(gitMirrorCloneSuccessTemplateConstant, source, destination),
			func(exitCode int, suffix string) string {
				return fmt.Sprintf(gitMirrorCloneFailureTemplateConstant, source, destination, exitCode, suffix)
			},
			func(description string) string {
				return fmt.Sprintf(gitMirrorCloneExecutionFailureTemplateConstant, source, destination, description)
			})
	case gitRemoteSubcommandNameConstant:
		if strings.TrimSpace(argumentAtIndex(arguments, 1)) != gitUpdateSubcommandNameConstant {
			break
		}
		workingDirectory := formatter.describeWorkingDirectory(command)
		return formatter.selectTemplate(stage, result, failure,
			fmt.Sprintf(gitRemoteUpdateStartTemplateConstant, workingDirectory),
			fmt.Sprintf(gitRemoteUpdateSuccessTemplateConstant, workingDirectory),
			func(exitCode int, suffix string) string {
				return fmt.Sprintf(gitRemoteUpdateFailureTemplateConstant, workingDirectory, exitCode, suffix)
			},
			func(description string) string {
				return fmt.Sprintf(gitRemoteUpdateExecutionFailureTemplateConstant, workingDirectory, description)
			})
	case gitPushSubcommandNameConstant:
		if !containsArgument(arguments, gitMirrorFlagConstant) {
			break
		}
		workingDirectory := formatter.describeWorkingDirectory(command)
		destination := formatter.ensureValue(argumentAtIndex(extractPositionalArguments(arguments[1:]), 0))
		return formatter.selectTemplate(stage, result, failure,
			fmt.Sprintf(gitMirrorPushStartTemplateConstant, workingDirectory, destination),
			fmt.Sprintf(gitMirrorPushSuccessTemplateConstant, workingDirectory, destination),
			func(exitCode int, suffix string) string {
				return fmt.Sprintf(gitMirrorPushFailureTemplateConstant, workingDirectory, destination, exitCode, suffix)
			},
			func(description string) string {
				return fmt.Sprintf(gitMirrorPushExecutionFailureTemplateConstant, workingDirectory, destination, description)
			})
	}
	return formatter.buildGenericMessage(command, result, failure, stage)
}

func (formatter CommandMessageFormatter) describeGitHubMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	arguments := command.Details.Arguments
	if len(arguments) < 2 || strings.TrimSpace(arguments[0]) != githubAPISubcommandNameConstant {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	endpoint := strings.TrimSpace(arguments[1])
	method := strings.TrimSpace(findFlagValue(arguments, githubMethodFlagConstant))
	if len(method) == 0 {
		method = strings.TrimSpace(findFlagValue(arguments, githubMethodShortFlagConstant))
	}
	if len(method) == 0 {
		method = githubDefaultMethodConstant
	}

	return formatter.selectTemplate(stage, result, failure,
		fmt.Sprintf(githubAPIStartTemplateConstant, method, endpoint),
		fmt.Sprintf(githubAPISuccessTemplateConstant, method, endpoint),
		func(exitCode int, suffix string) string {
			return fmt.Sprintf(githubAPIFailureTemplateConstant, method, endpoint, exitCode, suffix)
		},
		func(description string) string {
			return fmt.Sprintf(githubAPIExecutionFailureTemplateConstant, method, endpoint, description)
		})
}

func (formatter CommandMessageFormatter) selectTemplate(stage messageStage, result ExecutionResult, failure error, startMessage string, successMessage string, failureMessage func(int, string) string, executionFailureMessage func(string) string) string {
	switch stage {
	case messageStageStart:
		return startMessage
	case messageStageSuccess:
		return successMessage
	case messageStageFailure:
		return failureMessage(result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return executionFailureMessage(formatter.describeFailure(failure))
	default:
		return emptyStringConstant
	}
}

func (formatter CommandMessageFormatter) buildGenericMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	commandLabel := formatter.formatCommandLabel(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(genericStartTemplateConstant, commandLabel)
	case messageStageSuccess:
		return fmt.Sprintf(genericSuccessTemplateConstant, commandLabel)
	case messageStageFailure:
		return fmt.Sprintf(genericFailureTemplateConstant, commandLabel, result.ExitCode, formatter.formatStandardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		return fmt.Sprintf(genericExecutionFailureTemplateConstant, commandLabel, formatter.describeFailure(failure))
	default:
		return emptyStringConstant
	}
}

func (formatter CommandMessageFormatter) formatCommandLabel(command ShellCommand) string {
	commandLabel := string(command.Name)
	if len(command.Details.Arguments) > 0 {
		commandLabel = commandLabel + commandArgumentsJoinSeparatorConstant + strings.Join(command.Details.Arguments, commandArgumentsJoinSeparatorConstant)
	}
	trimmedWorkingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(trimmedWorkingDirectory) == 0 {
		return commandLabel
	}
	return fmt.Sprintf(commandLabelTemplateConstant, commandLabel, fmt.Sprintf(workingDirectorySuffixTemplateConstant, trimmedWorkingDirectory))
}

func (formatter CommandMessageFormatter) formatStandardErrorSuffix(standardError string) string {
	trimmedStandardError := strings.TrimSpace(standardError)
	if len(trimmedStandardError) == 0 {
		return emptyStringConstant
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, trimmedStandardError)
}

func (formatter CommandMessageFormatter) describeWorkingDirectory(command ShellCommand) string {
	trimmedWorkingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(trimmedWorkingDirectory) == 0 {
		return defaultWorkingDirectoryLabelConstant
	}
	return trimmedWorkingDirectory
}

func (formatter CommandMessageFormatter) describeFailure(failure error) string {
	if failure == nil {
		return unknownFailureMessageConstant
	}
	return failure.Error()
}

func (formatter CommandMessageFormatter) ensureValue(value string) string {
	if len(strings.TrimSpace(value)) == 0 {
		return fallbackUnknownValueLabelConstant
	}
	return value
}

func containsArgument(arguments []string, value string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == value {
			return true
		}
	}
	return false
}

func argumentAtIndex(arguments []string, index int) string {
	if index < 0 || index >= len(arguments) {
		return emptyStringConstant
	}
	return arguments[index]
}

func extractPositionalArguments(arguments []string) []string {
	positional := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		if strings.HasPrefix(argument, flagPrefixConstant) {
			continue
		}
		positional = append(positional, argument)
	}
	return positional
}

func findFlagValue(arguments []string, flag string) string {
	for argumentIndex := 0; argumentIndex < len(arguments)-1; argumentIndex++ {
		if strings.TrimSpace(arguments[argumentIndex]) == flag {
			return arguments[argumentIndex+1]
		}
	}
	return emptyStringConstant
}
