package execshell

import "regexp"

const redactedUserInfoReplacementConstant = "${1}***@"

var credentialUserInfoPattern = regexp.MustCompile(`(https?://)[^/@\s]+@`)

// RedactCredentials masks user info embedded in http(s) URLs.
func RedactCredentials(text string) string {
	return credentialUserInfoPattern.ReplaceAllString(text, redactedUserInfoReplacementConstant)
}

func redactCommand(command ShellCommand) ShellCommand {
	redacted := command
	redacted.Details.Arguments = make([]string, len(command.Details.Arguments))
	for argumentIndex, argument := range command.Details.Arguments {
		redacted.Details.Arguments[argumentIndex] = RedactCredentials(argument)
	}
	redacted.Details.EnvironmentVariables = nil
	redacted.Details.StandardInput = nil
	return redacted
}
