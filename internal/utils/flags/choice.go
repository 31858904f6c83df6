package flags

import (
	"strings"
)

const (
	choicePlaceholderPrefixConstant    = "`<"
	choicePlaceholderSuffixConstant    = ">`"
	choiceSeparatorConstant            = "|"
	choiceDescriptionSeparatorConstant = " "
	choiceDashConstant                 = "-"
	choiceUnderscoreConstant           = "_"
)

// ChoiceUsage renders usage text whose back-quoted placeholder lists the accepted
// values, e.g. "`<FULL|plan_only>` Run mode". Choices are shown in lower case with
// the default upper-cased; duplicates that differ only in case or separators are dropped.
func ChoiceUsage(description string, defaultChoice string, choices []string) string {
	normalizedDefault := normalizeChoice(defaultChoice)

	var builder strings.Builder
	builder.WriteString(choicePlaceholderPrefixConstant)
	seen := make(map[string]struct{}, len(choices))
	for _, choice := range choices {
		normalizedChoice := normalizeChoice(choice)
		if len(normalizedChoice) == 0 {
			continue
		}
		if _, duplicate := seen[normalizedChoice]; duplicate {
			continue
		}
		if len(seen) > 0 {
			builder.WriteString(choiceSeparatorConstant)
		}
		seen[normalizedChoice] = struct{}{}
		if normalizedChoice == normalizedDefault {
			builder.WriteString(strings.ToUpper(normalizedChoice))
			continue
		}
		builder.WriteString(normalizedChoice)
	}
	builder.WriteString(choicePlaceholderSuffixConstant)

	if trimmedDescription := strings.TrimSpace(description); len(trimmedDescription) > 0 {
		builder.WriteString(choiceDescriptionSeparatorConstant)
		builder.WriteString(trimmedDescription)
	}
	return builder.String()
}

// Choices converts a list of string-typed enumeration values.
func Choices[Value ~string](values []Value) []string {
	converted := make([]string, 0, len(values))
	for _, value := range values {
		converted = append(converted, string(value))
	}
	return converted
}

func normalizeChoice(value string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), choiceDashConstant, choiceUnderscoreConstant))
}
