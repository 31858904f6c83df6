package content

import (
	"regexp"
	"strings"
)

const (
	codeFenceMarkerConstant         = "```"
	lineSeparatorConstant           = "\n"
	mentionPrefixConstant           = "@"
	referenceHashConstant           = "#"
	usernameTrailingTrimSetConstant = ".-"
)

var (
	mentionPattern               = regexp.MustCompile(`(^|[^\w@./])@([A-Za-z0-9_][A-Za-z0-9_.-]*)`)
	issueReferencePattern        = regexp.MustCompile(`(^|[^\w&#/!])#(\d+)\b`)
	mergeRequestReferencePattern = regexp.MustCompile(`(^|[^\w!/#])!(\d+)\b`)
)

// rewriteOutsideCode applies the rewrite to text outside fenced code blocks.
func rewriteOutsideCode(text string, rewrite func(string) string) string {
	lines := strings.Split(text, lineSeparatorConstant)
	insideFence := false
	for lineIndex, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), codeFenceMarkerConstant) {
			insideFence = !insideFence
			continue
		}
		if insideFence {
			continue
		}
		lines[lineIndex] = rewrite(line)
	}
	return strings.Join(lines, lineSeparatorConstant)
}

// rewriteMentions replaces @username tokens found in the mapping. Unmapped names stay as they are.
func rewriteMentions(text string, lookup func(string) (string, bool)) string {
	return rewriteOutsideCode(text, func(line string) string {
		return replaceSubmatches(line, mentionPattern, func(submatches []string) string {
			prefix, username := submatches[1], submatches[2]
			trimmedUsername := strings.TrimRight(username, usernameTrailingTrimSetConstant)
			suffix := username[len(trimmedUsername):]
			login, mapped := lookup(trimmedUsername)
			if !mapped {
				return submatches[0]
			}
			return prefix + mentionPrefixConstant + login + suffix
		})
	})
}

// rewriteReferences qualifies #N issue references and converts !N merge request references.
func rewriteReferences(text string, repository string) string {
	qualifier := strings.TrimSpace(repository)
	return rewriteOutsideCode(text, func(line string) string {
		if len(qualifier) > 0 {
			line = replaceSubmatches(line, issueReferencePattern, func(submatches []string) string {
				return submatches[1] + qualifier + referenceHashConstant + submatches[2]
			})
		}
		return replaceSubmatches(line, mergeRequestReferencePattern, func(submatches []string) string {
			return submatches[1] + qualifier + referenceHashConstant + submatches[2]
		})
	})
}

func replaceSubmatches(text string, pattern *regexp.Regexp, replace func([]string) string) string {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var builder strings.Builder
	previousEnd := 0
	for _, match := range matches {
		builder.WriteString(text[previousEnd:match[0]])
		submatches := make([]string, len(match)/2)
		for groupIndex := range submatches {
			if match[2*groupIndex] >= 0 {
				submatches[groupIndex] = text[match[2*groupIndex]:match[2*groupIndex+1]]
			}
		}
		builder.WriteString(replace(submatches))
		previousEnd = match[1]
	}
	builder.WriteString(text[previousEnd:])
	return builder.String()
}
