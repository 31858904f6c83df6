package content

import (
	"strings"
	"unicode"
)

// MaxLabelLength is the longest label name accepted by the target platform.
const MaxLabelLength = 50

const allowedLabelPunctuationConstant = " -_./:&+()#@!?'"

// SanitizeLabels strips disallowed characters, caps length and drops case-insensitive duplicates.
func SanitizeLabels(labels []string) []string {
	sanitized := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		cleaned := sanitizeLabel(label)
		if len(cleaned) == 0 {
			continue
		}
		key := strings.ToLower(cleaned)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		sanitized = append(sanitized, cleaned)
	}
	return sanitized
}

func sanitizeLabel(label string) string {
	var builder strings.Builder
	for _, character := range label {
		if unicode.IsLetter(character) || unicode.IsDigit(character) || strings.ContainsRune(allowedLabelPunctuationConstant, character) {
			builder.WriteRune(character)
		}
	}
	cleaned := strings.Join(strings.Fields(builder.String()), " ")
	runes := []rune(cleaned)
	if len(runes) > MaxLabelLength {
		cleaned = strings.TrimSpace(string(runes[:MaxLabelLength]))
	}
	return cleaned
}
