package submodule

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	sectionPrefixConstant          = "[submodule"
	sectionSuffixConstant          = "]"
	keyValueSeparatorConstant      = "="
	hashCommentPrefixConstant      = "#"
	semicolonCommentPrefixConstant = ";"
	quoteConstant                  = "\""
	pathKeyConstant                = "path"
	urlKeyConstant                 = "url"
	sectionHeaderTemplateConstant  = "[submodule \"%s\"]\n"
	propertyLineTemplateConstant   = "\t%s = %s\n"

	malformedSectionWarningTemplateConstant  = "line %d: malformed submodule section header ignored"
	orphanPropertyWarningTemplateConstant    = "line %d: property outside a submodule section ignored"
	malformedPropertyWarningTemplateConstant = "line %d: malformed property ignored"
	missingKeyWarningTemplateConstant        = "submodule %q has no %s"
)

// Property is an extra key/value pair of a submodule section, kept in source order.
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type parsedSection struct {
	name       string
	path       string
	url        string
	properties []Property
}

// parseGitModules reads INI-style .gitmodules content. Problems become warnings.
func parseGitModules(content string) ([]parsedSection, []string) {
	sections := []parsedSection{}
	warnings := []string{}
	var current *parsedSection

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, hashCommentPrefixConstant) || strings.HasPrefix(line, semicolonCommentPrefixConstant) {
			continue
		}

		if strings.HasPrefix(line, "[") {
			name, valid := parseSectionName(line)
			if !valid {
				warnings = append(warnings, fmt.Sprintf(malformedSectionWarningTemplateConstant, lineNumber))
				current = nil
				continue
			}
			sections = append(sections, parsedSection{name: name})
			current = &sections[len(sections)-1]
			continue
		}

		if current == nil {
			warnings = append(warnings, fmt.Sprintf(orphanPropertyWarningTemplateConstant, lineNumber))
			continue
		}

		key, value, found := strings.Cut(line, keyValueSeparatorConstant)
		key = strings.TrimSpace(key)
		if !found || len(key) == 0 {
			warnings = append(warnings, fmt.Sprintf(malformedPropertyWarningTemplateConstant, lineNumber))
			continue
		}
		value = unquote(strings.TrimSpace(value))

		switch strings.ToLower(key) {
		case pathKeyConstant:
			current.path = value
		case urlKeyConstant:
			current.url = value
		default:
			current.properties = append(current.properties, Property{Key: key, Value: value})
		}
	}

	for _, section := range sections {
		if len(section.path) == 0 {
			warnings = append(warnings, fmt.Sprintf(missingKeyWarningTemplateConstant, section.name, pathKeyConstant))
		}
	}
	return sections, warnings
}

func parseSectionName(line string) (string, bool) {
	if !strings.HasPrefix(line, sectionPrefixConstant) || !strings.HasSuffix(line, sectionSuffixConstant) {
		return "", false
	}
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, sectionPrefixConstant), sectionSuffixConstant))
	if len(inner) < 2 || !strings.HasPrefix(inner, quoteConstant) || !strings.HasSuffix(inner, quoteConstant) {
		return "", false
	}
	return inner[1 : len(inner)-1], true
}

func unquote(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, quoteConstant) && strings.HasSuffix(value, quoteConstant) {
		return value[1 : len(value)-1]
	}
	return value
}

// renderGitModules regenerates .gitmodules text from the records.
func renderGitModules(submodules []Submodule) string {
	var builder strings.Builder
	for _, submodule := range submodules {
		builder.WriteString(fmt.Sprintf(sectionHeaderTemplateConstant, submodule.Name))
		if len(submodule.Path) > 0 {
			builder.WriteString(fmt.Sprintf(propertyLineTemplateConstant, pathKeyConstant, submodule.Path))
		}
		if len(submodule.URL) > 0 {
			builder.WriteString(fmt.Sprintf(propertyLineTemplateConstant, urlKeyConstant, submodule.URL))
		}
		for _, property := range submodule.Properties {
			builder.WriteString(fmt.Sprintf(propertyLineTemplateConstant, property.Key, property.Value))
		}
	}
	return builder.String()
}
