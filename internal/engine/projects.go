package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/moti-malka/gl2gh/internal/migration"
)

const (
	readProjectsFileTemplateConstant   = "unable to read projects file %s: %w"
	parseProjectsFileTemplateConstant  = "unable to parse projects file %s: %w"
	decodeProjectEntryTemplateConstant = "projects file %s entry %d: %w"
	listGroupTemplateConstant          = "unable to list projects of group %s: %w"
	emptyProjectEntryTemplateConstant  = "projects file %s entry %d has neither path nor id"
)

// ErrNoProjectsSelected reports a selection that names no project.
var ErrNoProjectsSelected = errors.New("no projects selected; pass project paths, --group or --projects-file")

// Selection names the projects of a batch. Every source is optional; duplicates
// are dropped keeping the first occurrence.
type Selection struct {
	Paths        []string
	Groups       []string
	ProjectsFile string
}

type projectsDocument struct {
	Projects []map[string]any `yaml:"projects"`
}

// ResolveProjects expands the selection into project references in a stable order:
// explicit paths, then the projects file, then group listings.
func (engine *Engine) ResolveProjects(executionContext context.Context, selection Selection) ([]migration.ProjectReference, error) {
	var references []migration.ProjectReference
	for _, path := range selection.Paths {
		trimmedPath := strings.Trim(strings.TrimSpace(path), "/")
		if len(trimmedPath) > 0 {
			references = append(references, migration.ProjectReference{PathWithNamespace: trimmedPath})
		}
	}

	if trimmedFile := strings.TrimSpace(selection.ProjectsFile); len(trimmedFile) > 0 {
		fileReferences, fileError := LoadProjectsFile(trimmedFile)
		if fileError != nil {
			return nil, fileError
		}
		references = append(references, fileReferences...)
	}

	for _, group := range selection.Groups {
		trimmedGroup := strings.Trim(strings.TrimSpace(group), "/")
		if len(trimmedGroup) == 0 {
			continue
		}
		projects, listError := engine.GitLab.GroupProjects(executionContext, trimmedGroup)
		if listError != nil {
			return nil, fmt.Errorf(listGroupTemplateConstant, trimmedGroup, listError)
		}
		for _, project := range projects {
			references = append(references, migration.ProjectReference{GitLabProjectID: project.ID, PathWithNamespace: project.PathWithNamespace})
		}
	}

	references = deduplicate(references)
	if len(references) == 0 {
		return nil, ErrNoProjectsSelected
	}
	return references, nil
}

// LoadProjectsFile reads a YAML document with a top-level projects list. Entries carry
// path, id and an optional target repository.
func LoadProjectsFile(filePath string) ([]migration.ProjectReference, error) {
	contents, readError := os.ReadFile(filePath)
	if readError != nil {
		return nil, fmt.Errorf(readProjectsFileTemplateConstant, filePath, readError)
	}
	var document projectsDocument
	if parseError := yaml.Unmarshal(contents, &document); parseError != nil {
		return nil, fmt.Errorf(parseProjectsFileTemplateConstant, filePath, parseError)
	}

	references := make([]migration.ProjectReference, 0, len(document.Projects))
	for entryIndex, entry := range document.Projects {
		var reference migration.ProjectReference
		decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &reference,
			WeaklyTypedInput: true,
		})
		if decoderError != nil {
			return nil, decoderError
		}
		if decodeError := decoder.Decode(entry); decodeError != nil {
			return nil, fmt.Errorf(decodeProjectEntryTemplateConstant, filePath, entryIndex, decodeError)
		}
		reference.PathWithNamespace = strings.Trim(strings.TrimSpace(reference.PathWithNamespace), "/")
		reference.TargetRepository = strings.TrimSpace(reference.TargetRepository)
		if len(reference.PathWithNamespace) == 0 && reference.GitLabProjectID == 0 {
			return nil, fmt.Errorf(emptyProjectEntryTemplateConstant, filePath, entryIndex)
		}
		references = append(references, reference)
	}
	return references, nil
}

func deduplicate(references []migration.ProjectReference) []migration.ProjectReference {
	seen := make(map[string]struct{}, len(references))
	unique := make([]migration.ProjectReference, 0, len(references))
	for _, reference := range references {
		key := reference.Identifier()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, reference)
	}
	return unique
}
