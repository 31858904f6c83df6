package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/checkpoint"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

const (
	discoverDirectoryNameConstant       = "discover"
	exportDirectoryNameConstant         = "export"
	transformDirectoryNameConstant      = "transform"
	planDirectoryNameConstant           = "plan"
	applyDirectoryNameConstant          = "apply"
	verifyDirectoryNameConstant         = "verify"
	checkpointFileNameConstant          = "checkpoint.json"
	mirrorDirectoryNameConstant         = "repository.git"
	projectFileNameConstant             = "project.json"
	ciConfigFileNameConstant            = ".gitlab-ci.yml"
	gitModulesFileNameConstant          = ".gitmodules"
	issuesDirectoryNameConstant         = "issues"
	mergeRequestsDirectoryNameConstant  = "merge_requests"
	transformReportFileNameConstant     = "transform_report.json"
	transformedIssuesFileNameConstant   = "issues.json"
	transformedPullsFileNameConstant    = "pull_requests.json"
	planFileNameConstant                = "plan.json"
	applyReportFileNameConstant         = "apply_report.json"
	verifyReportFileNameConstant        = "verify_report.json"
	itemFileTemplateConstant            = "%06d.json"
	jsonIndentConstant                  = "  "
	artifactFilePermissionsConstant     = 0o644
	writeArtifactErrorTemplateConstant  = "write artifact %s: %w"
	readArtifactErrorTemplateConstant   = "read artifact %s: %w"
	encodeArtifactErrorTemplateConstant = "encode artifact %s: %w"
	decodeArtifactErrorTemplateConstant = "decode artifact %s: %w"
)

// CheckpointPath returns the export checkpoint file of a project artifact directory.
func CheckpointPath(projectDirectory string) string {
	return filepath.Join(projectDirectory, exportDirectoryNameConstant, checkpointFileNameConstant)
}

// PlanPath returns the plan file of a project artifact directory.
func PlanPath(projectDirectory string) string {
	return filepath.Join(projectDirectory, planDirectoryNameConstant, planFileNameConstant)
}

func stageDirectory(stageContext pipeline.StageContext, name string) string {
	return filepath.Join(stageContext.ArtifactDirectory, name)
}

// planLocation finds the plan of this run, falling back to the base run an APPLY or
// VERIFY run was started from.
func planLocation(stageContext pipeline.StageContext) string {
	ownPlan := PlanPath(stageContext.ArtifactDirectory)
	if fileExists(ownPlan) || len(stageContext.Configuration.BaseRunID) == 0 {
		return ownPlan
	}
	baseRun := &migration.MigrationRun{ID: stageContext.Configuration.BaseRunID, ArtifactRoot: stageContext.Run.ArtifactRoot}
	return PlanPath(pipeline.ArtifactDirectory(baseRun, stageContext.Project))
}

func targetRepository(stageContext pipeline.StageContext) string {
	if len(strings.TrimSpace(stageContext.Project.TargetRepository)) > 0 {
		return stageContext.Project.TargetRepository
	}
	return stageContext.Configuration.TargetRepositoryFor(stageContext.Project.PathWithNamespace)
}

func loggerFor(stageContext pipeline.StageContext) *zap.Logger {
	if stageContext.Logger == nil {
		return zap.NewNop()
	}
	return stageContext.Logger
}

func writeJSON(filePath string, value any) error {
	encoded, encodeError := json.MarshalIndent(value, "", jsonIndentConstant)
	if encodeError != nil {
		return fmt.Errorf(encodeArtifactErrorTemplateConstant, filePath, encodeError)
	}
	return writeFile(filePath, append(encoded, '\n'))
}

func readJSON(filePath string, target any) error {
	contents, readError := os.ReadFile(filePath)
	if readError != nil {
		return fmt.Errorf(readArtifactErrorTemplateConstant, filePath, readError)
	}
	if decodeError := json.Unmarshal(contents, target); decodeError != nil {
		return fmt.Errorf(decodeArtifactErrorTemplateConstant, filePath, decodeError)
	}
	return nil
}

// writeFile replaces the artifact atomically so an interrupted write never leaves a
// partial file behind.
func writeFile(filePath string, contents []byte) error {
	if writeError := checkpoint.WriteFileAtomic(filePath, contents, artifactFilePermissionsConstant); writeError != nil {
		return fmt.Errorf(writeArtifactErrorTemplateConstant, filePath, writeError)
	}
	return nil
}

func fileExists(filePath string) bool {
	_, statError := os.Stat(filePath)
	return statError == nil
}

// itemFiles lists the exported item files of a directory in name order. A missing
// directory yields no files.
func itemFiles(directory string) ([]string, error) {
	entries, readError := os.ReadDir(directory)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf(readArtifactErrorTemplateConstant, directory, readError)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(directory, entry.Name()))
	}
	return files, nil
}

// Facts survive a store round trip as JSON, so numbers may come back as float64.

func factString(facts map[string]any, key string) string {
	value, _ := facts[key].(string)
	return value
}

func factBool(facts map[string]any, key string) bool {
	value, _ := facts[key].(bool)
	return value
}

func intValue(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case json.Number:
		parsed, _ := typed.Int64()
		return int(parsed)
	case string:
		parsed, _ := strconv.Atoi(typed)
		return parsed
	default:
		return 0
	}
}
