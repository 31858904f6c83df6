package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/checkpoint"
	"github.com/moti-malka/gl2gh/internal/gitlab"
	"github.com/moti-malka/gl2gh/internal/gitrepo"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

// Export components in the order they run. Completed components are skipped on resume.
const (
	ComponentRepository    = "repository"
	ComponentCIConfig      = "ci_config"
	ComponentGitModules    = "gitmodules"
	ComponentIssues        = "issues"
	ComponentMergeRequests = "merge_requests"
)

const (
	gitLabCredentialUserConstant         = "oauth2"
	metadataPresentKeyConstant           = "present"
	metadataSkippedKeyConstant           = "skipped"
	metadataDirectoryKeyConstant         = "directory"
	metadataRefreshedKeyConstant         = "refreshed"
	skippedEmptyRepositoryConstant       = "empty repository"
	skippedMirrorDisabledConstant        = "git mirroring not configured"
	outputComponentsKeyConstant          = "components"
	outputIssuesKeyConstant              = "issues"
	outputMergeRequestsKeyConstant       = "merge_requests"
	outputMirrorDirectoryKeyConstant     = "mirror_directory"
	iidPayloadKeyConstant                = "iid"
	componentSkippedMessageConstant      = "Export component already completed"
	checkpointWriteFailedMessageConstant = "Export checkpoint could not record the failure"
	componentFieldConstant               = "component"
	pathFieldConstant                    = "path"
	itemRefetchedMessageConstant         = "Exported item unreadable, fetching it again"
	exportComponentTemplateConstant      = "export %s: %w"
)

// ExportedItem is one exported issue or merge request with its notes.
type ExportedItem struct {
	Item  map[string]any   `json:"item"`
	Notes []map[string]any `json:"notes"`
}

type exportComponent struct {
	name   string
	export func(context.Context, *exportRun) (map[string]any, error)
}

type exportRun struct {
	stageContext  pipeline.StageContext
	source        *gitlab.Client
	store         *checkpoint.Store
	sourceProject gitlab.Project
	directory     string
	resuming      map[string]bool
}

// ExportHandler exports repository history, CI configuration, submodule references,
// issues and merge requests into the project artifact directory. Progress is
// checkpointed per component and per item so an interrupted export resumes where it
// stopped.
type ExportHandler struct {
	source  *gitlab.Client
	mirrors *gitrepo.MirrorManager
}

// NewExportHandler constructs the EXPORT handler. A nil mirror manager skips the
// repository component.
func NewExportHandler(source *gitlab.Client, mirrors *gitrepo.MirrorManager) *ExportHandler {
	return &ExportHandler{source: source, mirrors: mirrors}
}

// Execute implements pipeline.StageHandler.
func (handler *ExportHandler) Execute(executionContext context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
	if handler.source == nil {
		return pipeline.StageOutcome{}, ErrSourceClientRequired
	}
	directory := stageDirectory(stageContext, exportDirectoryNameConstant)
	store, storeError := checkpoint.NewStore(CheckpointPath(stageContext.ArtifactDirectory), loggerFor(stageContext))
	if storeError != nil {
		return pipeline.StageOutcome{}, storeError
	}
	run := &exportRun{
		stageContext: stageContext,
		source:       handler.source.Scoped(stageContext.Resources),
		store:        store,
		directory:    directory,
		resuming:     map[string]bool{},
	}

	sourceProject, projectError := run.resolveSourceProject(executionContext)
	if projectError != nil {
		return pipeline.StageOutcome{APICallsUsed: run.source.Calls()}, projectError
	}
	run.sourceProject = sourceProject

	components := []exportComponent{
		{name: ComponentRepository, export: handler.exportRepository},
		{name: ComponentCIConfig, export: exportRawFile(ciConfigFileNameConstant)},
		{name: ComponentGitModules, export: exportRawFile(gitModulesFileNameConstant)},
		{name: ComponentIssues, export: exportItems(ComponentIssues, issuesDirectoryNameConstant, gitlab.NoteKindIssue)},
		{name: ComponentMergeRequests, export: exportItems(ComponentMergeRequests, mergeRequestsDirectoryNameConstant, gitlab.NoteKindMergeRequest)},
	}

	completed := make([]string, 0, len(components))
	for _, component := range components {
		if store.IsComponentCompleted(component.name) {
			loggerFor(stageContext).Debug(componentSkippedMessageConstant, zap.String(componentFieldConstant, component.name))
			completed = append(completed, component.name)
			continue
		}
		if contextError := executionContext.Err(); contextError != nil {
			return pipeline.StageOutcome{APICallsUsed: run.source.Calls()}, contextError
		}
		run.resuming[component.name] = store.ShouldResumeComponent(component.name)
		if startError := store.MarkComponentStarted(component.name, nil); startError != nil {
			return pipeline.StageOutcome{APICallsUsed: run.source.Calls()}, startError
		}
		metadata, exportError := component.export(executionContext, run)
		if exportError != nil {
			if markError := store.MarkComponentCompleted(component.name, false, exportError); markError != nil {
				loggerFor(stageContext).Warn(checkpointWriteFailedMessageConstant, zap.String(componentFieldConstant, component.name), zap.Error(markError))
			}
			return pipeline.StageOutcome{APICallsUsed: run.source.Calls()}, fmt.Errorf(exportComponentTemplateConstant, component.name, exportError)
		}
		if len(metadata) > 0 {
			if metadataError := store.MarkComponentStarted(component.name, metadata); metadataError != nil {
				return pipeline.StageOutcome{APICallsUsed: run.source.Calls()}, metadataError
			}
		}
		if markError := store.MarkComponentCompleted(component.name, true, nil); markError != nil {
			return pipeline.StageOutcome{APICallsUsed: run.source.Calls()}, markError
		}
		completed = append(completed, component.name)
	}

	snapshot := store.Snapshot()
	outputs := map[string]any{
		outputComponentsKeyConstant:      completed,
		outputIssuesKeyConstant:          processedItems(snapshot, ComponentIssues),
		outputMergeRequestsKeyConstant:   processedItems(snapshot, ComponentMergeRequests),
		factHasCIKeyConstant:             fileExists(filepath.Join(directory, ciConfigFileNameConstant)),
		factHasSubmodulesKeyConstant:     fileExists(filepath.Join(directory, gitModulesFileNameConstant)),
		outputMirrorDirectoryKeyConstant: mirrorDirectory(stageContext),
	}
	return pipeline.StageOutcome{
		Status:       migration.StageStatusCompleted,
		Outputs:      outputs,
		Artifacts:    []string{directory},
		APICallsUsed: run.source.Calls(),
	}, nil
}

func mirrorDirectory(stageContext pipeline.StageContext) string {
	return filepath.Join(stageDirectory(stageContext, exportDirectoryNameConstant), mirrorDirectoryNameConstant)
}

func processedItems(document checkpoint.Document, component string) int {
	record, exists := document.Components[component]
	if !exists {
		return 0
	}
	return record.ProcessedItems
}

// resolveSourceProject rebuilds the project from the discovered facts and only asks
// GitLab when discovery ran without them.
func (run *exportRun) resolveSourceProject(executionContext context.Context) (gitlab.Project, error) {
	facts := run.stageContext.Project.Facts
	if len(factString(facts, factHTTPURLKeyConstant)) > 0 {
		return gitlab.Project{
			ID:            intValue(facts[factProjectIDKeyConstant]),
			DefaultBranch: factString(facts, factDefaultBranchKeyConstant),
			HTTPURLToRepo: factString(facts, factHTTPURLKeyConstant),
			EmptyRepo:     factBool(facts, factEmptyRepositoryKeyConstant),
		}, nil
	}
	return run.source.Project(executionContext, run.stageContext.Project.Reference().Identifier())
}

func (handler *ExportHandler) exportRepository(executionContext context.Context, run *exportRun) (map[string]any, error) {
	if run.sourceProject.EmptyRepo {
		return map[string]any{metadataSkippedKeyConstant: skippedEmptyRepositoryConstant}, nil
	}
	if handler.mirrors == nil {
		return map[string]any{metadataSkippedKeyConstant: skippedMirrorDisabledConstant}, nil
	}
	directory := mirrorDirectory(run.stageContext)
	sourceURL := gitrepo.WithCredentials(run.sourceProject.HTTPURLToRepo, gitLabCredentialUserConstant, run.stageContext.Configuration.Source.Token)
	refreshed, mirrorError := handler.mirrors.SyncMirror(executionContext, sourceURL, directory)
	if mirrorError != nil {
		return nil, mirrorError
	}
	return map[string]any{metadataDirectoryKeyConstant: directory, metadataRefreshedKeyConstant: refreshed}, nil
}

func exportRawFile(fileName string) func(context.Context, *exportRun) (map[string]any, error) {
	return func(executionContext context.Context, run *exportRun) (map[string]any, error) {
		contents, found, fileError := run.source.RawFile(executionContext, run.stageContext.Project.Reference().Identifier(), fileName, run.sourceProject.Ref())
		if fileError != nil {
			return nil, fileError
		}
		if !found {
			return map[string]any{metadataPresentKeyConstant: false}, nil
		}
		if writeError := writeFile(filepath.Join(run.directory, fileName), []byte(contents)); writeError != nil {
			return nil, writeError
		}
		return map[string]any{metadataPresentKeyConstant: true}, nil
	}
}

// exportItems writes one file per item named after its iid and records the iid of
// the last written item as the cursor. A resumed component reuses the files of items
// up to the cursor when they decode; every other item is fetched again.
func exportItems(component string, directoryName string, kind gitlab.NoteKind) func(context.Context, *exportRun) (map[string]any, error) {
	return func(executionContext context.Context, run *exportRun) (map[string]any, error) {
		projectIdentifier := run.stageContext.Project.Reference().Identifier()
		var (
			items     []map[string]any
			listError error
		)
		if kind == gitlab.NoteKindIssue {
			items, listError = run.source.Issues(executionContext, projectIdentifier)
		} else {
			items, listError = run.source.MergeRequests(executionContext, projectIdentifier)
		}
		if listError != nil {
			return nil, listError
		}

		reusableThrough := run.resumeIndex(component, items)
		total := len(items)
		if progressError := run.store.UpdateComponentProgress(component, 0, &total, nil); progressError != nil {
			return nil, progressError
		}
		itemDirectory := filepath.Join(run.directory, directoryName)
		for itemIndex, item := range items {
			if contextError := executionContext.Err(); contextError != nil {
				return nil, contextError
			}
			iid := intValue(item[iidPayloadKeyConstant])
			itemPath := filepath.Join(itemDirectory, fmt.Sprintf(itemFileTemplateConstant, iid))
			if !run.reusable(itemIndex, reusableThrough, itemPath) {
				notes, notesError := run.source.Notes(executionContext, projectIdentifier, kind, iid)
				if notesError != nil {
					return nil, notesError
				}
				if writeError := writeJSON(itemPath, ExportedItem{Item: item, Notes: notes}); writeError != nil {
					return nil, writeError
				}
			}
			cursor := strconv.Itoa(iid)
			if progressError := run.store.UpdateComponentProgress(component, itemIndex+1, nil, &cursor); progressError != nil {
				return nil, progressError
			}
		}
		return map[string]any{metadataPresentKeyConstant: total > 0}, nil
	}
}

// resumeIndex returns the position of the checkpoint cursor among the listed items, or
// -1 when the component is not resuming or the cursor item is no longer listed.
func (run *exportRun) resumeIndex(component string, items []map[string]any) int {
	if !run.resuming[component] {
		return -1
	}
	cursor, found := run.store.LastProcessedItem(component)
	if !found {
		return -1
	}
	for itemIndex, item := range items {
		if strconv.Itoa(intValue(item[iidPayloadKeyConstant])) == cursor {
			return itemIndex
		}
	}
	return -1
}

func (run *exportRun) reusable(itemIndex int, reusableThrough int, itemPath string) bool {
	if itemIndex > reusableThrough {
		return false
	}
	if _, readError := readExportedItem(itemPath); readError != nil {
		loggerFor(run.stageContext).Warn(itemRefetchedMessageConstant, zap.String(pathFieldConstant, itemPath), zap.Error(readError))
		return false
	}
	return true
}

// readExportedItem decodes an exported item file and rejects one without an item.
func readExportedItem(itemPath string) (ExportedItem, error) {
	var exported ExportedItem
	if readError := readJSON(itemPath, &exported); readError != nil {
		return ExportedItem{}, readError
	}
	if exported.Item == nil {
		return ExportedItem{}, fmt.Errorf(decodeArtifactErrorTemplateConstant, itemPath, ErrExportedItemIncomplete)
	}
	return exported, nil
}
