package stages

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/githubcli"
	"github.com/moti-malka/gl2gh/internal/gitlab"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

const (
	factProjectIDKeyConstant            = "gitlab_project_id"
	factNameKeyConstant                 = "name"
	factDescriptionKeyConstant          = "description"
	factDefaultBranchKeyConstant        = "default_branch"
	factVisibilityKeyConstant           = "visibility"
	factHTTPURLKeyConstant              = "http_url_to_repo"
	factWebURLKeyConstant               = "web_url"
	factArchivedKeyConstant             = "archived"
	factEmptyRepositoryKeyConstant      = "empty_repo"
	factIssuesEnabledKeyConstant        = "issues_enabled"
	factMergeRequestsEnabledKeyConstant = "merge_requests_enabled"
	factWikiEnabledKeyConstant          = "wiki_enabled"
	factLFSEnabledKeyConstant           = "lfs_enabled"
	factOpenIssuesKeyConstant           = "open_issues_count"
	factCommitCountKeyConstant          = "commit_count"
	factRepositorySizeKeyConstant       = "repository_size"
	factLFSSizeKeyConstant              = "lfs_objects_size"
	factHasCIKeyConstant                = "has_ci"
	factHasSubmodulesKeyConstant        = "has_submodules"
	factTargetExistsKeyConstant         = "target_exists"
	readinessReadyKeyConstant           = "ready"
	readinessBlockersKeyConstant        = "blockers"
	readinessWarningsKeyConstant        = "warnings"
	outputBucketKeyConstant             = "bucket"
	outputReadyKeyConstant              = "ready"
	outputTargetRepositoryKeyConstant   = "target_repository"

	archivedWarningConstant        = "source project is archived; the target repository is created unarchived"
	emptyRepositoryWarningConstant = "source repository is empty; no history will be pushed"
	extraLargeWarningConstant      = "repository exceeds 5 GiB; expect a long mirror push and check GitHub size limits"
	lfsWarningConstant             = "LFS objects are not carried by a git mirror and need a separate transfer"
	targetExistsWarningConstant    = "target repository already exists; repository creation will be skipped"
	emptyOwnerBlockerConstant      = "target owner is not configured"
	discoveredMessageConstant      = "Project discovered"
	bucketFieldConstant            = "bucket"
	readyFieldConstant             = "ready"
)

// DiscoverHandler reads project facts from GitLab, classifies the size bucket and
// records migration readiness.
type DiscoverHandler struct {
	source *gitlab.Client
	target *githubcli.Client
}

// NewDiscoverHandler constructs the DISCOVER handler. The target client is optional and
// only used to detect an existing target repository.
func NewDiscoverHandler(source *gitlab.Client, target *githubcli.Client) *DiscoverHandler {
	return &DiscoverHandler{source: source, target: target}
}

// Execute implements pipeline.StageHandler.
func (handler *DiscoverHandler) Execute(executionContext context.Context, stageContext pipeline.StageContext) (pipeline.StageOutcome, error) {
	if handler.source == nil {
		return pipeline.StageOutcome{}, ErrSourceClientRequired
	}
	source := handler.source.Scoped(stageContext.Resources)
	project := stageContext.Project

	sourceProject, projectError := source.Project(executionContext, project.Reference().Identifier())
	if projectError != nil {
		return pipeline.StageOutcome{APICallsUsed: source.Calls()}, projectError
	}
	_, hasCI, ciError := source.RawFile(executionContext, project.Reference().Identifier(), ciConfigFileNameConstant, sourceProject.Ref())
	if ciError != nil {
		return pipeline.StageOutcome{APICallsUsed: source.Calls()}, ciError
	}
	_, hasSubmodules, submoduleError := source.RawFile(executionContext, project.Reference().Identifier(), gitModulesFileNameConstant, sourceProject.Ref())
	if submoduleError != nil {
		return pipeline.StageOutcome{APICallsUsed: source.Calls()}, submoduleError
	}

	repository := targetRepository(stageContext)
	targetCalls := 0
	targetExists := false
	if handler.target != nil && len(stageContext.Configuration.Target.Owner) > 0 {
		target := handler.target.Scoped(stageContext.Resources)
		_, found, resolveError := target.ResolveRepository(executionContext, repository)
		targetCalls = target.Calls()
		if resolveError != nil {
			return pipeline.StageOutcome{APICallsUsed: source.Calls() + targetCalls}, resolveError
		}
		targetExists = found
	}
	apiCalls := source.Calls() + targetCalls

	if project.GitLabProjectID == 0 {
		project.GitLabProjectID = sourceProject.ID
	}
	if len(project.PathWithNamespace) == 0 {
		project.PathWithNamespace = sourceProject.PathWithNamespace
	}
	project.TargetRepository = repository
	project.Facts = projectFacts(sourceProject, hasCI, hasSubmodules, targetExists)
	project.Bucket = migration.ClassifyBucket(repositorySize(sourceProject))
	project.Readiness = assessReadiness(stageContext.Configuration, sourceProject, project.Bucket, targetExists)

	artifactPath := filepath.Join(stageDirectory(stageContext, discoverDirectoryNameConstant), projectFileNameConstant)
	if writeError := writeJSON(artifactPath, sourceProject); writeError != nil {
		return pipeline.StageOutcome{APICallsUsed: apiCalls}, writeError
	}

	ready, _ := project.Readiness[readinessReadyKeyConstant].(bool)
	loggerFor(stageContext).Info(discoveredMessageConstant,
		zap.String(bucketFieldConstant, string(project.Bucket)),
		zap.Bool(readyFieldConstant, ready),
	)
	return pipeline.StageOutcome{
		Status: migration.StageStatusCompleted,
		Outputs: map[string]any{
			outputBucketKeyConstant:           string(project.Bucket),
			outputReadyKeyConstant:            ready,
			outputTargetRepositoryKeyConstant: repository,
			factHasCIKeyConstant:              hasCI,
			factHasSubmodulesKeyConstant:      hasSubmodules,
		},
		Artifacts:    []string{artifactPath},
		APICallsUsed: apiCalls,
	}, nil
}

func projectFacts(sourceProject gitlab.Project, hasCI bool, hasSubmodules bool, targetExists bool) map[string]any {
	facts := map[string]any{
		factProjectIDKeyConstant:            sourceProject.ID,
		factNameKeyConstant:                 sourceProject.Name,
		factDescriptionKeyConstant:          sourceProject.Description,
		factDefaultBranchKeyConstant:        sourceProject.Ref(),
		factVisibilityKeyConstant:           sourceProject.Visibility,
		factHTTPURLKeyConstant:              sourceProject.HTTPURLToRepo,
		factWebURLKeyConstant:               sourceProject.WebURL,
		factArchivedKeyConstant:             sourceProject.Archived,
		factEmptyRepositoryKeyConstant:      sourceProject.EmptyRepo,
		factIssuesEnabledKeyConstant:        sourceProject.IssuesEnabled,
		factMergeRequestsEnabledKeyConstant: sourceProject.MergeRequestsEnabled,
		factWikiEnabledKeyConstant:          sourceProject.WikiEnabled,
		factLFSEnabledKeyConstant:           sourceProject.LFSEnabled,
		factOpenIssuesKeyConstant:           sourceProject.OpenIssuesCount,
		factHasCIKeyConstant:                hasCI,
		factHasSubmodulesKeyConstant:        hasSubmodules,
		factTargetExistsKeyConstant:         targetExists,
	}
	if sourceProject.Statistics != nil {
		facts[factCommitCountKeyConstant] = sourceProject.Statistics.CommitCount
		facts[factRepositorySizeKeyConstant] = sourceProject.Statistics.RepositorySize
		facts[factLFSSizeKeyConstant] = sourceProject.Statistics.LFSObjectsSize
	}
	return facts
}

func repositorySize(sourceProject gitlab.Project) int64 {
	if sourceProject.Statistics == nil {
		return 0
	}
	return sourceProject.Statistics.RepositorySize
}

// assessReadiness lists blockers that make the project unmigratable as configured and
// warnings an operator should read before applying.
func assessReadiness(configuration migration.RunConfiguration, sourceProject gitlab.Project, bucket migration.ProjectBucket, targetExists bool) map[string]any {
	blockers := []string{}
	warnings := []string{}
	if len(configuration.Target.Owner) == 0 {
		blockers = append(blockers, emptyOwnerBlockerConstant)
	}
	if sourceProject.Archived {
		warnings = append(warnings, archivedWarningConstant)
	}
	if sourceProject.EmptyRepo {
		warnings = append(warnings, emptyRepositoryWarningConstant)
	}
	if bucket == migration.ProjectBucketExtraLarge {
		warnings = append(warnings, extraLargeWarningConstant)
	}
	if sourceProject.Statistics != nil && sourceProject.Statistics.LFSObjectsSize > 0 {
		warnings = append(warnings, lfsWarningConstant)
	}
	if targetExists {
		warnings = append(warnings, targetExistsWarningConstant)
	}
	return map[string]any{
		readinessReadyKeyConstant:    len(blockers) == 0,
		readinessBlockersKeyConstant: blockers,
		readinessWarningsKeyConstant: warnings,
	}
}
