package cicd

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moti-malka/gl2gh/internal/transform"
)

const (
	// DefaultWorkflowName names the workflow when neither the request nor the source provides one.
	DefaultWorkflowName = "CI"
	// RunnerLabel is the hosted runner every converted job targets.
	RunnerLabel         = "ubuntu-latest"

	// MetadataJobCountKey holds the number of emitted jobs.
	MetadataJobCountKey = "job_count"
	// MetadataGapCountKey holds the number of recorded conversion gaps.
	MetadataGapCountKey = "gap_count"

	workflowDirectoryConstant     = ".github/workflows/"
	workflowFileExtensionConstant = ".yml"
	workflowIndentConstant        = 2
	allBranchesPatternConstant    = "**"

	checkoutActionConstant         = "actions/checkout@v4"
	cacheActionConstant            = "actions/cache@v4"
	cacheRestoreActionConstant     = "actions/cache/restore@v4"
	cacheSaveActionConstant        = "actions/cache/save@v4"
	uploadArtifactActionConstant   = "actions/upload-artifact@v4"
	downloadArtifactActionConstant = "actions/download-artifact@v4"

	checkoutStepNameConstant              = "Checkout"
	beforeScriptStepNameConstant          = "Before script"
	scriptStepNameConstant                = "Script"
	afterScriptStepNameConstant           = "After script"
	restoreCacheStepNameConstant          = "Restore cache"
	saveCacheStepNameConstant             = "Save cache"
	cacheStepNameConstant                 = "Cache"
	uploadArtifactsStepNameConstant       = "Upload artifacts"
	downloadArtifactsStepTemplateConstant = "Download %s artifacts"
	withNameKeyConstant                   = "name"
	withPathKeyConstant                   = "path"
	withKeyKeyConstant                    = "key"
	withRetentionDaysKeyConstant          = "retention-days"
	hashFilesTemplateConstant             = "${{ hashFiles(%s) }}"
	hashFilesArgumentTemplateConstant     = "'%s'"
	hashFilesArgumentSeparatorConstant    = ", "
	cacheKeySeparatorConstant             = "-"
	defaultCacheKeyConstant               = "default"
	excludedPathPrefixConstant            = "!"
	lineSeparatorConstant                 = "\n"
	alwaysConditionConstant               = "always()"
	failureConditionConstant              = "failure()"
	neverConditionConstant                = "false"
	whenOnSuccessConstant                 = "on_success"
	whenOnFailureConstant                 = "on_failure"
	whenAlwaysConstant                    = "always"
	whenManualConstant                    = "manual"
	whenNeverConstant                     = "never"
	cachePolicyPullConstant               = "pull"
	cachePolicyPushConstant               = "push"
	hiddenJobPrefixConstant               = "."
	mergeKeyConstant                      = "<<"
	defaultStageNameConstant              = "test"
	preStageNameConstant                  = ".pre"
	postStageNameConstant                 = ".post"
	reportsListSeparatorConstant          = ", "

	stagesKeyConstant       = "stages"
	typesKeyConstant        = "types"
	variablesKeyConstant    = "variables"
	imageKeyConstant        = "image"
	servicesKeyConstant     = "services"
	beforeScriptKeyConstant = "before_script"
	afterScriptKeyConstant  = "after_script"
	cacheKeyConstant        = "cache"
	defaultKeyConstant      = "default"
	includeKeyConstant      = "include"
	workflowKeyConstant     = "workflow"

	missingInputErrorConstant               = "gitlab_ci_yaml: value required"
	nonMappingDocumentErrorConstant         = "gitlab_ci_yaml: top-level document must be a mapping"
	jobDecodeErrorTemplateConstant          = "job %q: %v"
	sectionDecodeErrorTemplateConstant      = "%s: %v"
	renderErrorTemplateConstant             = "render workflow: %v"
	undeclaredStageWarningTemplateConstant  = "job %q uses undeclared stage %q"
	unknownNeedWarningTemplateConstant      = "job %q needs %q, which was not converted"
	missingScriptWarningTemplateConstant    = "job %q has no script"
	noJobsWarningConstant                   = "no runnable jobs were converted"
	externalVariableWarningTemplateConstant = "variable $%s is not defined in the pipeline; create it as a repository variable or secret"
)

var defaultStages = []string{"build", "test", "deploy"}

var knownJobKeywords = map[string]struct{}{
	"stage": {}, "script": {}, "before_script": {}, "after_script": {}, "image": {}, "services": {},
	"artifacts": {}, "cache": {}, "tags": {}, "variables": {}, "needs": {}, "dependencies": {},
	"allow_failure": {}, "when": {}, "environment": {}, "extends": {}, "timeout": {}, "retry": {},
	"parallel": {}, "trigger": {}, "coverage": {}, "rules": {}, "only": {}, "except": {}, mergeKeyConstant: {},
}

var defaultSectionKeys = map[string]struct{}{
	imageKeyConstant: {}, servicesKeyConstant: {}, beforeScriptKeyConstant: {}, afterScriptKeyConstant: {}, cacheKeyConstant: {},
}

// Request is the input of a CI/CD conversion.
type Request struct {
	GitLabCIYAML string `json:"gitlab_ci_yaml"`
	WorkflowName string `json:"workflow_name"`
}

// Output is the converted workflow.
type Output struct {
	Workflow       Workflow                  `json:"workflow"`
	WorkflowYAML   string                    `json:"workflow_yaml"`
	WorkflowPath   string                    `json:"workflow_path"`
	JobMapping     map[string]string         `json:"job_mapping"`
	ConversionGaps []transform.ConversionGap `json:"conversion_gaps"`
}

// Transformer converts GitLab CI configuration. It holds no state between calls.
type Transformer struct{}

// NewTransformer constructs a Transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform converts the pipeline. Invalid YAML fails with the parser error verbatim.
func (transformer *Transformer) Transform(request Request) transform.Result[Output] {
	if len(strings.TrimSpace(request.GitLabCIYAML)) == 0 {
		return transform.Failed[Output](missingInputErrorConstant)
	}

	var document yaml.Node
	if parseError := yaml.Unmarshal([]byte(request.GitLabCIYAML), &document); parseError != nil {
		return transform.Failed[Output](parseError.Error())
	}
	if len(document.Content) == 0 {
		return transform.Failed[Output](missingInputErrorConstant)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return transform.Failed[Output](nonMappingDocumentErrorConstant)
	}

	pipelineConversion := newConversion(request.WorkflowName)
	if conversionError := pipelineConversion.read(root); conversionError != nil {
		return transform.Failed[Output](conversionError.Error())
	}
	workflow := pipelineConversion.build()

	workflowYAML, renderError := RenderWorkflow(workflow)
	if renderError != nil {
		return transform.Failed[Output](fmt.Sprintf(renderErrorTemplateConstant, renderError))
	}

	output := Output{
		Workflow:       workflow,
		WorkflowYAML:   workflowYAML,
		WorkflowPath:   WorkflowPath(workflow.Name),
		JobMapping:     pipelineConversion.jobMapping,
		ConversionGaps: pipelineConversion.gaps,
	}
	return transform.Succeeded(output, pipelineConversion.warnings, map[string]any{
		transform.MetadataConversionGapsKey: pipelineConversion.gaps,
		MetadataJobCountKey:                 len(workflow.Jobs),
		MetadataGapCountKey:                 len(pipelineConversion.gaps),
	})
}

// RenderWorkflow serializes the workflow with two-space indentation.
func RenderWorkflow(workflow Workflow) (string, error) {
	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(workflowIndentConstant)
	if encodeError := encoder.Encode(workflow); encodeError != nil {
		return "", encodeError
	}
	if closeError := encoder.Close(); closeError != nil {
		return "", closeError
	}
	return buffer.String(), nil
}

// WorkflowPath returns the repository path of the workflow file.
func WorkflowPath(workflowName string) string {
	return workflowDirectoryConstant + SanitizeJobID(workflowName) + workflowFileExtensionConstant
}

type sourceJob struct {
	name        string
	definition  gitlabJob
	unknownKeys []string
	stageIndex  int
}

type conversion struct {
	workflowName    string
	stages          []string
	globalVariables variableMap
	defaults        gitlabJob
	jobs            []sourceJob
	gaps            []transform.ConversionGap
	warnings        []string
	jobMapping      map[string]string
}

func newConversion(workflowName string) *conversion {
	return &conversion{
		workflowName: strings.TrimSpace(workflowName),
		gaps:         []transform.ConversionGap{},
		warnings:     []string{},
		jobMapping:   map[string]string{},
	}
}

func (pipelineConversion *conversion) addGap(gapType string, job string, message string) {
	pipelineConversion.gaps = append(pipelineConversion.gaps, transform.ConversionGap{Type: gapType, Job: job, Message: message})
}

func (pipelineConversion *conversion) read(root *yaml.Node) error {
	defaultEntries := map[string]*yaml.Node{}
	defaultOrder := []string{}
	setDefault := func(key string, value *yaml.Node) {
		if _, exists := defaultEntries[key]; !exists {
			defaultOrder = append(defaultOrder, key)
		}
		defaultEntries[key] = value
	}

	declaredStages := []string(nil)
	jobNodes := []*yaml.Node{}
	jobNames := []string{}
	var defaultSection *yaml.Node

	for index := 0; index+1 < len(root.Content); index += 2 {
		key, value := root.Content[index].Value, root.Content[index+1]
		switch {
		case key == stagesKeyConstant || key == typesKeyConstant:
			var stages stringList
			if decodeError := value.Decode(&stages); decodeError != nil {
				return fmt.Errorf(sectionDecodeErrorTemplateConstant, key, decodeError)
			}
			declaredStages = []string(stages)
		case key == variablesKeyConstant:
			if decodeError := value.Decode(&pipelineConversion.globalVariables); decodeError != nil {
				return fmt.Errorf(sectionDecodeErrorTemplateConstant, key, decodeError)
			}
		case key == defaultKeyConstant:
			defaultSection = value
		case key == includeKeyConstant:
			entries := 1
			if value.Kind == yaml.SequenceNode {
				entries = len(value.Content)
			}
			pipelineConversion.addGap(GapInclude, "", fmt.Sprintf(gapIncludeMessageTemplateConstant, entries))
		case key == workflowKeyConstant:
			pipelineConversion.readWorkflowSection(value)
		case isDefaultSectionKey(key):
			setDefault(key, value)
		case strings.HasPrefix(key, hiddenJobPrefixConstant):
			pipelineConversion.addGap(GapHiddenJob, key, gapHiddenJobMessageConstant)
		case value.Kind == yaml.MappingNode:
			jobNames = append(jobNames, key)
			jobNodes = append(jobNodes, value)
		default:
			pipelineConversion.addGap(GapUnknownKeyword, "", fmt.Sprintf(gapUnknownKeywordMessageTemplateConstant, key))
		}
	}

	if defaultSection != nil && defaultSection.Kind == yaml.MappingNode {
		for index := 0; index+1 < len(defaultSection.Content); index += 2 {
			setDefault(defaultSection.Content[index].Value, defaultSection.Content[index+1])
		}
	}
	defaultsNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range defaultOrder {
		defaultsNode.Content = append(defaultsNode.Content, plainKey(key), defaultEntries[key])
	}
	if decodeError := defaultsNode.Decode(&pipelineConversion.defaults); decodeError != nil {
		return fmt.Errorf(sectionDecodeErrorTemplateConstant, defaultKeyConstant, decodeError)
	}

	if declaredStages == nil {
		declaredStages = defaultStages
	}
	pipelineConversion.stages = append(append([]string{preStageNameConstant}, declaredStages...), postStageNameConstant)

	for jobIndex, jobNode := range jobNodes {
		var definition gitlabJob
		if decodeError := jobNode.Decode(&definition); decodeError != nil {
			return fmt.Errorf(jobDecodeErrorTemplateConstant, jobNames[jobIndex], decodeError)
		}
		unknownKeys := []string{}
		for keyIndex := 0; keyIndex+1 < len(jobNode.Content); keyIndex += 2 {
			if _, known := knownJobKeywords[jobNode.Content[keyIndex].Value]; !known {
				unknownKeys = append(unknownKeys, jobNode.Content[keyIndex].Value)
			}
		}
		pipelineConversion.jobs = append(pipelineConversion.jobs, sourceJob{
			name:        jobNames[jobIndex],
			definition:  definition,
			unknownKeys: unknownKeys,
			stageIndex:  pipelineConversion.stageIndex(jobNames[jobIndex], definition.Stage),
		})
	}
	return nil
}

func (pipelineConversion *conversion) readWorkflowSection(value *yaml.Node) {
	var section struct {
		Name  string    `yaml:"name"`
		Rules yaml.Node `yaml:"rules"`
	}
	if decodeError := value.Decode(&section); decodeError != nil {
		pipelineConversion.addGap(GapWorkflowRules, "", gapWorkflowRulesMessageConstant)
		return
	}
	if len(pipelineConversion.workflowName) == 0 && len(strings.TrimSpace(section.Name)) > 0 {
		pipelineConversion.workflowName = strings.TrimSpace(section.Name)
	}
	if section.Rules.Kind != 0 {
		pipelineConversion.addGap(GapWorkflowRules, "", gapWorkflowRulesMessageConstant)
	}
}

func (pipelineConversion *conversion) stageIndex(jobName string, stage string) int {
	if len(stage) == 0 {
		stage = defaultStageNameConstant
	}
	for index, candidate := range pipelineConversion.stages {
		if candidate == stage {
			return index
		}
	}
	pipelineConversion.warnings = append(pipelineConversion.warnings, fmt.Sprintf(undeclaredStageWarningTemplateConstant, jobName, stage))
	return len(pipelineConversion.stages)
}

func (pipelineConversion *conversion) build() Workflow {
	workflowName := pipelineConversion.workflowName
	if len(workflowName) == 0 {
		workflowName = DefaultWorkflowName
	}

	allocator := newIdentifierAllocator()
	emitted := []sourceJob{}
	for _, job := range pipelineConversion.jobs {
		if job.definition.Trigger.Kind != 0 {
			pipelineConversion.addGap(GapTrigger, job.name, gapTriggerMessageConstant)
			continue
		}
		pipelineConversion.jobMapping[job.name] = allocator.allocate(SanitizeJobID(job.name))
		emitted = append(emitted, job)
	}

	stageJobs := map[int][]string{}
	for _, job := range emitted {
		stageJobs[job.stageIndex] = append(stageJobs[job.stageIndex], pipelineConversion.jobMapping[job.name])
	}

	jobs := JobList{}
	artifactNames := map[string]string{}
	for _, job := range emitted {
		convertedJob, artifactName := pipelineConversion.convertJob(job, stageJobs)
		if len(artifactName) > 0 {
			artifactNames[convertedJob.ID] = artifactName
		}
		jobs = append(jobs, convertedJob)
	}
	for jobIndex, job := range emitted {
		jobs[jobIndex].Steps = insertDownloadSteps(jobs[jobIndex], pipelineConversion.artifactSources(job, jobs[jobIndex]), artifactNames)
	}
	if len(jobs) == 0 {
		pipelineConversion.warnings = append(pipelineConversion.warnings, noJobsWarningConstant)
	}

	return Workflow{
		Name: workflowName,
		On: Triggers{
			Push:             &BranchFilter{Branches: []string{allBranchesPatternConstant}, Tags: []string{allBranchesPatternConstant}},
			WorkflowDispatch: &struct{}{},
		},
		Env:  pipelineConversion.workflowEnv(),
		Jobs: jobs,
	}
}

func (pipelineConversion *conversion) convertJob(job sourceJob, stageJobs map[int][]string) (Job, string) {
	definition := pipelineConversion.inherit(job.definition)
	identifier := pipelineConversion.jobMapping[job.name]

	convertedJob := Job{ID: identifier, RunsOn: RunnerLabel, Needs: pipelineConversion.resolveNeeds(job, stageJobs)}
	if identifier != job.name {
		convertedJob.Name = job.name
	}
	if len(definition.Variables) > 0 {
		convertedJob.Env = map[string]string(definition.Variables)
	}

	pipelineConversion.applyWhen(&convertedJob, job.name, definition.When)
	pipelineConversion.recordJobGaps(job, definition)

	if definition.AllowFailure != nil && definition.AllowFailure.Allowed {
		convertedJob.ContinueOnError = true
		if len(definition.AllowFailure.ExitCodes) > 0 {
			pipelineConversion.addGap(GapAllowFailureExitCodes, job.name, fmt.Sprintf(gapAllowFailureExitCodesTemplateConstant, definition.AllowFailure.ExitCodes))
		}
	}
	if len(strings.TrimSpace(definition.Timeout)) > 0 {
		if timeout, parsed := parseGitLabDuration(definition.Timeout); parsed {
			convertedJob.TimeoutMinutes = ceilingUnits(timeout, time.Minute)
		} else {
			pipelineConversion.addGap(GapTimeout, job.name, fmt.Sprintf(gapTimeoutMessageTemplateConstant, definition.Timeout))
		}
	}
	if definition.Environment != nil && len(definition.Environment.Name) > 0 {
		convertedJob.Environment = &Environment{
			Name: expressionForReferences(definition.Environment.Name),
			URL:  expressionForReferences(definition.Environment.URL),
		}
		if len(definition.Environment.Action) > 0 || len(definition.Environment.OnStop) > 0 {
			pipelineConversion.addGap(GapEnvironmentAction, job.name, fmt.Sprintf(gapEnvironmentActionMessageTemplateConstant, definition.Environment.Action, definition.Environment.OnStop))
		}
	}
	if definition.Image != nil && len(definition.Image.Name) > 0 {
		convertedJob.Container = &Container{Image: expressionForReferences(definition.Image.Name)}
		if len(definition.Image.Entrypoint) > 0 {
			pipelineConversion.addGap(GapImageEntrypoint, job.name, fmt.Sprintf(gapImageEntrypointMessageTemplateConstant, []string(definition.Image.Entrypoint)))
		}
	}
	convertedJob.Services = convertServices(definition.Services)

	steps := []Step{{Name: checkoutStepNameConstant, Uses: checkoutActionConstant}}
	restoreSteps, saveSteps := convertCaches(definition.Cache)
	steps = append(steps, restoreSteps...)
	if definition.BeforeScript != nil && len(*definition.BeforeScript) > 0 {
		steps = append(steps, Step{Name: beforeScriptStepNameConstant, Run: strings.Join(*definition.BeforeScript, lineSeparatorConstant)})
	}
	if len(definition.Script) > 0 {
		steps = append(steps, Step{Name: scriptStepNameConstant, Run: strings.Join(definition.Script, lineSeparatorConstant)})
	} else {
		pipelineConversion.warnings = append(pipelineConversion.warnings, fmt.Sprintf(missingScriptWarningTemplateConstant, job.name))
	}
	if definition.AfterScript != nil && len(*definition.AfterScript) > 0 {
		steps = append(steps, Step{Name: afterScriptStepNameConstant, If: alwaysConditionConstant, Run: strings.Join(*definition.AfterScript, lineSeparatorConstant)})
	}
	uploadStep, artifactName := pipelineConversion.convertArtifacts(job.name, identifier, definition.Artifacts)
	if uploadStep != nil {
		steps = append(steps, *uploadStep)
	}
	steps = append(steps, saveSteps...)
	convertedJob.Steps = steps
	return convertedJob, artifactName
}

// inherit fills keywords the job leaves unset from the default section.
func (pipelineConversion *conversion) inherit(definition gitlabJob) gitlabJob {
	defaults := pipelineConversion.defaults
	if definition.Image == nil {
		definition.Image = defaults.Image
	}
	if definition.Services == nil {
		definition.Services = defaults.Services
	}
	if definition.BeforeScript == nil {
		definition.BeforeScript = defaults.BeforeScript
	}
	if definition.AfterScript == nil {
		definition.AfterScript = defaults.AfterScript
	}
	if definition.Cache == nil {
		definition.Cache = defaults.Cache
	}
	if definition.Artifacts == nil {
		definition.Artifacts = defaults.Artifacts
	}
	if definition.Tags == nil {
		definition.Tags = defaults.Tags
	}
	if len(definition.Timeout) == 0 {
		definition.Timeout = defaults.Timeout
	}
	if definition.Retry.Kind == 0 {
		definition.Retry = defaults.Retry
	}
	return definition
}

func (pipelineConversion *conversion) resolveNeeds(job sourceJob, stageJobs map[int][]string) []string {
	if job.definition.Needs.Declared {
		needs := []string{}
		for _, neededName := range job.definition.Needs.Jobs {
			neededIdentifier, converted := pipelineConversion.jobMapping[neededName]
			if !converted {
				pipelineConversion.warnings = append(pipelineConversion.warnings, fmt.Sprintf(unknownNeedWarningTemplateConstant, job.name, neededName))
				continue
			}
			needs = append(needs, neededIdentifier)
		}
		return needs
	}
	for previousStage := job.stageIndex - 1; previousStage >= 0; previousStage-- {
		if previousJobs := stageJobs[previousStage]; len(previousJobs) > 0 {
			return append([]string{}, previousJobs...)
		}
	}
	return nil
}

// artifactSources lists the jobs whose artifacts are downloaded: the explicit
// dependencies when declared, the needs otherwise.
func (pipelineConversion *conversion) artifactSources(job sourceJob, convertedJob Job) []string {
	if job.definition.Dependencies == nil {
		return convertedJob.Needs
	}
	sources := []string{}
	for _, dependencyName := range job.definition.Dependencies {
		if identifier, converted := pipelineConversion.jobMapping[dependencyName]; converted {
			sources = append(sources, identifier)
		}
	}
	return sources
}

func insertDownloadSteps(job Job, sources []string, artifactNames map[string]string) []Step {
	downloads := []Step{}
	for _, source := range sources {
		artifactName, uploads := artifactNames[source]
		if !uploads {
			continue
		}
		downloads = append(downloads, Step{
			Name: fmt.Sprintf(downloadArtifactsStepTemplateConstant, source),
			Uses: downloadArtifactActionConstant,
			With: map[string]string{withNameKeyConstant: artifactName},
		})
	}
	if len(downloads) == 0 {
		return job.Steps
	}
	steps := append([]Step{}, job.Steps[:1]...)
	steps = append(steps, downloads...)
	return append(steps, job.Steps[1:]...)
}

func (pipelineConversion *conversion) applyWhen(convertedJob *Job, jobName string, when string) {
	switch when {
	case "", whenOnSuccessConstant:
	case whenAlwaysConstant:
		convertedJob.If = alwaysConditionConstant
	case whenOnFailureConstant:
		convertedJob.If = failureConditionConstant
	case whenNeverConstant:
		convertedJob.If = neverConditionConstant
	case whenManualConstant:
		pipelineConversion.addGap(GapManualJob, jobName, gapManualJobMessageConstant)
	default:
		pipelineConversion.addGap(GapWhenCondition, jobName, fmt.Sprintf(gapWhenConditionMessageTemplateConstant, when))
	}
}

func (pipelineConversion *conversion) recordJobGaps(job sourceJob, definition gitlabJob) {
	if len(definition.Tags) > 0 {
		pipelineConversion.addGap(GapRunnerTags, job.name, fmt.Sprintf(gapRunnerTagsMessageTemplateConstant, []string(definition.Tags), RunnerLabel))
	}
	if len(definition.Extends) > 0 {
		pipelineConversion.addGap(GapExtends, job.name, fmt.Sprintf(gapExtendsMessageTemplateConstant, []string(definition.Extends)))
	}
	if definition.Rules.Kind != 0 {
		pipelineConversion.addGap(GapRules, job.name, gapRulesMessageConstant)
	}
	if definition.Only.Kind != 0 || definition.Except.Kind != 0 {
		pipelineConversion.addGap(GapOnlyExcept, job.name, gapOnlyExceptMessageConstant)
	}
	if definition.Parallel.Kind != 0 {
		pipelineConversion.addGap(GapParallel, job.name, gapParallelMessageConstant)
	}
	if definition.Retry.Kind != 0 {
		pipelineConversion.addGap(GapRetry, job.name, gapRetryMessageConstant)
	}
	if len(definition.Coverage) > 0 {
		pipelineConversion.addGap(GapCoverage, job.name, gapCoverageMessageConstant)
	}
	for _, unknownKey := range job.unknownKeys {
		pipelineConversion.addGap(GapUnknownKeyword, job.name, fmt.Sprintf(gapUnknownKeywordMessageTemplateConstant, unknownKey))
	}
}

func convertServices(services []serviceSpec) map[string]Service {
	if len(services) == 0 {
		return nil
	}
	allocator := newIdentifierAllocator()
	converted := map[string]Service{}
	for _, service := range services {
		if len(service.Name) == 0 {
			continue
		}
		key := serviceIdentifier(service.Name)
		if len(strings.TrimSpace(service.Alias)) > 0 {
			key = SanitizeJobID(service.Alias)
		}
		converted[allocator.allocate(key)] = Service{Image: service.Name, Env: service.Variables}
	}
	return converted
}

func convertCaches(caches *cacheList) ([]Step, []Step) {
	if caches == nil {
		return nil, nil
	}
	restoreSteps := []Step{}
	saveSteps := []Step{}
	for _, cache := range *caches {
		if len(cache.Paths) == 0 {
			continue
		}
		with := map[string]string{
			withKeyKeyConstant:  cacheKey(cache.Key),
			withPathKeyConstant: strings.Join(cache.Paths, lineSeparatorConstant),
		}
		switch cache.Policy {
		case cachePolicyPullConstant:
			restoreSteps = append(restoreSteps, Step{Name: restoreCacheStepNameConstant, Uses: cacheRestoreActionConstant, With: with})
		case cachePolicyPushConstant:
			saveSteps = append(saveSteps, Step{Name: saveCacheStepNameConstant, Uses: cacheSaveActionConstant, With: with})
		default:
			restoreSteps = append(restoreSteps, Step{Name: cacheStepNameConstant, Uses: cacheActionConstant, With: with})
		}
	}
	return restoreSteps, saveSteps
}

func cacheKey(key cacheKeySpec) string {
	if len(key.Files) > 0 {
		arguments := make([]string, 0, len(key.Files))
		for _, file := range key.Files {
			arguments = append(arguments, fmt.Sprintf(hashFilesArgumentTemplateConstant, file))
		}
		hashed := fmt.Sprintf(hashFilesTemplateConstant, strings.Join(arguments, hashFilesArgumentSeparatorConstant))
		if len(key.Prefix) > 0 {
			return expressionForReferences(key.Prefix) + cacheKeySeparatorConstant + hashed
		}
		return hashed
	}
	if len(strings.TrimSpace(key.Value)) == 0 {
		return defaultCacheKeyConstant
	}
	return expressionForReferences(key.Value)
}

func (pipelineConversion *conversion) convertArtifacts(jobName string, identifier string, artifacts *artifactsSpec) (*Step, string) {
	if artifacts == nil {
		return nil, ""
	}
	if len(artifacts.Reports) > 0 {
		reportTypes := make([]string, 0, len(artifacts.Reports))
		for reportType := range artifacts.Reports {
			reportTypes = append(reportTypes, reportType)
		}
		sort.Strings(reportTypes)
		pipelineConversion.addGap(GapArtifactReports, jobName, fmt.Sprintf(gapArtifactReportsMessageTemplateConstant, strings.Join(reportTypes, reportsListSeparatorConstant)))
	}
	if artifacts.Untracked {
		pipelineConversion.addGap(GapArtifactUntracked, jobName, gapArtifactUntrackedMessageConstant)
	}
	if len(artifacts.Paths) == 0 {
		return nil, ""
	}

	artifactName := identifier
	if len(strings.TrimSpace(artifacts.Name)) > 0 {
		artifactName = expressionForReferences(artifacts.Name)
	}
	paths := append([]string{}, artifacts.Paths...)
	for _, excluded := range artifacts.Exclude {
		paths = append(paths, excludedPathPrefixConstant+excluded)
	}
	step := Step{
		Name: uploadArtifactsStepNameConstant,
		Uses: uploadArtifactActionConstant,
		With: map[string]string{
			withNameKeyConstant: artifactName,
			withPathKeyConstant: strings.Join(paths, lineSeparatorConstant),
		},
	}
	switch artifacts.When {
	case whenAlwaysConstant:
		step.If = alwaysConditionConstant
	case whenOnFailureConstant:
		step.If = failureConditionConstant
	}
	if len(strings.TrimSpace(artifacts.ExpireIn)) > 0 {
		if expiry, parsed := parseGitLabDuration(artifacts.ExpireIn); parsed {
			step.With[withRetentionDaysKeyConstant] = strconv.Itoa(ceilingUnits(expiry, hoursPerDayConstant*time.Hour))
		} else {
			pipelineConversion.addGap(GapArtifactExpiry, jobName, fmt.Sprintf(gapArtifactExpiryMessageTemplateConstant, artifacts.ExpireIn))
		}
	}
	return &step, artifactName
}

// workflowEnv carries global variables and maps referenced predefined variables.
func (pipelineConversion *conversion) workflowEnv() map[string]string {
	env := map[string]string{}
	for name, value := range pipelineConversion.globalVariables {
		env[name] = value
	}

	defined := map[string]struct{}{}
	for name := range pipelineConversion.globalVariables {
		defined[name] = struct{}{}
	}
	texts := []string{}
	for _, value := range pipelineConversion.globalVariables {
		texts = append(texts, value)
	}
	for _, job := range pipelineConversion.jobs {
		definition := pipelineConversion.inherit(job.definition)
		for name, value := range definition.Variables {
			defined[name] = struct{}{}
			texts = append(texts, value)
		}
		texts = append(texts, jobTexts(definition)...)
	}

	for _, name := range referencedVariables(texts...) {
		if _, userDefined := defined[name]; userDefined {
			continue
		}
		if expression, mapped := predefinedVariables[name]; mapped {
			env[name] = expression
			continue
		}
		if strings.HasPrefix(name, predefinedVariablePrefixConstant) {
			pipelineConversion.addGap(GapPredefinedVariable, "", fmt.Sprintf(gapPredefinedVariableMessageTemplateConstant, name))
			continue
		}
		pipelineConversion.warnings = append(pipelineConversion.warnings, fmt.Sprintf(externalVariableWarningTemplateConstant, name))
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func jobTexts(definition gitlabJob) []string {
	texts := append([]string{}, definition.Script...)
	if definition.BeforeScript != nil {
		texts = append(texts, *definition.BeforeScript...)
	}
	if definition.AfterScript != nil {
		texts = append(texts, *definition.AfterScript...)
	}
	if definition.Image != nil {
		texts = append(texts, definition.Image.Name)
	}
	if definition.Environment != nil {
		texts = append(texts, definition.Environment.Name, definition.Environment.URL)
	}
	if definition.Artifacts != nil {
		texts = append(texts, definition.Artifacts.Name)
		texts = append(texts, definition.Artifacts.Paths...)
	}
	if definition.Cache != nil {
		for _, cache := range *definition.Cache {
			texts = append(texts, cache.Key.Value, cache.Key.Prefix)
			texts = append(texts, cache.Paths...)
		}
	}
	return texts
}

func isDefaultSectionKey(key string) bool {
	_, isDefault := defaultSectionKeys[key]
	return isDefault
}
