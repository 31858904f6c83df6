package cicd

// Conversion gap types.
const (
	GapRunnerTags            = "runner_tags"
	GapInclude               = "include"
	GapExtends               = "extends"
	GapRules                 = "rules"
	GapOnlyExcept            = "only_except"
	GapManualJob             = "manual_job"
	GapWhenCondition         = "when_condition"
	GapTrigger               = "trigger"
	GapParallel              = "parallel"
	GapRetry                 = "retry"
	GapTimeout               = "timeout"
	GapCoverage              = "coverage"
	GapArtifactReports       = "artifact_reports"
	GapArtifactExpiry        = "artifact_expiry"
	GapArtifactUntracked     = "artifact_untracked"
	GapAllowFailureExitCodes = "allow_failure_exit_codes"
	GapEnvironmentAction     = "environment_action"
	GapImageEntrypoint       = "image_entrypoint"
	GapPredefinedVariable    = "predefined_variable"
	GapWorkflowRules         = "workflow_rules"
	GapHiddenJob             = "hidden_job"
	GapUnknownKeyword        = "unknown_keyword"
)

const (
	gapRunnerTagsMessageTemplateConstant         = "runner tags %v select self-managed runners; jobs run on %s"
	gapIncludeMessageTemplateConstant            = "included configuration (%d entries) is not fetched; convert the included files separately"
	gapExtendsMessageTemplateConstant            = "job extends %v; inherited keywords are not merged"
	gapRulesMessageConstant                      = "rules are not evaluated; the job runs on every trigger"
	gapOnlyExceptMessageConstant                 = "only/except filters are not evaluated; the job runs on every trigger"
	gapManualJobMessageConstant                  = "manual job runs automatically"
	gapWhenConditionMessageTemplateConstant      = "when: %s has no equivalent"
	gapTriggerMessageConstant                    = "downstream pipeline trigger was not converted; the job is omitted"
	gapParallelMessageConstant                   = "parallel execution is not converted to a matrix"
	gapRetryMessageConstant                      = "automatic retry has no equivalent"
	gapTimeoutMessageTemplateConstant            = "timeout %q could not be parsed"
	gapCoverageMessageConstant                   = "coverage regex has no equivalent"
	gapArtifactReportsMessageTemplateConstant    = "artifact reports %v are not published"
	gapArtifactExpiryMessageTemplateConstant     = "artifact expiry %q cannot be expressed in days"
	gapArtifactUntrackedMessageConstant          = "untracked files are not uploaded"
	gapAllowFailureExitCodesTemplateConstant     = "allow_failure exit codes %v widen to any failure"
	gapEnvironmentActionMessageTemplateConstant  = "environment action %q or on_stop %q is not converted"
	gapImageEntrypointMessageTemplateConstant    = "image entrypoint %v is not overridden"
	gapPredefinedVariableMessageTemplateConstant = "predefined variable %s has no equivalent"
	gapWorkflowRulesMessageConstant              = "workflow rules are not evaluated; triggers default to push and manual dispatch"
	gapHiddenJobMessageConstant                  = "hidden job is a template and was not emitted"
	gapUnknownKeywordMessageTemplateConstant     = "keyword %q has no equivalent"
)
