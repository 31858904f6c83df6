package migration

import (
	"maps"
	"strings"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	defaultParallelLimitConstant         = 4
	defaultArtifactRootConstant          = "artifacts"
	defaultSourceBaseURLConstant         = "https://gitlab.com"
	defaultTargetHostnameConstant        = "github.com"
	defaultRepositoryVisibilityConstant  = "private"
	requiredValueMessageConstant         = "value required"
	positiveValueMessageConstant         = "must be greater than zero"
	nonNegativeValueMessageConstant      = "must not be negative"
	unsupportedPolicyMessageConstant     = "unsupported export failure policy"
	unsupportedVisibilityMessageConstant = "unsupported repository visibility"
	sourceBaseURLFieldNameConstant       = "source.base_url"
	targetOwnerFieldNameConstant         = "target.owner"
	targetVisibilityFieldNameConstant    = "target.visibility"
	parallelLimitFieldNameConstant       = "parallel_limit"
	apiCallBudgetFieldNameConstant       = "api_call_budget"
	apiCallsPerSecondFieldNameConstant   = "api_calls_per_second"
	artifactRootFieldNameConstant        = "artifact_root"
	exportFailurePolicyFieldNameConstant = "export_failure_policy"
	repositoryPathSeparatorConstant      = "/"
)

// ExportFailurePolicy decides whether later stages may use partially exported data.
type ExportFailurePolicy string

// Supported export failure policies.
const (
	// ExportFailurePolicyHardStop halts a project once EXPORT fails.
	ExportFailurePolicyHardStop        ExportFailurePolicy = ExportFailurePolicy("hard_stop")
	// ExportFailurePolicyContinuePartial lets PLAN_ONLY runs transform and plan partial exports.
	ExportFailurePolicyContinuePartial ExportFailurePolicy = ExportFailurePolicy("continue_partial")
)

var supportedRepositoryVisibilities = map[string]struct{}{
	"private":  {},
	"public":   {},
	"internal": {},
}

// SourceConfiguration describes the GitLab instance projects are read from.
type SourceConfiguration struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Token   string `mapstructure:"token" json:"-"`
}

// TargetConfiguration describes the GitHub owner projects are migrated into.
type TargetConfiguration struct {
	Hostname   string `mapstructure:"hostname" json:"hostname"`
	Owner      string `mapstructure:"owner" json:"owner"`
	Token      string `mapstructure:"token" json:"-"`
	Visibility string `mapstructure:"visibility" json:"visibility"`
}

// RunConfiguration is the typed configuration a run is created with.
type RunConfiguration struct {
	Source              SourceConfiguration `mapstructure:"source" json:"source"`
	Target              TargetConfiguration `mapstructure:"target" json:"target"`
	ParallelLimit       int                 `mapstructure:"parallel_limit" json:"parallel_limit"`
	APICallBudget       int                 `mapstructure:"api_call_budget" json:"api_call_budget"`
	APICallsPerSecond   float64             `mapstructure:"api_calls_per_second" json:"api_calls_per_second"`
	ArtifactRoot        string              `mapstructure:"artifact_root" json:"artifact_root"`
	ExportFailurePolicy ExportFailurePolicy `mapstructure:"export_failure_policy" json:"export_failure_policy"`
	UserMappings        map[string]string   `mapstructure:"user_mappings" json:"user_mappings,omitempty"`
	URLMappings         map[string]string   `mapstructure:"url_mappings" json:"url_mappings,omitempty"`
	DryRun              bool                `mapstructure:"dry_run" json:"dry_run"`
	BaseRunID           string              `mapstructure:"base_run_id" json:"base_run_id,omitempty"`
	// Passthrough carries platform-specific options the engine does not interpret.
	Passthrough         map[string]any      `mapstructure:"passthrough" json:"passthrough,omitempty"`
}

// DefaultRunConfiguration returns baseline configuration values.
func DefaultRunConfiguration() RunConfiguration {
	return RunConfiguration{
		Source:              SourceConfiguration{BaseURL: defaultSourceBaseURLConstant},
		Target:              TargetConfiguration{Hostname: defaultTargetHostnameConstant, Visibility: defaultRepositoryVisibilityConstant},
		ParallelLimit:       defaultParallelLimitConstant,
		ArtifactRoot:        defaultArtifactRootConstant,
		ExportFailurePolicy: ExportFailurePolicyHardStop,
	}
}

// Sanitize trims values and fills defaults for unset fields.
func (configuration RunConfiguration) Sanitize() RunConfiguration {
	defaults := DefaultRunConfiguration()
	sanitized := configuration.Clone()

	sanitized.Source.BaseURL = strings.TrimRight(strings.TrimSpace(sanitized.Source.BaseURL), repositoryPathSeparatorConstant)
	if len(sanitized.Source.BaseURL) == 0 {
		sanitized.Source.BaseURL = defaults.Source.BaseURL
	}
	sanitized.Source.Token = strings.TrimSpace(sanitized.Source.Token)

	sanitized.Target.Hostname = strings.TrimSpace(sanitized.Target.Hostname)
	if len(sanitized.Target.Hostname) == 0 {
		sanitized.Target.Hostname = defaults.Target.Hostname
	}
	sanitized.Target.Owner = strings.TrimSpace(sanitized.Target.Owner)
	sanitized.Target.Token = strings.TrimSpace(sanitized.Target.Token)
	sanitized.Target.Visibility = strings.ToLower(strings.TrimSpace(sanitized.Target.Visibility))
	if len(sanitized.Target.Visibility) == 0 {
		sanitized.Target.Visibility = defaults.Target.Visibility
	}

	if sanitized.ParallelLimit == 0 {
		sanitized.ParallelLimit = defaults.ParallelLimit
	}
	sanitized.ArtifactRoot = strings.TrimSpace(sanitized.ArtifactRoot)
	if len(sanitized.ArtifactRoot) == 0 {
		sanitized.ArtifactRoot = defaults.ArtifactRoot
	}
	policy := ExportFailurePolicy(strings.ToLower(strings.TrimSpace(string(sanitized.ExportFailurePolicy))))
	if len(policy) == 0 {
		policy = defaults.ExportFailurePolicy
	}
	sanitized.ExportFailurePolicy = policy

	sanitized.BaseRunID = strings.TrimSpace(sanitized.BaseRunID)
	sanitized.UserMappings = trimMapping(sanitized.UserMappings)
	sanitized.URLMappings = trimMapping(sanitized.URLMappings)

	return sanitized
}

// Validate reports the first invalid field as a validation failure.
func (configuration RunConfiguration) Validate() error {
	if len(strings.TrimSpace(configuration.Source.BaseURL)) == 0 {
		return failures.NewValidationError(sourceBaseURLFieldNameConstant, requiredValueMessageConstant)
	}
	if len(strings.TrimSpace(configuration.Target.Owner)) == 0 {
		return failures.NewValidationError(targetOwnerFieldNameConstant, requiredValueMessageConstant)
	}
	if _, supported := supportedRepositoryVisibilities[configuration.Target.Visibility]; !supported {
		return failures.NewValidationError(targetVisibilityFieldNameConstant, unsupportedVisibilityMessageConstant)
	}
	if configuration.ParallelLimit <= 0 {
		return failures.NewValidationError(parallelLimitFieldNameConstant, positiveValueMessageConstant)
	}
	if configuration.APICallBudget < 0 {
		return failures.NewValidationError(apiCallBudgetFieldNameConstant, nonNegativeValueMessageConstant)
	}
	if configuration.APICallsPerSecond < 0 {
		return failures.NewValidationError(apiCallsPerSecondFieldNameConstant, nonNegativeValueMessageConstant)
	}
	if len(strings.TrimSpace(configuration.ArtifactRoot)) == 0 {
		return failures.NewValidationError(artifactRootFieldNameConstant, requiredValueMessageConstant)
	}
	switch configuration.ExportFailurePolicy {
	case ExportFailurePolicyHardStop, ExportFailurePolicyContinuePartial:
	default:
		return failures.NewValidationError(exportFailurePolicyFieldNameConstant, unsupportedPolicyMessageConstant)
	}
	return nil
}

// Clone returns a deep copy so a snapshot never aliases caller-owned maps.
func (configuration RunConfiguration) Clone() RunConfiguration {
	cloned := configuration
	cloned.UserMappings = maps.Clone(configuration.UserMappings)
	cloned.URLMappings = maps.Clone(configuration.URLMappings)
	cloned.Passthrough = maps.Clone(configuration.Passthrough)
	return cloned
}

// TargetRepositoryFor derives the owner/name GitHub repository for a GitLab project path.
func (configuration RunConfiguration) TargetRepositoryFor(pathWithNamespace string) string {
	trimmedPath := strings.Trim(strings.TrimSpace(pathWithNamespace), repositoryPathSeparatorConstant)
	segments := strings.Split(trimmedPath, repositoryPathSeparatorConstant)
	repositoryName := segments[len(segments)-1]
	return configuration.Target.Owner + repositoryPathSeparatorConstant + repositoryName
}

func trimMapping(mapping map[string]string) map[string]string {
	if len(mapping) == 0 {
		return nil
	}
	trimmed := make(map[string]string, len(mapping))
	for key, value := range mapping {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if len(trimmedKey) == 0 || len(trimmedValue) == 0 {
			continue
		}
		trimmed[trimmedKey] = trimmedValue
	}
	return trimmed
}
