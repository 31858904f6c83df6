package transform

import "github.com/moti-malka/gl2gh/internal/migration"

// CommandConfiguration captures the mapping tables the transform commands apply.
type CommandConfiguration struct {
	UserMappings map[string]string `mapstructure:"user_mappings"`
	URLMappings  map[string]string `mapstructure:"url_mappings"`
}

// ConfigurationFromRun extracts the transform settings of a run configuration.
func ConfigurationFromRun(configuration migration.RunConfiguration) CommandConfiguration {
	sanitized := configuration.Sanitize()
	return CommandConfiguration{UserMappings: sanitized.UserMappings, URLMappings: sanitized.URLMappings}
}
