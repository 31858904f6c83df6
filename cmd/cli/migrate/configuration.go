package migrate

import (
	"strings"

	"github.com/moti-malka/gl2gh/internal/migration"
	pathutils "github.com/moti-malka/gl2gh/internal/utils/path"
)

// CommandConfiguration captures configuration values for migrate and resume.
type CommandConfiguration struct {
	Migration       migration.RunConfiguration `mapstructure:"migration"`
	DatabasePath    string                     `mapstructure:"database_path"`
	ProgressAddress string                     `mapstructure:"progress_address"`
}

// DefaultCommandConfiguration provides default migrate command settings.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{Migration: migration.DefaultRunConfiguration()}
}

// Sanitize trims values, expands home-relative paths and fills run defaults.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	sanitized.Migration = configuration.Migration.Sanitize()
	sanitized.Migration.ArtifactRoot = pathutils.ExpandHome(sanitized.Migration.ArtifactRoot)
	sanitized.DatabasePath = pathutils.ExpandHome(strings.TrimSpace(configuration.DatabasePath))
	sanitized.ProgressAddress = strings.TrimSpace(configuration.ProgressAddress)
	return sanitized
}
