package runs

import (
	"strings"

	pathutils "github.com/moti-malka/gl2gh/internal/utils/path"
)

// CommandConfiguration captures the settings the run inspection commands need.
type CommandConfiguration struct {
	DatabasePath string `mapstructure:"database_path"`
}

// Sanitize trims and expands the database path.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	sanitized.DatabasePath = pathutils.ExpandHome(strings.TrimSpace(sanitized.DatabasePath))
	return sanitized
}
