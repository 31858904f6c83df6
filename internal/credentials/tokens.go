package credentials

import (
	"os"
	"strings"

	"github.com/moti-malka/gl2gh/internal/migration"
)

// Environment variable names consulted for access tokens, in preference order.
const (
	EnvGitHubCLIToken = "GH_TOKEN"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvGitHubAPIToken = "GITHUB_API_TOKEN"
	EnvGitLabToken    = "GITLAB_TOKEN"
	EnvGitLabAPIToken = "GITLAB_API_TOKEN"
	EnvGitLabPrivate  = "GITLAB_PRIVATE_TOKEN"
)

var gitHubTokenPreference = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
}

var gitLabTokenPreference = []string{
	EnvGitLabToken,
	EnvGitLabAPIToken,
	EnvGitLabPrivate,
}

// Resolver looks tokens up in an explicit environment map before the process environment.
type Resolver struct {
	environment map[string]string
	lookupEnv   func(string) (string, bool)
}

// NewResolver constructs a Resolver. A nil map consults the process environment only.
func NewResolver(environment map[string]string) *Resolver {
	return &Resolver{environment: environment, lookupEnv: os.LookupEnv}
}

// GitHubToken returns the first non-empty GitHub token.
func (resolver *Resolver) GitHubToken() (string, bool) {
	return resolver.resolve(gitHubTokenPreference)
}

// GitLabToken returns the first non-empty GitLab token.
func (resolver *Resolver) GitLabToken() (string, bool) {
	return resolver.resolve(gitLabTokenPreference)
}

// Apply fills empty source and target tokens of the configuration. Configured tokens win.
func (resolver *Resolver) Apply(configuration migration.RunConfiguration) migration.RunConfiguration {
	resolved := configuration
	if len(strings.TrimSpace(resolved.Source.Token)) == 0 {
		if token, found := resolver.GitLabToken(); found {
			resolved.Source.Token = token
		}
	}
	if len(strings.TrimSpace(resolved.Target.Token)) == 0 {
		if token, found := resolver.GitHubToken(); found {
			resolved.Target.Token = token
		}
	}
	return resolved
}

func (resolver *Resolver) resolve(preference []string) (string, bool) {
	for _, key := range preference {
		if value, ok := lookup(resolver.environment, key); ok {
			return value, true
		}
	}
	if resolver.lookupEnv == nil {
		return "", false
	}
	for _, key := range preference {
		if value, ok := resolver.lookupEnv(key); ok {
			value = strings.TrimSpace(value)
			if len(value) > 0 {
				return value, true
			}
		}
	}
	return "", false
}

func lookup(environment map[string]string, key string) (string, bool) {
	if environment == nil {
		return "", false
	}
	value, exists := environment[key]
	if !exists {
		return "", false
	}
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return "", false
	}
	return value, true
}
