package migrate_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	migratecmd "github.com/moti-malka/gl2gh/cmd/cli/migrate"
	"github.com/moti-malka/gl2gh/internal/credentials"
	"github.com/moti-malka/gl2gh/internal/execshell"
	"github.com/moti-malka/gl2gh/internal/migration"
)

const (
	testProjectPathConstant    = "group/app"
	testEscapedProjectConstant = "/api/v4/projects/group%2Fapp"
	testTargetOwnerConstant    = "acme"
	testGitLabTokenConstant    = "glpat-from-environment"
	testGitHubTokenConstant    = "ghp-from-environment"
	testProjectJSONConstant    = `{"id":42,"name":"app","path_with_namespace":"group/app","default_branch":"main","http_url_to_repo":"https://gitlab.example.com/group/app.git"}`
	testPrivateTokenHeader     = "PRIVATE-TOKEN"
)

// fakeGitLab serves the project resource and records the tokens it was called with.
type fakeGitLab struct {
	server      *httptest.Server
	unavailable atomic.Bool
	mutex       sync.Mutex
	tokens      []string
}

func newFakeGitLab(testInstance *testing.T) *fakeGitLab {
	fake := &fakeGitLab{}
	fake.server = httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		fake.mutex.Lock()
		fake.tokens = append(fake.tokens, request.Header.Get(testPrivateTokenHeader))
		fake.mutex.Unlock()

		responseWriter.Header().Set("Content-Type", "application/json")
		switch {
		case fake.unavailable.Load():
			responseWriter.WriteHeader(http.StatusServiceUnavailable)
		case request.URL.EscapedPath() == testEscapedProjectConstant:
			_, _ = responseWriter.Write([]byte(testProjectJSONConstant))
		default:
			responseWriter.WriteHeader(http.StatusNotFound)
			_, _ = responseWriter.Write([]byte(`{"message":"404 Not Found"}`))
		}
	}))
	testInstance.Cleanup(fake.server.Close)
	return fake
}

func (fake *fakeGitLab) seenTokens() []string {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return append([]string{}, fake.tokens...)
}

// notFoundRunner answers every gh call with HTTP 404.
type notFoundRunner struct{}

func (notFoundRunner) Run(context.Context, execshell.ShellCommand) (execshell.ExecutionResult, error) {
	return execshell.ExecutionResult{
		StandardOutput: "HTTP/2.0 404 Not Found\r\nContent-Type: application/json\r\n\r\n{\"message\":\"Not Found\"}",
		StandardError:  "gh: Not Found (HTTP 404)",
		ExitCode:       1,
	}, nil
}

func testCommandConfiguration(testInstance *testing.T, sourceURL string) migratecmd.CommandConfiguration {
	configuration := migratecmd.DefaultCommandConfiguration()
	configuration.Migration.Source.BaseURL = sourceURL
	configuration.Migration.Target.Owner = testTargetOwnerConstant
	configuration.Migration.ArtifactRoot = testInstance.TempDir()
	return configuration
}

func testDependencies(configuration migratecmd.CommandConfiguration) migratecmd.Dependencies {
	return migratecmd.Dependencies{
		LoggerProvider:        func() *zap.Logger { return zap.NewNop() },
		ConfigurationProvider: func() migratecmd.CommandConfiguration { return configuration },
		CommandRunner:         notFoundRunner{},
		Environment: map[string]string{
			credentials.EnvGitLabToken: testGitLabTokenConstant,
			credentials.EnvGitHubToken: testGitHubTokenConstant,
		},
	}
}

type commandOutput struct {
	standardOutput bytes.Buffer
	standardError  bytes.Buffer
}

func executeCommand(testInstance *testing.T, command *cobra.Command, arguments ...string) (*commandOutput, error) {
	output := &commandOutput{}
	command.SetOut(&output.standardOutput)
	command.SetErr(&output.standardError)
	command.SetContext(context.Background())
	command.SetArgs(arguments)
	command.SilenceUsage = true
	command.SilenceErrors = true
	return output, command.Execute()
}

func requireStageStatus(testInstance *testing.T, project *migration.RunProject, stage migration.Stage, expected migration.StageStatus) {
	testInstance.Helper()
	require.Equal(testInstance, expected, project.Status(stage))
}
