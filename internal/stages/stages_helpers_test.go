package stages_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/execshell"
	"github.com/moti-malka/gl2gh/internal/githubcli"
	"github.com/moti-malka/gl2gh/internal/gitlab"
	"github.com/moti-malka/gl2gh/internal/gitrepo"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/pipeline"
)

const (
	testProjectPathConstant       = "group/app"
	testTargetRepositoryConstant  = "acme/app"
	testGitLabTokenConstant       = "glpat-test"
	testGitHubTokenConstant       = "ghp-test"
	testSourceCloneURLConstant    = "https://gitlab.example.com/group/app.git"
	testWorkflowRepositoryPath    = ".github/workflows/ci.yml"
	testCIConfigurationConstant   = "stages: [build, test]\nbuild:\n  stage: build\n  script: [make build]\ntest:\n  stage: test\n  script: [make test]\n"
	testGitModulesContentConstant = "[submodule \"lib\"]\n\tpath = lib\n\turl = https://gitlab.example.com/group/lib.git\n"
)

var testNow = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

// fakeGitLab serves the GitLab REST endpoints the handlers call for group/app.
type fakeGitLab struct {
	mutex          sync.Mutex
	server         *httptest.Server
	archived       bool
	repositorySize int64
	withoutCI      bool
	invalidCI      bool
	failingNotes   string
	requests       map[string]int
}

func newFakeGitLab(t *testing.T) *fakeGitLab {
	t.Helper()
	fake := &fakeGitLab{repositorySize: 2048, requests: map[string]int{}}
	fake.server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.server.Close)
	return fake
}

func (fake *fakeGitLab) client() *gitlab.Client {
	return gitlab.NewClient(gitlab.Configuration{BaseURL: fake.server.URL, Token: testGitLabTokenConstant}, zap.NewNop())
}

func (fake *fakeGitLab) requestCount(path string) int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.requests[path]
}

func (fake *fakeGitLab) serve(responseWriter http.ResponseWriter, request *http.Request) {
	path := strings.TrimPrefix(request.URL.EscapedPath(), "/api/v4/projects/group%2Fapp")
	fake.mutex.Lock()
	fake.requests[path]++
	archived, repositorySize, withoutCI, invalidCI, failingNotes := fake.archived, fake.repositorySize, fake.withoutCI, fake.invalidCI, fake.failingNotes
	fake.mutex.Unlock()

	writeJSON := func(payload any) {
		responseWriter.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(responseWriter).Encode(payload)
	}
	switch path {
	case "":
		writeJSON(map[string]any{
			"id":                  42,
			"name":                "app",
			"path_with_namespace": testProjectPathConstant,
			"description":         "Application",
			"default_branch":      "main",
			"visibility":          "private",
			"http_url_to_repo":    testSourceCloneURLConstant,
			"archived":            archived,
			"issues_enabled":      true,
			"wiki_enabled":        false,
			"statistics":          map[string]any{"repository_size": repositorySize, "commit_count": 12},
		})
	case "/repository/files/.gitlab-ci.yml/raw":
		if withoutCI {
			responseWriter.WriteHeader(http.StatusNotFound)
			return
		}
		if invalidCI {
			_, _ = responseWriter.Write([]byte("build: [unclosed\n"))
			return
		}
		_, _ = responseWriter.Write([]byte(testCIConfigurationConstant))
	case "/repository/files/.gitmodules/raw":
		_, _ = responseWriter.Write([]byte(testGitModulesContentConstant))
	case "/issues":
		writeJSON([]map[string]any{
			{"iid": 1, "title": "Crash on start", "description": "Reported by @alice", "state": "opened", "author": map[string]any{"username": "alice"}, "web_url": "https://gitlab.example.com/group/app/-/issues/1"},
			{"iid": 2, "title": "Old bug", "description": "Fixed long ago", "state": "closed", "author": map[string]any{"username": "bob"}},
		})
	case "/merge_requests":
		writeJSON([]map[string]any{
			{"iid": 3, "title": "Add feature", "description": "Implements #1", "state": "opened", "source_branch": "feature", "target_branch": "main", "author": map[string]any{"username": "alice"}},
			{"iid": 4, "title": "Merged change", "description": "Done", "state": "merged", "source_branch": "done", "target_branch": "main", "author": map[string]any{"username": "bob"}},
		})
	default:
		if strings.HasSuffix(path, "/notes") {
			if len(failingNotes) > 0 && path == failingNotes {
				responseWriter.WriteHeader(http.StatusBadGateway)
				return
			}
			if path == "/issues/1/notes" {
				writeJSON([]map[string]any{{"id": 10, "body": "Confirmed by @bob", "author": map[string]any{"username": "bob"}}})
				return
			}
			writeJSON([]map[string]any{})
			return
		}
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

// fakeGitHub emulates the gh api endpoints used against acme/app.
type fakeGitHub struct {
	mutex            sync.Mutex
	repositoryExists bool
	failOn           string
	nextNumber       int
	issues           int
	pullRequests     int
	files            map[string]string
	requests         []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{files: map[string]string{}, nextNumber: 1}
}

func (fake *fakeGitHub) client(t *testing.T) *githubcli.Client {
	t.Helper()
	client, creationError := githubcli.NewClient(fake, githubcli.WithToken(testGitHubTokenConstant))
	require.NoError(t, creationError)
	return client
}

func (fake *fakeGitHub) requestLog() []string {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return append([]string{}, fake.requests...)
}

func (fake *fakeGitHub) ExecuteGitHubCLI(_ context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	endpoint := details.Arguments[1]
	method := details.Arguments[3]
	request := method + " " + endpoint
	fake.requests = append(fake.requests, request)
	if len(fake.failOn) > 0 && strings.HasPrefix(request, fake.failOn) {
		return githubResponse(http.StatusBadGateway, `{"message":"bad gateway"}`)
	}

	var payload map[string]any
	if len(details.StandardInput) > 0 {
		_ = json.Unmarshal(details.StandardInput, &payload)
	}
	const repositoryPrefix = "repos/" + testTargetRepositoryConstant
	switch {
	case request == "GET "+repositoryPrefix:
		if !fake.repositoryExists {
			return githubResponse(http.StatusNotFound, `{"message":"Not Found"}`)
		}
		return githubResponse(http.StatusOK, `{"full_name":"acme/app","html_url":"https://github.com/acme/app"}`)
	case request == "POST orgs/acme/repos":
		fake.repositoryExists = true
		return githubResponse(http.StatusCreated, `{"full_name":"acme/app","html_url":"https://github.com/acme/app"}`)
	case method == http.MethodGet && strings.HasPrefix(endpoint, repositoryPrefix+"/contents/"):
		filePath := strings.TrimPrefix(strings.SplitN(endpoint, "?", 2)[0], repositoryPrefix+"/contents/")
		if _, exists := fake.files[filePath]; !exists {
			return githubResponse(http.StatusNotFound, `{"message":"Not Found"}`)
		}
		return githubResponse(http.StatusOK, `{"sha":"existing"}`)
	case method == http.MethodPut && strings.HasPrefix(endpoint, repositoryPrefix+"/contents/"):
		filePath := strings.TrimPrefix(endpoint, repositoryPrefix+"/contents/")
		fake.files[filePath], _ = payload["content"].(string)
		return githubResponse(http.StatusCreated, `{}`)
	case request == "POST "+repositoryPrefix+"/issues":
		fake.issues++
		return fake.numbered()
	case request == "POST "+repositoryPrefix+"/pulls":
		fake.pullRequests++
		return fake.numbered()
	case method == http.MethodPost && strings.HasSuffix(endpoint, "/comments"):
		return githubResponse(http.StatusCreated, `{}`)
	case method == http.MethodPatch:
		return githubResponse(http.StatusOK, `{}`)
	case strings.HasPrefix(endpoint, repositoryPrefix+"/actions/workflows"):
		workflows := 0
		for filePath := range fake.files {
			if strings.HasPrefix(filePath, ".github/workflows/") {
				workflows++
			}
		}
		return githubResponse(http.StatusOK, fmt.Sprintf(`{"total_count":%d}`, workflows))
	case strings.HasPrefix(endpoint, "search/issues"):
		if strings.Contains(endpoint, "type%3Apr") {
			return githubResponse(http.StatusOK, fmt.Sprintf(`{"total_count":%d}`, fake.pullRequests))
		}
		return githubResponse(http.StatusOK, fmt.Sprintf(`{"total_count":%d}`, fake.issues))
	default:
		return githubResponse(http.StatusNotFound, `{"message":"Not Found"}`)
	}
}

func (fake *fakeGitHub) numbered() (execshell.ExecutionResult, error) {
	number := fake.nextNumber
	fake.nextNumber++
	return githubResponse(http.StatusCreated, fmt.Sprintf(`{"number":%d}`, number))
}

// githubResponse mimics gh api --include: a non-2xx status exits non-zero.
func githubResponse(statusCode int, body string) (execshell.ExecutionResult, error) {
	result := execshell.ExecutionResult{StandardOutput: fmt.Sprintf("HTTP/2.0 %d %s\r\nContent-Type: application/json\r\n\r\n%s", statusCode, http.StatusText(statusCode), body)}
	if statusCode >= http.StatusBadRequest {
		result.ExitCode = 1
		result.StandardError = fmt.Sprintf("gh: %s (HTTP %d)", http.StatusText(statusCode), statusCode)
		return result, execshell.CommandFailedError{Command: execshell.ShellCommand{Name: execshell.CommandGitHub}, Result: result}
	}
	return result, nil
}

// fakeGit creates the bare mirror layout on clone so later pushes find it.
type fakeGit struct {
	mutex    sync.Mutex
	commands [][]string
}

func (fake *fakeGit) ExecuteGit(_ context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.commands = append(fake.commands, append([]string{}, details.Arguments...))
	if len(details.Arguments) == 4 && details.Arguments[0] == "clone" {
		directory := details.Arguments[3]
		if mkdirError := os.MkdirAll(directory, 0o755); mkdirError != nil {
			return execshell.ExecutionResult{}, mkdirError
		}
		return execshell.ExecutionResult{}, os.WriteFile(filepath.Join(directory, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644)
	}
	return execshell.ExecutionResult{}, nil
}

func (fake *fakeGit) commandLog() [][]string {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return append([][]string{}, fake.commands...)
}

func newMirrorManager(t *testing.T, git *fakeGit) *gitrepo.MirrorManager {
	t.Helper()
	manager, creationError := gitrepo.NewMirrorManager(git)
	require.NoError(t, creationError)
	return manager
}

func testConfiguration(t *testing.T) migration.RunConfiguration {
	t.Helper()
	configuration := migration.DefaultRunConfiguration()
	configuration.Source.BaseURL = "https://gitlab.example.com"
	configuration.Source.Token = testGitLabTokenConstant
	configuration.Target.Owner = "acme"
	configuration.Target.Token = testGitHubTokenConstant
	configuration.ArtifactRoot = t.TempDir()
	configuration.UserMappings = map[string]string{"alice": "alice-gh"}
	configuration.URLMappings = map[string]string{"gitlab.example.com/group/lib": "github.com/acme/lib"}
	return configuration
}

func newStageContext(configuration migration.RunConfiguration, stage migration.Stage) pipeline.StageContext {
	run := migration.NewMigrationRun(migration.RunModeFull, configuration, testNow)
	project := migration.NewRunProject(run.ID, migration.ProjectReference{PathWithNamespace: testProjectPathConstant})
	return stageContextFor(run, project, stage)
}

func stageContextFor(run *migration.MigrationRun, project *migration.RunProject, stage migration.Stage) pipeline.StageContext {
	return pipeline.StageContext{
		Run:               run,
		Project:           project,
		Stage:             stage,
		Configuration:     run.ConfigSnapshot,
		ArtifactDirectory: pipeline.ArtifactDirectory(run, project),
		Logger:            zap.NewNop(),
	}
}

// runStage executes the handler and records its outputs the way the state machine does.
func runStage(t *testing.T, handler pipeline.StageHandler, stageContext pipeline.StageContext) pipeline.StageOutcome {
	t.Helper()
	outcome, executionError := handler.Execute(context.Background(), stageContext)
	require.NoError(t, executionError)
	require.Equal(t, migration.StageStatusCompleted, outcome.Status)
	stageContext.Project.StageOutputs[stageContext.Stage] = outcome.Outputs
	return outcome
}

func readJSONFile(t *testing.T, filePath string, target any) {
	t.Helper()
	contents, readError := os.ReadFile(filePath)
	require.NoError(t, readError)
	require.NoError(t, json.Unmarshal(contents, target))
}
