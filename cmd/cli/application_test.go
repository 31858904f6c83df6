package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/migration"
)

const (
	testConfigurationFileNameConstant = "config.yaml"
	testConfigurationContentConstant  = "common:\n  log_level: debug\nmigration:\n  target:\n    owner: acme\n  user_mappings:\n    alice: alice-gh\nstore:\n  database_path: /tmp/gl2gh/runs.db\n"
	testPipelineConstant              = "build:\n  script:\n    - make\n"
)

func runApplication(testInstance *testing.T, application *Application, arguments ...string) (string, error) {
	testInstance.Helper()
	var standardOutput bytes.Buffer
	application.rootCommand.SetOut(&standardOutput)
	application.rootCommand.SetErr(&bytes.Buffer{})
	application.rootCommand.SetArgs(arguments)
	executionError := application.Execute()
	return standardOutput.String(), executionError
}

func TestApplicationRegistersCommands(testInstance *testing.T) {
	application := NewApplication()
	registered := map[string]bool{}
	for _, command := range application.rootCommand.Commands() {
		registered[command.Name()] = true
	}
	for _, expected := range []string{"migrate", "resume", "transform", "runs", "checkpoint"} {
		require.True(testInstance, registered[expected], expected)
	}
}

func TestApplicationConfigurationLayers(testInstance *testing.T) {
	testCases := []struct {
		name        string
		environment map[string]string
		writeFile   bool
		assertion   func(*testing.T, ApplicationConfiguration)
	}{
		{
			name: "embedded_defaults",
			assertion: func(subtest *testing.T, configuration ApplicationConfiguration) {
				require.Equal(subtest, "info", configuration.Common.LogLevel)
				require.Equal(subtest, "https://gitlab.com", configuration.Migration.Source.BaseURL)
				require.Equal(subtest, "github.com", configuration.Migration.Target.Hostname)
				require.Equal(subtest, 4, configuration.Migration.ParallelLimit)
				require.Equal(subtest, migration.ExportFailurePolicyHardStop, configuration.Migration.ExportFailurePolicy)
				require.Empty(subtest, configuration.Store.DatabasePath)
			},
		},
		{
			name:      "configuration_file",
			writeFile: true,
			assertion: func(subtest *testing.T, configuration ApplicationConfiguration) {
				require.Equal(subtest, "debug", configuration.Common.LogLevel)
				require.Equal(subtest, "acme", configuration.Migration.Target.Owner)
				require.Equal(subtest, map[string]string{"alice": "alice-gh"}, configuration.Migration.UserMappings)
				require.Equal(subtest, "/tmp/gl2gh/runs.db", configuration.Store.DatabasePath)
				require.Equal(subtest, "https://gitlab.com", configuration.Migration.Source.BaseURL)
			},
		},
		{
			name:      "environment_overrides_file",
			writeFile: true,
			environment: map[string]string{
				"GL2GH_MIGRATION_TARGET_OWNER":   "platform",
				"GL2GH_MIGRATION_SOURCE_TOKEN":   "glpat-secret",
				"GL2GH_MIGRATION_PARALLEL_LIMIT": "8",
				"GL2GH_PROGRESS_ADDRESS":         "127.0.0.1:8080",
				"GL2GH_MIGRATION_URL_MAPPINGS":   "gitlab.example.com/group/lib=github.com/acme/lib",
			},
			assertion: func(subtest *testing.T, configuration ApplicationConfiguration) {
				require.Equal(subtest, "platform", configuration.Migration.Target.Owner)
				require.Equal(subtest, "glpat-secret", configuration.Migration.Source.Token)
				require.Equal(subtest, 8, configuration.Migration.ParallelLimit)
				require.Equal(subtest, "127.0.0.1:8080", configuration.Progress.Address)
				require.Equal(subtest, map[string]string{"gitlab.example.com/group/lib": "github.com/acme/lib"}, configuration.Migration.URLMappings)
				require.Equal(subtest, map[string]string{"alice": "alice-gh"}, configuration.Migration.UserMappings)
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			for name, value := range testCase.environment {
				subtest.Setenv(name, value)
			}
			application := NewApplication()
			if testCase.writeFile {
				configurationPath := filepath.Join(subtest.TempDir(), testConfigurationFileNameConstant)
				require.NoError(subtest, os.WriteFile(configurationPath, []byte(testConfigurationContentConstant), 0o600))
				application.configurationFilePath = configurationPath
			}

			require.NoError(subtest, application.initializeConfiguration(application.rootCommand))
			testCase.assertion(subtest, application.configuration)
		})
	}
}

func TestApplicationRejectsUnsupportedLogFormat(testInstance *testing.T) {
	application := NewApplication()
	_, executionError := runApplication(testInstance, application, "--log-format", "xml", "runs", "list")
	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "unable to create logger")
}

func TestApplicationRunsTransformSubcommand(testInstance *testing.T) {
	pipelinePath := filepath.Join(testInstance.TempDir(), ".gitlab-ci.yml")
	require.NoError(testInstance, os.WriteFile(pipelinePath, []byte(testPipelineConstant), 0o600))

	application := NewApplication()
	output, executionError := runApplication(testInstance, application, "--log-level", "error", "transform", "ci", pipelinePath)
	require.NoError(testInstance, executionError)
	require.Contains(testInstance, output, "runs-on: ubuntu-latest")
	require.False(testInstance, application.humanReadableLoggingEnabled())
}

func TestApplicationPassesConfigurationToMigrateCommands(testInstance *testing.T) {
	application := NewApplication()
	application.configuration = ApplicationConfiguration{
		Common:    ApplicationCommonConfiguration{LogFormat: "Console"},
		Migration: migration.RunConfiguration{Target: migration.TargetConfiguration{Owner: "acme"}},
		Store:     ApplicationStoreConfiguration{DatabasePath: "runs.db"},
		Progress:  ApplicationProgressConfiguration{Address: ":9090"},
	}

	commandConfiguration := application.migrateCommandConfiguration()
	require.Equal(testInstance, "acme", commandConfiguration.Migration.Target.Owner)
	require.Equal(testInstance, "runs.db", commandConfiguration.DatabasePath)
	require.Equal(testInstance, ":9090", commandConfiguration.ProgressAddress)
	require.True(testInstance, application.humanReadableLoggingEnabled())
}

func TestApplicationVersionFlag(testInstance *testing.T) {
	application := NewApplication()
	output, executionError := runApplication(testInstance, application, "--version")
	require.NoError(testInstance, executionError)
	require.Contains(testInstance, output, Version)
}
