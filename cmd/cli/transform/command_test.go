package transform_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	transformcmd "github.com/moti-malka/gl2gh/cmd/cli/transform"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/transform/content"
)

const (
	testCIConfigurationConstant = "stages:\n  - build\n  - test\nbuild:\n  stage: build\n  script:\n    - make build\ntest:\n  stage: test\n  script:\n    - make test\n"
	testGitModulesConstant      = "[submodule \"lib\"]\n\tpath = lib\n\turl = https://gitlab.example.com/group/lib.git\n[submodule \"vendor\"]\n\tpath = vendor\n\turl = https://example.org/vendor.git\n"
	testIssuePayloadConstant    = `{"iid":5,"title":"Broken build","description":"See logs","state":"opened","author":{"username":"alice"},"assignees":[{"username":"alice"},{"username":"bob"}],"labels":["bug"],"web_url":"https://gitlab.example.com/group/app/-/issues/5","created_at":"2026-01-02T03:04:05Z"}`
)

type commandOutput struct {
	standardOutput bytes.Buffer
	standardError  bytes.Buffer
}

func buildCommand(testInstance *testing.T, configuration transformcmd.CommandConfiguration) *cobra.Command {
	builder := transformcmd.CommandBuilder{
		LoggerProvider:        func() *zap.Logger { return zap.NewNop() },
		ConfigurationProvider: func() transformcmd.CommandConfiguration { return configuration },
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	return command
}

func execute(command *cobra.Command, standardInput string, arguments ...string) (*commandOutput, error) {
	output := &commandOutput{}
	command.SetOut(&output.standardOutput)
	command.SetErr(&output.standardError)
	command.SetIn(strings.NewReader(standardInput))
	command.SetContext(context.Background())
	command.SetArgs(arguments)
	command.SilenceUsage = true
	command.SilenceErrors = true
	return output, command.Execute()
}

func writeInputFile(testInstance *testing.T, name string, contents string) string {
	filePath := filepath.Join(testInstance.TempDir(), name)
	require.NoError(testInstance, os.WriteFile(filePath, []byte(contents), 0o644))
	return filePath
}

func TestTransformCICommand(testInstance *testing.T) {
	testCases := []struct {
		name          string
		useFile       bool
		useOutputFile bool
	}{
		{name: "standard_input"},
		{name: "file_input", useFile: true},
		{name: "output_file", useFile: true, useOutputFile: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			command := buildCommand(subtest, transformcmd.CommandConfiguration{})
			arguments := []string{"ci", "--workflow-name", "Pipeline"}
			standardInput := testCIConfigurationConstant
			if testCase.useFile {
				arguments = append(arguments, writeInputFile(subtest, ".gitlab-ci.yml", testCIConfigurationConstant))
				standardInput = ""
			}
			outputPath := filepath.Join(subtest.TempDir(), "ci.yml")
			if testCase.useOutputFile {
				arguments = append(arguments, "--output", outputPath)
			}

			output, executeError := execute(command, standardInput, arguments...)
			require.NoError(subtest, executeError)

			workflowYAML := output.standardOutput.String()
			if testCase.useOutputFile {
				require.Empty(subtest, workflowYAML)
				contents, readError := os.ReadFile(outputPath)
				require.NoError(subtest, readError)
				workflowYAML = string(contents)
			}
			require.Contains(subtest, workflowYAML, "name: Pipeline")
			require.Contains(subtest, workflowYAML, "make build")
			require.Contains(subtest, workflowYAML, "runs-on: ubuntu-latest")
		})
	}
}

func TestTransformCICommandRejectsInvalidYAML(testInstance *testing.T) {
	command := buildCommand(testInstance, transformcmd.CommandConfiguration{})
	output, executeError := execute(command, "build: [unclosed", "ci")
	require.Error(testInstance, executeError)
	require.Empty(testInstance, output.standardOutput.String())
}

func TestTransformContentCommandAppliesUserMappings(testInstance *testing.T) {
	command := buildCommand(testInstance, transformcmd.ConfigurationFromRun(migration.RunConfiguration{
		UserMappings: map[string]string{"alice": "alice-gh"},
	}))
	payloadPath := writeInputFile(testInstance, "issue.json", testIssuePayloadConstant)

	output, executeError := execute(command, "", "content", payloadPath, "--type", "issue", "--repository", "acme/app")
	require.NoError(testInstance, executeError)

	var converted content.Output
	require.NoError(testInstance, json.Unmarshal(output.standardOutput.Bytes(), &converted))
	require.Equal(testInstance, content.ContentTypeIssue, converted.ContentType)
	require.NotNil(testInstance, converted.Issue)
	require.Equal(testInstance, "Broken build", converted.Issue.Title)
	require.Equal(testInstance, []string{"alice-gh"}, converted.Issue.Assignees)
	require.Contains(testInstance, converted.Issue.Body, "https://gitlab.example.com/group/app/-/issues/5")
	require.Contains(testInstance, output.standardError.String(), "warning: assignee @bob")
}

func TestTransformContentCommandRejectsUnknownType(testInstance *testing.T) {
	command := buildCommand(testInstance, transformcmd.CommandConfiguration{})
	_, executeError := execute(command, testIssuePayloadConstant, "content", "--type", "epic")
	require.Error(testInstance, executeError)
	require.Contains(testInstance, executeError.Error(), "epic")
}

func TestTransformSubmodulesCommand(testInstance *testing.T) {
	testCases := []struct {
		name          string
		configuration transformcmd.CommandConfiguration
		arguments     []string
		expectError   bool
		expectedURL   string
	}{
		{
			name:          "configured_mapping",
			configuration: transformcmd.CommandConfiguration{URLMappings: map[string]string{"gitlab.example.com/group/lib": "github.com/acme/lib"}},
			expectedURL:   "https://github.com/acme/lib.git",
		},
		{
			name:        "flag_mapping",
			arguments:   []string{"--map", "gitlab.example.com/group/lib=github.com/acme/shared-lib"},
			expectedURL: "https://github.com/acme/shared-lib.git",
		},
		{
			name:        "malformed_flag_mapping",
			arguments:   []string{"--map", "gitlab.example.com/group/lib"},
			expectError: true,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			command := buildCommand(subtest, testCase.configuration)
			arguments := append([]string{"submodules", "-"}, testCase.arguments...)

			output, executeError := execute(command, testGitModulesConstant, arguments...)
			if testCase.expectError {
				require.Error(subtest, executeError)
				return
			}
			require.NoError(subtest, executeError)
			require.Contains(subtest, output.standardOutput.String(), testCase.expectedURL)
			require.Contains(subtest, output.standardOutput.String(), "https://example.org/vendor.git")
			require.Contains(subtest, output.standardError.String(), "rewrote 1 of 2 submodules (1 external)")
		})
	}
}
