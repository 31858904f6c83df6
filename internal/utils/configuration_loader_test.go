package utils_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/utils"
)

const (
	testEnvironmentPrefixConstant = "GL2GHTEST"
	testConfigurationNameConstant = "config"
	testConfigurationTypeConstant = "yaml"
	testConfigFileNameConstant    = "config.yaml"
	testEmbeddedContentConstant   = "common:\n  log_level: info\nmigration:\n  target:\n    owner: \"\"\n  user_mappings: {}\n  request_timeout: 30s\n"
	testUserMappingsKeyConstant   = "migration.user_mappings"
	testGroupsKeyConstant         = "migration.groups"
	testFileContentConstant       = "common:\n  log_level: debug\nmigration:\n  target:\n    owner: acme\n  user_mappings:\n    alice: alice-gh\n"
)

type configurationFixture struct {
	Common    configurationCommonFixture    `mapstructure:"common"`
	Migration configurationMigrationFixture `mapstructure:"migration"`
}

type configurationCommonFixture struct {
	LogLevel string `mapstructure:"log_level"`
}

type configurationMigrationFixture struct {
	Target         configurationTargetFixture `mapstructure:"target"`
	UserMappings   map[string]string          `mapstructure:"user_mappings"`
	RequestTimeout time.Duration              `mapstructure:"request_timeout"`
	Groups         []string                   `mapstructure:"groups"`
}

type configurationTargetFixture struct {
	Owner string `mapstructure:"owner"`
}

func TestConfigurationLoaderLayers(testInstance *testing.T) {
	testCases := []struct {
		name        string
		writeFile   bool
		environment map[string]string
		expected    configurationFixture
	}{
		{
			name: "embedded_only",
			expected: configurationFixture{
				Common:    configurationCommonFixture{LogLevel: "info"},
				Migration: configurationMigrationFixture{UserMappings: map[string]string{}, RequestTimeout: 30 * time.Second},
			},
		},
		{
			name:      "file_overrides_embedded",
			writeFile: true,
			expected: configurationFixture{
				Common: configurationCommonFixture{LogLevel: "debug"},
				Migration: configurationMigrationFixture{
					Target:         configurationTargetFixture{Owner: "acme"},
					UserMappings:   map[string]string{"alice": "alice-gh"},
					RequestTimeout: 30 * time.Second,
				},
			},
		},
		{
			name:      "environment_overrides_file",
			writeFile: true,
			environment: map[string]string{
				"GL2GHTEST_COMMON_LOG_LEVEL":          "warn",
				"GL2GHTEST_MIGRATION_TARGET_OWNER":    "platform",
				"GL2GHTEST_MIGRATION_USER_MAPPINGS":   "bob=bob-gh, carol=carol-gh",
				"GL2GHTEST_MIGRATION_REQUEST_TIMEOUT": "2m",
				"GL2GHTEST_MIGRATION_GROUPS":          "platform,tools",
			},
			expected: configurationFixture{
				Common: configurationCommonFixture{LogLevel: "warn"},
				Migration: configurationMigrationFixture{
					Target:         configurationTargetFixture{Owner: "platform"},
					UserMappings:   map[string]string{"bob": "bob-gh", "carol": "carol-gh"},
					RequestTimeout: 2 * time.Minute,
					Groups:         []string{"platform", "tools"},
				},
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			for name, value := range testCase.environment {
				subtest.Setenv(name, value)
			}
			configurationFilePath := ""
			if testCase.writeFile {
				configurationFilePath = filepath.Join(subtest.TempDir(), testConfigFileNameConstant)
				require.NoError(subtest, os.WriteFile(configurationFilePath, []byte(testFileContentConstant), 0o600))
			}

			loader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{subtest.TempDir()})
			loader.SetEmbeddedConfiguration([]byte(testEmbeddedContentConstant), testConfigurationTypeConstant)
			loader.BindEnvironmentKeys(testUserMappingsKeyConstant, testGroupsKeyConstant)

			var loaded configurationFixture
			metadata, loadError := loader.LoadConfiguration(configurationFilePath, nil, &loaded)
			require.NoError(subtest, loadError)
			require.Equal(subtest, testCase.expected, loaded)
			require.Equal(subtest, configurationFilePath, metadata.ConfigFileUsed)
		})
	}
}

func TestConfigurationLoaderSearchPathsAndDefaults(testInstance *testing.T) {
	emptyDirectory := testInstance.TempDir()
	configurationDirectory := testInstance.TempDir()
	configurationFilePath := filepath.Join(configurationDirectory, testConfigFileNameConstant)
	require.NoError(testInstance, os.WriteFile(configurationFilePath, []byte("migration:\n  target:\n    owner: acme\n"), 0o600))

	loader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, []string{emptyDirectory, configurationDirectory})

	var loaded configurationFixture
	metadata, loadError := loader.LoadConfiguration("", map[string]any{"common.log_level": "error"}, &loaded)
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, configurationFilePath, metadata.ConfigFileUsed)
	require.Equal(testInstance, "acme", loaded.Migration.Target.Owner)
	require.Equal(testInstance, "error", loaded.Common.LogLevel)
}

func TestConfigurationLoaderRejectsMalformedInput(testInstance *testing.T) {
	testCases := []struct {
		name        string
		fileContent string
		environment map[string]string
	}{
		{name: "invalid_yaml", fileContent: "common: [unclosed"},
		{name: "invalid_mapping_entry", fileContent: "migration:\n  user_mappings: {}\n", environment: map[string]string{"GL2GHTEST_MIGRATION_USER_MAPPINGS": "alice"}},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			for name, value := range testCase.environment {
				subtest.Setenv(name, value)
			}
			configurationFilePath := filepath.Join(subtest.TempDir(), testConfigFileNameConstant)
			require.NoError(subtest, os.WriteFile(configurationFilePath, []byte(testCase.fileContent), 0o600))

			loader := utils.NewConfigurationLoader(testConfigurationNameConstant, testConfigurationTypeConstant, testEnvironmentPrefixConstant, nil)
			loader.BindEnvironmentKeys(testUserMappingsKeyConstant)
			var loaded configurationFixture
			_, loadError := loader.LoadConfiguration(configurationFilePath, nil, &loaded)
			require.Error(subtest, loadError)
		})
	}
}

func TestParseStringPairs(testInstance *testing.T) {
	pairs, parseError := utils.ParseStringPairs(" gitlab.example.com/group/lib = github.com/acme/lib ,, alice=alice-gh")
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, map[string]string{"gitlab.example.com/group/lib": "github.com/acme/lib", "alice": "alice-gh"}, pairs)

	_, parseError = utils.ParseStringPairs("alice=")
	require.Error(testInstance, parseError)
}
