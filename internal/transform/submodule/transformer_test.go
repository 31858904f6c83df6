package submodule_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/transform/submodule"
)

const testSSHGitModulesConstant = "[submodule \"lib\"]\n\tpath = vendor/lib\n\turl = git@gitlab.com:org/repo.git\n"

const testMixedGitModulesConstant = `# shared modules
[submodule "lib"]
	path = vendor/lib
	url = https://gitlab.com/org/repo.git
	branch = main
[submodule "tools"]
	path = tools
	url = "ssh://git@gitlab.com/platform/tools.git"
	update = rebase
[submodule "external"]
	path = third_party/external
	url = https://github.com/other/external.git
`

func stringPointer(value string) *string {
	return &value
}

func TestTransformRewritesMappedSSHRemote(testInstance *testing.T) {
	result := submodule.NewTransformer().Transform(submodule.Request{
		GitModulesContent: stringPointer(testSSHGitModulesConstant),
		URLMappings:       map[string]string{"gitlab.com/org/repo": "github.com/org/repo"},
	})

	require.True(testInstance, result.Success)
	require.Empty(testInstance, result.Warnings)
	require.Len(testInstance, result.Data.Submodules, 1)

	record := result.Data.Submodules[0]
	require.Equal(testInstance, "git@github.com:org/repo.git", record.URL)
	require.Equal(testInstance, "git@gitlab.com:org/repo.git", record.OriginalURL)
	require.True(testInstance, record.Rewritten)
	require.Equal(testInstance, 1, result.Data.RewriteCount)
	require.Contains(testInstance, result.Data.GitModules, "url = git@github.com:org/repo.git")
}

func TestTransformLeavesUnmappedRemoteWithOneWarning(testInstance *testing.T) {
	result := submodule.NewTransformer().Transform(submodule.Request{
		GitModulesContent: stringPointer(testSSHGitModulesConstant),
		URLMappings:       map[string]string{"gitlab.com/org/other": "github.com/org/other"},
	})

	require.True(testInstance, result.Success)
	require.Len(testInstance, result.Warnings, 1)
	record := result.Data.Submodules[0]
	require.Equal(testInstance, "git@gitlab.com:org/repo.git", record.URL)
	require.False(testInstance, record.Rewritten)
	require.Empty(testInstance, record.OriginalURL)
	require.Equal(testInstance, 1, result.Data.ExternalCount)
}

func TestTransformPreservesExtraPropertiesAndProtocols(testInstance *testing.T) {
	result := submodule.NewTransformer().Transform(submodule.Request{
		GitModulesContent: stringPointer(testMixedGitModulesConstant),
		URLMappings: map[string]string{
			"https://gitlab.com/org/repo.git": "https://github.com/acme/repo",
			"gitlab.com/platform/tools":       "github.com/acme/tools",
		},
	})

	require.True(testInstance, result.Success)
	require.Equal(testInstance, 3, result.Data.TotalCount)
	require.Equal(testInstance, 2, result.Data.RewriteCount)
	require.Equal(testInstance, 1, result.Data.ExternalCount)
	require.Len(testInstance, result.Warnings, 1)

	expectedURLs := []string{
		"https://github.com/acme/repo.git",
		"ssh://git@github.com/acme/tools.git",
		"https://github.com/other/external.git",
	}
	for submoduleIndex, expectedURL := range expectedURLs {
		require.Equal(testInstance, expectedURL, result.Data.Submodules[submoduleIndex].URL, fmt.Sprintf("submodule %d", submoduleIndex))
	}
	require.Equal(testInstance, []submodule.Property{{Key: "branch", Value: "main"}}, result.Data.Submodules[0].Properties)

	expectedGitModules := "[submodule \"lib\"]\n\tpath = vendor/lib\n\turl = https://github.com/acme/repo.git\n\tbranch = main\n" +
		"[submodule \"tools\"]\n\tpath = tools\n\turl = ssh://git@github.com/acme/tools.git\n\tupdate = rebase\n" +
		"[submodule \"external\"]\n\tpath = third_party/external\n\turl = https://github.com/other/external.git\n"
	require.Equal(testInstance, expectedGitModules, result.Data.GitModules)
}

func TestTransformEdgeCases(testInstance *testing.T) {
	testCases := []struct {
		name            string
		request         submodule.Request
		expectSuccess   bool
		expectedCount   int
		minimumWarnings int
	}{
		{name: "empty_content", request: submodule.Request{GitModulesContent: stringPointer("")}, expectSuccess: true, minimumWarnings: 1},
		{name: "comments_only", request: submodule.Request{GitModulesContent: stringPointer("# nothing\n; here\n")}, expectSuccess: true, minimumWarnings: 1},
		{name: "missing_content", request: submodule.Request{}, expectSuccess: false},
		{name: "relative_url", request: submodule.Request{GitModulesContent: stringPointer("[submodule \"sib\"]\n\tpath = sib\n\turl = ../sib.git\n")}, expectSuccess: true, expectedCount: 1, minimumWarnings: 1},
		{name: "orphan_property", request: submodule.Request{GitModulesContent: stringPointer("path = x\n")}, expectSuccess: true, minimumWarnings: 2},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			result := submodule.NewTransformer().Transform(testCase.request)
			require.Equal(subtest, testCase.expectSuccess, result.Success)
			if !testCase.expectSuccess {
				require.NotEmpty(subtest, result.Errors)
				require.Nil(subtest, result.Data)
				return
			}
			require.Len(subtest, result.Data.Submodules, testCase.expectedCount)
			require.GreaterOrEqual(subtest, len(result.Warnings), testCase.minimumWarnings)
		})
	}
}

func TestTransformWarnsAboutSubmoduleWithoutURL(testInstance *testing.T) {
	content := "[submodule \"docs\"]\n\tpath = docs\n" + testSSHGitModulesConstant

	result := submodule.NewTransformer().Transform(submodule.Request{
		GitModulesContent: &content,
		URLMappings:       map[string]string{"gitlab.com/org/repo": "github.com/org/repo"},
	})

	require.True(testInstance, result.Success)
	require.Equal(testInstance, []string{`submodule "docs" has no url; left unchanged`}, result.Warnings)
	require.Equal(testInstance, 1, result.Metadata[submodule.MetadataRewriteCountKey])
	require.Equal(testInstance, 1, result.Metadata[submodule.MetadataExternalCountKey])
	require.Equal(testInstance, 2, result.Metadata[submodule.MetadataTotalCountKey])
	require.False(testInstance, result.Data.Submodules[0].Rewritten)
	require.Empty(testInstance, result.Data.Submodules[0].URL)
}
