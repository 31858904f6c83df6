package gitrepo_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/gitrepo"
)

func TestParseRemoteURLNormalizesAcrossProtocols(testInstance *testing.T) {
	testCases := []struct {
		name             string
		remote           string
		expectedProtocol gitrepo.RemoteProtocol
		expectedKey      string
		expectedUser     string
	}{
		{name: "https", remote: "https://gitlab.com/org/repo.git", expectedProtocol: gitrepo.RemoteProtocolHTTPS, expectedKey: "gitlab.com/org/repo"},
		{name: "https_without_suffix", remote: "https://gitlab.com/org/repo", expectedProtocol: gitrepo.RemoteProtocolHTTPS, expectedKey: "gitlab.com/org/repo"},
		{name: "http_nested_groups", remote: "http://gitlab.internal/platform/backend/api.git", expectedProtocol: gitrepo.RemoteProtocolHTTP, expectedKey: "gitlab.internal/platform/backend/api"},
		{name: "scp", remote: "git@gitlab.com:org/repo.git", expectedProtocol: gitrepo.RemoteProtocolSCP, expectedKey: "gitlab.com/org/repo", expectedUser: "git"},
		{name: "ssh_with_port", remote: "ssh://git@gitlab.com:2222/org/repo.git", expectedProtocol: gitrepo.RemoteProtocolSSH, expectedKey: "gitlab.com/org/repo", expectedUser: "git"},
		{name: "mixed_case_host", remote: "https://GitLab.com/Org/Repo.git", expectedProtocol: gitrepo.RemoteProtocolHTTPS, expectedKey: "gitlab.com/org/repo"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			remote, parseError := gitrepo.ParseRemoteURL(testCase.remote)
			require.NoError(subtest, parseError)
			require.Equal(subtest, testCase.expectedProtocol, remote.Protocol)
			require.Equal(subtest, testCase.expectedKey, remote.NormalizedKey())
			require.Equal(subtest, testCase.expectedUser, remote.User)

			formatted, formatError := gitrepo.FormatRemoteURL(remote)
			require.NoError(subtest, formatError)
			require.Equal(subtest, testCase.remote, formatted)
		})
	}
}

func TestParseRemoteURLRejectsInvalidInput(testInstance *testing.T) {
	testCases := []struct {
		name   string
		remote string
	}{
		{name: "empty", remote: "  "},
		{name: "relative", remote: "../sibling.git"},
		{name: "no_namespace", remote: "https://gitlab.com/repo.git"},
		{name: "file_protocol", remote: "file:///srv/repo.git"},
		{name: "scp_without_path", remote: "git@gitlab.com:"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			_, parseError := gitrepo.ParseRemoteURL(testCase.remote)
			require.Error(subtest, parseError)
			require.IsType(subtest, gitrepo.RemoteURLParseError{}, parseError)
		})
	}
}

func TestRelocatePreservesProtocolStyle(testInstance *testing.T) {
	target, parseError := gitrepo.ParseLocation("github.com/acme/repo")
	require.NoError(testInstance, parseError)

	testCases := []struct {
		name     string
		remote   string
		expected string
	}{
		{name: "scp", remote: "git@gitlab.com:org/repo.git", expected: "git@github.com:acme/repo.git"},
		{name: "https", remote: "https://gitlab.com/org/repo.git", expected: "https://github.com/acme/repo.git"},
		{name: "https_without_suffix", remote: "https://gitlab.com/org/repo", expected: "https://github.com/acme/repo"},
		{name: "ssh_drops_source_port", remote: "ssh://git@gitlab.com:2222/org/repo.git", expected: "ssh://git@github.com/acme/repo.git"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			remote, remoteError := gitrepo.ParseRemoteURL(testCase.remote)
			require.NoError(subtest, remoteError)

			formatted, formatError := gitrepo.FormatRemoteURL(remote.Relocate(target))
			require.NoError(subtest, formatError)
			require.Equal(subtest, testCase.expected, formatted)
		})
	}
}

func TestNormalizeRemoteURLAcceptsBareKeys(testInstance *testing.T) {
	normalized, normalizeError := gitrepo.NormalizeRemoteURL("gitlab.com/Org/Repo")
	require.NoError(testInstance, normalizeError)
	require.Equal(testInstance, "gitlab.com/org/repo", normalized)

	_, normalizeError = gitrepo.NormalizeRemoteURL("gitlab.com")
	require.Error(testInstance, normalizeError)
}

func TestParseLocationDistinguishesPortFromSCPPath(testInstance *testing.T) {
	testCases := []struct {
		name               string
		location           string
		expectedProtocol   gitrepo.RemoteProtocol
		expectedHost       string
		expectedPort       string
		expectedNamespace  string
		expectedRepository string
	}{
		{name: "bare_key_with_port", location: "gitlab.internal:2222/group/sub/repo", expectedProtocol: gitrepo.RemoteProtocolHTTPS, expectedHost: "gitlab.internal", expectedPort: "2222", expectedNamespace: "group/sub", expectedRepository: "repo"},
		{name: "scp_without_user", location: "gitlab.internal:group/repo.git", expectedProtocol: gitrepo.RemoteProtocolSCP, expectedHost: "gitlab.internal", expectedNamespace: "group", expectedRepository: "repo"},
		{name: "scp_with_user", location: "git@gitlab.internal:2222/repo.git", expectedProtocol: gitrepo.RemoteProtocolSCP, expectedHost: "gitlab.internal", expectedNamespace: "2222", expectedRepository: "repo"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subtest *testing.T) {
			location, parseError := gitrepo.ParseLocation(testCase.location)
			require.NoError(subtest, parseError)
			require.Equal(subtest, testCase.expectedProtocol, location.Protocol)
			require.Equal(subtest, testCase.expectedHost, location.Host)
			require.Equal(subtest, testCase.expectedPort, location.Port)
			require.Equal(subtest, testCase.expectedNamespace, location.Namespace)
			require.Equal(subtest, testCase.expectedRepository, location.Repository)
		})
	}

	normalized, normalizeError := gitrepo.NormalizeRemoteURL("gitlab.internal:2222/group/repo")
	require.NoError(testInstance, normalizeError)
	require.Equal(testInstance, "gitlab.internal/group/repo", normalized)
}

func TestFormatRemoteURLRejectsUnknownProtocol(testInstance *testing.T) {
	_, formatError := gitrepo.FormatRemoteURL(gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocol("ftp"), Host: "example.com", Namespace: "org", Repository: "repo"})
	require.IsType(testInstance, gitrepo.UnsupportedProtocolError{}, formatError)
}
