package gitbackend_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/carbon/internal/backend/gitbackend"
)

func TestParseRemoteURL(testInstance *testing.T) {
	testCases := []struct {
		name             string
		input            string
		expectedProtocol gitbackend.RemoteProtocol
		expectedIdentity string
		expectError      bool
	}{
		{name: "scp_like", input: "git@github.com:Example/Project.git", expectedProtocol: gitbackend.RemoteProtocolSSH, expectedIdentity: "github.com/Example/Project"},
		{name: "ssh_url", input: "ssh://git@GitHub.com/Example/Project.git", expectedProtocol: gitbackend.RemoteProtocolSSH, expectedIdentity: "github.com/Example/Project"},
		{name: "https_url", input: "https://github.com/Example/Project", expectedProtocol: gitbackend.RemoteProtocolHTTPS, expectedIdentity: "github.com/Example/Project"},
		{name: "https_with_credentials", input: "https://token@github.com/Example/Project.git/", expectedProtocol: gitbackend.RemoteProtocolHTTPS, expectedIdentity: "github.com/Example/Project"},
		{name: "git_protocol", input: "git://example.org/mirror/tool.git", expectedProtocol: gitbackend.RemoteProtocolGit, expectedIdentity: "example.org/mirror/tool"},
		{name: "absolute_path", input: "/srv/repositories/tool.git", expectedProtocol: gitbackend.RemoteProtocolFile, expectedIdentity: "file:/srv/repositories/tool.git"},
		{name: "file_url", input: "file:///srv/repositories/tool", expectedProtocol: gitbackend.RemoteProtocolFile, expectedIdentity: "file:/srv/repositories/tool"},
		{name: "empty", input: "  ", expectError: true},
		{name: "missing_path", input: "https://github.com/", expectError: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			remote, parseError := gitbackend.ParseRemoteURL(testCase.input)
			if testCase.expectError {
				var remoteError gitbackend.RemoteURLParseError
				require.ErrorAs(testInstance, parseError, &remoteError)
				return
			}
			require.NoError(testInstance, parseError)
			require.Equal(testInstance, testCase.expectedProtocol, remote.Protocol)
			require.Equal(testInstance, testCase.expectedIdentity, remote.Identity())
		})
	}
}

func TestParseRemoteURLMakesLocalPathsAbsolute(testInstance *testing.T) {
	remote, parseError := gitbackend.ParseRemoteURL("relative/repository")
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, gitbackend.RemoteProtocolFile, remote.Protocol)
	require.True(testInstance, filepath.IsAbs(filepath.FromSlash(remote.Path)))
}
