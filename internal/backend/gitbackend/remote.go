package gitbackend

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	sshProtocolPrefixConstant     = "ssh://"
	httpsProtocolPrefixConstant   = "https://"
	httpProtocolPrefixConstant    = "http://"
	gitProtocolPrefixConstant     = "git://"
	fileProtocolPrefixConstant    = "file://"
	sshUserDelimiterConstant      = "@"
	scpPathDelimiterConstant      = ":"
	pathSeparatorConstant         = "/"
	gitSuffixConstant             = ".git"
	remoteParseErrorTemplate      = "%s: %s"
	invalidRemoteMessageConstant  = "invalid remote url"
	requiredRemoteMessageConstant = "remote url is required"
	remoteIdentityTemplate        = "%s/%s"
)

// RemoteProtocol enumerates the transports a remote can use.
type RemoteProtocol string

// Supported remote protocols.
const (
	RemoteProtocolSSH   RemoteProtocol = "ssh"
	RemoteProtocolHTTPS RemoteProtocol = "https"
	RemoteProtocolHTTP  RemoteProtocol = "http"
	RemoteProtocolGit   RemoteProtocol = "git"
	RemoteProtocolFile  RemoteProtocol = "file"
)

// RemoteURL is a parsed git remote.
type RemoteURL struct {
	Protocol RemoteProtocol
	Host     string
	Path     string
}

// RemoteURLParseError indicates a remote string could not be parsed.
type RemoteURLParseError struct {
	Input   string
	Message string
}

// Error describes the parse failure.
func (parseError RemoteURLParseError) Error() string {
	return fmt.Sprintf(remoteParseErrorTemplate, parseError.Input, parseError.Message)
}

// ParseRemoteURL parses scp-like, URL and local path remotes.
func ParseRemoteURL(remote string) (RemoteURL, error) {
	trimmedRemote := strings.TrimSpace(remote)
	if len(trimmedRemote) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: requiredRemoteMessageConstant}
	}

	switch {
	case strings.HasPrefix(trimmedRemote, sshProtocolPrefixConstant):
		return parseHostRemote(RemoteProtocolSSH, strings.TrimPrefix(trimmedRemote, sshProtocolPrefixConstant), remote)
	case strings.HasPrefix(trimmedRemote, httpsProtocolPrefixConstant):
		return parseHostRemote(RemoteProtocolHTTPS, strings.TrimPrefix(trimmedRemote, httpsProtocolPrefixConstant), remote)
	case strings.HasPrefix(trimmedRemote, httpProtocolPrefixConstant):
		return parseHostRemote(RemoteProtocolHTTP, strings.TrimPrefix(trimmedRemote, httpProtocolPrefixConstant), remote)
	case strings.HasPrefix(trimmedRemote, gitProtocolPrefixConstant):
		return parseHostRemote(RemoteProtocolGit, strings.TrimPrefix(trimmedRemote, gitProtocolPrefixConstant), remote)
	case strings.HasPrefix(trimmedRemote, fileProtocolPrefixConstant):
		return parseLocalRemote(strings.TrimPrefix(trimmedRemote, fileProtocolPrefixConstant))
	case isScpLikeRemote(trimmedRemote):
		return parseScpLikeRemote(trimmedRemote, remote)
	default:
		return parseLocalRemote(trimmedRemote)
	}
}

// Identity returns a stable identifier for the remote that ignores transport and credentials,
// so ssh and https spellings of the same repository share migration state.
func (remote RemoteURL) Identity() string {
	if remote.Protocol == RemoteProtocolFile {
		return string(RemoteProtocolFile) + scpPathDelimiterConstant + remote.Path
	}
	return fmt.Sprintf(remoteIdentityTemplate, strings.ToLower(remote.Host), remote.Path)
}

func isScpLikeRemote(remote string) bool {
	colonIndex := strings.Index(remote, scpPathDelimiterConstant)
	if colonIndex <= 0 {
		return false
	}
	slashIndex := strings.Index(remote, pathSeparatorConstant)
	return slashIndex == -1 || colonIndex < slashIndex
}

func parseScpLikeRemote(remote string, original string) (RemoteURL, error) {
	hostAndPath := remote
	if userSplitIndex := strings.Index(remote, sshUserDelimiterConstant); userSplitIndex != -1 {
		hostAndPath = remote[userSplitIndex+1:]
	}
	pathSplitIndex := strings.Index(hostAndPath, scpPathDelimiterConstant)
	host := hostAndPath[:pathSplitIndex]
	repositoryPath, pathError := normalizeRepositoryPath(hostAndPath[pathSplitIndex+1:], original)
	if pathError != nil {
		return RemoteURL{}, pathError
	}
	return RemoteURL{Protocol: RemoteProtocolSSH, Host: host, Path: repositoryPath}, nil
}

func parseHostRemote(protocol RemoteProtocol, remainder string, original string) (RemoteURL, error) {
	slashIndex := strings.Index(remainder, pathSeparatorConstant)
	if slashIndex <= 0 {
		return RemoteURL{}, RemoteURLParseError{Input: original, Message: invalidRemoteMessageConstant}
	}
	host := remainder[:slashIndex]
	if userSplitIndex := strings.LastIndex(host, sshUserDelimiterConstant); userSplitIndex != -1 {
		host = host[userSplitIndex+1:]
	}
	repositoryPath, pathError := normalizeRepositoryPath(remainder[slashIndex+1:], original)
	if pathError != nil {
		return RemoteURL{}, pathError
	}
	return RemoteURL{Protocol: protocol, Host: host, Path: repositoryPath}, nil
}

func parseLocalRemote(localPath string) (RemoteURL, error) {
	absolutePath, absoluteError := filepath.Abs(localPath)
	if absoluteError != nil {
		return RemoteURL{}, RemoteURLParseError{Input: localPath, Message: absoluteError.Error()}
	}
	return RemoteURL{Protocol: RemoteProtocolFile, Path: filepath.ToSlash(filepath.Clean(absolutePath))}, nil
}

func normalizeRepositoryPath(repositoryPath string, original string) (string, error) {
	trimmed := strings.Trim(strings.TrimSuffix(strings.TrimSuffix(repositoryPath, pathSeparatorConstant), gitSuffixConstant), pathSeparatorConstant)
	if len(trimmed) == 0 {
		return "", RemoteURLParseError{Input: original, Message: invalidRemoteMessageConstant}
	}
	return trimmed, nil
}
