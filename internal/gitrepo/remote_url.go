package gitrepo

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	sshProtocolPrefixConstant           = "ssh://"
	httpsProtocolPrefixConstant         = "https://"
	httpProtocolPrefixConstant          = "http://"
	schemeSeparatorConstant             = "://"
	userDelimiterConstant               = "@"
	scpPathDelimiterConstant            = ":"
	portDelimiterConstant               = ":"
	pathSeparatorConstant               = "/"
	gitSuffixConstant                   = ".git"
	remoteURLParseErrorTemplateConstant = "%s: %s"
	requiredValueMessageConstant        = "value required"
	invalidRemoteURLMessageConstant     = "invalid remote url"
	relativeRemoteURLMessageConstant    = "relative remote url"
	unknownProtocolMessageConstant      = "unsupported remote protocol"
	relativePathPrefixConstant          = "."
)

// RemoteProtocol enumerates supported git remote protocols.
type RemoteProtocol string

// Supported remote protocols.
const (
	// RemoteProtocolSCP is the scp-like form user@host:path.
	RemoteProtocolSCP   RemoteProtocol = RemoteProtocol("scp")
	RemoteProtocolSSH   RemoteProtocol = RemoteProtocol("ssh")
	RemoteProtocolHTTPS RemoteProtocol = RemoteProtocol("https")
	RemoteProtocolHTTP  RemoteProtocol = RemoteProtocol("http")
)

// RemoteURL represents a structured git remote URL. Namespace may contain nested groups.
type RemoteURL struct {
	Protocol   RemoteProtocol
	User       string
	Host       string
	Port       string
	Namespace  string
	Repository string
	GitSuffix  bool
}

// RemoteURLParseError indicates a remote string could not be parsed.
type RemoteURLParseError struct {
	Input   string
	Message string
}

// Error describes the parse failure.
func (parseError RemoteURLParseError) Error() string {
	return fmt.Sprintf(remoteURLParseErrorTemplateConstant, parseError.Input, parseError.Message)
}

// UnsupportedProtocolError indicates the provided protocol cannot be formatted.
type UnsupportedProtocolError struct {
	Protocol RemoteProtocol
}

// Error describes the unsupported protocol.
func (protocolError UnsupportedProtocolError) Error() string {
	return fmt.Sprintf(remoteURLParseErrorTemplateConstant, protocolError.Protocol, unknownProtocolMessageConstant)
}

// IsRelativeRemote reports whether the remote is a path relative to the superproject.
func IsRelativeRemote(remote string) bool {
	return strings.HasPrefix(strings.TrimSpace(remote), relativePathPrefixConstant)
}

// ParseRemoteURL converts a textual remote URL into a structured representation.
func ParseRemoteURL(remote string) (RemoteURL, error) {
	trimmedRemote := strings.TrimSpace(remote)
	switch {
	case len(trimmedRemote) == 0:
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: requiredValueMessageConstant}
	case IsRelativeRemote(trimmedRemote):
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: relativeRemoteURLMessageConstant}
	case strings.HasPrefix(trimmedRemote, sshProtocolPrefixConstant):
		return parseHierarchicalRemote(trimmedRemote, RemoteProtocolSSH)
	case strings.HasPrefix(trimmedRemote, httpsProtocolPrefixConstant):
		return parseHierarchicalRemote(trimmedRemote, RemoteProtocolHTTPS)
	case strings.HasPrefix(trimmedRemote, httpProtocolPrefixConstant):
		return parseHierarchicalRemote(trimmedRemote, RemoteProtocolHTTP)
	case strings.Contains(trimmedRemote, schemeSeparatorConstant):
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: unknownProtocolMessageConstant}
	default:
		return parseSCPRemote(trimmedRemote)
	}
}

func parseHierarchicalRemote(remote string, protocol RemoteProtocol) (RemoteURL, error) {
	parsedURL, parseError := url.Parse(remote)
	if parseError != nil || len(parsedURL.Hostname()) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
	}
	parsedRemote := RemoteURL{Protocol: protocol, Host: parsedURL.Hostname(), Port: parsedURL.Port()}
	if parsedURL.User != nil {
		parsedRemote.User = parsedURL.User.Username()
	}
	return assignPath(parsedRemote, parsedURL.Path, remote)
}

func parseSCPRemote(remote string) (RemoteURL, error) {
	pathSplitIndex := strings.Index(remote, scpPathDelimiterConstant)
	if pathSplitIndex <= 0 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
	}
	userAndHost := remote[:pathSplitIndex]
	parsedRemote := RemoteURL{Protocol: RemoteProtocolSCP, Host: userAndHost}
	if userSplitIndex := strings.LastIndex(userAndHost, userDelimiterConstant); userSplitIndex >= 0 {
		parsedRemote.User = userAndHost[:userSplitIndex]
		parsedRemote.Host = userAndHost[userSplitIndex+1:]
	}
	if len(parsedRemote.Host) == 0 || strings.Contains(parsedRemote.Host, pathSeparatorConstant) {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
	}
	return assignPath(parsedRemote, remote[pathSplitIndex+1:], remote)
}

func assignPath(remote RemoteURL, rawPath string, input string) (RemoteURL, error) {
	trimmedPath := strings.Trim(rawPath, pathSeparatorConstant)
	if strings.HasSuffix(trimmedPath, gitSuffixConstant) {
		remote.GitSuffix = true
		trimmedPath = strings.TrimSuffix(trimmedPath, gitSuffixConstant)
	}
	separatorIndex := strings.LastIndex(trimmedPath, pathSeparatorConstant)
	if separatorIndex <= 0 || separatorIndex == len(trimmedPath)-1 {
		return RemoteURL{}, RemoteURLParseError{Input: input, Message: invalidRemoteURLMessageConstant}
	}
	remote.Namespace = trimmedPath[:separatorIndex]
	remote.Repository = trimmedPath[separatorIndex+1:]
	return remote, nil
}

// Path returns namespace/repository.
func (remote RemoteURL) Path() string {
	return remote.Namespace + pathSeparatorConstant + remote.Repository
}

// NormalizedKey returns the protocol-independent lookup key host/namespace/repository.
func (remote RemoteURL) NormalizedKey() string {
	return strings.ToLower(remote.Host + pathSeparatorConstant + remote.Path())
}

// Relocate points the remote at another host and path while keeping its protocol style.
func (remote RemoteURL) Relocate(target RemoteURL) RemoteURL {
	relocated := remote
	if !strings.EqualFold(remote.Host, target.Host) {
		relocated.Port = ""
	}
	relocated.Host = target.Host
	relocated.Namespace = target.Namespace
	relocated.Repository = target.Repository
	return relocated
}

// NormalizeRemoteURL returns the lookup key for a remote URL or a bare host/namespace/repository key.
func NormalizeRemoteURL(remote string) (string, error) {
	parsedRemote, parseError := ParseLocation(remote)
	if parseError != nil {
		return "", parseError
	}
	return parsedRemote.NormalizedKey(), nil
}

// ParseLocation accepts either a remote URL or a bare host[:port]/namespace/repository
// key. A numeric segment after the first colon is a port, not an scp path.
func ParseLocation(location string) (RemoteURL, error) {
	trimmedLocation := strings.TrimSpace(location)
	if host, port, rawPath, isBare := splitBareHostPort(trimmedLocation); isBare {
		return assignPath(RemoteURL{Protocol: RemoteProtocolHTTPS, Host: host, Port: port}, rawPath, location)
	}
	if strings.Contains(trimmedLocation, schemeSeparatorConstant) || strings.Contains(trimmedLocation, scpPathDelimiterConstant) || IsRelativeRemote(trimmedLocation) {
		return ParseRemoteURL(trimmedLocation)
	}
	hostSplitIndex := strings.Index(trimmedLocation, pathSeparatorConstant)
	if hostSplitIndex <= 0 {
		return RemoteURL{}, RemoteURLParseError{Input: location, Message: invalidRemoteURLMessageConstant}
	}
	return assignPath(RemoteURL{Protocol: RemoteProtocolHTTPS, Host: trimmedLocation[:hostSplitIndex]}, trimmedLocation[hostSplitIndex+1:], location)
}

func splitBareHostPort(location string) (string, string, string, bool) {
	if strings.Contains(location, schemeSeparatorConstant) || strings.Contains(location, userDelimiterConstant) {
		return "", "", "", false
	}
	hostAndPort, rawPath, hasPath := strings.Cut(location, pathSeparatorConstant)
	if !hasPath {
		return "", "", "", false
	}
	host, port, hasPort := strings.Cut(hostAndPort, portDelimiterConstant)
	if !hasPort || len(host) == 0 {
		return "", "", "", false
	}
	if _, portError := strconv.ParseUint(port, 10, 16); portError != nil {
		return "", "", "", false
	}
	return host, port, rawPath, true
}

// FormatRemoteURL creates a textual remote URL from a structured representation.
func FormatRemoteURL(remote RemoteURL) (string, error) {
	if len(strings.TrimSpace(remote.Host)) == 0 {
		return "", RemoteURLParseError{Input: remote.Host, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(remote.Namespace)) == 0 {
		return "", RemoteURLParseError{Input: remote.Namespace, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(remote.Repository)) == 0 {
		return "", RemoteURLParseError{Input: remote.Repository, Message: requiredValueMessageConstant}
	}

	repositoryPath := remote.Path()
	if remote.GitSuffix {
		repositoryPath += gitSuffixConstant
	}
	userPrefix := ""
	if len(remote.User) > 0 {
		userPrefix = remote.User + userDelimiterConstant
	}
	hostWithPort := remote.Host
	if len(remote.Port) > 0 {
		hostWithPort += portDelimiterConstant + remote.Port
	}

	switch remote.Protocol {
	case RemoteProtocolSCP:
		return userPrefix + remote.Host + scpPathDelimiterConstant + repositoryPath, nil
	case RemoteProtocolSSH:
		return sshProtocolPrefixConstant + userPrefix + hostWithPort + pathSeparatorConstant + repositoryPath, nil
	case RemoteProtocolHTTPS:
		return httpsProtocolPrefixConstant + userPrefix + hostWithPort + pathSeparatorConstant + repositoryPath, nil
	case RemoteProtocolHTTP:
		return httpProtocolPrefixConstant + userPrefix + hostWithPort + pathSeparatorConstant + repositoryPath, nil
	default:
		return "", UnsupportedProtocolError{Protocol: remote.Protocol}
	}
}
