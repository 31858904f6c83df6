package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/moti-malka/gl2gh/internal/execshell"
)

const (
	gitCloneSubcommandConstant           = "clone"
	gitRemoteSubcommandConstant          = "remote"
	gitUpdateSubcommandConstant          = "update"
	gitPushSubcommandConstant            = "push"
	gitMirrorFlagConstant                = "--mirror"
	gitPruneFlagConstant                 = "--prune"
	mirrorHeadFileNameConstant           = "HEAD"
	mirrorDirectoryPermissionsConstant   = 0o755
	executorNotConfiguredMessageConstant = "git executor not configured"
	cloneMirrorErrorTemplateConstant     = "clone mirror of %s: %w"
	updateMirrorErrorTemplateConstant    = "update mirror in %s: %w"
	pushMirrorErrorTemplateConstant      = "push mirror from %s: %w"
	prepareMirrorErrorTemplateConstant   = "prepare mirror directory %s: %w"
)

// ErrGitExecutorNotConfigured indicates a MirrorManager without an executor.
var ErrGitExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)

// GitExecutor is the subset of execshell.ShellExecutor the mirror manager needs.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// MirrorManager maintains bare mirror clones used to move full repository history.
type MirrorManager struct {
	executor GitExecutor
}

// NewMirrorManager constructs a manager.
func NewMirrorManager(executor GitExecutor) (*MirrorManager, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &MirrorManager{executor: executor}, nil
}

// IsMirror reports whether the directory already holds a bare repository.
func (manager *MirrorManager) IsMirror(directory string) bool {
	headInfo, statError := os.Stat(filepath.Join(directory, mirrorHeadFileNameConstant))
	return statError == nil && !headInfo.IsDir()
}

// SyncMirror clones the source into the directory, or refreshes an existing mirror in place.
// It returns true when an existing mirror was refreshed.
func (manager *MirrorManager) SyncMirror(executionContext context.Context, sourceURL string, directory string) (bool, error) {
	if manager.IsMirror(directory) {
		return true, manager.UpdateMirror(executionContext, directory)
	}
	return false, manager.CloneMirror(executionContext, sourceURL, directory)
}

// CloneMirror creates a bare mirror clone of the source.
func (manager *MirrorManager) CloneMirror(executionContext context.Context, sourceURL string, directory string) error {
	parentDirectory := filepath.Dir(directory)
	if mkdirError := os.MkdirAll(parentDirectory, mirrorDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(prepareMirrorErrorTemplateConstant, parentDirectory, mkdirError)
	}
	_, executionError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments: []string{gitCloneSubcommandConstant, gitMirrorFlagConstant, sourceURL, directory},
	})
	if executionError != nil {
		return fmt.Errorf(cloneMirrorErrorTemplateConstant, execshell.RedactCredentials(sourceURL), executionError)
	}
	return nil
}

// UpdateMirror fetches every ref of an existing mirror.
func (manager *MirrorManager) UpdateMirror(executionContext context.Context, directory string) error {
	_, executionError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitRemoteSubcommandConstant, gitUpdateSubcommandConstant, gitPruneFlagConstant},
		WorkingDirectory: directory,
	})
	if executionError != nil {
		return fmt.Errorf(updateMirrorErrorTemplateConstant, directory, executionError)
	}
	return nil
}

// PushMirror pushes every ref of the mirror to the target remote.
func (manager *MirrorManager) PushMirror(executionContext context.Context, directory string, targetURL string) error {
	_, executionError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitPushSubcommandConstant, gitMirrorFlagConstant, targetURL},
		WorkingDirectory: directory,
	})
	if executionError != nil {
		return fmt.Errorf(pushMirrorErrorTemplateConstant, directory, executionError)
	}
	return nil
}

// WithCredentials embeds user and token into an http(s) remote. Other remotes are returned unchanged.
func WithCredentials(remote string, user string, token string) string {
	if len(strings.TrimSpace(token)) == 0 {
		return remote
	}
	parsedURL, parseError := url.Parse(remote)
	if parseError != nil || (parsedURL.Scheme != string(RemoteProtocolHTTPS) && parsedURL.Scheme != string(RemoteProtocolHTTP)) {
		return remote
	}
	parsedURL.User = url.UserPassword(user, token)
	return parsedURL.String()
}
