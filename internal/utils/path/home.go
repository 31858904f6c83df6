package pathutils

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	tildeSymbolConstant             = "~"
	tildeForwardSlashPrefixConstant = "~/"
)

// HomeDirectoryProvider resolves the current user's home directory path.
type HomeDirectoryProvider func() (string, error)

var homeDirectoryProvider HomeDirectoryProvider = os.UserHomeDir

// ExpandHome resolves a leading "~" or "~/" to the user's home directory. Other paths,
// including "~user" forms, are returned unchanged, as is everything when the home
// directory cannot be determined.
func ExpandHome(candidatePath string) string {
	return ExpandHomeWith(homeDirectoryProvider, candidatePath)
}

// ExpandHomeWith expands candidatePath using the provided home directory lookup.
func ExpandHomeWith(provider HomeDirectoryProvider, candidatePath string) string {
	if provider == nil || !strings.HasPrefix(candidatePath, tildeSymbolConstant) {
		return candidatePath
	}
	relativePath, isHomeRelative := homeRelativePart(candidatePath)
	if !isHomeRelative {
		return candidatePath
	}
	homeDirectory, homeError := provider()
	if homeError != nil || len(homeDirectory) == 0 {
		return candidatePath
	}
	if len(relativePath) == 0 {
		return homeDirectory
	}
	return filepath.Join(homeDirectory, relativePath)
}

func homeRelativePart(candidatePath string) (string, bool) {
	switch {
	case candidatePath == tildeSymbolConstant:
		return "", true
	case strings.HasPrefix(candidatePath, tildeForwardSlashPrefixConstant):
		return strings.TrimPrefix(candidatePath, tildeForwardSlashPrefixConstant), true
	case strings.HasPrefix(candidatePath, tildeSymbolConstant+string(os.PathSeparator)):
		return strings.TrimPrefix(candidatePath, tildeSymbolConstant+string(os.PathSeparator)), true
	default:
		return "", false
	}
}
