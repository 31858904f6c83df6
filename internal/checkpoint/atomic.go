package checkpoint

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces filePath with contents through a synced temporary file in
// the same directory. Readers observe either the previous file or the complete new one.
func WriteFileAtomic(filePath string, contents []byte, permissions fs.FileMode) error {
	return writeFileAtomic(filePath, contents, permissions, os.Rename)
}

func writeFileAtomic(filePath string, contents []byte, permissions fs.FileMode, rename RenameFunction) error {
	directory := filepath.Dir(filePath)
	if mkdirError := os.MkdirAll(directory, checkpointDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(createDirectoryErrorTemplateConstant, directory, mkdirError)
	}

	temporaryFile, createError := os.CreateTemp(directory, fmt.Sprintf(temporaryFilePatternTemplateConstant, filepath.Base(filePath)))
	if createError != nil {
		return fmt.Errorf(createTemporaryErrorTemplateConstant, createError)
	}
	temporaryPath := temporaryFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(temporaryPath)
		}
	}()

	if _, writeError := temporaryFile.Write(contents); writeError != nil {
		_ = temporaryFile.Close()
		return fmt.Errorf(writeTemporaryErrorTemplateConstant, writeError)
	}
	if chmodError := temporaryFile.Chmod(permissions); chmodError != nil {
		_ = temporaryFile.Close()
		return fmt.Errorf(writeTemporaryErrorTemplateConstant, chmodError)
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		_ = temporaryFile.Close()
		return fmt.Errorf(syncTemporaryErrorTemplateConstant, syncError)
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return fmt.Errorf(closeTemporaryErrorTemplateConstant, closeError)
	}
	if renameError := rename(temporaryPath, filePath); renameError != nil {
		return fmt.Errorf(renameErrorTemplateConstant, filePath, renameError)
	}
	committed = true
	return nil
}
