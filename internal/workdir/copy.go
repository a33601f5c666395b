package workdir

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const copiedDirectoryPermissionsConstant fs.FileMode = 0o755

// CopyDirectory mirrors the contents of source into destination. Paths for which skip returns true are not copied.
func CopyDirectory(source string, destination string, skip func(relativePath string) bool) error {
	return filepath.WalkDir(source, func(currentPath string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		relativePath, relativeError := filepath.Rel(source, currentPath)
		if relativeError != nil {
			return relativeError
		}
		if relativePath == "." {
			return os.MkdirAll(destination, copiedDirectoryPermissionsConstant)
		}
		if skip != nil && skip(filepath.ToSlash(relativePath)) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		targetPath := filepath.Join(destination, relativePath)
		information, informationError := entry.Info()
		if informationError != nil {
			return informationError
		}

		switch {
		case entry.IsDir():
			return os.MkdirAll(targetPath, information.Mode().Perm()|0o700)
		case information.Mode()&fs.ModeSymlink != 0:
			linkTarget, linkError := os.Readlink(currentPath)
			if linkError != nil {
				return linkError
			}
			if removeError := os.RemoveAll(targetPath); removeError != nil {
				return removeError
			}
			return os.Symlink(linkTarget, targetPath)
		case information.Mode().IsRegular():
			return copyFile(currentPath, targetPath, information.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(sourcePath string, targetPath string, permissions fs.FileMode) error {
	sourceHandle, openError := os.Open(sourcePath)
	if openError != nil {
		return openError
	}
	defer sourceHandle.Close()

	if directoryError := os.MkdirAll(filepath.Dir(targetPath), copiedDirectoryPermissionsConstant); directoryError != nil {
		return directoryError
	}
	targetHandle, createError := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, permissions)
	if createError != nil {
		return createError
	}
	if _, copyError := io.Copy(targetHandle, sourceHandle); copyError != nil {
		targetHandle.Close()
		return copyError
	}
	if closeError := targetHandle.Close(); closeError != nil {
		return closeError
	}
	return os.Chmod(targetPath, permissions)
}
