package gitbackend

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/temirov/carbon/internal/workdir"
)

const (
	archiveDirectoryPermissions      = 0o755
	archivePathPrefixToStrip         = "./"
	unsupportedArchiveEntryTemplate  = "unsupported archive entry %s of type %q"
	archiveReadErrorTemplateConstant = "unable to read archive: %w"
	archiveGlobalHeaderName          = "pax_global_header"
)

// extractArchive writes a tar stream into tree, replacing files that already exist.
func extractArchive(archiveReader io.Reader, tree *workdir.Tree) error {
	tarReader := tar.NewReader(archiveReader)
	for {
		header, nextError := tarReader.Next()
		if errors.Is(nextError, io.EOF) {
			return nil
		}
		if nextError != nil {
			return fmt.Errorf(archiveReadErrorTemplateConstant, nextError)
		}
		if header.Typeflag == tar.TypeXGlobalHeader || header.Name == archiveGlobalHeaderName {
			continue
		}
		relativePath := strings.TrimPrefix(header.Name, archivePathPrefixToStrip)
		if len(strings.Trim(relativePath, "/")) == 0 {
			continue
		}
		targetPath, resolveError := tree.Resolve(relativePath)
		if resolveError != nil {
			return resolveError
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if directoryError := os.MkdirAll(targetPath, archiveDirectoryPermissions); directoryError != nil {
				return directoryError
			}
		case tar.TypeReg:
			if writeError := writeArchiveFile(targetPath, tarReader, fs.FileMode(header.Mode).Perm()); writeError != nil {
				return writeError
			}
		case tar.TypeSymlink:
			if prepareError := prepareTarget(targetPath); prepareError != nil {
				return prepareError
			}
			if linkError := os.Symlink(header.Linkname, targetPath); linkError != nil {
				return linkError
			}
		default:
			return fmt.Errorf(unsupportedArchiveEntryTemplate, header.Name, string(header.Typeflag))
		}
	}
}

func writeArchiveFile(targetPath string, content io.Reader, permissions fs.FileMode) error {
	if prepareError := prepareTarget(targetPath); prepareError != nil {
		return prepareError
	}
	file, openError := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, permissions)
	if openError != nil {
		return openError
	}
	if _, copyError := io.Copy(file, content); copyError != nil {
		_ = file.Close()
		return copyError
	}
	if closeError := file.Close(); closeError != nil {
		return closeError
	}
	// OpenFile honours the umask, the archive mode is authoritative.
	return os.Chmod(targetPath, permissions)
}

// prepareTarget creates the parent directory and removes any existing entry at targetPath.
func prepareTarget(targetPath string) error {
	if directoryError := os.MkdirAll(filepath.Dir(targetPath), archiveDirectoryPermissions); directoryError != nil {
		return directoryError
	}
	if removeError := os.RemoveAll(targetPath); removeError != nil && !errors.Is(removeError, os.ErrNotExist) {
		return removeError
	}
	return nil
}
