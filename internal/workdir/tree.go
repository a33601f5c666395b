package workdir

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	treePathEscapeErrorTemplateConstant = "path %q escapes working tree %s"
	treeDigestEntryTemplateConstant     = "%s\x00%o\x00"
	treeDigestLinkPrefixConstant        = "link:"
	parentDirectoryTokenConstant        = ".."
)

// ErrPathEscapesTree indicates that a relative path resolved outside the tree root.
var ErrPathEscapesTree = errors.New("path escapes working tree")

// Tree is an exclusively owned staging directory bound to one change at a time.
type Tree struct {
	root       string
	identifier string
}

// NewTree wraps an existing directory as a Tree. Trees handed out by Manager should be preferred.
func NewTree(root string) *Tree {
	return &Tree{root: filepath.Clean(root), identifier: filepath.Base(root)}
}

// Root returns the absolute tree root.
func (tree *Tree) Root() string {
	return tree.root
}

// Identifier returns the unique tree name.
func (tree *Tree) Identifier() string {
	return tree.identifier
}

// Resolve converts a slash separated relative path into a filesystem path inside the tree.
func (tree *Tree) Resolve(relativePath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(relativePath, "/")))
	if cleaned == parentDirectoryTokenConstant || strings.HasPrefix(cleaned, parentDirectoryTokenConstant+string(filepath.Separator)) {
		return "", fmt.Errorf(treePathEscapeErrorTemplateConstant+": %w", relativePath, tree.root, ErrPathEscapesTree)
	}
	return filepath.Join(tree.root, cleaned), nil
}

// Files lists regular files and symbolic links as sorted slash separated relative paths.
func (tree *Tree) Files() ([]string, error) {
	var relativePaths []string
	walkError := filepath.WalkDir(tree.root, func(currentPath string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if entry.IsDir() {
			return nil
		}
		relativePath, relativeError := filepath.Rel(tree.root, currentPath)
		if relativeError != nil {
			return relativeError
		}
		relativePaths = append(relativePaths, filepath.ToSlash(relativePath))
		return nil
	})
	if walkError != nil {
		return nil, walkError
	}
	sort.Strings(relativePaths)
	return relativePaths, nil
}

// Size sums the sizes of the files in the tree.
func (tree *Tree) Size() (int64, error) {
	var totalSize int64
	walkError := filepath.WalkDir(tree.root, func(_ string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		information, informationError := entry.Info()
		if informationError != nil {
			return informationError
		}
		totalSize += information.Size()
		return nil
	})
	return totalSize, walkError
}

// Clear removes every entry below the root while keeping the root itself.
func (tree *Tree) Clear() error {
	return tree.ClearExcept(nil)
}

// ClearExcept removes every top-level entry of the tree for which keep returns false.
func (tree *Tree) ClearExcept(keep func(relativePath string) bool) error {
	entries, readError := os.ReadDir(tree.root)
	if readError != nil {
		return readError
	}
	for _, entry := range entries {
		if keep != nil && keep(entry.Name()) {
			continue
		}
		if removeError := os.RemoveAll(filepath.Join(tree.root, entry.Name())); removeError != nil {
			return removeError
		}
	}
	return nil
}

// Digest hashes paths, permissions, and content of every file in the tree.
func (tree *Tree) Digest() (string, error) {
	return DirectoryDigest(tree.root, nil)
}

// DirectoryDigest hashes a directory the same way Tree.Digest does. Paths for which skip returns true are ignored.
func DirectoryDigest(root string, skip func(relativePath string) bool) (string, error) {
	hasher := sha256.New()
	var relativePaths []string
	walkError := filepath.WalkDir(root, func(currentPath string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if entry.IsDir() {
			return nil
		}
		relativePath, relativeError := filepath.Rel(root, currentPath)
		if relativeError != nil {
			return relativeError
		}
		slashPath := filepath.ToSlash(relativePath)
		if skip != nil && skip(slashPath) {
			return nil
		}
		relativePaths = append(relativePaths, slashPath)
		return nil
	})
	if walkError != nil {
		return "", walkError
	}
	sort.Strings(relativePaths)

	for _, relativePath := range relativePaths {
		absolutePath := filepath.Join(root, filepath.FromSlash(relativePath))
		information, statError := os.Lstat(absolutePath)
		if statError != nil {
			return "", statError
		}
		fmt.Fprintf(hasher, treeDigestEntryTemplateConstant, relativePath, information.Mode().Perm())
		if information.Mode()&fs.ModeSymlink != 0 {
			linkTarget, linkError := os.Readlink(absolutePath)
			if linkError != nil {
				return "", linkError
			}
			io.WriteString(hasher, treeDigestLinkPrefixConstant+linkTarget)
			continue
		}
		if hashError := hashFile(hasher, absolutePath); hashError != nil {
			return "", hashError
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashFile(destination io.Writer, filePath string) error {
	fileHandle, openError := os.Open(filePath)
	if openError != nil {
		return openError
	}
	defer fileHandle.Close()
	_, copyError := io.Copy(destination, fileHandle)
	return copyError
}
