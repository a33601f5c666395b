package transform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/temirov/carbon/internal/workdir"
)

const (
	moveTransformationNameTemplate = "move(%q -> %q)"
	moveSameEndpointsMessage       = "move requires different from and to values"
	moveSourceMissingTemplate      = "move source %q does not exist: %w"
	moveTargetExistsTemplate       = "move target %q already exists"
	moveNestedTargetTemplate       = "move target %q is inside source %q"
	moveDirectoryPermissions       = fs.FileMode(0o755)
	treeRootPathConstant           = "."
)

// MoveOptions configures the move transformation. An empty value denotes the tree root.
type MoveOptions struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// Move relocates a file or directory inside the tree.
type Move struct {
	from string
	to   string
}

// NewMove validates the endpoints and constructs a Move.
func NewMove(options MoveOptions) (*Move, error) {
	from := normalizeTreePath(options.From)
	to := normalizeTreePath(options.To)
	if from == to {
		return nil, errors.New(moveSameEndpointsMessage)
	}
	if from != treeRootPathConstant && strings.HasPrefix(to+"/", from+"/") {
		return nil, fmt.Errorf(moveNestedTargetTemplate, to, from)
	}
	return &Move{from: from, to: to}, nil
}

// Name describes the move.
func (move *Move) Name() string {
	return fmt.Sprintf(moveTransformationNameTemplate, move.from, move.to)
}

// Apply performs the move.
func (move *Move) Apply(executionContext context.Context, tree *workdir.Tree) error {
	return relocate(executionContext, tree, move.from, move.to)
}

// Reverse moves content back to its original location.
func (move *Move) Reverse(executionContext context.Context, tree *workdir.Tree) error {
	return relocate(executionContext, tree, move.to, move.from)
}

func relocate(executionContext context.Context, tree *workdir.Tree, from string, to string) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	switch {
	case from == treeRootPathConstant:
		return moveRootInto(tree, to)
	case to == treeRootPathConstant:
		return moveIntoRoot(tree, from)
	default:
		return movePath(tree, from, to)
	}
}

func movePath(tree *workdir.Tree, from string, to string) error {
	sourcePath, sourceError := tree.Resolve(from)
	if sourceError != nil {
		return sourceError
	}
	targetPath, targetError := tree.Resolve(to)
	if targetError != nil {
		return targetError
	}
	if _, statError := os.Lstat(sourcePath); statError != nil {
		if errors.Is(statError, fs.ErrNotExist) {
			return fmt.Errorf(moveSourceMissingTemplate, from, ErrNoEffect)
		}
		return statError
	}
	if _, statError := os.Lstat(targetPath); statError == nil {
		return fmt.Errorf(moveTargetExistsTemplate, to)
	}
	if directoryError := os.MkdirAll(filepath.Dir(targetPath), moveDirectoryPermissions); directoryError != nil {
		return directoryError
	}
	if renameError := os.Rename(sourcePath, targetPath); renameError != nil {
		return renameError
	}
	return removeEmptyParents(tree, filepath.Dir(sourcePath))
}

func moveRootInto(tree *workdir.Tree, to string) error {
	topSegment, _, _ := strings.Cut(to, "/")
	topPath, resolveError := tree.Resolve(topSegment)
	if resolveError != nil {
		return resolveError
	}
	if _, statError := os.Lstat(topPath); statError == nil {
		return fmt.Errorf(moveTargetExistsTemplate, topSegment)
	}
	entries, readError := os.ReadDir(tree.Root())
	if readError != nil {
		return readError
	}
	if len(entries) == 0 {
		return fmt.Errorf(moveSourceMissingTemplate, treeRootPathConstant, ErrNoEffect)
	}
	targetPath, targetError := tree.Resolve(to)
	if targetError != nil {
		return targetError
	}
	if directoryError := os.MkdirAll(targetPath, moveDirectoryPermissions); directoryError != nil {
		return directoryError
	}
	for _, entry := range entries {
		if renameError := os.Rename(filepath.Join(tree.Root(), entry.Name()), filepath.Join(targetPath, entry.Name())); renameError != nil {
			return renameError
		}
	}
	return nil
}

func moveIntoRoot(tree *workdir.Tree, from string) error {
	sourcePath, resolveError := tree.Resolve(from)
	if resolveError != nil {
		return resolveError
	}
	entries, readError := os.ReadDir(sourcePath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return fmt.Errorf(moveSourceMissingTemplate, from, ErrNoEffect)
		}
		return readError
	}
	topSegment, _, _ := strings.Cut(from, "/")
	for _, entry := range entries {
		if entry.Name() == topSegment {
			return fmt.Errorf(moveTargetExistsTemplate, entry.Name())
		}
		if _, statError := os.Lstat(filepath.Join(tree.Root(), entry.Name())); statError == nil {
			return fmt.Errorf(moveTargetExistsTemplate, entry.Name())
		}
	}
	for _, entry := range entries {
		if renameError := os.Rename(filepath.Join(sourcePath, entry.Name()), filepath.Join(tree.Root(), entry.Name())); renameError != nil {
			return renameError
		}
	}
	return removeEmptyParents(tree, sourcePath)
}

// removeEmptyParents deletes empty directories from start up to, but excluding, the tree root.
func removeEmptyParents(tree *workdir.Tree, start string) error {
	current := filepath.Clean(start)
	for current != tree.Root() && strings.HasPrefix(current, tree.Root()) {
		entries, readError := os.ReadDir(current)
		if readError != nil {
			if errors.Is(readError, fs.ErrNotExist) {
				current = filepath.Dir(current)
				continue
			}
			return readError
		}
		if len(entries) > 0 {
			return nil
		}
		if removeError := os.Remove(current); removeError != nil {
			return removeError
		}
		current = filepath.Dir(current)
	}
	return nil
}

func normalizeTreePath(rawPath string) string {
	trimmed := strings.Trim(strings.TrimSpace(rawPath), "/")
	if len(trimmed) == 0 {
		return treeRootPathConstant
	}
	return path.Clean(trimmed)
}
