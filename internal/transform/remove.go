package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/collections/set"

	"github.com/temirov/carbon/internal/workdir"
)

const (
	removeTransformationNameTemplate = "remove(%s)"
	removePathsRequiredMessage       = "remove requires at least one path pattern"
	removeNoMatchTemplate            = "no files matched %s: %w"
	removePatternSeparator           = ", "
)

// RemoveOptions configures the remove transformation.
type RemoveOptions struct {
	Paths   []string `mapstructure:"paths"`
	Exclude []string `mapstructure:"exclude"`
}

// Remove deletes every file matching the configured globs.
type Remove struct {
	patterns []string
	matcher  PathMatcher
}

// NewRemove constructs a Remove transformation.
func NewRemove(options RemoveOptions) (*Remove, error) {
	if len(options.Paths) == 0 {
		return nil, errors.New(removePathsRequiredMessage)
	}
	matcher, matcherError := NewPathMatcher(options.Paths, options.Exclude)
	if matcherError != nil {
		return nil, matcherError
	}
	return &Remove{patterns: append([]string(nil), options.Paths...), matcher: matcher}, nil
}

// Name describes the removal.
func (remove *Remove) Name() string {
	return fmt.Sprintf(removeTransformationNameTemplate, strings.Join(remove.patterns, removePatternSeparator))
}

// Apply deletes matching files and prunes directories they leave empty.
func (remove *Remove) Apply(executionContext context.Context, tree *workdir.Tree) error {
	relativePaths, listError := tree.Files()
	if listError != nil {
		return listError
	}
	touchedDirectories := set.NewStrings()
	removedCount := 0
	for _, relativePath := range relativePaths {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		if !remove.matcher.Matches(relativePath) {
			continue
		}
		absolutePath, resolveError := tree.Resolve(relativePath)
		if resolveError != nil {
			return resolveError
		}
		if removeError := os.Remove(absolutePath); removeError != nil {
			return removeError
		}
		touchedDirectories.Add(filepath.Dir(absolutePath))
		removedCount++
	}
	if removedCount == 0 {
		return fmt.Errorf(removeNoMatchTemplate, strings.Join(remove.patterns, removePatternSeparator), ErrNoEffect)
	}
	for _, directory := range touchedDirectories.SortedValues() {
		if pruneError := removeEmptyParents(tree, directory); pruneError != nil {
			return pruneError
		}
	}
	return nil
}
