package transform

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	globSeparatorConstant       = "/"
	globInvalidPatternTemplate  = "invalid path pattern %q: %w"
	globMatchEverythingConstant = "**"
)

// PathMatcher matches slash separated relative paths against include and exclude globs.
// Patterns use doublestar syntax: "**" spans directories and "{a,b}" selects alternatives.
type PathMatcher struct {
	includes []string
	excludes []string
}

// NewPathMatcher validates the supplied patterns. No include patterns means every path is included.
func NewPathMatcher(includePatterns []string, excludePatterns []string) (PathMatcher, error) {
	if len(includePatterns) == 0 {
		includePatterns = []string{globMatchEverythingConstant}
	}
	normalizedIncludes, includeError := normalizePatterns(includePatterns)
	if includeError != nil {
		return PathMatcher{}, includeError
	}
	normalizedExcludes, excludeError := normalizePatterns(excludePatterns)
	if excludeError != nil {
		return PathMatcher{}, excludeError
	}
	return PathMatcher{includes: normalizedIncludes, excludes: normalizedExcludes}, nil
}

// Matches reports whether the relative path is included and not excluded.
func (matcher PathMatcher) Matches(relativePath string) bool {
	candidate := strings.Trim(relativePath, globSeparatorConstant)
	for _, excludePattern := range matcher.excludes {
		if doublestar.MatchUnvalidated(excludePattern, candidate) {
			return false
		}
	}
	for _, includePattern := range matcher.includes {
		if doublestar.MatchUnvalidated(includePattern, candidate) {
			return true
		}
	}
	return false
}

func normalizePatterns(patterns []string) ([]string, error) {
	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		trimmedPattern := strings.Trim(strings.TrimSpace(pattern), globSeparatorConstant)
		if !doublestar.ValidatePattern(trimmedPattern) {
			return nil, fmt.Errorf(globInvalidPatternTemplate, pattern, doublestar.ErrBadPattern)
		}
		normalized = append(normalized, trimmedPattern)
	}
	return normalized, nil
}
