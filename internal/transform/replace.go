package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/temirov/carbon/internal/workdir"
)

const (
	replaceTransformationNameConstant  = "replace"
	replaceBeforeRequiredMessage       = "replace requires a non-empty before value"
	replaceInvalidRegexTemplate        = "replace pattern %q is not a valid regular expression: %w"
	replaceNoMatchTemplateConstant     = "%q not found in any matching file: %w"
	replaceDescriptionTemplateConstant = "replace(%q -> %q)"
	replaceAmbiguousTemplateConstant   = "%s in %s: %w"
)

// ReplaceOptions configures the replace transformation.
type ReplaceOptions struct {
	Before  string   `mapstructure:"before"`
	After   string   `mapstructure:"after"`
	Regex   bool     `mapstructure:"regex"`
	Paths   []string `mapstructure:"paths"`
	Exclude []string `mapstructure:"exclude"`
}

// NewReplace builds a literal or regular expression replacement. Literal replacements with a non-empty after value are reversible.
func NewReplace(options ReplaceOptions) (Transformation, error) {
	if len(options.Before) == 0 {
		return nil, errors.New(replaceBeforeRequiredMessage)
	}
	matcher, matcherError := NewPathMatcher(options.Paths, options.Exclude)
	if matcherError != nil {
		return nil, matcherError
	}
	if options.Regex {
		expression, compileError := regexp.Compile(options.Before)
		if compileError != nil {
			return nil, fmt.Errorf(replaceInvalidRegexTemplate, options.Before, compileError)
		}
		return &regexReplace{expression: expression, replacement: options.After, matcher: matcher}, nil
	}
	literal := &LiteralReplace{before: []byte(options.Before), after: []byte(options.After), matcher: matcher}
	if len(options.After) == 0 {
		return irreversible{Transformation: literal}, nil
	}
	return literal, nil
}

// LiteralReplace substitutes every occurrence of one byte string with another.
type LiteralReplace struct {
	before  []byte
	after   []byte
	matcher PathMatcher
}

// Name describes the replacement.
func (replace *LiteralReplace) Name() string {
	return fmt.Sprintf(replaceDescriptionTemplateConstant, replace.before, replace.after)
}

// Apply replaces before with after in every matching file. A file whose rewritten content
// would not reverse to the original bytes fails the step before any file is written.
func (replace *LiteralReplace) Apply(executionContext context.Context, tree *workdir.Tree) error {
	return rewriteMatchingFiles(executionContext, tree, replace.matcher, replace.before, func(relativePath string, content []byte) ([]byte, error) {
		if !bytes.Contains(content, replace.before) {
			return nil, nil
		}
		rewritten := bytes.ReplaceAll(content, replace.before, replace.after)
		if len(replace.after) > 0 && !bytes.Equal(bytes.ReplaceAll(rewritten, replace.after, replace.before), content) {
			return nil, fmt.Errorf(replaceAmbiguousTemplateConstant, replace.Name(), relativePath, ErrAmbiguousReversal)
		}
		return rewritten, nil
	})
}

// Reverse replaces after with before in every matching file.
func (replace *LiteralReplace) Reverse(executionContext context.Context, tree *workdir.Tree) error {
	return rewriteMatchingFiles(executionContext, tree, replace.matcher, replace.after, func(_ string, content []byte) ([]byte, error) {
		if !bytes.Contains(content, replace.after) {
			return nil, nil
		}
		return bytes.ReplaceAll(content, replace.after, replace.before), nil
	})
}

type regexReplace struct {
	expression  *regexp.Regexp
	replacement string
	matcher     PathMatcher
}

func (replace *regexReplace) Name() string {
	return fmt.Sprintf(replaceDescriptionTemplateConstant, replace.expression.String(), replace.replacement)
}

func (replace *regexReplace) Apply(executionContext context.Context, tree *workdir.Tree) error {
	return rewriteMatchingFiles(executionContext, tree, replace.matcher, []byte(replace.expression.String()), func(_ string, content []byte) ([]byte, error) {
		if !replace.expression.Match(content) {
			return nil, nil
		}
		return replace.expression.ReplaceAll(content, []byte(replace.replacement)), nil
	})
}

// irreversible hides the Reverse method of a wrapped transformation.
type irreversible struct {
	Transformation
}

type rewrittenFile struct {
	absolutePath string
	content      []byte
}

// rewriteMatchingFiles computes every rewrite first and writes only when all of them succeeded.
func rewriteMatchingFiles(executionContext context.Context, tree *workdir.Tree, matcher PathMatcher, needle []byte, rewrite func(string, []byte) ([]byte, error)) error {
	relativePaths, listError := matchingRegularFiles(tree, matcher)
	if listError != nil {
		return listError
	}
	pending := make([]rewrittenFile, 0, len(relativePaths))
	for _, relativePath := range relativePaths {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		absolutePath, resolveError := tree.Resolve(relativePath)
		if resolveError != nil {
			return resolveError
		}
		content, readError := os.ReadFile(absolutePath)
		if readError != nil {
			return readError
		}
		rewritten, rewriteError := rewrite(relativePath, content)
		if rewriteError != nil {
			return rewriteError
		}
		if rewritten == nil {
			continue
		}
		pending = append(pending, rewrittenFile{absolutePath: absolutePath, content: rewritten})
	}
	if len(pending) == 0 {
		return fmt.Errorf(replaceNoMatchTemplateConstant, needle, ErrNoEffect)
	}
	for _, file := range pending {
		if writeError := os.WriteFile(file.absolutePath, file.content, 0); writeError != nil {
			return writeError
		}
	}
	return nil
}

func matchingRegularFiles(tree *workdir.Tree, matcher PathMatcher) ([]string, error) {
	relativePaths, listError := tree.Files()
	if listError != nil {
		return nil, listError
	}
	matching := make([]string, 0, len(relativePaths))
	for _, relativePath := range relativePaths {
		if !matcher.Matches(relativePath) {
			continue
		}
		absolutePath, resolveError := tree.Resolve(relativePath)
		if resolveError != nil {
			return nil, resolveError
		}
		information, statError := os.Lstat(absolutePath)
		if statError != nil {
			return nil, statError
		}
		if !information.Mode().IsRegular() {
			continue
		}
		matching = append(matching, relativePath)
	}
	return matching, nil
}
