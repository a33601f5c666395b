package transform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/temirov/carbon/internal/workdir"
)

const (
	appendLineNameTemplate         = "append_line(%s)"
	appendLinePathRequiredMessage  = "append_line requires a path"
	appendLineLineRequiredMessage  = "append_line requires a line"
	appendLineMultilineMessage     = "append_line line must not contain newlines"
	appendLineFilePermissions      = fs.FileMode(0o644)
	appendLineDirectoryPermissions = fs.FileMode(0o755)
)

// AppendLineOptions configures the append_line transformation.
type AppendLineOptions struct {
	Path string `mapstructure:"path"`
	Line string `mapstructure:"line"`
}

// AppendLine adds a line to a metadata file unless the file already contains it.
// Accumulated content lives in the tree, so the step itself stays stateless.
type AppendLine struct {
	relativePath string
	line         string
}

// NewAppendLine constructs an AppendLine transformation.
func NewAppendLine(options AppendLineOptions) (*AppendLine, error) {
	if len(strings.TrimSpace(options.Path)) == 0 {
		return nil, errors.New(appendLinePathRequiredMessage)
	}
	if len(options.Line) == 0 {
		return nil, errors.New(appendLineLineRequiredMessage)
	}
	if strings.ContainsAny(options.Line, "\r\n") {
		return nil, errors.New(appendLineMultilineMessage)
	}
	return &AppendLine{relativePath: normalizeTreePath(options.Path), line: options.Line}, nil
}

// Name describes the target file.
func (appendLine *AppendLine) Name() string {
	return fmt.Sprintf(appendLineNameTemplate, appendLine.relativePath)
}

// Apply appends the line when it is not yet present.
func (appendLine *AppendLine) Apply(executionContext context.Context, tree *workdir.Tree) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	absolutePath, resolveError := tree.Resolve(appendLine.relativePath)
	if resolveError != nil {
		return resolveError
	}
	content, readError := os.ReadFile(absolutePath)
	if readError != nil && !errors.Is(readError, fs.ErrNotExist) {
		return readError
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		if strings.TrimRight(scanner.Text(), "\r") == appendLine.line {
			return nil
		}
	}
	if scanError := scanner.Err(); scanError != nil {
		return scanError
	}

	var updated bytes.Buffer
	updated.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		updated.WriteByte('\n')
	}
	updated.WriteString(appendLine.line)
	updated.WriteByte('\n')

	if directoryError := os.MkdirAll(filepath.Dir(absolutePath), appendLineDirectoryPermissions); directoryError != nil {
		return directoryError
	}
	return os.WriteFile(absolutePath, updated.Bytes(), appendLineFilePermissions)
}
