package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/workdir"
)

const lastMigratedNotFoundTemplate = "last migrated reference %q is not an ancestor of the requested reference: %w"

// ErrLastMigratedNotFound indicates that the stored migration state does not appear in the origin history.
var ErrLastMigratedNotFound = errors.New("last migrated reference not found in origin history")

// Origin produces changes and materializes their content.
type Origin interface {
	// Identity returns a stable identifier used in migration state keys.
	Identity() string
	// Resolve returns the origin history ending at requestedRef, oldest first. An empty requestedRef means latest.
	Resolve(executionContext context.Context, requestedRef string) (change.Sequence, error)
	// ResolveForMode returns the changes a run in the given mode must process.
	ResolveForMode(executionContext context.Context, mode change.MigrationMode, lastMigrated string, requestedRef string) (change.Sequence, error)
	// Materialize writes the full tree content of the change into tree. It must be deterministic per reference.
	Materialize(executionContext context.Context, source change.Change, tree *workdir.Tree) error
}

// HistoryCapable is implemented by origins that can declare whether they expose history beyond a single snapshot.
type HistoryCapable interface {
	SupportsHistory() bool
}

// IncrementalOrigin updates a tree holding one change into the content of a later change.
type IncrementalOrigin interface {
	Origin
	MaterializeDiff(executionContext context.Context, from change.Change, to change.Change, tree *workdir.Tree) error
}

// Provenance identifies where destination content came from.
type Provenance struct {
	WorkflowName    string
	OriginIdentity  string
	OriginReference string
	RunID           string
}

// WriteRequest carries everything a destination needs to commit one staged tree.
type WriteRequest struct {
	Tree       *workdir.Tree
	Change     change.Change
	Author     change.Author
	Message    string
	Provenance Provenance
}

// CommitResult describes a destination commit.
type CommitResult struct {
	DestinationReference string
	OriginReference      string
}

// Destination accepts transformed trees.
type Destination interface {
	// Identity returns a stable identifier used in migration state keys.
	Identity() string
	// Write commits the staged tree. Implementations must tolerate retries of the same change.
	Write(executionContext context.Context, request WriteRequest) (CommitResult, error)
	// PreviousRef returns the origin reference recorded by the newest destination commit, or "" when none exists.
	PreviousRef(executionContext context.Context) (string, error)
}

// SupportsHistory reports whether origin can serve incremental windows. Origins that do not declare the capability are assumed to.
func SupportsHistory(origin Origin) bool {
	capable, declares := origin.(HistoryCapable)
	if !declares {
		return true
	}
	return capable.SupportsHistory()
}

// WindowForMode narrows a full history to the changes a mode processes.
// SNAPSHOT keeps only the newest change. SQUASH and ITERATIVE keep the changes after lastMigrated, or all of them on a first run.
func WindowForMode(history change.Sequence, mode change.MigrationMode, lastMigrated string) (change.Sequence, error) {
	if history.IsEmpty() {
		return change.Sequence{}, nil
	}
	if mode == change.ModeSnapshot {
		newest, _ := history.Last()
		return change.Sequence{newest}, nil
	}
	if len(lastMigrated) == 0 {
		return append(change.Sequence{}, history...), nil
	}
	remaining, found := history.After(lastMigrated)
	if !found {
		return nil, fmt.Errorf(lastMigratedNotFoundTemplate, lastMigrated, ErrLastMigratedNotFound)
	}
	return remaining, nil
}
