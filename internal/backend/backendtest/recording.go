package backendtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/workdir"
)

// Journal entry prefixes recorded by the fakes.
const (
	JournalResolve     = "resolve"
	JournalMaterialize = "materialize"
	JournalDiff        = "diff"
	JournalWrite       = "write"
	JournalPreviousRef = "previous_ref"
)

const (
	journalEntryTemplate          = "%s:%s"
	unknownReferenceTemplate      = "unknown reference %q"
	recordingFilePermissions      = 0o644
	recordingDirectoryPermissions = 0o755
)

// Journal records backend calls across fakes in invocation order.
type Journal struct {
	mutex   sync.Mutex
	entries []string
}

// Record appends an entry.
func (journal *Journal) Record(kind string, detail string) {
	if journal == nil {
		return
	}
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	journal.entries = append(journal.entries, fmt.Sprintf(journalEntryTemplate, kind, detail))
}

// Entries returns a copy of the recorded entries.
func (journal *Journal) Entries() []string {
	if journal == nil {
		return nil
	}
	journal.mutex.Lock()
	defer journal.mutex.Unlock()
	return append([]string(nil), journal.entries...)
}

// Revision is one origin change plus its full file content.
type Revision struct {
	Change change.Change
	Files  map[string]string
}

// RecordingOrigin serves a fixed in-memory history and records every call.
type RecordingOrigin struct {
	OriginIdentity    string
	Revisions         []Revision
	SnapshotOnly      bool
	ResolveError      error
	MaterializeErrors map[string]error
	Journal           *Journal

	mutex            sync.Mutex
	resolveCalls     []string
	materializeCalls []string
}

// Identity returns the configured identity.
func (origin *RecordingOrigin) Identity() string {
	return origin.OriginIdentity
}

// SupportsHistory reports false for snapshot-only fakes.
func (origin *RecordingOrigin) SupportsHistory() bool {
	return !origin.SnapshotOnly
}

// Resolve returns the history up to requestedRef.
func (origin *RecordingOrigin) Resolve(executionContext context.Context, requestedRef string) (change.Sequence, error) {
	origin.mutex.Lock()
	origin.resolveCalls = append(origin.resolveCalls, requestedRef)
	origin.mutex.Unlock()
	origin.Journal.Record(JournalResolve, requestedRef)

	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}
	if origin.ResolveError != nil {
		return nil, origin.ResolveError
	}

	history := make(change.Sequence, 0, len(origin.Revisions))
	for _, revision := range origin.Revisions {
		history = append(history, revision.Change)
		if revision.Change.Reference == requestedRef {
			return history, nil
		}
	}
	if len(requestedRef) > 0 {
		return nil, fmt.Errorf(unknownReferenceTemplate, requestedRef)
	}
	return history, nil
}

// ResolveForMode narrows Resolve with backend.WindowForMode.
func (origin *RecordingOrigin) ResolveForMode(executionContext context.Context, mode change.MigrationMode, lastMigrated string, requestedRef string) (change.Sequence, error) {
	history, resolveError := origin.Resolve(executionContext, requestedRef)
	if resolveError != nil {
		return nil, resolveError
	}
	return backend.WindowForMode(history, mode, lastMigrated)
}

// Materialize writes the revision files into tree.
func (origin *RecordingOrigin) Materialize(executionContext context.Context, source change.Change, tree *workdir.Tree) error {
	origin.mutex.Lock()
	origin.materializeCalls = append(origin.materializeCalls, source.Reference)
	origin.mutex.Unlock()
	origin.Journal.Record(JournalMaterialize, source.Reference)

	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if materializeError, configured := origin.MaterializeErrors[source.Reference]; configured {
		return materializeError
	}
	revision, found := origin.revision(source.Reference)
	if !found {
		return fmt.Errorf(unknownReferenceTemplate, source.Reference)
	}
	return WriteFiles(tree, revision.Files)
}

// ResolveCalls returns the requested references passed to Resolve.
func (origin *RecordingOrigin) ResolveCalls() []string {
	origin.mutex.Lock()
	defer origin.mutex.Unlock()
	return append([]string(nil), origin.resolveCalls...)
}

// MaterializeCalls returns the references passed to Materialize.
func (origin *RecordingOrigin) MaterializeCalls() []string {
	origin.mutex.Lock()
	defer origin.mutex.Unlock()
	return append([]string(nil), origin.materializeCalls...)
}

func (origin *RecordingOrigin) revision(reference string) (Revision, bool) {
	for _, revision := range origin.Revisions {
		if revision.Change.Reference == reference {
			return revision, true
		}
	}
	return Revision{}, false
}

// IncrementalRecordingOrigin additionally implements backend.IncrementalOrigin.
type IncrementalRecordingOrigin struct {
	RecordingOrigin

	diffMutex sync.Mutex
	diffCalls []string
}

// MaterializeDiff rewrites tree from the content of from into the content of to.
func (origin *IncrementalRecordingOrigin) MaterializeDiff(executionContext context.Context, from change.Change, to change.Change, tree *workdir.Tree) error {
	detail := from.Reference + ".." + to.Reference
	origin.diffMutex.Lock()
	origin.diffCalls = append(origin.diffCalls, detail)
	origin.diffMutex.Unlock()
	origin.Journal.Record(JournalDiff, detail)

	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	fromRevision, fromFound := origin.revision(from.Reference)
	toRevision, toFound := origin.revision(to.Reference)
	if !fromFound || !toFound {
		return fmt.Errorf(unknownReferenceTemplate, detail)
	}
	for relativePath := range fromRevision.Files {
		if _, kept := toRevision.Files[relativePath]; kept {
			continue
		}
		if removeError := os.Remove(filepath.Join(tree.Root(), filepath.FromSlash(relativePath))); removeError != nil && !errors.Is(removeError, os.ErrNotExist) {
			return removeError
		}
	}
	changed := make(map[string]string)
	for relativePath, content := range toRevision.Files {
		if previous, existed := fromRevision.Files[relativePath]; existed && previous == content {
			continue
		}
		changed[relativePath] = content
	}
	return WriteFiles(tree, changed)
}

// DiffCalls returns "from..to" pairs passed to MaterializeDiff.
func (origin *IncrementalRecordingOrigin) DiffCalls() []string {
	origin.diffMutex.Lock()
	defer origin.diffMutex.Unlock()
	return append([]string(nil), origin.diffCalls...)
}

// WriteRecord captures one destination write.
type WriteRecord struct {
	Reference           string
	Author              change.Author
	Message             string
	Provenance          backend.Provenance
	Files               map[string]string
	ContextWasCancelled bool
}

// RecordingDestination stores writes in memory and records every call.
type RecordingDestination struct {
	DestinationIdentity string
	WriteErrors         map[string]error
	PreviousRefOverride *string
	PreviousRefError    error
	AfterWrite          func(WriteRecord)
	Journal             *Journal

	mutex  sync.Mutex
	writes []WriteRecord
}

// Identity returns the configured identity.
func (destination *RecordingDestination) Identity() string {
	return destination.DestinationIdentity
}

// Write snapshots the tree content and records the request.
func (destination *RecordingDestination) Write(executionContext context.Context, request backend.WriteRequest) (backend.CommitResult, error) {
	destination.Journal.Record(JournalWrite, request.Change.Reference)
	if writeError, configured := destination.WriteErrors[request.Change.Reference]; configured {
		return backend.CommitResult{}, writeError
	}
	files, readError := ReadFiles(request.Tree)
	if readError != nil {
		return backend.CommitResult{}, readError
	}
	record := WriteRecord{
		Reference:           request.Change.Reference,
		Author:              request.Author,
		Message:             request.Message,
		Provenance:          request.Provenance,
		Files:               files,
		ContextWasCancelled: executionContext.Err() != nil,
	}
	destination.mutex.Lock()
	destination.writes = append(destination.writes, record)
	commitNumber := len(destination.writes)
	destination.mutex.Unlock()

	if destination.AfterWrite != nil {
		destination.AfterWrite(record)
	}
	return backend.CommitResult{DestinationReference: fmt.Sprintf("d%d", commitNumber), OriginReference: request.Change.Reference}, nil
}

// PreviousRef returns the override when set, otherwise the origin reference of the newest write.
func (destination *RecordingDestination) PreviousRef(executionContext context.Context) (string, error) {
	destination.Journal.Record(JournalPreviousRef, destination.DestinationIdentity)
	if contextError := executionContext.Err(); contextError != nil {
		return "", contextError
	}
	if destination.PreviousRefError != nil {
		return "", destination.PreviousRefError
	}
	if destination.PreviousRefOverride != nil {
		return *destination.PreviousRefOverride, nil
	}
	destination.mutex.Lock()
	defer destination.mutex.Unlock()
	if len(destination.writes) == 0 {
		return "", nil
	}
	return destination.writes[len(destination.writes)-1].Provenance.OriginReference, nil
}

// Writes returns the recorded writes in order.
func (destination *RecordingDestination) Writes() []WriteRecord {
	destination.mutex.Lock()
	defer destination.mutex.Unlock()
	return append([]WriteRecord(nil), destination.writes...)
}

// WrittenReferences returns the origin references of the recorded writes in order.
func (destination *RecordingDestination) WrittenReferences() []string {
	writes := destination.Writes()
	references := make([]string, 0, len(writes))
	for _, write := range writes {
		references = append(references, write.Reference)
	}
	return references
}

// WriteFiles writes slash separated relative paths into tree.
func WriteFiles(tree *workdir.Tree, files map[string]string) error {
	for relativePath, content := range files {
		absolutePath, resolveError := tree.Resolve(relativePath)
		if resolveError != nil {
			return resolveError
		}
		if directoryError := os.MkdirAll(filepath.Dir(absolutePath), recordingDirectoryPermissions); directoryError != nil {
			return directoryError
		}
		if writeError := os.WriteFile(absolutePath, []byte(content), recordingFilePermissions); writeError != nil {
			return writeError
		}
	}
	return nil
}

// ReadFiles returns the content of every file in tree keyed by relative path.
func ReadFiles(tree *workdir.Tree) (map[string]string, error) {
	relativePaths, listError := tree.Files()
	if listError != nil {
		return nil, listError
	}
	files := make(map[string]string, len(relativePaths))
	for _, relativePath := range relativePaths {
		content, readError := os.ReadFile(filepath.Join(tree.Root(), filepath.FromSlash(relativePath)))
		if readError != nil {
			return nil, readError
		}
		files[relativePath] = string(content)
	}
	return files, nil
}

// StringPointer returns a pointer to value, for PreviousRefOverride.
func StringPointer(value string) *string {
	return &value
}
