package folder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/utils"
	pathutils "github.com/temirov/carbon/internal/utils/path"
	"github.com/temirov/carbon/internal/workdir"
)

// TypeName is the workflow file type that selects the folder backend.
const TypeName = "folder"

// MarkerFileName is the provenance file written at the destination root.
const MarkerFileName = ".carbon-origin.json"

const (
	identityTemplateConstant          = "folder:%s"
	snapshotMessageTemplateConstant   = "Snapshot of %s"
	defaultSnapshotAuthorConstant     = "Carbon <carbon@localhost>"
	gitDirectoryNameConstant          = ".git"
	markerFilePermissions             = 0o644
	directoryPermissions              = 0o755
	pathRequiredMessageConstant       = "folder path is required"
	originChangedErrorTemplate        = "folder %s changed since reference %s was resolved (now %s)"
	originDigestErrorTemplate         = "unable to hash folder %s: %w"
	originCopyErrorTemplate           = "unable to copy folder %s: %w"
	destinationClearErrorTemplate     = "unable to clear destination folder %s: %w"
	destinationCopyErrorTemplate      = "unable to copy working tree into %s: %w"
	destinationMarkerErrorTemplate    = "unable to write provenance marker %s: %w"
	destinationMarkerReadTemplate     = "unable to read provenance marker %s: %w"
	authorErrorTemplate               = "invalid snapshot author: %w"
	materializedLogMessageConstant    = "Materialized folder snapshot"
	destinationWrittenLogMessage      = "Mirrored working tree into folder"
	folderFieldConstant               = "folder"
	referenceFieldConstant            = "reference"
	sizeFieldConstant                 = "size"
	workflowFieldConstant             = "workflow"
	timestampLayoutConstant           = "2006-01-02T15:04:05Z07:00"
	expandedPathErrorTemplateConstant = "unable to expand folder path %s: %w"
)

// OriginOptions configure a folder origin.
type OriginOptions struct {
	Path    string `mapstructure:"path"`
	Author  string `mapstructure:"author"`
	Message string `mapstructure:"message"`
}

// DestinationOptions configure a folder destination.
type DestinationOptions struct {
	Path string `mapstructure:"path"`
}

// Origin exposes the current content of a directory as a single change whose reference is the content digest.
type Origin struct {
	root    string
	author  change.Author
	message string
	clock   clock.Clock
	logger  *zap.Logger
}

// NewOrigin builds a folder origin.
func NewOrigin(options OriginOptions, environment backend.Environment) (*Origin, error) {
	root, rootError := resolveRoot(options.Path, environment.BaseDirectory)
	if rootError != nil {
		return nil, rootError
	}
	authorIdentity := options.Author
	if len(strings.TrimSpace(authorIdentity)) == 0 {
		authorIdentity = defaultSnapshotAuthorConstant
	}
	author, authorError := change.ParseAuthor(authorIdentity)
	if authorError != nil {
		return nil, fmt.Errorf(authorErrorTemplate, authorError)
	}
	message := options.Message
	if len(strings.TrimSpace(message)) == 0 {
		message = fmt.Sprintf(snapshotMessageTemplateConstant, root)
	}
	return &Origin{root: root, author: author, message: message, clock: clockOrWall(environment.Clock), logger: loggerOrNop(environment.Logger)}, nil
}

// Identity returns the folder identity.
func (origin *Origin) Identity() string {
	return fmt.Sprintf(identityTemplateConstant, origin.root)
}

// SupportsHistory reports that folders only offer snapshots.
func (origin *Origin) SupportsHistory() bool {
	return false
}

// Resolve returns the single change describing the current folder content.
func (origin *Origin) Resolve(executionContext context.Context, requestedRef string) (change.Sequence, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}
	digest, digestError := origin.digest()
	if digestError != nil {
		return nil, digestError
	}
	if trimmed := strings.TrimSpace(requestedRef); len(trimmed) > 0 && trimmed != digest {
		return nil, fmt.Errorf(originChangedErrorTemplate, origin.root, trimmed, digest)
	}
	return change.Sequence{{
		Reference: digest,
		Author:    origin.author,
		Timestamp: origin.clock.Now().UTC(),
		Message:   origin.message,
	}}, nil
}

// ResolveForMode windows the single snapshot change.
func (origin *Origin) ResolveForMode(executionContext context.Context, mode change.MigrationMode, lastMigrated string, requestedRef string) (change.Sequence, error) {
	history, resolveError := origin.Resolve(executionContext, requestedRef)
	if resolveError != nil {
		return nil, resolveError
	}
	return backend.WindowForMode(history, mode, lastMigrated)
}

// Materialize copies the folder into tree after checking the content still matches the reference.
func (origin *Origin) Materialize(executionContext context.Context, source change.Change, tree *workdir.Tree) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if clearError := tree.Clear(); clearError != nil {
		return clearError
	}
	if copyError := workdir.CopyDirectory(origin.root, tree.Root(), skipMetadata); copyError != nil {
		return fmt.Errorf(originCopyErrorTemplate, origin.root, copyError)
	}
	treeDigest, digestError := workdir.DirectoryDigest(tree.Root(), nil)
	if digestError != nil {
		return digestError
	}
	if treeDigest != source.Reference {
		return fmt.Errorf(originChangedErrorTemplate, origin.root, source.Reference, treeDigest)
	}
	if treeSize, sizeError := tree.Size(); sizeError == nil {
		origin.logger.Debug(materializedLogMessageConstant, zap.String(folderFieldConstant, origin.root), zap.String(referenceFieldConstant, source.Reference), zap.String(sizeFieldConstant, humanize.Bytes(uint64(treeSize))))
	}
	return nil
}

func (origin *Origin) digest() (string, error) {
	digest, digestError := workdir.DirectoryDigest(origin.root, skipMetadata)
	if digestError != nil {
		return "", fmt.Errorf(originDigestErrorTemplate, origin.root, digestError)
	}
	return digest, nil
}

// provenanceRecord describes the last write one workflow made into the folder.
type provenanceRecord struct {
	OriginReference string `json:"origin_reference"`
	OriginIdentity  string `json:"origin_identity"`
	Workflow        string `json:"workflow"`
	RunID           string `json:"run_id"`
	TreeDigest      string `json:"tree_digest"`
	WrittenAt       string `json:"written_at"`
}

// marker is the provenance file written next to mirrored content, keyed by workflow name.
type marker struct {
	Workflows map[string]provenanceRecord `json:"workflows"`
}

// Destination mirrors staged trees into a directory. Entries named .git and the marker survive every write.
type Destination struct {
	root         string
	workflowName string
	clock        clock.Clock
	logger       *zap.Logger
}

// NewDestination builds a folder destination. The directory is created on first write.
func NewDestination(options DestinationOptions, environment backend.Environment) (*Destination, error) {
	root, rootError := resolveRoot(options.Path, environment.BaseDirectory)
	if rootError != nil {
		return nil, rootError
	}
	return &Destination{root: root, workflowName: environment.WorkflowName, clock: clockOrWall(environment.Clock), logger: loggerOrNop(environment.Logger)}, nil
}

// Identity returns the folder identity.
func (destination *Destination) Identity() string {
	return fmt.Sprintf(identityTemplateConstant, destination.root)
}

// PreviousRef reads the origin reference this destination's workflow recorded in the provenance marker.
func (destination *Destination) PreviousRef(executionContext context.Context) (string, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return "", contextError
	}
	provenance, readError := destination.readMarker()
	if readError != nil {
		return "", readError
	}
	return provenance.Workflows[destination.workflowName].OriginReference, nil
}

// Write replaces the folder content with the tree and records provenance.
// Rewriting the same tree is harmless, so retries need no special handling.
func (destination *Destination) Write(executionContext context.Context, request backend.WriteRequest) (backend.CommitResult, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return backend.CommitResult{}, contextError
	}
	if creationError := os.MkdirAll(destination.root, directoryPermissions); creationError != nil {
		return backend.CommitResult{}, creationError
	}
	provenance, readError := destination.readMarker()
	if readError != nil {
		return backend.CommitResult{}, readError
	}
	if clearError := workdir.NewTree(destination.root).ClearExcept(skipMetadata); clearError != nil {
		return backend.CommitResult{}, fmt.Errorf(destinationClearErrorTemplate, destination.root, clearError)
	}
	if copyError := workdir.CopyDirectory(request.Tree.Root(), destination.root, skipMetadata); copyError != nil {
		return backend.CommitResult{}, fmt.Errorf(destinationCopyErrorTemplate, destination.root, copyError)
	}
	treeDigest, digestError := workdir.DirectoryDigest(destination.root, skipMetadata)
	if digestError != nil {
		return backend.CommitResult{}, digestError
	}

	originReference := request.Provenance.OriginReference
	if len(originReference) == 0 {
		originReference = request.Change.Reference
	}
	workflowName := request.Provenance.WorkflowName
	if len(workflowName) == 0 {
		workflowName = destination.workflowName
	}
	record := provenanceRecord{
		OriginReference: originReference,
		OriginIdentity:  request.Provenance.OriginIdentity,
		Workflow:        workflowName,
		RunID:           request.Provenance.RunID,
		TreeDigest:      treeDigest,
		WrittenAt:       destination.clock.Now().UTC().Format(timestampLayoutConstant),
	}
	if provenance.Workflows == nil {
		provenance.Workflows = make(map[string]provenanceRecord)
	}
	provenance.Workflows[workflowName] = record
	if markerError := destination.writeMarker(provenance); markerError != nil {
		return backend.CommitResult{}, markerError
	}
	destination.logger.Info(destinationWrittenLogMessage, zap.String(folderFieldConstant, destination.root), zap.String(referenceFieldConstant, originReference), zap.String(workflowFieldConstant, record.Workflow))
	return backend.CommitResult{DestinationReference: treeDigest, OriginReference: originReference}, nil
}

func (destination *Destination) markerPath() string {
	return filepath.Join(destination.root, MarkerFileName)
}

func (destination *Destination) readMarker() (marker, error) {
	content, readError := os.ReadFile(destination.markerPath())
	if errors.Is(readError, os.ErrNotExist) {
		return marker{}, nil
	}
	if readError != nil {
		return marker{}, fmt.Errorf(destinationMarkerReadTemplate, destination.markerPath(), readError)
	}
	var provenance marker
	if decodeError := json.Unmarshal(content, &provenance); decodeError != nil {
		return marker{}, fmt.Errorf(destinationMarkerReadTemplate, destination.markerPath(), decodeError)
	}
	return provenance, nil
}

func (destination *Destination) writeMarker(provenance marker) error {
	content, encodeError := json.MarshalIndent(provenance, "", "  ")
	if encodeError != nil {
		return fmt.Errorf(destinationMarkerErrorTemplate, destination.markerPath(), encodeError)
	}
	temporaryPath := destination.markerPath() + ".tmp"
	if writeError := os.WriteFile(temporaryPath, append(content, '\n'), markerFilePermissions); writeError != nil {
		return fmt.Errorf(destinationMarkerErrorTemplate, destination.markerPath(), writeError)
	}
	if renameError := os.Rename(temporaryPath, destination.markerPath()); renameError != nil {
		return fmt.Errorf(destinationMarkerErrorTemplate, destination.markerPath(), renameError)
	}
	return nil
}

// Register adds the folder origin and destination factories to registry.
func Register(registry *backend.Registry) {
	registry.RegisterOrigin(TypeName, func(rawOptions map[string]any, environment backend.Environment) (backend.Origin, error) {
		var options OriginOptions
		if decodeError := utils.DecodeOptions(rawOptions, &options); decodeError != nil {
			return nil, decodeError
		}
		return NewOrigin(options, environment)
	})
	registry.RegisterDestination(TypeName, func(rawOptions map[string]any, environment backend.Environment) (backend.Destination, error) {
		var options DestinationOptions
		if decodeError := utils.DecodeOptions(rawOptions, &options); decodeError != nil {
			return nil, decodeError
		}
		return NewDestination(options, environment)
	})
}

func resolveRoot(rawPath string, baseDirectory string) (string, error) {
	if len(strings.TrimSpace(rawPath)) == 0 {
		return "", errors.New(pathRequiredMessageConstant)
	}
	resolvedPath, resolveError := pathutils.NewHomeExpander().Resolve(rawPath, baseDirectory)
	if resolveError != nil {
		return "", fmt.Errorf(expandedPathErrorTemplateConstant, rawPath, resolveError)
	}
	return resolvedPath, nil
}

func skipMetadata(relativePath string) bool {
	return relativePath == MarkerFileName || relativePath == gitDirectoryNameConstant || strings.HasPrefix(relativePath, gitDirectoryNameConstant+"/")
}

func clockOrWall(candidate clock.Clock) clock.Clock {
	if candidate == nil {
		return clock.WallClock
	}
	return candidate
}

func loggerOrNop(candidate *zap.Logger) *zap.Logger {
	if candidate == nil {
		return zap.NewNop()
	}
	return candidate
}
