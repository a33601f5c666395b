package gitbackend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/execshell"
	"github.com/temirov/carbon/internal/workdir"
)

const (
	defaultOriginReferenceConstant   = "HEAD"
	originIdentityTemplateConstant   = "%s@%s"
	originCacheKindConstant          = "origin"
	commitSuffixConstant             = "^{commit}"
	pathspecSeparatorConstant        = "--"
	archiveChunkSizeConstant         = 200
	quotePathOptionConstant          = "core.quotePath=false"
	configOptionFlagConstant         = "-c"
	mirrorSynchronizedLogMessage     = "Synchronized origin mirror"
	remoteFieldConstant              = "remote"
	mirrorFieldConstant              = "mirror"
	originResolveErrorTemplate       = "unable to resolve origin reference %q: %w"
	originLogErrorTemplate           = "unable to read origin history for %s: %w"
	originMirrorErrorTemplate        = "unable to synchronize origin mirror for %s: %w"
	originArchiveErrorTemplate       = "unable to materialize %s: %w"
	originDiffErrorTemplate          = "unable to diff %s..%s: %w"
	originListErrorTemplate          = "unable to list configured paths at %s: %w"
	originRemovalErrorTemplate       = "unable to remove %s from working tree: %w"
	originLastMigratedErrorTemplate  = "last migrated reference %q: %w"
	notAncestorExitCodeConstant      = 1
	originRequiresURLMessageConstant = "origin url is required"
)

// OriginOptions configure a git origin.
type OriginOptions struct {
	URL         string   `mapstructure:"url"`
	Ref         string   `mapstructure:"ref"`
	Paths       []string `mapstructure:"paths"`
	FirstParent bool     `mapstructure:"first_parent"`
}

// Origin reads history from a mirror of a remote git repository kept in the cache directory.
type Origin struct {
	options    OriginOptions
	remote     RemoteURL
	repository *repository
	logger     *zap.Logger

	mirrorMutex        sync.Mutex
	mirrorSynchronized bool
}

// NewOrigin builds a git origin. No git command runs until the first history request.
func NewOrigin(options OriginOptions, executor GitExecutor, environment backend.Environment) (*Origin, error) {
	if len(strings.TrimSpace(options.URL)) == 0 {
		return nil, errors.New(originRequiresURLMessageConstant)
	}
	remote, parseError := ParseRemoteURL(options.URL)
	if parseError != nil {
		return nil, parseError
	}
	if len(strings.TrimSpace(options.Ref)) == 0 {
		options.Ref = defaultOriginReferenceConstant
	}
	mirrorDirectory, cacheError := cacheEntry(environment.CacheDirectory, originCacheKindConstant, remote.Identity())
	if cacheError != nil {
		return nil, cacheError
	}
	logger := environment.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Origin{
		options:    options,
		remote:     remote,
		repository: newRepository(executor, mirrorDirectory, environment.HomeDirectory, logger, environment.Clock, environment.PushAttempts),
		logger:     logger,
	}, nil
}

// Identity combines the remote identity with the tracked reference.
func (origin *Origin) Identity() string {
	return fmt.Sprintf(originIdentityTemplateConstant, origin.remote.Identity(), origin.options.Ref)
}

// SupportsHistory reports that git origins expose full history.
func (origin *Origin) SupportsHistory() bool {
	return true
}

// Resolve returns the history reachable from requestedRef (or the configured reference), oldest first.
func (origin *Origin) Resolve(executionContext context.Context, requestedRef string) (change.Sequence, error) {
	tip, tipError := origin.resolveTip(executionContext, requestedRef)
	if tipError != nil {
		return nil, tipError
	}
	return origin.log(executionContext, tip)
}

// ResolveForMode narrows history with git revision ranges instead of reading the whole log.
func (origin *Origin) ResolveForMode(executionContext context.Context, mode change.MigrationMode, lastMigrated string, requestedRef string) (change.Sequence, error) {
	tip, tipError := origin.resolveTip(executionContext, requestedRef)
	if tipError != nil {
		return nil, tipError
	}
	if mode == change.ModeSnapshot {
		return origin.log(executionContext, tip, "-1")
	}
	if len(lastMigrated) == 0 {
		return origin.log(executionContext, tip)
	}
	if ancestryError := origin.verifyAncestor(executionContext, lastMigrated, tip); ancestryError != nil {
		return nil, ancestryError
	}
	return origin.log(executionContext, lastMigrated+".."+tip)
}

// Materialize writes the content of the change, limited to the configured paths, into tree.
// Configured paths absent at the change are skipped; when none exist the tree stays empty.
func (origin *Origin) Materialize(executionContext context.Context, source change.Change, tree *workdir.Tree) error {
	if mirrorError := origin.synchronize(executionContext); mirrorError != nil {
		return mirrorError
	}
	if clearError := tree.Clear(); clearError != nil {
		return clearError
	}
	if len(origin.options.Paths) == 0 {
		return origin.extract(executionContext, source.Reference, nil, tree)
	}
	presentPaths, listError := origin.presentPaths(executionContext, source.Reference)
	if listError != nil {
		return listError
	}
	return origin.extractChunked(executionContext, source.Reference, presentPaths, tree)
}

// presentPaths lists the files under the configured paths that exist at reference.
func (origin *Origin) presentPaths(executionContext context.Context, reference string) ([]string, error) {
	arguments := append([]string{"ls-tree", "-r", "-z", "--name-only", reference, pathspecSeparatorConstant}, origin.options.Paths...)
	output, listError := origin.repository.run(executionContext, arguments...)
	if listError != nil {
		return nil, fmt.Errorf(originListErrorTemplate, reference, listError)
	}
	var presentPaths []string
	for _, listedPath := range strings.Split(output, logFieldSeparatorConstant) {
		if len(listedPath) > 0 {
			presentPaths = append(presentPaths, listedPath)
		}
	}
	return presentPaths, nil
}

// MaterializeDiff updates a tree holding from into the content of to.
func (origin *Origin) MaterializeDiff(executionContext context.Context, from change.Change, to change.Change, tree *workdir.Tree) error {
	if mirrorError := origin.synchronize(executionContext); mirrorError != nil {
		return mirrorError
	}
	arguments := []string{"diff", "--name-status", "--no-renames", "-z", from.Reference, to.Reference}
	if len(origin.options.Paths) > 0 {
		arguments = append(append(arguments, pathspecSeparatorConstant), origin.options.Paths...)
	}
	output, diffError := origin.repository.run(executionContext, arguments...)
	if diffError != nil {
		return fmt.Errorf(originDiffErrorTemplate, from.Reference, to.Reference, diffError)
	}
	delta, parseError := parseNameStatus(output)
	if parseError != nil {
		return parseError
	}
	for _, deletedPath := range delta.deleted {
		if removeError := removeTreePath(tree, deletedPath); removeError != nil {
			return fmt.Errorf(originRemovalErrorTemplate, deletedPath, removeError)
		}
	}
	return origin.extractChunked(executionContext, to.Reference, delta.updated, tree)
}

// extractChunked archives an explicit file list in bounded batches. An empty list extracts nothing.
func (origin *Origin) extractChunked(executionContext context.Context, reference string, paths []string, tree *workdir.Tree) error {
	for chunkStart := 0; chunkStart < len(paths); chunkStart += archiveChunkSizeConstant {
		chunkEnd := min(chunkStart+archiveChunkSizeConstant, len(paths))
		if extractError := origin.extract(executionContext, reference, paths[chunkStart:chunkEnd], tree); extractError != nil {
			return extractError
		}
	}
	return nil
}

func (origin *Origin) extract(executionContext context.Context, reference string, paths []string, tree *workdir.Tree) error {
	arguments := []string{"archive", "--format=tar", reference}
	if len(paths) > 0 {
		arguments = append(append(arguments, pathspecSeparatorConstant), paths...)
	}
	output, archiveError := origin.repository.run(executionContext, arguments...)
	if archiveError != nil {
		return fmt.Errorf(originArchiveErrorTemplate, reference, archiveError)
	}
	return extractArchive(strings.NewReader(output), tree)
}

func (origin *Origin) resolveTip(executionContext context.Context, requestedRef string) (string, error) {
	if mirrorError := origin.synchronize(executionContext); mirrorError != nil {
		return "", mirrorError
	}
	reference := strings.TrimSpace(requestedRef)
	if len(reference) == 0 {
		reference = origin.options.Ref
	}
	output, revParseError := origin.repository.run(executionContext, "rev-parse", "--verify", "--quiet", reference+commitSuffixConstant)
	if revParseError != nil {
		return "", fmt.Errorf(originResolveErrorTemplate, reference, revParseError)
	}
	return strings.TrimSpace(output), nil
}

func (origin *Origin) verifyAncestor(executionContext context.Context, lastMigrated string, tip string) error {
	if _, revParseError := origin.repository.run(executionContext, "rev-parse", "--verify", "--quiet", lastMigrated+commitSuffixConstant); revParseError != nil {
		if isCommandExit(revParseError) {
			return fmt.Errorf(originLastMigratedErrorTemplate, lastMigrated, backend.ErrLastMigratedNotFound)
		}
		return revParseError
	}
	_, ancestryError := origin.repository.run(executionContext, "merge-base", "--is-ancestor", lastMigrated, tip)
	if ancestryError == nil {
		return nil
	}
	var failedError execshell.CommandFailedError
	if errors.As(ancestryError, &failedError) && failedError.Result.ExitCode == notAncestorExitCodeConstant {
		return fmt.Errorf(originLastMigratedErrorTemplate, lastMigrated, backend.ErrLastMigratedNotFound)
	}
	return ancestryError
}

func (origin *Origin) log(executionContext context.Context, revisionRange string, extraArguments ...string) (change.Sequence, error) {
	arguments := []string{configOptionFlagConstant, quotePathOptionConstant, "log", "--reverse", logFormatArgumentConstant, "--name-only"}
	if origin.options.FirstParent {
		arguments = append(arguments, "--first-parent")
	}
	arguments = append(arguments, extraArguments...)
	arguments = append(arguments, revisionRange)
	if len(origin.options.Paths) > 0 {
		arguments = append(append(arguments, pathspecSeparatorConstant), origin.options.Paths...)
	}
	output, logError := origin.repository.run(executionContext, arguments...)
	if logError != nil {
		return nil, fmt.Errorf(originLogErrorTemplate, revisionRange, logError)
	}
	return parseLog(output)
}

// synchronize clones the mirror on first use and fetches it once per origin instance.
func (origin *Origin) synchronize(executionContext context.Context) error {
	origin.mirrorMutex.Lock()
	defer origin.mirrorMutex.Unlock()
	if origin.mirrorSynchronized {
		return nil
	}

	var synchronizeError error
	if origin.repository.exists() {
		_, synchronizeError = origin.repository.runNetwork(executionContext, commandOptions{}, "fetch", "--prune", "--quiet", "origin")
	} else {
		_, synchronizeError = origin.repository.runNetwork(executionContext, commandOptions{withoutGitDirectory: true}, "clone", "--mirror", "--quiet", cloneLocation(origin.options.URL, origin.remote), origin.repository.gitDirectory)
		if synchronizeError != nil {
			_ = os.RemoveAll(origin.repository.gitDirectory)
		}
	}
	if synchronizeError != nil {
		return fmt.Errorf(originMirrorErrorTemplate, origin.remote.Identity(), synchronizeError)
	}
	origin.mirrorSynchronized = true
	origin.logger.Debug(mirrorSynchronizedLogMessage, zap.String(remoteFieldConstant, origin.remote.Identity()), zap.String(mirrorFieldConstant, origin.repository.gitDirectory))
	return nil
}

// cloneLocation returns the argument git clone should receive for the remote.
func cloneLocation(rawURL string, remote RemoteURL) string {
	if remote.Protocol == RemoteProtocolFile {
		return filepath.FromSlash(remote.Path)
	}
	return strings.TrimSpace(rawURL)
}

// removeTreePath deletes a path from the tree and prunes directories left empty.
func removeTreePath(tree *workdir.Tree, relativePath string) error {
	targetPath, resolveError := tree.Resolve(relativePath)
	if resolveError != nil {
		return resolveError
	}
	if removeError := os.RemoveAll(targetPath); removeError != nil {
		return removeError
	}
	for directory := filepath.Dir(targetPath); directory != tree.Root() && strings.HasPrefix(directory, tree.Root()); directory = filepath.Dir(directory) {
		entries, readError := os.ReadDir(directory)
		if readError != nil || len(entries) > 0 {
			return nil
		}
		if removeError := os.Remove(directory); removeError != nil {
			return removeError
		}
	}
	return nil
}

func isCommandExit(err error) bool {
	var failedError execshell.CommandFailedError
	return errors.As(err, &failedError)
}
