package workdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBaseDirectoryNameConstant    = "carbon-workdir"
	treeDirectoryPermissionsConstant    = fs.FileMode(0o755)
	treeNamePrefixConstant              = "tree-"
	treeAcquiredMessageConstant         = "Acquired working tree"
	treeReleasedMessageConstant         = "Released working tree"
	treeKeptMessageConstant             = "Kept working tree for inspection"
	treeRecycledMessageConstant         = "Recycled working tree"
	treeReleaseFailedMessageConstant    = "Failed to release working tree"
	treeLogFieldRootConstant            = "working_tree"
	treeLogFieldSizeConstant            = "size"
	baseDirectoryErrorTemplateConstant  = "unable to prepare working directory base %s: %w"
	treeCreationErrorTemplateConstant   = "unable to create working tree %s: %w"
	treeReleaseErrorTemplateConstant    = "unable to release working tree %s: %w"
	treeNotAcquiredErrorMessageConstant = "working tree was not acquired from this manager"
	managerClosedErrorMessageConstant   = "working directory manager is closed"
)

// ErrTreeNotAcquired indicates that a released tree was not handed out by the manager or was already released.
var ErrTreeNotAcquired = errors.New(treeNotAcquiredErrorMessageConstant)

// ErrManagerClosed indicates that Acquire was called after Close.
var ErrManagerClosed = errors.New(managerClosedErrorMessageConstant)

// Configuration controls where trees live and what happens to them on release.
type Configuration struct {
	BaseDirectory string
	KeepTrees     bool
	RecycleTrees  bool
}

// Manager hands out exclusive working trees and guarantees their release.
type Manager struct {
	configuration Configuration
	logger        *zap.Logger
	mutex         sync.Mutex
	activeTrees   map[string]*Tree
	recycledRoots []string
	closed        bool
}

// NewManager constructs a Manager rooted at the configured base directory, defaulting to the system temporary directory.
func NewManager(configuration Configuration, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(configuration.BaseDirectory) == 0 {
		configuration.BaseDirectory = filepath.Join(os.TempDir(), defaultBaseDirectoryNameConstant)
	}
	absoluteBase, absoluteError := filepath.Abs(configuration.BaseDirectory)
	if absoluteError != nil {
		return nil, fmt.Errorf(baseDirectoryErrorTemplateConstant, configuration.BaseDirectory, absoluteError)
	}
	configuration.BaseDirectory = absoluteBase
	if creationError := os.MkdirAll(configuration.BaseDirectory, treeDirectoryPermissionsConstant); creationError != nil {
		return nil, fmt.Errorf(baseDirectoryErrorTemplateConstant, configuration.BaseDirectory, creationError)
	}
	return &Manager{
		configuration: configuration,
		logger:        logger,
		activeTrees:   make(map[string]*Tree),
	}, nil
}

// BaseDirectory returns the absolute directory under which trees are created.
func (manager *Manager) BaseDirectory() string {
	return manager.configuration.BaseDirectory
}

// Acquire returns an empty tree owned exclusively by the caller until Release.
func (manager *Manager) Acquire(executionContext context.Context) (*Tree, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.closed {
		return nil, ErrManagerClosed
	}

	var treeRoot string
	if recycledCount := len(manager.recycledRoots); recycledCount > 0 {
		treeRoot = manager.recycledRoots[recycledCount-1]
		manager.recycledRoots = manager.recycledRoots[:recycledCount-1]
	} else {
		treeRoot = filepath.Join(manager.configuration.BaseDirectory, treeNamePrefixConstant+uuid.NewString())
		if creationError := os.MkdirAll(treeRoot, treeDirectoryPermissionsConstant); creationError != nil {
			return nil, fmt.Errorf(treeCreationErrorTemplateConstant, treeRoot, creationError)
		}
	}

	tree := &Tree{root: treeRoot, identifier: filepath.Base(treeRoot)}
	manager.activeTrees[tree.root] = tree
	manager.logger.Debug(treeAcquiredMessageConstant, zap.String(treeLogFieldRootConstant, tree.root))
	return tree, nil
}

// Release deletes, keeps, or recycles a tree depending on configuration.
func (manager *Manager) Release(tree *Tree) error {
	if tree == nil {
		return ErrTreeNotAcquired
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if _, active := manager.activeTrees[tree.root]; !active {
		return ErrTreeNotAcquired
	}
	delete(manager.activeTrees, tree.root)

	if manager.logger.Core().Enabled(zap.DebugLevel) {
		if treeSize, sizeError := tree.Size(); sizeError == nil {
			manager.logger.Debug(treeReleasedMessageConstant, zap.String(treeLogFieldRootConstant, tree.root), zap.String(treeLogFieldSizeConstant, humanize.Bytes(uint64(treeSize))))
		}
	}

	switch {
	case manager.configuration.KeepTrees:
		manager.logger.Info(treeKeptMessageConstant, zap.String(treeLogFieldRootConstant, tree.root))
		return nil
	case manager.configuration.RecycleTrees && !manager.closed:
		if clearError := tree.Clear(); clearError != nil {
			return fmt.Errorf(treeReleaseErrorTemplateConstant, tree.root, clearError)
		}
		manager.recycledRoots = append(manager.recycledRoots, tree.root)
		manager.logger.Debug(treeRecycledMessageConstant, zap.String(treeLogFieldRootConstant, tree.root))
		return nil
	default:
		if removeError := os.RemoveAll(tree.root); removeError != nil {
			return fmt.Errorf(treeReleaseErrorTemplateConstant, tree.root, removeError)
		}
		return nil
	}
}

// WithTree acquires a tree, runs operation, and releases the tree on every exit path.
func (manager *Manager) WithTree(executionContext context.Context, operation func(*Tree) error) (resultError error) {
	tree, acquireError := manager.Acquire(executionContext)
	if acquireError != nil {
		return acquireError
	}
	defer func() {
		if releaseError := manager.Release(tree); releaseError != nil {
			manager.logger.Warn(treeReleaseFailedMessageConstant, zap.String(treeLogFieldRootConstant, tree.root), zap.Error(releaseError))
			resultError = errors.Join(resultError, releaseError)
		}
	}()
	return operation(tree)
}

// ActiveTreeCount reports how many trees are currently acquired.
func (manager *Manager) ActiveTreeCount() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return len(manager.activeTrees)
}

// Close removes pooled trees. Trees still acquired are left to their owners.
func (manager *Manager) Close() error {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	manager.closed = true
	var closeError error
	for _, recycledRoot := range manager.recycledRoots {
		closeError = errors.Join(closeError, os.RemoveAll(recycledRoot))
	}
	manager.recycledRoots = nil
	return closeError
}
