package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"go.uber.org/zap"
)

const (
	stateFileExtensionConstant     = ".json"
	stateDirectoryPermissions      = fs.FileMode(0o755)
	stateFilePermissions           = fs.FileMode(0o644)
	stateDirectoryRequiredMessage  = "state directory is required"
	stateDirectoryErrorTemplate    = "unable to prepare state directory %s: %w"
	stateReadErrorTemplate         = "unable to read migration state %s: %w"
	stateDecodeErrorTemplate       = "unable to decode migration state %s: %w"
	stateWriteErrorTemplate        = "unable to write migration state %s: %w"
	stateKeyMismatchTemplate       = "migration state file %s belongs to %s, not %s"
	lockFileAcquireErrorTemplate   = "unable to acquire state lock %s: %w"
	temporaryFilePatternSuffix     = ".tmp-*"
	lockFileHeldMessageConstant    = "State lock is held by another run"
	lockFileLogFieldNameConstant   = "lock_name"
	lockNamePrefixConstant         = "carbon-"
	lockNameSeparatorConstant      = "\x00"
	lockNameDigestLengthConstant   = 24
	fileLockDelayConstant          = 5 * time.Millisecond
	fileLockAttemptTimeoutConstant = 20 * time.Millisecond
)

// FileStore keeps one JSON document per key in a directory. Writes are atomic and fsynced.
type FileStore struct {
	directory string
	clock     clock.Clock
	logger    *zap.Logger
	locker    *Locker
}

// NewFileStore prepares directory and constructs a FileStore.
func NewFileStore(directory string, lockOptions LockOptions, wallClock clock.Clock, logger *zap.Logger) (*FileStore, error) {
	if len(strings.TrimSpace(directory)) == 0 {
		return nil, errors.New(stateDirectoryRequiredMessage)
	}
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if directoryError := ensureDirectoryDurable(directory); directoryError != nil {
		return nil, fmt.Errorf(stateDirectoryErrorTemplate, directory, directoryError)
	}
	store := &FileStore{directory: directory, clock: wallClock, logger: logger}
	store.locker = NewLocker(newFileLockBackend(store), lockOptions, wallClock, logger)
	return store, nil
}

// Load reads the record for key.
func (store *FileStore) Load(executionContext context.Context, key Key) (Record, bool, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return Record{}, false, contextError
	}
	if keyError := validateKey(key); keyError != nil {
		return Record{}, false, keyError
	}
	recordPath := store.recordPath(key)
	content, readError := os.ReadFile(recordPath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf(stateReadErrorTemplate, recordPath, readError)
	}
	var record Record
	if decodeError := json.Unmarshal(content, &record); decodeError != nil {
		return Record{}, false, fmt.Errorf(stateDecodeErrorTemplate, recordPath, decodeError)
	}
	if record.Key != key {
		return Record{}, false, fmt.Errorf(stateKeyMismatchTemplate, recordPath, record.Key.String(), key.String())
	}
	return record, true, nil
}

// Save atomically replaces the record for key.
func (store *FileStore) Save(executionContext context.Context, key Key, reference string) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if keyError := validateKey(key); keyError != nil {
		return keyError
	}
	record := Record{Key: key, Reference: reference, UpdatedAt: store.clock.Now().UTC()}
	content, encodeError := json.MarshalIndent(record, "", "  ")
	if encodeError != nil {
		return fmt.Errorf(stateWriteErrorTemplate, store.recordPath(key), encodeError)
	}
	content = append(content, '\n')
	if writeError := writeFileAtomicDurable(store.recordPath(key), content, stateFilePermissions); writeError != nil {
		return fmt.Errorf(stateWriteErrorTemplate, store.recordPath(key), writeError)
	}
	return nil
}

// Lock acquires the key's host-wide lock.
func (store *FileStore) Lock(executionContext context.Context, key Key) (Unlock, error) {
	return store.locker.Lock(executionContext, key)
}

// Close is a no-op.
func (store *FileStore) Close() error {
	return nil
}

func (store *FileStore) recordPath(key Key) string {
	return filepath.Join(store.directory, key.Digest()+stateFileExtensionConstant)
}

func (store *FileStore) lockName(key Key) string {
	absoluteDirectory, absoluteError := filepath.Abs(store.directory)
	if absoluteError != nil {
		absoluteDirectory = store.directory
	}
	digest := sha256.Sum256([]byte(absoluteDirectory + lockNameSeparatorConstant + key.Digest()))
	return lockNamePrefixConstant + hex.EncodeToString(digest[:])[:lockNameDigestLengthConstant]
}

type fileLockBackend struct {
	store     *FileStore
	releasers map[string]mutex.Releaser
	guard     *sync.Mutex
}

func newFileLockBackend(store *FileStore) fileLockBackend {
	return fileLockBackend{store: store, releasers: make(map[string]mutex.Releaser), guard: &sync.Mutex{}}
}

// TryLock takes a host-wide flock named after the state directory and key. The kernel drops it when the holding process exits.
func (backend fileLockBackend) TryLock(executionContext context.Context, key Key, holder string) (bool, error) {
	lockName := backend.store.lockName(key)
	releaser, acquireError := mutex.Acquire(mutex.Spec{
		Name:    lockName,
		Clock:   clock.WallClock,
		Delay:   fileLockDelayConstant,
		Timeout: fileLockAttemptTimeoutConstant,
		Cancel:  executionContext.Done(),
	})
	if acquireError != nil {
		if errors.Is(acquireError, mutex.ErrTimeout) {
			backend.store.logger.Debug(lockFileHeldMessageConstant, zap.String(lockFileLogFieldNameConstant, lockName), zap.String(lockLogFieldKeyConstant, key.String()))
			return false, nil
		}
		if errors.Is(acquireError, mutex.ErrCancelled) {
			return false, executionContext.Err()
		}
		return false, fmt.Errorf(lockFileAcquireErrorTemplate, lockName, acquireError)
	}
	backend.guard.Lock()
	backend.releasers[holder] = releaser
	backend.guard.Unlock()
	return true, nil
}

func (backend fileLockBackend) Unlock(_ context.Context, _ Key, holder string) error {
	backend.guard.Lock()
	releaser, held := backend.releasers[holder]
	delete(backend.releasers, holder)
	backend.guard.Unlock()
	if held {
		releaser.Release()
	}
	return nil
}

func writeFileAtomicDurable(targetPath string, content []byte, permissions fs.FileMode) error {
	directory := filepath.Dir(targetPath)
	if directoryError := ensureDirectoryDurable(directory); directoryError != nil {
		return directoryError
	}
	temporaryFile, createError := os.CreateTemp(directory, filepath.Base(targetPath)+temporaryFilePatternSuffix)
	if createError != nil {
		return createError
	}
	temporaryPath := temporaryFile.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(temporaryPath)
		}
	}()

	if _, writeError := temporaryFile.Write(content); writeError != nil {
		temporaryFile.Close()
		return writeError
	}
	if chmodError := temporaryFile.Chmod(permissions); chmodError != nil {
		temporaryFile.Close()
		return chmodError
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		temporaryFile.Close()
		return syncError
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return closeError
	}
	if renameError := os.Rename(temporaryPath, targetPath); renameError != nil {
		return renameError
	}
	committed = true
	return syncDirectory(directory)
}

func ensureDirectoryDurable(directory string) error {
	if _, statError := os.Stat(directory); statError == nil {
		return nil
	}
	if creationError := os.MkdirAll(directory, stateDirectoryPermissions); creationError != nil {
		return creationError
	}
	return syncDirectory(filepath.Dir(directory))
}

func syncDirectory(directory string) error {
	directoryHandle, openError := os.Open(directory)
	if openError != nil {
		return openError
	}
	defer directoryHandle.Close()
	return directoryHandle.Sync()
}
