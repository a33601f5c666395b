package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

const (
	objectRecordSuffixConstant = ".json"
	objectLockSuffixConstant   = ".lock"
	objectLoadErrorTemplate    = "unable to load migration state object %s: %w"
	objectDecodeErrorTemplate  = "unable to decode migration state object %s: %w"
	objectSaveErrorTemplate    = "unable to save migration state object %s: %w"
	objectLockErrorTemplate    = "unable to manage lock object %s: %w"
	objectKeyMismatchTemplate  = "migration state object %s belongs to %s, not %s"
)

// ObjectClient is the narrow object storage surface the ObjectStore needs.
type ObjectClient interface {
	Get(executionContext context.Context, name string) ([]byte, bool, error)
	Put(executionContext context.Context, name string, content []byte) error
	Exists(executionContext context.Context, name string) (bool, error)
	Remove(executionContext context.Context, name string) error
}

// ObjectStore keeps one JSON object per key in an object storage bucket.
// Its lock is an object created only when absent, which is advisory and not atomic across writers.
type ObjectStore struct {
	client ObjectClient
	prefix string
	clock  clock.Clock
	locker *Locker
}

// NewObjectStore constructs an ObjectStore over client. Object names are prefixed with prefix.
func NewObjectStore(client ObjectClient, prefix string, lockOptions LockOptions, wallClock clock.Clock, logger *zap.Logger) *ObjectStore {
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	store := &ObjectStore{client: client, prefix: strings.Trim(prefix, "/"), clock: wallClock}
	store.locker = NewLocker(objectLockBackend{store: store}, lockOptions, wallClock, logger)
	return store
}

// Load reads the record object for key.
func (store *ObjectStore) Load(executionContext context.Context, key Key) (Record, bool, error) {
	if keyError := validateKey(key); keyError != nil {
		return Record{}, false, keyError
	}
	objectName := store.objectName(key, objectRecordSuffixConstant)
	content, found, getError := store.client.Get(executionContext, objectName)
	if getError != nil {
		return Record{}, false, fmt.Errorf(objectLoadErrorTemplate, objectName, getError)
	}
	if !found {
		return Record{}, false, nil
	}
	var record Record
	if decodeError := json.Unmarshal(content, &record); decodeError != nil {
		return Record{}, false, fmt.Errorf(objectDecodeErrorTemplate, objectName, decodeError)
	}
	if record.Key != key {
		return Record{}, false, fmt.Errorf(objectKeyMismatchTemplate, objectName, record.Key.String(), key.String())
	}
	return record, true, nil
}

// Save writes the record object for key.
func (store *ObjectStore) Save(executionContext context.Context, key Key, reference string) error {
	if keyError := validateKey(key); keyError != nil {
		return keyError
	}
	objectName := store.objectName(key, objectRecordSuffixConstant)
	content, encodeError := json.Marshal(Record{Key: key, Reference: reference, UpdatedAt: store.clock.Now().UTC()})
	if encodeError != nil {
		return fmt.Errorf(objectSaveErrorTemplate, objectName, encodeError)
	}
	if putError := store.client.Put(executionContext, objectName, content); putError != nil {
		return fmt.Errorf(objectSaveErrorTemplate, objectName, putError)
	}
	return nil
}

// Lock acquires the key's lock object.
func (store *ObjectStore) Lock(executionContext context.Context, key Key) (Unlock, error) {
	return store.locker.Lock(executionContext, key)
}

// Close is a no-op.
func (store *ObjectStore) Close() error {
	return nil
}

func (store *ObjectStore) objectName(key Key, suffix string) string {
	if len(store.prefix) == 0 {
		return key.Digest() + suffix
	}
	return path.Join(store.prefix, key.Digest()+suffix)
}

type objectLockBackend struct {
	store *ObjectStore
}

func (backend objectLockBackend) TryLock(executionContext context.Context, key Key, holder string) (bool, error) {
	objectName := backend.store.objectName(key, objectLockSuffixConstant)
	exists, existsError := backend.store.client.Exists(executionContext, objectName)
	if existsError != nil {
		return false, fmt.Errorf(objectLockErrorTemplate, objectName, existsError)
	}
	if exists {
		return false, nil
	}
	if putError := backend.store.client.Put(executionContext, objectName, []byte(holder)); putError != nil {
		return false, fmt.Errorf(objectLockErrorTemplate, objectName, putError)
	}
	return true, nil
}

func (backend objectLockBackend) Unlock(executionContext context.Context, key Key, holder string) error {
	objectName := backend.store.objectName(key, objectLockSuffixConstant)
	content, found, getError := backend.store.client.Get(executionContext, objectName)
	if getError != nil {
		return fmt.Errorf(objectLockErrorTemplate, objectName, getError)
	}
	if !found || string(content) != holder {
		return nil
	}
	if removeError := backend.store.client.Remove(executionContext, objectName); removeError != nil {
		return fmt.Errorf(objectLockErrorTemplate, objectName, removeError)
	}
	return nil
}
