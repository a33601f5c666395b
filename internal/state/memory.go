package state

import (
	"context"
	"sync"

	"github.com/juju/clock"
)

// MemoryStore keeps records in process memory. It backs tests and dry runs.
type MemoryStore struct {
	mutex   sync.RWMutex
	records map[Key]Record
	clock   clock.Clock
	locker  *Locker
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(wallClock clock.Clock) *MemoryStore {
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	return &MemoryStore{
		records: make(map[Key]Record),
		clock:   wallClock,
		locker:  NewLocker(nil, LockOptions{}, wallClock, nil),
	}
}

// Load returns the record for key.
func (store *MemoryStore) Load(executionContext context.Context, key Key) (Record, bool, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return Record{}, false, contextError
	}
	if keyError := validateKey(key); keyError != nil {
		return Record{}, false, keyError
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	record, found := store.records[key]
	return record, found, nil
}

// Save stores reference for key.
func (store *MemoryStore) Save(executionContext context.Context, key Key, reference string) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if keyError := validateKey(key); keyError != nil {
		return keyError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.records[key] = Record{Key: key, Reference: reference, UpdatedAt: store.clock.Now().UTC()}
	return nil
}

// Lock serializes runs on key within the process.
func (store *MemoryStore) Lock(executionContext context.Context, key Key) (Unlock, error) {
	return store.locker.Lock(executionContext, key)
}

// Close is a no-op.
func (store *MemoryStore) Close() error {
	return nil
}
