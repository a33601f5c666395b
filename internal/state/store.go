package state

import (
	"context"
	"errors"
	"time"
)

// ErrStateLocked indicates that another run holds the lock for a key.
var ErrStateLocked = errors.New("migration state is locked by another run")

// Record is the durable bookmark of migration progress for one key.
type Record struct {
	Key       Key       `json:"key"`
	Reference string    `json:"reference"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unlock releases a lock acquired with Store.Lock.
type Unlock func() error

// Store persists the last successfully committed origin reference per key.
// Save must be durable before it returns.
type Store interface {
	// Load returns the stored record. The boolean is false when nothing has been migrated yet.
	Load(executionContext context.Context, key Key) (Record, bool, error)
	// Save durably records reference as the last migrated reference for key.
	Save(executionContext context.Context, key Key, reference string) error
	// Lock acquires advisory mutual exclusion for key. It returns ErrStateLocked when another run holds it.
	Lock(executionContext context.Context, key Key) (Unlock, error)
	// Close releases resources held by the store.
	Close() error
}
