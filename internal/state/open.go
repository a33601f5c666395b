package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Backend names a state storage medium.
type Backend string

// Supported backends.
const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendS3       Backend = "s3"
	BackendMemory   Backend = "memory"
)

const (
	unsupportedBackendTemplate = "unsupported migration state backend %q (expected file, sqlite, postgres, s3, or memory)"
	storeOpenedMessage         = "Opened migration state store"
	storeLogFieldBackend       = "backend"
)

// Configuration selects and configures a state backend.
type Configuration struct {
	Backend     Backend
	Directory   string
	DSN         string
	S3          S3Configuration
	LockTimeout time.Duration
	LockLease   time.Duration
}

// Open constructs the configured store.
func Open(executionContext context.Context, configuration Configuration, wallClock clock.Clock, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	lockOptions := LockOptions{Timeout: configuration.LockTimeout, Lease: configuration.LockLease}

	var store Store
	switch Backend(strings.ToLower(strings.TrimSpace(string(configuration.Backend)))) {
	case BackendFile, "":
		fileStore, fileError := NewFileStore(configuration.Directory, lockOptions, wallClock, logger)
		if fileError != nil {
			return nil, fileError
		}
		store = fileStore
	case BackendSQLite:
		sqlStore, sqlError := OpenSQLStore(executionContext, SQLConfiguration{Dialect: DialectSQLite, DSN: configuration.DSN}, lockOptions, wallClock, logger)
		if sqlError != nil {
			return nil, sqlError
		}
		store = sqlStore
	case BackendPostgres:
		sqlStore, sqlError := OpenSQLStore(executionContext, SQLConfiguration{Dialect: DialectPostgres, DSN: configuration.DSN}, lockOptions, wallClock, logger)
		if sqlError != nil {
			return nil, sqlError
		}
		store = sqlStore
	case BackendS3:
		objectClient, clientError := NewMinIOObjectClient(executionContext, configuration.S3)
		if clientError != nil {
			return nil, clientError
		}
		store = NewObjectStore(objectClient, configuration.S3.Prefix, lockOptions, wallClock, logger)
	case BackendMemory:
		store = NewMemoryStore(wallClock)
	default:
		return nil, fmt.Errorf(unsupportedBackendTemplate, configuration.Backend)
	}
	logger.Debug(storeOpenedMessage, zap.String(storeLogFieldBackend, string(configuration.Backend)))
	return store, nil
}
