package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/juju/clock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL placeholder style and driver.
type Dialect string

// Supported SQL dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	sqliteDriverNameConstant    = "sqlite"
	postgresDriverNameConstant  = "pgx"
	timestampLayoutConstant     = time.RFC3339Nano
	lockTimestampLayoutConstant = "2006-01-02T15:04:05.000000000Z07:00"
	defaultLockLeaseConstant    = 2 * time.Minute
	lockRenewalDivisorConstant  = 3
	defaultPingTimeoutConstant  = 5 * time.Second

	createStateTableStatement = `CREATE TABLE IF NOT EXISTS carbon_migration_state (
	workflow TEXT NOT NULL,
	origin_identity TEXT NOT NULL,
	destination_identity TEXT NOT NULL,
	reference TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (workflow, origin_identity, destination_identity)
)`
	createLockTableStatement = `CREATE TABLE IF NOT EXISTS carbon_migration_locks (
	key_digest TEXT NOT NULL PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at TEXT NOT NULL
)`
	selectStateStatement = `SELECT reference, updated_at FROM carbon_migration_state
WHERE workflow = ? AND origin_identity = ? AND destination_identity = ?`
	upsertStateStatement = `INSERT INTO carbon_migration_state (workflow, origin_identity, destination_identity, reference, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (workflow, origin_identity, destination_identity)
DO UPDATE SET reference = excluded.reference, updated_at = excluded.updated_at`
	insertLockStatement = `INSERT INTO carbon_migration_locks (key_digest, holder, acquired_at)
VALUES (?, ?, ?)
ON CONFLICT (key_digest) DO NOTHING`
	deleteLockStatement      = `DELETE FROM carbon_migration_locks WHERE key_digest = ? AND holder = ?`
	deleteStaleLockStatement = `DELETE FROM carbon_migration_locks WHERE key_digest = ? AND acquired_at < ?`
	renewLockStatement       = `UPDATE carbon_migration_locks SET acquired_at = ? WHERE key_digest = ? AND holder = ?`

	sqlDSNRequiredMessage         = "state database DSN is required"
	sqlUnsupportedDialectTemplate = "unsupported state database dialect %q"
	sqlOpenErrorTemplate          = "unable to open state database: %w"
	sqlPingErrorTemplate          = "unable to reach state database: %w"
	sqlSchemaErrorTemplate        = "unable to prepare state schema: %w"
	sqlLoadErrorTemplate          = "unable to load migration state %s: %w"
	sqlSaveErrorTemplate          = "unable to save migration state %s: %w"
	sqlTimestampErrorTemplate     = "invalid timestamp %q for migration state %s: %w"
	sqlLockErrorTemplate          = "unable to write lock row for %s: %w"
	sqlPlaceholderToken           = "?"
	postgresPlaceholderPrefix     = "$"
	sqlStoreOpenedMessage         = "Opened migration state database"
	sqlLockRenewFailedMessage     = "Unable to renew migration state lock lease"
	sqlStaleLockTakenMessage      = "Took over expired migration state lock"
	sqlLogFieldDialectConstant    = "dialect"
)

// SQLConfiguration describes a relational state database.
type SQLConfiguration struct {
	Dialect     Dialect
	DSN         string
	PingTimeout time.Duration
}

// Validate reports configuration problems.
func (configuration SQLConfiguration) Validate() error {
	if len(strings.TrimSpace(configuration.DSN)) == 0 {
		return errors.New(sqlDSNRequiredMessage)
	}
	switch configuration.Dialect {
	case DialectSQLite, DialectPostgres:
		return nil
	default:
		return fmt.Errorf(sqlUnsupportedDialectTemplate, configuration.Dialect)
	}
}

// SQLStore keeps records in a relational table and locks in a companion table.
type SQLStore struct {
	database *sql.DB
	dialect  Dialect
	clock    clock.Clock
	logger   *zap.Logger
	locker   *Locker
}

// OpenSQLStore opens the database, verifies connectivity, and creates the schema when missing.
func OpenSQLStore(executionContext context.Context, configuration SQLConfiguration, lockOptions LockOptions, wallClock clock.Clock, logger *zap.Logger) (*SQLStore, error) {
	if validationError := configuration.Validate(); validationError != nil {
		return nil, validationError
	}
	driverName := sqliteDriverNameConstant
	if configuration.Dialect == DialectPostgres {
		driverName = postgresDriverNameConstant
	}
	database, openError := sql.Open(driverName, configuration.DSN)
	if openError != nil {
		return nil, fmt.Errorf(sqlOpenErrorTemplate, openError)
	}
	if configuration.Dialect == DialectSQLite {
		database.SetMaxOpenConns(1)
	}

	pingTimeout := configuration.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeoutConstant
	}
	pingContext, cancel := context.WithTimeout(executionContext, pingTimeout)
	defer cancel()
	if pingError := database.PingContext(pingContext); pingError != nil {
		database.Close()
		return nil, fmt.Errorf(sqlPingErrorTemplate, pingError)
	}

	store, storeError := NewSQLStore(executionContext, database, configuration.Dialect, lockOptions, wallClock, logger)
	if storeError != nil {
		database.Close()
		return nil, storeError
	}
	if logger != nil {
		logger.Debug(sqlStoreOpenedMessage, zap.String(sqlLogFieldDialectConstant, string(configuration.Dialect)))
	}
	return store, nil
}

// NewSQLStore wraps an open database and creates the schema when missing.
func NewSQLStore(executionContext context.Context, database *sql.DB, dialect Dialect, lockOptions LockOptions, wallClock clock.Clock, logger *zap.Logger) (*SQLStore, error) {
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, statement := range []string{createStateTableStatement, createLockTableStatement} {
		if _, schemaError := database.ExecContext(executionContext, statement); schemaError != nil {
			return nil, fmt.Errorf(sqlSchemaErrorTemplate, schemaError)
		}
	}
	store := &SQLStore{database: database, dialect: dialect, clock: wallClock, logger: logger}
	store.locker = NewLocker(newSQLLockBackend(store, lockOptions.Lease), lockOptions, wallClock, logger)
	return store, nil
}

// Load reads the record for key.
func (store *SQLStore) Load(executionContext context.Context, key Key) (Record, bool, error) {
	if keyError := validateKey(key); keyError != nil {
		return Record{}, false, keyError
	}
	var reference string
	var updatedAtText string
	scanError := store.database.QueryRowContext(executionContext, store.rebind(selectStateStatement), key.Workflow, key.Origin, key.Destination).Scan(&reference, &updatedAtText)
	if scanError != nil {
		if errors.Is(scanError, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf(sqlLoadErrorTemplate, key.String(), scanError)
	}
	updatedAt, parseError := time.Parse(timestampLayoutConstant, updatedAtText)
	if parseError != nil {
		return Record{}, false, fmt.Errorf(sqlTimestampErrorTemplate, updatedAtText, key.String(), parseError)
	}
	return Record{Key: key, Reference: reference, UpdatedAt: updatedAt}, true, nil
}

// Save upserts the record for key.
func (store *SQLStore) Save(executionContext context.Context, key Key, reference string) error {
	if keyError := validateKey(key); keyError != nil {
		return keyError
	}
	updatedAt := store.clock.Now().UTC().Format(timestampLayoutConstant)
	if _, execError := store.database.ExecContext(executionContext, store.rebind(upsertStateStatement), key.Workflow, key.Origin, key.Destination, reference, updatedAt); execError != nil {
		return fmt.Errorf(sqlSaveErrorTemplate, key.String(), execError)
	}
	return nil
}

// Lock acquires the key's lock row.
func (store *SQLStore) Lock(executionContext context.Context, key Key) (Unlock, error) {
	return store.locker.Lock(executionContext, key)
}

// Close closes the database.
func (store *SQLStore) Close() error {
	return store.database.Close()
}

// rebind converts "?" placeholders to the dialect's style.
func (store *SQLStore) rebind(statement string) string {
	if store.dialect != DialectPostgres {
		return statement
	}
	var rebound strings.Builder
	placeholderIndex := 0
	for _, character := range statement {
		if string(character) == sqlPlaceholderToken {
			placeholderIndex++
			rebound.WriteString(postgresPlaceholderPrefix + strconv.Itoa(placeholderIndex))
			continue
		}
		rebound.WriteRune(character)
	}
	return rebound.String()
}

// sqlLockBackend holds lock rows as leases. The holder renews its row while the lock is held, and a row
// whose lease has lapsed belongs to a run that died and may be taken over.
type sqlLockBackend struct {
	store    *SQLStore
	lease    time.Duration
	renewals map[string]chan struct{}
	guard    *sync.Mutex
}

func newSQLLockBackend(store *SQLStore, lease time.Duration) sqlLockBackend {
	if lease <= 0 {
		lease = defaultLockLeaseConstant
	}
	return sqlLockBackend{store: store, lease: lease, renewals: make(map[string]chan struct{}), guard: &sync.Mutex{}}
}

func (backend sqlLockBackend) TryLock(executionContext context.Context, key Key, holder string) (bool, error) {
	now := backend.store.clock.Now().UTC()
	expiredBefore := now.Add(-backend.lease).Format(lockTimestampLayoutConstant)
	staleResult, staleError := backend.store.database.ExecContext(executionContext, backend.store.rebind(deleteStaleLockStatement), key.Digest(), expiredBefore)
	if staleError != nil {
		return false, fmt.Errorf(sqlLockErrorTemplate, key.String(), staleError)
	}
	if removedRows, _ := staleResult.RowsAffected(); removedRows > 0 {
		backend.store.logger.Warn(sqlStaleLockTakenMessage, zap.String(lockLogFieldKeyConstant, key.String()))
	}

	acquiredAt := now.Format(lockTimestampLayoutConstant)
	result, execError := backend.store.database.ExecContext(executionContext, backend.store.rebind(insertLockStatement), key.Digest(), holder, acquiredAt)
	if execError != nil {
		return false, fmt.Errorf(sqlLockErrorTemplate, key.String(), execError)
	}
	affectedRows, rowsError := result.RowsAffected()
	if rowsError != nil {
		return false, fmt.Errorf(sqlLockErrorTemplate, key.String(), rowsError)
	}
	if affectedRows != 1 {
		return false, nil
	}

	stop := make(chan struct{})
	backend.guard.Lock()
	backend.renewals[holder] = stop
	backend.guard.Unlock()
	go backend.renew(key, holder, stop)
	return true, nil
}

func (backend sqlLockBackend) Unlock(executionContext context.Context, key Key, holder string) error {
	backend.guard.Lock()
	if stop, renewing := backend.renewals[holder]; renewing {
		close(stop)
		delete(backend.renewals, holder)
	}
	backend.guard.Unlock()
	if _, execError := backend.store.database.ExecContext(executionContext, backend.store.rebind(deleteLockStatement), key.Digest(), holder); execError != nil {
		return fmt.Errorf(sqlLockErrorTemplate, key.String(), execError)
	}
	return nil
}

func (backend sqlLockBackend) renew(key Key, holder string, stop <-chan struct{}) {
	interval := backend.lease / lockRenewalDivisorConstant
	for {
		select {
		case <-stop:
			return
		case <-backend.store.clock.After(interval):
		}
		renewedAt := backend.store.clock.Now().UTC().Format(lockTimestampLayoutConstant)
		if _, execError := backend.store.database.ExecContext(context.Background(), backend.store.rebind(renewLockStatement), renewedAt, key.Digest(), holder); execError != nil {
			backend.store.logger.Warn(sqlLockRenewFailedMessage, zap.String(lockLogFieldKeyConstant, key.String()), zap.Error(execError))
		}
	}
}
