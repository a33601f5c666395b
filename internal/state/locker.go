package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
)

const (
	defaultLockPollIntervalConstant = 250 * time.Millisecond
	lockAcquiredMessageConstant     = "Acquired migration state lock"
	lockReleasedMessageConstant     = "Released migration state lock"
	lockBusyMessageConstant         = "Migration state lock is held; waiting"
	lockLogFieldKeyConstant         = "state_key"
	lockLogFieldHolderConstant      = "holder"
	lockLogFieldAttemptConstant     = "attempt"
	lockHeldErrorTemplateConstant   = "%w: %s"
	lockAcquireErrorTemplate        = "unable to lock migration state %s: %w"
)

var errLockHeld = errors.New("lock held")

// LockBackend acquires cross-process locks. TryLock returns false when another holder owns the lock.
type LockBackend interface {
	TryLock(executionContext context.Context, key Key, holder string) (bool, error)
	Unlock(executionContext context.Context, key Key, holder string) error
}

// LockOptions tunes how long Lock waits for a held lock. Lease bounds how long a lock row of a dead run
// blocks others in backends that cannot observe process death.
type LockOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Lease        time.Duration
}

// Locker serializes runs on the same key inside the process with a keyed mutex and across processes with a LockBackend.
type Locker struct {
	keyedMutex *kmutex.Kmutex
	backend    LockBackend
	clock      clock.Clock
	options    LockOptions
	logger     *zap.Logger
}

// NewLocker constructs a Locker. A nil backend limits exclusion to the current process.
func NewLocker(backend LockBackend, options LockOptions, wallClock clock.Clock, logger *zap.Logger) *Locker {
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaultLockPollIntervalConstant
	}
	return &Locker{keyedMutex: kmutex.New(), backend: backend, clock: wallClock, options: options, logger: logger}
}

// Lock acquires the lock for key, waiting up to the configured timeout for other holders.
func (locker *Locker) Lock(executionContext context.Context, key Key) (Unlock, error) {
	if keyError := validateKey(key); keyError != nil {
		return nil, keyError
	}
	mutexKey := key.Digest()
	if acquireError := locker.acquireInProcess(executionContext, mutexKey); acquireError != nil {
		return nil, acquireError
	}

	holder := uuid.NewString()
	if locker.backend != nil {
		if backendError := locker.acquireBackend(executionContext, key, holder); backendError != nil {
			locker.keyedMutex.Unlock(mutexKey)
			return nil, backendError
		}
	}
	locker.logger.Debug(lockAcquiredMessageConstant, zap.String(lockLogFieldKeyConstant, key.String()), zap.String(lockLogFieldHolderConstant, holder))

	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		defer locker.keyedMutex.Unlock(mutexKey)
		var unlockError error
		if locker.backend != nil {
			unlockError = locker.backend.Unlock(context.WithoutCancel(executionContext), key, holder)
		}
		locker.logger.Debug(lockReleasedMessageConstant, zap.String(lockLogFieldKeyConstant, key.String()), zap.String(lockLogFieldHolderConstant, holder))
		return unlockError
	}, nil
}

func (locker *Locker) acquireInProcess(executionContext context.Context, mutexKey string) error {
	acquired := make(chan struct{})
	go func() {
		locker.keyedMutex.Lock(mutexKey)
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-executionContext.Done():
		go func() {
			<-acquired
			locker.keyedMutex.Unlock(mutexKey)
		}()
		return executionContext.Err()
	}
}

func (locker *Locker) acquireBackend(executionContext context.Context, key Key, holder string) error {
	callArguments := retry.CallArgs{
		Func: func() error {
			acquired, tryError := locker.backend.TryLock(executionContext, key, holder)
			if tryError != nil {
				return tryError
			}
			if !acquired {
				return errLockHeld
			}
			return nil
		},
		IsFatalError: func(callError error) bool {
			return !errors.Is(callError, errLockHeld)
		},
		NotifyFunc: func(lastError error, attempt int) {
			locker.logger.Debug(lockBusyMessageConstant, zap.String(lockLogFieldKeyConstant, key.String()), zap.Int(lockLogFieldAttemptConstant, attempt))
		},
		Delay: locker.options.PollInterval,
		Clock: locker.clock,
		Stop:  executionContext.Done(),
	}
	if locker.options.Timeout > 0 {
		callArguments.MaxDuration = locker.options.Timeout
	} else {
		callArguments.Attempts = 1
	}

	callError := retry.Call(callArguments)
	if callError == nil {
		return nil
	}
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if retry.IsDurationExceeded(callError) || retry.IsAttemptsExceeded(callError) {
		callError = retry.LastError(callError)
	}
	if errors.Is(callError, errLockHeld) {
		return fmt.Errorf(lockHeldErrorTemplateConstant, ErrStateLocked, key.String())
	}
	return fmt.Errorf(lockAcquireErrorTemplate, key.String(), callError)
}
