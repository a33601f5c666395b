package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/temirov/carbon/internal/state"
	pathutils "github.com/temirov/carbon/internal/utils/path"
)

const (
	defaultWorkdirConstant        = "~/.carbon/work"
	defaultCacheDirectoryConstant = "~/.carbon/cache"
	defaultStateDirectoryConstant = "~/.carbon/state"
	defaultStateBackendConstant   = "file"
	defaultPushAttemptsConstant   = 3
	defaultLockTimeoutConstant    = 30 * time.Second
	defaultLockLeaseConstant      = 2 * time.Minute

	workdirConfigKeyConstant           = "workdir"
	cacheDirectoryConfigKeyConstant    = "cache_directory"
	reuseBaselineConfigKeyConstant     = "reuse_baseline"
	keepWorkdirsConfigKeyConstant      = "keep_workdirs"
	recycleWorkdirsConfigKeyConstant   = "recycle_workdirs"
	pushAttemptsConfigKeyConstant      = "push_attempts"
	stateBackendConfigKeyConstant      = "state.backend"
	stateDirectoryConfigKeyConstant    = "state.directory"
	stateDSNConfigKeyConstant          = "state.dsn"
	stateLockTimeoutConfigKeyConstant  = "state.lock_timeout"
	stateLockLeaseConfigKeyConstant    = "state.lock_lease"
	configurationKeySeparatorConstant  = "."
	resolvePathErrorTemplateConstant   = "unable to resolve %s %q: %w"
	workdirDescriptionConstant         = "working directory"
	cacheDirectoryDescriptionConstant  = "cache directory"
	stateDirectoryDescriptionConstant  = "state directory"
	homeDirectoryDescriptionConstant   = "home directory"
	invalidPushAttemptsTemplate        = "push_attempts must be positive, got %d"
	invalidLockTimeoutTemplateConstant = "state lock_timeout must not be negative, got %s"
	invalidLockLeaseTemplateConstant   = "state lock_lease must not be negative, got %s"
)

// StateBackendNames lists the accepted migration.state.backend values.
func StateBackendNames() []string {
	return []string{
		string(state.BackendFile),
		string(state.BackendSQLite),
		string(state.BackendPostgres),
		string(state.BackendS3),
		string(state.BackendMemory),
	}
}

// CommandConfiguration captures the migration section of the application configuration.
type CommandConfiguration struct {
	Workdir        string `mapstructure:"workdir"`
	CacheDirectory string `mapstructure:"cache_directory"`
	ReuseBaseline  bool   `mapstructure:"reuse_baseline"`
	KeepWorkdirs   bool   `mapstructure:"keep_workdirs"`
	// RecycleWorkdirs clears released working trees and reuses them within a run.
	RecycleWorkdirs bool               `mapstructure:"recycle_workdirs"`
	PushAttempts    int                `mapstructure:"push_attempts"`
	State           StateConfiguration `mapstructure:"state"`
	// HomeDirectory is copied from common.home_directory and handed to git for credential discovery.
	HomeDirectory string `mapstructure:"-"`
}

// StateConfiguration selects the migration state backend.
type StateConfiguration struct {
	Backend     string                `mapstructure:"backend"`
	Directory   string                `mapstructure:"directory"`
	DSN         string                `mapstructure:"dsn"`
	LockTimeout time.Duration         `mapstructure:"lock_timeout"`
	LockLease   time.Duration         `mapstructure:"lock_lease"`
	S3          state.S3Configuration `mapstructure:"s3"`
}

// DefaultCommandConfiguration provides the built-in migration settings.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		Workdir:        defaultWorkdirConstant,
		CacheDirectory: defaultCacheDirectoryConstant,
		PushAttempts:   defaultPushAttemptsConstant,
		State: StateConfiguration{
			Backend:     defaultStateBackendConstant,
			Directory:   defaultStateDirectoryConstant,
			LockTimeout: defaultLockTimeoutConstant,
			LockLease:   defaultLockLeaseConstant,
		},
	}
}

// DefaultConfigurationValues returns the defaults keyed for the configuration loader under prefix.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultCommandConfiguration()
	values := map[string]any{
		workdirConfigKeyConstant:          defaults.Workdir,
		cacheDirectoryConfigKeyConstant:   defaults.CacheDirectory,
		reuseBaselineConfigKeyConstant:    defaults.ReuseBaseline,
		keepWorkdirsConfigKeyConstant:     defaults.KeepWorkdirs,
		recycleWorkdirsConfigKeyConstant:  defaults.RecycleWorkdirs,
		pushAttemptsConfigKeyConstant:     defaults.PushAttempts,
		stateBackendConfigKeyConstant:     defaults.State.Backend,
		stateDirectoryConfigKeyConstant:   defaults.State.Directory,
		stateDSNConfigKeyConstant:         defaults.State.DSN,
		stateLockTimeoutConfigKeyConstant: defaults.State.LockTimeout.String(),
		stateLockLeaseConfigKeyConstant:   defaults.State.LockLease.String(),
	}
	trimmedPrefix := strings.TrimSpace(prefix)
	if len(trimmedPrefix) == 0 {
		return values
	}
	prefixed := make(map[string]any, len(values))
	for key, value := range values {
		prefixed[trimmedPrefix+configurationKeySeparatorConstant+key] = value
	}
	return prefixed
}

// Sanitize expands "~" in configured paths, makes them absolute, and fills unset values with defaults.
func (configuration CommandConfiguration) Sanitize() (CommandConfiguration, error) {
	defaults := DefaultCommandConfiguration()
	sanitized := configuration
	sanitized.State.Backend = strings.ToLower(strings.TrimSpace(configuration.State.Backend))
	if len(sanitized.State.Backend) == 0 {
		sanitized.State.Backend = defaults.State.Backend
	}
	if sanitized.PushAttempts == 0 {
		sanitized.PushAttempts = defaults.PushAttempts
	}
	if sanitized.PushAttempts < 0 {
		return CommandConfiguration{}, fmt.Errorf(invalidPushAttemptsTemplate, sanitized.PushAttempts)
	}
	if sanitized.State.LockTimeout < 0 {
		return CommandConfiguration{}, fmt.Errorf(invalidLockTimeoutTemplateConstant, sanitized.State.LockTimeout)
	}
	if sanitized.State.LockLease < 0 {
		return CommandConfiguration{}, fmt.Errorf(invalidLockLeaseTemplateConstant, sanitized.State.LockLease)
	}
	if sanitized.State.LockLease == 0 {
		sanitized.State.LockLease = defaults.State.LockLease
	}

	homeExpander := pathutils.NewHomeExpander()
	pathTargets := []struct {
		description  string
		value        *string
		defaultValue string
	}{
		{description: workdirDescriptionConstant, value: &sanitized.Workdir, defaultValue: defaults.Workdir},
		{description: cacheDirectoryDescriptionConstant, value: &sanitized.CacheDirectory, defaultValue: defaults.CacheDirectory},
		{description: stateDirectoryDescriptionConstant, value: &sanitized.State.Directory, defaultValue: defaults.State.Directory},
	}
	for _, target := range pathTargets {
		candidate := strings.TrimSpace(*target.value)
		if len(candidate) == 0 {
			candidate = target.defaultValue
		}
		resolved, resolveError := homeExpander.Resolve(candidate, "")
		if resolveError != nil {
			return CommandConfiguration{}, fmt.Errorf(resolvePathErrorTemplateConstant, target.description, candidate, resolveError)
		}
		*target.value = resolved
	}
	sanitized.HomeDirectory = strings.TrimSpace(configuration.HomeDirectory)
	if len(sanitized.HomeDirectory) > 0 {
		resolvedHome, homeError := homeExpander.Resolve(sanitized.HomeDirectory, "")
		if homeError != nil {
			return CommandConfiguration{}, fmt.Errorf(resolvePathErrorTemplateConstant, homeDirectoryDescriptionConstant, sanitized.HomeDirectory, homeError)
		}
		sanitized.HomeDirectory = resolvedHome
	}
	return sanitized, nil
}

// StoreConfiguration converts the state section into the store opener's configuration.
func (configuration CommandConfiguration) StoreConfiguration() state.Configuration {
	return state.Configuration{
		Backend:     state.Backend(configuration.State.Backend),
		Directory:   configuration.State.Directory,
		DSN:         configuration.State.DSN,
		S3:          configuration.State.S3,
		LockTimeout: configuration.State.LockTimeout,
		LockLease:   configuration.State.LockLease,
	}
}
