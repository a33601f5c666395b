package gitbackend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/execshell"
)

const (
	gitDirectoryFlagTemplateConstant = "--git-dir=%s"
	gitWorkTreeFlagTemplateConstant  = "--work-tree=%s"
	homeEnvironmentKeyConstant       = "HOME"
	terminalPromptEnvironmentKey     = "GIT_TERMINAL_PROMPT"
	terminalPromptDisabledConstant   = "0"
	cacheDirectoryNameConstant       = "carbon-cache"
	cacheDirectoryPermissions        = 0o755
	cacheEntryTemplateConstant       = "%s-%s"
	cacheDigestLengthConstant        = 16
	defaultNetworkAttemptsConstant   = 3
	defaultNetworkRetryDelayConstant = 2 * time.Second
	networkRetryLogMessageConstant   = "Retrying git network operation"
	attemptFieldConstant             = "attempt"
	cacheDirectoryErrorTemplate      = "unable to prepare git cache directory %s: %w"
)

// GitExecutor runs git commands.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// repository issues git commands against one local git directory.
type repository struct {
	executor     GitExecutor
	gitDirectory string
	environment  map[string]string
	logger       *zap.Logger
	clock        clock.Clock
	attempts     int
}

func newRepository(executor GitExecutor, gitDirectory string, homeDirectory string, logger *zap.Logger, wallClock clock.Clock, attempts int) *repository {
	environment := map[string]string{terminalPromptEnvironmentKey: terminalPromptDisabledConstant}
	if len(strings.TrimSpace(homeDirectory)) > 0 {
		environment[homeEnvironmentKeyConstant] = homeDirectory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	if attempts <= 0 {
		attempts = defaultNetworkAttemptsConstant
	}
	return &repository{executor: executor, gitDirectory: gitDirectory, environment: environment, logger: logger, clock: wallClock, attempts: attempts}
}

// exists reports whether the git directory has been created.
func (repository *repository) exists() bool {
	_, statError := os.Stat(filepath.Join(repository.gitDirectory, "HEAD"))
	return statError == nil
}

// run executes a git subcommand against the git directory.
func (repository *repository) run(executionContext context.Context, arguments ...string) (string, error) {
	return repository.runWith(executionContext, commandOptions{}, arguments...)
}

type commandOptions struct {
	workTree            string
	standardInput       []byte
	extraEnvironment    map[string]string
	withoutGitDirectory bool
	workingDirectory    string
}

func (repository *repository) runWith(executionContext context.Context, options commandOptions, arguments ...string) (string, error) {
	commandArguments := make([]string, 0, len(arguments)+2)
	if !options.withoutGitDirectory {
		commandArguments = append(commandArguments, fmt.Sprintf(gitDirectoryFlagTemplateConstant, repository.gitDirectory))
	}
	if len(options.workTree) > 0 {
		commandArguments = append(commandArguments, fmt.Sprintf(gitWorkTreeFlagTemplateConstant, options.workTree))
	}
	commandArguments = append(commandArguments, arguments...)

	environment := make(map[string]string, len(repository.environment)+len(options.extraEnvironment))
	for key, value := range repository.environment {
		environment[key] = value
	}
	for key, value := range options.extraEnvironment {
		environment[key] = value
	}

	result, executionError := repository.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:            commandArguments,
		WorkingDirectory:     options.workingDirectory,
		EnvironmentVariables: environment,
		StandardInput:        options.standardInput,
	})
	if executionError != nil {
		return "", executionError
	}
	return result.StandardOutput, nil
}

// runNetwork retries a network-bound git command. Failures that are not command exits are not retried.
func (repository *repository) runNetwork(executionContext context.Context, options commandOptions, arguments ...string) (string, error) {
	var output string
	callError := retry.Call(retry.CallArgs{
		Func: func() error {
			commandOutput, commandError := repository.runWith(executionContext, options, arguments...)
			if commandError != nil {
				return commandError
			}
			output = commandOutput
			return nil
		},
		IsFatalError: func(callError error) bool {
			var failedError execshell.CommandFailedError
			return !errors.As(callError, &failedError) || executionContext.Err() != nil
		},
		NotifyFunc: func(lastError error, attempt int) {
			repository.logger.Warn(networkRetryLogMessageConstant, zap.Int(attemptFieldConstant, attempt), zap.Error(lastError))
		},
		Attempts:    repository.attempts,
		Delay:       defaultNetworkRetryDelayConstant,
		BackoffFunc: retry.DoubleDelay,
		Clock:       repository.clock,
		Stop:        executionContext.Done(),
	})
	if callError != nil {
		if retry.IsAttemptsExceeded(callError) {
			return "", retry.LastError(callError)
		}
		if contextError := executionContext.Err(); contextError != nil {
			return "", contextError
		}
		return "", callError
	}
	return output, nil
}

// cacheEntry returns a stable directory for a remote under the cache directory.
func cacheEntry(cacheDirectory string, kind string, remoteIdentity string) (string, error) {
	if len(strings.TrimSpace(cacheDirectory)) == 0 {
		cacheDirectory = filepath.Join(os.TempDir(), cacheDirectoryNameConstant)
	}
	if creationError := os.MkdirAll(cacheDirectory, cacheDirectoryPermissions); creationError != nil {
		return "", fmt.Errorf(cacheDirectoryErrorTemplate, cacheDirectory, creationError)
	}
	digest := sha256.Sum256([]byte(remoteIdentity))
	return filepath.Join(cacheDirectory, fmt.Sprintf(cacheEntryTemplateConstant, kind, hex.EncodeToString(digest[:])[:cacheDigestLengthConstant])), nil
}
