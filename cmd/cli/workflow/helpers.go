package workflow

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/console"
	"github.com/temirov/carbon/internal/migration"
	"github.com/temirov/carbon/internal/state"
	"github.com/temirov/carbon/internal/transform"
	flagutils "github.com/temirov/carbon/internal/utils/flags"
	"github.com/temirov/carbon/internal/workflow"
)

const (
	workflowFileRequiredMessageConstant    = "workflow file required"
	workflowNameRequiredTemplateConstant   = "workflow name required; %s declares: %s"
	workflowNamesSeparatorConstant         = ", "
	loadConfigurationErrorTemplateConstant = "unable to load workflow file: %w"
	configurationErrorTemplateConstant     = "invalid migration configuration: %w"
	openStateErrorTemplateConstant         = "unable to open migration state: %w"
	engineErrorTemplateConstant            = "unable to construct migration engine: %w"
	closeStateErrorTemplateConstant        = "unable to close migration state: %w"
	workflowFileFieldConstant              = "workflow_file"
	stateBackendFieldConstant              = "state_backend"
	runtimeReadyMessageConstant            = "Migration runtime prepared"
	stateBackendFlagNameConstant           = "state-backend"
	stateBackendFlagUsageConstant          = "Migration state backend (overrides migration.state.backend)"
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// CommandDependencies carries the application services shared by the migration commands.
type CommandDependencies struct {
	LoggerProvider               LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        func() CommandConfiguration
	Clock                        clock.Clock
}

// commandRuntime is everything one command invocation needs to talk to the engine.
type commandRuntime struct {
	logger        *zap.Logger
	console       console.Console
	configuration CommandConfiguration
	workflows     workflow.Configuration
	catalog       *workflow.Catalog
	store         state.Store
	engine        *migration.Engine
}

func (dependencies CommandDependencies) openRuntime(command *cobra.Command, workflowFilePath string) (*commandRuntime, error) {
	requestedConfiguration := dependencies.resolveConfiguration()
	if command.Flags().Changed(stateBackendFlagNameConstant) {
		flagValue, _ := command.Flags().GetString(stateBackendFlagNameConstant)
		normalizedBackend, choiceError := flagutils.NormalizeChoice(stateBackendFlagNameConstant, flagValue, StateBackendNames())
		if choiceError != nil {
			return nil, choiceError
		}
		requestedConfiguration.State.Backend = normalizedBackend
	}
	configuration, configurationError := requestedConfiguration.Sanitize()
	if configurationError != nil {
		return nil, fmt.Errorf(configurationErrorTemplateConstant, configurationError)
	}

	workflowConfiguration, loadError := workflow.LoadConfiguration(workflowFilePath)
	if loadError != nil {
		return nil, fmt.Errorf(loadConfigurationErrorTemplateConstant, loadError)
	}

	logger := resolveLogger(dependencies.LoggerProvider)
	wallClock := dependencies.Clock
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	commandConsole := dependencies.resolveConsole(command, logger)

	builder := workflow.Builder{
		Transformations: transform.NewRegistry(),
		Backends:        workflow.NewDefaultBackendRegistry(),
		Environment: backend.Environment{
			Logger:          logger,
			Clock:           wallClock,
			CacheDirectory:  configuration.CacheDirectory,
			HomeDirectory:   configuration.HomeDirectory,
			BaseDirectory:   workflowBaseDirectory(workflowFilePath),
			PushAttempts:    configuration.PushAttempts,
			CommandObserver: console.NewCommandEventReporter(commandConsole),
		},
	}

	store, storeError := state.Open(command.Context(), configuration.StoreConfiguration(), wallClock, logger)
	if storeError != nil {
		return nil, fmt.Errorf(openStateErrorTemplateConstant, storeError)
	}

	engine, engineError := migration.NewEngine(migration.Dependencies{
		Logger:     logger,
		Console:    commandConsole,
		StateStore: store,
		Clock:      wallClock,
	})
	if engineError != nil {
		return nil, errors.Join(fmt.Errorf(engineErrorTemplateConstant, engineError), store.Close())
	}

	logger.Debug(runtimeReadyMessageConstant,
		zap.String(workflowFileFieldConstant, workflowFilePath),
		zap.String(stateBackendFieldConstant, configuration.State.Backend),
	)

	return &commandRuntime{
		logger:        logger,
		console:       commandConsole,
		configuration: configuration,
		workflows:     workflowConfiguration,
		catalog:       workflow.NewCatalog(workflowConfiguration, builder),
		store:         store,
		engine:        engine,
	}, nil
}

// requireWorkflowName reports the declared workflows when the name argument is missing.
func (runtime *commandRuntime) requireWorkflowName(workflowFilePath string, arguments []string, position int) (string, error) {
	if len(arguments) > position {
		if workflowName := strings.TrimSpace(arguments[position]); len(workflowName) > 0 {
			return workflowName, nil
		}
	}
	return "", fmt.Errorf(workflowNameRequiredTemplateConstant, workflowFilePath, strings.Join(runtime.workflows.WorkflowNames(), workflowNamesSeparatorConstant))
}

func (runtime *commandRuntime) close(previousError error) error {
	if closeError := runtime.store.Close(); closeError != nil {
		return errors.Join(previousError, fmt.Errorf(closeStateErrorTemplateConstant, closeError))
	}
	return previousError
}

func (dependencies CommandDependencies) resolveConfiguration() CommandConfiguration {
	if dependencies.ConfigurationProvider == nil {
		return DefaultCommandConfiguration()
	}
	return dependencies.ConfigurationProvider()
}

// resolveConsole prints plain lines to standard output in console log format and routes
// messages through the logger otherwise.
func (dependencies CommandDependencies) resolveConsole(command *cobra.Command, logger *zap.Logger) console.Console {
	humanReadable := dependencies.HumanReadableLoggingProvider != nil && dependencies.HumanReadableLoggingProvider()
	if !humanReadable {
		return console.NewZapConsole(logger)
	}
	return console.NewWriterConsole(command.OutOrStdout(), logger.Core().Enabled(zapcore.DebugLevel))
}

func bindStateBackendFlag(command *cobra.Command) {
	usage := flagutils.FormatChoiceUsage(defaultStateBackendConstant, StateBackendNames(), stateBackendFlagUsageConstant)
	command.Flags().String(stateBackendFlagNameConstant, "", usage)
}

func workflowFilePathArgument(command *cobra.Command, arguments []string) (string, error) {
	if len(arguments) == 0 || len(strings.TrimSpace(arguments[0])) == 0 {
		if helpError := displayCommandHelp(command); helpError != nil {
			return "", helpError
		}
		return "", errors.New(workflowFileRequiredMessageConstant)
	}
	return strings.TrimSpace(arguments[0]), nil
}

func workflowBaseDirectory(workflowFilePath string) string {
	absolutePath, absoluteError := filepath.Abs(workflowFilePath)
	if absoluteError != nil {
		return filepath.Dir(workflowFilePath)
	}
	return filepath.Dir(absolutePath)
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func displayCommandHelp(command *cobra.Command) error {
	if command == nil {
		return nil
	}
	return command.Help()
}
