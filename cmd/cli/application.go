package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	workflowcmd "github.com/temirov/carbon/cmd/cli/workflow"
	"github.com/temirov/carbon/internal/utils"
	flagutils "github.com/temirov/carbon/internal/utils/flags"
	pathutils "github.com/temirov/carbon/internal/utils/path"
)

const (
	applicationNameConstant                 = "carbon"
	applicationShortDescriptionConstant     = "Declarative code migration between repositories"
	applicationLongDescriptionConstant      = "carbon moves changes from an origin repository to a destination repository through a pipeline of file transformations, keeping a durable record of what was migrated."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format."
	envFileFlagNameConstant                 = "env-file"
	envFileFlagUsageConstant                = "Environment file loaded before reading CARBON_* variables."
	versionFlagNameConstant                 = "version"
	versionFlagUsageConstant                = "Print the carbon version and exit."
	environmentPrefixConstant               = "CARBON"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationDirectoryNameConstant      = "carbon"
	defaultConfigurationSearchPathConstant  = "."
	defaultEnvironmentFileConstant          = ".env"
	configurationHomeEnvironmentConstant    = "XDG_CONFIG_HOME"
	defaultConfigurationHomeConstant        = "~/.config"
	migrationConfigurationKeyConstant       = "migration"
	commonLogLevelConfigKeyConstant         = "common.log_level"
	commonLogFormatConfigKeyConstant        = "common.log_format"
	commonEnvFileConfigKeyConstant          = "common.env_file"
	commonHomeDirectoryConfigKeyConstant    = "common.home_directory"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	environmentFileFieldConstant            = "env_file"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	rootCommandInfoMessageConstant          = "carbon CLI executed"
	rootCommandDebugMessageConstant         = "carbon CLI diagnostics"
	logFieldCommandNameConstant             = "command_name"
	logFieldArgumentCountConstant           = "argument_count"
	logFieldArgumentsConstant               = "arguments"
	loggerNotInitializedMessageConstant     = "logger not initialized"
)

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common    ApplicationCommonConfiguration   `mapstructure:"common"`
	Migration workflowcmd.CommandConfiguration `mapstructure:"migration"`
}

// ApplicationCommonConfiguration stores settings shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	EnvFile       string `mapstructure:"env_file"`
	HomeDirectory string `mapstructure:"home_directory"`
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	configuration         ApplicationConfiguration
	configurationMetadata utils.LoadedConfiguration
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
	envFileFlagValue      string
	versionFlagValue      bool
	versionResolver       VersionResolver
	exitFunction          func(int)
	versionOutput         io.Writer
	arguments             func() []string
	executionContext      func() (context.Context, context.CancelFunc)
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		configurationSearchPaths(),
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())

	application := &Application{
		configurationLoader: configurationLoader,
		loggerFactory:       utils.NewLoggerFactory(),
		logger:              zap.NewNop(),
		versionResolver:     resolveBuildVersion,
		exitFunction:        os.Exit,
		versionOutput:       os.Stdout,
		arguments: func() []string {
			return os.Args[1:]
		},
		executionContext: notifyShutdownSignals,
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRootCommand(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	persistentFlags := cobraCommand.PersistentFlags()
	persistentFlags.StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	persistentFlags.StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", flagutils.FormatChoiceUsage(string(utils.LogLevelInfo), utils.LogLevelNames(), logLevelFlagUsageConstant))
	persistentFlags.StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", flagutils.FormatChoiceUsage(string(utils.LogFormatConsole), utils.LogFormatNames(), logFormatFlagUsageConstant))
	persistentFlags.StringVar(&application.envFileFlagValue, envFileFlagNameConstant, "", envFileFlagUsageConstant)
	cobraCommand.Flags().BoolVar(&application.versionFlagValue, versionFlagNameConstant, false, versionFlagUsageConstant)

	commandDependencies := workflowcmd.CommandDependencies{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		HumanReadableLoggingProvider: application.humanReadableLoggingEnabled,
		ConfigurationProvider:        application.migrationConfiguration,
	}

	migrateBuilder := workflowcmd.MigrateCommandBuilder{Dependencies: commandDependencies}
	migrateCommand, migrateBuildError := migrateBuilder.Build()
	if migrateBuildError == nil {
		cobraCommand.AddCommand(migrateCommand)
	}

	validateBuilder := workflowcmd.ValidateCommandBuilder{Dependencies: commandDependencies}
	validateCommand, validateBuildError := validateBuilder.Build()
	if validateBuildError == nil {
		cobraCommand.AddCommand(validateCommand)
	}

	stateBuilder := workflowcmd.StateCommandBuilder{Dependencies: commandDependencies}
	stateCommand, stateBuildError := stateBuilder.Build()
	if stateBuildError == nil {
		cobraCommand.AddCommand(stateCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionContext, stopSignals := application.executionContext()
	defer stopSignals()
	application.rootCommand.SetArgs(flagutils.NormalizeToggleArguments(application.arguments()))
	executionError := application.rootCommand.ExecuteContext(executionContext)
	if syncError := application.flushLogger(); syncError != nil {
		return errors.Join(executionError, fmt.Errorf(loggerSyncErrorTemplateConstant, syncError))
	}
	return executionError
}

// notifyShutdownSignals returns a context canceled by an interrupt or a termination request, so runs stop between
// commits and release their locks instead of dying mid-write.
func notifyShutdownSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:      string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant:     string(utils.LogFormatConsole),
		commonEnvFileConfigKeyConstant:       defaultEnvironmentFileConstant,
		commonHomeDirectoryConfigKeyConstant: "",
	}
	for configurationKey, configurationValue := range workflowcmd.DefaultConfigurationValues(migrationConfigurationKeyConstant) {
		defaultValues[configurationKey] = configurationValue
	}

	environmentFile := defaultEnvironmentFileConstant
	if application.persistentFlagChanged(command, envFileFlagNameConstant) {
		environmentFile = application.envFileFlagValue
	}
	application.configurationLoader.SetEnvironmentFiles(environmentFile)

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	// A configuration file may name its own environment file; reload so its values are visible.
	configuredEnvironmentFile := strings.TrimSpace(application.configuration.Common.EnvFile)
	if !application.persistentFlagChanged(command, envFileFlagNameConstant) && len(configuredEnvironmentFile) > 0 && configuredEnvironmentFile != environmentFile {
		environmentFile = configuredEnvironmentFile
		application.configurationLoader.SetEnvironmentFiles(environmentFile)
		loadedConfiguration, loadError = application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
		if loadError != nil {
			return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
		}
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}

	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger

	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
		zap.String(environmentFileFieldConstant, environmentFile),
	)

	return nil
}

func (application *Application) migrationConfiguration() workflowcmd.CommandConfiguration {
	migrationConfiguration := application.configuration.Migration
	migrationConfiguration.HomeDirectory = application.configuration.Common.HomeDirectory
	return migrationConfiguration
}

func (application *Application) humanReadableLoggingEnabled() bool {
	logFormatValue := strings.TrimSpace(application.configuration.Common.LogFormat)
	return strings.EqualFold(logFormatValue, string(utils.LogFormatConsole))
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if application.versionFlagValue {
		application.printVersion(command.Context(), application.versionOutput)
		application.exitFunction(0)
		return nil
	}

	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	application.logger.Info(
		rootCommandInfoMessageConstant,
		zap.String(logFieldCommandNameConstant, command.Name()),
		zap.Int(logFieldArgumentCountConstant, len(arguments)),
	)

	application.logger.Debug(
		rootCommandDebugMessageConstant,
		zap.Strings(logFieldArgumentsConstant, arguments),
	)

	return command.Help()
}

func (application *Application) printVersion(executionContext context.Context, output io.Writer) {
	resolver := application.versionResolver
	if resolver == nil {
		resolver = resolveBuildVersion
	}
	fmt.Fprintf(output, versionOutputTemplateConstant, applicationNameConstant, resolver(executionContext))
}

func (application *Application) flushLogger() error {
	return application.syncLoggerInstance(application.logger)
}

func (application *Application) syncLoggerInstance(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}

	syncError := logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	case errors.Is(syncError, syscall.ENOTTY):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}

func configurationSearchPaths() []string {
	searchPaths := []string{defaultConfigurationSearchPathConstant}
	configurationDirectory := strings.TrimSpace(os.Getenv(configurationHomeEnvironmentConstant))
	if len(configurationDirectory) == 0 {
		configurationDirectory = pathutils.NewHomeExpander().Expand(defaultConfigurationHomeConstant)
	}
	if len(configurationDirectory) > 0 && configurationDirectory != defaultConfigurationHomeConstant {
		searchPaths = append(searchPaths, filepath.Join(configurationDirectory, configurationDirectoryNameConstant))
	}
	return searchPaths
}
