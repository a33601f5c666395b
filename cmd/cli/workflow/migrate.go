package workflow

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/migration"
	flagutils "github.com/temirov/carbon/internal/utils/flags"
)

const (
	migrateCommandUseConstant              = "migrate <workflow-file> <workflow> [source-ref]"
	migrateCommandShortDescriptionConstant = "Migrate origin changes into the destination"
	migrateCommandLongDescriptionConstant  = "migrate resolves the pending origin changes of a workflow, transforms them, and writes them to the destination. Without source-ref the origin's latest change is migrated."
	workdirFlagNameConstant                = "workdir"
	workdirFlagUsageConstant               = "Base directory for working trees (overrides migration.workdir)"
	lastRevisionFlagNameConstant           = "last-rev"
	lastRevisionFlagUsageConstant          = "Treat this origin reference as the last migrated one and skip the drift check"
	reuseBaselineFlagNameConstant          = "reuse-baseline"
	reuseBaselineFlagUsageConstant         = "Seed iterative working trees from a diff-updated baseline"
	keepWorkdirFlagNameConstant            = "keep-workdir"
	keepWorkdirFlagUsageConstant           = "Keep working trees after the run for inspection"
	migrationFinishedMessageConstant       = "Migration command finished"
	runIdentifierFieldConstant             = "run_id"
	finalStateFieldConstant                = "final_state"
	commitCountFieldConstant               = "commits"
	lastReferenceFieldConstant             = "last_reference"
)

// MigrateCommandBuilder assembles the migrate command.
type MigrateCommandBuilder struct {
	Dependencies CommandDependencies
}

// Build constructs the migrate command.
func (builder *MigrateCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   migrateCommandUseConstant,
		Short: migrateCommandShortDescriptionConstant,
		Long:  migrateCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(3),
		RunE:  builder.run,
	}

	command.Flags().String(workdirFlagNameConstant, "", workdirFlagUsageConstant)
	command.Flags().String(lastRevisionFlagNameConstant, "", lastRevisionFlagUsageConstant)
	flagutils.AddToggleFlag(command.Flags(), nil, reuseBaselineFlagNameConstant, false, reuseBaselineFlagUsageConstant)
	flagutils.AddToggleFlag(command.Flags(), nil, keepWorkdirFlagNameConstant, false, keepWorkdirFlagUsageConstant)
	bindStateBackendFlag(command)

	return command, nil
}

func (builder *MigrateCommandBuilder) run(command *cobra.Command, arguments []string) (runError error) {
	workflowFilePath, argumentError := workflowFilePathArgument(command, arguments)
	if argumentError != nil {
		return argumentError
	}

	runtime, runtimeError := builder.Dependencies.openRuntime(command, workflowFilePath)
	if runtimeError != nil {
		return runtimeError
	}
	defer func() {
		runError = runtime.close(runError)
	}()

	workflowName, nameError := runtime.requireWorkflowName(workflowFilePath, arguments, 1)
	if nameError != nil {
		return nameError
	}
	sourceReference := ""
	if len(arguments) > 2 {
		sourceReference = strings.TrimSpace(arguments[2])
	}

	options := migration.RunOptions{
		ReuseBaseline:   runtime.configuration.ReuseBaseline,
		KeepWorkdirs:    runtime.configuration.KeepWorkdirs,
		RecycleWorkdirs: runtime.configuration.RecycleWorkdirs,
	}
	if command.Flags().Changed(reuseBaselineFlagNameConstant) {
		options.ReuseBaseline, _ = command.Flags().GetBool(reuseBaselineFlagNameConstant)
	}
	if command.Flags().Changed(keepWorkdirFlagNameConstant) {
		options.KeepWorkdirs, _ = command.Flags().GetBool(keepWorkdirFlagNameConstant)
	}
	options.LastRevision, _ = command.Flags().GetString(lastRevisionFlagNameConstant)
	options.LastRevision = strings.TrimSpace(options.LastRevision)

	baseWorkdir := runtime.configuration.Workdir
	if command.Flags().Changed(workdirFlagNameConstant) {
		workdirValue, _ := command.Flags().GetString(workdirFlagNameConstant)
		if trimmed := strings.TrimSpace(workdirValue); len(trimmed) > 0 {
			baseWorkdir = trimmed
		}
	}

	result, migrateError := runtime.engine.RunWorkflow(command.Context(), options, runtime.catalog, workflowName, baseWorkdir, sourceReference)
	runtime.logger.Debug(migrationFinishedMessageConstant,
		zap.String(runIdentifierFieldConstant, result.RunID),
		zap.String(finalStateFieldConstant, string(result.FinalState)),
		zap.Int(commitCountFieldConstant, len(result.Commits)),
		zap.String(lastReferenceFieldConstant, result.LastReference),
	)
	return migrateError
}
