package workflow

import (
	"github.com/spf13/cobra"

	"github.com/temirov/carbon/internal/migration"
)

const (
	validateCommandUseConstant              = "validate <workflow-file> <workflow>"
	validateCommandShortDescriptionConstant = "Validate a workflow without migrating"
	validateCommandLongDescriptionConstant  = "validate checks a workflow definition and, for stateful modes, compares the recorded migration state with the destination. The origin is not contacted and the destination is not modified."
)

// ValidateCommandBuilder assembles the validate command.
type ValidateCommandBuilder struct {
	Dependencies CommandDependencies
}

// Build constructs the validate command.
func (builder *ValidateCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   validateCommandUseConstant,
		Short: validateCommandShortDescriptionConstant,
		Long:  validateCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(2),
		RunE:  builder.run,
	}
	command.Flags().String(lastRevisionFlagNameConstant, "", lastRevisionFlagUsageConstant)
	bindStateBackendFlag(command)
	return command, nil
}

func (builder *ValidateCommandBuilder) run(command *cobra.Command, arguments []string) (runError error) {
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

	options := migration.RunOptions{ValidateOnly: true}
	options.LastRevision, _ = command.Flags().GetString(lastRevisionFlagNameConstant)

	_, validationError := runtime.engine.ValidateWorkflow(command.Context(), options, runtime.catalog, workflowName)
	return validationError
}
