package workflow

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	stateCommandUseConstant                  = "state"
	stateCommandShortDescriptionConstant     = "Inspect recorded migration state"
	stateShowCommandUseConstant              = "show <workflow-file> <workflow>"
	stateShowCommandShortDescriptionConstant = "Print the last migrated origin reference of a workflow"
	stateShowCommandLongDescriptionConstant  = "show prints the migration state record kept for a workflow's origin and destination pair."
	stateKeyLineTemplateConstant             = "workflow:    %s\norigin:      %s\ndestination: %s\n"
	stateRecordLineTemplateConstant          = "reference:   %s\nupdated:     %s (%s)\n"
	stateMissingLineConstant                 = "reference:   (nothing migrated yet)\n"
	stateLookupErrorTemplateConstant         = "unable to load workflow %s: %w"
	stateLoadErrorTemplateConstant           = "unable to read migration state for %s: %w"
)

// StateCommandBuilder assembles the state command group.
type StateCommandBuilder struct {
	Dependencies CommandDependencies
}

// Build constructs the state command and its show subcommand.
func (builder *StateCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   stateCommandUseConstant,
		Short: stateCommandShortDescriptionConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			return displayCommandHelp(command)
		},
	}

	showCommand := &cobra.Command{
		Use:   stateShowCommandUseConstant,
		Short: stateShowCommandShortDescriptionConstant,
		Long:  stateShowCommandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(2),
		RunE:  builder.show,
	}
	bindStateBackendFlag(showCommand)
	command.AddCommand(showCommand)

	return command, nil
}

func (builder *StateCommandBuilder) show(command *cobra.Command, arguments []string) (runError error) {
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

	definition, lookupError := runtime.catalog.Workflow(workflowName)
	if lookupError != nil {
		return fmt.Errorf(stateLookupErrorTemplateConstant, workflowName, lookupError)
	}

	key := definition.StateKey()
	record, found, loadError := runtime.store.Load(command.Context(), key)
	if loadError != nil {
		return fmt.Errorf(stateLoadErrorTemplateConstant, key.String(), loadError)
	}

	output := command.OutOrStdout()
	fmt.Fprintf(output, stateKeyLineTemplateConstant, key.Workflow, key.Origin, key.Destination)
	if !found {
		fmt.Fprint(output, stateMissingLineConstant)
		return nil
	}
	fmt.Fprintf(output, stateRecordLineTemplateConstant, record.Reference, record.UpdatedAt.Format(time.RFC3339), humanize.Time(record.UpdatedAt))
	return nil
}
