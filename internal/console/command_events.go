package console

import (
	"github.com/temirov/carbon/internal/execshell"
)

// CommandEventReporter forwards shell command lifecycle events to a Console as readable messages.
type CommandEventReporter struct {
	console   Console
	formatter execshell.CommandMessageFormatter
}

// NewCommandEventReporter constructs a reporter writing to console.
func NewCommandEventReporter(console Console) *CommandEventReporter {
	if console == nil {
		console = NopConsole{}
	}
	return &CommandEventReporter{console: console, formatter: execshell.CommandMessageFormatter{}}
}

// CommandStarted reports that a command is about to run.
func (reporter *CommandEventReporter) CommandStarted(command execshell.ShellCommand) {
	if reporter == nil {
		return
	}
	reporter.console.Progress(reporter.formatter.BuildStartedMessage(command))
}

// CommandCompleted reports the command outcome. Non-zero exit codes are warnings.
func (reporter *CommandEventReporter) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	if reporter == nil {
		return
	}
	if result.ExitCode == 0 {
		reporter.console.Progress(reporter.formatter.BuildSuccessMessage(command))
		return
	}
	reporter.console.Warn(reporter.formatter.BuildFailureMessage(command, result))
}

// CommandExecutionFailed reports a command that could not be started.
func (reporter *CommandEventReporter) CommandExecutionFailed(command execshell.ShellCommand, failure error) {
	if reporter == nil {
		return
	}
	reporter.console.Error(reporter.formatter.BuildExecutionFailureMessage(command, failure))
}
