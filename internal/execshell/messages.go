package execshell

import (
	"fmt"
	"strings"
)

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

const (
	genericStartTemplateConstant            = "Running %s"
	genericSuccessTemplateConstant          = "Completed %s"
	genericFailureTemplateConstant          = "%s failed with exit code %d%s"
	genericExecutionFailureTemplateConstant = "%s failed: %s"
	commandLabelTemplateConstant            = "%s %s"
	workingDirectorySuffixTemplateConstant  = " (in %s)"
	failureSuffixTemplateConstant           = " (exit code %d%s)"
	commandArgumentsJoinSeparatorConstant   = " "
	standardErrorSuffixTemplateConstant     = ": %s"
	unknownFailureMessageConstant           = "unknown error"
	emptyStringConstant                     = ""
	defaultWorkingDirectoryLabelConstant    = "current directory"
	fallbackUnknownValueLabelConstant       = "unknown"
	flagPrefixConstant                      = "-"
	flagValueSeparatorConstant              = "="
)

const (
	gitDirectoryFlagConstant       = "--git-dir"
	gitWorkTreeFlagConstant        = "--work-tree"
	gitChangeDirectoryFlagConstant = "-C"
	gitConfigFlagConstant          = "-c"
)

const (
	gitInitSubcommandNameConstant       = "init"
	gitCloneSubcommandNameConstant      = "clone"
	gitFetchSubcommandNameConstant      = "fetch"
	gitLSRemoteSubcommandNameConstant   = "ls-remote"
	gitLogSubcommandNameConstant        = "log"
	gitArchiveSubcommandNameConstant    = "archive"
	gitDiffSubcommandNameConstant       = "diff"
	gitAddSubcommandNameConstant        = "add"
	gitWriteTreeSubcommandNameConstant  = "write-tree"
	gitCommitTreeSubcommandNameConstant = "commit-tree"
	gitUpdateRefSubcommandNameConstant  = "update-ref"
	gitPushSubcommandNameConstant       = "push"
	gitRevParseSubcommandNameConstant   = "rev-parse"
)

// gitMessageTemplates holds the sentences for one git subcommand. Each template takes the
// subject followed by the location.
type gitMessageTemplates struct {
	start            string
	success          string
	failure          string
	executionFailure string
	subject          func(arguments []string) string
	subjectOptional  bool
}

var gitMessageCatalog = map[string]gitMessageTemplates{
	gitInitSubcommandNameConstant: {
		start:            "Initializing repository %s%s",
		success:          "Initialized repository %s%s",
		failure:          "Failed to initialize repository %s%s",
		executionFailure: "Unable to initialize repository %s%s",
		subject:          lastPositionalArgument,
	},
	gitCloneSubcommandNameConstant: {
		start:            "Cloning %s%s",
		success:          "Cloned %s%s",
		failure:          "Failed to clone %s%s",
		executionFailure: "Unable to clone %s%s",
		subject:          firstPositionalArgument,
	},
	gitFetchSubcommandNameConstant: {
		start:            "Fetching from %s%s",
		success:          "Fetched from %s%s",
		failure:          "Failed to fetch from %s%s",
		executionFailure: "Unable to fetch from %s%s",
		subject:          firstPositionalArgument,
	},
	gitLSRemoteSubcommandNameConstant: {
		start:            "Listing references of %s%s",
		success:          "Listed references of %s%s",
		failure:          "Failed to list references of %s%s",
		executionFailure: "Unable to list references of %s%s",
		subject:          firstPositionalArgument,
	},
	gitLogSubcommandNameConstant: {
		start:            "Reading history of %s%s",
		success:          "Read history of %s%s",
		failure:          "Failed to read history of %s%s",
		executionFailure: "Unable to read history of %s%s",
		subject:          firstPositionalArgument,
	},
	gitArchiveSubcommandNameConstant: {
		start:            "Exporting content of %s%s",
		success:          "Exported content of %s%s",
		failure:          "Failed to export content of %s%s",
		executionFailure: "Unable to export content of %s%s",
		subject:          firstPositionalArgument,
	},
	gitDiffSubcommandNameConstant: {
		start:            "Comparing %s%s",
		success:          "Compared %s%s",
		failure:          "Failed to compare %s%s",
		executionFailure: "Unable to compare %s%s",
		subject:          joinedPositionalArguments,
	},
	gitAddSubcommandNameConstant: {
		start:            "Staging %s%s",
		success:          "Staged %s%s",
		failure:          "Failed to stage %s%s",
		executionFailure: "Unable to stage %s%s",
		subject:          joinedPositionalArguments,
	},
	gitWriteTreeSubcommandNameConstant: {
		start:            "Writing tree object%s%s",
		success:          "Wrote tree object%s%s",
		failure:          "Failed to write tree object%s%s",
		executionFailure: "Unable to write tree object%s%s",
		subject:          func([]string) string { return emptyStringConstant },
		subjectOptional:  true,
	},
	gitCommitTreeSubcommandNameConstant: {
		start:            "Creating commit for tree %s%s",
		success:          "Created commit for tree %s%s",
		failure:          "Failed to create commit for tree %s%s",
		executionFailure: "Unable to create commit for tree %s%s",
		subject:          firstPositionalArgument,
	},
	gitUpdateRefSubcommandNameConstant: {
		start:            "Updating reference %s%s",
		success:          "Updated reference %s%s",
		failure:          "Failed to update reference %s%s",
		executionFailure: "Unable to update reference %s%s",
		subject:          firstPositionalArgument,
	},
	gitPushSubcommandNameConstant: {
		start:            "Pushing %s%s",
		success:          "Pushed %s%s",
		failure:          "Failed to push %s%s",
		executionFailure: "Unable to push %s%s",
		subject:          joinedPositionalArguments,
	},
	gitRevParseSubcommandNameConstant: {
		start:            "Resolving %s%s",
		success:          "Resolved %s%s",
		failure:          "Failed to resolve %s%s",
		executionFailure: "Unable to resolve %s%s",
		subject:          lastPositionalArgument,
	},
}

// CommandMessageFormatter builds human-readable messages for command lifecycle events.
type CommandMessageFormatter struct{}

// BuildStartedMessage formats the message describing a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageStart)
}

// BuildSuccessMessage formats the message describing a completed command with a zero exit code.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageSuccess)
}

// BuildFailureMessage formats the message describing a command that returned a non-zero exit code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// BuildExecutionFailureMessage formats the message describing an unexpected execution failure.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	return formatter.buildMessage(command, ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandMessageFormatter) buildMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	if command.Name != CommandGit {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	location, remainingArguments := splitGitGlobalOptions(command)
	if len(remainingArguments) == 0 {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}
	templates, known := gitMessageCatalog[strings.TrimSpace(remainingArguments[0])]
	if !known {
		return formatter.buildGenericMessage(command, result, failure, stage)
	}

	subject := templates.subject(remainingArguments[1:])
	if len(subject) == 0 && !templates.subjectOptional {
		subject = fallbackUnknownValueLabelConstant
	}
	locationSuffix := fmt.Sprintf(workingDirectorySuffixTemplateConstant, location)

	switch stage {
	case messageStageStart:
		return fmt.Sprintf(templates.start, subject, locationSuffix)
	case messageStageSuccess:
		return fmt.Sprintf(templates.success, subject, locationSuffix)
	case messageStageFailure:
		return fmt.Sprintf(templates.failure, subject, locationSuffix) + fmt.Sprintf(failureSuffixTemplateConstant, result.ExitCode, formatStandardErrorSuffix(result.StandardError))
	default:
		return fmt.Sprintf(templates.executionFailure, subject, locationSuffix) + fmt.Sprintf(standardErrorSuffixTemplateConstant, describeFailure(failure))
	}
}

func (formatter CommandMessageFormatter) buildGenericMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	label := strings.TrimSpace(fmt.Sprintf(commandLabelTemplateConstant, command.Name, strings.Join(command.Details.Arguments, commandArgumentsJoinSeparatorConstant)))
	if len(command.Details.WorkingDirectory) > 0 {
		label += fmt.Sprintf(workingDirectorySuffixTemplateConstant, command.Details.WorkingDirectory)
	}
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(genericStartTemplateConstant, label)
	case messageStageSuccess:
		return fmt.Sprintf(genericSuccessTemplateConstant, label)
	case messageStageFailure:
		return fmt.Sprintf(genericFailureTemplateConstant, label, result.ExitCode, formatStandardErrorSuffix(result.StandardError))
	default:
		return fmt.Sprintf(genericExecutionFailureTemplateConstant, label, describeFailure(failure))
	}
}

// splitGitGlobalOptions strips options that precede the subcommand and reports the repository
// location they point at, falling back to the working directory.
func splitGitGlobalOptions(command ShellCommand) (string, []string) {
	location := strings.TrimSpace(command.Details.WorkingDirectory)
	arguments := command.Details.Arguments
	index := 0
	for index < len(arguments) {
		argument := strings.TrimSpace(arguments[index])
		switch {
		case argument == gitChangeDirectoryFlagConstant || argument == gitConfigFlagConstant:
			if argument == gitChangeDirectoryFlagConstant && index+1 < len(arguments) {
				location = strings.TrimSpace(arguments[index+1])
			}
			index += 2
			continue
		case strings.HasPrefix(argument, gitDirectoryFlagConstant+flagValueSeparatorConstant):
			location = strings.TrimPrefix(argument, gitDirectoryFlagConstant+flagValueSeparatorConstant)
			index++
			continue
		case strings.HasPrefix(argument, gitWorkTreeFlagConstant+flagValueSeparatorConstant):
			index++
			continue
		}
		break
	}
	if len(location) == 0 {
		location = defaultWorkingDirectoryLabelConstant
	}
	return location, arguments[index:]
}

func positionalArguments(arguments []string) []string {
	positional := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		trimmed := strings.TrimSpace(argument)
		if len(trimmed) == 0 || strings.HasPrefix(trimmed, flagPrefixConstant) {
			continue
		}
		positional = append(positional, trimmed)
	}
	return positional
}

func firstPositionalArgument(arguments []string) string {
	positional := positionalArguments(arguments)
	if len(positional) == 0 {
		return emptyStringConstant
	}
	return positional[0]
}

func lastPositionalArgument(arguments []string) string {
	positional := positionalArguments(arguments)
	if len(positional) == 0 {
		return emptyStringConstant
	}
	return positional[len(positional)-1]
}

func joinedPositionalArguments(arguments []string) string {
	return strings.Join(positionalArguments(arguments), commandArgumentsJoinSeparatorConstant)
}

func formatStandardErrorSuffix(standardError string) string {
	trimmed := strings.TrimSpace(standardError)
	if len(trimmed) == 0 {
		return emptyStringConstant
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, trimmed)
}

func describeFailure(failure error) string {
	if failure == nil {
		return unknownFailureMessageConstant
	}
	return failure.Error()
}
