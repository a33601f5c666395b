package console_test

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/carbon/internal/console"
	"github.com/temirov/carbon/internal/execshell"
)

func TestCommandEventReporterRoutesByOutcome(testInstance *testing.T) {
	pushCommand := execshell.ShellCommand{
		Name: execshell.CommandGit,
		Details: execshell.CommandDetails{
			Arguments: []string{"--git-dir=/cache/destination", "push", "https://example.com/destination.git", "abc:refs/heads/main"},
		},
	}

	testCases := []struct {
		name           string
		report         func(reporter *console.CommandEventReporter)
		expectedLevel  console.Level
		expectedPrefix string
	}{
		{
			name:           "started",
			report:         func(reporter *console.CommandEventReporter) { reporter.CommandStarted(pushCommand) },
			expectedLevel:  console.LevelProgress,
			expectedPrefix: "Pushing https://example.com/destination.git",
		},
		{
			name: "completed",
			report: func(reporter *console.CommandEventReporter) {
				reporter.CommandCompleted(pushCommand, execshell.ExecutionResult{})
			},
			expectedLevel:  console.LevelProgress,
			expectedPrefix: "Pushed https://example.com/destination.git",
		},
		{
			name: "non_zero_exit",
			report: func(reporter *console.CommandEventReporter) {
				reporter.CommandCompleted(pushCommand, execshell.ExecutionResult{ExitCode: 1, StandardError: "rejected"})
			},
			expectedLevel:  console.LevelWarn,
			expectedPrefix: "Failed to push https://example.com/destination.git",
		},
		{
			name: "execution_failure",
			report: func(reporter *console.CommandEventReporter) {
				reporter.CommandExecutionFailed(pushCommand, errors.New("killed"))
			},
			expectedLevel:  console.LevelError,
			expectedPrefix: "Unable to push https://example.com/destination.git",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			recordingConsole := &console.RecordingConsole{}
			testCase.report(console.NewCommandEventReporter(recordingConsole))

			entries := recordingConsole.Entries()
			require.Len(testInstance, entries, 1)
			require.Equal(testInstance, testCase.expectedLevel, entries[0].Level)
			require.Contains(testInstance, entries[0].Message, testCase.expectedPrefix)
		})
	}
}

func TestWriterConsoleHonoursVerbosity(testInstance *testing.T) {
	testCases := []struct {
		name           string
		verbose        bool
		expectedOutput string
	}{
		{
			name:           "quiet",
			verbose:        false,
			expectedOutput: "migrated r1\nWARNING: drift\nERROR: failed\n",
		},
		{
			name:           "verbose",
			verbose:        true,
			expectedOutput: "resolving\nmigrated r1\nWARNING: drift\nERROR: failed\n",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			outputBuffer := &bytes.Buffer{}
			writerConsole := console.NewWriterConsole(outputBuffer, testCase.verbose)
			writerConsole.Progress("resolving")
			writerConsole.Info("migrated r1")
			writerConsole.Warn("drift")
			writerConsole.Error("failed")
			require.Equal(testInstance, testCase.expectedOutput, outputBuffer.String())
		})
	}
}

func TestWriterConsoleFlushesBufferedWriters(testInstance *testing.T) {
	outputBuffer := &bytes.Buffer{}
	bufferedWriter := bufio.NewWriterSize(outputBuffer, 4096)
	writerConsole := console.NewWriterConsole(bufferedWriter, false)

	writerConsole.Info("committed r2")
	require.Equal(testInstance, "committed r2\n", outputBuffer.String())
}

func TestZapConsoleMapsLevels(testInstance *testing.T) {
	observerCore, observedLogs := observer.New(zap.DebugLevel)
	zapConsole := console.NewZapConsole(zap.New(observerCore))

	zapConsole.Progress("resolving")
	zapConsole.Info("migrated")
	zapConsole.Warn("drift")
	zapConsole.Error("failed")

	entries := observedLogs.All()
	require.Len(testInstance, entries, 4)
	require.Equal(testInstance, zapcore.DebugLevel, entries[0].Level)
	require.Equal(testInstance, zapcore.InfoLevel, entries[1].Level)
	require.Equal(testInstance, zapcore.WarnLevel, entries[2].Level)
	require.Equal(testInstance, zapcore.ErrorLevel, entries[3].Level)
	require.Equal(testInstance, "failed", entries[3].Message)
}

func TestRecordingConsoleFiltersByLevel(testInstance *testing.T) {
	recordingConsole := &console.RecordingConsole{}
	recordingConsole.Info("first")
	recordingConsole.Warn("second")
	recordingConsole.Info("third")

	require.Equal(testInstance, []string{"first", "third"}, recordingConsole.Messages(console.LevelInfo))
	require.Equal(testInstance, []string{"second"}, recordingConsole.Messages(console.LevelWarn))
	require.Empty(testInstance, recordingConsole.Messages(console.LevelError))
}
