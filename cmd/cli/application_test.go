package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/temirov/carbon/internal/utils"
)

const (
	testConfigurationTemplate = `common:
  log_level: error
  log_format: console
  home_directory: %[1]s/home
migration:
  workdir: %[1]s/work
  cache_directory: %[1]s/cache
  push_attempts: 1
  state:
    backend: file
    directory: %[1]s/state
`
	testFolderWorkflowContent = `workflows:
  - name: export
    mode: snapshot
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
    transformations:
      - {type: replace, with: {before: internal, after: public}}
  - name: broken
    mode: sideways
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
`
	testGitWorkflowTemplate = `workflows:
  - name: publish
    mode: iterative
    origin: {type: git, with: {url: %s, ref: main}}
    destination: {type: git, with: {url: %s, branch: main, committer: "Carbon Bot <bot@example.com>"}}
    transformations:
      - {type: replace, with: {before: internal, after: public}}
`
)

type applicationFixture struct {
	testInstance      *testing.T
	baseDirectory     string
	configurationPath string
}

func newApplicationFixture(testInstance *testing.T) applicationFixture {
	testInstance.Helper()
	baseDirectory := testInstance.TempDir()
	testInstance.Setenv("HOME", filepath.Join(baseDirectory, "home"))
	testInstance.Setenv("XDG_CONFIG_HOME", filepath.Join(baseDirectory, "xdg"))
	require.NoError(testInstance, os.MkdirAll(filepath.Join(baseDirectory, "home"), 0o755))

	configurationPath := filepath.Join(baseDirectory, "carbon.yaml")
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(fmt.Sprintf(testConfigurationTemplate, baseDirectory)), 0o644))
	return applicationFixture{testInstance: testInstance, baseDirectory: baseDirectory, configurationPath: configurationPath}
}

func (fixture applicationFixture) execute(arguments ...string) (string, error) {
	application := NewApplication()
	output := &bytes.Buffer{}
	application.rootCommand.SetOut(output)
	application.rootCommand.SetErr(output)
	application.arguments = func() []string {
		return append([]string{"--config", fixture.configurationPath}, arguments...)
	}
	executionError := application.Execute()
	return output.String(), executionError
}

func (fixture applicationFixture) writeFile(relativePath string, content string) string {
	fixture.testInstance.Helper()
	absolutePath := filepath.Join(fixture.baseDirectory, filepath.FromSlash(relativePath))
	require.NoError(fixture.testInstance, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
	require.NoError(fixture.testInstance, os.WriteFile(absolutePath, []byte(content), 0o644))
	return absolutePath
}

func TestEmbeddedDefaultConfigurationDecodes(testInstance *testing.T) {
	configurationData, configurationType := EmbeddedDefaultConfiguration()
	viperInstance := viper.New()
	viperInstance.SetConfigType(configurationType)
	require.NoError(testInstance, viperInstance.ReadConfig(bytes.NewReader(configurationData)))

	var configuration ApplicationConfiguration
	require.NoError(testInstance, viperInstance.Unmarshal(&configuration))

	require.Equal(testInstance, string(utils.LogLevelInfo), configuration.Common.LogLevel)
	require.Equal(testInstance, string(utils.LogFormatConsole), configuration.Common.LogFormat)
	require.Equal(testInstance, ".env", configuration.Common.EnvFile)
	require.Equal(testInstance, "file", configuration.Migration.State.Backend)
	require.Equal(testInstance, 30*time.Second, configuration.Migration.State.LockTimeout)
	require.Equal(testInstance, 2*time.Minute, configuration.Migration.State.LockLease)
	require.False(testInstance, configuration.Migration.RecycleWorkdirs)
	require.Equal(testInstance, 3, configuration.Migration.PushAttempts)
	require.True(testInstance, configuration.Migration.State.S3.UseSSL)
	require.Equal(testInstance, "carbon/state", configuration.Migration.State.S3.Prefix)
}

func TestApplicationMigratesFolderWorkflow(testInstance *testing.T) {
	fixture := newApplicationFixture(testInstance)
	fixture.writeFile("source/notes.txt", "internal notes\n")
	workflowPath := fixture.writeFile("workflows.yaml", testFolderWorkflowContent)

	output, executionError := fixture.execute("migrate", workflowPath, "export")
	require.NoError(testInstance, executionError, output)
	require.Contains(testInstance, output, "Migrated")

	exported, readError := os.ReadFile(filepath.Join(fixture.baseDirectory, "exported", "notes.txt"))
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "public notes\n", string(exported))

	stateOutput, stateError := fixture.execute("state", "show", workflowPath, "export")
	require.NoError(testInstance, stateError)
	require.Contains(testInstance, stateOutput, "workflow:    export")
	require.Contains(testInstance, stateOutput, "(nothing migrated yet)")
}

func TestApplicationReportsCommandProblems(testInstance *testing.T) {
	fixture := newApplicationFixture(testInstance)
	fixture.writeFile("source/notes.txt", "internal notes\n")
	workflowPath := fixture.writeFile("workflows.yaml", testFolderWorkflowContent)

	testCases := []struct {
		name            string
		arguments       []string
		expectedMessage string
	}{
		{
			name:            "missing_workflow_name_lists_declared",
			arguments:       []string{"migrate", workflowPath},
			expectedMessage: "declares: export, broken",
		},
		{
			name:            "unknown_workflow",
			arguments:       []string{"validate", workflowPath, "absent"},
			expectedMessage: "absent",
		},
		{
			name:            "invalid_mode_reported_by_validation",
			arguments:       []string{"validate", workflowPath, "broken"},
			expectedMessage: "SIDEWAYS",
		},
		{
			name:            "missing_workflow_file",
			arguments:       []string{"migrate", filepath.Join(fixture.baseDirectory, "absent.yaml"), "export"},
			expectedMessage: "unable to load workflow file",
		},
		{
			name:            "unknown_state_backend",
			arguments:       []string{"validate", workflowPath, "export", "--state-backend", "redis"},
			expectedMessage: "--state-backend",
		},
		{
			name:            "unknown_log_level",
			arguments:       []string{"--log-level", "chatty", "validate", workflowPath, "export"},
			expectedMessage: "unsupported log level",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			_, executionError := fixture.execute(testCase.arguments...)
			require.Error(testInstance, executionError)
			require.ErrorContains(testInstance, executionError, testCase.expectedMessage)
		})
	}
}

func TestApplicationValidatesWorkflow(testInstance *testing.T) {
	fixture := newApplicationFixture(testInstance)
	fixture.writeFile("source/notes.txt", "internal notes\n")
	workflowPath := fixture.writeFile("workflows.yaml", testFolderWorkflowContent)

	output, executionError := fixture.execute("validate", workflowPath, "export")
	require.NoError(testInstance, executionError)
	require.Contains(testInstance, output, "Workflow export is valid")
	_, statError := os.Stat(filepath.Join(fixture.baseDirectory, "exported"))
	require.ErrorIs(testInstance, statError, os.ErrNotExist)
}

func TestApplicationMigratesGitWorkflowAndRecordsState(testInstance *testing.T) {
	if _, lookupError := exec.LookPath("git"); lookupError != nil {
		testInstance.Skip("git executable not available")
	}
	fixture := newApplicationFixture(testInstance)
	homeDirectory := filepath.Join(fixture.baseDirectory, "home")

	runGit := func(workingDirectory string, arguments ...string) string {
		command := exec.Command("git", arguments...)
		command.Dir = workingDirectory
		command.Env = append(os.Environ(),
			"HOME="+homeDirectory,
			"GIT_CONFIG_NOSYSTEM=1",
			"GIT_AUTHOR_NAME=Origin Author",
			"GIT_AUTHOR_EMAIL=author@example.com",
			"GIT_COMMITTER_NAME=Origin Author",
			"GIT_COMMITTER_EMAIL=author@example.com",
		)
		commandOutput, runError := command.CombinedOutput()
		require.NoError(testInstance, runError, string(commandOutput))
		return strings.TrimSpace(string(commandOutput))
	}

	originDirectory := filepath.Join(fixture.baseDirectory, "origin")
	destinationDirectory := filepath.Join(fixture.baseDirectory, "destination.git")
	require.NoError(testInstance, os.MkdirAll(originDirectory, 0o755))
	require.NoError(testInstance, os.MkdirAll(destinationDirectory, 0o755))
	runGit(originDirectory, "init", "--quiet")
	runGit(originDirectory, "symbolic-ref", "HEAD", "refs/heads/main")
	runGit(destinationDirectory, "init", "--quiet", "--bare")

	fixture.writeFile("origin/README.md", "internal readme\n")
	runGit(originDirectory, "add", "--all")
	runGit(originDirectory, "commit", "--quiet", "-m", "first")
	fixture.writeFile("origin/CHANGES.md", "internal change\n")
	runGit(originDirectory, "add", "--all")
	runGit(originDirectory, "commit", "--quiet", "-m", "second")
	originTip := runGit(originDirectory, "rev-parse", "HEAD")

	workflowPath := fixture.writeFile("git.yaml", fmt.Sprintf(testGitWorkflowTemplate, originDirectory, destinationDirectory))

	output, executionError := fixture.execute("migrate", workflowPath, "publish")
	require.NoError(testInstance, executionError, output)
	require.Equal(testInstance, "2", runGit(destinationDirectory, "rev-list", "--count", "main"))
	require.Equal(testInstance, "public change", runGit(destinationDirectory, "show", "main:CHANGES.md"))

	stateOutput, stateError := fixture.execute("state", "show", workflowPath, "publish")
	require.NoError(testInstance, stateError)
	require.Contains(testInstance, stateOutput, "reference:   "+originTip)

	rerunOutput, rerunError := fixture.execute("migrate", workflowPath, "publish")
	require.NoError(testInstance, rerunError)
	require.Contains(testInstance, rerunOutput, "nothing to migrate")
	require.Equal(testInstance, "2", runGit(destinationDirectory, "rev-list", "--count", "main"))
}

func TestApplicationVersionFlagPrintsVersionAndExits(testInstance *testing.T) {
	newApplicationFixture(testInstance)
	application := NewApplication()
	application.versionResolver = func(_ context.Context) string {
		return "v2.0.0"
	}
	application.arguments = func() []string {
		return []string{"--version"}
	}

	output := &bytes.Buffer{}
	application.versionOutput = output

	exitCode := -1
	sentinel := "version-exit"
	application.exitFunction = func(code int) {
		exitCode = code
		panic(sentinel)
	}

	require.PanicsWithValue(testInstance, sentinel, func() {
		_ = application.Execute()
	})
	require.Equal(testInstance, "carbon version: v2.0.0\n", output.String())
	require.Equal(testInstance, 0, exitCode)
}

func TestShutdownSignalsCancelExecutionContext(testInstance *testing.T) {
	testCases := []struct {
		name   string
		signal syscall.Signal
	}{
		{name: "interrupt", signal: syscall.SIGINT},
		{name: "terminate", signal: syscall.SIGTERM},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			executionContext, stopSignals := notifyShutdownSignals()
			defer stopSignals()

			require.NoError(testInstance, syscall.Kill(syscall.Getpid(), testCase.signal))
			select {
			case <-executionContext.Done():
				require.ErrorIs(testInstance, executionContext.Err(), context.Canceled)
			case <-time.After(5 * time.Second):
				testInstance.Fatalf("signal %s did not cancel the execution context", testCase.signal)
			}
		})
	}
}

func TestApplicationStopsMigrationWhenCanceled(testInstance *testing.T) {
	fixture := newApplicationFixture(testInstance)
	fixture.writeFile("source/notes.txt", "internal notes\n")
	workflowPath := fixture.writeFile("workflows.yaml", testFolderWorkflowContent)

	application := NewApplication()
	output := &bytes.Buffer{}
	application.rootCommand.SetOut(output)
	application.rootCommand.SetErr(output)
	application.arguments = func() []string {
		return []string{"--config", fixture.configurationPath, "migrate", workflowPath, "export"}
	}
	application.executionContext = func() (context.Context, context.CancelFunc) {
		canceledContext, cancel := context.WithCancel(context.Background())
		cancel()
		return canceledContext, cancel
	}

	executionError := application.Execute()
	require.ErrorIs(testInstance, executionError, context.Canceled)
	_, statError := os.Stat(filepath.Join(fixture.baseDirectory, "exported", "notes.txt"))
	require.ErrorIs(testInstance, statError, os.ErrNotExist)
}
