package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/console"
	"github.com/temirov/carbon/internal/migration"
	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
	"github.com/temirov/carbon/internal/state"
	"github.com/temirov/carbon/internal/workflow"
)

const catalogWorkflowConfiguration = `workflows:
  - name: export
    mode: snapshot
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
    transformations:
      - {type: replace, with: {before: internal, after: public, paths: ["**/*.txt"]}}
      - {type: move, with: {from: docs, to: documentation}}
  - name: bad_mode
    mode: sideways
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
  - name: whitelist_without_default
    mode: snapshot
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
    authoring: {policy: whitelist, allowlist: [a@example.com]}
  - name: history_required
    mode: iterative
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
  - name: unknown_transformation
    origin: {type: folder, with: {path: source}}
    destination: {type: folder, with: {path: exported}}
    transformations: [{type: obfuscate}]
  - name: unknown_backend
    origin: {type: svn, with: {url: "svn://example.org/repo"}}
    destination: {type: folder, with: {path: exported}}
`

type catalogFixture struct {
	baseDirectory string
	catalog       *workflow.Catalog
	engine        *migration.Engine
	console       *console.RecordingConsole
}

func newCatalogFixture(testInstance *testing.T) catalogFixture {
	testInstance.Helper()
	baseDirectory := testInstance.TempDir()
	sourceDirectory := filepath.Join(baseDirectory, "source")
	require.NoError(testInstance, os.MkdirAll(filepath.Join(sourceDirectory, "docs"), 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(sourceDirectory, "notes.txt"), []byte("internal notes\n"), 0o644))
	require.NoError(testInstance, os.WriteFile(filepath.Join(sourceDirectory, "docs", "guide.md"), []byte("internal guide\n"), 0o644))

	configuration, loadError := workflow.LoadConfiguration(writeConfiguration(testInstance, "workflow.yaml", catalogWorkflowConfiguration))
	require.NoError(testInstance, loadError)

	wallClock := testclock.NewClock(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	catalog := workflow.NewCatalog(configuration, workflow.Builder{
		Environment: backend.Environment{Logger: zap.NewNop(), Clock: wallClock, BaseDirectory: baseDirectory},
	})

	recordingConsole := &console.RecordingConsole{}
	engine, engineError := migration.NewEngine(migration.Dependencies{
		Logger:     zap.NewNop(),
		Console:    recordingConsole,
		StateStore: state.NewMemoryStore(wallClock),
		Clock:      wallClock,
	})
	require.NoError(testInstance, engineError)
	return catalogFixture{baseDirectory: baseDirectory, catalog: catalog, engine: engine, console: recordingConsole}
}

func TestCatalogRunsFolderWorkflowEndToEnd(testInstance *testing.T) {
	fixture := newCatalogFixture(testInstance)

	result, runError := fixture.engine.RunWorkflow(context.Background(), migration.RunOptions{}, fixture.catalog, "export", testInstance.TempDir(), "")
	require.NoError(testInstance, runError)
	require.Equal(testInstance, migration.StateDone, result.FinalState)
	require.Equal(testInstance, change.ModeSnapshot, result.Mode)
	require.Len(testInstance, result.Commits, 1)

	exportedDirectory := filepath.Join(fixture.baseDirectory, "exported")
	notes, notesError := os.ReadFile(filepath.Join(exportedDirectory, "notes.txt"))
	require.NoError(testInstance, notesError)
	require.Equal(testInstance, "public notes\n", string(notes))

	guide, guideError := os.ReadFile(filepath.Join(exportedDirectory, "documentation", "guide.md"))
	require.NoError(testInstance, guideError)
	require.Equal(testInstance, "internal guide\n", string(guide))
	_, movedError := os.Stat(filepath.Join(exportedDirectory, "docs"))
	require.ErrorIs(testInstance, movedError, os.ErrNotExist)

	first, firstError := fixture.catalog.Workflow("export")
	require.NoError(testInstance, firstError)
	second, secondError := fixture.catalog.Workflow(" export ")
	require.NoError(testInstance, secondError)
	require.Same(testInstance, first.Origin, second.Origin)
}

func TestCatalogDefersSemanticProblemsToValidation(testInstance *testing.T) {
	testCases := []struct {
		name            string
		workflowName    string
		expectedMessage string
	}{
		{name: "invalid_mode", workflowName: "bad_mode", expectedMessage: "SIDEWAYS"},
		{name: "whitelist_default", workflowName: "whitelist_without_default", expectedMessage: "default identity"},
		{name: "history", workflowName: "history_required", expectedMessage: "history"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			fixture := newCatalogFixture(testInstance)
			report, validateError := fixture.engine.ValidateWorkflow(context.Background(), migration.RunOptions{ValidateOnly: true}, fixture.catalog, testCase.workflowName)
			require.Equal(testInstance, migrationerrors.KindValidation, migrationerrors.KindOf(validateError))
			require.False(testInstance, report.IsValid())
			require.Contains(testInstance, fmt.Sprint(report.Messages), testCase.expectedMessage)

			_, statError := os.Stat(filepath.Join(fixture.baseDirectory, "exported"))
			require.ErrorIs(testInstance, statError, os.ErrNotExist)
		})
	}
}

func TestCatalogBuildErrors(testInstance *testing.T) {
	testCases := []struct {
		name          string
		workflowName  string
		errorContains string
		expectMissing bool
	}{
		{name: "unknown_transformation", workflowName: "unknown_transformation", errorContains: "obfuscate"},
		{name: "unknown_backend", workflowName: "unknown_backend", errorContains: "svn"},
		{name: "not_defined", workflowName: "absent", expectMissing: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			fixture := newCatalogFixture(testInstance)
			_, lookupError := fixture.catalog.Workflow(testCase.workflowName)
			require.Error(testInstance, lookupError)
			if testCase.expectMissing {
				require.ErrorIs(testInstance, lookupError, workflow.ErrWorkflowNotFound)
				return
			}
			require.ErrorContains(testInstance, lookupError, testCase.errorContains)
		})
	}
}
