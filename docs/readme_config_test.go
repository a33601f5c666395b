package docs_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/workflow"
)

const (
	readmeFileNameConstant           = "README.md"
	yamlFenceStartConstant           = "```yaml"
	yamlFenceEndConstant             = "```"
	workflowHeaderMarkerConstant     = "# carbon.yaml"
	parentDirectoryReferenceConstant = ".."
	missingHeaderMessageConstant     = "README example missing workflow header marker"
	missingStartFenceMessageConstant = "README example missing yaml fence start"
	missingEndFenceMessageConstant   = "README example missing yaml fence end"
)

func readmeWorkflowSnippet(testInstance *testing.T) string {
	testInstance.Helper()
	workingDirectory, workingDirectoryError := os.Getwd()
	require.NoError(testInstance, workingDirectoryError)

	contentBytes, readError := os.ReadFile(filepath.Join(workingDirectory, parentDirectoryReferenceConstant, readmeFileNameConstant))
	require.NoError(testInstance, readError)

	contentText := string(contentBytes)
	headerIndex := strings.Index(contentText, workflowHeaderMarkerConstant)
	require.NotEqual(testInstance, -1, headerIndex, missingHeaderMessageConstant)

	fenceStartIndex := strings.LastIndex(contentText[:headerIndex], yamlFenceStartConstant)
	require.NotEqual(testInstance, -1, fenceStartIndex, missingStartFenceMessageConstant)

	fenceEndRelativeIndex := strings.Index(contentText[headerIndex:], yamlFenceEndConstant)
	require.NotEqual(testInstance, -1, fenceEndRelativeIndex, missingEndFenceMessageConstant)

	return strings.TrimSpace(contentText[fenceStartIndex+len(yamlFenceStartConstant) : headerIndex+fenceEndRelativeIndex])
}

func TestReadmeWorkflowConfigurationBuilds(testInstance *testing.T) {
	configuration, parseError := workflow.ParseConfiguration([]byte(readmeWorkflowSnippet(testInstance)), ".yaml", readmeFileNameConstant)
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, []string{"publish", "export"}, configuration.WorkflowNames())

	catalog := workflow.NewCatalog(configuration, workflow.Builder{
		Environment: backend.Environment{
			Logger:         zap.NewNop(),
			CacheDirectory: testInstance.TempDir(),
			BaseDirectory:  testInstance.TempDir(),
			PushAttempts:   1,
		},
	})

	testCases := []struct {
		workflowName       string
		expectedMode       change.MigrationMode
		expectedStepCount  int
		expectedDestSuffix string
	}{
		{workflowName: "publish", expectedMode: change.ModeIterative, expectedStepCount: 3, expectedDestSuffix: "#main"},
		{workflowName: "export", expectedMode: change.ModeSnapshot, expectedStepCount: 1, expectedDestSuffix: "export"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.workflowName), func(testInstance *testing.T) {
			definition, buildError := catalog.Workflow(testCase.workflowName)
			require.NoError(testInstance, buildError)
			require.Equal(testInstance, testCase.expectedMode, definition.Mode)
			require.Len(testInstance, definition.Transformations, testCase.expectedStepCount)
			require.True(testInstance, strings.HasSuffix(definition.Destination.Identity(), testCase.expectedDestSuffix), definition.Destination.Identity())
		})
	}
}
