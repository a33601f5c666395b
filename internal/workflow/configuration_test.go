package workflow_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/carbon/internal/workflow"
)

const (
	anchoredWorkflowConfiguration = `x-folder-origin: &folder_origin
  type: folder
  with:
    path: source
tools:
  - name: scrub
    type: replace
    with:
      before: internal
      after: public
workflows:
  - name: publish
    mode: iterative
    origin: *folder_origin
    destination: {type: folder, with: {path: published}}
    transformations:
      - tool: scrub
        with:
          paths: ["**/*.go"]
      - {type: remove, with: {paths: ["secrets/**"]}, noop_on_failure: true}
    authoring: {policy: whitelist, default: "Bot <bot@example.com>", allowlist: [a@example.com]}
    message: "{{ .OriginalMessage }}"
  - name: mirror
    origin: *folder_origin
    destination: {type: folder, with: {path: mirror}}
`
	jsonWorkflowConfiguration = `{
  "workflows": [
    {
      "name": "export",
      "mode": "snapshot",
      "origin": {"type": "folder", "with": {"path": "source"}},
      "destination": {"type": "folder", "with": {"path": "exported"}},
      "require_transformations": true
    }
  ]
}`
	tomlWorkflowConfiguration = `[[workflows]]
name = "export"
mode = "squash"
reversible_check = true

[workflows.origin]
type = "folder"
with = { path = "source" }

[workflows.destination]
type = "folder"
with = { path = "exported" }

[[workflows.transformations]]
type = "move"
with = { from = "src", to = "lib" }
`
)

func writeConfiguration(testInstance *testing.T, fileName string, content string) string {
	testInstance.Helper()
	configurationPath := filepath.Join(testInstance.TempDir(), fileName)
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(content), 0o600))
	return configurationPath
}

func TestLoadConfigurationResolvesToolsAndAnchors(testInstance *testing.T) {
	configuration, loadError := workflow.LoadConfiguration(writeConfiguration(testInstance, "workflow.yaml", anchoredWorkflowConfiguration))
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, []string{"publish", "mirror"}, configuration.WorkflowNames())

	publish := configuration.Workflows[0]
	require.Equal(testInstance, "iterative", publish.Mode)
	require.Equal(testInstance, "folder", publish.Origin.Type)
	require.Equal(testInstance, "source", publish.Origin.Options["path"])
	require.Len(testInstance, publish.Transformations, 2)

	scrubStep := publish.Transformations[0]
	require.Equal(testInstance, "replace", scrubStep.Type)
	require.Equal(testInstance, "internal", scrubStep.Options["before"])
	require.Equal(testInstance, "public", scrubStep.Options["after"])
	require.Equal(testInstance, []any{"**/*.go"}, scrubStep.Options["paths"])

	require.True(testInstance, publish.Transformations[1].NoopOnFailure)
	require.Equal(testInstance, "whitelist", publish.Authoring.Policy)
	require.Equal(testInstance, []string{"a@example.com"}, publish.Authoring.Allowlist)
	require.Equal(testInstance, "mirror", configuration.Workflows[1].Name)
}

func TestLoadConfigurationFormats(testInstance *testing.T) {
	testCases := []struct {
		name                           string
		fileName                       string
		content                        string
		expectedMode                   string
		expectedRequireTransformations bool
		expectedReversibleCheck        bool
		expectedTransformationCount    int
	}{
		{name: "json", fileName: "workflow.json", content: jsonWorkflowConfiguration, expectedMode: "snapshot", expectedRequireTransformations: true},
		{name: "toml", fileName: "workflow.toml", content: tomlWorkflowConfiguration, expectedMode: "squash", expectedReversibleCheck: true, expectedTransformationCount: 1},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			configuration, loadError := workflow.LoadConfiguration(writeConfiguration(testInstance, testCase.fileName, testCase.content))
			require.NoError(testInstance, loadError)
			require.Len(testInstance, configuration.Workflows, 1)
			loaded := configuration.Workflows[0]
			require.Equal(testInstance, "export", loaded.Name)
			require.Equal(testInstance, testCase.expectedMode, loaded.Mode)
			require.Equal(testInstance, "exported", loaded.Destination.Options["path"])
			require.Equal(testInstance, testCase.expectedRequireTransformations, loaded.RequireTransformations)
			require.Equal(testInstance, testCase.expectedReversibleCheck, loaded.ReversibleCheck)
			require.Len(testInstance, loaded.Transformations, testCase.expectedTransformationCount)
		})
	}
}

func TestLoadConfigurationRejectsInvalidDocuments(testInstance *testing.T) {
	testCases := []struct {
		name          string
		content       string
		expectSchema  bool
		errorContains string
	}{
		{name: "missing_workflows", content: "tools: []\n", expectSchema: true},
		{name: "unknown_top_level_key", content: "workflows: [{name: a, origin: {type: folder}, destination: {type: folder}}]\nextra: true\n", expectSchema: true},
		{name: "unknown_workflow_key", content: "workflows: [{name: a, origin: {type: folder}, destination: {type: folder}, modes: squash}]\n", expectSchema: true},
		{name: "missing_destination", content: "workflows: [{name: a, origin: {type: folder}}]\n", expectSchema: true},
		{name: "step_without_type_or_tool", content: "workflows: [{name: a, origin: {type: folder}, destination: {type: folder}, transformations: [{with: {}}]}]\n", expectSchema: true},
		{name: "boolean_switch_as_string", content: "workflows: [{name: a, origin: {type: folder}, destination: {type: folder}, reversible_check: sometimes}]\n", expectSchema: true},
		{name: "duplicate_workflow", content: "workflows: [{name: a, origin: {type: folder}, destination: {type: folder}}, {name: a, origin: {type: folder}, destination: {type: folder}}]\n", errorContains: "duplicate workflow"},
		{name: "unknown_tool", content: "workflows: [{name: a, origin: {type: folder}, destination: {type: folder}, transformations: [{tool: missing}]}]\n", errorContains: "unknown tool"},
		{name: "duplicate_tool", content: "tools: [{name: t, type: noop}, {name: t, type: noop}]\nworkflows: [{name: a, origin: {type: folder}, destination: {type: folder}}]\n", errorContains: "duplicate tool"},
		{name: "malformed_yaml", content: "workflows: [\n", errorContains: "failed to parse"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			_, loadError := workflow.LoadConfiguration(writeConfiguration(testInstance, "workflow.yml", testCase.content))
			require.Error(testInstance, loadError)
			if testCase.expectSchema {
				var schemaError workflow.SchemaError
				require.ErrorAs(testInstance, loadError, &schemaError)
				require.NotEmpty(testInstance, schemaError.Violations)
				return
			}
			require.ErrorContains(testInstance, loadError, testCase.errorContains)
		})
	}
}

func TestLoadConfigurationRequiresPath(testInstance *testing.T) {
	_, emptyPathError := workflow.LoadConfiguration("  ")
	require.Error(testInstance, emptyPathError)

	_, missingFileError := workflow.LoadConfiguration(filepath.Join(testInstance.TempDir(), "absent.yaml"))
	require.ErrorIs(testInstance, missingFileError, os.ErrNotExist)
}
