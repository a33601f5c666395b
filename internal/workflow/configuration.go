package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/temirov/carbon/internal/utils"
)

const (
	configurationLoadErrorTemplateConstant         = "failed to load workflow configuration: %w"
	configurationParseErrorTemplateConstant        = "failed to parse workflow configuration %s: %w"
	configurationDecodeErrorTemplateConstant       = "failed to decode workflow configuration %s: %w"
	configurationPathRequiredMessageConstant       = "workflow configuration path must be provided"
	configurationToolNameRequiredMessageConstant   = "workflow tool names must be non-empty"
	configurationDuplicateToolTemplateConstant     = "workflow configuration defines duplicate tool %q"
	configurationToolTypeMissingTemplateConstant   = "workflow tool %s missing transformation type"
	configurationDuplicateWorkflowTemplateConstant = "workflow configuration defines duplicate workflow %q"
	configurationUnknownToolTemplateConstant       = "workflow %s references unknown tool %q"
	configurationStepTypeMissingTemplateConstant   = "workflow %s transformation %d missing type"
	tomlExtensionConstant                          = ".toml"
	// Top-level keys with this prefix hold YAML anchors and are otherwise ignored.
	extensionKeyPrefixConstant = "x-"
)

// Configuration is a parsed workflow file: reusable transformation tools and named workflows.
type Configuration struct {
	Tools     []NamedToolConfiguration `mapstructure:"tools"`
	Workflows []WorkflowConfiguration  `mapstructure:"workflows"`

	toolLookup map[string]ToolConfiguration
}

// NamedToolConfiguration is a reusable transformation that steps reference by name.
type NamedToolConfiguration struct {
	Name              string `mapstructure:"name"`
	ToolConfiguration `mapstructure:",squash"`
}

// ToolConfiguration describes a transformation type and its options.
type ToolConfiguration struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"with"`
}

// StepConfiguration declares one transformation of a workflow, either inline or through a tool reference.
type StepConfiguration struct {
	Type          string         `mapstructure:"type"`
	Tool          string         `mapstructure:"tool"`
	Options       map[string]any `mapstructure:"with"`
	NoopOnFailure bool           `mapstructure:"noop_on_failure"`
}

// BackendConfiguration selects an origin or destination implementation.
type BackendConfiguration struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"with"`
}

// AuthoringConfiguration declares the author policy.
type AuthoringConfiguration struct {
	Policy    string   `mapstructure:"policy"`
	Default   string   `mapstructure:"default"`
	Allowlist []string `mapstructure:"allowlist"`
}

// WorkflowConfiguration is one named migration pipeline.
type WorkflowConfiguration struct {
	Name                   string                 `mapstructure:"name"`
	Mode                   string                 `mapstructure:"mode"`
	Origin                 BackendConfiguration   `mapstructure:"origin"`
	Destination            BackendConfiguration   `mapstructure:"destination"`
	Transformations        []StepConfiguration    `mapstructure:"transformations"`
	Authoring              AuthoringConfiguration `mapstructure:"authoring"`
	Message                string                 `mapstructure:"message"`
	RequireTransformations bool                   `mapstructure:"require_transformations"`
	ReversibleCheck        bool                   `mapstructure:"reversible_check"`
}

// LoadConfiguration reads a YAML, JSON, or TOML workflow file, checks it against the workflow schema,
// and resolves tool references.
func LoadConfiguration(filePath string) (Configuration, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return Configuration{}, errors.New(configurationPathRequiredMessageConstant)
	}
	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return Configuration{}, fmt.Errorf(configurationLoadErrorTemplateConstant, readError)
	}
	return ParseConfiguration(contentBytes, strings.ToLower(filepath.Ext(trimmedPath)), trimmedPath)
}

// ParseConfiguration parses workflow file content. TOML is selected by extension; everything else is read as YAML,
// which also covers JSON documents.
func ParseConfiguration(contentBytes []byte, extension string, sourceName string) (Configuration, error) {
	document := map[string]any{}
	var parseError error
	if extension == tomlExtensionConstant {
		parseError = toml.Unmarshal(contentBytes, &document)
	} else {
		parseError = yaml.Unmarshal(contentBytes, &document)
	}
	if parseError != nil {
		return Configuration{}, fmt.Errorf(configurationParseErrorTemplateConstant, sourceName, parseError)
	}

	if schemaError := validateDocument(document); schemaError != nil {
		return Configuration{}, schemaError
	}

	for key := range document {
		if strings.HasPrefix(key, extensionKeyPrefixConstant) {
			delete(document, key)
		}
	}

	var configuration Configuration
	if decodeError := utils.DecodeOptions(document, &configuration); decodeError != nil {
		return Configuration{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, sourceName, decodeError)
	}

	toolLookup, toolsError := buildToolLookup(configuration.Tools)
	if toolsError != nil {
		return Configuration{}, toolsError
	}
	configuration.toolLookup = toolLookup

	seenWorkflows := make(map[string]struct{}, len(configuration.Workflows))
	for workflowIndex := range configuration.Workflows {
		workflowConfiguration := &configuration.Workflows[workflowIndex]
		workflowConfiguration.Name = strings.TrimSpace(workflowConfiguration.Name)
		if _, duplicate := seenWorkflows[workflowConfiguration.Name]; duplicate {
			return Configuration{}, fmt.Errorf(configurationDuplicateWorkflowTemplateConstant, workflowConfiguration.Name)
		}
		seenWorkflows[workflowConfiguration.Name] = struct{}{}
		for stepIndex := range workflowConfiguration.Transformations {
			if resolveError := configuration.resolveStep(workflowConfiguration.Name, stepIndex, &workflowConfiguration.Transformations[stepIndex]); resolveError != nil {
				return Configuration{}, resolveError
			}
		}
	}
	return configuration, nil
}

// WorkflowNames lists workflow names in file order.
func (configuration Configuration) WorkflowNames() []string {
	names := make([]string, 0, len(configuration.Workflows))
	for _, workflowConfiguration := range configuration.Workflows {
		names = append(names, workflowConfiguration.Name)
	}
	return names
}

// resolveStep replaces a tool reference with the tool's type and options. Step options override tool options.
func (configuration Configuration) resolveStep(workflowName string, stepIndex int, step *StepConfiguration) error {
	step.Type = strings.TrimSpace(step.Type)
	toolName := strings.TrimSpace(step.Tool)
	if len(toolName) == 0 {
		if len(step.Type) == 0 {
			return fmt.Errorf(configurationStepTypeMissingTemplateConstant, workflowName, stepIndex+1)
		}
		return nil
	}
	tool, known := configuration.toolLookup[toolName]
	if !known {
		return fmt.Errorf(configurationUnknownToolTemplateConstant, workflowName, toolName)
	}
	mergedOptions := make(map[string]any, len(tool.Options)+len(step.Options))
	for key, value := range tool.Options {
		mergedOptions[key] = value
	}
	for key, value := range step.Options {
		mergedOptions[key] = value
	}
	if len(step.Type) == 0 {
		step.Type = tool.Type
	}
	step.Options = mergedOptions
	return nil
}

func buildToolLookup(tools []NamedToolConfiguration) (map[string]ToolConfiguration, error) {
	lookup := make(map[string]ToolConfiguration, len(tools))
	for toolIndex := range tools {
		trimmedName := strings.TrimSpace(tools[toolIndex].Name)
		if len(trimmedName) == 0 {
			return nil, errors.New(configurationToolNameRequiredMessageConstant)
		}
		if _, exists := lookup[trimmedName]; exists {
			return nil, fmt.Errorf(configurationDuplicateToolTemplateConstant, trimmedName)
		}
		if len(strings.TrimSpace(tools[toolIndex].Type)) == 0 {
			return nil, fmt.Errorf(configurationToolTypeMissingTemplateConstant, trimmedName)
		}
		tools[toolIndex].Name = trimmedName
		lookup[trimmedName] = tools[toolIndex].ToolConfiguration
	}
	return lookup, nil
}
