package workflow

import (
	"fmt"
	"strings"

	"github.com/temirov/carbon/internal/authoring"
	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/backend/folder"
	"github.com/temirov/carbon/internal/backend/gitbackend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/migration"
	"github.com/temirov/carbon/internal/transform"
)

const (
	builderWorkflowErrorTemplateConstant  = "workflow %s: %w"
	builderPolicyErrorTemplateConstant    = "authoring policy: %w"
	builderDefaultAuthorTemplateConstant  = "authoring default: %w"
	builderTransformationTemplateConstant = "transformation %d: %w"
)

// NewDefaultBackendRegistry returns a registry with the git and folder backends.
func NewDefaultBackendRegistry() *backend.Registry {
	registry := backend.NewRegistry()
	gitbackend.Register(registry)
	folder.Register(registry)
	return registry
}

// Builder turns workflow configurations into migration definitions.
// Unknown transformation or backend types fail the build. Semantic problems such as an invalid mode
// are carried into the definition so validation reports them.
type Builder struct {
	Transformations *transform.Registry
	Backends        *backend.Registry
	Environment     backend.Environment
}

// Build constructs the definition for one workflow.
func (builder Builder) Build(workflowConfiguration WorkflowConfiguration) (migration.Definition, error) {
	definition, buildError := builder.build(workflowConfiguration)
	if buildError != nil {
		return migration.Definition{}, fmt.Errorf(builderWorkflowErrorTemplateConstant, workflowConfiguration.Name, buildError)
	}
	return definition, nil
}

func (builder Builder) build(workflowConfiguration WorkflowConfiguration) (migration.Definition, error) {
	transformationRegistry := builder.Transformations
	if transformationRegistry == nil {
		transformationRegistry = transform.NewRegistry()
	}
	backendRegistry := builder.Backends
	if backendRegistry == nil {
		backendRegistry = NewDefaultBackendRegistry()
	}

	policyKind, policyError := authoring.ParsePolicyKind(workflowConfiguration.Authoring.Policy)
	if policyError != nil {
		return migration.Definition{}, fmt.Errorf(builderPolicyErrorTemplateConstant, policyError)
	}
	var defaultAuthor change.Author
	if len(strings.TrimSpace(workflowConfiguration.Authoring.Default)) > 0 {
		parsedAuthor, authorError := change.ParseAuthor(workflowConfiguration.Authoring.Default)
		if authorError != nil {
			return migration.Definition{}, fmt.Errorf(builderDefaultAuthorTemplateConstant, authorError)
		}
		defaultAuthor = parsedAuthor
	}

	steps := make([]transform.Step, 0, len(workflowConfiguration.Transformations))
	for stepIndex, stepConfiguration := range workflowConfiguration.Transformations {
		transformation, transformationError := transformationRegistry.Build(stepConfiguration.Type, stepConfiguration.Options)
		if transformationError != nil {
			return migration.Definition{}, fmt.Errorf(builderTransformationTemplateConstant, stepIndex+1, transformationError)
		}
		steps = append(steps, transform.Step{Transformation: transformation, NoopOnFailure: stepConfiguration.NoopOnFailure})
	}

	environment := builder.Environment
	environment.WorkflowName = workflowConfiguration.Name
	origin, originError := backendRegistry.BuildOrigin(workflowConfiguration.Origin.Type, workflowConfiguration.Origin.Options, environment)
	if originError != nil {
		return migration.Definition{}, originError
	}
	destination, destinationError := backendRegistry.BuildDestination(workflowConfiguration.Destination.Type, workflowConfiguration.Destination.Options, environment)
	if destinationError != nil {
		return migration.Definition{}, destinationError
	}

	return migration.Definition{
		Name:            workflowConfiguration.Name,
		Mode:            parseMode(workflowConfiguration.Mode),
		Origin:          origin,
		Destination:     destination,
		Transformations: steps,
		Authoring: authoring.Authoring{
			Policy:  authoring.NewPolicy(policyKind, defaultAuthor, workflowConfiguration.Authoring.Allowlist),
			Message: authoring.NewMessageTemplate(workflowConfiguration.Message),
		},
		RequireTransformations: workflowConfiguration.RequireTransformations,
		ReversibleCheck:        workflowConfiguration.ReversibleCheck,
	}, nil
}

// parseMode defaults to SQUASH and keeps unknown names verbatim so validation can report them.
func parseMode(rawMode string) change.MigrationMode {
	if len(strings.TrimSpace(rawMode)) == 0 {
		return change.ModeSquash
	}
	mode, parseError := change.ParseMigrationMode(rawMode)
	if parseError != nil {
		return change.MigrationMode(strings.ToUpper(strings.TrimSpace(rawMode)))
	}
	return mode
}
