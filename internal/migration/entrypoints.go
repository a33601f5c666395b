package migration

import (
	"context"
	"fmt"
	"strings"

	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
)

const (
	workflowLookupErrorTemplateConstant = "unable to load workflow %s: %w"
	validationPassedConsoleTemplate     = "Workflow %s is valid"
)

// WorkflowCatalog supplies loaded workflow definitions by name.
type WorkflowCatalog interface {
	Workflow(name string) (Definition, error)
}

// RunWorkflow looks up workflowName in catalog and runs it. An empty sourceReference resolves the latest change.
func (engine *Engine) RunWorkflow(executionContext context.Context, options RunOptions, catalog WorkflowCatalog, workflowName string, baseWorkdir string, sourceReference string) (RunResult, error) {
	if options.ValidateOnly {
		return RunResult{}, migrationerrors.PreconditionError{Message: validateOnlyPreconditionMessageConstant}
	}
	definition, lookupError := catalog.Workflow(workflowName)
	if lookupError != nil {
		return RunResult{}, fmt.Errorf(workflowLookupErrorTemplateConstant, workflowName, lookupError)
	}
	options.BaseWorkdir = baseWorkdir
	options.SourceReference = strings.TrimSpace(sourceReference)
	return engine.Run(executionContext, definition, options)
}

// ValidateWorkflow looks up workflowName and validates it without origin I/O or destination mutation.
// Every report message is emitted to the console; a non-empty report is returned as a ValidationError.
func (engine *Engine) ValidateWorkflow(executionContext context.Context, options RunOptions, catalog WorkflowCatalog, workflowName string) (Report, error) {
	definition, lookupError := catalog.Workflow(workflowName)
	if lookupError != nil {
		return Report{}, fmt.Errorf(workflowLookupErrorTemplateConstant, workflowName, lookupError)
	}
	report, validationError := engine.Validate(executionContext, definition, options)
	if validationError != nil {
		return Report{}, validationError
	}
	if !report.IsValid() {
		engine.reportValidation(report)
		return report, report.Err()
	}
	engine.console.Info(fmt.Sprintf(validationPassedConsoleTemplate, definition.Name))
	return report, nil
}
