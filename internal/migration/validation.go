package migration

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
	"github.com/temirov/carbon/internal/transform"
)

const (
	missingWorkflowNameMessageConstant        = "workflow name is required"
	invalidModeMessageTemplateConstant        = "workflow %s: migration mode %q is not one of SNAPSHOT, SQUASH, ITERATIVE"
	missingOriginMessageTemplateConstant      = "workflow %s: exactly one origin must be configured"
	missingDestinationMessageTemplateConstant = "workflow %s: exactly one destination must be configured"
	emptyOriginIdentityMessageTemplate        = "workflow %s: origin has an empty identity"
	emptyDestinationIdentityMessageTemplate   = "workflow %s: destination has an empty identity"
	missingTransformationMessageTemplate      = "workflow %s: transformation %d is not configured"
	requiredTransformationsMessageTemplate    = "workflow %s: at least one transformation is required"
	authoringMessageTemplateConstant          = "workflow %s: %s"
	historyRequiredMessageTemplateConstant    = "workflow %s: mode %s requires an origin with history but %s only supports snapshots"
	irreversiblePipelineMessageTemplate       = "workflow %s: reversible check requested but transformations %s are not reversible"
	driftMessageTemplateConstant              = "workflow %s: destination %s records origin reference %q but migration state %s holds %q"
	emptyReferenceLabelConstant               = "nothing"
	irreversibleNamesSeparatorConstant        = ", "
	driftLogMessageConstant                   = "Destination drift detected"
	driftSkippedLogMessageConstant            = "Skipping drift check because the last revision was supplied explicitly"
	stateReferenceFieldConstant               = "state_reference"
	destinationReferenceFieldConstant         = "destination_reference"
)

// validation holds the outcome of one validation pass.
type validation struct {
	report       Report
	lastMigrated string
}

// Validate checks the definition and, for stateful modes, cross-checks the stored migration state
// against the destination. It never calls the origin or mutates the destination. The returned error
// reports I/O failures; configuration problems are reported through the Report.
func (engine *Engine) Validate(executionContext context.Context, definition Definition, options RunOptions) (Report, error) {
	outcome, validationError := engine.validate(executionContext, definition, options)
	if validationError != nil {
		return Report{}, validationError
	}
	return outcome.report, nil
}

func (engine *Engine) validate(executionContext context.Context, definition Definition, options RunOptions) (validation, error) {
	outcome := validation{report: validateStructure(definition)}
	if !outcome.report.IsValid() || !definition.Mode.TracksState() {
		return outcome, nil
	}

	if len(strings.TrimSpace(options.LastRevision)) > 0 {
		engine.logger.Debug(driftSkippedLogMessageConstant, zap.String(workflowFieldConstant, definition.Name), zap.String(referenceFieldConstant, options.LastRevision))
		outcome.lastMigrated = strings.TrimSpace(options.LastRevision)
		return outcome, nil
	}

	key := definition.StateKey()
	record, found, loadError := engine.stateStore.Load(executionContext, key)
	if loadError != nil {
		return validation{}, migrationerrors.RepositoryError{Operation: migrationerrors.StepValidate, Reference: key.String(), Cause: loadError}
	}
	storedReference := ""
	if found {
		storedReference = record.Reference
	}

	destinationReference, previousError := definition.Destination.PreviousRef(executionContext)
	if previousError != nil {
		return validation{}, migrationerrors.RepositoryError{Operation: migrationerrors.StepValidate, Reference: definition.Destination.Identity(), Cause: previousError}
	}

	if destinationReference != storedReference {
		engine.logger.Warn(driftLogMessageConstant,
			zap.String(workflowFieldConstant, definition.Name),
			zap.String(stateReferenceFieldConstant, storedReference),
			zap.String(destinationReferenceFieldConstant, destinationReference),
		)
		outcome.report.add(fmt.Sprintf(driftMessageTemplateConstant, definition.Name, definition.Destination.Identity(), describeReference(destinationReference), key.String(), describeReference(storedReference)))
		return outcome, nil
	}

	outcome.lastMigrated = storedReference
	return outcome, nil
}

// validateStructure performs every check that needs no I/O.
func validateStructure(definition Definition) Report {
	report := Report{}
	workflowName := strings.TrimSpace(definition.Name)
	if len(workflowName) == 0 {
		report.add(missingWorkflowNameMessageConstant)
	}

	if !definition.Mode.IsValid() {
		report.add(fmt.Sprintf(invalidModeMessageTemplateConstant, workflowName, string(definition.Mode)))
	}

	if definition.Origin == nil {
		report.add(fmt.Sprintf(missingOriginMessageTemplateConstant, workflowName))
	} else if len(strings.TrimSpace(definition.Origin.Identity())) == 0 {
		report.add(fmt.Sprintf(emptyOriginIdentityMessageTemplate, workflowName))
	}
	if definition.Destination == nil {
		report.add(fmt.Sprintf(missingDestinationMessageTemplateConstant, workflowName))
	} else if len(strings.TrimSpace(definition.Destination.Identity())) == 0 {
		report.add(fmt.Sprintf(emptyDestinationIdentityMessageTemplate, workflowName))
	}

	for stepIndex, step := range definition.Transformations {
		if step.Transformation == nil {
			report.add(fmt.Sprintf(missingTransformationMessageTemplate, workflowName, stepIndex))
		}
	}
	if definition.RequireTransformations && len(definition.Transformations) == 0 {
		report.add(fmt.Sprintf(requiredTransformationsMessageTemplate, workflowName))
	}

	for _, problem := range definition.Authoring.Validate() {
		report.add(fmt.Sprintf(authoringMessageTemplateConstant, workflowName, problem))
	}

	if definition.Origin != nil && definition.Mode.IsValid() && definition.Mode != change.ModeSnapshot && !backend.SupportsHistory(definition.Origin) {
		report.add(fmt.Sprintf(historyRequiredMessageTemplateConstant, workflowName, definition.Mode, definition.Origin.Identity()))
	}

	if definition.ReversibleCheck {
		if irreversibleNames := irreversibleStepNames(definition.Transformations); len(irreversibleNames) > 0 {
			report.add(fmt.Sprintf(irreversiblePipelineMessageTemplate, workflowName, strings.Join(irreversibleNames, irreversibleNamesSeparatorConstant)))
		}
	}
	return report
}

func irreversibleStepNames(steps []transform.Step) []string {
	var names []string
	for _, step := range steps {
		if step.Transformation == nil || step.IsReversible() {
			continue
		}
		names = append(names, step.Transformation.Name())
	}
	return names
}

func describeReference(reference string) string {
	if len(reference) == 0 {
		return emptyReferenceLabelConstant
	}
	return reference
}
