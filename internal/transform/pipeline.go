package transform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
	"github.com/temirov/carbon/internal/workdir"
)

const (
	pipelineStepAppliedMessageConstant  = "Applied transformation"
	pipelineStepSkippedMessageConstant  = "Transformation failed and was skipped"
	pipelineStepReversedMessageConstant = "Reversed transformation"
	pipelineLogFieldNameConstant        = "transformation"
	pipelineLogFieldReferenceConstant   = "reference"
	pipelineLogFieldPositionConstant    = "position"
	pipelineStepLabelTemplateConstant   = "%d:%s"
)

// Result summarizes one pipeline application.
type Result struct {
	Applied []string
	Skipped []string
}

// Pipeline applies steps strictly in declared order.
type Pipeline struct {
	steps  []Step
	logger *zap.Logger
}

// NewPipeline constructs a pipeline over the supplied steps.
func NewPipeline(logger *zap.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	copiedSteps := append([]Step(nil), steps...)
	return &Pipeline{steps: copiedSteps, logger: logger}
}

// Steps returns a copy of the configured steps.
func (pipeline *Pipeline) Steps() []Step {
	return append([]Step(nil), pipeline.steps...)
}

// Len reports the number of steps.
func (pipeline *Pipeline) Len() int {
	return len(pipeline.steps)
}

// IsReversible reports whether every step can be reversed. An empty pipeline is reversible.
func (pipeline *Pipeline) IsReversible() bool {
	for _, step := range pipeline.steps {
		if !step.IsReversible() {
			return false
		}
	}
	return true
}

// Apply runs every step against tree. A failing step aborts the pipeline with a TransformationError unless it is marked NoopOnFailure.
func (pipeline *Pipeline) Apply(executionContext context.Context, tree *workdir.Tree, reference string) (Result, error) {
	result := Result{}
	for stepIndex, step := range pipeline.steps {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		stepName := step.Transformation.Name()
		applyError := step.Transformation.Apply(executionContext, tree)
		if applyError == nil {
			result.Applied = append(result.Applied, stepName)
			pipeline.logger.Debug(pipelineStepAppliedMessageConstant,
				zap.String(pipelineLogFieldNameConstant, stepName),
				zap.Int(pipelineLogFieldPositionConstant, stepIndex),
				zap.String(pipelineLogFieldReferenceConstant, reference))
			continue
		}
		if step.NoopOnFailure {
			result.Skipped = append(result.Skipped, stepName)
			pipeline.logger.Warn(pipelineStepSkippedMessageConstant,
				zap.String(pipelineLogFieldNameConstant, stepName),
				zap.Int(pipelineLogFieldPositionConstant, stepIndex),
				zap.String(pipelineLogFieldReferenceConstant, reference),
				zap.Error(applyError))
			continue
		}
		return result, migrationerrors.TransformationError{
			Transformation: fmt.Sprintf(pipelineStepLabelTemplateConstant, stepIndex, stepName),
			Reference:      reference,
			Cause:          applyError,
		}
	}
	return result, nil
}

// Reverse undoes the pipeline by reversing every step in reverse order.
func (pipeline *Pipeline) Reverse(executionContext context.Context, tree *workdir.Tree, reference string) error {
	if !pipeline.IsReversible() {
		return ErrIrreversible
	}
	for stepIndex := len(pipeline.steps) - 1; stepIndex >= 0; stepIndex-- {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		reversibleStep := pipeline.steps[stepIndex].Transformation.(Reversible)
		if reverseError := reversibleStep.Reverse(executionContext, tree); reverseError != nil {
			return migrationerrors.TransformationError{
				Transformation: fmt.Sprintf(pipelineStepLabelTemplateConstant, stepIndex, reversibleStep.Name()),
				Reference:      reference,
				Cause:          reverseError,
			}
		}
		pipeline.logger.Debug(pipelineStepReversedMessageConstant,
			zap.String(pipelineLogFieldNameConstant, reversibleStep.Name()),
			zap.Int(pipelineLogFieldPositionConstant, stepIndex))
	}
	return nil
}
