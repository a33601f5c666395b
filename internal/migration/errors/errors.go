package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a failure surfaced by the migration engine.
type Kind string

// Recognized failure kinds.
const (
	KindValidation     Kind = "validation"
	KindRepository     Kind = "repository"
	KindTransformation Kind = "transformation"
	KindPrecondition   Kind = "precondition"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// Step names the engine step that produced a failure.
type Step string

// Engine steps recorded on failures.
const (
	StepValidate    Step = "validate"
	StepLock        Step = "lock"
	StepResolve     Step = "resolve"
	StepMaterialize Step = "materialize"
	StepTransform   Step = "transform"
	StepAuthor      Step = "author"
	StepWrite       Step = "write"
	StepPersist     Step = "persist"
)

const (
	validationErrorPrefixConstant       = "configuration is invalid"
	validationErrorTemplateConstant     = "%s: %s"
	validationMessageSeparatorConstant  = "; "
	repositoryErrorTemplateConstant     = "%s failed for reference %s: %v"
	repositoryErrorWithoutRefTemplate   = "%s failed: %v"
	transformationErrorTemplateConstant = "transformation %s failed for reference %s: %v"
	transformationErrorNoRefTemplate    = "transformation %s failed: %v"
	preconditionErrorTemplateConstant   = "precondition violated: %s"
	unknownCauseMessageConstant         = "unknown cause"
)

// ValidationError reports every message of a non-empty validation report.
type ValidationError struct {
	Messages []string
}

// Error joins the validation messages.
func (validationError ValidationError) Error() string {
	if len(validationError.Messages) == 0 {
		return validationErrorPrefixConstant
	}
	return fmt.Sprintf(validationErrorTemplateConstant, validationErrorPrefixConstant, strings.Join(validationError.Messages, validationMessageSeparatorConstant))
}

// RepositoryError describes a failed interaction with an origin, a destination, or the state store.
type RepositoryError struct {
	Operation Step
	Reference string
	Cause     error
}

// Error describes the failing operation and reference.
func (repositoryError RepositoryError) Error() string {
	cause := describeCause(repositoryError.Cause)
	if len(repositoryError.Reference) == 0 {
		return fmt.Sprintf(repositoryErrorWithoutRefTemplate, repositoryError.Operation, cause)
	}
	return fmt.Sprintf(repositoryErrorTemplateConstant, repositoryError.Operation, repositoryError.Reference, cause)
}

// Unwrap exposes the underlying cause.
func (repositoryError RepositoryError) Unwrap() error {
	return repositoryError.Cause
}

// TransformationError describes a failed pipeline step.
type TransformationError struct {
	Transformation string
	Reference      string
	Cause          error
}

// Error describes the failing transformation.
func (transformationError TransformationError) Error() string {
	cause := describeCause(transformationError.Cause)
	if len(transformationError.Reference) == 0 {
		return fmt.Sprintf(transformationErrorNoRefTemplate, transformationError.Transformation, cause)
	}
	return fmt.Sprintf(transformationErrorTemplateConstant, transformationError.Transformation, transformationError.Reference, cause)
}

// Unwrap exposes the underlying cause.
func (transformationError TransformationError) Unwrap() error {
	return transformationError.Cause
}

// PreconditionError reports a caller contract violation such as a validate-only run reaching the mutating path.
type PreconditionError struct {
	Message string
}

// Error describes the violated precondition.
func (preconditionError PreconditionError) Error() string {
	return fmt.Sprintf(preconditionErrorTemplateConstant, preconditionError.Message)
}

// KindOf classifies an error returned by the engine.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}

	var validationError ValidationError
	if stderrors.As(err, &validationError) {
		return KindValidation
	}
	var preconditionError PreconditionError
	if stderrors.As(err, &preconditionError) {
		return KindPrecondition
	}
	var transformationError TransformationError
	if stderrors.As(err, &transformationError) {
		return KindTransformation
	}
	var repositoryError RepositoryError
	if stderrors.As(err, &repositoryError) {
		return KindRepository
	}
	return KindUnknown
}

// StepOf returns the engine step recorded on a repository error, if any.
func StepOf(err error) (Step, bool) {
	var repositoryError RepositoryError
	if stderrors.As(err, &repositoryError) {
		return repositoryError.Operation, true
	}
	var transformationError TransformationError
	if stderrors.As(err, &transformationError) {
		return StepTransform, true
	}
	return "", false
}

func describeCause(cause error) string {
	if cause == nil {
		return unknownCauseMessageConstant
	}
	return cause.Error()
}
