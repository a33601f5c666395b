package transform

import (
	"context"
	"errors"

	"github.com/temirov/carbon/internal/workdir"
)

// ErrNoEffect indicates that a transformation matched nothing in the tree.
var ErrNoEffect = errors.New("transformation had no effect")

// ErrIrreversible indicates that a pipeline contains a step that cannot be reversed.
var ErrIrreversible = errors.New("pipeline contains an irreversible transformation")

// ErrAmbiguousReversal indicates that a reversible step would produce content it cannot restore exactly.
var ErrAmbiguousReversal = errors.New("replacement cannot be reversed to the original content")

// Transformation mutates a staged tree. Implementations keep no state between invocations.
type Transformation interface {
	Name() string
	Apply(executionContext context.Context, tree *workdir.Tree) error
}

// Reversible is a Transformation whose effect can be undone byte for byte.
type Reversible interface {
	Transformation
	Reverse(executionContext context.Context, tree *workdir.Tree) error
}

// Step binds a transformation to its failure policy.
type Step struct {
	Transformation Transformation
	NoopOnFailure  bool
}

// IsReversible reports whether the step's transformation can be reversed.
func (step Step) IsReversible() bool {
	_, reversible := step.Transformation.(Reversible)
	return reversible
}
