package transform

import (
	"context"

	"github.com/temirov/carbon/internal/workdir"
)

const noopTransformationNameConstant = "noop"

// Noop leaves the tree untouched. It is reversible.
type Noop struct{}

// Name returns "noop".
func (Noop) Name() string {
	return noopTransformationNameConstant
}

// Apply does nothing.
func (Noop) Apply(context.Context, *workdir.Tree) error {
	return nil
}

// Reverse does nothing.
func (Noop) Reverse(context.Context, *workdir.Tree) error {
	return nil
}
