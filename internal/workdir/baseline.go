package workdir

import (
	"context"
	"fmt"
)

const baselineSeedErrorTemplateConstant = "unable to seed working tree %s from baseline %s: %w"

// Baseline is a long-lived tree holding the untransformed origin content of the last processed change.
type Baseline struct {
	tree      *Tree
	reference string
}

// AcquireBaseline acquires a tree that lives for the whole run. Callers release it with ReleaseBaseline.
func (manager *Manager) AcquireBaseline(executionContext context.Context) (*Baseline, error) {
	tree, acquireError := manager.Acquire(executionContext)
	if acquireError != nil {
		return nil, acquireError
	}
	return &Baseline{tree: tree}, nil
}

// ReleaseBaseline releases the tree backing the baseline.
func (manager *Manager) ReleaseBaseline(baseline *Baseline) error {
	if baseline == nil {
		return nil
	}
	return manager.Release(baseline.tree)
}

// Tree returns the tree holding the baseline content.
func (baseline *Baseline) Tree() *Tree {
	return baseline.tree
}

// Reference returns the change reference the baseline currently reflects. Empty means unpopulated.
func (baseline *Baseline) Reference() string {
	return baseline.reference
}

// Advance records that the baseline now reflects the supplied reference.
func (baseline *Baseline) Advance(reference string) {
	baseline.reference = reference
}

// Invalidate marks the baseline as unpopulated and clears its content.
func (baseline *Baseline) Invalidate() error {
	baseline.reference = ""
	return baseline.tree.Clear()
}

// Seed copies the baseline content into target.
func (baseline *Baseline) Seed(target *Tree) error {
	if seedError := CopyDirectory(baseline.tree.root, target.root, nil); seedError != nil {
		return fmt.Errorf(baselineSeedErrorTemplateConstant, target.root, baseline.tree.root, seedError)
	}
	return nil
}
