package migration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/authoring"
	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
	"github.com/temirov/carbon/internal/state"
	"github.com/temirov/carbon/internal/transform"
	"github.com/temirov/carbon/internal/workdir"
)

const (
	reversibleCheckTransformationConstant = "reversible_check"
	authoringTransformationConstant       = "authoring"
	reversibleMismatchTemplateConstant    = "reversing the pipeline produced digest %s, expected %s"
	committedLogMessageConstant           = "Committed change to destination"
	stateSavedLogMessageConstant          = "Advanced migration state"
	baselineInvalidatedLogMessageConstant = "Baseline invalidated after failure"
	baselineReleaseFailedLogMessage       = "Failed to release baseline tree"
	treeReleaseAfterCommitLogMessage      = "Failed to release working tree after committing change"
	reversibleCheckSkippedLogMessage      = "Skipping reversible check because transformations were skipped"
	destinationReferenceFieldName         = "destination_reference"
	workingTreeFieldConstant              = "working_tree"
	skippedFieldConstant                  = "skipped"
	committedConsoleTemplateConstant      = "Migrated %s as %s"
)

// migrationRun holds what a single run shares across its iterations.
type migrationRun struct {
	engine        *Engine
	logger        *zap.Logger
	definition    Definition
	options       RunOptions
	runIdentifier string
	manager       *workdir.Manager
	pipeline      *transform.Pipeline
	stateKey      state.Key

	baseline       *workdir.Baseline
	baselineSource change.Change
}

// migrate performs one iteration: acquire, materialize, transform, author, write, persist, release.
// Once the change is written and recorded, a failed release is logged and the iteration still succeeds.
func (migrationRun *migrationRun) migrate(executionContext context.Context, unit migrationUnit) (commitResult backend.CommitResult, resultError error) {
	tree, acquireError := migrationRun.manager.Acquire(executionContext)
	if acquireError != nil {
		return backend.CommitResult{}, acquireError
	}
	defer func() {
		releaseError := migrationRun.manager.Release(tree)
		if releaseError == nil {
			return
		}
		if resultError == nil {
			migrationRun.logger.Warn(treeReleaseAfterCommitLogMessage, zap.String(referenceFieldConstant, unit.target.Reference), zap.String(workingTreeFieldConstant, tree.Root()), zap.Error(releaseError))
			return
		}
		resultError = errors.Join(resultError, releaseError)
	}()
	return migrationRun.migrateInTree(executionContext, unit, tree)
}

func (migrationRun *migrationRun) migrateInTree(executionContext context.Context, unit migrationUnit, tree *workdir.Tree) (backend.CommitResult, error) {
	if materializeError := migrationRun.materialize(executionContext, unit.target, tree); materializeError != nil {
		return backend.CommitResult{}, materializeError
	}

	preDigest := ""
	if migrationRun.definition.ReversibleCheck {
		digest, digestError := tree.Digest()
		if digestError != nil {
			return backend.CommitResult{}, migrationerrors.TransformationError{Transformation: reversibleCheckTransformationConstant, Reference: unit.target.Reference, Cause: digestError}
		}
		preDigest = digest
	}

	pipelineResult, applyError := migrationRun.pipeline.Apply(executionContext, tree, unit.target.Reference)
	if applyError != nil {
		return backend.CommitResult{}, applyError
	}

	if migrationRun.definition.ReversibleCheck {
		if len(pipelineResult.Skipped) > 0 {
			migrationRun.logger.Debug(reversibleCheckSkippedLogMessage, zap.String(referenceFieldConstant, unit.target.Reference), zap.Strings(skippedFieldConstant, pipelineResult.Skipped))
		} else if checkError := migrationRun.verifyReversible(executionContext, tree, unit.target.Reference, preDigest); checkError != nil {
			return backend.CommitResult{}, checkError
		}
	}

	authored, authorError := migrationRun.definition.Authoring.Compute(authoring.Request{
		WorkflowName: migrationRun.definition.Name,
		Mode:         migrationRun.definition.Mode,
		Changes:      unit.window,
	})
	if authorError != nil {
		return backend.CommitResult{}, migrationerrors.TransformationError{Transformation: authoringTransformationConstant, Reference: unit.target.Reference, Cause: authorError}
	}

	// An in-flight write and its bookkeeping finish even when the run is canceled.
	durableContext := context.WithoutCancel(executionContext)
	written, writeError := migrationRun.definition.Destination.Write(durableContext, backend.WriteRequest{
		Tree:    tree,
		Change:  unit.target,
		Author:  authored.Author,
		Message: authored.Message,
		Provenance: backend.Provenance{
			WorkflowName:    migrationRun.definition.Name,
			OriginIdentity:  migrationRun.definition.Origin.Identity(),
			OriginReference: unit.target.Reference,
			RunID:           migrationRun.runIdentifier,
		},
	})
	if writeError != nil {
		return backend.CommitResult{}, migrationerrors.RepositoryError{Operation: migrationerrors.StepWrite, Reference: unit.target.Reference, Cause: writeError}
	}
	if len(written.OriginReference) == 0 {
		written.OriginReference = unit.target.Reference
	}
	migrationRun.logger.Info(committedLogMessageConstant,
		zap.String(referenceFieldConstant, unit.target.Reference),
		zap.String(destinationReferenceFieldName, written.DestinationReference),
		zap.String(workingTreeFieldConstant, tree.Root()),
	)
	migrationRun.engine.console.Info(fmt.Sprintf(committedConsoleTemplateConstant, unit.target.Summary(), written.DestinationReference))

	if migrationRun.definition.Mode.TracksState() {
		if saveError := migrationRun.engine.stateStore.Save(durableContext, migrationRun.stateKey, unit.target.Reference); saveError != nil {
			return backend.CommitResult{}, migrationerrors.RepositoryError{Operation: migrationerrors.StepPersist, Reference: unit.target.Reference, Cause: saveError}
		}
		migrationRun.logger.Debug(stateSavedLogMessageConstant, zap.String(referenceFieldConstant, unit.target.Reference))
	}
	return written, nil
}

// materialize fills tree with the content of target, through the baseline when enabled.
func (migrationRun *migrationRun) materialize(executionContext context.Context, target change.Change, tree *workdir.Tree) error {
	incrementalOrigin, incremental := migrationRun.definition.Origin.(backend.IncrementalOrigin)
	if !migrationRun.options.ReuseBaseline || !incremental || migrationRun.definition.Mode != change.ModeIterative {
		if materializeError := migrationRun.definition.Origin.Materialize(executionContext, target, tree); materializeError != nil {
			return migrationerrors.RepositoryError{Operation: migrationerrors.StepMaterialize, Reference: target.Reference, Cause: materializeError}
		}
		return nil
	}

	if baselineError := migrationRun.advanceBaseline(executionContext, incrementalOrigin, target); baselineError != nil {
		return migrationerrors.RepositoryError{Operation: migrationerrors.StepMaterialize, Reference: target.Reference, Cause: baselineError}
	}
	if seedError := migrationRun.baseline.Seed(tree); seedError != nil {
		return migrationerrors.RepositoryError{Operation: migrationerrors.StepMaterialize, Reference: target.Reference, Cause: seedError}
	}
	return nil
}

// advanceBaseline brings the baseline to target, by diff when it already holds an earlier change.
func (migrationRun *migrationRun) advanceBaseline(executionContext context.Context, origin backend.IncrementalOrigin, target change.Change) error {
	if migrationRun.baseline == nil {
		baseline, acquireError := migrationRun.manager.AcquireBaseline(executionContext)
		if acquireError != nil {
			return acquireError
		}
		migrationRun.baseline = baseline
	}

	var updateError error
	if len(migrationRun.baseline.Reference()) == 0 {
		updateError = origin.Materialize(executionContext, target, migrationRun.baseline.Tree())
	} else {
		updateError = origin.MaterializeDiff(executionContext, migrationRun.baselineSource, target, migrationRun.baseline.Tree())
	}
	if updateError != nil {
		if invalidateError := migrationRun.baseline.Invalidate(); invalidateError != nil {
			updateError = errors.Join(updateError, invalidateError)
		}
		migrationRun.logger.Debug(baselineInvalidatedLogMessageConstant, zap.String(referenceFieldConstant, target.Reference))
		return updateError
	}
	migrationRun.baseline.Advance(target.Reference)
	migrationRun.baselineSource = target
	return nil
}

func (migrationRun *migrationRun) releaseBaseline() {
	if migrationRun.baseline == nil {
		return
	}
	if releaseError := migrationRun.manager.ReleaseBaseline(migrationRun.baseline); releaseError != nil {
		migrationRun.logger.Warn(baselineReleaseFailedLogMessage, zap.Error(releaseError))
	}
	migrationRun.baseline = nil
}

// verifyReversible reverses a copy of the transformed tree and compares it with the pre-pipeline digest.
func (migrationRun *migrationRun) verifyReversible(executionContext context.Context, tree *workdir.Tree, reference string, expectedDigest string) error {
	return migrationRun.manager.WithTree(executionContext, func(scratch *workdir.Tree) error {
		if copyError := workdir.CopyDirectory(tree.Root(), scratch.Root(), nil); copyError != nil {
			return migrationerrors.TransformationError{Transformation: reversibleCheckTransformationConstant, Reference: reference, Cause: copyError}
		}
		if reverseError := migrationRun.pipeline.Reverse(executionContext, scratch, reference); reverseError != nil {
			return migrationerrors.TransformationError{Transformation: reversibleCheckTransformationConstant, Reference: reference, Cause: reverseError}
		}
		reversedDigest, digestError := scratch.Digest()
		if digestError != nil {
			return migrationerrors.TransformationError{Transformation: reversibleCheckTransformationConstant, Reference: reference, Cause: digestError}
		}
		if reversedDigest != expectedDigest {
			return migrationerrors.TransformationError{
				Transformation: reversibleCheckTransformationConstant,
				Reference:      reference,
				Cause:          fmt.Errorf(reversibleMismatchTemplateConstant, reversedDigest, expectedDigest),
			}
		}
		return nil
	})
}
