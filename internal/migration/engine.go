package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/console"
	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
	"github.com/temirov/carbon/internal/state"
	"github.com/temirov/carbon/internal/transform"
	"github.com/temirov/carbon/internal/workdir"
)

const (
	workflowFieldConstant  = "workflow"
	referenceFieldConstant = "reference"
	modeFieldConstant      = "mode"
	runIdentifierField     = "run_id"
	changeCountFieldConst  = "changes"
	stateFieldConstant     = "state"

	validateOnlyPreconditionMessageConstant = "validate-only runs must not enter the migration path"
	stateStoreMissingErrorMessageConstant   = "migration engine requires a state store"
	latestReferenceLabelConstant            = "latest"
	canceledErrorTemplateConstant           = "migration of workflow %s canceled before %s: %w"
	unlockFailedLogMessageConstant          = "Failed to release migration state lock"
	runStartedLogMessageConstant            = "Starting migration run"
	runFinishedLogMessageConstant           = "Migration run finished"
	runFailedLogMessageConstant             = "Migration run failed"
	changesResolvedLogMessageConstant       = "Resolved changes"
	workdirCloseFailedLogMessageConstant    = "Failed to clean up working directories"

	validationFailedConsoleTemplateConstant = "Validation failed: %s"
	nothingToDoConsoleTemplateConstant      = "Workflow %s: nothing to migrate"
	resolvedConsoleTemplateConstant         = "Workflow %s: %d change(s) to migrate in %s mode"
	runFailedConsoleTemplateConstant        = "Workflow %s failed: %v"
)

// ErrStateStoreNotConfigured indicates that an Engine was constructed without a state store.
var ErrStateStoreNotConfigured = errors.New(stateStoreMissingErrorMessageConstant)

// Dependencies are the collaborators an Engine needs.
type Dependencies struct {
	Logger     *zap.Logger
	Console    console.Console
	StateStore state.Store
	Clock      clock.Clock
}

// RunOptions are the per-run switches supplied by the caller.
type RunOptions struct {
	// BaseWorkdir is the directory under which working trees are created. Empty uses the system temporary directory.
	BaseWorkdir string
	// SourceReference is the requested origin reference. Empty resolves the latest one.
	SourceReference string
	// ValidateOnly marks a validation-only invocation; Run refuses it.
	ValidateOnly bool
	// LastRevision overrides the stored migration state for this run and skips the drift check.
	LastRevision string
	// ReuseBaseline seeds iterative working trees from an incrementally updated baseline.
	ReuseBaseline bool
	// KeepWorkdirs leaves working trees on disk after each step.
	KeepWorkdirs bool
	// RecycleWorkdirs clears released working trees and hands them to later steps of the same run.
	RecycleWorkdirs bool
}

// RunResult reports what a run did.
type RunResult struct {
	RunID         string
	Workflow      string
	Mode          change.MigrationMode
	FinalState    State
	Transitions   []State
	Commits       []backend.CommitResult
	LastReference string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Engine drives workflows through validation, resolution and migration.
type Engine struct {
	logger     *zap.Logger
	console    console.Console
	stateStore state.Store
	clock      clock.Clock
}

// NewEngine constructs an Engine.
func NewEngine(dependencies Dependencies) (*Engine, error) {
	if dependencies.StateStore == nil {
		return nil, ErrStateStoreNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engineConsole := dependencies.Console
	if engineConsole == nil {
		engineConsole = console.NopConsole{}
	}
	wallClock := dependencies.Clock
	if wallClock == nil {
		wallClock = clock.WallClock
	}
	return &Engine{logger: logger, console: engineConsole, stateStore: dependencies.StateStore, clock: wallClock}, nil
}

// Run executes the workflow. Validation completes before any origin or destination mutation.
func (engine *Engine) Run(executionContext context.Context, definition Definition, options RunOptions) (RunResult, error) {
	if options.ValidateOnly {
		return RunResult{}, migrationerrors.PreconditionError{Message: validateOnlyPreconditionMessageConstant}
	}

	runIdentifier := uuid.NewString()
	runLogger := engine.logger.With(
		zap.String(workflowFieldConstant, definition.Name),
		zap.String(modeFieldConstant, definition.Mode.String()),
		zap.String(runIdentifierField, runIdentifier),
	)
	machine := newStateMachine(runLogger)
	result := RunResult{RunID: runIdentifier, Workflow: definition.Name, Mode: definition.Mode, StartedAt: engine.clock.Now()}

	runLogger.Info(runStartedLogMessageConstant, zap.String(referenceFieldConstant, describeRequestedReference(options.SourceReference)))
	runError := engine.run(executionContext, runLogger, machine, definition, options, runIdentifier, &result)
	if runError != nil {
		machine.Fail()
		runLogger.Warn(runFailedLogMessageConstant, zap.String(stateFieldConstant, string(machine.Current())), zap.Error(runError))
		if migrationerrors.KindOf(runError) != migrationerrors.KindValidation {
			engine.console.Error(fmt.Sprintf(runFailedConsoleTemplateConstant, definition.Name, runError))
		}
	} else {
		runLogger.Info(runFinishedLogMessageConstant, zap.Int(changeCountFieldConst, len(result.Commits)), zap.String(referenceFieldConstant, result.LastReference))
	}

	result.FinalState = machine.Current()
	result.Transitions = machine.Transitions()
	result.FinishedAt = engine.clock.Now()
	return result, runError
}

func (engine *Engine) run(executionContext context.Context, runLogger *zap.Logger, machine *stateMachine, definition Definition, options RunOptions, runIdentifier string, result *RunResult) error {
	structuralReport := validateStructure(definition)
	if !structuralReport.IsValid() {
		engine.reportValidation(structuralReport)
		return structuralReport.Err()
	}

	if definition.Mode.TracksState() {
		unlock, lockError := engine.stateStore.Lock(executionContext, definition.StateKey())
		if lockError != nil {
			return migrationerrors.RepositoryError{Operation: migrationerrors.StepLock, Reference: definition.StateKey().String(), Cause: lockError}
		}
		defer func() {
			if unlockError := unlock(); unlockError != nil {
				runLogger.Warn(unlockFailedLogMessageConstant, zap.Error(unlockError))
			}
		}()
	}

	outcome, validationError := engine.validate(executionContext, definition, options)
	if validationError != nil {
		return validationError
	}
	if !outcome.report.IsValid() {
		engine.reportValidation(outcome.report)
		return outcome.report.Err()
	}
	if transitionError := machine.Transition(StateValidated); transitionError != nil {
		return transitionError
	}

	if transitionError := machine.Transition(StateResolving); transitionError != nil {
		return transitionError
	}
	if contextError := executionContext.Err(); contextError != nil {
		return fmt.Errorf(canceledErrorTemplateConstant, definition.Name, describeRequestedReference(options.SourceReference), contextError)
	}
	sequence, resolveError := definition.Origin.ResolveForMode(executionContext, definition.Mode, outcome.lastMigrated, options.SourceReference)
	if resolveError != nil {
		return migrationerrors.RepositoryError{Operation: migrationerrors.StepResolve, Reference: describeRequestedReference(options.SourceReference), Cause: resolveError}
	}
	runLogger.Debug(changesResolvedLogMessageConstant, zap.Strings(referenceFieldConstant, sequence.References()))

	if sequence.IsEmpty() {
		if transitionError := machine.Transition(StateNothingToDo); transitionError != nil {
			return transitionError
		}
		engine.console.Info(fmt.Sprintf(nothingToDoConsoleTemplateConstant, definition.Name))
		return machine.Transition(StateDone)
	}
	units := unitsForMode(definition.Mode, sequence)
	engine.console.Info(fmt.Sprintf(resolvedConsoleTemplateConstant, definition.Name, len(sequence), definition.Mode))

	manager, managerError := workdir.NewManager(workdir.Configuration{BaseDirectory: options.BaseWorkdir, KeepTrees: options.KeepWorkdirs, RecycleTrees: options.RecycleWorkdirs}, runLogger)
	if managerError != nil {
		return managerError
	}
	defer func() {
		if closeError := manager.Close(); closeError != nil {
			runLogger.Warn(workdirCloseFailedLogMessageConstant, zap.Error(closeError))
		}
	}()

	migrationRun := &migrationRun{
		engine:        engine,
		logger:        runLogger,
		definition:    definition,
		options:       options,
		runIdentifier: runIdentifier,
		manager:       manager,
		pipeline:      transform.NewPipeline(runLogger, definition.Transformations...),
		stateKey:      definition.StateKey(),
	}
	defer migrationRun.releaseBaseline()

	for _, unit := range units {
		if contextError := executionContext.Err(); contextError != nil {
			return fmt.Errorf(canceledErrorTemplateConstant, definition.Name, unit.target.Reference, contextError)
		}
		if transitionError := machine.Transition(StateMigrating); transitionError != nil {
			return transitionError
		}
		commitResult, migrateError := migrationRun.migrate(executionContext, unit)
		if migrateError != nil {
			return migrateError
		}
		result.Commits = append(result.Commits, commitResult)
		result.LastReference = unit.target.Reference
		if transitionError := machine.Transition(StateCommitted); transitionError != nil {
			return transitionError
		}
	}
	return machine.Transition(StateDone)
}

func (engine *Engine) reportValidation(report Report) {
	for _, message := range report.Messages {
		engine.console.Error(fmt.Sprintf(validationFailedConsoleTemplateConstant, message))
	}
}

// migrationUnit is one destination commit: the change whose content is committed and the window it represents.
type migrationUnit struct {
	target change.Change
	window change.Sequence
}

// unitsForMode splits a resolved sequence into destination commits. SNAPSHOT and SQUASH collapse the
// window into its newest change; ITERATIVE commits every change in order.
func unitsForMode(mode change.MigrationMode, sequence change.Sequence) []migrationUnit {
	if mode == change.ModeIterative {
		units := make([]migrationUnit, 0, len(sequence))
		for _, source := range sequence {
			units = append(units, migrationUnit{target: source, window: change.Sequence{source}})
		}
		return units
	}
	lastChange, found := sequence.Last()
	if !found {
		return nil
	}
	return []migrationUnit{{target: lastChange, window: sequence}}
}

func describeRequestedReference(reference string) string {
	if len(strings.TrimSpace(reference)) == 0 {
		return latestReferenceLabelConstant
	}
	return reference
}
