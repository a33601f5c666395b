package migration

import (
	"github.com/temirov/carbon/internal/authoring"
	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	migrationerrors "github.com/temirov/carbon/internal/migration/errors"
	"github.com/temirov/carbon/internal/state"
	"github.com/temirov/carbon/internal/transform"
)

// Definition is a loaded workflow. It is treated as immutable for the duration of a run.
type Definition struct {
	Name            string
	Mode            change.MigrationMode
	Origin          backend.Origin
	Destination     backend.Destination
	Transformations []transform.Step
	Authoring       authoring.Authoring
	// RequireTransformations rejects an empty pipeline.
	RequireTransformations bool
	// ReversibleCheck requires a reversible pipeline and verifies every applied change round-trips.
	ReversibleCheck bool
}

// StateKey returns the migration state key of the definition.
func (definition Definition) StateKey() state.Key {
	key := state.Key{Workflow: definition.Name}
	if definition.Origin != nil {
		key.Origin = definition.Origin.Identity()
	}
	if definition.Destination != nil {
		key.Destination = definition.Destination.Identity()
	}
	return key
}

// Report lists validation messages in the order they were found. An empty report is valid.
type Report struct {
	Messages []string
}

// IsValid reports whether the report carries no messages.
func (report Report) IsValid() bool {
	return len(report.Messages) == 0
}

// Err converts a non-empty report into a ValidationError.
func (report Report) Err() error {
	if report.IsValid() {
		return nil
	}
	return migrationerrors.ValidationError{Messages: append([]string(nil), report.Messages...)}
}

func (report *Report) add(message string) {
	report.Messages = append(report.Messages, message)
}
