package change

import (
	"fmt"
	"strings"
)

// MigrationMode controls how many destination commits a resolved sequence produces.
type MigrationMode string

// Supported migration modes.
const (
	ModeSnapshot  MigrationMode = "SNAPSHOT"
	ModeSquash    MigrationMode = "SQUASH"
	ModeIterative MigrationMode = "ITERATIVE"
)

const unsupportedModeErrorTemplateConstant = "unsupported migration mode %q (expected snapshot, squash, or iterative)"

// ParseMigrationMode parses a mode name case-insensitively.
func ParseMigrationMode(rawMode string) (MigrationMode, error) {
	switch MigrationMode(strings.ToUpper(strings.TrimSpace(rawMode))) {
	case ModeSnapshot:
		return ModeSnapshot, nil
	case ModeSquash:
		return ModeSquash, nil
	case ModeIterative:
		return ModeIterative, nil
	default:
		return "", fmt.Errorf(unsupportedModeErrorTemplateConstant, rawMode)
	}
}

// IsValid reports whether the mode is one of the supported modes.
func (mode MigrationMode) IsValid() bool {
	switch mode {
	case ModeSnapshot, ModeSquash, ModeIterative:
		return true
	default:
		return false
	}
}

// TracksState reports whether runs in this mode read and advance migration state.
func (mode MigrationMode) TracksState() bool {
	return mode == ModeSquash || mode == ModeIterative
}

// String returns the canonical mode name.
func (mode MigrationMode) String() string {
	return string(mode)
}
