// Package cli constructs the carbon command-line interface. It wires the
// Cobra command hierarchy to the configuration loader, the zap logger, and
// the migration commands defined in cmd/cli/workflow.
package cli
