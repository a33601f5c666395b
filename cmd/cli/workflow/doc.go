// Package workflow provides the migrate, validate, and state commands that
// load a workflow file and drive the migration engine.
package workflow
