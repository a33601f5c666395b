// Package migration is the workflow execution engine.
//
// An Engine validates a Definition, resolves the origin changes to migrate,
// stages each one in an exclusive working tree, runs the transformation
// pipeline, computes the destination author and message, writes the result to
// the destination and advances the migration state. SNAPSHOT runs commit the
// newest origin change and keep no state; SQUASH runs commit the newest change
// of the unmigrated window once; ITERATIVE runs commit every change in order
// and persist progress after each commit.
//
// Runs progress through LOADED, VALIDATED, RESOLVING, then either
// NOTHING_TO_DO or one or more MIGRATING/COMMITTED rounds, ending in DONE.
// FAILED is reachable from every non-terminal state.
package migration
