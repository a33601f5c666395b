// Package change models origin history: authors, changes, ordered change
// sequences, and the migration modes that decide how a sequence is committed.
package change
