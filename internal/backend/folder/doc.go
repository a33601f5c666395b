// Package folder provides a snapshot-only origin over a plain directory and a
// destination that mirrors staged trees into a directory, recording provenance
// in a marker file.
package folder
