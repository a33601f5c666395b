// Package authoring maps origin authors and messages to the identities and
// commit messages written to the destination.
package authoring
