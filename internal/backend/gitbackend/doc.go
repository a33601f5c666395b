// Package gitbackend implements backend.Origin and backend.Destination on top
// of the git command line.
//
// The origin keeps a mirror clone per remote in the cache directory, windows
// history with git log revision ranges and materializes trees with git
// archive. The destination stages trees through a throwaway index, commits
// them with a Carbon-Origin-Ref trailer and pushes with retries.
package gitbackend
