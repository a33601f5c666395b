// Package state persists migration progress: the last origin reference
// committed to a destination, keyed by workflow name, origin identity, and
// destination identity.
//
// Stores are available on the local filesystem, SQLite, PostgreSQL, and
// S3-compatible object storage. Every store guards its keys with advisory
// locks so concurrent runs of the same workflow cannot race.
package state
