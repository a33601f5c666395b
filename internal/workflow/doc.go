// Package workflow loads workflow files and builds migration definitions from them.
//
// A workflow file is YAML, JSON, or TOML. It is checked against an embedded
// JSON schema, decoded into Configuration, and turned into
// migration.Definition values on demand by a Catalog.
package workflow
