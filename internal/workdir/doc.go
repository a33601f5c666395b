// Package workdir manages the staging directories that hold one change at a
// time while it is materialized, transformed, and written.
//
// Manager hands out exclusive Trees and releases them on every exit path,
// optionally keeping them for inspection or recycling them between changes.
package workdir
