// Package stores persists crateplan state in SQLite: a local registry index
// the resolver can read package versions from, and a history of resolve
// and plan runs with their packages, lockfiles and diagnostics.
//
// The schema is applied with embedded golang-migrate migrations. File
// databases run in WAL mode; ":memory:" databases are limited to a single
// connection so every query sees the same data.
package stores
