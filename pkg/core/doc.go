// Package core holds the data model shared by the resolver and the unit graph
// builder: package identities and sources, dependency declarations, per-version
// summaries, build targets, platform predicates and the error taxonomy.
//
// Every identity type here (SourceId, PackageId) is a comparable value so it
// can key maps directly. Anything observable is sorted before it leaves a
// package; map iteration order never reaches callers.
package core
