// Package resolver selects concrete package versions for a workspace.
//
// The solver walks a FIFO worklist of dependencies. For each one it asks a
// Registry for candidates, orders them (locked, then newest) and activates
// the first that fits the packages already selected. At most one version is
// active per name, source and semver-compatible range, and a native library
// named by `links` is claimed by at most one package per build context.
// When every candidate is rejected the solver returns to the latest choice
// point that still has untried candidates; choice points store a copy of
// the solver state, so nothing has to be undone.
//
// Features are unified per activated package: every request reaching a
// package is merged and closed with UnifyFeatures, and a package whose
// feature set grows has its dependencies queued again.
//
// The result is a Resolve, which can be written to and read from a TOML
// lockfile with EncodeLockfile and DecodeLockfile.
package resolver
