// Package compiler turns a Resolve into the graph of compilation units.
//
// A Unit is one target of one package, built with a profile for a kind
// (the host or a target triple) in a mode. BuildUnits starts from the
// selected targets of the root packages and follows the resolved
// dependency edges: build-dependencies and procedural macros move to the
// host, a package with a build script gets a unit that compiles the script
// and another that runs it, and every unit is interned so identical units
// are shared. The resulting UnitGraph is acyclic and can be exported as
// JSON, as Graphviz DOT or as topological levels.
package compiler
