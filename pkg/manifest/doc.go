// Package manifest loads workspace descriptions.
//
// A workspace lists its member packages and the registry packages they may
// depend on. The description can be written in YAML, CUE or Starlark; the
// format follows the file extension. Every form decodes to the same
// Workspace value and passes the same validation.
//
// Starlark files declare packages with builtins:
//
//	package("app", "0.1.0",
//	    deps = [dep("log", "^0.4"), dep("util", path = "../util")],
//	    targets = [target("lib"), target("bin", "app")],
//	)
//	registry("log", "0.4.21")
//
// Build turns a Workspace into core summaries, a resolver registry and the
// package set used by the unit graph builder.
package manifest
