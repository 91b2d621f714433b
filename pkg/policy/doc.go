// Package policy evaluates Open Policy Agent (Rego) policies against a
// resolved dependency graph.
//
// Every policy is a Rego module with a deny rule. The input document is the
// flattened resolve (see Input): the workspace roots and every activated
// package with its version, source, features, yanked flag and dependency
// edges. Each element of deny is a violation, either a message string or an
// object:
//
//	package crateplan.policies.example
//
//	import rego.v1
//
//	deny contains violation if {
//		some pkg in input.packages
//		pkg.source_kind == "git"
//		violation := {"message": sprintf("%s is taken from git", [pkg.name]), "package": pkg.id}
//	}
//
// Violations inherit the policy's severity unless they carry their own.
// A violation with error severity rejects the resolve; warnings are only
// reported.
//
// # Built-in policies
//
//   - banned-packages: packages listed under data.crateplan.banned
//   - allowed-registries: registry packages outside data.crateplan.allowed_registries
//   - duplicate-versions: a package activated at several versions from one source
//   - git-sources: non-member packages taken from git
//   - yanked-packages: yanked versions kept by the lockfile
//
// Additional policies are read from .rego and .json files with a Loader,
// which can also watch a policy directory and reload it on change.
package policy
