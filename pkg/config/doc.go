// Package config loads the crateplan tool configuration.
//
// Settings come from four layers, later layers winning: built-in defaults,
// an optional crateplan.yaml, an optional .env file, and CARGO_* environment
// variables. Every dotted key has an environment spelling derived by
// ConfigKey, so profile.release.opt-level is CARGO_PROFILE_RELEASE_OPT_LEVEL.
package config
