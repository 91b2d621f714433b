package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigKey(t *testing.T) {
	key := ParseConfigKey("build.target")
	assert.Equal(t, "CARGO_BUILD_TARGET", key.EnvKey())
	assert.Equal(t, "build.target", key.String())

	key = NewConfigKey()
	key.Push("profile")
	key.Push("release")
	key.Push("opt-level")
	assert.Equal(t, "CARGO_PROFILE_RELEASE_OPT_LEVEL", key.EnvKey())
	assert.Equal(t, "profile.release.opt-level", key.String())

	key.Pop()
	key.Push("codegen-units")
	assert.Equal(t, "CARGO_PROFILE_RELEASE_CODEGEN_UNITS", key.EnvKey())
	assert.Equal(t, []string{"profile", "release", "codegen-units"}, key.Parts())

	key.Pop()
	key.Pop()
	key.Pop()
	key.Pop()
	assert.Equal(t, "CARGO", key.EnvKey())
	assert.Equal(t, "", key.String())
}

func TestDefaults(t *testing.T) {
	cfg, err := (&Loader{LookupEnv: envMap(nil), EnvFile: "-"}).Load("")
	require.NoError(t, err)

	assert.Equal(t, compiler.ProfileDev, cfg.Build.Profile)
	assert.Equal(t, compiler.ModeBuild, cfg.Mode())
	assert.Equal(t, []compiler.CompileKind{compiler.Host}, cfg.Kinds())
	assert.Equal(t, "Cargo.lock", cfg.Paths.Lockfile)
	assert.Equal(t, "crateplan", cfg.Telemetry.ServiceName)

	opts := cfg.ResolveOpts()
	assert.True(t, opts.DevDeps)
	assert.True(t, opts.UsesDefaultFeatures)
	assert.Equal(t, resolver.DefaultMaxTicks, opts.MaxTicks)
	assert.Empty(t, opts.Platforms)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, DefaultFile, `
build:
  target: [x86_64-unknown-linux-gnu, aarch64-apple-darwin]
  host: x86_64-unknown-linux-gnu
  profile: ci
  mode: check
  build-std: true
profile:
  ci:
    inherits: release
    debug: 1
    lto: thin
resolver:
  features: [serde, app/cli]
  no-default-features: true
  dev-deps: false
  one-version-per-source: true
  max-ticks: 5000
paths:
  lockfile: locks/Cargo.lock
  index-db: .crateplan/index.db
telemetry:
  logging:
    level: debug
`)

	cfg, err := (&Loader{LookupEnv: envMap(nil)}).Load(path)
	require.NoError(t, err)

	assert.Equal(t, compiler.ModeCheck, cfg.Mode())
	assert.True(t, cfg.Build.BuildStd)
	assert.Equal(t, []compiler.CompileKind{
		compiler.ForTarget("x86_64-unknown-linux-gnu"),
		compiler.ForTarget("aarch64-apple-darwin"),
	}, cfg.Kinds())
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, "console", cfg.Telemetry.Logging.Format, "unset telemetry fields keep their defaults")

	profiles, err := cfg.Profiles()
	require.NoError(t, err)
	ci, err := profiles.Get("ci")
	require.NoError(t, err)
	assert.Equal(t, "3", ci.OptLevel)
	assert.Equal(t, 1, ci.Debuginfo)
	assert.Equal(t, "thin", ci.LTO)
	assert.Equal(t, "ci", ci.Dir(), "custom profiles use their own directory")

	opts := cfg.ResolveOpts()
	assert.Equal(t, []string{"serde", "app/cli"}, opts.Features)
	assert.False(t, opts.UsesDefaultFeatures)
	assert.False(t, opts.DevDeps)
	assert.True(t, opts.OneVersionPerSource)
	assert.Equal(t, 5000, opts.MaxTicks)
	assert.Len(t, opts.Platforms, 3)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, DefaultFile, `
build:
  profile: release
resolver:
  features: [a]
`)
	writeFile(t, dir, ".env", "CARGO_RESOLVER_FEATURES=from-dotenv\nCARGO_PATHS_LOCKFILE=dotenv.lock\n")

	cfg, err := (&Loader{LookupEnv: envMap(map[string]string{
		"CARGO_BUILD_TARGET":                   "wasm32-unknown-unknown, x86_64-pc-windows-msvc",
		"CARGO_PROFILE_RELEASE_OPT_LEVEL":      "s",
		"CARGO_PROFILE_RELEASE_CODEGEN_UNITS":  "1",
		"CARGO_PROFILE_DEV_INCREMENTAL":        "false",
		"CARGO_BUILD_BUILD_OVERRIDE_OPT_LEVEL": "0",
		"CARGO_PATHS_LOCKFILE":                 "env.lock",
		"CARGO_TELEMETRY_LOGGING_LEVEL":        "error",
	})}).Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"wasm32-unknown-unknown", "x86_64-pc-windows-msvc"}, cfg.Build.Targets)
	assert.Equal(t, []string{"from-dotenv"}, cfg.Resolver.Features, "dotenv beats the file")
	assert.Equal(t, "env.lock", cfg.Paths.Lockfile, "the environment beats dotenv")
	assert.Equal(t, "error", cfg.Telemetry.Logging.Level)

	profiles, err := cfg.Profiles()
	require.NoError(t, err)
	release, err := profiles.Get(compiler.ProfileRelease)
	require.NoError(t, err)
	assert.Equal(t, "s", release.OptLevel)
	assert.Equal(t, 1, release.CodegenUnits)

	dev, err := profiles.Get(compiler.ProfileDev)
	require.NoError(t, err)
	assert.False(t, dev.Incremental)

	host, err := profiles.ForUnit(compiler.ProfileRelease, compiler.ModeBuild, true)
	require.NoError(t, err)
	assert.Equal(t, "0", host.OptLevel)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := (&Loader{LookupEnv: envMap(nil)}).Load(filepath.Join(t.TempDir(), DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, compiler.ProfileDev, cfg.Build.Profile)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		message string
	}{
		{
			name:    "unknown field",
			file:    "build:\n  profil: dev\n",
			message: "failed to parse",
		},
		{
			name:    "bad mode",
			file:    "build:\n  mode: run\n",
			message: "Build.Mode",
		},
		{
			name:    "unknown profile",
			file:    "build:\n  profile: fast\n",
			message: "profile `fast` is not defined",
		},
		{
			name:    "custom profile without inherits",
			file:    "profile:\n  fast:\n    debug: 0\n",
			message: "missing an `inherits` directive",
		},
		{
			name:    "bad opt level",
			file:    "profile:\n  release:\n    opt-level: \"9\"\n",
			message: "OptLevel",
		},
		{
			name:    "bad bool in env",
			env:     map[string]string{"CARGO_RESOLVER_ALL_FEATURES": "maybe"},
			message: "CARGO_RESOLVER_ALL_FEATURES",
		},
		{
			name:    "bad int in profile env",
			env:     map[string]string{"CARGO_PROFILE_DEV_DEBUG": "lots"},
			message: "profile.dev.debug",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"CARGO_TELEMETRY_LOGGING_LEVEL": "loud"},
			message: "Level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := ""
			if tt.file != "" {
				path = writeFile(t, dir, DefaultFile, tt.file)
			}
			_, err := (&Loader{LookupEnv: envMap(tt.env), EnvFile: "-"}).Load(path)
			require.Error(t, err)
			assert.Equal(t, core.ErrCodeValidation, core.CodeOf(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestProcessEnvironment(t *testing.T) {
	t.Setenv("CARGO_BUILD_MODE", "test")
	cfg, err := (&Loader{EnvFile: "-"}).Load("")
	require.NoError(t, err)
	assert.Equal(t, compiler.ModeTest, cfg.Mode())
}
