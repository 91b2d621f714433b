package config

import (
	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// DefaultFile is the configuration file looked up next to the workspace.
const DefaultFile = "crateplan.yaml"

// Config is the tool configuration. It is separate from the workspace
// description: it says how to resolve and plan, not what is being built.
type Config struct {
	Build BuildConfig `yaml:"build"`

	// Profile customizes built-in profiles and declares new ones.
	Profile map[string]compiler.ProfileDef `yaml:"profile,omitempty" validate:"dive"`

	Resolver ResolverConfig `yaml:"resolver"`

	Paths PathsConfig `yaml:"paths"`

	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// BuildConfig selects what the unit graph is built for.
type BuildConfig struct {
	// Targets are the requested target triples. Empty means the host.
	Targets []string `yaml:"target,omitempty" validate:"dive,required"`

	// Host is the host triple. Empty disables platform filtering of host
	// units.
	Host string `yaml:"host,omitempty"`

	Profile string `yaml:"profile" validate:"required"`

	Mode string `yaml:"mode" validate:"oneof=build check test bench doc"`

	// BuildStd builds the standard library from source for each target.
	BuildStd bool `yaml:"build-std,omitempty"`

	// StdCrates are the std crates target units link. Empty means
	// compiler.DefaultStdCrates.
	StdCrates []string `yaml:"std-crates,omitempty"`

	// Override applies to build scripts, procedural macros and their
	// dependencies.
	Override compiler.ProfileDef `yaml:"build-override,omitempty"`
}

// ResolverConfig holds the resolve options.
type ResolverConfig struct {
	Features          []string `yaml:"features,omitempty"`
	AllFeatures       bool     `yaml:"all-features,omitempty"`
	NoDefaultFeatures bool     `yaml:"no-default-features,omitempty"`

	// DevDeps includes the dev-dependencies of workspace members.
	DevDeps bool `yaml:"dev-deps"`

	// OneVersionPerSource forbids semver-compatible duplicates.
	OneVersionPerSource bool `yaml:"one-version-per-source,omitempty"`

	MaxTicks int `yaml:"max-ticks" validate:"min=0"`

	// CacheSize is the number of registry answers kept in memory. Zero
	// disables the cache.
	CacheSize int `yaml:"cache-size" validate:"min=0"`
}

// PathsConfig locates the files crateplan reads and writes. Relative paths
// are relative to the workspace directory.
type PathsConfig struct {
	Lockfile string `yaml:"lockfile" validate:"required"`

	// IndexDB is the SQLite database holding the registry index and the
	// resolve history. Empty disables both.
	IndexDB string `yaml:"index-db,omitempty"`

	// PolicyDir holds Rego policies evaluated after each resolve.
	PolicyDir string `yaml:"policy-dir,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			Profile: compiler.ProfileDev,
			Mode:    compiler.ModeBuild.String(),
		},
		Resolver: ResolverConfig{
			DevDeps:   true,
			MaxTicks:  resolver.DefaultMaxTicks,
			CacheSize: 1024,
		},
		Paths: PathsConfig{
			Lockfile: "Cargo.lock",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks struct tags, the telemetry settings and the profile
// table.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return core.NewError(core.ErrCodeValidation, "invalid configuration: "+describe(err), err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return core.NewError(core.ErrCodeValidation, "invalid telemetry configuration", err)
	}
	profiles, err := c.Profiles()
	if err != nil {
		return err
	}
	if _, err := profiles.Get(c.Build.Profile); err != nil {
		return err
	}
	return nil
}

// Profiles resolves the profile table.
func (c *Config) Profiles() (*compiler.Profiles, error) {
	return compiler.NewProfiles(c.Profile, c.Build.Override)
}

// Mode returns the configured compile mode.
func (c *Config) Mode() compiler.CompileMode {
	m, err := compiler.ParseCompileMode(c.Build.Mode)
	if err != nil {
		return compiler.ModeBuild
	}
	return m
}

// Kinds returns the requested compile kinds, the host when no target is
// configured.
func (c *Config) Kinds() []compiler.CompileKind {
	if len(c.Build.Targets) == 0 {
		return []compiler.CompileKind{compiler.Host}
	}
	kinds := make([]compiler.CompileKind, 0, len(c.Build.Targets))
	for _, t := range c.Build.Targets {
		kinds = append(kinds, compiler.ForTarget(t))
	}
	return kinds
}

// Platforms returns the target descriptions used to filter
// platform-specific dependencies. Empty when nothing narrows the set.
func (c *Config) Platforms() []core.TargetInfo {
	var out []core.TargetInfo
	for _, t := range c.Build.Targets {
		out = append(out, core.TargetInfoFromTriple(t))
	}
	if len(out) > 0 && c.Build.Host != "" {
		out = append(out, core.TargetInfoFromTriple(c.Build.Host))
	}
	return out
}

// ResolveOpts converts the resolver section.
func (c *Config) ResolveOpts() resolver.ResolveOpts {
	opts := resolver.DefaultResolveOpts()
	opts.Features = append([]string(nil), c.Resolver.Features...)
	opts.AllFeatures = c.Resolver.AllFeatures
	opts.UsesDefaultFeatures = !c.Resolver.NoDefaultFeatures
	opts.DevDeps = c.Resolver.DevDeps
	opts.OneVersionPerSource = c.Resolver.OneVersionPerSource
	if c.Resolver.MaxTicks > 0 {
		opts.MaxTicks = c.Resolver.MaxTicks
	}
	opts.Platforms = c.Platforms()
	return opts
}
