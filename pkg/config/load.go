package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Loader merges the configuration layers. The zero value reads the process
// environment and a ".env" file next to the configuration file.
type Loader struct {
	// LookupEnv reads the environment. Nil means os.LookupEnv.
	LookupEnv func(key string) (string, bool)

	// EnvFile is the dotenv file. Empty means ".env" in the directory of
	// the configuration file; "-" disables it.
	EnvFile string
}

// Load merges defaults, the YAML file at path, the dotenv file and CARGO_*
// variables, then validates the result. A missing file at path is not an
// error; an empty path skips the file.
func Load(path string) (*Config, error) {
	return (&Loader{}).Load(path)
}

// Load implements the package-level Load with the loader's environment.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	env, err := l.environment(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return core.NewError(core.ErrCodeValidation, fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}

// environment returns a lookup that prefers the process environment over
// the dotenv file.
func (l *Loader) environment(path string) (func(string) (string, bool), error) {
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envFile := l.EnvFile
	if envFile == "-" {
		return lookup, nil
	}
	if envFile == "" {
		dir := "."
		if path != "" {
			dir = filepath.Dir(path)
		}
		envFile = filepath.Join(dir, ".env")
	}

	dotenv, err := godotenv.Read(envFile)
	if errors.Is(err, fs.ErrNotExist) {
		return lookup, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// envSetting applies one environment variable to the configuration.
type envSetting struct {
	key   string
	apply func(c *Config, v string) error
}

var envSettings = []envSetting{
	{"build.target", func(c *Config, v string) error { c.Build.Targets = splitList(v); return nil }},
	{"build.host", func(c *Config, v string) error { c.Build.Host = v; return nil }},
	{"build.profile", func(c *Config, v string) error { c.Build.Profile = v; return nil }},
	{"build.mode", func(c *Config, v string) error { c.Build.Mode = v; return nil }},
	{"build.build-std", boolSetting(func(c *Config) *bool { return &c.Build.BuildStd })},
	{"build.std-crates", func(c *Config, v string) error { c.Build.StdCrates = splitList(v); return nil }},
	{"resolver.features", func(c *Config, v string) error { c.Resolver.Features = splitList(v); return nil }},
	{"resolver.all-features", boolSetting(func(c *Config) *bool { return &c.Resolver.AllFeatures })},
	{"resolver.no-default-features", boolSetting(func(c *Config) *bool { return &c.Resolver.NoDefaultFeatures })},
	{"resolver.dev-deps", boolSetting(func(c *Config) *bool { return &c.Resolver.DevDeps })},
	{"resolver.one-version-per-source", boolSetting(func(c *Config) *bool { return &c.Resolver.OneVersionPerSource })},
	{"resolver.max-ticks", intSetting(func(c *Config) *int { return &c.Resolver.MaxTicks })},
	{"resolver.cache-size", intSetting(func(c *Config) *int { return &c.Resolver.CacheSize })},
	{"paths.lockfile", func(c *Config, v string) error { c.Paths.Lockfile = v; return nil }},
	{"paths.index-db", func(c *Config, v string) error { c.Paths.IndexDB = v; return nil }},
	{"paths.policy-dir", func(c *Config, v string) error { c.Paths.PolicyDir = v; return nil }},
	{"telemetry.logging.level", func(c *Config, v string) error { c.Telemetry.Logging.Level = v; return nil }},
	{"telemetry.logging.format", func(c *Config, v string) error { c.Telemetry.Logging.Format = v; return nil }},
	{"telemetry.tracing.exporter", func(c *Config, v string) error {
		c.Telemetry.Tracing.Exporter = v
		c.Telemetry.Tracing.Enabled = v != "none"
		return nil
	}},
	{"telemetry.tracing.endpoint", func(c *Config, v string) error { c.Telemetry.Tracing.Endpoint = v; return nil }},
	{"telemetry.metrics.listen-address", func(c *Config, v string) error { c.Telemetry.Metrics.ListenAddress = v; return nil }},
	{"telemetry.metrics.text-file", func(c *Config, v string) error { c.Telemetry.Metrics.TextFile = v; return nil }},
}

// profileFields are the keys of one profile table.
var profileFields = []string{
	"inherits", "opt-level", "debug", "debug-assertions", "overflow-checks",
	"lto", "codegen-units", "panic", "incremental",
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, s := range envSettings {
		key := ParseConfigKey(s.key)
		if v, ok := lookup(key.EnvKey()); ok {
			if err := s.apply(cfg, v); err != nil {
				return envError(key, v, err)
			}
		}
	}

	override, err := applyProfileEnv(ParseConfigKey("build.build-override"), cfg.Build.Override, lookup)
	if err != nil {
		return err
	}
	cfg.Build.Override = override

	names := map[string]bool{
		compiler.ProfileDev: true, compiler.ProfileRelease: true,
		compiler.ProfileTest: true, compiler.ProfileBench: true,
	}
	for name := range cfg.Profile {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	key := NewConfigKey()
	key.Push("profile")
	for _, name := range sorted {
		key.Push(name)
		def, err := applyProfileEnv(key, cfg.Profile[name], lookup)
		key.Pop()
		if err != nil {
			return err
		}
		if def != cfg.Profile[name] {
			if cfg.Profile == nil {
				cfg.Profile = make(map[string]compiler.ProfileDef)
			}
			cfg.Profile[name] = def
		}
	}
	return nil
}

// applyProfileEnv overlays the variables under key onto def.
func applyProfileEnv(key *ConfigKey, def compiler.ProfileDef, lookup func(string) (string, bool)) (compiler.ProfileDef, error) {
	for _, field := range profileFields {
		key.Push(field)
		v, ok := lookup(key.EnvKey())
		if ok {
			if err := setProfileField(&def, field, v); err != nil {
				err = envError(key, v, err)
				key.Pop()
				return def, err
			}
		}
		key.Pop()
	}
	return def, nil
}

func setProfileField(def *compiler.ProfileDef, field, v string) error {
	switch field {
	case "inherits":
		def.Inherits = v
	case "opt-level":
		def.OptLevel = &v
	case "lto":
		def.LTO = &v
	case "panic":
		def.Panic = &v
	case "debug":
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		def.Debuginfo = &n
	case "codegen-units":
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		def.CodegenUnits = &n
	case "debug-assertions", "overflow-checks", "incremental":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		switch field {
		case "debug-assertions":
			def.DebugAssertions = &b
		case "overflow-checks":
			def.OverflowChecks = &b
		default:
			def.Incremental = &b
		}
	}
	return nil
}

func boolSetting(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func intSetting(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envError(key *ConfigKey, v string, err error) error {
	return core.NewError(core.ErrCodeValidation,
		fmt.Sprintf("invalid value %q for %s (from %s)", v, key, key.EnvKey()), err)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.TrimPrefix(e.Namespace(), "Config."), e.Tag()))
	}
	return strings.Join(parts, "; ")
}
