package manifest

// Workspace is a workspace description: the member packages being built and
// the registry packages available to them.
type Workspace struct {
	// Members are the packages of the workspace. They are the resolve roots.
	Members []PackageSpec `yaml:"members" json:"members" validate:"required,min=1,dive"`

	// Registry lists packages published to registries or git repositories.
	Registry []PackageSpec `yaml:"registry,omitempty" json:"registry,omitempty" validate:"dive"`
}

// PackageSpec declares one package.
type PackageSpec struct {
	Name    string `yaml:"name" json:"name" validate:"required,cratename"`
	Version string `yaml:"version" json:"version" validate:"required,semver"`

	// Source is the encoded source id of a registry entry, for example
	// "git+https://github.com/x/y?branch=main". Empty means the default
	// registry. Members ignore it.
	Source string `yaml:"source,omitempty" json:"source,omitempty" validate:"omitempty,sourceid"`

	// Path is the member directory relative to the workspace file. It
	// defaults to the package name.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Links names the native library the package links.
	Links string `yaml:"links,omitempty" json:"links,omitempty"`

	// Build declares a build script.
	Build bool `yaml:"build,omitempty" json:"build,omitempty"`

	Yanked bool `yaml:"yanked,omitempty" json:"yanked,omitempty"`

	Features map[string][]string `yaml:"features,omitempty" json:"features,omitempty"`

	Dependencies []DependencySpec `yaml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"dive"`

	// Targets defaults to a single lib target named after the package.
	Targets []TargetSpec `yaml:"targets,omitempty" json:"targets,omitempty" validate:"dive"`
}

// DependencySpec declares one dependency of a package.
type DependencySpec struct {
	// Name is the name of the dependency as seen by the dependent.
	Name string `yaml:"name" json:"name" validate:"required,cratename"`

	// Package is the real package name when Name is a rename.
	Package string `yaml:"package,omitempty" json:"package,omitempty" validate:"omitempty,cratename"`

	// Version is the requirement, "*" when empty.
	Version string `yaml:"version,omitempty" json:"version,omitempty" validate:"omitempty,semverreq"`

	// Kind is normal, build or dev.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=normal build dev"`

	// Target is a platform: a triple or a cfg(...) expression.
	Target string `yaml:"target,omitempty" json:"target,omitempty" validate:"omitempty,platform"`

	Features        []string `yaml:"features,omitempty" json:"features,omitempty"`
	DefaultFeatures *bool    `yaml:"default-features,omitempty" json:"default-features,omitempty"`
	Optional        bool     `yaml:"optional,omitempty" json:"optional,omitempty"`

	// Path points at another member, relative to the dependent's directory.
	Path string `yaml:"path,omitempty" json:"path,omitempty" validate:"excluded_with=Git Registry"`

	Git    string `yaml:"git,omitempty" json:"git,omitempty" validate:"omitempty,url,excluded_with=Registry"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty" validate:"excluded_with=Tag Rev"`
	Tag    string `yaml:"tag,omitempty" json:"tag,omitempty" validate:"excluded_with=Rev"`
	Rev    string `yaml:"rev,omitempty" json:"rev,omitempty"`

	// Registry is the index URL of an alternative registry.
	Registry string `yaml:"registry,omitempty" json:"registry,omitempty" validate:"omitempty,url"`
}

// TargetSpec declares one target of a package.
type TargetSpec struct {
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=lib bin test bench example"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	CrateTypes []string `yaml:"crate-types,omitempty" json:"crate-types,omitempty" validate:"dive,oneof=lib rlib dylib cdylib staticlib proc-macro bin"`

	// Path is the source file, relative to the package directory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	RequiredFeatures []string `yaml:"required-features,omitempty" json:"required-features,omitempty"`

	// Harness defaults to true.
	Harness *bool `yaml:"harness,omitempty" json:"harness,omitempty"`
}
