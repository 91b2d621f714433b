package core

import (
	"fmt"
	"sort"
)

// TargetKind is the kind of a build target within a package.
type TargetKind int

const (
	TargetLib TargetKind = iota
	TargetBin
	TargetTest
	TargetBench
	TargetExample
	TargetCustomBuild
)

func (k TargetKind) String() string {
	switch k {
	case TargetLib:
		return "lib"
	case TargetBin:
		return "bin"
	case TargetTest:
		return "test"
	case TargetBench:
		return "bench"
	case TargetExample:
		return "example"
	case TargetCustomBuild:
		return "custom-build"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// ParseTargetKind parses the String form of a TargetKind.
func ParseTargetKind(s string) (TargetKind, error) {
	switch s {
	case "lib":
		return TargetLib, nil
	case "bin":
		return TargetBin, nil
	case "test":
		return TargetTest, nil
	case "bench":
		return TargetBench, nil
	case "example":
		return TargetExample, nil
	case "custom-build", "build-script":
		return TargetCustomBuild, nil
	default:
		return TargetLib, fmt.Errorf("unknown target kind %q", s)
	}
}

// Crate types.
const (
	CrateTypeLib       = "lib"
	CrateTypeRlib      = "rlib"
	CrateTypeDylib     = "dylib"
	CrateTypeCdylib    = "cdylib"
	CrateTypeStaticlib = "staticlib"
	CrateTypeProcMacro = "proc-macro"
	CrateTypeBin       = "bin"
)

// Target is one compilable target of a package.
type Target struct {
	Kind TargetKind
	Name string
	// CrateTypes defaults to ["lib"] for libraries and ["bin"] otherwise.
	CrateTypes       []string
	SrcPath          string
	RequiredFeatures []string
	// Harness is false for tests and benches that provide their own main.
	Harness bool
}

// NewLibTarget returns a library target with the given crate types.
func NewLibTarget(name string, crateTypes ...string) Target {
	if len(crateTypes) == 0 {
		crateTypes = []string{CrateTypeLib}
	}
	return Target{Kind: TargetLib, Name: name, CrateTypes: crateTypes, SrcPath: "src/lib.rs", Harness: true}
}

// NewBinTarget returns a binary target.
func NewBinTarget(name string) Target {
	return Target{Kind: TargetBin, Name: name, CrateTypes: []string{CrateTypeBin}, SrcPath: "src/main.rs", Harness: true}
}

// NewCustomBuildTarget returns the build script target of a package.
func NewCustomBuildTarget() Target {
	return Target{
		Kind:       TargetCustomBuild,
		Name:       "build-script-build",
		CrateTypes: []string{CrateTypeBin},
		SrcPath:    "build.rs",
	}
}

func (t Target) IsLib() bool         { return t.Kind == TargetLib }
func (t Target) IsBin() bool         { return t.Kind == TargetBin }
func (t Target) IsTest() bool        { return t.Kind == TargetTest }
func (t Target) IsBench() bool       { return t.Kind == TargetBench }
func (t Target) IsExample() bool     { return t.Kind == TargetExample }
func (t Target) IsCustomBuild() bool { return t.Kind == TargetCustomBuild }

// IsProcMacro reports whether the target is a procedural macro library.
func (t Target) IsProcMacro() bool {
	if t.Kind != TargetLib {
		return false
	}
	for _, ct := range t.CrateTypes {
		if ct == CrateTypeProcMacro {
			return true
		}
	}
	return false
}

// Linkable reports whether dependents can link against the target as an extern crate.
func (t Target) Linkable() bool {
	if t.Kind != TargetLib {
		return false
	}
	for _, ct := range t.CrateTypes {
		switch ct {
		case CrateTypeLib, CrateTypeRlib, CrateTypeDylib, CrateTypeProcMacro:
			return true
		}
	}
	return false
}

// CrateName is the identifier used for the target as an extern crate.
func (t Target) CrateName() string { return CrateName(t.Name) }

// Description is the human form used in diagnostics, e.g. "lib target `foo`".
func (t Target) Description() string {
	return fmt.Sprintf("%s target `%s`", t.Kind, t.Name)
}

// Package is a loaded package: its summary plus its targets.
type Package struct {
	Summary Summary
	Targets []Target
	// Root is the directory containing the package manifest.
	Root string
}

func (p *Package) ID() PackageId { return p.Summary.ID }

func (p *Package) Name() string { return p.Summary.ID.Name }

// Lib returns the library target, or nil.
func (p *Package) Lib() *Target {
	for i := range p.Targets {
		if p.Targets[i].IsLib() {
			return &p.Targets[i]
		}
	}
	return nil
}

// BuildScript returns the custom build target, or nil.
func (p *Package) BuildScript() *Target {
	for i := range p.Targets {
		if p.Targets[i].IsCustomBuild() {
			return &p.Targets[i]
		}
	}
	return nil
}

// TargetsOfKind returns the targets of the given kind, sorted by name.
func (p *Package) TargetsOfKind(kind TargetKind) []Target {
	var out []Target
	for _, t := range p.Targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Target returns the target with the given kind and name.
func (p *Package) Target(kind TargetKind, name string) (*Target, bool) {
	for i := range p.Targets {
		if p.Targets[i].Kind == kind && p.Targets[i].Name == name {
			return &p.Targets[i], true
		}
	}
	return nil, false
}
