package core

import (
	"fmt"

	"github.com/openfroyo/crateplan/pkg/semver"
)

// PackageId uniquely identifies a package: name, exact version and source.
type PackageId struct {
	Name    string
	Version semver.Version
	Source  SourceId
}

// NewPackageId parses version and returns the PackageId.
func NewPackageId(name, version string, source SourceId) (PackageId, error) {
	v, err := semver.ParseVersion(version)
	if err != nil {
		return PackageId{}, fmt.Errorf("package %s: %w", name, err)
	}
	return PackageId{Name: name, Version: v, Source: source}, nil
}

// MustPackageId is NewPackageId that panics on error. Intended for tests and
// static tables.
func MustPackageId(name, version string, source SourceId) PackageId {
	id, err := NewPackageId(name, version, source)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the id the way diagnostics show it: "foo v0.1.0" or
// "foo v0.1.0 (/path/to/foo)".
func (id PackageId) String() string {
	if d := id.Source.Display(); d != "" {
		return fmt.Sprintf("%s v%s (%s)", id.Name, id.Version, d)
	}
	return fmt.Sprintf("%s v%s", id.Name, id.Version)
}

// Spec returns "name@version".
func (id PackageId) Spec() string {
	return id.Name + "@" + id.Version.String()
}

// Less orders ids by name, version and source.
func (id PackageId) Less(o PackageId) bool {
	if id.Name != o.Name {
		return id.Name < o.Name
	}
	if c := semver.Compare(id.Version, o.Version); c != 0 {
		return c < 0
	}
	if id.Version.Build != o.Version.Build {
		return id.Version.Build < o.Version.Build
	}
	return id.Source.Less(o.Source)
}

// SortPackageIds sorts ids in place using PackageId.Less.
func SortPackageIds(ids []PackageId) {
	sortSlice(ids, func(a, b PackageId) bool { return a.Less(b) })
}
