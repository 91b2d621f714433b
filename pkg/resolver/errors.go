package resolver

import (
	"fmt"
	"strings"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/semver"
)

// Path is a dependency trace: Path[0] is the package that requires the
// dependency, each following entry depends on the one before it, and the
// last entry is a workspace member.
type Path []core.PackageId

func writePath(b *strings.Builder, path Path, first string) {
	for i, id := range path {
		if i == 0 && first != "" {
			fmt.Fprintf(b, "    ... %s `%s`\n", first, id)
			continue
		}
		fmt.Fprintf(b, "    ... which is depended on by `%s`\n", id)
	}
}

// NoMatchingPackageError is returned when no candidate satisfies a dependency.
type NoMatchingPackageError struct {
	Dep core.Dependency
	// Location is where the candidates were searched.
	Location string
	// Path leads from the dependent package to the root.
	Path Path
	// Available lists the versions that exist but do not match, highest first.
	Available []semver.Version
}

func (e *NoMatchingPackageError) Code() core.ErrorCode { return core.ErrCodeNoMatchingPackage }

func (e *NoMatchingPackageError) Error() string {
	var b strings.Builder
	if len(e.Available) == 0 {
		fmt.Fprintf(&b, "no matching package named `%s` found\n", e.Dep.Name)
		fmt.Fprintf(&b, "location searched: %s\n", e.Location)
		if len(e.Path) > 0 {
			fmt.Fprintf(&b, "required by package `%s`\n", e.Path[0])
			writePath(&b, e.Path[1:], "")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	fmt.Fprintf(&b, "failed to select a version for the requirement `%s = \"%s\"`\n", e.Dep.Name, e.Dep.Req)
	fmt.Fprintf(&b, "candidate versions found which didn't match: %s\n", joinVersions(e.Available))
	fmt.Fprintf(&b, "location searched: %s\n", e.Location)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, "required by package `%s`\n", e.Path[0])
		writePath(&b, e.Path[1:], "")
	}
	return strings.TrimRight(b.String(), "\n")
}

// PreviousActivation is an already selected package that blocked a candidate.
type PreviousActivation struct {
	ID core.PackageId
	// Path leads from the package that selected ID to the root.
	Path Path
}

// VersionConflictError is returned when every candidate for a dependency
// conflicts with packages selected earlier.
type VersionConflictError struct {
	Dep  core.Dependency
	Path Path
	// Candidates are the versions that meet the requirement, in the order tried.
	Candidates []semver.Version
	// Conflicts are the previously selected packages of the same name.
	Conflicts []PreviousActivation
	// LinksConflicts are packages holding a links value a candidate also claims.
	LinksConflicts []PreviousActivation
	Links          string
	// MissingFeatures are requested features absent from every candidate.
	MissingFeatures []string
}

func (e *VersionConflictError) Code() core.ErrorCode { return core.ErrCodeVersionConflict }

func (e *VersionConflictError) Error() string {
	var b strings.Builder
	writeSelectHeader(&b, e.Dep, e.Path, e.Candidates)

	if len(e.Conflicts) > 0 {
		b.WriteString("\nall possible versions conflict with previously selected packages.\n")
		for _, c := range e.Conflicts {
			fmt.Fprintf(&b, "\n  previously selected package `%s`\n", c.ID)
			writePath(&b, c.Path, "which is depended on by")
		}
	}
	for _, c := range e.LinksConflicts {
		writeLinksReason(&b, e.Dep.Name, e.Links, c)
	}
	if len(e.MissingFeatures) > 0 {
		fmt.Fprintf(&b, "\nthe package `%s` does not have the features: %s\n", e.Dep.Name, quoteJoin(e.MissingFeatures))
	}

	fmt.Fprintf(&b, "\nfailed to select a version for `%s` which could resolve this conflict", e.Dep.Name)
	return b.String()
}

// LinksConflictError is returned when two packages in the same build context
// claim the same native library.
type LinksConflictError struct {
	Links     string
	Dep       core.Dependency
	Candidate core.PackageId
	// CandidatePath leads from the package that required Candidate to the root.
	CandidatePath Path
	Existing      core.PackageId
	// ExistingPath leads from the package that selected Existing to the root.
	ExistingPath Path
	Candidates   []semver.Version
}

func (e *LinksConflictError) Code() core.ErrorCode { return core.ErrCodeLinksConflict }

func (e *LinksConflictError) Error() string {
	var b strings.Builder
	writeSelectHeader(&b, e.Dep, e.CandidatePath, e.Candidates)
	writeLinksReason(&b, e.Candidate.Name, e.Links, PreviousActivation{ID: e.Existing, Path: e.ExistingPath})
	fmt.Fprintf(&b, "\nfailed to select a version for `%s` which could resolve this conflict", e.Dep.Name)
	return b.String()
}

func writeSelectHeader(b *strings.Builder, dep core.Dependency, path Path, candidates []semver.Version) {
	fmt.Fprintf(b, "failed to select a version for `%s`.\n", dep.Name)
	writePath(b, path, "required by package")
	fmt.Fprintf(b, "versions that meet the requirements `%s` are: %s\n", dep.Req, joinVersions(candidates))
}

func writeLinksReason(b *strings.Builder, name, links string, holder PreviousActivation) {
	fmt.Fprintf(b, "\nthe package `%s` links to the native library `%s`, but it conflicts with a previous package which links to `%s` as well:\n", name, links, links)
	fmt.Fprintf(b, "package `%s`\n", holder.ID)
	writePath(b, holder.Path, "which is depended on by")
	fmt.Fprintf(b, "Only one package in the dependency graph may specify the same links value.\n")
}

// MissingFeatureError is returned when a requested feature is not declared
// by the package.
type MissingFeatureError struct {
	Package  core.PackageId
	Features []string
	// Path leads from the package that made the request to the root. Empty
	// when the request came from the command line.
	Path Path
}

func (e *MissingFeatureError) Code() core.ErrorCode { return core.ErrCodeMissingFeature }

func (e *MissingFeatureError) Error() string {
	var b strings.Builder
	plural := ""
	if len(e.Features) > 1 {
		plural = "s"
	}
	fmt.Fprintf(&b, "package `%s` does not have the feature%s %s", e.Package, plural, quoteJoin(e.Features))
	if len(e.Path) > 0 {
		b.WriteString("\n")
		writePath(&b, e.Path, "required by package")
	}
	return strings.TrimRight(b.String(), "\n")
}

// PackageCycleError reports a dependency cycle among resolved packages.
// Cycle[i] depends on Cycle[i+1], and the last entry depends on Cycle[0].
type PackageCycleError struct {
	Cycle []core.PackageId
}

func (e *PackageCycleError) Code() core.ErrorCode { return core.ErrCodePackageCycle }

func (e *PackageCycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "cyclic package dependency"
	}
	var b strings.Builder
	start := e.Cycle[0]
	fmt.Fprintf(&b, "cyclic package dependency: package `%s` depends on itself. Cycle:\n", start)
	fmt.Fprintf(&b, "package `%s`", start)
	for i := len(e.Cycle) - 1; i >= 1; i-- {
		fmt.Fprintf(&b, "\n    ... which is depended on by `%s`", e.Cycle[i])
	}
	fmt.Fprintf(&b, "\n    ... which is depended on by `%s`", start)
	return b.String()
}

func joinVersions(vs []semver.Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func quoteJoin(items []string) string {
	parts := make([]string, len(items))
	for i, s := range items {
		parts[i] = "`" + s + "`"
	}
	return strings.Join(parts, ", ")
}
