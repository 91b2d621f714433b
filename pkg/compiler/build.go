package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// PackageSet maps resolved package ids to their loaded packages.
type PackageSet map[core.PackageId]*core.Package

// NewPackageSet indexes pkgs by id.
func NewPackageSet(pkgs ...*core.Package) PackageSet {
	set := make(PackageSet, len(pkgs))
	for _, p := range pkgs {
		set[p.ID()] = p
	}
	return set
}

// StdContext describes the standard library when it is built from source.
type StdContext struct {
	Resolve  *resolver.Resolve
	Packages PackageSet
	// Crates are the std packages every target unit depends on. Empty
	// means DefaultStdCrates.
	Crates []string
}

// DefaultStdCrates are linked into target units when no std crates are
// named.
var DefaultStdCrates = []string{"std", "proc_macro"}

// BuildContext is everything BuildUnits needs besides the roots.
type BuildContext struct {
	Resolve  *resolver.Resolve
	Packages PackageSet
	Profiles *Profiles
	// ProfileName is the requested profile, "dev" when empty.
	ProfileName string
	// Kinds are the requested kinds. Empty means the host only.
	Kinds []CompileKind
	Mode  CompileMode
	// HostInfo describes the host. A zero value disables platform
	// filtering for host units.
	HostInfo core.TargetInfo
	// TargetInfo describes requested targets by triple. Missing triples
	// are derived with core.TargetInfoFromTriple.
	TargetInfo map[string]core.TargetInfo
	// Std, when set, builds the standard library as part of the graph.
	Std *StdContext
}

// TargetSelector picks the targets of a root package.
type TargetSelector struct {
	Lib      bool
	Bins     bool
	Tests    bool
	Benches  bool
	Examples bool
	// All selects every target.
	All bool
	// Named selects individual targets.
	Named []NamedTarget
}

// NamedTarget identifies one target by kind and name.
type NamedTarget struct {
	Kind core.TargetKind
	Name string
}

func (s TargetSelector) isDefault() bool {
	return !s.Lib && !s.Bins && !s.Tests && !s.Benches && !s.Examples && !s.All && len(s.Named) == 0
}

// Root is a requested package with its target selection.
type Root struct {
	Package  core.PackageId
	Selector TargetSelector
}

// BuildUnits expands roots into the graph of units needed to build them.
func BuildUnits(ctx context.Context, bc BuildContext, roots []Root) (*UnitGraph, error) {
	start := time.Now()
	if bc.Resolve == nil {
		return nil, core.NewValidationError("build context has no resolve")
	}
	if bc.Profiles == nil {
		bc.Profiles = DefaultProfiles()
	}
	if bc.ProfileName == "" {
		bc.ProfileName = ProfileDev
	}
	if len(bc.Kinds) == 0 {
		bc.Kinds = []CompileKind{Host}
	}

	b := &builder{
		bc:       bc,
		interner: newInterner(),
		deps:     make(map[*Unit][]UnitDep),
		state:    make(map[visitKey]visitState),
		checked:  make(map[core.PackageId]bool),
		std:      make(map[CompileKind][]*Unit),
		log:      telemetry.FromContext(ctx).NewComponentLogger("compiler"),
	}

	var rootUnits []*Unit
	for _, kind := range bc.Kinds {
		for _, root := range roots {
			units, err := b.rootUnits(root, kind)
			if err != nil {
				return nil, err
			}
			rootUnits = append(rootUnits, units...)
		}
	}
	if bc.Std != nil {
		for _, kind := range bc.Kinds {
			if kind.IsHost() {
				continue
			}
			std, err := b.stdUnits(kind)
			if err != nil {
				return nil, err
			}
			b.std[kind] = std
		}
	}

	for _, u := range rootUnits {
		if err := b.expand(u, rootForHost(u.Target, u.Mode)); err != nil {
			return nil, err
		}
	}

	g, err := newUnitGraph(b.deps, dedupUnits(rootUnits))
	if err != nil {
		return nil, err
	}
	g.Warnings = append(b.warnings, checkCollisions(g)...)
	b.log.Debugf("built %d units from %d roots in %s", g.Len(), len(g.roots), time.Since(start))
	return g, nil
}

type visitKey struct {
	unit    *Unit
	forHost bool
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

type builder struct {
	bc       BuildContext
	interner *interner
	deps     map[*Unit][]UnitDep
	state    map[visitKey]visitState
	stack    []*Unit
	checked  map[core.PackageId]bool
	std      map[CompileKind][]*Unit
	warnings []core.Warning
	log      *telemetry.Logger
}

func (b *builder) resolveFor(u *Unit) (*resolver.Resolve, PackageSet) {
	if u.IsStd {
		return b.bc.Std.Resolve, b.bc.Std.Packages
	}
	return b.bc.Resolve, b.bc.Packages
}

func (b *builder) targetInfo(kind CompileKind) (core.TargetInfo, bool) {
	if kind.IsHost() {
		return b.bc.HostInfo, b.bc.HostInfo.Triple != ""
	}
	if info, ok := b.bc.TargetInfo[kind.Triple]; ok {
		return info, true
	}
	return core.TargetInfoFromTriple(kind.Triple), true
}

// rootUnits creates the units of the targets selected for root.
func (b *builder) rootUnits(root Root, kind CompileKind) ([]*Unit, error) {
	pkg, ok := b.bc.Packages[root.Package]
	if !ok {
		return nil, core.NewValidationError("package `%s` is not loaded", root.Package)
	}
	if !b.bc.Resolve.Contains(root.Package) {
		return nil, core.NewValidationError("package `%s` is not part of the resolve", root.Package)
	}
	features := b.bc.Resolve.Features(root.Package)

	targets, err := selectTargets(pkg, root.Selector, b.bc.Mode, features)
	if err != nil {
		return nil, err
	}

	units := make([]*Unit, 0, len(targets))
	for _, t := range targets {
		mode := rootMode(b.bc.Mode, t)
		unitKind := kind
		if t.IsProcMacro() {
			unitKind = Host
		}
		profile, err := b.bc.Profiles.ForUnit(b.bc.ProfileName, mode, rootForHost(t, mode))
		if err != nil {
			return nil, err
		}
		units = append(units, b.interner.intern(pkg, t, profile, unitKind, mode, features, false))
	}
	return units, nil
}

// rootForHost reports whether a root target is built as a host tool, the
// way a proc-macro reached through a dependency is. Its tests are not.
func rootForHost(t core.Target, mode CompileMode) bool {
	return t.IsProcMacro() && !mode.IsAnyTest()
}

// rootMode is the mode of a selected target under the requested mode.
func rootMode(requested CompileMode, t core.Target) CompileMode {
	switch requested {
	case ModeTest:
		if t.IsExample() {
			return ModeBuild
		}
		return ModeTest
	case ModeBench:
		if t.IsExample() {
			return ModeBuild
		}
		return ModeBench
	case ModeCheck:
		if t.IsTest() || t.IsBench() {
			return ModeCheckTest
		}
		return ModeCheck
	default:
		return requested
	}
}

func selectTargets(pkg *core.Package, sel TargetSelector, mode CompileMode, features []string) ([]core.Target, error) {
	if sel.isDefault() {
		switch mode {
		case ModeTest:
			sel = TargetSelector{Lib: pkg.Lib() != nil, Bins: true, Tests: true, Examples: true}
		case ModeBench:
			sel = TargetSelector{Lib: pkg.Lib() != nil, Bins: true, Benches: true}
		default:
			sel = TargetSelector{Lib: pkg.Lib() != nil, Bins: true}
		}
		if !sel.Lib && len(pkg.TargetsOfKind(core.TargetBin)) == 0 {
			return nil, core.NewValidationError("no targets to build in package `%s`", pkg.Name())
		}
	}

	var out []core.Target
	add := func(t core.Target, explicit bool) error {
		if missing := missingFeatures(t, features); len(missing) > 0 {
			if explicit {
				return core.NewValidationError("target `%s` in package `%s` requires the features: %s",
					t.Name, pkg.Name(), quoteList(missing))
			}
			return nil
		}
		for _, existing := range out {
			if existing.Kind == t.Kind && existing.Name == t.Name {
				return nil
			}
		}
		out = append(out, t)
		return nil
	}

	if sel.Lib || sel.All {
		lib := pkg.Lib()
		if lib == nil {
			if sel.Lib {
				return nil, core.NewValidationError("no library targets found in package `%s`", pkg.Name())
			}
		} else if err := add(*lib, sel.Lib); err != nil {
			return nil, err
		}
	}
	kinds := []struct {
		on   bool
		kind core.TargetKind
	}{
		{sel.Bins || sel.All, core.TargetBin},
		{sel.Tests || sel.All, core.TargetTest},
		{sel.Benches || sel.All, core.TargetBench},
		{sel.Examples || sel.All, core.TargetExample},
	}
	for _, k := range kinds {
		if !k.on {
			continue
		}
		for _, t := range pkg.TargetsOfKind(k.kind) {
			if err := add(t, false); err != nil {
				return nil, err
			}
		}
	}
	for _, named := range sel.Named {
		t, ok := pkg.Target(named.Kind, named.Name)
		if !ok {
			return nil, core.NewValidationError("no %s target named `%s` in package `%s`", named.Kind, named.Name, pkg.Name())
		}
		if err := add(*t, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func missingFeatures(t core.Target, enabled []string) []string {
	have := make(map[string]bool, len(enabled))
	for _, f := range enabled {
		have[f] = true
	}
	var missing []string
	for _, f := range t.RequiredFeatures {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func quoteList(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += "`" + s + "`"
	}
	return out
}

// expand computes the dependencies of u and recurses into them. forHost
// is set for units that run on the host during the build.
func (b *builder) expand(u *Unit, forHost bool) error {
	key := visitKey{unit: u, forHost: forHost}
	switch b.state[key] {
	case visited:
		return nil
	case visiting:
		for i, s := range b.stack {
			if s == u {
				return &UnitCycleError{Cycle: append([]*Unit(nil), b.stack[i:]...)}
			}
		}
		return &UnitCycleError{Cycle: []*Unit{u}}
	case unvisited:
	}

	if _, ok := b.deps[u]; !ok {
		b.deps[u] = nil
	}
	if err := b.checkPackage(u.Pkg); err != nil {
		return err
	}

	b.state[key] = visiting
	b.stack = append(b.stack, u)

	deps, err := b.unitDeps(u, forHost)
	if err != nil {
		return err
	}
	for _, d := range deps {
		b.addDep(u, d.UnitDep)
		if err := b.expand(d.Unit, d.forHost); err != nil {
			return err
		}
	}

	b.stack = b.stack[:len(b.stack)-1]
	b.state[key] = visited
	return nil
}

func (b *builder) addDep(from *Unit, dep UnitDep) {
	for _, existing := range b.deps[from] {
		if existing.Unit == dep.Unit {
			return
		}
	}
	b.deps[from] = append(b.deps[from], dep)
}

// checkPackage validates package-level invariants once per package.
func (b *builder) checkPackage(pkg *core.Package) error {
	if b.checked[pkg.ID()] {
		return nil
	}
	b.checked[pkg.ID()] = true
	if pkg.Summary.Links != "" && pkg.BuildScript() == nil {
		return core.NewValidationError("package `%s` specifies that it links to `%s` but does not have a custom build script",
			pkg.ID(), pkg.Summary.Links)
	}
	return nil
}

type plannedDep struct {
	UnitDep
	forHost bool
}

func (b *builder) unitDeps(u *Unit, forHost bool) ([]plannedDep, error) {
	switch {
	case u.Mode == ModeRunCustomBuild:
		return b.runCustomBuildDeps(u, forHost)
	case u.Target.IsCustomBuild():
		return b.compileBuildScriptDeps(u)
	default:
		return b.targetDeps(u, forHost)
	}
}

// targetDeps are the dependencies of a lib, bin, test, bench or example
// unit: linked libraries, the package's build script run, the package's own
// lib for non-lib targets, and std when built from source.
func (b *builder) targetDeps(u *Unit, forHost bool) ([]plannedDep, error) {
	res, pkgs := b.resolveFor(u)
	var out []plannedDep

	useDev := u.Mode.IsAnyTest() || u.Target.IsTest() || u.Target.IsBench() || u.Target.IsExample()
	for _, edge := range res.Deps(u.Pkg.ID()) {
		decl, devOnly, ok := b.pickDeclaration(edge, u, useDev)
		if !ok {
			continue
		}
		depPkg, found := pkgs[edge.To]
		if !found {
			return nil, core.NewValidationError("package `%s` is not loaded", edge.To)
		}

		lib := depPkg.Lib()
		if lib == nil {
			if devOnly || u.Mode == ModeDoc {
				b.warnings = append(b.warnings, noLinkableWarning(edge.To, u.Pkg.ID(), "It has no library target."))
				continue
			}
			return nil, &NoLinkableTargetError{Package: edge.To, Dependent: u.Pkg.ID()}
		}
		if !lib.Linkable() {
			b.warnings = append(b.warnings, noLinkableWarning(edge.To, u.Pkg.ID(),
				fmt.Sprintf("Consider adding 'dylib' or 'rlib' to key `crate-type` in `%s`'s manifest.", edge.To.Name)))
			continue
		}

		depForHost := forHost || lib.IsProcMacro()
		dep, err := b.libUnit(depPkg, *lib, u, depForHost, res.Features(edge.To))
		if err != nil {
			return nil, err
		}
		name := lib.CrateName()
		if decl.Rename != "" {
			name = core.CrateName(decl.Rename)
		}
		out = append(out, plannedDep{UnitDep: UnitDep{Unit: dep, ExternCrateName: name}, forHost: depForHost})
	}

	if u.Pkg.BuildScript() != nil {
		run, err := b.runUnit(u.Pkg, u, forHost)
		if err != nil {
			return nil, err
		}
		out = append(out, plannedDep{UnitDep: UnitDep{Unit: run}, forHost: forHost})
	}

	if !u.Target.IsLib() {
		if lib := u.Pkg.Lib(); lib != nil && lib.Linkable() {
			dep, err := b.libUnit(u.Pkg, *lib, u, forHost, u.Features)
			if err != nil {
				return nil, err
			}
			out = append(out, plannedDep{UnitDep: UnitDep{Unit: dep, ExternCrateName: lib.CrateName()}, forHost: forHost})
		}
	}

	if !u.IsStd && !forHost && !u.Kind.IsHost() {
		for _, std := range b.std[u.Kind] {
			out = append(out, plannedDep{UnitDep: UnitDep{Unit: std, ExternCrateName: std.Target.CrateName()}})
		}
	}
	return out, nil
}

// pickDeclaration returns the first declaration of edge that applies to u.
// Edges without declarations (decoded from a lockfile) count as normal.
func (b *builder) pickDeclaration(edge resolver.Edge, u *Unit, useDev bool) (core.Dependency, bool, bool) {
	if len(edge.Deps) == 0 {
		return core.Dependency{Name: edge.To.Name}, false, true
	}
	kind := u.Kind
	info, filter := b.targetInfo(kind)

	var picked core.Dependency
	found, nonDev := false, false
	for _, d := range edge.Deps {
		switch d.Kind {
		case core.DepBuild:
			continue
		case core.DepDevelopment:
			if !useDev {
				continue
			}
		case core.DepNormal:
		}
		if filter && d.Platform != nil && !d.Platform.Matches(info) {
			continue
		}
		if !found {
			picked = d
			found = true
		}
		if d.Kind != core.DepDevelopment {
			nonDev = true
		}
	}
	return picked, found && !nonDev, found
}

// libUnit is the unit of a library needed by parent.
func (b *builder) libUnit(pkg *core.Package, lib core.Target, parent *Unit, forHost bool, features []string) (*Unit, error) {
	kind := parent.Kind
	if forHost {
		kind = Host
	}
	mode := ModeBuild
	if (parent.Mode.IsCheck() || parent.Mode == ModeDoc) && !forHost {
		mode = ModeCheck
	}
	profile, err := b.bc.Profiles.ForUnit(b.bc.ProfileName, ModeBuild, forHost)
	if err != nil {
		return nil, err
	}
	return b.interner.intern(pkg, lib, profile, kind, mode, features, parent.IsStd), nil
}

// runUnit is the execution of pkg's build script on behalf of parent.
func (b *builder) runUnit(pkg *core.Package, parent *Unit, forHost bool) (*Unit, error) {
	profile, err := b.bc.Profiles.ForUnit(b.bc.ProfileName, ModeBuild, forHost)
	if err != nil {
		return nil, err
	}
	kind := parent.Kind
	if forHost {
		kind = Host
	}
	features := b.featuresOf(pkg, parent.IsStd)
	return b.interner.intern(pkg, *pkg.BuildScript(), profile, kind, ModeRunCustomBuild, features, parent.IsStd), nil
}

func (b *builder) featuresOf(pkg *core.Package, isStd bool) []string {
	if isStd {
		return b.bc.Std.Resolve.Features(pkg.ID())
	}
	return b.bc.Resolve.Features(pkg.ID())
}

// runCustomBuildDeps: running a build script needs the compiled script and
// the script runs of direct dependencies that link native libraries.
func (b *builder) runCustomBuildDeps(u *Unit, forHost bool) ([]plannedDep, error) {
	profile, err := b.bc.Profiles.ForUnit(b.bc.ProfileName, ModeBuild, true)
	if err != nil {
		return nil, err
	}
	script := b.interner.intern(u.Pkg, u.Target, profile, Host, ModeBuild, u.Features, u.IsStd)
	out := []plannedDep{{UnitDep: UnitDep{Unit: script, ExternCrateName: "build_script_build"}, forHost: true}}

	res, pkgs := b.resolveFor(u)
	for _, edge := range res.Deps(u.Pkg.ID()) {
		if _, _, ok := b.pickDeclaration(edge, u, false); !ok {
			continue
		}
		depPkg, found := pkgs[edge.To]
		if !found || depPkg.Summary.Links == "" || depPkg.BuildScript() == nil {
			continue
		}
		if err := b.checkPackage(depPkg); err != nil {
			return nil, err
		}
		run, err := b.runUnit(depPkg, u, forHost)
		if err != nil {
			return nil, err
		}
		out = append(out, plannedDep{UnitDep: UnitDep{Unit: run}, forHost: forHost})
	}
	return out, nil
}

// compileBuildScriptDeps: a build script links the package's
// build-dependencies, all built for the host.
func (b *builder) compileBuildScriptDeps(u *Unit) ([]plannedDep, error) {
	res, pkgs := b.resolveFor(u)
	info, filter := b.targetInfo(Host)
	var out []plannedDep
	for _, edge := range res.Deps(u.Pkg.ID()) {
		var decl *core.Dependency
		for i, d := range edge.Deps {
			if d.Kind != core.DepBuild {
				continue
			}
			if filter && d.Platform != nil && !d.Platform.Matches(info) {
				continue
			}
			decl = &edge.Deps[i]
			break
		}
		if decl == nil {
			continue
		}
		depPkg, found := pkgs[edge.To]
		if !found {
			return nil, core.NewValidationError("package `%s` is not loaded", edge.To)
		}
		lib := depPkg.Lib()
		if lib == nil || !lib.Linkable() {
			b.warnings = append(b.warnings, noLinkableWarning(edge.To, u.Pkg.ID(), "It is a build-dependency without a linkable library."))
			continue
		}
		dep, err := b.libUnit(depPkg, *lib, u, true, res.Features(edge.To))
		if err != nil {
			return nil, err
		}
		name := lib.CrateName()
		if decl.Rename != "" {
			name = core.CrateName(decl.Rename)
		}
		out = append(out, plannedDep{UnitDep: UnitDep{Unit: dep, ExternCrateName: name}, forHost: true})
	}
	return out, nil
}

func dedupUnits(units []*Unit) []*Unit {
	seen := make(map[*Unit]bool, len(units))
	out := make([]*Unit, 0, len(units))
	for _, u := range units {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
