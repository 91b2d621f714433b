package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

const linux = "x86_64-unknown-linux-gnu"

var registrySrc = core.DefaultRegistry()

// fixture collects registry packages and their targets.
type fixture struct {
	reg  *resolver.MemoryRegistry
	pkgs []*core.Package
}

func newFixture() *fixture {
	return &fixture{reg: resolver.NewMemoryRegistry()}
}

// lib registers a registry package with a lib target named after it.
func (f *fixture) lib(name, version string, deps ...core.Dependency) *core.Package {
	return f.add(core.Summary{ID: core.MustPackageId(name, version, registrySrc), Dependencies: deps}, core.NewLibTarget(name))
}

func (f *fixture) add(s core.Summary, targets ...core.Target) *core.Package {
	p := &core.Package{Summary: s, Targets: targets}
	f.reg.Add(s)
	f.pkgs = append(f.pkgs, p)
	return p
}

// root creates a workspace member; it is not added to the registry.
func (f *fixture) root(name string, deps []core.Dependency, targets ...core.Target) *core.Package {
	if len(targets) == 0 {
		targets = []core.Target{core.NewLibTarget(name)}
	}
	s := core.Summary{ID: core.MustPackageId(name, "0.1.0", core.NewPathSource("/ws/"+name)), Dependencies: deps}
	p := &core.Package{Summary: s, Targets: targets}
	f.pkgs = append(f.pkgs, p)
	return p
}

func (f *fixture) context(t *testing.T, roots ...*core.Package) BuildContext {
	t.Helper()
	summaries := make([]core.Summary, 0, len(roots))
	for _, r := range roots {
		summaries = append(summaries, r.Summary)
	}
	res, err := resolver.New(f.reg).Resolve(context.Background(), summaries, resolver.DefaultResolveOpts())
	require.NoError(t, err)
	return BuildContext{Resolve: res, Packages: NewPackageSet(f.pkgs...)}
}

func dep(name, req string) core.Dependency {
	return core.MustDependency(name, req, registrySrc)
}

func withKind(d core.Dependency, kind core.DepKind) core.Dependency {
	d.Kind = kind
	return d
}

func rootsOf(pkgs ...*core.Package) []Root {
	out := make([]Root, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, Root{Package: p.ID()})
	}
	return out
}

func build(t *testing.T, bc BuildContext, roots ...*core.Package) *UnitGraph {
	t.Helper()
	g, err := BuildUnits(context.Background(), bc, rootsOf(roots...))
	require.NoError(t, err)
	return g
}

func findUnit(t *testing.T, g *UnitGraph, name string, kind core.TargetKind, mode CompileMode) *Unit {
	t.Helper()
	for _, u := range g.UnitsOf(name) {
		if u.Target.Kind == kind && u.Mode == mode {
			return u
		}
	}
	t.Fatalf("no %s %s unit of %s in graph", kind, mode, name)
	return nil
}

func depNames(g *UnitGraph, u *Unit) []string {
	var out []string
	for _, d := range g.Deps(u) {
		out = append(out, d.Unit.Pkg.Name()+":"+d.Unit.Target.Kind.String()+":"+d.Unit.Mode.String())
	}
	return out
}

func TestBuildUnits_BuildDependencyGetsHostUnit(t *testing.T) {
	f := newFixture()
	f.lib("b", "1.0.0")
	foo := f.root("foo", []core.Dependency{dep("b", "1"), withKind(dep("b", "1"), core.DepBuild)},
		core.NewLibTarget("foo"), core.NewCustomBuildTarget())

	bc := f.context(t, foo)
	bc.Kinds = []CompileKind{ForTarget(linux)}
	g := build(t, bc, foo)

	bUnits := g.UnitsOf("b")
	require.Len(t, bUnits, 2)
	kinds := map[string]bool{}
	for _, u := range bUnits {
		kinds[u.Kind.String()] = true
	}
	assert.Equal(t, map[string]bool{"host": true, linux: true}, kinds)

	lib := findUnit(t, g, "foo", core.TargetLib, ModeBuild)
	assert.Equal(t, ForTarget(linux), lib.Kind)
	assert.ElementsMatch(t, []string{"b:lib:build", "foo:custom-build:run-custom-build"}, depNames(g, lib))

	run := findUnit(t, g, "foo", core.TargetCustomBuild, ModeRunCustomBuild)
	script := findUnit(t, g, "foo", core.TargetCustomBuild, ModeBuild)
	assert.True(t, script.Kind.IsHost())
	require.Len(t, g.Deps(run), 1)
	assert.Same(t, script, g.Deps(run)[0].Unit)
	require.Len(t, g.Deps(script), 1)
	assert.True(t, g.Deps(script)[0].Unit.Kind.IsHost())

	assert.Len(t, g.Levels(), 4)
	assert.Equal(t, []*Unit{lib}, g.Roots())
}

func TestBuildUnits_SharedDependencyIsInterned(t *testing.T) {
	f := newFixture()
	f.lib("log", "0.4.0")
	f.lib("a", "1.0.0", dep("log", "0.4"))
	f.lib("b", "1.0.0", dep("log", "0.4"))
	foo := f.root("foo", []core.Dependency{dep("a", "1"), dep("b", "1")})

	g := build(t, f.context(t, foo), foo)

	require.Len(t, g.UnitsOf("log"), 1)
	logUnit := g.UnitsOf("log")[0]
	a := findUnit(t, g, "a", core.TargetLib, ModeBuild)
	b := findUnit(t, g, "b", core.TargetLib, ModeBuild)
	assert.Same(t, logUnit, g.Deps(a)[0].Unit)
	assert.Same(t, logUnit, g.Deps(b)[0].Unit)
	assert.Equal(t, 4, g.Len())

	seen := map[unitKey]bool{}
	for _, u := range g.Units() {
		assert.False(t, seen[u.key()], "duplicate unit %s", u)
		seen[u.key()] = true
	}
}

func TestBuildUnits_LevelsRespectDependencies(t *testing.T) {
	f := newFixture()
	f.lib("c", "1.0.0")
	f.lib("b", "1.0.0", dep("c", "1"))
	foo := f.root("foo", []core.Dependency{dep("b", "1"), dep("c", "1")}, core.NewLibTarget("foo"), core.NewBinTarget("foo"))

	g := build(t, f.context(t, foo), foo)

	level := map[*Unit]int{}
	for i, units := range g.Levels() {
		for _, u := range units {
			level[u] = i
		}
	}
	require.Len(t, level, g.Len())
	for _, u := range g.Units() {
		for _, d := range g.Deps(u) {
			assert.Less(t, level[d.Unit], level[u], "%s must come after %s", u, d.Unit)
		}
	}

	bin := findUnit(t, g, "foo", core.TargetBin, ModeBuild)
	assert.Contains(t, depNames(g, bin), "foo:lib:build")
}

func TestBuildUnits_Deterministic(t *testing.T) {
	f := newFixture()
	f.lib("c", "1.0.0")
	f.lib("b", "1.0.0", dep("c", "1"))
	f.lib("a", "1.0.0", dep("c", "1"))
	foo := f.root("foo", []core.Dependency{dep("a", "1"), dep("b", "1")})

	first, err := build(t, f.context(t, foo), foo).ToJSON()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := build(t, f.context(t, foo), foo).ToJSON()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestBuildUnits_ProcMacroRunsOnHost(t *testing.T) {
	f := newFixture()
	f.add(core.Summary{ID: core.MustPackageId("derive", "1.0.0", registrySrc)},
		core.NewLibTarget("derive", core.CrateTypeProcMacro))
	foo := f.root("foo", []core.Dependency{dep("derive", "1")})

	bc := f.context(t, foo)
	bc.Kinds = []CompileKind{ForTarget(linux)}
	g := build(t, bc, foo)

	units := g.UnitsOf("derive")
	require.Len(t, units, 1)
	assert.True(t, units[0].Kind.IsHost())
}

func TestBuildUnits_ProcMacroRootUsesHostProfile(t *testing.T) {
	opt := "s"
	profiles, err := NewProfiles(nil, ProfileDef{OptLevel: &opt})
	require.NoError(t, err)

	// As a member.
	f := newFixture()
	f.lib("quote", "1.0.0")
	member := f.root("derive", []core.Dependency{dep("quote", "1")}, core.NewLibTarget("derive", core.CrateTypeProcMacro))
	member.Summary.ProcMacro = true

	bc := f.context(t, member)
	bc.Profiles = profiles
	bc.Kinds = []CompileKind{ForTarget(linux)}
	g := build(t, bc, member)

	derive := findUnit(t, g, "derive", core.TargetLib, ModeBuild)
	assert.True(t, derive.Kind.IsHost())
	assert.Equal(t, "s", derive.Profile.OptLevel)
	asMember := findUnit(t, g, "quote", core.TargetLib, ModeBuild)

	// As a dependency.
	f = newFixture()
	f.lib("quote", "1.0.0")
	f.add(core.Summary{
		ID:           core.MustPackageId("derive", "1.0.0", registrySrc),
		Dependencies: []core.Dependency{dep("quote", "1")},
		ProcMacro:    true,
	}, core.NewLibTarget("derive", core.CrateTypeProcMacro))
	app := f.root("app", []core.Dependency{dep("derive", "1")})

	bc = f.context(t, app)
	bc.Profiles = profiles
	bc.Kinds = []CompileKind{ForTarget(linux)}
	g = build(t, bc, app)
	asDep := findUnit(t, g, "quote", core.TargetLib, ModeBuild)

	assert.True(t, asMember.Kind.IsHost())
	assert.Equal(t, asDep.Kind, asMember.Kind)
	assert.Equal(t, asDep.Profile, asMember.Profile)
	assert.Equal(t, "s", asMember.Profile.OptLevel)
}

func TestBuildUnits_PlatformSpecificDependency(t *testing.T) {
	f := newFixture()
	f.lib("winapi", "0.3.9")
	f.lib("libc", "0.2.0")
	win := dep("winapi", "0.3")
	platform, err := core.ParsePlatform("cfg(windows)")
	require.NoError(t, err)
	win.Platform = platform
	foo := f.root("foo", []core.Dependency{win, dep("libc", "0.2")})

	bc := f.context(t, foo)
	bc.Kinds = []CompileKind{ForTarget(linux)}
	g := build(t, bc, foo)

	assert.Empty(t, g.UnitsOf("winapi"))
	assert.Len(t, g.UnitsOf("libc"), 1)
}

func TestBuildUnits_DevDependencies(t *testing.T) {
	f := newFixture()
	f.lib("quickcheck", "1.0.0")
	foo := f.root("foo", []core.Dependency{withKind(dep("quickcheck", "1"), core.DepDevelopment)},
		core.NewLibTarget("foo"), core.Target{Kind: core.TargetTest, Name: "it", CrateTypes: []string{core.CrateTypeBin}, Harness: true})

	t.Run("build mode ignores them", func(t *testing.T) {
		g := build(t, f.context(t, foo), foo)
		assert.Empty(t, g.UnitsOf("quickcheck"))
	})

	t.Run("test mode links them", func(t *testing.T) {
		bc := f.context(t, foo)
		bc.Mode = ModeTest
		g := build(t, bc, foo)

		lib := findUnit(t, g, "foo", core.TargetLib, ModeTest)
		assert.Equal(t, ProfileTest, lib.Profile.Name)
		assert.Contains(t, depNames(g, lib), "quickcheck:lib:build")

		it := findUnit(t, g, "foo", core.TargetTest, ModeTest)
		assert.Contains(t, depNames(g, it), "foo:lib:build")
		assert.Contains(t, depNames(g, it), "quickcheck:lib:build")
	})
}

func TestBuildUnits_CheckMode(t *testing.T) {
	f := newFixture()
	f.lib("serde", "1.0.0")
	f.lib("cc", "1.0.0")
	foo := f.root("foo", []core.Dependency{dep("serde", "1"), withKind(dep("cc", "1"), core.DepBuild)},
		core.NewLibTarget("foo"), core.NewCustomBuildTarget())

	bc := f.context(t, foo)
	bc.Mode = ModeCheck
	g := build(t, bc, foo)

	lib := findUnit(t, g, "foo", core.TargetLib, ModeCheck)
	assert.Contains(t, depNames(g, lib), "serde:lib:check")
	findUnit(t, g, "cc", core.TargetLib, ModeBuild)
	findUnit(t, g, "foo", core.TargetCustomBuild, ModeBuild)
}

func TestBuildUnits_BuildScriptOfLinksDependency(t *testing.T) {
	f := newFixture()
	f.add(core.Summary{ID: core.MustPackageId("z-sys", "1.0.0", registrySrc), Links: "z"},
		core.NewLibTarget("z-sys"), core.NewCustomBuildTarget())
	foo := f.root("foo", []core.Dependency{dep("z-sys", "1")}, core.NewLibTarget("foo"), core.NewCustomBuildTarget())

	g := build(t, f.context(t, foo), foo)

	run := findUnit(t, g, "foo", core.TargetCustomBuild, ModeRunCustomBuild)
	assert.ElementsMatch(t,
		[]string{"foo:custom-build:build", "z-sys:custom-build:run-custom-build"},
		depNames(g, run))
}

func TestBuildUnits_LinksWithoutBuildScript(t *testing.T) {
	f := newFixture()
	f.add(core.Summary{ID: core.MustPackageId("z-sys", "1.0.0", registrySrc), Links: "z"}, core.NewLibTarget("z-sys"))
	foo := f.root("foo", []core.Dependency{dep("z-sys", "1")})

	_, err := BuildUnits(context.Background(), f.context(t, foo), rootsOf(foo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specifies that it links to `z` but does not have a custom build script")
}

func TestBuildUnits_NoLinkableTarget(t *testing.T) {
	t.Run("missing lib is fatal", func(t *testing.T) {
		f := newFixture()
		f.add(core.Summary{ID: core.MustPackageId("tool", "1.0.0", registrySrc)}, core.NewBinTarget("tool"))
		foo := f.root("foo", []core.Dependency{dep("tool", "1")})

		_, err := BuildUnits(context.Background(), f.context(t, foo), rootsOf(foo))
		var nlt *NoLinkableTargetError
		require.True(t, errors.As(err, &nlt), "got %v", err)
		assert.Equal(t, "tool", nlt.Package.Name)
		assert.Equal(t, core.ErrCodeNoLinkableTarget, core.CodeOf(err))
	})

	t.Run("missing lib on a dev edge warns", func(t *testing.T) {
		f := newFixture()
		f.add(core.Summary{ID: core.MustPackageId("tool", "1.0.0", registrySrc)}, core.NewBinTarget("tool"))
		foo := f.root("foo", []core.Dependency{withKind(dep("tool", "1"), core.DepDevelopment)})

		bc := f.context(t, foo)
		bc.Mode = ModeTest
		g := build(t, bc, foo)
		require.NotEmpty(t, g.Warnings)
		assert.Equal(t, core.ErrCodeNoLinkableTarget, g.Warnings[0].Code)
		assert.Empty(t, g.UnitsOf("tool"))
	})

	t.Run("staticlib warns", func(t *testing.T) {
		f := newFixture()
		f.add(core.Summary{ID: core.MustPackageId("native", "1.0.0", registrySrc)},
			core.NewLibTarget("native", core.CrateTypeStaticlib))
		foo := f.root("foo", []core.Dependency{dep("native", "1")})

		g := build(t, f.context(t, foo), foo)
		require.Len(t, g.Warnings, 1)
		assert.Contains(t, g.Warnings[0].Message,
			"The package `native` provides no linkable target. The compiler might raise an error while compiling `foo`.")
	})
}

func TestBuildUnits_NoLibraryTargets(t *testing.T) {
	f := newFixture()
	foo := f.root("foo", nil, core.NewBinTarget("foo"))

	_, err := BuildUnits(context.Background(), f.context(t, foo),
		[]Root{{Package: foo.ID(), Selector: TargetSelector{Lib: true}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no library targets found in package `foo`")
}

func TestBuildUnits_RequiredFeatures(t *testing.T) {
	f := newFixture()
	extra := core.NewBinTarget("extra")
	extra.RequiredFeatures = []string{"cli"}
	foo := f.root("foo", nil, core.NewLibTarget("foo"), core.NewBinTarget("foo"), extra)

	g := build(t, f.context(t, foo), foo)
	for _, u := range g.Units() {
		assert.NotEqual(t, "extra", u.Target.Name)
	}

	_, err := BuildUnits(context.Background(), f.context(t, foo),
		[]Root{{Package: foo.ID(), Selector: TargetSelector{Named: []NamedTarget{{Kind: core.TargetBin, Name: "extra"}}}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the features: `cli`")
}

func TestBuildUnits_BuildStd(t *testing.T) {
	rustlib := func(name string) core.SourceId { return core.NewPathSource("/rustlib/" + name) }
	stdReg := resolver.NewMemoryRegistry()
	coreSummary := core.Summary{ID: core.MustPackageId("core", "0.0.0", rustlib("core"))}
	stdReg.Add(coreSummary)
	stdSummary := core.Summary{
		ID:           core.MustPackageId("std", "0.0.0", rustlib("std")),
		Dependencies: []core.Dependency{core.MustDependency("core", "*", rustlib("core"))},
	}
	pmSummary := core.Summary{ID: core.MustPackageId("proc_macro", "0.0.0", rustlib("proc_macro"))}
	stdRes, err := resolver.New(stdReg).Resolve(context.Background(), []core.Summary{stdSummary, pmSummary}, resolver.DefaultResolveOpts())
	require.NoError(t, err)
	stdPkgs := NewPackageSet(
		&core.Package{Summary: coreSummary, Targets: []core.Target{core.NewLibTarget("core")}},
		&core.Package{Summary: stdSummary, Targets: []core.Target{core.NewLibTarget("std")}},
		&core.Package{Summary: pmSummary, Targets: []core.Target{core.NewLibTarget("proc_macro")}},
	)

	f := newFixture()
	foo := f.root("foo", nil)
	bc := f.context(t, foo)
	bc.Kinds = []CompileKind{ForTarget(linux)}
	bc.Std = &StdContext{Resolve: stdRes, Packages: stdPkgs}
	g := build(t, bc, foo)

	var std []string
	for _, u := range g.Units() {
		if u.IsStd {
			std = append(std, u.Pkg.Name())
		}
	}
	assert.ElementsMatch(t, []string{"core", "proc_macro", "std"}, std)

	lib := findUnit(t, g, "foo", core.TargetLib, ModeBuild)
	assert.ElementsMatch(t, []string{"std:lib:build", "proc_macro:lib:build"}, depNames(g, lib))
	assert.Contains(t, lib.String(), linux)
	assert.Contains(t, g.UnitsOf("std")[0].String(), ", std)")
}

func TestBuildUnits_OutputCollision(t *testing.T) {
	f := newFixture()
	foo := f.root("foo", nil, core.NewBinTarget("app"))
	bar := f.root("bar", nil, core.NewBinTarget("app"))

	g := build(t, f.context(t, foo, bar), foo, bar)

	require.Len(t, g.Warnings, 1)
	w := g.Warnings[0]
	assert.Equal(t, core.ErrCodeFilenameCollision, w.Code)
	assert.True(t, strings.HasPrefix(w.Message, "output filename collision.\nThe bin target `app` in package `"), w.Message)
	assert.Contains(t, w.Message, "Colliding filename is: target/debug/app")
}

func TestBuildUnits_UnitCycleFromLockfile(t *testing.T) {
	lock := []byte(`version = 1

[[package]]
name = "a"
version = "0.1.0"
dependencies = ["b 0.1.0"]

[[package]]
name = "b"
version = "0.1.0"
dependencies = ["a 0.1.0"]
`)
	res, err := resolver.DecodeLockfile(lock)
	require.NoError(t, err)

	pkgs := PackageSet{}
	for _, id := range res.PackageIds() {
		pkgs[id] = &core.Package{Summary: core.Summary{ID: id}, Targets: []core.Target{core.NewLibTarget(id.Name)}}
	}
	a, err := res.Query("a")
	require.NoError(t, err)

	_, err = BuildUnits(context.Background(), BuildContext{Resolve: res, Packages: pkgs}, []Root{{Package: a}})
	var cycle *UnitCycleError
	require.True(t, errors.As(err, &cycle), "got %v", err)
	require.Len(t, cycle.Cycle, 2)
	assert.Equal(t, core.ErrCodeUnitCycle, core.CodeOf(err))
	assert.Contains(t, err.Error(), "dependency cycle detected between units")
}

func TestUnitGraph_Exports(t *testing.T) {
	f := newFixture()
	f.lib("b", "1.0.0")
	foo := f.root("foo", []core.Dependency{dep("b", "1")})
	bc := f.context(t, foo)
	bc.Kinds = []CompileKind{ForTarget(linux)}
	g := build(t, bc, foo)

	data, err := g.ToJSON()
	require.NoError(t, err)
	var doc struct {
		Version int `json:"version"`
		Units   []struct {
			PkgID        string  `json:"pkg_id"`
			Platform     *string `json:"platform"`
			Mode         string  `json:"mode"`
			BuildKey     string  `json:"build_key"`
			Dependencies []struct {
				Index           int    `json:"index"`
				ExternCrateName string `json:"extern_crate_name"`
			} `json:"dependencies"`
		} `json:"units"`
		Roots []int `json:"roots"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, UnitGraphVersion, doc.Version)
	require.Len(t, doc.Units, 2)
	require.Len(t, doc.Roots, 1)

	root := doc.Units[doc.Roots[0]]
	assert.Equal(t, "build", root.Mode)
	require.NotNil(t, root.Platform)
	assert.Equal(t, linux, *root.Platform)
	require.Len(t, root.Dependencies, 1)
	assert.Equal(t, "b", root.Dependencies[0].ExternCrateName)
	assert.True(t, strings.HasPrefix(doc.Units[root.Dependencies[0].Index].PkgID, "b@1.0.0"))
	assert.Regexp(t, `^foo-[0-9a-f]{16}$`, root.BuildKey)

	dot := g.ToDOT()
	assert.True(t, strings.HasPrefix(dot, "digraph UnitGraph {"))
	assert.Contains(t, dot, "cluster_level_1")
	assert.Contains(t, dot, "->")
}

func TestProfiles(t *testing.T) {
	opt := "s"
	lto := "fat"
	profiles, err := NewProfiles(map[string]ProfileDef{
		"dist": {Inherits: ProfileRelease, OptLevel: &opt, LTO: &lto},
	}, ProfileDef{OptLevel: &opt})
	require.NoError(t, err)

	dist, err := profiles.Get("dist")
	require.NoError(t, err)
	assert.Equal(t, "s", dist.OptLevel)
	assert.Equal(t, "fat", dist.LTO)
	assert.Equal(t, 16, dist.CodegenUnits)
	assert.Equal(t, "dist", dist.Dir())

	test, err := profiles.ForUnit(ProfileDev, ModeTest, false)
	require.NoError(t, err)
	assert.Equal(t, ProfileTest, test.Name)
	assert.Equal(t, "debug", test.Dir())

	bench, err := profiles.ForUnit(ProfileRelease, ModeTest, false)
	require.NoError(t, err)
	assert.Equal(t, ProfileBench, bench.Name)

	host, err := profiles.ForUnit(ProfileDev, ModeBuild, true)
	require.NoError(t, err)
	assert.Equal(t, "s", host.OptLevel)

	_, err = NewProfiles(map[string]ProfileDef{"a": {Inherits: "b"}, "b": {Inherits: "a"}}, ProfileDef{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile inheritance loop detected")

	_, err = NewProfiles(map[string]ProfileDef{"custom": {}}, ProfileDef{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing an `inherits` directive")
}

func TestCompileMode_Parse(t *testing.T) {
	for m := ModeBuild; m <= ModeRunCustomBuild; m++ {
		parsed, err := ParseCompileMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseCompileMode("install")
	assert.Error(t, err)
}
