package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

// Loaded is a built workspace: the member summaries that seed resolution,
// a registry holding every declared package, and the loaded packages the
// unit graph builder needs.
type Loaded struct {
	// Root is the absolute workspace directory.
	Root      string
	Workspace *Workspace
	Members   []core.Summary
	Registry  *resolver.MemoryRegistry
	Packages  compiler.PackageSet
}

// Member returns the loaded member package with the given name.
func (l *Loaded) Member(name string) (*core.Package, bool) {
	for _, s := range l.Members {
		if s.Name() == name {
			return l.Packages[s.ID], true
		}
	}
	return nil, false
}

// MemberPackages returns the member packages in declaration order.
func (l *Loaded) MemberPackages() []*core.Package {
	out := make([]*core.Package, 0, len(l.Members))
	for _, s := range l.Members {
		out = append(out, l.Packages[s.ID])
	}
	return out
}

// Build converts a validated workspace into summaries and packages. Member
// packages get path sources under root; registry entries keep their
// declared source.
func Build(ws *Workspace, root string) (*Loaded, error) {
	l := &Loaded{
		Root:      filepath.Clean(root),
		Workspace: ws,
		Registry:  resolver.NewMemoryRegistry(),
		Packages:  make(compiler.PackageSet),
	}

	memberDirs := make(map[string]string, len(ws.Members))
	for _, m := range ws.Members {
		memberDirs[l.memberDir(m)] = m.Name
	}

	for _, m := range ws.Members {
		dir := l.memberDir(m)
		pkg, err := buildPackage(m, core.NewPathSource(dir), dir, memberDirs)
		if err != nil {
			return nil, err
		}
		l.Members = append(l.Members, pkg.Summary)
		l.Registry.Add(pkg.Summary)
		l.Packages[pkg.ID()] = pkg
	}

	for _, r := range ws.Registry {
		pkg, err := registryPackage(r)
		if err != nil {
			return nil, err
		}
		if _, dup := l.Packages[pkg.ID()]; dup {
			return nil, core.NewValidationError("package `%s` is declared twice", pkg.ID())
		}
		l.Registry.Add(pkg.Summary)
		l.Packages[pkg.ID()] = pkg
	}
	return l, nil
}

// registryPackage builds a registry entry under its declared source, the
// default registry when it has none.
func registryPackage(r PackageSpec) (*core.Package, error) {
	src := core.DefaultRegistry()
	if r.Source != "" {
		var err error
		if src, err = core.ParseSourceId(r.Source); err != nil {
			return nil, core.NewValidationError("package `%s`: %v", r.Name, err)
		}
	}
	return buildPackage(r, src, "", nil)
}

func (l *Loaded) memberDir(m PackageSpec) string {
	p := m.Path
	if p == "" {
		p = m.Name
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(l.Root, p)
}

// buildPackage converts one declaration. memberDirs is nil for registry
// entries, which may not have path dependencies.
func buildPackage(p PackageSpec, src core.SourceId, dir string, memberDirs map[string]string) (*core.Package, error) {
	id, err := core.NewPackageId(p.Name, p.Version, src)
	if err != nil {
		return nil, core.NewValidationError("package `%s`: %v", p.Name, err)
	}

	summary := core.Summary{
		ID:       id,
		Features: p.Features,
		Links:    p.Links,
		Yanked:   p.Yanked,
	}
	for _, d := range p.Dependencies {
		dep, err := buildDependency(d, dir, memberDirs)
		if err != nil {
			return nil, core.NewValidationError("package `%s`, dependency `%s`: %v", p.Name, d.Name, err)
		}
		summary.Dependencies = append(summary.Dependencies, dep)
	}

	targets, err := buildTargets(p)
	if err != nil {
		return nil, err
	}
	pkg := &core.Package{Summary: summary, Targets: targets, Root: dir}
	if lib := pkg.Lib(); lib != nil {
		pkg.Summary.ProcMacro = lib.IsProcMacro()
	}
	return pkg, nil
}

func buildDependency(d DependencySpec, dir string, memberDirs map[string]string) (core.Dependency, error) {
	src, err := dependencySource(d, dir, memberDirs)
	if err != nil {
		return core.Dependency{}, err
	}

	req := d.Version
	if req == "" {
		req = "*"
	}
	name, rename := d.Name, ""
	if d.Package != "" && d.Package != d.Name {
		name, rename = d.Package, d.Name
	}
	dep, err := core.NewDependency(name, req, src)
	if err != nil {
		return core.Dependency{}, err
	}
	dep.Rename = rename
	if dep.Kind, err = core.ParseDepKind(d.Kind); err != nil {
		return core.Dependency{}, err
	}
	if d.Target != "" {
		if dep.Platform, err = core.ParsePlatform(d.Target); err != nil {
			return core.Dependency{}, err
		}
	}
	dep.Features = d.Features
	if d.DefaultFeatures != nil {
		dep.DefaultFeatures = *d.DefaultFeatures
	}
	dep.Optional = d.Optional
	return dep, nil
}

func dependencySource(d DependencySpec, dir string, memberDirs map[string]string) (core.SourceId, error) {
	switch {
	case d.Path != "":
		if memberDirs == nil {
			return core.SourceId{}, fmt.Errorf("registry packages cannot have path dependencies")
		}
		target := d.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		target = filepath.Clean(target)
		if _, ok := memberDirs[target]; !ok {
			return core.SourceId{}, fmt.Errorf("path %s is not a workspace member", d.Path)
		}
		return core.NewPathSource(target), nil
	case d.Git != "":
		ref := ""
		switch {
		case d.Branch != "":
			ref = "branch=" + d.Branch
		case d.Tag != "":
			ref = "tag=" + d.Tag
		case d.Rev != "":
			ref = "rev=" + d.Rev
		}
		return core.NewGitSource(d.Git, ref)
	case d.Registry != "":
		return core.NewRegistrySource(d.Registry)
	default:
		return core.DefaultRegistry(), nil
	}
}

func buildTargets(p PackageSpec) ([]core.Target, error) {
	var targets []core.Target
	if len(p.Targets) == 0 {
		targets = append(targets, core.NewLibTarget(core.CrateName(p.Name)))
	}
	for _, ts := range p.Targets {
		kind, err := core.ParseTargetKind(ts.Kind)
		if err != nil {
			return nil, core.NewValidationError("package `%s`: %v", p.Name, err)
		}
		var t core.Target
		switch kind {
		case core.TargetLib:
			t = core.NewLibTarget(core.CrateName(targetName(p, ts)), ts.CrateTypes...)
		default:
			t = core.Target{
				Kind:       kind,
				Name:       targetName(p, ts),
				CrateTypes: []string{core.CrateTypeBin},
				SrcPath:    defaultSrcPath(kind, targetName(p, ts)),
				Harness:    true,
			}
			if len(ts.CrateTypes) > 0 {
				t.CrateTypes = ts.CrateTypes
			}
		}
		if ts.Path != "" {
			t.SrcPath = ts.Path
		}
		t.RequiredFeatures = ts.RequiredFeatures
		if ts.Harness != nil {
			t.Harness = *ts.Harness
		}
		targets = append(targets, t)
	}
	if p.Build {
		targets = append(targets, core.NewCustomBuildTarget())
	}
	return targets, nil
}

func defaultSrcPath(kind core.TargetKind, name string) string {
	switch kind {
	case core.TargetBin:
		return "src/main.rs"
	case core.TargetTest:
		return "tests/" + name + ".rs"
	case core.TargetBench:
		return "benches/" + name + ".rs"
	case core.TargetExample:
		return "examples/" + name + ".rs"
	default:
		return "src/lib.rs"
	}
}
