package compiler

import (
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

// stdUnits creates the lib units of the std crates for kind. Every target
// unit of that kind links them.
func (b *builder) stdUnits(kind CompileKind) ([]*Unit, error) {
	std := b.bc.Std
	if std.Resolve == nil {
		return nil, core.NewValidationError("build-std requires a resolve of the standard library")
	}
	crates := std.Crates
	if len(crates) == 0 {
		crates = DefaultStdCrates
	}

	mode := ModeBuild
	if b.bc.Mode.IsCheck() {
		mode = ModeCheck
	}
	profile, err := b.bc.Profiles.ForUnit(b.bc.ProfileName, ModeBuild, false)
	if err != nil {
		return nil, err
	}

	units := make([]*Unit, 0, len(crates))
	for _, name := range crates {
		id, ok := stdRoot(std.Resolve, name)
		if !ok {
			return nil, core.NewValidationError("std crate `%s` is not part of the standard library resolve", name)
		}
		pkg, ok := std.Packages[id]
		if !ok {
			return nil, core.NewValidationError("package `%s` is not loaded", id)
		}
		lib := pkg.Lib()
		if lib == nil {
			return nil, core.NewValidationError("no library targets found in package `%s`", pkg.Name())
		}
		units = append(units, b.interner.intern(pkg, *lib, profile, kind, mode, std.Resolve.Features(id), true))
	}
	return units, nil
}

func stdRoot(res *resolver.Resolve, name string) (core.PackageId, bool) {
	for _, id := range res.Roots() {
		if id.Name == name {
			return id, true
		}
	}
	return core.PackageId{}, false
}
