package compiler

import (
	"fmt"
	"sort"

	"github.com/openfroyo/crateplan/pkg/core"
)

// Profile is the resolved set of code generation settings of a unit. It is
// comparable and part of unit identity.
type Profile struct {
	Name            string `json:"name"`
	OptLevel        string `json:"opt_level"`
	Debuginfo       int    `json:"debuginfo"`
	DebugAssertions bool   `json:"debug_assertions"`
	OverflowChecks  bool   `json:"overflow_checks"`
	LTO             string `json:"lto"`
	CodegenUnits    int    `json:"codegen_units,omitempty"`
	Panic           string `json:"panic"`
	Incremental     bool   `json:"incremental"`
}

// ProfileDef is a profile as written in configuration. Unset fields are
// taken from the inherited profile.
type ProfileDef struct {
	Inherits        string  `yaml:"inherits,omitempty" json:"inherits,omitempty"`
	OptLevel        *string `yaml:"opt-level,omitempty" json:"opt-level,omitempty" validate:"omitempty,oneof=0 1 2 3 s z"`
	Debuginfo       *int    `yaml:"debug,omitempty" json:"debug,omitempty" validate:"omitempty,min=0,max=2"`
	DebugAssertions *bool   `yaml:"debug-assertions,omitempty" json:"debug-assertions,omitempty"`
	OverflowChecks  *bool   `yaml:"overflow-checks,omitempty" json:"overflow-checks,omitempty"`
	LTO             *string `yaml:"lto,omitempty" json:"lto,omitempty" validate:"omitempty,oneof=false true thin fat off"`
	CodegenUnits    *int    `yaml:"codegen-units,omitempty" json:"codegen-units,omitempty" validate:"omitempty,min=1"`
	Panic           *string `yaml:"panic,omitempty" json:"panic,omitempty" validate:"omitempty,oneof=unwind abort"`
	Incremental     *bool   `yaml:"incremental,omitempty" json:"incremental,omitempty"`
}

func (d ProfileDef) apply(p Profile) Profile {
	if d.OptLevel != nil {
		p.OptLevel = *d.OptLevel
	}
	if d.Debuginfo != nil {
		p.Debuginfo = *d.Debuginfo
	}
	if d.DebugAssertions != nil {
		p.DebugAssertions = *d.DebugAssertions
	}
	if d.OverflowChecks != nil {
		p.OverflowChecks = *d.OverflowChecks
	}
	if d.LTO != nil {
		p.LTO = *d.LTO
	}
	if d.CodegenUnits != nil {
		p.CodegenUnits = *d.CodegenUnits
	}
	if d.Panic != nil {
		p.Panic = *d.Panic
	}
	if d.Incremental != nil {
		p.Incremental = *d.Incremental
	}
	return p
}

// Built-in profile names.
const (
	ProfileDev     = "dev"
	ProfileRelease = "release"
	ProfileTest    = "test"
	ProfileBench   = "bench"
)

var builtinProfiles = map[string]Profile{
	ProfileDev: {
		Name: ProfileDev, OptLevel: "0", Debuginfo: 2, DebugAssertions: true, OverflowChecks: true,
		LTO: "false", CodegenUnits: 256, Panic: "unwind", Incremental: true,
	},
	ProfileRelease: {
		Name: ProfileRelease, OptLevel: "3", Debuginfo: 0, DebugAssertions: false, OverflowChecks: false,
		LTO: "false", CodegenUnits: 16, Panic: "unwind", Incremental: false,
	},
}

var builtinParents = map[string]string{
	ProfileTest:  ProfileDev,
	ProfileBench: ProfileRelease,
}

// Profiles resolves profile names, including custom profiles with
// inheritance, and the build-override applied to host-only units.
type Profiles struct {
	defs          map[string]ProfileDef
	buildOverride ProfileDef
	resolved      map[string]Profile
}

// DefaultProfiles returns the built-in profiles without customization.
func DefaultProfiles() *Profiles {
	p, _ := NewProfiles(nil, ProfileDef{})
	return p
}

// NewProfiles validates defs and resolves every profile. Overrides of
// built-in profiles may omit Inherits; custom profiles must name the
// profile they inherit from.
func NewProfiles(defs map[string]ProfileDef, buildOverride ProfileDef) (*Profiles, error) {
	p := &Profiles{
		defs:          make(map[string]ProfileDef, len(defs)),
		buildOverride: buildOverride,
		resolved:      make(map[string]Profile),
	}
	for name, def := range defs {
		p.defs[name] = def
	}

	names := []string{ProfileDev, ProfileRelease, ProfileTest, ProfileBench}
	names = append(names, core.SortedKeys(p.defs)...)
	for _, name := range names {
		if _, err := p.resolve(name, nil); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Profiles) resolve(name string, chain []string) (Profile, error) {
	if prof, ok := p.resolved[name]; ok {
		return prof, nil
	}
	for _, seen := range chain {
		if seen == name {
			return Profile{}, core.NewValidationError("profile inheritance loop detected with profile `%s` inheriting `%s`",
				chain[len(chain)-1], name)
		}
	}
	chain = append(chain, name)

	def, custom := p.defs[name]
	base, builtin := builtinProfiles[name]
	switch {
	case builtin:
	case builtinParents[name] != "":
		parent, err := p.resolve(builtinParents[name], chain)
		if err != nil {
			return Profile{}, err
		}
		base = parent
	case !custom:
		return Profile{}, core.NewValidationError("profile `%s` is not defined", name)
	case def.Inherits == "":
		return Profile{}, core.NewValidationError("profile `%s` is missing an `inherits` directive", name)
	default:
		parent, err := p.resolve(def.Inherits, chain)
		if err != nil {
			return Profile{}, err
		}
		base = parent
	}

	prof := def.apply(base)
	prof.Name = name
	if name == ProfileTest || name == ProfileBench {
		// Test harnesses require unwinding.
		prof.Panic = "unwind"
	}
	p.resolved[name] = prof
	return prof, nil
}

// Get returns the resolved profile called name.
func (p *Profiles) Get(name string) (Profile, error) {
	if prof, ok := p.resolved[name]; ok {
		return prof, nil
	}
	return Profile{}, core.NewValidationError("profile `%s` is not defined", name)
}

// Names returns every known profile name, sorted.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.resolved))
	for name := range p.resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForUnit picks the profile of a unit. Test modes switch dev to test and
// release to bench; units that run on the host during the build get the
// build-override settings.
func (p *Profiles) ForUnit(requested string, mode CompileMode, forHost bool) (Profile, error) {
	name := requested
	switch {
	case mode == ModeBench:
		name = ProfileBench
	case mode.IsAnyTest() && requested == ProfileRelease:
		name = ProfileBench
	case mode.IsAnyTest() && requested == ProfileDev:
		name = ProfileTest
	}
	prof, err := p.Get(name)
	if err != nil {
		return Profile{}, fmt.Errorf("selecting profile for %s: %w", mode, err)
	}
	if forHost {
		prof = p.buildOverride.apply(prof)
	}
	return prof, nil
}

// Dir is the output directory name of a profile.
func (prof Profile) Dir() string {
	switch prof.Name {
	case ProfileDev, ProfileTest:
		return "debug"
	case ProfileRelease, ProfileBench:
		return "release"
	default:
		return prof.Name
	}
}
