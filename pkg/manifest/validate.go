package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/semver"
)

var crateNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// NewValidator returns a validator that knows the package tags: cratename,
// semver, semverreq, platform and sourceid.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	must("cratename", func(fl validator.FieldLevel) bool {
		return crateNameRe.MatchString(fl.Field().String())
	})
	must("semver", func(fl validator.FieldLevel) bool {
		_, err := semver.ParseVersion(fl.Field().String())
		return err == nil
	})
	must("semverreq", func(fl validator.FieldLevel) bool {
		_, err := semver.ParseReq(fl.Field().String())
		return err == nil
	})
	must("platform", func(fl validator.FieldLevel) bool {
		_, err := core.ParsePlatform(fl.Field().String())
		return err == nil
	})
	must("sourceid", func(fl validator.FieldLevel) bool {
		_, err := core.ParseSourceId(fl.Field().String())
		return err == nil
	})
	return v
}

var defaultValidator = NewValidator()

// Validate checks ws against its struct tags and the cross-field rules the
// tags cannot express.
func Validate(ws *Workspace) error {
	if err := defaultValidator.Struct(ws); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return core.NewError(core.ErrCodeValidation, "invalid workspace: "+describe(verrs), err)
		}
		return core.NewError(core.ErrCodeValidation, "invalid workspace", err)
	}

	members := make(map[string]bool, len(ws.Members))
	for _, m := range ws.Members {
		if members[m.Name] {
			return core.NewValidationError("workspace member `%s` is declared twice", m.Name)
		}
		members[m.Name] = true
	}
	for _, list := range [][]PackageSpec{ws.Members, ws.Registry} {
		for _, p := range list {
			if err := validatePackage(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePackage(p PackageSpec) error {
	libs := 0
	seen := map[string]bool{}
	for _, t := range p.Targets {
		if t.Kind == "lib" {
			libs++
		}
		key := t.Kind + ":" + targetName(p, t)
		if seen[key] {
			return core.NewValidationError("package `%s` declares the %s target `%s` twice", p.Name, t.Kind, targetName(p, t))
		}
		seen[key] = true
	}
	if libs > 1 {
		return core.NewValidationError("package `%s` declares more than one lib target", p.Name)
	}
	for feature, values := range p.Features {
		for _, v := range values {
			fv := core.ParseFeatureValue(v)
			switch fv.Kind {
			case core.FeatureName:
				if _, ok := p.Features[fv.Name]; !ok && !hasOptionalDep(p, fv.Name) {
					return core.NewValidationError("feature `%s` of package `%s` includes `%s` which is neither a dependency nor another feature",
						feature, p.Name, v)
				}
			case core.FeatureDep:
				if !hasOptionalDep(p, fv.Name) {
					return core.NewValidationError("feature `%s` of package `%s` includes `%s`, but `%s` is not an optional dependency",
						feature, p.Name, v, fv.Name)
				}
			}
		}
	}
	return nil
}

func targetName(p PackageSpec, t TargetSpec) string {
	if t.Name != "" {
		return t.Name
	}
	return p.Name
}

func hasOptionalDep(p PackageSpec, name string) bool {
	for _, d := range p.Dependencies {
		if d.Name == name && d.Optional {
			return true
		}
	}
	return false
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.TrimPrefix(e.Namespace(), "Workspace.")
		if e.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %q (%s)", field, e.Tag(), e.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %q", field, e.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
