package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// StarlarkTimeout bounds the evaluation of a Starlark workspace file.
var StarlarkTimeout = 30 * time.Second

// starlarkBuilder collects the packages declared by package() and
// registry() calls.
type starlarkBuilder struct {
	ws Workspace
}

func parseStarlark(ctx context.Context, filename string, data []byte) (*Workspace, error) {
	log := telemetry.FromContext(ctx).NewComponentLogger("manifest")

	ctx, cancel := context.WithTimeout(ctx, StarlarkTimeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "crateplan",
		Print: func(_ *starlark.Thread, msg string) {
			log.WithField("file", filename).Debug(msg)
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	b := &starlarkBuilder{}
	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"package":  starlark.NewBuiltin("package", b.builtinPackage),
		"registry": starlark.NewBuiltin("registry", b.builtinRegistry),
		"dep":      starlark.NewBuiltin("dep", builtinDep),
		"target":   starlark.NewBuiltin("target", builtinTarget),
	}

	if _, err := starlark.ExecFile(thread, filename, data, predeclared); err != nil {
		return nil, &ParseError{Format: FormatStarlark, Diagnostics: []Diagnostic{starlarkDiagnostic(filename, err)}}
	}
	return &b.ws, nil
}

func starlarkDiagnostic(filename string, err error) Diagnostic {
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return Diagnostic{
			File:    filename,
			Line:    int(syntaxErr.Pos.Line),
			Column:  int(syntaxErr.Pos.Col),
			Message: syntaxErr.Msg,
		}
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		d := Diagnostic{File: filename, Message: evalErr.Msg}
		for i := 0; i < len(evalErr.CallStack); i++ {
			frame := evalErr.CallStack.At(i)
			if frame.Pos.Filename() == filename {
				d.Line = int(frame.Pos.Line)
				d.Column = int(frame.Pos.Col)
				break
			}
		}
		return d
	}
	return Diagnostic{File: filename, Message: err.Error()}
}

// depValue is the result of dep(): a declared dependency.
type depValue struct{ spec DependencySpec }

func (d *depValue) String() string        { return fmt.Sprintf("dep(%q)", d.spec.Name) }
func (d *depValue) Type() string          { return "dep" }
func (d *depValue) Freeze()               {}
func (d *depValue) Truth() starlark.Bool  { return starlark.True }
func (d *depValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: dep") }

// targetValue is the result of target().
type targetValue struct{ spec TargetSpec }

func (t *targetValue) String() string        { return fmt.Sprintf("target(%q, %q)", t.spec.Kind, t.spec.Name) }
func (t *targetValue) Type() string          { return "target" }
func (t *targetValue) Freeze()               {}
func (t *targetValue) Truth() starlark.Bool  { return starlark.True }
func (t *targetValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: target") }

// builtinPackage declares a workspace member:
//
//	package("app", "0.1.0", deps = [dep("log", "^0.4")], targets = [target("bin")])
func (b *starlarkBuilder) builtinPackage(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	spec, err := unpackPackage(fn, args, kwargs, false)
	if err != nil {
		return nil, err
	}
	b.ws.Members = append(b.ws.Members, spec)
	return starlark.None, nil
}

// builtinRegistry declares a package available from a registry or git
// source.
func (b *starlarkBuilder) builtinRegistry(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	spec, err := unpackPackage(fn, args, kwargs, true)
	if err != nil {
		return nil, err
	}
	b.ws.Registry = append(b.ws.Registry, spec)
	return starlark.None, nil
}

func unpackPackage(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, registry bool) (PackageSpec, error) {
	var (
		spec          PackageSpec
		features      *starlark.Dict
		deps, targets *starlark.List
	)
	params := []interface{}{
		"name", &spec.Name,
		"version", &spec.Version,
		"links?", &spec.Links,
		"build?", &spec.Build,
		"features?", &features,
		"deps?", &deps,
		"targets?", &targets,
	}
	if registry {
		params = append(params, "source?", &spec.Source, "yanked?", &spec.Yanked)
	} else {
		params = append(params, "path?", &spec.Path)
	}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, params...); err != nil {
		return spec, err
	}

	if features != nil {
		spec.Features = make(map[string][]string, features.Len())
		for _, item := range features.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return spec, fmt.Errorf("%s: feature names must be strings, got %s", fn.Name(), item[0].Type())
			}
			values, err := stringList(fn.Name(), item[1])
			if err != nil {
				return spec, err
			}
			spec.Features[string(key)] = values
		}
	}

	if deps != nil {
		for i := 0; i < deps.Len(); i++ {
			switch v := deps.Index(i).(type) {
			case *depValue:
				spec.Dependencies = append(spec.Dependencies, v.spec)
			case starlark.String:
				spec.Dependencies = append(spec.Dependencies, DependencySpec{Name: string(v)})
			default:
				return spec, fmt.Errorf("%s: deps[%d] is a %s, want dep() or a string", fn.Name(), i, v.Type())
			}
		}
	}

	if targets != nil {
		for i := 0; i < targets.Len(); i++ {
			v, ok := targets.Index(i).(*targetValue)
			if !ok {
				return spec, fmt.Errorf("%s: targets[%d] is a %s, want target()", fn.Name(), i, targets.Index(i).Type())
			}
			spec.Targets = append(spec.Targets, v.spec)
		}
	}
	return spec, nil
}

// builtinDep returns a dependency declaration:
//
//	dep("serde", "^1.0", features = ["derive"], kind = "dev")
func builtinDep(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		d               DependencySpec
		features        starlark.Value = starlark.None
		defaultFeatures starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &d.Name,
		"version?", &d.Version,
		"kind?", &d.Kind,
		"target?", &d.Target,
		"features?", &features,
		"default_features?", &defaultFeatures,
		"optional?", &d.Optional,
		"package?", &d.Package,
		"path?", &d.Path,
		"git?", &d.Git,
		"branch?", &d.Branch,
		"tag?", &d.Tag,
		"rev?", &d.Rev,
		"registry?", &d.Registry,
	); err != nil {
		return nil, err
	}

	if features != starlark.None {
		list, err := stringList(fn.Name(), features)
		if err != nil {
			return nil, err
		}
		d.Features = list
	}
	if defaultFeatures != starlark.None {
		b, ok := defaultFeatures.(starlark.Bool)
		if !ok {
			return nil, fmt.Errorf("%s: default_features must be a bool, got %s", fn.Name(), defaultFeatures.Type())
		}
		v := bool(b)
		d.DefaultFeatures = &v
	}
	return &depValue{spec: d}, nil
}

// builtinTarget returns a target declaration:
//
//	target("bin", "cli", path = "src/bin/cli.rs")
func builtinTarget(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		spec             TargetSpec
		crateTypes       starlark.Value = starlark.None
		requiredFeatures starlark.Value = starlark.None
		harness          starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"kind", &spec.Kind,
		"name?", &spec.Name,
		"path?", &spec.Path,
		"crate_types?", &crateTypes,
		"required_features?", &requiredFeatures,
		"harness?", &harness,
	); err != nil {
		return nil, err
	}

	var err error
	if crateTypes != starlark.None {
		if spec.CrateTypes, err = stringList(fn.Name(), crateTypes); err != nil {
			return nil, err
		}
	}
	if requiredFeatures != starlark.None {
		if spec.RequiredFeatures, err = stringList(fn.Name(), requiredFeatures); err != nil {
			return nil, err
		}
	}
	if harness != starlark.None {
		b, ok := harness.(starlark.Bool)
		if !ok {
			return nil, fmt.Errorf("%s: harness must be a bool, got %s", fn.Name(), harness.Type())
		}
		v := bool(b)
		spec.Harness = &v
	}
	return &targetValue{spec: spec}, nil
}

// stringList converts a Starlark list or tuple of strings.
func stringList(fname string, v starlark.Value) ([]string, error) {
	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}
	items, ok := goVal.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: want a list of strings, got %s", fname, v.Type())
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want a list of strings, got an element of type %T", fname, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) ([]interface{}, error) {
	list := make([]interface{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
