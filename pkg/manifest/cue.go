package manifest

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// workspaceSchema closes the CUE form of a workspace: unknown fields and
// values outside the enumerations are rejected before decoding.
const workspaceSchema = `
#Name: =~"^[A-Za-z][A-Za-z0-9_-]*$"

#Target: {
	kind:                 "lib" | "bin" | "test" | "bench" | "example"
	name?:                string
	"crate-types"?:       [...("lib" | "rlib" | "dylib" | "cdylib" | "staticlib" | "proc-macro" | "bin")]
	path?:                string
	"required-features"?: [...string]
	harness?:             bool
}

#Dependency: {
	name:                #Name
	package?:            #Name
	version?:            string
	kind?:               "normal" | "build" | "dev"
	target?:             string
	features?:           [...string]
	"default-features"?: bool
	optional?:           bool
	path?:               string
	git?:                string
	branch?:             string
	tag?:                string
	rev?:                string
	registry?:           string
}

#Package: {
	name:          #Name
	version:       string
	source?:       string
	path?:         string
	links?:        string
	build?:        bool
	yanked?:       bool
	features?:     [string]: [...string]
	dependencies?: [...#Dependency]
	targets?:      [...#Target]
}

#Workspace: {
	members: [#Package, ...#Package]
	registry?: [...#Package]
}
`

func parseCUE(filename string, data []byte) (*Workspace, error) {
	cctx := cuecontext.New()

	schema := cctx.CompileString(workspaceSchema, cue.Filename("workspace-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile workspace schema: %w", err)
	}

	val := cctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &ParseError{Format: FormatCUE, Diagnostics: cueDiagnostics(err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Workspace")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ParseError{Format: FormatCUE, Diagnostics: cueDiagnostics(err)}
	}

	var ws Workspace
	if err := unified.Decode(&ws); err != nil {
		return nil, &ParseError{Format: FormatCUE, Diagnostics: cueDiagnostics(err)}
	}
	return &ws, nil
}

func cueDiagnostics(err error) []Diagnostic {
	var out []Diagnostic
	for _, e := range errors.Errors(err) {
		d := Diagnostic{Message: strings.TrimSpace(errors.Details(e, nil))}
		if pos := errors.Positions(e); len(pos) > 0 {
			d.File = pos[0].Filename()
			d.Line = pos[0].Line()
			d.Column = pos[0].Column()
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		out = append(out, Diagnostic{Message: err.Error()})
	}
	return out
}
