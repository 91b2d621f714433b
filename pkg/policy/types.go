package policy

import (
	"strings"
	"time"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that reject the resolve.
	SeverityError Severity = "error"
)

// blocks reports whether a violation of this severity rejects the resolve.
func (s Severity) blocks() bool {
	return s == SeverityError
}

// Policy is a Rego module with a deny rule. Each element of deny is a
// violation: a string message or an object with "message", "package" and
// optionally "severity".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Package  string   `json:"package,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	// RequiredBy leads from Package's dependent to a workspace member.
	RequiredBy []string `json:"required_by,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against one
// resolve.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Err returns a VALIDATION_ERROR describing the blocking violations, or nil
// when the resolve is allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	var first *Violation
	n := 0
	for i := range r.Violations {
		if r.Violations[i].Severity.blocks() {
			if first == nil {
				first = &r.Violations[i]
			}
			n++
		}
	}
	if first == nil {
		return nil
	}
	msg := first.Message
	if len(first.RequiredBy) > 0 {
		msg += ", required by " + strings.Join(first.RequiredBy, " <- ")
	}
	err := core.NewValidationError("%d policy violation(s), first: %s: %s", n, first.Policy, msg)
	if first.Package != "" {
		err = err.WithPackage(first.Package)
	}
	return err
}

// Input is the document policies see as input.
type Input struct {
	Roots    []string       `json:"roots"`
	Packages []InputPackage `json:"packages"`
	Context  Context        `json:"context"`
}

// InputPackage is one activated package.
type InputPackage struct {
	// ID is "name version" plus the source for non-path packages.
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Source     string   `json:"source"`
	SourceKind string   `json:"source_kind"`
	Root       bool     `json:"root"`
	Yanked     bool     `json:"yanked"`
	Links      string   `json:"links,omitempty"`
	Features   []string `json:"features"`
	// Dependencies are the IDs of the packages this one depends on.
	Dependencies []string `json:"dependencies"`
	// RequiredBy is a chain of dependents ending at a root, nearest first.
	RequiredBy []string `json:"required_by"`
}

// Context describes the run a resolve belongs to.
type Context struct {
	Operation string    `json:"operation,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewInput flattens res into the policy input document.
func NewInput(res *resolver.Resolve, ctx Context) *Input {
	in := &Input{Context: ctx, Roots: []string{}, Packages: []InputPackage{}}
	if in.Context.Timestamp.IsZero() {
		in.Context.Timestamp = time.Now().UTC()
	}
	for _, id := range res.Roots() {
		in.Roots = append(in.Roots, inputID(id))
	}
	for _, id := range res.PackageIds() {
		p := InputPackage{
			ID:           inputID(id),
			Name:         id.Name,
			Version:      id.Version.String(),
			Source:       id.Source.String(),
			SourceKind:   id.Source.Kind.String(),
			Root:         res.IsRoot(id),
			Features:     res.Features(id),
			Dependencies: []string{},
			RequiredBy:   []string{},
		}
		if p.Features == nil {
			p.Features = []string{}
		}
		if s, ok := res.Summary(id); ok {
			p.Yanked = s.Yanked
			p.Links = s.Links
		}
		for _, e := range res.Deps(id) {
			p.Dependencies = append(p.Dependencies, inputID(e.To))
		}
		for _, dep := range res.PathToRoot(id)[1:] {
			p.RequiredBy = append(p.RequiredBy, inputID(dep))
		}
		in.Packages = append(in.Packages, p)
	}
	return in
}

func inputID(id core.PackageId) string {
	if id.Source.IsPath() || id.Source.IsZero() {
		return id.Name + " " + id.Version.String()
	}
	return id.Name + " " + id.Version.String() + " (" + id.Source.String() + ")"
}
