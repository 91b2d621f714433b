package resolver

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/semver"
)

// LockfileVersion is the lockfile format written by EncodeLockfile.
const LockfileVersion = 1

const lockfileHeader = "# This file is automatically generated by crateplan.\n# It is not intended for manual editing.\n"

type lockfile struct {
	Version  int           `toml:"version"`
	Packages []lockPackage `toml:"package"`
}

type lockPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source,omitempty"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

// lockIdentity is how a package is spelled in a lockfile. Path sources are
// machine specific and are left out.
func lockIdentity(id core.PackageId) string {
	if id.Source.IsPath() || id.Source.IsZero() {
		return id.Name + " " + id.Version.String()
	}
	return id.Name + " " + id.Version.String() + " (" + id.Source.String() + ")"
}

// EncodeLockfile renders res as a TOML lockfile. The output only depends on
// the packages and edges of res, so encoding the same graph twice yields the
// same bytes.
func EncodeLockfile(res *Resolve) ([]byte, error) {
	lf := lockfile{Version: LockfileVersion}
	for _, id := range res.ids {
		pkg := lockPackage{Name: id.Name, Version: id.Version.String()}
		if !id.Source.IsPath() && !id.Source.IsZero() {
			pkg.Source = id.Source.String()
		}
		for _, e := range res.nodes[id].deps {
			pkg.Dependencies = append(pkg.Dependencies, lockIdentity(e.To))
		}
		sort.Strings(pkg.Dependencies)
		lf.Packages = append(lf.Packages, pkg)
	}

	var buf bytes.Buffer
	buf.WriteString(lockfileHeader)
	buf.WriteString("\n")
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(lf); err != nil {
		return nil, fmt.Errorf("failed to encode lockfile: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeLockfile parses a lockfile into a Resolve carrying identities and
// edges only: no features, declarations or workspace members. Path packages
// get a path source without a directory.
func DecodeLockfile(data []byte) (*Resolve, error) {
	var lf lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, core.NewError(core.ErrCodeValidation, "failed to parse lockfile", err)
	}
	if lf.Version != LockfileVersion {
		return nil, core.NewValidationError("unsupported lockfile version %d", lf.Version)
	}

	res := newResolve()
	byIdentity := make(map[string]core.PackageId, len(lf.Packages))
	decoded := make([]core.PackageId, len(lf.Packages))
	for i, p := range lf.Packages {
		v, err := semver.ParseVersion(p.Version)
		if err != nil {
			return nil, core.NewError(core.ErrCodeValidation, fmt.Sprintf("invalid version for `%s` in lockfile", p.Name), err)
		}
		source := core.SourceId{Kind: core.SourcePath}
		if p.Source != "" {
			source, err = core.ParseSourceId(p.Source)
			if err != nil {
				return nil, core.NewError(core.ErrCodeValidation, fmt.Sprintf("invalid source for `%s` in lockfile", p.Name), err)
			}
		}
		id := core.PackageId{Name: p.Name, Version: v, Source: source}
		ident := lockIdentity(id)
		if _, dup := byIdentity[ident]; dup {
			return nil, core.NewValidationError("package `%s` is listed twice in the lockfile", ident)
		}
		byIdentity[ident] = id
		decoded[i] = id
		res.addNode(core.Summary{ID: id}, nil)
	}

	for i, p := range lf.Packages {
		n := res.nodes[decoded[i]]
		for _, dep := range p.Dependencies {
			to, ok := byIdentity[strings.TrimSpace(dep)]
			if !ok {
				return nil, core.NewValidationError("package `%s %s` depends on `%s`, which is missing from the lockfile", p.Name, p.Version, dep)
			}
			n.deps = append(n.deps, Edge{To: to})
		}
	}
	res.finish()
	return res, nil
}

// lockedSet indexes the identities of a previous resolve.
func lockedSet(prev *Resolve) map[string]bool {
	if prev == nil {
		return nil
	}
	out := make(map[string]bool, prev.Len())
	for _, id := range prev.ids {
		out[lockIdentity(id)] = true
	}
	return out
}

// MatchesLockfile reports whether res and locked list the same packages
// and dependency edges as a lockfile would record them.
func (r *Resolve) MatchesLockfile(locked *Resolve) bool {
	a, errA := EncodeLockfile(r)
	b, errB := EncodeLockfile(locked)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}
