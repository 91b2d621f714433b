package core

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// SourceKind distinguishes where a package comes from.
type SourceKind int

const (
	SourceRegistry SourceKind = iota
	SourcePath
	SourceGit
)

func (k SourceKind) String() string {
	switch k {
	case SourceRegistry:
		return "registry"
	case SourcePath:
		return "path"
	case SourceGit:
		return "git"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// DefaultRegistryURL is the index URL of the default registry. Packages from it
// are displayed without a source suffix.
const DefaultRegistryURL = "https://github.com/rust-lang/crates.io-index"

// SourceId identifies a package source. It is a comparable value; URLs are
// canonicalized on construction so that equivalent spellings compare equal.
type SourceId struct {
	Kind SourceKind
	URL  string
	// Reference is the git branch, tag or revision ("branch=main"). Empty for
	// other kinds.
	Reference string
}

// DefaultRegistry returns the SourceId of the default registry.
func DefaultRegistry() SourceId {
	return SourceId{Kind: SourceRegistry, URL: DefaultRegistryURL}
}

// NewRegistrySource returns a registry source for the given index URL.
func NewRegistrySource(rawURL string) (SourceId, error) {
	u, err := CanonicalURL(rawURL)
	if err != nil {
		return SourceId{}, err
	}
	return SourceId{Kind: SourceRegistry, URL: u}, nil
}

// NewPathSource returns a path source rooted at dir.
func NewPathSource(dir string) SourceId {
	return SourceId{Kind: SourcePath, URL: filepath.ToSlash(filepath.Clean(dir))}
}

// NewGitSource returns a git source. ref is one of "", "branch=x", "tag=x" or
// "rev=x".
func NewGitSource(rawURL, ref string) (SourceId, error) {
	u, err := CanonicalURL(rawURL)
	if err != nil {
		return SourceId{}, err
	}
	return SourceId{Kind: SourceGit, URL: u, Reference: ref}, nil
}

// IsDefaultRegistry reports whether s is the default registry.
func (s SourceId) IsDefaultRegistry() bool {
	return s.Kind == SourceRegistry && s.URL == DefaultRegistryURL
}

// IsPath reports whether s is a local path source.
func (s SourceId) IsPath() bool { return s.Kind == SourcePath }

// IsZero reports whether s is the zero SourceId.
func (s SourceId) IsZero() bool { return s == SourceId{} }

// String returns the stable encoded form used in lockfiles, e.g.
// "registry+https://github.com/rust-lang/crates.io-index".
func (s SourceId) String() string {
	out := s.Kind.String() + "+" + s.URL
	if s.Kind == SourceGit && s.Reference != "" {
		out += "?" + s.Reference
	}
	return out
}

// Display returns the short form shown next to a package in diagnostics.
// The default registry displays as the empty string.
func (s SourceId) Display() string {
	switch {
	case s.IsZero(), s.IsDefaultRegistry():
		return ""
	case s.Kind == SourceGit && s.Reference != "":
		return s.URL + "?" + s.Reference
	default:
		return s.URL
	}
}

// Less orders source ids by kind, URL and reference.
func (s SourceId) Less(o SourceId) bool {
	if s.Kind != o.Kind {
		return s.Kind < o.Kind
	}
	if s.URL != o.URL {
		return s.URL < o.URL
	}
	return s.Reference < o.Reference
}

// ParseSourceId parses the String form of a SourceId.
func ParseSourceId(raw string) (SourceId, error) {
	kind, rest, ok := strings.Cut(raw, "+")
	if !ok {
		return SourceId{}, fmt.Errorf("invalid source id %q: missing kind prefix", raw)
	}
	switch kind {
	case "registry":
		return NewRegistrySource(rest)
	case "path":
		return NewPathSource(rest), nil
	case "git":
		u, ref, _ := strings.Cut(rest, "?")
		return NewGitSource(u, ref)
	default:
		return SourceId{}, fmt.Errorf("invalid source id %q: unknown kind %q", raw, kind)
	}
}

// CanonicalURL normalizes a registry or git URL: a trailing slash and a
// ".git" suffix are removed, and github.com URLs are forced to https with a
// lowercased path.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: scheme and host are required", raw)
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	if strings.EqualFold(u.Host, "github.com") {
		u.Scheme = "https"
		u.Host = "github.com"
		u.Path = strings.ToLower(u.Path)
	}
	u.Path = strings.TrimSuffix(u.Path, ".git")
	u.RawPath = ""
	u.Fragment = ""
	u.RawQuery = ""

	return u.String(), nil
}
