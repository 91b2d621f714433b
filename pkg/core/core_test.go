package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/Rust-Lang/Cargo.git": "https://github.com/rust-lang/cargo",
		"http://github.com/rust-lang/cargo/":     "https://github.com/rust-lang/cargo",
		"https://example.com/Index/":             "https://example.com/Index",
		"https://example.com/repo.git#frag":      "https://example.com/repo",
		"ssh://git@gitlab.com/group/project.git": "ssh://git@gitlab.com/group/project",
	}
	for in, want := range cases {
		got, err := CanonicalURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := CanonicalURL("not a url")
	assert.Error(t, err)
}

func TestSourceId_RoundTrip(t *testing.T) {
	git, err := NewGitSource("https://github.com/foo/Bar.git", "branch=main")
	require.NoError(t, err)

	for _, sid := range []SourceId{DefaultRegistry(), NewPathSource("/work/foo"), git} {
		parsed, err := ParseSourceId(sid.String())
		require.NoError(t, err)
		assert.Equal(t, sid, parsed)
	}

	assert.Equal(t, "git+https://github.com/foo/bar?branch=main", git.String())
	assert.Equal(t, "", DefaultRegistry().Display())
	assert.Equal(t, "/work/foo", NewPathSource("/work/foo/").Display())

	_, err = ParseSourceId("svn+http://x")
	assert.Error(t, err)
}

func TestPackageId_String(t *testing.T) {
	reg := MustPackageId("bad", "1.0.0", DefaultRegistry())
	assert.Equal(t, "bad v1.0.0", reg.String())

	path := MustPackageId("foo", "0.0.1", NewPathSource("/cwd"))
	assert.Equal(t, "foo v0.0.1 (/cwd)", path.String())
	assert.Equal(t, "foo@0.0.1", path.Spec())

	assert.True(t, MustPackageId("a", "1.0.0", DefaultRegistry()).Less(MustPackageId("a", "1.0.1", DefaultRegistry())))
	assert.True(t, MustPackageId("a", "9.0.0", DefaultRegistry()).Less(MustPackageId("b", "0.1.0", DefaultRegistry())))
}

func TestPlatform_Cfg(t *testing.T) {
	linux := TargetInfoFromTriple("x86_64-unknown-linux-gnu")
	windows := TargetInfoFromTriple("x86_64-pc-windows-msvc")
	wasm := TargetInfoFromTriple("wasm32-unknown-unknown")

	cases := []struct {
		platform string
		target   TargetInfo
		want     bool
	}{
		{"cfg(unix)", linux, true},
		{"cfg(unix)", windows, false},
		{"cfg(windows)", windows, true},
		{`cfg(target_os = "linux")`, linux, true},
		{`cfg(all(unix, target_arch = "x86_64"))`, linux, true},
		{`cfg(any(windows, target_env = "musl"))`, linux, false},
		{`cfg(not(target_family = "wasm"))`, wasm, false},
		{`cfg(target_pointer_width = "32")`, wasm, true},
		{"x86_64-pc-windows-msvc", windows, true},
		{"x86_64-pc-windows-msvc", linux, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.platform, tc.target.Triple), func(t *testing.T) {
			p, err := ParsePlatform(tc.platform)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Matches(tc.target))
		})
	}
}

func TestPlatform_Invalid(t *testing.T) {
	for _, s := range []string{"cfg(", "cfg(all(unix)", "cfg(not(a, b))", `cfg(foo = )`, "", "cfg(unix) extra"} {
		_, err := ParsePlatform(s)
		assert.Error(t, err, s)
	}
}

func TestCfgExpr_String(t *testing.T) {
	p, err := ParsePlatform(`cfg(all(unix,target_os="linux"))`)
	require.NoError(t, err)
	assert.Equal(t, `cfg(all(unix, target_os = "linux"))`, p.String())
}

func TestDependency_MatchesPlatform(t *testing.T) {
	d := MustDependency("winapi", "0.3", DefaultRegistry())
	d.Platform, _ = ParsePlatform("cfg(windows)")

	assert.True(t, d.MatchesPlatform(nil), "no platforms means no filtering")
	assert.False(t, d.MatchesPlatform([]TargetInfo{TargetInfoFromTriple("x86_64-unknown-linux-gnu")}))
	assert.True(t, d.MatchesPlatform([]TargetInfo{
		TargetInfoFromTriple("x86_64-unknown-linux-gnu"),
		TargetInfoFromTriple("x86_64-pc-windows-gnu"),
	}))
}

func TestParseFeatureValue(t *testing.T) {
	assert.Equal(t, FeatureValue{Kind: FeatureName, Name: "std"}, ParseFeatureValue("std"))
	assert.Equal(t, FeatureValue{Kind: FeatureDep, Name: "serde"}, ParseFeatureValue("dep:serde"))
	assert.Equal(t, FeatureValue{Kind: FeatureDepFeature, Name: "serde", DepFeature: "derive"}, ParseFeatureValue("serde/derive"))
	assert.Equal(t, "serde/derive", ParseFeatureValue("serde/derive").String())
}

func TestDepKind_Text(t *testing.T) {
	for _, k := range []DepKind{DepNormal, DepBuild, DepDevelopment} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back DepKind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	_, err := ParseDepKind("weird")
	assert.Error(t, err)
}

func TestTarget_Linkable(t *testing.T) {
	assert.True(t, NewLibTarget("foo").Linkable())
	assert.True(t, NewLibTarget("m", CrateTypeProcMacro).IsProcMacro())
	assert.False(t, NewLibTarget("c", CrateTypeCdylib).Linkable())
	assert.False(t, NewBinTarget("foo").Linkable())
	assert.Equal(t, "foo_bar", NewLibTarget("foo-bar").CrateName())
}

func TestErrorCodes(t *testing.T) {
	base := NewValidationError("bad manifest %s", "x").WithPackage("foo")
	wrapped := fmt.Errorf("loading: %w", base)

	assert.Equal(t, ErrCodeValidation, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeValidation))
	assert.True(t, errors.Is(wrapped, &Error{ErrCode: ErrCodeValidation}))
	assert.Equal(t, "bad manifest x (package `foo`)", base.Error())

	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}
