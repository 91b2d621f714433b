package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/crateplan/pkg/core"
)

func lockFixture(t *testing.T) *Resolve {
	t.Helper()
	reg := NewMemoryRegistry(
		pkg("a", "1.0.0", dep("log", "0.3")),
		pkg("log", "0.3.9"),
		pkg("log", "0.4.1"),
		core.Summary{ID: core.MustPackageId("util", "0.2.0", workspace)},
	)
	root := rootPkg("foo", dep("a", "1"), dep("log", "0.4"), core.MustDependency("util", "0.2", workspace))
	return mustResolve(t, reg, DefaultResolveOpts(), root)
}

func TestLockfile_RoundTrip(t *testing.T) {
	res := lockFixture(t)

	data, err := EncodeLockfile(res)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "version = 1")
	assert.Contains(t, text, "[[package]]")
	assert.Contains(t, text, "registry+https://github.com/rust-lang/crates.io-index")
	assert.NotContains(t, text, "/cwd")

	decoded, err := DecodeLockfile(data)
	require.NoError(t, err)
	assert.Equal(t, res.Len(), decoded.Len())
	assert.True(t, res.MatchesLockfile(decoded))

	again, err := EncodeLockfile(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestLockfile_DetectsDrift(t *testing.T) {
	res := lockFixture(t)
	data, err := EncodeLockfile(res)
	require.NoError(t, err)
	locked, err := DecodeLockfile(data)
	require.NoError(t, err)

	reg := NewMemoryRegistry(pkg("a", "1.0.0"), pkg("log", "0.4.1"),
		core.Summary{ID: core.MustPackageId("util", "0.2.0", workspace)})
	fresh := mustResolve(t, reg, DefaultResolveOpts(),
		rootPkg("foo", dep("a", "1"), dep("log", "0.4"), core.MustDependency("util", "0.2", workspace)))
	assert.False(t, fresh.MatchesLockfile(locked))
	assert.Contains(t, res.Diff(fresh), "- log v0.3.9")
}

func TestLockfile_PreviousFromDecoded(t *testing.T) {
	data, err := EncodeLockfile(lockFixture(t))
	require.NoError(t, err)
	locked, err := DecodeLockfile(data)
	require.NoError(t, err)

	reg := NewMemoryRegistry(
		pkg("a", "1.0.0", dep("log", "0.3")),
		pkg("a", "1.5.0", dep("log", "0.3")),
		pkg("log", "0.3.9"),
		pkg("log", "0.4.1"),
		core.Summary{ID: core.MustPackageId("util", "0.2.0", workspace)},
	)
	opts := DefaultResolveOpts()
	opts.Previous = locked
	res := mustResolve(t, reg, opts,
		rootPkg("foo", dep("a", "1"), dep("log", "0.4"), core.MustDependency("util", "0.2", workspace)))
	assert.True(t, res.Contains(id("a", "1.0.0")))
	assert.True(t, res.MatchesLockfile(locked))
}

func TestLockfile_Invalid(t *testing.T) {
	cases := map[string]string{
		"syntax":      "version = ",
		"version":     "version = 9\n",
		"bad version": "version = 1\n[[package]]\nname = \"a\"\nversion = \"x\"\n",
		"missing dep": "version = 1\n[[package]]\nname = \"a\"\nversion = \"1.0.0\"\ndependencies = [\"b 1.0.0\"]\n",
		"duplicate":   "version = 1\n[[package]]\nname = \"a\"\nversion = \"1.0.0\"\n[[package]]\nname = \"a\"\nversion = \"1.0.0\"\n",
		"bad source":  "version = 1\n[[package]]\nname = \"a\"\nversion = \"1.0.0\"\nsource = \"nowhere\"\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLockfile([]byte(input))
			require.Error(t, err)
			assert.Equal(t, core.ErrCodeValidation, core.CodeOf(err))
		})
	}
}
