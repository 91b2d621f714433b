package compiler

import "fmt"

// CompileKind says which machine an artifact is built for. The zero value
// is the host, the machine running the build.
type CompileKind struct {
	Triple string
}

// Host is the CompileKind of build scripts, procedural macros and, when no
// target is requested, everything else.
var Host = CompileKind{}

// ForTarget returns the CompileKind of a cross-compilation target.
func ForTarget(triple string) CompileKind {
	return CompileKind{Triple: triple}
}

// IsHost reports whether k is the host.
func (k CompileKind) IsHost() bool { return k.Triple == "" }

func (k CompileKind) String() string {
	if k.IsHost() {
		return "host"
	}
	return k.Triple
}

// CompileMode is what is done with a target.
type CompileMode int

const (
	// ModeBuild compiles the target into its final artifact.
	ModeBuild CompileMode = iota
	// ModeCheck only type-checks and emits metadata.
	ModeCheck
	// ModeCheckTest type-checks the target with its test harness.
	ModeCheckTest
	// ModeTest builds a test executable.
	ModeTest
	// ModeBench builds a benchmark executable.
	ModeBench
	// ModeDoc generates documentation.
	ModeDoc
	// ModeRunCustomBuild executes a compiled build script.
	ModeRunCustomBuild
)

func (m CompileMode) String() string {
	switch m {
	case ModeBuild:
		return "build"
	case ModeCheck:
		return "check"
	case ModeCheckTest:
		return "check-test"
	case ModeTest:
		return "test"
	case ModeBench:
		return "bench"
	case ModeDoc:
		return "doc"
	case ModeRunCustomBuild:
		return "run-custom-build"
	default:
		return fmt.Sprintf("CompileMode(%d)", int(m))
	}
}

// ParseCompileMode parses the String form of a CompileMode.
func ParseCompileMode(s string) (CompileMode, error) {
	for m := ModeBuild; m <= ModeRunCustomBuild; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeBuild, fmt.Errorf("unknown compile mode %q", s)
}

// IsAnyTest reports whether the mode compiles a test harness.
func (m CompileMode) IsAnyTest() bool {
	return m == ModeTest || m == ModeBench || m == ModeCheckTest
}

// IsCheck reports whether the mode only produces metadata.
func (m CompileMode) IsCheck() bool {
	return m == ModeCheck || m == ModeCheckTest
}

// MarshalText implements encoding.TextMarshaler.
func (m CompileMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
