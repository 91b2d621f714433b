package engine

import (
	"context"
	"time"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/config"
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/manifest"
	"github.com/openfroyo/crateplan/pkg/policy"
	"github.com/openfroyo/crateplan/pkg/resolver"
	"github.com/openfroyo/crateplan/pkg/stores"
)

// Planner turns a loaded workspace into a resolve and a unit graph.
type Planner interface {
	// Resolve resolves the workspace, checks the lockfile and writes it.
	Resolve(ctx context.Context, req Request) (*Result, error)

	// Plan resolves like Resolve and builds the unit graph.
	Plan(ctx context.Context, req Request) (*Result, error)
}

// History records runs. *stores.SQLiteStore implements it.
type History interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	RecordResolve(ctx context.Context, runID string, res *resolver.Resolve) error
	AppendEvent(ctx context.Context, event *stores.Event) error
	CompleteRun(ctx context.Context, id string, status stores.RunStatus, runErr error, packages, units int) error
}

// PolicyEvaluator checks a resolve. *policy.Engine implements it.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, res *resolver.Resolve, pctx policy.Context) (*policy.Result, error)
}

// Request describes one run.
type Request struct {
	// Workspace is the loaded workspace. Required.
	Workspace *manifest.Loaded

	// Config holds the resolve and build settings. Nil means
	// config.Default().
	Config *config.Config

	// Command is recorded with the run, for example "resolve".
	Command string

	// LockfilePath overrides Config.Paths.Lockfile. Relative paths are
	// taken from the workspace root.
	LockfilePath string

	// Locked fails the run when the lockfile would change.
	Locked bool

	// IgnoreLockfile resolves from scratch instead of preferring the
	// versions of the existing lockfile.
	IgnoreLockfile bool

	// NoWrite leaves the lockfile on disk untouched.
	NoWrite bool

	// Roots selects the packages and targets to plan. Empty means every
	// member with its default targets.
	Roots []compiler.Root

	// Std is the standard library workspace used when Config.Build.BuildStd
	// is set.
	Std *manifest.Loaded
}

// Stats counts solver work.
type Stats struct {
	Activations int `json:"activations"`
	Backtracks  int `json:"backtracks"`
	Queries     int `json:"queries"`
}

// Result is the outcome of a successful run.
type Result struct {
	RunID string

	Resolve *resolver.Resolve

	// Lockfile is the encoded resolve. LockfilePath is where it lives and
	// LockfileChanged reports whether it differs from the file on disk.
	// LockfileWritten is set once the new lockfile is on disk.
	Lockfile        []byte
	LockfilePath    string
	LockfileChanged bool
	LockfileWritten bool

	// Graph is nil for Resolve.
	Graph *compiler.UnitGraph

	// Policy is nil when no evaluator is configured.
	Policy *policy.Result

	Warnings []core.Warning
	Stats    Stats
	Duration time.Duration
}
