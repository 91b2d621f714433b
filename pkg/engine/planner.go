package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/config"
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/manifest"
	"github.com/openfroyo/crateplan/pkg/policy"
	"github.com/openfroyo/crateplan/pkg/resolver"
	"github.com/openfroyo/crateplan/pkg/stores"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// DefaultPlanner implements Planner. It reads the lockfile, resolves the
// workspace, enforces --locked and the policies, writes the lockfile and
// builds the unit graph, reporting every step to the Telemetry found in
// the context.
type DefaultPlanner struct {
	// index answers registry queries the workspace registry cannot.
	index resolver.Registry

	// history records runs when set.
	history History

	// policy vets every resolve when set.
	policy PolicyEvaluator
}

var _ Planner = (*DefaultPlanner)(nil)

// Option configures a DefaultPlanner.
type Option func(*DefaultPlanner)

// WithIndex adds a registry index, typically a *stores.SQLiteStore, behind
// the packages declared by the workspace.
func WithIndex(index resolver.Registry) Option {
	return func(p *DefaultPlanner) { p.index = index }
}

// WithHistory records every run in h.
func WithHistory(h History) Option {
	return func(p *DefaultPlanner) { p.history = h }
}

// WithPolicy evaluates e after each resolve. Blocking violations fail the
// run before the lockfile is written.
func WithPolicy(e PolicyEvaluator) Option {
	return func(p *DefaultPlanner) { p.policy = e }
}

// NewPlanner creates a new default planner.
func NewPlanner(opts ...Option) *DefaultPlanner {
	p := &DefaultPlanner{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve implements Planner.
func (p *DefaultPlanner) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		req.Command = "resolve"
	}
	return p.run(ctx, req, false)
}

// Plan implements Planner.
func (p *DefaultPlanner) Plan(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		req.Command = "plan"
	}
	return p.run(ctx, req, true)
}

// planRun is the state of one invocation.
type planRun struct {
	id       string
	req      Request
	cfg      *config.Config
	tel      *telemetry.Telemetry
	log      *telemetry.Logger
	result   *Result
	history  History
	recorded bool
}

func (p *DefaultPlanner) run(ctx context.Context, req Request, withUnits bool) (*Result, error) {
	if req.Workspace == nil {
		return nil, core.NewValidationError("no workspace to plan")
	}
	cfg := req.Config
	if cfg == nil {
		cfg = config.Default()
	}

	id := uuid.NewString()
	ctx = telemetry.FromContext(ctx).WithRunID(id).WithContext(ctx)
	r := &planRun{
		id:     id,
		req:    req,
		cfg:    cfg,
		tel:    telemetry.FromTelemetryContext(ctx),
		log:    telemetry.FromContext(ctx).NewComponentLogger("engine"),
		result: &Result{RunID: id},
	}

	start := time.Now()
	p.startRecord(ctx, r)
	err := p.execute(ctx, r, withUnits)
	r.result.Duration = time.Since(start)
	p.finish(ctx, r, err)

	if err != nil {
		return nil, err
	}
	return r.result, nil
}

func (p *DefaultPlanner) execute(ctx context.Context, r *planRun, withUnits bool) error {
	ws := r.req.Workspace
	path := lockfilePath(ws, r.cfg, r.req.LockfilePath)
	r.result.LockfilePath = path

	existing, err := readLockfile(path)
	if err != nil {
		return newPlanError(r.id, PhaseLockfileRead, err)
	}
	var previous *resolver.Resolve
	if existing != nil && !r.req.IgnoreLockfile {
		previous, err = resolver.DecodeLockfile(existing)
		if err != nil {
			return newPlanError(r.id, PhaseLockfileRead, err)
		}
	}

	res, err := p.resolve(ctx, r, previous)
	if err != nil {
		return newPlanError(r.id, PhaseResolve, err)
	}
	r.result.Resolve = res

	lock, err := resolver.EncodeLockfile(res)
	if err != nil {
		return newPlanError(r.id, PhaseResolve, err)
	}
	r.result.Lockfile = lock
	r.result.LockfileChanged = !bytes.Equal(existing, lock)

	if r.req.Locked && r.result.LockfileChanged {
		msg := fmt.Sprintf("the lock file %s needs to be updated but --locked was passed to prevent this", path)
		if changes := lockfileChanges(existing, previous, res); len(changes) > 0 {
			msg += "\n  " + strings.Join(changes, "\n  ")
		}
		return newPlanError(r.id, PhaseLocked, core.NewError(core.ErrCodeLockfileOutdated, msg, nil))
	}

	if err := p.evaluatePolicy(ctx, r); err != nil {
		return newPlanError(r.id, PhasePolicy, err)
	}

	if r.result.LockfileChanged && !r.req.NoWrite && !r.req.Locked {
		if err := writeLockfile(ctx, path, lock); err != nil {
			return newPlanError(r.id, PhaseLockfileWrite, err)
		}
		r.result.LockfileWritten = true
	}

	if r.recorded {
		if err := r.history.RecordResolve(ctx, r.id, res); err != nil {
			r.log.WithError(err).Warn("failed to record resolve")
		}
	}

	if !withUnits {
		return nil
	}
	return p.buildUnits(ctx, r)
}

func (p *DefaultPlanner) registry(ws *manifest.Loaded) resolver.Registry {
	if p.index == nil {
		return ws.Registry
	}
	return layeredRegistry{ws.Registry, p.index}
}

func (p *DefaultPlanner) resolve(ctx context.Context, r *planRun, previous *resolver.Resolve) (*resolver.Resolve, error) {
	ws := r.req.Workspace
	op := telemetry.StartOperation(ctx, telemetry.SpanResolve,
		telemetry.AttrRunID.String(r.id),
		telemetry.AttrRoots.Int(len(ws.Members)),
	)

	obs := &metricsObserver{metrics: r.tel.Metrics, log: op.Logger}
	opts := r.cfg.ResolveOpts()
	opts.Previous = previous

	res, err := resolver.New(p.registry(ws),
		resolver.WithObserver(obs),
		resolver.WithCacheSize(r.cfg.Resolver.CacheSize),
	).Resolve(op.Ctx, ws.Members, opts)
	r.result.Stats = obs.stats
	duration := op.Timer.Duration()

	if err != nil {
		code := string(core.CodeOf(err))
		r.tel.Metrics.RecordResolution("failure", duration)
		_ = r.tel.Events.PublishConflict(r.id, code, err.Error())
		op.Span.SetAttributes(telemetry.AttrErrorCode.String(code))
		op.End(err)
		return nil, err
	}

	r.tel.Metrics.RecordResolution("success", duration)
	_ = r.tel.Events.PublishResolved(r.id, res.Len(), duration)
	op.Span.SetAttributes(telemetry.AttrPackages.Int(res.Len()))
	op.End(nil)

	op.Logger.WithFields(map[string]interface{}{
		"packages":    res.Len(),
		"activations": obs.stats.Activations,
		"backtracks":  obs.stats.Backtracks,
		"duration":    duration.String(),
	}).Info("workspace resolved")
	return res, nil
}

func (p *DefaultPlanner) evaluatePolicy(ctx context.Context, r *planRun) error {
	if p.policy == nil {
		return nil
	}
	result, err := p.policy.Evaluate(ctx, r.result.Resolve, policy.Context{
		Operation: r.req.Command,
		Workspace: r.req.Workspace.Root,
		RunID:     r.id,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	r.result.Policy = result

	for _, v := range result.Violations {
		r.event(ctx, eventLevel(v.Severity), v.Policy, v.Package, v.Message)
	}
	for _, w := range result.Warnings {
		r.log.Warn(w)
	}
	return result.Err()
}

func (p *DefaultPlanner) buildUnits(ctx context.Context, r *planRun) error {
	cfg := r.cfg
	profiles, err := cfg.Profiles()
	if err != nil {
		return newPlanError(r.id, PhaseBuildUnits, err)
	}

	bc := compiler.BuildContext{
		Resolve:     r.result.Resolve,
		Packages:    r.req.Workspace.Packages,
		Profiles:    profiles,
		ProfileName: cfg.Build.Profile,
		Kinds:       cfg.Kinds(),
		Mode:        cfg.Mode(),
	}
	if cfg.Build.Host != "" {
		bc.HostInfo = core.TargetInfoFromTriple(cfg.Build.Host)
	}
	if cfg.Build.BuildStd {
		std, err := resolveStd(ctx, r)
		if err != nil {
			return newPlanError(r.id, PhaseStd, err)
		}
		bc.Std = std
	}

	roots := r.req.Roots
	if len(roots) == 0 {
		roots, _ = SelectRoots(r.req.Workspace, nil, compiler.TargetSelector{})
	}

	op := telemetry.StartOperation(ctx, telemetry.SpanBuildUnits,
		telemetry.AttrRunID.String(r.id),
		telemetry.AttrMode.String(bc.Mode.String()),
		telemetry.AttrProfile.String(bc.ProfileName),
	)
	graph, err := compiler.BuildUnits(op.Ctx, bc, roots)
	if err != nil {
		op.Span.SetAttributes(telemetry.AttrErrorCode.String(string(core.CodeOf(err))))
		op.End(err)
		return newPlanError(r.id, PhaseBuildUnits, err)
	}
	duration := op.Timer.Duration()
	op.Span.SetAttributes(telemetry.AttrUnits.Int(graph.Len()))
	op.End(nil)

	r.result.Graph = graph
	r.tel.Metrics.RecordUnitGraph(graph.Len(), duration)
	_ = r.tel.Events.PublishUnitsBuilt(r.id, graph.Len(), duration)

	for _, w := range graph.Warnings {
		r.warn(ctx, "compiler", w)
	}
	return nil
}

// resolveStd resolves the standard library workspace on its own. It never
// reads or writes a lockfile.
func resolveStd(ctx context.Context, r *planRun) (*compiler.StdContext, error) {
	std := r.req.Std
	if std == nil {
		return nil, core.NewValidationError("build-std requires a standard library workspace")
	}
	opts := resolver.DefaultResolveOpts()
	opts.DevDeps = false
	opts.Platforms = r.cfg.Platforms()

	res, err := resolver.New(std.Registry).Resolve(ctx, std.Members, opts)
	if err != nil {
		return nil, err
	}
	return &compiler.StdContext{
		Resolve:  res,
		Packages: std.Packages,
		Crates:   r.cfg.Build.StdCrates,
	}, nil
}

// SelectRoots returns the plan roots for the named members, every member
// when names is empty. Each root uses sel.
func SelectRoots(ws *manifest.Loaded, names []string, sel compiler.TargetSelector) ([]compiler.Root, error) {
	if len(names) == 0 {
		roots := make([]compiler.Root, 0, len(ws.Members))
		for _, m := range ws.Members {
			roots = append(roots, compiler.Root{Package: m.ID, Selector: sel})
		}
		return roots, nil
	}

	roots := make([]compiler.Root, 0, len(names))
	for _, name := range names {
		pkg, ok := ws.Member(name)
		if !ok {
			return nil, core.NewValidationError("package `%s` is not a member of the workspace", name)
		}
		roots = append(roots, compiler.Root{Package: pkg.ID(), Selector: sel})
	}
	return roots, nil
}

func (r *planRun) warn(ctx context.Context, source string, w core.Warning) {
	r.result.Warnings = append(r.result.Warnings, w)
	r.log.WithPackage(w.Package).Warn(w.Message)
	_ = r.tel.Events.PublishWarning(r.id, source, string(w.Code), w.Package, w.Message)
	r.event(ctx, stores.EventLevelWarning, string(w.Code), w.Package, w.Message)
}

// event appends to the run history, if the run is recorded.
func (r *planRun) event(ctx context.Context, level stores.EventLevel, code, pkg, msg string) {
	if !r.recorded {
		return
	}
	if err := r.history.AppendEvent(ctx, &stores.Event{
		RunID:   r.id,
		Level:   level,
		Code:    code,
		Package: pkg,
		Message: msg,
	}); err != nil {
		r.log.WithError(err).Warn("failed to record event")
	}
}

func eventLevel(s policy.Severity) stores.EventLevel {
	switch s {
	case policy.SeverityError:
		return stores.EventLevelError
	case policy.SeverityWarning:
		return stores.EventLevelWarning
	default:
		return stores.EventLevelInfo
	}
}

func lockfilePath(ws *manifest.Loaded, cfg *config.Config, override string) string {
	path := override
	if path == "" {
		path = cfg.Paths.Lockfile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws.Root, path)
	}
	return path
}

// lockfileChanges lists the packages added to or dropped from the lockfile.
func lockfileChanges(existing []byte, previous, res *resolver.Resolve) []string {
	if previous == nil && existing != nil {
		previous, _ = resolver.DecodeLockfile(existing)
	}
	if previous == nil {
		return nil
	}
	return previous.Diff(res)
}

// readLockfile returns nil when there is no lockfile yet.
func readLockfile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
	return data, nil
}

func writeLockfile(ctx context.Context, path string, data []byte) error {
	op := telemetry.StartOperation(ctx, telemetry.SpanLockfileWrite)
	err := os.WriteFile(path, data, 0o644)
	if err != nil {
		err = fmt.Errorf("failed to write lockfile: %w", err)
	}
	op.End(err)
	if err == nil {
		op.Logger.WithField("path", path).Info("lockfile written")
	}
	return err
}
