package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/semver"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// DefaultMaxTicks bounds the number of solver steps of one resolve.
const DefaultMaxTicks = 1_000_000

// ResolveOpts controls a single resolve.
type ResolveOpts struct {
	// DevDeps includes the dev-dependencies of workspace members.
	DevDeps bool
	// Features are requested on the workspace members. A plain name applies
	// to every member declaring it; "member/feature" targets one member.
	Features []string
	// AllFeatures enables every feature of the workspace members.
	AllFeatures bool
	// UsesDefaultFeatures enables the "default" feature of the members.
	UsesDefaultFeatures bool
	// Platforms limits platform-specific dependencies to those matching at
	// least one of the targets. Empty disables filtering.
	Platforms []core.TargetInfo
	// Previous is a prior resolve (typically decoded from a lockfile) whose
	// versions are preferred when they still satisfy the requirements.
	Previous *Resolve
	// OneVersionPerSource allows a single version per (name, source)
	// instead of one per semver-compatible range.
	OneVersionPerSource bool
	// MaxTicks bounds the search. Zero means DefaultMaxTicks.
	MaxTicks int
}

// DefaultResolveOpts returns the options used by the command line.
func DefaultResolveOpts() ResolveOpts {
	return ResolveOpts{
		DevDeps:             true,
		UsesDefaultFeatures: true,
		MaxTicks:            DefaultMaxTicks,
	}
}

// Observer receives solver progress. Implementations must be cheap; they
// are called from the solver loop.
type Observer interface {
	Activated(id core.PackageId)
	Backtracked(depth int)
	Queried(source core.SourceId, name string)
}

type nopObserver struct{}

func (nopObserver) Activated(core.PackageId)      {}
func (nopObserver) Backtracked(int)               {}
func (nopObserver) Queried(core.SourceId, string) {}

// Resolver computes dependency graphs against a Registry. A Resolver holds
// no state between calls and may be shared.
type Resolver struct {
	registry  Registry
	observer  Observer
	cacheSize int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver reports solver progress to o.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithCacheSize wraps the registry in a per-resolve CachingRegistry of the
// given size.
func WithCacheSize(size int) Option {
	return func(r *Resolver) { r.cacheSize = size }
}

// New creates a Resolver reading candidates from registry.
func New(registry Registry, opts ...Option) *Resolver {
	r := &Resolver{registry: registry, observer: nopObserver{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve selects one version for every package reachable from roots and
// unifies their features. Roots are the workspace members; their
// dependencies are the root dependencies.
func (r *Resolver) Resolve(ctx context.Context, roots []core.Summary, opts ResolveOpts) (*Resolve, error) {
	if len(roots) == 0 {
		return nil, core.NewValidationError("no workspace members to resolve")
	}
	if opts.MaxTicks <= 0 {
		opts.MaxTicks = DefaultMaxTicks
	}

	registry := r.registry
	if r.cacheSize > 0 {
		cached, err := NewCachingRegistry(registry, r.cacheSize)
		if err != nil {
			return nil, err
		}
		registry = cached
	}

	run := &run{
		ctx:      ctx,
		registry: registry,
		observer: r.observer,
		opts:     opts,
		roots:    make(map[core.PackageId]bool, len(roots)),
		queries:  make(map[registryKey][]core.Summary),
		cands:    make(map[string][]core.Summary),
		locked:   lockedSet(opts.Previous),
		log:      telemetry.FromContext(ctx).NewComponentLogger("resolver"),
	}
	for _, root := range roots {
		run.roots[root.ID] = true
	}

	st, err := run.activateRoots(roots)
	if err != nil {
		return nil, err
	}
	st, err = run.solve(st)
	if err != nil {
		return nil, err
	}

	res := run.buildResolve(st, roots)
	if err := checkCycles(res); err != nil {
		return nil, err
	}
	run.log.Debugf("resolved %d packages in %d steps", res.Len(), run.ticks)
	return res, nil
}

// buildContext is a bit set of the contexts a package is built in. Links
// must be unique per context.
type buildContext uint8

const (
	contextTarget buildContext = 1 << iota
	contextHost
)

var allContexts = []buildContext{contextTarget, contextHost}

// activationContext is the context a package reached in ctx is built in.
// Procedural macros always run on the host.
func activationContext(s core.Summary, ctx buildContext) buildContext {
	if s.ProcMacro {
		return contextHost
	}
	return ctx
}

// depContext is the context the dependency d of act is built in.
func depContext(act *activation, d core.Dependency) buildContext {
	if d.Kind == core.DepBuild || act.summary.ProcMacro {
		return contextHost
	}
	return act.contexts
}

type activationKey struct {
	name   string
	source core.SourceId
	// compat is the semver-compatibility bucket, empty in strict mode.
	compat string
}

type activation struct {
	summary     core.Summary
	requested   []string
	usesDefault bool
	allFeatures bool
	features    *FeatureSet
	contexts    buildContext
}

type edgeRecord struct {
	to       core.PackageId
	dep      core.Dependency
	features []string
}

type linksKey struct {
	links string
	ctx   buildContext
}

type pendingDep struct {
	parent      core.PackageId
	dep         core.Dependency
	features    []string
	usesDefault bool
	context     buildContext
}

// state is everything a choice can change. Checkpoints hold a private copy,
// so backtracking is restoring a value rather than undoing mutations.
type state struct {
	activations map[activationKey]*activation
	ids         map[core.PackageId]activationKey
	edges       map[core.PackageId][]edgeRecord
	parents     map[core.PackageId][]core.PackageId
	links       map[linksKey]core.PackageId
	queue       []pendingDep
}

func newState() *state {
	return &state{
		activations: make(map[activationKey]*activation),
		ids:         make(map[core.PackageId]activationKey),
		edges:       make(map[core.PackageId][]edgeRecord),
		parents:     make(map[core.PackageId][]core.PackageId),
		links:       make(map[linksKey]core.PackageId),
	}
}

func (s *state) clone() *state {
	out := &state{
		activations: make(map[activationKey]*activation, len(s.activations)),
		ids:         make(map[core.PackageId]activationKey, len(s.ids)),
		edges:       make(map[core.PackageId][]edgeRecord, len(s.edges)),
		parents:     make(map[core.PackageId][]core.PackageId, len(s.parents)),
		links:       make(map[linksKey]core.PackageId, len(s.links)),
		queue:       append([]pendingDep(nil), s.queue...),
	}
	for k, a := range s.activations {
		cp := *a
		out.activations[k] = &cp
	}
	for k, v := range s.ids {
		out.ids[k] = v
	}
	for k, v := range s.edges {
		out.edges[k] = append([]edgeRecord(nil), v...)
	}
	for k, v := range s.parents {
		out.parents[k] = append([]core.PackageId(nil), v...)
	}
	for k, v := range s.links {
		out.links[k] = v
	}
	return out
}

func (s *state) activationOf(id core.PackageId) *activation {
	key, ok := s.ids[id]
	if !ok {
		return nil
	}
	return s.activations[key]
}

func (s *state) addEdge(from, to core.PackageId, dep core.Dependency, features []string) {
	recs := s.edges[from]
	for i, rec := range recs {
		if rec.to == to && sameDeclaration(rec.dep, dep) {
			recs[i].features = unionSorted(rec.features, features)
			return
		}
	}
	s.edges[from] = append(recs, edgeRecord{to: to, dep: dep, features: features})

	for _, p := range s.parents[to] {
		if p == from {
			return
		}
	}
	s.parents[to] = append(s.parents[to], from)
}

func sameDeclaration(a, b core.Dependency) bool {
	return a.Name == b.Name && a.Rename == b.Rename && a.Kind == b.Kind &&
		a.Req.String() == b.Req.String() && a.Source == b.Source &&
		a.Platform.String() == b.Platform.String()
}

type checkpoint struct {
	// state is the solver state before the choice. It is nil when there was
	// only one candidate.
	state  *state
	item   pendingDep
	cands  []core.Summary
	next   int
	chosen core.PackageId
	// failed explains the candidates already given up on.
	failed conflict
}

func (cp *checkpoint) exhausted() bool {
	return cp.state == nil || cp.next >= len(cp.cands)
}

type run struct {
	ctx      context.Context
	registry Registry
	observer Observer
	opts     ResolveOpts
	roots    map[core.PackageId]bool
	queries  map[registryKey][]core.Summary
	cands    map[string][]core.Summary
	locked   map[string]bool
	log      *telemetry.Logger
	ticks    int
}

func (r *run) tick() error {
	r.ticks++
	if r.ticks > r.opts.MaxTicks {
		return core.NewError(core.ErrCodeResolutionLimit,
			fmt.Sprintf("dependency resolution did not finish within %d steps", r.opts.MaxTicks), nil)
	}
	if r.ticks%1024 == 0 {
		if err := r.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) keyOf(id core.PackageId) activationKey {
	k := activationKey{name: id.Name, source: id.Source}
	if !r.opts.OneVersionPerSource {
		k.compat = id.Version.CompatKey()
	}
	return k
}

func (r *run) activateRoots(roots []core.Summary) (*state, error) {
	st := newState()
	for _, root := range roots {
		key := r.keyOf(root.ID)
		if other, ok := st.activations[key]; ok {
			return nil, core.NewValidationError("two workspace members share the same identity: `%s` and `%s`",
				other.summary.ID, root.ID)
		}

		requested, err := r.rootFeatures(root, roots)
		if err != nil {
			return nil, err
		}
		fs, err := UnifyFeatures(root, FeatureRequest{
			Features:    requested,
			UsesDefault: r.opts.UsesDefaultFeatures,
			AllFeatures: r.opts.AllFeatures,
		})
		if err != nil {
			return nil, err
		}

		ctx := activationContext(root, contextTarget)
		if root.Links != "" {
			lk := linksKey{links: root.Links, ctx: ctx}
			if holder, ok := st.links[lk]; ok {
				return nil, &LinksConflictError{
					Links:     root.Links,
					Candidate: root.ID,
					Existing:  holder,
				}
			}
			st.links[lk] = root.ID
		}

		st.activations[key] = &activation{
			summary:     root,
			requested:   requested,
			usesDefault: r.opts.UsesDefaultFeatures,
			allFeatures: r.opts.AllFeatures,
			features:    fs,
			contexts:    ctx,
		}
		st.ids[root.ID] = key
		r.observer.Activated(root.ID)
	}
	for _, root := range roots {
		r.enqueueDeps(st, root.ID)
	}
	return st, nil
}

// rootFeatures picks the requested features that apply to root. A plain
// feature declared by no member is reported against the first member.
func (r *run) rootFeatures(root core.Summary, roots []core.Summary) ([]string, error) {
	var out []string
	for _, f := range r.opts.Features {
		fv := core.ParseFeatureValue(f)
		if fv.Kind == core.FeatureDepFeature && isRootName(fv.Name, roots) {
			if fv.Name == root.Name() {
				out = append(out, fv.DepFeature)
			}
			continue
		}
		if len(roots) == 1 {
			out = append(out, f)
			continue
		}
		declared := false
		for _, other := range roots {
			if other.HasFeature(f) || other.IsOptionalDep(fv.Name) {
				declared = true
				break
			}
		}
		switch {
		case !declared && root.ID == roots[0].ID:
			return nil, &MissingFeatureError{Package: root.ID, Features: []string{f}}
		case root.HasFeature(f) || root.IsOptionalDep(fv.Name):
			out = append(out, f)
		}
	}
	return out, nil
}

func isRootName(name string, roots []core.Summary) bool {
	for _, root := range roots {
		if root.Name() == name {
			return true
		}
	}
	return false
}

// enqueueDeps queues the dependencies of id enabled by its current features.
func (r *run) enqueueDeps(st *state, id core.PackageId) {
	act := st.activationOf(id)
	for _, d := range act.summary.Dependencies {
		if !r.wants(id, act, d) {
			continue
		}
		st.queue = append(st.queue, pendingDep{
			parent:      id,
			dep:         d,
			features:    unionSorted(d.Features, act.features.DepFeatures[d.NameInToml()]),
			usesDefault: d.DefaultFeatures,
			context:     depContext(act, d),
		})
	}
}

// wants reports whether the activation act of id requests d: dev-dependencies
// only on members, platform-specific ones only for matching targets and
// optional ones only when a feature enables them.
func (r *run) wants(id core.PackageId, act *activation, d core.Dependency) bool {
	if d.Kind == core.DepDevelopment && (!r.roots[id] || !r.opts.DevDeps) {
		return false
	}
	if !d.MatchesPlatform(r.opts.Platforms) {
		return false
	}
	return !d.Optional || act.features.HasOptionalDep(d.NameInToml())
}

// query returns every summary the registry knows for the dependency,
// fetched once per run.
func (r *run) query(dep core.Dependency) ([]core.Summary, error) {
	k := registryKey{source: dep.Source, name: dep.Name}
	if found, ok := r.queries[k]; ok {
		return found, nil
	}
	found, err := r.registry.Candidates(r.ctx, dep.Source, dep.Name)
	if err != nil {
		return nil, core.NewError(core.ErrCodeSource,
			fmt.Sprintf("failed to query %s for `%s`", locationOf(dep.Source), dep.Name), err).
			WithPackage(dep.Name)
	}
	r.observer.Queried(dep.Source, dep.Name)
	r.queries[k] = found
	return found, nil
}

func (r *run) isLocked(id core.PackageId) bool {
	return r.locked[lockIdentity(id)]
}

// candidatesFor filters the registry answer by the dependency and orders
// it: locked versions first, then highest version, then registration order.
// Yanked versions are only kept when locked, and a version registered twice
// keeps its first non-yanked entry.
func (r *run) candidatesFor(dep core.Dependency) ([]core.Summary, error) {
	memo := dep.Source.String() + "\x00" + dep.Name + "\x00" + dep.Req.String()
	if cands, ok := r.cands[memo]; ok {
		return cands, nil
	}
	all, err := r.query(dep)
	if err != nil {
		return nil, err
	}

	byID := make(map[core.PackageId]int)
	var out []core.Summary
	for _, s := range all {
		if s.ID.Name != dep.Name || s.ID.Source != dep.Source || !dep.Req.Matches(s.ID.Version) {
			continue
		}
		if s.Yanked && !r.isLocked(s.ID) {
			continue
		}
		if i, ok := byID[s.ID]; ok {
			if out[i].Yanked && !s.Yanked {
				out[i] = s
			}
			continue
		}
		byID[s.ID] = len(out)
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := r.isLocked(out[i].ID), r.isLocked(out[j].ID)
		if li != lj {
			return li
		}
		return semver.Compare(out[i].ID.Version, out[j].ID.Version) > 0
	})
	r.cands[memo] = out
	return out, nil
}

// next picks the pending dependency with the fewest candidates, the most
// recently queued one among equals.
func (r *run) next(st *state) (int, []core.Summary, error) {
	best := -1
	var bestCands []core.Summary
	for i, item := range st.queue {
		cands, err := r.candidatesFor(item.dep)
		if err != nil {
			return -1, nil, err
		}
		if best < 0 || len(cands) <= len(bestCands) {
			best, bestCands = i, cands
		}
	}
	return best, bestCands, nil
}

func (r *run) solve(st *state) (*state, error) {
	var stack []checkpoint
	var lastErr error

	for len(st.queue) > 0 {
		if err := r.tick(); err != nil {
			return nil, err
		}
		i, cands, err := r.next(st)
		if err != nil {
			return nil, err
		}
		item := st.queue[i]
		st.queue = append(st.queue[:i], st.queue[i+1:]...)

		var snap *state
		if len(cands) > 1 {
			snap = st.clone()
		}

		idx, reasons, err := r.tryCandidates(st, item, cands, 0)
		if err == nil {
			cp := checkpoint{state: snap, item: item, cands: cands, next: idx + 1, chosen: cands[idx].ID}
			if len(reasons) > 0 {
				cp.failed = conflictOf(item, reasons)
			}
			stack = append(stack, cp)
			continue
		}
		if !isConflict(err) {
			return nil, err
		}
		lastErr = err

		st, stack, err = r.backtrack(stack, conflictOf(item, reasons))
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, lastErr
		}
	}
	return st, nil
}

// backtrack resumes the most recent checkpoint whose alternatives can avoid
// c. A checkpoint whose state already contains c is dropped untried, and one
// without alternatives hands c on in terms of the dependency it chose for.
// It returns a nil state when the stack is exhausted.
func (r *run) backtrack(stack []checkpoint, c conflict) (*state, []checkpoint, error) {
	for len(stack) > 0 {
		cp := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cp.exhausted() {
			c = union(cp.failed, c.lift(&cp))
			continue
		}
		if r.holds(c, cp.state) {
			r.log.Tracef("skipping `%s`: the conflict does not depend on it", cp.item.dep.Name)
			continue
		}

		r.observer.Backtracked(len(stack))
		r.log.Tracef("backtracking to `%s` (%d alternatives left)", cp.item.dep.Name, len(cp.cands)-cp.next)

		failed := union(cp.failed, c.lift(&cp))
		st := cp.state.clone()
		idx, reasons, err := r.tryCandidates(st, cp.item, cp.cands, cp.next)
		if err == nil {
			stack = append(stack, checkpoint{
				state:  cp.state,
				item:   cp.item,
				cands:  cp.cands,
				next:   idx + 1,
				chosen: cp.cands[idx].ID,
				failed: union(failed, conflictOf(cp.item, reasons)),
			})
			return st, stack, nil
		}
		if !isConflict(err) {
			return nil, nil, err
		}
		c = union(failed, conflictOf(cp.item, reasons))
	}
	return nil, nil, nil
}

func isConflict(err error) bool {
	switch err.(type) {
	case *NoMatchingPackageError, *VersionConflictError, *LinksConflictError, *MissingFeatureError:
		return true
	}
	return false
}

type reasonKind int

const (
	reasonActivated reasonKind = iota
	reasonLinks
	reasonFeatures
)

type conflictReason struct {
	kind      reasonKind
	candidate core.PackageId
	holder    core.PackageId
	features  []string
	// links and ctx name the claim a links conflict ran into. merged is set
	// when the candidate was already active and joined a new context.
	links  string
	ctx    buildContext
	merged bool
}

// tryCandidates activates the first candidate from start on that fits st,
// committing it into st. It returns why the candidates before it were
// rejected; on failure st is unchanged and the error describes why every
// candidate was rejected.
func (r *run) tryCandidates(st *state, item pendingDep, cands []core.Summary, start int) (int, []conflictReason, error) {
	if len(cands) == 0 {
		return -1, nil, r.noMatching(st, item)
	}
	var reasons []conflictReason
	for i := start; i < len(cands); i++ {
		if err := r.tick(); err != nil {
			return -1, nil, err
		}
		reason := r.tryActivate(st, item, cands[i])
		if reason == nil {
			return i, reasons, nil
		}
		reasons = append(reasons, *reason)
	}
	return -1, reasons, r.buildError(st, item, cands, reasons)
}

// tryActivate checks cand against st and commits it when it fits.
func (r *run) tryActivate(st *state, item pendingDep, cand core.Summary) *conflictReason {
	key := r.keyOf(cand.ID)
	act, exists := st.activations[key]
	if exists && act.summary.ID != cand.ID {
		return &conflictReason{kind: reasonActivated, candidate: cand.ID, holder: act.summary.ID}
	}

	if exists {
		requested := unionSorted(act.requested, item.features)
		usesDefault := act.usesDefault || item.usesDefault
		fs, err := UnifyFeatures(act.summary, FeatureRequest{
			Features:    requested,
			UsesDefault: usesDefault,
			AllFeatures: act.allFeatures,
		})
		if err != nil {
			return featureReason(cand.ID, err)
		}
		contexts := act.contexts | activationContext(cand, item.context)
		if cand.Links != "" {
			if holder, ctx, clash := r.linksHolder(st, cand, contexts&^act.contexts); clash {
				return &conflictReason{kind: reasonLinks, candidate: cand.ID, holder: holder, links: cand.Links, ctx: ctx, merged: true}
			}
		}

		changed := fs.fingerprint() != act.features.fingerprint() || contexts != act.contexts
		act.requested = requested
		act.usesDefault = usesDefault
		act.features = fs
		act.contexts = contexts
		r.claimLinks(st, cand, contexts)
		st.addEdge(item.parent, cand.ID, item.dep, item.features)
		if changed {
			r.log.Tracef("re-queueing dependencies of `%s`", cand.ID)
			r.enqueueDeps(st, cand.ID)
		}
		return nil
	}

	fs, err := UnifyFeatures(cand, FeatureRequest{Features: item.features, UsesDefault: item.usesDefault})
	if err != nil {
		return featureReason(cand.ID, err)
	}
	ctx := activationContext(cand, item.context)
	if cand.Links != "" {
		if holder, clashCtx, clash := r.linksHolder(st, cand, ctx); clash {
			return &conflictReason{kind: reasonLinks, candidate: cand.ID, holder: holder, links: cand.Links, ctx: clashCtx}
		}
	}

	st.activations[key] = &activation{
		summary:     cand,
		requested:   item.features,
		usesDefault: item.usesDefault,
		features:    fs,
		contexts:    ctx,
	}
	st.ids[cand.ID] = key
	r.claimLinks(st, cand, ctx)
	st.addEdge(item.parent, cand.ID, item.dep, item.features)
	r.observer.Activated(cand.ID)
	r.log.Debugf("activated `%s` for `%s`", cand.ID, item.parent)
	r.enqueueDeps(st, cand.ID)
	return nil
}

func featureReason(id core.PackageId, err error) *conflictReason {
	reason := &conflictReason{kind: reasonFeatures, candidate: id}
	if mf, ok := err.(*MissingFeatureError); ok {
		reason.features = mf.Features
	}
	return reason
}

func (r *run) linksHolder(st *state, cand core.Summary, contexts buildContext) (core.PackageId, buildContext, bool) {
	for _, c := range allContexts {
		if contexts&c == 0 {
			continue
		}
		if holder, ok := st.links[linksKey{links: cand.Links, ctx: c}]; ok && holder != cand.ID {
			return holder, c, true
		}
	}
	return core.PackageId{}, 0, false
}

func (r *run) claimLinks(st *state, cand core.Summary, contexts buildContext) {
	if cand.Links == "" {
		return
	}
	for _, c := range allContexts {
		if contexts&c != 0 {
			st.links[linksKey{links: cand.Links, ctx: c}] = cand.ID
		}
	}
}

// pathFrom follows the first recorded dependent of each package until it
// reaches a workspace member.
func (r *run) pathFrom(st *state, id core.PackageId) Path {
	path := Path{id}
	seen := map[core.PackageId]bool{id: true}
	cur := id
	for !r.roots[cur] {
		parents := st.parents[cur]
		if len(parents) == 0 || seen[parents[0]] {
			break
		}
		cur = parents[0]
		seen[cur] = true
		path = append(path, cur)
	}
	return path
}

// holderPath is the trace for an activated package, starting at whoever
// selected it. Workspace members have an empty trace.
func (r *run) holderPath(st *state, id core.PackageId) Path {
	if r.roots[id] {
		return nil
	}
	parents := st.parents[id]
	if len(parents) == 0 {
		return nil
	}
	return r.pathFrom(st, parents[0])
}

func (r *run) noMatching(st *state, item pendingDep) error {
	all, _ := r.query(item.dep)
	seen := make(map[semver.Version]bool)
	var available []semver.Version
	for _, s := range all {
		if s.ID.Name != item.dep.Name || seen[s.ID.Version] {
			continue
		}
		seen[s.ID.Version] = true
		available = append(available, s.ID.Version)
	}
	sort.Slice(available, func(i, j int) bool { return semver.Compare(available[i], available[j]) > 0 })
	return &NoMatchingPackageError{
		Dep:       item.dep,
		Location:  locationOf(item.dep.Source),
		Path:      r.pathFrom(st, item.parent),
		Available: available,
	}
}

func (r *run) buildError(st *state, item pendingDep, cands []core.Summary, reasons []conflictReason) error {
	versions := make([]semver.Version, len(cands))
	for i, c := range cands {
		versions[i] = c.ID.Version
	}
	path := r.pathFrom(st, item.parent)

	var activated, links, features []conflictReason
	for _, reason := range reasons {
		switch reason.kind {
		case reasonActivated:
			activated = append(activated, reason)
		case reasonLinks:
			links = append(links, reason)
		case reasonFeatures:
			features = append(features, reason)
		}
	}

	if len(activated) == 0 && len(features) == 0 && len(links) > 0 {
		first := links[0]
		return &LinksConflictError{
			Links:         linksOf(cands, first.candidate),
			Dep:           item.dep,
			Candidate:     first.candidate,
			CandidatePath: path,
			Existing:      first.holder,
			ExistingPath:  r.holderPath(st, first.holder),
			Candidates:    versions,
		}
	}
	if len(activated) == 0 && len(links) == 0 && len(features) > 0 {
		return &MissingFeatureError{
			Package:  features[0].candidate,
			Features: features[0].features,
			Path:     path,
		}
	}

	err := &VersionConflictError{Dep: item.dep, Path: path, Candidates: versions}
	seenHolder := make(map[core.PackageId]bool)
	for _, reason := range activated {
		if seenHolder[reason.holder] {
			continue
		}
		seenHolder[reason.holder] = true
		err.Conflicts = append(err.Conflicts, PreviousActivation{ID: reason.holder, Path: r.holderPath(st, reason.holder)})
	}
	sort.SliceStable(err.Conflicts, func(i, j int) bool { return err.Conflicts[i].ID.Less(err.Conflicts[j].ID) })
	seenLinks := make(map[core.PackageId]bool)
	for _, reason := range links {
		if seenLinks[reason.holder] {
			continue
		}
		seenLinks[reason.holder] = true
		err.LinksConflicts = append(err.LinksConflicts, PreviousActivation{ID: reason.holder, Path: r.holderPath(st, reason.holder)})
	}
	if len(links) > 0 {
		err.Links = linksOf(cands, links[0].candidate)
	}
	for _, reason := range features {
		err.MissingFeatures = unionSorted(err.MissingFeatures, reason.features)
	}
	return err
}

func linksOf(cands []core.Summary, id core.PackageId) string {
	for _, c := range cands {
		if c.ID == id {
			return c.Links
		}
	}
	return ""
}

func locationOf(source core.SourceId) string {
	switch source.Kind {
	case core.SourcePath:
		return "`" + source.URL + "`"
	case core.SourceGit:
		return "git repository `" + source.URL + "`"
	default:
		if source.IsDefaultRegistry() {
			return "crates.io index"
		}
		return "registry `" + source.URL + "`"
	}
}

func (r *run) buildResolve(st *state, roots []core.Summary) *Resolve {
	res := newResolve()
	for _, act := range st.activations {
		res.addNode(act.summary, act.features.Enabled)
	}
	for _, root := range roots {
		res.roots = append(res.roots, root.ID)
	}
	for from, recs := range st.edges {
		n := res.nodes[from]
		index := make(map[core.PackageId]int)
		for _, rec := range recs {
			i, ok := index[rec.to]
			if !ok {
				i = len(n.deps)
				index[rec.to] = i
				n.deps = append(n.deps, Edge{To: rec.to})
			}
			n.deps[i].Deps = append(n.deps[i].Deps, rec.dep)
			n.deps[i].Features = unionSorted(n.deps[i].Features, rec.features)
		}
	}
	res.finish()
	return res
}
