package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/config"
	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/manifest"
	"github.com/openfroyo/crateplan/pkg/policy"
	"github.com/openfroyo/crateplan/pkg/stores"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

var (
	log0421 = core.MustPackageId("log", "0.4.21", core.DefaultRegistry())
	log0420 = core.MustPackageId("log", "0.4.20", core.DefaultRegistry())
)

// loadWorkspace writes src to a fresh directory and loads it.
func loadWorkspace(t *testing.T, dir, src string) *manifest.Loaded {
	t.Helper()
	path := filepath.Join(dir, "workspace.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("Failed to write workspace: %v", err)
	}
	loaded, err := manifest.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load workspace: %v", err)
	}
	return loaded
}

func openStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.Open(context.Background(), stores.MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// withoutLog0421 is the sample workspace before log 0.4.21 was published.
var withoutLog0421 = strings.Replace(manifest.SampleYAML, "  - name: log\n    version: 0.4.21\n", "", 1)

func TestResolveWritesLockfile(t *testing.T) {
	dir := t.TempDir()
	ws := loadWorkspace(t, dir, manifest.SampleYAML)
	planner := NewPlanner()

	result, err := planner.Resolve(context.Background(), Request{Workspace: ws})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("Expected a run id")
	}
	if result.Resolve.Len() != 4 {
		t.Errorf("Expected 4 packages, got %d", result.Resolve.Len())
	}
	if !result.Resolve.Contains(log0421) {
		t.Error("Expected the newest log to be selected")
	}
	if result.Graph != nil {
		t.Error("Resolve must not build units")
	}
	if result.Stats.Activations < 4 || result.Stats.Queries == 0 {
		t.Errorf("Unexpected stats: %+v", result.Stats)
	}

	if result.LockfilePath != filepath.Join(dir, "Cargo.lock") {
		t.Errorf("Unexpected lockfile path %s", result.LockfilePath)
	}
	if !result.LockfileChanged {
		t.Error("A new lockfile counts as a change")
	}
	data, err := os.ReadFile(result.LockfilePath)
	if err != nil {
		t.Fatalf("Lockfile not written: %v", err)
	}
	if string(data) != string(result.Lockfile) {
		t.Error("Written lockfile differs from the result")
	}

	again, err := planner.Resolve(context.Background(), Request{Workspace: ws})
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if again.LockfileChanged {
		t.Error("Resolving twice must not change the lockfile")
	}
	if again.RunID == result.RunID {
		t.Error("Each run needs its own id")
	}
}

func TestLockfilePrefersLockedVersions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	planner := NewPlanner()

	old := loadWorkspace(t, dir, withoutLog0421)
	if _, err := planner.Resolve(ctx, Request{Workspace: old}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	ws := loadWorkspace(t, dir, manifest.SampleYAML)
	result, err := planner.Resolve(ctx, Request{Workspace: ws, NoWrite: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !result.Resolve.Contains(log0420) {
		t.Error("The locked log version should be kept")
	}
	if result.LockfileChanged {
		t.Error("Keeping the locked versions leaves the lockfile as it was")
	}

	fresh, err := planner.Resolve(ctx, Request{Workspace: ws, IgnoreLockfile: true, NoWrite: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !fresh.Resolve.Contains(log0421) {
		t.Error("Ignoring the lockfile should pick the newest version")
	}
	if !fresh.LockfileChanged {
		t.Error("Expected the fresh resolve to differ from the lockfile")
	}

	data, err := os.ReadFile(fresh.LockfilePath)
	if err != nil {
		t.Fatalf("read lockfile: %v", err)
	}
	if !strings.Contains(string(data), `version = "0.4.20"`) {
		t.Error("NoWrite must leave the lockfile untouched")
	}
}

func TestLockedFailsWhenOutdated(t *testing.T) {
	dir := t.TempDir()
	ws := loadWorkspace(t, dir, manifest.SampleYAML)

	_, err := NewPlanner().Resolve(context.Background(), Request{Workspace: ws, Locked: true})
	if err == nil {
		t.Fatal("Expected --locked to fail without a lockfile")
	}
	if core.CodeOf(err) != core.ErrCodeLockfileOutdated {
		t.Errorf("Expected LOCKFILE_OUTDATED, got %s", core.CodeOf(err))
	}
	if PhaseOf(err) != PhaseLocked {
		t.Errorf("Expected the locked phase, got %q", PhaseOf(err))
	}
	var planErr *PlanError
	if !errors.As(err, &planErr) || planErr.Class != ErrorClassConflict {
		t.Errorf("Expected a conflict PlanError, got %#v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Cargo.lock")); !os.IsNotExist(err) {
		t.Error("--locked must not write a lockfile")
	}

	if _, err := NewPlanner().Resolve(context.Background(), Request{Workspace: ws}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := NewPlanner().Resolve(context.Background(), Request{Workspace: ws, Locked: true}); err != nil {
		t.Errorf("--locked should pass with an up to date lockfile: %v", err)
	}
}

func TestLockedReportsLockfileChanges(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := NewPlanner().Resolve(ctx, Request{Workspace: loadWorkspace(t, dir, withoutLog0421)}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	yanked := strings.Replace(manifest.SampleYAML, "  - name: log\n    version: 0.4.20\n", "", 1)
	ws := loadWorkspace(t, dir, yanked)
	_, err := NewPlanner().Resolve(ctx, Request{Workspace: ws, Locked: true})
	if err == nil {
		t.Fatal("Expected --locked to fail once the locked log is gone")
	}
	msg := err.Error()
	if !strings.Contains(msg, "- log v0.4.20") {
		t.Errorf("Expected the dropped package in %q", msg)
	}
	if !strings.Contains(msg, "+ log v0.4.21") {
		t.Errorf("Expected the added package in %q", msg)
	}
}

func TestPlanBuildsUnits(t *testing.T) {
	ws := loadWorkspace(t, t.TempDir(), manifest.SampleYAML)

	result, err := NewPlanner().Plan(context.Background(), Request{Workspace: ws})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if result.Graph == nil || result.Graph.Len() == 0 {
		t.Fatal("Expected a unit graph")
	}
	if len(result.Graph.UnitsOf("log")) != 1 {
		t.Errorf("Expected one log unit, got %d", len(result.Graph.UnitsOf("log")))
	}
	if len(result.Graph.UnitsOf("pretty-assertions")) != 0 {
		t.Error("Dev dependencies are not built in build mode")
	}
	if len(result.Graph.Roots()) != 3 {
		t.Errorf("Expected app lib, app bin and core-utils lib as roots, got %d", len(result.Graph.Roots()))
	}
}

func TestPlanSelectedRoots(t *testing.T) {
	ws := loadWorkspace(t, t.TempDir(), manifest.SampleYAML)

	roots, err := SelectRoots(ws, []string{"core-utils"}, compiler.TargetSelector{Lib: true})
	if err != nil {
		t.Fatalf("SelectRoots failed: %v", err)
	}
	result, err := NewPlanner().Plan(context.Background(), Request{Workspace: ws, Roots: roots})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if got := len(result.Graph.Roots()); got != 1 {
		t.Errorf("Expected a single root, got %d", got)
	}
	if len(result.Graph.UnitsOf("app")) != 0 {
		t.Error("app was not requested")
	}

	if _, err := SelectRoots(ws, []string{"missing"}, compiler.TargetSelector{}); err == nil {
		t.Error("Expected an error for an unknown member")
	}
}

func TestBuildStdNeedsStdWorkspace(t *testing.T) {
	ws := loadWorkspace(t, t.TempDir(), manifest.SampleYAML)
	cfg := config.Default()
	cfg.Build.BuildStd = true

	_, err := NewPlanner().Plan(context.Background(), Request{Workspace: ws, Config: cfg})
	if err == nil {
		t.Fatal("Expected build-std without a std workspace to fail")
	}
	if PhaseOf(err) != PhaseStd || core.CodeOf(err) != core.ErrCodeValidation {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPlanRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ws := loadWorkspace(t, t.TempDir(), manifest.SampleYAML)

	result, err := NewPlanner(WithHistory(store)).Plan(ctx, Request{Workspace: ws})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	run, err := store.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Run not recorded: %v", err)
	}
	if run.Status != stores.RunStatusSucceeded || run.Command != "plan" {
		t.Errorf("Unexpected run: %+v", run)
	}
	if run.Packages != result.Resolve.Len() || run.Units != result.Graph.Len() {
		t.Errorf("Run counts %d/%d, want %d/%d", run.Packages, run.Units, result.Resolve.Len(), result.Graph.Len())
	}
	if run.Lockfile != string(result.Lockfile) {
		t.Error("Recorded lockfile differs from the result")
	}
	if run.Workspace != ws.Root {
		t.Errorf("Expected workspace %s, got %s", ws.Root, run.Workspace)
	}

	pkgs, err := store.ListRunPackages(ctx, result.RunID)
	if err != nil {
		t.Fatalf("ListRunPackages failed: %v", err)
	}
	if len(pkgs) != result.Resolve.Len() {
		t.Errorf("Expected %d recorded packages, got %d", result.Resolve.Len(), len(pkgs))
	}
}

func TestFailedRunRecorded(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ws := loadWorkspace(t, t.TempDir(), manifest.SampleYAML)

	_, err := NewPlanner(WithHistory(store)).Resolve(ctx, Request{Workspace: ws, Locked: true})
	var planErr *PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("Expected a PlanError, got %v", err)
	}

	run, err := store.GetRun(ctx, planErr.RunID)
	if err != nil {
		t.Fatalf("Run not recorded: %v", err)
	}
	if run.Status != stores.RunStatusFailed || run.ErrorCode != string(core.ErrCodeLockfileOutdated) {
		t.Errorf("Unexpected run: %+v", run)
	}
	if run.Error == nil || !strings.Contains(*run.Error, "--locked") {
		t.Errorf("Expected the error message to be recorded, got %v", run.Error)
	}

	level := stores.EventLevelError
	events, err := store.GetEvents(ctx, planErr.RunID, &level, 0, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Code != string(core.ErrCodeLockfileOutdated) {
		t.Errorf("Expected one error event, got %+v", events)
	}
}

func TestPolicyBlocksLockfileWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ws := loadWorkspace(t, dir, manifest.SampleYAML)

	eng, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := eng.SetData(ctx, policy.DataBanned, []string{"log"}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	_, err = NewPlanner(WithPolicy(eng)).Resolve(ctx, Request{Workspace: ws})
	if err == nil {
		t.Fatal("Expected the banned package to reject the resolve")
	}
	if PhaseOf(err) != PhasePolicy || core.CodeOf(err) != core.ErrCodeValidation {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "package log is banned") {
		t.Errorf("Expected the violation in the message: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Cargo.lock")); !os.IsNotExist(err) {
		t.Error("A rejected resolve must not write a lockfile")
	}

	if err := eng.SetData(ctx, policy.DataBanned, []string{}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	result, err := NewPlanner(WithPolicy(eng)).Resolve(ctx, Request{Workspace: ws})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Policy == nil || !result.Policy.Allowed {
		t.Errorf("Expected an allowed policy result, got %+v", result.Policy)
	}
}

func TestIndexSuppliesRegistryPackages(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if _, err := store.PutSummaries(ctx, []core.Summary{
		{ID: log0421},
		{ID: core.MustPackageId("pretty-assertions", "1.4.0", core.DefaultRegistry())},
	}); err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}

	// The workspace only knows log 0.4.20; the index adds 0.4.21.
	ws := loadWorkspace(t, t.TempDir(), withoutLog0421)

	result, err := NewPlanner(WithIndex(store)).Resolve(ctx, Request{Workspace: ws, NoWrite: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !result.Resolve.Contains(log0421) {
		t.Error("Expected the index version of log to be selected")
	}

	without, err := NewPlanner().Resolve(ctx, Request{Workspace: ws, NoWrite: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !without.Resolve.Contains(log0420) {
		t.Error("Without the index only log 0.4.20 is available")
	}
}

func TestResolveConflictReported(t *testing.T) {
	ws := loadWorkspace(t, t.TempDir(), `members:
  - name: app
    version: 0.1.0
    dependencies:
      - name: log
        version: ^9
registry:
  - name: log
    version: 0.4.21
`)

	tel, events := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	_, err := NewPlanner().Resolve(ctx, Request{Workspace: ws})
	if err == nil {
		t.Fatal("Expected the resolve to fail")
	}
	if PhaseOf(err) != PhaseResolve || core.CodeOf(err) != core.ErrCodeNoMatchingPackage {
		t.Errorf("Unexpected error: %v", err)
	}
	if got := metricValue(t, tel.Metrics, "crateplan_errors_total"); got != 1 {
		t.Errorf("Expected one recorded error, got %v", got)
	}

	types := events()
	if !contains(types, telemetry.EventTypeConflict) || !contains(types, telemetry.EventTypeRunFailed) {
		t.Errorf("Expected conflict and run.failed events, got %v", types)
	}
}

func TestPlanReportsTelemetry(t *testing.T) {
	ws := loadWorkspace(t, t.TempDir(), manifest.SampleYAML)
	tel, events := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	result, err := NewPlanner().Plan(ctx, Request{Workspace: ws})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if got := metricValue(t, tel.Metrics, "crateplan_activations_total"); int(got) != result.Stats.Activations {
		t.Errorf("activations metric %v, stats %d", got, result.Stats.Activations)
	}
	if got := metricValue(t, tel.Metrics, "crateplan_units_built"); int(got) != result.Graph.Len() {
		t.Errorf("units metric %v, graph %d", got, result.Graph.Len())
	}

	types := events()
	for _, want := range []string{telemetry.EventTypeResolved, telemetry.EventTypeUnitsBuilt, telemetry.EventTypeRunCompleted} {
		if !contains(types, want) {
			t.Errorf("Missing %s event in %v", want, types)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{core.NewError(core.ErrCodeSource, "index unreadable", nil), ErrorClassTransient},
		{context.Canceled, ErrorClassTransient},
		{core.NewError(core.ErrCodeVersionConflict, "conflict", nil), ErrorClassConflict},
		{core.NewError(core.ErrCodeLockfileOutdated, "outdated", nil), ErrorClassConflict},
		{core.NewValidationError("bad"), ErrorClassPermanent},
		{errors.New("plain"), ErrorClassPermanent},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	transient := newPlanError("r", PhaseResolve, core.NewError(core.ErrCodeSource, "x", nil))
	if !IsRetryable(transient) {
		t.Error("Source errors should be retryable")
	}
	if IsRetryable(newPlanError("r", PhaseResolve, core.NewValidationError("x"))) {
		t.Error("Validation errors should not be retryable")
	}
	if transient.Code() != core.ErrCodeSource {
		t.Errorf("Expected SOURCE_ERROR, got %s", transient.Code())
	}
}

func TestRequiresWorkspace(t *testing.T) {
	if _, err := NewPlanner().Plan(context.Background(), Request{}); err == nil {
		t.Error("Expected an error without a workspace")
	}
}

// newTestTelemetry returns a Telemetry with in-memory metrics and a function
// returning the types of every published event. Calling it shuts the event
// publisher down.
func newTestTelemetry(t *testing.T) (*telemetry.Telemetry, func() []string) {
	t.Helper()
	tel, err := telemetry.NewTelemetryWithLogger(telemetry.DefaultConfig(), telemetry.Nop())
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}

	var (
		mu    sync.Mutex
		types []string
	)
	tel.Events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	}, nil)

	return tel, func() []string {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), types...)
	}
}

// metricValue sums every sample of the named counter or gauge.
func metricValue(t *testing.T, m *telemetry.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			}
		}
	}
	return total
}

func contains(items []string, want string) bool {
	for _, s := range items {
		if s == want {
			return true
		}
	}
	return false
}
