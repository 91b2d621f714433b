package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summary(t *testing.T, name, version string, deps ...core.Dependency) core.Summary {
	t.Helper()
	id, err := core.NewPackageId(name, version, core.DefaultRegistry())
	if err != nil {
		t.Fatalf("bad package id: %v", err)
	}
	return core.Summary{ID: id, Dependencies: deps}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("health check should fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"index_packages", "runs", "run_packages", "run_events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// A second run has nothing to apply.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := store.PutSummaries(ctx, []core.Summary{summary(t, "log", "0.4.21")}); err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	store, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store.Close()

	n, err := store.IndexSize(ctx)
	if err != nil {
		t.Fatalf("IndexSize failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry after reopening, got %d", n)
	}
}

func TestPutSummariesKeepsProcMacro(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	derive := summary(t, "serde_derive", "1.0.200")
	derive.ProcMacro = true
	if _, err := store.PutSummaries(ctx, []core.Summary{derive}); err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}

	got, err := store.Candidates(ctx, core.DefaultRegistry(), "serde_derive")
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(got) != 1 || !got[0].ProcMacro {
		t.Fatalf("expected a proc-macro summary, got %+v", got)
	}

	derive.ProcMacro = false
	stats, err := store.PutSummaries(ctx, []core.Summary{derive})
	if err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("expected the changed flag to update the row, got %+v", stats)
	}
}

func TestPutSummariesAndCandidates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	linux, err := core.ParsePlatform("cfg(target_os = \"linux\")")
	if err != nil {
		t.Fatalf("bad platform: %v", err)
	}
	dep := core.MustDependency("cfg-if", "^1.0", core.DefaultRegistry())
	dep.Rename = "cfg"
	dep.Kind = core.DepBuild
	dep.Platform = linux
	dep.Features = []string{"core"}
	dep.DefaultFeatures = false
	dep.Optional = true

	newer := summary(t, "log", "0.4.21", dep)
	newer.Features = map[string][]string{"std": {}, "cfg": {"dep:cfg"}}
	newer.Links = "log"
	older := summary(t, "log", "0.4.20")
	older.Yanked = true

	stats, err := store.PutSummaries(ctx, []core.Summary{newer, older, summary(t, "serde", "1.0.200")})
	if err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}
	if stats.Added != 3 || stats.Updated != 0 || stats.Unchanged != 0 {
		t.Errorf("unexpected first import stats: %+v", stats)
	}

	got, err := store.Candidates(ctx, core.DefaultRegistry(), "log")
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Errorf("candidates out of order: %v, %v", got[0].ID, got[1].ID)
	}
	if !got[0].Yanked {
		t.Error("yanked flag was lost")
	}

	stored := got[1]
	if stored.Links != "log" {
		t.Errorf("expected links log, got %q", stored.Links)
	}
	if !stored.HasFeature("std") || len(stored.Features["cfg"]) != 1 {
		t.Errorf("features were not preserved: %v", stored.Features)
	}
	if len(stored.Dependencies) != 1 {
		t.Fatalf("expected 1 dependency, got %d", len(stored.Dependencies))
	}
	d := stored.Dependencies[0]
	if d.Name != "cfg-if" || d.NameInToml() != "cfg" {
		t.Errorf("unexpected dependency names: %s / %s", d.Name, d.NameInToml())
	}
	if d.Kind != core.DepBuild || !d.Optional || d.DefaultFeatures {
		t.Errorf("dependency flags were not preserved: %+v", d)
	}
	if d.Platform.String() != linux.String() {
		t.Errorf("expected platform %s, got %s", linux, d.Platform)
	}
	if d.Req.String() != "^1.0" || d.Source != core.DefaultRegistry() {
		t.Errorf("unexpected requirement or source: %s %s", d.Req, d.Source)
	}

	other, err := core.NewRegistrySource("https://example.com/index")
	if err != nil {
		t.Fatalf("bad source: %v", err)
	}
	none, err := store.Candidates(ctx, other, "log")
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no candidates from another source, got %d", len(none))
	}

	newer.Yanked = true
	stats, err = store.PutSummaries(ctx, []core.Summary{newer, older})
	if err != nil {
		t.Fatalf("second PutSummaries failed: %v", err)
	}
	if stats.Added != 0 || stats.Updated != 1 || stats.Unchanged != 1 {
		t.Errorf("unexpected second import stats: %+v", stats)
	}
}

func TestStoreAsRegistry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.PutSummaries(ctx, []core.Summary{
		summary(t, "log", "0.4.20"),
		summary(t, "log", "0.4.21"),
		summary(t, "log", "0.5.0"),
	}); err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}

	root := core.Summary{
		ID:           core.MustPackageId("app", "0.1.0", core.NewPathSource("/ws/app")),
		Dependencies: []core.Dependency{core.MustDependency("log", "^0.4", core.DefaultRegistry())},
	}
	res, err := resolver.New(store).Resolve(ctx, []core.Summary{root}, resolver.DefaultResolveOpts())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := core.MustPackageId("log", "0.4.21", core.DefaultRegistry())
	if !res.Contains(want) {
		t.Errorf("expected %s in the resolve:\n%s", want, res.Dump())
	}
}

func TestListAndDeleteIndex(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.PutSummaries(ctx, []core.Summary{
		summary(t, "serde", "1.0.10"),
		summary(t, "serde", "1.0.9"),
		summary(t, "log", "0.4.21"),
	}); err != nil {
		t.Fatalf("PutSummaries failed: %v", err)
	}

	all, err := store.ListIndex(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("ListIndex failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Summary.ID.Name != "log" {
		t.Errorf("expected log first, got %s", all[0].Summary.ID.Name)
	}
	if all[1].Summary.ID.Version.String() != "1.0.9" || all[2].Summary.ID.Version.String() != "1.0.10" {
		t.Errorf("serde versions not in semver order: %s, %s", all[1].Summary.ID.Version, all[2].Summary.ID.Version)
	}
	if all[0].Checksum == "" || all[0].UpdatedAt.IsZero() {
		t.Error("checksum and update time should be set")
	}

	serde, err := store.ListIndex(ctx, "serde", 10, 0)
	if err != nil {
		t.Fatalf("ListIndex failed: %v", err)
	}
	if len(serde) != 2 {
		t.Errorf("expected 2 serde entries, got %d", len(serde))
	}

	id := core.MustPackageId("serde", "1.0.9", core.DefaultRegistry())
	if err := store.DeleteIndexEntry(ctx, id); err != nil {
		t.Fatalf("DeleteIndexEntry failed: %v", err)
	}
	if err := store.DeleteIndexEntry(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	n, err := store.IndexSize(ctx)
	if err != nil {
		t.Fatalf("IndexSize failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	run := &Run{
		ID:        "run-001",
		Command:   "resolve",
		Workspace: "/ws",
		StartedAt: started,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.Status != RunStatusRunning || run.Metadata != "{}" {
		t.Errorf("defaults not applied: %+v", run)
	}

	got, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected start %v, got %v", started, got.StartedAt)
	}
	if got.CompletedAt != nil || got.Error != nil {
		t.Error("a running run has no completion time or error")
	}

	runErr := core.NewValidationError("bad manifest")
	if err := store.CompleteRun(ctx, "run-001", RunStatusFailed, runErr, 3, 0); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}
	got, err = store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed || got.CompletedAt == nil {
		t.Errorf("run not completed: %+v", got)
	}
	if got.Error == nil || *got.Error != "bad manifest" {
		t.Errorf("unexpected error message: %v", got.Error)
	}
	if got.ErrorCode != string(core.ErrCodeValidation) || got.Packages != 3 {
		t.Errorf("unexpected code or package count: %s %d", got.ErrorCode, got.Packages)
	}

	if err := store.CompleteRun(ctx, "missing", RunStatusSucceeded, nil, 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.CreateRun(ctx, &Run{ID: id, Command: "plan", StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("failed to create run %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("expected newest runs first, got %v", runIDs(runs))
	}

	runs, err = store.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "a" {
		t.Errorf("unexpected second page: %v", runIDs(runs))
	}
}

func runIDs(runs []*Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}

func TestRecordResolve(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	reg := resolver.NewMemoryRegistry(
		core.Summary{
			ID:       core.MustPackageId("log", "0.4.21", core.DefaultRegistry()),
			Features: map[string][]string{"std": {}},
		},
	)
	dep := core.MustDependency("log", "^0.4", core.DefaultRegistry())
	dep.Features = []string{"std"}
	root := core.Summary{
		ID:           core.MustPackageId("app", "0.1.0", core.NewPathSource("/ws/app")),
		Dependencies: []core.Dependency{dep},
	}
	res, err := resolver.New(reg).Resolve(ctx, []core.Summary{root}, resolver.DefaultResolveOpts())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if err := store.RecordResolve(ctx, "missing", res); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown run, got %v", err)
	}

	if err := store.CreateRun(ctx, &Run{ID: "r1", Command: "resolve"}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.RecordResolve(ctx, "r1", res); err != nil {
		t.Fatalf("RecordResolve failed: %v", err)
	}
	// Recording again replaces the rows.
	if err := store.RecordResolve(ctx, "r1", res); err != nil {
		t.Fatalf("second RecordResolve failed: %v", err)
	}

	pkgs, err := store.ListRunPackages(ctx, "r1")
	if err != nil {
		t.Fatalf("ListRunPackages failed: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(pkgs))
	}
	if pkgs[0].Name != "app" || !pkgs[0].IsRoot {
		t.Errorf("expected app as root, got %+v", pkgs[0])
	}
	if pkgs[1].Name != "log" || pkgs[1].IsRoot || len(pkgs[1].Features) != 1 || pkgs[1].Features[0] != "std" {
		t.Errorf("unexpected log record: %+v", pkgs[1])
	}

	run, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Packages != 2 {
		t.Errorf("expected 2 packages on the run, got %d", run.Packages)
	}
	locked, err := resolver.DecodeLockfile([]byte(run.Lockfile))
	if err != nil {
		t.Fatalf("stored lockfile does not decode: %v", err)
	}
	if !res.MatchesLockfile(locked) {
		t.Error("stored lockfile does not match the resolve")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &Run{ID: "r1", Command: "plan"}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	events := []*Event{
		{RunID: "r1", Message: "resolving"},
		{RunID: "r1", Level: EventLevelWarning, Code: string(core.ErrCodeNoLinkableTarget), Package: "tool", Message: "no lib target"},
		{RunID: "r1", Level: EventLevelInfo, Message: "done"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("event id not assigned")
		}
	}

	all, err := store.GetEvents(ctx, "r1", nil, 0, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(all) != 3 || all[0].Message != "resolving" || all[0].Level != EventLevelInfo {
		t.Fatalf("unexpected events: %+v", all)
	}

	level := EventLevelWarning
	warnings, err := store.GetEvents(ctx, "r1", &level, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Package != "tool" {
		t.Errorf("unexpected warnings: %+v", warnings)
	}

	if err := store.AppendEvent(ctx, &Event{RunID: "missing", Message: "orphan"}); err == nil {
		t.Error("expected a foreign key error for an unknown run")
	}

	if err := store.DeleteRun(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	left, err := store.GetEvents(ctx, "r1", nil, 0, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("events should be deleted with their run, %d left", len(left))
	}
	if err := store.DeleteRun(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
