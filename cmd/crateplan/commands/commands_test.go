package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func initWorkspace(t *testing.T) (dir, ws string) {
	t.Helper()
	dir = t.TempDir()
	if err := execute(t, "init", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return dir, filepath.Join(dir, "workspace.yaml")
}

func TestInitRefusesToOverwrite(t *testing.T) {
	dir, _ := initWorkspace(t)

	err := execute(t, "init", dir)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected an overwrite error, got %v", err)
	}
	if err := execute(t, "init", dir, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
}

func TestResolveWritesLockfile(t *testing.T) {
	dir, ws := initWorkspace(t)

	if err := execute(t, "validate", "-w", ws); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if err := execute(t, "resolve", "-w", ws); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Cargo.lock"))
	if err != nil {
		t.Fatalf("Expected a lockfile: %v", err)
	}
	if !strings.Contains(string(data), "0.4.21") {
		t.Errorf("Lockfile does not list log:\n%s", data)
	}

	if err := execute(t, "resolve", "-w", ws, "--locked"); err != nil {
		t.Errorf("resolve --locked failed on an up-to-date lockfile: %v", err)
	}
}

func TestResolveDryRunWritesNothing(t *testing.T) {
	dir, ws := initWorkspace(t)

	if err := execute(t, "resolve", "-w", ws, "--dry-run"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Cargo.lock")); !os.IsNotExist(err) {
		t.Error("--dry-run must not write the lockfile")
	}

	if err := execute(t, "resolve", "-w", ws, "--locked"); err == nil {
		t.Error("Expected --locked to fail without a lockfile")
	}
}

func TestPlanWritesJSON(t *testing.T) {
	dir, ws := initWorkspace(t)
	out := filepath.Join(dir, "plan.json")

	if err := execute(t, "plan", "-w", ws, "--format", "json", "-o", out); err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Expected the plan file: %v", err)
	}
	var graph map[string]interface{}
	if err := json.Unmarshal(data, &graph); err != nil {
		t.Fatalf("Plan is not JSON: %v", err)
	}
	if len(graph) == 0 {
		t.Error("Expected a non-empty graph")
	}
}

func TestPlanRejectsUnknownFormat(t *testing.T) {
	_, ws := initWorkspace(t)

	err := execute(t, "plan", "-w", ws, "--format", "yaml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("Expected a format error, got %v", err)
	}
}

func TestPlanUnknownPackage(t *testing.T) {
	_, ws := initWorkspace(t)

	err := execute(t, "plan", "-w", ws, "--package", "nope")
	if err == nil || !strings.Contains(err.Error(), "not a member") {
		t.Fatalf("Expected a membership error, got %v", err)
	}
}

func TestRecordedHistory(t *testing.T) {
	dir, ws := initWorkspace(t)
	db := filepath.Join(dir, "index.db")

	if err := execute(t, "resolve", "-w", ws, "--index", db, "--record"); err != nil {
		t.Fatalf("resolve --record failed: %v", err)
	}
	if err := execute(t, "history", "list", "-w", ws, "--db", db); err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if err := execute(t, "history", "show", "-w", ws, "--db", db, "missing"); err == nil {
		t.Error("Expected an error for an unknown run")
	}
}

func TestRecordNeedsDatabase(t *testing.T) {
	_, ws := initWorkspace(t)

	err := execute(t, "resolve", "-w", ws, "--record")
	if err == nil || !strings.Contains(err.Error(), "--record needs a database") {
		t.Fatalf("Expected a database error, got %v", err)
	}
}

func TestIndexImportAndList(t *testing.T) {
	dir, ws := initWorkspace(t)
	db := filepath.Join(dir, "index.db")

	if err := execute(t, "index", "import", "-w", ws, "--db", db, ws); err != nil {
		t.Fatalf("index import failed: %v", err)
	}
	if err := execute(t, "index", "list", "-w", ws, "--db", db, "log"); err != nil {
		t.Fatalf("index list failed: %v", err)
	}
	if err := execute(t, "index", "remove", "-w", ws, "--db", db, "log", "0.4.21"); err != nil {
		t.Fatalf("index remove failed: %v", err)
	}
}

func TestPolicyCheckBlocksBannedPackage(t *testing.T) {
	_, ws := initWorkspace(t)

	if err := execute(t, "policy", "check", "-w", ws); err != nil {
		t.Fatalf("policy check failed on a clean workspace: %v", err)
	}

	err := execute(t, "policy", "check", "-w", ws, "--ban", "log")
	if err == nil || !strings.Contains(err.Error(), "banned") {
		t.Fatalf("Expected the banned package to fail the check, got %v", err)
	}
}

func TestTree(t *testing.T) {
	_, ws := initWorkspace(t)

	if err := execute(t, "tree", "-w", ws, "--depth", "1"); err != nil {
		t.Fatalf("tree failed: %v", err)
	}
	if err := execute(t, "tree", "-w", ws, "--package", "missing"); err == nil {
		t.Error("Expected an error for an unknown package")
	}
}
