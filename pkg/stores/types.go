package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

// RunStatus is the outcome of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel is the severity of a run event.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one recorded resolve or plan.
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Workspace   string     `json:"workspace"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Packages    int        `json:"packages"`
	Units       int        `json:"units"`
	// Lockfile is the encoded lockfile of a successful resolve.
	Lockfile string `json:"lockfile,omitempty"`
	Metadata string `json:"metadata"` // JSON blob
}

// RunPackage is one package of a recorded resolve.
type RunPackage struct {
	RunID    string   `json:"run_id"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Source   string   `json:"source"`
	Features []string `json:"features"`
	IsRoot   bool     `json:"is_root"`
}

// Event is a diagnostic attached to a run.
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	Level     EventLevel `json:"level"`
	Code      string     `json:"code,omitempty"`
	Package   string     `json:"package,omitempty"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// IndexEntry is one package version in the local registry index.
type IndexEntry struct {
	Summary   core.Summary
	Checksum  string
	UpdatedAt time.Time
}

// ImportStats reports what PutSummaries changed.
type ImportStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Store is the persistence layer: a registry index the resolver can query
// and a history of runs.
type Store interface {
	resolver.Registry

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Registry index
	PutSummaries(ctx context.Context, summaries []core.Summary) (ImportStats, error)
	ListIndex(ctx context.Context, name string, limit, offset int) ([]*IndexEntry, error)
	DeleteIndexEntry(ctx context.Context, id core.PackageId) error
	IndexSize(ctx context.Context) (int, error)

	// Run history
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, runErr error, packages, units int) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	RecordResolve(ctx context.Context, runID string, res *resolver.Resolve) error
	ListRunPackages(ctx context.Context, runID string) ([]*RunPackage, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
