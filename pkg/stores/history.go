package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	var completedAt *int64
	if run.CompletedAt != nil {
		n := unixNano(*run.CompletedAt)
		completedAt = &n
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, command, workspace, status, started_at, completed_at,
			error, error_code, packages, units, lockfile, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Command, run.Workspace, run.Status, unixNano(run.StartedAt), completedAt,
		run.Error, run.ErrorCode, run.Packages, run.Units, run.Lockfile, run.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, command, workspace, status, started_at, completed_at,
	error, error_code, packages, units, lockfile, metadata`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// CompleteRun records the outcome of a run. runErr may be nil; its code is
// stored when it carries one.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, runErr error, packages, units int) error {
	var (
		message *string
		code    string
	)
	if runErr != nil {
		m := runErr.Error()
		message = &m
		code = string(core.CodeOf(runErr))
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, completed_at = ?, error = ?, error_code = ?, packages = ?, units = ?
		WHERE id = ?
	`, status, unixNano(time.Now()), message, code, packages, units, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run with its packages and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// RecordResolve stores the packages of res and its lockfile against a run,
// replacing anything recorded before.
func (s *SQLiteStore) RecordResolve(ctx context.Context, runID string, res *resolver.Resolve) error {
	lock, err := resolver.EncodeLockfile(res)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE runs SET lockfile = ?, packages = ? WHERE id = ?
		`, string(lock), res.Len(), runID)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if affected == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM run_packages WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear run packages: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_packages (run_id, source, name, version, features, is_root)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, id := range res.PackageIds() {
			features := res.Features(id)
			if features == nil {
				features = []string{}
			}
			fj, err := json.Marshal(features)
			if err != nil {
				return fmt.Errorf("failed to encode features: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				runID, id.Source.String(), id.Name, id.Version.String(), string(fj), res.IsRoot(id),
			); err != nil {
				return fmt.Errorf("failed to record %s: %w", id, err)
			}
		}
		return nil
	})
}

// ListRunPackages returns the packages recorded for a run ordered by name
// and version.
func (s *SQLiteStore) ListRunPackages(ctx context.Context, runID string) ([]*RunPackage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, name, version, features, is_root
		FROM run_packages
		WHERE run_id = ?
		ORDER BY name, version, source
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*RunPackage
	for rows.Next() {
		var (
			p        RunPackage
			features string
		)
		if err := rows.Scan(&p.RunID, &p.Source, &p.Name, &p.Version, &features, &p.IsRoot); err != nil {
			return nil, fmt.Errorf("failed to scan run package: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features of %s: %w", p.Name, err)
		}
		pkgs = append(pkgs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run packages: %w", err)
	}

	return pkgs, nil
}

// AppendEvent appends an event to a run.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, level, code, package, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.RunID, event.Level, event.Code, event.Package, event.Message, unixNano(event.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}
	event.ID = id

	return nil
}

// GetEvents returns the events of a run in insertion order, optionally
// filtered by level.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var levelFilter *string
	if level != nil {
		l := string(*level)
		levelFilter = &l
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, level, code, package, message, created_at
		FROM run_events
		WHERE run_id = ? AND (? IS NULL OR level = ?)
		ORDER BY id
		LIMIT ? OFFSET ?
	`, runID, levelFilter, levelFilter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e         Event
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Level, &e.Code, &e.Package, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = fromUnixNano(createdAt)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		startedAt   int64
		completedAt sql.NullInt64
		runErr      sql.NullString
	)
	err := row.Scan(
		&run.ID, &run.Command, &run.Workspace, &run.Status, &startedAt, &completedAt,
		&runErr, &run.ErrorCode, &run.Packages, &run.Units, &run.Lockfile, &run.Metadata,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = fromUnixNano(startedAt)
	if completedAt.Valid {
		t := fromUnixNano(completedAt.Int64)
		run.CompletedAt = &t
	}
	if runErr.Valid {
		run.Error = &runErr.String
	}
	return &run, nil
}
