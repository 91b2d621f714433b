package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/semver"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// depRecord is the stored form of a core.Dependency.
type depRecord struct {
	Name            string   `json:"name"`
	Rename          string   `json:"rename,omitempty"`
	Req             string   `json:"req"`
	Source          string   `json:"source"`
	Kind            string   `json:"kind,omitempty"`
	Platform        string   `json:"target,omitempty"`
	Features        []string `json:"features,omitempty"`
	DefaultFeatures bool     `json:"default_features"`
	Optional        bool     `json:"optional,omitempty"`
}

func toDepRecord(d core.Dependency) depRecord {
	rec := depRecord{
		Name:            d.Name,
		Rename:          d.Rename,
		Req:             d.Req.String(),
		Source:          d.Source.String(),
		Features:        d.Features,
		DefaultFeatures: d.DefaultFeatures,
		Optional:        d.Optional,
	}
	if d.Kind != core.DepNormal {
		rec.Kind = d.Kind.String()
	}
	if d.Platform != nil {
		rec.Platform = d.Platform.String()
	}
	return rec
}

func (r depRecord) dependency() (core.Dependency, error) {
	req, err := semver.ParseReq(r.Req)
	if err != nil {
		return core.Dependency{}, fmt.Errorf("dependency %s: %w", r.Name, err)
	}
	src, err := core.ParseSourceId(r.Source)
	if err != nil {
		return core.Dependency{}, fmt.Errorf("dependency %s: %w", r.Name, err)
	}
	kind, err := core.ParseDepKind(r.Kind)
	if err != nil {
		return core.Dependency{}, fmt.Errorf("dependency %s: %w", r.Name, err)
	}
	d := core.Dependency{
		Name:            r.Name,
		Rename:          r.Rename,
		Req:             req,
		Source:          src,
		Kind:            kind,
		Features:        r.Features,
		DefaultFeatures: r.DefaultFeatures,
		Optional:        r.Optional,
	}
	if r.Platform != "" {
		if d.Platform, err = core.ParsePlatform(r.Platform); err != nil {
			return core.Dependency{}, fmt.Errorf("dependency %s: %w", r.Name, err)
		}
	}
	return d, nil
}

// encodedSummary is a summary flattened into column values.
type encodedSummary struct {
	features     string
	dependencies string
	checksum     string
}

func encodeSummary(s core.Summary) (encodedSummary, error) {
	features := s.Features
	if features == nil {
		features = map[string][]string{}
	}
	fj, err := json.Marshal(features)
	if err != nil {
		return encodedSummary{}, fmt.Errorf("failed to encode features: %w", err)
	}

	deps := make([]depRecord, 0, len(s.Dependencies))
	for _, d := range s.Dependencies {
		deps = append(deps, toDepRecord(d))
	}
	dj, err := json.Marshal(deps)
	if err != nil {
		return encodedSummary{}, fmt.Errorf("failed to encode dependencies: %w", err)
	}

	h := xxhash.New()
	_, _ = h.WriteString(s.ID.String())
	_, _ = h.WriteString(strconv.FormatBool(s.Yanked))
	_, _ = h.WriteString(s.Links)
	_, _ = h.WriteString(strconv.FormatBool(s.ProcMacro))
	_, _ = h.Write(fj)
	_, _ = h.Write(dj)

	return encodedSummary{
		features:     string(fj),
		dependencies: string(dj),
		checksum:     strconv.FormatUint(h.Sum64(), 16),
	}, nil
}

// PutSummaries upserts package versions into the index in one transaction.
// Rows whose content is unchanged are left alone.
func (s *SQLiteStore) PutSummaries(ctx context.Context, summaries []core.Summary) (ImportStats, error) {
	var stats ImportStats

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := unixNano(time.Now())
		for _, sum := range summaries {
			enc, err := encodeSummary(sum)
			if err != nil {
				return fmt.Errorf("package %s: %w", sum.ID, err)
			}

			var existing string
			err = tx.QueryRowContext(ctx, `
				SELECT checksum FROM index_packages
				WHERE source = ? AND name = ? AND version = ?
			`, sum.ID.Source.String(), sum.ID.Name, sum.ID.Version.String()).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				stats.Added++
			case err != nil:
				return fmt.Errorf("failed to look up %s: %w", sum.ID, err)
			case existing == enc.checksum:
				stats.Unchanged++
				continue
			default:
				stats.Updated++
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO index_packages (
					source, name, version, yanked, links, proc_macro, features, dependencies, checksum, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (source, name, version) DO UPDATE SET
					yanked = excluded.yanked,
					links = excluded.links,
					proc_macro = excluded.proc_macro,
					features = excluded.features,
					dependencies = excluded.dependencies,
					checksum = excluded.checksum,
					updated_at = excluded.updated_at
			`,
				sum.ID.Source.String(), sum.ID.Name, sum.ID.Version.String(),
				sum.Yanked, sum.Links, sum.ProcMacro, enc.features, enc.dependencies, enc.checksum, now,
			)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", sum.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}
	return stats, nil
}

// Candidates implements resolver.Registry over the stored index. Versions
// are returned in ascending order.
func (s *SQLiteStore) Candidates(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, name, version, yanked, links, proc_macro, features, dependencies, checksum, updated_at
		FROM index_packages
		WHERE source = ? AND name = ?
	`, source.String(), name)
	if err != nil {
		return nil, core.NewError(core.ErrCodeSource, "failed to query index", err).WithPackage(name)
	}
	defer rows.Close()

	entries, err := scanIndexEntries(rows)
	if err != nil {
		return nil, core.NewError(core.ErrCodeSource, "failed to read index", err).WithPackage(name)
	}

	out := make([]core.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Summary)
	}
	sort.Slice(out, func(i, j int) bool { return semver.Less(out[i].ID.Version, out[j].ID.Version) })
	return out, nil
}

// ListIndex returns index entries ordered by name, source and version. An
// empty name lists every package.
func (s *SQLiteStore) ListIndex(ctx context.Context, name string, limit, offset int) ([]*IndexEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var filter *string
	if name != "" {
		filter = &name
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, name, version, yanked, links, proc_macro, features, dependencies, checksum, updated_at
		FROM index_packages
		WHERE (? IS NULL OR name = ?)
		ORDER BY name, source, version
		LIMIT ? OFFSET ?
	`, filter, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list index: %w", err)
	}
	defer rows.Close()

	entries, err := scanIndexEntries(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Summary.ID, entries[j].Summary.ID
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Source != b.Source {
			return a.Source.Less(b.Source)
		}
		return semver.Less(a.Version, b.Version)
	})
	return entries, nil
}

// DeleteIndexEntry removes one package version from the index.
func (s *SQLiteStore) DeleteIndexEntry(ctx context.Context, id core.PackageId) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM index_packages WHERE source = ? AND name = ? AND version = ?
	`, id.Source.String(), id.Name, id.Version.String())
	if err != nil {
		return fmt.Errorf("failed to delete index entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("index entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// IndexSize returns the number of stored package versions.
func (s *SQLiteStore) IndexSize(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM index_packages").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count index: %w", err)
	}
	return n, nil
}

func scanIndexEntries(rows *sql.Rows) ([]*IndexEntry, error) {
	var entries []*IndexEntry
	for rows.Next() {
		var (
			source, name, version, links, features, deps, checksum string
			yanked, procMacro                                      bool
			updatedAt                                              int64
		)
		if err := rows.Scan(&source, &name, &version, &yanked, &links, &procMacro, &features, &deps, &checksum, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}

		src, err := core.ParseSourceId(source)
		if err != nil {
			return nil, err
		}
		id, err := core.NewPackageId(name, version, src)
		if err != nil {
			return nil, err
		}

		sum := core.Summary{ID: id, Links: links, Yanked: yanked, ProcMacro: procMacro}
		if err := json.Unmarshal([]byte(features), &sum.Features); err != nil {
			return nil, fmt.Errorf("package %s: failed to decode features: %w", id, err)
		}
		var records []depRecord
		if err := json.Unmarshal([]byte(deps), &records); err != nil {
			return nil, fmt.Errorf("package %s: failed to decode dependencies: %w", id, err)
		}
		for _, rec := range records {
			d, err := rec.dependency()
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", id, err)
			}
			sum.Dependencies = append(sum.Dependencies, d)
		}

		entries = append(entries, &IndexEntry{
			Summary:   sum,
			Checksum:  checksum,
			UpdatedAt: fromUnixNano(updatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index: %w", err)
	}
	return entries, nil
}
