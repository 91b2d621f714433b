package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/config"
	"github.com/openfroyo/crateplan/pkg/engine"
	"github.com/openfroyo/crateplan/pkg/manifest"
	"github.com/openfroyo/crateplan/pkg/policy"
	"github.com/openfroyo/crateplan/pkg/stores"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// session holds what a command needs: the configuration, telemetry and the
// lazily opened store and policy engine.
type session struct {
	ctx    context.Context
	cfg    *config.Config
	tel    *telemetry.Telemetry
	store  *stores.SQLiteStore
	policy *policy.Engine
}

func newSession(cmd *cobra.Command) (*session, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(filepath.Dir(workspacePath), config.DefaultFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetryWithLogger(cfg.Telemetry, telemetry.NewLoggerFrom(log.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	if metricsFile != "" {
		cfg.Telemetry.Metrics.TextFile = metricsFile
	}
	if verbose {
		tel.Events.Subscribe(logEvent, telemetry.FilterByLevel(telemetry.EventLevelInfo))
	}

	return &session{
		ctx: tel.WithContext(cmd.Context()),
		cfg: cfg,
		tel: tel,
	}, nil
}

// logEvent prints diagnostic events under --verbose.
func logEvent(e telemetry.Event) {
	var event *zerolog.Event
	switch e.Level {
	case telemetry.EventLevelError:
		event = log.Error()
	case telemetry.EventLevelWarning:
		event = log.Warn()
	default:
		event = log.Debug()
	}
	event.Str("type", e.Type).
		Str("run_id", e.RunID).
		Str("package", e.Package).
		Str("code", e.Code).
		Msg(e.Message)
}

// close flushes telemetry, writes the metrics text file and closes the
// store.
func (s *session) close() {
	if path := s.cfg.Telemetry.Metrics.TextFile; path != "" {
		if err := s.tel.Metrics.WriteTextFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to write metrics")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

func (s *session) loadWorkspace() (*manifest.Loaded, error) {
	return manifest.Load(s.ctx, workspacePath)
}

// workspacePathFor resolves p against the workspace directory.
func workspacePathFor(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(workspacePath), p)
}

// openStore opens the SQLite database at path, or at the configured index
// database when path is empty. It returns nil when neither is set.
func (s *session) openStore(path string) (*stores.SQLiteStore, error) {
	if s.store != nil {
		return s.store, nil
	}
	if path == "" {
		path = workspacePathFor(s.cfg.Paths.IndexDB)
	}
	if path == "" {
		return nil, nil
	}

	store, err := stores.Open(s.ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	s.store = store
	return store, nil
}

// requireStore is openStore for commands that cannot run without one.
func (s *session) requireStore(path string) (*stores.SQLiteStore, error) {
	store, err := s.openStore(path)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("no database: pass --db or set paths.index-db")
	}
	return store, nil
}

// loadPolicy creates a policy engine with the built-in policies and the
// policies of dir, or of the configured policy directory when dir is empty.
// With required unset it returns nil when no directory is known.
func (s *session) loadPolicy(dir string, required bool) (*policy.Engine, error) {
	if s.policy != nil {
		return s.policy, nil
	}
	if dir == "" {
		dir = workspacePathFor(s.cfg.Paths.PolicyDir)
	}
	if dir == "" && !required {
		return nil, nil
	}

	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := eng.LoadPolicies(s.ctx, []string{dir}); err != nil {
			return nil, err
		}
	}
	s.policy = eng
	return eng, nil
}

// planner wires the optional store and policy engine into a planner.
func (s *session) planner(index, record bool) *engine.DefaultPlanner {
	var opts []engine.Option
	if s.store != nil {
		if index {
			opts = append(opts, engine.WithIndex(s.store))
		}
		if record {
			opts = append(opts, engine.WithHistory(s.store))
		}
	}
	if s.policy != nil {
		opts = append(opts, engine.WithPolicy(s.policy))
	}
	return engine.NewPlanner(opts...)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
