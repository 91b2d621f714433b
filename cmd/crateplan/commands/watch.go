package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/engine"
	"github.com/openfroyo/crateplan/pkg/policy"
)

// watchDelay collapses the burst of events an editor save produces.
const watchDelay = 300 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var flags planFlags
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan whenever the workspace changes",
		Long: `Plan the workspace, then watch the workspace description and re-plan
after every change. Policies in the policy directory are reloaded when they
change. With --metrics-addr the Prometheus metrics are served while
watching.`,
		Example: `  crateplan watch --metrics-addr :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithCancel(s.ctx)
			defer cancel()

			addr := metricsAddr
			if addr == "" {
				addr = s.cfg.Telemetry.Metrics.ListenAddress
			}
			if addr != "" {
				go func() {
					if err := s.tel.Metrics.Serve(ctx, addr); err != nil {
						log.Error().Err(err).Str("address", addr).Msg("Metrics server failed")
					}
				}()
				log.Info().Str("address", addr).Msg("Serving metrics")
			}

			if err := watchPolicies(ctx, s, flags.policyDir); err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			// Editors replace files on save, so the directory is watched.
			target, err := filepath.Abs(workspacePath)
			if err != nil {
				return err
			}
			if err := watcher.Add(filepath.Dir(target)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", target, err)
			}

			runWatchedPlan(cmd, s, &flags)

			var timer *time.Timer
			trigger := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					if timer != nil {
						timer.Stop()
					}
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Name != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Workspace changed")
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDelay, func() {
						select {
						case trigger <- struct{}{}:
						default:
						}
					})

				case <-trigger:
					runWatchedPlan(cmd, s, &flags)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default: telemetry.metrics.listen-address)")

	return cmd
}

// runWatchedPlan plans once and reports the outcome. Failures are logged,
// never returned: the watch goes on.
func runWatchedPlan(cmd *cobra.Command, s *session, flags *planFlags) {
	planner, req, err := flags.request(cmd, s)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prepare plan")
		return
	}

	result, err := planner.Plan(s.ctx, req)
	if err != nil {
		event := log.Error().Err(err)
		if phase := engine.PhaseOf(err); phase != "" {
			event = event.Str("phase", string(phase))
		}
		event.Bool("retryable", engine.IsRetryable(err)).Msg("Plan failed")
		return
	}

	fmt.Fprintf(os.Stdout, "[%s] %d packages, %d units", time.Now().Format("15:04:05"), result.Resolve.Len(), result.Graph.Len())
	if result.LockfileWritten {
		fmt.Fprintf(os.Stdout, ", updated %s", result.LockfilePath)
	}
	fmt.Fprintln(os.Stdout)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stdout, "warning: %s\n", w.Message)
	}
}

// watchPolicies reloads the policy engine of the session whenever a policy
// file changes.
func watchPolicies(ctx context.Context, s *session, dir string) error {
	if dir == "" {
		dir = workspacePathFor(s.cfg.Paths.PolicyDir)
	}
	if dir == "" {
		return nil
	}
	eng, err := s.loadPolicy(dir, true)
	if err != nil {
		return err
	}

	loader := policy.NewLoader(log.Logger)
	return loader.Watch(ctx, []string{dir}, func(policies []policy.Policy) error {
		return eng.ReplacePolicies(ctx, policies)
	})
}
