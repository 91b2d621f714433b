package engine

import (
	"context"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/stores"
)

// startRecord opens the run in the history. A history that cannot be
// written only loses the record; the run goes on.
func (p *DefaultPlanner) startRecord(ctx context.Context, r *planRun) {
	if p.history == nil {
		return
	}
	run := &stores.Run{
		ID:        r.id,
		Command:   r.req.Command,
		Workspace: r.req.Workspace.Root,
	}
	if err := p.history.CreateRun(ctx, run); err != nil {
		r.log.WithError(err).Warn("failed to record run")
		return
	}
	r.history = p.history
	r.recorded = true
}

// finish reports the outcome of a run and closes its history record.
func (p *DefaultPlanner) finish(ctx context.Context, r *planRun, runErr error) {
	res := r.result
	status := stores.RunStatusSucceeded
	if runErr != nil {
		status = stores.RunStatusFailed
		code := core.CodeOf(runErr)
		r.tel.Metrics.RecordError(string(code))
		r.event(ctx, stores.EventLevelError, string(code), "", runErr.Error())
		r.log.WithError(runErr).WithFields(map[string]interface{}{
			"code":  code,
			"phase": PhaseOf(runErr),
		}).Error("run failed")
	} else {
		r.log.WithFields(map[string]interface{}{
			"packages": packagesOf(res),
			"units":    unitsOf(res),
			"warnings": len(res.Warnings),
			"duration": res.Duration.String(),
		}).Info("run completed")
	}
	_ = r.tel.Events.PublishRunCompleted(r.id, res.Duration, runErr)

	if !r.recorded {
		return
	}
	if err := r.history.CompleteRun(ctx, r.id, status, runErr, packagesOf(res), unitsOf(res)); err != nil {
		r.log.WithError(err).Warn("failed to complete run record")
	}
}

func packagesOf(res *Result) int {
	if res.Resolve == nil {
		return 0
	}
	return res.Resolve.Len()
}

func unitsOf(res *Result) int {
	if res.Graph == nil {
		return 0
	}
	return res.Graph.Len()
}
