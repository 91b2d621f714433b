package engine

import (
	"context"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// metricsObserver feeds solver progress into the metrics and counts it for
// the run's Stats.
type metricsObserver struct {
	metrics *telemetry.Metrics
	log     *telemetry.Logger
	stats   Stats
}

func (o *metricsObserver) Activated(id core.PackageId) {
	o.stats.Activations++
	o.metrics.RecordActivation()
	o.log.Tracef("activated %s", id)
}

func (o *metricsObserver) Backtracked(depth int) {
	o.stats.Backtracks++
	o.metrics.RecordBacktrack()
	o.log.Tracef("backtracked to depth %d", depth)
}

func (o *metricsObserver) Queried(source core.SourceId, name string) {
	o.stats.Queries++
	o.metrics.RecordCandidateQuery(source.Kind.String())
}

// layeredRegistry answers from every layer in turn. The first layer to
// return a package id wins.
type layeredRegistry []resolver.Registry

func (l layeredRegistry) Candidates(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error) {
	var out []core.Summary
	seen := make(map[core.PackageId]bool)
	for _, r := range l {
		candidates, err := r.Candidates(ctx, source, name)
		if err != nil {
			return nil, err
		}
		for _, s := range candidates {
			if !seen[s.ID] {
				seen[s.ID] = true
				out = append(out, s)
			}
		}
	}
	return out, nil
}
