package worker

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/crm"
	"github.com/sells-group/campaign-cli/internal/dispatch"
	"github.com/sells-group/campaign-cli/internal/gap"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/region"
)

// DiscoveryConfig tunes the discovery stage handler.
type DiscoveryConfig struct {
	OversampleFactor   float64
	RegionCount        int
	MaxContactAttempts int
	Dispatch           dispatch.Config
}

// DiscoveryHandler claims a discovery-stage run, fans the search out over
// the run's decomposed geography, suppresses known CRM accounts, and
// bulk-upserts the survivors.
type DiscoveryHandler struct {
	store      Store
	leases     Leases
	tasks      TaskReporter
	advancer   Advancer
	searcher   dispatch.Searcher
	suppressor crm.Suppressor
	cfg        DiscoveryConfig
	log        *zap.Logger
}

func NewDiscoveryHandler(st Store, leases Leases, tasks TaskReporter, advancer Advancer,
	searcher dispatch.Searcher, suppressor crm.Suppressor, cfg DiscoveryConfig) *DiscoveryHandler {
	if cfg.OversampleFactor <= 0 {
		cfg.OversampleFactor = gap.DefaultOversampleFactor
	}
	if cfg.RegionCount <= 0 {
		cfg.RegionCount = region.DefaultCount
	}
	if cfg.MaxContactAttempts <= 0 {
		cfg.MaxContactAttempts = 3
	}
	return &DiscoveryHandler{
		store:      st,
		leases:     leases,
		tasks:      tasks,
		advancer:   advancer,
		searcher:   searcher,
		suppressor: suppressor,
		cfg:        cfg,
		log:        zap.L().Named("worker.discovery"),
	}
}

func (h *DiscoveryHandler) Stage() model.RunStage { return model.StageDiscovery }

func (h *DiscoveryHandler) HandleOne(ctx context.Context) (bool, error) {
	run, err := h.leases.ClaimDiscoveryRun(ctx)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}
	defer h.leases.ReleaseRun(ctx, run.ID)
	defer h.tasks.MarkIdle(ctx)
	h.tasks.UpdateTask(ctx, run.ID, taskLabel("discovery", run.Criteria.Summary()), run.LeaseExpiresAt)

	counts, err := h.store.GetRunCounts(ctx, run.ID, h.cfg.MaxContactAttempts)
	if err != nil {
		return true, err
	}
	target := gap.DiscoveryTarget(run.TargetQuantity, h.cfg.OversampleFactor)
	remaining := gap.Remaining(target, counts.Companies)
	if remaining == 0 {
		_, err := h.advancer.Advance(ctx, run.ID)
		return true, err
	}

	regions := region.Decompose(run.Criteria, h.cfg.RegionCount)

	dcfg := h.cfg.Dispatch
	dcfg.PerRegion = remaining
	res, err := dispatch.DispatchAll(ctx, h.searcher, run.Criteria, regions, dcfg)
	if err != nil {
		return true, eris.Wrapf(err, "worker: dispatch for run %s", run.ID)
	}

	kept := crm.Filter(ctx, h.suppressor, res.Candidates)
	for i := range kept {
		kept[i].RunID = run.ID
	}
	inserted, err := h.store.UpsertCompanies(ctx, kept)
	if err != nil {
		return true, err
	}

	h.log.Info("discovery pass complete",
		zap.String("run_id", run.ID),
		zap.Int("found", len(res.Candidates)),
		zap.Int("kept", len(kept)),
		zap.Int64("inserted", inserted),
		zap.Bool("exhausted", res.Exhausted),
	)

	stillMissing := remaining - int(inserted)
	if res.Exhausted && stillMissing > 0 {
		if err := h.advancer.RecordSearchExhausted(ctx, run.ID, stillMissing); err != nil {
			return true, err
		}
	}

	if _, err := h.advancer.Advance(ctx, run.ID); err != nil {
		return true, err
	}
	return true, nil
}

// taskLabel trims long task descriptors for heartbeat display.
func taskLabel(prefix, detail string) string {
	const maxLen = 120
	s := fmt.Sprintf("%s: %s", prefix, detail)
	if len(s) > maxLen {
		s = s[:maxLen-3] + "..."
	}
	return s
}
