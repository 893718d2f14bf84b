package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/research"
)

// ResearchHandler claims one unresearched candidate, runs the research
// task, and attaches the structured result.
type ResearchHandler struct {
	store    Store
	leases   Leases
	tasks    TaskReporter
	advancer Advancer
	runner   research.Runner
	log      *zap.Logger
}

func NewResearchHandler(st Store, leases Leases, tasks TaskReporter, advancer Advancer,
	runner research.Runner) *ResearchHandler {
	return &ResearchHandler{
		store:    st,
		leases:   leases,
		tasks:    tasks,
		advancer: advancer,
		runner:   runner,
		log:      zap.L().Named("worker.research"),
	}
}

func (h *ResearchHandler) Stage() model.RunStage { return model.StageResearch }

func (h *ResearchHandler) HandleOne(ctx context.Context) (bool, error) {
	c, err := h.leases.ClaimResearchCandidate(ctx)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	defer h.leases.ReleaseCandidate(ctx, c.ID)
	defer h.tasks.MarkIdle(ctx)
	h.tasks.UpdateTask(ctx, c.RunID, taskLabel("research", c.Domain), c.LeaseExpiresAt)

	run, err := h.store.GetRun(ctx, c.RunID)
	if err != nil {
		return true, err
	}

	res, err := h.runner.Research(ctx, c, run.Criteria)
	if err != nil {
		return true, eris.Wrapf(err, "worker: research %s", c.Domain)
	}

	// The write is guarded server-side: if the lease lapsed and another
	// worker already researched this candidate, ours is dropped.
	applied, err := h.store.AttachResearch(ctx, c.ID, res.Raw, res.Profile.QualityScore)
	if err != nil {
		return true, err
	}
	if !applied {
		h.log.Info("research result discarded as stale",
			zap.String("candidate_id", c.ID), zap.String("domain", c.Domain))
		return true, nil
	}

	if _, err := h.advancer.Advance(ctx, c.RunID); err != nil {
		return true, err
	}
	return true, nil
}
