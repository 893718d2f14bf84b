package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/research"
)

// ContactHandler claims one promoted company short of its contact minimum
// and tries to find decision-maker contacts for it. Every claim costs an
// attempt whether or not contacts turn up, so a company with no findable
// contacts eventually stops being claimable instead of spinning forever.
type ContactHandler struct {
	store    Store
	leases   Leases
	tasks    TaskReporter
	advancer Advancer
	finder   research.ContactFinder
	log      *zap.Logger
}

func NewContactHandler(st Store, leases Leases, tasks TaskReporter, advancer Advancer,
	finder research.ContactFinder) *ContactHandler {
	return &ContactHandler{
		store:    st,
		leases:   leases,
		tasks:    tasks,
		advancer: advancer,
		finder:   finder,
		log:      zap.L().Named("worker.contact"),
	}
}

func (h *ContactHandler) Stage() model.RunStage { return model.StageContactDiscovery }

func (h *ContactHandler) HandleOne(ctx context.Context) (bool, error) {
	c, err := h.leases.ClaimContactCandidate(ctx)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	defer h.leases.ReleaseCandidate(ctx, c.ID)
	defer h.tasks.MarkIdle(ctx)
	h.tasks.UpdateTask(ctx, c.RunID, taskLabel("contacts", c.Domain), c.LeaseExpiresAt)

	if err := h.store.IncrementContactAttempts(ctx, c.ID); err != nil {
		return true, err
	}

	run, err := h.store.GetRun(ctx, c.RunID)
	if err != nil {
		return true, err
	}

	contacts, err := h.finder.FindContacts(ctx, c, run.ContactsMax)
	if err != nil {
		return true, eris.Wrapf(err, "worker: contacts for %s", c.Domain)
	}

	// Re-read the run before writing: the find is slow, and a run that
	// paused or moved past contact discovery in the meantime must not
	// receive our results.
	run, err = h.store.GetRun(ctx, c.RunID)
	if err != nil {
		return true, err
	}
	if run.Status != model.RunStatusActive || run.Stage != model.StageContactDiscovery {
		h.log.Info("contact results discarded as stale",
			zap.String("run_id", c.RunID),
			zap.String("domain", c.Domain),
			zap.String("run_status", string(run.Status)),
			zap.String("run_stage", string(run.Stage)),
		)
		return true, nil
	}

	if len(contacts) > 0 {
		inserted, err := h.store.UpsertContacts(ctx, contacts)
		if err != nil {
			return true, err
		}
		h.log.Info("contacts stored",
			zap.String("domain", c.Domain),
			zap.Int("found", len(contacts)),
			zap.Int64("inserted", inserted),
		)
	} else {
		h.log.Info("no contacts found", zap.String("domain", c.Domain))
	}

	if _, err := h.advancer.Advance(ctx, c.RunID); err != nil {
		return true, err
	}
	return true, nil
}
