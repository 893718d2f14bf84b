// Package orchestrator owns the run state machine. Advance is called by
// every worker after every completed unit of work; it re-reads the run and
// its counts and moves the stage forward when the current stage's gap has
// closed. The checks are convergent: any number of workers calling Advance
// concurrently settle on the same stage because the underlying stage write
// is a compare-and-set.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/gap"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/notify"
	"github.com/sells-group/campaign-cli/internal/store"
)

// runStore is the slice of the store the orchestrator drives.
type runStore interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetRunCounts(ctx context.Context, runID string, maxContactAttempts int) (*store.RunCounts, error)
	AdvanceStage(ctx context.Context, runID string, from, to model.RunStage) (bool, error)
	PromoteTopCandidates(ctx context.Context, runID string, n int) (int64, error)
	SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	AppendRunNotes(ctx context.Context, runID, note string) error
	IncrementCloseAttempts(ctx context.Context, runID string) (int, error)
	ResumeRun(ctx context.Context, runID string, criteria model.Criteria) error
	CompleteRun(ctx context.Context, runID string) error
}

// Config tunes the state machine.
type Config struct {
	OversampleFactor   float64
	MaxCloseAttempts   int
	MaxContactAttempts int
}

func DefaultConfig() Config {
	return Config{
		OversampleFactor:   gap.DefaultOversampleFactor,
		MaxCloseAttempts:   3,
		MaxContactAttempts: 3,
	}
}

// Progress reports what one Advance call observed and did.
type Progress struct {
	Stage     model.RunStage
	Status    model.RunStatus
	Remaining int // units still missing in the current stage
	Advanced  bool
	Completed bool
	Escalated bool
}

type Orchestrator struct {
	store    runStore
	notifier notify.Notifier
	cfg      Config
	log      *zap.Logger
}

func New(st runStore, notifier notify.Notifier, cfg Config) *Orchestrator {
	if cfg.OversampleFactor <= 0 {
		cfg.OversampleFactor = gap.DefaultOversampleFactor
	}
	if cfg.MaxCloseAttempts <= 0 {
		cfg.MaxCloseAttempts = DefaultConfig().MaxCloseAttempts
	}
	if cfg.MaxContactAttempts <= 0 {
		cfg.MaxContactAttempts = DefaultConfig().MaxContactAttempts
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		log:      zap.L().Named("orchestrator"),
	}
}

// Advance re-checks the run's stage gap and moves it forward when closed.
// Safe to call after every unit of work from any worker.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (*Progress, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load run")
	}

	prog := &Progress{Stage: run.Stage, Status: run.Status}
	if run.Status != model.RunStatusActive || run.Terminal() {
		return prog, nil
	}

	if err := run.Criteria.Validate(); err != nil {
		return prog, o.failRun(ctx, run, eris.Wrap(err, "malformed criteria"))
	}

	counts, err := o.store.GetRunCounts(ctx, runID, o.cfg.MaxContactAttempts)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load counts")
	}

	switch run.Stage {
	case model.StageDiscovery:
		return o.advanceDiscovery(ctx, run, counts, prog)
	case model.StageResearch:
		return o.advanceResearch(ctx, run, counts, prog)
	case model.StageContactDiscovery:
		return o.advanceContact(ctx, run, counts, prog)
	default:
		return prog, nil
	}
}

func (o *Orchestrator) advanceDiscovery(ctx context.Context, run *model.Run, counts *store.RunCounts, prog *Progress) (*Progress, error) {
	target := gap.DiscoveryTarget(run.TargetQuantity, o.cfg.OversampleFactor)
	prog.Remaining = gap.Remaining(target, counts.Companies)
	if prog.Remaining > 0 {
		return prog, nil
	}

	ok, err := o.store.AdvanceStage(ctx, run.ID, model.StageDiscovery, model.StageResearch)
	if err != nil {
		return nil, err
	}
	if ok {
		prog.Advanced = true
		prog.Stage = model.StageResearch
		o.noteAndNotify(ctx, run.ID, notify.EventStageAdvanced, "info",
			fmt.Sprintf("discovery complete: %d companies found (target %d), advancing to research",
				counts.Companies, target))
	}
	return prog, nil
}

func (o *Orchestrator) advanceResearch(ctx context.Context, run *model.Run, counts *store.RunCounts, prog *Progress) (*Progress, error) {
	prog.Remaining = counts.Unresearched
	if prog.Remaining > 0 {
		return prog, nil
	}

	// Promote before the stage flips so contact workers never see an
	// empty promoted set on a freshly advanced run. Promotion is
	// idempotent, so a second Advance racing here is harmless.
	promoted, err := o.store.PromoteTopCandidates(ctx, run.ID, run.TargetQuantity)
	if err != nil {
		return nil, err
	}

	ok, err := o.store.AdvanceStage(ctx, run.ID, model.StageResearch, model.StageContactDiscovery)
	if err != nil {
		return nil, err
	}
	if ok {
		prog.Advanced = true
		prog.Stage = model.StageContactDiscovery
		o.noteAndNotify(ctx, run.ID, notify.EventStageAdvanced, "info",
			fmt.Sprintf("research complete: promoted %d of %d candidates, advancing to contact discovery",
				promoted, counts.Companies))
	}
	return prog, nil
}

func (o *Orchestrator) advanceContact(ctx context.Context, run *model.Run, counts *store.RunCounts, prog *Progress) (*Progress, error) {
	target := gap.ContactTarget(counts.Promoted, run.ContactsMin)
	prog.Remaining = gap.Remaining(target, counts.PromotedContacts)
	if prog.Remaining == 0 {
		if err := o.store.CompleteRun(ctx, run.ID); err != nil {
			return nil, err
		}
		prog.Advanced = true
		prog.Completed = true
		prog.Stage = model.StageDone
		prog.Status = model.RunStatusCompleted
		o.noteAndNotify(ctx, run.ID, notify.EventRunCompleted, "info",
			fmt.Sprintf("run completed: %d contacts across %d promoted companies",
				counts.PromotedContacts, counts.Promoted))
		return prog, nil
	}

	// Gap open with no claimable companies left: this pass cannot close
	// it. Count the pass, escalate when the run is out of passes.
	if counts.ContactEligible == 0 {
		return prog, o.recordFailedPass(ctx, run, prog,
			fmt.Sprintf("contact gap of %d remains with no claimable companies (%d contacts of %d target)",
				prog.Remaining, counts.PromotedContacts, target))
	}
	return prog, nil
}

// RecordSearchExhausted marks one failed gap-closing discovery pass: the
// dispatcher searched every region successfully, all reported exhaustion,
// and the discovery gap still did not close.
func (o *Orchestrator) RecordSearchExhausted(ctx context.Context, runID string, remaining int) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load run")
	}
	if run.Status != model.RunStatusActive {
		return nil
	}
	prog := &Progress{Stage: run.Stage, Status: run.Status, Remaining: remaining}
	return o.recordFailedPass(ctx, run, prog,
		fmt.Sprintf("search space exhausted with %d companies still missing", remaining))
}

func (o *Orchestrator) recordFailedPass(ctx context.Context, run *model.Run, prog *Progress, reason string) error {
	attempts, err := o.store.IncrementCloseAttempts(ctx, run.ID)
	if err != nil {
		return err
	}
	o.log.Warn("gap-closing pass failed",
		zap.String("run_id", run.ID),
		zap.String("stage", string(run.Stage)),
		zap.Int("close_attempts", attempts),
		zap.String("reason", reason),
	)
	if attempts < o.cfg.MaxCloseAttempts {
		return nil
	}

	if err := o.store.SetRunStatus(ctx, run.ID, model.RunStatusNeedsUserDecision); err != nil {
		return err
	}
	prog.Escalated = true
	prog.Status = model.RunStatusNeedsUserDecision
	o.noteAndNotify(ctx, run.ID, notify.EventDecisionRequired, "high",
		fmt.Sprintf("needs decision after %d failed passes: %s. Options: broaden the geographic scope, relax a criteria constraint, or accept partial results.",
			attempts, reason))
	return nil
}

func (o *Orchestrator) failRun(ctx context.Context, run *model.Run, cause error) error {
	if err := o.store.SetRunStatus(ctx, run.ID, model.RunStatusError); err != nil {
		return err
	}
	o.noteAndNotify(ctx, run.ID, notify.EventRunError, "high",
		fmt.Sprintf("run failed: %v", cause))
	return nil
}

// noteAndNotify appends the message to the run's notes and fires the
// notifier. Neither failing is fatal to the caller's state change.
func (o *Orchestrator) noteAndNotify(ctx context.Context, runID string, typ notify.EventType, severity, msg string) {
	if err := o.store.AppendRunNotes(ctx, runID, msg); err != nil {
		o.log.Warn("append run notes failed", zap.String("run_id", runID), zap.Error(err))
	}
	err := o.notifier.Send(ctx, notify.Event{
		Type:     typ,
		Severity: severity,
		RunID:    runID,
		Message:  msg,
	})
	if err != nil {
		o.log.Warn("notification failed", zap.String("run_id", runID), zap.Error(err))
	}
}
