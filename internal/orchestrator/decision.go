package orchestrator

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/notify"
)

// Decision is an operator's answer to a needs_user_decision run.
type Decision string

const (
	// DecisionAcceptPartial closes the run with whatever it gathered.
	DecisionAcceptPartial Decision = "accept_partial"
	// DecisionBroadenScope resumes the run with wider criteria.
	DecisionBroadenScope Decision = "broaden_scope"
	// DecisionRelaxConstraint resumes the run with a constraint loosened.
	DecisionRelaxConstraint Decision = "relax_constraint"
)

// ParseDecision validates an operator-supplied decision string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionAcceptPartial, DecisionBroadenScope, DecisionRelaxConstraint:
		return Decision(s), nil
	}
	return "", eris.Errorf("orchestrator: unknown decision %q (want accept_partial, broaden_scope, or relax_constraint)", s)
}

// Decide applies an operator decision to a run waiting on one. The decision
// is recorded in the run's notes either way. accept_partial force-completes
// the run; the resume decisions put it back to active with the close-attempt
// counter reset, optionally with replacement criteria.
func (o *Orchestrator) Decide(ctx context.Context, runID string, d Decision, note string, newCriteria model.Criteria) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load run")
	}
	if run.Status != model.RunStatusNeedsUserDecision {
		return eris.Errorf("orchestrator: run %s is %s, not awaiting a decision", runID, run.Status)
	}
	if newCriteria != nil {
		if err := newCriteria.Validate(); err != nil {
			return eris.Wrap(err, "orchestrator: replacement criteria")
		}
	}

	record := fmt.Sprintf("operator decision: %s", d)
	if note != "" {
		record += ": " + note
	}
	if err := o.store.AppendRunNotes(ctx, runID, record); err != nil {
		return eris.Wrap(err, "orchestrator: record decision")
	}

	switch d {
	case DecisionAcceptPartial:
		if err := o.store.CompleteRun(ctx, runID); err != nil {
			return err
		}
		o.noteAndNotify(ctx, runID, notify.EventRunCompleted, "info",
			"run completed with partial results by operator decision")
		return nil
	case DecisionBroadenScope, DecisionRelaxConstraint:
		if err := o.store.ResumeRun(ctx, runID, newCriteria); err != nil {
			return err
		}
		o.log.Info("run resumed by operator decision",
			zap.String("run_id", runID), zap.String("decision", string(d)))
		return nil
	default:
		return eris.Errorf("orchestrator: unknown decision %q", d)
	}
}
