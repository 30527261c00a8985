package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellsight-ai/wellsight/internal/model"
)

// FinalReport returns the terminal artifact once synthesis has completed.
func (o *Orchestrator) FinalReport(ctx context.Context, id uuid.UUID) (string, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return "", err
	}
	snap := e.snap.Load()
	if snap.FinalReport == nil {
		return "", ErrReportNotReady
	}
	return *snap.FinalReport, nil
}

// TriggerRCA generates a root-cause-analysis report against the
// investigation's originating event. Gated on a completed synthesis and
// guarded to one report per investigation: the remote call is not
// idempotent, so repeating it would mint a fresh, different report.
func (o *Orchestrator) TriggerRCA(ctx context.Context, id uuid.UUID) (model.RCAReport, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return model.RCAReport{}, err
	}
	if !e.mu.TryLock() {
		return model.RCAReport{}, ErrBusy
	}
	defer e.mu.Unlock()

	st := e.state
	if !st.Done() {
		return model.RCAReport{}, ErrReportNotReady
	}
	if st.EventID == nil {
		return model.RCAReport{}, ErrNoEvent
	}
	if st.RCACount > 0 {
		return model.RCAReport{}, ErrRCAAlreadyGenerated
	}

	text, err := o.gw.TriggerRCA(ctx, *st.EventID)
	if err != nil {
		o.failLocked(e, model.FailureRCA, err)
		return model.RCAReport{}, err
	}

	rep := model.RCAReport{
		ID:              uuid.New(),
		InvestigationID: st.ID,
		EventID:         *st.EventID,
		Report:          text,
		CreatedAt:       time.Now().UTC(),
	}
	if err := o.store.SaveRCAReport(ctx, rep); err != nil {
		err = fmt.Errorf("pipeline: persist rca report: %w", err)
		o.failLocked(e, model.FailureRCA, err)
		return model.RCAReport{}, err
	}
	st.RCACount++
	e.publishSnapshot()

	o.logger.Info("rca report generated",
		"investigation_id", st.ID,
		"event_id", *st.EventID,
	)
	o.publish(EventRCAReady, map[string]any{
		"investigation_id": st.ID,
		"event_id":         *st.EventID,
	})
	return rep, nil
}
