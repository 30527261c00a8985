package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/wellsight-ai/wellsight/internal/model"
)

// RunAll drives every remaining workflow position and then synthesis,
// without per-step confirmation. Automated mode only: interactive mode
// needs human text per step.
//
// The batch holds the investigation's lock for its whole duration, so no
// retry or mode switch can interleave with it; concurrent commands fail
// fast with ErrBusy rather than queueing behind a long batch. The first
// step failure aborts the batch and leaves the committed records at
// whatever position was reached. That partial progress is deliberate:
// the session stays valid and retryable at the failed position, and
// retry ownership stays with the single-step commands, not the batch.
func (o *Orchestrator) RunAll(ctx context.Context, id uuid.UUID) (model.Snapshot, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	if !e.mu.TryLock() {
		return model.Snapshot{}, ErrBusy
	}
	defer e.mu.Unlock()

	st := e.state
	if st.Done() {
		return model.Snapshot{}, ErrDone
	}
	if st.Mode != model.ModeAutomated {
		return model.Snapshot{}, ErrWrongMode
	}

	o.logger.Info("run-all started",
		"investigation_id", st.ID,
		"from_position", st.Cursor,
		"total_steps", len(st.Workflow),
	)

	for !st.SynthesisReady() {
		if err := o.runAutomatedLocked(ctx, e); err != nil {
			return *e.snap.Load(), err
		}
	}
	if err := o.runAutomatedLocked(ctx, e); err != nil {
		return *e.snap.Load(), err
	}
	return *e.snap.Load(), nil
}
