package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/wellsight-ai/wellsight/internal/gateway"
	"github.com/wellsight-ai/wellsight/internal/model"
)

// PrepareStep fetches the query/context for the current position (or the
// synthesis query once all steps are committed). Nothing is committed here:
// a fetch failure leaves the session exactly as it was, so re-invoking is
// always safe.
func (o *Orchestrator) PrepareStep(ctx context.Context, id uuid.UUID) (model.StepQueryResponse, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return model.StepQueryResponse{}, err
	}
	if !e.mu.TryLock() {
		return model.StepQueryResponse{}, ErrBusy
	}
	defer e.mu.Unlock()

	if e.state.Done() {
		return model.StepQueryResponse{}, ErrDone
	}

	resp, err := o.fetchQueryLocked(ctx, e)
	if err != nil {
		return model.StepQueryResponse{}, err
	}
	e.state.MarkQueryLoaded()
	e.publishSnapshot()
	return resp, nil
}

// fetchQueryLocked fetches the current position's query. Caller holds e.mu.
func (o *Orchestrator) fetchQueryLocked(ctx context.Context, e *entry) (model.StepQueryResponse, error) {
	st := e.state
	if agent, ok := st.CurrentAgent(); ok {
		q, err := o.gw.FetchStepQuery(ctx, st.ID.String(), agent)
		if err != nil {
			o.failLocked(e, model.FailureQueryLoad, err)
			return model.StepQueryResponse{}, err
		}
		return model.StepQueryResponse{
			AgentID: agent,
			Role:    q.Role,
			Query:   q.Query,
			Context: q.Context,
		}, nil
	}

	q, err := o.gw.FetchSynthesisQuery(ctx, st.ID.String())
	if err != nil {
		o.failLocked(e, model.FailureQueryLoad, err)
		return model.StepQueryResponse{}, err
	}
	return model.StepQueryResponse{Query: q.Query, Synthesis: true}, nil
}

// SubmitInteractive submits a human-written response for the current
// position. Valid only in interactive mode. Blank text is rejected before
// any gateway call.
func (o *Orchestrator) SubmitInteractive(ctx context.Context, id uuid.UUID, text string) (model.Snapshot, error) {
	if err := model.ValidateResponseText(text); err != nil {
		return model.Snapshot{}, fmt.Errorf("pipeline: %w", err)
	}

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
	if st.Mode != model.ModeInteractive {
		return model.Snapshot{}, ErrWrongMode
	}

	if st.SynthesisReady() {
		if err := o.runSynthesisLocked(ctx, e, func(callCtx context.Context) (string, error) {
			return o.gw.SubmitSynthesisResponse(callCtx, st.ID.String(), text)
		}, false); err != nil {
			return *e.snap.Load(), err
		}
		return *e.snap.Load(), nil
	}

	agent, _ := st.CurrentAgent()
	if err := o.runStepLocked(ctx, e, func(callCtx context.Context) (gateway.StepResult, error) {
		return o.gw.SubmitStepResponse(callCtx, st.ID.String(), agent, text)
	}, false); err != nil {
		return *e.snap.Load(), err
	}
	return *e.snap.Load(), nil
}

// RunAutomatedStep drives the current position via the remote model.
// Valid only in automated mode. Network-kind failures are retried up to
// the configured bound; remote model failures surface immediately.
func (o *Orchestrator) RunAutomatedStep(ctx context.Context, id uuid.UUID) (model.Snapshot, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	if !e.mu.TryLock() {
		return model.Snapshot{}, ErrBusy
	}
	defer e.mu.Unlock()

	if err := o.runAutomatedLocked(ctx, e); err != nil {
		return *e.snap.Load(), err
	}
	return *e.snap.Load(), nil
}

// RetryCurrent re-runs the current position after a failure. In automated
// mode this re-invokes the remote model; in interactive mode it re-fetches
// the step query so the caller can resubmit. Safe at any settled position:
// failed attempts never wrote a partial record.
func (o *Orchestrator) RetryCurrent(ctx context.Context, id uuid.UUID) (model.Snapshot, error) {
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

	if st.Mode == model.ModeAutomated {
		if err := o.runAutomatedLocked(ctx, e); err != nil {
			return *e.snap.Load(), err
		}
		return *e.snap.Load(), nil
	}

	if _, err := o.fetchQueryLocked(ctx, e); err != nil {
		return *e.snap.Load(), err
	}
	st.MarkQueryLoaded()
	e.publishSnapshot()
	return *e.snap.Load(), nil
}

// runAutomatedLocked executes the current position (step or synthesis) in
// automated mode. Caller holds e.mu.
func (o *Orchestrator) runAutomatedLocked(ctx context.Context, e *entry) error {
	st := e.state
	if st.Done() {
		return ErrDone
	}
	if st.Mode != model.ModeAutomated {
		return ErrWrongMode
	}

	if st.SynthesisReady() {
		return o.runSynthesisLocked(ctx, e, func(callCtx context.Context) (string, error) {
			return o.gw.RunSynthesisAutomated(callCtx, st.ID.String())
		}, true)
	}

	agent, _ := st.CurrentAgent()
	return o.runStepLocked(ctx, e, func(callCtx context.Context) (gateway.StepResult, error) {
		return o.gw.RunStepAutomated(callCtx, st.ID.String(), agent)
	}, true)
}

// runStepLocked drives one workflow position: remote call, then the single
// commit (durable record + cursor advance). A failure at any point leaves
// the session unchanged apart from the recorded failure, so the position
// stays retryable with no partial record.
func (o *Orchestrator) runStepLocked(ctx context.Context, e *entry, call func(context.Context) (gateway.StepResult, error), retryNetwork bool) error {
	st := e.state
	agent, _ := st.CurrentAgent()

	st.MarkExecuting()
	e.publishSnapshot()

	result, err := o.invoke(ctx, call, retryNetwork)
	if err != nil {
		o.failLocked(e, model.FailureStepExecution, err)
		return err
	}

	rec := model.StepRecord{
		ID:              uuid.New(),
		InvestigationID: st.ID,
		Position:        st.Cursor,
		AgentID:         agent,
		Role:            roleLabel(agent),
		Confidence:      result.Confidence,
		Analysis:        result.Analysis,
		CreatedAt:       time.Now().UTC(),
	}

	// Persist before the in-memory commit: if the write fails the session
	// is untouched and the position remains retryable.
	if err := o.store.AppendStepRecord(ctx, rec); err != nil {
		err = fmt.Errorf("pipeline: persist step record: %w", err)
		o.failLocked(e, model.FailureStepExecution, err)
		return err
	}
	if err := st.CommitStep(rec); err != nil {
		return err
	}
	e.publishSnapshot()

	o.logger.Info("step completed",
		"investigation_id", st.ID,
		"position", rec.Position,
		"agent_id", rec.AgentID,
		"confidence", rec.Confidence,
	)
	o.publish(EventStepCompleted, map[string]any{
		"investigation_id": st.ID,
		"position":         rec.Position,
		"agent_id":         rec.AgentID,
		"synthesis_ready":  st.SynthesisReady(),
	})
	return nil
}

// runSynthesisLocked drives the virtual terminal position. Same commit
// discipline as runStepLocked; success is terminal.
func (o *Orchestrator) runSynthesisLocked(ctx context.Context, e *entry, call func(context.Context) (string, error), retryNetwork bool) error {
	st := e.state
	if !st.SynthesisReady() {
		return fmt.Errorf("pipeline: synthesis not ready: %d of %d steps complete", st.Cursor, len(st.Workflow))
	}

	st.MarkExecuting()
	e.publishSnapshot()

	report, err := o.invokeSynthesis(ctx, call, retryNetwork)
	if err != nil {
		o.failLocked(e, model.FailureSynthesis, err)
		return err
	}

	if err := o.store.SetFinalReport(ctx, st.ID, report); err != nil {
		err = fmt.Errorf("pipeline: persist final report: %w", err)
		o.failLocked(e, model.FailureSynthesis, err)
		return err
	}
	if err := st.Complete(report); err != nil {
		return err
	}
	e.publishSnapshot()

	o.logger.Info("investigation complete",
		"investigation_id", st.ID,
		"steps", len(st.Records),
	)
	o.publish(EventReportReady, map[string]any{
		"investigation_id": st.ID,
	})
	return nil
}

// failLocked records a failure on the session without touching the cursor
// or records, and broadcasts it. Caller holds e.mu.
func (o *Orchestrator) failLocked(e *entry, stage model.FailureStage, err error) {
	f := model.StepFailure{
		Stage:   stage,
		Kind:    string(gateway.KindOf(err)),
		Message: err.Error(),
		At:      time.Now().UTC(),
	}
	e.state.RecordFailure(f)
	e.publishSnapshot()

	o.logger.Warn("pipeline failure",
		"investigation_id", e.state.ID,
		"position", e.state.Cursor,
		"stage", f.Stage,
		"kind", f.Kind,
		"error", err,
	)
	o.publish(EventStepFailed, map[string]any{
		"investigation_id": e.state.ID,
		"position":         e.state.Cursor,
		"stage":            f.Stage,
		"kind":             f.Kind,
	})
}

// invoke performs one remote step call with bounded automatic retry for
// network-kind failures. Remote model failures and not-found surface on
// the first attempt.
func (o *Orchestrator) invoke(ctx context.Context, call func(context.Context) (gateway.StepResult, error), retryNetwork bool) (gateway.StepResult, error) {
	var result gateway.StepResult
	err := o.withNetworkRetry(ctx, retryNetwork, func() error {
		var callErr error
		result, callErr = call(ctx)
		return callErr
	})
	return result, err
}

// invokeSynthesis is invoke for the string-valued synthesis calls.
func (o *Orchestrator) invokeSynthesis(ctx context.Context, call func(context.Context) (string, error), retryNetwork bool) (string, error) {
	var report string
	err := o.withNetworkRetry(ctx, retryNetwork, func() error {
		var callErr error
		report, callErr = call(ctx)
		return callErr
	})
	return report, err
}

// withNetworkRetry executes fn, retrying network-kind gateway errors up to
// the configured bound with jittered exponential backoff. Cancellation
// aborts immediately and surfaces as the failure.
func (o *Orchestrator) withNetworkRetry(ctx context.Context, enabled bool, fn func() error) error {
	retries := o.cfg.MaxNetworkRetries
	if !enabled {
		retries = 0
	}
	delay := o.cfg.RetryBaseDelay

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = fn()
		if err == nil || gateway.KindOf(err) != gateway.KindNetwork || ctx.Err() != nil {
			return err
		}
		if attempt == retries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}

// roleLabel maps an agent identifier to its human-readable role label.
// Labels are presentational; unknown agents fall back to the raw id.
func roleLabel(agentID string) string {
	if label, ok := roleLabels[agentID]; ok {
		return label
	}
	return agentID
}

var roleLabels = map[string]string{
	"drilling_engineer":    "Drilling Engineer",
	"mud_engineer":         "Mud Engineer",
	"geologist":            "Geologist",
	"completions_engineer": "Completions Engineer",
	"production_engineer":  "Production Engineer",
	"reservoir_engineer":   "Reservoir Engineer",
}
