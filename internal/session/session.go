// Package session holds the pure state machine for one investigation.
//
// A State value is owned exclusively by the pipeline orchestrator for the
// lifetime of one investigation and mutated only through the transition
// methods here. There is no I/O and no locking in this package; callers
// serialize access.
//
// The load-bearing invariant, checked at every transition:
//
//	len(Records) == Cursor
//
// No step is counted complete without a record, and no record exists
// without the cursor having advanced. The records list is downstream
// input to the synthesis step, so a desync here corrupts the final report.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellsight-ai/wellsight/internal/model"
)

// State is the mutable session state for one investigation.
type State struct {
	ID       uuid.UUID
	EventID  *string
	Workflow model.Workflow
	Mode     model.Mode

	// Cursor is the current workflow position, in [0, len(Workflow)].
	// Cursor == len(Workflow) means all steps are done and the session
	// is positioned at the virtual synthesis step.
	Cursor  int
	Records []model.StepRecord

	StepStatus  model.StepStatus
	FinalReport *string
	RCACount    int
	LastError   *model.StepFailure

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a settled session at position 0.
func New(id uuid.UUID, workflow model.Workflow, mode model.Mode, eventID *string) *State {
	now := time.Now().UTC()
	return &State{
		ID:         id,
		EventID:    eventID,
		Workflow:   workflow,
		Mode:       mode,
		StepStatus: model.StepNotStarted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Restore rebuilds a session from persisted state. Records must be ordered
// by position; the cursor is re-derived from them rather than trusted.
func Restore(inv model.Investigation, records []model.StepRecord) (*State, error) {
	if len(records) != inv.Cursor {
		return nil, fmt.Errorf("session: persisted state desynced: %d records at cursor %d", len(records), inv.Cursor)
	}
	for i, rec := range records {
		if rec.Position != i {
			return nil, fmt.Errorf("session: persisted record out of order: position %d at index %d", rec.Position, i)
		}
	}
	st := &State{
		ID:          inv.ID,
		EventID:     inv.EventID,
		Workflow:    inv.Workflow,
		Mode:        inv.Mode,
		Cursor:      inv.Cursor,
		Records:     records,
		StepStatus:  model.StepNotStarted,
		FinalReport: inv.FinalReport,
		RCACount:    inv.RCACount,
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
	if st.FinalReport != nil {
		st.StepStatus = model.StepCompleted
	}
	return st, nil
}

// CurrentAgent returns the agent at the cursor, or false when the session
// is positioned at synthesis.
func (s *State) CurrentAgent() (string, bool) {
	if s.Cursor < len(s.Workflow) {
		return s.Workflow[s.Cursor], true
	}
	return "", false
}

// SynthesisReady is true when every workflow step has a committed record.
func (s *State) SynthesisReady() bool {
	return s.Cursor == len(s.Workflow)
}

// Done is true once the final report is set. Terminal.
func (s *State) Done() bool {
	return s.FinalReport != nil
}

// CommitStep appends the completed record for the current position and
// advances the cursor, as one transition. Steps 2-4 of the executor commit
// after a successful remote call; failures never reach here, so a failed
// attempt leaves the record count and cursor untouched.
func (s *State) CommitStep(rec model.StepRecord) error {
	if s.Done() {
		return fmt.Errorf("session: investigation already complete")
	}
	if s.SynthesisReady() {
		return fmt.Errorf("session: all workflow steps already complete")
	}
	if rec.Position != s.Cursor {
		return fmt.Errorf("session: record position %d does not match cursor %d", rec.Position, s.Cursor)
	}
	if rec.AgentID != s.Workflow[s.Cursor] {
		return fmt.Errorf("session: record agent %q does not match workflow position %d (%q)",
			rec.AgentID, s.Cursor, s.Workflow[s.Cursor])
	}
	s.Records = append(s.Records, rec)
	s.Cursor++
	s.StepStatus = model.StepCompleted
	s.LastError = nil
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete sets the final report. Requires the synthesis position. Terminal:
// the report is immutable once set.
func (s *State) Complete(report string) error {
	if s.Done() {
		return fmt.Errorf("session: final report already set")
	}
	if !s.SynthesisReady() {
		return fmt.Errorf("session: synthesis not ready: %d of %d steps complete", s.Cursor, len(s.Workflow))
	}
	if report == "" {
		return fmt.Errorf("session: final report must not be empty")
	}
	s.FinalReport = &report
	s.StepStatus = model.StepCompleted
	s.LastError = nil
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SetMode switches the execution strategy for subsequent steps.
// Never touches the cursor or records.
func (s *State) SetMode(mode model.Mode) {
	s.Mode = mode
	s.UpdatedAt = time.Now().UTC()
}

// RecordFailure notes a failed attempt without touching cursor or records.
// The position stays retryable.
func (s *State) RecordFailure(f model.StepFailure) {
	s.StepStatus = model.StepFailed
	s.LastError = &f
	s.UpdatedAt = time.Now().UTC()
}

// MarkQueryLoaded notes that the current position's query was fetched.
// Presentational only; carries no transition rules.
func (s *State) MarkQueryLoaded() {
	if s.Mode == model.ModeInteractive {
		s.StepStatus = model.StepAwaitingInput
	} else {
		s.StepStatus = model.StepQueryLoaded
	}
}

// MarkExecuting notes that a remote call for the current position is in flight.
func (s *State) MarkExecuting() {
	s.StepStatus = model.StepExecuting
}

// Status derives the investigation lifecycle state.
func (s *State) Status() model.InvestigationStatus {
	if s.Done() {
		return model.InvestigationDone
	}
	return model.InvestigationActive
}

// Snapshot returns a read-only copy for callers. The records slice is
// copied so no caller aliases the session's internal state.
func (s *State) Snapshot() model.Snapshot {
	records := make([]model.StepRecord, len(s.Records))
	copy(records, s.Records)

	var lastErr *model.StepFailure
	if s.LastError != nil {
		e := *s.LastError
		lastErr = &e
	}

	return model.Snapshot{
		ID:               s.ID,
		EventID:          s.EventID,
		Workflow:         s.Workflow,
		CurrentStepIndex: s.Cursor,
		TotalSteps:       len(s.Workflow),
		Mode:             s.Mode,
		Status:           s.Status(),
		StepStatus:       s.StepStatus,
		Records:          records,
		FinalReport:      s.FinalReport,
		RCAGenerated:     s.RCACount > 0,
		LastError:        lastErr,
	}
}
