// Package model defines the core domain types for Wellsight.
//
// Types use strong typing (UUIDs, time.Time, enums) and correspond
// directly to database tables and API payloads. The pipeline packages
// own all mutation; these types carry no behavior beyond validation.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode is the execution strategy for an investigation's steps.
type Mode string

const (
	// ModeInteractive requires a human to supply each step's textual response.
	ModeInteractive Mode = "interactive"
	// ModeAutomated produces each step's response via the remote model.
	ModeAutomated Mode = "automated"
)

// ParseMode validates and converts a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInteractive, ModeAutomated:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q (want %q or %q)", s, ModeInteractive, ModeAutomated)
	}
}

// StepStatus is the lifecycle state of the active step.
type StepStatus string

const (
	StepNotStarted    StepStatus = "not_started"
	StepQueryLoaded   StepStatus = "query_loaded"
	StepAwaitingInput StepStatus = "awaiting_input"
	StepExecuting     StepStatus = "executing"
	StepCompleted     StepStatus = "completed"
	StepFailed        StepStatus = "failed"
)

// InvestigationStatus is the lifecycle state of a whole investigation.
type InvestigationStatus string

const (
	// InvestigationActive means at least one step (or synthesis) remains.
	InvestigationActive InvestigationStatus = "active"
	// InvestigationDone means the final report has been produced.
	InvestigationDone InvestigationStatus = "done"
)

// Workflow is the fixed, ordered list of specialist agent identifiers for
// one investigation. Immutable after creation; defines both execution order
// and total step count.
type Workflow []string

// MaxWorkflowSteps bounds workflow length. Real investigations use 3-6
// specialists; the cap guards against runaway request payloads.
const MaxWorkflowSteps = 32

// Validate checks that the workflow is non-empty and every agent identifier
// is well-formed. Identifiers are otherwise opaque tokens resolved by the
// remote agent service.
func (w Workflow) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("workflow must contain at least one agent")
	}
	if len(w) > MaxWorkflowSteps {
		return fmt.Errorf("workflow must contain at most %d agents", MaxWorkflowSteps)
	}
	for i, agent := range w {
		if err := ValidateAgentID(agent); err != nil {
			return fmt.Errorf("workflow[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateAgentID checks that an agent identifier conforms to the allowed
// format: 1-128 ASCII characters, lowercase alphanumeric plus underscores
// and hyphens (e.g. "drilling_engineer", "mud_engineer").
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("agent id must be at most 128 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' && c != '-' {
			return fmt.Errorf("agent id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// StepRecord is the durable result of one successfully completed step.
// Append-only: created exactly once per completed position, never mutated.
type StepRecord struct {
	ID              uuid.UUID `json:"id"`
	InvestigationID uuid.UUID `json:"investigation_id"`
	Position        int       `json:"position"`
	AgentID         string    `json:"agent_id"`
	Role            string    `json:"role"`
	Confidence      string    `json:"confidence"`
	Analysis        string    `json:"analysis"`
	CreatedAt       time.Time `json:"created_at"`
}

// Investigation is the persisted state of one specialist pipeline session.
type Investigation struct {
	ID          uuid.UUID           `json:"id"`
	EventID     *string             `json:"event_id,omitempty"`
	Workflow    Workflow            `json:"workflow"`
	Mode        Mode                `json:"mode"`
	Cursor      int                 `json:"current_step_index"`
	Status      InvestigationStatus `json:"status"`
	FinalReport *string             `json:"final_report,omitempty"`
	RCACount    int                 `json:"rca_count"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// RCAReport is a root-cause-analysis report generated against the
// investigation's originating event after synthesis completes.
type RCAReport struct {
	ID              uuid.UUID `json:"id"`
	InvestigationID uuid.UUID `json:"investigation_id"`
	EventID         string    `json:"event_id"`
	Report          string    `json:"report"`
	CreatedAt       time.Time `json:"created_at"`
}

// FailureStage identifies where in the pipeline a failure occurred.
type FailureStage string

const (
	FailureQueryLoad     FailureStage = "query_load"
	FailureStepExecution FailureStage = "step_execution"
	FailureSynthesis     FailureStage = "synthesis"
	FailureRCA           FailureStage = "rca"
)

// StepFailure describes the most recent pipeline failure for a session.
// Surfaced in snapshots so the dashboard can offer a retry affordance.
type StepFailure struct {
	Stage   FailureStage `json:"stage"`
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// Snapshot is the read-only view of an investigation handed to callers.
// All commands go through the orchestrator; callers never mutate this.
type Snapshot struct {
	ID               uuid.UUID           `json:"id"`
	EventID          *string             `json:"event_id,omitempty"`
	Workflow         Workflow            `json:"workflow"`
	CurrentStepIndex int                 `json:"current_step_index"`
	TotalSteps       int                 `json:"total_steps"`
	Mode             Mode                `json:"mode"`
	Status           InvestigationStatus `json:"status"`
	StepStatus       StepStatus          `json:"step_status"`
	Records          []StepRecord        `json:"completed_records"`
	FinalReport      *string             `json:"final_report,omitempty"`
	RCAGenerated     bool                `json:"rca_generated"`
	LastError        *StepFailure        `json:"last_error,omitempty"`
}

// SynthesisReady reports whether all workflow steps are complete and the
// session is positioned at the virtual synthesis step.
func (s Snapshot) SynthesisReady() bool {
	return s.CurrentStepIndex == s.TotalSteps
}
