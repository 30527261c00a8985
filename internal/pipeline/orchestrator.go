// Package pipeline implements the specialist pipeline orchestrator.
//
// The orchestrator owns one session.State per investigation and drives it
// through the ordered specialist steps, the terminal synthesis step, and
// the optional RCA handoff. Specialists are strictly sequential: each
// step's remote query embeds every previously committed record, so there
// is no fan-out and no two commands for the same investigation may run
// concurrently. Distinct investigations are fully independent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wellsight-ai/wellsight/internal/gateway"
	"github.com/wellsight-ai/wellsight/internal/model"
	"github.com/wellsight-ai/wellsight/internal/session"
	"github.com/wellsight-ai/wellsight/internal/storage"
)

// Command errors surfaced to the API layer.
var (
	// ErrNotFound means the investigation does not exist.
	ErrNotFound = errors.New("pipeline: investigation not found")
	// ErrBusy means another command holds the investigation's lock
	// (typically a run-all batch in flight).
	ErrBusy = errors.New("pipeline: another command is in flight for this investigation")
	// ErrDone means the investigation already has its final report.
	ErrDone = errors.New("pipeline: investigation already complete")
	// ErrWrongMode means the command is not valid under the current mode.
	ErrWrongMode = errors.New("pipeline: command not valid in current mode")
	// ErrReportNotReady gates the RCA handoff on a completed synthesis.
	ErrReportNotReady = errors.New("pipeline: final report not ready")
	// ErrNoEvent means RCA was requested but the investigation has no
	// originating event to analyze.
	ErrNoEvent = errors.New("pipeline: investigation has no originating event")
	// ErrRCAAlreadyGenerated guards the one-shot RCA trigger.
	ErrRCAAlreadyGenerated = errors.New("pipeline: rca report already generated")
)

// Store is the durable persistence consumed by the orchestrator.
// Implemented by storage.DB.
type Store interface {
	CreateInvestigation(ctx context.Context, inv model.Investigation) error
	GetInvestigation(ctx context.Context, id uuid.UUID) (model.Investigation, error)
	ListStepRecords(ctx context.Context, investigationID uuid.UUID) ([]model.StepRecord, error)
	ListOpenInvestigations(ctx context.Context) ([]model.Investigation, error)
	AppendStepRecord(ctx context.Context, rec model.StepRecord) error
	SetMode(ctx context.Context, id uuid.UUID, mode model.Mode) error
	SetFinalReport(ctx context.Context, id uuid.UUID, report string) error
	SaveRCAReport(ctx context.Context, rep model.RCAReport) error
}

// Publisher receives pipeline lifecycle events for fan-out to dashboard
// subscribers. Implementations must not block.
type Publisher interface {
	Publish(event string, payload any)
}

// Event names sent to the Publisher.
const (
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventReportReady   = "report_ready"
	EventRCAReady      = "rca_ready"
)

// Config tunes orchestrator retry behavior.
type Config struct {
	// MaxNetworkRetries bounds automatic retries of automated remote calls
	// that fail with a network-kind error. Remote model failures are never
	// auto-retried; they require human intervention.
	MaxNetworkRetries int
	// RetryBaseDelay is the initial backoff delay between automatic retries.
	RetryBaseDelay time.Duration
}

// entry pairs a session with its command lock and a lock-free snapshot.
// Commands serialize on mu; snapshot reads never block, so dashboards can
// poll freely while a run-all batch holds the lock.
type entry struct {
	mu    sync.Mutex
	state *session.State
	snap  atomic.Pointer[model.Snapshot]
}

func (e *entry) publishSnapshot() {
	s := e.state.Snapshot()
	e.snap.Store(&s)
}

// Orchestrator drives specialist pipelines for all open investigations.
type Orchestrator struct {
	gw     gateway.Client
	store  Store
	pub    Publisher
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// New creates an orchestrator. Publisher may be nil.
func New(gw gateway.Client, store Store, pub Publisher, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Orchestrator{
		gw:      gw,
		store:   store,
		pub:     pub,
		logger:  logger,
		cfg:     cfg,
		entries: make(map[uuid.UUID]*entry),
	}
}

// Create starts a new investigation session at position 0.
func (o *Orchestrator) Create(ctx context.Context, req model.CreateInvestigationRequest) (model.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return model.Snapshot{}, fmt.Errorf("pipeline: %w", err)
	}
	mode, _ := model.ParseMode(req.Mode)

	st := session.New(uuid.New(), req.Workflow, mode, req.EventID)
	if err := o.store.CreateInvestigation(ctx, investigationRow(st)); err != nil {
		return model.Snapshot{}, fmt.Errorf("pipeline: persist investigation: %w", err)
	}

	e := &entry{state: st}
	e.publishSnapshot()

	o.mu.Lock()
	o.entries[st.ID] = e
	o.mu.Unlock()

	o.logger.Info("investigation created",
		"investigation_id", st.ID,
		"steps", len(st.Workflow),
		"mode", st.Mode,
	)
	return *e.snap.Load(), nil
}

// Snapshot returns the read-only view of an investigation without blocking
// on any in-flight command.
func (o *Orchestrator) Snapshot(ctx context.Context, id uuid.UUID) (model.Snapshot, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	return *e.snap.Load(), nil
}

// SetMode switches the execution strategy for subsequent steps. The cursor
// and committed records are untouched.
func (o *Orchestrator) SetMode(ctx context.Context, id uuid.UUID, mode model.Mode) (model.Snapshot, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	if !e.mu.TryLock() {
		return model.Snapshot{}, ErrBusy
	}
	defer e.mu.Unlock()

	if err := o.store.SetMode(ctx, id, mode); err != nil {
		return model.Snapshot{}, fmt.Errorf("pipeline: persist mode: %w", err)
	}
	e.state.SetMode(mode)
	e.publishSnapshot()
	return *e.snap.Load(), nil
}

// OpenSessions returns the number of sessions currently held in memory.
func (o *Orchestrator) OpenSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// restoreConcurrency bounds parallel session loads during Restore.
const restoreConcurrency = 8

// Restore reloads every open investigation from storage so in-flight
// pipelines survive a process restart at their last settled position.
func (o *Orchestrator) Restore(ctx context.Context) error {
	open, err := o.store.ListOpenInvestigations(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: list open investigations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for _, inv := range open {
		g.Go(func() error {
			if _, err := o.load(gctx, inv.ID); err != nil {
				return fmt.Errorf("pipeline: restore %s: %w", inv.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(open) > 0 {
		o.logger.Info("investigations restored", "count", len(open))
	}
	return nil
}

// entry returns the in-memory session for id, lazily restoring it from
// storage on first access after a restart.
func (o *Orchestrator) entry(ctx context.Context, id uuid.UUID) (*entry, error) {
	o.mu.Lock()
	e, ok := o.entries[id]
	o.mu.Unlock()
	if ok {
		return e, nil
	}
	return o.load(ctx, id)
}

// load restores one session from storage and registers it.
func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*entry, error) {
	inv, err := o.store.GetInvestigation(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pipeline: load investigation: %w", err)
	}
	records, err := o.store.ListStepRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load step records: %w", err)
	}
	st, err := session.Restore(inv, records)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// Another goroutine may have restored the same session concurrently;
	// keep the first registration so there is exactly one State per id.
	if existing, ok := o.entries[id]; ok {
		return existing, nil
	}
	e := &entry{state: st}
	e.publishSnapshot()
	o.entries[id] = e
	return e, nil
}

// publish sends a lifecycle event to the Publisher, if one is configured.
func (o *Orchestrator) publish(event string, payload any) {
	if o.pub != nil {
		o.pub.Publish(event, payload)
	}
}

// investigationRow converts a session to its persisted form.
func investigationRow(st *session.State) model.Investigation {
	return model.Investigation{
		ID:          st.ID,
		EventID:     st.EventID,
		Workflow:    st.Workflow,
		Mode:        st.Mode,
		Cursor:      st.Cursor,
		Status:      st.Status(),
		FinalReport: st.FinalReport,
		RCACount:    st.RCACount,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}
