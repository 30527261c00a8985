package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wellsight-ai/wellsight/internal/model"
)

// CreateInvestigation inserts a new investigation session.
func (db *DB) CreateInvestigation(ctx context.Context, inv model.Investigation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO investigations (id, event_id, workflow, mode, current_step, status, final_report, rca_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.EventID, []string(inv.Workflow), string(inv.Mode), inv.Cursor,
		string(inv.Status), inv.FinalReport, inv.RCACount, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create investigation: %w", err)
	}
	return nil
}

// GetInvestigation retrieves an investigation by ID.
func (db *DB) GetInvestigation(ctx context.Context, id uuid.UUID) (model.Investigation, error) {
	var inv model.Investigation
	var workflow []string
	err := db.pool.QueryRow(ctx,
		`SELECT id, event_id, workflow, mode, current_step, status, final_report, rca_count, created_at, updated_at
		 FROM investigations WHERE id = $1`, id,
	).Scan(
		&inv.ID, &inv.EventID, &workflow, &inv.Mode, &inv.Cursor,
		&inv.Status, &inv.FinalReport, &inv.RCACount, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Investigation{}, ErrNotFound
		}
		return model.Investigation{}, fmt.Errorf("storage: get investigation: %w", err)
	}
	inv.Workflow = model.Workflow(workflow)
	return inv, nil
}

// ListOpenInvestigations returns all investigations without a final report,
// oldest first. Used to restore in-memory sessions after a restart.
func (db *DB) ListOpenInvestigations(ctx context.Context) ([]model.Investigation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, event_id, workflow, mode, current_step, status, final_report, rca_count, created_at, updated_at
		 FROM investigations WHERE status = 'active'
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list open investigations: %w", err)
	}
	defer rows.Close()

	var out []model.Investigation
	for rows.Next() {
		var inv model.Investigation
		var workflow []string
		if err := rows.Scan(
			&inv.ID, &inv.EventID, &workflow, &inv.Mode, &inv.Cursor,
			&inv.Status, &inv.FinalReport, &inv.RCACount, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan investigation: %w", err)
		}
		inv.Workflow = model.Workflow(workflow)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// AppendStepRecord commits one completed step: the record insert and the
// cursor advance happen in a single transaction, with the cursor update
// conditioned on the record's position. If the session row has moved (a
// concurrent commit, or a stale caller) the transaction aborts and nothing
// is written, mirroring the records/cursor invariant at the storage level.
func (db *DB) AppendStepRecord(ctx context.Context, rec model.StepRecord) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin append step: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx,
			`UPDATE investigations SET current_step = current_step + 1, updated_at = $1
			 WHERE id = $2 AND current_step = $3 AND status = 'active'`,
			time.Now().UTC(), rec.InvestigationID, rec.Position,
		)
		if err != nil {
			return fmt.Errorf("storage: advance cursor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: investigation %s not at position %d (or not active)",
				rec.InvestigationID, rec.Position)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO step_records (id, investigation_id, position, agent_id, role, confidence, analysis, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.InvestigationID, rec.Position, rec.AgentID,
			rec.Role, rec.Confidence, rec.Analysis, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert step record: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit append step: %w", err)
		}
		return nil
	})
}

// ListStepRecords returns an investigation's committed records ordered by
// position, which is the order the synthesis step consumes them in.
func (db *DB) ListStepRecords(ctx context.Context, investigationID uuid.UUID) ([]model.StepRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, investigation_id, position, agent_id, role, confidence, analysis, created_at
		 FROM step_records WHERE investigation_id = $1
		 ORDER BY position ASC`, investigationID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list step records: %w", err)
	}
	defer rows.Close()

	var out []model.StepRecord
	for rows.Next() {
		var rec model.StepRecord
		if err := rows.Scan(
			&rec.ID, &rec.InvestigationID, &rec.Position, &rec.AgentID,
			&rec.Role, &rec.Confidence, &rec.Analysis, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan step record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetMode updates the execution strategy for an investigation.
func (db *DB) SetMode(ctx context.Context, id uuid.UUID, mode model.Mode) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE investigations SET mode = $1, updated_at = $2 WHERE id = $3`,
		string(mode), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFinalReport stores the terminal synthesis artifact and marks the
// investigation done. The report is write-once: a second call finds the
// status already 'done' and fails.
func (db *DB) SetFinalReport(ctx context.Context, id uuid.UUID, report string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE investigations SET final_report = $1, status = 'done', updated_at = $2
		 WHERE id = $3 AND status = 'active'`,
		report, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set final report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: investigation %s not found or already complete", id)
	}
	return nil
}

// SaveRCAReport stores a generated RCA report and bumps the
// investigation's RCA counter in one transaction.
func (db *DB) SaveRCAReport(ctx context.Context, rep model.RCAReport) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin save rca: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO rca_reports (id, investigation_id, event_id, report, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rep.ID, rep.InvestigationID, rep.EventID, rep.Report, rep.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert rca report: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE investigations SET rca_count = rca_count + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), rep.InvestigationID,
	); err != nil {
		return fmt.Errorf("storage: bump rca count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit save rca: %w", err)
	}
	return nil
}

// GetRCAReport returns the RCA report for an investigation, if any.
func (db *DB) GetRCAReport(ctx context.Context, investigationID uuid.UUID) (model.RCAReport, error) {
	var rep model.RCAReport
	err := db.pool.QueryRow(ctx,
		`SELECT id, investigation_id, event_id, report, created_at
		 FROM rca_reports WHERE investigation_id = $1
		 ORDER BY created_at DESC LIMIT 1`, investigationID,
	).Scan(&rep.ID, &rep.InvestigationID, &rep.EventID, &rep.Report, &rep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RCAReport{}, ErrNotFound
		}
		return model.RCAReport{}, fmt.Errorf("storage: get rca report: %w", err)
	}
	return rep, nil
}
