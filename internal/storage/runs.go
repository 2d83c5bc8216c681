package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/telemetrics/telemetrics/internal/model"
)

// CreateRun inserts a new pipeline run in the running state and returns it.
func (db *DB) CreateRun(ctx context.Context, years []int, grandPrix, session string) (model.PipelineRun, error) {
	run := model.PipelineRun{
		ID:        uuid.New(),
		Years:     years,
		GrandPrix: grandPrix,
		Session:   session,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if run.Years == nil {
		run.Years = []int{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, years, grand_prix, session, status, stats, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Years, run.GrandPrix, run.Session, string(run.Status), run.Stats, run.StartedAt,
	)
	if err != nil {
		return model.PipelineRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.PipelineRun, error) {
	var run model.PipelineRun
	err := db.pool.QueryRow(ctx,
		`SELECT id, years, grand_prix, session, status, stats, started_at, completed_at
		 FROM pipeline_runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Years, &run.GrandPrix, &run.Session,
		&run.Status, &run.Stats, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PipelineRun{}, ErrNotFound
		}
		return model.PipelineRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// CompleteRun records the final status and counters of a running run.
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, stats model.RunStats) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, stats = $2, completed_at = $3
		 WHERE id = $4 AND status = 'running'`,
		string(status), stats, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run not found or already completed: %s", id)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, years, grand_prix, session, status, stats, started_at, completed_at
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		if err := rows.Scan(
			&r.ID, &r.Years, &r.GrandPrix, &r.Session,
			&r.Status, &r.Stats, &r.StartedAt, &r.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
