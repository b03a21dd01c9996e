package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// ErrRunNotFound is returned by GetRun for unknown ids
var ErrRunNotFound = errors.New("run not found")

func (d *Database) CreateRun(ctx context.Context, run *models.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusActive
	}

	_, err := d.querier(ctx).ExecContext(ctx,
		`INSERT INTO runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET status = $3, started_at = $4, finished_at = NULL`,
		run.ID,
		run.Source,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (d *Database) FinishRun(ctx context.Context, runID string, status models.RunStatus, frames int64) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE runs SET status = $1, frames = $2, finished_at = $3 WHERE id = $4",
		status,
		frames,
		time.Now(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (d *Database) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := d.querier(ctx).QueryRowContext(ctx, `
		SELECT id, source, status, frames, detections, started_at, finished_at
		FROM runs
		WHERE id = $1
	`, runID)

	var run models.Run
	var finishedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.Source,
		&run.Status,
		&run.Frames,
		&run.Detections,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return &run, nil
}

// SaveDetectionLog replaces the stored log of a run in one transaction
func (d *Database) SaveDetectionLog(ctx context.Context, runID string, detections []models.Detection) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		q := d.querier(ctx)

		if _, err := q.ExecContext(ctx, "DELETE FROM detections WHERE run_id = $1", runID); err != nil {
			return fmt.Errorf("clear detections: %w", err)
		}

		stmt, err := q.PrepareContext(ctx, `INSERT INTO detections
			(run_id, seq, ts, frame_number, class, confidence, x1, y1, x2, y2)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for seq, det := range detections {
			if _, err := stmt.ExecContext(ctx, runID, seq, det.Timestamp, det.FrameNumber, det.Class, det.Confidence,
				det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3]); err != nil {
				return fmt.Errorf("insert detection %d: %w", seq, err)
			}
		}

		if _, err := q.ExecContext(ctx, "UPDATE runs SET detections = $1 WHERE id = $2", len(detections), runID); err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		return nil
	})
}

// ListDetections returns a run's log in frame order
func (d *Database) ListDetections(ctx context.Context, runID string) ([]models.Detection, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ts, frame_number, class, confidence, x1, y1, x2, y2
		FROM detections
		WHERE run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var det models.Detection
		if err := rows.Scan(&det.Timestamp, &det.FrameNumber, &det.Class, &det.Confidence,
			&det.BBox[0], &det.BBox[1], &det.BBox[2], &det.BBox[3]); err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// ListRunIDs returns the ids of runs with the given status
func (d *Database) ListRunIDs(ctx context.Context, status models.RunStatus) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, "SELECT id, source, status, started_at FROM runs WHERE status = $1 ORDER BY started_at", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lo.Map(runs, func(r models.Run, _ int) string {
		return r.ID
	}), nil
}
