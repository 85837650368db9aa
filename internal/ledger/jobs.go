package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"autorip/internal/imaging"
)

// JobStatus is the lifecycle state of an imaging job.
type JobStatus string

const (
	JobImaging   JobStatus = "imaging"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobRecord is one row of imaging history.
type JobRecord struct {
	ID         string
	RunID      string
	Drive      int
	Device     string
	Label      string
	BlockSize  int
	ISOPath    string
	MapPath    string
	SourceBin  int
	OutputBin  int
	Status     JobStatus
	Phase      int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartJob records a job entering the ddrescue phases.
func (s *Store) StartJob(ctx context.Context, job *imaging.Job, sourceBin int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imaging_jobs (
            id, run_id, drive, device, label, block_size, iso_path, map_path,
            source_bin, status, phase, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		s.runID,
		job.Drive,
		job.Device,
		job.Label,
		job.BlockSize,
		job.ISOPath,
		job.MapPath,
		nullableInt(sourceBin),
		JobImaging,
		job.Phase,
		job.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert imaging job: %w", err)
	}
	return nil
}

// FinishJob records the outcome of a job.
func (s *Store) FinishJob(ctx context.Context, job *imaging.Job, status JobStatus, jobErr error) error {
	var message string
	if jobErr != nil {
		message = jobErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE imaging_jobs SET status = ?, phase = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status,
		job.Phase,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update imaging job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update imaging job %s: %w", job.ID, sql.ErrNoRows)
	}
	return nil
}

// SetOutputBin records where the imaged disc was placed.
func (s *Store) SetOutputBin(ctx context.Context, jobID string, bin int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE imaging_jobs SET output_bin = ? WHERE id = ?`, nullableInt(bin), jobID); err != nil {
		return fmt.Errorf("update output bin: %w", err)
	}
	return nil
}

// RecentJobs returns up to limit jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, drive, device, label, block_size, iso_path, map_path,
            source_bin, output_bin, status, phase, error_message, started_at, finished_at
        FROM imaging_jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query imaging jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var (
			rec        JobRecord
			sourceBin  sql.NullInt64
			outputBin  sql.NullInt64
			errMessage sql.NullString
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Drive, &rec.Device, &rec.Label, &rec.BlockSize,
			&rec.ISOPath, &rec.MapPath, &sourceBin, &outputBin, &rec.Status, &rec.Phase,
			&errMessage, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan imaging job: %w", err)
		}
		rec.SourceBin = int(sourceBin.Int64)
		rec.OutputBin = int(outputBin.Int64)
		rec.Error = errMessage.String
		rec.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			rec.FinishedAt = parseTime(finishedAt.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
