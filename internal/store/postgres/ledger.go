package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/store"
)

const jobColumns = `id, workflow, title, status, started_at, ended_at, parent_job_id, run_id, event_id, notify_message_id`

// StartJob upserts the ledger row to RUNNING. The duplicate check and the
// transition are one statement: the conditional upsert only returns a row
// for the winner, so a race between two starts has exactly one.
func (s *Store) StartJob(ctx context.Context, job *store.Job) error {
	query := `
		INSERT INTO job_state (id, workflow, title, status, started_at, ended_at, parent_job_id, run_id, event_id, notify_message_id)
		VALUES ($1, $2, $3, 'RUNNING', $4, NULL, $5, $6, $7, NULL)
		ON CONFLICT (id) DO UPDATE SET
			workflow          = EXCLUDED.workflow,
			title             = EXCLUDED.title,
			status            = 'RUNNING',
			started_at        = EXCLUDED.started_at,
			ended_at          = NULL,
			parent_job_id     = EXCLUDED.parent_job_id,
			run_id            = EXCLUDED.run_id,
			event_id          = EXCLUDED.event_id,
			notify_message_id = NULL
		WHERE job_state.status <> 'RUNNING'
		RETURNING id
	`

	var id string
	err := s.db.QueryRowContext(ctx, query,
		job.ID,
		job.Workflow,
		job.Title,
		job.StartedAt,
		job.ParentJobID,
		job.RunID,
		job.EventID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrJobRunning
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	return nil
}

// FinishJob transitions a RUNNING job to status and returns the updated row.
// Settlement is first-writer-wins: a row that already settled is returned
// unchanged, so callers can tell from the returned status whether their
// write landed.
func (s *Store) FinishJob(ctx context.Context, id string, status store.JobStatus, endedAt time.Time) (*store.Job, error) {
	query := fmt.Sprintf(`
		UPDATE job_state SET status = $2, ended_at = $3
		WHERE id = $1 AND status = 'RUNNING'
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id, string(status), endedAt))
	if errors.Is(err, sql.ErrNoRows) {
		// Already settled, or unknown.
		return s.GetJob(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("finish job %s: %w", id, err)
	}
	return job, nil
}

// GetJob returns a job by id, or nil if absent.
func (s *Store) GetJob(ctx context.Context, id string) (*store.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM job_state WHERE id = $1`, jobColumns)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// RecentJobs returns the most recently started jobs.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM job_state ORDER BY started_at DESC LIMIT $1`, jobColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// RunningChildren returns all RUNNING jobs whose parent is id.
func (s *Store) RunningChildren(ctx context.Context, id string) ([]store.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM job_state
		WHERE parent_job_id = $1 AND status = 'RUNNING'
	`, jobColumns)

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("running children of %s: %w", id, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SetJobNotifyMessageID records the notification message handle.
func (s *Store) SetJobNotifyMessageID(ctx context.Context, id, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_state SET notify_message_id = $2 WHERE id = $1`, id, messageID)
	return err
}

// GetStepResult returns the memoized result of a step within a run.
func (s *Store) GetStepResult(ctx context.Context, jobID, runID, step string) (json.RawMessage, bool, error) {
	var result json.RawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM job_step WHERE job_id = $1 AND run_id = $2 AND step = $3`,
		jobID, runID, step,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get step %s/%s: %w", jobID, step, err)
	}
	return result, true, nil
}

// PutStepResult persists a step result before it is acted upon.
func (s *Store) PutStepResult(ctx context.Context, jobID, runID, step string, result json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_step (job_id, run_id, step, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, run_id, step) DO UPDATE SET result = EXCLUDED.result
	`, jobID, runID, step, result)
	if err != nil {
		return fmt.Errorf("put step %s/%s: %w", jobID, step, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var job store.Job
	var status string
	err := row.Scan(
		&job.ID,
		&job.Workflow,
		&job.Title,
		&status,
		&job.StartedAt,
		&job.EndedAt,
		&job.ParentJobID,
		&job.RunID,
		&job.EventID,
		&job.NotifyMessageID,
	)
	if err != nil {
		return nil, err
	}
	job.Status = store.JobStatus(status)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]store.Job, error) {
	var out []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}
