package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `id, type, conversation_id, payload_json, result_json, status, attempts, run_after, created_at, updated_at, last_error`

// EnqueueJob inserts a pending job. When the job belongs to a conversation
// that already has a pending or running job, nothing is inserted and
// ErrActiveJob is returned.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	res, err := s.db.Exec(`
		INSERT INTO jobs (id, type, conversation_id, payload_json, status, attempts, run_after, created_at, updated_at)
		SELECT ?, ?, ?, ?, 'pending', 0, ?, ?, ?
		WHERE ? = '' OR NOT EXISTS (
			SELECT 1 FROM jobs WHERE conversation_id = ? AND status IN ('pending', 'running')
		)`,
		job.ID, job.Type, job.ConversationID, job.PayloadJSON, runAfter, now, now,
		job.ConversationID, job.ConversationID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrActiveJob
	}
	return nil
}

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := row.Scan(
		&j.ID, &j.Type, &j.ConversationID, &j.PayloadJSON, &j.ResultJSON, &j.Status,
		&j.Attempts, &runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after: %w", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ActiveJob returns the pending or running job of a conversation.
func (s *Store) ActiveJob(conversationID string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE conversation_id = ? AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1`, conversationID))
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ClaimNextJob marks the oldest runnable job of the given types as running
// and returns it. It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	j, err := scanJob(tx.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobRunning
	return &j, nil
}

// CompleteJob records the result of a running job. A job is finished at
// most once: completing a job that is not running returns ErrNotFound.
func (s *Store) CompleteJob(id, resultJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', result_json = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`, resultJSON, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a running job failed. Turns are not retried: a turn that
// got as far as searching must not search again on its own.
func (s *Store) FailJob(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AbandonJob marks an unfinished job as failed without counting an attempt.
// It reports whether the job was still unfinished.
func (s *Store) AbandonJob(id, reason string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, reason, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelPendingJobs fails the conversation's jobs that no worker has
// claimed yet and returns how many there were.
func (s *Store) CancelPendingJobs(conversationID, reason string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', last_error = ?, updated_at = ?
		WHERE conversation_id = ? AND status = 'pending'`, reason, now, conversationID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FailInterruptedJobs marks jobs left running by a previous process as
// failed. It is called once at startup, before workers start.
func (s *Store) FailInterruptedJobs() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', last_error = 'interrupted by restart', updated_at = ?
		WHERE status = 'running'`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
