package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobStatus is the report job state machine:
// queued -> running -> ready | failed.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobReady   JobStatus = "ready"
	JobFailed  JobStatus = "failed"
)

// ReportJob is one row of the report generation queue, unique per purchase.
type ReportJob struct {
	ID          string
	PurchaseID  string
	TenantID    string
	TestID      string
	SessionID   string
	Locale      string
	Status      JobStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// EnqueueJobInput carries the identifying fields for a new job.
type EnqueueJobInput struct {
	PurchaseID string
	TenantID   string
	TestID     string
	SessionID  string
	Locale     string
}

func (in *EnqueueJobInput) normalize() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"purchase_id", &in.PurchaseID},
		{"tenant_id", &in.TenantID},
		{"test_id", &in.TestID},
		{"session_id", &in.SessionID},
		{"locale", &in.Locale},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return fmt.Errorf("report job input: %s is required", f.name)
		}
	}
	return nil
}

const jobColumns = `id, purchase_id, tenant_id, test_id, session_id, locale,
		status, attempts, last_error, created_at, updated_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*ReportJob, error) {
	var job ReportJob
	var status string
	var createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(
		&job.ID, &job.PurchaseID, &job.TenantID, &job.TestID, &job.SessionID, &job.Locale,
		&status, &job.Attempts, &job.LastError, &createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

// EnqueueJob inserts a queued job for the purchase if none exists and returns
// the row either way. created reports whether this call inserted it; redundant
// calls from racing requests all converge on the same row.
func (s *Store) EnqueueJob(input EnqueueJobInput) (*ReportJob, bool, error) {
	if err := input.normalize(); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	res, err := s.db.Exec(`
		INSERT INTO report_jobs (id, purchase_id, tenant_id, test_id, session_id, locale, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(purchase_id) DO NOTHING`,
		id, input.PurchaseID, input.TenantID, input.TestID, input.SessionID, input.Locale,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue report job: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("enqueue report job: %w", err)
	}

	job, err := s.JobByPurchase(input.PurchaseID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, errors.New("enqueue report job: row missing after insert")
	}
	return job, inserted > 0, nil
}

// JobByPurchase returns the job for purchaseID, or nil if none exists.
func (s *Store) JobByPurchase(purchaseID string) (*ReportJob, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return nil, nil
	}

	row := s.db.QueryRow(
		`SELECT `+jobColumns+` FROM report_jobs WHERE purchase_id = ? LIMIT 1`, purchaseID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return job, nil
}

// ClaimQueuedJobs atomically flips up to limit queued jobs to running, oldest
// first, and returns them. The conditional update makes each row claimable by
// exactly one caller; a second claimant sees the status already changed.
func (s *Store) ClaimQueuedJobs(limit int) ([]*ReportJob, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}

	now := time.Now().UTC().Unix()
	rows, err := s.db.Query(`
		UPDATE report_jobs
		SET status = 'running',
		    started_at = COALESCE(started_at, ?),
		    updated_at = ?
		WHERE status = 'queued' AND id IN (
			SELECT id FROM report_jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)
		RETURNING `+jobColumns,
		now, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim report jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ReportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("claim report jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim report jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobReady transitions the purchase's job to ready and stamps completion.
func (s *Store) MarkJobReady(purchaseID string) (*ReportJob, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return nil, nil
	}

	now := time.Now().UTC().Unix()
	row := s.db.QueryRow(`
		UPDATE report_jobs
		SET status = 'ready',
		    last_error = '',
		    updated_at = ?,
		    completed_at = ?
		WHERE purchase_id = ?
		RETURNING `+jobColumns,
		now, now, purchaseID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark report job ready: %w", err)
	}
	return job, nil
}

// MarkJobFailed transitions the purchase's job to failed, records the error,
// and bumps the attempt counter for an external retry policy to consume.
func (s *Store) MarkJobFailed(purchaseID, jobErr string) (*ReportJob, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	jobErr = strings.TrimSpace(jobErr)
	if purchaseID == "" || jobErr == "" {
		return nil, nil
	}

	now := time.Now().UTC().Unix()
	row := s.db.QueryRow(`
		UPDATE report_jobs
		SET status = 'failed',
		    attempts = attempts + 1,
		    last_error = ?,
		    updated_at = ?,
		    completed_at = NULL
		WHERE purchase_id = ?
		RETURNING `+jobColumns,
		jobErr, now, purchaseID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark report job failed: %w", err)
	}
	return job, nil
}
