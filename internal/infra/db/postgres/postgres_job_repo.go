package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS background_remover_jobs (
    id           UUID PRIMARY KEY,
    task_group   UUID NOT NULL,
    status       VARCHAR(32) NOT NULL,
    tier         VARCHAR(16) NOT NULL,
    input_key    TEXT NOT NULL,
    preview_key  TEXT NOT NULL,
    output_key   TEXT,
    error_detail TEXT,
    retries      INT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    purged_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_bg_jobs_status ON background_remover_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_bg_jobs_group ON background_remover_jobs (task_group);`

// EnsureSchema creates the job table when missing. Real migrations are out of
// scope; this mirrors what the service needs to boot on a fresh database.
func (r *jobRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, createTableSQL)
	return err
}

const jobColumns = `id, task_group, status, tier, input_key, preview_key,
       COALESCE(output_key, ''), COALESCE(error_detail, ''), retries, created_at, updated_at, purged_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status, tier string
	err := row.Scan(&j.ID, &j.TaskGroup, &status, &tier, &j.InputKey, &j.PreviewKey,
		&j.OutputKey, &j.ErrorDetail, &j.Retries, &j.CreatedAt, &j.UpdatedAt, &j.PurgedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.JobStatus(status)
	j.Tier = model.Tier(tier)
	return &j, nil
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	ex, err := pick(r.pool, tx)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO background_remover_jobs
    (id, task_group, status, tier, input_key, preview_key, retries, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err = ex.Exec(ctx, q, job.ID, job.TaskGroup, job.Status, job.Tier,
		job.InputKey, job.PreviewKey, job.Retries, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	ex, err := pick(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + ` FROM background_remover_jobs WHERE id = $1;`
	return scanJob(ex.QueryRow(ctx, q, id))
}

// Transition is the compare-and-swap primitive: the UPDATE only fires when the
// current status is in the from-set, so concurrent callers on the same job ID
// are linearized by the database. No two dispatchers can both move a job out
// of queued, and terminal states are never overwritten.
func (r *jobRepo) Transition(ctx context.Context, tx repository.Tx, id string, from []model.JobStatus, to model.JobStatus, fields repository.TransitionFields) (*model.Job, error) {
	ex, err := pick(r.pool, tx)
	if err != nil {
		return nil, err
	}

	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	q := `
UPDATE background_remover_jobs SET
    status       = $2,
    output_key   = COALESCE($3, output_key),
    error_detail = COALESCE($4, error_detail),
    retries      = COALESCE($5, retries),
    updated_at   = CURRENT_TIMESTAMP
WHERE id = $1 AND status = ANY($6)
RETURNING ` + jobColumns + `;`

	job, err := scanJob(ex.QueryRow(ctx, q, id, to, fields.OutputKey, fields.ErrorDetail, fields.Retries, fromStr))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// No row updated: distinguish unknown job from an illegal transition.
	if _, getErr := r.Get(ctx, tx, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrConflict
}

// ClaimQueued atomically picks the oldest queued job and marks it running.
// FOR UPDATE SKIP LOCKED keeps concurrent dispatcher instances from ever
// observing the same queued row.
func (r *jobRepo) ClaimQueued(ctx context.Context) (*model.Job, error) {
	var claimed *model.Job

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := pick(r.pool, tx)
		if err != nil {
			return err
		}

		q := `
SELECT ` + jobColumns + `
FROM background_remover_jobs
WHERE status = 'queued'
ORDER BY created_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		job, err := scanJob(ex.QueryRow(ctx, q))
		if err != nil {
			return err
		}

		job, err = r.Transition(ctx, tx, job.ID,
			[]model.JobStatus{model.JobStatusQueued}, model.JobStatusRunning,
			repository.TransitionFields{})
		if err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RequeueStale recovers running jobs orphaned by a crashed dispatcher.
func (r *jobRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	const q = `
UPDATE background_remover_jobs
SET status = 'queued', updated_at = CURRENT_TIMESTAMP
WHERE status = 'running' AND updated_at < CURRENT_TIMESTAMP - $1::interval;`

	tag, err := r.pool.Exec(ctx, q, fmt.Sprintf("%f seconds", olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobRepo) ListByGroup(ctx context.Context, tx repository.Tx, taskGroup string) ([]*model.Job, error) {
	ex, err := pick(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + ` FROM background_remover_jobs
WHERE task_group = $1 ORDER BY created_at DESC;`

	rows, err := ex.Query(ctx, q, taskGroup)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM background_remover_jobs
WHERE status IN ('succeeded', 'failed', 'cancelled')
  AND purged_at IS NULL
  AND updated_at < $1
ORDER BY updated_at
LIMIT $2;`

	rows, err := r.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) MarkPurged(ctx context.Context, tx repository.Tx, id string) error {
	ex, err := pick(r.pool, tx)
	if err != nil {
		return err
	}
	const q = `UPDATE background_remover_jobs SET purged_at = CURRENT_TIMESTAMP WHERE id = $1;`
	_, err = ex.Exec(ctx, q, id)
	return err
}
