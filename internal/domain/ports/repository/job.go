package repository

import (
	"context"
	"time"

	"bp-api-service/internal/domain/model"
)

// TransitionFields are the columns a state transition may set alongside the
// status itself. Nil fields are left untouched.
type TransitionFields struct {
	OutputKey   *string
	ErrorDetail *string
	Retries     *int
}

type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error

	Get(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// Transition moves the job to `to` iff its current status is one of `from`.
	// Returns domain.ErrConflict when the current status is outside the from-set
	// and domain.ErrNotFound for an unknown id. This compare-and-swap is the
	// linchpin that linearizes all per-job state changes.
	Transition(ctx context.Context, tx Tx, id string, from []model.JobStatus, to model.JobStatus, fields TransitionFields) (*model.Job, error)

	// ClaimQueued atomically fetches the oldest queued job and marks it running.
	// Concurrent dispatcher instances never claim the same job.
	ClaimQueued(ctx context.Context) (*model.Job, error)

	// RequeueStale returns running jobs abandoned by a crashed dispatcher
	// (no update for longer than `olderThan`) to the queue.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)

	ListByGroup(ctx context.Context, tx Tx, taskGroup string) ([]*model.Job, error)

	// ListPurgeable returns terminal jobs finished before `cutoff` whose media
	// has not been reclaimed yet.
	ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error)

	MarkPurged(ctx context.Context, tx Tx, id string) error
}
