package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bp-api-service/internal/config"
	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/adapter"
	"bp-api-service/internal/domain/ports/repository"
	"bp-api-service/internal/domain/ports/storage"
	"bp-api-service/internal/infra/metrics"
	"bp-api-service/internal/usecase"
)

// Notifier receives job state transitions after the dispatcher commits them.
// Implementations must be fast or buffer internally.
type Notifier interface {
	JobUpdated(ctx context.Context, job *model.Job)
}

// NopNotifier is used when no push channel is configured.
type NopNotifier struct{}

func (NopNotifier) JobUpdated(context.Context, *model.Job) {}

// MultiNotifier fans a transition out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) JobUpdated(ctx context.Context, job *model.Job) {
	for _, n := range m {
		n.JobUpdated(ctx, job)
	}
}

// Dispatcher is the only writer of job state after creation. It claims queued
// jobs, invokes the tier-appropriate worker call, and commits terminal results
// through the repository's compare-and-swap transition.
type Dispatcher struct {
	jobs    repository.JobRepository
	media   storage.MediaStore
	remover adapter.BackgroundRemover
	notify  Notifier
	cfg     config.DispatcherConfig
	log     *zerolog.Logger
}

func NewDispatcher(
	jobs repository.JobRepository,
	media storage.MediaStore,
	remover adapter.BackgroundRemover,
	notify Notifier,
	cfg config.DispatcherConfig,
	logger *zerolog.Logger,
) *Dispatcher {
	if notify == nil {
		notify = NopNotifier{}
	}
	l := logger.With().Str("component", "Dispatcher").Logger()
	return &Dispatcher{jobs: jobs, media: media, remover: remover, notify: notify, cfg: cfg, log: &l}
}

// Start recovers orphaned jobs, then runs the claim loop until ctx is done.
// This should be run in a goroutine.
func (d *Dispatcher) Start(ctx context.Context, pool *Pool) {
	d.log.Info().Int("workers", d.cfg.Workers).Msg("dispatcher started")

	d.recover(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	staleTicker := time.NewTicker(d.cfg.StaleAfter / 2)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopping")
			return
		case <-staleTicker.C:
			d.recover(ctx)
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				d.processOne(ctx)
				return nil
			})
		}
	}
}

// recover requeues running jobs older than the stale threshold. The threshold
// exceeds the worker timeout, so jobs still in flight here are never touched.
func (d *Dispatcher) recover(ctx context.Context) {
	n, err := d.jobs.RequeueStale(ctx, d.cfg.StaleAfter)
	if err != nil {
		d.log.Error().Err(err).Msg("stale job recovery failed")
		return
	}
	if n > 0 {
		metrics.IncRequeued("stale", n)
		d.log.Warn().Int("count", n).Msg("requeued stale running jobs")
	}
}

func (d *Dispatcher) processOne(ctx context.Context) {
	job, err := d.jobs.ClaimQueued(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			d.log.Error().Err(err).Msg("claim failed")
		}
		return
	}

	d.log.Info().Str("job_id", job.ID).Str("tier", string(job.Tier)).Int("retries", job.Retries).Msg("processing job")
	d.notify.JobUpdated(ctx, job)
	start := time.Now()

	final := d.execute(ctx, job)
	if final != nil {
		metrics.IncJob(string(final.Status), string(final.Tier))
		metrics.ObserveJobDuration(string(final.Tier), time.Since(start))
		d.notify.JobUpdated(ctx, final)
		d.log.Info().
			Str("job_id", final.ID).
			Str("status", string(final.Status)).
			Dur("duration", time.Since(start)).
			Msg("job finished")
	}
}

// execute runs one claimed job to its next state and returns the stored job,
// or nil when the result was discarded because of a concurrent cancellation.
func (d *Dispatcher) execute(ctx context.Context, job *model.Job) *model.Job {
	input, _, err := d.media.Get(ctx, job.InputKey)
	if err != nil {
		// Input media is written before the job row exists, so a miss here is
		// permanent corruption, not a transient fault.
		return d.fail(ctx, job, "input media unavailable: "+err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.WorkerTimeout)
	defer cancel()

	removal, err := d.remover.Remove(callCtx, job.Tier, adapter.ImageInput{
		JobID:       job.ID,
		Bytes:       input,
		ContentType: contentTypeForKey(job.InputKey),
	})
	if err != nil {
		if errors.Is(err, domain.ErrWorkerRetryable) && job.Retries < d.cfg.MaxRetries {
			return d.requeue(ctx, job, err)
		}
		return d.fail(ctx, job, err.Error())
	}

	// Cooperative cancellation: the worker call is not interrupted, but its
	// result must never be committed once cancellation is recorded.
	current, err := d.jobs.Get(ctx, nil, job.ID)
	if err == nil && current.Status == model.JobStatusCancelled {
		d.log.Info().Str("job_id", job.ID).Msg("discarding result of cancelled job")
		return nil
	}

	outputKey := usecase.OutputKey(job.ID)
	if err := d.storeOutput(ctx, outputKey, removal); err != nil {
		// The worker already did the work; storage hiccups should requeue so
		// the idempotent output write can be retried, not discard the job.
		if job.Retries < d.cfg.MaxRetries {
			return d.requeue(ctx, job, err)
		}
		return d.fail(ctx, job, err.Error())
	}

	updated, err := d.jobs.Transition(ctx, nil, job.ID,
		[]model.JobStatus{model.JobStatusRunning}, model.JobStatusSucceeded,
		repository.TransitionFields{OutputKey: &outputKey})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Cancelled between the check and the commit. The CAS kept the
			// cancelled state authoritative; the orphan output is reaped later.
			d.log.Info().Str("job_id", job.ID).Msg("succeeded transition lost to cancellation")
			return nil
		}
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to commit success")
		return nil
	}
	return updated
}

// storeOutput writes the processed image. The key is a deterministic function
// of the job ID, so a retried write after a partial failure is safe: an
// AlreadyExists answer means a previous attempt already persisted these bytes.
func (d *Dispatcher) storeOutput(ctx context.Context, key string, removal *adapter.Removal) error {
	_, err := d.media.Put(ctx, key, removal.Bytes, removal.ContentType)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	metrics.AddMediaBytes("output", len(removal.Bytes))
	return nil
}

// requeue applies bounded exponential backoff, then returns the job to the
// queue with an incremented retry count. A cancellation recorded in between
// wins the CAS and the retry is abandoned.
func (d *Dispatcher) requeue(ctx context.Context, job *model.Job, cause error) *model.Job {
	backoff := d.cfg.BackoffBase << uint(job.Retries)
	if backoff > d.cfg.BackoffCap {
		backoff = d.cfg.BackoffCap
	}
	d.log.Warn().Err(cause).Str("job_id", job.ID).Dur("backoff", backoff).Msg("retrying job")

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(backoff):
	}

	// Error detail stays empty on a requeued job; only a terminal failure
	// records its cause.
	retries := job.Retries + 1
	updated, err := d.jobs.Transition(ctx, nil, job.ID,
		[]model.JobStatus{model.JobStatusRunning}, model.JobStatusQueued,
		repository.TransitionFields{Retries: &retries})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			d.log.Error().Err(err).Str("job_id", job.ID).Msg("requeue failed")
		}
		return nil
	}
	return updated
}

func (d *Dispatcher) fail(ctx context.Context, job *model.Job, detail string) *model.Job {
	updated, err := d.jobs.Transition(ctx, nil, job.ID,
		[]model.JobStatus{model.JobStatusRunning}, model.JobStatusFailed,
		repository.TransitionFields{ErrorDetail: &detail})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			d.log.Error().Err(err).Str("job_id", job.ID).Msg("failed transition rejected")
		}
		return nil
	}
	d.log.Error().Str("job_id", job.ID).Str("detail", detail).Msg("job failed")
	return updated
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
