package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	// Register the decoders the gateway accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/repository"
	"bp-api-service/internal/domain/ports/storage"
	"bp-api-service/internal/infra/media"
	"bp-api-service/internal/infra/metrics"
)

// JobUseCase drives the job lifecycle from the gateway's point of view:
// validate, classify, persist, and answer polls. The dispatcher owns every
// transition after creation.
type JobUseCase interface {
	Submit(ctx context.Context, taskGroup string, payload []byte) (*model.Job, error)
	Status(ctx context.Context, id string) (*model.Job, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
	Result(ctx context.Context, id string) (*model.Job, []byte, string, error)
	ListGroup(ctx context.Context, taskGroup string) ([]*model.Job, error)
}

type jobUC struct {
	jobs       repository.JobRepository
	media      storage.MediaStore
	classifier *Classifier
	log        *zerolog.Logger
}

func NewJobUseCase(jobs repository.JobRepository, store storage.MediaStore, classifier *Classifier, log *zerolog.Logger) JobUseCase {
	l := log.With().Str("component", "JobUC").Logger()
	return &jobUC{jobs: jobs, media: store, classifier: classifier, log: &l}
}

// Media keys are deterministic functions of the job ID so that retried writes
// are idempotent and the dispatcher can re-derive state after a crash.
func inputKey(jobID, format string) string {
	return fmt.Sprintf("background-remover/%s/original.%s", jobID, format)
}

func previewKey(jobID string) string {
	return fmt.Sprintf("background-remover/%s/preview.jpg", jobID)
}

// OutputKey is exported for the dispatcher, which writes the processed image
// before committing the succeeded transition.
func OutputKey(jobID string) string {
	return fmt.Sprintf("background-remover/%s/processed.png", jobID)
}

// Submit validates the payload, stores the original and its preview, and
// creates the job record in queued state. Unreadable payloads are rejected
// before any job row exists, so invalid input never leaves an orphan record.
func (u *jobUC) Submit(ctx context.Context, taskGroup string, payload []byte) (*model.Job, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload: %w", domain.ErrInvalidArgument)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("unreadable image: %w", domain.ErrInvalidArgument)
	}
	meta := model.ImageMeta{
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: int64(len(payload)),
		Format:    format,
	}

	group := taskGroup
	if group == "" {
		group = uuid.NewString()
	} else if _, err := uuid.Parse(group); err != nil {
		return nil, fmt.Errorf("task group must be a UUID: %w", domain.ErrInvalidArgument)
	}

	preview, err := media.Preview(payload)
	if err != nil {
		return nil, fmt.Errorf("preview generation: %w", domain.ErrInvalidArgument)
	}

	jobID := uuid.NewString()
	inKey := inputKey(jobID, format)
	pvKey := previewKey(jobID)

	if _, err := u.media.Put(ctx, inKey, payload, "image/"+format); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}
	metrics.AddMediaBytes("original", len(payload))
	if _, err := u.media.Put(ctx, pvKey, preview, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("store preview: %w", err)
	}
	metrics.AddMediaBytes("preview", len(preview))

	now := time.Now()
	job := &model.Job{
		ID:         jobID,
		TaskGroup:  group,
		Status:     model.JobStatusQueued,
		Tier:       u.classifier.Classify(meta),
		InputKey:   inKey,
		PreviewKey: pvKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := u.jobs.Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	u.log.Info().
		Str("job_id", job.ID).
		Str("task_group", job.TaskGroup).
		Str("tier", string(job.Tier)).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Msg("job submitted")
	return job, nil
}

func (u *jobUC) Status(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("job id must be a UUID: %w", domain.ErrInvalidArgument)
	}
	return u.jobs.Get(ctx, nil, id)
}

// Cancel moves a non-terminal job to cancelled. Cancelling a terminal job
// fails with Conflict and does not alter stored state. The in-flight worker
// call, if any, is abandoned cooperatively by the dispatcher.
func (u *jobUC) Cancel(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("job id must be a UUID: %w", domain.ErrInvalidArgument)
	}
	job, err := u.jobs.Transition(ctx, nil, id,
		[]model.JobStatus{model.JobStatusQueued, model.JobStatusRunning},
		model.JobStatusCancelled, repository.TransitionFields{})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", id).Msg("job cancelled")
	return job, nil
}

// Result returns the job plus the processed bytes once succeeded. For any
// other state the job alone is returned so callers can report progress.
func (u *jobUC) Result(ctx context.Context, id string) (*model.Job, []byte, string, error) {
	job, err := u.Status(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	if job.Status != model.JobStatusSucceeded {
		return job, nil, "", nil
	}
	data, contentType, err := u.media.Get(ctx, job.OutputKey)
	if err != nil {
		return nil, nil, "", fmt.Errorf("fetch output: %w", err)
	}
	return job, data, contentType, nil
}

func (u *jobUC) ListGroup(ctx context.Context, taskGroup string) ([]*model.Job, error) {
	if _, err := uuid.Parse(taskGroup); err != nil {
		return nil, fmt.Errorf("task group must be a UUID: %w", domain.ErrInvalidArgument)
	}
	jobs, err := u.jobs.ListByGroup(ctx, nil, taskGroup)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return jobs, nil
}
