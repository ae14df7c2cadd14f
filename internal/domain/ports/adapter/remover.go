package adapter

import (
	"context"

	"bp-api-service/internal/domain/model"
)

// ImageInput is the payload handed to the external background-removal worker.
type ImageInput struct {
	JobID       string
	Bytes       []byte
	ContentType string
}

// Removal is what the worker produced for a job.
type Removal struct {
	Bytes       []byte
	ContentType string
}

// BackgroundRemover is the port for the external processing worker. Errors
// wrap domain.ErrWorkerRetryable (connectivity, timeout, overload) or
// domain.ErrWorkerTerminal (malformed/unsupported input) so the dispatcher
// can decide between requeue and terminal failure.
type BackgroundRemover interface {
	Remove(ctx context.Context, tier model.Tier, input ImageInput) (*Removal, error)
}
