package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bp-api-service/internal/config"
	"bp-api-service/internal/domain/ports/repository"
	"bp-api-service/internal/domain/ports/storage"
	"bp-api-service/internal/infra/metrics"
)

// How many jobs one reaper pass will purge at most.
const reapBatchSize = 100

// MediaReaper periodically reclaims stored media for jobs that reached a
// terminal state longer than the retention window ago. The row itself stays
// (marked purged) so clients polling an old job still get its final state.
type MediaReaper struct {
	jobs  repository.JobRepository
	media storage.MediaStore
	cfg   config.ReaperConfig
	log   *zerolog.Logger
}

func NewMediaReaper(jobs repository.JobRepository, media storage.MediaStore, cfg config.ReaperConfig, logger *zerolog.Logger) *MediaReaper {
	l := logger.With().Str("component", "MediaReaper").Logger()
	return &MediaReaper{jobs: jobs, media: media, cfg: cfg, log: &l}
}

func (w *MediaReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.Interval).Dur("retention", w.cfg.Retention).Msg("Starting media reaper")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping media reaper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.ReapOnce(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("media reaper error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("job media purged")
			}
		}
	}
}

// ReapOnce purges one batch and reports how many jobs were fully reclaimed.
// Removal is idempotent, so a crash between Remove and MarkPurged only means
// the same keys are removed again on the next pass.
func (w *MediaReaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-w.cfg.Retention)
	jobs, err := w.jobs.ListPurgeable(ctx, cutoff, reapBatchSize)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, job := range jobs {
		removed, err := w.removeAll(ctx, job.InputKey, job.PreviewKey, job.OutputKey)
		if err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("media removal failed, will retry next pass")
			continue
		}
		if err := w.jobs.MarkPurged(ctx, nil, job.ID); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("mark purged failed")
			continue
		}
		metrics.IncMediaPurged(removed)
		purged++
	}
	return purged, nil
}

func (w *MediaReaper) removeAll(ctx context.Context, keys ...string) (int, error) {
	removed := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := w.media.Remove(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
