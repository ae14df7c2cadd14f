package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"bp-api-service/internal/domain/model"
)

// Notifier publishes committed job transitions to a per-task-group channel
// so replicas that hold the WebSocket connection for a group still see
// transitions committed elsewhere. Publish failures are logged, never
// propagated: push delivery is best effort, the database row is the truth.
type Notifier struct {
	client RedisClient
	log    *zerolog.Logger
}

func NewNotifier(client RedisClient, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "RedisNotifier").Logger()
	return &Notifier{client: client, log: &l}
}

type transitionEvent struct {
	Key         string `json:"key"`
	TaskGroup   string `json:"task_group"`
	Status      string `json:"status"`
	Tier        string `json:"tier"`
	Retries     int    `json:"retries"`
	ErrorDetail string `json:"error_detail,omitempty"`
	OutputKey   string `json:"output_key,omitempty"`
}

func channelFor(taskGroup string) string {
	return fmt.Sprintf("bp:transitions:%s", taskGroup)
}

func (n *Notifier) JobUpdated(ctx context.Context, job *model.Job) {
	payload, err := json.Marshal(transitionEvent{
		Key:         job.ID,
		TaskGroup:   job.TaskGroup,
		Status:      string(job.Status),
		Tier:        string(job.Tier),
		Retries:     job.Retries,
		ErrorDetail: job.ErrorDetail,
		OutputKey:   job.OutputKey,
	})
	if err != nil {
		n.log.Error().Err(err).Str("job_id", job.ID).Msg("marshal transition")
		return
	}
	if err := n.client.Publish(ctx, channelFor(job.TaskGroup), payload); err != nil {
		n.log.Warn().Err(err).Str("job_id", job.ID).Msg("publish transition")
	}
}
