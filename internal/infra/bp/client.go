package bp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/adapter"
)

// Compile-time assurance this client satisfies the port
var _ adapter.BackgroundRemover = (*Client)(nil)

// Client talks to the external background-processing worker over HTTP.
// The worker exposes one path per tier:
//
//	POST {base}/v1/remove/light
//	POST {base}/v1/remove/hard
//
// Request body is the raw image; the response body is the processed image.
// Timeouts and cancellation come from the caller's context.
type Client struct {
	base string
	http *http.Client
	log  *zerolog.Logger
}

func NewClient(baseURL string, logger *zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("worker base url empty")
	}
	l := logger.With().Str("component", "BPClient").Logger()
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		// Per-call deadlines are context-driven; no client-wide timeout so a
		// generous dispatcher limit is not capped here.
		http: &http.Client{},
		log:  &l,
	}, nil
}

func (c *Client) Remove(ctx context.Context, tier model.Tier, input adapter.ImageInput) (*adapter.Removal, error) {
	url := fmt.Sprintf("%s/v1/remove/%s", c.base, tier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(input.Bytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerTerminal, err)
	}
	req.Header.Set("Content-Type", input.ContentType)
	req.Header.Set("X-Task-Id", input.JobID)

	resp, err := c.http.Do(req)
	if err != nil {
		// Connectivity failures and deadline hits are worth another attempt.
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: worker http %d", domain.ErrWorkerRetryable, resp.StatusCode)
	default:
		// 4xx: the worker rejected this input; retrying cannot help.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: worker http %d: %s", domain.ErrWorkerTerminal, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrWorkerRetryable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: worker returned empty body", domain.ErrWorkerRetryable)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/png"
	}
	c.log.Debug().Str("job_id", input.JobID).Str("tier", string(tier)).Int("bytes", len(data)).Msg("worker returned result")
	return &adapter.Removal{Bytes: data, ContentType: ct}, nil
}
