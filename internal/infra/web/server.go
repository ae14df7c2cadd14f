package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bp-api-service/internal/config"
	"bp-api-service/internal/domain/ports/storage"
	"bp-api-service/internal/usecase"
)

// RateLimiter bounds submissions per client. Implemented by the redis
// package; nil means unlimited.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Server is the public HTTP surface of the service. Every job route sits
// behind the bearer-token guard; health and metrics do not.
type Server struct {
	jobUC usecase.JobUseCase
	media storage.MediaStore
	token string
	log   *zerolog.Logger

	limiter RateLimiter
	rlCfg   config.RateLimitConfig
}

func NewServer(jobUC usecase.JobUseCase, media storage.MediaStore, token string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{jobUC: jobUC, media: media, token: token, log: &l}
}

// SetRateLimiter enables per-client submission limiting. Must be called
// before Routes.
func (s *Server) SetRateLimiter(limiter RateLimiter, cfg config.RateLimitConfig) {
	s.limiter = limiter
	s.rlCfg = cfg
}

// Routes builds the router. ws, when non-nil, is mounted at the status-push
// path and shares the authenticated middleware chain with the job routes.
func (s *Server) Routes(ws http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.traceID)
	r.Use(s.recoverPanic)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(middleware.Timeout(30 * time.Second))

		r.With(s.rateLimit).Post("/v1/bp/u/", s.handleSubmit)
		r.Get("/v1/remove-background/details/{jobID}", s.handleDetails)
		r.Post("/v1/remove-background/cancel/{jobID}", s.handleCancel)
		r.Get("/v1/remove-background/result/{jobID}", s.handleResult)
		r.Get("/v1/remove-background/tasks", s.handleListGroup)
	})

	// The push socket is long-lived, so it sits outside the timeout chain.
	if ws != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Method(http.MethodGet, "/ws/remove-background/{taskGroup}", ws)
		})
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
