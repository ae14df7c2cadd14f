package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/model"
)

// Uploads above this size are rejected before decoding begins.
const maxUploadBytes = 32 << 20

// jobResponse is the wire shape for one job. Key carries the job ID; the
// media URLs are derived, never stored.
type jobResponse struct {
	Key         string    `json:"key"`
	TaskGroup   string    `json:"task_group"`
	Status      string    `json:"status"`
	Tier        string    `json:"tier"`
	Retries     int       `json:"retries"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	PreviewURL  string    `json:"preview_url,omitempty"`
	ResultURL   string    `json:"result_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) toResponse(job *model.Job) jobResponse {
	resp := jobResponse{
		Key:         job.ID,
		TaskGroup:   job.TaskGroup,
		Status:      string(job.Status),
		Tier:        string(job.Tier),
		Retries:     job.Retries,
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.PreviewKey != "" {
		resp.PreviewURL = s.media.URLFor(job.PreviewKey)
	}
	if job.OutputKey != "" {
		resp.ResultURL = s.media.URLFor(job.OutputKey)
	}
	return resp
}

// handleSubmit accepts a multipart upload with an "original_image" file part
// and an optional "task_group" UUID, validates it, and creates a queued job.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	file, _, err := r.FormFile("original_image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "original_image file part is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(payload) > maxUploadBytes {
		writeError(w, http.StatusBadRequest, "upload too large")
		return
	}

	job, err := s.jobUC.Submit(r.Context(), r.FormValue("task_group"), payload)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitEnvelope{Status: "success", Data: s.toResponse(job)})
}

type submitEnvelope struct {
	Status string      `json:"status"`
	Data   jobResponse `json:"data"`
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobUC.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobUC.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(job))
}

// handleResult redirects to the processed image once the job has succeeded.
// With ?bytes=1 the image is served inline instead. A job that is not done
// yet answers 409 with its current state so clients can keep polling.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, data, contentType, err := s.jobUC.Result(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if job.Status != model.JobStatusSucceeded {
		writeJSON(w, http.StatusConflict, s.toResponse(job))
		return
	}
	if r.URL.Query().Get("bytes") == "1" {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	http.Redirect(w, r, s.media.URLFor(job.OutputKey), http.StatusFound)
}

func (s *Server) handleListGroup(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobUC.ListGroup(r.Context(), r.URL.Query().Get("task_group"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.toResponse(job))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []jobResponse `json:"data"`
	}{Data: out})
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "job already completed or cancelled")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}{Status: "failed", Message: message})
}
