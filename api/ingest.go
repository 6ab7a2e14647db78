package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/schedule"
)

// maxIngestBody bounds the request body; sources bigger than this
// should land on disk and be submitted by path.
const maxIngestBody = 4 << 20

// Scheduler is the slice of the job scheduler the API needs.
type Scheduler interface {
	Submit(req ingest.Request) (string, error)
	Status(jobID string) (schedule.Job, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// IngestHandler serves job submission and job status.
type IngestHandler struct {
	scheduler Scheduler
	logger    *slog.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(scheduler Scheduler, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{scheduler: scheduler, logger: logger}
}

// RegisterRoutes registers ingest routes on the mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.submit)
	mux.HandleFunc("GET /api/jobs/{id}", h.status)
}

// IngestRequest is the job submission payload. Exactly one of Text or
// Path must be set; Path is read server-side when the job runs.
type IngestRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Text      string `json:"text,omitempty"`
	Path      string `json:"path,omitempty"`
}

// IngestResponse acknowledges a submitted job.
type IngestResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse is the job status payload.
type JobResponse struct {
	JobID       string    `json:"job_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Collection  string    `json:"collection"`
	State       string    `json:"state"`
	Chunks      int       `json:"chunks,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

func (h *IngestHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	path := strings.TrimSpace(req.Path)
	if (text == "") == (path == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "exactly one of text or path is required")
		return
	}

	jobID, err := h.scheduler.Submit(ingest.Request{
		SessionID: req.SessionID,
		Source:    req.Source,
		Text:      req.Text,
		Path:      path,
	})
	if err != nil {
		if errors.Is(err, schedule.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
			return
		}
		if errors.Is(err, collection.ErrDeleting) {
			writeError(w, http.StatusConflict, "deleting", "session index deletion in progress")
			return
		}
		h.logger.Error("submitting job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to submit job")
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{JobID: jobID})
}

func (h *IngestHandler) status(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.Status(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, schedule.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown job id")
			return
		}
		h.logger.Error("fetching job status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch job")
		return
	}

	writeJSON(w, http.StatusOK, JobResponse{
		JobID:       job.ID,
		SessionID:   job.SessionID,
		Collection:  job.Collection,
		State:       job.State.String(),
		Chunks:      job.Chunks,
		Error:       job.Error,
		SubmittedAt: job.SubmittedAt,
		FinishedAt:  job.FinishedAt,
	})
}
