package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/vecstore"
)

// Lister is the slice of the vector store collection stats need.
type Lister interface {
	ListCollections(ctx context.Context) ([]vecstore.CollectionInfo, error)
}

// SessionHandler serves session index teardown and collection stats.
type SessionHandler struct {
	scheduler Scheduler
	lister    Lister
	logger    *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(scheduler Scheduler, lister Lister, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{scheduler: scheduler, lister: lister, logger: logger}
}

// RegisterRoutes registers session routes on the mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("DELETE /api/sessions/{id}/index", h.deleteIndex)
	mux.HandleFunc("GET /api/collections", h.collections)
}

// CollectionResponse is one collection's stats.
type CollectionResponse struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *SessionHandler) deleteIndex(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	if err := h.scheduler.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, collection.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", "collection is initializing, retry shortly")
			return
		}
		h.logger.Error("deleting session index", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete session index")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) collections(w http.ResponseWriter, r *http.Request) {
	infos, err := h.lister.ListCollections(r.Context())
	if err != nil {
		h.logger.Error("listing collections", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list collections")
		return
	}

	out := make([]CollectionResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, CollectionResponse{
			Name:      info.Name,
			Dimension: info.Dimension,
			Model:     info.Model,
			CreatedAt: info.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
