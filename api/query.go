package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/vecstore"
)

const maxQueryBody = 64 << 10

// Engine is the slice of the query engine the API needs.
type Engine interface {
	Query(ctx context.Context, req rag.Request) (rag.Context, error)
}

// QueryHandler serves retrieval queries.
type QueryHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine Engine, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers query routes on the mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

// QueryRequest is the retrieval query payload.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// SnippetResponse is one retrieved chunk.
type SnippetResponse struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Similarity float64 `json:"similarity"`
}

// QueryResponse is the retrieval result.
type QueryResponse struct {
	Collection string            `json:"collection"`
	FellBack   bool              `json:"fell_back"`
	Snippets   []SnippetResponse `json:"snippets"`
	Context    string            `json:"context"`
}

func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	rc, err := h.engine.Query(r.Context(), rag.Request{
		Text:      req.Query,
		SessionID: req.SessionID,
		TopK:      req.TopK,
	})
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		case errors.Is(err, vecstore.ErrModelMismatch), errors.Is(err, vecstore.ErrDimensionMismatch):
			h.logger.Error("embedder configuration mismatch", "error", err)
			writeError(w, http.StatusConflict, "model_mismatch", err.Error())
		default:
			h.logger.Error("running query", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "query failed")
		}
		return
	}

	snippets := make([]SnippetResponse, 0, len(rc.Snippets))
	for _, s := range rc.Snippets {
		snippets = append(snippets, SnippetResponse{
			Text:       s.Text,
			Source:     s.Source,
			Start:      s.Start,
			End:        s.End,
			Similarity: s.Similarity,
		})
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Collection: rc.Collection,
		FellBack:   rc.FellBack,
		Snippets:   snippets,
		Context:    rc.Prompt(),
	})
}
