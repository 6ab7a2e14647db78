package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/ragcore/internal/log"
	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/vecstore"
)

func queryMux(e *mockEngine) *http.ServeMux {
	mux := http.NewServeMux()
	NewQueryHandler(e, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestQueryHandler_Query(t *testing.T) {
	eng := &mockEngine{result: rag.Context{
		Collection: "session-scoped:s1",
		Snippets: []rag.Snippet{
			{Text: "ATP is produced in mitochondria.", Source: "bio.md", Start: "0", End: "32", Similarity: 0.93},
		},
	}}
	mux := queryMux(eng)

	body := `{"query":"where is ATP produced","session_id":"s1","top_k":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "session-scoped:s1", resp.Collection)
	assert.False(t, resp.FellBack)
	require.Len(t, resp.Snippets, 1)
	assert.Equal(t, "bio.md", resp.Snippets[0].Source)
	assert.Contains(t, resp.Context, "[bio.md 0-32]")

	assert.Equal(t, "where is ATP produced", eng.lastReq.Text)
	assert.Equal(t, 3, eng.lastReq.TopK)
}

func TestQueryHandler_EmptyResult(t *testing.T) {
	mux := queryMux(&mockEngine{result: rag.Context{Collection: "study_notes"}})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"anything"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Snippets)
	assert.Empty(t, resp.Context)
}

func TestQueryHandler_EmptyQuery(t *testing.T) {
	mux := queryMux(&mockEngine{err: rag.ErrEmptyQuery})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":""}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandler_ModelMismatch(t *testing.T) {
	mux := queryMux(&mockEngine{err: vecstore.ErrModelMismatch})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"x"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestQueryHandler_InternalError(t *testing.T) {
	mux := queryMux(&mockEngine{err: errors.New("database down")})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"x"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// Internal details stay out of the response body.
	assert.NotContains(t, w.Body.String(), "database down")
}
