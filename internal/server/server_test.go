package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/readings"
	"github.com/candlekeep/candlekeep/internal/search"
	"github.com/candlekeep/candlekeep/internal/store"
)

// wireStore backs the handler tests with canned data.
type wireStore struct {
	store.DocumentStore

	hits      []store.SearchHit
	searchErr error
	readings  []*store.Reading
}

func (s *wireStore) VectorSearch(_ context.Context, _ []float32, _ int, _ store.Filter) ([]store.SearchHit, error) {
	return s.hits, s.searchErr
}

func (s *wireStore) TextSearch(_ context.Context, _ string, _ int, _ store.Filter) ([]store.SearchHit, error) {
	return s.hits, s.searchErr
}

func (s *wireStore) HydrateChunks(_ context.Context, ids []string) ([]*store.HydratedChunk, error) {
	out := make([]*store.HydratedChunk, len(ids))
	for i, id := range ids {
		out[i] = &store.HydratedChunk{
			Chunk:         &store.Chunk{ID: id, Content: "content"},
			DocumentTitle: "title",
			SourceLocator: "loc",
		}
	}
	return out, nil
}

func (s *wireStore) ListReadings(_ context.Context, _ string, _ int) ([]*store.Reading, error) {
	return s.readings, nil
}

func (s *wireStore) GetReading(_ context.Context, id string) (*store.Reading, error) {
	for _, r := range s.readings {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, kberr.Newf(kberr.CodeNotFound, "reading %s not found", id)
}

type wireEmbedder struct{}

func (wireEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1}, nil
}

func (wireEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (wireEmbedder) Dimensions() int                  { return 1 }
func (wireEmbedder) ModelName() string                { return "wire" }
func (wireEmbedder) Available(_ context.Context) bool { return true }
func (wireEmbedder) Close() error                     { return nil }

func newTestHandler(st *wireStore) http.Handler {
	cfg := config.Config{
		Server: config.ServerConfig{Addr: ":0", RequestTimeout: 5 * time.Second},
		Search: config.SearchConfig{
			RRFConstant:       60,
			DefaultMatchCount: 5,
			MaxMatchCount:     50,
			QueryTimeout:      5 * time.Second,
		},
	}
	engine := search.NewEngine(st, wireEmbedder{}, cfg.Search, nil)
	readingsSvc := readings.New(st, nil, config.ReadingsConfig{}, nil)
	srv := New(nil, engine, readingsSvc, cfg, nil)
	return srv.routes()
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestQuery_Success(t *testing.T) {
	handler := newTestHandler(&wireStore{
		hits: []store.SearchHit{{ChunkID: "c1", Score: 0.9}},
	})

	rec := postJSON(t, handler, "/query", map[string]any{
		"query": "how to configure",
		"k":     3,
		"mode":  "hybrid",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []search.Result  `json:"results"`
		Info    search.QueryInfo `json:"info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].Chunk.ID)
	assert.False(t, resp.Info.Degraded)
}

func TestQuery_EmptyQueryIs400(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	rec := postJSON(t, handler, "/query", map[string]any{"query": ""})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, kberr.CodeQueryEmpty, envelope.ErrorCode)
	assert.NotEmpty(t, envelope.Message)
}

func TestQuery_KAboveConfiguredMaxRejected(t *testing.T) {
	// Given: an operator-lowered match count cap
	st := &wireStore{hits: []store.SearchHit{{ChunkID: "c1", Score: 0.9}}}
	cfg := config.Config{
		Server: config.ServerConfig{Addr: ":0", RequestTimeout: 5 * time.Second},
		Search: config.SearchConfig{
			RRFConstant:       60,
			DefaultMatchCount: 5,
			MaxMatchCount:     10,
			QueryTimeout:      5 * time.Second,
		},
	}
	engine := search.NewEngine(st, wireEmbedder{}, cfg.Search, nil)
	readingsSvc := readings.New(st, nil, config.ReadingsConfig{}, nil)
	handler := New(nil, engine, readingsSvc, cfg, nil).routes()

	// When: k exceeds the configured cap
	rec := postJSON(t, handler, "/query", map[string]any{"query": "q", "k": 30})

	// Then: the request is rejected as invalid input
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, kberr.CodeInvalidInput, envelope.ErrorCode)

	// k at the cap still succeeds.
	rec = postJSON(t, handler, "/query", map[string]any{"query": "q", "k": 10})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuery_UnknownFieldRejected(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	rec := postJSON(t, handler, "/query", map[string]any{
		"query":    "q",
		"surprise": true,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestWeb_MissingURL(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	rec := postJSON(t, handler, "/ingest/web", map[string]any{"deep": true})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, kberr.CodeInvalidInput, envelope.ErrorCode)
}

func TestIngestDrive_MissingFileID(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	rec := postJSON(t, handler, "/ingest/drive", map[string]any{"tenant": "t"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadingsList(t *testing.T) {
	handler := newTestHandler(&wireStore{
		readings: []*store.Reading{
			{ID: "r1", URL: "https://example.com", URLKind: "web", Title: "One"},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/readings", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Readings []readings.Reading `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Readings, 1)
	assert.Equal(t, "r1", resp.Readings[0].ID)
}

func TestReadingsList_BadLimit(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	req := httptest.NewRequest(http.MethodGet, "/readings?limit=banana", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadingsGet_NotFound(t *testing.T) {
	handler := newTestHandler(&wireStore{})

	req := httptest.NewRequest(http.MethodGet, "/readings/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery_SearchFailureIs500WithCode(t *testing.T) {
	handler := newTestHandler(&wireStore{
		searchErr: kberr.Newf(kberr.CodeSearchFailed, "both branches down"),
	})

	rec := postJSON(t, handler, "/query", map[string]any{"query": "q", "mode": "lexical"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var envelope struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, kberr.CodeSearchFailed, envelope.ErrorCode)
	// Non-internal codes keep their message on the wire.
	assert.Contains(t, envelope.Message, "both branches down")
}
