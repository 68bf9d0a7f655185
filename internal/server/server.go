// Package server is the HTTP wire surface: ingestion job submission, job
// status, readings, and query, JSON in and out with a uniform error
// envelope.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/queue"
	"github.com/candlekeep/candlekeep/internal/readings"
	"github.com/candlekeep/candlekeep/internal/search"
	"github.com/candlekeep/candlekeep/internal/store"
)

// maxUploadSize caps multipart uploads.
const maxUploadSize = 64 << 20 // 64MB

// Server wires the router to the application services.
type Server struct {
	queue    *queue.Queue
	engine   *search.Engine
	readings *readings.Service
	cfg      config.ServerConfig
	search   config.SearchConfig
	ingest   config.IngestConfig
	logger   *slog.Logger
	http     *http.Server
}

// New creates the HTTP server.
func New(q *queue.Queue, engine *search.Engine, readingsSvc *readings.Service,
	cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:    q,
		engine:   engine,
		readings: readingsSvc,
		cfg:      cfg.Server,
		search:   cfg.Search,
		ingest:   cfg.Ingest,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Post("/ingest/web", s.handleIngestWeb)
	r.Post("/ingest/drive", s.handleIngestDrive)
	r.Post("/ingest/upload", s.handleIngestUpload)
	r.Get("/ingest/jobs/{job_id}", s.handleJobStatus)

	r.Post("/readings/save", s.handleReadingSave)
	r.Get("/readings", s.handleReadingList)
	r.Get("/readings/{id}", s.handleReadingGet)

	r.Post("/query", s.handleQuery)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// ListenAndServe runs the server until the context is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type ingestWebRequest struct {
	URL         string `json:"url"`
	Deep        bool   `json:"deep"`
	MaxDepth    int    `json:"max_depth"`
	SourceGroup string `json:"source_group"`
	Tenant      string `json:"tenant"`
}

func (s *Server) handleIngestWeb(w http.ResponseWriter, r *http.Request) {
	var req ingestWebRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.URL == "" {
		s.writeError(w, r, kberr.Newf(kberr.CodeInvalidInput, "url is required"))
		return
	}

	depth := 0
	if req.Deep {
		depth = req.MaxDepth
		if depth <= 0 {
			depth = s.ingest.MaxCrawlDepth
		}
	}

	s.enqueue(w, r, fetch.SourceDescriptor{
		Kind:        store.SourceKindWebURL,
		Locator:     req.URL,
		Tenant:      req.Tenant,
		SourceGroup: req.SourceGroup,
		CrawlDepth:  depth,
	})
}

type ingestDriveRequest struct {
	DriveFileID string `json:"drive_file_id"`
	SourceGroup string `json:"source_group"`
	Tenant      string `json:"tenant"`
}

func (s *Server) handleIngestDrive(w http.ResponseWriter, r *http.Request) {
	var req ingestDriveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DriveFileID == "" {
		s.writeError(w, r, kberr.Newf(kberr.CodeInvalidInput, "drive_file_id is required"))
		return
	}

	s.enqueue(w, r, fetch.SourceDescriptor{
		Kind:        store.SourceKindDriveFile,
		Locator:     req.DriveFileID,
		Tenant:      req.Tenant,
		SourceGroup: req.SourceGroup,
	})
}

func (s *Server) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, r, kberr.Wrap(kberr.CodeInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, kberr.Newf(kberr.CodeInvalidInput, "multipart file part is required"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		s.writeError(w, r, kberr.Wrap(kberr.CodeInvalidInput, err))
		return
	}

	s.enqueue(w, r, fetch.SourceDescriptor{
		Kind:        store.SourceKindUploadedBlob,
		Locator:     header.Filename,
		Filename:    header.Filename,
		Bytes:       data,
		Tenant:      r.FormValue("tenant"),
		SourceGroup: r.FormValue("source_group"),
	})
}

// enqueue submits a job and answers 202 with a status URL.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, desc fetch.SourceDescriptor) {
	job, err := s.queue.Enqueue(r.Context(), desc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"status_url": "/ingest/jobs/" + job.ID,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Inspect(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Uploaded payloads do not belong in status responses.
	job.Descriptor.Bytes = nil
	writeJSON(w, http.StatusOK, job)
}

type readingSaveRequest struct {
	URL    string `json:"url"`
	Tenant string `json:"tenant"`
}

func (s *Server) handleReadingSave(w http.ResponseWriter, r *http.Request) {
	var req readingSaveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.URL == "" {
		s.writeError(w, r, kberr.Newf(kberr.CodeInvalidInput, "url is required"))
		return
	}

	result, err := s.readings.Save(r.Context(), req.URL, req.Tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleReadingList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			s.writeError(w, r, kberr.Newf(kberr.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	list, err := s.readings.List(r.Context(), r.URL.Query().Get("tenant"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": list})
}

func (s *Server) handleReadingGet(w http.ResponseWriter, r *http.Request) {
	reading, err := s.readings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

type queryRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Mode   string `json:"mode"`
	Filter struct {
		Tenant      string `json:"tenant"`
		SourceGroup string `json:"source_group"`
	} `json:"filter"`
}

type queryResponse struct {
	Results []search.Result  `json:"results"`
	Info    search.QueryInfo `json:"info"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.search.QueryTimeout)
	defer cancel()

	results, info, err := s.engine.Query(ctx, search.QueryOptions{
		Text: req.Query,
		K:    req.K,
		Mode: search.Mode(req.Mode),
		Filter: store.Filter{
			Tenant:      req.Filter.Tenant,
			SourceGroup: req.Filter.SourceGroup,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: results, Info: info})
}
