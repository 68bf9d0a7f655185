package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/kberr"
)

// PostgresStore implements DocumentStore on Postgres with pgvector and FTS.
type PostgresStore struct {
	pool   *pgxpool.Pool
	cfg    config.StoreConfig
	dims   int
	logger *slog.Logger
}

var _ DocumentStore = (*PostgresStore)(nil)

// NewPostgresStore connects a pool and registers pgvector types.
// dims is the configured embedding dimension, used for schema checks.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig, dims int, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeConfigInvalid, err).WithDetail("store_uri", cfg.URI)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeDependencyUnavailable, err).
			WithDetail("capability", "document_store_connect").
			WithSuggestion("verify store.uri and that Postgres is running")
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, cfg: cfg, dims: dims, logger: logger}, nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return kberr.Wrap(kberr.CodeDependencyUnavailable, err).
			WithDetail("capability", "document_store_connect")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// UpsertDocument inserts or replaces a document by content hash within its
// corpus partition. On conflict the existing id is kept and returned.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	frontmatter, err := json.Marshal(doc.Frontmatter)
	if err != nil {
		return "", kberr.Wrap(kberr.CodeInternal, err)
	}

	var id string
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, source_locator, source_kind, content, frontmatter, ingested_at, content_hash, tenant, source_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (content_hash, tenant, source_group)
		DO UPDATE SET title = EXCLUDED.title, source_locator = EXCLUDED.source_locator, ingested_at = EXCLUDED.ingested_at
		RETURNING id`, s.cfg.DocumentsTable)
	err = s.pool.QueryRow(ctx, query,
		doc.ID, doc.Title, doc.SourceLocator, string(doc.SourceKind), doc.Content,
		frontmatter, doc.IngestedAt, doc.ContentHash, doc.Tenant, doc.SourceGroup,
	).Scan(&id)
	if err != nil {
		return "", s.classifyWriteError(err, "document upsert")
	}
	return id, nil
}

// GetDocument fetches one document by id.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := fmt.Sprintf(`
		SELECT id, title, source_locator, source_kind, content, frontmatter, ingested_at, content_hash, tenant, source_group
		FROM %s WHERE id = $1`, s.cfg.DocumentsTable)

	var doc Document
	var kind string
	var frontmatter []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Title, &doc.SourceLocator, &kind, &doc.Content,
		&frontmatter, &doc.IngestedAt, &doc.ContentHash, &doc.Tenant, &doc.SourceGroup,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kberr.Newf(kberr.CodeNotFound, "document %s not found", id)
	}
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	doc.SourceKind = SourceKind(kind)
	if len(frontmatter) > 0 {
		if err := json.Unmarshal(frontmatter, &doc.Frontmatter); err != nil {
			return nil, kberr.Wrap(kberr.CodeInternal, err)
		}
	}
	return &doc, nil
}

// GetDocumentByHash looks up a document id by content hash within a partition.
func (s *PostgresStore) GetDocumentByHash(ctx context.Context, hash string, filter Filter) (string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE content_hash = $1 AND tenant = $2 AND source_group = $3`, s.cfg.DocumentsTable)

	var id string
	err := s.pool.QueryRow(ctx, query, hash, filter.Tenant, filter.SourceGroup).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", kberr.Wrap(kberr.CodeInternal, err)
	}
	return id, nil
}

// GetDocumentBySourceLocator fetches the most recently ingested document
// with the given source locator within a partition. Returns (nil, nil) when
// absent.
func (s *PostgresStore) GetDocumentBySourceLocator(ctx context.Context, locator string, filter Filter) (*Document, error) {
	query := fmt.Sprintf(`
		SELECT id, title, source_locator, source_kind, content, frontmatter, ingested_at, content_hash, tenant, source_group
		FROM %s
		WHERE source_locator = $1 AND tenant = $2 AND source_group = $3
		ORDER BY ingested_at DESC
		LIMIT 1`, s.cfg.DocumentsTable)

	var doc Document
	var kind string
	var frontmatter []byte
	err := s.pool.QueryRow(ctx, query, locator, filter.Tenant, filter.SourceGroup).Scan(
		&doc.ID, &doc.Title, &doc.SourceLocator, &kind, &doc.Content,
		&frontmatter, &doc.IngestedAt, &doc.ContentHash, &doc.Tenant, &doc.SourceGroup,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	doc.SourceKind = SourceKind(kind)
	if len(frontmatter) > 0 {
		if err := json.Unmarshal(frontmatter, &doc.Frontmatter); err != nil {
			return nil, kberr.Wrap(kberr.CodeInternal, err)
		}
	}
	return &doc, nil
}

// UpsertChunk inserts or replaces a chunk by content hash within its corpus
// partition. A hash hit keeps the existing record (content hash is identity:
// the original document_id is preserved) and returns its id.
func (s *PostgresStore) UpsertChunk(ctx context.Context, chunk *Chunk) (string, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if s.dims > 0 && len(chunk.Embedding) != s.dims {
		return "", kberr.Newf(kberr.CodeInternal,
			"embedding dimension %d does not match configured %d", len(chunk.Embedding), s.dims)
	}

	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return "", kberr.Wrap(kberr.CodeInternal, err)
	}

	var id string
	query := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, chunk_index, content, token_count, embedding, content_hash, context, chunker_method, metadata, tenant, source_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (content_hash, tenant, source_group)
		DO UPDATE SET token_count = EXCLUDED.token_count
		RETURNING id`, s.cfg.ChunksTable)
	err = s.pool.QueryRow(ctx, query,
		chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Content, chunk.TokenCount,
		pgvector.NewVector(chunk.Embedding), chunk.ContentHash, chunk.Context,
		string(chunk.ChunkerMethod), metadata, chunk.Tenant, chunk.SourceGroup,
	).Scan(&id)
	if err != nil {
		return "", s.classifyWriteError(err, "chunk upsert")
	}
	return id, nil
}

// ChunkStatsForDocument reports chunk count and index range for one document.
func (s *PostgresStore) ChunkStatsForDocument(ctx context.Context, documentID string) (*ChunkStats, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(MIN(chunk_index), 0), COALESCE(MAX(chunk_index), 0)
		FROM %s WHERE document_id = $1`, s.cfg.ChunksTable)

	var stats ChunkStats
	if err := s.pool.QueryRow(ctx, query, documentID).Scan(&stats.Count, &stats.MinIndex, &stats.MaxIndex); err != nil {
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	return &stats, nil
}

// VectorSearch returns up to k chunks by cosine similarity, descending, with
// a deterministic tie-break on chunk id ascending.
func (s *PostgresStore) VectorSearch(ctx context.Context, embedding []float32, k int, filter Filter) ([]SearchHit, error) {
	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($2 = '' OR tenant = $2) AND ($3 = '' OR source_group = $3)
		ORDER BY embedding <=> $1 ASC, id ASC
		LIMIT $4`, s.cfg.ChunksTable)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), filter.Tenant, filter.SourceGroup, k)
	if err != nil {
		return nil, s.classifySearchError(err, "vector")
	}
	defer rows.Close()

	return scanHits(rows)
}

// TextSearch returns up to k chunks by BM25-family lexical relevance,
// descending. When the websearch query matches nothing, a trigram
// word-similarity pass provides fuzzy matching on the content field.
func (s *PostgresStore) TextSearch(ctx context.Context, query string, k int, filter Filter) ([]SearchHit, error) {
	ftsQuery := fmt.Sprintf(`
		SELECT id, ts_rank_cd(to_tsvector('english', content), websearch_to_tsquery('english', $1))::float8 AS score
		FROM %s
		WHERE to_tsvector('english', content) @@ websearch_to_tsquery('english', $1)
		  AND ($2 = '' OR tenant = $2) AND ($3 = '' OR source_group = $3)
		ORDER BY score DESC, id ASC
		LIMIT $4`, s.cfg.ChunksTable)

	rows, err := s.pool.Query(ctx, ftsQuery, query, filter.Tenant, filter.SourceGroup, k)
	if err != nil {
		return nil, s.classifySearchError(err, "text")
	}
	hits, err := scanHits(rows)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits, nil
	}

	// Fuzzy fallback for typos and partial terms (pg_trgm).
	trgmQuery := fmt.Sprintf(`
		SELECT id, word_similarity($1, content)::float8 AS score
		FROM %s
		WHERE $1 <%% content
		  AND ($2 = '' OR tenant = $2) AND ($3 = '' OR source_group = $3)
		ORDER BY score DESC, id ASC
		LIMIT $4`, s.cfg.ChunksTable)

	rows, err = s.pool.Query(ctx, trgmQuery, query, filter.Tenant, filter.SourceGroup, k)
	if err != nil {
		return nil, s.classifySearchError(err, "text")
	}
	return scanHits(rows)
}

// HydrateChunks fetches chunks joined with document title and source locator,
// preserving the input order.
func (s *PostgresStore) HydrateChunks(ctx context.Context, chunkIDs []string) ([]*HydratedChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.content_hash,
		       c.context, c.chunker_method, c.metadata, c.tenant, c.source_group,
		       d.title, d.source_locator
		FROM unnest($1::text[]) WITH ORDINALITY AS want(id, ord)
		JOIN %s c ON c.id = want.id
		JOIN %s d ON d.id = c.document_id
		ORDER BY want.ord`, s.cfg.ChunksTable, s.cfg.DocumentsTable)

	rows, err := s.pool.Query(ctx, query, chunkIDs)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	defer rows.Close()

	var out []*HydratedChunk
	for rows.Next() {
		var (
			chunk    Chunk
			method   string
			metadata []byte
			h        HydratedChunk
		)
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Content, &chunk.TokenCount,
			&chunk.ContentHash, &chunk.Context, &method, &metadata, &chunk.Tenant, &chunk.SourceGroup,
			&h.DocumentTitle, &h.SourceLocator,
		); err != nil {
			return nil, kberr.Wrap(kberr.CodeInternal, err)
		}
		chunk.ChunkerMethod = ChunkerMethod(method)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
				return nil, kberr.Wrap(kberr.CodeInternal, err)
			}
		}
		h.Chunk = &chunk
		out = append(out, &h)
	}
	return out, rows.Err()
}

// SaveReading persists a reading record.
func (s *PostgresStore) SaveReading(ctx context.Context, r *Reading) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	related, err := json.Marshal(r.RelatedLinks)
	if err != nil {
		return "", kberr.Wrap(kberr.CodeInternal, err)
	}
	kindSpecific, err := json.Marshal(r.KindSpecific)
	if err != nil {
		return "", kberr.Wrap(kberr.CodeInternal, err)
	}

	query := `
		INSERT INTO readings (id, url, url_kind, title, summary, key_points, related_links, kind_specific, document_id, tenant, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, summary = EXCLUDED.summary
		RETURNING id`
	var id string
	err = s.pool.QueryRow(ctx, query,
		r.ID, r.URL, r.URLKind, r.Title, r.Summary, r.KeyPoints, related, kindSpecific,
		r.DocumentID, r.Tenant, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", s.classifyWriteError(err, "reading save")
	}
	return id, nil
}

// GetReading fetches one reading by id.
func (s *PostgresStore) GetReading(ctx context.Context, id string) (*Reading, error) {
	query := `
		SELECT id, url, url_kind, title, summary, key_points, related_links, kind_specific, COALESCE(document_id, ''), tenant, created_at
		FROM readings WHERE id = $1`

	r, err := scanReading(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kberr.Newf(kberr.CodeNotFound, "reading %s not found", id)
	}
	return r, err
}

// ListReadings returns readings for a tenant, newest first.
func (s *PostgresStore) ListReadings(ctx context.Context, tenant string, limit int) ([]*Reading, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, url, url_kind, title, summary, key_points, related_links, kind_specific, COALESCE(document_id, ''), tenant, created_at
		FROM readings
		WHERE ($1 = '' OR tenant = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, tenant, limit)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	defer rows.Close()

	var out []*Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var r Reading
	var related, kindSpecific []byte
	err := row.Scan(&r.ID, &r.URL, &r.URLKind, &r.Title, &r.Summary, &r.KeyPoints,
		&related, &kindSpecific, &r.DocumentID, &r.Tenant, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, kberr.Wrap(kberr.CodeInternal, err)
	}
	if len(related) > 0 {
		if err := json.Unmarshal(related, &r.RelatedLinks); err != nil {
			return nil, kberr.Wrap(kberr.CodeInternal, err)
		}
	}
	if len(kindSpecific) > 0 {
		if err := json.Unmarshal(kindSpecific, &r.KindSpecific); err != nil {
			return nil, kberr.Wrap(kberr.CodeInternal, err)
		}
	}
	return &r, nil
}

func scanHits(rows pgx.Rows) ([]SearchHit, error) {
	defer rows.Close()
	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, kberr.Wrap(kberr.CodeInternal, err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// classifyWriteError maps Postgres write failures onto the error taxonomy.
// A unique violation is an upsert conflict and treated as success by callers;
// everything else surfaces as internal.
func (s *PostgresStore) classifyWriteError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 unique_violation: concurrent writer with the same hash won.
		if pgErr.Code == "23505" {
			return kberr.Wrap(kberr.CodeUpsertConflict, err).WithDetail("operation", op)
		}
		// 42P01 undefined_table: schema was never created.
		if pgErr.Code == "42P01" {
			return kberr.Wrap(kberr.CodeIndexMissing, err).
				WithDetail("operation", op).
				WithSuggestion("run the schema DDL from CheckSchema remediation output")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kberr.FromContext(err, op)
	}
	s.logger.Error("store write failed", slog.String("operation", op), slog.String("error", err.Error()))
	return kberr.Wrap(kberr.CodeInternal, err).WithDetail("operation", op)
}

// classifySearchError maps search failures. A missing index or relation is a
// hard configuration error surfaced to the caller with remediation, never
// recovered locally.
func (s *PostgresStore) classifySearchError(err error, branch string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return kberr.Wrap(kberr.CodeIndexMissing, err).
				WithDetail("branch", branch).
				WithSuggestion("create the schema; see 'candlekeep doctor' for the DDL")
		case "42883", "42704": // undefined_function / undefined_object: extension absent
			ext := "vector"
			if branch == "text" {
				ext = "pg_trgm"
			}
			return kberr.Wrap(kberr.CodeIndexMissing, err).
				WithDetail("branch", branch).
				WithSuggestion(fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s;", ext))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kberr.FromContext(err, branch+" search")
	}
	return kberr.Wrap(kberr.CodeSearchFailed, err).WithDetail("branch", branch)
}

// quoteIdent guards table names interpolated into SQL text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
