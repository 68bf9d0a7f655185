package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/kberr"
)

func newBareStore() *PostgresStore {
	return &PostgresStore{
		cfg: config.StoreConfig{
			DocumentsTable:  "documents",
			ChunksTable:     "chunks",
			VectorIndexName: "chunks_embedding_idx",
			TextIndexName:   "chunks_content_fts_idx",
		},
		dims:   768,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"documents"`, quoteIdent("documents"))
	assert.Equal(t, `"odd""name"`, quoteIdent(`odd"name`))
}

func TestSchemaDDL(t *testing.T) {
	ddl := newBareStore().SchemaDDL()

	assert.Contains(t, ddl, "CREATE EXTENSION IF NOT EXISTS vector;")
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "documents"`)
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "chunks"`)
	assert.Contains(t, ddl, "vector(768)")
	assert.Contains(t, ddl, `"chunks_embedding_idx" ON "chunks" USING hnsw`)
	assert.Contains(t, ddl, "UNIQUE (content_hash, tenant, source_group)")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS readings")
}

func TestClassifyWriteError(t *testing.T) {
	s := newBareStore()

	conflict := s.classifyWriteError(&pgconn.PgError{Code: "23505"}, "upsert_chunk")
	assert.Equal(t, kberr.CodeUpsertConflict, kberr.CodeOf(conflict))

	missing := s.classifyWriteError(&pgconn.PgError{Code: "42P01"}, "upsert_document")
	assert.Equal(t, kberr.CodeIndexMissing, kberr.CodeOf(missing))

	deadline := s.classifyWriteError(context.DeadlineExceeded, "upsert_chunk")
	assert.Equal(t, kberr.CodeDeadlineExceeded, kberr.CodeOf(deadline))

	other := s.classifyWriteError(errors.New("connection reset"), "upsert_chunk")
	assert.Equal(t, kberr.CodeInternal, kberr.CodeOf(other))
}

func TestClassifySearchError(t *testing.T) {
	s := newBareStore()

	missing := s.classifySearchError(&pgconn.PgError{Code: "42P01"}, "vector")
	assert.Equal(t, kberr.CodeIndexMissing, kberr.CodeOf(missing))

	// An absent extension names the one to install for the failing branch.
	vecExt := s.classifySearchError(&pgconn.PgError{Code: "42883"}, "vector")
	require.Equal(t, kberr.CodeIndexMissing, kberr.CodeOf(vecExt))
	var ke *kberr.Error
	require.True(t, errors.As(vecExt, &ke))
	assert.Contains(t, ke.Suggestion, "vector")

	textExt := s.classifySearchError(&pgconn.PgError{Code: "42704"}, "text")
	require.True(t, errors.As(textExt, &ke))
	assert.Contains(t, ke.Suggestion, "pg_trgm")

	other := s.classifySearchError(errors.New("timeout"), "text")
	assert.Equal(t, kberr.CodeSearchFailed, kberr.CodeOf(other))
}
