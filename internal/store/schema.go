package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// SchemaDDL returns the operator-run DDL for the given configuration.
// Candlekeep never creates schema itself; this is remediation output for
// CheckSchema failures and the doctor command.
func (s *PostgresStore) SchemaDDL() string {
	docs := quoteIdent(s.cfg.DocumentsTable)
	chunks := quoteIdent(s.cfg.ChunksTable)
	return fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS %[1]s (
    id             text PRIMARY KEY,
    title          text NOT NULL DEFAULT '',
    source_locator text NOT NULL,
    source_kind    text NOT NULL,
    content        text NOT NULL,
    frontmatter    jsonb NOT NULL DEFAULT '{}',
    ingested_at    timestamptz NOT NULL DEFAULT now(),
    content_hash   text NOT NULL,
    tenant         text NOT NULL DEFAULT '',
    source_group   text NOT NULL DEFAULT '',
    UNIQUE (content_hash, tenant, source_group)
);
CREATE INDEX IF NOT EXISTS %[3]s_partition_idx ON %[1]s (tenant, source_group);
CREATE INDEX IF NOT EXISTS %[3]s_ingested_idx ON %[1]s (ingested_at DESC);

CREATE TABLE IF NOT EXISTS %[2]s (
    id             text PRIMARY KEY,
    document_id    text NOT NULL REFERENCES %[1]s(id),
    chunk_index    integer NOT NULL,
    content        text NOT NULL,
    token_count    integer NOT NULL,
    embedding      vector(%[5]d) NOT NULL,
    content_hash   text NOT NULL,
    context        text[] NOT NULL DEFAULT '{}',
    chunker_method text NOT NULL,
    metadata       jsonb NOT NULL DEFAULT '{}',
    tenant         text NOT NULL DEFAULT '',
    source_group   text NOT NULL DEFAULT '',
    UNIQUE (content_hash, tenant, source_group)
);
CREATE INDEX IF NOT EXISTS %[4]s_document_idx ON %[2]s (document_id);
CREATE INDEX IF NOT EXISTS %[6]s ON %[2]s USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS %[7]s ON %[2]s USING gin (to_tsvector('english', content));
CREATE INDEX IF NOT EXISTS %[4]s_trgm_idx ON %[2]s USING gin (content gin_trgm_ops);

CREATE TABLE IF NOT EXISTS readings (
    id            text PRIMARY KEY,
    url           text NOT NULL,
    url_kind      text NOT NULL,
    title         text NOT NULL DEFAULT '',
    summary       text NOT NULL DEFAULT '',
    key_points    text[] NOT NULL DEFAULT '{}',
    related_links jsonb NOT NULL DEFAULT '[]',
    kind_specific jsonb NOT NULL DEFAULT '{}',
    document_id   text REFERENCES %[1]s(id),
    tenant        text NOT NULL DEFAULT '',
    created_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS readings_tenant_created_idx ON readings (tenant, created_at DESC);
`,
		docs, chunks,
		s.cfg.DocumentsTable, s.cfg.ChunksTable,
		s.dims,
		quoteIdent(s.cfg.VectorIndexName), quoteIdent(s.cfg.TextIndexName))
}

// CheckSchema verifies the relations and the operator-created vector and
// text indexes exist. Missing pieces are aggregated into one index_missing
// error whose suggestion carries the DDL to run.
func (s *PostgresStore) CheckSchema(ctx context.Context) error {
	var missing []string

	for _, table := range []string{s.cfg.DocumentsTable, s.cfg.ChunksTable, "readings"} {
		ok, err := s.relationExists(ctx, table)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, "table "+table)
		}
	}

	for _, index := range []string{s.cfg.VectorIndexName, s.cfg.TextIndexName} {
		ok, err := s.indexExists(ctx, index)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, "index "+index)
		}
	}

	if len(missing) > 0 {
		return kberr.Newf(kberr.CodeIndexMissing, "store schema incomplete: missing %s", strings.Join(missing, ", ")).
			WithDetail("capability", "document_store_schema").
			WithSuggestion("run as a Postgres superuser:\n" + s.SchemaDDL())
	}
	return nil
}

func (s *PostgresStore) relationExists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`, name).Scan(&ok)
	if err != nil {
		return false, kberr.Wrap(kberr.CodeDependencyUnavailable, err).
			WithDetail("capability", "document_store_connect")
	}
	return ok, nil
}

func (s *PostgresStore) indexExists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1)`, name).Scan(&ok)
	if err != nil {
		return false, kberr.Wrap(kberr.CodeDependencyUnavailable, err).
			WithDetail("capability", "document_store_connect")
	}
	return ok, nil
}
