package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candlekeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 512, cfg.Ingest.MaxTokensPerChunk)
	assert.Equal(t, 15*time.Minute, cfg.Queue.VisibilityTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  uri: postgres://db.internal:5432/kb
embeddings:
  model: mxbai-embed-large
  dimensions: 1024
search:
  rrf_constant: 90
queue:
  visibility_timeout: 5m
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5432/kb", cfg.Store.URI)
	assert.Equal(t, "mxbai-embed-large", cfg.Embeddings.Model)
	assert.Equal(t, 1024, cfg.Embeddings.Dimensions)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, "ingest", cfg.Queue.Name)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
embeddings:
  model: from-file
`)
	t.Setenv("CANDLEKEEP_EMBEDDER_MODEL", "from-env")
	t.Setenv("CANDLEKEEP_RRF_CONSTANT", "75")
	t.Setenv("CANDLEKEEP_PER_QUERY_TIMEOUT_SECONDS", "12")
	t.Setenv("CANDLEKEEP_BROWSER_ENABLED", "true")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Embeddings.Model)
	assert.Equal(t, 75, cfg.Search.RRFConstant)
	assert.Equal(t, 12*time.Second, cfg.Search.QueryTimeout)
	assert.True(t, cfg.Ingest.BrowserEnabled)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "store: [not: a: mapping")

	_, err := Load(path)

	require.Error(t, err)
	assert.Equal(t, kberr.CodeConfigInvalid, kberr.CodeOf(err))
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := writeConfig(t, `
store:
  uri: mysql://wrong/scheme
embeddings:
  provider: acme
  dimensions: -1
`)

	_, err := Load(path)

	require.Error(t, err)
	assert.Equal(t, kberr.CodeConfigInvalid, kberr.CodeOf(err))
	assert.Contains(t, err.Error(), "store.uri must be a postgres:// URL")
	assert.Contains(t, err.Error(), `embeddings.provider "acme"`)
	assert.Contains(t, err.Error(), "embeddings.dimensions must be positive")
}

func TestValidate_MatchCountOrdering(t *testing.T) {
	cfg := Default()
	cfg.Search.DefaultMatchCount = 100
	cfg.Search.MaxMatchCount = 50

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_match_count")
}

func TestLoad_EnvIntIgnoredWhenUnparseable(t *testing.T) {
	t.Setenv("CANDLEKEEP_MAX_TOKENS_PER_CHUNK", "lots")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Ingest.MaxTokensPerChunk)
}
