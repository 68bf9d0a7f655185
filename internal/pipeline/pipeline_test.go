package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/convert"
	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

// recordingStore captures upserts and answers hash lookups from memory.
type recordingStore struct {
	store.DocumentStore

	mu        sync.Mutex
	hashes    map[string]string // content hash -> document id
	documents []*store.Document
	chunks    []*store.Chunk
	chunkErr  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{hashes: map[string]string{}}
}

func (r *recordingStore) GetDocumentByHash(_ context.Context, hash string, _ store.Filter) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hashes[hash], nil
}

func (r *recordingStore) UpsertDocument(_ context.Context, doc *store.Document) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := "doc-1"
	r.hashes[doc.ContentHash] = id
	r.documents = append(r.documents, doc)
	return id, nil
}

func (r *recordingStore) UpsertChunk(_ context.Context, c *store.Chunk) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunkErr != nil {
		return "", r.chunkErr
	}
	r.chunks = append(r.chunks, c)
	return "chunk", nil
}

// unitEmbedder returns a fixed vector, or an error when armed.
type unitEmbedder struct {
	err error
}

func (u *unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if u.err != nil {
		return nil, u.err
	}
	return []float32{1, 0, 0}, nil
}

func (u *unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if u.err != nil {
		return nil, u.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (u *unitEmbedder) Dimensions() int                  { return 3 }
func (u *unitEmbedder) ModelName() string                { return "unit" }
func (u *unitEmbedder) Available(_ context.Context) bool { return u.err == nil }
func (u *unitEmbedder) Close() error                     { return nil }

func newTestPipeline(st store.DocumentStore, emb *unitEmbedder) *Pipeline {
	fetcher := fetch.New(fetch.Options{})
	converter := convert.New(nil, nil)
	cfg := config.IngestConfig{MaxTokensPerChunk: 512, UpsertConcurrency: 2}
	return New(fetcher, converter, emb, st, cfg, nil)
}

func writeTempMarkdown(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIngest_LocalMarkdownFile(t *testing.T) {
	// Given: a markdown file with two sections
	path := writeTempMarkdown(t, `# Title

Intro paragraph with enough words to survive chunking.

## Details

More body text under the second heading.
`)
	st := newRecordingStore()
	p := newTestPipeline(st, &unitEmbedder{})

	// When: ingesting it as a local file
	report, err := p.Ingest(context.Background(), fetch.SourceDescriptor{
		Kind:    store.SourceKindLocalFile,
		Locator: path,
		Tenant:  "t1",
	})

	// Then: one document and its chunks are stored, with no warnings
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocumentsIngested)
	assert.Equal(t, 0, report.DocumentsUnchanged)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, len(st.chunks), report.ChunksIngested)
	require.NotEmpty(t, st.chunks)

	require.Len(t, st.documents, 1)
	doc := st.documents[0]
	assert.Equal(t, "Title", doc.Title)
	assert.Equal(t, path, doc.SourceLocator)
	assert.Equal(t, "t1", doc.Tenant)
	assert.Len(t, doc.ContentHash, 64)

	for _, c := range st.chunks {
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Len(t, c.Embedding, 3)
		assert.Len(t, c.ContentHash, 64)
		assert.Equal(t, "t1", c.Tenant)
	}
}

func TestIngest_UnchangedContentShortCircuits(t *testing.T) {
	// Given: the same file ingested twice
	path := writeTempMarkdown(t, "# Same\n\nIdentical content both times.\n")
	st := newRecordingStore()
	p := newTestPipeline(st, &unitEmbedder{})
	desc := fetch.SourceDescriptor{Kind: store.SourceKindLocalFile, Locator: path}

	_, err := p.Ingest(context.Background(), desc)
	require.NoError(t, err)
	chunksAfterFirst := len(st.chunks)

	// When: ingesting again
	report, err := p.Ingest(context.Background(), desc)

	// Then: the hash short-circuit skips all work
	require.NoError(t, err)
	assert.Equal(t, 0, report.DocumentsIngested)
	assert.Equal(t, 1, report.DocumentsUnchanged)
	assert.Equal(t, 0, report.ChunksIngested)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, chunksAfterFirst, len(st.chunks))
	assert.False(t, report.AllFailed())
}

func TestIngest_MissingFileIsAWarning(t *testing.T) {
	st := newRecordingStore()
	p := newTestPipeline(st, &unitEmbedder{})

	report, err := p.Ingest(context.Background(), fetch.SourceDescriptor{
		Kind:    store.SourceKindLocalFile,
		Locator: "/does/not/exist.md",
	})

	// The call succeeds; the failure is classified into the report.
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "fetch", report.Warnings[0].Step)
	assert.Equal(t, kberr.CodeSourceUnreadable, report.Warnings[0].Code)
	assert.True(t, report.AllFailed())
}

func TestIngest_EmbedFailureFailsTheSource(t *testing.T) {
	// Given: an embedder that always fails
	path := writeTempMarkdown(t, "# Doc\n\nBody text.\n")
	st := newRecordingStore()
	p := newTestPipeline(st, &unitEmbedder{err: errors.New("provider down")})

	report, err := p.Ingest(context.Background(), fetch.SourceDescriptor{
		Kind:    store.SourceKindLocalFile,
		Locator: path,
	})

	// Then: nothing is stored; the embed step is reported
	require.NoError(t, err)
	assert.Empty(t, st.documents)
	assert.Empty(t, st.chunks)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "embed", report.Warnings[0].Step)
	assert.True(t, report.AllFailed())
}

func TestIngest_ConflictCountsAsIngested(t *testing.T) {
	// Given: every chunk write loses a race with an identical chunk
	path := writeTempMarkdown(t, "# Doc\n\nBody text for the conflict case.\n")
	st := newRecordingStore()
	st.chunkErr = kberr.Newf(kberr.CodeUpsertConflict, "duplicate chunk hash")
	p := newTestPipeline(st, &unitEmbedder{})

	report, err := p.Ingest(context.Background(), fetch.SourceDescriptor{
		Kind:    store.SourceKindLocalFile,
		Locator: path,
	})

	// Then: conflicts count as successes and produce no warnings
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocumentsIngested)
	assert.Greater(t, report.ChunksIngested, 0)
	assert.Empty(t, report.Warnings)
}

func TestIngest_ExpiredContextIsFatal(t *testing.T) {
	path := writeTempMarkdown(t, "# Doc\n\nBody.\n")
	st := newRecordingStore()
	p := newTestPipeline(st, &unitEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ingest(ctx, fetch.SourceDescriptor{
		Kind:    store.SourceKindLocalFile,
		Locator: path,
	})

	require.Error(t, err)
}

func TestReport_AllFailed(t *testing.T) {
	assert.False(t, (&Report{}).AllFailed())
	assert.False(t, (&Report{DocumentsIngested: 1, Warnings: []Warning{{}}}).AllFailed())
	assert.False(t, (&Report{DocumentsUnchanged: 1, Warnings: []Warning{{}}}).AllFailed())
	assert.True(t, (&Report{Warnings: []Warning{{Message: "boom"}}}).AllFailed())
}
