package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

func testEngineCfg() config.SearchConfig {
	return config.SearchConfig{RRFConstant: 60}
}

// fakeStore implements store.DocumentStore with pluggable search behavior.
type fakeStore struct {
	store.DocumentStore

	vectorHits []store.SearchHit
	vectorErr  error
	textHits   []store.SearchHit
	textErr    error
}

func (f *fakeStore) VectorSearch(_ context.Context, _ []float32, _ int, _ store.Filter) ([]store.SearchHit, error) {
	return f.vectorHits, f.vectorErr
}

func (f *fakeStore) TextSearch(_ context.Context, _ string, _ int, _ store.Filter) ([]store.SearchHit, error) {
	return f.textHits, f.textErr
}

func (f *fakeStore) HydrateChunks(_ context.Context, chunkIDs []string) ([]*store.HydratedChunk, error) {
	out := make([]*store.HydratedChunk, len(chunkIDs))
	for i, id := range chunkIDs {
		out[i] = &store.HydratedChunk{
			Chunk:         &store.Chunk{ID: id, Content: "content of " + id},
			DocumentTitle: "doc for " + id,
			SourceLocator: "loc://" + id,
		}
	}
	return out, nil
}

// fakeEmbedder implements embed.Embedder.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                  { return 3 }
func (f *fakeEmbedder) ModelName() string                { return "fake-model" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) Close() error                     { return nil }

func TestEngine_EmptyQueryRejected(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, testEngineCfg(), nil)

	_, _, err := engine.Query(context.Background(), QueryOptions{Text: ""})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeQueryEmpty, kberr.CodeOf(err))
}

func TestEngine_MatchCountCapped(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, testEngineCfg(), nil)

	_, _, err := engine.Query(context.Background(), QueryOptions{Text: "q", K: MaxMatchCount + 1})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeInvalidInput, kberr.CodeOf(err))
}

func TestEngine_ConfiguredMatchCountCapEnforced(t *testing.T) {
	// Given: an operator-lowered cap
	st := &fakeStore{
		vectorHits: []store.SearchHit{{ChunkID: "A", Score: 0.9}},
		textHits:   []store.SearchHit{{ChunkID: "A", Score: 1.1}},
	}
	cfg := config.SearchConfig{RRFConstant: 60, DefaultMatchCount: 5, MaxMatchCount: 10}
	engine := NewEngine(st, &fakeEmbedder{}, cfg, nil)

	// When: k exceeds the configured cap but not the package default
	_, _, err := engine.Query(context.Background(), QueryOptions{Text: "q", K: 30, Mode: ModeHybrid})

	// Then: the query is rejected up front
	require.Error(t, err)
	assert.Equal(t, kberr.CodeInvalidInput, kberr.CodeOf(err))
	assert.Contains(t, err.Error(), "configured maximum of 10")

	// k at the cap passes
	_, _, err = engine.Query(context.Background(), QueryOptions{Text: "q", K: 10, Mode: ModeHybrid})
	require.NoError(t, err)
}

func TestEngine_ConfiguredDefaultMatchCountApplied(t *testing.T) {
	st := &fakeStore{
		vectorHits: hits("A", "B", "C", "D"),
		textHits:   hits("A", "B", "C", "D"),
	}
	cfg := config.SearchConfig{RRFConstant: 60, DefaultMatchCount: 2, MaxMatchCount: 10}
	engine := NewEngine(st, &fakeEmbedder{}, cfg, nil)

	results, _, err := engine.Query(context.Background(), QueryOptions{Text: "q", Mode: ModeHybrid})

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngine_UnknownModeRejected(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, testEngineCfg(), nil)

	_, _, err := engine.Query(context.Background(), QueryOptions{Text: "q", Mode: Mode("psychic")})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeInvalidInput, kberr.CodeOf(err))
}

func TestEngine_SemanticMode(t *testing.T) {
	// Given: only the vector branch has results
	st := &fakeStore{
		vectorHits: []store.SearchHit{
			{ChunkID: "c1", Score: 0.95},
			{ChunkID: "c2", Score: 0.80},
		},
		textErr: errors.New("must not be called"),
	}
	engine := NewEngine(st, &fakeEmbedder{}, testEngineCfg(), nil)

	// When: querying in semantic mode
	results, info, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", K: 5, Mode: ModeSemantic,
	})

	// Then: results come back hydrated in score order
	require.NoError(t, err)
	assert.False(t, info.Degraded)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.Equal(t, "doc for c1", results[0].DocumentTitle)
	assert.Equal(t, "loc://c1", results[0].SourceLocator)
	assert.InDelta(t, 0.95, results[0].Score, 1e-9)
	assert.Equal(t, "c2", results[1].Chunk.ID)
}

func TestEngine_HybridFusesBothBranches(t *testing.T) {
	// Given: overlapping branch results
	st := &fakeStore{
		vectorHits: []store.SearchHit{{ChunkID: "A", Score: 0.9}, {ChunkID: "B", Score: 0.8}},
		textHits:   []store.SearchHit{{ChunkID: "A", Score: 2.1}, {ChunkID: "C", Score: 1.7}},
	}
	engine := NewEngine(st, &fakeEmbedder{}, testEngineCfg(), nil)

	// When: querying in hybrid mode
	results, info, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", K: 5, Mode: ModeHybrid,
	})

	// Then: the chunk present in both lists wins
	require.NoError(t, err)
	assert.False(t, info.Degraded)
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].Chunk.ID)
	assert.InDelta(t, 2.0/61.0, results[0].Score, 1e-12)
}

func TestEngine_HybridTruncatesToK(t *testing.T) {
	st := &fakeStore{
		vectorHits: hits("A", "B", "C", "D", "E"),
		textHits:   hits("F", "G", "H"),
	}
	engine := NewEngine(st, &fakeEmbedder{}, testEngineCfg(), nil)

	results, _, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", K: 2, Mode: ModeHybrid,
	})

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngine_HybridDegradesWhenTextFails(t *testing.T) {
	// Given: the lexical branch is down
	st := &fakeStore{
		vectorHits: []store.SearchHit{{ChunkID: "A", Score: 0.9}},
		textErr:    errors.New("tsvector blew up"),
	}
	engine := NewEngine(st, &fakeEmbedder{}, testEngineCfg(), nil)

	// When: querying in hybrid mode
	results, info, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", K: 5, Mode: ModeHybrid,
	})

	// Then: vector results come back with a degradation warning
	require.NoError(t, err)
	assert.True(t, info.Degraded)
	assert.Contains(t, info.Warning, "lexical search unavailable")
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Chunk.ID)
}

func TestEngine_HybridDegradesWhenEmbeddingFails(t *testing.T) {
	// Given: the embedder is down but lexical search works
	st := &fakeStore{
		textHits: []store.SearchHit{{ChunkID: "B", Score: 1.2}},
	}
	engine := NewEngine(st, &fakeEmbedder{err: errors.New("provider offline")}, testEngineCfg(), nil)

	// When: querying in hybrid mode
	results, info, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", K: 5, Mode: ModeHybrid,
	})

	// Then: the query degrades to lexical only
	require.NoError(t, err)
	assert.True(t, info.Degraded)
	assert.Contains(t, info.Warning, "semantic search unavailable")
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].Chunk.ID)
}

func TestEngine_HybridFailsWhenBothBranchesFail(t *testing.T) {
	st := &fakeStore{
		vectorErr: errors.New("vector down"),
		textErr:   errors.New("text down"),
	}
	engine := NewEngine(st, &fakeEmbedder{}, testEngineCfg(), nil)

	_, _, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", K: 5, Mode: ModeHybrid,
	})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeSearchFailed, kberr.CodeOf(err))
}

func TestEngine_NoResultsIsNotAnError(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, testEngineCfg(), nil)

	results, info, err := engine.Query(context.Background(), QueryOptions{
		Text: "q", Mode: ModeHybrid,
	})

	require.NoError(t, err)
	assert.False(t, info.Degraded)
	require.NotNil(t, results)
	assert.Empty(t, results)
}
