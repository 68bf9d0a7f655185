package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks provider calls so cache behavior is observable.
type countingEmbedder struct {
	embedCalls int
	batchCalls int
	batchTexts []string
	model      string
	err        error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.embedCalls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	c.batchTexts = append([]string(nil), texts...)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) ModelName() string {
	if c.model != "" {
		return c.model
	}
	return "counting"
}
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                     { return nil }

func TestCachedEmbedder_EmbedHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)

	first, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	// Given: one text already cached
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)
	_, err := cached.Embed(context.Background(), "warm")
	require.NoError(t, err)

	// When: batching a mix of cached and new texts
	results, err := cached.EmbedBatch(context.Background(), []string{"warm", "cold", "warm"})

	// Then: only the miss goes to the provider; order is preserved
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, results[0], results[2])
	assert.Equal(t, 1, inner.batchCalls)
	assert.Equal(t, []string{"cold"}, inner.batchTexts)
}

func TestCachedEmbedder_FullyCachedBatchSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)
	_, err := cached.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	_, err = cached.EmbedBatch(context.Background(), []string{"b", "a"})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.batchCalls)
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "x")
	require.Error(t, err)

	inner.err = nil
	vec, err := cached.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.Equal(t, 2, inner.embedCalls)
}

func TestCachedEmbedder_KeyIncludesModelName(t *testing.T) {
	// Two embedders with different models must not share entries even for
	// identical text.
	a := NewCachedEmbedder(&countingEmbedder{model: "model-a"}, 10)
	b := NewCachedEmbedder(&countingEmbedder{model: "model-b"}, 10)

	assert.NotEqual(t, a.cacheKey("same text"), b.cacheKey("same text"))
}

func TestCachedEmbedder_PassThroughs(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 2, cached.Dimensions())
	assert.Equal(t, "counting", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
}
