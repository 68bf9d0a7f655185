package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/store"
)

func hits(ids ...string) []store.SearchHit {
	out := make([]store.SearchHit, len(ids))
	for i, id := range ids {
		out[i] = store.SearchHit{ChunkID: id, Score: 1.0 - float64(i)*0.1}
	}
	return out
}

func TestRRFFusion_ExactScores(t *testing.T) {
	// Given: K ranked first in both lists, L ranked second in both
	vec := hits("K", "L")
	text := hits("K", "L")
	fusion := NewRRFFusion(60)

	// When: fusing
	results := fusion.Fuse(vec, text)

	// Then: score(K) = 1/61 + 1/61, score(L) = 1/62 + 1/62
	require.Len(t, results, 2)
	assert.Equal(t, "K", results[0].ChunkID)
	assert.InDelta(t, 2.0/61.0, results[0].RRFScore, 1e-12)
	assert.Equal(t, "L", results[1].ChunkID)
	assert.InDelta(t, 2.0/62.0, results[1].RRFScore, 1e-12)
}

func TestRRFFusion_SingleListMembership(t *testing.T) {
	// Given: B only in the vector list, C only in the lexical list
	vec := hits("A", "B")
	text := hits("A", "C")
	fusion := NewRRFFusion(60)

	// When: fusing
	results := fusion.Fuse(vec, text)

	// Then: absent lists contribute nothing; ranks record membership
	require.Len(t, results, 3)
	byID := make(map[string]*FusedResult)
	for _, r := range results {
		byID[r.ChunkID] = r
	}

	assert.True(t, byID["A"].InBothLists)
	assert.Equal(t, 1, byID["A"].VecRank)
	assert.Equal(t, 1, byID["A"].TextRank)
	assert.InDelta(t, 2.0/61.0, byID["A"].RRFScore, 1e-12)

	assert.False(t, byID["B"].InBothLists)
	assert.Equal(t, 2, byID["B"].VecRank)
	assert.Equal(t, 0, byID["B"].TextRank)
	assert.InDelta(t, 1.0/62.0, byID["B"].RRFScore, 1e-12)

	assert.False(t, byID["C"].InBothLists)
	assert.Equal(t, 0, byID["C"].VecRank)
	assert.Equal(t, 2, byID["C"].TextRank)
	assert.InDelta(t, 1.0/62.0, byID["C"].RRFScore, 1e-12)
}

func TestRRFFusion_TieBreakOnChunkID(t *testing.T) {
	// Given: two chunks with identical fused scores
	vec := hits("zeta")
	text := hits("alpha")
	fusion := NewRRFFusion(60)

	// When: fusing
	results := fusion.Fuse(vec, text)

	// Then: equal scores order by chunk id ascending
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].RRFScore, results[1].RRFScore, 1e-12)
	assert.Equal(t, "alpha", results[0].ChunkID)
	assert.Equal(t, "zeta", results[1].ChunkID)
}

func TestRRFFusion_SortedDescending(t *testing.T) {
	// Given: overlapping lists of unequal length
	vec := hits("A", "B", "C", "D")
	text := hits("C", "A")
	fusion := NewRRFFusion(60)

	// When: fusing
	results := fusion.Fuse(vec, text)

	// Then: scores never increase down the list
	require.Len(t, results, 4)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].RRFScore, results[i].RRFScore)
	}
	// Original branch scores survive fusion for display.
	for _, r := range results {
		if r.VecRank > 0 {
			assert.Greater(t, r.VecScore, 0.0)
		}
	}
}

func TestRRFFusion_EmptyInputs(t *testing.T) {
	fusion := NewRRFFusion(0)
	assert.Equal(t, DefaultRRFConstant, fusion.C)

	results := fusion.Fuse(nil, nil)
	require.NotNil(t, results)
	assert.Empty(t, results)

	// One empty list degenerates to the other list's ordering.
	results = fusion.Fuse(hits("A", "B"), nil)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].ChunkID)
	assert.Equal(t, "B", results[1].ChunkID)
}
