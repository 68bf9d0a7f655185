// Package search is the retrieval engine: concurrent vector and lexical
// search fused with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/candlekeep/candlekeep/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch).
const DefaultRRFConstant = 60

// FusedResult is one chunk after RRF fusion.
type FusedResult struct {
	ChunkID     string
	RRFScore    float64
	VecScore    float64 // Original similarity, preserved for display
	VecRank     int     // 1-indexed, 0 when absent from the vector list
	TextScore   float64
	TextRank    int // 1-indexed, 0 when absent from the lexical list
	InBothLists bool
}

// RRFFusion combines ranked lists using Reciprocal Rank Fusion:
//
//	score(d) = Σ_lists 1 / (C + rank_in_list)
//
// with 1-indexed ranks. A chunk absent from a list gets no contribution
// from it.
type RRFFusion struct {
	C int
}

// NewRRFFusion creates a fusion instance; c <= 0 selects the default.
func NewRRFFusion(c int) *RRFFusion {
	if c <= 0 {
		c = DefaultRRFConstant
	}
	return &RRFFusion{C: c}
}

// Fuse combines vector and lexical hits. Results come back sorted by fused
// score descending with chunk id ascending as the tie-break.
func (f *RRFFusion) Fuse(vec, text []store.SearchHit) []*FusedResult {
	if len(vec) == 0 && len(text) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(vec)+len(text))
	getOrCreate := func(id string) *FusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		scores[id] = r
		return r
	}

	for rank, hit := range vec {
		r := getOrCreate(hit.ChunkID)
		r.VecScore = hit.Score
		r.VecRank = rank + 1
		r.RRFScore += 1.0 / float64(f.C+rank+1)
	}
	for rank, hit := range text {
		r := getOrCreate(hit.ChunkID)
		r.TextScore = hit.Score
		r.TextRank = rank + 1
		r.RRFScore += 1.0 / float64(f.C+rank+1)
		if r.VecRank > 0 {
			r.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	return results
}
