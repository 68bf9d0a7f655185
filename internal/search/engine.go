package search

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/embed"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeLexical  Mode = "lexical"
	ModeHybrid   Mode = "hybrid"
)

// Result limits used when the configuration leaves them unset.
const (
	DefaultMatchCount = 5
	MaxMatchCount     = 50
	// minCandidates floors the per-branch working set so RRF has enough
	// overlap to be meaningful at small k.
	minCandidates = 20
)

// QueryOptions parameterise one query.
type QueryOptions struct {
	Text   string
	K      int
	Filter store.Filter
	Mode   Mode
}

// QueryInfo annotates a result set.
type QueryInfo struct {
	Degraded bool   `json:"degraded"`
	Warning  string `json:"warning,omitempty"`
}

// Result is one hydrated chunk with its retrieval score.
type Result struct {
	Chunk         *store.Chunk `json:"chunk"`
	DocumentTitle string       `json:"document_title"`
	SourceLocator string       `json:"source_locator"`
	Score         float64      `json:"score"`
}

// Engine runs queries against the store.
type Engine struct {
	store    store.DocumentStore
	embedder embed.Embedder
	fusion   *RRFFusion
	defaultK int
	maxK     int
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. Zero values in cfg select the
// package defaults (C=60, k=5, cap 50).
func NewEngine(st store.DocumentStore, embedder embed.Embedder, cfg config.SearchConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	defaultK := cfg.DefaultMatchCount
	if defaultK <= 0 {
		defaultK = DefaultMatchCount
	}
	maxK := cfg.MaxMatchCount
	if maxK <= 0 {
		maxK = MaxMatchCount
	}
	return &Engine{
		store:    st,
		embedder: embedder,
		fusion:   NewRRFFusion(cfg.RRFConstant),
		defaultK: defaultK,
		maxK:     maxK,
		logger:   logger,
	}
}

// Query runs one retrieval. In hybrid mode both branches fan out
// concurrently; if one fails the other's results are returned with a
// degradation warning, and only a double failure is an error.
func (e *Engine) Query(ctx context.Context, opts QueryOptions) ([]Result, QueryInfo, error) {
	info := QueryInfo{}

	if opts.Text == "" {
		return nil, info, kberr.Newf(kberr.CodeQueryEmpty, "query text is empty")
	}
	if opts.K <= 0 {
		opts.K = e.defaultK
	}
	if opts.K > e.maxK {
		return nil, info, kberr.Newf(kberr.CodeInvalidInput,
			"match count %d exceeds the configured maximum of %d", opts.K, e.maxK)
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}

	kCandidate := max(opts.K*4, minCandidates)

	var hits []store.SearchHit
	switch opts.Mode {
	case ModeLexical:
		var err error
		hits, err = e.store.TextSearch(ctx, opts.Text, kCandidate, opts.Filter)
		if err != nil {
			return nil, info, e.classifySearchErr(ctx, err)
		}

	case ModeSemantic:
		embedding, err := e.embedQuery(ctx, opts.Text)
		if err != nil {
			return nil, info, err
		}
		hits, err = e.store.VectorSearch(ctx, embedding, kCandidate, opts.Filter)
		if err != nil {
			return nil, info, e.classifySearchErr(ctx, err)
		}

	case ModeHybrid:
		var err error
		hits, info, err = e.hybrid(ctx, opts, kCandidate)
		if err != nil {
			return nil, info, err
		}

	default:
		return nil, info, kberr.Newf(kberr.CodeInvalidInput, "unknown search mode %q", opts.Mode)
	}

	if len(hits) > opts.K {
		hits = hits[:opts.K]
	}
	if len(hits) == 0 {
		return []Result{}, info, nil
	}

	results, err := e.hydrate(ctx, hits)
	if err != nil {
		return nil, info, err
	}
	return results, info, nil
}

// hybrid fans out over both branches and fuses. The query embedding is
// computed before either branch starts.
func (e *Engine) hybrid(ctx context.Context, opts QueryOptions, kCandidate int) ([]store.SearchHit, QueryInfo, error) {
	info := QueryInfo{}

	embedding, err := e.embedQuery(ctx, opts.Text)
	if err != nil {
		// No embedding means no semantic branch; fall through to lexical
		// rather than failing the whole query.
		e.logger.Warn("query embedding failed, lexical only", slog.String("error", err.Error()))
		hits, lexErr := e.store.TextSearch(ctx, opts.Text, kCandidate, opts.Filter)
		if lexErr != nil {
			return nil, info, e.classifySearchErr(ctx, lexErr)
		}
		info.Degraded = true
		info.Warning = "semantic search unavailable: " + err.Error()
		return hits, info, nil
	}

	var vecHits, textHits []store.SearchHit
	var vecErr, textErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecHits, vecErr = e.store.VectorSearch(gctx, embedding, kCandidate, opts.Filter)
		return nil
	})
	g.Go(func() error {
		textHits, textErr = e.store.TextSearch(gctx, opts.Text, kCandidate, opts.Filter)
		return nil
	})
	_ = g.Wait()

	switch {
	case vecErr != nil && textErr != nil:
		e.logger.Error("both search branches failed",
			slog.String("vector_error", vecErr.Error()),
			slog.String("text_error", textErr.Error()))
		return nil, info, e.classifySearchErr(ctx, vecErr)

	case vecErr != nil:
		info.Degraded = true
		info.Warning = "vector search unavailable: " + vecErr.Error()
		return textHits, info, nil

	case textErr != nil:
		info.Degraded = true
		info.Warning = "lexical search unavailable: " + textErr.Error()
		return vecHits, info, nil
	}

	fused := e.fusion.Fuse(vecHits, textHits)
	hits := make([]store.SearchHit, len(fused))
	for i, f := range fused {
		hits[i] = store.SearchHit{ChunkID: f.ChunkID, Score: f.RRFScore}
	}
	return hits, info, nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kberr.FromContext(ctx.Err(), "query embedding")
		}
		return nil, err
	}
	return embedding, nil
}

// hydrate joins surviving hits with their documents in one batch,
// preserving score order.
func (e *Engine) hydrate(ctx context.Context, hits []store.SearchHit) ([]Result, error) {
	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		scoreByID[h.ChunkID] = h.Score
	}

	hydrated, err := e.store.HydrateChunks(ctx, ids)
	if err != nil {
		return nil, e.classifySearchErr(ctx, err)
	}

	results := make([]Result, 0, len(hydrated))
	for _, h := range hydrated {
		results = append(results, Result{
			Chunk:         h.Chunk,
			DocumentTitle: h.DocumentTitle,
			SourceLocator: h.SourceLocator,
			Score:         scoreByID[h.Chunk.ID],
		})
	}
	return results, nil
}

func (e *Engine) classifySearchErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return kberr.FromContext(ctx.Err(), "search")
	}
	var ke *kberr.Error
	if errors.As(err, &ke) {
		return err
	}
	return kberr.Wrap(kberr.CodeSearchFailed, err)
}
