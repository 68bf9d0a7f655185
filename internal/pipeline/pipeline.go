// Package pipeline runs the ingestion workflow: fetch, convert, fingerprint,
// chunk, embed, upsert. One call processes one source descriptor, which can
// fan out into many documents when crawling.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/candlekeep/candlekeep/internal/chunk"
	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/convert"
	"github.com/candlekeep/candlekeep/internal/embed"
	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

// Warning records a classified non-fatal failure against one source.
type Warning struct {
	Locator string `json:"locator"`
	Step    string `json:"step"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report summarises one Ingest call.
type Report struct {
	DocumentsIngested  int       `json:"documents_ingested"`
	DocumentsUnchanged int       `json:"documents_unchanged"`
	ChunksIngested     int       `json:"chunks_ingested"`
	Warnings           []Warning `json:"warnings"`
}

// AllFailed reports whether no source came through, neither freshly
// ingested nor recognised as unchanged. A job whose report says so is
// recorded as failed rather than finished-with-warnings.
func (r *Report) AllFailed() bool {
	return r.DocumentsIngested == 0 && r.DocumentsUnchanged == 0 && len(r.Warnings) > 0
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	fetcher   *fetch.Fetcher
	converter *convert.Converter
	embedder  embed.Embedder
	store     store.DocumentStore
	cfg       config.IngestConfig
	logger    *slog.Logger
}

// New creates a pipeline.
func New(fetcher *fetch.Fetcher, converter *convert.Converter, embedder embed.Embedder,
	st store.DocumentStore, cfg config.IngestConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:   fetcher,
		converter: converter,
		embedder:  embedder,
		store:     st,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ingest processes one source descriptor end to end. Per-source failures are
// recorded as warnings and do not fail the call; only context expiry does.
// Re-ingesting unchanged content short-circuits on the document hash and
// reports zero new chunks.
func (p *Pipeline) Ingest(ctx context.Context, desc fetch.SourceDescriptor) (*Report, error) {
	report := &Report{Warnings: []Warning{}}

	sources, err := p.fetcher.Fetch(ctx, desc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kberr.FromContext(ctx.Err(), "fetch")
		}
		report.Warnings = append(report.Warnings, classify(desc.Locator, "fetch", err))
		return report, nil
	}

	filter := store.Filter{Tenant: desc.Tenant, SourceGroup: desc.SourceGroup}
	for _, src := range sources {
		if ctx.Err() != nil {
			return nil, kberr.FromContext(ctx.Err(), "ingest")
		}
		p.ingestSource(ctx, src, desc, filter, report)
	}

	return report, nil
}

// ingestSource runs one fetched source through convert, fingerprint, chunk,
// embed, and upsert, appending outcomes to the report.
func (p *Pipeline) ingestSource(ctx context.Context, src fetch.RawSource,
	desc fetch.SourceDescriptor, filter store.Filter, report *Report) {

	doc, err := p.converter.Convert(ctx, convert.Source{
		Bytes:       src.Bytes,
		Kind:        src.Kind,
		Locator:     src.Locator,
		ContentType: src.ContentType,
	})
	if err != nil {
		report.Warnings = append(report.Warnings, classify(src.Locator, "convert", err))
		return
	}
	if doc.Text == "" {
		report.Warnings = append(report.Warnings, Warning{
			Locator: src.Locator, Step: "convert",
			Code: kberr.CodeSourceCorrupt, Message: "conversion produced no text",
		})
		return
	}

	hash := sha256.Sum256([]byte(doc.Text))
	contentHash := hex.EncodeToString(hash[:])

	existingID, err := p.store.GetDocumentByHash(ctx, contentHash, filter)
	if err != nil {
		report.Warnings = append(report.Warnings, classify(src.Locator, "fingerprint", err))
		return
	}
	if existingID != "" {
		p.logger.Debug("document unchanged, skipping",
			slog.String("locator", src.Locator),
			slog.String("document_id", existingID))
		report.DocumentsUnchanged++
		return
	}

	fragments := chunk.Split(doc, p.cfg.MaxTokensPerChunk)
	if len(fragments) == 0 {
		report.Warnings = append(report.Warnings, Warning{
			Locator: src.Locator, Step: "chunk",
			Code: kberr.CodeSourceCorrupt, Message: "document produced no chunks",
		})
		return
	}

	// One logical batch per document. A failed batch fails the whole source:
	// partially embedded documents would break hybrid search coverage.
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		report.Warnings = append(report.Warnings, classify(src.Locator, "embed", err))
		return
	}

	title := doc.Title
	if title == "" {
		title = src.Locator
	}
	documentID, err := p.store.UpsertDocument(ctx, &store.Document{
		Title:         title,
		SourceLocator: src.Locator,
		SourceKind:    src.Kind,
		Content:       doc.Text,
		Frontmatter:   doc.Frontmatter,
		ContentHash:   contentHash,
		Tenant:        desc.Tenant,
		SourceGroup:   desc.SourceGroup,
	})
	if err != nil {
		report.Warnings = append(report.Warnings, classify(src.Locator, "upsert_document", err))
		return
	}

	ingested := p.upsertChunks(ctx, documentID, fragments, embeddings, desc, report, src.Locator)

	report.DocumentsIngested++
	report.ChunksIngested += ingested
	p.logger.Info("source ingested",
		slog.String("locator", src.Locator),
		slog.String("document_id", documentID),
		slog.Int("chunks", ingested))
}

// upsertChunks writes chunks with bounded parallelism. The document row is
// already in place, so chunk rows never dangle. A failed chunk is a warning;
// a concurrent duplicate counts as written.
func (p *Pipeline) upsertChunks(ctx context.Context, documentID string,
	fragments []chunk.Fragment, embeddings [][]float32,
	desc fetch.SourceDescriptor, report *Report, locator string) int {

	concurrency := p.cfg.UpsertConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	ingested := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range fragments {
		frag := fragments[i]
		embedding := embeddings[i]
		g.Go(func() error {
			fragHash := sha256.Sum256([]byte(frag.Content))
			_, err := p.store.UpsertChunk(gctx, &store.Chunk{
				DocumentID:    documentID,
				ChunkIndex:    frag.Index,
				Content:       frag.Content,
				TokenCount:    frag.TokenCount,
				Embedding:     embedding,
				ContentHash:   hex.EncodeToString(fragHash[:]),
				Context:       frag.Context,
				ChunkerMethod: frag.Method,
				Metadata:      frag.Attrs,
				Tenant:        desc.Tenant,
				SourceGroup:   desc.SourceGroup,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ingested++
			case kberr.KindOf(err) == kberr.KindUpsertConflict:
				// Lost a race with an identical chunk; the content is there.
				ingested++
			default:
				report.Warnings = append(report.Warnings, classify(locator, "upsert_chunk", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return ingested
}

// classify renders an error as a report warning carrying its code.
func classify(locator, step string, err error) Warning {
	return Warning{
		Locator: locator,
		Step:    step,
		Code:    kberr.CodeOf(err),
		Message: err.Error(),
	}
}
