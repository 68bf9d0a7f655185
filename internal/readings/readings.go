// Package readings manages user-saved URLs: a saved link is ingested into
// the knowledge base, summarised by the reasoning LLM, and enriched with
// related links from metasearch. The LLM and metasearch are best-effort;
// their absence degrades the reading instead of failing the save.
package readings

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/pipeline"
	"github.com/candlekeep/candlekeep/internal/store"
)

// URL kinds.
const (
	KindWeb     = "web"
	KindYouTube = "youtube"
)

var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Ingestor runs a descriptor through the ingestion workflow.
type Ingestor interface {
	Ingest(ctx context.Context, desc fetch.SourceDescriptor) (*pipeline.Report, error)
}

// Service saves, lists, and fetches readings.
type Service struct {
	store      store.DocumentStore
	ingestor   Ingestor
	summarizer *Summarizer       // nil when no LLM is configured
	metasearch *MetasearchClient // nil when no metasearch is configured
	logger     *slog.Logger
}

// New creates a readings service from configuration. Optional dependencies
// are constructed only when their endpoints are configured.
func New(st store.DocumentStore, ingestor Ingestor, cfg config.ReadingsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: st, ingestor: ingestor, logger: logger}
	if cfg.LLMBaseURL != "" || cfg.LLMAPIKey != "" {
		s.summarizer = NewSummarizer(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}
	if cfg.MetasearchURL != "" {
		s.metasearch = NewMetasearchClient(cfg.MetasearchURL)
	}
	return s
}

// SaveResult is the outcome of one save.
type SaveResult struct {
	Reading  *Reading         `json:"reading"`
	Degraded []string         `json:"degraded,omitempty"` // Enrichments that were skipped
	Report   *pipeline.Report `json:"report,omitempty"`
}

// Reading is the wire shape of a stored reading.
type Reading struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	URLKind      string              `json:"url_kind"`
	Title        string              `json:"title"`
	Summary      string              `json:"summary,omitempty"`
	KeyPoints    []string            `json:"key_points,omitempty"`
	RelatedLinks []store.RelatedLink `json:"related_links,omitempty"`
	KindSpecific map[string]string   `json:"kind_specific,omitempty"`
	DocumentID   string              `json:"document_id,omitempty"`
	CreatedAt    string              `json:"created_at"`
}

// Save classifies and ingests a URL, enriches it, and persists the reading.
func (s *Service) Save(ctx context.Context, rawURL, tenant string) (*SaveResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, kberr.Newf(kberr.CodeInvalidInput, "not a valid http(s) URL: %s", rawURL)
	}

	kind, kindSpecific := Classify(parsed)

	rec := &store.Reading{
		URL:          rawURL,
		URLKind:      kind,
		KindSpecific: kindSpecific,
		Tenant:       tenant,
	}
	result := &SaveResult{}

	// Ingest the page content into the knowledge base. YouTube pages carry
	// little article text; the save still records the link.
	report, err := s.ingestor.Ingest(ctx, fetch.SourceDescriptor{
		Kind:        store.SourceKindWebURL,
		Locator:     rawURL,
		Tenant:      tenant,
		SourceGroup: "readings",
	})
	if err != nil {
		return nil, err
	}
	result.Report = report

	filter := store.Filter{Tenant: tenant, SourceGroup: "readings"}
	doc := s.lookupIngestedDocument(ctx, rawURL, filter)
	if doc != nil {
		rec.DocumentID = doc.ID
		rec.Title = doc.Title
	}
	if rec.Title == "" {
		rec.Title = rawURL
	}

	s.enrich(ctx, rec, doc, result)

	id, err := s.store.SaveReading(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id

	s.logger.Info("reading saved",
		slog.String("reading_id", id),
		slog.String("url", rawURL),
		slog.String("kind", kind))

	result.Reading = toWire(rec)
	return result, nil
}

// enrich fills summary, key points, and related links, downgrading each
// enrichment independently when its dependency is absent or failing.
func (s *Service) enrich(ctx context.Context, rec *store.Reading, doc *store.Document, result *SaveResult) {
	if s.summarizer == nil {
		result.Degraded = append(result.Degraded, "summary: no reasoning LLM configured")
	} else if doc == nil {
		result.Degraded = append(result.Degraded, "summary: no ingested content to summarise")
	} else {
		summary, keyPoints, err := s.summarizer.Summarize(ctx, rec.Title, doc.Content)
		if err != nil {
			s.logger.Warn("summarisation failed", slog.String("error", err.Error()))
			result.Degraded = append(result.Degraded, "summary: "+err.Error())
		} else {
			rec.Summary = summary
			rec.KeyPoints = keyPoints
		}
	}

	if s.metasearch == nil {
		result.Degraded = append(result.Degraded, "related_links: no metasearch configured")
		return
	}
	links, err := s.metasearch.Related(ctx, rec.Title)
	if err != nil {
		s.logger.Warn("metasearch failed", slog.String("error", err.Error()))
		result.Degraded = append(result.Degraded, "related_links: "+err.Error())
		return
	}
	rec.RelatedLinks = links
}

// lookupIngestedDocument finds the document the pipeline just wrote for this
// URL. Nil when ingestion was short-circuited or produced nothing new and no
// prior document matches.
func (s *Service) lookupIngestedDocument(ctx context.Context, rawURL string, filter store.Filter) *store.Document {
	// The pipeline keys documents by content hash, not locator, so walk the
	// most recent readings-group documents for a locator match.
	doc, err := s.store.GetDocumentBySourceLocator(ctx, rawURL, filter)
	if err != nil || doc == nil {
		return nil
	}
	return doc
}

// Get fetches one reading.
func (s *Service) Get(ctx context.Context, id string) (*Reading, error) {
	rec, err := s.store.GetReading(ctx, id)
	if err != nil {
		return nil, err
	}
	return toWire(rec), nil
}

// List returns readings newest first.
func (s *Service) List(ctx context.Context, tenant string, limit int) ([]*Reading, error) {
	recs, err := s.store.ListReadings(ctx, tenant, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Reading, len(recs))
	for i, rec := range recs {
		out[i] = toWire(rec)
	}
	return out, nil
}

// Classify determines the URL kind and extracts kind-specific identifiers.
func Classify(u *url.URL) (string, map[string]string) {
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); youtubeIDPattern.MatchString(id) {
			return KindYouTube, map[string]string{"video_id": id}
		}
		if strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/embed/") {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 && youtubeIDPattern.MatchString(parts[1]) {
				return KindYouTube, map[string]string{"video_id": parts[1]}
			}
		}
		if strings.HasPrefix(u.Path, "/@") {
			return KindYouTube, map[string]string{"channel": strings.Trim(u.Path, "/")}
		}
		return KindYouTube, map[string]string{}
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if youtubeIDPattern.MatchString(id) {
			return KindYouTube, map[string]string{"video_id": id}
		}
		return KindYouTube, map[string]string{}
	}

	return KindWeb, map[string]string{}
}

func toWire(rec *store.Reading) *Reading {
	return &Reading{
		ID:           rec.ID,
		URL:          rec.URL,
		URLKind:      rec.URLKind,
		Title:        rec.Title,
		Summary:      rec.Summary,
		KeyPoints:    rec.KeyPoints,
		RelatedLinks: rec.RelatedLinks,
		KindSpecific: rec.KindSpecific,
		DocumentID:   rec.DocumentID,
		CreatedAt:    rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
