// Package fetch resolves source descriptors into raw bytes. Web sources can
// fan out into multiple results when crawling is requested; every other kind
// resolves to exactly one.
package fetch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

// SourceDescriptor names one ingestion source. It is the job payload for
// queued ingestion, so every field carries a JSON tag.
type SourceDescriptor struct {
	Kind        store.SourceKind `json:"kind"`
	Locator     string           `json:"locator"`
	Tenant      string           `json:"tenant,omitempty"`
	SourceGroup string           `json:"source_group,omitempty"`
	CrawlDepth  int              `json:"crawl_depth,omitempty"`
	Bytes       []byte           `json:"bytes,omitempty"` // Inline payload for uploaded blobs
	Filename    string           `json:"filename,omitempty"`
}

// RawSource is fetched bytes plus enough metadata for handler selection.
type RawSource struct {
	Bytes       []byte
	ContentType string
	Locator     string
	Kind        store.SourceKind
}

// Fetcher dispatches descriptors to per-kind resolvers.
type Fetcher struct {
	web    *WebFetcher
	drive  *DriveFetcher
	logger *slog.Logger
}

// Options configures New. Web is required; Drive may be nil when no
// credentials are configured.
type Options struct {
	Web    *WebFetcher
	Drive  *DriveFetcher
	Logger *slog.Logger
}

// New creates a fetcher.
func New(opts Options) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{web: opts.Web, drive: opts.Drive, logger: opts.Logger}
}

// Fetch resolves a descriptor. For web sources with CrawlDepth > 0 the
// result contains the root page followed by same-origin pages discovered
// breadth-first; all other kinds return exactly one result.
func (f *Fetcher) Fetch(ctx context.Context, desc SourceDescriptor) ([]RawSource, error) {
	switch desc.Kind {
	case store.SourceKindLocalFile:
		src, err := fetchLocalFile(desc)
		if err != nil {
			return nil, err
		}
		return []RawSource{*src}, nil

	case store.SourceKindUploadedBlob:
		if len(desc.Bytes) == 0 {
			return nil, kberr.Newf(kberr.CodeSourceCorrupt, "uploaded blob %s has no payload", desc.Filename)
		}
		locator := desc.Filename
		if locator == "" {
			locator = desc.Locator
		}
		return []RawSource{{
			Bytes:   desc.Bytes,
			Locator: locator,
			Kind:    store.SourceKindUploadedBlob,
		}}, nil

	case store.SourceKindWebURL, store.SourceKindAudioTranscript:
		if f.web == nil {
			return nil, kberr.Newf(kberr.CodeDependencyUnavailable, "web fetcher not configured")
		}
		if desc.Kind == store.SourceKindWebURL && desc.CrawlDepth > 0 {
			return f.web.Crawl(ctx, desc.Locator, desc.CrawlDepth)
		}
		src, err := f.web.Fetch(ctx, desc.Locator)
		if err != nil {
			return nil, err
		}
		src.Kind = desc.Kind
		return []RawSource{*src}, nil

	case store.SourceKindDriveFile:
		if f.drive == nil {
			return nil, kberr.Newf(kberr.CodeDependencyUnavailable, "drive fetcher not configured").
				WithSuggestion("set ingest.drive_credentials_file in the configuration")
		}
		src, err := f.drive.Fetch(ctx, desc.Locator)
		if err != nil {
			return nil, err
		}
		return []RawSource{*src}, nil

	default:
		return nil, kberr.Newf(kberr.CodeInvalidInput, "unknown source kind %q", desc.Kind)
	}
}

// fetchLocalFile reads one file from disk.
func fetchLocalFile(desc SourceDescriptor) (*RawSource, error) {
	path, err := filepath.Abs(desc.Locator)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceUnreadable, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberr.Newf(kberr.CodeSourceUnreadable, "file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, kberr.Wrap(kberr.CodeSourceAuthDenied, err)
		}
		return nil, kberr.Wrap(kberr.CodeSourceUnreadable, err)
	}

	return &RawSource{
		Bytes:   data,
		Locator: path,
		Kind:    store.SourceKindLocalFile,
	}, nil
}
