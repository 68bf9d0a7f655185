// Package convert turns fetched source bytes into a canonical document:
// UTF-8 text plus an outline and an ordered list of structural artifacts
// that the chunker walks. Format handlers are selected by source kind,
// content type, and file extension.
package convert

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

// Source is the input to conversion.
type Source struct {
	Bytes       []byte
	Kind        store.SourceKind
	Locator     string // Path, URL, or drive id; used for handler selection and errors
	ContentType string // MIME hint from the fetcher, may be empty
}

// ArtifactType classifies a structural unit of a document.
type ArtifactType string

const (
	ArtifactParagraph ArtifactType = "paragraph"
	ArtifactHeading   ArtifactType = "heading"
	ArtifactTable     ArtifactType = "table"
	ArtifactList      ArtifactType = "list"
	ArtifactCode      ArtifactType = "code"
	ArtifactSpeech    ArtifactType = "speech"
)

// Heading is one outline entry.
type Heading struct {
	Level int
	Text  string
}

// Artifact is one structural unit in document order. HeadingPath is the
// chain of heading texts enclosing the unit, outermost first; the chunker
// uses it to group units and to stamp chunk context.
type Artifact struct {
	Type        ArtifactType
	Text        string
	HeadingPath []string
	Attrs       map[string]string // page, start_time, end_time, language
}

// CanonicalDocument is the conversion output.
type CanonicalDocument struct {
	Text        string // Canonical UTF-8 rendering, hashed for dedup
	Title       string
	Frontmatter map[string]string
	Outline     []Heading
	Artifacts   []Artifact
}

// Converter dispatches sources to format handlers.
type Converter struct {
	transcriber Transcriber
	logger      *slog.Logger
}

// New creates a converter. The transcriber may be nil; audio sources then
// fail as unsupported.
func New(transcriber Transcriber, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{transcriber: transcriber, logger: logger}
}

// Convert renders source bytes into a canonical document. Failures carry a
// source error code (unsupported, corrupt, unreachable, auth_denied) so the
// pipeline can record a classified warning and move on.
func (c *Converter) Convert(ctx context.Context, src Source) (*CanonicalDocument, error) {
	if len(src.Bytes) == 0 && src.Kind != store.SourceKindAudioTranscript {
		return nil, kberr.Newf(kberr.CodeSourceCorrupt, "empty source %s", src.Locator)
	}

	switch format(src) {
	case "markdown":
		return convertMarkdown(string(src.Bytes))
	case "html":
		return convertHTML(src)
	case "pdf":
		return convertPDF(src)
	case "audio":
		return c.convertAudio(ctx, src)
	case "text":
		return convertPlainText(string(src.Bytes)), nil
	default:
		return nil, kberr.Newf(kberr.CodeSourceUnsupported,
			"unsupported format for %s (content type %q)", src.Locator, src.ContentType)
	}
}

// format picks the handler key for a source.
func format(src Source) string {
	if src.Kind == store.SourceKindAudioTranscript {
		return "audio"
	}

	ct := src.ContentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "text/html", "application/xhtml+xml":
		return "html"
	case "text/markdown":
		return "markdown"
	case "application/pdf":
		return "pdf"
	case "text/plain":
		return "text"
	case "audio/mpeg", "audio/wav", "audio/x-wav", "audio/mp4", "audio/ogg", "audio/flac":
		return "audio"
	}

	switch strings.ToLower(path.Ext(src.Locator)) {
	case ".md", ".markdown", ".mdx":
		return "markdown"
	case ".html", ".htm":
		return "html"
	case ".pdf":
		return "pdf"
	case ".mp3", ".wav", ".m4a", ".ogg", ".flac":
		return "audio"
	case ".txt", ".text", ".log", ".rst", ".csv":
		return "text"
	}

	// Web pages frequently arrive without a usable content type.
	if src.Kind == store.SourceKindWebURL {
		return "html"
	}
	if isProbablyText(src.Bytes) {
		return "text"
	}
	return ""
}

// isProbablyText reports whether bytes look like UTF-8 text rather than an
// opaque binary format. NUL bytes in the first KB are a strong binary signal.
func isProbablyText(b []byte) bool {
	n := min(len(b), 1024)
	for _, c := range b[:n] {
		if c == 0 {
			return false
		}
	}
	return true
}
