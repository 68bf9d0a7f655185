// Package store wraps the backing document store: the documents, chunks, and
// readings relations plus the vector and full-text search primitives.
// This is the persistence layer for all ingested data; the retrieval engine
// has read-only access through the search and hydrate methods.
package store

import (
	"context"
	"time"
)

// SourceKind identifies where a document came from.
type SourceKind string

const (
	SourceKindLocalFile       SourceKind = "local_file"
	SourceKindWebURL          SourceKind = "web_url"
	SourceKindDriveFile       SourceKind = "drive_file"
	SourceKindUploadedBlob    SourceKind = "uploaded_blob"
	SourceKindAudioTranscript SourceKind = "audio_transcript"
)

// ChunkerMethod records which chunking strategy produced a chunk.
type ChunkerMethod string

const (
	// ChunkerMethodStructureAware is the default outline-driven strategy.
	ChunkerMethodStructureAware ChunkerMethod = "structure_aware"
	// ChunkerMethodFallback is whitespace splitting, used when a single
	// structural unit exceeds the token bound or no structure is available.
	ChunkerMethodFallback ChunkerMethod = "fallback"
)

// Document represents one ingested source.
type Document struct {
	ID            string            // Store-assigned UUID
	Title         string            // Display title
	SourceLocator string            // Path, URL, or drive id
	SourceKind    SourceKind        // How the source was fetched
	Content       string            // Canonical text
	Frontmatter   map[string]string // Open metadata: author, captured_at, domain, tags
	IngestedAt    time.Time         // When the pipeline wrote the record
	ContentHash   string            // SHA-256 of canonical text (hex)
	Tenant        string            // Opaque tenant key, may be empty
	SourceGroup   string            // Logical corpus partition, may be empty
}

// Chunk represents one embedded fragment of a document.
type Chunk struct {
	ID            string            // Store-assigned UUID
	DocumentID    string            // Parent document
	ChunkIndex    int               // 0-based position within the document
	Content       string            // Fragment text
	TokenCount    int               // Estimated tokens
	Embedding     []float32         // Fixed dimension D
	ContentHash   string            // SHA-256 of fragment bytes (hex)
	Context       []string          // Heading path establishing outline position
	ChunkerMethod ChunkerMethod     // structure_aware or fallback
	Metadata      map[string]string // Page number, speaker, timestamp range
	Tenant        string            // Copied from the document
	SourceGroup   string            // Copied from the document
}

// Reading represents a user-saved URL.
type Reading struct {
	ID           string
	URL          string
	URLKind      string // "web" or "youtube"
	Title        string
	Summary      string
	KeyPoints    []string
	RelatedLinks []RelatedLink
	KindSpecific map[string]string
	DocumentID   string // Empty when content was not ingested
	Tenant       string
	CreatedAt    time.Time
}

// RelatedLink is a metasearch hit associated with a reading.
type RelatedLink struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Filter constrains searches to a corpus partition.
// Empty fields match everything.
type Filter struct {
	Tenant      string
	SourceGroup string
}

// SearchHit is one scored result from either search primitive.
type SearchHit struct {
	ChunkID string
	Score   float64
}

// HydratedChunk joins a chunk with its document's display fields.
type HydratedChunk struct {
	Chunk         *Chunk
	DocumentTitle string
	SourceLocator string
}

// ChunkStats summarises the chunks stored for one document.
type ChunkStats struct {
	Count    int
	MinIndex int
	MaxIndex int
}

// DocumentStore is the storage adapter contract.
// Upserts are atomic per record and idempotent by content hash within a
// corpus partition. Search results come back in score order with a
// deterministic tie-break on chunk id ascending.
type DocumentStore interface {
	// UpsertDocument inserts or replaces by (content_hash, tenant,
	// source_group) and returns the document id (existing id on conflict).
	UpsertDocument(ctx context.Context, doc *Document) (string, error)

	// GetDocument fetches one document by id.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// GetDocumentByHash looks up a document by content hash within a
	// corpus partition. Returns ("", nil) when absent.
	GetDocumentByHash(ctx context.Context, hash string, filter Filter) (string, error)

	// GetDocumentBySourceLocator fetches the most recently ingested
	// document for a source locator within a corpus partition.
	// Returns (nil, nil) when absent.
	GetDocumentBySourceLocator(ctx context.Context, locator string, filter Filter) (*Document, error)

	// UpsertChunk inserts or replaces by (content_hash, tenant,
	// source_group) and returns the chunk id. A concurrent write of the
	// same hash is treated as success.
	UpsertChunk(ctx context.Context, chunk *Chunk) (string, error)

	// ChunkStatsForDocument reports chunk count and index range.
	ChunkStatsForDocument(ctx context.Context, documentID string) (*ChunkStats, error)

	// VectorSearch returns up to k chunks by cosine similarity, descending.
	VectorSearch(ctx context.Context, embedding []float32, k int, filter Filter) ([]SearchHit, error)

	// TextSearch returns up to k chunks by lexical relevance, descending,
	// with fuzzy matching on the content field.
	TextSearch(ctx context.Context, query string, k int, filter Filter) ([]SearchHit, error)

	// HydrateChunks fetches chunks joined with their documents' title and
	// source locator, preserving the input order.
	HydrateChunks(ctx context.Context, chunkIDs []string) ([]*HydratedChunk, error)

	// SaveReading persists a reading record.
	SaveReading(ctx context.Context, r *Reading) (string, error)

	// GetReading fetches one reading by id.
	GetReading(ctx context.Context, id string) (*Reading, error)

	// ListReadings returns reading summaries ordered by created_at desc.
	ListReadings(ctx context.Context, tenant string, limit int) ([]*Reading, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// CheckSchema verifies the relations and operator-created indexes
	// exist. A missing index is reported as index_missing with the DDL
	// needed to create it; it is never created here.
	CheckSchema(ctx context.Context) error

	// Close releases the connection pool.
	Close()
}
