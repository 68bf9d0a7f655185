package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// Transcriber converts audio bytes to text with timestamped segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, name string) (*Transcript, error)
}

// Transcript is speech-to-text output.
type Transcript struct {
	Text     string
	Language string
	Segments []Segment
}

// Segment is one timestamped span of speech.
type Segment struct {
	Start float64 // Seconds from stream start
	End   float64
	Text  string
}

// WhisperClient calls a whisper.cpp server's /inference endpoint.
type WhisperClient struct {
	baseURL string
	client  *http.Client
}

// NewWhisperClient creates a transcriber client for the given base URL.
func NewWhisperClient(baseURL string) *WhisperClient {
	return &WhisperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Transcription of long recordings is slow; the per-job deadline
		// still caps the wait through the request context.
		client: &http.Client{Timeout: 20 * time.Minute},
	}
}

var _ Transcriber = (*WhisperClient)(nil)

// whisperResponse is the verbose_json response shape.
type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe posts the audio as multipart form data and decodes segments.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte, name string) (*Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", path.Base(name))
	if err != nil {
		return nil, fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("build multipart request: %w", err)
	}
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceUnreachable, err).
			WithSuggestion("check that the transcriber service is running at " + w.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, kberr.Newf(kberr.CodeSourceCorrupt,
			"transcription failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceCorrupt, err)
	}

	t := &Transcript{
		Text:     strings.TrimSpace(wr.Text),
		Language: wr.Language,
	}
	for _, s := range wr.Segments {
		t.Segments = append(t.Segments, Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	return t, nil
}

// convertAudio transcribes audio and emits one speech artifact per segment,
// each tagged with its timestamp range.
func (c *Converter) convertAudio(ctx context.Context, src Source) (*CanonicalDocument, error) {
	if c.transcriber == nil {
		return nil, kberr.Newf(kberr.CodeSourceUnsupported,
			"no transcriber configured for audio source %s", src.Locator).
			WithSuggestion("set ingest.transcriber_url in the configuration")
	}

	transcript, err := c.transcriber.Transcribe(ctx, src.Bytes, src.Locator)
	if err != nil {
		return nil, err
	}
	if transcript.Text == "" {
		return nil, kberr.Newf(kberr.CodeSourceCorrupt, "empty transcript for %s", src.Locator)
	}

	doc := &CanonicalDocument{
		Text:        transcript.Text,
		Title:       strings.TrimSuffix(path.Base(src.Locator), path.Ext(src.Locator)),
		Frontmatter: map[string]string{},
	}
	if transcript.Language != "" {
		doc.Frontmatter["language"] = transcript.Language
	}

	if len(transcript.Segments) == 0 {
		doc.Artifacts = append(doc.Artifacts, Artifact{Type: ArtifactSpeech, Text: transcript.Text})
		return doc, nil
	}
	for _, seg := range transcript.Segments {
		if seg.Text == "" {
			continue
		}
		doc.Artifacts = append(doc.Artifacts, Artifact{
			Type: ArtifactSpeech,
			Text: seg.Text,
			Attrs: map[string]string{
				"start_time": formatTimestamp(seg.Start),
				"end_time":   formatTimestamp(seg.End),
			},
		})
	}
	return doc, nil
}

// formatTimestamp renders seconds as mm:ss.mmm (hh:mm:ss.mmm past an hour).
func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%06.3f", h, m, s)
	}
	return fmt.Sprintf("%02d:%06.3f", m, s)
}
