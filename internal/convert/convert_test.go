package convert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

func TestFormat_Selection(t *testing.T) {
	cases := []struct {
		name string
		src  Source
		want string
	}{
		{"content type wins", Source{ContentType: "text/markdown", Locator: "x.bin"}, "markdown"},
		{"content type with charset", Source{ContentType: "text/html; charset=utf-8"}, "html"},
		{"extension md", Source{Locator: "notes/readme.md"}, "markdown"},
		{"extension pdf", Source{Locator: "report.PDF"}, "pdf"},
		{"extension audio", Source{Locator: "standup.mp3"}, "audio"},
		{"web default html", Source{Kind: store.SourceKindWebURL, Locator: "https://x.test/page"}, "html"},
		{"audio transcript kind", Source{Kind: store.SourceKindAudioTranscript, Locator: "x"}, "audio"},
		{"plain text sniff", Source{Locator: "mystery", Bytes: []byte("hello world")}, "text"},
		{"binary sniff", Source{Locator: "mystery", Bytes: []byte{0x00, 0x01, 0x02}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, format(tc.src))
		})
	}
}

func TestConvert_EmptySourceIsCorrupt(t *testing.T) {
	c := New(nil, nil)

	_, err := c.Convert(context.Background(), Source{Locator: "empty.md"})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeSourceCorrupt, kberr.CodeOf(err))
}

func TestConvert_UnknownFormatIsUnsupported(t *testing.T) {
	c := New(nil, nil)

	_, err := c.Convert(context.Background(), Source{
		Locator: "blob.bin",
		Bytes:   []byte{0x00, 0xff, 0x00},
	})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeSourceUnsupported, kberr.CodeOf(err))
}

func TestConvert_AudioWithoutTranscriber(t *testing.T) {
	c := New(nil, nil)

	_, err := c.Convert(context.Background(), Source{
		Kind:    store.SourceKindAudioTranscript,
		Locator: "standup.mp3",
		Bytes:   []byte("fake audio"),
	})

	require.Error(t, err)
	assert.Equal(t, kberr.CodeSourceUnsupported, kberr.CodeOf(err))
}

func TestConvert_MarkdownEndToEnd(t *testing.T) {
	c := New(nil, nil)

	doc, err := c.Convert(context.Background(), Source{
		Locator: "note.md",
		Bytes:   []byte("# Hello\n\nWorld.\n"),
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello", doc.Title)
	require.Len(t, doc.Artifacts, 2)
	assert.Equal(t, ArtifactHeading, doc.Artifacts[0].Type)
	assert.Equal(t, ArtifactParagraph, doc.Artifacts[1].Type)
}
