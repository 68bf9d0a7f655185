package readings

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/kberr"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		url      string
		wantKind string
		wantKey  string
		wantVal  string
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", KindYouTube, "video_id", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", KindYouTube, "video_id", "dQw4w9WgXcQ"},
		{"shorts", "https://youtube.com/shorts/dQw4w9WgXcQ", KindYouTube, "video_id", "dQw4w9WgXcQ"},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", KindYouTube, "video_id", "dQw4w9WgXcQ"},
		{"channel page", "https://www.youtube.com/@somecreator", KindYouTube, "channel", "@somecreator"},
		{"music host", "https://music.youtube.com/watch?v=dQw4w9WgXcQ", KindYouTube, "video_id", "dQw4w9WgXcQ"},
		{"plain article", "https://example.com/posts/42", KindWeb, "", ""},
		{"blog on subdomain", "https://blog.example.com/entry", KindWeb, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, specific := Classify(mustParse(t, tc.url))
			assert.Equal(t, tc.wantKind, kind)
			if tc.wantKey != "" {
				assert.Equal(t, tc.wantVal, specific[tc.wantKey])
			}
		})
	}
}

func TestClassify_MalformedVideoID(t *testing.T) {
	// An 11-character id is required; anything else is still a youtube
	// reading, just without kind-specific data.
	kind, specific := Classify(mustParse(t, "https://www.youtube.com/watch?v=short"))
	assert.Equal(t, KindYouTube, kind)
	assert.Empty(t, specific["video_id"])
}

func TestSave_RejectsInvalidURL(t *testing.T) {
	svc := New(nil, nil, config.ReadingsConfig{}, nil)

	for _, raw := range []string{"", "not a url", "ftp://example.com/file", "http://"} {
		_, err := svc.Save(context.Background(), raw, "")
		require.Error(t, err, "url %q", raw)
		assert.Equal(t, kberr.CodeInvalidInput, kberr.CodeOf(err))
	}
}

func TestParseSummaryResponse_WellFormed(t *testing.T) {
	summary, points := parseSummaryResponse(`SUMMARY: The article explains reciprocal rank fusion
and why constant 60 works across domains.

KEY POINTS:
- RRF needs no score calibration
- Rank positions are enough
* Asterisk bullets work too
`)

	assert.Equal(t, "The article explains reciprocal rank fusion and why constant 60 works across domains.", summary)
	require.Len(t, points, 3)
	assert.Equal(t, "RRF needs no score calibration", points[0])
	assert.Equal(t, "Asterisk bullets work too", points[2])
}

func TestParseSummaryResponse_CapsKeyPoints(t *testing.T) {
	text := "SUMMARY: s\n\nKEY POINTS:\n"
	for i := 0; i < 10; i++ {
		text += "- point\n"
	}

	_, points := parseSummaryResponse(text)
	assert.Len(t, points, maxKeyPoints)
}

func TestParseSummaryResponse_UnstructuredFallsBack(t *testing.T) {
	summary, points := parseSummaryResponse("Just a blob of prose with no markers at all.")

	assert.Equal(t, "Just a blob of prose with no markers at all.", summary)
	assert.Empty(t, points)
}
