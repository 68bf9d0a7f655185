package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

const (
	webUserAgent    = "candlekeep/1.0 (+https://github.com/candlekeep/candlekeep)"
	webFetchTimeout = 30 * time.Second
	maxResponseSize = 32 << 20 // 32MB cap per page

	// Pages smaller than this after plain HTTP fetch are assumed to be
	// JS-rendered shells worth re-fetching through the browser.
	renderThreshold = 512
)

// WebFetcher fetches web pages over plain HTTP, optionally re-rendering
// JavaScript-heavy pages through a headless browser.
type WebFetcher struct {
	client         *http.Client
	browserEnabled bool
	logger         *slog.Logger
}

// NewWebFetcher creates a web fetcher. browserEnabled gates the headless
// render path; when false, shell pages are ingested as fetched.
func NewWebFetcher(browserEnabled bool, logger *slog.Logger) *WebFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebFetcher{
		client: &http.Client{
			Timeout: webFetchTimeout,
		},
		browserEnabled: browserEnabled,
		logger:         logger,
	}
}

// Fetch retrieves one URL.
func (w *WebFetcher) Fetch(ctx context.Context, rawURL string) (*RawSource, error) {
	body, contentType, err := w.fetchHTTP(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if w.browserEnabled && looksLikeShell(body, contentType) {
		rendered, renderErr := w.renderWithBrowser(ctx, rawURL)
		if renderErr != nil {
			w.logger.Warn("browser render failed, using plain fetch",
				slog.String("url", rawURL),
				slog.String("error", renderErr.Error()))
		} else {
			body = rendered
			contentType = "text/html"
		}
	}

	return &RawSource{
		Bytes:       body,
		ContentType: contentType,
		Locator:     rawURL,
		Kind:        store.SourceKindWebURL,
	}, nil
}

func (w *WebFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", kberr.Wrap(kberr.CodeInvalidInput, err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain,*/*;q=0.8")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", kberr.Wrap(kberr.CodeSourceUnreachable, err).
			WithDetail("url", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", kberr.Newf(kberr.CodeSourceAuthDenied, "fetch %s: status %d", rawURL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, "", kberr.Newf(kberr.CodeSourceUnreachable, "fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", kberr.Wrap(kberr.CodeSourceUnreachable, err).WithDetail("url", rawURL)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// looksLikeShell reports whether a response is probably a JS-rendered app
// shell: an HTML page whose body carries almost no text.
func looksLikeShell(body []byte, contentType string) bool {
	if !strings.Contains(contentType, "html") {
		return false
	}
	stripped := strings.TrimSpace(stripTags(string(body)))
	return len(stripped) < renderThreshold
}

// renderWithBrowser loads the page in headless Chrome and returns the
// post-JavaScript DOM.
func (w *WebFetcher) renderWithBrowser(ctx context.Context, rawURL string) ([]byte, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(webUserAgent),
		)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	renderCtx, cancelRender := context.WithTimeout(browserCtx, webFetchTimeout)
	defer cancelRender()

	var html string
	err := chromedp.Run(renderCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

// stripTags removes angle-bracketed markup. Crude, but only used as a
// text-volume heuristic, never for content.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeURL strips fragments and trailing slashes so the crawler's
// visited set treats page variants as one.
func normalizeURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	s := clone.String()
	return strings.TrimSuffix(s, "/")
}
