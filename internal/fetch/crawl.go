package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// maxCrawlPages caps a single crawl regardless of depth so a link-dense site
// cannot run an ingestion job forever.
const maxCrawlPages = 200

// Crawl fetches the root URL and same-origin pages linked from it,
// breadth-first up to maxDepth link hops. The root is always first in the
// result. Failed child pages are logged and skipped; a failed root fails
// the crawl.
func (w *WebFetcher) Crawl(ctx context.Context, rootURL string, maxDepth int) ([]RawSource, error) {
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeInvalidInput, err)
	}

	type queueItem struct {
		url   string
		depth int
	}

	visited := map[string]bool{normalizeURL(root): true}
	queue := []queueItem{{url: rootURL, depth: 0}}
	var results []RawSource

	for len(queue) > 0 && len(results) < maxCrawlPages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		item := queue[0]
		queue = queue[1:]

		src, err := w.Fetch(ctx, item.url)
		if err != nil {
			if item.depth == 0 {
				return nil, err
			}
			w.logger.Warn("crawl page skipped",
				slog.String("url", item.url),
				slog.String("error", err.Error()))
			continue
		}
		results = append(results, *src)

		if item.depth >= maxDepth || !strings.Contains(src.ContentType, "html") {
			continue
		}

		base, err := url.Parse(src.Locator)
		if err != nil {
			continue
		}
		for _, link := range extractLinks(src.Bytes, base) {
			if link.Host != root.Host {
				continue
			}
			key := normalizeURL(link)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, queueItem{url: link.String(), depth: item.depth + 1})
		}
	}

	return results, nil
}

// extractLinks pulls href targets out of anchor tags, resolved against the
// page URL. Non-HTTP schemes are dropped.
func extractLinks(page []byte, base *url.URL) []*url.URL {
	var links []*url.URL

	tokenizer := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tokenizer.TagName()
		if len(name) != 1 || name[0] != 'a' || !hasAttr {
			continue
		}
		for {
			key, val, more := tokenizer.TagAttr()
			if string(key) == "href" {
				if link := resolveLink(string(val), base); link != nil {
					links = append(links, link)
				}
				break
			}
			if !more {
				break
			}
		}
	}
}

func resolveLink(href string, base *url.URL) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	return resolved
}
