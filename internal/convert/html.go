package convert

import (
	"bytes"
	"net/url"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// convertHTML extracts the readable article from an HTML page, renders it to
// markdown, and runs the markdown handler so web pages share the same
// outline and artifact semantics as native markdown.
func convertHTML(src Source) (*CanonicalDocument, error) {
	pageURL, _ := url.Parse(src.Locator)

	article, err := readability.FromReader(bytes.NewReader(src.Bytes), pageURL)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceCorrupt, err).
			WithDetail("locator", src.Locator)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceCorrupt, err).
			WithDetail("locator", src.Locator)
	}

	doc, err := convertMarkdown(markdown)
	if err != nil {
		return nil, err
	}

	// Readability's title beats any H1 found in the body.
	if article.Title != "" {
		doc.Title = article.Title
	}
	if article.Byline != "" {
		doc.Frontmatter["author"] = article.Byline
	}
	if article.SiteName != "" {
		doc.Frontmatter["site"] = article.SiteName
	}
	return doc, nil
}
