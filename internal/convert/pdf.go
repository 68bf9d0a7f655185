package convert

import (
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// convertPDF extracts per-page text. Each page's paragraphs become artifacts
// tagged with the 1-based page number. A document the library cannot open is
// classified corrupt so the pipeline skips it with a warning.
func convertPDF(src Source) (*CanonicalDocument, error) {
	pdf, err := fitz.NewFromMemory(src.Bytes)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceCorrupt, err).
			WithDetail("locator", src.Locator)
	}
	defer func() { _ = pdf.Close() }()

	doc := &CanonicalDocument{Frontmatter: map[string]string{}}
	var text strings.Builder

	for page := 0; page < pdf.NumPage(); page++ {
		pageText, err := pdf.Text(page)
		if err != nil {
			// One unreadable page does not sink the document.
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}

		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)

		pageAttr := strconv.Itoa(page + 1)
		for _, para := range strings.Split(pageText, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			doc.Artifacts = append(doc.Artifacts, Artifact{
				Type:  ArtifactParagraph,
				Text:  para,
				Attrs: map[string]string{"page": pageAttr},
			})
		}
	}

	doc.Text = text.String()
	if doc.Text == "" {
		return nil, kberr.Newf(kberr.CodeSourceCorrupt, "no extractable text in %s", src.Locator)
	}

	if meta := pdf.Metadata(); meta != nil {
		if title := strings.TrimSpace(meta["title"]); title != "" {
			doc.Title = title
		}
		if author := strings.TrimSpace(meta["author"]); author != "" {
			doc.Frontmatter["author"] = author
		}
	}
	return doc, nil
}
