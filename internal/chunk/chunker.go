// Package chunk splits a canonical document into retrieval fragments.
//
// The default strategy is structure-aware: walk the converter's artifacts in
// order, accumulate contiguous units under a common heading path, and emit a
// fragment when a heading boundary is crossed or adding the next unit would
// exceed the token bound. Each fragment carries its heading path as context.
//
// A single unit larger than the bound, or a document with no structure at
// all, goes through the fallback splitter: sentence boundaries first, then
// word boundaries. Fragments produced that way are marked so operators can
// audit retrieval quality.
package chunk

import (
	"strings"

	"github.com/candlekeep/candlekeep/internal/convert"
	"github.com/candlekeep/candlekeep/internal/store"
)

// DefaultMaxTokens bounds fragment size when the caller passes zero.
const DefaultMaxTokens = 512

// Fragment is one chunk-to-be: content plus the metadata the pipeline copies
// onto the stored chunk. Index assignment happens at emit time and is
// strictly increasing from 0.
type Fragment struct {
	Index      int
	Content    string
	TokenCount int
	Context    []string // Heading path, outermost first
	Method     store.ChunkerMethod
	Attrs      map[string]string // Page numbers, timestamp ranges
}

// Split chunks a canonical document.
func Split(doc *convert.CanonicalDocument, maxTokens int) []Fragment {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	if len(doc.Artifacts) == 0 {
		return splitFallback(doc.Text, nil, maxTokens, 0)
	}

	var fragments []Fragment
	var acc []convert.Artifact
	var accTokens int
	var accPath []string

	emit := func() {
		if len(acc) == 0 {
			return
		}
		parts := make([]string, len(acc))
		for i, a := range acc {
			parts[i] = a.Text
		}
		content := strings.TrimSpace(strings.Join(parts, "\n\n"))
		if content != "" {
			fragments = append(fragments, Fragment{
				Index:      len(fragments),
				Content:    content,
				TokenCount: estimateTokens(content),
				Context:    accPath,
				Method:     store.ChunkerMethodStructureAware,
				Attrs:      mergeAttrs(acc),
			})
		}
		acc = nil
		accTokens = 0
	}

	for _, a := range doc.Artifacts {
		// Headings are boundaries, not content; the heading path carried as
		// context establishes the fragment's position in the outline.
		if a.Type == convert.ArtifactHeading {
			emit()
			accPath = a.HeadingPath
			continue
		}

		tokens := estimateTokens(a.Text)

		if !samePath(a.HeadingPath, accPath) {
			emit()
			accPath = a.HeadingPath
		}

		if tokens > maxTokens {
			// Oversized atomic unit: flush what came before, then split the
			// unit on its own.
			emit()
			sub := splitFallback(a.Text, a.HeadingPath, maxTokens, len(fragments))
			for i := range sub {
				if a.Attrs != nil {
					sub[i].Attrs = copyAttrs(a.Attrs)
				}
			}
			fragments = append(fragments, sub...)
			continue
		}

		if accTokens+tokens > maxTokens {
			emit()
			accPath = a.HeadingPath
		}

		acc = append(acc, a)
		accTokens += tokens
	}
	emit()

	return fragments
}

// estimateTokens approximates token count as one token per four characters.
// Good enough to bound chunk size without tokenizer round-trips.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// mergeAttrs folds artifact attrs into fragment attrs. Page numbers become a
// range when units span pages; timestamps keep the first start and last end.
func mergeAttrs(artifacts []convert.Artifact) map[string]string {
	out := map[string]string{}
	var firstPage, lastPage string
	for _, a := range artifacts {
		if a.Attrs == nil {
			continue
		}
		if p := a.Attrs["page"]; p != "" {
			if firstPage == "" {
				firstPage = p
			}
			lastPage = p
		}
		if st := a.Attrs["start_time"]; st != "" && out["start_time"] == "" {
			out["start_time"] = st
		}
		if et := a.Attrs["end_time"]; et != "" {
			out["end_time"] = et
		}
		if lang := a.Attrs["language"]; lang != "" {
			out["language"] = lang
		}
	}
	switch {
	case firstPage != "" && firstPage != lastPage:
		out["page"] = firstPage + "-" + lastPage
	case firstPage != "":
		out["page"] = firstPage
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
