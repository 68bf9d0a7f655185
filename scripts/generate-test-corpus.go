//go:build ignore

// Generates a synthetic markdown corpus for ingestion benchmarking.
// Usage: go run scripts/generate-test-corpus.go -docs 500 -output testdata/corpus
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 500, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []string{
	"deployment", "observability", "authentication", "caching", "indexing",
	"replication", "migrations", "rate limiting", "configuration", "backups",
}

var sentences = []string{
	"The %s layer is configured through the standard settings file.",
	"Operators should verify %s health before rolling out changes.",
	"When %s fails, consult the structured logs for the error code.",
	"This section covers the %s workflow end to end.",
	"Most teams automate %s as part of their release process.",
	"A common pitfall with %s is forgetting to set the timeout.",
	"The defaults for %s are conservative and rarely need tuning.",
	"Scaling %s horizontally is preferred over vertical growth.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numDocs; i++ {
		topic := topics[rng.Intn(len(topics))]
		path := filepath.Join(*outputDir, fmt.Sprintf("doc-%04d.md", i))
		if err := os.WriteFile(path, []byte(renderDoc(rng, topic, i)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
	}
	fmt.Printf("generated %d documents in %s\n", *numDocs, *outputDir)
}

// renderDoc produces a markdown document with frontmatter and a handful of
// nested sections so structure-aware chunking has real boundaries to work
// with.
func renderDoc(rng *rand.Rand, topic string, n int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "---\ntitle: %s guide %d\ntags: %s, benchmark\n---\n\n", topic, n, topic)
	fmt.Fprintf(&b, "# %s guide\n\n", topic)
	b.WriteString(paragraph(rng, topic, 3))

	sections := 2 + rng.Intn(4)
	for s := 0; s < sections; s++ {
		fmt.Fprintf(&b, "\n## Section %d\n\n", s+1)
		b.WriteString(paragraph(rng, topic, 2+rng.Intn(4)))
		if rng.Intn(3) == 0 {
			b.WriteString("\n### Details\n\n")
			b.WriteString(paragraph(rng, topic, 1+rng.Intn(3)))
		}
	}
	return b.String()
}

func paragraph(rng *rand.Rand, topic string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, sentences[rng.Intn(len(sentences))]+" ", topic)
	}
	b.WriteString("\n")
	return b.String()
}
