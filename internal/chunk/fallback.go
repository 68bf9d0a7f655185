package chunk

import (
	"strings"

	"github.com/candlekeep/candlekeep/internal/store"
)

// sentenceEnders terminate a sentence when followed by whitespace.
const sentenceEnders = ".!?"

// splitFallback splits unstructured or oversized text on sentence boundaries
// first, packing sentences up to the token bound, and on word boundaries when
// a single sentence is still too long. baseIndex seeds fragment numbering so
// indices stay contiguous with surrounding structure-aware fragments.
func splitFallback(text string, context []string, maxTokens, baseIndex int) []Fragment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var fragments []Fragment
	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		fragments = append(fragments, Fragment{
			Index:      baseIndex + len(fragments),
			Content:    content,
			TokenCount: estimateTokens(content),
			Context:    context,
			Method:     store.ChunkerMethodFallback,
		})
	}

	var acc strings.Builder
	accTokens := 0
	for _, sentence := range splitSentences(text) {
		tokens := estimateTokens(sentence)

		if tokens > maxTokens {
			if acc.Len() > 0 {
				emit(acc.String())
				acc.Reset()
				accTokens = 0
			}
			for _, piece := range splitWords(sentence, maxTokens) {
				emit(piece)
			}
			continue
		}

		if accTokens+tokens > maxTokens && acc.Len() > 0 {
			emit(acc.String())
			acc.Reset()
			accTokens = 0
		}
		if acc.Len() > 0 {
			acc.WriteString(" ")
		}
		acc.WriteString(sentence)
		accTokens += tokens
	}
	if acc.Len() > 0 {
		emit(acc.String())
	}

	return fragments
}

// splitSentences breaks text at sentence-ending punctuation followed by
// whitespace. Newlines also terminate so list-like text splits sanely.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) || r == '\n' {
			atEnd := i == len(runes)-1
			followedBySpace := !atEnd && (runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t')
			if atEnd || followedBySpace || r == '\n' {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// splitWords packs whitespace-separated words up to the token bound.
// A single word above the bound is emitted as its own piece rather than cut.
func splitWords(text string, maxTokens int) []string {
	var pieces []string
	var current strings.Builder
	currentTokens := 0

	for _, word := range strings.Fields(text) {
		tokens := estimateTokens(word)
		if currentTokens+tokens > maxTokens && current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
		currentTokens += tokens
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
