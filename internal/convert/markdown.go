package convert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headerPattern      = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
	tableRowPattern    = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	listItemPattern    = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)
)

// convertMarkdown parses markdown into a canonical document. Headings drive
// the outline and every artifact's heading path; fenced code, tables, and
// lists stay atomic.
func convertMarkdown(content string) (*CanonicalDocument, error) {
	doc := &CanonicalDocument{Frontmatter: map[string]string{}}

	if m := frontmatterPattern.FindStringSubmatch(content); m != nil {
		doc.Frontmatter = parseFrontmatter(m[1])
		content = content[len(m[0]):]
	}

	doc.Text = strings.TrimSpace(content)
	if doc.Text == "" {
		return doc, nil
	}

	// Heading stack by level, same shape as chunk context downstream.
	headingStack := make([]string, 6)
	currentPath := func() []string {
		var p []string
		for _, h := range headingStack {
			if h != "" {
				p = append(p, h)
			}
		}
		return p
	}

	lines := strings.Split(content, "\n")
	var block []string
	var blockType ArtifactType
	inCodeFence := false
	codeFenceLang := ""

	flush := func() {
		text := strings.TrimSpace(strings.Join(block, "\n"))
		block = block[:0]
		if text == "" {
			return
		}
		a := Artifact{Type: blockType, Text: text, HeadingPath: currentPath()}
		if blockType == ArtifactCode && codeFenceLang != "" {
			a.Attrs = map[string]string{"language": codeFenceLang}
		}
		doc.Artifacts = append(doc.Artifacts, a)
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inCodeFence {
			block = append(block, line)
			if strings.HasPrefix(trimmed, "```") {
				inCodeFence = false
				flush()
			}
			continue
		}

		if strings.HasPrefix(trimmed, "```") {
			flush()
			blockType = ArtifactCode
			codeFenceLang = strings.TrimPrefix(trimmed, "```")
			inCodeFence = true
			block = append(block, line)
			continue
		}

		if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])

			// Entering a heading clears all deeper levels.
			headingStack[level-1] = title
			for i := level; i < 6; i++ {
				headingStack[i] = ""
			}

			doc.Outline = append(doc.Outline, Heading{Level: level, Text: title})
			doc.Artifacts = append(doc.Artifacts, Artifact{
				Type:        ArtifactHeading,
				Text:        title,
				HeadingPath: currentPath(),
				Attrs:       map[string]string{"level": strconv.Itoa(level)},
			})
			if doc.Title == "" && level == 1 {
				doc.Title = title
			}
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}

		lineType := ArtifactParagraph
		switch {
		case tableRowPattern.MatchString(line):
			lineType = ArtifactTable
		case listItemPattern.MatchString(line):
			lineType = ArtifactList
		}

		// A type change closes the running block; continuation lines of a
		// list item (indented) stay with the list.
		if len(block) > 0 && lineType != blockType {
			if blockType == ArtifactList && strings.HasPrefix(line, "  ") {
				block = append(block, line)
				continue
			}
			flush()
		}
		blockType = lineType
		block = append(block, line)
	}
	flush()

	if doc.Title == "" {
		doc.Title = doc.Frontmatter["title"]
	}
	return doc, nil
}

// parseFrontmatter decodes YAML frontmatter into flat string pairs.
// Nested values are rendered with fmt so nothing is silently dropped.
func parseFrontmatter(raw string) map[string]string {
	out := map[string]string{}
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return out
	}
	for k, v := range parsed {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []any:
			parts := make([]string, len(val))
			for i, item := range val {
				parts[i] = fmt.Sprint(item)
			}
			out[k] = strings.Join(parts, ", ")
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// convertPlainText splits unstructured text into paragraph artifacts on
// blank lines. No outline, fallback chunking downstream.
func convertPlainText(content string) *CanonicalDocument {
	doc := &CanonicalDocument{
		Text:        strings.TrimSpace(content),
		Frontmatter: map[string]string{},
	}
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		doc.Artifacts = append(doc.Artifacts, Artifact{Type: ArtifactParagraph, Text: para})
	}
	return doc
}
