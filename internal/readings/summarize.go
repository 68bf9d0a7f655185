package readings

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

const (
	defaultLLMModel = "gpt-4o-mini"
	// summarizeInputCap bounds the content sent to the LLM. Long articles
	// are truncated; the leading text carries the substance readability
	// extraction keeps.
	summarizeInputCap = 24000
	summarizeTimeout  = 60 * time.Second
	maxKeyPoints      = 5
)

const summarizePrompt = `Summarise the following article in 2-3 sentences, then list up to ` +
	`5 key points. Format your answer exactly as:

SUMMARY: <the summary>

KEY POINTS:
- <point>
- <point>`

// Summarizer produces summaries and key points through an OpenAI-compatible
// chat API.
type Summarizer struct {
	client openai.Client
	model  string
}

// NewSummarizer creates a summarizer. An empty base URL targets the OpenAI
// API; local inference servers pass their own.
func NewSummarizer(baseURL, apiKey, model string) *Summarizer {
	if model == "" {
		model = defaultLLMModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Summarizer{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Summarize returns a short summary and key points for the given content.
func (s *Summarizer) Summarize(ctx context.Context, title, content string) (string, []string, error) {
	if len(content) > summarizeInputCap {
		content = content[:summarizeInputCap]
	}

	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarizePrompt),
			openai.UserMessage("Title: " + title + "\n\n" + content),
		},
	})
	if err != nil {
		return "", nil, kberr.Wrap(kberr.CodeDependencyDegraded, err).
			WithDetail("capability", "reasoning_llm_reachable")
	}
	if len(resp.Choices) == 0 {
		return "", nil, kberr.Newf(kberr.CodeDependencyDegraded, "reasoning LLM returned no choices")
	}

	summary, keyPoints := parseSummaryResponse(resp.Choices[0].Message.Content)
	return summary, keyPoints, nil
}

// parseSummaryResponse splits the model's formatted answer into its parts.
// A response that ignores the format becomes the summary verbatim.
func parseSummaryResponse(text string) (string, []string) {
	text = strings.TrimSpace(text)

	var summary string
	var keyPoints []string
	inPoints := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "SUMMARY:"):
			summary = strings.TrimSpace(line[len("SUMMARY:"):])
		case strings.HasPrefix(strings.ToUpper(line), "KEY POINTS:"):
			inPoints = true
		case inPoints && (strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*")):
			point := strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if point != "" && len(keyPoints) < maxKeyPoints {
				keyPoints = append(keyPoints, point)
			}
		case summary != "" && !inPoints && line != "":
			// Multi-line summary continuation.
			summary += " " + line
		}
	}

	if summary == "" {
		summary = text
	}
	return summary, keyPoints
}
