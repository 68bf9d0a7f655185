package embed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIEmbedder generates embeddings through an OpenAI-compatible API.
// A custom base URL points it at local inference servers that speak the
// same wire format.
type OpenAIEmbedder struct {
	client    openai.Client
	modelName string
	dims      int
	batchSize int
	timeout   time.Duration
	retry     RetryConfig
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// OpenAIOptions configures NewOpenAIEmbedder. Zero values take defaults.
type OpenAIOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	Retry      *RetryConfig
	Logger     *slog.Logger
}

// NewOpenAIEmbedder creates an OpenAI-compatible embedder.
func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// The SDK retries on its own; disable that so backoff policy lives in
	// one place (withRetry).
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(clientOpts...),
		modelName: opts.Model,
		dims:      opts.Dimensions,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		retry:     retry,
		logger:    opts.Logger,
	}
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
// Whitespace-only inputs get zero vectors without a provider call; the API
// rejects empty strings.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.batchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := min(start+e.batchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		vecs, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, kberr.Newf(kberr.CodeEmbedderFailed,
				"provider returned %d embeddings for %d inputs", len(vecs), len(batch))
		}
		for i, vec := range vecs {
			results[batch[i].idx] = vec
		}
	}

	return results, nil
}

func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32
	err := withRetry(ctx, e.retry, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.modelName),
		})
		if err != nil {
			e.logger.Debug("openai embed attempt failed",
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
			return classifyOpenAIError(err, e.modelName)
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for j, v := range d.Embedding {
				vec[j] = float32(v)
			}
			embeddings[i] = normalizeVector(vec)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, kberr.FromContext(ctx.Err(), "embed")
		}
		var ke *kberr.Error
		if errors.As(err, &ke) {
			return nil, err
		}
		return nil, kberr.Wrap(kberr.CodeEmbedderFailed, err).
			WithDetail("model", e.modelName)
	}
	return embeddings, nil
}

// classifyOpenAIError marks auth and unknown-model failures permanent so the
// retry loop aborts immediately.
func classifyOpenAIError(err error, model string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return kberr.Wrap(kberr.CodeEmbedderFailed, err).
				WithDetail("model", model).
				WithSuggestion("check the embeddings API key")
		case 404, 400:
			return kberr.Wrap(kberr.CodeEmbedderFailed, err).
				WithDetail("model", model).
				WithSuggestion("check the embeddings model name")
		}
	}
	return err
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.modelName
}

// Available checks the provider with a one-token embedding request.
// The OpenAI wire format has no cheap model-list probe that all compatible
// servers implement, so this is the smallest real round-trip.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{"ping"}},
		Model: openai.EmbeddingModel(e.modelName),
	})
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *OpenAIEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return kberr.Newf(kberr.CodeEmbedderFailed, "embedder is closed")
	}
	return nil
}
