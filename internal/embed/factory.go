package embed

import (
	"log/slog"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/kberr"
)

// New creates the configured embedding provider wrapped in an LRU cache.
func New(cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "ollama", "":
		inner = NewOllamaEmbedder(OllamaOptions{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Logger:     logger,
		})
	case "openai":
		inner = NewOpenAIEmbedder(OpenAIOptions{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Logger:     logger,
		})
	default:
		return nil, kberr.Newf(kberr.CodeConfigInvalid,
			"unknown embeddings provider %q (want ollama or openai)", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
