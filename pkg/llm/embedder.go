package llm

import (
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/reanm09/intellidocs/internal/types"
)

const (
	ProviderHugot  = "hugot"
	ProviderOllama = "ollama"
)

// EmbedderConfig selects and configures the embedding function.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL
	ModelDir  string // hugot model cache
	BatchSize int
	Logger    *slog.Logger
}

// NewEmbedderWithConfig builds the configured embedder. The hugot provider
// runs the model in process; ollama calls a server.
func NewEmbedderWithConfig(config EmbedderConfig) (types.Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderHugot
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	switch config.Provider {
	case ProviderHugot:
		return NewHugotEmbedder(HugotConfig{
			Model:    config.Model,
			ModelDir: config.ModelDir,
			Logger:   config.Logger,
		})
	case ProviderOllama:
		return newOllamaEmbedder(config)
	}
	return nil, fmt.Errorf("unknown embedder provider %q", config.Provider)
}

func newOllamaEmbedder(config EmbedderConfig) (*embeddings.EmbedderImpl, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	client, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}
