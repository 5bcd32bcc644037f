package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "timeout must be positive",
		})
	}

	// Validate embedder config
	switch c.Embedder.Provider {
	case "hugot", "ollama":
	default:
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown embedder provider: %s", c.Embedder.Provider),
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate storage drivers
	switch c.Storage.VectorDriver {
	case "pgvector", "memory":
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.vector_driver",
			Message: fmt.Sprintf("unknown vector driver: %s", c.Storage.VectorDriver),
		})
	}

	switch c.Storage.RegistryDriver {
	case "postgres", "sqlite":
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.registry_driver",
			Message: fmt.Sprintf("unknown registry driver: %s", c.Storage.RegistryDriver),
		})
	}

	needsPostgres := c.Storage.VectorDriver == "pgvector" || c.Storage.RegistryDriver == "postgres"
	if needsPostgres && c.Database.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "database URL is required for the postgres drivers",
		})
	}

	// Validate search config
	switch c.Search.Provider {
	case "serper", "duckduckgo":
	default:
		errors = append(errors, ValidationError{
			Field:   "search.provider",
			Message: fmt.Sprintf("unknown search provider: %s", c.Search.Provider),
		})
	}

	if c.Search.Results < 1 || c.Search.Results > 10 {
		errors = append(errors, ValidationError{
			Field:   "search.results",
			Message: "results must be between 1 and 10",
		})
	}

	if c.Search.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "search.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Extractor.DPI < 36 || c.Extractor.DPI > 1200 {
		errors = append(errors, ValidationError{
			Field:   "extractor.dpi",
			Message: "dpi must be between 36 and 1200",
		})
	}

	if c.Worker.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.concurrency",
			Message: "concurrency must be positive",
		})
	}

	if c.RAG.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k",
			Message: "top_k must be positive",
		})
	}

	return errors
}
