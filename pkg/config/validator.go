package config

import (
	"fmt"
	"net/url"
	"strings"
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

	// Validate generation config
	switch c.Generation.Provider {
	case "groq", "openai":
		if c.Generation.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "generation.api_key",
				Message: fmt.Sprintf("%s must be set", c.Generation.APIKeyEnv),
			})
		}
	case "ollama":
	default:
		errors = append(errors, ValidationError{
			Field:   "generation.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.Generation.Provider),
		})
	}

	if c.Generation.BaseURL != "" && !isHTTPURL(c.Generation.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "generation.base_url",
			Message: "invalid base URL",
		})
	}

	if c.Generation.MaxTokens < 1 || c.Generation.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "generation.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	// Validate embedding config
	switch c.Embedding.Provider {
	case "ollama", "hashing":
	case "openai":
		if c.Embedding.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "embedding.api_key",
				Message: fmt.Sprintf("%s must be set", c.Embedding.APIKeyEnv),
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.Embedding.Provider),
		})
	}

	if c.Embedding.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedding.MaxInputTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.max_input_tokens",
			Message: "max_input_tokens must be positive",
		})
	}

	// Validate store config
	switch c.Store.Backend {
	case "memory":
	case "pgvector":
		if c.Store.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.database_url",
				Message: "database URL is required for the pgvector backend",
			})
		} else if _, err := url.Parse(c.Store.DatabaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "store.database_url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend: %s", c.Store.Backend),
		})
	}

	if c.Store.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate scraper config
	if c.Scraper.MaxDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must not be negative",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate extensions format
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			errors = append(errors, ValidationError{
				Field:   "scraper.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	// Validate processor config
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

	if c.Retriever.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Retriever.MaxDistance < 0 {
		errors = append(errors, ValidationError{
			Field:   "retriever.max_distance",
			Message: "max_distance must not be negative",
		})
	}

	if c.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "timeout",
			Message: "timeout must be positive",
		})
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
