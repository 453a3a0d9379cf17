package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Generation struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		APIKeyEnv   string  `yaml:"api_key_env"`
		APIKey      string  `yaml:"-"`
	} `yaml:"generation"`

	Embedding struct {
		Provider       string        `yaml:"provider"`
		BaseURL        string        `yaml:"base_url"`
		Model          string        `yaml:"model"`
		Dimension      int           `yaml:"dimension"`
		BatchSize      int           `yaml:"batch_size"`
		MaxInputTokens int           `yaml:"max_input_tokens"`
		APIKeyEnv      string        `yaml:"api_key_env"`
		APIKey         string        `yaml:"-"`
		CacheTTL       time.Duration `yaml:"cache_ttl"`
	} `yaml:"embedding"`

	Store struct {
		Backend     string `yaml:"backend"`
		PersistDir  string `yaml:"persist_dir"`
		Collection  string `yaml:"collection"`
		DatabaseURL string `yaml:"database_url"`
		BatchSize   int    `yaml:"batch_size"`
	} `yaml:"store"`

	Scraper struct {
		MaxDepth          int      `yaml:"max_depth"`
		RateLimit         float64  `yaml:"rate_limit"`
		IgnorePatterns    []string `yaml:"ignore_patterns"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
		Languages         []string `yaml:"languages"`
		UserAgent         string   `yaml:"user_agent"`
	} `yaml:"scraper"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Retriever struct {
		TopK        int     `yaml:"top_k"`
		MaxDistance float64 `yaml:"max_distance"`
	} `yaml:"retriever"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Timeout time.Duration `yaml:"timeout"`
}

func LoadConfig(path string) (*Config, error) {
	// A missing .env is fine; the process environment may already be set.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/chatweb/config.yaml"),
			"/etc/chatweb/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(&config)
	mergeWithEnv(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Generation.Provider == "" {
		config.Generation.Provider = "groq"
	}
	if config.Generation.BaseURL == "" {
		switch config.Generation.Provider {
		case "groq":
			config.Generation.BaseURL = "https://api.groq.com/openai/v1"
		case "ollama":
			config.Generation.BaseURL = "http://localhost:11434"
		}
	}
	if config.Generation.Model == "" {
		config.Generation.Model = "llama-3.3-70b-versatile"
	}
	if config.Generation.MaxTokens == 0 {
		config.Generation.MaxTokens = 500
	}
	if config.Generation.Temperature == 0 {
		config.Generation.Temperature = 0.1
	}
	if config.Generation.APIKeyEnv == "" {
		switch config.Generation.Provider {
		case "openai":
			config.Generation.APIKeyEnv = "OPENAI_API_KEY"
		default:
			config.Generation.APIKeyEnv = "GROQ_API_KEY"
		}
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		switch config.Embedding.Provider {
		case "openai":
			config.Embedding.Model = "text-embedding-3-small"
		case "ollama":
			config.Embedding.Model = "all-minilm"
		}
	}
	if config.Embedding.Dimension == 0 {
		switch config.Embedding.Model {
		case "text-embedding-3-small", "text-embedding-ada-002":
			config.Embedding.Dimension = 1536
		case "text-embedding-3-large":
			config.Embedding.Dimension = 3072
		default:
			config.Embedding.Dimension = 384
		}
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.MaxInputTokens == 0 {
		config.Embedding.MaxInputTokens = 256
	}
	if config.Embedding.APIKeyEnv == "" {
		config.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if config.Embedding.CacheTTL == 0 {
		config.Embedding.CacheTTL = time.Hour
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.Collection == "" {
		config.Store.Collection = "url_rag"
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 100
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if len(config.Scraper.Languages) == 0 {
		config.Scraper.Languages = []string{"en", "te", "hi", "ta"}
	}

	// An explicit chunk_size may be paired with a zero overlap.
	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
		if config.Processor.ChunkOverlap == 0 {
			config.Processor.ChunkOverlap = 100
		}
	}

	if config.Retriever.TopK == 0 {
		config.Retriever.TopK = 4
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.Embedding.Provider == "ollama" {
			config.Embedding.BaseURL = baseURL
		}
		if config.Generation.Provider == "ollama" {
			config.Generation.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.DatabaseURL = dbURL
	}
	config.Generation.APIKey = os.Getenv(config.Generation.APIKeyEnv)
	config.Embedding.APIKey = os.Getenv(config.Embedding.APIKeyEnv)
}
