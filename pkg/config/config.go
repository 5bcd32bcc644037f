package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	// Fallback generation backend (Ollama).
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	GeminiAPIKey  string        `yaml:"gemini_api_key"`
	GeminiModel   string        `yaml:"gemini_model"`
	DisableOllama bool          `yaml:"disable_ollama"`
}

type EmbedderConfig struct {
	Provider string `yaml:"provider"` // hugot or ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	ModelDir string `yaml:"model_dir"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

type StorageConfig struct {
	VectorDriver   string `yaml:"vector_driver"`   // pgvector or memory
	RegistryDriver string `yaml:"registry_driver"` // postgres or sqlite
	SQLitePath     string `yaml:"sqlite_path"`
	UploadDir      string `yaml:"upload_dir"`
}

type SearchConfig struct {
	Provider  string        `yaml:"provider"` // serper or duckduckgo
	APIKey    string        `yaml:"api_key"`
	Results   int           `yaml:"results"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`

	RewriteTimeout time.Duration `yaml:"rewrite_timeout"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type ExtractorConfig struct {
	OCR           bool   `yaml:"ocr"`
	DPI           int    `yaml:"dpi"`
	PdftoppmPath  string `yaml:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

type RAGConfig struct {
	TopK         int `yaml:"top_k"`
	HistoryTurns int `yaml:"history_turns"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Processor ProcessorConfig `yaml:"processor"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Worker    WorkerConfig    `yaml:"worker"`
	RAG       RAGConfig       `yaml:"rag"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/intellidocs/config.yaml"),
			"/etc/intellidocs/config.yaml",
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

	// OCR is on unless the file says otherwise.
	config := Config{Extractor: ExtractorConfig{OCR: true}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{Extractor: ExtractorConfig{OCR: true}}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 120 * time.Second
	}
	if config.LLM.GeminiModel == "" {
		config.LLM.GeminiModel = "gemini-1.5-flash"
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "hugot"
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == "ollama" {
			config.Embedder.Model = "nomic-embed-text:latest"
		} else {
			config.Embedder.Model = "sentence-transformers/all-MiniLM-L6-v2"
		}
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.ModelDir == "" {
		config.Embedder.ModelDir = "./models"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		if config.Embedder.Provider == "ollama" {
			config.Database.VectorDim = 768
		} else {
			config.Database.VectorDim = 384
		}
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Storage.VectorDriver == "" {
		config.Storage.VectorDriver = "pgvector"
	}
	if config.Storage.RegistryDriver == "" {
		config.Storage.RegistryDriver = "postgres"
	}
	if config.Storage.SQLitePath == "" {
		config.Storage.SQLitePath = "intellidocs.db"
	}
	if config.Storage.UploadDir == "" {
		config.Storage.UploadDir = "uploads"
	}

	if config.Search.Provider == "" {
		config.Search.Provider = "serper"
	}
	if config.Search.Results == 0 {
		config.Search.Results = 3
	}
	if config.Search.Timeout == 0 {
		config.Search.Timeout = 10 * time.Second
	}
	if config.Search.RateLimit == 0 {
		config.Search.RateLimit = 2.0
	}
	if config.Search.RewriteTimeout == 0 {
		config.Search.RewriteTimeout = 5 * time.Second
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Extractor.DPI == 0 {
		config.Extractor.DPI = 150
	}
	if config.Extractor.PdftoppmPath == "" {
		config.Extractor.PdftoppmPath = "pdftoppm"
	}
	if config.Extractor.TesseractPath == "" {
		config.Extractor.TesseractPath = "tesseract"
	}

	if config.Worker.Concurrency == 0 {
		config.Worker.Concurrency = 2
	}
	if config.Worker.QueueSize == 0 {
		config.Worker.QueueSize = 64
	}

	if config.RAG.TopK == 0 {
		config.RAG.TopK = 5
	}
	if config.RAG.HistoryTurns == 0 {
		config.RAG.HistoryTurns = 8
	}

	if config.Server.Port == "" {
		config.Server.Port = "5000"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.LLM.GeminiAPIKey = key
	}
	if key := os.Getenv("SERPER_API_KEY"); key != "" {
		config.Search.APIKey = key
	}
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		config.Storage.UploadDir = dir
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
