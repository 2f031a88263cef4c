// Package config loads configuration from environment variables and .env files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the retrieval service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Vector storage. Backend is "sqlite" or "qdrant".
	VectorBackend  string `env:"VECTOR_BACKEND" envDefault:"sqlite"`
	DataDir        string `env:"DATA_DIR" envDefault:"./data"`
	QdrantGRPCURL  string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334"`
	DistanceMetric string `env:"DISTANCE_METRIC" envDefault:"cosine"`

	// Redis semantic cache. Empty URL disables caching.
	RedisURL       string        `env:"REDIS_URL"`
	CacheThreshold float64       `env:"CACHE_SIMILARITY_THRESHOLD" envDefault:"0.95"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	// Ollama
	OllamaURL            string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaEmbeddingModel string `env:"OLLAMA_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	OllamaLLMModel       string `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.2"`

	// OpenAI-compatible provider (optional)
	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIEmbeddingModel string `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	OpenAILLMModel       string `env:"OPENAI_LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingProvider    string `env:"EMBEDDING_PROVIDER" envDefault:"ollama"`

	// Reranking. Strategy is "remote" or "local"; the other becomes
	// the fallback when the preferred one cannot be built.
	RerankStrategy string `env:"RERANK_STRATEGY" envDefault:"local"`
	RerankURL      string `env:"RERANK_URL"`
	RerankAPIKey   string `env:"RERANK_API_KEY"`

	// Pipeline defaults
	DefaultTopK         int     `env:"DEFAULT_TOP_K" envDefault:"5"`
	DefaultMinRelevance float64 `env:"DEFAULT_MIN_RELEVANCE" envDefault:"0"`
	RRFK                int     `env:"RRF_K" envDefault:"60"`
	RewriteThreshold    int     `env:"REWRITE_THRESHOLD" envDefault:"20"`
	CompressorEnabled   bool    `env:"COMPRESSOR_ENABLED" envDefault:"true"`

	// Resource validation
	ValidatorConcurrency int           `env:"VALIDATOR_CONCURRENCY" envDefault:"3"`
	ValidatorTimeout     time.Duration `env:"VALIDATOR_TIMEOUT" envDefault:"10s"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
