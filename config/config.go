// Package config provides a flexible configuration management system for the
// kbrag engine. It handles configuration loading and persistence with
// support for multiple sources:
//   - Configuration files (YAML)
//   - Environment variables
//   - Programmatic defaults
//
// The package implements a hierarchical configuration system where settings
// can be overridden in the following order (highest to lowest precedence):
//  1. Environment variables
//  2. Configuration file
//  3. Default values
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide configuration for the engine: connection
// details for the three backing stores, default provider credentials, and
// the ambient tunables (worker pool size, structure-analysis rate limit)
// that sit outside any single KB's settings.
type Config struct {
	// Metadata store (Postgres, §6).
	MetadataDSN string `yaml:"metadata_dsn"`

	// Vector store (Milvus, §4.4).
	VectorStoreAddress     string        `yaml:"vector_store_address"`
	VectorStoreMaxPoolSize int           `yaml:"vector_store_max_pool_size"`
	VectorStoreTimeout     time.Duration `yaml:"vector_store_timeout"`

	// Lexical store (Bleve, §4.5). Empty path means in-memory.
	LexicalIndexPath string `yaml:"lexical_index_path"`

	// Embedding/LLM providers (§4.2, §4.3).
	EmbeddingProvider string            `yaml:"embedding_provider"`
	EmbeddingModel    string            `yaml:"embedding_model"`
	LLMProvider       string            `yaml:"llm_provider"`
	LLMModel          string            `yaml:"llm_model"`
	APIKeys           map[string]string `yaml:"api_keys"`

	// Ingestion (§4.6).
	EmbeddingBatchSize int `yaml:"embedding_batch_size"`
	UpsertBatchSize    int `yaml:"upsert_batch_size"`
	MaxDocumentBytes   int `yaml:"max_document_bytes"`

	// Background task runner (§4.11).
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// Structure-analysis rate limit (§5).
	StructureRequestsPerMinute int `yaml:"structure_requests_per_minute"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// defaults returns a Config with production-ready defaults matching the
// spec's hard-coded fallbacks (§4.6, §4.11, §5).
func defaults() *Config {
	return &Config{
		VectorStoreAddress:         "localhost:19530",
		VectorStoreMaxPoolSize:     10,
		VectorStoreTimeout:         30 * time.Second,
		EmbeddingProvider:          "openai",
		EmbeddingModel:             "text-embedding-3-small",
		LLMProvider:                "openai",
		LLMModel:                   "gpt-4o-mini",
		APIKeys:                    make(map[string]string),
		EmbeddingBatchSize:         100,
		UpsertBatchSize:            256,
		MaxDocumentBytes:           50 << 20, // 50 MiB
		WorkerPoolSize:             4,
		StructureRequestsPerMinute: 30,
		Timeout:                    30 * time.Second,
		MaxRetries:                 3,
	}
}

// Load loads configuration from multiple sources, combining them according
// to the precedence rules. It automatically searches for a configuration
// file in standard locations and applies environment variable overrides.
//
// Configuration file search paths:
//  1. $KBRAG_CONFIG environment variable
//  2. ~/.kbrag/config.yaml
//  3. ~/.config/kbrag/config.yaml
//  4. ./kbrag.yaml
//
// Environment variable overrides:
//   - KBRAG_METADATA_DSN
//   - KBRAG_VECTOR_STORE_ADDRESS
//   - KBRAG_LEXICAL_INDEX_PATH
//   - KBRAG_EMBEDDING_PROVIDER / KBRAG_EMBEDDING_MODEL
//   - KBRAG_LLM_PROVIDER / KBRAG_LLM_MODEL
//   - KBRAG_API_KEY (applied to the configured embedding provider)
func Load() (*Config, error) {
	cfg := defaults()

	configFile := os.Getenv("KBRAG_CONFIG")
	if configFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidates := []string{
				filepath.Join(home, ".kbrag", "config.yaml"),
				filepath.Join(home, ".config", "kbrag", "config.yaml"),
				"kbrag.yaml",
			}
			for _, candidate := range candidates {
				if _, err := os.Stat(candidate); err == nil {
					configFile = candidate
					break
				}
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if v := os.Getenv("KBRAG_METADATA_DSN"); v != "" {
		cfg.MetadataDSN = v
	}
	if v := os.Getenv("KBRAG_VECTOR_STORE_ADDRESS"); v != "" {
		cfg.VectorStoreAddress = v
	}
	if v := os.Getenv("KBRAG_LEXICAL_INDEX_PATH"); v != "" {
		cfg.LexicalIndexPath = v
	}
	if v := os.Getenv("KBRAG_EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("KBRAG_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("KBRAG_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("KBRAG_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("KBRAG_API_KEY"); v != "" {
		cfg.APIKeys[cfg.EmbeddingProvider] = v
	}

	return cfg, nil
}

// Save persists the configuration to a YAML file at the specified path,
// creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
