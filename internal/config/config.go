// Package config loads the query agent configuration from an optional YAML
// file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scraper   ScraperConfig   `yaml:"scraper"`
}

type ServerConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CacheConfig struct {
	Backend             string        `yaml:"backend"` // file | sqlite | redis
	Path                string        `yaml:"path"`
	Prefix              string        `yaml:"prefix"`
	MaxEntries          int           `yaml:"max_entries"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	ComputeTimeout      time.Duration `yaml:"compute_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LLMConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`

	ValidateTimeout  time.Duration `yaml:"validate_timeout"`
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
}

type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"` // default: llm.base_url
	APIKey     string        `yaml:"api_key"`  // default: llm.api_key
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ScraperConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Port:     "8000",
		Env:      "production",
		LogLevel: "info",
		Server: ServerConfig{
			RequestTimeout:  120 * time.Second,
			MaxBodyBytes:    64 * 1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Backend:             "file",
			Path:                "query_cache.json",
			Prefix:              "queryagent",
			MaxEntries:          50,
			SimilarityThreshold: 0.75,
			FlushInterval:       30 * time.Second,
			ComputeTimeout:      2 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		LLM: LLMConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			Timeout:          30 * time.Second,
			MaxRetries:       2,
			ValidateTimeout:  15 * time.Second,
			SummarizeTimeout: 25 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 768,
			Timeout:    10 * time.Second,
		},
		Scraper: ScraperConfig{
			BaseURL:    "http://localhost:8001",
			Timeout:    90 * time.Second,
			MaxResults: 5,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty) with ${VAR} expansion, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getenv("PORT", c.Port)
	c.Env = getenv("ENV", c.Env)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	c.Cache.Backend = getenv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Path = getenv("CACHE_PATH", c.Cache.Path)
	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)

	c.LLM.BaseURL = getenv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getenv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getenv("LLM_MODEL", c.LLM.Model)

	c.Embedding.BaseURL = getenv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getenv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getenv("EMBEDDING_MODEL", c.Embedding.Model)

	c.Scraper.BaseURL = getenv("SCRAPER_URL", c.Scraper.BaseURL)

	var err error
	if c.Cache.MaxEntries, err = getenvInt("CACHE_MAX_ENTRIES", c.Cache.MaxEntries); err != nil {
		return err
	}
	if c.Cache.SimilarityThreshold, err = getenvFloat("SIMILARITY_THRESHOLD", c.Cache.SimilarityThreshold); err != nil {
		return err
	}
	if c.Embedding.Dimensions, err = getenvInt("EMBEDDING_DIMENSIONS", c.Embedding.Dimensions); err != nil {
		return err
	}
	return nil
}

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Cache.Backend {
	case "file", "sqlite":
		if c.Cache.Path == "" {
			errs = append(errs, fmt.Errorf("cache.path is required for backend %q", c.Cache.Backend))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for backend \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("cache.similarity_threshold must be within [0, 1]"))
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, errors.New("embedding.dimensions must not be negative"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}

	return errors.Join(errs...)
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
