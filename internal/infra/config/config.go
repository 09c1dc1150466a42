package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level kernel configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Skills    SkillsConfig    `yaml:"skills"`
	Vector    VectorConfig    `yaml:"vector"`
	Memory    MemoryConfig    `yaml:"memory"`
	Planner   PlannerConfig   `yaml:"planner"`
	Graph     GraphConfig     `yaml:"graph"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// LLMConfig holds settings for the chat model provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "openai" or "mock"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`      // per-call bound
	RateLimit   float64       `yaml:"rate_limit"`   // requests/sec; 0 = unlimited
	RateBurst   int           `yaml:"rate_burst"`   // burst size for the limiter
	MaxFailures uint32        `yaml:"max_failures"` // circuit breaker trip threshold
}

// EmbeddingConfig holds settings for the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "openai" or "hash"
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// SkillsConfig holds skill store settings.
type SkillsConfig struct {
	DBPath   string  `yaml:"db_path"`
	MinScore float32 `yaml:"min_score"` // similarity threshold for retrieval
	TopK     int     `yaml:"top_k"`     // candidate count, minimum 3
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Backend    string `yaml:"backend"` // "sqlite" (embedded) or "qdrant"
	Addr       string `yaml:"addr"`    // qdrant grpc address
	Collection string `yaml:"collection"`
}

// MemoryConfig holds tenant memory settings.
type MemoryConfig struct {
	Enabled  bool    `yaml:"enabled"`
	TopK     int     `yaml:"top_k"`
	MinScore float32 `yaml:"min_score"`
}

// PlannerConfig bounds the master planner's loops and prompt size.
type PlannerConfig struct {
	MaxTaskRetries  int `yaml:"max_task_retries"` // critique retry bound per task
	MaxReplans      int `yaml:"max_replans"`      // replan bound per request
	HistoryMessages int `yaml:"history_messages"` // messages fed to the planner
	PromptTokenCap  int `yaml:"prompt_token_cap"` // token budget for planner history
}

// GraphConfig bounds graph execution.
type GraphConfig struct {
	MaxSteps       int           `yaml:"max_steps"`
	NodeTimeout    time.Duration `yaml:"node_timeout"`
	MaxConcurrency int64         `yaml:"max_concurrency"` // fan-out semaphore cap
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a config with working local defaults.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			RateBurst:   1,
			MaxFailures: 5,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Skills: SkillsConfig{
			DBPath:   "seerlord.db",
			MinScore: 0.7,
			TopK:     3,
		},
		Vector: VectorConfig{
			Backend:    "sqlite",
			Collection: "seerlord_skills",
		},
		Memory: MemoryConfig{
			Enabled:  true,
			TopK:     3,
			MinScore: 0.6,
		},
		Planner: PlannerConfig{
			MaxTaskRetries:  3,
			MaxReplans:      1,
			HistoryMessages: 5,
			PromptTokenCap:  4096,
		},
		Graph: GraphConfig{
			MaxSteps:       64,
			NodeTimeout:    120 * time.Second,
			MaxConcurrency: 4,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads the YAML config at path, expanding ${ENV} references, and
// applies defaults + validation. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps SEERLORD_* env vars to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEERLORD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SEERLORD_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("SEERLORD_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SEERLORD_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
		if cfg.Tracer.Exporter == "" || cfg.Tracer.Exporter == "noop" {
			cfg.Tracer.Exporter = "stdout"
		}
	}
	if v := os.Getenv("SEERLORD_QDRANT_ADDR"); v != "" {
		cfg.Vector.Backend = "qdrant"
		cfg.Vector.Addr = v
	}
}

// Validate rejects configs that cannot produce a working kernel.
func Validate(cfg *Config) error {
	switch cfg.Vector.Backend {
	case "sqlite", "qdrant":
	default:
		return fmt.Errorf("vector.backend must be sqlite or qdrant, got %q", cfg.Vector.Backend)
	}
	if cfg.Vector.Backend == "qdrant" && cfg.Vector.Addr == "" {
		return fmt.Errorf("vector.addr is required for the qdrant backend")
	}
	if cfg.Skills.TopK < 3 {
		cfg.Skills.TopK = 3
	}
	if cfg.Skills.MinScore < 0 || cfg.Skills.MinScore > 1 {
		return fmt.Errorf("skills.min_score must be within [0,1], got %v", cfg.Skills.MinScore)
	}
	if cfg.Planner.MaxTaskRetries < 1 {
		cfg.Planner.MaxTaskRetries = 1
	}
	if cfg.Graph.MaxSteps < 1 {
		return fmt.Errorf("graph.max_steps must be positive")
	}
	if cfg.Graph.MaxConcurrency < 1 {
		cfg.Graph.MaxConcurrency = 1
	}
	return nil
}
