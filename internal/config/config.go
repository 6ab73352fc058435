package config

import (
	"os"
	"path/filepath"
)

// Config represents the main mnemo configuration
type Config struct {
	// Data directory (database, caches)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Embedding encoder configuration
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Knowledge extraction configuration
	Extraction ExtractionConfig `json:"extraction" mapstructure:"extraction"`

	// File index configuration
	Index IndexConfig `json:"index" mapstructure:"index"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint (serve mode)
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// EmbeddingConfig selects and configures the vector encoder
type EmbeddingConfig struct {
	// Provider is "onnx" (local model) or "openai"
	Provider string `json:"provider" mapstructure:"provider"`

	// Local ONNX model
	ModelPath     string `json:"model_path" mapstructure:"model_path"`
	TokenizerPath string `json:"tokenizer_path" mapstructure:"tokenizer_path"`
	Dimension     int    `json:"dimension" mapstructure:"dimension"`

	// OpenAI
	OpenAIAPIKey string `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIModel  string `json:"openai_model" mapstructure:"openai_model"`
}

// ExtractionConfig configures Claude-based knowledge extraction
type ExtractionConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	Model           string `json:"model" mapstructure:"model"`
}

// IndexConfig configures the file indexer
type IndexConfig struct {
	Enabled    bool     `json:"enabled" mapstructure:"enabled"`
	Roots      []string `json:"roots" mapstructure:"roots"`
	Extensions []string `json:"extensions" mapstructure:"extensions"`

	// Cron expression for the background incremental run
	Schedule string `json:"schedule" mapstructure:"schedule"`

	// Cron expression for the orphaned-embedding sweep
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		DataDir: filepath.Join(home, ".mnemo"),
		Embedding: EmbeddingConfig{
			Provider:  "onnx",
			Dimension: 384,
		},
		Extraction: ExtractionConfig{
			Enabled: false,
			Model:   "claude-3-5-haiku-latest",
		},
		Index: IndexConfig{
			Enabled: true,
			Roots: []string{
				filepath.Join(home, "Projects"),
				filepath.Join(home, "Documents"),
			},
			Extensions: []string{
				".md", ".txt", ".py", ".js", ".ts", ".go", ".json", ".yaml",
				".yml", ".toml", ".csv", ".html", ".css", ".sh", ".rst",
				".xml", ".ini", ".cfg", ".conf",
			},
			Schedule:      "0 3 * * *",
			SweepSchedule: "30 4 * * 0",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9185",
		},
	}
}

// DatabasePath returns the sqlite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "mnemo.db")
}
