package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration for obvious mistakes.
func (v *Validator) Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if err := v.ValidateEmbedding(&cfg.Embedding); err != nil {
		return err
	}

	if cfg.Extraction.Enabled {
		if err := v.ValidateAPIKey(cfg.Extraction.AnthropicAPIKey, "anthropic"); err != nil {
			return err
		}
	}

	return v.ValidateIndex(&cfg.Index)
}

// ValidateEmbedding checks the encoder configuration.
func (v *Validator) ValidateEmbedding(cfg *EmbeddingConfig) error {
	switch cfg.Provider {
	case "onnx":
		if cfg.Dimension <= 0 {
			return fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
		}
	case "openai":
		if err := v.ValidateAPIKey(cfg.OpenAIAPIKey, "openai"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown embedding provider %q (want onnx or openai)", cfg.Provider)
	}
	return nil
}

// ValidateIndex checks the file indexer configuration.
func (v *Validator) ValidateIndex(cfg *IndexConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Roots) == 0 {
		return fmt.Errorf("index is enabled but no roots are configured")
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("index extension %q must start with a dot", ext)
		}
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}
