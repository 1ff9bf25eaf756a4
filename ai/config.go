// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Vendors an embedder or generator can be backed by.
const (
	ProviderOpenAI    = "openai"
	ProviderCohere    = "cohere"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingProvider selects the embedding vendor: openai, cohere or gemini.
	EmbeddingProvider string

	// GeneratorProvider selects the generation vendor: openai, anthropic or gemini.
	GeneratorProvider string

	// EmbeddingHost is the base URL for an OpenAI-compatible embedding API.
	// Example: "http://localhost:11434/v1" for a local server
	EmbeddingHost string

	// GeneratorHost is the base URL for an OpenAI-compatible chat API.
	GeneratorHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "mxbai-embed-large", "embed-english-v3.0"
	EmbeddingModel string

	// GeneratorModel is the model identifier to use for suggestion synthesis.
	// Example: "qwen2.5:3b", "claude-sonnet-4-5"
	GeneratorModel string

	// EmbeddingAPIKey authenticates against the embedding vendor.
	EmbeddingAPIKey string

	// GeneratorAPIKey authenticates against the generation vendor.
	GeneratorAPIKey string

	// Dimensions is the vector length every embedding must have.
	// Default: 1024
	Dimensions int

	// Temperature is the sampling temperature for generation.
	// Default: 0.3
	Temperature float64

	// MaxTokens bounds the generated answer.
	// Default: 1024
	MaxTokens int

	// RequestTimeout bounds a single external call.
	// Default: 60s
	RequestTimeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingProvider sets the embedding vendor.
func WithEmbeddingProvider(name string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingProvider = name
	}
}

// WithGeneratorProvider sets the generation vendor.
func WithGeneratorProvider(name string) ConfigOption {
	return func(c *Config) {
		c.GeneratorProvider = name
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGeneratorHost sets the generation service host URL.
func WithGeneratorHost(host string) ConfigOption {
	return func(c *Config) {
		c.GeneratorHost = host
	}
}

// WithHost sets both embedding and generator hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GeneratorHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithGeneratorModel sets the generation model identifier.
func WithGeneratorModel(model string) ConfigOption {
	return func(c *Config) {
		c.GeneratorModel = model
	}
}

// WithEmbeddingAPIKey sets the embedding vendor credential.
func WithEmbeddingAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingAPIKey = key
	}
}

// WithGeneratorAPIKey sets the generation vendor credential.
func WithGeneratorAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.GeneratorAPIKey = key
	}
}

// WithDimensions sets the expected embedding length.
func WithDimensions(dims int) ConfigOption {
	return func(c *Config) {
		c.Dimensions = dims
	}
}

// WithTemperature sets the generation sampling temperature.
func WithTemperature(t float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithMaxTokens sets the generated answer limit.
func WithMaxTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithRequestTimeout sets the per-call timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingProvider: ProviderOpenAI,
		GeneratorProvider: ProviderOpenAI,
		EmbeddingHost:     defaultHost,
		GeneratorHost:     defaultHost,
		EmbeddingModel:    "mxbai-embed-large",
		GeneratorModel:    "qwen2.5:3b",
		Dimensions:        1024,
		Temperature:       0.3,
		MaxTokens:         1024,
		RequestTimeout:    60 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingProvider(ProviderCohere),
//	    WithEmbeddingModel("embed-english-v3.0"),
//	    WithEmbeddingAPIKey(os.Getenv("COHERE_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible hosts get the /v1 suffix most servers (Ollama, LocalAI,
// vLLM) expect. Hosts for other vendors are left alone.
func (c *Config) Normalize() {
	c.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.EmbeddingProvider))
	c.GeneratorProvider = strings.ToLower(strings.TrimSpace(c.GeneratorProvider))
	if c.EmbeddingProvider == ProviderOpenAI {
		c.EmbeddingHost = withV1(c.EmbeddingHost)
	}
	if c.GeneratorProvider == ProviderOpenAI {
		c.GeneratorHost = withV1(c.GeneratorHost)
	}
}

func withV1(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.EmbeddingHost == "" {
			return errors.New("ai config: EmbeddingHost is required")
		}
	case ProviderCohere, ProviderGemini:
		if c.EmbeddingAPIKey == "" {
			return fmt.Errorf("ai config: EmbeddingAPIKey is required for %s", c.EmbeddingProvider)
		}
	default:
		return fmt.Errorf("ai config: unknown EmbeddingProvider %q", c.EmbeddingProvider)
	}

	switch c.GeneratorProvider {
	case ProviderOpenAI:
		if c.GeneratorHost == "" {
			return errors.New("ai config: GeneratorHost is required")
		}
	case ProviderAnthropic, ProviderGemini:
		if c.GeneratorAPIKey == "" {
			return fmt.Errorf("ai config: GeneratorAPIKey is required for %s", c.GeneratorProvider)
		}
	default:
		return fmt.Errorf("ai config: unknown GeneratorProvider %q", c.GeneratorProvider)
	}

	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.GeneratorModel == "" {
		return errors.New("ai config: GeneratorModel is required")
	}
	if c.Dimensions <= 0 {
		return errors.New("ai config: Dimensions must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("ai config: Temperature must be between 0 and 2")
	}
	if c.MaxTokens <= 0 {
		return errors.New("ai config: MaxTokens must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("ai config: RequestTimeout must be positive")
	}
	return nil
}
