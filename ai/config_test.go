package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.GeneratorHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Equal(t, "qwen2.5:7b", cfg.GeneratorModel)
	assert.Equal(t, 4, cfg.JudgeConcurrency)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.NotNil(t, cfg)
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "none", cfg.Token)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.GeneratorHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithGeneratorHost("http://generate:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://generate:9090/v1", cfg.GeneratorHost)
	})

	t.Run("with custom models", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingModel("text-embedding-3-small"),
			WithGeneratorModel("gpt-4o-mini"),
			WithJudgeModel("gpt-4o"),
		)

		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.GeneratorModel)
		assert.Equal(t, "gpt-4o", cfg.JudgeModel)
	})

	t.Run("with token and limits", func(t *testing.T) {
		cfg := NewConfig(
			WithToken("sk-test"),
			WithJudgeConcurrency(8),
			WithRequestTimeout(5*time.Second),
		)

		assert.Equal(t, "sk-test", cfg.Token)
		assert.Equal(t, 8, cfg.JudgeConcurrency)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name              string
		embeddingHost     string
		generatorHost     string
		expectedEmbedding string
		expectedGenerator string
	}{
		{
			name:              "already has /v1",
			embeddingHost:     "http://localhost:11434/v1",
			generatorHost:     "http://localhost:11434/v1",
			expectedEmbedding: "http://localhost:11434/v1",
			expectedGenerator: "http://localhost:11434/v1",
		},
		{
			name:              "missing /v1",
			embeddingHost:     "http://localhost:11434",
			generatorHost:     "http://localhost:11434",
			expectedEmbedding: "http://localhost:11434/v1",
			expectedGenerator: "http://localhost:11434/v1",
		},
		{
			name:              "has trailing slash",
			embeddingHost:     "http://localhost:11434/",
			generatorHost:     "http://localhost:11434/",
			expectedEmbedding: "http://localhost:11434/v1",
			expectedGenerator: "http://localhost:11434/v1",
		},
		{
			name:              "empty hosts",
			expectedEmbedding: "",
			expectedGenerator: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				EmbeddingHost: tt.embeddingHost,
				GeneratorHost: tt.generatorHost,
			}

			cfg.Normalize()

			assert.Equal(t, tt.expectedEmbedding, cfg.EmbeddingHost)
			assert.Equal(t, tt.expectedGenerator, cfg.GeneratorHost)
		})
	}

	t.Run("judge model defaults to generator model", func(t *testing.T) {
		cfg := &Config{GeneratorModel: "qwen2.5:7b"}
		cfg.Normalize()
		assert.Equal(t, "qwen2.5:7b", cfg.JudgeModel)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			EmbeddingHost:    "http://localhost:11434",
			GeneratorHost:    "http://localhost:11434",
			EmbeddingModel:   "embeddinggemma",
			GeneratorModel:   "qwen2.5:7b",
			JudgeConcurrency: 2,
			RequestTimeout:   time.Second,
		}
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.GeneratorHost)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing embedding host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost"},
		{"missing generator host", func(c *Config) { c.GeneratorHost = "" }, "GeneratorHost"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"missing generator model", func(c *Config) { c.GeneratorModel = "" }, "GeneratorModel"},
		{"zero judge concurrency", func(c *Config) { c.JudgeConcurrency = 0 }, "JudgeConcurrency"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "RequestTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
