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

package openai

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client  llms.Model
	timeout time.Duration
	logger  *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

// newGenerator is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.GeneratorModel),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client:  client,
		timeout: config.RequestTimeout,
		logger:  slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate renders the prompt for kind and returns the model output.
// JSON prompt kinds run in JSON mode at temperature 0 and have code fences
// stripped and common key-quoting mistakes repaired.
func (g *Generator) Generate(ctx context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
	systemPrompt, userPrompt, err := buildPrompt(kind, args)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	opts := []llms.CallOption{llms.WithTemperature(0.2)}
	if kind.IsJSON() {
		opts = []llms.CallOption{llms.WithTemperature(0.0), llms.WithJSONMode()}
	}

	text, err := complete(ctx, g.client, systemPrompt, userPrompt, opts...)
	if err != nil {
		g.logger.Error("failed to generate content", "kind", kind, "err", err)
		return "", err
	}

	if kind.IsJSON() {
		text = repairJSON(stripFences(text))
	}
	g.logger.Debug("generated content", "kind", kind, "length", len(text))
	return text, nil
}

// complete sends a system+human message pair and returns the first choice.
func complete(ctx context.Context, client llms.Model, systemPrompt, userPrompt string, opts ...llms.CallOption) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(systemPrompt),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(userPrompt),
			},
		},
	}

	response, err := client.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", err
	}
	if len(response.Choices) < 1 {
		return "", ErrEmptyResponse
	}
	return response.Choices[0].Content, nil
}
