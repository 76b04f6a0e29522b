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

// Package structurer rewrites free-text questions into a compact,
// entity-focused query descriptor.
package structurer

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/poiesic/medrag/ai"
)

var structuredQueryPattern = regexp.MustCompile(`"structured_query"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// Structurer extracts a structured query with the generator. It never
// fails: every error path falls back to the original text.
type Structurer struct {
	generator ai.Generator
	logger    *slog.Logger
}

// Option configures a Structurer.
type Option func(*Structurer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Structurer) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "structurer")
		return nil
	}
}

// New creates a structurer.
func New(generator ai.Generator, opts ...Option) (*Structurer, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	s := &Structurer{
		generator: generator,
		logger:    slog.Default().With("component", "structurer"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Structure returns the structured form of text, or text itself when the
// generator fails or its output cannot be read.
func (s *Structurer) Structure(ctx context.Context, text string) string {
	raw, err := s.generator.Generate(ctx, ai.PromptStructure, ai.PromptArgs{Query: text})
	if err != nil {
		s.logger.Warn("structure generation failed, using original query", "err", err)
		return text
	}
	structured := Parse(raw, text)
	s.logger.Debug("structured query", "original", text, "structured", structured)
	return structured
}

// Parse extracts structured_query from a generator response: strict JSON
// first, then a permissive pattern match, then fallback.
func Parse(raw, fallback string) string {
	var parsed struct {
		StructuredQuery string `json:"structured_query"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err == nil {
		return orFallback(parsed.StructuredQuery, fallback)
	}

	m := structuredQueryPattern.FindStringSubmatch(raw)
	if m == nil {
		return fallback
	}
	var value string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &value); err != nil {
		value = m[1]
	}
	return orFallback(value, fallback)
}

func orFallback(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
