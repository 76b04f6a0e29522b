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

// Package reflection judges whether gathered evidence answers the
// structured query and proposes a follow-up search when it does not.
package reflection

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
)

var (
	sufficientPattern = regexp.MustCompile(`(?i)"sufficient"\s*:\s*"?(true|false)`)
	followUpPattern   = regexp.MustCompile(`(?i)"follow_up_query"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	summaryPattern    = regexp.MustCompile(`(?i)"summary_context"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Evaluator produces reflection verdicts and follow-up summaries.
type Evaluator struct {
	generator ai.Generator
	logger    *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "reflection")
		return nil
	}
}

// New creates an evaluator.
func New(generator ai.Generator, opts ...Option) (*Evaluator, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	e := &Evaluator{
		generator: generator,
		logger:    slog.Default().With("component", "reflection"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Evaluate asks the generator whether evidence suffices for structuredQuery.
// Generation failures produce the conservative default verdict.
func (e *Evaluator) Evaluate(ctx context.Context, structuredQuery, evidence string) core.Verdict {
	raw, err := e.generator.Generate(ctx, ai.PromptReflect, ai.PromptArgs{
		StructuredQuery: structuredQuery,
		Evidence:        evidence,
	})
	if err != nil {
		e.logger.Warn("reflection generation failed, assuming insufficient", "err", err)
		return defaultVerdict(structuredQuery)
	}
	verdict := ParseVerdict(raw, structuredQuery)
	e.logger.Debug("reflection verdict",
		"sufficient", verdict.Sufficient,
		"follow_up", verdict.FollowUpQuery,
		"has_summary", verdict.SummaryContext != "")
	return verdict
}

// ParseVerdict reads a reflection response. Strict JSON is tried first,
// then a permissive scan for the sufficiency flag. When neither works the
// verdict is insufficient with structuredQuery as the follow-up. An
// insufficient verdict always carries a follow-up query.
func ParseVerdict(raw, structuredQuery string) core.Verdict {
	verdict, ok := parseStrict(raw)
	if !ok {
		verdict, ok = parsePermissive(raw)
	}
	if !ok {
		return defaultVerdict(structuredQuery)
	}
	verdict.FollowUpQuery = strings.TrimSpace(verdict.FollowUpQuery)
	verdict.SummaryContext = strings.TrimSpace(verdict.SummaryContext)
	if !verdict.Sufficient && verdict.FollowUpQuery == "" {
		verdict.FollowUpQuery = structuredQuery
	}
	return verdict
}

func parseStrict(raw string) (core.Verdict, bool) {
	var parsed struct {
		Sufficient     *bool  `json:"sufficient"`
		FollowUpQuery  string `json:"follow_up_query"`
		SummaryContext string `json:"summary_context"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil || parsed.Sufficient == nil {
		return core.Verdict{}, false
	}
	return core.Verdict{
		Sufficient:     *parsed.Sufficient,
		FollowUpQuery:  parsed.FollowUpQuery,
		SummaryContext: parsed.SummaryContext,
	}, true
}

func parsePermissive(raw string) (core.Verdict, bool) {
	m := sufficientPattern.FindStringSubmatch(raw)
	if m == nil {
		return core.Verdict{}, false
	}
	return core.Verdict{
		Sufficient:     strings.EqualFold(m[1], "true"),
		FollowUpQuery:  captureString(followUpPattern, raw),
		SummaryContext: captureString(summaryPattern, raw),
	}, true
}

func captureString(pattern *regexp.Regexp, raw string) string {
	m := pattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	var value string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &value); err != nil {
		return m[1]
	}
	return value
}

func defaultVerdict(structuredQuery string) core.Verdict {
	return core.Verdict{Sufficient: false, FollowUpQuery: structuredQuery}
}

// Summarize condenses fetched web content for query. The original content
// is returned when generation fails or yields nothing.
func (e *Evaluator) Summarize(ctx context.Context, query, content string) string {
	if strings.TrimSpace(content) == "" {
		return content
	}
	summary, err := e.generator.Generate(ctx, ai.PromptSummary, ai.PromptArgs{
		Query:    query,
		Evidence: content,
	})
	if err != nil {
		e.logger.Warn("summarization failed, keeping raw content", "err", err)
		return content
	}
	if summary = strings.TrimSpace(summary); summary == "" {
		return content
	}
	return summary
}
