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
	"encoding/json"
	"log/slog"
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"
)

const judgeAttempts = 3

// RelevanceJudge implements ai.RelevanceJudge with a yes/no LLM judgment per
// document, converted to a probability.
type RelevanceJudge struct {
	client      llms.Model
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

var _ ai.RelevanceJudge = (*RelevanceJudge)(nil)

type judgment struct {
	Relevant   bool     `json:"relevant"`
	Confidence *float64 `json:"confidence"`
}

// probability maps the judgment onto P(relevant).
func (j judgment) probability() float64 {
	confidence := 1.0
	if j.Confidence != nil {
		confidence = clamp01(*j.Confidence)
	}
	if j.Relevant {
		return confidence
	}
	return 1 - confidence
}

func newRelevanceJudge(config *ai.Config) (*RelevanceJudge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.JudgeModel),
	)
	if err != nil {
		return nil, err
	}

	return &RelevanceJudge{
		client:      client,
		concurrency: config.JudgeConcurrency,
		timeout:     config.RequestTimeout,
		logger:      slog.Default().With("component", "openai-judge"),
	}, nil
}

// NewRelevanceJudge creates a new relevance judge using the provided configuration.
func NewRelevanceJudge(config *ai.Config) (ai.RelevanceJudge, error) {
	return newRelevanceJudge(config)
}

// Score judges every document against the query, at most concurrency at a time.
// Any failed judgment fails the whole batch.
func (j *RelevanceJudge) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for i, doc := range documents {
		g.Go(func() error {
			score, err := j.judge(ctx, query, doc)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.logger.Error("relevance judgment failed", "documents", len(documents), "err", err)
		return nil, err
	}
	return scores, nil
}

func (j *RelevanceJudge) judge(ctx context.Context, query, document string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < judgeAttempts; attempt++ {
		text, err := complete(ctx, j.client, relevanceSystemPrompt, buildRelevancePrompt(query, document),
			llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			return 0, err
		}

		text = repairJSON(stripFences(text))
		var result judgment
		if err := json.Unmarshal([]byte(text), &result); err != nil {
			lastErr = err
			j.logger.Warn("error parsing judge response",
				"attempt", attempt+1,
				"response", text,
				"err", err)
			continue
		}
		return result.probability(), nil
	}
	return 0, lastErr
}
