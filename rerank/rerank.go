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

// Package rerank scores candidate evidence against a query and prunes the
// ranked list at its largest score drop.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
)

// Reranker orders evidence by judged relevance.
type Reranker struct {
	judge  ai.RelevanceJudge
	topK   int
	logger *slog.Logger
}

// Option configures a Reranker.
type Option func(*Reranker) error

// WithTopK caps the ranked list before elbow pruning.
// Zero disables the cap. Default is 5.
func WithTopK(k int) Option {
	return func(r *Reranker) error {
		if k < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidTopK, k)
		}
		r.topK = k
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reranker) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "rerank")
		return nil
	}
}

// New creates a reranker using judge for relevance probabilities.
func New(judge ai.RelevanceJudge, opts ...Option) (*Reranker, error) {
	if judge == nil {
		return nil, ErrJudgeRequired
	}
	r := &Reranker{
		judge:  judge,
		topK:   DefaultTopK,
		logger: slog.Default().With("component", "rerank"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultTopK is the ranked list cap applied before pruning.
const DefaultTopK = 5

// Rerank scores every candidate, sorts by descending score with ties in
// input order, applies the top-K cap, and prunes at the elbow. Each
// returned item carries its relevance score. If scoring fails in any way
// the candidates are returned unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []core.EvidenceItem) []core.EvidenceItem {
	if len(candidates) == 0 {
		return candidates
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	scores, err := r.judge.Score(ctx, query, docs)
	if err != nil {
		r.logger.Warn("relevance scoring failed, keeping candidate order", "count", len(candidates), "err", err)
		return candidates
	}
	if len(scores) != len(candidates) {
		r.logger.Warn("relevance judge returned wrong number of scores",
			"expected", len(candidates), "got", len(scores))
		return candidates
	}
	for _, s := range scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			r.logger.Warn("relevance judge returned out of range score", "score", s)
			return candidates
		}
	}

	ranked := make([]core.EvidenceItem, len(candidates))
	for i, c := range candidates {
		ranked[i] = c.WithScore(scores[i])
	}
	slices.SortStableFunc(ranked, func(a, b core.EvidenceItem) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if r.topK > 0 && len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}

	pruned := ElbowPrune(ranked)
	r.logger.Debug("reranked evidence", "candidates", len(candidates), "kept", len(pruned))
	return pruned
}

// ElbowPrune truncates a score-sorted list immediately after its largest
// adjacent score gap. The earliest gap wins ties. Lists of two or fewer
// items are returned unchanged.
func ElbowPrune(items []core.EvidenceItem) []core.EvidenceItem {
	scores := make([]float64, len(items))
	for i, item := range items {
		scores[i] = item.Score
	}
	return items[:ElbowCut(scores)]
}

// ElbowCut returns how many leading scores survive elbow pruning.
func ElbowCut(scores []float64) int {
	if len(scores) <= 2 {
		return len(scores)
	}
	best, bestGap := 0, -1.0
	for i := 0; i < len(scores)-1; i++ {
		gap := math.Abs(scores[i] - scores[i+1])
		if gap > bestGap {
			best, bestGap = i, gap
		}
	}
	return best + 1
}
