package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/medrag/ai"
)

// MockRelevanceJudge is a test double for ai.RelevanceJudge.
type MockRelevanceJudge struct {
	// ScoreFunc is called by Score if set.
	// If nil, scores each document by the fraction of query words it contains.
	ScoreFunc func(ctx context.Context, query string, documents []string) ([]float64, error)

	callCount atomic.Int64
}

var _ ai.RelevanceJudge = (*MockRelevanceJudge)(nil)

// NewMockRelevanceJudge creates a mock judge with default word-overlap scoring.
func NewMockRelevanceJudge() *MockRelevanceJudge {
	return &MockRelevanceJudge{}
}

// WithScoreFunc sets ScoreFunc and returns the mock for chaining.
func (m *MockRelevanceJudge) WithScoreFunc(fn func(ctx context.Context, query string, documents []string) ([]float64, error)) *MockRelevanceJudge {
	m.ScoreFunc = fn
	return m
}

// Score returns one score per document.
func (m *MockRelevanceJudge) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	m.callCount.Add(1)

	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, query, documents)
	}

	words := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(documents))
	if len(words) == 0 {
		return scores, nil
	}
	for i, doc := range documents {
		lower := strings.ToLower(doc)
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(words))
	}
	return scores, nil
}

// CallCount returns the number of Score calls.
func (m *MockRelevanceJudge) CallCount() int {
	return int(m.callCount.Load())
}
