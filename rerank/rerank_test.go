package rerank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredItems(scores ...float64) []core.EvidenceItem {
	items := make([]core.EvidenceItem, len(scores))
	for i, s := range scores {
		items[i] = core.WebEvidence(fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("doc %d", i)).WithScore(s)
	}
	return items
}

func itemScores(items []core.EvidenceItem) []float64 {
	out := make([]float64, len(items))
	for i, item := range items {
		out[i] = item.Score
	}
	return out
}

func fixedScores(scores ...float64) *mock.MockRelevanceJudge {
	return mock.NewMockRelevanceJudge().WithScoreFunc(func(_ context.Context, _ string, docs []string) ([]float64, error) {
		if len(docs) != len(scores) {
			return nil, fmt.Errorf("expected %d docs, got %d", len(scores), len(docs))
		}
		return scores, nil
	})
}

func TestElbowCut(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   int
	}{
		{"largest drop after second", []float64{0.95, 0.90, 0.40, 0.35, 0.10}, 2},
		{"empty", nil, 0},
		{"single", []float64{0.3}, 1},
		{"two items unchanged", []float64{0.9, 0.1}, 2},
		{"equal gaps pick earliest", []float64{1.0, 0.5, 0.0}, 1},
		{"uniform decay picks earliest", []float64{0.75, 0.5, 0.25, 0}, 1},
		{"drop at the end", []float64{0.9, 0.85, 0.8, 0.1}, 3},
		{"all equal", []float64{0.5, 0.5, 0.5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ElbowCut(tt.scores))
		})
	}
}

func TestElbowPrune(t *testing.T) {
	items := scoredItems(0.95, 0.90, 0.40, 0.35, 0.10)
	pruned := ElbowPrune(items)
	require.Len(t, pruned, 2)
	assert.Equal(t, []float64{0.95, 0.90}, itemScores(pruned))

	short := scoredItems(0.2, 0.9)
	assert.Equal(t, short, ElbowPrune(short))
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrJudgeRequired)

	_, err = New(mock.NewMockRelevanceJudge(), WithTopK(-1))
	assert.ErrorIs(t, err, ErrInvalidTopK)

	r, err := New(mock.NewMockRelevanceJudge(), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, r.topK)
}

func TestRerank(t *testing.T) {
	ctx := context.Background()

	t.Run("sorts and prunes", func(t *testing.T) {
		r, err := New(fixedScores(0.10, 0.95, 0.40, 0.90, 0.35))
		require.NoError(t, err)

		candidates := scoredItems(0, 0, 0, 0, 0)
		out := r.Rerank(ctx, "q", candidates)
		require.Len(t, out, 2)
		assert.Equal(t, candidates[1].Provenance, out[0].Provenance)
		assert.Equal(t, candidates[3].Provenance, out[1].Provenance)
		assert.True(t, out[0].Scored)
		assert.Equal(t, 0.95, out[0].Score)
		assert.Equal(t, 0.0, candidates[1].Score, "candidates are not modified")
	})

	t.Run("ties keep input order", func(t *testing.T) {
		r, err := New(fixedScores(0.5, 0.5, 0.5))
		require.NoError(t, err)

		candidates := scoredItems(0, 0, 0)
		out := r.Rerank(ctx, "q", candidates)
		require.Len(t, out, 1)
		assert.Equal(t, candidates[0].Provenance, out[0].Provenance)
	})

	t.Run("top-k cap applied before pruning", func(t *testing.T) {
		r, err := New(fixedScores(0.875, 0.75, 0.5, 0.375, 0.0), WithTopK(4))
		require.NoError(t, err)

		// Without the cap the 0.375 -> 0.0 drop would keep four items.
		out := r.Rerank(ctx, "q", scoredItems(0, 0, 0, 0, 0))
		assert.Len(t, out, 2)
	})

	t.Run("judge error returns original list", func(t *testing.T) {
		judge := mock.NewMockRelevanceJudge().WithScoreFunc(func(context.Context, string, []string) ([]float64, error) {
			return nil, errors.New("judge down")
		})
		r, err := New(judge)
		require.NoError(t, err)

		candidates := scoredItems(0.1, 0.9, 0.5)
		assert.Equal(t, candidates, r.Rerank(ctx, "q", candidates))
	})

	t.Run("wrong score count returns original list", func(t *testing.T) {
		judge := mock.NewMockRelevanceJudge().WithScoreFunc(func(context.Context, string, []string) ([]float64, error) {
			return []float64{0.9}, nil
		})
		r, err := New(judge)
		require.NoError(t, err)

		candidates := scoredItems(0.1, 0.9, 0.5)
		assert.Equal(t, candidates, r.Rerank(ctx, "q", candidates))
	})

	t.Run("out of range score returns original list", func(t *testing.T) {
		r, err := New(fixedScores(0.2, 1.5))
		require.NoError(t, err)

		candidates := scoredItems(0, 0)
		assert.Equal(t, candidates, r.Rerank(ctx, "q", candidates))
	})

	t.Run("empty input", func(t *testing.T) {
		judge := mock.NewMockRelevanceJudge()
		r, err := New(judge)
		require.NoError(t, err)

		assert.Empty(t, r.Rerank(ctx, "q", nil))
		assert.Equal(t, 0, judge.CallCount())
	})
}
