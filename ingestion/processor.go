package ingestion

import (
	"context"
	"fmt"
)

// embedFunc embeds a batch of texts, one vector per text.
type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// processBatch embeds the text of every item in one request and stores
// the batch with its vectors.
func processBatch[T any](ctx context.Context, embed embedFunc, batch []T,
	text func(T) string,
	store func(ctx context.Context, batch []T, vectors [][]float32) error,
) error {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = text(item)
	}

	vectors, err := embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding at position %d", i)
		}
		unit, ok := normalizeVector(v)
		if !ok {
			return fmt.Errorf("zero embedding at position %d", i)
		}
		vectors[i] = unit
	}
	return store(ctx, batch, vectors)
}
