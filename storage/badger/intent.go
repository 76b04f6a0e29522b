package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// IntentIndex implements storage.IntentIndex over BadgerDB.
type IntentIndex struct {
	backend *Backend
}

var _ storage.IntentIndex = (*IntentIndex)(nil)

// NewIntentIndex creates an intent reference index on the backend.
func NewIntentIndex(backend *Backend) *IntentIndex {
	return &IntentIndex{backend: backend}
}

// Insert stores examples keyed by ID.
func (x *IntentIndex) Insert(ctx context.Context, examples ...*core.IntentExample) error {
	for _, example := range examples {
		if err := core.ValidateIntentExample(example); err != nil {
			return err
		}
	}
	return x.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for _, example := range examples {
			if err := wb.Set(makeIDKey(intentPrefix, example.Id), storage.MarshalIntentExample(example)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Nearest returns the k most similar reference queries.
func (x *IntentIndex) Nearest(ctx context.Context, vector []float32, k int) ([]*core.IntentMatch, error) {
	matches, err := findSimilar(x.backend, []byte(intentPrefix), vector, k,
		func(val []byte) (*core.IntentExample, []float32, error) {
			example, err := storage.UnmarshalIntentExample(val)
			if err != nil {
				return nil, nil, err
			}
			return example, example.Vector, nil
		})
	if err != nil {
		return nil, err
	}

	out := make([]*core.IntentMatch, len(matches))
	for i, m := range matches {
		out[i] = &core.IntentMatch{Example: m.record, Score: m.score}
	}
	return out, nil
}

// Close is a no-op; the backend is closed by its owner.
func (x *IntentIndex) Close() error {
	return nil
}
