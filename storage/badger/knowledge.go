package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// KnowledgeIndex implements storage.KnowledgeIndex with a brute-force
// cosine scan over chunks stored in BadgerDB.
type KnowledgeIndex struct {
	backend *Backend
}

var _ storage.KnowledgeIndex = (*KnowledgeIndex)(nil)

// NewKnowledgeIndex creates a knowledge index on the backend.
func NewKnowledgeIndex(backend *Backend) *KnowledgeIndex {
	return &KnowledgeIndex{backend: backend}
}

// Insert stores chunks keyed by ID, replacing any existing chunk.
func (k *KnowledgeIndex) Insert(ctx context.Context, chunks ...*core.KnowledgeChunk) error {
	for _, chunk := range chunks {
		if err := core.ValidateKnowledgeChunk(chunk); err != nil {
			return err
		}
	}
	return k.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for _, chunk := range chunks {
			if err := wb.Set(makeIDKey(knowledgePrefix, chunk.Id), storage.MarshalKnowledgeChunk(chunk)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search returns up to topK chunks by descending similarity.
func (k *KnowledgeIndex) Search(ctx context.Context, vector []float32, topK int) ([]*core.KnowledgeHit, error) {
	matches, err := findSimilar(k.backend, []byte(knowledgePrefix), vector, topK,
		func(val []byte) (*core.KnowledgeChunk, []float32, error) {
			chunk, err := storage.UnmarshalKnowledgeChunk(val)
			if err != nil {
				return nil, nil, err
			}
			return chunk, chunk.Vector, nil
		})
	if err != nil {
		return nil, err
	}

	hits := make([]*core.KnowledgeHit, len(matches))
	for i, m := range matches {
		hits[i] = &core.KnowledgeHit{Chunk: m.record, Score: m.score}
	}
	return hits, nil
}

// Close is a no-op; the backend is closed by its owner.
func (k *KnowledgeIndex) Close() error {
	return nil
}
