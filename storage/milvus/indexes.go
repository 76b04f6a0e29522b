package milvus

import (
	"context"

	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// KnowledgeIndex implements storage.KnowledgeIndex on a Milvus collection.
type KnowledgeIndex struct {
	client *Client
}

var _ storage.KnowledgeIndex = (*KnowledgeIndex)(nil)

// NewKnowledgeIndex returns the knowledge index backed by c.
func NewKnowledgeIndex(c *Client) *KnowledgeIndex {
	return &KnowledgeIndex{client: c}
}

func (k *KnowledgeIndex) Search(ctx context.Context, vector []float32, topK int) ([]*core.KnowledgeHit, error) {
	var hits []*core.KnowledgeHit
	err := k.client.search(ctx, k.client.config.KnowledgeCollection, vector, topK, knowledgeOutputFields,
		func(i int, score float32, col columnLookup) {
			hits = append(hits, knowledgeHitAt(col, i, score))
		})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (k *KnowledgeIndex) Insert(ctx context.Context, chunks ...*core.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, chunk := range chunks {
		if err := core.ValidateKnowledgeChunk(chunk); err != nil {
			return err
		}
		if err := k.client.checkDimension(chunk.Vector); err != nil {
			return err
		}
	}
	return k.client.upsert(ctx, k.client.config.KnowledgeCollection,
		knowledgeColumns(k.client.config.Dimension, chunks)...)
}

// Close is a no-op; the Client owns the connection.
func (k *KnowledgeIndex) Close() error {
	return nil
}

// IntentIndex implements storage.IntentIndex on a Milvus collection.
type IntentIndex struct {
	client *Client
}

var _ storage.IntentIndex = (*IntentIndex)(nil)

// NewIntentIndex returns the intent index backed by c.
func NewIntentIndex(c *Client) *IntentIndex {
	return &IntentIndex{client: c}
}

func (x *IntentIndex) Nearest(ctx context.Context, vector []float32, k int) ([]*core.IntentMatch, error) {
	var matches []*core.IntentMatch
	err := x.client.search(ctx, x.client.config.IntentCollection, vector, k, intentOutputFields,
		func(i int, score float32, col columnLookup) {
			matches = append(matches, intentMatchAt(col, i, score))
		})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (x *IntentIndex) Insert(ctx context.Context, examples ...*core.IntentExample) error {
	if len(examples) == 0 {
		return nil
	}
	for _, ex := range examples {
		if err := core.ValidateIntentExample(ex); err != nil {
			return err
		}
		if err := x.client.checkDimension(ex.Vector); err != nil {
			return err
		}
	}
	return x.client.upsert(ctx, x.client.config.IntentCollection,
		intentColumns(x.client.config.Dimension, examples)...)
}

// Close is a no-op; the Client owns the connection.
func (x *IntentIndex) Close() error {
	return nil
}
