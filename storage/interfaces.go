package storage

import (
	"context"

	"github.com/poiesic/medrag/core"
)

// ConversationStore persists question/answer turns per (user, conversation).
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// SaveTurn appends a turn and returns it with its assigned TurnIndex,
	// which is one greater than the highest existing index for the pair
	// (1 for a new conversation).
	SaveTurn(ctx context.Context, userID, conversationID, query, answer string) (*core.ConversationTurn, error)

	// GetHistory returns up to limit most recent turns, ordered oldest to newest.
	GetHistory(ctx context.Context, userID, conversationID string, limit int) ([]*core.ConversationTurn, error)

	// Close releases resources held by the store.
	Close() error
}

// KnowledgeIndex stores embedded knowledge chunks for similarity search.
type KnowledgeIndex interface {
	// Search returns up to topK chunks ordered by descending similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]*core.KnowledgeHit, error)

	// Insert adds or replaces chunks by ID.
	Insert(ctx context.Context, chunks ...*core.KnowledgeChunk) error

	// Close releases resources held by the index.
	Close() error
}

// IntentIndex stores labeled reference queries for nearest-neighbor lookup.
type IntentIndex interface {
	// Nearest returns up to k reference queries ordered by descending similarity.
	Nearest(ctx context.Context, vector []float32, k int) ([]*core.IntentMatch, error)

	// Insert adds or replaces examples by ID.
	Insert(ctx context.Context, examples ...*core.IntentExample) error

	// Close releases resources held by the index.
	Close() error
}

// HealthChecker is implemented by backends that can report liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
